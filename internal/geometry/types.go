// Package geometry provides the geometric value types shared by the keyboard
// vision pipeline: corner points, the keyboard quadrilateral and key rectangles.
package geometry

import (
	"image"
	"math"
)

// Point represents a 2D point in image coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

// Distance returns the Euclidean distance to another point.
func (p Point) Distance(other Point) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// ImagePoint rounds the point to integer pixel coordinates.
func (p Point) ImagePoint() image.Point {
	return image.Point{X: int(math.Round(p.X)), Y: int(math.Round(p.Y))}
}

// KeyColor distinguishes the two key classes.
type KeyColor string

const (
	// Black identifies a black (sharp/flat) key.
	Black KeyColor = "black"
	// White identifies a white (natural) key.
	White KeyColor = "white"
)

// KeyRect is the axis-aligned visible region of one key in rectified
// keyboard coordinates. Index is the key's left-to-right position within
// its color class.
type KeyRect struct {
	Index  int      `json:"index"`
	Color  KeyColor `json:"color"`
	X      int      `json:"x"`
	Y      int      `json:"y"`
	Width  int      `json:"width"`
	Height int      `json:"height"`
}

// Rect returns the key as an image.Rectangle (Max exclusive).
func (k KeyRect) Rect() image.Rectangle {
	return image.Rect(k.X, k.Y, k.X+k.Width, k.Y+k.Height)
}

// Area returns the key's pixel area.
func (k KeyRect) Area() int {
	return k.Width * k.Height
}

// CenterX returns the horizontal center of the key.
func (k KeyRect) CenterX() float64 {
	return float64(k.X) + float64(k.Width)/2
}

// Overlaps reports whether two key rectangles share any pixel.
func (k KeyRect) Overlaps(other KeyRect) bool {
	return k.Rect().Overlaps(other.Rect())
}
