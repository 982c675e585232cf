// Package render draws the pipeline overlays: the keyboard outline on raw
// frames and key rectangles on the rectified keyboard.
package render

import (
	"image"
	"image/color"

	"github.com/ayusman/pianovision/internal/geometry"
	"gocv.io/x/gocv"
)

// Overlay colors.
var (
	BoundsColor   = color.RGBA{R: 255, G: 255, B: 0, A: 0}
	BlackKeyColor = color.RGBA{R: 0, G: 0, B: 255, A: 0}
	WhiteKeyColor = color.RGBA{R: 255, G: 0, B: 0, A: 0}
	CoveredColor  = color.RGBA{R: 0, G: 255, B: 0, A: 0}
)

// DrawBounds outlines the keyboard quadrilateral on img.
func DrawBounds(img *gocv.Mat, q geometry.Quad) {
	pts := gocv.NewPointsVectorFromPoints([][]image.Point{q.ImagePoints()})
	defer pts.Close()
	gocv.Polylines(img, pts, true, BoundsColor, 2)
}

// DrawKeys outlines each key rectangle on img, blue for black keys and red
// for white keys.
func DrawKeys(img *gocv.Mat, keys []geometry.KeyRect) {
	for _, k := range keys {
		c := WhiteKeyColor
		if k.Color == geometry.Black {
			c = BlackKeyColor
		}
		gocv.Rectangle(img, k.Rect(), c, 1)
	}
}

// DrawCovered marks keys whose coverage is at least threshold with a
// thicker outline. coverage is indexed like keys.
func DrawCovered(img *gocv.Mat, keys []geometry.KeyRect, coverage []float64, threshold float64) {
	for i, k := range keys {
		if i < len(coverage) && coverage[i] >= threshold {
			gocv.Rectangle(img, k.Rect().Inset(1), CoveredColor, 2)
		}
	}
}
