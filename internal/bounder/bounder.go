// Package bounder locates the keyboard quadrilateral in a reference frame and
// rectifies any frame of the same resolution to that region.
//
// Detection assumes a fixed camera and an unoccluded keyboard whose white
// keys are brighter than their surroundings:
//
//  1. Convert to grayscale and blur (5x5) to suppress sensor noise
//  2. Otsu threshold: white keys become foreground
//  3. Horizontal close to bridge the dark separator lines between white keys
//  4. Take external contours whose area is a plausible share of the frame
//  5. Convex hull fills the notches black keys cut into the top edge
//  6. Approximate the hull to 4 vertices and order them TL, TR, BR, BL
package bounder

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/ayusman/pianovision/internal/frame"
	"github.com/ayusman/pianovision/internal/geometry"
	"gocv.io/x/gocv"
)

var (
	// ErrBoundsNotFound is returned when no plausible keyboard quadrilateral exists in the frame.
	ErrBoundsNotFound = errors.New("keyboard bounds not found")
	// ErrBoundsOutOfRange is returned when bounds fall outside the frame being cropped.
	ErrBoundsOutOfRange = errors.New("bounds out of range")
)

// Config holds the detection heuristics.
type Config struct {
	// BlurSize is the Gaussian kernel size (odd).
	BlurSize int `json:"blur_size"`
	// CloseWidthRatio is the horizontal closing kernel width as a fraction of frame width.
	CloseWidthRatio float64 `json:"close_width_ratio"`
	// MinAreaRatio and MaxAreaRatio bound the keyboard area as a fraction of the frame.
	MinAreaRatio float64 `json:"min_area_ratio"`
	MaxAreaRatio float64 `json:"max_area_ratio"`
	// MinAspect and MaxAspect bound width/height of the detected quad.
	MinAspect float64 `json:"min_aspect"`
	MaxAspect float64 `json:"max_aspect"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		BlurSize:        5,
		CloseWidthRatio: 0.0125,
		MinAreaRatio:    0.02,
		MaxAreaRatio:    0.9,
		MinAspect:       1.2,
		MaxAspect:       25,
	}
}

// Bounder finds and crops the keyboard region.
type Bounder struct {
	config Config
}

// New creates a Bounder with the given configuration.
func New(config Config) *Bounder {
	if config.BlurSize <= 0 {
		config.BlurSize = DefaultConfig().BlurSize
	}
	if config.BlurSize%2 == 0 {
		config.BlurSize++
	}
	return &Bounder{config: config}
}

// FindBounds analyzes a reference frame and returns the keyboard corners.
func (b *Bounder) FindBounds(img gocv.Mat) (geometry.Quad, error) {
	if err := frame.Validate(img); err != nil {
		return geometry.Quad{}, err
	}

	gray := frame.Gray(img)
	defer gray.Close()

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(b.config.BlurSize, b.config.BlurSize), 0, 0, gocv.BorderDefault)

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(blurred, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	closeWidth := max(3, int(math.Round(float64(img.Cols())*b.config.CloseWidthRatio)))
	if closeWidth%2 == 0 {
		closeWidth++
	}
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(closeWidth, 3))
	defer kernel.Close()
	gocv.MorphologyEx(binary, &binary, gocv.MorphClose, kernel)

	contours := gocv.FindContours(binary, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	frameArea := float64(img.Cols() * img.Rows())
	type candidate struct {
		index int
		area  float64
	}
	var candidates []candidate
	for i := 0; i < contours.Size(); i++ {
		area := gocv.ContourArea(contours.At(i))
		if area < frameArea*b.config.MinAreaRatio || area > frameArea*b.config.MaxAreaRatio {
			continue
		}
		candidates = append(candidates, candidate{index: i, area: area})
	}

	// Largest plausible region first
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].area > candidates[j].area
	})

	for _, c := range candidates {
		q, ok := b.quadFromContour(contours.At(c.index))
		if !ok {
			continue
		}
		if q.Area() < frameArea*b.config.MinAreaRatio || !q.Within(img.Cols(), img.Rows()) {
			continue
		}
		return q, nil
	}

	return geometry.Quad{}, ErrBoundsNotFound
}

// quadFromContour reduces a contour to an ordered, validated quadrilateral.
func (b *Bounder) quadFromContour(contour gocv.PointVector) (geometry.Quad, bool) {
	raw := contour.ToPoints()
	points := make([]geometry.Point, len(raw))
	for i, p := range raw {
		points[i] = geometry.Pt(float64(p.X), float64(p.Y))
	}

	hull := geometry.ConvexHull(points)
	if len(hull) < 4 {
		return geometry.Quad{}, false
	}

	corners, ok := approxQuad(hull)
	if !ok {
		corners = extremeCorners(hull)
	}

	q, err := geometry.OrderCorners(corners)
	if err != nil {
		return geometry.Quad{}, false
	}

	// Contour points sit on the outermost pixels; move the right and bottom
	// corners to the pixel edge so the section includes those pixels.
	q[geometry.TopRight].X++
	q[geometry.BottomRight].X++
	q[geometry.BottomRight].Y++
	q[geometry.BottomLeft].Y++

	aspect := q.AspectRatio()
	if aspect < b.config.MinAspect || aspect > b.config.MaxAspect {
		return geometry.Quad{}, false
	}

	return q, true
}

// approxQuad runs ApproxPolyDP with a growing tolerance until the hull
// reduces to exactly four vertices.
func approxQuad(hull []geometry.Point) ([4]geometry.Point, bool) {
	pts := make([]image.Point, len(hull))
	for i, p := range hull {
		pts[i] = p.ImagePoint()
	}

	vec := gocv.NewPointVectorFromPoints(pts)
	defer vec.Close()

	perimeter := gocv.ArcLength(vec, true)
	for eps := 0.01; eps <= 0.1; eps += 0.01 {
		approx := gocv.ApproxPolyDP(vec, eps*perimeter, true)
		n := approx.Size()
		if n == 4 {
			var corners [4]geometry.Point
			for i, p := range approx.ToPoints() {
				corners[i] = geometry.Pt(float64(p.X), float64(p.Y))
			}
			approx.Close()
			return corners, true
		}
		approx.Close()
		if n < 4 {
			break
		}
	}

	return [4]geometry.Point{}, false
}

// extremeCorners picks the hull points extreme in x+y and x-y.
func extremeCorners(hull []geometry.Point) [4]geometry.Point {
	tl, tr, br, bl := hull[0], hull[0], hull[0], hull[0]
	for _, p := range hull[1:] {
		if p.X+p.Y < tl.X+tl.Y {
			tl = p
		}
		if p.X+p.Y > br.X+br.Y {
			br = p
		}
		if p.X-p.Y > tr.X-tr.Y {
			tr = p
		}
		if p.X-p.Y < bl.X-bl.Y {
			bl = p
		}
	}
	return [4]geometry.Point{tl, tr, br, bl}
}

// BoundedSection crops and rectifies the region described by q out of img.
// The result has the size of q's bounding rectangle.
// The caller is responsible for closing the returned Mat.
func (b *Bounder) BoundedSection(img gocv.Mat, q geometry.Quad) (gocv.Mat, error) {
	if err := frame.Validate(img); err != nil {
		return gocv.Mat{}, err
	}
	r, err := NewRectifier(q, img.Cols(), img.Rows())
	if err != nil {
		return gocv.Mat{}, err
	}
	return r.Section(img)
}

// Rectifier maps frames of a fixed resolution onto the rectified keyboard
// region. It is immutable once built.
type Rectifier struct {
	bounds    geometry.Quad
	rect      image.Rectangle
	width     int
	height    int
	toSection geometry.Homography
	toFrame   geometry.Homography
	axisAlign bool
}

// NewRectifier precomputes the transform for bounds q on width x height frames.
func NewRectifier(q geometry.Quad, width, height int) (*Rectifier, error) {
	if !q.Within(width, height) {
		return nil, fmt.Errorf("%w: %v not within %dx%d frame", ErrBoundsOutOfRange, q, width, height)
	}

	rect := q.BoundingRect()
	if rect.Dx() <= 0 || rect.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty region %v", ErrBoundsOutOfRange, rect)
	}

	dst := geometry.RectQuad(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	toSection, err := geometry.PerspectiveTransform(q, dst)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBoundsOutOfRange, err)
	}
	toFrame, err := toSection.Inverse()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBoundsOutOfRange, err)
	}

	return &Rectifier{
		bounds:    q,
		rect:      rect,
		width:     width,
		height:    height,
		toSection: toSection,
		toFrame:   toFrame,
		axisAlign: q == geometry.RectQuad(rect),
	}, nil
}

// Bounds returns the quadrilateral the rectifier was built for.
func (r *Rectifier) Bounds() geometry.Quad {
	return r.bounds
}

// Size returns the rectified section size.
func (r *Rectifier) Size() image.Point {
	return r.rect.Size()
}

// Section rectifies img, which must have the resolution the rectifier was built for.
// The caller is responsible for closing the returned Mat.
func (r *Rectifier) Section(img gocv.Mat) (gocv.Mat, error) {
	if err := frame.Validate(img); err != nil {
		return gocv.Mat{}, err
	}
	if img.Cols() != r.width || img.Rows() != r.height {
		return gocv.Mat{}, fmt.Errorf("%w: frame is %dx%d, bounds computed for %dx%d",
			ErrBoundsOutOfRange, img.Cols(), img.Rows(), r.width, r.height)
	}

	if r.axisAlign {
		region := img.Region(r.rect)
		defer region.Close()
		return region.Clone(), nil
	}

	return frame.Warp(img, r.toSection, r.rect.Size()), nil
}

// ToFrame maps a point in section coordinates back into frame coordinates.
func (r *Rectifier) ToFrame(p geometry.Point) geometry.Point {
	return r.toFrame.Apply(p)
}

// RectToFrame maps an axis-aligned section rectangle to its frame quad.
func (r *Rectifier) RectToFrame(rect image.Rectangle) geometry.Quad {
	return r.toFrame.ApplyQuad(geometry.RectQuad(rect))
}
