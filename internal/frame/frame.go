// Package frame holds the frame contract shared by the pipeline stages and a
// few helpers for moving pixel data between gocv and plain Go slices.
package frame

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

// ErrInvalidFrame is returned when a stage receives an empty or malformed frame.
var ErrInvalidFrame = errors.New("invalid frame")

// Validate checks that img is a non-empty 8-bit BGR frame.
func Validate(img gocv.Mat) error {
	if img.Empty() || img.Rows() == 0 || img.Cols() == 0 {
		return ErrInvalidFrame
	}
	if img.Type() != gocv.MatTypeCV8UC3 {
		return fmt.Errorf("%w: expected 8-bit 3-channel image, got type %v", ErrInvalidFrame, img.Type())
	}
	return nil
}

// Gray converts a BGR frame to a new single-channel Mat.
// The caller is responsible for closing the returned Mat.
func Gray(img gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	if img.Channels() > 1 {
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	} else {
		img.CopyTo(&gray)
	}
	return gray
}

// Plane is a single-channel 8-bit image copied out of a Mat so that
// profile scans can run without cgo calls per pixel.
type Plane struct {
	Width  int
	Height int
	Pix    []uint8
}

// PlaneOf copies a single-channel 8-bit Mat into a Plane.
func PlaneOf(m gocv.Mat) (Plane, error) {
	if m.Empty() {
		return Plane{}, ErrInvalidFrame
	}
	if m.Type() != gocv.MatTypeCV8UC1 {
		return Plane{}, fmt.Errorf("%w: expected 8-bit 1-channel image, got type %v", ErrInvalidFrame, m.Type())
	}

	// Region views are not continuous; clone to get a packed buffer.
	src := m
	if !m.IsContinuous() {
		src = m.Clone()
		defer src.Close()
	}

	return Plane{
		Width:  src.Cols(),
		Height: src.Rows(),
		Pix:    src.ToBytes(),
	}, nil
}

// At returns the pixel at column x, row y.
func (p Plane) At(x, y int) uint8 {
	return p.Pix[y*p.Width+x]
}

// ColumnMeans returns the mean value of every column over rows [y0, y1).
func (p Plane) ColumnMeans(y0, y1 int) []float64 {
	y0 = max(0, y0)
	y1 = min(p.Height, y1)
	means := make([]float64, p.Width)
	if y1 <= y0 {
		return means
	}

	for y := y0; y < y1; y++ {
		row := p.Pix[y*p.Width : (y+1)*p.Width]
		for x, v := range row {
			means[x] += float64(v)
		}
	}

	n := float64(y1 - y0)
	for x := range means {
		means[x] /= n
	}
	return means
}

// ColumnFraction returns, per column, the fraction of rows in [y0, y1)
// whose value is non-zero.
func (p Plane) ColumnFraction(y0, y1 int) []float64 {
	y0 = max(0, y0)
	y1 = min(p.Height, y1)
	frac := make([]float64, p.Width)
	if y1 <= y0 {
		return frac
	}

	for y := y0; y < y1; y++ {
		row := p.Pix[y*p.Width : (y+1)*p.Width]
		for x, v := range row {
			if v != 0 {
				frac[x]++
			}
		}
	}

	n := float64(y1 - y0)
	for x := range frac {
		frac[x] /= n
	}
	return frac
}
