package frame

import (
	"image"

	"github.com/ayusman/pianovision/internal/geometry"
	"gocv.io/x/gocv"
)

// HomographyMat converts h into a 3x3 CV_64F Mat for gocv warping calls.
// The caller is responsible for closing the returned Mat.
func HomographyMat(h geometry.Homography) gocv.Mat {
	m := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.SetDoubleAt(r, c, h[r*3+c])
		}
	}
	return m
}

// Warp applies h to src and returns a new image of the given size.
// Pixels mapped from outside src are black.
func Warp(src gocv.Mat, h geometry.Homography, size image.Point) gocv.Mat {
	m := HomographyMat(h)
	defer m.Close()

	dst := gocv.NewMat()
	gocv.WarpPerspective(src, &dst, m, size)
	return dst
}

// Fill sets every pixel of r in img to s. Unlike gocv.Rectangle the fill
// is exact: no anti-aliasing and Max is exclusive.
func Fill(img gocv.Mat, r image.Rectangle, s gocv.Scalar) {
	r = r.Intersect(image.Rect(0, 0, img.Cols(), img.Rows()))
	if r.Empty() {
		return
	}
	region := img.Region(r)
	defer region.Close()
	region.SetTo(s)
}
