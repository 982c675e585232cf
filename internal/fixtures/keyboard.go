// Package fixtures draws synthetic keyboard frames for tests: a flat
// keyboard with white keys, separator lines and black keys in the standard
// octave layout, optionally warped into a perspective quadrilateral.
package fixtures

import (
	"image"
	"math"

	"github.com/ayusman/pianovision/internal/frame"
	"github.com/ayusman/pianovision/internal/geometry"
	"gocv.io/x/gocv"
)

// Gray levels used by the synthetic scenes.
const (
	BackgroundLevel = 40
	WhiteLevel      = 235
	SeparatorLevel  = 60
	BlackLevel      = 25
)

// Skin is a BGR skin tone inside the default skin thresholds
// (OpenCV HSV ~ 14, 140, 200).
var Skin = gocv.NewScalar(90, 140, 200, 0)

// whiteNotes lists the natural notes of an octave in order.
const whiteNotes = "CDEFGAB"

// Keyboard describes a synthetic keyboard scene.
type Keyboard struct {
	FrameWidth  int
	FrameHeight int
	// Rect is the keyboard's extent within the frame.
	Rect image.Rectangle
	// WhiteKeys is the number of white keys drawn.
	WhiteKeys int
	// FirstNote is the natural note of the leftmost white key ('A'..'G').
	FirstNote byte
	// BlackWidthRatio is black key width over white key pitch.
	BlackWidthRatio float64
	// BlackHeightRatio is black key length over keyboard height.
	BlackHeightRatio float64
	// Strips draws twelve equal-width rectangles per octave starting on C,
	// dark for sharps, without separator lines.
	Strips bool
}

// Octave returns a single C-to-B octave: 7 white keys, 5 black keys.
func Octave() Keyboard {
	return Keyboard{
		FrameWidth:       640,
		FrameHeight:      480,
		Rect:             image.Rect(110, 150, 530, 330),
		WhiteKeys:        7,
		FirstNote:        'C',
		BlackWidthRatio:  0.58,
		BlackHeightRatio: 0.62,
	}
}

// Full88 returns an 88-key keyboard (A0 to C8): 52 white keys, 36 black keys.
func Full88() Keyboard {
	return Keyboard{
		FrameWidth:       1280,
		FrameHeight:      480,
		Rect:             image.Rect(120, 180, 1160, 300),
		WhiteKeys:        52,
		FirstNote:        'A',
		BlackWidthRatio:  0.58,
		BlackHeightRatio: 0.62,
	}
}

// OctaveStrips returns one octave drawn as twelve evenly spaced light and
// dark rectangles. darkHeight is the share of the keyboard height covered
// by the dark rectangles; 1 draws them full height.
func OctaveStrips(darkHeight float64) Keyboard {
	return Keyboard{
		FrameWidth:       640,
		FrameHeight:      480,
		Rect:             image.Rect(80, 160, 560, 320),
		WhiteKeys:        7,
		FirstNote:        'C',
		BlackHeightRatio: darkHeight,
		Strips:           true,
	}
}

// Semitone returns the strip width of a Strips keyboard.
func (k Keyboard) Semitone() float64 {
	return float64(k.Rect.Dx()) * 7 / float64(12*k.WhiteKeys)
}

// Pitch returns the white key width in pixels.
func (k Keyboard) Pitch() float64 {
	return float64(k.Rect.Dx()) / float64(k.WhiteKeys)
}

// HasBlackAfter reports whether a black key sits between white key i and i+1.
func (k Keyboard) HasBlackAfter(i int) bool {
	start := 0
	for j := 0; j < len(whiteNotes); j++ {
		if whiteNotes[j] == k.FirstNote {
			start = j
		}
	}
	switch whiteNotes[(start+i)%7] {
	case 'E', 'B':
		return false
	default:
		return true
	}
}

// BlackKeys returns the number of black keys drawn.
func (k Keyboard) BlackKeys() int {
	n := 0
	for i := 0; i < k.WhiteKeys-1; i++ {
		if k.HasBlackAfter(i) {
			n++
		}
	}
	return n
}

// Bounds returns the keyboard's corners in frame coordinates.
func (k Keyboard) Bounds() geometry.Quad {
	return geometry.RectQuad(k.Rect)
}

// DrawFlat renders the keyboard alone, Rect.Dx() x Rect.Dy() pixels.
// The caller is responsible for closing the returned Mat.
func (k Keyboard) DrawFlat() gocv.Mat {
	w, h := k.Rect.Dx(), k.Rect.Dy()
	img := gocv.NewMatWithSizeFromScalar(level(WhiteLevel), h, w, gocv.MatTypeCV8UC3)
	if k.Strips {
		k.drawStrips(img)
		return img
	}

	pitch := k.Pitch()
	for i := 1; i < k.WhiteKeys; i++ {
		x := int(math.Round(float64(i) * pitch))
		frame.Fill(img, image.Rect(x-1, 0, x+1, h), level(SeparatorLevel))
	}

	bw := pitch * k.BlackWidthRatio
	bh := int(math.Round(float64(h) * k.BlackHeightRatio))
	for i := 0; i < k.WhiteKeys-1; i++ {
		if !k.HasBlackAfter(i) {
			continue
		}
		cx := float64(i+1) * pitch
		x0 := int(math.Round(cx - bw/2))
		x1 := int(math.Round(cx + bw/2))
		frame.Fill(img, image.Rect(x0, 0, x1, bh), level(BlackLevel))
	}

	return img
}

func (k Keyboard) drawStrips(img gocv.Mat) {
	s := k.Semitone()
	bh := int(math.Round(float64(img.Rows()) * k.BlackHeightRatio))
	for i := 0; i < 12*k.WhiteKeys/7; i++ {
		switch i % 12 {
		case 1, 3, 6, 8, 10:
			x0 := int(math.Round(float64(i) * s))
			x1 := int(math.Round(float64(i+1) * s))
			frame.Fill(img, image.Rect(x0, 0, x1, bh), level(BlackLevel))
		}
	}
}

// Draw renders the keyboard axis-aligned at Rect on a dark background.
// The caller is responsible for closing the returned Mat.
func (k Keyboard) Draw() gocv.Mat {
	img := Blank(k.FrameWidth, k.FrameHeight, BackgroundLevel)

	flat := k.DrawFlat()
	defer flat.Close()

	region := img.Region(k.Rect)
	defer region.Close()
	flat.CopyTo(&region)

	return img
}

// DrawWarped renders the keyboard projected onto the quadrilateral q.
// The caller is responsible for closing the returned Mat.
func (k Keyboard) DrawWarped(q geometry.Quad) (gocv.Mat, error) {
	flat := k.DrawFlat()
	defer flat.Close()

	src := geometry.RectQuad(image.Rect(0, 0, k.Rect.Dx(), k.Rect.Dy()))
	h, err := geometry.PerspectiveTransform(src, q)
	if err != nil {
		return gocv.Mat{}, err
	}

	size := image.Pt(k.FrameWidth, k.FrameHeight)
	warped := frame.Warp(flat, h, size)
	defer warped.Close()

	coverage := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0), k.Rect.Dy(), k.Rect.Dx(), gocv.MatTypeCV8UC1)
	defer coverage.Close()
	mask := frame.Warp(coverage, h, size)
	defer mask.Close()

	img := Blank(k.FrameWidth, k.FrameHeight, BackgroundLevel)
	warped.CopyToWithMask(&img, mask)
	return img, nil
}

// Blank returns a uniform BGR frame.
// The caller is responsible for closing the returned Mat.
func Blank(width, height int, v float64) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(level(v), height, width, gocv.MatTypeCV8UC3)
}

// DrawHand paints a skin-toned rectangle onto img.
func DrawHand(img gocv.Mat, r image.Rectangle) {
	frame.Fill(img, r, Skin)
}

func level(v float64) gocv.Scalar {
	return gocv.NewScalar(v, v, v, 0)
}
