// Package hands segments skin-colored regions (the player's hands) out of
// rectified keyboard frames and provides the mask helpers used to remove
// them from the picture.
package hands

import (
	"fmt"
	"image"

	"github.com/ayusman/pianovision/internal/frame"
	"github.com/ayusman/pianovision/internal/geometry"
	"gocv.io/x/gocv"
)

// HSV is a color in OpenCV's 8-bit HSV space (H 0-180, S and V 0-255).
type HSV struct {
	H float64 `json:"h"`
	S float64 `json:"s"`
	V float64 `json:"v"`
}

func (c HSV) scalar() gocv.Scalar {
	return gocv.NewScalar(c.H, c.S, c.V, 0)
}

// SkinThresholds is the inclusive HSV range classified as skin.
type SkinThresholds struct {
	Lower HSV `json:"lower"`
	Upper HSV `json:"upper"`
	// WrapHue, when non-zero, also accepts hues from WrapHue up to 180 with
	// the same saturation and value bounds. Red hues wrap around 0, so
	// reddish or shadowed skin lands just below 180.
	WrapHue float64 `json:"wrap_hue"`
}

// DefaultSkinThresholds returns a range covering light to medium skin tones
// under indoor lighting, including the reddish hues next to 180.
func DefaultSkinThresholds() SkinThresholds {
	return SkinThresholds{
		Lower:   HSV{H: 0, S: 48, V: 80},
		Upper:   HSV{H: 20, S: 255, V: 255},
		WrapHue: 170,
	}
}

// Validate checks that the range is well formed.
func (t SkinThresholds) Validate() error {
	if t.Lower.H > t.Upper.H || t.Lower.S > t.Upper.S || t.Lower.V > t.Upper.V {
		return fmt.Errorf("skin thresholds: lower %+v exceeds upper %+v", t.Lower, t.Upper)
	}
	if t.Upper.H > 180 || t.Upper.S > 255 || t.Upper.V > 255 {
		return fmt.Errorf("skin thresholds: upper %+v out of HSV range", t.Upper)
	}
	if t.WrapHue != 0 && (t.WrapHue <= t.Upper.H || t.WrapHue > 180) {
		return fmt.Errorf("skin thresholds: wrap hue %.0f must lie between %.0f and 180", t.WrapHue, t.Upper.H)
	}
	return nil
}

// Config configures skin segmentation.
type Config struct {
	Thresholds SkinThresholds `json:"thresholds"`
	// OpenSize is the square kernel used to drop speckle from the raw
	// mask. Zero disables the cleanup.
	OpenSize int `json:"open_size"`
	// DilateSize and DilateIterations grow the mask before removal so the
	// hand's soft edges go with it.
	DilateSize       int `json:"dilate_size"`
	DilateIterations int `json:"dilate_iterations"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Thresholds:       DefaultSkinThresholds(),
		OpenSize:         3,
		DilateSize:       5,
		DilateIterations: 1,
	}
}

// Segmenter produces skin masks. It holds no per-frame state.
type Segmenter struct {
	config Config
}

// New creates a Segmenter with the given configuration.
func New(config Config) *Segmenter {
	return &Segmenter{config: config}
}

// Config returns the segmenter configuration.
func (s *Segmenter) Config() Config {
	return s.config
}

// SkinMask returns a CV_8UC1 mask, the size of img, with skin pixels set to 255.
// The caller is responsible for closing the returned Mat.
func (s *Segmenter) SkinMask(img gocv.Mat) (gocv.Mat, error) {
	if err := frame.Validate(img); err != nil {
		return gocv.Mat{}, err
	}

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)

	th := s.config.Thresholds
	mask := gocv.NewMat()
	gocv.InRangeWithScalar(hsv, th.Lower.scalar(), th.Upper.scalar(), &mask)

	if th.WrapHue > 0 {
		wrapped := gocv.NewMat()
		defer wrapped.Close()
		lower := HSV{H: th.WrapHue, S: th.Lower.S, V: th.Lower.V}
		upper := HSV{H: 180, S: th.Upper.S, V: th.Upper.V}
		gocv.InRangeWithScalar(hsv, lower.scalar(), upper.scalar(), &wrapped)
		gocv.BitwiseOr(mask, wrapped, &mask)
	}

	if s.config.OpenSize > 1 {
		kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(s.config.OpenSize, s.config.OpenSize))
		defer kernel.Close()
		gocv.MorphologyEx(mask, &mask, gocv.MorphOpen, kernel)
	}

	return mask, nil
}

// Dilate grows mask with an elliptical kernel of the given size.
// The caller is responsible for closing the returned Mat.
func Dilate(mask gocv.Mat, size, iterations int) gocv.Mat {
	out := mask.Clone()
	if size < 1 || iterations < 1 {
		return out
	}

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(size, size))
	defer kernel.Close()

	for i := 0; i < iterations; i++ {
		gocv.Dilate(out, &out, kernel)
	}
	return out
}

// RemoveMasked returns img - (img AND mask): img with masked pixels zeroed.
// The caller is responsible for closing the returned Mat.
func RemoveMasked(img, mask gocv.Mat) (gocv.Mat, error) {
	masked, err := ApplyMask(img, mask)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer masked.Close()

	out := gocv.NewMat()
	gocv.Subtract(img, masked, &out)
	return out, nil
}

// ApplyMask returns img AND mask: only masked pixels survive.
// The caller is responsible for closing the returned Mat.
func ApplyMask(img, mask gocv.Mat) (gocv.Mat, error) {
	if err := checkMask(img, mask); err != nil {
		return gocv.Mat{}, err
	}

	out := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), img.Rows(), img.Cols(), img.Type())
	gocv.BitwiseAndWithMask(img, img, &out, mask)
	return out, nil
}

// Coverage returns, for each rectangle, the fraction of its pixels set in mask.
func Coverage(mask gocv.Mat, rects []geometry.KeyRect) ([]float64, error) {
	if mask.Empty() || mask.Type() != gocv.MatTypeCV8UC1 {
		return nil, fmt.Errorf("%w: coverage needs a CV_8UC1 mask", frame.ErrInvalidFrame)
	}

	bounds := image.Rect(0, 0, mask.Cols(), mask.Rows())
	out := make([]float64, len(rects))
	for i, k := range rects {
		r := k.Rect().Intersect(bounds)
		if r.Empty() {
			continue
		}
		region := mask.Region(r)
		out[i] = float64(gocv.CountNonZero(region)) / float64(k.Area())
		region.Close()
	}
	return out, nil
}

func checkMask(img, mask gocv.Mat) error {
	if img.Empty() {
		return frame.ErrInvalidFrame
	}
	if mask.Empty() || mask.Type() != gocv.MatTypeCV8UC1 {
		return fmt.Errorf("%w: mask must be CV_8UC1", frame.ErrInvalidFrame)
	}
	if mask.Rows() != img.Rows() || mask.Cols() != img.Cols() {
		return fmt.Errorf("%w: mask is %dx%d, image is %dx%d",
			frame.ErrInvalidFrame, mask.Cols(), mask.Rows(), img.Cols(), img.Rows())
	}
	return nil
}
