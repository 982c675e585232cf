package capture

import (
	"image"
	"sync"

	"github.com/ayusman/pianovision/internal/frame"
	"gocv.io/x/gocv"
)

// Motion detection defaults
const (
	// DefaultBlurSize is the Gaussian kernel size applied before differencing.
	DefaultBlurSize = 21
	// DefaultDiffThreshold is the per-pixel change that counts as motion.
	DefaultDiffThreshold = 25
)

// MotionDetector measures how much of an image changed since the previous
// call, using blurred frame differencing. The pipeline feeds it the
// rectified keyboard so the figure reflects hand activity over the keys.
type MotionDetector struct {
	threshold     float64
	blurSize      int
	diffThreshold float64
	prevGray      gocv.Mat
	initialized   bool
	mu            sync.Mutex
}

// NewMotionDetector creates a MotionDetector. threshold is the percentage of
// pixels that must change for Detect to report motion.
func NewMotionDetector(threshold float64) *MotionDetector {
	return &MotionDetector{
		threshold:     threshold,
		blurSize:      DefaultBlurSize,
		diffThreshold: DefaultDiffThreshold,
		prevGray:      gocv.NewMat(),
	}
}

// Detect compares img with the previous image and returns whether motion
// exceeded the threshold along with the changed percentage. The first image,
// and any image whose size differs from the previous one, becomes the new
// baseline and reports no motion.
func (m *MotionDetector) Detect(img gocv.Mat) (bool, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if img.Empty() {
		return false, 0
	}

	gray := frame.Gray(img)
	defer gray.Close()

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(m.blurSize, m.blurSize), 0, 0, gocv.BorderDefault)

	if !m.initialized || m.prevGray.Rows() != blurred.Rows() || m.prevGray.Cols() != blurred.Cols() {
		blurred.CopyTo(&m.prevGray)
		m.initialized = true
		return false, 0
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, m.prevGray, &diff)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, float32(m.diffThreshold), 255, gocv.ThresholdBinary)

	changed := float64(gocv.CountNonZero(thresh)) / float64(thresh.Rows()*thresh.Cols()) * 100.0

	blurred.CopyTo(&m.prevGray)

	return changed > m.threshold, changed
}

// Reset drops the baseline so the next image starts a new comparison.
func (m *MotionDetector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prevGray.Close()
	m.prevGray = gocv.NewMat()
	m.initialized = false
}

// Close releases resources used by the motion detector.
func (m *MotionDetector) Close() {
	m.Reset()
}
