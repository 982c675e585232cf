package capture

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// VideoFile reads frames from a video file.
type VideoFile struct {
	path    string
	capture *gocv.VideoCapture
	mu      sync.Mutex
	running bool
	done    bool
}

// NewVideoFile creates a source for the video at path. The file is opened by Open.
func NewVideoFile(path string) *VideoFile {
	return &VideoFile{path: path}
}

// Path returns the video file path.
func (v *VideoFile) Path() string {
	return v.path
}

// Open opens the video file for decoding.
func (v *VideoFile) Open() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.running {
		return nil
	}
	if v.done {
		return ErrNoMoreFrames
	}

	capture, err := gocv.VideoCaptureFile(v.path)
	if err != nil {
		return fmt.Errorf("open video %s: %w", v.path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("open video %s: unsupported or missing file", v.path)
	}

	v.capture = capture
	v.running = true
	return nil
}

// Close releases the decoder.
func (v *VideoFile) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.running || v.capture == nil {
		v.running = false
		return nil
	}

	err := v.capture.Close()
	v.capture = nil
	v.running = false
	return err
}

// ReadFrame decodes the next frame. At end of file it returns ErrNoMoreFrames.
// The caller is responsible for closing the returned Mat.
func (v *VideoFile) ReadFrame() (*gocv.Mat, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.done {
		return nil, ErrNoMoreFrames
	}
	if !v.running || v.capture == nil {
		return nil, ErrSourceNotOpen
	}

	mat := gocv.NewMat()
	if ok := v.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		v.done = true
		return nil, ErrNoMoreFrames
	}

	return &mat, nil
}

// FPS returns the frame rate stored in the file.
func (v *VideoFile) FPS() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.capture == nil {
		return 0
	}
	return v.capture.Get(gocv.VideoCaptureFPS)
}

// FrameCount returns the number of frames reported by the container, or 0
// when unknown.
func (v *VideoFile) FrameCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.capture == nil {
		return 0
	}
	return int(v.capture.Get(gocv.VideoCaptureFrameCount))
}

// IsOpen returns true if the file is open for decoding.
func (v *VideoFile) IsOpen() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.running
}
