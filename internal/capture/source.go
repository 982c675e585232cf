// Package capture provides frame sources for the pipeline: video files,
// camera devices and in-memory frames for tests.
package capture

import (
	"errors"
	"fmt"
	"os"

	"gocv.io/x/gocv"
)

var (
	// ErrNoMoreFrames is returned by ReadFrame once a finite source is exhausted.
	ErrNoMoreFrames = errors.New("no more frames")
	// ErrSourceNotOpen is returned when reading from a source that is not open.
	ErrSourceNotOpen = errors.New("source is not open")
)

// Source yields frames in acquisition order. Sources are not restartable:
// once ReadFrame returns ErrNoMoreFrames every later call does too.
type Source interface {
	Open() error
	Close() error
	// ReadFrame returns the next frame.
	// The caller is responsible for closing the returned Mat.
	ReadFrame() (*gocv.Mat, error)
	FPS() float64
	IsOpen() bool
}

// Counter is implemented by sources that know their length up front.
type Counter interface {
	FrameCount() int
}

// ReferenceFrame loads the frame used for calibration: the still image at
// path when it exists, otherwise the first frame of first. The returned
// source must be read in place of first; when the reference came from the
// video it yields that frame again before continuing, so frame 0 is both
// the reference and the first frame processed.
// The caller is responsible for closing the returned Mat.
func ReferenceFrame(path string, first Source) (gocv.Mat, Source, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			img := gocv.IMRead(path, gocv.IMReadColor)
			if img.Empty() {
				img.Close()
				return gocv.Mat{}, first, fmt.Errorf("failed to decode reference image %s", path)
			}
			return img, first, nil
		}
	}

	if first == nil {
		return gocv.Mat{}, nil, ErrNoMoreFrames
	}
	if !first.IsOpen() {
		if err := first.Open(); err != nil {
			return gocv.Mat{}, first, err
		}
	}

	frame, err := first.ReadFrame()
	if err != nil {
		return gocv.Mat{}, first, err
	}
	return frame.Clone(), &replaySource{Source: first, pending: frame}, nil
}

// replaySource yields a frame already read from Source before reading on.
type replaySource struct {
	Source
	pending *gocv.Mat
}

func (r *replaySource) ReadFrame() (*gocv.Mat, error) {
	if r.pending != nil {
		frame := r.pending
		r.pending = nil
		return frame, nil
	}
	return r.Source.ReadFrame()
}

func (r *replaySource) Close() error {
	if r.pending != nil {
		r.pending.Close()
		r.pending = nil
	}
	return r.Source.Close()
}

// FrameCount reports the length of the underlying source, or 0 when unknown.
func (r *replaySource) FrameCount() int {
	if c, ok := r.Source.(Counter); ok {
		return c.FrameCount()
	}
	return 0
}
