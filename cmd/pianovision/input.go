package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ayusman/pianovision/internal/app"
	"github.com/ayusman/pianovision/internal/bounder"
	"github.com/ayusman/pianovision/internal/capture"
	"github.com/ayusman/pianovision/internal/store"
	"gocv.io/x/gocv"
)

// input names the video a command works on and where its frames come from.
type input struct {
	name      string
	video     string
	reference string
}

// resolveInput accepts either a video identifier, looked up in the data
// directory, or a path to an existing video or image file.
func resolveInput(arg string) input {
	if ext := filepath.Ext(arg); ext != "" {
		if _, err := os.Stat(arg); err == nil {
			name := strings.TrimSuffix(filepath.Base(arg), ext)
			if isImage(arg) {
				return input{name: strings.TrimSuffix(name, "-f00"), reference: arg}
			}
			return input{
				name:      name,
				video:     arg,
				reference: filepath.Join(filepath.Dir(arg), name+"-f00.png"),
			}
		}
	}
	return input{name: arg, video: cfg.VideoPath(arg), reference: cfg.ReferencePath(arg)}
}

func isImage(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".bmp", ".webp":
		return true
	}
	return false
}

// openSource returns the frame source for in: camera when cameraID is not
// negative, the video file otherwise.
func openSource(in input, cameraID int) (capture.Source, error) {
	var src capture.Source
	if cameraID >= 0 {
		src = capture.NewCamera(cameraID)
	} else {
		if in.video == "" {
			return nil, fmt.Errorf("%s is an image, not a video", in.reference)
		}
		src = capture.NewVideoFile(in.video)
	}

	if err := src.Open(); err != nil {
		return nil, err
	}
	return src, nil
}

// loadSession returns the calibration for in. With reuse, the latest stored
// calibration for the video is restored when it matches the reference frame
// size; otherwise the reference frame is calibrated and the result stored.
func loadSession(st *store.Store, in input, ref gocv.Mat, reuse bool) (*app.Session, error) {
	if reuse && st != nil {
		c, err := st.Calibrations().LatestForVideo(in.name)
		switch {
		case err == nil && c.FrameWidth == ref.Cols() && c.FrameHeight == ref.Rows():
			s, err := app.Restore(c, ref)
			if err == nil {
				fmt.Printf("Reusing calibration %s\n", c.ID)
				return s, nil
			}
			fmt.Fprintf(os.Stderr, "Stored calibration unusable, recalibrating: %v\n", err)
		case err == nil:
			fmt.Fprintf(os.Stderr, "Stored calibration is for %dx%d frames, recalibrating\n", c.FrameWidth, c.FrameHeight)
		case err != store.ErrNotFound:
			return nil, err
		}
	}

	s, err := app.Calibrate(in.name, ref, bounder.New(cfg.Bounder), cfg.Keys)
	if err != nil {
		return nil, err
	}

	if st != nil {
		c := s.Calibration()
		if err := st.Calibrations().Create(c); err != nil {
			return nil, fmt.Errorf("failed to save calibration: %w", err)
		}
		s = s.WithID(c.ID)
	}
	return s, nil
}

// printKeyCounts writes the key counts found for a session.
func printKeyCounts(s *app.Session) {
	fmt.Printf("%d black keys found\n", len(s.Keys().BlackKeys()))
	fmt.Printf("%d white keys found\n", len(s.Keys().WhiteKeys()))
}
