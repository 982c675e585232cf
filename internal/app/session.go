package app

import (
	"fmt"
	"image"

	"github.com/ayusman/pianovision/internal/bounder"
	"github.com/ayusman/pianovision/internal/frame"
	"github.com/ayusman/pianovision/internal/geometry"
	"github.com/ayusman/pianovision/internal/keys"
	"github.com/ayusman/pianovision/internal/render"
	"github.com/ayusman/pianovision/internal/store"
	"gocv.io/x/gocv"
)

// Session is the calibration shared by every frame of a run: where the
// keyboard is in the frame and where its keys are on the rectified keyboard.
// A Session is immutable once built and safe for concurrent readers.
type Session struct {
	id        string
	video     string
	frameSize image.Point
	rectifier *bounder.Rectifier
	keys      *keys.Manager
	reference image.Image
}

// Calibrate builds a Session from a reference frame: find the keyboard,
// rectify it and segment its keys.
func Calibrate(video string, ref gocv.Mat, b *bounder.Bounder, keysConfig keys.Config) (*Session, error) {
	if err := frame.Validate(ref); err != nil {
		return nil, fmt.Errorf("reference frame: %w", err)
	}

	bounds, err := b.FindBounds(ref)
	if err != nil {
		return nil, fmt.Errorf("find bounds: %w", err)
	}

	rectifier, err := bounder.NewRectifier(bounds, ref.Cols(), ref.Rows())
	if err != nil {
		return nil, fmt.Errorf("rectify keyboard: %w", err)
	}

	keyboard, err := rectifier.Section(ref)
	if err != nil {
		return nil, fmt.Errorf("rectify keyboard: %w", err)
	}
	defer keyboard.Close()

	mgr, err := keys.New(keyboard, keysConfig)
	if err != nil {
		return nil, fmt.Errorf("segment keys: %w", err)
	}

	reference, err := annotate(keyboard, mgr)
	if err != nil {
		return nil, err
	}

	return &Session{
		video:     video,
		frameSize: image.Pt(ref.Cols(), ref.Rows()),
		rectifier: rectifier,
		keys:      mgr,
		reference: reference,
	}, nil
}

// Restore rebuilds a Session from a stored calibration. ref, when not
// empty, supplies the reference keyboard picture.
func Restore(c *store.Calibration, ref gocv.Mat) (*Session, error) {
	rectifier, err := bounder.NewRectifier(c.Bounds, c.FrameWidth, c.FrameHeight)
	if err != nil {
		return nil, fmt.Errorf("calibration %s: %w", c.ID, err)
	}
	if rectifier.Size() != image.Pt(c.KeyboardWidth, c.KeyboardHeight) {
		return nil, fmt.Errorf("calibration %s: keyboard size %dx%d does not match bounds",
			c.ID, c.KeyboardWidth, c.KeyboardHeight)
	}

	mgr, err := keys.Restore(rectifier.Size(), c.Black, c.White, c.FirstNote)
	if err != nil {
		return nil, fmt.Errorf("calibration %s: %w", c.ID, err)
	}

	s := &Session{
		id:        c.ID,
		video:     c.Video,
		frameSize: image.Pt(c.FrameWidth, c.FrameHeight),
		rectifier: rectifier,
		keys:      mgr,
	}

	if !ref.Empty() {
		keyboard, err := rectifier.Section(ref)
		if err != nil {
			return nil, fmt.Errorf("calibration %s: reference frame: %w", c.ID, err)
		}
		defer keyboard.Close()

		if s.reference, err = annotate(keyboard, mgr); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// annotate renders the key layout over the rectified reference keyboard.
func annotate(keyboard gocv.Mat, mgr *keys.Manager) (image.Image, error) {
	overlay := keyboard.Clone()
	defer overlay.Close()
	render.DrawKeys(&overlay, mgr.All())

	img, err := overlay.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert reference keyboard: %w", err)
	}
	return img, nil
}

// WithID returns a copy of the session bound to a stored calibration ID.
func (s *Session) WithID(id string) *Session {
	c := *s
	c.id = id
	return &c
}

// ID returns the stored calibration ID, or "" for an unsaved session.
func (s *Session) ID() string {
	return s.id
}

// Video returns the video identifier the session was calibrated for.
func (s *Session) Video() string {
	return s.video
}

// Bounds returns the keyboard corners in frame coordinates.
func (s *Session) Bounds() geometry.Quad {
	return s.rectifier.Bounds()
}

// FrameSize returns the frame resolution the session applies to.
func (s *Session) FrameSize() image.Point {
	return s.frameSize
}

// KeyboardSize returns the rectified keyboard size.
func (s *Session) KeyboardSize() image.Point {
	return s.rectifier.Size()
}

// Keys returns the key layout.
func (s *Session) Keys() *keys.Manager {
	return s.keys
}

// Reference returns the annotated reference keyboard, or nil when unknown.
func (s *Session) Reference() image.Image {
	return s.reference
}

// Section rectifies a frame to the keyboard region.
// The caller is responsible for closing the returned Mat.
func (s *Session) Section(img gocv.Mat) (gocv.Mat, error) {
	return s.rectifier.Section(img)
}

// KeyQuad maps a key rectangle back into frame coordinates.
func (s *Session) KeyQuad(k geometry.KeyRect) geometry.Quad {
	return s.rectifier.RectToFrame(k.Rect())
}

// Calibration converts the session into its stored form.
func (s *Session) Calibration() *store.Calibration {
	size := s.KeyboardSize()
	return &store.Calibration{
		ID:             s.id,
		Video:          s.video,
		FrameWidth:     s.frameSize.X,
		FrameHeight:    s.frameSize.Y,
		Bounds:         s.Bounds(),
		KeyboardWidth:  size.X,
		KeyboardHeight: size.Y,
		FirstNote:      s.keys.FirstNote(),
		Black:          s.keys.BlackKeys(),
		White:          s.keys.WhiteKeys(),
	}
}

// Summary is the JSON description of a session.
type Summary struct {
	ID             string             `json:"id,omitempty"`
	Video          string             `json:"video"`
	FrameWidth     int                `json:"frame_width"`
	FrameHeight    int                `json:"frame_height"`
	Bounds         geometry.Quad      `json:"bounds"`
	KeyboardWidth  int                `json:"keyboard_width"`
	KeyboardHeight int                `json:"keyboard_height"`
	FirstNote      string             `json:"first_note,omitempty"`
	BlackKeys      []geometry.KeyRect `json:"black_keys"`
	WhiteKeys      []geometry.KeyRect `json:"white_keys"`
}

// Summary describes the session for API clients.
func (s *Session) Summary() Summary {
	c := s.Calibration()
	return Summary{
		ID:             c.ID,
		Video:          c.Video,
		FrameWidth:     c.FrameWidth,
		FrameHeight:    c.FrameHeight,
		Bounds:         c.Bounds,
		KeyboardWidth:  c.KeyboardWidth,
		KeyboardHeight: c.KeyboardHeight,
		FirstNote:      c.FirstNote,
		BlackKeys:      c.Black,
		WhiteKeys:      c.White,
	}
}
