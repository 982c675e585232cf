// Package app runs the keyboard vision pipeline: it calibrates a Session on
// a reference frame and then processes a frame source one frame at a time,
// publishing the resulting surfaces and per-key coverage.
package app

import (
	"sync"

	"github.com/ayusman/pianovision/internal/capture"
	"github.com/ayusman/pianovision/internal/hands"
	"github.com/ayusman/pianovision/internal/snapshot"
	"github.com/ayusman/pianovision/internal/store"
	"gocv.io/x/gocv"
)

// Pipeline defaults.
const (
	// DefaultCoverageThreshold is the skin fraction at which a key counts as covered.
	DefaultCoverageThreshold = 0.25
	// DefaultMotionThreshold is the percentage of changed pixels reported as motion.
	DefaultMotionThreshold = 1.0
)

// Surfaces are the images produced for one frame. They are owned by the
// pipeline and only valid for the duration of a Publish call.
type Surfaces struct {
	// Frame is the raw frame with the keyboard outline.
	Frame gocv.Mat
	// Skin is the rectified keyboard with everything but skin blacked out.
	Skin gocv.Mat
	// Keyboard is the rectified keyboard, hands removed when enabled, with
	// key rectangles drawn.
	Keyboard gocv.Mat
}

// Close releases the surface Mats.
func (s *Surfaces) Close() {
	s.Frame.Close()
	s.Skin.Close()
	s.Keyboard.Close()
}

// Publisher receives every processed frame. Implementations must copy what
// they keep out of the Mats before returning.
type Publisher interface {
	Publish(result FrameResult, surfaces Surfaces)
}

// Config holds configuration options for the pipeline.
type Config struct {
	Hands             hands.Config
	RemoveHands       bool
	CoverageThreshold float64
	MotionThreshold   float64

	// Store, when set, records each run against the session's calibration.
	Store *store.Store
	// Snapshots, when set, receives the reference keyboard at start and the
	// last frame's surfaces at the end of a run.
	Snapshots  *snapshot.Writer
	Publishers []Publisher
	// OnFrame is called after each frame is published.
	OnFrame func(FrameResult)
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Hands:             hands.DefaultConfig(),
		RemoveHands:       true,
		CoverageThreshold: DefaultCoverageThreshold,
		MotionThreshold:   DefaultMotionThreshold,
	}
}

// App drives one Session over one frame source.
type App struct {
	config  Config
	session *Session
	source  capture.Source
	skin    *hands.Segmenter
	motion  *capture.MotionDetector

	mu          sync.RWMutex
	removeHands bool
	frames      int
}

// New creates an App for a calibrated session and its frame source.
func New(session *Session, source capture.Source, config Config) *App {
	if config.CoverageThreshold <= 0 {
		config.CoverageThreshold = DefaultCoverageThreshold
	}
	if config.MotionThreshold <= 0 {
		config.MotionThreshold = DefaultMotionThreshold
	}

	return &App{
		config:      config,
		session:     session,
		source:      source,
		skin:        hands.New(config.Hands),
		motion:      capture.NewMotionDetector(config.MotionThreshold),
		removeHands: config.RemoveHands,
	}
}

// Session returns the session the app runs.
func (a *App) Session() *Session {
	return a.session
}

// SetRemoveHands enables or disables hand removal on the keyboard surface.
func (a *App) SetRemoveHands(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removeHands = enabled
}

// RemoveHands returns whether hand removal is currently enabled.
func (a *App) RemoveHands() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.removeHands
}

// Frames returns the number of frames processed so far.
func (a *App) Frames() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.frames
}

// AddPublisher registers a publisher. It must be called before Run.
func (a *App) AddPublisher(p Publisher) {
	a.config.Publishers = append(a.config.Publishers, p)
}
