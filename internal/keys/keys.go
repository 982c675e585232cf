// Package keys computes the static key layout of a rectified keyboard image.
//
// Segmentation runs once per session on the reference keyboard:
//
//   - White key boundaries come from the dark separator lines in a
//     brightness profile taken below the black keys, snapped onto an
//     evenly spaced grid whose pitch is the median separator spacing.
//   - Black keys are wide dark runs in a profile taken across the upper
//     part of the keyboard, each attached to its nearest white boundary.
//   - The octave pattern (black keys after C, D, F, G and A) is fitted to
//     the detections; with a strong fit, missing keys with moderate dark
//     evidence are filled in and keys the pattern forbids are dropped.
//   - White rectangles span from one boundary to the next, below the
//     lowest black key.
//
// When no separator lines are visible, or the dark runs below the black
// key zone turn out to be black keys reaching the bottom edge, the layout
// is rebuilt from the black keys alone: their centers are placed on a grid
// of twelve semitones per octave, the 2-3 grouping is fitted, and white
// keys take the remaining semitones. If black keys run the full height,
// white rectangles are the columns between them.
package keys

import (
	"errors"
	"fmt"
	"image"
	"sort"

	"github.com/ayusman/pianovision/internal/frame"
	"github.com/ayusman/pianovision/internal/geometry"
	"gocv.io/x/gocv"
)

// Piano limits.
const (
	MaxWhiteKeys = 52
	MaxBlackKeys = 36
)

var (
	// ErrSegmentationFailed is returned when the key layout cannot be recovered.
	ErrSegmentationFailed = errors.New("key segmentation failed")
	// ErrInvalidLayout is returned when restored key rectangles are inconsistent.
	ErrInvalidLayout = errors.New("invalid key layout")
)

// Band is a vertical range expressed as fractions of the keyboard height.
type Band struct {
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
}

func (b Band) rows(height int) (int, int) {
	return int(b.Top * float64(height)), int(b.Bottom * float64(height))
}

// Config holds the segmentation heuristics.
type Config struct {
	// UpperBand is the black key zone.
	UpperBand Band `json:"upper_band"`
	// LowerBand lies below the black keys, where only white keys are visible.
	LowerBand Band `json:"lower_band"`
	// SeparatorK is the number of standard deviations below the median
	// brightness a column must be to count as a separator.
	SeparatorK float64 `json:"separator_k"`
	// SeparatorContrast is the least a separator column must sit below the
	// median brightness, in gray levels.
	SeparatorContrast float64 `json:"separator_contrast"`
	// SnapTolerance is the distance, in pitches, within which a detected
	// boundary replaces its grid line.
	SnapTolerance float64 `json:"snap_tolerance"`
	// MinBlackWidthRatio is the narrowest black key candidate, in pitches.
	MinBlackWidthRatio float64 `json:"min_black_width_ratio"`
	// SplitWidthRatio marks runs wider than this multiple of the typical
	// black key width as merged keys.
	SplitWidthRatio float64 `json:"split_width_ratio"`
	// InferDarkFraction is the dark evidence required to fill in a black
	// key the octave pattern expects but detection missed.
	InferDarkFraction float64 `json:"infer_dark_fraction"`
	// PatternFit is the share of boundaries that must agree with the octave
	// pattern before it is used to correct detections.
	PatternFit float64 `json:"pattern_fit"`
	// MinWhiteKeys is the fewest white keys accepted.
	MinWhiteKeys int `json:"min_white_keys"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		UpperBand:          Band{Top: 0.1, Bottom: 0.5},
		LowerBand:          Band{Top: 0.8, Bottom: 0.95},
		SeparatorK:         1.0,
		SeparatorContrast:  20,
		SnapTolerance:      0.3,
		MinBlackWidthRatio: 0.3,
		SplitWidthRatio:    1.6,
		InferDarkFraction:  0.35,
		PatternFit:         0.8,
		MinWhiteKeys:       36,
	}
}

// Manager holds the key rectangles of one keyboard. It is read-only after
// construction and safe for concurrent use.
type Manager struct {
	size      image.Point
	black     []geometry.KeyRect
	white     []geometry.KeyRect
	firstNote string
}

// New segments the rectified keyboard image into black and white keys.
func New(keyboard gocv.Mat, config Config) (*Manager, error) {
	if err := frame.Validate(keyboard); err != nil {
		return nil, err
	}

	l, err := segment(keyboard, config)
	if err != nil {
		return nil, err
	}
	black, white := l.black, l.white

	if len(white) < config.MinWhiteKeys {
		return nil, fmt.Errorf("%w: found %d white keys, need at least %d",
			ErrSegmentationFailed, len(white), config.MinWhiteKeys)
	}
	if len(black) == 0 {
		return nil, fmt.Errorf("%w: no black keys found", ErrSegmentationFailed)
	}
	if len(black) > MaxBlackKeys {
		return nil, fmt.Errorf("%w: found %d black keys, a piano has at most %d",
			ErrSegmentationFailed, len(black), MaxBlackKeys)
	}

	return &Manager{
		size:      image.Pt(keyboard.Cols(), keyboard.Rows()),
		black:     black,
		white:     white,
		firstNote: l.firstNote,
	}, nil
}

// Restore rebuilds a Manager from previously computed rectangles,
// checking the layout invariants.
func Restore(size image.Point, black, white []geometry.KeyRect, firstNote string) (*Manager, error) {
	bounds := image.Rect(0, 0, size.X, size.Y)
	if bounds.Empty() {
		return nil, fmt.Errorf("%w: empty keyboard size %v", ErrInvalidLayout, size)
	}

	black = append([]geometry.KeyRect(nil), black...)
	white = append([]geometry.KeyRect(nil), white...)
	sortKeys(black)
	sortKeys(white)

	if err := checkClass(black, geometry.Black, bounds); err != nil {
		return nil, err
	}
	if err := checkClass(white, geometry.White, bounds); err != nil {
		return nil, err
	}
	for _, b := range black {
		for _, w := range white {
			if b.Overlaps(w) {
				return nil, fmt.Errorf("%w: black key %d overlaps white key %d", ErrInvalidLayout, b.Index, w.Index)
			}
		}
	}

	return &Manager{size: size, black: black, white: white, firstNote: firstNote}, nil
}

func checkClass(rects []geometry.KeyRect, color geometry.KeyColor, bounds image.Rectangle) error {
	for i, k := range rects {
		if k.Color != color {
			return fmt.Errorf("%w: %s key %d has color %q", ErrInvalidLayout, color, i, k.Color)
		}
		if k.Width <= 0 || k.Height <= 0 || !k.Rect().In(bounds) {
			return fmt.Errorf("%w: %s key %d at %v outside %v", ErrInvalidLayout, color, i, k.Rect(), bounds)
		}
		if i > 0 && rects[i-1].Overlaps(k) {
			return fmt.Errorf("%w: %s keys %d and %d overlap", ErrInvalidLayout, color, i-1, i)
		}
		rects[i].Index = i
	}
	return nil
}

func sortKeys(rects []geometry.KeyRect) {
	sort.SliceStable(rects, func(i, j int) bool {
		return rects[i].X < rects[j].X
	})
}

// BlackKeys returns the black key rectangles ordered left to right.
func (m *Manager) BlackKeys() []geometry.KeyRect {
	return append([]geometry.KeyRect(nil), m.black...)
}

// WhiteKeys returns the white key rectangles ordered left to right.
func (m *Manager) WhiteKeys() []geometry.KeyRect {
	return append([]geometry.KeyRect(nil), m.white...)
}

// All returns black keys followed by white keys.
func (m *Manager) All() []geometry.KeyRect {
	all := make([]geometry.KeyRect, 0, len(m.black)+len(m.white))
	all = append(all, m.black...)
	return append(all, m.white...)
}

// Size returns the keyboard image size the layout was computed on.
func (m *Manager) Size() image.Point {
	return m.size
}

// FirstNote returns the natural note of the leftmost white key ("C" to "B"),
// or "" when the octave pattern could not be fitted.
func (m *Manager) FirstNote() string {
	return m.firstNote
}

// KeyAt returns the key containing the point, if any.
func (m *Manager) KeyAt(p image.Point) (geometry.KeyRect, bool) {
	for _, k := range m.All() {
		if p.In(k.Rect()) {
			return k, true
		}
	}
	return geometry.KeyRect{}, false
}
