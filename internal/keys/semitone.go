package keys

import (
	"fmt"
	"math"

	"github.com/ayusman/pianovision/internal/frame"
)

// semitoneScale maps semitone coordinates to image columns. Semitone t
// spans [t, t+1); anchors pin the centers of the black keys and the scale
// is piecewise linear between them, extrapolated with pitch outside.
type semitoneScale struct {
	anchors []anchor
	pitch   float64
}

type anchor struct {
	u, x float64
}

func (s semitoneScale) x(u float64) float64 {
	a := s.anchors
	if u <= a[0].u {
		return a[0].x + (u-a[0].u)*s.pitch
	}
	last := a[len(a)-1]
	if u >= last.u {
		return last.x + (u-last.u)*s.pitch
	}
	for i := 1; i < len(a); i++ {
		if u <= a[i].u {
			f := (u - a[i-1].u) / (a[i].u - a[i-1].u)
			return a[i-1].x + f*(a[i].x-a[i-1].x)
		}
	}
	return last.x
}

func (s semitoneScale) u(x float64) float64 {
	a := s.anchors
	if x <= a[0].x {
		return a[0].u + (x-a[0].x)/s.pitch
	}
	last := a[len(a)-1]
	if x >= last.x {
		return last.u + (x-last.x)/s.pitch
	}
	for i := 1; i < len(a); i++ {
		if x <= a[i].x {
			f := (x - a[i-1].x) / (a[i].x - a[i-1].x)
			return a[i-1].u + f*(a[i].u-a[i-1].u)
		}
	}
	return last.u
}

// whiteSpan is a white key in semitone coordinates.
type whiteSpan struct {
	semitone    int
	left, right float64
}

// segmentByPattern recovers the layout from the black keys alone. Black
// key centers are placed on a grid of twelve semitones per octave and the
// 2-3 grouping is fitted to them; white keys fill the remaining semitones.
// A white key between two black keys ends at their centers, and adjacent
// white keys (E-F, B-C) meet on the semitone edge.
func segmentByPattern(dark frame.Plane, config Config) (layout, error) {
	y0, y1 := config.UpperBand.rows(dark.Height)
	frac := dark.ColumnFraction(y0, y1)

	var found []run
	for _, r := range runs(frac, func(v float64) bool { return v >= 0.5 }) {
		if r.start > 0 && r.end < dark.Width {
			found = append(found, r)
		}
	}
	if len(found) < 2 {
		return layout{}, fmt.Errorf("%w: found %d black key candidates", ErrSegmentationFailed, len(found))
	}

	widths := make([]float64, len(found))
	for i, r := range found {
		widths[i] = float64(r.width())
	}
	typical := median(widths)

	var candidates []run
	for _, r := range found {
		if float64(r.width()) >= 0.5*typical {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) < 2 {
		return layout{}, fmt.Errorf("%w: found %d black key candidates", ErrSegmentationFailed, len(candidates))
	}

	// The most common gap between neighbouring black keys is two semitones.
	gaps := make([]float64, len(candidates)-1)
	for i := 1; i < len(candidates); i++ {
		gaps[i-1] = candidates[i].center() - candidates[i-1].center()
	}
	pitch := median(gaps) / 2
	if pitch < 1 {
		return layout{}, fmt.Errorf("%w: semitone pitch %.1f px", ErrSegmentationFailed, pitch)
	}

	slots := make([]int, len(candidates))
	var span float64
	for i, g := range gaps {
		k := int(math.Round(g / pitch))
		if k < 2 {
			return layout{}, fmt.Errorf("%w: black keys %d and %d are %.1f px apart", ErrSegmentationFailed, i, i+1, g)
		}
		slots[i+1] = slots[i] + k
		span += g
	}
	pitch = span / float64(slots[len(slots)-1])

	phase, score := fitSemitones(slots)
	if float64(score) < config.PatternFit*float64(len(slots)) {
		return layout{}, fmt.Errorf("%w: black keys do not follow the octave pattern (%d of %d)",
			ErrSegmentationFailed, score, len(slots))
	}

	detected := make(map[int]run)
	var anchors []anchor
	for i, r := range candidates {
		t := slots[i]
		if !isBlackSemitone(t + phase) {
			continue
		}
		detected[t] = r
		anchors = append(anchors, anchor{u: float64(t) + 0.5, x: r.center()})
	}
	if len(anchors) == 0 {
		return layout{}, fmt.Errorf("%w: no black key fits the octave pattern", ErrSegmentationFailed)
	}
	scale := semitoneScale{anchors: anchors, pitch: pitch}

	inferred := make(map[int]bool)
	for t := slots[0]; t <= slots[len(slots)-1]; t++ {
		if _, ok := detected[t]; ok || !isBlackSemitone(t+phase) {
			continue
		}
		w := clipRun(keyWindow(int(math.Round(scale.x(float64(t)+0.5))), typical), run{0, dark.Width})
		if w.width() > 0 && meanOver(frac, w) >= config.InferDarkFraction {
			detected[t] = w
			inferred[t] = true
		}
	}

	black, err := blackRects(dark, detected, inferred, (y0+y1)/2)
	if err != nil {
		return layout{}, err
	}

	left, right := scale.u(0), scale.u(float64(dark.Width))
	var spans []whiteSpan
	for t := int(math.Floor(left)) - 1; t <= int(math.Ceil(right)); t++ {
		if isBlackSemitone(t + phase) {
			continue
		}
		l, r := float64(t), float64(t+1)
		if isBlackSemitone(t - 1 + phase) {
			l -= 0.5
		}
		if isBlackSemitone(t + 1 + phase) {
			r += 0.5
		}
		l, r = max(l, left), min(r, right)
		// Slivers at the image edges are not keys.
		if r-l < 0.5 {
			continue
		}
		spans = append(spans, whiteSpan{semitone: t, left: l, right: r})
	}
	if len(spans) == 0 {
		return layout{}, fmt.Errorf("%w: no white keys between the black keys", ErrSegmentationFailed)
	}

	bounds := make([]int, len(spans)+1)
	bounds[len(spans)] = dark.Width
	for i := 1; i < len(spans); i++ {
		bounds[i] = int(math.Round(scale.x(spans[i].left)))
		if bounds[i] <= bounds[i-1] || bounds[i] >= dark.Width {
			return layout{}, fmt.Errorf("%w: boundaries %d and %d collapse", ErrSegmentationFailed, i-1, i)
		}
	}

	white, err := whiteRects(bounds, black, dark.Height)
	if err != nil {
		return layout{}, err
	}

	firstNote := string(semitoneNotes[mod(spans[0].semitone+phase, 12)])
	return layout{black: black, white: white, firstNote: firstNote}, nil
}
