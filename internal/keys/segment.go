package keys

import (
	"fmt"
	"math"
	"sort"

	"github.com/ayusman/pianovision/internal/frame"
	"github.com/ayusman/pianovision/internal/geometry"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

// run is a half-open column interval [start, end).
type run struct {
	start, end int
}

func (r run) width() int {
	return r.end - r.start
}

func (r run) center() float64 {
	return float64(r.start+r.end) / 2
}

// runs returns the maximal intervals of values satisfying pred.
func runs(values []float64, pred func(float64) bool) []run {
	var out []run
	start := -1
	for i, v := range values {
		switch {
		case pred(v) && start < 0:
			start = i
		case !pred(v) && start >= 0:
			out = append(out, run{start, i})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, run{start, len(values)})
	}
	return out
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

// layout is the outcome of one segmentation pass.
type layout struct {
	black     []geometry.KeyRect
	white     []geometry.KeyRect
	firstNote string
}

func segment(keyboard gocv.Mat, config Config) (layout, error) {
	gray := frame.Gray(keyboard)
	defer gray.Close()

	// White key surfaces are the bright class; everything else is dark.
	dark := gocv.NewMat()
	defer dark.Close()
	gocv.Threshold(gray, &dark, 0, 255, gocv.ThresholdBinaryInv|gocv.ThresholdOtsu)

	grayPlane, err := frame.PlaneOf(gray)
	if err != nil {
		return layout{}, err
	}
	darkPlane, err := frame.PlaneOf(dark)
	if err != nil {
		return layout{}, err
	}

	l, err := segmentBySeparators(grayPlane, darkPlane, config)
	if err == nil {
		return l, nil
	}

	// Without usable separator lines the black keys alone fix the grid.
	l, perr := segmentByPattern(darkPlane, config)
	if perr != nil {
		return layout{}, fmt.Errorf("%w; octave pattern: %v", err, perr)
	}
	return l, nil
}

// segmentBySeparators places white boundaries on the separator lines below
// the black keys, then attaches black keys to those boundaries.
func segmentBySeparators(grayPlane, darkPlane frame.Plane, config Config) (layout, error) {
	bounds, pitch, err := whiteBoundaries(grayPlane, config)
	if err != nil {
		return layout{}, err
	}

	black, firstNote, err := blackKeys(darkPlane, bounds, pitch, config)
	if err != nil {
		return layout{}, err
	}

	// Separators measured where black keys reach are black key edges.
	if blackBottom(black) >= grayPlane.Height {
		return layout{}, fmt.Errorf("%w: black keys reach the bottom edge", ErrSegmentationFailed)
	}

	white, err := whiteRects(bounds, black, grayPlane.Height)
	if err != nil {
		return layout{}, err
	}
	return layout{black: black, white: white, firstNote: firstNote}, nil
}

func blackBottom(black []geometry.KeyRect) int {
	bottom := 0
	for _, k := range black {
		bottom = max(bottom, k.Y+k.Height)
	}
	return bottom
}

// whiteRects builds one rectangle per pair of adjacent boundaries. White
// keys cover the rows below the lowest black key; when black keys run the
// full height, they cover the columns between the black keys instead.
func whiteRects(bounds []int, black []geometry.KeyRect, height int) ([]geometry.KeyRect, error) {
	bottom := blackBottom(black)
	white := make([]geometry.KeyRect, 0, len(bounds)-1)
	for i := 0; i+1 < len(bounds); i++ {
		x0, x1, y := bounds[i], bounds[i+1], bottom
		if bottom >= height {
			y = 0
			mid := float64(x0+x1) / 2
			for _, k := range black {
				if k.X >= x1 || k.X+k.Width <= x0 {
					continue
				}
				if k.CenterX() < mid {
					x0 = max(x0, k.X+k.Width)
				} else {
					x1 = min(x1, k.X)
				}
			}
		}
		if x1 <= x0 || y >= height {
			return nil, fmt.Errorf("%w: white key %d has no visible area", ErrSegmentationFailed, i)
		}
		white = append(white, geometry.KeyRect{
			Index:  i,
			Color:  geometry.White,
			X:      x0,
			Y:      y,
			Width:  x1 - x0,
			Height: height - y,
		})
	}
	return white, nil
}

// whiteBoundaries returns the n+1 white key boundaries (first 0, last the
// image width) and the grid pitch.
func whiteBoundaries(p frame.Plane, config Config) ([]int, float64, error) {
	y0, y1 := config.LowerBand.rows(p.Height)
	profile := p.ColumnMeans(y0, y1)

	mid := median(profile)
	limit := min(mid-config.SeparatorK*stat.StdDev(profile, nil), mid-config.SeparatorContrast)
	var centers []float64
	for _, r := range runs(profile, func(v float64) bool { return v < limit }) {
		if r.start == 0 || r.end == p.Width {
			continue
		}
		centers = append(centers, r.center())
	}
	if len(centers) < 2 {
		return nil, 0, fmt.Errorf("%w: found %d white key separators", ErrSegmentationFailed, len(centers))
	}

	spacings := make([]float64, len(centers)-1)
	for i := 1; i < len(centers); i++ {
		spacings[i-1] = centers[i] - centers[i-1]
	}
	pitch := median(spacings)

	n := min(int(math.Round(float64(p.Width)/pitch)), MaxWhiteKeys)
	if n < 2 {
		return nil, 0, fmt.Errorf("%w: pitch %.1f px leaves %d keys", ErrSegmentationFailed, pitch, n)
	}

	// Snap onto the ideal grid so a missed or spurious separator cannot
	// shift every key after it.
	grid := float64(p.Width) / float64(n)
	bounds := make([]int, n+1)
	bounds[n] = p.Width
	for i := 1; i < n; i++ {
		g := float64(i) * grid
		best, bestDist := g, config.SnapTolerance*grid
		for _, c := range centers {
			if d := math.Abs(c - g); d <= bestDist {
				best, bestDist = c, d
			}
		}
		bounds[i] = int(math.Round(best))
		if bounds[i] <= bounds[i-1] {
			return nil, 0, fmt.Errorf("%w: boundaries %d and %d collapse", ErrSegmentationFailed, i-1, i)
		}
	}

	return bounds, grid, nil
}

// blackKeys detects black keys and attaches each to a white boundary.
func blackKeys(dark frame.Plane, bounds []int, pitch float64, config Config) ([]geometry.KeyRect, string, error) {
	n := len(bounds) - 1
	y0, y1 := config.UpperBand.rows(dark.Height)
	frac := dark.ColumnFraction(y0, y1)

	var candidates []run
	for _, r := range runs(frac, func(v float64) bool { return v >= 0.5 }) {
		if float64(r.width()) >= config.MinBlackWidthRatio*pitch {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil, "", fmt.Errorf("%w: no black keys found", ErrSegmentationFailed)
	}

	widths := make([]float64, len(candidates))
	for i, r := range candidates {
		widths[i] = float64(r.width())
	}
	typical := median(widths)

	// Attach candidates to their nearest interior boundary, splitting runs
	// that cover two or more boundaries.
	detected := make(map[int]run)
	attach := func(r run) {
		j := nearestBoundary(bounds, r.center())
		if j < 1 || j >= n || math.Abs(float64(bounds[j])-r.center()) > pitch/2 {
			return
		}
		if prev, ok := detected[j]; ok {
			r = run{min(prev.start, r.start), max(prev.end, r.end)}
		}
		detected[j] = r
	}
	for _, r := range candidates {
		if float64(r.width()) > config.SplitWidthRatio*typical {
			var inner []int
			for j := 1; j < n; j++ {
				if bounds[j] > r.start && bounds[j] < r.end {
					inner = append(inner, j)
				}
			}
			if len(inner) >= 2 {
				for _, j := range inner {
					attach(clipRun(keyWindow(bounds[j], typical), r))
				}
				continue
			}
		}
		attach(r)
	}

	present := make([]bool, n-1)
	for j := range detected {
		present[j-1] = true
	}

	phase, score := fitOctave(present)
	firstNote := ""
	inferred := make(map[int]bool)
	if float64(score) >= config.PatternFit*float64(n-1) {
		firstNote = string(whiteNotes[phase])
		for j := 1; j < n; j++ {
			want := blackAfter(phase + j - 1)
			_, has := detected[j]
			switch {
			case want && !has:
				w := clipRun(keyWindow(bounds[j], typical), run{0, dark.Width})
				if w.width() > 0 && meanOver(frac, w) >= config.InferDarkFraction {
					detected[j] = w
					inferred[j] = true
				}
			case !want && has:
				delete(detected, j)
			}
		}
	}

	ym := (y0 + y1) / 2
	black, err := blackRects(dark, detected, inferred, ym)
	if err != nil {
		return nil, "", err
	}
	return black, firstNote, nil
}

// blackRects turns black key column runs, keyed in left-to-right order,
// into rectangles. Each detected key gets its own vertical extent through
// row ym; inferred keys and keys without a clean profile use the median.
func blackRects(dark frame.Plane, detected map[int]run, inferred map[int]bool, ym int) ([]geometry.KeyRect, error) {
	type extent struct{ top, bottom int }
	extents := make(map[int]extent)
	var tops, bottoms []float64
	for j, r := range detected {
		if inferred[j] {
			continue
		}
		top, bottom, ok := verticalExtent(dark, r, ym)
		if !ok {
			continue
		}
		extents[j] = extent{top, bottom}
		tops = append(tops, float64(top))
		bottoms = append(bottoms, float64(bottom))
	}
	if len(tops) == 0 {
		return nil, fmt.Errorf("%w: black key extent not measurable", ErrSegmentationFailed)
	}
	fallback := extent{int(median(tops)), int(median(bottoms))}

	order := make([]int, 0, len(detected))
	for j := range detected {
		order = append(order, j)
	}
	sort.Ints(order)

	black := make([]geometry.KeyRect, 0, len(order))
	prevEnd := 0
	for _, j := range order {
		r := detected[j]
		r.start = max(r.start, prevEnd)
		if r.width() <= 0 {
			continue
		}
		e, ok := extents[j]
		if !ok {
			e = fallback
		}
		if e.bottom <= e.top {
			continue
		}
		black = append(black, geometry.KeyRect{
			Index:  len(black),
			Color:  geometry.Black,
			X:      r.start,
			Y:      e.top,
			Width:  r.width(),
			Height: e.bottom - e.top,
		})
		prevEnd = r.end
	}
	return black, nil
}

func nearestBoundary(bounds []int, x float64) int {
	best, bestDist := -1, math.Inf(1)
	for j, b := range bounds {
		if d := math.Abs(float64(b) - x); d < bestDist {
			best, bestDist = j, d
		}
	}
	return best
}

// keyWindow returns a run of the given width centered on x.
func keyWindow(x int, width float64) run {
	start := int(math.Round(float64(x) - width/2))
	return run{start, start + int(math.Round(width))}
}

func clipRun(r, limit run) run {
	r.start = max(r.start, limit.start)
	r.end = min(r.end, limit.end)
	if r.end < r.start {
		r.end = r.start
	}
	return r
}

func meanOver(values []float64, r run) float64 {
	return stat.Mean(values[r.start:r.end], nil)
}

// verticalExtent measures the dark span through row ym in every column of
// r and returns the median top and bottom (exclusive).
func verticalExtent(dark frame.Plane, r run, ym int) (int, int, bool) {
	if ym < 0 || ym >= dark.Height {
		return 0, 0, false
	}
	var tops, bottoms []float64
	for x := r.start; x < r.end; x++ {
		if dark.At(x, ym) == 0 {
			continue
		}
		top := ym
		for top > 0 && dark.At(x, top-1) != 0 {
			top--
		}
		bottom := ym + 1
		for bottom < dark.Height && dark.At(x, bottom) != 0 {
			bottom++
		}
		tops = append(tops, float64(top))
		bottoms = append(bottoms, float64(bottom))
	}
	if len(tops) == 0 {
		return 0, 0, false
	}
	return int(median(tops)), int(median(bottoms)), true
}
