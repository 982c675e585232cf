package keys

import (
	"errors"
	"image"
	"math"
	"testing"

	"github.com/ayusman/pianovision/internal/fixtures"
	"github.com/ayusman/pianovision/internal/frame"
	"github.com/ayusman/pianovision/internal/geometry"
	"gocv.io/x/gocv"
)

func octaveConfig() Config {
	cfg := DefaultConfig()
	cfg.MinWhiteKeys = 7
	return cfg
}

// checkLayout asserts ordering, containment and non-overlap of a layout.
func checkLayout(t *testing.T, m *Manager) {
	t.Helper()
	bounds := image.Rect(0, 0, m.Size().X, m.Size().Y)

	for _, class := range [][]geometry.KeyRect{m.BlackKeys(), m.WhiteKeys()} {
		for i, k := range class {
			if k.Index != i {
				t.Errorf("%s key %d has index %d", k.Color, i, k.Index)
			}
			if !k.Rect().In(bounds) {
				t.Errorf("%s key %d at %v outside keyboard %v", k.Color, i, k.Rect(), bounds)
			}
			if i == 0 {
				continue
			}
			if class[i-1].X >= k.X {
				t.Errorf("%s keys %d and %d not ordered by X", k.Color, i-1, i)
			}
			if class[i-1].Overlaps(k) {
				t.Errorf("%s keys %d and %d overlap", k.Color, i-1, i)
			}
		}
	}

	for _, b := range m.BlackKeys() {
		for _, w := range m.WhiteKeys() {
			if b.Overlaps(w) {
				t.Errorf("black key %d overlaps white key %d", b.Index, w.Index)
			}
		}
	}
}

func TestNew_Octave(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping image processing test in short mode")
	}

	kb := fixtures.Octave()
	img := kb.DrawFlat()
	defer img.Close()

	m, err := New(img, octaveConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if got := len(m.WhiteKeys()); got != 7 {
		t.Errorf("white keys = %d, want 7", got)
	}
	if got := len(m.BlackKeys()); got != 5 {
		t.Errorf("black keys = %d, want 5", got)
	}
	if m.FirstNote() != "C" {
		t.Errorf("FirstNote() = %q, want C", m.FirstNote())
	}
	checkLayout(t, m)

	// Black keys sit on the C-D, D-E, F-G, G-A and A-B boundaries.
	pitch := kb.Pitch()
	for i, boundary := range []int{1, 2, 4, 5, 6} {
		k := m.BlackKeys()[i]
		want := float64(boundary) * pitch
		if math.Abs(k.CenterX()-want) > 2 {
			t.Errorf("black key %d center = %.1f, want %.1f", i, k.CenterX(), want)
		}
	}

	// White keys tile the full width.
	whites := m.WhiteKeys()
	if whites[0].X != 0 || whites[len(whites)-1].Rect().Max.X != img.Cols() {
		t.Errorf("white keys span [%d, %d), want [0, %d)", whites[0].X, whites[len(whites)-1].Rect().Max.X, img.Cols())
	}
	for i, w := range whites {
		if math.Abs(float64(w.X)-float64(i)*pitch) > 2 {
			t.Errorf("white key %d starts at %d, want %.1f", i, w.X, float64(i)*pitch)
		}
	}
}

func TestNew_Full88(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping image processing test in short mode")
	}

	img := fixtures.Full88().DrawFlat()
	defer img.Close()

	m, err := New(img, DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if got := len(m.WhiteKeys()); got != MaxWhiteKeys {
		t.Errorf("white keys = %d, want %d", got, MaxWhiteKeys)
	}
	if got := len(m.BlackKeys()); got != MaxBlackKeys {
		t.Errorf("black keys = %d, want %d", got, MaxBlackKeys)
	}
	if m.FirstNote() != "A" {
		t.Errorf("FirstNote() = %q, want A", m.FirstNote())
	}
	checkLayout(t, m)
}

func TestNew_EvenStrips(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping image processing test in short mode")
	}

	tests := []struct {
		name       string
		darkHeight float64
		// wantWhiteX is the left edge of every white key.
		wantWhiteX []int
		wantWhiteY int
	}{
		{
			name:       "short dark strips",
			darkHeight: 0.6,
			wantWhiteX: []int{0, 60, 140, 200, 260, 340, 420},
			wantWhiteY: 96,
		},
		{
			name:       "full height dark strips",
			darkHeight: 1,
			wantWhiteX: []int{0, 80, 160, 200, 280, 360, 440},
			wantWhiteY: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kb := fixtures.OctaveStrips(tt.darkHeight)
			img := kb.DrawFlat()
			defer img.Close()

			m, err := New(img, octaveConfig())
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			if got := len(m.WhiteKeys()); got != 7 {
				t.Fatalf("white keys = %d, want 7", got)
			}
			if got := len(m.BlackKeys()); got != 5 {
				t.Fatalf("black keys = %d, want 5", got)
			}
			if m.FirstNote() != "C" {
				t.Errorf("FirstNote() = %q, want C", m.FirstNote())
			}
			checkLayout(t, m)

			s := kb.Semitone()
			for i, semitone := range []int{1, 3, 6, 8, 10} {
				want := (float64(semitone) + 0.5) * s
				if k := m.BlackKeys()[i]; math.Abs(k.CenterX()-want) > 2 {
					t.Errorf("black key %d center = %.1f, want %.1f", i, k.CenterX(), want)
				}
			}
			for i, w := range m.WhiteKeys() {
				if w.X != tt.wantWhiteX[i] || w.Y != tt.wantWhiteY {
					t.Errorf("white key %d at (%d, %d), want (%d, %d)", i, w.X, w.Y, tt.wantWhiteX[i], tt.wantWhiteY)
				}
			}
		})
	}
}

func TestSemitoneFit(t *testing.T) {
	tests := []struct {
		name      string
		slots     []int
		wantPhase int
		wantScore int
	}{
		{name: "C sharp to A sharp", slots: []int{0, 2, 5, 7, 9}, wantPhase: 1, wantScore: 5},
		{name: "F sharp to D sharp", slots: []int{0, 2, 4, 7, 9}, wantPhase: 6, wantScore: 5},
		{name: "missing G sharp", slots: []int{0, 2, 5, 9}, wantPhase: 1, wantScore: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			phase, score := fitSemitones(tt.slots)
			if phase != tt.wantPhase || score != tt.wantScore {
				t.Errorf("fitSemitones() = %d, %d; want %d, %d", phase, score, tt.wantPhase, tt.wantScore)
			}
		})
	}
}

func TestNew_InfersFaintBlackKey(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping image processing test in short mode")
	}

	kb := fixtures.Octave()
	img := kb.DrawFlat()
	defer img.Close()

	// Wash out most of G#, leaving a sliver too narrow to detect.
	frame.Fill(img, image.Rect(297, 0, 317, 112), gocv.NewScalar(fixtures.WhiteLevel, fixtures.WhiteLevel, fixtures.WhiteLevel, 0))

	m, err := New(img, octaveConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	blacks := m.BlackKeys()
	if len(blacks) != 5 {
		t.Fatalf("black keys = %d, want 5", len(blacks))
	}
	if math.Abs(blacks[3].CenterX()-300) > 2 {
		t.Errorf("inferred key center = %.1f, want 300", blacks[3].CenterX())
	}
	checkLayout(t, m)
}

func TestNew_DropsForbiddenBlackKey(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping image processing test in short mode")
	}

	img := fixtures.Full88().DrawFlat()
	defer img.Close()

	// A dark blob on the B0-C1 boundary, where no black key exists.
	frame.Fill(img, image.Rect(34, 0, 46, 74), gocv.NewScalar(fixtures.BlackLevel, fixtures.BlackLevel, fixtures.BlackLevel, 0))

	m, err := New(img, DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if got := len(m.BlackKeys()); got != MaxBlackKeys {
		t.Errorf("black keys = %d, want %d", got, MaxBlackKeys)
	}
	for _, k := range m.BlackKeys() {
		if math.Abs(k.CenterX()-40) < 5 {
			t.Errorf("black key %d at %v sits on the B-C boundary", k.Index, k.Rect())
		}
	}
}

func TestNew_Deterministic(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping image processing test in short mode")
	}

	img := fixtures.Octave().DrawFlat()
	defer img.Close()

	a, err := New(img, octaveConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	b, err := New(img, octaveConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ka, kb := a.All(), b.All()
	if len(ka) != len(kb) {
		t.Fatalf("runs disagree: %d vs %d keys", len(ka), len(kb))
	}
	for i := range ka {
		if ka[i] != kb[i] {
			t.Errorf("key %d differs: %+v vs %+v", i, ka[i], kb[i])
		}
	}
}

func TestNew_Failures(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping image processing test in short mode")
	}

	blank := fixtures.Blank(420, 180, fixtures.WhiteLevel)
	defer blank.Close()

	octave := fixtures.Octave().DrawFlat()
	defer octave.Close()

	// White keys and separators only.
	noBlack := fixtures.Octave().DrawFlat()
	defer noBlack.Close()
	frame.Fill(noBlack, image.Rect(0, 0, 420, 112), gocv.NewScalar(fixtures.WhiteLevel, fixtures.WhiteLevel, fixtures.WhiteLevel, 0))

	tests := []struct {
		name   string
		img    gocv.Mat
		config Config
	}{
		{name: "uniform image", img: blank, config: octaveConfig()},
		{name: "too few white keys", img: octave, config: DefaultConfig()},
		{name: "no black keys", img: noBlack, config: octaveConfig()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.img, tt.config)
			if !errors.Is(err, ErrSegmentationFailed) {
				t.Errorf("New() error = %v, want ErrSegmentationFailed", err)
			}
		})
	}
}

func TestNew_EmptyFrame(t *testing.T) {
	empty := gocv.NewMat()
	defer empty.Close()

	if _, err := New(empty, DefaultConfig()); !errors.Is(err, frame.ErrInvalidFrame) {
		t.Errorf("New() error = %v, want ErrInvalidFrame", err)
	}
}

func TestRestore(t *testing.T) {
	size := image.Pt(120, 100)
	black := []geometry.KeyRect{
		{Color: geometry.Black, X: 45, Y: 0, Width: 30, Height: 60},
	}
	white := []geometry.KeyRect{
		{Color: geometry.White, X: 60, Y: 60, Width: 60, Height: 40},
		{Color: geometry.White, X: 0, Y: 60, Width: 60, Height: 40},
	}

	m, err := Restore(size, black, white, "C")
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if m.FirstNote() != "C" {
		t.Errorf("FirstNote() = %q, want C", m.FirstNote())
	}
	if m.WhiteKeys()[0].X != 0 || m.WhiteKeys()[1].Index != 1 {
		t.Errorf("Restore() did not order white keys: %+v", m.WhiteKeys())
	}
	if k, ok := m.KeyAt(image.Pt(50, 10)); !ok || k.Color != geometry.Black {
		t.Errorf("KeyAt(50,10) = %+v, %v; want black key", k, ok)
	}
	if k, ok := m.KeyAt(image.Pt(70, 80)); !ok || k.Color != geometry.White || k.Index != 1 {
		t.Errorf("KeyAt(70,80) = %+v, %v; want white key 1", k, ok)
	}

	tests := []struct {
		name  string
		black []geometry.KeyRect
		white []geometry.KeyRect
	}{
		{
			name:  "black overlaps white",
			black: []geometry.KeyRect{{Color: geometry.Black, X: 45, Y: 0, Width: 30, Height: 70}},
			white: white,
		},
		{
			name:  "outside keyboard",
			black: []geometry.KeyRect{{Color: geometry.Black, X: 100, Y: 0, Width: 30, Height: 60}},
			white: white,
		},
		{
			name:  "wrong color",
			black: []geometry.KeyRect{{Color: geometry.White, X: 45, Y: 0, Width: 30, Height: 60}},
			white: white,
		},
		{
			name:  "overlapping whites",
			black: black,
			white: []geometry.KeyRect{
				{Color: geometry.White, X: 0, Y: 60, Width: 70, Height: 40},
				{Color: geometry.White, X: 60, Y: 60, Width: 60, Height: 40},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Restore(size, tt.black, tt.white, ""); !errors.Is(err, ErrInvalidLayout) {
				t.Errorf("Restore() error = %v, want ErrInvalidLayout", err)
			}
		})
	}
}

func TestFitOctave(t *testing.T) {
	tests := []struct {
		name      string
		present   []bool
		wantPhase int
		wantScore int
	}{
		{
			name:      "C to B",
			present:   []bool{true, true, false, true, true, true},
			wantPhase: 0,
			wantScore: 6,
		},
		{
			name:      "F to E",
			present:   []bool{true, true, true, false, true, true},
			wantPhase: 3,
			wantScore: 6,
		},
		{
			name:      "one key missing",
			present:   []bool{true, true, false, true, false, true},
			wantPhase: 0,
			wantScore: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			phase, score := fitOctave(tt.present)
			if phase != tt.wantPhase || score != tt.wantScore {
				t.Errorf("fitOctave() = %d, %d; want %d, %d", phase, score, tt.wantPhase, tt.wantScore)
			}
		})
	}
}

func TestRuns(t *testing.T) {
	values := []float64{0, 1, 1, 0, 0, 1, 1, 1}
	got := runs(values, func(v float64) bool { return v > 0 })
	want := []run{{1, 3}, {5, 8}}

	if len(got) != len(want) {
		t.Fatalf("runs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("runs()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
