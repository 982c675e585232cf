package app

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ayusman/pianovision/internal/bounder"
	"github.com/ayusman/pianovision/internal/capture"
	"github.com/ayusman/pianovision/internal/fixtures"
	"github.com/ayusman/pianovision/internal/geometry"
	"github.com/ayusman/pianovision/internal/keys"
	"github.com/ayusman/pianovision/internal/snapshot"
	"github.com/ayusman/pianovision/internal/store"
	"gocv.io/x/gocv"
)

// handRect covers the lower part of the E key of the octave fixture.
var handRect = image.Rect(230, 200, 290, 330)

func octaveKeys() keys.Config {
	cfg := keys.DefaultConfig()
	cfg.MinWhiteKeys = 7
	return cfg
}

func calibrateOctave(t *testing.T) *Session {
	t.Helper()

	ref := fixtures.Octave().Draw()
	defer ref.Close()

	s, err := Calibrate("octave", ref, bounder.New(bounder.DefaultConfig()), octaveKeys())
	if err != nil {
		t.Fatalf("Calibrate() error = %v", err)
	}
	return s
}

// octaveFrames returns n clean frames with a hand over frame handFrame.
func octaveFrames(n, handFrame int) []gocv.Mat {
	frames := make([]gocv.Mat, n)
	for i := range frames {
		frames[i] = fixtures.Octave().Draw()
		if i == handFrame {
			fixtures.DrawHand(frames[i], handRect)
		}
	}
	return frames
}

func closeAll(frames []gocv.Mat) {
	for _, f := range frames {
		f.Close()
	}
}

type recorder struct {
	mu      sync.Mutex
	results []FrameResult
	sizes   []image.Point
}

func (r *recorder) Publish(result FrameResult, s Surfaces) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	r.sizes = append(r.sizes, image.Pt(s.Keyboard.Cols(), s.Keyboard.Rows()))
}

func keyCoverage(r FrameResult, color geometry.KeyColor, index int) float64 {
	for _, k := range r.Keys {
		if k.Color == color && k.Index == index {
			return k.Fraction
		}
	}
	return 0
}

func TestCalibrate_Octave(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	s := calibrateOctave(t)
	kb := fixtures.Octave()

	want := kb.Bounds()
	got := s.Bounds()
	for i := range want {
		if got[i].Distance(want[i]) > 3 {
			t.Errorf("corner %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if n := len(s.Keys().WhiteKeys()); n != 7 {
		t.Errorf("white keys = %d, want 7", n)
	}
	if n := len(s.Keys().BlackKeys()); n != 5 {
		t.Errorf("black keys = %d, want 5", n)
	}
	if s.Reference() == nil {
		t.Error("Reference() = nil, want annotated keyboard")
	}
	if s.FrameSize() != image.Pt(kb.FrameWidth, kb.FrameHeight) {
		t.Errorf("FrameSize() = %v", s.FrameSize())
	}
	if s.ID() != "" {
		t.Errorf("ID() = %q, want empty for an unsaved session", s.ID())
	}
}

func TestCalibrate_NoKeyboard(t *testing.T) {
	blank := fixtures.Blank(640, 480, fixtures.BackgroundLevel)
	defer blank.Close()

	_, err := Calibrate("blank", blank, bounder.New(bounder.DefaultConfig()), octaveKeys())
	if !errors.Is(err, bounder.ErrBoundsNotFound) {
		t.Errorf("Calibrate() error = %v, want ErrBoundsNotFound", err)
	}
}

func TestSession_StoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	s := calibrateOctave(t)

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer st.Close()

	c := s.Calibration()
	if err := st.Calibrations().Create(c); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	loaded, err := st.Calibrations().LatestForVideo("octave")
	if err != nil {
		t.Fatalf("LatestForVideo() error = %v", err)
	}

	ref := fixtures.Octave().Draw()
	defer ref.Close()

	restored, err := Restore(loaded, ref)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	if restored.ID() != c.ID {
		t.Errorf("ID() = %q, want %q", restored.ID(), c.ID)
	}
	if restored.KeyboardSize() != s.KeyboardSize() {
		t.Errorf("KeyboardSize() = %v, want %v", restored.KeyboardSize(), s.KeyboardSize())
	}
	if restored.Keys().FirstNote() != s.Keys().FirstNote() {
		t.Errorf("FirstNote() = %q, want %q", restored.Keys().FirstNote(), s.Keys().FirstNote())
	}
	a, b := s.Keys().All(), restored.Keys().All()
	if len(a) != len(b) {
		t.Fatalf("restored %d keys, want %d", len(b), len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("key %d = %+v, want %+v", i, b[i], a[i])
		}
	}
	if restored.Reference() == nil {
		t.Error("Reference() = nil after restoring with a reference frame")
	}
}

func TestProcessFrame_Hand(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	s := calibrateOctave(t)
	frames := octaveFrames(1, 0)
	defer closeAll(frames)

	tests := []struct {
		name        string
		removeHands bool
	}{
		{name: "hands removed", removeHands: true},
		{name: "hands kept", removeHands: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.RemoveHands = tt.removeHands
			a := New(s, capture.NewMockSource(nil), cfg)

			result, surfaces, err := a.ProcessFrame(frames[0], 0)
			if err != nil {
				t.Fatalf("ProcessFrame() error = %v", err)
			}
			defer surfaces.Close()

			if result.HandFraction <= 0 {
				t.Errorf("HandFraction = %v, want > 0", result.HandFraction)
			}
			if result.Covered == 0 {
				t.Error("Covered = 0, want the E key covered")
			}

			var best KeyCoverage
			for _, k := range result.Keys {
				if k.Color == geometry.White && k.Fraction > best.Fraction {
					best = k
				}
			}
			if best.Index != 2 || best.Fraction < 0.8 {
				t.Errorf("most covered white key = %+v, want index 2 with fraction >= 0.8", best)
			}

			size := s.KeyboardSize()
			if surfaces.Keyboard.Cols() != size.X || surfaces.Keyboard.Rows() != size.Y {
				t.Errorf("keyboard surface = %dx%d, want %v", surfaces.Keyboard.Cols(), surfaces.Keyboard.Rows(), size)
			}
			if surfaces.Frame.Cols() != 640 || surfaces.Frame.Rows() != 480 {
				t.Errorf("frame surface = %dx%d, want 640x480", surfaces.Frame.Cols(), surfaces.Frame.Rows())
			}

			// Middle of the hand in keyboard coordinates.
			px := surfaces.Keyboard.GetVecbAt(140, 150)
			removed := px[0] == 0 && px[1] == 0 && px[2] == 0
			if removed != tt.removeHands {
				t.Errorf("keyboard pixel under hand = %v, removeHands %v", px, tt.removeHands)
			}

			skin := surfaces.Skin.GetVecbAt(140, 150)
			if skin[2] == 0 {
				t.Errorf("skin surface pixel under hand = %v, want skin", skin)
			}

			// Two columns left of the hand lie inside the dilated mask only.
			edge := surfaces.Skin.GetVecbAt(140, 118)
			if edge[0] == 0 {
				t.Errorf("skin surface pixel beside hand = %v, want the dilated margin shown", edge)
			}
			px = surfaces.Keyboard.GetVecbAt(140, 118)
			removed = px[0] == 0 && px[1] == 0 && px[2] == 0
			if removed != tt.removeHands {
				t.Errorf("keyboard pixel beside hand = %v, removeHands %v", px, tt.removeHands)
			}
			if cov := keyCoverage(result, geometry.White, 1); cov != 0 {
				t.Errorf("white key 1 coverage = %v, want 0 from the undilated mask", cov)
			}
		})
	}
}

func TestRun_PublishesEveryFrame(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	s := calibrateOctave(t)
	frames := octaveFrames(4, 2)
	defer closeAll(frames)

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer st.Close()

	c := s.Calibration()
	if err := st.Calibrations().Create(c); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	s = s.WithID(c.ID)

	snaps, err := snapshot.NewWriter(t.TempDir(), "png", 0)
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}

	rec := &recorder{}
	var seen []int
	cfg := DefaultConfig()
	cfg.Store = st
	cfg.Snapshots = snaps
	cfg.Publishers = []Publisher{rec}
	cfg.OnFrame = func(r FrameResult) { seen = append(seen, r.Index) }

	a := New(s, capture.NewMockSource(frames), cfg)
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if a.Frames() != 4 || len(rec.results) != 4 {
		t.Fatalf("processed %d frames, published %d; want 4", a.Frames(), len(rec.results))
	}
	for i, r := range rec.results {
		if r.Index != i || seen[i] != i {
			t.Errorf("result %d has index %d (callback %d)", i, r.Index, seen[i])
		}
		if rec.sizes[i] != s.KeyboardSize() {
			t.Errorf("frame %d keyboard surface = %v, want %v", i, rec.sizes[i], s.KeyboardSize())
		}
		if hand := i == 2; (r.Covered > 0) != hand {
			t.Errorf("frame %d covered = %d, hand present %v", i, r.Covered, hand)
		}
	}
	if !rec.results[2].Motion {
		t.Error("frame 2 reported no motion when the hand appeared")
	}

	runs, err := st.Runs().ListByCalibration(c.ID)
	if err != nil {
		t.Fatalf("ListByCalibration() error = %v", err)
	}
	if len(runs) != 1 || runs[0].Frames != 4 || runs[0].FinishedAt == nil {
		t.Errorf("runs = %+v, want one finished run of 4 frames", runs)
	}

	matches, _ := filepath.Glob(filepath.Join(snaps.Dir(), "*.png"))
	if len(matches) != 4 {
		t.Errorf("snapshots = %v, want reference, frame, skin and keyboard", matches)
	}
}

func TestRun_ReferenceFromVideoIsFrameZero(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	frames := octaveFrames(3, 1)
	defer closeAll(frames)

	ref, source, err := capture.ReferenceFrame(filepath.Join(t.TempDir(), "octave-f00.png"), capture.NewMockSource(frames))
	if err != nil {
		t.Fatalf("ReferenceFrame() error = %v", err)
	}
	defer ref.Close()

	s, err := Calibrate("octave", ref, bounder.New(bounder.DefaultConfig()), octaveKeys())
	if err != nil {
		t.Fatalf("Calibrate() error = %v", err)
	}

	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.Publishers = []Publisher{rec}
	a := New(s, source, cfg)
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if a.Frames() != len(frames) || len(rec.results) != len(frames) {
		t.Fatalf("processed %d frames, published %d; want %d including the reference", a.Frames(), len(rec.results), len(frames))
	}
	for i, r := range rec.results {
		if hand := i == 1; (r.Covered > 0) != hand {
			t.Errorf("result %d covered = %d, hand present %v", r.Index, r.Covered, hand)
		}
	}
}

func TestRun_Cancelled(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	s := calibrateOctave(t)
	frames := octaveFrames(3, -1)
	defer closeAll(frames)

	ctx, cancel := context.WithCancel(context.Background())
	cfg := DefaultConfig()
	cfg.OnFrame = func(r FrameResult) {
		if r.Index == 0 {
			cancel()
		}
	}

	source := capture.NewMockSource(frames)
	a := New(s, source, cfg)
	if err := a.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if a.Frames() != 1 {
		t.Errorf("Frames() = %d, want 1", a.Frames())
	}
	if source.IsOpen() {
		t.Error("source still open after Run returned")
	}
}

func TestRun_FrameSizeMismatch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	s := calibrateOctave(t)
	small := []gocv.Mat{fixtures.Blank(320, 240, fixtures.BackgroundLevel)}
	defer closeAll(small)

	a := New(s, capture.NewMockSource(small), DefaultConfig())
	if err := a.Run(context.Background()); !errors.Is(err, bounder.ErrBoundsOutOfRange) {
		t.Errorf("Run() error = %v, want ErrBoundsOutOfRange", err)
	}
}

func TestApp_SetRemoveHands(t *testing.T) {
	a := New(&Session{}, capture.NewMockSource(nil), DefaultConfig())
	if !a.RemoveHands() {
		t.Error("RemoveHands() = false, want default true")
	}
	a.SetRemoveHands(false)
	if a.RemoveHands() {
		t.Error("RemoveHands() = true after SetRemoveHands(false)")
	}
}
