package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ayusman/pianovision/internal/capture"
	"github.com/ayusman/pianovision/internal/geometry"
	"github.com/ayusman/pianovision/internal/hands"
	"github.com/ayusman/pianovision/internal/render"
	"github.com/ayusman/pianovision/internal/store"
	"gocv.io/x/gocv"
)

// KeyCoverage is the share of one key's rectangle covered by skin.
type KeyCoverage struct {
	Color    geometry.KeyColor `json:"color"`
	Index    int               `json:"index"`
	Fraction float64           `json:"fraction"`
}

// FrameResult summarizes one processed frame.
type FrameResult struct {
	Index int `json:"index"`
	// Keys lists every key with non-zero skin coverage, black keys first.
	Keys []KeyCoverage `json:"keys"`
	// Covered counts keys at or above the coverage threshold.
	Covered       int     `json:"covered"`
	HandFraction  float64 `json:"hand_fraction"`
	Motion        bool    `json:"motion"`
	MotionPercent float64 `json:"motion_percent"`
}

// Run processes the source until it is exhausted or ctx is cancelled.
// Frames are read, processed and published one at a time in acquisition
// order. Run returns nil when the source runs out of frames, ctx.Err() on
// cancellation, and the wrapped error of the first frame that fails.
func (a *App) Run(ctx context.Context) (err error) {
	if !a.source.IsOpen() {
		if err := a.source.Open(); err != nil {
			return fmt.Errorf("open source: %w", err)
		}
	}
	defer a.source.Close()
	defer a.motion.Close()

	run := a.startRun()
	defer func() { a.finishRun(run, err) }()

	if a.config.Snapshots != nil && a.session.Reference() != nil {
		if path, err := a.config.Snapshots.Save("reference", a.session.Reference()); err != nil {
			log.Printf("Failed to save reference snapshot: %v", err)
		} else {
			log.Printf("Saved reference keyboard to %s", path)
		}
	}

	var last *Surfaces
	defer func() {
		if last != nil {
			a.saveSurfaces(*last)
			last.Close()
		}
	}()

	log.Println("Pipeline started")
	for index := 0; ; index++ {
		select {
		case <-ctx.Done():
			log.Println("Pipeline cancelled")
			return ctx.Err()
		default:
		}

		img, err := a.source.ReadFrame()
		if errors.Is(err, capture.ErrNoMoreFrames) {
			log.Printf("Pipeline finished after %d frames", index)
			return nil
		}
		if err != nil {
			return fmt.Errorf("read frame %d: %w", index, err)
		}

		result, surfaces, err := a.ProcessFrame(*img, index)
		img.Close()
		if err != nil {
			return fmt.Errorf("frame %d: %w", index, err)
		}

		for _, p := range a.config.Publishers {
			p.Publish(result, surfaces)
		}

		a.mu.Lock()
		a.frames++
		a.mu.Unlock()

		if a.config.OnFrame != nil {
			a.config.OnFrame(result)
		}

		if last != nil {
			last.Close()
		}
		last = &surfaces
	}
}

// ProcessFrame runs the per-frame stages on img: rectify, segment skin,
// optionally remove hands, measure key coverage and draw the overlays.
// The caller is responsible for closing the returned surfaces.
func (a *App) ProcessFrame(img gocv.Mat, index int) (FrameResult, Surfaces, error) {
	result := FrameResult{Index: index}

	keyboard, err := a.session.Section(img)
	if err != nil {
		return result, Surfaces{}, err
	}
	defer keyboard.Close()

	mask, err := a.skin.SkinMask(keyboard)
	if err != nil {
		return result, Surfaces{}, err
	}
	defer mask.Close()

	// The skin surface shows exactly the pixels removal blacks out.
	cfg := a.skin.Config()
	grown := hands.Dilate(mask, cfg.DilateSize, cfg.DilateIterations)
	defer grown.Close()

	skin, err := hands.ApplyMask(keyboard, grown)
	if err != nil {
		return result, Surfaces{}, err
	}

	var clean gocv.Mat
	if a.RemoveHands() {
		clean, err = hands.RemoveMasked(keyboard, grown)
		if err != nil {
			skin.Close()
			return result, Surfaces{}, err
		}
	} else {
		clean = keyboard.Clone()
	}

	all := a.session.Keys().All()
	coverage, err := hands.Coverage(mask, all)
	if err != nil {
		skin.Close()
		clean.Close()
		return result, Surfaces{}, err
	}
	for i, k := range all {
		if coverage[i] <= 0 {
			continue
		}
		result.Keys = append(result.Keys, KeyCoverage{Color: k.Color, Index: k.Index, Fraction: coverage[i]})
		if coverage[i] >= a.config.CoverageThreshold {
			result.Covered++
		}
	}
	result.HandFraction = float64(gocv.CountNonZero(mask)) / float64(mask.Rows()*mask.Cols())
	result.Motion, result.MotionPercent = a.motion.Detect(keyboard)

	render.DrawKeys(&clean, all)
	render.DrawCovered(&clean, all, coverage, a.config.CoverageThreshold)

	raw := img.Clone()
	render.DrawBounds(&raw, a.session.Bounds())

	return result, Surfaces{Frame: raw, Skin: skin, Keyboard: clean}, nil
}

func (a *App) startRun() *store.Run {
	if a.config.Store == nil || a.session.ID() == "" {
		return nil
	}

	run := &store.Run{CalibrationID: a.session.ID(), Source: a.session.Video()}
	if err := a.config.Store.Runs().Start(run); err != nil {
		log.Printf("Failed to record run: %v", err)
		return nil
	}
	return run
}

func (a *App) finishRun(run *store.Run, runErr error) {
	if run == nil {
		return
	}
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	if err := a.config.Store.Runs().Finish(run.ID, a.Frames(), runErr); err != nil {
		log.Printf("Failed to finish run %s: %v", run.ID, err)
	}
}

func (a *App) saveSurfaces(s Surfaces) {
	if a.config.Snapshots == nil {
		return
	}

	for name, m := range map[string]gocv.Mat{"frame": s.Frame, "skin": s.Skin, "keyboard": s.Keyboard} {
		path, err := a.config.Snapshots.SaveMat(name, m)
		if err != nil {
			log.Printf("Failed to save %s snapshot: %v", name, err)
			continue
		}
		log.Printf("Saved %s snapshot to %s", name, path)
	}
}
