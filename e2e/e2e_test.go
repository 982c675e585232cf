package e2e

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ayusman/pianovision/internal/app"
	"github.com/ayusman/pianovision/internal/bounder"
	"github.com/ayusman/pianovision/internal/capture"
	"github.com/ayusman/pianovision/internal/fixtures"
	"github.com/ayusman/pianovision/internal/keys"
	"github.com/ayusman/pianovision/internal/server"
	"github.com/ayusman/pianovision/internal/store"
	"github.com/gorilla/websocket"
	"gocv.io/x/gocv"
)

const frameCount = 5

func TestE2E_CompleteWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	tmpDir := t.TempDir()

	s, err := store.New(filepath.Join(tmpDir, "data.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	kb := fixtures.Octave()

	// Reference still next to the video, as <name>-f00.png.
	refPath := filepath.Join(tmpDir, "octave-f00.png")
	still := kb.Draw()
	if !gocv.IMWrite(refPath, still) {
		still.Close()
		t.Fatalf("failed to write %s", refPath)
	}
	still.Close()

	frames := make([]gocv.Mat, frameCount)
	for i := range frames {
		frames[i] = kb.Draw()
		if i == 2 {
			fixtures.DrawHand(frames[i], image.Rect(230, 200, 290, 330))
		}
	}
	defer func() {
		for _, f := range frames {
			f.Close()
		}
	}()
	source := capture.NewMockSource(frames)

	var session *app.Session
	t.Run("Calibrate", func(t *testing.T) {
		ref, src, err := capture.ReferenceFrame(refPath, source)
		if err != nil {
			t.Fatalf("ReferenceFrame() error = %v", err)
		}
		defer ref.Close()

		if src != capture.Source(source) || source.Remaining() != frameCount {
			t.Errorf("reference still consumed a video frame (%d left)", source.Remaining())
		}

		cfg := keys.DefaultConfig()
		cfg.MinWhiteKeys = 7
		session, err = app.Calibrate("octave", ref, bounder.New(bounder.DefaultConfig()), cfg)
		if err != nil {
			t.Fatalf("Calibrate() error = %v", err)
		}

		want := kb.Bounds()
		for i, p := range session.Bounds() {
			if p.Distance(want[i]) > 3 {
				t.Errorf("corner %d = %+v, want within 3px of %+v", i, p, want[i])
			}
		}
		if n := len(session.Keys().WhiteKeys()); n != 7 {
			t.Errorf("white keys = %d, want 7", n)
		}
		if n := len(session.Keys().BlackKeys()); n != 5 {
			t.Errorf("black keys = %d, want 5", n)
		}

		c := session.Calibration()
		if err := s.Calibrations().Create(c); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		session = session.WithID(c.ID)
	})
	if session == nil {
		t.FailNow()
	}

	hub := server.NewHub(80)
	application := app.New(session, source, app.Config{
		Hands:             app.DefaultConfig().Hands,
		RemoveHands:       true,
		CoverageThreshold: 0.25,
		Store:             s,
		Publishers:        []app.Publisher{hub},
	})

	srv := server.New(server.Config{Store: s, Hub: hub, Session: session, HandRemoval: application})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := ts.Client()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/coverage", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("coverage client never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Run("Run", func(t *testing.T) {
		if err := application.Run(context.Background()); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if application.Frames() != frameCount {
			t.Errorf("Frames() = %d, want %d", application.Frames(), frameCount)
		}
	})

	t.Run("CoverageStream", func(t *testing.T) {
		for i := 0; i < frameCount; i++ {
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				t.Fatalf("ReadMessage() error = %v", err)
			}

			var result app.FrameResult
			if err := json.Unmarshal(msg, &result); err != nil {
				t.Fatalf("failed to decode result: %v", err)
			}
			if result.Index != i {
				t.Errorf("message %d has index %d", i, result.Index)
			}
			if hand := i == 2; (result.Covered > 0) != hand {
				t.Errorf("frame %d covered = %d, hand present %v", i, result.Covered, hand)
			}
		}
	})

	t.Run("Session", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/api/session")
		if err != nil {
			t.Fatalf("GET /api/session error = %v", err)
		}
		defer resp.Body.Close()

		var summary app.Summary
		if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
			t.Fatalf("failed to decode session: %v", err)
		}
		if summary.ID != session.ID() || summary.FirstNote != "C" {
			t.Errorf("unexpected session %+v", summary)
		}
	})

	t.Run("RunRecorded", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/api/calibrations/" + session.ID() + "/runs")
		if err != nil {
			t.Fatalf("GET runs error = %v", err)
		}
		defer resp.Body.Close()

		var listed struct {
			Runs []struct {
				Frames     int    `json:"frames"`
				FinishedAt string `json:"finished_at"`
			} `json:"runs"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&listed); err != nil {
			t.Fatalf("failed to decode runs: %v", err)
		}
		if len(listed.Runs) != 1 || listed.Runs[0].Frames != frameCount || listed.Runs[0].FinishedAt == "" {
			t.Errorf("runs = %+v, want one finished run of %d frames", listed.Runs, frameCount)
		}
	})

	t.Run("ToggleHandRemoval", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/settings/remove_hands", strings.NewReader(`{"enabled": false}`))
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("PUT settings error = %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		if application.RemoveHands() {
			t.Error("hand removal still enabled")
		}
		if s.Settings().Bool(store.SettingRemoveHands, true) {
			t.Error("hand removal setting not persisted")
		}
	})

	t.Run("ReuseCalibration", func(t *testing.T) {
		c, err := s.Calibrations().LatestForVideo("octave")
		if err != nil {
			t.Fatalf("LatestForVideo() error = %v", err)
		}

		empty := gocv.NewMat()
		defer empty.Close()

		restored, err := app.Restore(c, empty)
		if err != nil {
			t.Fatalf("Restore() error = %v", err)
		}
		if restored.ID() != session.ID() || len(restored.Keys().All()) != 12 {
			t.Errorf("restored session %s with %d keys, want %s with 12", restored.ID(), len(restored.Keys().All()), session.ID())
		}
		if restored.Reference() != nil {
			t.Error("Reference() set without a reference frame")
		}
	})
}
