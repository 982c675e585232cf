package server

import (
	"bufio"
	"encoding/json"
	"image"
	_ "image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ayusman/pianovision/internal/app"
	"github.com/ayusman/pianovision/internal/bounder"
	"github.com/ayusman/pianovision/internal/fixtures"
	"github.com/ayusman/pianovision/internal/keys"
	"github.com/gorilla/websocket"
)

func calibratedSession(t *testing.T) *app.Session {
	t.Helper()

	ref := fixtures.Octave().Draw()
	defer ref.Close()

	cfg := keys.DefaultConfig()
	cfg.MinWhiteKeys = 7
	s, err := app.Calibrate("octave", ref, bounder.New(bounder.DefaultConfig()), cfg)
	if err != nil {
		t.Fatalf("Calibrate() error = %v", err)
	}
	return s
}

func TestAPI_Session(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	srv := New(Config{Session: calibratedSession(t)})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/api/session")
	if err != nil {
		t.Fatalf("GET /api/session error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/session status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var summary app.Summary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("failed to decode session: %v", err)
	}

	if summary.Video != "octave" || summary.FrameWidth != 640 || summary.FrameHeight != 480 {
		t.Errorf("unexpected session %+v", summary)
	}
	if len(summary.WhiteKeys) != 7 || len(summary.BlackKeys) != 5 {
		t.Errorf("session has %d white and %d black keys, want 7 and 5", len(summary.WhiteKeys), len(summary.BlackKeys))
	}
}

func TestAPI_Reference(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	session := calibratedSession(t)
	srv := New(Config{Session: session})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	full := session.KeyboardSize()

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantWidth int
	}{
		{name: "full size", query: "", wantCode: http.StatusOK, wantWidth: full.X},
		{name: "scaled", query: "?width=105", wantCode: http.StatusOK, wantWidth: 105},
		{name: "upscale ignored", query: "?width=5000", wantCode: http.StatusOK, wantWidth: full.X},
		{name: "invalid width", query: "?width=abc", wantCode: http.StatusBadRequest},
		{name: "zero width", query: "?width=0", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := ts.Client().Get(ts.URL + "/api/reference.png" + tt.query)
			if err != nil {
				t.Fatalf("GET error = %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantCode {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}

			img, format, err := image.Decode(resp.Body)
			if err != nil {
				t.Fatalf("failed to decode image: %v", err)
			}
			if format != "png" {
				t.Errorf("format = %s, want png", format)
			}
			if img.Bounds().Dx() != tt.wantWidth {
				t.Errorf("width = %d, want %d", img.Bounds().Dx(), tt.wantWidth)
			}
		})
	}
}

func TestAPI_Stream(t *testing.T) {
	hub := NewHub(80)
	s := testSurfaces()
	defer s.Close()
	hub.Publish(app.FrameResult{}, s)

	srv := New(Config{Hub: hub})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	t.Run("unknown surface", func(t *testing.T) {
		resp, err := ts.Client().Get(ts.URL + "/api/stream?surface=depth")
		if err != nil {
			t.Fatalf("GET error = %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
		}
	})

	t.Run("streams JPEG parts", func(t *testing.T) {
		resp, err := ts.Client().Get(ts.URL + "/api/stream?surface=frame")
		if err != nil {
			t.Fatalf("GET error = %v", err)
		}
		defer resp.Body.Close()

		if ct := resp.Header.Get("Content-Type"); ct != "multipart/x-mixed-replace; boundary=frame" {
			t.Fatalf("Content-Type = %q", ct)
		}

		r := bufio.NewReader(resp.Body)
		boundary, _ := r.ReadString('\n')
		if boundary != "--frame\r\n" {
			t.Fatalf("boundary line = %q", boundary)
		}
		partType, _ := r.ReadString('\n')
		if partType != "Content-Type: image/jpeg\r\n" {
			t.Fatalf("part Content-Type line = %q", partType)
		}
		lengthLine, _ := r.ReadString('\n')
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(lengthLine, "Content-Length:")))
		if err != nil {
			t.Fatalf("bad Content-Length line %q", lengthLine)
		}
		r.ReadString('\n')

		body := make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			t.Fatalf("failed to read part: %v", err)
		}
		if body[0] != 0xFF || body[1] != 0xD8 {
			t.Error("part is not a JPEG")
		}
	})
}

func TestAPI_Coverage(t *testing.T) {
	hub := NewHub(80)
	srv := New(Config{Hub: hub})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/coverage"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket client never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s := testSurfaces()
	defer s.Close()
	hub.Publish(app.FrameResult{Index: 7, Covered: 2, Keys: []app.KeyCoverage{{Color: "white", Index: 2, Fraction: 0.9}}}, s)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}

	var result app.FrameResult
	if err := json.Unmarshal(msg, &result); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	if result.Index != 7 || result.Covered != 2 || len(result.Keys) != 1 {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestAPI_HealthFrames(t *testing.T) {
	hub := NewHub(80)
	s := testSurfaces()
	defer s.Close()
	hub.Publish(app.FrameResult{}, s)
	hub.Publish(app.FrameResult{}, s)

	srv := New(Config{Hub: hub})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	var response map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["frames"] != float64(2) {
		t.Errorf("frames = %v, want 2", response["frames"])
	}
}

func TestAPI_CalibrationsRequireStore(t *testing.T) {
	srv := New(Config{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/calibrations", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
