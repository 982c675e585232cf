package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ayusman/pianovision/internal/store"
)

type fakeToggle struct {
	enabled bool
}

func (f *fakeToggle) RemoveHands() bool           { return f.enabled }
func (f *fakeToggle) SetRemoveHands(enabled bool) { f.enabled = enabled }

func TestSettingsHandler_RemoveHands(t *testing.T) {
	s := newTestStore(t)
	toggle := &fakeToggle{enabled: true}
	handler := NewSettingsHandler(s, toggle)

	t.Run("get returns current state", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/settings/remove_hands", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		var response removeHandsResponse
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if !response.Enabled {
			t.Error("expected enabled true")
		}
	})

	t.Run("put updates pipeline and store", func(t *testing.T) {
		body := bytes.NewBufferString(`{"enabled": false}`)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/settings/remove_hands", body))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		if toggle.enabled {
			t.Error("expected toggle to be disabled")
		}
		if s.Settings().Bool(store.SettingRemoveHands, true) {
			t.Error("expected setting to be persisted as false")
		}
	})

	t.Run("put without enabled is rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/settings/remove_hands", bytes.NewBufferString(`{}`)))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/settings/remove_hands", bytes.NewBufferString(`{`)))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("unknown setting", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/settings/volume", nil))

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})
}

func TestSettingsHandler_NoStore(t *testing.T) {
	toggle := &fakeToggle{}
	handler := NewSettingsHandler(nil, toggle)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/settings/remove_hands", bytes.NewBufferString(`{"enabled": true}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if !toggle.enabled {
		t.Error("expected toggle to be enabled")
	}
}
