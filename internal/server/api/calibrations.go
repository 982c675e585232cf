// Package api provides the JSON REST handlers served under /api.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/pianovision/internal/geometry"
	"github.com/ayusman/pianovision/internal/store"
)

// CalibrationHandler handles HTTP requests for calibration resources.
type CalibrationHandler struct {
	store *store.Store
}

// NewCalibrationHandler creates a new CalibrationHandler with the given store.
func NewCalibrationHandler(s *store.Store) *CalibrationHandler {
	return &CalibrationHandler{store: s}
}

// ServeHTTP implements the http.Handler interface and routes requests to appropriate methods.
// Expected paths: /api/calibrations, /api/calibrations/{id} and /api/calibrations/{id}/runs
func (h *CalibrationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/calibrations")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	}

	parts := strings.Split(path, "/")
	id := parts[0]

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			h.get(w, r, id)
		case http.MethodDelete:
			h.delete(w, r, id)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case len(parts) == 2 && parts[1] == "runs":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.runs(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// Response types

type calibrationResponse struct {
	ID             string             `json:"id"`
	Video          string             `json:"video"`
	FrameWidth     int                `json:"frame_width"`
	FrameHeight    int                `json:"frame_height"`
	Bounds         geometry.Quad      `json:"bounds"`
	KeyboardWidth  int                `json:"keyboard_width"`
	KeyboardHeight int                `json:"keyboard_height"`
	FirstNote      string             `json:"first_note,omitempty"`
	BlackKeys      []geometry.KeyRect `json:"black_keys,omitempty"`
	WhiteKeys      []geometry.KeyRect `json:"white_keys,omitempty"`
	CreatedAt      string             `json:"created_at"`
}

type listCalibrationsResponse struct {
	Calibrations []calibrationResponse `json:"calibrations"`
}

type runResponse struct {
	ID         string `json:"id"`
	Source     string `json:"source"`
	Frames     int    `json:"frames"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

type listRunsResponse struct {
	Runs []runResponse `json:"runs"`
}

type errorResponse struct {
	Error string `json:"error"`
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

// toCalibrationResponse converts a store.Calibration to a calibrationResponse.
func toCalibrationResponse(c *store.Calibration) calibrationResponse {
	return calibrationResponse{
		ID:             c.ID,
		Video:          c.Video,
		FrameWidth:     c.FrameWidth,
		FrameHeight:    c.FrameHeight,
		Bounds:         c.Bounds,
		KeyboardWidth:  c.KeyboardWidth,
		KeyboardHeight: c.KeyboardHeight,
		FirstNote:      c.FirstNote,
		BlackKeys:      c.Black,
		WhiteKeys:      c.White,
		CreatedAt:      c.CreatedAt.Format(timeFormat),
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// list handles GET /api/calibrations and returns all calibrations without keys.
func (h *CalibrationHandler) list(w http.ResponseWriter, r *http.Request) {
	calibrations, err := h.store.Calibrations().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list calibrations")
		return
	}

	response := listCalibrationsResponse{
		Calibrations: make([]calibrationResponse, 0, len(calibrations)),
	}

	for _, c := range calibrations {
		response.Calibrations = append(response.Calibrations, toCalibrationResponse(c))
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/calibrations/{id} and returns a calibration with its keys.
func (h *CalibrationHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	c, err := h.store.Calibrations().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Calibration not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get calibration")
		return
	}

	writeJSON(w, http.StatusOK, toCalibrationResponse(c))
}

// delete handles DELETE /api/calibrations/{id}.
func (h *CalibrationHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.Calibrations().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Calibration not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete calibration")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// runs handles GET /api/calibrations/{id}/runs
func (h *CalibrationHandler) runs(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := h.store.Calibrations().GetByID(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Calibration not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to verify calibration")
		return
	}

	runs, err := h.store.Runs().ListByCalibration(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	response := listRunsResponse{
		Runs: make([]runResponse, 0, len(runs)),
	}

	for _, run := range runs {
		resp := runResponse{
			ID:        run.ID,
			Source:    run.Source,
			Frames:    run.Frames,
			Error:     run.Error,
			StartedAt: run.StartedAt.Format(timeFormat),
		}
		if run.FinishedAt != nil {
			resp.FinishedAt = run.FinishedAt.Format(timeFormat)
		}
		response.Runs = append(response.Runs, resp)
	}

	writeJSON(w, http.StatusOK, response)
}
