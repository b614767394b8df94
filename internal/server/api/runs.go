// Package api provides HTTP API handlers for the posekit build catalog and
// pose embedding.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ayusman/posekit/internal/store"
)

// RunHandler handles HTTP requests for build runs.
type RunHandler struct {
	store *store.Store
}

// NewRunHandler creates a new RunHandler with the given store.
func NewRunHandler(s *store.Store) *RunHandler {
	return &RunHandler{store: s}
}

// ServeHTTP routes /api/runs, /api/runs/{id}, /api/runs/{id}/records and
// /api/runs/{id}/messages.
func (h *RunHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/runs")
	path = strings.Trim(path, "/")

	if path == "" {
		h.list(w, r)
		return
	}

	id, sub, _ := strings.Cut(path, "/")
	switch sub {
	case "":
		h.get(w, r, id)
	case "records":
		h.records(w, r, id)
	case "messages":
		h.messages(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

type runResponse struct {
	ID                 string        `json:"id"`
	ImagesDir          string        `json:"images_dir"`
	OutputCSV          string        `json:"output_csv"`
	DetectionThreshold float64       `json:"detection_threshold"`
	PerClassLimit      int           `json:"per_class_limit"`
	Status             string        `json:"status"`
	Rows               int           `json:"rows"`
	Error              string        `json:"error,omitempty"`
	StartedAt          string        `json:"started_at"`
	FinishedAt         string        `json:"finished_at,omitempty"`
	Classes            []store.Class `json:"classes,omitempty"`
}

type listRunsResponse struct {
	Runs []runResponse `json:"runs"`
}

type listRecordsResponse struct {
	Records []store.Record `json:"records"`
}

type listMessagesResponse struct {
	Messages []store.Message `json:"messages"`
}

// toResponse converts a store.Run to a runResponse.
func toResponse(run *store.Run) runResponse {
	resp := runResponse{
		ID:                 run.ID,
		ImagesDir:          run.ImagesDir,
		OutputCSV:          run.OutputCSV,
		DetectionThreshold: run.DetectionThreshold,
		PerClassLimit:      run.PerClassLimit,
		Status:             string(run.Status),
		Rows:               run.Rows,
		Error:              run.Error,
		StartedAt:          run.StartedAt.Format(time.RFC3339),
		Classes:            run.Classes,
	}
	if run.FinishedAt != nil {
		resp.FinishedAt = run.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

// list handles GET /api/runs.
func (h *RunHandler) list(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.Runs().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	response := listRunsResponse{Runs: make([]runResponse, 0, len(runs))}
	for _, run := range runs {
		response.Runs = append(response.Runs, toResponse(run))
	}
	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/runs/{id}.
func (h *RunHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	run, ok := h.lookup(w, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toResponse(run))
}

// records handles GET /api/runs/{id}/records.
func (h *RunHandler) records(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := h.lookup(w, id); !ok {
		return
	}

	records, err := h.store.Records().ListByRun(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list records")
		return
	}
	if records == nil {
		records = []store.Record{}
	}
	writeJSON(w, http.StatusOK, listRecordsResponse{Records: records})
}

// messages handles GET /api/runs/{id}/messages.
func (h *RunHandler) messages(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := h.lookup(w, id); !ok {
		return
	}

	messages, err := h.store.Runs().Messages(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list messages")
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	writeJSON(w, http.StatusOK, listMessagesResponse{Messages: messages})
}

func (h *RunHandler) lookup(w http.ResponseWriter, id string) (*store.Run, bool) {
	run, err := h.store.Runs().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Run not found")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "Failed to get run")
		return nil, false
	}
	return run, true
}

type errorResponse struct {
	Error string `json:"error"`
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
