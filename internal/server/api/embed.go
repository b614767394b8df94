package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ayusman/posekit/internal/pose"
)

// maxEmbedBody bounds an embed request body.
const maxEmbedBody = 1 << 16

// EmbedRequest carries one pose as 33 (x, y) pairs or as a flat 99-value
// table row. Exactly one must be set.
type EmbedRequest struct {
	Landmarks [][]float64 `json:"landmarks,omitempty"`
	Values    []float64   `json:"values,omitempty"`
}

// EmbedResponse is the normalized embedding of a pose, or an error.
type EmbedResponse struct {
	Embedding []float64 `json:"embedding,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// ErrBadEmbedRequest is returned when a request sets neither or both inputs.
var ErrBadEmbedRequest = errors.New("exactly one of landmarks or values is required")

// Embed computes the embedding for a request. All errors are caller errors.
func Embed(req EmbedRequest) ([]float64, error) {
	switch {
	case req.Landmarks != nil && req.Values == nil:
		return pose.EmbeddingFromPoints(req.Landmarks)
	case req.Values != nil && req.Landmarks == nil:
		return pose.EmbeddingFromRow(req.Values)
	default:
		return nil, ErrBadEmbedRequest
	}
}

// EmbedHandler handles POST /api/embed.
type EmbedHandler struct{}

// NewEmbedHandler creates a new EmbedHandler.
func NewEmbedHandler() *EmbedHandler {
	return &EmbedHandler{}
}

// ServeHTTP implements the http.Handler interface.
func (h *EmbedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req EmbedRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEmbedBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	embedding, err := Embed(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Cannot embed pose: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, EmbedResponse{Embedding: embedding})
}
