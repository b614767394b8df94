package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/ayusman/posekit/internal/server/api"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// maxStreamMessage bounds a single embed request on the stream.
const maxStreamMessage = 1 << 16

// EmbedStreamHandler answers embed requests over a WebSocket. Every text
// message is one api.EmbedRequest and gets exactly one api.EmbedResponse.
type EmbedStreamHandler struct{}

// NewEmbedStreamHandler creates a new EmbedStreamHandler.
func NewEmbedStreamHandler() *EmbedStreamHandler {
	return &EmbedStreamHandler{}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *EmbedStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade error", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxStreamMessage)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("embed stream read error", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		if err := conn.WriteJSON(handleEmbedMessage(data)); err != nil {
			slog.Warn("embed stream write error", "error", err)
			return
		}
	}
}

func handleEmbedMessage(data []byte) api.EmbedResponse {
	var req api.EmbedRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return api.EmbedResponse{Error: "invalid JSON: " + err.Error()}
	}

	embedding, err := api.Embed(req)
	if err != nil {
		return api.EmbedResponse{Error: err.Error()}
	}
	return api.EmbedResponse{Embedding: embedding}
}
