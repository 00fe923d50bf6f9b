package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/liveloop/backend/internal/logging"
	"github.com/liveloop/backend/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is not checked: the socket is read-only and the token is the
	// actual authorization.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ScoreboardHandler upgrades watchers onto the battle scoreboard feed.
type ScoreboardHandler struct {
	Hubs     HubProvider
	Verifier TokenVerifier
}

// Handle handles GET /ws/battle. Browsers cannot set headers on a WebSocket
// dial, so the token may also arrive as a query parameter.
func (h ScoreboardHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Hubs == nil || h.Verifier == nil {
		logger.Error("scoreboard dependencies unavailable", "hasHubs", h.Hubs != nil, "hasVerifier", h.Verifier != nil)
		respondError(ctx, w, http.StatusInternalServerError, "scoreboard unavailable")
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		respondError(ctx, w, http.StatusBadRequest, "session_id is required")
		return
	}

	profileID, err := h.Verifier.VerifyRequest(r)
	if err != nil {
		if token := r.URL.Query().Get("token"); token != "" {
			profileID, err = h.Verifier.VerifyToken(token)
		}
		if err != nil {
			logger.Warn("scoreboard auth failed", "sessionId", sessionID, "error", err)
			respondError(ctx, w, http.StatusUnauthorized, "authentication required")
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logger.Warn("scoreboard upgrade failed", "sessionId", sessionID, "error", err)
		return
	}

	hub := h.Hubs.HubFor(sessionID)
	ws.NewClient(hub, conn, profileID)
}
