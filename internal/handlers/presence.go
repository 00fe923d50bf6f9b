package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/liveloop/backend/internal/logging"
	"github.com/liveloop/backend/internal/presence"
)

// serviceKeyHeader carries the shared key for server-to-server presence
// writes. Browser clients never hold this key.
const serviceKeyHeader = "X-Service-Key"

// PresenceHandler implements the privileged viewer presence endpoints.
type PresenceHandler struct {
	Presence PresenceService
	Guard    ServiceGuard
}

type heartbeatRequest struct {
	StreamID     int64  `json:"live_stream_id"`
	ViewerID     string `json:"viewer_id"`
	IsActive     *bool  `json:"is_active"`
	IsUnmuted    *bool  `json:"is_unmuted"`
	IsVisible    *bool  `json:"is_visible"`
	IsSubscribed *bool  `json:"is_subscribed"`
}

// Heartbeat handles POST /api/v1/presence/heartbeat.
func (h PresenceHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Presence == nil {
		logger.Error("presence service unavailable")
		respondError(ctx, w, http.StatusInternalServerError, "presence service unavailable")
		return
	}

	if h.Guard == nil || !h.Guard.Allow(r.Header.Get(serviceKeyHeader)) {
		logger.Warn("heartbeat rejected: bad service key")
		respondError(ctx, w, http.StatusUnauthorized, "invalid service key")
		return
	}

	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid heartbeat payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.Presence.Heartbeat(ctx, presence.HeartbeatInput{
		StreamID:     req.StreamID,
		ViewerID:     req.ViewerID,
		IsActive:     req.IsActive,
		IsUnmuted:    req.IsUnmuted,
		IsVisible:    req.IsVisible,
		IsSubscribed: req.IsSubscribed,
	})
	if err != nil {
		if errors.Is(err, presence.ErrInvalidStreamID) || errors.Is(err, presence.ErrMissingViewerID) {
			logger.Warn("heartbeat validation failed", "streamId", req.StreamID, "error", err)
			respondError(ctx, w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Error("heartbeat persist failed", "streamId", req.StreamID, "viewerId", req.ViewerID, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to record heartbeat")
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]bool{"success": true})
}

// Viewers handles GET /api/v1/presence/viewers.
func (h PresenceHandler) Viewers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Presence == nil {
		logger.Error("presence service unavailable")
		respondError(ctx, w, http.StatusInternalServerError, "presence service unavailable")
		return
	}

	if h.Guard == nil || !h.Guard.Allow(r.Header.Get(serviceKeyHeader)) {
		logger.Warn("viewer list rejected: bad service key")
		respondError(ctx, w, http.StatusUnauthorized, "invalid service key")
		return
	}

	streamID, err := strconv.ParseInt(r.URL.Query().Get("live_stream_id"), 10, 64)
	if err != nil || streamID <= 0 {
		logger.Warn("viewer list invalid stream id", "raw", r.URL.Query().Get("live_stream_id"))
		respondError(ctx, w, http.StatusBadRequest, "live_stream_id must be a positive integer")
		return
	}

	viewers, err := h.Presence.ListViewers(ctx, streamID)
	if err != nil {
		if errors.Is(err, presence.ErrInvalidStreamID) {
			respondError(ctx, w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Error("viewer list failed", "streamId", streamID, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to load viewers")
		return
	}

	if viewers == nil {
		viewers = []presence.ViewerEntry{}
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"viewers": viewers})
}
