package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/liveloop/backend/internal/logging"
)

// cleanupActionEndStream is the only cleanup action; the field exists so the
// endpoint can grow more teardown variants without a contract change.
const cleanupActionEndStream = "end_stream"

type cleanupRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// CleanupHandler tears down a streamer's live footprint when their stream
// ends. The endpoint is beacon-friendly: it authenticates via the session
// cookie, takes no body, and always reports success once the caller is
// known, because a browser firing a beacon on unload never retries.
type CleanupHandler struct {
	Streams  CleanupStore
	Verifier TokenVerifier
	NowFunc  func() time.Time
}

// Handle handles POST /api/v1/stream-cleanup.
func (h CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Streams == nil || h.Verifier == nil {
		logger.Error("cleanup dependencies unavailable", "hasStreams", h.Streams != nil, "hasVerifier", h.Verifier != nil)
		respondError(ctx, w, http.StatusInternalServerError, "cleanup services unavailable")
		return
	}

	profileID, err := h.Verifier.VerifyRequest(r)
	if err != nil {
		logger.Warn("cleanup auth failed", "error", err)
		respondError(ctx, w, http.StatusUnauthorized, "authentication required")
		return
	}

	// Beacons may fire with no body at all; an empty body means end_stream.
	var req cleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		logger.Warn("invalid cleanup payload", "profileId", profileID, "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Action != "" && req.Action != cleanupActionEndStream {
		respondError(ctx, w, http.StatusBadRequest, "unsupported action")
		return
	}
	if req.Reason != "" {
		logger.Info("cleanup requested", "profileId", profileID, "reason", req.Reason)
	}

	now := h.now()

	// Three independent best-effort steps. A failure in one never blocks
	// the others; partial teardown is repaired by the next cleanup call or
	// by the presence reaper.
	if ended, err := h.Streams.EndOwnedStreams(ctx, profileID, now); err != nil {
		logger.Error("cleanup: end streams failed", "profileId", profileID, "error", err)
	} else if ended > 0 {
		logger.Info("cleanup: streams ended", "profileId", profileID, "count", ended)
	}

	if cleared, err := h.Streams.ClearGridSlots(ctx, profileID); err != nil {
		logger.Error("cleanup: clear grid slots failed", "profileId", profileID, "error", err)
	} else if cleared > 0 {
		logger.Info("cleanup: grid slots cleared", "profileId", profileID, "count", cleared)
	}

	if removed, err := h.Streams.RemoveRoomPresence(ctx, profileID); err != nil {
		logger.Error("cleanup: remove room presence failed", "profileId", profileID, "error", err)
	} else if removed > 0 {
		logger.Info("cleanup: room presence removed", "profileId", profileID, "count", removed)
	}

	respondJSON(ctx, w, http.StatusOK, map[string]bool{"success": true})
}

func (h CleanupHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}
