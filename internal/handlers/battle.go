package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/liveloop/backend/internal/battle"
	"github.com/liveloop/backend/internal/logging"
)

// BattleHandler implements the cohost/battle coordination endpoints. Every
// endpoint requires an authenticated profile; participant checks happen in
// the battle service.
type BattleHandler struct {
	Battles  BattleService
	Profiles ProfileFinder
	Verifier TokenVerifier
	Limiter  RateLimiter
}

type startBattleRequest struct {
	SessionID string `json:"session_id"`
	Mode      string `json:"mode"`
}

type inviteRequest struct {
	InviteID string `json:"invite_id"`
}

type scoreGiftRequest struct {
	SessionID   string `json:"session_id"`
	RecipientID string `json:"recipient_id"`
	CoinAmount  int64  `json:"coin_amount"`
	ChatAward   bool   `json:"chat_award"`
}

type endBattleRequest struct {
	SessionID string `json:"session_id"`
	Action    string `json:"action"`
}

type acceptResponse struct {
	Status       string     `json:"status"`
	SessionID    string     `json:"session_id"`
	Type         string     `json:"type,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndsAt       *time.Time `json:"ends_at,omitempty"`
	PendingCount int        `json:"pending_count,omitempty"`
}

type scoreResponse struct {
	Side            string  `json:"side"`
	PointsAwarded   int64   `json:"points_awarded"`
	BoostApplied    bool    `json:"boost_applied"`
	BoostMultiplier float64 `json:"boost_multiplier"`
	ScoreA          int64   `json:"score_a"`
	ScoreB          int64   `json:"score_b"`
}

type endResponse struct {
	Status         string     `json:"status"`
	CooldownEndsAt *time.Time `json:"cooldown_ends_at,omitempty"`
}

// Start handles POST /api/v1/battle/start.
func (h BattleHandler) Start(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	callerID, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if !allowRequest(h.Limiter, r, "battle", callerID) {
		respondError(ctx, w, http.StatusTooManyRequests, "too many requests")
		return
	}

	var req startBattleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid battle start payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		respondError(ctx, w, http.StatusBadRequest, "session_id is required")
		return
	}

	inviteID, err := h.Battles.StartBattle(ctx, callerID, req.SessionID, req.Mode)
	if err != nil {
		h.respondBattleError(ctx, w, "battle start failed", req.SessionID, err)
		return
	}

	respondJSON(ctx, w, http.StatusCreated, map[string]string{"invite_id": inviteID})
}

// Accept handles POST /api/v1/battle/accept.
func (h BattleHandler) Accept(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	callerID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req inviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid battle accept payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.InviteID == "" {
		respondError(ctx, w, http.StatusBadRequest, "invite_id is required")
		return
	}

	result, err := h.Battles.AcceptInvite(ctx, callerID, req.InviteID)
	if err != nil {
		h.respondBattleError(ctx, w, "battle accept failed", req.InviteID, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, acceptResponse{
		Status:       result.Status,
		SessionID:    result.SessionID,
		Type:         result.Type,
		StartedAt:    result.StartedAt,
		EndsAt:       result.EndsAt,
		PendingCount: result.PendingCount,
	})
}

// Decline handles POST /api/v1/battle/decline.
func (h BattleHandler) Decline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	callerID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req inviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid battle decline payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.InviteID == "" {
		respondError(ctx, w, http.StatusBadRequest, "invite_id is required")
		return
	}

	if err := h.Battles.DeclineInvite(ctx, callerID, req.InviteID); err != nil {
		h.respondBattleError(ctx, w, "battle decline failed", req.InviteID, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]bool{"success": true})
}

// Score handles POST /api/v1/battle/score.
func (h BattleHandler) Score(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	callerID, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if !allowRequest(h.Limiter, r, "score", callerID) {
		respondError(ctx, w, http.StatusTooManyRequests, "too many requests")
		return
	}

	var req scoreGiftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid battle score payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.RecipientID == "" {
		respondError(ctx, w, http.StatusBadRequest, "session_id and recipient_id are required")
		return
	}

	in := battle.ScoreInput{
		SessionID:   req.SessionID,
		RecipientID: req.RecipientID,
		SenderID:    callerID,
		CoinAmount:  req.CoinAmount,
		ChatAward:   req.ChatAward,
	}

	// Sender identity is denormalized onto the contribution row so the
	// supporter feed renders without a join. A lookup failure only costs
	// the display name.
	if h.Profiles != nil {
		if profile, err := h.Profiles.FindByID(ctx, callerID); err == nil {
			in.SenderUsername = profile.Username
			in.SenderDisplayName = profile.DisplayName
			in.SenderAvatarURL = profile.AvatarURL
		} else {
			logger.Warn("sender profile lookup failed", "profileId", callerID, "error", err)
		}
	}

	result, err := h.Battles.ScoreGift(ctx, in)
	if err != nil {
		h.respondBattleError(ctx, w, "battle score failed", req.SessionID, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, scoreResponse{
		Side:            result.Side,
		PointsAwarded:   result.PointsAwarded,
		BoostApplied:    result.BoostApplied,
		BoostMultiplier: result.BoostMultiplier,
		ScoreA:          result.Scores.ScoreA,
		ScoreB:          result.Scores.ScoreB,
	})
}

// End handles POST /api/v1/battle/end.
func (h BattleHandler) End(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	callerID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req endBattleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid battle end payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		respondError(ctx, w, http.StatusBadRequest, "session_id is required")
		return
	}
	if req.Action == "" {
		req.Action = battle.EndActionEnd
	}
	if req.Action != battle.EndActionEnd && req.Action != battle.EndActionCooldown {
		respondError(ctx, w, http.StatusBadRequest, "action must be end or cooldown")
		return
	}

	result, err := h.Battles.EndBattle(ctx, callerID, req.SessionID, req.Action)
	if err != nil {
		h.respondBattleError(ctx, w, "battle end failed", req.SessionID, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, endResponse{
		Status:         result.Status,
		CooldownEndsAt: result.CooldownEndsAt,
	})
}

// Supporters handles GET /api/v1/battle/supporters.
func (h BattleHandler) Supporters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()

	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		respondError(ctx, w, http.StatusBadRequest, "session_id is required")
		return
	}

	var limit int64
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.ParseInt(raw, 10, 64)
	}

	supporters, err := h.Battles.TopSupporters(ctx, sessionID, limit)
	if err != nil {
		h.respondBattleError(ctx, w, "supporter list failed", sessionID, err)
		return
	}

	if supporters == nil {
		supporters = []battle.Supporter{}
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"supporters": supporters})
}

func (h BattleHandler) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	ctx := r.Context()

	if h.Battles == nil || h.Verifier == nil {
		logging.FromContext(ctx).Error("battle dependencies unavailable", "hasBattles", h.Battles != nil, "hasVerifier", h.Verifier != nil)
		respondError(ctx, w, http.StatusInternalServerError, "battle services unavailable")
		return "", false
	}

	callerID, err := h.Verifier.VerifyRequest(r)
	if err != nil {
		logging.FromContext(ctx).Warn("battle auth failed", "error", err)
		respondError(ctx, w, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return callerID, true
}

func (h BattleHandler) respondBattleError(ctx context.Context, w http.ResponseWriter, msg, subject string, err error) {
	logger := logging.FromContext(ctx)

	switch {
	case errors.Is(err, battle.ErrSessionNotFound), errors.Is(err, battle.ErrInviteNotFound):
		logger.Warn(msg, "subject", subject, "error", err)
		respondError(ctx, w, http.StatusNotFound, err.Error())
	case errors.Is(err, battle.ErrNotParticipant):
		logger.Warn(msg, "subject", subject, "error", err)
		respondError(ctx, w, http.StatusForbidden, err.Error())
	case errors.Is(err, battle.ErrInvalidState), errors.Is(err, battle.ErrInviteResponded):
		logger.Warn(msg, "subject", subject, "error", err)
		respondError(ctx, w, http.StatusConflict, err.Error())
	// A recipient outside the battle is malformed input, not a permission
	// problem: the sender names the recipient.
	case errors.Is(err, battle.ErrInvalidCoinAmount), errors.Is(err, battle.ErrNotRecipient):
		logger.Warn(msg, "subject", subject, "error", err)
		respondError(ctx, w, http.StatusBadRequest, err.Error())
	default:
		logger.Error(msg, "subject", subject, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "internal error")
	}
}
