package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/liveloop/backend/internal/battle"
	"github.com/liveloop/backend/internal/models"
	"github.com/liveloop/backend/internal/presence"
	"github.com/liveloop/backend/internal/ws"
)

// PresenceService captures the heartbeat and viewer list operations required
// by the presence handlers.
type PresenceService interface {
	Heartbeat(ctx context.Context, in presence.HeartbeatInput) error
	ListViewers(ctx context.Context, streamID int64) ([]presence.ViewerEntry, error)
}

// BattleService captures the cohost/battle operations required by the battle
// handlers.
type BattleService interface {
	StartBattle(ctx context.Context, callerID, sessionID, mode string) (string, error)
	AcceptInvite(ctx context.Context, callerID, inviteID string) (battle.AcceptResult, error)
	DeclineInvite(ctx context.Context, callerID, inviteID string) error
	ScoreGift(ctx context.Context, in battle.ScoreInput) (battle.ScoreResult, error)
	EndBattle(ctx context.Context, callerID, sessionID, action string) (battle.EndResult, error)
	TopSupporters(ctx context.Context, sessionID string, limit int64) ([]battle.Supporter, error)
}

// CleanupStore tears down a streamer's live footprint when their stream ends.
type CleanupStore interface {
	EndOwnedStreams(ctx context.Context, ownerID string, endedAt time.Time) (int64, error)
	ClearGridSlots(ctx context.Context, streamerID string) (int64, error)
	RemoveRoomPresence(ctx context.Context, profileID string) (int64, error)
}

// ProfileFinder resolves a single profile identity.
type ProfileFinder interface {
	FindByID(ctx context.Context, id string) (models.Profile, error)
}

// TokenVerifier authenticates requests carrying a platform session token.
type TokenVerifier interface {
	VerifyRequest(r *http.Request) (string, error)
	VerifyToken(token string) (string, error)
}

// ServiceGuard authorizes privileged server-to-server requests.
type ServiceGuard interface {
	Allow(key string) bool
}

// HubProvider hands out per-session broadcast hubs for scoreboard watchers.
type HubProvider interface {
	HubFor(sessionID string) *ws.Hub
}
