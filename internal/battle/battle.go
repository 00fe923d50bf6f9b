package battle

import (
	"context"
	"errors"
	"time"

	"github.com/liveloop/backend/internal/models"
)

var (
	// ErrSessionNotFound indicates the referenced live session does not exist.
	ErrSessionNotFound = errors.New("live session not found")
	// ErrInviteNotFound indicates the referenced invite does not exist.
	ErrInviteNotFound = errors.New("session invite not found")
	// ErrNotParticipant indicates the caller is not a host of the session.
	ErrNotParticipant = errors.New("caller is not a session participant")
	// ErrInvalidState indicates the operation is not valid for the session's
	// current type or status.
	ErrInvalidState = errors.New("operation not valid for current session state")
	// ErrInviteResponded indicates the invite was already accepted, declined
	// or cancelled.
	ErrInviteResponded = errors.New("invite already responded to")
	// ErrNotRecipient indicates a gift recipient who is neither host.
	ErrNotRecipient = errors.New("recipient is not a battle participant")
	// ErrInvalidCoinAmount indicates a non-positive gift amount.
	ErrInvalidCoinAmount = errors.New("coin amount must be positive")
	// ErrScoreNotFound indicates no score row exists for the session yet.
	ErrScoreNotFound = errors.New("battle score not found")
)

// SessionStore persists live sessions and their invites.
type SessionStore interface {
	FindSession(ctx context.Context, id string) (models.LiveSession, error)
	CreateInvite(ctx context.Context, invite models.SessionInvite) error
	FindInvite(ctx context.Context, id string) (models.SessionInvite, error)
	// ClaimInvite transitions a pending invite to the given status. It must
	// fail with ErrInviteResponded when the invite is no longer pending, so
	// concurrent accepts cannot double-count.
	ClaimInvite(ctx context.Context, inviteID, status string) error
	// CancelPendingInvites marks every pending invite for the session
	// cancelled. Called on activation so stale invites cannot re-trigger it.
	CancelPendingInvites(ctx context.Context, sessionID string) error
	SetPendingAccepts(ctx context.Context, sessionID string, count int) error
	// DecrementPendingAccepts atomically decrements the session's
	// outstanding-accept counter and returns the remaining count.
	DecrementPendingAccepts(ctx context.Context, sessionID string) (int, error)
	// ActivateBattle flips the session into an active battle. It must fail
	// with ErrInvalidState unless the session is still a cohost, so a
	// finished battle can never be reactivated.
	ActivateBattle(ctx context.Context, sessionID string, startedAt, endsAt time.Time) error
	SetCooldown(ctx context.Context, sessionID string, cooldownEndsAt time.Time) error
	EndSession(ctx context.Context, sessionID string) error
}

// ScoreStore persists battle scores and supporter contributions. ApplyDelta
// must increment the side's score and append the contribution in a single
// transaction.
type ScoreStore interface {
	FindScore(ctx context.Context, sessionID string) (models.BattleScore, error)
	ApplyDelta(ctx context.Context, sessionID, side string, points int64, contribution models.SupporterContribution) (models.BattleScore, error)
}

// ProfileDirectory resolves profile identities in bulk.
type ProfileDirectory interface {
	FindByIDs(ctx context.Context, ids []string) (map[string]models.Profile, error)
}

// Leaderboard maintains the per-battle top-supporter ranking.
type Leaderboard interface {
	Record(ctx context.Context, sessionID, profileID string, points int64) error
	Top(ctx context.Context, sessionID string, limit int64) ([]SupporterRank, error)
}

// SupporterRank is one leaderboard position.
type SupporterRank struct {
	ProfileID string `json:"profile_id"`
	Points    int64  `json:"points"`
}

// Broadcaster fans score and state updates out to battle watchers.
// CloseSession releases the session's fan-out resources once the battle is
// over; no further updates follow an ended state.
type Broadcaster interface {
	BroadcastScore(sessionID string, update ScoreUpdate)
	BroadcastState(sessionID string, update StateUpdate)
	CloseSession(sessionID string)
}

// Archiver schedules persistence of a finished battle's summary.
type Archiver interface {
	Enqueue(ctx context.Context, summary Summary) error
}

// ScoreUpdate is the fan-out payload emitted after every scored gift.
type ScoreUpdate struct {
	SessionID       string  `json:"session_id"`
	Side            string  `json:"side"`
	Points          int64   `json:"points"`
	BoostApplied    bool    `json:"boost_applied"`
	BoostMultiplier float64 `json:"boost_multiplier"`
	ScoreA          int64   `json:"score_a"`
	ScoreB          int64   `json:"score_b"`
	SupporterID     string  `json:"supporter_id"`
	SupporterName   string  `json:"supporter_name"`
}

// StateUpdate is the fan-out payload emitted on session transitions.
type StateUpdate struct {
	SessionID      string     `json:"session_id"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	EndsAt         *time.Time `json:"ends_at,omitempty"`
	CooldownEndsAt *time.Time `json:"cooldown_ends_at,omitempty"`
}

// Summary captures a finished battle for archival.
type Summary struct {
	SessionID     string          `json:"session_id"`
	Mode          string          `json:"mode"`
	HostA         string          `json:"host_a"`
	HostB         string          `json:"host_b"`
	ScoreA        int64           `json:"score_a"`
	ScoreB        int64           `json:"score_b"`
	Winner        string          `json:"winner"`
	EndedAt       time.Time       `json:"ended_at"`
	TopSupporters []SupporterRank `json:"top_supporters,omitempty"`
}
