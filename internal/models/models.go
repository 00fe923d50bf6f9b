package models

import "time"

// ViewerPresence is a time-bounded claim that a viewer is watching a stream.
// At most one row exists per (StreamID, ViewerID) pair; heartbeats upsert it.
type ViewerPresence struct {
	StreamID     int64
	ViewerID     string
	IsActive     bool
	IsUnmuted    bool
	IsVisible    bool
	IsSubscribed bool
	LastActiveAt time.Time
}

// Profile carries the identity fields joined into viewer lists and
// supporter contributions.
type Profile struct {
	ID          string
	Username    string
	DisplayName string
	AvatarURL   string
}

// Session type values.
const (
	SessionTypeCohost = "cohost"
	SessionTypeBattle = "battle"
)

// Session mode values. Standard battles run 180s, speed battles 60s.
const (
	SessionModeStandard = "standard"
	SessionModeSpeed    = "speed"
)

// Session status values.
const (
	SessionStatusPending  = "pending"
	SessionStatusActive   = "active"
	SessionStatusCooldown = "cooldown"
	SessionStatusEnded    = "ended"
)

// LiveSession is a paired live session between two hosts, either a plain
// cohost pairing or a scored battle.
type LiveSession struct {
	ID             string
	HostA          string
	HostB          string
	Type           string
	Mode           string
	Status         string
	PendingAccepts int
	StartedAt      *time.Time
	EndsAt         *time.Time
	CooldownEndsAt *time.Time
	CreatedAt      time.Time
}

// Invite status values.
const (
	InviteStatusPending   = "pending"
	InviteStatusAccepted  = "accepted"
	InviteStatusDeclined  = "declined"
	InviteStatusCancelled = "cancelled"
)

// SessionInvite is an outstanding request to upgrade a cohost session into
// a battle.
type SessionInvite struct {
	ID          string
	SessionID   string
	FromHostID  string
	ToHostID    string
	Type        string
	Mode        string
	Status      string
	CreatedAt   time.Time
	RespondedAt *time.Time
}

// Battle sides.
const (
	SideA = "A"
	SideB = "B"
)

// BattleScore holds per-session scoring state. BoostMultiplier is 1 unless
// BoostActive is set.
type BattleScore struct {
	SessionID       string
	ScoreA          int64
	ScoreB          int64
	BoostActive     bool
	BoostMultiplier float64
}

// SupporterContribution is an append-only audit record of one scoring
// event attributable to a gifting identity.
type SupporterContribution struct {
	ID          string
	SessionID   string
	ProfileID   string
	Username    string
	DisplayName string
	AvatarURL   string
	Side        string
	Points      int64
	ChatAward   bool
	CreatedAt   time.Time
}

// LiveStream is the subset of stream state touched by disconnect cleanup.
type LiveStream struct {
	ID            int64
	OwnerID       string
	LiveAvailable bool
	EndedAt       *time.Time
}
