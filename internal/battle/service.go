package battle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/liveloop/backend/internal/logging"
	"github.com/liveloop/backend/internal/models"
)

// Accept outcome status values.
const (
	AcceptStatusBattleStarted   = "battle_started"
	AcceptStatusAcceptedWaiting = "accepted_waiting"
)

// End action values.
const (
	EndActionEnd      = "end"
	EndActionCooldown = "cooldown"
)

// Service implements the cohost-to-battle state machine and gift scoring.
type Service struct {
	sessions SessionStore
	scores   ScoreStore
	profiles ProfileDirectory

	quorum      QuorumPolicy
	leaderboard Leaderboard
	broadcaster Broadcaster
	archiver    Archiver

	nowFunc func() time.Time
}

// NewService constructs the battle coordinator. Leaderboard, broadcaster and
// archiver are optional side channels; nil disables them.
func NewService(sessions SessionStore, scores ScoreStore, profiles ProfileDirectory) *Service {
	if sessions == nil || scores == nil {
		panic("battle: session and score stores must not be nil")
	}
	return &Service{
		sessions: sessions,
		scores:   scores,
		profiles: profiles,
		quorum:   AllPartiesQuorum{},
		nowFunc:  func() time.Time { return time.Now().UTC() },
	}
}

// WithQuorumPolicy overrides the invite acceptance threshold policy.
func (s *Service) WithQuorumPolicy(policy QuorumPolicy) *Service {
	if policy != nil {
		s.quorum = policy
	}
	return s
}

// WithLeaderboard attaches a supporter leaderboard.
func (s *Service) WithLeaderboard(lb Leaderboard) *Service {
	s.leaderboard = lb
	return s
}

// WithBroadcaster attaches a score/state fan-out channel.
func (s *Service) WithBroadcaster(b Broadcaster) *Service {
	s.broadcaster = b
	return s
}

// WithArchiver attaches a battle summary archiver.
func (s *Service) WithArchiver(a Archiver) *Service {
	s.archiver = a
	return s
}

// WithNowFunc overrides the time source. Useful for tests.
func (s *Service) WithNowFunc(now func() time.Time) *Service {
	s.nowFunc = now
	return s
}

// StartBattle creates a battle invite from an existing cohost session. The
// invite deterministically targets the other participant; the session itself
// is not mutated until the quorum of acceptances is reached.
func (s *Service) StartBattle(ctx context.Context, callerID, sessionID, mode string) (string, error) {
	session, err := s.sessions.FindSession(ctx, sessionID)
	if err != nil {
		return "", err
	}

	target, ok := otherParticipant(session, callerID)
	if !ok {
		return "", ErrNotParticipant
	}

	if session.Type != models.SessionTypeCohost {
		return "", fmt.Errorf("%w: session type is %q", ErrInvalidState, session.Type)
	}

	if mode == "" {
		mode = models.SessionModeStandard
	}
	if mode != models.SessionModeStandard && mode != models.SessionModeSpeed {
		return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidState, mode)
	}

	if err := s.sessions.SetPendingAccepts(ctx, session.ID, s.quorum.PendingAccepts(session)); err != nil {
		return "", fmt.Errorf("set pending accepts: %w", err)
	}

	invite := models.SessionInvite{
		ID:         uuid.NewString(),
		SessionID:  session.ID,
		FromHostID: callerID,
		ToHostID:   target,
		Type:       models.SessionTypeBattle,
		Mode:       mode,
		Status:     models.InviteStatusPending,
		CreatedAt:  s.nowFunc(),
	}

	if err := s.sessions.CreateInvite(ctx, invite); err != nil {
		return "", fmt.Errorf("create invite: %w", err)
	}

	return invite.ID, nil
}

// AcceptResult describes the outcome of accepting a battle invite.
type AcceptResult struct {
	Status       string
	SessionID    string
	Type         string
	StartedAt    *time.Time
	EndsAt       *time.Time
	PendingCount int
}

// AcceptInvite records one acceptance. The invite is claimed first so a
// duplicate accept cannot decrement the quorum counter twice; when the
// counter reaches zero the session becomes an active battle. A battle
// session, active or finished, never accepts an invite: ended is terminal,
// and a stale invite must not reset a running battle's window.
func (s *Service) AcceptInvite(ctx context.Context, callerID, inviteID string) (AcceptResult, error) {
	invite, err := s.sessions.FindInvite(ctx, inviteID)
	if err != nil {
		return AcceptResult{}, err
	}

	if invite.ToHostID != callerID {
		return AcceptResult{}, ErrNotParticipant
	}
	if invite.Status != models.InviteStatusPending {
		return AcceptResult{}, ErrInviteResponded
	}

	session, err := s.sessions.FindSession(ctx, invite.SessionID)
	if err != nil {
		return AcceptResult{}, err
	}
	if session.Type != models.SessionTypeCohost {
		return AcceptResult{}, fmt.Errorf("%w: session type is %q", ErrInvalidState, session.Type)
	}

	if err := s.sessions.ClaimInvite(ctx, invite.ID, models.InviteStatusAccepted); err != nil {
		return AcceptResult{}, err
	}

	remaining, err := s.sessions.DecrementPendingAccepts(ctx, invite.SessionID)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("decrement pending accepts: %w", err)
	}

	if remaining > 0 {
		return AcceptResult{
			Status:       AcceptStatusAcceptedWaiting,
			SessionID:    invite.SessionID,
			PendingCount: remaining,
		}, nil
	}

	startedAt := s.nowFunc()
	endsAt := startedAt.Add(battleDuration(invite.Mode))

	if err := s.sessions.ActivateBattle(ctx, invite.SessionID, startedAt, endsAt); err != nil {
		return AcceptResult{}, fmt.Errorf("activate battle: %w", err)
	}

	// Best effort: the store's activation guard already blocks leftover
	// invites from re-arming the session.
	if err := s.sessions.CancelPendingInvites(ctx, invite.SessionID); err != nil {
		logging.FromContext(ctx).Warn("cancel outstanding invites failed", "sessionId", invite.SessionID, "error", err)
	}

	s.broadcastState(StateUpdate{
		SessionID: invite.SessionID,
		Type:      models.SessionTypeBattle,
		Status:    models.SessionStatusActive,
		StartedAt: &startedAt,
		EndsAt:    &endsAt,
	})

	return AcceptResult{
		Status:    AcceptStatusBattleStarted,
		SessionID: invite.SessionID,
		Type:      models.SessionTypeBattle,
		StartedAt: &startedAt,
		EndsAt:    &endsAt,
	}, nil
}

// DeclineInvite marks a pending invite declined. The session is untouched.
func (s *Service) DeclineInvite(ctx context.Context, callerID, inviteID string) error {
	invite, err := s.sessions.FindInvite(ctx, inviteID)
	if err != nil {
		return err
	}

	if invite.ToHostID != callerID {
		return ErrNotParticipant
	}
	if invite.Status != models.InviteStatusPending {
		return ErrInviteResponded
	}

	return s.sessions.ClaimInvite(ctx, invite.ID, models.InviteStatusDeclined)
}

// ScoreInput describes one gift routed into battle scoring.
type ScoreInput struct {
	SessionID         string
	RecipientID       string
	SenderID          string
	SenderUsername    string
	SenderDisplayName string
	SenderAvatarURL   string
	CoinAmount        int64
	ChatAward         bool
}

// ScoreResult reports the applied delta and the updated aggregate scores.
type ScoreResult struct {
	Side            string
	PointsAwarded   int64
	BoostApplied    bool
	BoostMultiplier float64
	Scores          models.BattleScore
}

// ScoreGift converts a gift's coin amount into a side-scoped point delta.
// The score increment and the supporter contribution are applied in one
// transaction so concurrent gifts cannot desynchronize the leaderboard.
func (s *Service) ScoreGift(ctx context.Context, in ScoreInput) (ScoreResult, error) {
	if in.CoinAmount <= 0 {
		return ScoreResult{}, ErrInvalidCoinAmount
	}

	session, err := s.sessions.FindSession(ctx, in.SessionID)
	if err != nil {
		return ScoreResult{}, err
	}

	if session.Type != models.SessionTypeBattle || session.Status != models.SessionStatusActive {
		return ScoreResult{}, fmt.Errorf("%w: type=%s status=%s", ErrInvalidState, session.Type, session.Status)
	}

	var side string
	switch in.RecipientID {
	case session.HostA:
		side = models.SideA
	case session.HostB:
		side = models.SideB
	default:
		return ScoreResult{}, ErrNotRecipient
	}

	multiplier := 1.0
	boostApplied := false
	if score, err := s.scores.FindScore(ctx, in.SessionID); err == nil {
		if score.BoostActive && score.BoostMultiplier > 0 {
			multiplier = score.BoostMultiplier
			boostApplied = true
		}
	} else if !errors.Is(err, ErrScoreNotFound) {
		return ScoreResult{}, fmt.Errorf("load boost state: %w", err)
	}

	points := int64(math.Floor(float64(in.CoinAmount) * multiplier))

	contribution := models.SupporterContribution{
		ID:          uuid.NewString(),
		SessionID:   in.SessionID,
		ProfileID:   in.SenderID,
		Username:    in.SenderUsername,
		DisplayName: in.SenderDisplayName,
		AvatarURL:   in.SenderAvatarURL,
		Side:        side,
		Points:      points,
		ChatAward:   in.ChatAward,
		CreatedAt:   s.nowFunc(),
	}

	scores, err := s.scores.ApplyDelta(ctx, in.SessionID, side, points, contribution)
	if err != nil {
		return ScoreResult{}, fmt.Errorf("apply score delta: %w", err)
	}

	if s.leaderboard != nil {
		if err := s.leaderboard.Record(ctx, in.SessionID, in.SenderID, points); err != nil {
			logging.FromContext(ctx).Warn("leaderboard update failed", "sessionId", in.SessionID, "error", err)
		}
	}

	s.broadcastScore(ScoreUpdate{
		SessionID:       in.SessionID,
		Side:            side,
		Points:          points,
		BoostApplied:    boostApplied,
		BoostMultiplier: multiplier,
		ScoreA:          scores.ScoreA,
		ScoreB:          scores.ScoreB,
		SupporterID:     in.SenderID,
		SupporterName:   in.SenderUsername,
	})

	return ScoreResult{
		Side:            side,
		PointsAwarded:   points,
		BoostApplied:    boostApplied,
		BoostMultiplier: multiplier,
		Scores:          scores,
	}, nil
}

// EndResult describes the session state after ending a battle.
type EndResult struct {
	Status         string
	CooldownEndsAt *time.Time
}

// EndBattle moves an active battle into cooldown or straight to ended. The
// ended path enqueues the summary for archival.
func (s *Service) EndBattle(ctx context.Context, callerID, sessionID, action string) (EndResult, error) {
	session, err := s.sessions.FindSession(ctx, sessionID)
	if err != nil {
		return EndResult{}, err
	}

	if _, ok := otherParticipant(session, callerID); !ok {
		return EndResult{}, ErrNotParticipant
	}
	if session.Type != models.SessionTypeBattle || session.Status != models.SessionStatusActive {
		return EndResult{}, fmt.Errorf("%w: type=%s status=%s", ErrInvalidState, session.Type, session.Status)
	}

	now := s.nowFunc()

	if action == EndActionCooldown {
		cooldownEndsAt := now.Add(cooldownDuration(session.Mode))
		if err := s.sessions.SetCooldown(ctx, sessionID, cooldownEndsAt); err != nil {
			return EndResult{}, fmt.Errorf("set cooldown: %w", err)
		}
		s.broadcastState(StateUpdate{
			SessionID:      sessionID,
			Type:           session.Type,
			Status:         models.SessionStatusCooldown,
			CooldownEndsAt: &cooldownEndsAt,
		})
		return EndResult{Status: models.SessionStatusCooldown, CooldownEndsAt: &cooldownEndsAt}, nil
	}

	if err := s.sessions.EndSession(ctx, sessionID); err != nil {
		return EndResult{}, fmt.Errorf("end session: %w", err)
	}

	s.broadcastState(StateUpdate{
		SessionID: sessionID,
		Type:      session.Type,
		Status:    models.SessionStatusEnded,
	})

	s.enqueueArchive(ctx, session, now)

	// Watchers saw the ended state; tear down the fan-out hub.
	if s.broadcaster != nil {
		s.broadcaster.CloseSession(sessionID)
	}

	return EndResult{Status: models.SessionStatusEnded}, nil
}

// Supporter is one hydrated leaderboard entry.
type Supporter struct {
	ProfileID   string `json:"profile_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Points      int64  `json:"points"`
}

// TopSupporters returns the battle's highest contributors with resolved
// identities. Resolution failures degrade to bare profile ids.
func (s *Service) TopSupporters(ctx context.Context, sessionID string, limit int64) ([]Supporter, error) {
	if s.leaderboard == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	if _, err := s.sessions.FindSession(ctx, sessionID); err != nil {
		return nil, err
	}

	ranks, err := s.leaderboard.Top(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("load leaderboard: %w", err)
	}

	var profiles map[string]models.Profile
	if s.profiles != nil && len(ranks) > 0 {
		ids := make([]string, 0, len(ranks))
		for _, rank := range ranks {
			ids = append(ids, rank.ProfileID)
		}
		profiles, err = s.profiles.FindByIDs(ctx, ids)
		if err != nil {
			logging.FromContext(ctx).Warn("supporter identity resolution failed", "sessionId", sessionID, "error", err)
			profiles = nil
		}
	}

	supporters := make([]Supporter, 0, len(ranks))
	for _, rank := range ranks {
		supporter := Supporter{ProfileID: rank.ProfileID, Points: rank.Points}
		if profile, ok := profiles[rank.ProfileID]; ok {
			supporter.Username = profile.Username
			supporter.DisplayName = profile.DisplayName
			supporter.AvatarURL = profile.AvatarURL
		}
		supporters = append(supporters, supporter)
	}

	return supporters, nil
}

func (s *Service) enqueueArchive(ctx context.Context, session models.LiveSession, endedAt time.Time) {
	if s.archiver == nil {
		return
	}

	summary := Summary{
		SessionID: session.ID,
		Mode:      session.Mode,
		HostA:     session.HostA,
		HostB:     session.HostB,
		EndedAt:   endedAt,
		Winner:    "draw",
	}

	if score, err := s.scores.FindScore(ctx, session.ID); err == nil {
		summary.ScoreA = score.ScoreA
		summary.ScoreB = score.ScoreB
		switch {
		case score.ScoreA > score.ScoreB:
			summary.Winner = models.SideA
		case score.ScoreB > score.ScoreA:
			summary.Winner = models.SideB
		}
	}

	if s.leaderboard != nil {
		if ranks, err := s.leaderboard.Top(ctx, session.ID, 10); err == nil {
			summary.TopSupporters = ranks
		}
	}

	if err := s.archiver.Enqueue(ctx, summary); err != nil {
		logging.FromContext(ctx).Warn("battle archive enqueue failed", "sessionId", session.ID, "error", err)
	}
}

func (s *Service) broadcastScore(update ScoreUpdate) {
	if s.broadcaster != nil {
		s.broadcaster.BroadcastScore(update.SessionID, update)
	}
}

func (s *Service) broadcastState(update StateUpdate) {
	if s.broadcaster != nil {
		s.broadcaster.BroadcastState(update.SessionID, update)
	}
}

func otherParticipant(session models.LiveSession, callerID string) (string, bool) {
	switch callerID {
	case session.HostA:
		return session.HostB, true
	case session.HostB:
		return session.HostA, true
	default:
		return "", false
	}
}
