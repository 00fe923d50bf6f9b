package battle

import (
	"context"
	"sync"
	"time"

	"github.com/liveloop/backend/internal/models"
)

// NewInMemorySessionStore returns a SessionStore backed by in-memory maps.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{
		sessions: make(map[string]models.LiveSession),
		invites:  make(map[string]models.SessionInvite),
	}
}

// InMemorySessionStore implements SessionStore for tests and local development.
type InMemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]models.LiveSession
	invites  map[string]models.SessionInvite
}

// PutSession seeds or replaces a session. Useful for tests.
func (s *InMemorySessionStore) PutSession(session models.LiveSession) {
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
}

// Session returns a stored session. Useful for tests.
func (s *InMemorySessionStore) Session(id string) (models.LiveSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	return session, ok
}

// Invite returns a stored invite. Useful for tests.
func (s *InMemorySessionStore) Invite(id string) (models.SessionInvite, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	invite, ok := s.invites[id]
	return invite, ok
}

// FindSession loads a session by id.
func (s *InMemorySessionStore) FindSession(_ context.Context, id string) (models.LiveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return models.LiveSession{}, ErrSessionNotFound
	}
	return session, nil
}

// CreateInvite stores a new invite.
func (s *InMemorySessionStore) CreateInvite(_ context.Context, invite models.SessionInvite) error {
	s.mu.Lock()
	s.invites[invite.ID] = invite
	s.mu.Unlock()
	return nil
}

// FindInvite loads an invite by id.
func (s *InMemorySessionStore) FindInvite(_ context.Context, id string) (models.SessionInvite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	invite, ok := s.invites[id]
	if !ok {
		return models.SessionInvite{}, ErrInviteNotFound
	}
	return invite, nil
}

// ClaimInvite transitions a pending invite to the given status.
func (s *InMemorySessionStore) ClaimInvite(_ context.Context, inviteID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	invite, ok := s.invites[inviteID]
	if !ok {
		return ErrInviteNotFound
	}
	if invite.Status != models.InviteStatusPending {
		return ErrInviteResponded
	}
	invite.Status = status
	respondedAt := time.Now().UTC()
	invite.RespondedAt = &respondedAt
	s.invites[inviteID] = invite
	return nil
}

// CancelPendingInvites marks every pending invite for the session cancelled.
func (s *InMemorySessionStore) CancelPendingInvites(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	respondedAt := time.Now().UTC()
	for id, invite := range s.invites {
		if invite.SessionID != sessionID || invite.Status != models.InviteStatusPending {
			continue
		}
		invite.Status = models.InviteStatusCancelled
		invite.RespondedAt = &respondedAt
		s.invites[id] = invite
	}
	return nil
}

// SetPendingAccepts resets the session's outstanding-accept counter.
func (s *InMemorySessionStore) SetPendingAccepts(_ context.Context, sessionID string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	session.PendingAccepts = count
	s.sessions[sessionID] = session
	return nil
}

// DecrementPendingAccepts decrements the counter, stopping at zero.
func (s *InMemorySessionStore) DecrementPendingAccepts(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return 0, ErrSessionNotFound
	}
	if session.PendingAccepts > 0 {
		session.PendingAccepts--
		s.sessions[sessionID] = session
	}
	return session.PendingAccepts, nil
}

// ActivateBattle flips the session to an active battle with the given window.
// Only a cohost session can activate; a finished battle stays finished.
func (s *InMemorySessionStore) ActivateBattle(_ context.Context, sessionID string, startedAt, endsAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if session.Type != models.SessionTypeCohost {
		return ErrInvalidState
	}
	session.Type = models.SessionTypeBattle
	session.Status = models.SessionStatusActive
	session.StartedAt = &startedAt
	session.EndsAt = &endsAt
	s.sessions[sessionID] = session
	return nil
}

// SetCooldown moves the session into its cooldown window.
func (s *InMemorySessionStore) SetCooldown(_ context.Context, sessionID string, cooldownEndsAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	session.Status = models.SessionStatusCooldown
	session.CooldownEndsAt = &cooldownEndsAt
	s.sessions[sessionID] = session
	return nil
}

// EndSession marks the session ended.
func (s *InMemorySessionStore) EndSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	session.Status = models.SessionStatusEnded
	s.sessions[sessionID] = session
	return nil
}

// NewInMemoryScoreStore returns a ScoreStore backed by in-memory maps.
func NewInMemoryScoreStore() *InMemoryScoreStore {
	return &InMemoryScoreStore{scores: make(map[string]models.BattleScore)}
}

// InMemoryScoreStore implements ScoreStore for tests and local development.
type InMemoryScoreStore struct {
	mu            sync.Mutex
	scores        map[string]models.BattleScore
	contributions []models.SupporterContribution
}

// SetBoost seeds boost state for a session. Useful for tests.
func (s *InMemoryScoreStore) SetBoost(sessionID string, active bool, multiplier float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	score := s.scores[sessionID]
	score.SessionID = sessionID
	score.BoostActive = active
	score.BoostMultiplier = multiplier
	s.scores[sessionID] = score
}

// Contributions returns all appended contributions. Useful for tests.
func (s *InMemoryScoreStore) Contributions() []models.SupporterContribution {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SupporterContribution, len(s.contributions))
	copy(out, s.contributions)
	return out
}

// FindScore loads the score row for a session.
func (s *InMemoryScoreStore) FindScore(_ context.Context, sessionID string) (models.BattleScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	score, ok := s.scores[sessionID]
	if !ok {
		return models.BattleScore{}, ErrScoreNotFound
	}
	return score, nil
}

// ApplyDelta increments the side's score and appends the contribution.
func (s *InMemoryScoreStore) ApplyDelta(_ context.Context, sessionID, side string, points int64, contribution models.SupporterContribution) (models.BattleScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	score := s.scores[sessionID]
	score.SessionID = sessionID
	if side == models.SideA {
		score.ScoreA += points
	} else {
		score.ScoreB += points
	}
	s.scores[sessionID] = score
	s.contributions = append(s.contributions, contribution)

	return score, nil
}
