package battle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/liveloop/backend/internal/models"
)

func newCohostSession(id string) models.LiveSession {
	return models.LiveSession{
		ID:     id,
		HostA:  "host-a",
		HostB:  "host-b",
		Type:   models.SessionTypeCohost,
		Mode:   models.SessionModeStandard,
		Status: models.SessionStatusActive,
	}
}

func newActiveBattle(id string) models.LiveSession {
	session := newCohostSession(id)
	session.Type = models.SessionTypeBattle
	return session
}

type fixedQuorum int

func (q fixedQuorum) PendingAccepts(models.LiveSession) int { return int(q) }

type stubLeaderboard struct {
	mu      sync.Mutex
	records map[string]int64
	ranks   []SupporterRank
	err     error
}

func (l *stubLeaderboard) Record(_ context.Context, _, profileID string, points int64) error {
	if l.err != nil {
		return l.err
	}
	l.mu.Lock()
	if l.records == nil {
		l.records = make(map[string]int64)
	}
	l.records[profileID] += points
	l.mu.Unlock()
	return nil
}

func (l *stubLeaderboard) Top(_ context.Context, _ string, _ int64) ([]SupporterRank, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.ranks, nil
}

type recordingArchiver struct {
	mu        sync.Mutex
	summaries []Summary
}

func (a *recordingArchiver) Enqueue(_ context.Context, summary Summary) error {
	a.mu.Lock()
	a.summaries = append(a.summaries, summary)
	a.mu.Unlock()
	return nil
}

type stubBroadcaster struct {
	mu     sync.Mutex
	states []StateUpdate
	closed []string
}

func (b *stubBroadcaster) BroadcastScore(_ string, _ ScoreUpdate) {}

func (b *stubBroadcaster) BroadcastState(_ string, update StateUpdate) {
	b.mu.Lock()
	b.states = append(b.states, update)
	b.mu.Unlock()
}

func (b *stubBroadcaster) CloseSession(sessionID string) {
	b.mu.Lock()
	b.closed = append(b.closed, sessionID)
	b.mu.Unlock()
}

type stubDirectory struct {
	profiles map[string]models.Profile
	err      error
}

func (d *stubDirectory) FindByIDs(_ context.Context, ids []string) (map[string]models.Profile, error) {
	if d.err != nil {
		return nil, d.err
	}
	out := make(map[string]models.Profile)
	for _, id := range ids {
		if profile, ok := d.profiles[id]; ok {
			out[id] = profile
		}
	}
	return out, nil
}

func TestStartBattleCreatesInvite(t *testing.T) {
	sessions := NewInMemorySessionStore()
	sessions.PutSession(newCohostSession("session-1"))

	service := NewService(sessions, NewInMemoryScoreStore(), nil)

	inviteID, err := service.StartBattle(context.Background(), "host-a", "session-1", models.SessionModeSpeed)
	if err != nil {
		t.Fatalf("start battle: %v", err)
	}

	invite, ok := sessions.Invite(inviteID)
	if !ok {
		t.Fatal("expected invite to be stored")
	}
	if invite.ToHostID != "host-b" {
		t.Fatalf("expected invite to target the other participant, got %q", invite.ToHostID)
	}
	if invite.Type != models.SessionTypeBattle || invite.Mode != models.SessionModeSpeed {
		t.Fatalf("unexpected invite shape: %+v", invite)
	}

	session, _ := sessions.Session("session-1")
	if session.Type != models.SessionTypeCohost || session.PendingAccepts != 1 {
		t.Fatalf("expected session untouched besides pending accepts, got %+v", session)
	}
}

func TestStartBattleFailures(t *testing.T) {
	battleSession := newCohostSession("battle-session")
	battleSession.Type = models.SessionTypeBattle

	cases := []struct {
		name    string
		session *models.LiveSession
		caller  string
		id      string
		wantErr error
	}{
		{"missingSession", nil, "host-a", "nope", ErrSessionNotFound},
		{"notParticipant", ptrSession(newCohostSession("session-1")), "stranger", "session-1", ErrNotParticipant},
		{"notCohost", &battleSession, "host-a", "battle-session", ErrInvalidState},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sessions := NewInMemorySessionStore()
			if tc.session != nil {
				sessions.PutSession(*tc.session)
			}
			service := NewService(sessions, NewInMemoryScoreStore(), nil)

			if _, err := service.StartBattle(context.Background(), tc.caller, tc.id, ""); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v got %v", tc.wantErr, err)
			}
		})
	}
}

func ptrSession(s models.LiveSession) *models.LiveSession { return &s }

func TestAcceptInviteStartsBattle(t *testing.T) {
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

	sessions := NewInMemorySessionStore()
	sessions.PutSession(newCohostSession("session-1"))

	service := NewService(sessions, NewInMemoryScoreStore(), nil)
	service.WithNowFunc(func() time.Time { return now })

	inviteID, err := service.StartBattle(context.Background(), "host-a", "session-1", models.SessionModeSpeed)
	if err != nil {
		t.Fatalf("start battle: %v", err)
	}

	result, err := service.AcceptInvite(context.Background(), "host-b", inviteID)
	if err != nil {
		t.Fatalf("accept invite: %v", err)
	}

	if result.Status != AcceptStatusBattleStarted {
		t.Fatalf("expected %q got %q", AcceptStatusBattleStarted, result.Status)
	}
	if result.StartedAt == nil || !result.StartedAt.Equal(now) {
		t.Fatalf("expected startedAt %v got %v", now, result.StartedAt)
	}
	if result.EndsAt == nil || !result.EndsAt.Equal(now.Add(60*time.Second)) {
		t.Fatalf("expected speed battle to end after 60s, got %v", result.EndsAt)
	}

	session, _ := sessions.Session("session-1")
	if session.Type != models.SessionTypeBattle || session.Status != models.SessionStatusActive {
		t.Fatalf("expected active battle, got %+v", session)
	}
}

func TestAcceptInviteQuorumWaiting(t *testing.T) {
	sessions := NewInMemorySessionStore()
	sessions.PutSession(newCohostSession("session-1"))

	service := NewService(sessions, NewInMemoryScoreStore(), nil).WithQuorumPolicy(fixedQuorum(2))

	inviteID, err := service.StartBattle(context.Background(), "host-a", "session-1", "")
	if err != nil {
		t.Fatalf("start battle: %v", err)
	}

	result, err := service.AcceptInvite(context.Background(), "host-b", inviteID)
	if err != nil {
		t.Fatalf("accept invite: %v", err)
	}

	if result.Status != AcceptStatusAcceptedWaiting {
		t.Fatalf("expected %q got %q", AcceptStatusAcceptedWaiting, result.Status)
	}
	if result.PendingCount != 1 {
		t.Fatalf("expected pending count 1 got %d", result.PendingCount)
	}

	session, _ := sessions.Session("session-1")
	if session.Type != models.SessionTypeCohost {
		t.Fatalf("expected session still cohost while waiting, got %+v", session)
	}
}

func TestAcceptInviteFailures(t *testing.T) {
	sessions := NewInMemorySessionStore()
	sessions.PutSession(newCohostSession("session-1"))
	service := NewService(sessions, NewInMemoryScoreStore(), nil)

	inviteID, err := service.StartBattle(context.Background(), "host-a", "session-1", "")
	if err != nil {
		t.Fatalf("start battle: %v", err)
	}

	if _, err := service.AcceptInvite(context.Background(), "stranger", inviteID); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant got %v", err)
	}
	if _, err := service.AcceptInvite(context.Background(), "host-b", "missing"); !errors.Is(err, ErrInviteNotFound) {
		t.Fatalf("expected ErrInviteNotFound got %v", err)
	}

	if _, err := service.AcceptInvite(context.Background(), "host-b", inviteID); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if _, err := service.AcceptInvite(context.Background(), "host-b", inviteID); !errors.Is(err, ErrInviteResponded) {
		t.Fatalf("expected ErrInviteResponded on duplicate accept got %v", err)
	}
}

func TestAcceptInviteStaleInviteCannotReviveEndedBattle(t *testing.T) {
	sessions := NewInMemorySessionStore()
	sessions.PutSession(newCohostSession("session-1"))
	scores := NewInMemoryScoreStore()
	service := NewService(sessions, scores, nil)

	firstInvite, err := service.StartBattle(context.Background(), "host-a", "session-1", "")
	if err != nil {
		t.Fatalf("first start battle: %v", err)
	}
	staleInvite, err := service.StartBattle(context.Background(), "host-a", "session-1", "")
	if err != nil {
		t.Fatalf("second start battle: %v", err)
	}

	if _, err := service.AcceptInvite(context.Background(), "host-b", firstInvite); err != nil {
		t.Fatalf("accept first invite: %v", err)
	}
	if _, err := service.EndBattle(context.Background(), "host-a", "session-1", EndActionEnd); err != nil {
		t.Fatalf("end battle: %v", err)
	}

	// Activation cancelled the leftover invite, so accepting it fails and
	// the ended session stays ended.
	if _, err := service.AcceptInvite(context.Background(), "host-b", staleInvite); !errors.Is(err, ErrInviteResponded) {
		t.Fatalf("expected ErrInviteResponded accepting stale invite, got %v", err)
	}

	session, _ := sessions.Session("session-1")
	if session.Status != models.SessionStatusEnded {
		t.Fatalf("expected session to stay ended, got %+v", session)
	}

	if _, err := service.ScoreGift(context.Background(), ScoreInput{
		SessionID: "session-1", RecipientID: "host-a", SenderID: "fan-1", CoinAmount: 10,
	}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState scoring an ended battle, got %v", err)
	}
	if len(scores.Contributions()) != 0 {
		t.Fatal("expected no contributions on the ended battle")
	}
}

func TestAcceptInviteRejectsNonCohostSession(t *testing.T) {
	sessions := NewInMemorySessionStore()
	sessions.PutSession(newActiveBattle("session-1"))

	// A pending invite that survived activation, e.g. written by an older
	// process before the session became a battle.
	invite := models.SessionInvite{
		ID:        "stale-invite",
		SessionID: "session-1",
		ToHostID:  "host-b",
		Type:      models.SessionTypeBattle,
		Mode:      models.SessionModeStandard,
		Status:    models.InviteStatusPending,
	}
	if err := sessions.CreateInvite(context.Background(), invite); err != nil {
		t.Fatalf("seed invite: %v", err)
	}

	service := NewService(sessions, NewInMemoryScoreStore(), nil)

	if _, err := service.AcceptInvite(context.Background(), "host-b", "stale-invite"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState accepting against a battle session, got %v", err)
	}

	session, _ := sessions.Session("session-1")
	if session.StartedAt != nil {
		t.Fatalf("expected battle window untouched, got %+v", session)
	}
}

func TestDeclineInviteLeavesSessionUntouched(t *testing.T) {
	sessions := NewInMemorySessionStore()
	sessions.PutSession(newCohostSession("session-1"))
	service := NewService(sessions, NewInMemoryScoreStore(), nil)

	inviteID, err := service.StartBattle(context.Background(), "host-a", "session-1", "")
	if err != nil {
		t.Fatalf("start battle: %v", err)
	}

	if err := service.DeclineInvite(context.Background(), "host-b", inviteID); err != nil {
		t.Fatalf("decline invite: %v", err)
	}

	invite, _ := sessions.Invite(inviteID)
	if invite.Status != models.InviteStatusDeclined {
		t.Fatalf("expected declined invite, got %q", invite.Status)
	}

	session, _ := sessions.Session("session-1")
	if session.Type != models.SessionTypeCohost {
		t.Fatalf("expected session untouched, got %+v", session)
	}
}

func TestScoreGiftStateGuard(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*models.LiveSession)
		wantErr error
	}{
		{"cohostType", func(s *models.LiveSession) { s.Type = models.SessionTypeCohost }, ErrInvalidState},
		{"pendingStatus", func(s *models.LiveSession) { s.Status = models.SessionStatusPending }, ErrInvalidState},
		{"endedStatus", func(s *models.LiveSession) { s.Status = models.SessionStatusEnded }, ErrInvalidState},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			session := newActiveBattle("session-1")
			tc.mutate(&session)

			sessions := NewInMemorySessionStore()
			sessions.PutSession(session)
			scores := NewInMemoryScoreStore()
			service := NewService(sessions, scores, nil)

			_, err := service.ScoreGift(context.Background(), ScoreInput{
				SessionID:   "session-1",
				RecipientID: "host-a",
				SenderID:    "fan-1",
				CoinAmount:  10,
			})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v got %v", tc.wantErr, err)
			}
			if len(scores.Contributions()) != 0 {
				t.Fatal("expected no score mutation on guard failure")
			}
		})
	}
}

func TestScoreGiftRecipientValidation(t *testing.T) {
	sessions := NewInMemorySessionStore()
	sessions.PutSession(newActiveBattle("session-1"))
	scores := NewInMemoryScoreStore()
	service := NewService(sessions, scores, nil)

	_, err := service.ScoreGift(context.Background(), ScoreInput{
		SessionID:   "session-1",
		RecipientID: "third-party",
		SenderID:    "fan-1",
		CoinAmount:  20,
	})
	if !errors.Is(err, ErrNotRecipient) {
		t.Fatalf("expected ErrNotRecipient got %v", err)
	}
	if len(scores.Contributions()) != 0 {
		t.Fatal("expected no contribution for invalid recipient")
	}
}

func TestScoreGiftBoostMultiplierFloors(t *testing.T) {
	sessions := NewInMemorySessionStore()
	sessions.PutSession(newActiveBattle("session-1"))

	scores := NewInMemoryScoreStore()
	scores.SetBoost("session-1", true, 1.5)

	service := NewService(sessions, scores, nil)

	result, err := service.ScoreGift(context.Background(), ScoreInput{
		SessionID:   "session-1",
		RecipientID: "host-a",
		SenderID:    "fan-1",
		CoinAmount:  7,
	})
	if err != nil {
		t.Fatalf("score gift: %v", err)
	}

	if result.PointsAwarded != 10 {
		t.Fatalf("expected floor(7*1.5)=10 points, got %d", result.PointsAwarded)
	}
	if !result.BoostApplied || result.BoostMultiplier != 1.5 {
		t.Fatalf("expected boost applied at 1.5, got %+v", result)
	}
	if result.Scores.ScoreA != 10 {
		t.Fatalf("expected side A score 10, got %d", result.Scores.ScoreA)
	}
}

func TestScoreGiftNoBoostDefaultsMultiplierOne(t *testing.T) {
	sessions := NewInMemorySessionStore()
	sessions.PutSession(newActiveBattle("session-1"))
	scores := NewInMemoryScoreStore()
	service := NewService(sessions, scores, nil)

	result, err := service.ScoreGift(context.Background(), ScoreInput{
		SessionID:   "session-1",
		RecipientID: "host-b",
		SenderID:    "fan-1",
		CoinAmount:  50,
	})
	if err != nil {
		t.Fatalf("score gift: %v", err)
	}

	if result.Side != models.SideB || result.PointsAwarded != 50 || result.BoostApplied {
		t.Fatalf("unexpected result: %+v", result)
	}

	contributions := scores.Contributions()
	if len(contributions) != 1 || contributions[0].Points != 50 || contributions[0].Side != models.SideB {
		t.Fatalf("expected matching contribution record, got %+v", contributions)
	}
}

func TestScoreGiftConcurrentGiftsAccumulate(t *testing.T) {
	sessions := NewInMemorySessionStore()
	sessions.PutSession(newActiveBattle("session-1"))
	scores := NewInMemoryScoreStore()
	service := NewService(sessions, scores, nil)

	const gifts = 20

	var wg sync.WaitGroup
	wg.Add(gifts)
	for i := 0; i < gifts; i++ {
		go func() {
			defer wg.Done()
			_, err := service.ScoreGift(context.Background(), ScoreInput{
				SessionID:   "session-1",
				RecipientID: "host-a",
				SenderID:    "fan-1",
				CoinAmount:  10,
			})
			if err != nil {
				t.Errorf("score gift: %v", err)
			}
		}()
	}
	wg.Wait()

	score, err := scores.FindScore(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("find score: %v", err)
	}
	if score.ScoreA != gifts*10 {
		t.Fatalf("expected %d points after concurrent gifts, got %d", gifts*10, score.ScoreA)
	}
	if len(scores.Contributions()) != gifts {
		t.Fatalf("expected %d contributions, got %d", gifts, len(scores.Contributions()))
	}
}

func TestEndBattleCooldownAndEnd(t *testing.T) {
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

	sessions := NewInMemorySessionStore()
	session := newActiveBattle("session-1")
	session.Mode = models.SessionModeSpeed
	sessions.PutSession(session)

	archiver := &recordingArchiver{}
	service := NewService(sessions, NewInMemoryScoreStore(), nil).WithArchiver(archiver)
	service.WithNowFunc(func() time.Time { return now })

	result, err := service.EndBattle(context.Background(), "host-a", "session-1", EndActionCooldown)
	if err != nil {
		t.Fatalf("end battle (cooldown): %v", err)
	}
	if result.Status != models.SessionStatusCooldown {
		t.Fatalf("expected cooldown status got %q", result.Status)
	}
	if result.CooldownEndsAt == nil || !result.CooldownEndsAt.Equal(now.Add(15*time.Second)) {
		t.Fatalf("expected speed cooldown of 15s, got %v", result.CooldownEndsAt)
	}
	if len(archiver.summaries) != 0 {
		t.Fatal("cooldown must not archive the battle")
	}

	// Scoring during cooldown is rejected.
	if _, err := service.ScoreGift(context.Background(), ScoreInput{
		SessionID: "session-1", RecipientID: "host-a", SenderID: "fan-1", CoinAmount: 5,
	}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState during cooldown got %v", err)
	}
}

func TestEndBattleArchivesSummary(t *testing.T) {
	sessions := NewInMemorySessionStore()
	sessions.PutSession(newActiveBattle("session-1"))

	scores := NewInMemoryScoreStore()
	archiver := &recordingArchiver{}
	service := NewService(sessions, scores, nil).WithArchiver(archiver)

	if _, err := service.ScoreGift(context.Background(), ScoreInput{
		SessionID: "session-1", RecipientID: "host-a", SenderID: "fan-1", CoinAmount: 30,
	}); err != nil {
		t.Fatalf("score gift: %v", err)
	}

	result, err := service.EndBattle(context.Background(), "host-b", "session-1", EndActionEnd)
	if err != nil {
		t.Fatalf("end battle: %v", err)
	}
	if result.Status != models.SessionStatusEnded {
		t.Fatalf("expected ended status got %q", result.Status)
	}

	if len(archiver.summaries) != 1 {
		t.Fatalf("expected one archived summary, got %d", len(archiver.summaries))
	}
	summary := archiver.summaries[0]
	if summary.ScoreA != 30 || summary.Winner != models.SideA {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestEndBattleClosesWatcherHub(t *testing.T) {
	sessions := NewInMemorySessionStore()
	sessions.PutSession(newActiveBattle("session-1"))

	broadcaster := &stubBroadcaster{}
	service := NewService(sessions, NewInMemoryScoreStore(), nil).WithBroadcaster(broadcaster)

	if _, err := service.EndBattle(context.Background(), "host-a", "session-1", EndActionCooldown); err != nil {
		t.Fatalf("end battle (cooldown): %v", err)
	}
	if len(broadcaster.closed) != 0 {
		t.Fatal("cooldown must keep the watcher hub open")
	}

	session, _ := sessions.Session("session-1")
	session.Status = models.SessionStatusActive
	sessions.PutSession(session)

	if _, err := service.EndBattle(context.Background(), "host-a", "session-1", EndActionEnd); err != nil {
		t.Fatalf("end battle: %v", err)
	}
	if len(broadcaster.closed) != 1 || broadcaster.closed[0] != "session-1" {
		t.Fatalf("expected hub teardown after ended state, got %v", broadcaster.closed)
	}
	if len(broadcaster.states) == 0 || broadcaster.states[len(broadcaster.states)-1].Status != models.SessionStatusEnded {
		t.Fatalf("expected ended broadcast before teardown, got %+v", broadcaster.states)
	}
}

func TestTopSupportersHydratesIdentities(t *testing.T) {
	sessions := NewInMemorySessionStore()
	sessions.PutSession(newActiveBattle("session-1"))

	leaderboard := &stubLeaderboard{ranks: []SupporterRank{
		{ProfileID: "fan-1", Points: 120},
		{ProfileID: "fan-2", Points: 40},
	}}
	directory := &stubDirectory{profiles: map[string]models.Profile{
		"fan-1": {ID: "fan-1", Username: "whale", DisplayName: "Whale"},
	}}

	service := NewService(sessions, NewInMemoryScoreStore(), directory).WithLeaderboard(leaderboard)

	supporters, err := service.TopSupporters(context.Background(), "session-1", 10)
	if err != nil {
		t.Fatalf("top supporters: %v", err)
	}

	if len(supporters) != 2 {
		t.Fatalf("expected 2 supporters got %d", len(supporters))
	}
	if supporters[0].Username != "whale" || supporters[0].Points != 120 {
		t.Fatalf("expected hydrated first supporter, got %+v", supporters[0])
	}
	if supporters[1].Username != "" || supporters[1].ProfileID != "fan-2" {
		t.Fatalf("expected bare second supporter, got %+v", supporters[1])
	}
}

func TestEndToEndBattleScenario(t *testing.T) {
	sessions := NewInMemorySessionStore()
	sessions.PutSession(newCohostSession("session-1"))
	scores := NewInMemoryScoreStore()
	service := NewService(sessions, scores, nil)

	inviteID, err := service.StartBattle(context.Background(), "host-a", "session-1", "")
	if err != nil {
		t.Fatalf("start battle: %v", err)
	}

	accept, err := service.AcceptInvite(context.Background(), "host-b", inviteID)
	if err != nil {
		t.Fatalf("accept invite: %v", err)
	}
	if accept.Status != AcceptStatusBattleStarted {
		t.Fatalf("expected battle to start, got %q", accept.Status)
	}

	result, err := service.ScoreGift(context.Background(), ScoreInput{
		SessionID: "session-1", RecipientID: "host-a", SenderID: "fan-1", CoinAmount: 50,
	})
	if err != nil {
		t.Fatalf("score gift: %v", err)
	}
	if result.Side != models.SideA || result.Scores.ScoreA != 50 {
		t.Fatalf("expected side A score 50, got %+v", result)
	}

	if _, err := service.ScoreGift(context.Background(), ScoreInput{
		SessionID: "session-1", RecipientID: "lurker", SenderID: "fan-2", CoinAmount: 20,
	}); !errors.Is(err, ErrNotRecipient) {
		t.Fatalf("expected ErrNotRecipient got %v", err)
	}

	score, _ := scores.FindScore(context.Background(), "session-1")
	if score.ScoreA != 50 || score.ScoreB != 0 {
		t.Fatalf("expected scores unchanged after rejected gift, got %+v", score)
	}
}
