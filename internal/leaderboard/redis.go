package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/liveloop/backend/internal/battle"
)

// Redis maintains per-battle supporter rankings in a sorted set. The set is
// a fast read path over the append-only contribution log; losing it costs a
// leaderboard rebuild, never score integrity.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis constructs a leaderboard over the provided client. Keys expire
// after ttl so finished battles do not accumulate forever.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Redis{client: client, ttl: ttl}
}

// Record adds points to a supporter's total for the session.
func (r *Redis) Record(ctx context.Context, sessionID, profileID string, points int64) error {
	key := supporterKey(sessionID)

	pipe := r.client.TxPipeline()
	pipe.ZIncrBy(ctx, key, float64(points), profileID)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("increment supporter score: %w", err)
	}
	return nil
}

// Top returns the highest-contributing supporters for the session.
func (r *Redis) Top(ctx context.Context, sessionID string, limit int64) ([]battle.SupporterRank, error) {
	if limit <= 0 {
		limit = 10
	}

	members, err := r.client.ZRevRangeWithScores(ctx, supporterKey(sessionID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read supporter ranking: %w", err)
	}

	ranks := make([]battle.SupporterRank, 0, len(members))
	for _, member := range members {
		profileID, ok := member.Member.(string)
		if !ok {
			continue
		}
		ranks = append(ranks, battle.SupporterRank{
			ProfileID: profileID,
			Points:    int64(member.Score),
		})
	}
	return ranks, nil
}

// Clear drops the session's ranking, typically after archival.
func (r *Redis) Clear(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, supporterKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("clear supporter ranking: %w", err)
	}
	return nil
}

func supporterKey(sessionID string) string {
	return fmt.Sprintf("battle:%s:supporters", sessionID)
}

var _ battle.Leaderboard = (*Redis)(nil)
