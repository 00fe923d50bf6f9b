package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/liveloop/backend/internal/db"
)

// PostgresStreamRepository provides PostgreSQL-backed teardown of a
// streamer's live footprint: the stream row itself, grid slot claims, and
// room presence.
type PostgresStreamRepository struct {
	pool db.Pool
}

// NewPostgresStreamRepository constructs a stream repository backed by PostgreSQL.
func NewPostgresStreamRepository(pool db.Pool) *PostgresStreamRepository {
	return &PostgresStreamRepository{pool: pool}
}

// EndOwnedStreams marks every live stream owned by the profile as ended.
// Already-ended streams are untouched, so repeated calls are harmless.
func (r *PostgresStreamRepository) EndOwnedStreams(ctx context.Context, ownerID string, endedAt time.Time) (int64, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE live_streams
        SET live_available = FALSE, ended_at = $2
        WHERE owner_id = $1 AND live_available = TRUE
    `, ownerID, endedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("end owned streams: %w", err)
	}

	return tag.RowsAffected(), nil
}

// ClearGridSlots releases every grid slot the streamer holds.
func (r *PostgresStreamRepository) ClearGridSlots(ctx context.Context, streamerID string) (int64, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        DELETE FROM user_grid_slots
        WHERE streamer_id = $1
    `, streamerID)
	if err != nil {
		return 0, fmt.Errorf("clear grid slots: %w", err)
	}

	return tag.RowsAffected(), nil
}

// RemoveRoomPresence drops the profile's room presence rows.
func (r *PostgresStreamRepository) RemoveRoomPresence(ctx context.Context, profileID string) (int64, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        DELETE FROM room_presence
        WHERE profile_id = $1
    `, profileID)
	if err != nil {
		return 0, fmt.Errorf("remove room presence: %w", err)
	}

	return tag.RowsAffected(), nil
}
