package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/liveloop/backend/internal/db"
	"github.com/liveloop/backend/internal/models"
	"github.com/liveloop/backend/internal/presence"
)

// PostgresPresenceRepository provides PostgreSQL-backed persistence for
// viewer presence rows.
type PostgresPresenceRepository struct {
	pool db.Pool
}

// NewPostgresPresenceRepository constructs a presence repository backed by PostgreSQL.
func NewPostgresPresenceRepository(pool db.Pool) *PostgresPresenceRepository {
	return &PostgresPresenceRepository{pool: pool}
}

// Upsert stores or refreshes a presence row keyed on (stream_id, viewer_id).
func (r *PostgresPresenceRepository) Upsert(ctx context.Context, row models.ViewerPresence) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO viewer_presence (stream_id, viewer_id, is_active, is_unmuted, is_visible, is_subscribed, last_active_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (stream_id, viewer_id)
        DO UPDATE SET is_active = EXCLUDED.is_active,
                      is_unmuted = EXCLUDED.is_unmuted,
                      is_visible = EXCLUDED.is_visible,
                      is_subscribed = EXCLUDED.is_subscribed,
                      last_active_at = EXCLUDED.last_active_at
    `, row.StreamID, row.ViewerID, row.IsActive, row.IsUnmuted, row.IsVisible, row.IsSubscribed, row.LastActiveAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert viewer presence: %w", err)
	}

	return nil
}

// ListRecent returns up to limit presence rows for the stream ordered by
// most recent heartbeat.
func (r *PostgresPresenceRepository) ListRecent(ctx context.Context, streamID int64, limit int) ([]models.ViewerPresence, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT stream_id, viewer_id, is_active, is_unmuted, is_visible, is_subscribed, last_active_at
        FROM viewer_presence
        WHERE stream_id = $1
        ORDER BY last_active_at DESC
        LIMIT $2
    `, streamID, limit)
	if err != nil {
		return nil, fmt.Errorf("query viewer presence: %w", err)
	}
	defer rows.Close()

	var out []models.ViewerPresence
	for rows.Next() {
		var row models.ViewerPresence
		if err := rows.Scan(&row.StreamID, &row.ViewerID, &row.IsActive, &row.IsUnmuted, &row.IsVisible, &row.IsSubscribed, &row.LastActiveAt); err != nil {
			return nil, fmt.Errorf("scan viewer presence: %w", err)
		}
		row.LastActiveAt = row.LastActiveAt.UTC()
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate viewer presence: %w", err)
	}

	return out, nil
}

// DeleteIdle removes presence rows whose last heartbeat predates olderThan.
func (r *PostgresPresenceRepository) DeleteIdle(ctx context.Context, olderThan time.Time) (int64, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        DELETE FROM viewer_presence
        WHERE last_active_at < $1
    `, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete idle presence: %w", err)
	}

	return tag.RowsAffected(), nil
}

var _ presence.Store = (*PostgresPresenceRepository)(nil)
