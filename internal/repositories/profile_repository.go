package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/liveloop/backend/internal/db"
	"github.com/liveloop/backend/internal/models"
	"github.com/liveloop/backend/internal/presence"
)

// PostgresProfileRepository provides PostgreSQL-backed identity lookups.
type PostgresProfileRepository struct {
	pool db.Pool
}

// NewPostgresProfileRepository constructs a profile repository backed by PostgreSQL.
func NewPostgresProfileRepository(pool db.Pool) *PostgresProfileRepository {
	return &PostgresProfileRepository{pool: pool}
}

// FindByIDs fetches profiles for the given ids, keyed by id. Ids without a
// matching profile are simply absent from the result.
func (r *PostgresProfileRepository) FindByIDs(ctx context.Context, ids []string) (map[string]models.Profile, error) {
	if len(ids) == 0 {
		return map[string]models.Profile{}, nil
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id, username, display_name, avatar_url
        FROM profiles
        WHERE id = ANY($1)
    `, ids)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.Profile, len(ids))
	for rows.Next() {
		var profile models.Profile
		if err := rows.Scan(&profile.ID, &profile.Username, &profile.DisplayName, &profile.AvatarURL); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out[profile.ID] = profile
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}

	return out, nil
}

// FindByID fetches a single profile.
func (r *PostgresProfileRepository) FindByID(ctx context.Context, id string) (models.Profile, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Profile{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, username, display_name, avatar_url
        FROM profiles
        WHERE id = $1
    `, id)

	var profile models.Profile
	if err := row.Scan(&profile.ID, &profile.Username, &profile.DisplayName, &profile.AvatarURL); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Profile{}, ErrNotFound
		}
		return models.Profile{}, fmt.Errorf("select profile: %w", err)
	}

	return profile, nil
}

var _ presence.ProfileDirectory = (*PostgresProfileRepository)(nil)
