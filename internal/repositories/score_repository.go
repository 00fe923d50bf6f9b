package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/liveloop/backend/internal/battle"
	"github.com/liveloop/backend/internal/db"
	"github.com/liveloop/backend/internal/models"
)

// PostgresScoreRepository provides PostgreSQL-backed persistence for battle
// scores and supporter contributions.
type PostgresScoreRepository struct {
	pool db.Pool
}

// NewPostgresScoreRepository constructs a score repository backed by PostgreSQL.
func NewPostgresScoreRepository(pool db.Pool) *PostgresScoreRepository {
	return &PostgresScoreRepository{pool: pool}
}

// FindScore loads the score row for a session.
func (r *PostgresScoreRepository) FindScore(ctx context.Context, sessionID string) (models.BattleScore, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.BattleScore{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT session_id, score_a, score_b, boost_active, boost_multiplier
        FROM battle_scores
        WHERE session_id = $1
    `, sessionID)

	var score models.BattleScore
	if err := row.Scan(&score.SessionID, &score.ScoreA, &score.ScoreB, &score.BoostActive, &score.BoostMultiplier); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.BattleScore{}, battle.ErrScoreNotFound
		}
		return models.BattleScore{}, fmt.Errorf("select battle score: %w", err)
	}

	return score, nil
}

// ApplyDelta increments the side's score and appends the supporter
// contribution in a single transaction. The increment happens in SQL, not
// read-modify-write, so concurrent gifts cannot lose points.
func (r *PostgresScoreRepository) ApplyDelta(ctx context.Context, sessionID, side string, points int64, contribution models.SupporterContribution) (models.BattleScore, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.BattleScore{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return models.BattleScore{}, fmt.Errorf("begin score transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var deltaA, deltaB int64
	if side == models.SideA {
		deltaA = points
	} else {
		deltaB = points
	}

	row := tx.QueryRow(ctx, `
        INSERT INTO battle_scores (session_id, score_a, score_b, boost_active, boost_multiplier)
        VALUES ($1, $2, $3, FALSE, 1)
        ON CONFLICT (session_id)
        DO UPDATE SET score_a = battle_scores.score_a + EXCLUDED.score_a,
                      score_b = battle_scores.score_b + EXCLUDED.score_b
        RETURNING session_id, score_a, score_b, boost_active, boost_multiplier
    `, sessionID, deltaA, deltaB)

	var score models.BattleScore
	if err := row.Scan(&score.SessionID, &score.ScoreA, &score.ScoreB, &score.BoostActive, &score.BoostMultiplier); err != nil {
		return models.BattleScore{}, fmt.Errorf("apply score delta: %w", err)
	}

	if _, err := tx.Exec(ctx, `
        INSERT INTO supporter_contributions (id, session_id, profile_id, username, display_name, avatar_url, side, points, chat_award, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `, contribution.ID, contribution.SessionID, contribution.ProfileID, contribution.Username, contribution.DisplayName,
		contribution.AvatarURL, contribution.Side, contribution.Points, contribution.ChatAward, contribution.CreatedAt); err != nil {
		return models.BattleScore{}, fmt.Errorf("insert supporter contribution: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.BattleScore{}, fmt.Errorf("commit score transaction: %w", err)
	}

	return score, nil
}

// ListContributions returns the session's contribution log, newest first.
func (r *PostgresScoreRepository) ListContributions(ctx context.Context, sessionID string, limit int) ([]models.SupporterContribution, error) {
	if limit <= 0 {
		limit = 100
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id, session_id, profile_id, username, display_name, avatar_url, side, points, chat_award, created_at
        FROM supporter_contributions
        WHERE session_id = $1
        ORDER BY created_at DESC
        LIMIT $2
    `, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query supporter contributions: %w", err)
	}
	defer rows.Close()

	var out []models.SupporterContribution
	for rows.Next() {
		var c models.SupporterContribution
		if err := rows.Scan(&c.ID, &c.SessionID, &c.ProfileID, &c.Username, &c.DisplayName, &c.AvatarURL, &c.Side, &c.Points, &c.ChatAward, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan supporter contribution: %w", err)
		}
		out = append(out, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate supporter contributions: %w", err)
	}

	return out, nil
}

var _ battle.ScoreStore = (*PostgresScoreRepository)(nil)
