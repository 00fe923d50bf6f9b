package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/liveloop/backend/internal/battle"
	"github.com/liveloop/backend/internal/db"
	"github.com/liveloop/backend/internal/models"
)

// PostgresSessionRepository provides PostgreSQL-backed persistence for live
// sessions and their invites.
type PostgresSessionRepository struct {
	pool db.Pool
}

// NewPostgresSessionRepository constructs a session repository backed by PostgreSQL.
func NewPostgresSessionRepository(pool db.Pool) *PostgresSessionRepository {
	return &PostgresSessionRepository{pool: pool}
}

// FindSession loads a live session by id.
func (r *PostgresSessionRepository) FindSession(ctx context.Context, id string) (models.LiveSession, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.LiveSession{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, host_a, host_b, type, mode, status, pending_accepts, started_at, ends_at, cooldown_ends_at, created_at
        FROM live_sessions
        WHERE id = $1
    `, id)

	var (
		session        models.LiveSession
		startedAt      sql.NullTime
		endsAt         sql.NullTime
		cooldownEndsAt sql.NullTime
	)
	if err := row.Scan(&session.ID, &session.HostA, &session.HostB, &session.Type, &session.Mode,
		&session.Status, &session.PendingAccepts, &startedAt, &endsAt, &cooldownEndsAt, &session.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.LiveSession{}, battle.ErrSessionNotFound
		}
		return models.LiveSession{}, fmt.Errorf("select live session: %w", err)
	}

	session.StartedAt = nullTimePtr(startedAt)
	session.EndsAt = nullTimePtr(endsAt)
	session.CooldownEndsAt = nullTimePtr(cooldownEndsAt)
	return session, nil
}

// CreateSession persists a new live session.
func (r *PostgresSessionRepository) CreateSession(ctx context.Context, session models.LiveSession) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO live_sessions (id, host_a, host_b, type, mode, status, pending_accepts, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `, session.ID, session.HostA, session.HostB, session.Type, session.Mode, session.Status, session.PendingAccepts, session.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("insert live session: %w", err)
	}

	return nil
}

// CreateInvite persists a new session invite.
func (r *PostgresSessionRepository) CreateInvite(ctx context.Context, invite models.SessionInvite) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO session_invites (id, session_id, from_host_id, to_host_id, type, mode, status, created_at, responded_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `, invite.ID, invite.SessionID, invite.FromHostID, invite.ToHostID, invite.Type, invite.Mode, invite.Status, invite.CreatedAt, nullTime(invite.RespondedAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return ErrConflict
			case "23503":
				return battle.ErrSessionNotFound
			}
		}
		return fmt.Errorf("insert session invite: %w", err)
	}

	return nil
}

// FindInvite loads a session invite by id.
func (r *PostgresSessionRepository) FindInvite(ctx context.Context, id string) (models.SessionInvite, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.SessionInvite{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, session_id, from_host_id, to_host_id, type, mode, status, created_at, responded_at
        FROM session_invites
        WHERE id = $1
    `, id)

	var (
		invite      models.SessionInvite
		respondedAt sql.NullTime
	)
	if err := row.Scan(&invite.ID, &invite.SessionID, &invite.FromHostID, &invite.ToHostID,
		&invite.Type, &invite.Mode, &invite.Status, &invite.CreatedAt, &respondedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.SessionInvite{}, battle.ErrInviteNotFound
		}
		return models.SessionInvite{}, fmt.Errorf("select session invite: %w", err)
	}

	invite.RespondedAt = nullTimePtr(respondedAt)
	return invite, nil
}

// ClaimInvite transitions a pending invite to the given status. The status
// guard in the WHERE clause is the linearization point: of two concurrent
// accepts, exactly one observes a row change.
func (r *PostgresSessionRepository) ClaimInvite(ctx context.Context, inviteID, status string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE session_invites
        SET status = $2, responded_at = $3
        WHERE id = $1 AND status = 'pending'
    `, inviteID, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("claim session invite: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return battle.ErrInviteResponded
	}

	return nil
}

// SetPendingAccepts resets the session's outstanding-accept counter.
func (r *PostgresSessionRepository) SetPendingAccepts(ctx context.Context, sessionID string, count int) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE live_sessions
        SET pending_accepts = $2
        WHERE id = $1
    `, sessionID, count)
	if err != nil {
		return fmt.Errorf("set pending accepts: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return battle.ErrSessionNotFound
	}

	return nil
}

// DecrementPendingAccepts atomically decrements the counter, stopping at
// zero, and returns the remaining count.
func (r *PostgresSessionRepository) DecrementPendingAccepts(ctx context.Context, sessionID string) (int, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        UPDATE live_sessions
        SET pending_accepts = GREATEST(pending_accepts - 1, 0)
        WHERE id = $1
        RETURNING pending_accepts
    `, sessionID)

	var remaining int
	if err := row.Scan(&remaining); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, battle.ErrSessionNotFound
		}
		return 0, fmt.Errorf("decrement pending accepts: %w", err)
	}

	return remaining, nil
}

// ActivateBattle flips the session into an active battle with the given
// window. The type guard in the WHERE clause keeps a stale accept from
// reviving a running or finished battle: once the session left the cohost
// state, the update observes no row.
func (r *PostgresSessionRepository) ActivateBattle(ctx context.Context, sessionID string, startedAt, endsAt time.Time) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE live_sessions
        SET type = $2, status = $3, started_at = $4, ends_at = $5
        WHERE id = $1 AND type = $6
    `, sessionID, models.SessionTypeBattle, models.SessionStatusActive, startedAt.UTC(), endsAt.UTC(), models.SessionTypeCohost)
	if err != nil {
		return fmt.Errorf("activate battle: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return battle.ErrInvalidState
	}

	return nil
}

// CancelPendingInvites marks every pending invite for the session cancelled.
func (r *PostgresSessionRepository) CancelPendingInvites(ctx context.Context, sessionID string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        UPDATE session_invites
        SET status = $2, responded_at = $3
        WHERE session_id = $1 AND status = 'pending'
    `, sessionID, models.InviteStatusCancelled, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("cancel pending invites: %w", err)
	}

	return nil
}

// SetCooldown moves the session into its cooldown window.
func (r *PostgresSessionRepository) SetCooldown(ctx context.Context, sessionID string, cooldownEndsAt time.Time) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE live_sessions
        SET status = $2, cooldown_ends_at = $3
        WHERE id = $1
    `, sessionID, models.SessionStatusCooldown, cooldownEndsAt.UTC())
	if err != nil {
		return fmt.Errorf("set session cooldown: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return battle.ErrSessionNotFound
	}

	return nil
}

// EndSession marks the session ended.
func (r *PostgresSessionRepository) EndSession(ctx context.Context, sessionID string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE live_sessions
        SET status = $2
        WHERE id = $1
    `, sessionID, models.SessionStatusEnded)
	if err != nil {
		return fmt.Errorf("end live session: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return battle.ErrSessionNotFound
	}

	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Valid: true, Time: t.UTC()}
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}

var _ battle.SessionStore = (*PostgresSessionRepository)(nil)
