// Package calls persists and settles the 1:1 calls bridged into a stream.
package calls

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/livehost/internal/models"
)

var (
	ErrCallActive   = errors.New("stream already has an active call")
	ErrNoActiveCall = errors.New("no active call")
)

const callColumns = `id, stream_id::text, user_id, kind, visibility, transport_id, status, accepted_at, ended_at, duration_sec, charge, end_reason`

// Repository handles calls persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a calls repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanCall(row pgx.Row) (*models.CallRecord, error) {
	var r models.CallRecord
	err := row.Scan(&r.ID, &r.StreamID, &r.UserID, &r.Kind, &r.Visibility, &r.TransportID, &r.Status, &r.AcceptedAt, &r.EndedAt, &r.DurationSec, &r.Charge, &r.EndReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoActiveCall
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Accept inserts an accepted call. A stream holds one accepted call at a time.
func (r *Repository) Accept(ctx context.Context, rec *models.CallRecord) error {
	const q = `INSERT INTO calls (stream_id, user_id, kind, visibility, transport_id, status)
		VALUES ($1, $2, $3, $4, $5, 'accepted')
		RETURNING ` + callColumns
	got, err := scanCall(r.pool.QueryRow(ctx, q, rec.StreamID, rec.UserID, rec.Kind, rec.Visibility, rec.TransportID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrCallActive
		}
		return err
	}
	*rec = *got
	return nil
}

// Reject records a declined request.
func (r *Repository) Reject(ctx context.Context, streamID, userID string) error {
	const q = `INSERT INTO calls (stream_id, user_id, status, ended_at) VALUES ($1, $2, 'rejected', NOW())`
	_, err := r.pool.Exec(ctx, q, streamID, userID)
	return err
}

// Active returns the stream's accepted call.
func (r *Repository) Active(ctx context.Context, streamID string) (*models.CallRecord, error) {
	return scanCall(r.pool.QueryRow(ctx, `SELECT `+callColumns+` FROM calls WHERE stream_id = $1 AND status = 'accepted'`, streamID))
}

// End settles the stream's accepted call. An empty userID matches any caller.
func (r *Repository) End(ctx context.Context, streamID, userID string, durationSec int, charge int64, reason models.EndReason) (*models.CallRecord, error) {
	const q = `UPDATE calls SET status = 'ended', ended_at = NOW(), duration_sec = $3, charge = $4, end_reason = $5
		WHERE stream_id = $1 AND status = 'accepted' AND ($2 = '' OR user_id = $2)
		RETURNING ` + callColumns
	return scanCall(r.pool.QueryRow(ctx, q, streamID, userID, durationSec, charge, reason))
}

// List returns a stream's calls, oldest first.
func (r *Repository) List(ctx context.Context, streamID string) ([]models.CallRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+callColumns+` FROM calls WHERE stream_id = $1 ORDER BY accepted_at, id`, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.CallRecord
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *rec)
	}
	return list, rows.Err()
}
