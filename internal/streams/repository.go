package streams

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/livehost/internal/models"
)

var (
	ErrNotFound    = errors.New("stream not found")
	ErrAlreadyLive = errors.New("host already has a live stream")
)

const uniqueViolation = "23505"

const sessionColumns = `id, host_id, title, channel, kind, status, mic_enabled, camera_enabled, camera_facing, peak_viewers, started_at, ended_at, created_at, updated_at`

// Repository handles stream_sessions persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a stream sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanSession(row pgx.Row) (*models.StreamSession, error) {
	var s models.StreamSession
	err := row.Scan(&s.ID, &s.HostID, &s.Title, &s.Channel, &s.Kind, &s.Status, &s.MicEnabled, &s.CameraEnabled, &s.CameraFacing, &s.PeakViewers, &s.StartedAt, &s.EndedAt, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a live stream session. s.ID and s.Channel must be set.
func (r *Repository) Create(ctx context.Context, s *models.StreamSession) error {
	const q = `INSERT INTO stream_sessions (id, host_id, title, channel, kind, status, mic_enabled, camera_enabled, camera_facing)
		VALUES ($1, $2, $3, $4, $5, 'live', TRUE, $6, 'front')
		RETURNING ` + sessionColumns
	created, err := scanSession(r.pool.QueryRow(ctx, q, s.ID, s.HostID, s.Title, s.Channel, s.Kind, s.Kind == models.KindVideo))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrAlreadyLive
		}
		return err
	}
	creds := s.Credentials
	*s = *created
	s.Credentials = creds
	return nil
}

// Get returns a stream session by ID.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.StreamSession, error) {
	return scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM stream_sessions WHERE id = $1`, id))
}

// End marks a live session ended. It reports false when it was not live.
func (r *Repository) End(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `UPDATE stream_sessions SET status = 'ended', ended_at = NOW(), updated_at = NOW() WHERE id = $1 AND status = 'live'`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateMedia persists the host's mic and camera flags.
func (r *Repository) UpdateMedia(ctx context.Context, id uuid.UUID, m models.MediaState) error {
	const q = `UPDATE stream_sessions SET mic_enabled = $1, camera_enabled = $2, camera_facing = COALESCE(NULLIF($3, ''), camera_facing), updated_at = NOW()
		WHERE id = $4 AND status = 'live'`
	tag, err := r.pool.Exec(ctx, q, m.MicEnabled, m.CameraEnabled, m.CameraFacing, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePeakViewers raises peak_viewers when viewers exceeds it.
func (r *Repository) UpdatePeakViewers(ctx context.Context, id uuid.UUID, viewers int) error {
	const q = `UPDATE stream_sessions SET peak_viewers = $1, updated_at = NOW() WHERE id = $2 AND $1 > peak_viewers`
	_, err := r.pool.Exec(ctx, q, viewers, id)
	return err
}

// IsLiveHost reports whether hostID owns the live stream id.
func (r *Repository) IsLiveHost(ctx context.Context, id uuid.UUID, hostID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM stream_sessions WHERE id = $1 AND host_id = $2 AND status = 'live')`
	var ok bool
	err := r.pool.QueryRow(ctx, q, id, hostID).Scan(&ok)
	return ok, err
}

// ListLive returns live sessions, newest first.
func (r *Repository) ListLive(ctx context.Context, limit int) ([]models.StreamSession, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sessionColumns+` FROM stream_sessions WHERE status = 'live' ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.StreamSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}
