// Package sessionlog records when viewers join and leave a stream.
package sessionlog

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ViewerRow is one row for GET /streams/:id/viewers.
type ViewerRow struct {
	UserID       string     `json:"user_id"`
	JoinedAt     time.Time  `json:"joined_at"`
	LeftAt       *time.Time `json:"left_at,omitempty"`
	WatchSeconds int64      `json:"watch_seconds"`
}

// WatchAggregates holds total watch time and distinct viewer count for a stream.
type WatchAggregates struct {
	TotalWatchSeconds int64
	DistinctViewers   int
}

// Repository handles viewer_sessions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a viewer session log repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LogJoin inserts a row when a viewer connects to a stream.
func (r *Repository) LogJoin(ctx context.Context, streamID, userID string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO viewer_sessions (stream_id, user_id, joined_at) VALUES ($1, $2, NOW())`,
		streamID, userID)
	return err
}

// LogLeave closes the viewer's most recent open row for the stream.
func (r *Repository) LogLeave(ctx context.Context, streamID, userID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE viewer_sessions v SET left_at = NOW(), watch_seconds = GREATEST(0, EXTRACT(EPOCH FROM (NOW() - v.joined_at))::BIGINT)
		 FROM (SELECT id FROM viewer_sessions WHERE stream_id = $1 AND user_id = $2 AND left_at IS NULL ORDER BY joined_at DESC LIMIT 1) AS sub
		 WHERE v.id = sub.id`,
		streamID, userID)
	return err
}

// WatchAggregates sums closed rows of a stream.
func (r *Repository) WatchAggregates(ctx context.Context, streamID string) (*WatchAggregates, error) {
	const q = `SELECT COALESCE(SUM(watch_seconds), 0), COUNT(DISTINCT user_id) FROM viewer_sessions WHERE stream_id = $1 AND left_at IS NOT NULL`
	var agg WatchAggregates
	if err := r.pool.QueryRow(ctx, q, streamID).Scan(&agg.TotalWatchSeconds, &agg.DistinctViewers); err != nil {
		return nil, err
	}
	return &agg, nil
}

// ListByStream returns a stream's viewer sessions, newest first.
func (r *Repository) ListByStream(ctx context.Context, streamID string) ([]ViewerRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, joined_at, left_at, watch_seconds
		 FROM viewer_sessions WHERE stream_id = $1 ORDER BY joined_at DESC`,
		streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []ViewerRow
	for rows.Next() {
		var row ViewerRow
		if err := rows.Scan(&row.UserID, &row.JoinedAt, &row.LeftAt, &row.WatchSeconds); err != nil {
			return nil, err
		}
		list = append(list, row)
	}
	return list, rows.Err()
}
