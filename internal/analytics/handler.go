// Package analytics summarises one stream: audience, watch time and call revenue.
package analytics

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/aura-webinar/livehost/internal/models"
	"github.com/aura-webinar/livehost/internal/sessionlog"
	"github.com/aura-webinar/livehost/internal/streams"
	"github.com/aura-webinar/livehost/pkg/response"
)

// WatchSource aggregates viewer watch time.
type WatchSource interface {
	WatchAggregates(ctx context.Context, streamID string) (*sessionlog.WatchAggregates, error)
}

// CallSource lists a stream's calls.
type CallSource interface {
	List(ctx context.Context, streamID string) ([]models.CallRecord, error)
}

// AudienceCounter reports the viewers connected right now.
type AudienceCounter interface {
	ViewerCount(streamID string) int
}

// Handler handles GET /streams/:id/stats.
type Handler struct {
	watch    WatchSource
	calls    CallSource
	audience AudienceCounter
}

// NewHandler creates an analytics handler. audience may be nil.
func NewHandler(watch WatchSource, calls CallSource, audience AudienceCounter) *Handler {
	return &Handler{watch: watch, calls: calls, audience: audience}
}

// SummaryResponse is the JSON shape for stream stats.
type SummaryResponse struct {
	Status          models.StreamStatus `json:"status"`
	CurrentViewers  int                 `json:"current_viewers"`
	PeakViewers     int                 `json:"peak_viewers"`
	DistinctViewers int                 `json:"distinct_viewers"`
	AvgWatchSeconds int64               `json:"avg_watch_seconds"`
	CallsAccepted   int                 `json:"calls_accepted"`
	CallsRejected   int                 `json:"calls_rejected"`
	CallSeconds     int                 `json:"call_seconds"`
	Revenue         int64               `json:"revenue"`
	EndReasons      map[string]int      `json:"end_reasons,omitempty"`
}

// GetByStream handles GET /streams/:id/stats. Owner access is enforced by route middleware.
func (h *Handler) GetByStream(c *gin.Context) {
	s := streams.Current(c)
	ctx := c.Request.Context()
	streamID := s.ID.String()

	agg, err := h.watch.WatchAggregates(ctx, streamID)
	if err != nil {
		response.Internal(c, "failed to load watch time")
		return
	}
	list, err := h.calls.List(ctx, streamID)
	if err != nil {
		response.Internal(c, "failed to load calls")
		return
	}

	out := Summarize(s, agg, list)
	if h.audience != nil && s.Status == models.StreamLive {
		out.CurrentViewers = h.audience.ViewerCount(streamID)
	}
	response.OK(c, out)
}

// Summarize folds watch aggregates and call rows into a summary.
func Summarize(s *models.StreamSession, agg *sessionlog.WatchAggregates, list []models.CallRecord) SummaryResponse {
	out := SummaryResponse{Status: s.Status, PeakViewers: s.PeakViewers}
	if agg != nil {
		out.DistinctViewers = agg.DistinctViewers
		if agg.DistinctViewers > 0 {
			out.AvgWatchSeconds = agg.TotalWatchSeconds / int64(agg.DistinctViewers)
		}
	}
	for _, rec := range list {
		switch rec.Status {
		case models.CallRejected:
			out.CallsRejected++
			continue
		case models.CallEnded:
			if out.EndReasons == nil {
				out.EndReasons = make(map[string]int)
			}
			out.EndReasons[string(rec.EndReason)]++
		}
		out.CallsAccepted++
		out.CallSeconds += rec.DurationSec
		out.Revenue += rec.Charge
	}
	return out
}
