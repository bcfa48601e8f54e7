package sessionlog

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/livehost/internal/streams"
	"github.com/aura-webinar/livehost/pkg/response"
)

// Store is the viewer log used by the handler and the hub hooks.
type Store interface {
	LogJoin(ctx context.Context, streamID, userID string) error
	LogLeave(ctx context.Context, streamID, userID string) error
	ListByStream(ctx context.Context, streamID string) ([]ViewerRow, error)
}

// Handler handles GET /streams/:id/viewers.
type Handler struct {
	store  Store
	logger *zap.Logger
}

// NewHandler creates a viewer log handler.
func NewHandler(store Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger}
}

// GetViewers handles GET /streams/:id/viewers (owner only).
func (h *Handler) GetViewers(c *gin.Context) {
	list, err := h.store.ListByStream(c.Request.Context(), streams.Current(c).ID.String())
	if err != nil {
		response.Internal(c, "failed to list viewers")
		return
	}
	if list == nil {
		list = []ViewerRow{}
	}
	response.OK(c, gin.H{"viewers": list})
}

// Hooks returns hub callbacks that log viewer joins and leaves. Each write
// gets its own timeout.
func (h *Handler) Hooks(timeout time.Duration) (join func(streamID, userID string), leave func(streamID, userID string)) {
	run := func(op string, fn func(ctx context.Context) error, streamID, userID string) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			h.logger.Warn("viewer log "+op, zap.String("stream_id", streamID), zap.String("user_id", userID), zap.Error(err))
		}
	}
	join = func(streamID, userID string) {
		run("join", func(ctx context.Context) error { return h.store.LogJoin(ctx, streamID, userID) }, streamID, userID)
	}
	leave = func(streamID, userID string) {
		run("leave", func(ctx context.Context) error { return h.store.LogLeave(ctx, streamID, userID) }, streamID, userID)
	}
	return join, leave
}
