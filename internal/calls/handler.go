package calls

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/livehost/internal/callbridge"
	"github.com/aura-webinar/livehost/internal/models"
	"github.com/aura-webinar/livehost/internal/streams"
	"github.com/aura-webinar/livehost/internal/transport"
	"github.com/aura-webinar/livehost/pkg/response"
)

// Store is the calls persistence used by the handler.
type Store interface {
	Accept(ctx context.Context, rec *models.CallRecord) error
	Reject(ctx context.Context, streamID, userID string) error
	Active(ctx context.Context, streamID string) (*models.CallRecord, error)
	End(ctx context.Context, streamID, userID string, durationSec int, charge int64, reason models.EndReason) (*models.CallRecord, error)
	List(ctx context.Context, streamID string) ([]models.CallRecord, error)
}

// AcceptRequest is the body for POST /streams/:id/calls/:userId/accept.
type AcceptRequest struct {
	CallType models.CallKind   `json:"callType" binding:"required"`
	CallMode models.Visibility `json:"callMode"`
}

// EndRequest is the body for POST /streams/:id/calls/end. The host's charge
// is informational; the service computes its own.
type EndRequest struct {
	UserID   string           `json:"userId"`
	Duration int              `json:"duration" binding:"min=0"`
	Charge   int64            `json:"charge"`
	Reason   models.EndReason `json:"reason"`
}

// Handler handles call HTTP endpoints.
type Handler struct {
	store  Store
	rates  callbridge.Rates
	logger *zap.Logger
	now    func() time.Time
}

// NewHandler creates a calls handler.
func NewHandler(store Store, rates callbridge.Rates, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, rates: rates, logger: logger, now: time.Now}
}

// ActiveCaller returns the user id of the stream's accepted call, or "".
func (h *Handler) ActiveCaller(ctx context.Context, streamID string) (string, error) {
	rec, err := h.store.Active(ctx, streamID)
	if errors.Is(err, ErrNoActiveCall) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return rec.UserID, nil
}

// CloseActive settles the stream's accepted call with the time elapsed
// since it was accepted. It reports false when no call was open.
func (h *Handler) CloseActive(ctx context.Context, streamID string, reason models.EndReason) (bool, error) {
	active, err := h.store.Active(ctx, streamID)
	if errors.Is(err, ErrNoActiveCall) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	duration := int(h.now().Sub(active.AcceptedAt) / time.Second)
	if duration < 0 {
		duration = 0
	}
	charge := models.ChargeFor(duration, h.rates.For(active.Kind))
	rec, err := h.store.End(ctx, streamID, active.UserID, duration, charge, reason)
	if errors.Is(err, ErrNoActiveCall) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	h.logger.Info("call closed", zap.String("stream_id", streamID), zap.String("user_id", rec.UserID),
		zap.Int("duration", rec.DurationSec), zap.Int64("charge", rec.Charge), zap.String("reason", string(rec.EndReason)))
	return true, nil
}

func liveStream(c *gin.Context) (*models.StreamSession, bool) {
	s := streams.Current(c)
	if s.Status != models.StreamLive {
		response.Conflict(c, "stream is not live")
		return nil, false
	}
	return s, true
}

// Accept handles POST /streams/:id/calls/:userId/accept.
func (h *Handler) Accept(c *gin.Context) {
	s, ok := liveStream(c)
	if !ok {
		return
	}
	var req AcceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !req.CallType.Valid() {
		response.BadRequest(c, "callType must be voice or video")
		return
	}
	switch req.CallMode {
	case "":
		req.CallMode = models.VisibilityPublic
	case models.VisibilityPublic, models.VisibilityPrivate:
	default:
		response.BadRequest(c, "callMode must be public or private")
		return
	}
	userID := c.Param("userId")
	if userID == s.HostID {
		response.BadRequest(c, "host cannot call their own stream")
		return
	}

	rec := &models.CallRecord{
		StreamID:    s.ID.String(),
		UserID:      userID,
		Kind:        req.CallType,
		Visibility:  req.CallMode,
		TransportID: transport.ID(userID),
	}
	if err := h.store.Accept(c.Request.Context(), rec); err != nil {
		if errors.Is(err, ErrCallActive) {
			response.Conflict(c, "stream already has an active call")
			return
		}
		h.logger.Error("accept call", zap.String("stream_id", rec.StreamID), zap.String("user_id", userID), zap.Error(err))
		response.Internal(c, "failed to accept call")
		return
	}
	h.logger.Info("call accepted", zap.String("stream_id", rec.StreamID), zap.String("user_id", userID), zap.String("kind", string(rec.Kind)))
	response.OK(c, gin.H{"callerTransportId": rec.TransportID, "call": rec})
}

// Reject handles POST /streams/:id/calls/:userId/reject.
func (h *Handler) Reject(c *gin.Context) {
	s := streams.Current(c)
	if err := h.store.Reject(c.Request.Context(), s.ID.String(), c.Param("userId")); err != nil {
		response.Internal(c, "failed to reject call")
		return
	}
	response.OK(c, gin.H{"rejected": true})
}

// End handles POST /streams/:id/calls/end. Ending when no call is active
// succeeds with a zero charge.
func (h *Handler) End(c *gin.Context) {
	s := streams.Current(c)
	var req EndRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = models.EndHostEnded
	}
	ctx := c.Request.Context()
	streamID := s.ID.String()

	active, err := h.store.Active(ctx, streamID)
	if errors.Is(err, ErrNoActiveCall) || (err == nil && req.UserID != "" && active.UserID != req.UserID) {
		response.OK(c, gin.H{"charge": 0, "settled": false})
		return
	}
	if err != nil {
		response.Internal(c, "failed to load call")
		return
	}

	charge := models.ChargeFor(req.Duration, h.rates.For(active.Kind))
	rec, err := h.store.End(ctx, streamID, active.UserID, req.Duration, charge, req.Reason)
	if errors.Is(err, ErrNoActiveCall) {
		response.OK(c, gin.H{"charge": 0, "settled": false})
		return
	}
	if err != nil {
		h.logger.Error("end call", zap.String("stream_id", streamID), zap.Error(err))
		response.Internal(c, "failed to end call")
		return
	}
	if req.Charge != charge {
		h.logger.Info("host charge differs", zap.String("stream_id", streamID), zap.Int64("host", req.Charge), zap.Int64("service", charge))
	}
	h.logger.Info("call ended", zap.String("stream_id", streamID), zap.String("user_id", rec.UserID),
		zap.Int("duration", rec.DurationSec), zap.Int64("charge", rec.Charge), zap.String("reason", string(rec.EndReason)))
	response.OK(c, gin.H{"charge": rec.Charge, "settled": true, "call": rec})
}

// List handles GET /streams/:id/calls.
func (h *Handler) List(c *gin.Context) {
	list, err := h.store.List(c.Request.Context(), streams.Current(c).ID.String())
	if err != nil {
		response.Internal(c, "failed to list calls")
		return
	}
	if list == nil {
		list = []models.CallRecord{}
	}
	response.OK(c, list)
}

// Register mounts the call routes. owned must load the stream and check its
// owner (see streams.RequireStream).
func (h *Handler) Register(rg *gin.RouterGroup, hostOnly, owned gin.HandlerFunc) {
	g := rg.Group("/streams/:id/calls", hostOnly, owned)
	g.GET("", h.List)
	g.POST("/end", h.End)
	g.POST("/:userId/accept", h.Accept)
	g.POST("/:userId/reject", h.Reject)
}
