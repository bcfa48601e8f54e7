package streams

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livehost/internal/middleware"
	"github.com/aura-webinar/livehost/internal/models"
	"github.com/aura-webinar/livehost/internal/realtime"
	"github.com/aura-webinar/livehost/internal/signaling"
	"github.com/aura-webinar/livehost/internal/transport"
	"github.com/aura-webinar/livehost/pkg/response"
)

// Store is the stream persistence used by the handler.
type Store interface {
	Create(ctx context.Context, s *models.StreamSession) error
	Get(ctx context.Context, id uuid.UUID) (*models.StreamSession, error)
	End(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateMedia(ctx context.Context, id uuid.UUID, m models.MediaState) error
	UpdatePeakViewers(ctx context.Context, id uuid.UUID, viewers int) error
	IsLiveHost(ctx context.Context, id uuid.UUID, hostID string) (bool, error)
	ListLive(ctx context.Context, limit int) ([]models.StreamSession, error)
}

// Notifier reaches the clients connected to a stream.
type Notifier interface {
	Send(streamID string, target realtime.Target, event string, payload any)
	CloseStream(streamID string)
}

// Calls is the stream's view of its bridged call.
type Calls interface {
	// ActiveCaller reports the user currently bridged into a stream, or "".
	ActiveCaller(ctx context.Context, streamID string) (string, error)
	// CloseActive settles a call still open when its stream ends.
	CloseActive(ctx context.Context, streamID string, reason models.EndReason) (bool, error)
}

// CreateRequest is the body for POST /streams.
type CreateRequest struct {
	Kind  models.CallKind `json:"kind" binding:"required"`
	Title string          `json:"title"`
}

// Handler handles stream HTTP endpoints.
type Handler struct {
	store   Store
	issuer  transport.Issuer
	notify  Notifier
	calls   Calls
	logger  *zap.Logger
}

// NewHandler creates a stream handler. calls may be nil.
func NewHandler(store Store, issuer transport.Issuer, notify Notifier, calls Calls, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, issuer: issuer, notify: notify, calls: calls, logger: logger}
}

// Create handles POST /streams (host only).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !req.Kind.Valid() {
		response.BadRequest(c, "kind must be voice or video")
		return
	}

	hostID := middleware.UserID(c)
	s := &models.StreamSession{
		ID:     uuid.New(),
		HostID: hostID,
		Title:  strings.TrimSpace(req.Title),
		Kind:   req.Kind,
	}
	s.Channel = transport.ChannelName(s.ID.String())
	creds, err := h.issuer.Issue(transport.Grant{
		Channel: s.Channel,
		UserID:  hostID,
		Name:    c.GetString(middleware.ContextUserName),
		Publish: true,
	})
	if err != nil {
		h.logger.Error("issue host credentials", zap.String("provider", h.issuer.Provider()), zap.Error(err))
		response.ServiceUnavailable(c, "media transport unavailable")
		return
	}
	s.Credentials = creds

	if err := h.store.Create(c.Request.Context(), s); err != nil {
		if errors.Is(err, ErrAlreadyLive) {
			response.Conflict(c, "you already have a live stream")
			return
		}
		h.logger.Error("create stream", zap.String("host_id", hostID), zap.Error(err))
		response.Internal(c, "failed to create stream")
		return
	}
	h.logger.Info("stream started", zap.String("stream_id", s.ID.String()), zap.String("kind", string(s.Kind)))
	response.Created(c, s)
}

// Get handles GET /streams/:id.
func (h *Handler) Get(c *gin.Context) {
	response.OK(c, Current(c))
}

// ListLive handles GET /streams.
func (h *Handler) ListLive(c *gin.Context) {
	list, err := h.store.ListLive(c.Request.Context(), 50)
	if err != nil {
		response.Internal(c, "failed to list streams")
		return
	}
	if list == nil {
		list = []models.StreamSession{}
	}
	response.OK(c, list)
}

// End handles POST /streams/:id/end (owner only). Ending twice is not an
// error. A call still open on the stream is settled with session_ended.
func (h *Handler) End(c *gin.Context) {
	s := Current(c)
	ctx := c.Request.Context()
	streamID := s.ID.String()
	ended, err := h.store.End(ctx, s.ID)
	if err != nil {
		h.logger.Error("end stream", zap.String("stream_id", streamID), zap.Error(err))
		response.Internal(c, "failed to end stream")
		return
	}
	if ended && h.notify != nil {
		h.notify.Send(streamID, realtime.TargetViewers, signaling.EventStreamEnded, gin.H{"streamId": streamID})
		h.notify.CloseStream(streamID)
		h.logger.Info("stream ended", zap.String("stream_id", streamID))
	}
	if h.calls != nil {
		closed, err := h.calls.CloseActive(ctx, streamID, models.EndSessionEnded)
		if err != nil {
			h.logger.Error("close call of ended stream", zap.String("stream_id", streamID), zap.Error(err))
			response.Internal(c, "failed to close call")
			return
		}
		if closed {
			h.logger.Info("closed call left open by stream end", zap.String("stream_id", streamID))
		}
	}
	response.OK(c, gin.H{"ended": true})
}

// UpdateMedia handles PATCH /streams/:id/media (owner only).
func (h *Handler) UpdateMedia(c *gin.Context) {
	s := Current(c)
	var req models.MediaState
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.CameraFacing != "" && req.CameraFacing != models.FacingFront && req.CameraFacing != models.FacingBack {
		response.BadRequest(c, "camera_facing must be front or back")
		return
	}
	if s.Kind == models.KindVoice {
		req.CameraEnabled = false
	}
	if err := h.store.UpdateMedia(c.Request.Context(), s.ID, req); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.Conflict(c, "stream is not live")
			return
		}
		response.Internal(c, "failed to update media")
		return
	}
	response.OK(c, req)
}

// Token handles GET /streams/:id/token: viewer credentials for the media
// channel. Only the active caller may publish.
func (h *Handler) Token(c *gin.Context) {
	s := Current(c)
	if s.Status != models.StreamLive {
		response.Conflict(c, "stream is not live")
		return
	}
	userID := middleware.UserID(c)
	publish := false
	if h.calls != nil {
		caller, err := h.calls.ActiveCaller(c.Request.Context(), s.ID.String())
		if err != nil {
			response.Internal(c, "failed to check call state")
			return
		}
		publish = caller != "" && caller == userID
	}
	creds, err := h.issuer.Issue(transport.Grant{
		Channel: s.Channel,
		UserID:  userID,
		Name:    c.GetString(middleware.ContextUserName),
		Publish: publish,
	})
	if err != nil {
		response.ServiceUnavailable(c, "media transport unavailable")
		return
	}
	response.OK(c, gin.H{"channel": s.Channel, "publish": publish, "credentials": creds})
}

// TrackAudience returns a hub audience handler that raises peak_viewers.
func (h *Handler) TrackAudience(ctx context.Context) realtime.AudienceChangeHandler {
	return func(streamID string, viewers int) {
		id, err := uuid.Parse(streamID)
		if err != nil {
			return
		}
		if err := h.store.UpdatePeakViewers(ctx, id, viewers); err != nil {
			h.logger.Warn("update peak viewers", zap.String("stream_id", streamID), zap.Error(err))
		}
	}
}

// HostCheck adapts the store for websocket host registration.
func (h *Handler) HostCheck() realtime.HostCheck {
	return func(ctx context.Context, streamID, userID string) (bool, error) {
		id, err := uuid.Parse(streamID)
		if err != nil {
			return false, nil
		}
		return h.store.IsLiveHost(ctx, id, userID)
	}
}

// Register mounts the stream routes on an authenticated group.
func (h *Handler) Register(rg *gin.RouterGroup, hostOnly gin.HandlerFunc) {
	rg.GET("/streams", h.ListLive)
	rg.POST("/streams", hostOnly, h.Create)
	rg.GET("/streams/:id", RequireStream(h.store, false), h.Get)
	rg.GET("/streams/:id/token", RequireStream(h.store, false), h.Token)
	owned := rg.Group("/streams/:id", hostOnly, RequireStream(h.store, true))
	owned.POST("/end", h.End)
	owned.PATCH("/media", h.UpdateMedia)
}
