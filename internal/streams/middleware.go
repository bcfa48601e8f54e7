package streams

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aura-webinar/livehost/internal/middleware"
	"github.com/aura-webinar/livehost/internal/models"
	"github.com/aura-webinar/livehost/pkg/response"
)

// ContextStream is the context key for the stream loaded by RequireStream.
const ContextStream = "stream"

// RequireStream loads the :id stream into the context. With owner set, only
// the stream's host passes. Call after JWT.
func RequireStream(store Store, owner bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			response.BadRequest(c, "invalid stream id")
			c.Abort()
			return
		}
		s, err := store.Get(c.Request.Context(), id)
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "stream not found")
			c.Abort()
			return
		}
		if err != nil {
			response.Internal(c, "failed to load stream")
			c.Abort()
			return
		}
		if owner && s.HostID != middleware.UserID(c) {
			response.Forbidden(c, "not the host of this stream")
			c.Abort()
			return
		}
		c.Set(ContextStream, s)
		c.Next()
	}
}

// Current returns the stream loaded by RequireStream.
func Current(c *gin.Context) *models.StreamSession {
	return c.MustGet(ContextStream).(*models.StreamSession)
}
