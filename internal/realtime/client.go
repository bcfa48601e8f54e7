package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/aura-webinar/livehost/internal/metrics"
	"github.com/aura-webinar/livehost/internal/signaling"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Identity is who a connection belongs to, taken from its token.
type Identity struct {
	UserID   string
	UserName string
	Role     string
}

// HostCheck reports whether userID hosts the live stream.
type HostCheck func(ctx context.Context, streamID, userID string) (bool, error)

// Client represents a single WebSocket connection in a stream room.
type Client struct {
	ID       string
	StreamID string
	UserID   string
	UserName string
	Role     string
	JoinedAt time.Time

	hub       *Hub
	conn      *websocket.Conn
	send      chan signaling.Message
	done      chan struct{}
	closeOnce sync.Once
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
// Host connections are checked against the stream owner when isHost is set.
func ServeWs(hub *Hub, logger *zap.Logger, validate func(token string) (Identity, error), isHost HostCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		streamID := c.Query("stream_id")
		token := c.Query("token")
		if streamID == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "stream_id and token required"})
			return
		}
		if _, err := uuid.Parse(streamID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream_id"})
			return
		}
		id, err := validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if id.Role == RoleHost && isHost != nil {
			ok, err := isHost(c.Request.Context(), streamID, id.UserID)
			if err != nil {
				logger.Error("host check failed", zap.String("stream_id", streamID), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "host check failed"})
				return
			}
			if !ok {
				c.JSON(http.StatusForbidden, gin.H{"error": "not the host of this stream"})
				return
			}
		}
		if id.Role != RoleHost {
			id.Role = RoleViewer
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:       uuid.New().String(),
			StreamID: streamID,
			UserID:   id.UserID,
			UserName: id.UserName,
			Role:     id.Role,
			JoinedAt: time.Now(),
			hub:      hub,
			conn:     conn,
			send:     make(chan signaling.Message, 256),
			done:     make(chan struct{}),
			limiter:  rate.NewLimiter(rate.Limit(hub.cfg.MessageRate), hub.cfg.MessageBurst),
			logger:   logger.With(zap.String("stream_id", streamID), zap.String("user_id", id.UserID)),
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	for {
		var msg signaling.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))

		if c.Role != RoleHost && !c.limiter.Allow() {
			metrics.HubThrottled()
			continue
		}
		metrics.HubMessage(msg.Event)
		if c.Role == RoleHost {
			c.routeHost(msg)
		} else {
			c.routeViewer(msg)
		}
	}
}

// routeHost relays what the broadcaster sends to its audience.
func (c *Client) routeHost(msg signaling.Message) {
	h := c.hub
	switch msg.Event {
	case signaling.EventRegisterHost:
		var p signaling.RegisterHost
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.StreamID != c.StreamID {
			c.logger.Warn("register_host for another stream", zap.String("payload_stream_id", p.StreamID))
			return
		}
		c.logger.Info("host registered")
		c.enqueue(signaling.EventViewerCountUpdated, signaling.ViewerCountUpdated{Count: h.ViewerCount(c.StreamID)})
	case signaling.EventStreamHeartbeat:
		c.logger.Debug("host heartbeat")
	case signaling.EventCallAccepted:
		h.Send(c.StreamID, TargetViewers, msg.Event, msg.Data)
		h.startCallTimer(c.StreamID)
	case signaling.EventCallRejected:
		var p signaling.CallRejected
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.UserID == "" {
			return
		}
		h.Send(c.StreamID, TargetUser(p.UserID), msg.Event, msg.Data)
	case signaling.EventCallEnded:
		h.Send(c.StreamID, TargetViewers, msg.Event, msg.Data)
		h.stopCallTimer(c.StreamID, true)
	case signaling.EventHostMicToggled, signaling.EventHostCameraToggled:
		h.Send(c.StreamID, TargetViewers, msg.Event, msg.Data)
	default:
		// ignore
	}
}

// routeViewer stamps the sender's identity on audience events; payload ids are never trusted.
func (c *Client) routeViewer(msg signaling.Message) {
	h := c.hub
	switch msg.Event {
	case signaling.EventCallRequest:
		var p signaling.CallRequest
		_ = json.Unmarshal(msg.Data, &p)
		p.UserID, p.UserName = c.UserID, c.UserName
		h.Send(c.StreamID, TargetHost, msg.Event, p)
	case signaling.EventCallRequestWithdrawn:
		h.Send(c.StreamID, TargetHost, msg.Event, signaling.CallRequestWithdrawn{UserID: c.UserID})
	case signaling.EventNewComment:
		var p signaling.NewComment
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.Text == "" {
			return
		}
		p.UserID, p.UserName = c.UserID, c.UserName
		h.Send(c.StreamID, TargetAll, msg.Event, p)
	case signaling.EventNewLike:
		h.Send(c.StreamID, TargetAll, msg.Event, signaling.NewLike{UserID: c.UserID, UserName: c.UserName})
	case signaling.EventNewGift:
		var p signaling.NewGift
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.Amount <= 0 {
			return
		}
		p.UserName = c.UserName
		h.Send(c.StreamID, TargetAll, msg.Event, p)
	default:
		// ignore
	}
}

func (c *Client) enqueue(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case c.send <- signaling.Message{Event: event, Data: data}:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
