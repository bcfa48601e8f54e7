package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrClosed     = errors.New("signaling: client closed")
	ErrBufferFull = errors.New("signaling: send buffer full")
)

// Config holds connection settings. Zero durations and counts take the
// defaults below.
type Config struct {
	URL   string
	Token string

	PingInterval      time.Duration
	PongWait          time.Duration
	WriteWait         time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	SendBuffer        int
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = 5
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	return c
}

// Client is a host connection to the signaling hub for one stream. It is
// created per session and must not outlive it.
type Client struct {
	cfg      Config
	streamID string
	logger   *zap.Logger
	dialer   *websocket.Dialer

	events chan Event
	send   chan Message

	mu   sync.Mutex
	conn *websocket.Conn

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Connect dials the hub, registers as host for streamID and starts the
// pumps. The returned client reconnects on its own until Disconnect.
func Connect(ctx context.Context, cfg Config, streamID string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:      cfg,
		streamID: streamID,
		logger:   logger.With(zap.String("stream_id", streamID)),
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		events:   make(chan Event, 64),
		send:     make(chan Message, cfg.SendBuffer),
		done:     make(chan struct{}),
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.setConn(conn)
	c.wg.Add(1)
	go c.run(conn)
	return c, nil
}

// Events delivers decoded inbound events and connection state changes. It
// is closed after Disconnect or after the client gives up reconnecting.
func (c *Client) Events() <-chan Event { return c.events }

// Emit queues an outbound event without blocking.
func (c *Client) Emit(event string, payload any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	msg, err := Encode(event, payload)
	if err != nil {
		return err
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrBufferFull
	}
}

// Disconnect closes the connection and waits for the pumps. Safe to call
// more than once.
func (c *Client) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "host left"),
				time.Now().Add(c.cfg.WriteWait))
			err = c.conn.Close()
		}
		c.mu.Unlock()
	})
	c.wg.Wait()
	return err
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse signaling url: %w", err)
	}
	q := u.Query()
	q.Set("stream_id", c.streamID)
	if c.cfg.Token != "" {
		q.Set("token", c.cfg.Token)
	}
	u.RawQuery = q.Encode()

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling: %w", err)
	}
	reg, err := Encode(EventRegisterHost, RegisterHost{StreamID: c.streamID})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	if err := conn.WriteJSON(reg); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("register host: %w", err)
	}
	return conn, nil
}

func (c *Client) setConn(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		_ = conn.Close()
		return false
	default:
	}
	c.conn = conn
	return true
}

func (c *Client) dropConn(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) run(conn *websocket.Conn) {
	defer c.wg.Done()
	defer close(c.events)

	for {
		stop := make(chan struct{})
		var writer sync.WaitGroup
		writer.Add(1)
		go func() {
			defer writer.Done()
			c.writePump(conn, stop)
		}()

		err := c.readPump(conn)
		close(stop)
		writer.Wait()
		c.dropConn(conn)

		if c.closed() {
			return
		}
		c.logger.Warn("signaling connection lost", zap.Error(err))

		next, err := c.reconnect()
		if err != nil {
			if !c.closed() {
				c.logger.Error("signaling gave up reconnecting", zap.Error(err))
				c.deliver(Disconnected{Err: err})
			}
			return
		}
		conn = next
		c.deliver(Reconnected{})
	}
}

func (c *Client) reconnect() (*websocket.Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.ReconnectAttempts; attempt++ {
		c.deliver(Reconnecting{Attempt: attempt})
		t := time.NewTimer(c.cfg.ReconnectDelay)
		select {
		case <-c.done:
			t.Stop()
			return nil, ErrClosed
		case <-t.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.dialer.HandshakeTimeout)
		conn, err := c.dial(ctx)
		cancel()
		if err != nil {
			lastErr = err
			c.logger.Warn("signaling reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if !c.setConn(conn) {
			return nil, ErrClosed
		}
		c.logger.Info("signaling reconnected", zap.Int("attempt", attempt))
		return conn, nil
	}
	return nil, fmt.Errorf("reconnect after %d attempts: %w", c.cfg.ReconnectAttempts, lastErr)
}

func (c *Client) readPump(conn *websocket.Conn) error {
	conn.SetReadLimit(65536)
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

		ev, err := Decode(msg)
		if err != nil {
			if errors.Is(err, ErrUnknownEvent) {
				c.logger.Debug("ignoring signaling event", zap.String("event", msg.Event))
			} else {
				c.logger.Warn("bad signaling payload", zap.String("event", msg.Event), zap.Error(err))
			}
			continue
		}
		c.deliver(ev)
	}
}

func (c *Client) writePump(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case msg := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				c.logger.Warn("signaling write failed", zap.String("event", msg.Event), zap.Error(err))
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Client) deliver(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
