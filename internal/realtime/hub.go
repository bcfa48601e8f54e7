package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/livehost/internal/metrics"
	"github.com/aura-webinar/livehost/internal/signaling"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

// Roles carried in the connection identity.
const (
	RoleHost   = "host"
	RoleViewer = "viewer"
)

// Target selects which connections of a room receive an envelope.
type Target string

const (
	TargetAll     Target = "all"
	TargetHost    Target = "host"
	TargetViewers Target = "viewers"
)

// TargetUser addresses every connection of one user.
func TargetUser(userID string) Target { return Target("user:" + userID) }

func (t Target) matches(c *Client) bool {
	switch t {
	case TargetAll:
		return true
	case TargetHost:
		return c.Role == RoleHost
	case TargetViewers:
		return c.Role != RoleHost
	}
	if id, ok := strings.CutPrefix(string(t), "user:"); ok {
		return c.UserID == id
	}
	return false
}

// Envelope is a routed message, local or from another instance.
type Envelope struct {
	Target Target          `json:"target"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// AudienceChangeHandler is called when the viewer count of a stream changes (e.g. for peak tracking).
type AudienceChangeHandler func(streamID string, viewers int)

// ViewerHook is called when a viewer connection joins or leaves a stream.
type ViewerHook func(streamID, userID string)

// Publisher fans an envelope out to every instance, this one included.
type Publisher interface {
	PublishStreamEvent(streamID string, env Envelope) error
}

// Subscriber delivers envelopes published for a stream.
type Subscriber interface {
	SubscribeStream(streamID string, handler func(Envelope)) (cancel func(), err error)
}

// HubConfig tunes the hub. Zero values take defaults.
type HubConfig struct {
	MaxCallDuration   time.Duration
	TimerSyncInterval time.Duration
	MessageRate       float64
	MessageBurst      int
}

func (c HubConfig) withDefaults() HubConfig {
	if c.MaxCallDuration <= 0 {
		c.MaxCallDuration = 10 * time.Minute
	}
	if c.TimerSyncInterval <= 0 {
		c.TimerSyncInterval = 5 * time.Second
	}
	if c.MessageRate <= 0 {
		c.MessageRate = 10
	}
	if c.MessageBurst <= 0 {
		c.MessageBurst = 20
	}
	return c
}

// Hub maintains stream_id -> set of connections and routes messages between
// the host and viewers. With a Publisher every routed message goes through
// Redis so all instances deliver it once.
type Hub struct {
	cfg HubConfig

	// streamID -> map[clientID]*Client
	rooms      map[string]map[string]*Client
	subs       map[string]func() // cancel Redis subscription per stream
	timers     map[string]*callTimer
	mu         sync.RWMutex
	logger     *zap.Logger
	pub        Publisher
	sub        Subscriber
	onAudience AudienceChangeHandler
	onJoin     ViewerHook
	onLeave    ViewerHook
	timerWG    sync.WaitGroup
}

// NewHub creates a new WebSocket hub. pub and sub may be nil for a single instance.
func NewHub(cfg HubConfig, logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		cfg:    cfg.withDefaults(),
		rooms:  make(map[string]map[string]*Client),
		subs:   make(map[string]func()),
		timers: make(map[string]*callTimer),
		logger: logger,
		pub:    pub,
		sub:    sub,
	}
}

// SetAudienceChangeHandler sets the callback for viewer count changes.
func (h *Hub) SetAudienceChangeHandler(fn AudienceChangeHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onAudience = fn
}

// SetViewerLogger sets the callbacks for viewer joins and leaves.
func (h *Hub) SetViewerLogger(join, leave ViewerHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onJoin, h.onLeave = join, leave
}

// Register adds a client to a stream room. Starts the Redis subscription for the stream if first client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.rooms[c.StreamID] == nil {
		h.rooms[c.StreamID] = make(map[string]*Client)
		if h.sub != nil {
			streamID := c.StreamID
			cancel, err := h.sub.SubscribeStream(streamID, func(env Envelope) {
				h.Deliver(streamID, env)
			})
			if err != nil {
				h.logger.Warn("stream subscription failed", zap.String("stream_id", streamID), zap.Error(err))
			} else {
				h.subs[streamID] = cancel
			}
		}
	}
	h.rooms[c.StreamID][c.ID] = c
	viewers := h.viewersLocked(c.StreamID)
	onAudience, onJoin := h.onAudience, h.onJoin
	h.mu.Unlock()

	metrics.HubConnected()
	h.logger.Debug("client joined stream", zap.String("client_id", c.ID), zap.String("stream_id", c.StreamID), zap.String("role", c.Role))
	if c.Role == RoleHost {
		return
	}
	h.Send(c.StreamID, TargetHost, signaling.EventViewerJoined, signaling.ViewerJoined{UserID: c.UserID, UserName: c.UserName})
	h.Send(c.StreamID, TargetAll, signaling.EventViewerCountUpdated, signaling.ViewerCountUpdated{Count: viewers})
	if onAudience != nil {
		onAudience(c.StreamID, viewers)
	}
	if onJoin != nil {
		onJoin(c.StreamID, c.UserID)
	}
}

// Unregister removes a client from a stream room. Cancels the Redis subscription when the last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	room, ok := h.rooms[c.StreamID]
	if !ok || room[c.ID] == nil {
		h.mu.Unlock()
		return
	}
	delete(room, c.ID)
	viewers := h.viewersLocked(c.StreamID)
	var unsubscribe func()
	if len(room) == 0 {
		delete(h.rooms, c.StreamID)
		unsubscribe = h.subs[c.StreamID]
		delete(h.subs, c.StreamID)
	}
	onAudience, onLeave := h.onAudience, h.onLeave
	h.mu.Unlock()

	// The subscriber goroutine may be delivering; it needs the lock to finish.
	if unsubscribe != nil {
		unsubscribe()
	}

	metrics.HubDisconnected()
	h.logger.Debug("client left stream", zap.String("client_id", c.ID), zap.String("stream_id", c.StreamID))
	if c.Role == RoleHost {
		h.stopCallTimer(c.StreamID, false)
		return
	}
	h.Send(c.StreamID, TargetHost, signaling.EventViewerLeft, signaling.ViewerLeft{UserID: c.UserID, UserName: c.UserName})
	h.Send(c.StreamID, TargetAll, signaling.EventViewerCountUpdated, signaling.ViewerCountUpdated{Count: viewers})
	if onAudience != nil {
		onAudience(c.StreamID, viewers)
	}
	if onLeave != nil {
		onLeave(c.StreamID, c.UserID)
	}
}

func (h *Hub) viewersLocked(streamID string) int {
	n := 0
	for _, c := range h.rooms[streamID] {
		if c.Role != RoleHost {
			n++
		}
	}
	return n
}

// Deliver hands env to the matching local clients of a stream.
func (h *Hub) Deliver(streamID string, env Envelope) {
	msg := signaling.Message{Event: env.Event, Data: env.Data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[streamID] {
		if !env.Target.matches(c) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("client buffer full, dropping message", zap.String("client_id", c.ID), zap.String("event", env.Event))
		}
	}
}

// Send routes an event to target. With a Publisher the message goes through
// Redis only and the subscriber performs delivery, avoiding duplicates for
// local clients.
func (h *Hub) Send(streamID string, target Target, event string, payload any) {
	var data []byte
	switch v := payload.(type) {
	case nil:
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			h.logger.Error("marshal hub payload", zap.String("event", event), zap.Error(err))
			return
		}
	}
	env := Envelope{Target: target, Event: event, Data: data}
	if h.pub != nil {
		err := h.pub.PublishStreamEvent(streamID, env)
		if err == nil {
			return
		}
		h.logger.Warn("publish failed, delivering locally", zap.String("stream_id", streamID), zap.Error(err))
	}
	h.Deliver(streamID, env)
}

// ViewerCount returns the number of locally connected viewers of a stream.
func (h *Hub) ViewerCount(streamID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.viewersLocked(streamID)
}

// HasHost reports whether the stream's host is connected to this instance.
func (h *Hub) HasHost(streamID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[streamID] {
		if c.Role == RoleHost {
			return true
		}
	}
	return false
}

// CloseStream ends a stream's call timer and disconnects its local clients.
func (h *Hub) CloseStream(streamID string) {
	h.stopCallTimer(streamID, true)
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[streamID]))
	for _, c := range h.rooms[streamID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.close()
	}
}

// Close stops every call timer and Redis subscription and waits for them.
func (h *Hub) Close() {
	h.mu.Lock()
	for id, t := range h.timers {
		t.cancel()
		delete(h.timers, id)
	}
	subs := make([]func(), 0, len(h.subs))
	for id, cancel := range h.subs {
		subs = append(subs, cancel)
		delete(h.subs, id)
	}
	h.mu.Unlock()
	for _, cancel := range subs {
		cancel()
	}
	h.timerWG.Wait()
}

type callTimer struct {
	cancel context.CancelFunc
}

// startCallTimer runs the authoritative countdown for a stream's call:
// call_timer_start once, then call_timer every sync interval.
func (h *Hub) startCallTimer(streamID string) {
	ctx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	if old, ok := h.timers[streamID]; ok {
		old.cancel()
	}
	h.timers[streamID] = &callTimer{cancel: cancel}
	h.timerWG.Add(1)
	h.mu.Unlock()

	limit := h.cfg.MaxCallDuration
	h.Send(streamID, TargetAll, signaling.EventCallTimerStart, signaling.CallTimerStart{MaxDuration: int(limit / time.Second)})
	deadline := time.Now().Add(limit)
	go func() {
		defer h.timerWG.Done()
		ticker := time.NewTicker(h.cfg.TimerSyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				remaining := int(time.Until(deadline).Round(time.Second) / time.Second)
				if remaining < 0 {
					remaining = 0
				}
				h.Send(streamID, TargetAll, signaling.EventCallTimer, signaling.CallTimer{Remaining: remaining})
				if remaining == 0 {
					return
				}
			}
		}
	}()
}

// stopCallTimer cancels the countdown; announce sends call_timer_end.
func (h *Hub) stopCallTimer(streamID string, announce bool) {
	h.mu.Lock()
	t, ok := h.timers[streamID]
	delete(h.timers, streamID)
	h.mu.Unlock()
	if !ok {
		return
	}
	t.cancel()
	if announce {
		h.Send(streamID, TargetAll, signaling.EventCallTimerEnd, nil)
	}
}
