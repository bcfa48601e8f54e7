// Package broadcast is the host's session controller. It owns the media
// engine and signaling connection of one live broadcast and wires the
// waitlist, participant registry, call bridge and call timer together on a
// single event loop.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/livehost/internal/callbridge"
	"github.com/aura-webinar/livehost/internal/eventloop"
	"github.com/aura-webinar/livehost/internal/media"
	"github.com/aura-webinar/livehost/internal/metrics"
	"github.com/aura-webinar/livehost/internal/models"
	"github.com/aura-webinar/livehost/internal/signaling"
)

var (
	ErrAlreadyLive     = errors.New("broadcast: a session is already live")
	ErrBusy            = errors.New("broadcast: a session is starting or ending")
	ErrNotLive         = errors.New("broadcast: no live session")
	ErrNotVideoSession = errors.New("broadcast: camera controls need a video session")
	ErrInvalidSession  = errors.New("broadcast: invalid session parameters")
)

// API is the REST surface the controller uses.
type API interface {
	callbridge.API
	UpdateMedia(ctx context.Context, streamID string, state models.MediaState) error
	EndStream(ctx context.Context, streamID string) error
}

// Signal is a session-scoped signaling connection.
type Signal interface {
	Emit(event string, payload any) error
	Events() <-chan signaling.Event
	Disconnect() error
}

// Config tunes the controller. Zero values take defaults.
type Config struct {
	Rates             callbridge.Rates
	HeartbeatInterval time.Duration
	ReconcileDelay    time.Duration
	MatchTimeout      time.Duration
	RequestTimeout    time.Duration
	TranscriptSize    int
	TimerTolerance    int
}

// Deps are the controller's collaborators. NewEngine and DialSignal are
// called once per session.
type Deps struct {
	API        API
	NewEngine  func() (media.Engine, error)
	DialSignal func(ctx context.Context, streamID string) (Signal, error)
	Scheduler  eventloop.Scheduler
	Presenter  Presenter
	Logger     *zap.Logger
	Now        func() time.Time
}

// Controller is the single entry point for a host's broadcast. Its exported
// methods may be called from any goroutine except the loop itself.
type Controller struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	// Loop-confined.
	live     *session
	last     *session
	starting bool
	ending   chan struct{}
	dirty    bool
}

// New creates an idle controller.
func New(cfg Config, deps Deps) *Controller {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = callbridge.DefaultRequestTimeout
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Presenter == nil {
		deps.Presenter = nopPresenter{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Controller{cfg: cfg, deps: deps, logger: deps.Logger}
}

// Start brings a session live: engine setup, channel join, signaling
// registration and heartbeat. Any failure rolls back what was done and
// leaves the controller idle.
func (c *Controller) Start(ctx context.Context, info models.StreamSession) error {
	if !info.Kind.Valid() || info.Channel == "" {
		return ErrInvalidSession
	}
	err := c.onLoop(ctx, func() error {
		if c.starting || c.ending != nil {
			return ErrBusy
		}
		if c.live != nil {
			return ErrAlreadyLive
		}
		c.starting = true
		return nil
	})
	if err != nil {
		return err
	}

	s, err := c.open(ctx, info)
	if err != nil {
		metrics.SessionStartFailed()
		c.logger.Error("broadcast start failed", zap.String("stream_id", info.ID.String()), zap.Error(err))
		_ = c.onLoop(context.WithoutCancel(ctx), func() error {
			c.starting = false
			c.deps.Presenter.Alert(Alert{Level: AlertFatal, Op: "start", Message: "Could not start the broadcast.", Err: err})
			return nil
		})
		return err
	}

	err = c.onLoop(context.WithoutCancel(ctx), func() error {
		c.starting = false
		c.install(s)
		return nil
	})
	if err != nil {
		c.teardown(ctx, s, nil)
		return err
	}
	metrics.SessionStarted()
	c.logger.Info("broadcast live", zap.String("stream_id", s.id), zap.String("channel", info.Channel), zap.String("kind", string(info.Kind)))
	return nil
}

// open runs the blocking setup steps on the caller's goroutine.
func (c *Controller) open(ctx context.Context, info models.StreamSession) (*session, error) {
	engine, err := c.deps.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	s := c.newSession(info, engine)
	video := info.Kind == models.KindVideo

	var previewing, joined bool
	rollback := func() {
		if joined {
			_ = engine.LeaveChannel()
		}
		if previewing {
			_ = engine.StopPreview()
		}
		_ = engine.Release()
		s.cancel()
		c.deps.Scheduler.Post(func() { s.ended = true })
	}

	engine.RegisterEventHandler(c.engineHandler(s))
	steps := []struct {
		name string
		run  func() error
		skip bool
	}{
		{name: "initialize", run: func() error { return engine.Initialize(ctx, info.Credentials.AppID) }},
		{name: "enable audio", run: engine.EnableAudio},
		{name: "enable video", run: engine.EnableVideo, skip: !video},
		{name: "set role", run: func() error { return engine.SetRole(media.RoleBroadcaster) }},
		{name: "start preview", run: func() error {
			if err := engine.StartPreview(); err != nil {
				return err
			}
			previewing = true
			return nil
		}, skip: !video},
		{name: "join channel", run: func() error {
			err := engine.JoinChannel(ctx, info.Credentials.Token, info.Channel, info.Credentials.LocalID, media.JoinOptions{AutoSubscribe: true})
			if err != nil {
				return err
			}
			joined = true
			return nil
		}},
	}
	for _, step := range steps {
		if step.skip {
			continue
		}
		if err := step.run(); err != nil {
			rollback()
			return nil, fmt.Errorf("%s: %w", step.name, err)
		}
	}

	sig, err := c.deps.DialSignal(ctx, s.id)
	if err != nil {
		rollback()
		return nil, fmt.Errorf("open signaling: %w", err)
	}
	s.signal = sig
	go c.pump(s)
	return s, nil
}

// install makes s the live session. Runs on the loop.
func (c *Controller) install(s *session) {
	s.info.Status = models.StreamLive
	s.info.MicEnabled = true
	s.info.CameraEnabled = s.video()
	if s.info.CameraFacing == "" {
		s.info.CameraFacing = models.FacingFront
	}
	if s.info.StartedAt.IsZero() {
		s.info.StartedAt = c.deps.Now()
	}
	s.signalState = "connected"
	c.live, c.last = s, s

	s.stopHeartbeat = c.deps.Scheduler.Every(c.cfg.HeartbeatInterval, func() {
		if s.ended {
			return
		}
		c.emit(s, signaling.EventStreamHeartbeat, signaling.StreamHeartbeat{StreamID: s.id})
	})
	c.changed()
}

// End tears the live session down: the active call first, then preview,
// channel, engine, signaling and the REST end-stream. Every step runs even
// if an earlier one fails. Repeated or concurrent calls share one teardown.
func (c *Controller) End(ctx context.Context) {
	c.end(ctx, models.EndSessionEnded)
}

func (c *Controller) end(ctx context.Context, reason models.EndReason) {
	var (
		s      *session
		wait   chan struct{}
		ending chan struct{}
		settle func(context.Context) error
	)
	err := c.onLoop(ctx, func() error {
		if c.ending != nil {
			wait = c.ending
			return nil
		}
		if c.live == nil {
			return nil
		}
		s = c.live
		c.live = nil
		ending = make(chan struct{})
		c.ending = ending
		s.ended = true
		settle, _ = s.calls.Terminate(reason)
		s.calls.Shutdown()
		s.stopTimers()
		s.info.Status = models.StreamEnded
		now := c.deps.Now()
		s.info.EndedAt = &now
		c.changed()
		return nil
	})
	if err != nil {
		c.logger.Warn("end broadcast", zap.Error(err))
		return
	}
	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
		}
		return
	}
	if s == nil {
		return
	}

	c.teardown(ctx, s, settle)
	close(ending)
	c.deps.Scheduler.Post(func() {
		if c.ending == ending {
			c.ending = nil
		}
		c.changed()
	})
	c.logger.Info("broadcast ended", zap.String("stream_id", s.id), zap.String("reason", string(reason)))
}

func (c *Controller) teardown(ctx context.Context, s *session, settle func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	logger := c.logger.With(zap.String("stream_id", s.id))
	step := func(name string, fn func(ctx context.Context) error) {
		sctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("cleanup step panicked", zap.String("step", name), zap.Any("panic", r))
			}
		}()
		if err := fn(sctx); err != nil {
			logger.Warn("cleanup step failed", zap.String("step", name), zap.Error(err))
		}
	}

	if settle != nil {
		step("end call", settle)
	}
	if s.video() {
		step("stop preview", func(context.Context) error { return s.engine.StopPreview() })
	}
	step("leave channel", func(context.Context) error { return s.engine.LeaveChannel() })
	step("release engine", func(context.Context) error { return s.engine.Release() })
	step("disconnect signaling", func(context.Context) error { return s.signal.Disconnect() })
	step("end stream", func(ctx context.Context) error { return c.deps.API.EndStream(ctx, s.id) })

	select {
	case <-s.pumpDone:
	case <-time.After(c.cfg.RequestTimeout):
		logger.Warn("signaling pump did not stop")
	}
	s.cancel()
	metrics.SessionEnded()
}

// OnAppBackgrounded ends a live broadcast: capture cannot be trusted to
// keep running in the background.
func (c *Controller) OnAppBackgrounded(ctx context.Context) {
	var live bool
	_ = c.onLoop(ctx, func() error {
		live = c.live != nil
		if live {
			c.deps.Presenter.Alert(Alert{Level: AlertInfo, Op: "background", Message: "The broadcast ended because the app went to the background."})
		}
		return nil
	})
	if live {
		c.End(ctx)
	}
}

// OnAppForegrounded re-renders the current state.
func (c *Controller) OnAppForegrounded() {
	c.deps.Scheduler.Post(c.changed)
}

// AcceptCall accepts a queued call request.
func (c *Controller) AcceptCall(ctx context.Context, userID string) error {
	return c.withLive(ctx, func(s *session) error { return s.calls.Accept(userID) })
}

// RejectCall rejects a queued call request.
func (c *Controller) RejectCall(ctx context.Context, userID string) error {
	return c.withLive(ctx, func(s *session) error { return s.calls.Reject(userID) })
}

// EndCall hangs up the active call. It reports false when there was none.
func (c *Controller) EndCall(ctx context.Context) (bool, error) {
	var ended bool
	err := c.withLive(ctx, func(s *session) error {
		ended = s.calls.End(models.EndHostEnded)
		return nil
	})
	return ended, err
}

// ToggleMic flips the local microphone and returns the new state.
func (c *Controller) ToggleMic(ctx context.Context) (bool, error) {
	var on bool
	err := c.withLive(ctx, func(s *session) error {
		next := !s.info.MicEnabled
		if err := s.engine.MuteLocalAudio(!next); err != nil {
			return fmt.Errorf("mute local audio: %w", err)
		}
		s.info.MicEnabled, on = next, next
		c.emit(s, signaling.EventHostMicToggled, signaling.HostMicToggled{Enabled: next})
		c.persistMedia(s, "toggle_mic")
		c.changed()
		return nil
	})
	return on, err
}

// ToggleCamera flips the local camera and returns the new state.
func (c *Controller) ToggleCamera(ctx context.Context) (bool, error) {
	var on bool
	err := c.withLive(ctx, func(s *session) error {
		if !s.video() {
			return ErrNotVideoSession
		}
		next := !s.info.CameraEnabled
		if err := s.engine.MuteLocalVideo(!next); err != nil {
			return fmt.Errorf("mute local video: %w", err)
		}
		s.info.CameraEnabled, on = next, next
		c.emit(s, signaling.EventHostCameraToggled, signaling.HostCameraToggled{Enabled: next, Facing: s.info.CameraFacing})
		c.persistMedia(s, "toggle_camera")
		c.changed()
		return nil
	})
	return on, err
}

// SwitchCamera flips between front and back capture and returns the facing.
func (c *Controller) SwitchCamera(ctx context.Context) (string, error) {
	var facing string
	err := c.withLive(ctx, func(s *session) error {
		if !s.video() {
			return ErrNotVideoSession
		}
		if err := s.engine.SwitchCamera(); err != nil {
			return fmt.Errorf("switch camera: %w", err)
		}
		if s.info.CameraFacing == models.FacingBack {
			s.info.CameraFacing = models.FacingFront
		} else {
			s.info.CameraFacing = models.FacingBack
		}
		facing = s.info.CameraFacing
		c.emit(s, signaling.EventHostCameraToggled, signaling.HostCameraToggled{Enabled: s.info.CameraEnabled, Facing: facing})
		c.persistMedia(s, "switch_camera")
		c.changed()
		return nil
	})
	return facing, err
}

// Snapshot returns the current state.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := c.onLoop(ctx, func() error {
		snap = c.snapshot()
		return nil
	})
	return snap, err
}

func (c *Controller) persistMedia(s *session, op string) {
	state := models.MediaState{
		MicEnabled:    s.info.MicEnabled,
		CameraEnabled: s.info.CameraEnabled,
		CameraFacing:  s.info.CameraFacing,
	}
	eventloop.Await(c.deps.Scheduler, func() (struct{}, error) {
		ctx, cancel := context.WithTimeout(s.ctx, c.cfg.RequestTimeout)
		defer cancel()
		return struct{}{}, c.deps.API.UpdateMedia(ctx, s.id, state)
	}, func(_ struct{}, err error) {
		if err == nil || s.ended {
			return
		}
		metrics.RESTFailure(op)
		c.logger.Warn("persist media state failed", zap.String("op", op), zap.Error(err))
		c.deps.Presenter.Alert(Alert{Level: AlertRetryable, Op: op, Message: "The change applied locally but could not be saved.", Err: err})
	})
}

func (c *Controller) emit(s *session, event string, payload any) {
	if err := s.Emit(event, payload); err != nil {
		c.logger.Warn("signaling emit failed", zap.String("event", event), zap.Error(err))
	}
}

func (c *Controller) withLive(ctx context.Context, fn func(s *session) error) error {
	return c.onLoop(ctx, func() error {
		if c.live == nil {
			return ErrNotLive
		}
		return fn(c.live)
	})
}

func (c *Controller) onLoop(ctx context.Context, fn func() error) error {
	var err error
	if callErr := c.deps.Scheduler.Call(ctx, func() { err = fn() }); callErr != nil {
		return callErr
	}
	return err
}

// changed schedules one render for however many changes land in a turn.
func (c *Controller) changed() {
	if c.dirty {
		return
	}
	c.dirty = true
	c.deps.Scheduler.Post(func() {
		c.dirty = false
		if s := c.live; s != nil {
			metrics.SetWaitlistLength(s.waitlist.Len())
		}
		c.deps.Presenter.Render(c.snapshot())
	})
}

func (c *Controller) snapshot() Snapshot {
	s := c.live
	if s == nil {
		s = c.last
	}
	if s == nil {
		return Snapshot{Phase: callbridge.PhaseIdle}
	}
	return Snapshot{
		Live:         c.live != nil,
		Session:      s.info,
		Viewers:      s.viewers,
		Signaling:    s.signalState,
		Phase:        s.calls.Phase(),
		Call:         s.calls.Call(),
		Waitlist:     s.waitlist.Entries(),
		Participants: s.registry.List(),
		Timer:        s.timer.State(),
		Transcript:   s.transcript.snapshot(),
	}
}
