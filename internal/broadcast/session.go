package broadcast

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/livehost/internal/callbridge"
	"github.com/aura-webinar/livehost/internal/media"
	"github.com/aura-webinar/livehost/internal/metrics"
	"github.com/aura-webinar/livehost/internal/models"
	"github.com/aura-webinar/livehost/internal/participants"
	"github.com/aura-webinar/livehost/internal/signaling"
	"github.com/aura-webinar/livehost/internal/timersync"
	"github.com/aura-webinar/livehost/internal/waitlist"
)

var errNoSignal = errors.New("broadcast: signaling not connected")

// session is everything scoped to one broadcast. Fields are loop-confined
// once the session is handed to the loop, except engine and signal which
// are driven from the setup and teardown goroutine.
type session struct {
	id     string
	info   models.StreamSession
	engine media.Engine
	signal Signal

	waitlist   *waitlist.Manager
	registry   *participants.Registry
	calls      *callbridge.Machine
	timer      *timersync.Timer
	transcript *transcript

	viewers     int
	signalState string
	ended       bool

	stopHeartbeat func()
	stopTick      func()
	pumpDone      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func (c *Controller) newSession(info models.StreamSession, engine media.Engine) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:         info.ID.String(),
		info:       info,
		engine:     engine,
		waitlist:   waitlist.New(),
		registry:   participants.New(c.deps.Now),
		timer:      timersync.New(c.cfg.TimerTolerance, c.deps.Now),
		transcript: newTranscript(c.cfg.TranscriptSize),
		pumpDone:   make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.calls = callbridge.New(ctx, callbridge.Config{
		StreamID:       s.id,
		Rates:          c.cfg.Rates,
		ReconcileDelay: c.cfg.ReconcileDelay,
		MatchTimeout:   c.cfg.MatchTimeout,
		RequestTimeout: c.cfg.RequestTimeout,
	}, callbridge.Deps{
		API:          c.deps.API,
		Signal:       s,
		Waitlist:     s.waitlist,
		Participants: s.registry,
		Scheduler:    c.deps.Scheduler,
		Logger:       c.logger,
		Now:          c.deps.Now,
		OnChange:     func() { c.onCallChange(s) },
		OnNotice: func(n callbridge.Notice) {
			if !s.ended {
				c.deps.Presenter.Alert(alertFromNotice(n))
			}
		},
	})
	return s
}

// Emit lets the call bridge emit through whichever connection is current.
func (s *session) Emit(event string, payload any) error {
	if s.signal == nil {
		return errNoSignal
	}
	return s.signal.Emit(event, payload)
}

func (s *session) video() bool { return s.info.Kind == models.KindVideo }

func (s *session) stopTimers() {
	if s.stopHeartbeat != nil {
		s.stopHeartbeat()
		s.stopHeartbeat = nil
	}
	if s.stopTick != nil {
		s.stopTick()
		s.stopTick = nil
	}
	s.timer.Stop()
}

// engineHandler forwards engine callbacks onto the loop. Callbacks for a
// session that has ended are dropped.
func (c *Controller) engineHandler(s *session) media.EventHandler {
	return media.EventHandler{
		OnJoinSuccess: func(channel, localID string) {
			c.deps.Scheduler.Post(func() {
				c.logger.Info("joined media channel", zap.String("stream_id", s.id), zap.String("channel", channel), zap.String("local_id", localID))
			})
		},
		OnUserJoined: func(remoteID string) {
			c.deps.Scheduler.Post(func() {
				if s.ended {
					return
				}
				if s.registry.Add(remoteID) {
					s.calls.ParticipantJoined(remoteID)
					c.changed()
				}
			})
		},
		OnUserOffline: func(remoteID string) {
			c.deps.Scheduler.Post(func() {
				if s.ended {
					return
				}
				s.calls.ParticipantLeft(remoteID, s.registry.Remove(remoteID))
				c.changed()
			})
		},
		OnError: func(err error) {
			c.deps.Scheduler.Post(func() {
				if s.ended {
					return
				}
				c.logger.Warn("media engine error", zap.String("stream_id", s.id), zap.Error(err))
				c.deps.Presenter.Alert(Alert{Level: AlertRetryable, Op: "media", Message: "The media connection reported a problem.", Err: err})
			})
		},
	}
}

// pump moves signaling events onto the loop until the connection closes.
func (c *Controller) pump(s *session) {
	defer close(s.pumpDone)
	for ev := range s.signal.Events() {
		ev := ev
		c.deps.Scheduler.Post(func() { c.onSignal(s, ev) })
	}
}

func (c *Controller) onSignal(s *session, ev signaling.Event) {
	if s.ended {
		return
	}
	now := c.deps.Now()
	switch ev := ev.(type) {
	case signaling.CallRequest:
		kind := models.CallKind(ev.CallType)
		if !kind.Valid() {
			kind = models.KindVoice
		}
		vis := models.VisibilityPublic
		if ev.CallMode == string(models.VisibilityPrivate) {
			vis = models.VisibilityPrivate
		}
		added := s.waitlist.Enqueue(models.CallRequest{
			UserID:     ev.UserID,
			UserName:   ev.UserName,
			Kind:       kind,
			Visibility: vis,
			ReceivedAt: now,
		})
		if added {
			s.transcript.add(models.ChatEvent{Kind: models.ChatCallRequest, UserID: ev.UserID, UserName: ev.UserName, At: now})
			s.calls.WaitlistChanged()
		}
	case signaling.CallRequestWithdrawn:
		if s.waitlist.Remove(ev.UserID) {
			s.calls.WaitlistChanged()
		}
	case signaling.ViewerJoined:
		s.transcript.add(models.ChatEvent{Kind: models.ChatJoin, UserID: ev.UserID, UserName: ev.UserName, At: now})
	case signaling.ViewerLeft:
		s.transcript.add(models.ChatEvent{Kind: models.ChatLeave, UserID: ev.UserID, UserName: ev.UserName, At: now})
	case signaling.NewComment:
		s.transcript.add(models.ChatEvent{Kind: models.ChatComment, UserID: ev.UserID, UserName: ev.UserName, Text: ev.Text, At: now})
	case signaling.NewLike:
		s.transcript.add(models.ChatEvent{Kind: models.ChatLike, UserID: ev.UserID, UserName: ev.UserName, At: now})
	case signaling.NewGift:
		s.transcript.add(models.ChatEvent{Kind: models.ChatGift, UserName: ev.UserName, GiftName: ev.GiftName, Amount: ev.Amount, At: now})
	case signaling.ViewerCountUpdated:
		s.viewers = ev.Count
		if ev.Count > s.info.PeakViewers {
			s.info.PeakViewers = ev.Count
		}
	case signaling.CallTimer:
		s.timer.OnServerTick(ev.Remaining)
		c.ensureTick(s)
	case signaling.CallTimerStart:
		if s.timer.OnServerStart(ev.MaxDuration) {
			c.ensureTick(s)
		}
	case signaling.CallTimerEnd:
		c.stopTick(s)
	case signaling.Reconnecting:
		s.signalState = "reconnecting"
		metrics.SignalingReconnect()
	case signaling.Reconnected:
		s.signalState = "connected"
	case signaling.Disconnected:
		s.signalState = "disconnected"
		c.logger.Error("signaling lost", zap.String("stream_id", s.id), zap.Error(ev.Err))
		c.deps.Presenter.Alert(Alert{Level: AlertInfo, Op: "signaling", Message: "Lost connection to viewers. The broadcast has ended.", Err: ev.Err})
		c.deps.Scheduler.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 4*c.cfg.RequestTimeout)
			defer cancel()
			c.end(ctx, models.EndSignalingLost)
		})
	default:
		return
	}
	c.changed()
}

func (c *Controller) ensureTick(s *session) {
	if s.stopTick != nil {
		return
	}
	s.stopTick = c.deps.Scheduler.Every(time.Second, func() {
		if s.ended {
			return
		}
		s.timer.Tick()
		c.changed()
	})
}

func (c *Controller) stopTick(s *session) {
	s.timer.Stop()
	if s.stopTick != nil {
		s.stopTick()
		s.stopTick = nil
	}
}

// onCallChange re-renders and stops the call timer once no call remains.
func (c *Controller) onCallChange(s *session) {
	if s.calls != nil && s.calls.Call() == nil && s.stopTick != nil {
		c.stopTick(s)
	}
	c.changed()
}
