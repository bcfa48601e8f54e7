// Package callbridge runs the lifecycle of the one call bridged into a
// broadcast and decides which joined transport identity belongs to the
// accepted caller.
package callbridge

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/livehost/internal/eventloop"
	"github.com/aura-webinar/livehost/internal/metrics"
	"github.com/aura-webinar/livehost/internal/models"
	"github.com/aura-webinar/livehost/internal/participants"
	"github.com/aura-webinar/livehost/internal/signaling"
	"github.com/aura-webinar/livehost/internal/waitlist"
)

var (
	ErrCallInProgress = errors.New("callbridge: a call is already in progress")
	ErrNotQueued      = errors.New("callbridge: requester is not in the waitlist")
	ErrRequestPending = errors.New("callbridge: a request for this viewer is already in flight")
)

const (
	DefaultReconcileDelay = 500 * time.Millisecond
	DefaultRequestTimeout = 10 * time.Second
)

// AcceptResult is the REST accept response. CallerTransportID is advisory
// and may be empty or "0" when the server could not resolve it.
type AcceptResult struct {
	CallerTransportID string
}

// EndResult is the REST end-call response.
type EndResult struct {
	Charge int64
}

// API is the REST surface the machine calls.
type API interface {
	AcceptCall(ctx context.Context, streamID string, req models.CallRequest) (AcceptResult, error)
	RejectCall(ctx context.Context, streamID, userID string) error
	EndCall(ctx context.Context, streamID string, summary models.CallSummary) (EndResult, error)
}

// Emitter sends an outbound signaling event.
type Emitter interface {
	Emit(event string, payload any) error
}

// Rates are per-minute prices by call kind.
type Rates struct {
	Voice int64
	Video int64
}

// For returns the rate for kind.
func (r Rates) For(kind models.CallKind) int64 {
	if kind == models.KindVideo {
		return r.Video
	}
	return r.Voice
}

// NoticeKind tells the presentation layer how to show a notice.
type NoticeKind int

const (
	// NoticeRetryable: the action failed, state was kept, the host may retry.
	NoticeRetryable NoticeKind = iota
	// NoticeInfo: something happened that the host should know about.
	NoticeInfo
)

// Notice is a user-facing outcome of an asynchronous step.
type Notice struct {
	Kind    NoticeKind
	Op      string
	UserID  string
	Message string
	Err     error
}

// Config tunes the machine.
type Config struct {
	StreamID string
	Rates    Rates
	// ReconcileDelay is how long a join waits before it is matched.
	ReconcileDelay time.Duration
	// MatchTimeout ends an accepted call that never sees its caller join. Zero disables it.
	MatchTimeout   time.Duration
	RequestTimeout time.Duration
}

// Deps are the session-scoped collaborators.
type Deps struct {
	API          API
	Signal       Emitter
	Waitlist     *waitlist.Manager
	Participants *participants.Registry
	Scheduler    eventloop.Scheduler
	Logger       *zap.Logger
	Now          func() time.Time
	// OnChange is called after every state change.
	OnChange func()
	// OnNotice surfaces alerts.
	OnNotice func(Notice)
}

// Machine is confined to the session event loop. Every mutation goes
// through apply.
//
// A transport join claims the caller slot only if it arrives after the
// accept was issued, or if it is the identity the server resolved. The
// newest such join overrides the server's id while the call is Accepting.
// Once matched (LiveCall) the slot is locked: a later join from another
// identity is logged and ignored rather than taking over the call.
type Machine struct {
	ctx    context.Context
	cfg    Config
	deps   Deps
	logger *zap.Logger

	state State
	// epoch identifies the current call attempt; deferred work compares it
	// before touching state.
	epoch uint64

	joinSeq  uint64
	lastJoin string
	// acceptSeq is joinSeq when the current accept was issued.
	acceptSeq uint64

	rejecting map[string]bool

	stopTick  func()
	stopMatch func()
}

// New creates an idle machine. ctx bounds the REST calls it issues.
func New(ctx context.Context, cfg Config, deps Deps) *Machine {
	if cfg.ReconcileDelay <= 0 {
		cfg.ReconcileDelay = DefaultReconcileDelay
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.OnChange == nil {
		deps.OnChange = func() {}
	}
	if deps.OnNotice == nil {
		deps.OnNotice = func(Notice) {}
	}
	m := &Machine{
		ctx:       ctx,
		cfg:       cfg,
		deps:      deps,
		logger:    deps.Logger.With(zap.String("stream_id", cfg.StreamID)),
		rejecting: make(map[string]bool),
	}
	m.state = m.restingState()
	return m
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Phase is shorthand for State().Phase().
func (m *Machine) Phase() Phase { return m.state.Phase() }

// Call returns a copy of the current call, or nil.
func (m *Machine) Call() *models.ActiveCall {
	c := m.current()
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// Accept starts bridging req's requester.
func (m *Machine) Accept(userID string) error {
	req, ok := m.deps.Waitlist.Get(userID)
	if !ok {
		return ErrNotQueued
	}
	_, err := m.apply(evAccept{req: req})
	return err
}

// Reject declines a queued request.
func (m *Machine) Reject(userID string) error {
	req, ok := m.deps.Waitlist.Get(userID)
	if !ok {
		return ErrNotQueued
	}
	_, err := m.apply(evReject{req: req})
	return err
}

// End ends the current call and settles it with the server in the
// background. It reports false, without emitting anything, when there is
// no call.
func (m *Machine) End(reason models.EndReason) bool {
	had := m.current() != nil
	summary, _ := m.apply(evEnd{reason: reason})
	if summary != nil {
		m.settleAsync(*summary)
	}
	return had
}

// Terminate ends the current call locally and hands back the settlement
// step so the caller can order it with its own teardown.
func (m *Machine) Terminate(reason models.EndReason) (func(ctx context.Context) error, bool) {
	summary, _ := m.apply(evEnd{reason: reason})
	if summary == nil {
		return nil, false
	}
	s := *summary
	return func(ctx context.Context) error {
		_, err := m.deps.API.EndCall(ctx, m.cfg.StreamID, s)
		return err
	}, true
}

// ParticipantJoined is called after the registry recorded a join.
func (m *Machine) ParticipantJoined(id string) {
	_, _ = m.apply(evJoined{id: id})
}

// ParticipantLeft is called after the registry recorded a leave; present is
// what Registry.Remove returned.
func (m *Machine) ParticipantLeft(id string, present bool) {
	_, _ = m.apply(evLeft{id: id, present: present})
}

// WaitlistChanged re-derives Idle/WaitlistOnly after the queue changed.
func (m *Machine) WaitlistChanged() {
	_, _ = m.apply(evWaitlist{})
}

// Shutdown stops timers without emitting anything.
func (m *Machine) Shutdown() {
	m.stopTimers()
	m.epoch++
}

// apply is the single transition function.
func (m *Machine) apply(ev event) (*models.CallSummary, error) {
	switch ev := ev.(type) {
	case evAccept:
		return nil, m.onAccept(ev)
	case evAcceptDone:
		m.onAcceptDone(ev)
	case evReject:
		return nil, m.onReject(ev)
	case evRejectDone:
		m.onRejectDone(ev)
	case evJoined:
		m.joinSeq++
		m.lastJoin = ev.id
		seq := m.joinSeq
		m.deps.Scheduler.AfterFunc(m.cfg.ReconcileDelay, func() {
			_, _ = m.apply(evReconcile{id: ev.id, seq: seq})
		})
	case evReconcile:
		m.onReconcile(ev)
	case evLeft:
		m.onLeft(ev)
	case evEnd:
		return m.finish(ev.reason), nil
	case evTick:
		if ev.epoch != m.epoch {
			return nil, nil
		}
		if c := m.current(); c != nil {
			c.Elapsed++
			m.deps.OnChange()
		}
	case evMatchTimeout:
		m.onMatchTimeout(ev)
	case evWaitlist:
		switch m.state.(type) {
		case Idle, WaitlistOnly:
			m.setState(m.restingState())
		}
	}
	return nil, nil
}

func (m *Machine) onAccept(ev evAccept) error {
	switch m.state.(type) {
	case Accepting, LiveCall:
		return ErrCallInProgress
	}
	if m.rejecting[ev.req.UserID] {
		return ErrRequestPending
	}
	m.epoch++
	epoch := m.epoch
	m.acceptSeq = m.joinSeq
	call := &models.ActiveCall{
		UserID:     ev.req.UserID,
		UserName:   ev.req.UserName,
		Kind:       ev.req.Kind,
		Visibility: ev.req.Visibility,
		StartedAt:  m.deps.Now(),
	}
	m.setState(Accepting{Call: call, Pending: true})
	m.logger.Info("accepting call", zap.String("user_id", call.UserID), zap.String("kind", string(call.Kind)))

	req := ev.req
	eventloop.Await(m.deps.Scheduler, func() (AcceptResult, error) {
		ctx, cancel := context.WithTimeout(m.ctx, m.cfg.RequestTimeout)
		defer cancel()
		return m.deps.API.AcceptCall(ctx, m.cfg.StreamID, req)
	}, func(res AcceptResult, err error) {
		_, _ = m.apply(evAcceptDone{epoch: epoch, req: req, res: res, err: err})
	})
	return nil
}

func (m *Machine) onAcceptDone(ev evAcceptDone) {
	st, ok := m.state.(Accepting)
	if !ok || ev.epoch != m.epoch || !st.Pending {
		if ev.err == nil {
			// The call was ended while the server was accepting it.
			m.logger.Warn("accept completed for a call that already ended; settling", zap.String("user_id", ev.req.UserID))
			m.settleAsync(models.CallSummary{
				UserID:  ev.req.UserID,
				Kind:    ev.req.Kind,
				EndedAt: m.deps.Now(),
				Reason:  models.EndCancelled,
			})
		}
		return
	}
	if ev.err != nil {
		m.logger.Warn("accept call failed", zap.String("user_id", ev.req.UserID), zap.Error(ev.err))
		metrics.RESTFailure("accept_call")
		m.epoch++
		m.setState(m.restingState())
		m.deps.OnNotice(Notice{Kind: NoticeRetryable, Op: "accept", UserID: ev.req.UserID, Message: "Could not accept the call. Try again.", Err: ev.err})
		return
	}

	call := st.Call
	m.deps.Waitlist.Remove(call.UserID)
	m.deps.Waitlist.Clear()
	call.RemoteID = normalizeTransportID(ev.res.CallerTransportID)
	call.StartedAt = m.deps.Now()
	call.Elapsed = 0
	m.state = Accepting{Call: call}

	if err := m.deps.Signal.Emit(signaling.EventCallAccepted, signaling.CallAccepted{
		UserID:            call.UserID,
		UserName:          call.UserName,
		CallType:          string(call.Kind),
		CallMode:          string(call.Visibility),
		CallerTransportID: call.RemoteID,
	}); err != nil {
		m.logger.Warn("emit call_accepted failed", zap.Error(err))
	}

	epoch := m.epoch
	m.stopTick = m.deps.Scheduler.Every(time.Second, func() {
		_, _ = m.apply(evTick{epoch: epoch})
	})
	if m.cfg.MatchTimeout > 0 {
		m.stopMatch = m.deps.Scheduler.AfterFunc(m.cfg.MatchTimeout, func() {
			_, _ = m.apply(evMatchTimeout{epoch: epoch})
		})
	}

	// A join may already have happened before the server answered.
	if id := m.joinedCandidate(call); id != "" {
		m.match(call, id)
		return
	}
	m.deps.OnChange()
}

func (m *Machine) joinedCandidate(call *models.ActiveCall) string {
	reg := m.deps.Participants
	if m.lastJoin != "" && m.joinSeq > m.acceptSeq && reg.Has(m.lastJoin) {
		return m.lastJoin
	}
	if call.RemoteID != "" && reg.Has(call.RemoteID) {
		return call.RemoteID
	}
	return ""
}

// onReconcile matches a settled join to the accepted call. See Machine for
// which joins may claim the slot.
func (m *Machine) onReconcile(ev evReconcile) {
	if ev.seq != m.joinSeq {
		return // a newer join is pending and wins
	}
	if !m.deps.Participants.Has(ev.id) {
		return
	}
	switch st := m.state.(type) {
	case Accepting:
		if st.Pending {
			return // matched when the accept response lands
		}
		if ev.seq <= m.acceptSeq && ev.id != st.Call.RemoteID {
			m.logger.Debug("ignoring join from before the accept", zap.String("joined_transport_id", ev.id))
			return
		}
		m.match(st.Call, ev.id)
	case LiveCall:
		if st.Call.RemoteID != ev.id {
			m.logger.Warn("ignoring join while caller is connected",
				zap.String("caller_transport_id", st.Call.RemoteID),
				zap.String("joined_transport_id", ev.id))
		}
	}
}

func (m *Machine) match(call *models.ActiveCall, id string) {
	if call.RemoteID != "" && call.RemoteID != id {
		m.logger.Info("transport join overrides server caller id",
			zap.String("server_transport_id", call.RemoteID),
			zap.String("joined_transport_id", id))
	}
	call.RemoteID = id
	call.Matched = true
	if m.stopMatch != nil {
		m.stopMatch()
		m.stopMatch = nil
	}
	m.setState(LiveCall{Call: call})
	m.logger.Info("caller matched", zap.String("user_id", call.UserID), zap.String("transport_id", id))
}

func (m *Machine) onLeft(ev evLeft) {
	if m.lastJoin == ev.id {
		m.lastJoin = ""
	}
	if !ev.present {
		return
	}
	call := m.current()
	if call == nil || !call.Matched || call.RemoteID != ev.id {
		return
	}
	userID := call.UserID
	if summary := m.finish(models.EndCallerLeft); summary != nil {
		m.settleAsync(*summary)
	}
	m.deps.OnNotice(Notice{Kind: NoticeInfo, Op: "caller_left", UserID: userID, Message: "The caller disconnected. The call has ended."})
}

func (m *Machine) onMatchTimeout(ev evMatchTimeout) {
	st, ok := m.state.(Accepting)
	if !ok || ev.epoch != m.epoch || st.Pending || st.Call.Matched {
		return
	}
	userID := st.Call.UserID
	m.logger.Warn("caller never joined", zap.String("user_id", userID), zap.Duration("timeout", m.cfg.MatchTimeout))
	if summary := m.finish(models.EndNoShow); summary != nil {
		m.settleAsync(*summary)
	}
	m.deps.OnNotice(Notice{Kind: NoticeRetryable, Op: "match", UserID: userID, Message: "The caller did not connect. The call was ended."})
}

// finish tears the call down locally. It returns the summary to settle, or
// nil when nothing was confirmed to viewers (no call, or accept in flight).
func (m *Machine) finish(reason models.EndReason) *models.CallSummary {
	var (
		call      *models.ActiveCall
		confirmed bool
	)
	switch st := m.state.(type) {
	case Accepting:
		call, confirmed = st.Call, !st.Pending
	case LiveCall:
		call, confirmed = st.Call, true
	default:
		return nil
	}
	m.stopTimers()
	m.epoch++
	m.lastJoin = ""

	var summary *models.CallSummary
	if confirmed {
		s := models.CallSummary{
			UserID:   call.UserID,
			Kind:     call.Kind,
			Duration: call.Elapsed,
			Charge:   models.ChargeFor(call.Elapsed, m.cfg.Rates.For(call.Kind)),
			EndedAt:  m.deps.Now(),
			Reason:   reason,
		}
		if err := m.deps.Signal.Emit(signaling.EventCallEnded, signaling.CallEnded{
			Duration:  s.Duration,
			Charge:    s.Charge,
			Timestamp: s.EndedAt.Unix(),
		}); err != nil {
			m.logger.Warn("emit call_ended failed", zap.Error(err))
		}
		summary = &s
		metrics.CallEnded(string(reason), call.Elapsed)
	}
	m.deps.Waitlist.Clear()
	m.setState(m.restingState())
	m.logger.Info("call ended",
		zap.String("user_id", call.UserID),
		zap.String("reason", string(reason)),
		zap.Int("duration", call.Elapsed),
		zap.Bool("confirmed", confirmed))
	return summary
}

// settleAsync reports s to the server, also after the session context is
// cancelled.
func (m *Machine) settleAsync(s models.CallSummary) {
	eventloop.Await(m.deps.Scheduler, func() (EndResult, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(m.ctx), m.cfg.RequestTimeout)
		defer cancel()
		return m.deps.API.EndCall(ctx, m.cfg.StreamID, s)
	}, func(res EndResult, err error) {
		if err != nil {
			m.logger.Warn("end call request failed; local state already cleared", zap.String("user_id", s.UserID), zap.Error(err))
			metrics.RESTFailure("end_call")
			m.deps.OnNotice(Notice{Kind: NoticeRetryable, Op: "end", UserID: s.UserID, Message: "The call ended but the server could not be updated.", Err: err})
			return
		}
		if res.Charge != s.Charge {
			m.logger.Info("server charge differs from local charge", zap.Int64("local", s.Charge), zap.Int64("server", res.Charge))
		}
	})
}

func (m *Machine) onReject(ev evReject) error {
	userID := ev.req.UserID
	if m.rejecting[userID] {
		return ErrRequestPending
	}
	if st, ok := m.state.(Accepting); ok && st.Pending && st.Call.UserID == userID {
		return ErrRequestPending
	}
	m.rejecting[userID] = true
	req := ev.req
	eventloop.Await(m.deps.Scheduler, func() (struct{}, error) {
		ctx, cancel := context.WithTimeout(m.ctx, m.cfg.RequestTimeout)
		defer cancel()
		return struct{}{}, m.deps.API.RejectCall(ctx, m.cfg.StreamID, req.UserID)
	}, func(_ struct{}, err error) {
		_, _ = m.apply(evRejectDone{req: req, err: err})
	})
	return nil
}

func (m *Machine) onRejectDone(ev evRejectDone) {
	userID := ev.req.UserID
	delete(m.rejecting, userID)
	if ev.err != nil {
		m.logger.Warn("reject call failed", zap.String("user_id", userID), zap.Error(ev.err))
		metrics.RESTFailure("reject_call")
		m.deps.OnNotice(Notice{Kind: NoticeRetryable, Op: "reject", UserID: userID, Message: "Could not reject the request. Try again.", Err: ev.err})
		return
	}
	m.deps.Waitlist.Remove(userID)
	if err := m.deps.Signal.Emit(signaling.EventCallRejected, signaling.CallRejected{UserID: userID}); err != nil {
		m.logger.Warn("emit call_rejected failed", zap.Error(err))
	}
	switch m.state.(type) {
	case Idle, WaitlistOnly:
		m.setState(m.restingState())
	default:
		m.deps.OnChange()
	}
}

func (m *Machine) current() *models.ActiveCall {
	switch st := m.state.(type) {
	case Accepting:
		return st.Call
	case LiveCall:
		return st.Call
	}
	return nil
}

func (m *Machine) restingState() State {
	if m.deps.Waitlist.Len() > 0 {
		return WaitlistOnly{}
	}
	return Idle{}
}

func (m *Machine) setState(s State) {
	prev := m.state
	m.state = s
	if prev == nil || prev.Phase() != s.Phase() {
		m.logger.Debug("call state", zap.Stringer("from", phaseOf(prev)), zap.Stringer("to", s.Phase()))
	}
	m.deps.OnChange()
}

func (m *Machine) stopTimers() {
	if m.stopTick != nil {
		m.stopTick()
		m.stopTick = nil
	}
	if m.stopMatch != nil {
		m.stopMatch()
		m.stopMatch = nil
	}
}

func phaseOf(s State) Phase {
	if s == nil {
		return PhaseIdle
	}
	return s.Phase()
}

func normalizeTransportID(id string) string {
	if id == "0" {
		return ""
	}
	return id
}
