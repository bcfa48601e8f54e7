package broadcast

import (
	"context"
	"errors"
	"sync"

	"github.com/aura-webinar/livehost/internal/callbridge"
	"github.com/aura-webinar/livehost/internal/eventloop"
	"github.com/aura-webinar/livehost/internal/media"
	"github.com/aura-webinar/livehost/internal/models"
	"github.com/aura-webinar/livehost/internal/signaling"
)

// heldScheduler parks off-loop work while holding, so a test can act while
// a REST call is in flight.
type heldScheduler struct {
	*eventloop.Manual
	mu      sync.Mutex
	holding bool
	held    []func()
}

func (s *heldScheduler) Go(fn func()) {
	s.mu.Lock()
	if s.holding {
		s.held = append(s.held, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

func (s *heldScheduler) hold() {
	s.mu.Lock()
	s.holding = true
	s.mu.Unlock()
}

// release runs the parked work and stops holding.
func (s *heldScheduler) release() {
	s.mu.Lock()
	fns := s.held
	s.held, s.holding = nil, false
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	s.Manual.Drain()
}

// journal records cross-collaborator call order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.entries = append(j.entries, s)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) count(s string) int {
	n := 0
	for _, e := range j.list() {
		if e == s {
			n++
		}
	}
	return n
}

func (j *journal) index(s string) int {
	for i, e := range j.list() {
		if e == s {
			return i
		}
	}
	return -1
}

type fakeEngine struct {
	j       *journal
	failOn  string
	handler media.EventHandler
}

func (e *fakeEngine) step(name string) error {
	e.j.add(name)
	if e.failOn == name {
		return errors.New(name + " failed")
	}
	return nil
}

func (e *fakeEngine) Initialize(context.Context, string) error  { return e.step("initialize") }
func (e *fakeEngine) EnableAudio() error                        { return e.step("enable_audio") }
func (e *fakeEngine) EnableVideo() error                        { return e.step("enable_video") }
func (e *fakeEngine) SetRole(media.Role) error                  { return e.step("set_role") }
func (e *fakeEngine) StartPreview() error                       { return e.step("start_preview") }
func (e *fakeEngine) StopPreview() error                        { return e.step("stop_preview") }
func (e *fakeEngine) LeaveChannel() error                       { return e.step("leave_channel") }
func (e *fakeEngine) SwitchCamera() error                       { return e.step("switch_camera") }
func (e *fakeEngine) Release() error                            { return e.step("release") }
func (e *fakeEngine) RegisterEventHandler(h media.EventHandler) { e.handler = h }

func (e *fakeEngine) JoinChannel(context.Context, string, string, string, media.JoinOptions) error {
	return e.step("join_channel")
}

func (e *fakeEngine) MuteLocalAudio(muted bool) error {
	if muted {
		return e.step("mute_audio")
	}
	return e.step("unmute_audio")
}

func (e *fakeEngine) MuteLocalVideo(muted bool) error {
	if muted {
		return e.step("mute_video")
	}
	return e.step("unmute_video")
}

type sent struct {
	event   string
	payload any
}

type fakeSignal struct {
	j      *journal
	events chan signaling.Event

	mu       sync.Mutex
	sent     []sent
	closed   bool
	emitErr  error
	closeErr error
}

func newFakeSignal(j *journal) *fakeSignal {
	return &fakeSignal{j: j, events: make(chan signaling.Event, 16)}
}

func (s *fakeSignal) Emit(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.emitErr != nil {
		return s.emitErr
	}
	s.sent = append(s.sent, sent{event, payload})
	s.j.add("emit:" + event)
	return nil
}

func (s *fakeSignal) Events() <-chan signaling.Event { return s.events }

func (s *fakeSignal) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.j.add("disconnect")
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return s.closeErr
}

func (s *fakeSignal) named(event string) []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sent
	for _, m := range s.sent {
		if m.event == event {
			out = append(out, m)
		}
	}
	return out
}

type fakeAPI struct {
	j         *journal
	mediaErr  error
	endErr    error
	acceptID  string
	mu        sync.Mutex
	media     []models.MediaState
	summaries []models.CallSummary
}

func (a *fakeAPI) AcceptCall(context.Context, string, models.CallRequest) (callbridge.AcceptResult, error) {
	a.j.add("accept_call")
	return callbridge.AcceptResult{CallerTransportID: a.acceptID}, nil
}

func (a *fakeAPI) RejectCall(context.Context, string, string) error {
	a.j.add("reject_call")
	return nil
}

func (a *fakeAPI) EndCall(ctx context.Context, _ string, s models.CallSummary) (callbridge.EndResult, error) {
	if err := ctx.Err(); err != nil {
		a.j.add("end_call_cancelled")
		return callbridge.EndResult{}, err
	}
	a.j.add("end_call")
	a.mu.Lock()
	a.summaries = append(a.summaries, s)
	a.mu.Unlock()
	return callbridge.EndResult{Charge: s.Charge}, nil
}

func (a *fakeAPI) UpdateMedia(_ context.Context, _ string, state models.MediaState) error {
	a.j.add("update_media")
	a.mu.Lock()
	a.media = append(a.media, state)
	a.mu.Unlock()
	return a.mediaErr
}

func (a *fakeAPI) EndStream(context.Context, string) error {
	a.j.add("end_stream")
	return a.endErr
}

type recordingPresenter struct {
	mu      sync.Mutex
	renders int
	last    Snapshot
	alerts  []Alert
}

func (p *recordingPresenter) Render(s Snapshot) {
	p.mu.Lock()
	p.renders++
	p.last = s
	p.mu.Unlock()
}

func (p *recordingPresenter) Alert(a Alert) {
	p.mu.Lock()
	p.alerts = append(p.alerts, a)
	p.mu.Unlock()
}

func (p *recordingPresenter) alertsAt(level AlertLevel) []Alert {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Alert
	for _, a := range p.alerts {
		if a.Level == level {
			out = append(out, a)
		}
	}
	return out
}
