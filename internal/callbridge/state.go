package callbridge

import "github.com/aura-webinar/livehost/internal/models"

// Phase names the call lifecycle position.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseWaitlistOnly
	PhaseAccepting
	PhaseLiveCall
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseWaitlistOnly:
		return "waitlist_only"
	case PhaseAccepting:
		return "accepting"
	case PhaseLiveCall:
		return "live_call"
	default:
		return "unknown"
	}
}

// State is the tagged union of lifecycle states. Only the states below
// implement it.
type State interface {
	Phase() Phase
}

// Idle: no call and nobody waiting.
type Idle struct{}

// WaitlistOnly: no call, at least one request queued.
type WaitlistOnly struct{}

// Accepting: the host accepted a request. Pending is set while the accept
// request is in flight; the caller's transport id is not matched yet.
type Accepting struct {
	Call    *models.ActiveCall
	Pending bool
}

// LiveCall: the caller's transport join has been matched.
type LiveCall struct {
	Call *models.ActiveCall
}

func (Idle) Phase() Phase         { return PhaseIdle }
func (WaitlistOnly) Phase() Phase { return PhaseWaitlistOnly }
func (Accepting) Phase() Phase    { return PhaseAccepting }
func (LiveCall) Phase() Phase     { return PhaseLiveCall }

// events fed to Machine.apply.
type event interface {
	isEvent()
}

type evAccept struct{ req models.CallRequest }

type evAcceptDone struct {
	epoch uint64
	req   models.CallRequest
	res   AcceptResult
	err   error
}

type evReject struct{ req models.CallRequest }

type evRejectDone struct {
	req models.CallRequest
	err error
}

type evJoined struct{ id string }

type evReconcile struct {
	id  string
	seq uint64
}

type evLeft struct {
	id      string
	present bool
}

type evEnd struct{ reason models.EndReason }

type evTick struct{ epoch uint64 }

type evMatchTimeout struct{ epoch uint64 }

type evWaitlist struct{}

func (evAccept) isEvent()       {}
func (evAcceptDone) isEvent()   {}
func (evReject) isEvent()       {}
func (evRejectDone) isEvent()   {}
func (evJoined) isEvent()       {}
func (evReconcile) isEvent()    {}
func (evLeft) isEvent()         {}
func (evEnd) isEvent()          {}
func (evTick) isEvent()         {}
func (evMatchTimeout) isEvent() {}
func (evWaitlist) isEvent()     {}
