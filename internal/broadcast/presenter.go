package broadcast

import (
	"github.com/aura-webinar/livehost/internal/callbridge"
	"github.com/aura-webinar/livehost/internal/models"
)

// AlertLevel tells the presentation layer how to show an alert.
type AlertLevel int

const (
	// AlertInfo: something happened; no action needed.
	AlertInfo AlertLevel = iota
	// AlertRetryable: an action failed and can be retried.
	AlertRetryable
	// AlertFatal: the session could not start or continue.
	AlertFatal
)

func (l AlertLevel) String() string {
	switch l {
	case AlertInfo:
		return "info"
	case AlertRetryable:
		return "retryable"
	case AlertFatal:
		return "fatal"
	}
	return "unknown"
}

// Alert is a user-facing message.
type Alert struct {
	Level   AlertLevel
	Op      string
	Message string
	Err     error
}

// Snapshot is a consistent copy of everything the host screen shows.
type Snapshot struct {
	Live         bool
	Session      models.StreamSession
	Viewers      int
	Signaling    string
	Phase        callbridge.Phase
	Call         *models.ActiveCall
	Waitlist     []models.CallRequest
	Participants []models.Participant
	Timer        models.TimerState
	Transcript   []models.ChatEvent
}

// Presenter receives state from the controller. Both methods are called on
// the session loop and must not block.
type Presenter interface {
	Render(Snapshot)
	Alert(Alert)
}

type nopPresenter struct{}

func (nopPresenter) Render(Snapshot) {}
func (nopPresenter) Alert(Alert)     {}

func alertFromNotice(n callbridge.Notice) Alert {
	level := AlertRetryable
	if n.Kind == callbridge.NoticeInfo {
		level = AlertInfo
	}
	return Alert{Level: level, Op: n.Op, Message: n.Message, Err: n.Err}
}
