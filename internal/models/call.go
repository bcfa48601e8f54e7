package models

import "time"

// Visibility decides whether the broadcast audience can watch a call.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// CallRequest is a viewer asking to be bridged into the broadcast.
type CallRequest struct {
	UserID     string     `json:"user_id"`
	UserName   string     `json:"user_name"`
	Kind       CallKind   `json:"kind"`
	Visibility Visibility `json:"visibility"`
	Position   int        `json:"position"`
	ReceivedAt time.Time  `json:"received_at"`
}

// ActiveCall is the one call bridged into the broadcast.
// RemoteID is advisory until Matched is set by a transport join.
type ActiveCall struct {
	UserID     string     `json:"user_id"`
	UserName   string     `json:"user_name"`
	Kind       CallKind   `json:"kind"`
	Visibility Visibility `json:"visibility"`
	StartedAt  time.Time  `json:"started_at"`
	RemoteID   string     `json:"remote_id,omitempty"`
	Matched    bool       `json:"matched"`
	Elapsed    int        `json:"elapsed"`
}

// EndReason says why a call ended.
type EndReason string

const (
	EndHostEnded     EndReason = "host_ended"
	EndCallerLeft    EndReason = "caller_left"
	EndNoShow        EndReason = "no_show"
	EndSessionEnded  EndReason = "session_ended"
	EndSignalingLost EndReason = "signaling_lost"
	EndCancelled     EndReason = "cancelled"
)

// CallSummary is what a finished call reports to viewers and billing.
type CallSummary struct {
	UserID   string    `json:"user_id"`
	Kind     CallKind  `json:"kind"`
	Duration int       `json:"duration"`
	Charge   int64     `json:"charge"`
	EndedAt  time.Time `json:"ended_at"`
	Reason   EndReason `json:"reason"`
}

// ChargeFor bills whole elapsed minutes at ratePerMinute.
func ChargeFor(durationSec int, ratePerMinute int64) int64 {
	if durationSec <= 0 || ratePerMinute <= 0 {
		return 0
	}
	return int64(durationSec/60) * ratePerMinute
}

// Participant is a remote transport identity attached to the media channel.
type Participant struct {
	ID       string    `json:"id"`
	JoinedAt time.Time `json:"joined_at"`
}

// TimerState is the countdown shown during a 1:1 call.
type TimerState struct {
	Remaining    int       `json:"remaining"`
	Active       bool      `json:"active"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}
