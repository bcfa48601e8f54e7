// Package signaling is the host side of the websocket signaling channel:
// a typed event model over the {"event","data"} envelope and a reconnecting
// client.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound event names.
const (
	EventCallRequest          = "call_request"
	EventCallRequestWithdrawn = "call_request_withdrawn"
	EventViewerJoined         = "viewer_joined"
	EventViewerLeft           = "viewer_left"
	EventNewComment           = "new_comment"
	EventNewLike              = "new_like"
	EventNewGift              = "new_gift"
	EventViewerCountUpdated   = "viewer_count_updated"
	EventCallTimer            = "call_timer"
	EventCallTimerStart       = "call_timer_start"
	EventCallTimerEnd         = "call_timer_end"
)

// Outbound event names.
const (
	EventRegisterHost      = "register_host"
	EventCallAccepted      = "call_accepted"
	EventCallRejected      = "call_rejected"
	EventCallEnded         = "call_ended"
	EventHostMicToggled    = "host_mic_toggled"
	EventHostCameraToggled = "host_camera_toggled"
	EventStreamHeartbeat   = "stream_heartbeat"
)

// EventStreamEnded is sent by the service to viewers only.
const EventStreamEnded = "stream_ended"

// ErrUnknownEvent is returned by Decode for names outside the host subset.
var ErrUnknownEvent = errors.New("signaling: unknown event")

// Message is the wire envelope.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is a decoded inbound event or a connection state change.
type Event interface {
	EventName() string
}

// CallRequest asks the host for a call bridge.
type CallRequest struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	CallType string `json:"callType"`
	CallMode string `json:"callMode"`
}

// CallRequestWithdrawn is sent when the requester cancels before an answer.
type CallRequestWithdrawn struct {
	UserID string `json:"userId"`
}

// ViewerJoined is an audience member entering the broadcast.
type ViewerJoined struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// ViewerLeft is an audience member leaving the broadcast.
type ViewerLeft struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// NewComment is a chat line.
type NewComment struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Text     string `json:"text"`
}

// NewLike is a heart tap.
type NewLike struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// NewGift is a paid gift.
type NewGift struct {
	UserName string `json:"userName"`
	GiftName string `json:"giftName"`
	Amount   int64  `json:"amount"`
}

// ViewerCountUpdated carries the audience size.
type ViewerCountUpdated struct {
	Count int `json:"count"`
}

// CallTimer is the server's remaining time for the running call.
type CallTimer struct {
	Remaining int `json:"remaining"`
}

// CallTimerStart sets the call's maximum duration.
type CallTimerStart struct {
	MaxDuration int `json:"maxDuration"`
}

// CallTimerEnd is the explicit end of the countdown.
type CallTimerEnd struct{}

func (CallRequest) EventName() string          { return EventCallRequest }
func (CallRequestWithdrawn) EventName() string { return EventCallRequestWithdrawn }
func (ViewerJoined) EventName() string         { return EventViewerJoined }
func (ViewerLeft) EventName() string           { return EventViewerLeft }
func (NewComment) EventName() string           { return EventNewComment }
func (NewLike) EventName() string              { return EventNewLike }
func (NewGift) EventName() string              { return EventNewGift }
func (ViewerCountUpdated) EventName() string   { return EventViewerCountUpdated }
func (CallTimer) EventName() string            { return EventCallTimer }
func (CallTimerStart) EventName() string       { return EventCallTimerStart }
func (CallTimerEnd) EventName() string         { return EventCallTimerEnd }

// Connection state events, produced by Client rather than the wire.
type (
	// Reconnecting is reported before each reconnect attempt.
	Reconnecting struct{ Attempt int }
	// Reconnected follows a successful reconnect and host re-registration.
	Reconnected struct{}
	// Disconnected is final: the client gave up or was closed remotely.
	Disconnected struct{ Err error }
)

func (Reconnecting) EventName() string { return "reconnecting" }
func (Reconnected) EventName() string  { return "reconnected" }
func (Disconnected) EventName() string { return "disconnected" }

// Outbound payloads.
type (
	RegisterHost struct {
		StreamID string `json:"streamId"`
	}
	CallAccepted struct {
		UserID            string `json:"userId"`
		UserName          string `json:"userName"`
		CallType          string `json:"callType"`
		CallMode          string `json:"callMode"`
		CallerTransportID string `json:"callerTransportId,omitempty"`
	}
	CallRejected struct {
		UserID string `json:"userId"`
	}
	CallEnded struct {
		Duration  int   `json:"duration"`
		Charge    int64 `json:"charge"`
		Timestamp int64 `json:"timestamp"`
	}
	HostMicToggled struct {
		Enabled bool `json:"enabled"`
	}
	HostCameraToggled struct {
		Enabled bool   `json:"enabled"`
		Facing  string `json:"facing,omitempty"`
	}
	StreamHeartbeat struct {
		StreamID string `json:"streamId"`
	}
)

// Decode turns an inbound envelope into its typed event.
func Decode(msg Message) (Event, error) {
	var ev Event
	switch msg.Event {
	case EventCallRequest:
		ev = &CallRequest{}
	case EventCallRequestWithdrawn:
		ev = &CallRequestWithdrawn{}
	case EventViewerJoined:
		ev = &ViewerJoined{}
	case EventViewerLeft:
		ev = &ViewerLeft{}
	case EventNewComment:
		ev = &NewComment{}
	case EventNewLike:
		ev = &NewLike{}
	case EventNewGift:
		ev = &NewGift{}
	case EventViewerCountUpdated:
		ev = &ViewerCountUpdated{}
	case EventCallTimer:
		ev = &CallTimer{}
	case EventCallTimerStart:
		ev = &CallTimerStart{}
	case EventCallTimerEnd:
		return CallTimerEnd{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, msg.Event)
	}
	if len(msg.Data) > 0 && string(msg.Data) != "null" {
		if err := json.Unmarshal(msg.Data, ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msg.Event, err)
		}
	}
	return deref(ev), nil
}

func deref(ev Event) Event {
	switch v := ev.(type) {
	case *CallRequest:
		return *v
	case *CallRequestWithdrawn:
		return *v
	case *ViewerJoined:
		return *v
	case *ViewerLeft:
		return *v
	case *NewComment:
		return *v
	case *NewLike:
		return *v
	case *NewGift:
		return *v
	case *ViewerCountUpdated:
		return *v
	case *CallTimer:
		return *v
	case *CallTimerStart:
		return *v
	}
	return ev
}

// Encode wraps an outbound payload in the envelope.
func Encode(event string, payload any) (Message, error) {
	if payload == nil {
		return Message{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", event, err)
	}
	return Message{Event: event, Data: data}, nil
}
