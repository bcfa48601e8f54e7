package models

import "time"

// CallRecord is a persisted call row on the service side.
type CallRecord struct {
	ID          int64      `json:"id"`
	StreamID    string     `json:"stream_id"`
	UserID      string     `json:"user_id"`
	Kind        CallKind   `json:"kind"`
	Visibility  Visibility `json:"visibility"`
	TransportID string     `json:"transport_id"`
	Status      string     `json:"status"`
	AcceptedAt  time.Time  `json:"accepted_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	DurationSec int        `json:"duration_sec"`
	Charge      int64      `json:"charge"`
	EndReason   EndReason  `json:"end_reason,omitempty"`
}

// Call row statuses.
const (
	CallAccepted = "accepted"
	CallEnded    = "ended"
	CallRejected = "rejected"
)
