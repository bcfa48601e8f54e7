package models

import (
	"time"

	"github.com/google/uuid"
)

// StreamStatus is the lifecycle status of a broadcast.
type StreamStatus string

const (
	StreamCreated StreamStatus = "created"
	StreamLive    StreamStatus = "live"
	StreamEnded   StreamStatus = "ended"
)

// CallKind is the media kind of a stream or a call.
type CallKind string

const (
	KindVoice CallKind = "voice"
	KindVideo CallKind = "video"
)

// Valid reports whether k is a known kind.
func (k CallKind) Valid() bool {
	return k == KindVoice || k == KindVideo
}

// TransportCredentials are what the media engine needs to join a channel.
type TransportCredentials struct {
	AppID   string `json:"app_id"`
	Token   string `json:"token"`
	LocalID string `json:"local_id"`
}

// StreamSession tracks one broadcast run by a host.
type StreamSession struct {
	ID            uuid.UUID            `json:"id"`
	HostID        string               `json:"host_id"`
	Title         string               `json:"title,omitempty"`
	Channel       string               `json:"channel"`
	Kind          CallKind             `json:"kind"`
	Status        StreamStatus         `json:"status"`
	MicEnabled    bool                 `json:"mic_enabled"`
	CameraEnabled bool                 `json:"camera_enabled"`
	CameraFacing  string               `json:"camera_facing"`
	PeakViewers   int                  `json:"peak_viewers"`
	Credentials   TransportCredentials `json:"credentials"`
	StartedAt     time.Time            `json:"started_at"`
	EndedAt       *time.Time           `json:"ended_at,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// Camera facings.
const (
	FacingFront = "front"
	FacingBack  = "back"
)

// MediaState is the host's local media flags as persisted by the server.
type MediaState struct {
	MicEnabled    bool   `json:"mic_enabled"`
	CameraEnabled bool   `json:"camera_enabled"`
	CameraFacing  string `json:"camera_facing,omitempty"`
}
