// Package media is the host's real-time audio/video transport engine
// contract and its LiveKit implementation.
package media

import (
	"context"
	"errors"
)

var (
	ErrNotInitialized = errors.New("media: engine not initialized")
	ErrNotJoined      = errors.New("media: not joined to a channel")
	ErrAlreadyJoined  = errors.New("media: already joined to a channel")
	ErrVideoDisabled  = errors.New("media: video is not enabled")
	ErrReleased       = errors.New("media: engine released")
	// ErrConnectionLost is reported through OnError when the transport drops.
	ErrConnectionLost = errors.New("media: connection lost")
)

// Role is the transport role of the local participant.
type Role int

const (
	RoleAudience Role = iota
	RoleBroadcaster
)

// JoinOptions tune JoinChannel.
type JoinOptions struct {
	// AutoSubscribe subscribes to remote tracks on join.
	AutoSubscribe bool
}

// EventHandler receives engine callbacks. They run on engine goroutines and
// must not block. Nil fields are skipped.
type EventHandler struct {
	OnJoinSuccess func(channel, localID string)
	OnUserJoined  func(remoteID string)
	OnUserOffline func(remoteID string)
	OnError       func(err error)
}

// Engine is the media transport contract used by the broadcast controller.
// Calls other than RegisterEventHandler may block on the network.
type Engine interface {
	Initialize(ctx context.Context, appID string) error
	EnableAudio() error
	EnableVideo() error
	SetRole(role Role) error
	StartPreview() error
	StopPreview() error
	JoinChannel(ctx context.Context, token, channel, localID string, opts JoinOptions) error
	LeaveChannel() error
	MuteLocalAudio(muted bool) error
	MuteLocalVideo(muted bool) error
	SwitchCamera() error
	RegisterEventHandler(h EventHandler)
	Release() error
}
