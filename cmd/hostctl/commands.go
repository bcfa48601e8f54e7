package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aura-webinar/livehost/internal/broadcast"
)

var errQuit = errors.New("quit")

// controller is the part of broadcast.Controller the command line drives.
type controller interface {
	AcceptCall(ctx context.Context, userID string) error
	RejectCall(ctx context.Context, userID string) error
	EndCall(ctx context.Context) (bool, error)
	ToggleMic(ctx context.Context) (bool, error)
	ToggleCamera(ctx context.Context) (bool, error)
	SwitchCamera(ctx context.Context) (string, error)
	OnAppBackgrounded(ctx context.Context)
	Snapshot(ctx context.Context) (broadcast.Snapshot, error)
}

const usage = "commands: accept <user>, reject <user>, end-call, mic, camera, flip, bg, status, quit"

// dispatch runs one command line and returns what to print. errQuit ends
// the session.
func dispatch(ctx context.Context, c controller, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	arg := func() (string, error) {
		if len(fields) < 2 {
			return "", fmt.Errorf("%s needs a user id", fields[0])
		}
		return fields[1], nil
	}

	switch fields[0] {
	case "accept":
		user, err := arg()
		if err != nil {
			return "", err
		}
		return "accepting " + user, c.AcceptCall(ctx, user)
	case "reject":
		user, err := arg()
		if err != nil {
			return "", err
		}
		return "rejected " + user, c.RejectCall(ctx, user)
	case "end-call":
		ended, err := c.EndCall(ctx)
		if err != nil {
			return "", err
		}
		if !ended {
			return "no active call", nil
		}
		return "call ended", nil
	case "mic":
		on, err := c.ToggleMic(ctx)
		return "mic " + onOff(on), err
	case "camera":
		on, err := c.ToggleCamera(ctx)
		return "camera " + onOff(on), err
	case "flip":
		facing, err := c.SwitchCamera(ctx)
		return "camera " + facing, err
	case "bg":
		c.OnAppBackgrounded(ctx)
		return "", errQuit
	case "status":
		s, err := c.Snapshot(ctx)
		if err != nil {
			return "", err
		}
		return summary(s), nil
	case "quit", "exit":
		return "", errQuit
	case "help":
		return usage, nil
	}
	return "", fmt.Errorf("unknown command %q (%s)", fields[0], usage)
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
