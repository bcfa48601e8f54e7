package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/livehost/internal/broadcast"
	"github.com/aura-webinar/livehost/internal/callbridge"
	"github.com/aura-webinar/livehost/internal/models"
)

type fakeController struct {
	calls  []string
	err    error
	ended  bool
	snap   broadcast.Snapshot
	facing string
}

func (f *fakeController) AcceptCall(_ context.Context, userID string) error {
	f.calls = append(f.calls, "accept "+userID)
	return f.err
}

func (f *fakeController) RejectCall(_ context.Context, userID string) error {
	f.calls = append(f.calls, "reject "+userID)
	return f.err
}

func (f *fakeController) EndCall(context.Context) (bool, error) {
	f.calls = append(f.calls, "end-call")
	return f.ended, f.err
}

func (f *fakeController) ToggleMic(context.Context) (bool, error)    { return false, f.err }
func (f *fakeController) ToggleCamera(context.Context) (bool, error) { return true, f.err }
func (f *fakeController) SwitchCamera(context.Context) (string, error) {
	return f.facing, f.err
}

func (f *fakeController) OnAppBackgrounded(context.Context) { f.calls = append(f.calls, "bg") }

func (f *fakeController) Snapshot(context.Context) (broadcast.Snapshot, error) { return f.snap, f.err }

func TestDispatch(t *testing.T) {
	ctx := context.Background()
	f := &fakeController{facing: models.FacingBack}

	cases := []struct {
		line string
		out  string
	}{
		{"accept u1", "accepting u1"},
		{"  reject   u2 ", "rejected u2"},
		{"end-call", "no active call"},
		{"mic", "mic off"},
		{"camera", "camera on"},
		{"flip", "camera back"},
		{"", ""},
	}
	for _, tc := range cases {
		out, err := dispatch(ctx, f, tc.line)
		require.NoError(t, err, tc.line)
		assert.Equal(t, tc.out, out, tc.line)
	}
	assert.Equal(t, []string{"accept u1", "reject u2", "end-call"}, f.calls)

	_, err := dispatch(ctx, f, "accept")
	assert.Error(t, err)
	_, err = dispatch(ctx, f, "dance")
	assert.ErrorContains(t, err, "unknown command")

	_, err = dispatch(ctx, f, "quit")
	assert.ErrorIs(t, err, errQuit)
	_, err = dispatch(ctx, f, "bg")
	assert.ErrorIs(t, err, errQuit)
	assert.Equal(t, "bg", f.calls[len(f.calls)-1])
}

func TestDispatchPropagatesErrors(t *testing.T) {
	f := &fakeController{err: broadcast.ErrNotLive}
	_, err := dispatch(context.Background(), f, "end-call")
	assert.True(t, errors.Is(err, broadcast.ErrNotLive))
	_, err = dispatch(context.Background(), f, "status")
	assert.ErrorIs(t, err, broadcast.ErrNotLive)
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "offline", summary(broadcast.Snapshot{}))

	s := broadcast.Snapshot{
		Live:      true,
		Session:   models.StreamSession{Kind: models.KindVideo},
		Viewers:   12,
		Signaling: "connected",
		Phase:     callbridge.PhaseLiveCall,
		Call:      &models.ActiveCall{UserName: "Asha", Kind: models.KindVoice, Elapsed: 65},
		Timer:     models.TimerState{Active: true, Remaining: 535},
		Waitlist:  []models.CallRequest{{UserID: "u7"}, {UserID: "u9"}},
	}
	assert.Equal(t, "live video | viewers 12 | signaling connected | live_call Asha (voice, 65s, 535s left) | waiting: u7, u9 | mic off", summary(s))
}

func TestConsolePrintsNewTranscriptLines(t *testing.T) {
	var buf bytes.Buffer
	c := newConsole(&buf)
	a := models.ChatEvent{Kind: models.ChatComment, UserName: "Asha", Text: "hi"}
	b := models.ChatEvent{Kind: models.ChatGift, UserName: "Ravi", GiftName: "rose", Amount: 10}

	snap := broadcast.Snapshot{Live: true, Transcript: []models.ChatEvent{a}}
	c.Render(snap)
	c.Render(snap)
	snap.Transcript = []models.ChatEvent{a, b}
	c.Render(snap)
	c.Alert(broadcast.Alert{Level: broadcast.AlertRetryable, Op: "toggle_mic", Message: "could not save", Err: errors.New("timeout")})

	out := buf.String()
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("Asha: hi")))
	assert.Contains(t, out, "Ravi sent rose (10)")
	assert.Contains(t, out, "[retryable] toggle_mic: could not save (timeout)")
}
