package broadcast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/aura-webinar/livehost/internal/callbridge"
	"github.com/aura-webinar/livehost/internal/eventloop"
	"github.com/aura-webinar/livehost/internal/media"
	"github.com/aura-webinar/livehost/internal/models"
	"github.com/aura-webinar/livehost/internal/signaling"
)

type harness struct {
	t         *testing.T
	c         *Controller
	sched     *eventloop.Manual
	held      *heldScheduler
	j         *journal
	engine    *fakeEngine
	signal    *fakeSignal
	api       *fakeAPI
	presenter *recordingPresenter
	dialed    []string
	dialErr   error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	j := &journal{}
	h := &harness{
		t:         t,
		sched:     eventloop.NewManual(),
		j:         j,
		engine:    &fakeEngine{j: j},
		signal:    newFakeSignal(j),
		api:       &fakeAPI{j: j},
		presenter: &recordingPresenter{},
	}
	h.held = &heldScheduler{Manual: h.sched}
	clock := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	h.c = New(Config{Rates: callbridge.Rates{Voice: 50, Video: 100}}, Deps{
		API:       h.api,
		NewEngine: func() (media.Engine, error) { return h.engine, nil },
		DialSignal: func(_ context.Context, streamID string) (Signal, error) {
			h.dialed = append(h.dialed, streamID)
			if h.dialErr != nil {
				return nil, h.dialErr
			}
			return h.signal, nil
		},
		Scheduler: h.held,
		Presenter: h.presenter,
		Now:       func() time.Time { return clock.Add(h.sched.Elapsed()) },
	})
	return h
}

func streamInfo(kind models.CallKind) models.StreamSession {
	return models.StreamSession{
		ID:      uuid.MustParse("0b6f3f9e-4d55-4c2e-8a8e-6c1f1f7d2a10"),
		HostID:  "host-1",
		Channel: "live_0b6f3f9e",
		Kind:    kind,
		Credentials: models.TransportCredentials{
			AppID:   "ws://livekit.local",
			Token:   "jwt",
			LocalID: "1001",
		},
	}
}

func (h *harness) start(kind models.CallKind) {
	h.t.Helper()
	require.NoError(h.t, h.c.Start(context.Background(), streamInfo(kind)))
	h.sched.Drain()
}

// push delivers a signaling event and runs the loop until cond holds.
func (h *harness) push(ev signaling.Event, cond func() bool) {
	h.t.Helper()
	h.signal.events <- ev
	require.Eventually(h.t, func() bool {
		h.sched.Drain()
		return cond()
	}, time.Second, time.Millisecond)
}

func (h *harness) snapshot() Snapshot {
	h.t.Helper()
	snap, err := h.c.Snapshot(context.Background())
	require.NoError(h.t, err)
	return snap
}

func (h *harness) requestCall(userID string, kind models.CallKind) {
	h.push(signaling.CallRequest{UserID: userID, UserName: "viewer " + userID, CallType: string(kind), CallMode: "public"}, func() bool {
		for _, r := range h.snapshot().Waitlist {
			if r.UserID == userID {
				return true
			}
		}
		return false
	})
}

func TestStartVideoSession(t *testing.T) {
	h := newHarness(t)
	h.start(models.KindVideo)

	assert.Equal(t, []string{"initialize", "enable_audio", "enable_video", "set_role", "start_preview", "join_channel"}, h.j.list())
	assert.Equal(t, []string{"0b6f3f9e-4d55-4c2e-8a8e-6c1f1f7d2a10"}, h.dialed)

	snap := h.snapshot()
	assert.True(t, snap.Live)
	assert.Equal(t, models.StreamLive, snap.Session.Status)
	assert.True(t, snap.Session.MicEnabled)
	assert.True(t, snap.Session.CameraEnabled)
	assert.Equal(t, models.FacingFront, snap.Session.CameraFacing)
	assert.Equal(t, callbridge.PhaseIdle, snap.Phase)
	assert.Positive(t, h.presenter.renders)
}

func TestStartVoiceSessionSkipsVideo(t *testing.T) {
	h := newHarness(t)
	h.start(models.KindVoice)

	assert.Equal(t, []string{"initialize", "enable_audio", "set_role", "join_channel"}, h.j.list())
	assert.False(t, h.snapshot().Session.CameraEnabled)
}

func TestStartRejectsInvalidSession(t *testing.T) {
	h := newHarness(t)
	bad := streamInfo("hologram")
	assert.ErrorIs(t, h.c.Start(context.Background(), bad), ErrInvalidSession)
	assert.Empty(t, h.j.list())
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t)
	h.start(models.KindVoice)
	assert.ErrorIs(t, h.c.Start(context.Background(), streamInfo(models.KindVoice)), ErrAlreadyLive)
}

func TestStartFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.engine.failOn = "join_channel"

	err := h.c.Start(context.Background(), streamInfo(models.KindVideo))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "join channel")
	h.sched.Drain()

	assert.Equal(t, 1, h.j.count("stop_preview"))
	assert.Equal(t, 1, h.j.count("release"))
	assert.Zero(t, h.j.count("leave_channel"))
	assert.Empty(t, h.dialed)
	assert.False(t, h.snapshot().Live)
	require.Len(t, h.presenter.alertsAt(AlertFatal), 1)

	h.engine.failOn = ""
	require.NoError(t, h.c.Start(context.Background(), streamInfo(models.KindVideo)))
}

func TestStartSignalingFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.dialErr = errors.New("connection refused")

	require.Error(t, h.c.Start(context.Background(), streamInfo(models.KindVideo)))
	assert.Equal(t, 1, h.j.count("leave_channel"))
	assert.Equal(t, 1, h.j.count("stop_preview"))
	assert.Equal(t, 1, h.j.count("release"))
	assert.False(t, h.snapshot().Live)
}

func TestEndTwiceTearsDownOnce(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	h.start(models.KindVideo)

	h.c.End(context.Background())
	h.c.End(context.Background())
	h.sched.Drain()

	assert.Equal(t, 1, h.j.count("end_stream"))
	assert.Equal(t, 1, h.j.count("disconnect"))
	assert.Equal(t, 1, h.j.count("leave_channel"))
	assert.Equal(t, 1, h.j.count("release"))

	snap := h.snapshot()
	assert.False(t, snap.Live)
	assert.Equal(t, models.StreamEnded, snap.Session.Status)
	assert.NotNil(t, snap.Session.EndedAt)

	h.c.End(context.Background())
	assert.Equal(t, 1, h.j.count("end_stream"))
}

func TestEndWithoutSession(t *testing.T) {
	h := newHarness(t)
	h.c.End(context.Background())
	h.sched.Drain()
	assert.Empty(t, h.j.list())
}

func TestEndContinuesPastFailedSteps(t *testing.T) {
	h := newHarness(t)
	h.start(models.KindVideo)
	h.engine.failOn = "leave_channel"
	h.signal.closeErr = errors.New("already closed")

	h.c.End(context.Background())

	assert.Equal(t, 1, h.j.count("release"))
	assert.Equal(t, 1, h.j.count("end_stream"))
}

func TestEndSettlesActiveCallFirst(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	h.start(models.KindVideo)
	h.requestCall("U1", models.KindVideo)

	require.NoError(t, h.c.AcceptCall(context.Background(), "U1"))
	h.sched.Drain()
	h.sched.Advance(61 * time.Second)

	h.c.End(context.Background())
	h.sched.Drain()

	require.Len(t, h.api.summaries, 1)
	assert.Equal(t, models.EndSessionEnded, h.api.summaries[0].Reason)
	assert.Equal(t, int64(100), h.api.summaries[0].Charge)

	assert.Less(t, h.j.index("emit:call_ended"), h.j.index("end_call"))
	assert.Less(t, h.j.index("end_call"), h.j.index("stop_preview"))
	assert.Less(t, h.j.index("stop_preview"), h.j.index("leave_channel"))
	assert.Less(t, h.j.index("leave_channel"), h.j.index("release"))
	assert.Less(t, h.j.index("release"), h.j.index("disconnect"))
	assert.Less(t, h.j.index("disconnect"), h.j.index("end_stream"))
}

func TestEndWhileAcceptInFlightSettlesCall(t *testing.T) {
	h := newHarness(t)
	h.start(models.KindVideo)
	h.requestCall("U1", models.KindVideo)

	h.held.hold()
	require.NoError(t, h.c.AcceptCall(context.Background(), "U1"))
	h.c.End(context.Background())
	h.sched.Drain()
	assert.Empty(t, h.api.summaries)
	assert.Equal(t, 1, h.j.count("end_stream"))

	// The server commits the accept after the session is gone.
	h.held.release()

	require.Len(t, h.api.summaries, 1)
	assert.Equal(t, "U1", h.api.summaries[0].UserID)
	assert.Equal(t, models.EndCancelled, h.api.summaries[0].Reason)
	assert.Zero(t, h.j.count("end_call_cancelled"))
	assert.Empty(t, h.signal.named(signaling.EventCallAccepted))
	assert.Empty(t, h.signal.named(signaling.EventCallEnded))
}

func TestCallBridgeThroughEngineCallbacks(t *testing.T) {
	h := newHarness(t)
	h.api.acceptID = "55"
	h.start(models.KindVideo)
	h.requestCall("U1", models.KindVideo)

	require.NoError(t, h.c.AcceptCall(context.Background(), "U1"))
	h.sched.Drain()
	snap := h.snapshot()
	assert.Equal(t, callbridge.PhaseAccepting, snap.Phase)
	assert.Empty(t, snap.Waitlist)

	h.engine.handler.OnUserJoined("77")
	h.sched.Advance(time.Second)
	snap = h.snapshot()
	require.Equal(t, callbridge.PhaseLiveCall, snap.Phase)
	assert.Equal(t, "77", snap.Call.RemoteID)
	assert.Len(t, snap.Participants, 1)

	h.engine.handler.OnUserOffline("77")
	h.engine.handler.OnUserOffline("77")
	h.sched.Drain()

	assert.Equal(t, callbridge.PhaseIdle, h.snapshot().Phase)
	assert.Len(t, h.signal.named(signaling.EventCallEnded), 1)
	infos := h.presenter.alertsAt(AlertInfo)
	require.Len(t, infos, 1)
	assert.Equal(t, "caller_left", infos[0].Op)
}

func TestRejectCall(t *testing.T) {
	h := newHarness(t)
	h.start(models.KindVoice)
	h.requestCall("U1", models.KindVoice)

	require.NoError(t, h.c.RejectCall(context.Background(), "U1"))
	h.sched.Drain()

	assert.Empty(t, h.snapshot().Waitlist)
	require.Len(t, h.signal.named(signaling.EventCallRejected), 1)
}

func TestWithdrawnRequestLeavesWaitlist(t *testing.T) {
	h := newHarness(t)
	h.start(models.KindVoice)
	h.requestCall("U1", models.KindVoice)
	h.requestCall("U1", models.KindVoice)
	assert.Len(t, h.snapshot().Waitlist, 1)

	h.push(signaling.CallRequestWithdrawn{UserID: "U1"}, func() bool { return len(h.snapshot().Waitlist) == 0 })
	assert.Equal(t, callbridge.PhaseIdle, h.snapshot().Phase)
}

func TestEndCallWithoutCall(t *testing.T) {
	h := newHarness(t)
	h.start(models.KindVoice)

	ended, err := h.c.EndCall(context.Background())
	require.NoError(t, err)
	assert.False(t, ended)
	assert.Empty(t, h.signal.named(signaling.EventCallEnded))
}

func TestActionsNeedLiveSession(t *testing.T) {
	h := newHarness(t)
	_, err := h.c.ToggleMic(context.Background())
	assert.ErrorIs(t, err, ErrNotLive)
	assert.ErrorIs(t, h.c.AcceptCall(context.Background(), "U1"), ErrNotLive)
}

func TestToggleMicIsOptimistic(t *testing.T) {
	h := newHarness(t)
	h.api.mediaErr = errors.New("503")
	h.start(models.KindVoice)

	on, err := h.c.ToggleMic(context.Background())
	require.NoError(t, err)
	assert.False(t, on)
	h.sched.Drain()

	assert.False(t, h.snapshot().Session.MicEnabled)
	assert.Equal(t, 1, h.j.count("mute_audio"))
	toggled := h.signal.named(signaling.EventHostMicToggled)
	require.Len(t, toggled, 1)
	assert.Equal(t, signaling.HostMicToggled{Enabled: false}, toggled[0].payload)
	retry := h.presenter.alertsAt(AlertRetryable)
	require.Len(t, retry, 1)
	assert.Equal(t, "toggle_mic", retry[0].Op)

	on, err = h.c.ToggleMic(context.Background())
	require.NoError(t, err)
	assert.True(t, on)
}

func TestToggleMicEngineFailureKeepsState(t *testing.T) {
	h := newHarness(t)
	h.start(models.KindVoice)
	h.engine.failOn = "mute_audio"

	_, err := h.c.ToggleMic(context.Background())
	require.Error(t, err)
	assert.True(t, h.snapshot().Session.MicEnabled)
	assert.Empty(t, h.signal.named(signaling.EventHostMicToggled))
}

func TestCameraControls(t *testing.T) {
	h := newHarness(t)
	h.start(models.KindVideo)

	on, err := h.c.ToggleCamera(context.Background())
	require.NoError(t, err)
	assert.False(t, on)

	facing, err := h.c.SwitchCamera(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.FacingBack, facing)
	h.sched.Drain()

	toggled := h.signal.named(signaling.EventHostCameraToggled)
	require.Len(t, toggled, 2)
	assert.Equal(t, signaling.HostCameraToggled{Enabled: false, Facing: models.FacingBack}, toggled[1].payload)
	require.Len(t, h.api.media, 2)
	assert.Equal(t, models.MediaState{MicEnabled: true, CameraEnabled: false, CameraFacing: models.FacingBack}, h.api.media[1])
}

func TestCameraControlsOnVoiceSession(t *testing.T) {
	h := newHarness(t)
	h.start(models.KindVoice)

	_, err := h.c.ToggleCamera(context.Background())
	assert.ErrorIs(t, err, ErrNotVideoSession)
	_, err = h.c.SwitchCamera(context.Background())
	assert.ErrorIs(t, err, ErrNotVideoSession)
}

func TestBackgroundingEndsLiveSession(t *testing.T) {
	h := newHarness(t)
	h.c.OnAppBackgrounded(context.Background())
	assert.Empty(t, h.presenter.alertsAt(AlertInfo))

	h.start(models.KindVideo)
	h.c.OnAppBackgrounded(context.Background())
	h.sched.Drain()

	assert.False(t, h.snapshot().Live)
	assert.Equal(t, 1, h.j.count("end_stream"))
	infos := h.presenter.alertsAt(AlertInfo)
	require.Len(t, infos, 1)
	assert.Equal(t, "background", infos[0].Op)
}

func TestSignalingLostEndsSession(t *testing.T) {
	h := newHarness(t)
	h.start(models.KindVoice)

	h.push(signaling.Disconnected{Err: errors.New("gave up")}, func() bool { return h.j.count("end_stream") == 1 })
	h.sched.Drain()

	assert.False(t, h.snapshot().Live)
	assert.Equal(t, 1, h.j.count("disconnect"))
}

func TestReconnectStateIsShown(t *testing.T) {
	h := newHarness(t)
	h.start(models.KindVoice)

	h.push(signaling.Reconnecting{Attempt: 1}, func() bool { return h.snapshot().Signaling == "reconnecting" })
	h.push(signaling.Reconnected{}, func() bool { return h.snapshot().Signaling == "connected" })
}

func TestHeartbeat(t *testing.T) {
	h := newHarness(t)
	h.start(models.KindVoice)

	h.sched.Advance(25 * time.Second)
	beats := h.signal.named(signaling.EventStreamHeartbeat)
	require.Len(t, beats, 2)
	assert.Equal(t, signaling.StreamHeartbeat{StreamID: "0b6f3f9e-4d55-4c2e-8a8e-6c1f1f7d2a10"}, beats[0].payload)

	h.c.End(context.Background())
	h.sched.Advance(time.Minute)
	assert.Len(t, h.signal.named(signaling.EventStreamHeartbeat), 2)
}

func TestAudienceEventsFeedTranscript(t *testing.T) {
	h := newHarness(t)
	h.start(models.KindVoice)

	h.push(signaling.ViewerCountUpdated{Count: 12}, func() bool { return h.snapshot().Viewers == 12 })
	h.push(signaling.ViewerCountUpdated{Count: 7}, func() bool { return h.snapshot().Viewers == 7 })
	h.push(signaling.NewComment{UserID: "v1", UserName: "Asha", Text: "hello"}, func() bool { return len(h.snapshot().Transcript) == 1 })
	h.push(signaling.NewGift{UserName: "Ravi", GiftName: "rose", Amount: 25}, func() bool { return len(h.snapshot().Transcript) == 2 })

	snap := h.snapshot()
	assert.Equal(t, 12, snap.Session.PeakViewers)
	assert.Equal(t, models.ChatComment, snap.Transcript[0].Kind)
	assert.Equal(t, "hello", snap.Transcript[0].Text)
	assert.Equal(t, models.ChatGift, snap.Transcript[1].Kind)
	assert.Equal(t, int64(25), snap.Transcript[1].Amount)
}

func TestCallTimerFollowsServer(t *testing.T) {
	h := newHarness(t)
	h.start(models.KindVoice)
	h.requestCall("U1", models.KindVoice)
	require.NoError(t, h.c.AcceptCall(context.Background(), "U1"))
	h.sched.Drain()

	h.push(signaling.CallTimerStart{MaxDuration: 300}, func() bool { return h.snapshot().Timer.Active })
	h.sched.Advance(2 * time.Second)
	assert.Equal(t, 298, h.snapshot().Timer.Remaining)

	h.push(signaling.CallTimer{Remaining: 200}, func() bool { return h.snapshot().Timer.Remaining == 200 })
	h.push(signaling.CallTimerEnd{}, func() bool { return !h.snapshot().Timer.Active })
}
