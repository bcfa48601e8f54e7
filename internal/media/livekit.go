package media

import (
	"context"
	"fmt"
	"sync"

	media "github.com/livekit/media-sdk"
	lksdk "github.com/livekit/server-sdk-go/v2"
	lkmedia "github.com/livekit/server-sdk-go/v2/pkg/media"
	webrtc "github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/aura-webinar/livehost/internal/models"
)

const (
	micSampleRate = 16000
	micChannels   = 1
)

// LiveKit implements Engine on a LiveKit room. The app id passed to
// Initialize is the LiveKit server URL; the join token carries the room
// and identity.
//
// Viewers subscribe to the same room, so a remote participant is reported
// through OnUserJoined only once it publishes a track, and through
// OnUserOffline when its last track is unpublished or it disconnects.
type LiveKit struct {
	logger *zap.Logger
	pubs   *publishers

	mu         sync.Mutex
	url        string
	handler    EventHandler
	audio      bool
	video      bool
	role       Role
	previewing bool
	facing     string
	released   bool

	room   *lksdk.Room
	mic    *lkmedia.PCMLocalTrack
	micPub *lksdk.LocalTrackPublication
	cam    *lksdk.LocalSampleTrack
	camPub *lksdk.LocalTrackPublication
}

// NewLiveKit returns an uninitialized engine.
func NewLiveKit(logger *zap.Logger) *LiveKit {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveKit{logger: logger, pubs: newPublishers(), facing: models.FacingFront}
}

func (e *LiveKit) Initialize(_ context.Context, appID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	if appID == "" {
		return fmt.Errorf("media: livekit url required")
	}
	e.url = appID
	return nil
}

func (e *LiveKit) EnableAudio() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.url == "" {
		return ErrNotInitialized
	}
	e.audio = true
	return nil
}

func (e *LiveKit) EnableVideo() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.url == "" {
		return ErrNotInitialized
	}
	e.video = true
	return nil
}

func (e *LiveKit) SetRole(role Role) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.url == "" {
		return ErrNotInitialized
	}
	if e.room != nil {
		return ErrAlreadyJoined
	}
	e.role = role
	return nil
}

// StartPreview marks local capture as running. Preview rendering belongs to
// the presentation layer.
func (e *LiveKit) StartPreview() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.video {
		return ErrVideoDisabled
	}
	e.previewing = true
	return nil
}

func (e *LiveKit) StopPreview() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.previewing = false
	return nil
}

func (e *LiveKit) RegisterEventHandler(h EventHandler) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

// JoinChannel connects to the room and, as broadcaster, publishes the
// enabled local tracks.
func (e *LiveKit) JoinChannel(ctx context.Context, token, channel, localID string, opts JoinOptions) error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return ErrReleased
	}
	if e.url == "" {
		e.mu.Unlock()
		return ErrNotInitialized
	}
	if e.room != nil {
		e.mu.Unlock()
		return ErrAlreadyJoined
	}
	url := e.url
	e.mu.Unlock()

	cb := &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackPublished: func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				e.trackPublished(string(rp.Identity()), string(pub.SID()))
			},
			OnTrackUnpublished: func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				e.trackUnpublished(string(rp.Identity()), string(pub.SID()))
			},
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			e.participantGone(string(rp.Identity()))
		},
		OnDisconnected: func() {
			e.logger.Warn("livekit room disconnected", zap.String("channel", channel))
			if h := e.events().OnError; h != nil {
				h(ErrConnectionLost)
			}
		},
	}

	type result struct {
		room *lksdk.Room
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		r, err := lksdk.ConnectToRoomWithToken(url, token, cb, lksdk.WithAutoSubscribe(opts.AutoSubscribe))
		resCh <- result{r, err}
	}()

	var room *lksdk.Room
	select {
	case res := <-resCh:
		if res.err != nil {
			return fmt.Errorf("connect to room %s: %w", channel, res.err)
		}
		room = res.room
	case <-ctx.Done():
		go func() {
			if res := <-resCh; res.room != nil {
				res.room.Disconnect()
			}
		}()
		return ctx.Err()
	}

	e.mu.Lock()
	e.room = room
	publish := e.role == RoleBroadcaster
	audio, video := e.audio, e.video
	e.mu.Unlock()

	if publish {
		if err := e.publish(audio, video); err != nil {
			_ = e.LeaveChannel()
			return err
		}
	}

	identity := string(room.LocalParticipant.Identity())
	if localID != "" && identity != localID {
		e.logger.Warn("livekit identity differs from local transport id",
			zap.String("identity", identity), zap.String("local_id", localID))
	}
	e.logger.Info("joined livekit room", zap.String("channel", channel), zap.String("identity", identity),
		zap.Int("participants", len(room.GetRemoteParticipants())+1))

	if h := e.events().OnJoinSuccess; h != nil {
		h(channel, identity)
	}
	for _, rp := range room.GetRemoteParticipants() {
		for _, pub := range rp.TrackPublications() {
			e.trackPublished(string(rp.Identity()), string(pub.SID()))
		}
	}
	return nil
}

func (e *LiveKit) trackPublished(identity, sid string) {
	if !e.pubs.add(identity, sid) {
		return
	}
	if h := e.events().OnUserJoined; h != nil {
		h(identity)
	}
}

func (e *LiveKit) trackUnpublished(identity, sid string) {
	if !e.pubs.remove(identity, sid) {
		return
	}
	if h := e.events().OnUserOffline; h != nil {
		h(identity)
	}
}

func (e *LiveKit) participantGone(identity string) {
	if !e.pubs.drop(identity) {
		return
	}
	if h := e.events().OnUserOffline; h != nil {
		h(identity)
	}
}

func (e *LiveKit) publish(audio, video bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if audio {
		track, err := lkmedia.NewPCMLocalTrack(micSampleRate, micChannels, nil)
		if err != nil {
			return fmt.Errorf("create microphone track: %w", err)
		}
		pub, err := e.room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{Name: "microphone"})
		if err != nil {
			track.Close()
			return fmt.Errorf("publish microphone: %w", err)
		}
		e.mic, e.micPub = track, pub
	}
	if video {
		track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000})
		if err != nil {
			return fmt.Errorf("create camera track: %w", err)
		}
		pub, err := e.room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{Name: "camera_" + e.facing})
		if err != nil {
			return fmt.Errorf("publish camera: %w", err)
		}
		e.cam, e.camPub = track, pub
	}
	return nil
}

// WriteAudio pushes one PCM frame from the host's capture into the
// microphone track.
func (e *LiveKit) WriteAudio(frame []int16) error {
	e.mu.Lock()
	mic := e.mic
	e.mu.Unlock()
	if mic == nil {
		return ErrNotJoined
	}
	return mic.WriteSample(media.PCM16Sample(frame))
}

func (e *LiveKit) LeaveChannel() error {
	e.mu.Lock()
	room := e.room
	mic := e.mic
	e.room, e.mic, e.micPub, e.cam, e.camPub = nil, nil, nil, nil, nil
	e.mu.Unlock()
	if room == nil {
		return ErrNotJoined
	}
	e.pubs.reset()
	if mic != nil {
		mic.Close()
	}
	room.Disconnect()
	return nil
}

func (e *LiveKit) MuteLocalAudio(muted bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.room == nil {
		return ErrNotJoined
	}
	if e.micPub != nil {
		e.micPub.SetMuted(muted)
	}
	return nil
}

func (e *LiveKit) MuteLocalVideo(muted bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.video {
		return ErrVideoDisabled
	}
	if e.room == nil {
		return ErrNotJoined
	}
	if e.camPub != nil {
		e.camPub.SetMuted(muted)
	}
	return nil
}

// SwitchCamera flips the capture facing. The published track keeps its SID.
func (e *LiveKit) SwitchCamera() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.video {
		return ErrVideoDisabled
	}
	if e.facing == models.FacingFront {
		e.facing = models.FacingBack
	} else {
		e.facing = models.FacingFront
	}
	return nil
}

func (e *LiveKit) Release() error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return nil
	}
	joined := e.room != nil
	e.mu.Unlock()
	if joined {
		_ = e.LeaveChannel()
	}
	e.mu.Lock()
	e.released = true
	e.handler = EventHandler{}
	e.audio, e.video, e.previewing = false, false, false
	e.mu.Unlock()
	return nil
}

func (e *LiveKit) events() EventHandler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handler
}

var _ Engine = (*LiveKit)(nil)
