package restapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/livehost/internal/models"
)

type recorded struct {
	method string
	path   string
	auth   string
	body   map[string]any
}

func newServer(t *testing.T, status int, reply string) (*Client, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, auth: r.Header.Get("Authorization")}
		_ = json.NewDecoder(r.Body).Decode(&rec.body)
		calls = append(calls, rec)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/api/v1/", "host-token", time.Second, nil)
	require.NoError(t, err)
	return c, &calls
}

func TestAcceptCall(t *testing.T) {
	c, calls := newServer(t, http.StatusOK, `{"success":true,"data":{"callerTransportId":"77"}}`)

	res, err := c.AcceptCall(context.Background(), "s-1", models.CallRequest{UserID: "U 1", Kind: models.KindVideo, Visibility: models.VisibilityPrivate})
	require.NoError(t, err)
	assert.Equal(t, "77", res.CallerTransportID)

	require.Len(t, *calls, 1)
	got := (*calls)[0]
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/api/v1/streams/s-1/calls/U 1/accept", got.path)
	assert.Equal(t, "Bearer host-token", got.auth)
	assert.Equal(t, "video", got.body["callType"])
	assert.Equal(t, "private", got.body["callMode"])
}

func TestAcceptCallWithoutTransportID(t *testing.T) {
	c, _ := newServer(t, http.StatusOK, `{"success":true,"data":{}}`)
	res, err := c.AcceptCall(context.Background(), "s-1", models.CallRequest{UserID: "U1"})
	require.NoError(t, err)
	assert.Empty(t, res.CallerTransportID)
}

func TestEndCall(t *testing.T) {
	c, calls := newServer(t, http.StatusOK, `{"success":true,"data":{"charge":100}}`)

	res, err := c.EndCall(context.Background(), "s-1", models.CallSummary{UserID: "U1", Duration: 65, Charge: 100, Reason: models.EndHostEnded})
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.Charge)

	got := (*calls)[0]
	assert.Equal(t, "/api/v1/streams/s-1/calls/end", got.path)
	assert.Equal(t, float64(65), got.body["duration"])
	assert.Equal(t, "host_ended", got.body["reason"])
}

func TestUpdateMedia(t *testing.T) {
	c, calls := newServer(t, http.StatusOK, `{"success":true}`)
	require.NoError(t, c.UpdateMedia(context.Background(), "s-1", models.MediaState{MicEnabled: false, CameraEnabled: true, CameraFacing: models.FacingBack}))

	got := (*calls)[0]
	assert.Equal(t, http.MethodPatch, got.method)
	assert.Equal(t, "/api/v1/streams/s-1/media", got.path)
	assert.Equal(t, false, got.body["mic_enabled"])
	assert.Equal(t, "back", got.body["camera_facing"])
}

func TestStartStream(t *testing.T) {
	c, _ := newServer(t, http.StatusCreated, `{"success":true,"data":{"id":"6f1c2a8e-5f55-4c56-9d7b-2f1e0b7f4a11","channel":"live_abc","kind":"video","status":"live","credentials":{"app_id":"ws://lk","token":"jwt","local_id":"12"}}}`)

	s, err := c.StartStream(context.Background(), StartStreamRequest{Kind: models.KindVideo})
	require.NoError(t, err)
	assert.Equal(t, "live_abc", s.Channel)
	assert.Equal(t, models.StreamLive, s.Status)
	assert.Equal(t, "12", s.Credentials.LocalID)
}

func TestErrorEnvelope(t *testing.T) {
	c, _ := newServer(t, http.StatusConflict, `{"success":false,"error":"call already active"}`)

	err := c.RejectCall(context.Background(), "s-1", "U1")
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusConflict))
	assert.Contains(t, err.Error(), "call already active")
}

func TestUnsuccessfulOKIsError(t *testing.T) {
	c, _ := newServer(t, http.StatusOK, `{"success":false,"error":"nope"}`)
	assert.Error(t, c.EndStream(context.Background(), "s-1"))
}

func TestNoContent(t *testing.T) {
	c, _ := newServer(t, http.StatusNoContent, ``)
	assert.NoError(t, c.EndStream(context.Background(), "s-1"))
}
