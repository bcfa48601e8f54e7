package transport

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/livehost/internal/models"
)

func TestIDIsStableAndNonZero(t *testing.T) {
	a := ID("viewer-42")
	assert.Equal(t, a, ID("viewer-42"))
	assert.NotEqual(t, a, ID("viewer-43"))
	assert.NotEqual(t, "0", a)
	assert.NotEqual(t, "0", ID(""))
}

func TestLiveKitIssue(t *testing.T) {
	_, err := NewLiveKit("", "key", "secret")
	assert.ErrorIs(t, err, ErrNotConfigured)

	lk, err := NewLiveKit("wss://lk.example", "APIkey", "a-long-enough-livekit-api-secret")
	require.NoError(t, err)
	creds, err := lk.Issue(Grant{Channel: "live_abc", UserID: "u1", Name: "Asha", Publish: true, TTL: time.Hour})
	require.NoError(t, err)

	assert.Equal(t, "wss://lk.example", creds.AppID)
	assert.Equal(t, ID("u1"), creds.LocalID)

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(creds.Token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte("a-long-enough-livekit-api-secret"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, ID("u1"), claims["sub"])
	assert.Equal(t, "APIkey", claims["iss"])
	video, ok := claims["video"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "live_abc", video["room"])
	assert.Equal(t, true, video["roomJoin"])
	assert.Equal(t, true, video["canPublish"])
}

func TestZegoIssue(t *testing.T) {
	_, err := NewZego(0, "")
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = NewZego(12345, "short")
	assert.Error(t, err)

	z, err := NewZego(12345, strings.Repeat("s", 32))
	require.NoError(t, err)
	creds, err := z.Issue(Grant{Channel: "live_abc", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "12345", creds.AppID)
	assert.Equal(t, ID("u1"), creds.LocalID)
	assert.True(t, strings.HasPrefix(creds.Token, "04"))
}

type recordingIssuer struct{ last Grant }

func (r *recordingIssuer) Issue(g Grant) (models.TransportCredentials, error) {
	r.last = g
	return models.TransportCredentials{}, nil
}

func (r *recordingIssuer) Provider() string { return "rec" }

func TestWithTTL(t *testing.T) {
	rec := &recordingIssuer{}
	assert.Same(t, Issuer(rec), WithTTL(rec, 0))

	i := WithTTL(rec, 2*time.Hour)
	assert.Equal(t, "rec", i.Provider())
	_, _ = i.Issue(Grant{UserID: "u1"})
	assert.Equal(t, 2*time.Hour, rec.last.TTL)
	_, _ = i.Issue(Grant{UserID: "u1", TTL: time.Minute})
	assert.Equal(t, time.Minute, rec.last.TTL)
}
