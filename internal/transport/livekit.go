package transport

import (
	"fmt"

	lkauth "github.com/livekit/protocol/auth"

	"github.com/aura-webinar/livehost/internal/models"
)

// LiveKit issues room tokens signed with an API key pair.
type LiveKit struct {
	url       string
	apiKey    string
	apiSecret string
}

// NewLiveKit returns ErrNotConfigured unless url, key and secret are set.
func NewLiveKit(url, apiKey, apiSecret string) (*LiveKit, error) {
	if url == "" || apiKey == "" || apiSecret == "" {
		return nil, ErrNotConfigured
	}
	return &LiveKit{url: url, apiKey: apiKey, apiSecret: apiSecret}, nil
}

func (l *LiveKit) Provider() string { return "livekit" }

// Issue mints a token whose identity is ID(g.UserID).
func (l *LiveKit) Issue(g Grant) (models.TransportCredentials, error) {
	identity := ID(g.UserID)
	grant := &lkauth.VideoGrant{RoomJoin: true, Room: g.Channel}
	grant.SetCanPublish(g.Publish)
	grant.SetCanSubscribe(true)

	at := lkauth.NewAccessToken(l.apiKey, l.apiSecret)
	at.SetIdentity(identity)
	at.SetName(g.Name)
	at.SetValidFor(ttl(g))
	at.AddGrant(grant)
	token, err := at.ToJWT()
	if err != nil {
		return models.TransportCredentials{}, fmt.Errorf("livekit token: %w", err)
	}
	return models.TransportCredentials{AppID: l.url, Token: token, LocalID: identity}, nil
}
