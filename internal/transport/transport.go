// Package transport issues media transport credentials for hosts and
// callers.
package transport

import (
	"errors"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/aura-webinar/livehost/internal/models"
)

var ErrNotConfigured = errors.New("transport: provider not configured")

// Grant describes one participant joining a channel.
type Grant struct {
	Channel string
	UserID  string
	Name    string
	Publish bool
	TTL     time.Duration
}

// Issuer mints credentials for a media provider.
type Issuer interface {
	Issue(g Grant) (models.TransportCredentials, error)
	Provider() string
}

// ID is the transport identity for a user: a non-zero 32-bit number, so it
// also fits providers with numeric uids. The same user always gets the same id.
func ID(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	v := h.Sum32()
	if v == 0 {
		v = 1
	}
	return strconv.FormatUint(uint64(v), 10)
}

// ChannelName derives the media channel of a stream.
func ChannelName(streamID string) string {
	return "live_" + streamID
}

const defaultTTL = 24 * time.Hour

func ttl(g Grant) time.Duration {
	if g.TTL <= 0 {
		return defaultTTL
	}
	return g.TTL
}

type ttlIssuer struct {
	Issuer
	ttl time.Duration
}

// WithTTL makes d the default lifetime of grants that do not set one.
func WithTTL(i Issuer, d time.Duration) Issuer {
	if d <= 0 {
		return i
	}
	return ttlIssuer{Issuer: i, ttl: d}
}

func (t ttlIssuer) Issue(g Grant) (models.TransportCredentials, error) {
	if g.TTL <= 0 {
		g.TTL = t.ttl
	}
	return t.Issuer.Issue(g)
}
