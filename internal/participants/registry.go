// Package participants mirrors which remote transport identities are joined
// to the media channel. It is fed only by media engine callbacks.
package participants

import (
	"sort"
	"time"

	"github.com/aura-webinar/livehost/internal/models"
)

// Registry is a set of joined transport ids. Loop-confined.
type Registry struct {
	joined map[string]time.Time
	now    func() time.Time
}

// New returns an empty registry. A nil clock defaults to time.Now.
func New(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{joined: make(map[string]time.Time), now: now}
}

// Add records a join. It reports whether the id was new.
func (r *Registry) Add(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := r.joined[id]; ok {
		return false
	}
	r.joined[id] = r.now()
	return true
}

// Remove records a leave. It reports whether the id was present.
func (r *Registry) Remove(id string) bool {
	if _, ok := r.joined[id]; !ok {
		return false
	}
	delete(r.joined, id)
	return true
}

// Has reports whether id is currently joined.
func (r *Registry) Has(id string) bool {
	_, ok := r.joined[id]
	return ok
}

// Len is the number of joined participants.
func (r *Registry) Len() int {
	return len(r.joined)
}

// List returns participants ordered by join time.
func (r *Registry) List() []models.Participant {
	out := make([]models.Participant, 0, len(r.joined))
	for id, at := range r.joined {
		out = append(out, models.Participant{ID: id, JoinedAt: at})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}
