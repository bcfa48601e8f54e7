// Package waitlist keeps the FIFO queue of viewers asking for a call.
package waitlist

import (
	"github.com/aura-webinar/livehost/internal/models"
)

// Manager is a FIFO of call requests keyed by requester id.
// It is confined to the session event loop and is not safe for concurrent use.
type Manager struct {
	order []string
	byID  map[string]models.CallRequest
}

// New returns an empty waitlist.
func New() *Manager {
	return &Manager{byID: make(map[string]models.CallRequest)}
}

// Enqueue appends req unless its requester is already queued.
// It reports whether the request was added.
func (m *Manager) Enqueue(req models.CallRequest) bool {
	if req.UserID == "" {
		return false
	}
	if _, ok := m.byID[req.UserID]; ok {
		return false
	}
	req.Position = len(m.order) + 1
	m.order = append(m.order, req.UserID)
	m.byID[req.UserID] = req
	return true
}

// Remove drops the requester and renumbers the rest.
func (m *Manager) Remove(userID string) bool {
	if _, ok := m.byID[userID]; !ok {
		return false
	}
	delete(m.byID, userID)
	for i, id := range m.order {
		if id == userID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	for i, id := range m.order {
		r := m.byID[id]
		r.Position = i + 1
		m.byID[id] = r
	}
	return true
}

// Clear empties the queue.
func (m *Manager) Clear() {
	m.order = nil
	m.byID = make(map[string]models.CallRequest)
}

// Get returns the queued request for userID.
func (m *Manager) Get(userID string) (models.CallRequest, bool) {
	r, ok := m.byID[userID]
	return r, ok
}

// Has reports whether userID is queued.
func (m *Manager) Has(userID string) bool {
	_, ok := m.byID[userID]
	return ok
}

// Len is the number of queued requests.
func (m *Manager) Len() int {
	return len(m.order)
}

// Entries returns a copy of the queue in arrival order.
func (m *Manager) Entries() []models.CallRequest {
	out := make([]models.CallRequest, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.byID[id])
	}
	return out
}
