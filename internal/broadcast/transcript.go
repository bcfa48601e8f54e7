package broadcast

import "github.com/aura-webinar/livehost/internal/models"

// DefaultTranscriptSize is how many chat lines a session keeps.
const DefaultTranscriptSize = 50

// transcript is an append-only window over the newest chat events.
type transcript struct {
	max   int
	lines []models.ChatEvent
}

func newTranscript(max int) *transcript {
	if max <= 0 {
		max = DefaultTranscriptSize
	}
	return &transcript{max: max}
}

func (t *transcript) add(ev models.ChatEvent) {
	t.lines = append(t.lines, ev)
	if over := len(t.lines) - t.max; over > 0 {
		t.lines = append(t.lines[:0:0], t.lines[over:]...)
	}
}

func (t *transcript) snapshot() []models.ChatEvent {
	out := make([]models.ChatEvent, len(t.lines))
	copy(out, t.lines)
	return out
}
