package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aura-webinar/livehost/internal/broadcast"
	"github.com/aura-webinar/livehost/internal/models"
)

// console prints state changes and alerts as lines.
type console struct {
	mu       sync.Mutex
	out      io.Writer
	last     string
	lastChat *models.ChatEvent
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (c *console) Render(s broadcast.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	line := summary(s)
	if line != c.last {
		c.last = line
		fmt.Fprintln(c.out, line)
	}
	// The transcript is a sliding window; print what follows the last line shown.
	start := 0
	if c.lastChat != nil {
		for i := len(s.Transcript) - 1; i >= 0; i-- {
			if s.Transcript[i] == *c.lastChat {
				start = i + 1
				break
			}
		}
	}
	for _, ev := range s.Transcript[start:] {
		fmt.Fprintln(c.out, "  "+chatLine(ev))
	}
	if n := len(s.Transcript); n > 0 {
		ev := s.Transcript[n-1]
		c.lastChat = &ev
	}
}

func (c *console) Alert(a broadcast.Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := fmt.Sprintf("[%s] %s: %s", a.Level, a.Op, a.Message)
	if a.Err != nil {
		msg += " (" + a.Err.Error() + ")"
	}
	fmt.Fprintln(c.out, msg)
}

func summary(s broadcast.Snapshot) string {
	if !s.Live {
		return "offline"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "live %s | viewers %d | signaling %s | %s", s.Session.Kind, s.Viewers, s.Signaling, s.Phase)
	if s.Call != nil {
		fmt.Fprintf(&b, " %s (%s, %ds", s.Call.UserName, s.Call.Kind, s.Call.Elapsed)
		if s.Timer.Active {
			fmt.Fprintf(&b, ", %ds left", s.Timer.Remaining)
		}
		b.WriteString(")")
	}
	if n := len(s.Waitlist); n > 0 {
		ids := make([]string, 0, n)
		for _, r := range s.Waitlist {
			ids = append(ids, r.UserID)
		}
		fmt.Fprintf(&b, " | waiting: %s", strings.Join(ids, ", "))
	}
	if !s.Session.MicEnabled {
		b.WriteString(" | mic off")
	}
	return b.String()
}

func chatLine(ev models.ChatEvent) string {
	switch ev.Kind {
	case models.ChatGift:
		return fmt.Sprintf("%s sent %s (%d)", ev.UserName, ev.GiftName, ev.Amount)
	case models.ChatLike:
		return ev.UserName + " liked the stream"
	case models.ChatJoin:
		return ev.UserName + " joined"
	case models.ChatLeave:
		return ev.UserName + " left"
	case models.ChatCallRequest:
		return ev.UserName + " asked to join a call"
	}
	return ev.UserName + ": " + ev.Text
}
