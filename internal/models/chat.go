package models

import "time"

// ChatKind labels a transcript entry.
type ChatKind string

const (
	ChatComment     ChatKind = "comment"
	ChatLike        ChatKind = "like"
	ChatJoin        ChatKind = "join"
	ChatLeave       ChatKind = "leave"
	ChatGift        ChatKind = "gift"
	ChatCallRequest ChatKind = "call_request"
)

// ChatEvent is one ephemeral transcript line. Gifts carry GiftName and Amount.
type ChatEvent struct {
	Kind     ChatKind  `json:"kind"`
	UserID   string    `json:"user_id,omitempty"`
	UserName string    `json:"user_name,omitempty"`
	Text     string    `json:"text,omitempty"`
	GiftName string    `json:"gift_name,omitempty"`
	Amount   int64     `json:"amount,omitempty"`
	At       time.Time `json:"at"`
}
