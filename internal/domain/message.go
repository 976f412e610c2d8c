package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const MaxMessageLen = 2000

var (
	ErrMessageEmpty   = errors.New("message empty")
	ErrMessageTooLong = errors.New("message too long")
)

type MessageID int64

// Message is append-only. Timestamp is assigned by the store and, together with ID,
// totally orders the messages of a channel.
type Message struct {
	ID        MessageID `json:"id"`
	ChannelID ChannelID `json:"channel_id"`
	UserID    UserID    `json:"user_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageView is a message joined with its author's display fields.
type MessageView struct {
	Message
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
}

func NewMessage(channel ChannelID, user UserID, content string) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrMessageEmpty
	}
	if utf8.RuneCountInString(content) > MaxMessageLen {
		return nil, ErrMessageTooLong
	}
	return &Message{ChannelID: channel, UserID: user, Content: content}, nil
}

// Before reports whether m sorts strictly before o in channel order.
func (m Message) Before(o Message) bool {
	if m.Timestamp.Equal(o.Timestamp) {
		return m.ID < o.ID
	}
	return m.Timestamp.Before(o.Timestamp)
}
