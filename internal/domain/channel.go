package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const MaxChannelNameLen = 64

var (
	ErrChannelNameEmpty   = errors.New("channel name empty")
	ErrChannelNameTooLong = errors.New("channel name too long")
	ErrChannelKind        = errors.New("unknown channel kind")
)

type ChannelID int64

type ChannelKind string

const (
	ChannelText  ChannelKind = "text"
	ChannelVoice ChannelKind = "voice"
)

func (k ChannelKind) Valid() bool {
	return k == ChannelText || k == ChannelVoice
}

// Channel is read-only to the coordination core; Members only matters when IsPrivate is set.
type Channel struct {
	ID        ChannelID           `json:"id"`
	Name      string              `json:"name"`
	Kind      ChannelKind         `json:"channel_type"`
	IsPrivate bool                `json:"is_private"`
	Members   map[UserID]struct{} `json:"-"`
	CreatedAt time.Time           `json:"created_at"`
}

func NewChannel(name string, kind ChannelKind, private bool) (*Channel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrChannelNameEmpty
	}
	if utf8.RuneCountInString(name) > MaxChannelNameLen {
		return nil, ErrChannelNameTooLong
	}
	if !kind.Valid() {
		return nil, ErrChannelKind
	}
	return &Channel{Name: name, Kind: kind, IsPrivate: private, Members: make(map[UserID]struct{})}, nil
}

func (c *Channel) HasMember(id UserID) bool {
	_, ok := c.Members[id]
	return ok
}

func (c *Channel) AddMember(id UserID) {
	if c.Members == nil {
		c.Members = make(map[UserID]struct{})
	}
	c.Members[id] = struct{}{}
}

// CanAccess reports whether u may read, write or join the channel.
func (c *Channel) CanAccess(u *User) bool {
	if !c.IsPrivate {
		return true
	}
	if u == nil {
		return false
	}
	return u.IsAdmin || c.HasMember(u.ID)
}
