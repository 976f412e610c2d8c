package domain

import (
	"fmt"
	"strings"
)

// RoomName identifies a fan-out group of connections.
type RoomName string

// Room kinds, derived from the name prefix.
const (
	RoomKindText    = "text"
	RoomKindVoice   = "voice"
	RoomKindPreview = "preview"
	RoomKindUser    = "user"
)

type Room struct {
	Name RoomName
}

func (n RoomName) Kind() string {
	switch {
	case strings.HasPrefix(string(n), "text_channel_"):
		return RoomKindText
	case strings.HasPrefix(string(n), "voice_channel_"):
		return RoomKindVoice
	case strings.HasPrefix(string(n), "voice_preview_"):
		return RoomKindPreview
	case strings.HasPrefix(string(n), "user_"):
		return RoomKindUser
	}
	return ""
}

func TextRoom(id ChannelID) RoomName {
	return RoomName(fmt.Sprintf("text_channel_%d", id))
}

func VoiceRoom(id ChannelID) RoomName {
	return RoomName(fmt.Sprintf("voice_channel_%d", id))
}

// PreviewRoom holds connections watching a voice roster without transmitting.
func PreviewRoom(id ChannelID) RoomName {
	return RoomName(fmt.Sprintf("voice_preview_%d", id))
}

// UserRoom is the private notification room of a single user.
func UserRoom(id UserID) RoomName {
	return RoomName(fmt.Sprintf("user_%d", id))
}
