package protocol

import (
	"time"

	"github.com/dkeye/voicechat/internal/domain"
)

type PresenceEntry struct {
	UserID    domain.UserID `json:"user_id"`
	Username  string        `json:"username"`
	AvatarURL string        `json:"avatar_url"`
	IsAdmin   bool          `json:"is_admin"`
}

// ChatMessage is used both for new_message and inside history pages.
type ChatMessage struct {
	ChannelID domain.ChannelID `json:"channel_id"`
	MessageID domain.MessageID `json:"message_id"`
	Content   string           `json:"content"`
	Username  string           `json:"username"`
	UserID    domain.UserID    `json:"user_id"`
	AvatarURL string           `json:"avatar_url"`
	Timestamp time.Time        `json:"timestamp"`
}

func NewChatMessage(m domain.MessageView) ChatMessage {
	return ChatMessage{
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		Content:   m.Content,
		Username:  m.Username,
		UserID:    m.UserID,
		AvatarURL: m.AvatarURL,
		Timestamp: m.Timestamp,
	}
}

type MessagePage struct {
	ChannelID    domain.ChannelID `json:"channel_id"`
	Messages     []ChatMessage    `json:"messages"`
	HasMoreOlder bool             `json:"has_more_older"`
}

type VoiceMember struct {
	ChannelID domain.ChannelID `json:"channel_id"`
	UserID    domain.UserID    `json:"user_id"`
	Username  string           `json:"username,omitempty"`
}

type VoiceUser struct {
	UserID    domain.UserID `json:"user_id"`
	Username  string        `json:"username"`
	AvatarURL string        `json:"avatar_url"`
}

type VoiceChannelUsers struct {
	ChannelID domain.ChannelID `json:"channel_id"`
	Users     []VoiceUser      `json:"users"`
}

type VoiceChunk struct {
	ChannelID  domain.ChannelID `json:"channel_id"`
	UserID     domain.UserID    `json:"user_id"`
	Username   string           `json:"username"`
	AudioData  []float32        `json:"audio_data"`
	SampleRate int              `json:"samplerate"`
	Channels   int              `json:"channels"`
	DType      string           `json:"dtype"`
}

type UserSpeaking struct {
	ChannelID domain.ChannelID `json:"channel_id"`
	UserID    domain.UserID    `json:"user_id"`
	Speaking  bool             `json:"speaking"`
}

type Error struct {
	Message string `json:"message"`
}

type AudioProcessingError struct {
	ChannelID domain.ChannelID `json:"channel_id"`
	Message   string           `json:"message"`
}

type Pong struct {
	Time int64 `json:"time"`
}
