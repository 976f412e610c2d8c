package core

import (
	"context"

	"github.com/dkeye/voicechat/internal/domain"
)

// Stores follow one convention: a missing row is (nil, nil), not an error.

type UserStore interface {
	GetUser(ctx context.Context, id domain.UserID) (*domain.User, error)
}

type ChannelStore interface {
	GetChannel(ctx context.Context, id domain.ChannelID) (*domain.Channel, error)
	ListChannels(ctx context.Context) ([]*domain.Channel, error)
}

// MessageStore returns message pages newest first.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *domain.Message) (*domain.MessageView, error)
	GetMessage(ctx context.Context, id domain.MessageID) (*domain.Message, error)
	LatestMessages(ctx context.Context, channel domain.ChannelID, limit int) ([]domain.MessageView, error)
	// MessagesBefore returns messages strictly before cursor in (timestamp, id) order.
	MessagesBefore(ctx context.Context, channel domain.ChannelID, cursor domain.Message, limit int) ([]domain.MessageView, error)
}
