// Package datastore is the persistence collaborator: users, channels and
// messages. A missing row is reported as (nil, nil).
package datastore

import (
	"context"
	"errors"

	"github.com/dkeye/voicechat/internal/core"
	"github.com/dkeye/voicechat/internal/domain"
)

var ErrUsernameTaken = errors.New("username already taken")

type Store interface {
	core.UserStore
	core.ChannelStore
	core.MessageStore

	CreateUser(ctx context.Context, u *domain.User) error
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	UpdateUserProfile(ctx context.Context, u *domain.User) error
	CountUsers(ctx context.Context) (int, error)

	CreateChannel(ctx context.Context, c *domain.Channel) error
	AddChannelMember(ctx context.Context, channel domain.ChannelID, user domain.UserID) error
	CountChannels(ctx context.Context) (int, error)

	Close() error
}
