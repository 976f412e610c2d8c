package datastore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/voicechat/internal/domain"
)

// Memory is an in-process Store for tests and ephemeral deployments.
type Memory struct {
	mu       sync.RWMutex
	now      func() time.Time
	users    map[domain.UserID]*domain.User
	channels map[domain.ChannelID]*domain.Channel
	messages []domain.Message
	nextUser domain.UserID
	nextChan domain.ChannelID
	nextMsg  domain.MessageID
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{
		now:      now,
		users:    make(map[domain.UserID]*domain.User),
		channels: make(map[domain.ChannelID]*domain.Channel),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) CreateUser(_ context.Context, u *domain.User) error {
	if err := domain.ValidateUsername(u.Username); err != nil {
		return fmt.Errorf("datastore: create user: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return fmt.Errorf("datastore: create user: %w", ErrUsernameTaken)
		}
	}
	m.nextUser++
	u.ID = m.nextUser
	u.CreatedAt = m.now().UTC()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *Memory) GetUser(_ context.Context, id domain.UserID) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) UpdateUserProfile(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.users[u.ID]
	if !ok {
		return nil
	}
	stored.AvatarURL = u.AvatarURL
	stored.AutoJoinVoice = u.AutoJoinVoice
	return nil
}

func (m *Memory) CountUsers(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

func (m *Memory) CreateChannel(_ context.Context, c *domain.Channel) error {
	if !c.Kind.Valid() {
		return fmt.Errorf("datastore: create channel: %w", domain.ErrChannelKind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextChan++
	c.ID = m.nextChan
	c.CreatedAt = m.now().UTC()
	m.channels[c.ID] = copyChannel(c)
	return nil
}

func (m *Memory) AddChannelMember(_ context.Context, channel domain.ChannelID, user domain.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.channels[channel]; ok {
		c.AddMember(user)
	}
	return nil
}

func (m *Memory) CountChannels(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels), nil
}

func (m *Memory) GetChannel(_ context.Context, id domain.ChannelID) (*domain.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.channels[id]
	if !ok {
		return nil, nil
	}
	return copyChannel(c), nil
}

func (m *Memory) ListChannels(context.Context) ([]*domain.Channel, error) {
	m.mu.RLock()
	out := make([]*domain.Channel, 0, len(m.channels))
	for _, c := range m.channels {
		out = append(out, copyChannel(c))
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func copyChannel(c *domain.Channel) *domain.Channel {
	cp := *c
	cp.Members = make(map[domain.UserID]struct{}, len(c.Members))
	for id := range c.Members {
		cp.Members[id] = struct{}{}
	}
	return &cp
}

func (m *Memory) CreateMessage(_ context.Context, msg *domain.Message) (*domain.MessageView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	author, ok := m.users[msg.UserID]
	if !ok {
		return nil, fmt.Errorf("datastore: create message: unknown user %d", msg.UserID)
	}
	ts := m.now().UTC()
	for _, existing := range m.messages {
		if existing.ChannelID == msg.ChannelID && !ts.After(existing.Timestamp) {
			ts = existing.Timestamp.Add(time.Nanosecond)
		}
	}
	m.nextMsg++
	msg.ID = m.nextMsg
	msg.Timestamp = ts
	m.messages = append(m.messages, *msg)
	return &domain.MessageView{Message: *msg, Username: author.Username, AvatarURL: author.AvatarURL}, nil
}

func (m *Memory) GetMessage(_ context.Context, id domain.MessageID) (*domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, msg := range m.messages {
		if msg.ID == id {
			cp := msg
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) LatestMessages(_ context.Context, channel domain.ChannelID, limit int) ([]domain.MessageView, error) {
	return m.selectMessages(channel, nil, limit), nil
}

func (m *Memory) MessagesBefore(_ context.Context, channel domain.ChannelID, cursor domain.Message, limit int) ([]domain.MessageView, error) {
	return m.selectMessages(channel, &cursor, limit), nil
}

// selectMessages returns newest-first views of channel older than cursor.
func (m *Memory) selectMessages(channel domain.ChannelID, cursor *domain.Message, limit int) []domain.MessageView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []domain.Message
	for _, msg := range m.messages {
		if msg.ChannelID != channel {
			continue
		}
		if cursor != nil && !msg.Before(*cursor) {
			continue
		}
		matched = append(matched, msg)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[j].Before(matched[i]) })
	if limit >= 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]domain.MessageView, 0, len(matched))
	for _, msg := range matched {
		v := domain.MessageView{Message: msg}
		if u, ok := m.users[msg.UserID]; ok {
			v.Username = u.Username
			v.AvatarURL = u.AvatarURL
		}
		out = append(out, v)
	}
	return out
}
