package domain

import "sync/atomic"

// Member represents user's participation meta for a connection.
// No transport or lifecycle logic here.
type Member struct {
	User *User

	slow     atomic.Int32
	released atomic.Bool
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(user *User) *Member {
	return &Member{User: user}
}

// MarkSlow records one dropped outbound event and returns the running count.
func (m *Member) MarkSlow() int32 {
	return m.slow.Add(1)
}

func (m *Member) SlowCount() int32 {
	return m.slow.Load()
}

// Release marks the connection as torn down; later joins must be refused.
func (m *Member) Release() { m.released.Store(true) }

func (m *Member) Released() bool { return m.released.Load() }
