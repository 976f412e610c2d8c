package core

import "github.com/dkeye/voicechat/internal/domain"

// ConnID identifies one live connection.
type ConnID string

// MemberSession binds domain.Member and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	ID() ConnID
	Meta() *domain.Member
	Signal() SignalConnection
}
