package core

import (
	"github.com/dkeye/voicechat/internal/domain"
)

// PublishResult reports delivery stats/backpressure to the caller.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID        domain.UserID `json:"user_id"`
	Username  string        `json:"username"`
	AvatarURL string        `json:"avatar_url"`
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot() []MemberDTO
	Has(id ConnID) bool

	AddMember(ms MemberSession)
	RemoveMember(id ConnID) bool
	// Broadcast sends data to every member except from. An empty from reaches everyone.
	Broadcast(from ConnID, data Frame) PublishResult
}

// RoomInfo is a point-in-time view of a live room. Members is left empty for
// private user rooms.
type RoomInfo struct {
	Name        domain.RoomName `json:"name"`
	Kind        string          `json:"kind"`
	MemberCount int             `json:"client_count"`
	Members     []MemberDTO     `json:"members,omitempty"`
}

type RoomManager interface {
	GetOrCreate(name domain.RoomName) RoomService
	Get(name domain.RoomName) (RoomService, bool)
	List() []RoomInfo
	// StopRoom drops the room once it has no members; it reports whether it did.
	StopRoom(name domain.RoomName) bool
}
