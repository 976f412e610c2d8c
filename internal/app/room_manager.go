package app

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicechat/internal/core"
	"github.com/dkeye/voicechat/internal/domain"
)

// RoomManagerImpl creates rooms lazily on first join and drops them when they
// empty out.
type RoomManagerImpl struct {
	mu    sync.RWMutex
	rooms map[domain.RoomName]core.RoomService
}

func NewRoomManager() core.RoomManager {
	return &RoomManagerImpl{rooms: make(map[domain.RoomName]core.RoomService)}
}

func (m *RoomManagerImpl) GetOrCreate(name domain.RoomName) core.RoomService {
	if room, ok := m.Get(name); ok {
		return room
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok := m.rooms[name]; ok {
		return room
	}
	room := core.NewRoomService(&domain.Room{Name: name})
	m.rooms[name] = room
	log.Debug().Str("module", "app.rooms").Str("room", string(name)).Msg("room created")
	return room
}

func (m *RoomManagerImpl) Get(name domain.RoomName) (core.RoomService, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[name]
	return room, ok
}

// List returns every live room ordered by name.
func (m *RoomManagerImpl) List() []core.RoomInfo {
	m.mu.RLock()
	rooms := make([]core.RoomService, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	out := make([]core.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		name := r.Room().Name
		info := core.RoomInfo{Name: name, Kind: name.Kind(), MemberCount: r.MemberCount()}
		if info.Kind != domain.RoomKindUser {
			info.Members = r.MembersSnapshot()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *RoomManagerImpl) StopRoom(name domain.RoomName) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[name]
	if !ok || room.MemberCount() > 0 {
		return false
	}
	delete(m.rooms, name)
	log.Debug().Str("module", "app.rooms").Str("room", string(name)).Msg("room stopped")
	return true
}
