package core

import (
	"sort"
	"strconv"
	"sync"

	"github.com/dkeye/voicechat/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room   *domain.Room
	mu     sync.RWMutex
	byConn map[ConnID]MemberSession
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:   room,
		byConn: make(map[ConnID]MemberSession),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

func (r *roomImpl) Has(id ConnID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byConn[id]
	return ok
}

func (r *roomImpl) AddMember(ms MemberSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byConn[ms.ID()] = ms
	log.Debug().
		Str("module", "core.room").
		Str("room", string(r.room.Name)).
		Str("conn", string(ms.ID())).
		Str("user", strconv.FormatInt(int64(ms.Meta().User.ID), 10)).
		Msg("member added")
}

func (r *roomImpl) RemoveMember(id ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byConn[id]; !ok {
		return false
	}
	delete(r.byConn, id)
	log.Debug().Str("module", "core.room").Str("room", string(r.room.Name)).Str("conn", string(id)).Msg("member removed")
	return true
}

func (r *roomImpl) Broadcast(from ConnID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for id, m := range r.byConn {
		if from != "" && id == from {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Trace().Str("module", "core.room").Str("room", string(r.room.Name)).Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	out := make([]MemberDTO, 0, len(r.byConn))
	for _, ms := range r.byConn {
		u := ms.Meta().User
		out = append(out, MemberDTO{ID: u.ID, Username: u.Username, AvatarURL: u.AvatarURL})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
