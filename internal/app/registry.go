package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicechat/internal/core"
	"github.com/dkeye/voicechat/internal/domain"
	"github.com/dkeye/voicechat/internal/protocol"
)

// SessionEntry is one live connection held by the Registry.
type SessionEntry struct {
	Session     core.MemberSession
	Cancel      context.CancelFunc
	ConnectedAt time.Time
}

// Registry maps authenticated users to their single live connection and
// drives the presence snapshot broadcast.
type Registry struct {
	out *Outbox

	mu       sync.RWMutex
	sessions map[core.ConnID]*SessionEntry
	byUser   map[domain.UserID]core.ConnID
}

func NewRegistry(out *Outbox) *Registry {
	return &Registry{
		out:      out,
		sessions: make(map[core.ConnID]*SessionEntry),
		byUser:   make(map[domain.UserID]core.ConnID),
	}
}

func NewConnID() core.ConnID {
	return core.ConnID(uuid.NewString())
}

// Register binds sess as the user's live connection. If the user was already
// connected, the previous entry is unbound and returned so the caller can tear it down.
func (r *Registry) Register(sess core.MemberSession, cancel context.CancelFunc) (*SessionEntry, bool) {
	uid := sess.Meta().User.ID
	r.mu.Lock()
	defer r.mu.Unlock()

	var old *SessionEntry
	if prev, ok := r.byUser[uid]; ok {
		old = r.sessions[prev]
		delete(r.sessions, prev)
		log.Info().Str("module", "app.registry").Str("conn", string(prev)).Int64("user", int64(uid)).Msg("superseding previous connection")
	}
	r.sessions[sess.ID()] = &SessionEntry{Session: sess, Cancel: cancel, ConnectedAt: time.Now()}
	r.byUser[uid] = sess.ID()
	log.Info().Str("module", "app.registry").Str("conn", string(sess.ID())).Int64("user", int64(uid)).Msg("bound session")
	return old, old != nil
}

// Unregister removes the connection. It reports false when the connection was
// already gone, e.g. after being superseded.
func (r *Registry) Unregister(id core.ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return false
	}
	delete(r.sessions, id)
	uid := e.Session.Meta().User.ID
	if r.byUser[uid] == id {
		delete(r.byUser, uid)
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("unbind session")
	return true
}

func (r *Registry) GetSession(id core.ConnID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[id]; ok {
		return e.Session, true
	}
	return nil, false
}

func (r *Registry) SessionOf(uid domain.UserID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byUser[uid]
	if !ok {
		return nil, false
	}
	return r.sessions[id].Session, true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Cancel(id core.ConnID) bool {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("canceled session")
	return true
}

// CancelAll stops every live connection, used on shutdown.
func (r *Registry) CancelAll() {
	r.mu.RLock()
	cancels := make([]context.CancelFunc, 0, len(r.sessions))
	for _, e := range r.sessions {
		if e.Cancel != nil {
			cancels = append(cancels, e.Cancel)
		}
	}
	r.mu.RUnlock()
	for _, c := range cancels {
		c()
	}
}

// Presence returns the online users ordered by username.
func (r *Registry) Presence() []protocol.PresenceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.presenceLocked()
}

func (r *Registry) presenceLocked() []protocol.PresenceEntry {
	out := make([]protocol.PresenceEntry, 0, len(r.sessions))
	for _, e := range r.sessions {
		u := e.Session.Meta().User
		out = append(out, protocol.PresenceEntry{UserID: u.ID, Username: u.Username, AvatarURL: u.AvatarURL, IsAdmin: u.IsAdmin})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Username == out[j].Username {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Username < out[j].Username
	})
	return out
}

// BroadcastPresence sends the full presence snapshot to every live connection.
// The write lock orders concurrent snapshots the same way their causing
// register/unregister calls were applied.
func (r *Registry) BroadcastPresence() {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := r.presenceLocked()
	frame, err := protocol.Encode(protocol.EventServerUserListUpdate, snapshot)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Msg("encode presence")
		return
	}
	for _, e := range r.sessions {
		r.out.SendFrame(e.Session, KindControl, protocol.EventServerUserListUpdate, frame)
	}
	log.Debug().Str("module", "app.registry").Int("online", len(snapshot)).Msg("presence broadcast")
}
