package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicechat/internal/core"
	"github.com/dkeye/voicechat/internal/domain"
	"github.com/dkeye/voicechat/internal/protocol"
)

var errReleased = fmt.Errorf("%w: connection already closed", core.ErrNotFound)

// VoiceSession is the single active voice membership of a user.
type VoiceSession struct {
	User      *domain.User
	ChannelID domain.ChannelID
	ConnID    core.ConnID
	JoinedAt  time.Time
}

// Membership owns connection-to-room associations and the VoiceSession table.
// All roster mutations and their notifications happen under mu, so each room
// observes them in the order they were applied. Store lookups run before mu is taken.
type Membership struct {
	channels core.ChannelStore
	rooms    core.RoomManager
	speakers *Admission
	out      *Outbox

	mu     sync.Mutex
	voice  map[domain.UserID]*VoiceSession
	joined map[core.ConnID]map[domain.RoomName]struct{}
}

func NewMembership(channels core.ChannelStore, rooms core.RoomManager, speakers *Admission, out *Outbox) *Membership {
	return &Membership{
		channels: channels,
		rooms:    rooms,
		speakers: speakers,
		out:      out,
		voice:    make(map[domain.UserID]*VoiceSession),
		joined:   make(map[core.ConnID]map[domain.RoomName]struct{}),
	}
}

// Authorize loads the channel and checks its kind and the user's access.
func (m *Membership) Authorize(ctx context.Context, u *domain.User, id domain.ChannelID, kind domain.ChannelKind) (*domain.Channel, error) {
	ch, err := m.channels.GetChannel(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: load channel %d: %v", core.ErrProcessing, id, err)
	}
	if ch == nil {
		return nil, fmt.Errorf("%w: channel %d does not exist", core.ErrNotFound, id)
	}
	if ch.Kind != kind {
		return nil, fmt.Errorf("%w: channel %d is not a %s channel", core.ErrValidation, id, kind)
	}
	if !ch.CanAccess(u) {
		return nil, fmt.Errorf("%w: no access to private channel %q", core.ErrPermissionDenied, ch.Name)
	}
	return ch, nil
}

// JoinPrivate subscribes the connection to its user's private notification room.
func (m *Membership) JoinPrivate(ms core.MemberSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ms.Meta().Released() {
		return
	}
	m.joinLocked(ms, domain.UserRoom(ms.Meta().User.ID))
}

// JoinText adds the connection to the text channel's fan-out set.
func (m *Membership) JoinText(ctx context.Context, ms core.MemberSession, id domain.ChannelID) (*domain.Channel, error) {
	ch, err := m.Authorize(ctx, ms.Meta().User, id, domain.ChannelText)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ms.Meta().Released() {
		return nil, errReleased
	}
	m.joinLocked(ms, domain.TextRoom(id))
	return ch, nil
}

// PreviewVoice subscribes the connection to the voice roster without a VoiceSession
// and sends it the current roster.
func (m *Membership) PreviewVoice(ctx context.Context, ms core.MemberSession, id domain.ChannelID) error {
	if _, err := m.Authorize(ctx, ms.Meta().User, id, domain.ChannelVoice); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ms.Meta().Released() {
		return errReleased
	}
	if vs, ok := m.voice[ms.Meta().User.ID]; ok && vs.ChannelID == id {
		m.out.Send(ms, KindControl, protocol.EventVoiceChannelUsers, m.rosterLocked(id))
		return nil
	}
	m.joinLocked(ms, domain.PreviewRoom(id))
	m.out.Send(ms, KindControl, protocol.EventVoiceChannelUsers, m.rosterLocked(id))
	return nil
}

func (m *Membership) StopPreview(ms core.MemberSession, id domain.ChannelID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(ms.ID(), domain.PreviewRoom(id))
}

// JoinVoice makes the connection an active member of the voice channel. An
// active membership elsewhere is left first, so user_left_voice for the old
// room always precedes user_joined_voice for the new one.
func (m *Membership) JoinVoice(ctx context.Context, ms core.MemberSession, id domain.ChannelID) error {
	u := ms.Meta().User
	if _, err := m.Authorize(ctx, u, id, domain.ChannelVoice); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ms.Meta().Released() {
		return errReleased
	}

	if cur, ok := m.voice[u.ID]; ok {
		if cur.ChannelID == id && cur.ConnID == ms.ID() {
			m.out.Send(ms, KindControl, protocol.EventVoiceChannelUsers, m.rosterLocked(id))
			return nil
		}
		m.leaveVoiceLocked(cur)
	}

	m.voice[u.ID] = &VoiceSession{User: u, ChannelID: id, ConnID: ms.ID(), JoinedAt: time.Now()}
	m.leaveLocked(ms.ID(), domain.PreviewRoom(id))
	voiceRoom := m.joinLocked(ms, domain.VoiceRoom(id))

	joined := protocol.VoiceMember{ChannelID: id, UserID: u.ID, Username: u.Username}
	m.out.Broadcast(voiceRoom, ms.ID(), KindControl, protocol.EventUserJoinedVoice, joined)
	if preview, ok := m.rooms.Get(domain.PreviewRoom(id)); ok {
		m.out.Broadcast(preview, "", KindControl, protocol.EventUserJoinedVoice, joined)
	}
	m.out.Send(ms, KindControl, protocol.EventVoiceChannelUsers, m.rosterLocked(id))

	log.Info().Str("module", "app.membership").Str("conn", string(ms.ID())).Int64("user", int64(u.ID)).Int64("channel", int64(id)).Msg("joined voice")
	return nil
}

// LeaveVoice is a no-op when the user is not active in the channel.
func (m *Membership) LeaveVoice(ms core.MemberSession, id domain.ChannelID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	vs, ok := m.voice[ms.Meta().User.ID]
	if !ok || vs.ChannelID != id {
		return false
	}
	m.leaveVoiceLocked(vs)
	return true
}

// Release drops every association of the connection: its voice session when it
// owns one, then all text, preview and private rooms. The connection cannot
// join anything afterwards.
func (m *Membership) Release(ms core.MemberSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms.Meta().Release()
	if vs, ok := m.voice[ms.Meta().User.ID]; ok && vs.ConnID == ms.ID() {
		m.leaveVoiceLocked(vs)
	}
	for name := range m.joined[ms.ID()] {
		m.leaveLocked(ms.ID(), name)
	}
	delete(m.joined, ms.ID())
	log.Debug().Str("module", "app.membership").Str("conn", string(ms.ID())).Msg("released connection")
}

// ActiveChannel returns the voice channel the user is active in.
func (m *Membership) ActiveChannel(uid domain.UserID) (domain.ChannelID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vs, ok := m.voice[uid]
	if !ok {
		return 0, false
	}
	return vs.ChannelID, true
}

func (m *Membership) IsActive(uid domain.UserID, id domain.ChannelID) bool {
	ch, ok := m.ActiveChannel(uid)
	return ok && ch == id
}

func (m *Membership) Roster(id domain.ChannelID) protocol.VoiceChannelUsers {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rosterLocked(id)
}

// RoomsOf lists the rooms the connection has joined.
func (m *Membership) RoomsOf(id core.ConnID) []domain.RoomName {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.RoomName, 0, len(m.joined[id]))
	for name := range m.joined[id] {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *Membership) VoiceSessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voice)
}

func (m *Membership) leaveVoiceLocked(vs *VoiceSession) {
	delete(m.voice, vs.User.ID)
	m.speakers.Remove(vs.ChannelID, vs.User.ID)
	m.leaveLocked(vs.ConnID, domain.VoiceRoom(vs.ChannelID))

	left := protocol.VoiceMember{ChannelID: vs.ChannelID, UserID: vs.User.ID, Username: vs.User.Username}
	if room, ok := m.rooms.Get(domain.VoiceRoom(vs.ChannelID)); ok {
		m.out.Broadcast(room, "", KindControl, protocol.EventUserLeftVoice, left)
	}
	if preview, ok := m.rooms.Get(domain.PreviewRoom(vs.ChannelID)); ok {
		m.out.Broadcast(preview, "", KindControl, protocol.EventUserLeftVoice, left)
	}
	log.Info().Str("module", "app.membership").Str("conn", string(vs.ConnID)).Int64("user", int64(vs.User.ID)).Int64("channel", int64(vs.ChannelID)).Msg("left voice")
}

func (m *Membership) joinLocked(ms core.MemberSession, name domain.RoomName) core.RoomService {
	room := m.rooms.GetOrCreate(name)
	room.AddMember(ms)
	set, ok := m.joined[ms.ID()]
	if !ok {
		set = make(map[domain.RoomName]struct{})
		m.joined[ms.ID()] = set
	}
	set[name] = struct{}{}
	return room
}

func (m *Membership) leaveLocked(id core.ConnID, name domain.RoomName) {
	if set, ok := m.joined[id]; ok {
		delete(set, name)
	}
	room, ok := m.rooms.Get(name)
	if !ok {
		return
	}
	room.RemoveMember(id)
	m.rooms.StopRoom(name)
}

func (m *Membership) rosterLocked(id domain.ChannelID) protocol.VoiceChannelUsers {
	sessions := make([]*VoiceSession, 0)
	for _, vs := range m.voice {
		if vs.ChannelID == id {
			sessions = append(sessions, vs)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].JoinedAt.Equal(sessions[j].JoinedAt) {
			return sessions[i].User.ID < sessions[j].User.ID
		}
		return sessions[i].JoinedAt.Before(sessions[j].JoinedAt)
	})
	users := make([]protocol.VoiceUser, 0, len(sessions))
	for _, vs := range sessions {
		users = append(users, protocol.VoiceUser{UserID: vs.User.ID, Username: vs.User.Username, AvatarURL: vs.User.AvatarURL})
	}
	return protocol.VoiceChannelUsers{ChannelID: id, Users: users}
}
