package core_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dkeye/voicechat/internal/core"
	"github.com/dkeye/voicechat/internal/domain"
)

type countingSignal struct {
	mu   sync.Mutex
	sent int
	full bool
}

func (s *countingSignal) TrySend(core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return errors.New("full")
	}
	s.sent++
	return nil
}

func (s *countingSignal) Close() {}

func member(id domain.UserID, name string, sig core.SignalConnection) core.MemberSession {
	return core.NewMemberSession(core.ConnID(name), domain.NewMember(&domain.User{ID: id, Username: name}), sig)
}

func TestRoomBroadcast(t *testing.T) {
	t.Parallel()
	type tcase struct {
		from       core.ConnID
		wantSent   int
		wantDrop   []core.ConnID
		aliceCount int
	}
	tests := map[string]tcase{
		"excludes sender":  {from: "alice", wantSent: 1, wantDrop: []core.ConnID{"carol"}},
		"reaches everyone": {from: "", wantSent: 2, wantDrop: []core.ConnID{"carol"}, aliceCount: 1},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			room := core.NewRoomService(&domain.Room{Name: "text_channel_1"})
			alice := &countingSignal{}
			room.AddMember(member(1, "alice", alice))
			room.AddMember(member(2, "bob", &countingSignal{}))
			room.AddMember(member(3, "carol", &countingSignal{full: true}))

			res := room.Broadcast(tc.from, core.Frame(`{}`))
			if res.SendTo != tc.wantSent {
				t.Errorf("SendTo = %d, want %d", res.SendTo, tc.wantSent)
			}
			var dropped []core.ConnID
			for _, ms := range res.Dropped {
				dropped = append(dropped, ms.ID())
			}
			if diff := cmp.Diff(tc.wantDrop, dropped); diff != "" {
				t.Errorf("dropped mismatch (-want +got):\n%s", diff)
			}
			if alice.sent != tc.aliceCount {
				t.Errorf("alice received %d frames, want %d", alice.sent, tc.aliceCount)
			}
		})
	}
}

func TestRoomMembership(t *testing.T) {
	t.Parallel()
	room := core.NewRoomService(&domain.Room{Name: "voice_channel_2"})
	room.AddMember(member(2, "bob", &countingSignal{}))
	room.AddMember(member(1, "alice", &countingSignal{}))
	room.AddMember(member(1, "alice", &countingSignal{}))

	if room.MemberCount() != 2 {
		t.Fatalf("MemberCount = %d, want 2", room.MemberCount())
	}
	want := []core.MemberDTO{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}}
	if diff := cmp.Diff(want, room.MembersSnapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	if !room.RemoveMember("bob") || room.RemoveMember("bob") {
		t.Error("RemoveMember should succeed exactly once")
	}
	if room.Has("bob") || !room.Has("alice") {
		t.Error("Has reports stale membership")
	}
}
