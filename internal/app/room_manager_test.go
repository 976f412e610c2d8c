package app_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dkeye/voicechat/internal/app"
	"github.com/dkeye/voicechat/internal/core"
	"github.com/dkeye/voicechat/internal/domain"
)

func TestRoomManagerList(t *testing.T) {
	t.Parallel()
	rooms := app.NewRoomManager()
	alice, _ := newSession(1, "alice")
	rooms.GetOrCreate(domain.VoiceRoom(2)).AddMember(alice)
	rooms.GetOrCreate(domain.UserRoom(1)).AddMember(alice)
	if rooms.GetOrCreate(domain.VoiceRoom(2)) != rooms.GetOrCreate(domain.VoiceRoom(2)) {
		t.Fatal("GetOrCreate returned different rooms for one name")
	}

	want := []core.RoomInfo{
		{Name: "user_1", Kind: domain.RoomKindUser, MemberCount: 1},
		{Name: "voice_channel_2", Kind: domain.RoomKindVoice, MemberCount: 1, Members: []core.MemberDTO{{ID: 1, Username: "alice"}}},
	}
	if diff := cmp.Diff(want, rooms.List()); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}
}

func TestRoomManagerStopRoom(t *testing.T) {
	t.Parallel()
	rooms := app.NewRoomManager()
	alice, _ := newSession(1, "alice")
	room := rooms.GetOrCreate(domain.TextRoom(1))
	room.AddMember(alice)

	if rooms.StopRoom(domain.TextRoom(1)) {
		t.Fatal("stopped a room that still has members")
	}
	room.RemoveMember(alice.ID())
	if !rooms.StopRoom(domain.TextRoom(1)) {
		t.Fatal("empty room not stopped")
	}
	if _, ok := rooms.Get(domain.TextRoom(1)); ok {
		t.Error("stopped room still listed")
	}
	if rooms.StopRoom("text_channel_404") {
		t.Error("stopping an unknown room reported true")
	}
}

func TestRoomNameKind(t *testing.T) {
	t.Parallel()
	tests := map[domain.RoomName]string{
		domain.TextRoom(1):    domain.RoomKindText,
		domain.VoiceRoom(1):   domain.RoomKindVoice,
		domain.PreviewRoom(1): domain.RoomKindPreview,
		domain.UserRoom(1):    domain.RoomKindUser,
		"lobby":               "",
	}
	for name, want := range tests {
		if got := name.Kind(); got != want {
			t.Errorf("%s.Kind() = %q, want %q", name, got, want)
		}
	}
}
