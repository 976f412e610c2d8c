package orch

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dkeye/voicechat/internal/app"
	"github.com/dkeye/voicechat/internal/app/sfu"
	"github.com/dkeye/voicechat/internal/audio"
	"github.com/dkeye/voicechat/internal/core"
	"github.com/dkeye/voicechat/internal/datastore"
	"github.com/dkeye/voicechat/internal/domain"
	"github.com/dkeye/voicechat/internal/protocol"
)

type fakeSignal struct {
	mu     sync.Mutex
	frames []protocol.Envelope
	closed bool
}

func (f *fakeSignal) TrySend(frame core.Frame) error {
	var env protocol.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return err
	}
	f.mu.Lock()
	f.frames = append(f.frames, env)
	f.mu.Unlock()
	return nil
}

func (f *fakeSignal) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSignal) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSignal) reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

// events returns the payloads of every received event with the given name.
func (f *fakeSignal) events(name string) []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []json.RawMessage
	for _, env := range f.frames {
		if env.Event == name {
			out = append(out, env.Data)
		}
	}
	return out
}

func (f *fakeSignal) names(filter ...string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keep := map[string]bool{}
	for _, n := range filter {
		keep[n] = true
	}
	var out []string
	for _, env := range f.frames {
		if len(keep) == 0 || keep[env.Event] {
			out = append(out, env.Event)
		}
	}
	return out
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}

type harness struct {
	o        *Orchestrator
	store    *datastore.Memory
	ctx      context.Context
	text     *domain.Channel
	voice    *domain.Channel
	voice2   *domain.Channel
	private  *domain.Channel
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := datastore.NewMemory()
	o, err := New(Config{
		Audio:     audio.DefaultConfig(),
		Admission: app.AdmissionConfig{ActivityTimeout: 3 * time.Second, MaxSpeakers: 4, Round: 200 * time.Millisecond},
		History:   app.HistoryConfig{PageSize: 20, MaxPageSize: 100},
	}, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &harness{o: o, store: store, ctx: ctx}
	h.text = h.channel(t, "general", domain.ChannelText, false)
	h.voice = h.channel(t, "lobby", domain.ChannelVoice, false)
	h.voice2 = h.channel(t, "games", domain.ChannelVoice, false)
	h.private = h.channel(t, "staff", domain.ChannelText, true)
	return h
}

func (h *harness) channel(t *testing.T, name string, kind domain.ChannelKind, private bool) *domain.Channel {
	t.Helper()
	c, err := domain.NewChannel(name, kind, private)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.store.CreateChannel(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	return c
}

func (h *harness) user(t *testing.T, name string) *domain.User {
	t.Helper()
	u, err := domain.NewUser(name)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.store.CreateUser(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	return u
}

func (h *harness) connect(u *domain.User) (core.MemberSession, *fakeSignal) {
	sig := &fakeSignal{}
	ms, _ := h.o.Connect(h.ctx, u, sig)
	return ms, sig
}

func TestJoinVoiceSwitchOrdering(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	alice, dave := h.user(t, "alice"), h.user(t, "dave")
	msA, _ := h.connect(alice)
	msD, sigD := h.connect(dave)

	for _, ch := range []domain.ChannelID{h.voice.ID, h.voice2.ID} {
		if err := h.o.Membership.PreviewVoice(h.ctx, msD, ch); err != nil {
			t.Fatalf("PreviewVoice: %v", err)
		}
	}
	for _, ch := range []domain.ChannelID{h.voice.ID, h.voice2.ID} {
		if err := h.o.Dispatch(h.ctx, msA, protocol.JoinVoiceChannel{ChannelID: ch}); err != nil {
			t.Fatalf("join %d: %v", ch, err)
		}
	}

	type change struct {
		Event   string
		Channel domain.ChannelID
	}
	var got []change
	sigD.mu.Lock()
	for _, env := range sigD.frames {
		if env.Event == protocol.EventUserJoinedVoice || env.Event == protocol.EventUserLeftVoice {
			var m protocol.VoiceMember
			_ = json.Unmarshal(env.Data, &m)
			got = append(got, change{env.Event, m.ChannelID})
		}
	}
	sigD.mu.Unlock()

	want := []change{
		{protocol.EventUserJoinedVoice, h.voice.ID},
		{protocol.EventUserLeftVoice, h.voice.ID},
		{protocol.EventUserJoinedVoice, h.voice2.ID},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("previewer events (-want +got):\n%s", diff)
	}
	if n := h.o.Membership.VoiceSessionCount(); n != 1 {
		t.Errorf("voice sessions = %d, want 1", n)
	}
	if ch, _ := h.o.Membership.ActiveChannel(alice.ID); ch != h.voice2.ID {
		t.Errorf("active channel = %d, want %d", ch, h.voice2.ID)
	}
}

func TestDisconnectCleanup(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	alice, bob := h.user(t, "alice"), h.user(t, "bob")
	msA, _ := h.connect(alice)
	_, sigB := h.connect(bob)

	if err := h.o.JoinText(h.ctx, msA, h.text.ID); err != nil {
		t.Fatal(err)
	}
	if err := h.o.Membership.JoinVoice(h.ctx, msA, h.voice.ID); err != nil {
		t.Fatal(err)
	}
	h.o.Speakers.Admit(h.voice.ID, alice.ID)
	sigB.reset()

	h.o.Disconnect(msA)

	if users := h.o.Membership.Roster(h.voice.ID).Users; len(users) != 0 {
		t.Errorf("voice roster = %+v, want empty", users)
	}
	if room, ok := h.o.Rooms.Get(domain.TextRoom(h.text.ID)); ok && room.Has(msA.ID()) {
		t.Error("text room still holds the connection")
	}
	if sp := h.o.Speakers.Speakers(h.voice.ID); len(sp) != 0 {
		t.Errorf("speakers = %v, want none", sp)
	}
	if h.o.Relays.HasRelay(msA.ID()) {
		t.Error("relay still running")
	}

	snaps := sigB.events(protocol.EventServerUserListUpdate)
	if len(snaps) != 1 {
		t.Fatalf("presence snapshots = %d, want 1", len(snaps))
	}
	presence := decode[[]protocol.PresenceEntry](t, snaps[0])
	if diff := cmp.Diff([]protocol.PresenceEntry{{UserID: bob.ID, Username: "bob"}}, presence); diff != "" {
		t.Errorf("presence (-want +got):\n%s", diff)
	}
}

func TestSupersedeReleasesOldConnection(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	alice := h.user(t, "alice")
	ms1, sig1 := h.connect(alice)
	if err := h.o.Membership.JoinVoice(h.ctx, ms1, h.voice.ID); err != nil {
		t.Fatal(err)
	}

	ms2, _ := h.connect(alice)

	if !sig1.isClosed() {
		t.Error("old transport not closed")
	}
	if !ms1.Meta().Released() {
		t.Error("old connection not released")
	}
	if users := h.o.Membership.Roster(h.voice.ID).Users; len(users) != 0 {
		t.Errorf("roster = %+v, want empty", users)
	}
	if err := h.o.Membership.JoinVoice(h.ctx, ms1, h.voice.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("join on released connection err = %v", err)
	}

	// The old read loop finishing must not unbind the new connection.
	h.o.Disconnect(ms1)
	cur, ok := h.o.Registry.SessionOf(alice.ID)
	if !ok || cur.ID() != ms2.ID() {
		t.Errorf("SessionOf = %v, %v; want %s", cur, ok, ms2.ID())
	}
	if n := h.o.Registry.Count(); n != 1 {
		t.Errorf("registry count = %d, want 1", n)
	}
}

func TestForwardAudio(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	alice, bob := h.user(t, "alice"), h.user(t, "bob")
	msA, sigA := h.connect(alice)
	msB, sigB := h.connect(bob)
	for _, ms := range []core.MemberSession{msA, msB} {
		if err := h.o.Membership.JoinVoice(h.ctx, ms, h.voice.ID); err != nil {
			t.Fatal(err)
		}
	}

	tone := make([]float64, 50)
	for i := range tone {
		tone[i] = 0.5 * math.Sin(2*math.Pi*float64(i)/10)
	}

	type tcase struct {
		samples    []float64
		meta       audio.Metadata
		wantChunks int
		wantErrors int
		wantLen    int
	}
	tests := map[string]tcase{
		"silence is not forwarded": {samples: make([]float64, 960), meta: audio.Metadata{SampleRate: 48000}},
		"silence at another rate":  {samples: make([]float64, 960), meta: audio.Metadata{SampleRate: 16000}},
		"short chunk is padded":    {samples: tone, wantChunks: 1, wantLen: 480},
		"non-finite sample":        {samples: []float64{0.5, math.NaN(), 0.5}, wantErrors: 1},
	}
	for name, tc := range tests {
		sigA.reset()
		sigB.reset()
		h.o.forwardAudio(msA, sfu.Packet{ChannelID: h.voice.ID, Samples: tc.samples, Meta: tc.meta})

		chunks := sigB.events(protocol.EventVoiceDataStreamChunk)
		if len(chunks) != tc.wantChunks {
			t.Errorf("%s: chunks to bob = %d, want %d", name, len(chunks), tc.wantChunks)
		}
		if n := len(sigA.events(protocol.EventVoiceDataStreamChunk)); n != 0 {
			t.Errorf("%s: sender received its own audio", name)
		}
		if n := len(sigA.events(protocol.EventAudioProcessingError)); n != tc.wantErrors {
			t.Errorf("%s: processing errors = %d, want %d", name, n, tc.wantErrors)
		}
		if n := len(sigB.events(protocol.EventAudioProcessingError)); n != 0 {
			t.Errorf("%s: receiver got the sender's processing error", name)
		}
		if tc.wantChunks > 0 {
			chunk := decode[protocol.VoiceChunk](t, chunks[0])
			if len(chunk.AudioData) != tc.wantLen || chunk.SampleRate != 48000 || chunk.Channels != 1 || chunk.DType != "float32" {
				t.Errorf("%s: chunk = len %d rate %d ch %d %s", name, len(chunk.AudioData), chunk.SampleRate, chunk.Channels, chunk.DType)
			}
			if chunk.UserID != alice.ID || chunk.Username != "alice" {
				t.Errorf("%s: chunk sender = %d %q", name, chunk.UserID, chunk.Username)
			}
		}
	}
}

func TestVoiceDataRequiresActiveMembership(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	alice := h.user(t, "alice")
	msA, _ := h.connect(alice)

	ev := protocol.VoiceDataStream{ChannelID: h.voice.ID, AudioData: []float64{0.1}}
	if err := h.o.Dispatch(h.ctx, msA, ev); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if sp := h.o.Speakers.Speakers(h.voice.ID); len(sp) != 0 {
		t.Errorf("speakers = %v, want none", sp)
	}
}

func TestSpeakingStatus(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	alice, bob := h.user(t, "alice"), h.user(t, "bob")
	msA, sigA := h.connect(alice)
	msB, sigB := h.connect(bob)
	speaking := true

	err := h.o.Dispatch(h.ctx, msA, protocol.UserSpeakingStatus{ChannelID: h.voice.ID, Speaking: &speaking})
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("speaking while inactive err = %v", err)
	}

	for _, ms := range []core.MemberSession{msA, msB} {
		if err := h.o.Membership.JoinVoice(h.ctx, ms, h.voice.ID); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.o.Dispatch(h.ctx, msA, protocol.UserSpeakingStatus{ChannelID: h.voice.ID, Speaking: &speaking}); err != nil {
		t.Fatal(err)
	}
	got := sigB.events(protocol.EventUserSpeaking)
	if len(got) != 1 {
		t.Fatalf("bob user_speaking = %d, want 1", len(got))
	}
	want := protocol.UserSpeaking{ChannelID: h.voice.ID, UserID: alice.ID, Speaking: true}
	if diff := cmp.Diff(want, decode[protocol.UserSpeaking](t, got[0])); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if n := len(sigA.events(protocol.EventUserSpeaking)); n != 0 {
		t.Errorf("sender got %d user_speaking", n)
	}
}

func TestVoiceSignalRelay(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	alice, bob := h.user(t, "alice"), h.user(t, "bob")
	msA, _ := h.connect(alice)
	msB, sigB := h.connect(bob)

	sig := protocol.VoiceSignal{RecipientID: bob.ID, Payload: json.RawMessage(`{"recipient_id":2,"sdp":"offer"}`)}
	if err := h.o.Dispatch(h.ctx, msA, sig); err != nil {
		t.Fatalf("relay to idle user: %v", err)
	}
	if n := len(sigB.events(protocol.EventVoiceSignal)); n != 0 {
		t.Fatalf("idle recipient got %d signals", n)
	}

	if err := h.o.Membership.JoinVoice(h.ctx, msB, h.voice.ID); err != nil {
		t.Fatal(err)
	}
	if err := h.o.Dispatch(h.ctx, msA, sig); err != nil {
		t.Fatal(err)
	}
	got := sigB.events(protocol.EventVoiceSignal)
	if len(got) != 1 {
		t.Fatalf("signals = %d, want 1", len(got))
	}
	fields := decode[map[string]any](t, got[0])
	if fields["sdp"] != "offer" || fields["sender_name"] != "alice" || fields["sender_id"] != float64(alice.ID) {
		t.Errorf("signal = %v", fields)
	}
}

func TestSendMessageAndHistory(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	alice, bob := h.user(t, "alice"), h.user(t, "bob")
	msA, sigA := h.connect(alice)
	msB, sigB := h.connect(bob)

	if err := h.o.Dispatch(h.ctx, msB, protocol.JoinTextChannel{ChannelID: h.text.ID}); err != nil {
		t.Fatal(err)
	}
	for _, body := range []string{"one", "  two  "} {
		if err := h.o.Dispatch(h.ctx, msA, protocol.SendMessage{ChannelID: h.text.ID, Message: body}); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(sigB.events(protocol.EventNewMessage)); n != 2 {
		t.Errorf("room member got %d messages, want 2", n)
	}
	echo := sigA.events(protocol.EventNewMessage)
	if len(echo) != 2 || decode[protocol.ChatMessage](t, echo[1]).Content != "two" {
		t.Errorf("sender echo = %s", echo)
	}

	type tcase struct {
		ev   protocol.Inbound
		want error
	}
	tests := map[string]tcase{
		"empty":        {ev: protocol.SendMessage{ChannelID: h.text.ID, Message: "   "}, want: core.ErrValidation},
		"private":      {ev: protocol.SendMessage{ChannelID: h.private.ID, Message: "hi"}, want: core.ErrPermissionDenied},
		"voice":        {ev: protocol.SendMessage{ChannelID: h.voice.ID, Message: "hi"}, want: core.ErrValidation},
		"missing":      {ev: protocol.JoinTextChannel{ChannelID: 404}, want: core.ErrNotFound},
		"private join": {ev: protocol.JoinTextChannel{ChannelID: h.private.ID}, want: core.ErrPermissionDenied},
	}
	for name, tc := range tests {
		if err := h.o.Dispatch(h.ctx, msA, tc.ev); !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", name, err, tc.want)
		}
	}

	sigA.reset()
	if err := h.o.Dispatch(h.ctx, msA, protocol.JoinTextChannel{ChannelID: h.text.ID}); err != nil {
		t.Fatal(err)
	}
	pages := sigA.events(protocol.EventLoadHistoricalMessages)
	if len(pages) != 1 {
		t.Fatalf("history pages = %d", len(pages))
	}
	page := decode[protocol.MessagePage](t, pages[0])
	var contents []string
	for _, m := range page.Messages {
		contents = append(contents, m.Content)
	}
	if diff := cmp.Diff([]string{"one", "two"}, contents); diff != "" || page.HasMoreOlder {
		t.Errorf("history (-want +got):\n%s has_more=%v", diff, page.HasMoreOlder)
	}

	first := page.Messages[1].MessageID
	sigA.reset()
	if err := h.o.Dispatch(h.ctx, msA, protocol.RequestOlderMessages{ChannelID: h.text.ID, BeforeMessageID: first}); err != nil {
		t.Fatal(err)
	}
	older := decode[protocol.MessagePage](t, sigA.events(protocol.EventOlderMessagesLoaded)[0])
	if len(older.Messages) != 1 || older.Messages[0].Content != "one" || older.HasMoreOlder {
		t.Errorf("older page = %+v", older)
	}
}

func TestPingAndReportError(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	msA, sigA := h.connect(h.user(t, "alice"))

	if err := h.o.Dispatch(h.ctx, msA, protocol.Ping{}); err != nil {
		t.Fatal(err)
	}
	if n := len(sigA.events(protocol.EventPong)); n != 1 {
		t.Errorf("pongs = %d, want 1", n)
	}

	h.o.ReportError(msA, protocol.EventSendMessage, errors.New("disk on fire"))
	h.o.ReportError(msA, protocol.EventJoinTextChannel, core.ErrNotFound)
	var msgs []string
	for _, raw := range sigA.events(protocol.EventError) {
		msgs = append(msgs, decode[protocol.Error](t, raw).Message)
	}
	if diff := cmp.Diff([]string{"internal error, please retry", "not found"}, msgs); diff != "" {
		t.Errorf("error messages (-want +got):\n%s", diff)
	}
}
