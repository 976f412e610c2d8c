package app_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/voicechat/internal/core"
	"github.com/dkeye/voicechat/internal/domain"
	"github.com/dkeye/voicechat/internal/protocol"
)

var errFull = errors.New("queue full")

// recorder is a SignalConnection that keeps every delivered envelope.
type recorder struct {
	mu     sync.Mutex
	frames []protocol.Envelope
	full   bool
	closed bool
}

func (r *recorder) TrySend(f core.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return errFull
	}
	var env protocol.Envelope
	if err := json.Unmarshal(f, &env); err != nil {
		return err
	}
	r.frames = append(r.frames, env)
	return nil
}

func (r *recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *recorder) setFull(full bool) {
	r.mu.Lock()
	r.full = full
	r.mu.Unlock()
}

func (r *recorder) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.frames))
	for _, env := range r.frames {
		out = append(out, env.Event)
	}
	return out
}

func (r *recorder) last(t *testing.T, event string, v any) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.frames) - 1; i >= 0; i-- {
		if r.frames[i].Event == event {
			if err := json.Unmarshal(r.frames[i].Data, v); err != nil {
				t.Fatalf("decode %s: %v", event, err)
			}
			return
		}
	}
	t.Fatalf("no %s event received", event)
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.frames = nil
	r.mu.Unlock()
}

func newSession(id domain.UserID, name string) (core.MemberSession, *recorder) {
	rec := &recorder{}
	u := &domain.User{ID: id, Username: name}
	return core.NewMemberSession(core.ConnID(name), domain.NewMember(u), rec), rec
}
