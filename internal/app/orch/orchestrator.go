// Package orch wires the coordination components together and owns the
// per-connection lifecycle: connect, event dispatch, audio forwarding and
// disconnect cleanup.
package orch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicechat/internal/app"
	"github.com/dkeye/voicechat/internal/app/sfu"
	"github.com/dkeye/voicechat/internal/audio"
	"github.com/dkeye/voicechat/internal/core"
	"github.com/dkeye/voicechat/internal/domain"
	"github.com/dkeye/voicechat/internal/metrics"
)

// Store is what the orchestrator needs from the persistence collaborator.
type Store interface {
	core.ChannelStore
	core.MessageStore
}

type Config struct {
	Audio      audio.Config
	Admission  app.AdmissionConfig
	History    app.HistoryConfig
	AudioQueue int
	SlowLimit  int32
}

type Orchestrator struct {
	Registry   *app.Registry
	Rooms      core.RoomManager
	Membership *app.Membership
	Speakers   *app.Admission
	Audio      *audio.Processor
	History    *app.History
	Signaling  *app.Signaling
	Relays     *sfu.RelayManager
	Messages   core.MessageStore
	Out        *app.Outbox
}

func New(cfg Config, store Store, opts ...app.AdmissionOption) (*Orchestrator, error) {
	proc, err := audio.NewProcessor(cfg.Audio)
	if err != nil {
		return nil, fmt.Errorf("orch: audio processor: %w", err)
	}
	if cfg.AudioQueue <= 0 {
		cfg.AudioQueue = 32
	}
	if cfg.SlowLimit <= 0 {
		cfg.SlowLimit = 16
	}
	out := app.NewOutbox(app.SimplePolicy{SlowLimit: cfg.SlowLimit})
	rooms := app.NewRoomManager()
	speakers := app.NewAdmission(cfg.Admission, opts...)
	membership := app.NewMembership(store, rooms, speakers, out)
	return &Orchestrator{
		Registry:   app.NewRegistry(out),
		Rooms:      rooms,
		Membership: membership,
		Speakers:   speakers,
		Audio:      proc,
		History:    app.NewHistory(store, cfg.History),
		Signaling:  app.NewSignaling(membership, rooms, out),
		Relays:     sfu.NewRelayManager(cfg.AudioQueue),
		Messages:   store,
		Out:        out,
	}, nil
}

// Connect registers an authenticated connection. A previous connection of the
// same user is torn down before the presence snapshot goes out. The returned
// context is cancelled when the connection is superseded or the server stops.
func (o *Orchestrator) Connect(ctx context.Context, user *domain.User, signal core.SignalConnection) (core.MemberSession, context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	ms := core.NewMemberSession(app.NewConnID(), domain.NewMember(user), signal)

	if old, superseded := o.Registry.Register(ms, cancel); superseded {
		o.teardown(old.Session)
		if old.Cancel != nil {
			old.Cancel()
		}
		old.Session.Signal().Close()
	}

	o.Membership.JoinPrivate(ms)
	o.Relays.StartRelay(ctx, ms.ID(), func(ctx context.Context, pkt sfu.Packet) {
		o.forwardAudio(ms, pkt)
	})

	metrics.WsConnections.Set(float64(o.Registry.Count()))
	o.Registry.BroadcastPresence()
	log.Info().Str("module", "orch").Str("conn", string(ms.ID())).Int64("user", int64(user.ID)).Msg("connected")
	return ms, ctx
}

// Disconnect releases everything the connection holds before returning.
func (o *Orchestrator) Disconnect(ms core.MemberSession) {
	o.teardown(ms)
	if !o.Registry.Unregister(ms.ID()) {
		// Superseded: the replacing connection already announced presence.
		return
	}
	metrics.WsConnections.Set(float64(o.Registry.Count()))
	o.Registry.BroadcastPresence()
	log.Info().Str("module", "orch").Str("conn", string(ms.ID())).Msg("disconnected")
}

func (o *Orchestrator) teardown(ms core.MemberSession) {
	o.Relays.StopRelay(ms.ID())
	o.Membership.Release(ms)
}

// Shutdown cancels every live connection.
func (o *Orchestrator) Shutdown() {
	o.Registry.CancelAll()
}
