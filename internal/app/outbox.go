package app

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicechat/internal/core"
	"github.com/dkeye/voicechat/internal/metrics"
	"github.com/dkeye/voicechat/internal/protocol"
)

// Outbox encodes events and pushes them to sessions or rooms, applying the
// backpressure policy to every receiver whose queue is full.
// It never blocks and never takes locks other than the room's own.
type Outbox struct {
	Policy Policy
}

func NewOutbox(policy Policy) *Outbox {
	return &Outbox{Policy: policy}
}

func (o *Outbox) Send(ms core.MemberSession, kind FrameKind, event string, payload any) bool {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.outbox").Str("event", event).Msg("encode failed")
		return false
	}
	return o.SendFrame(ms, kind, event, frame)
}

func (o *Outbox) SendFrame(ms core.MemberSession, kind FrameKind, event string, frame core.Frame) bool {
	if err := ms.Signal().TrySend(frame); err != nil {
		o.onDropped([]core.MemberSession{ms}, kind, event)
		return false
	}
	return true
}

// Broadcast sends to every member of room except from and returns the delivered count.
func (o *Outbox) Broadcast(room core.RoomService, from core.ConnID, kind FrameKind, event string, payload any) int {
	if room == nil {
		return 0
	}
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.outbox").Str("event", event).Msg("encode failed")
		return 0
	}
	res := room.Broadcast(from, frame)
	o.onDropped(res.Dropped, kind, event)
	return res.SendTo
}

func (o *Outbox) onDropped(dropped []core.MemberSession, kind FrameKind, event string) {
	for _, ms := range dropped {
		metrics.OutboundDropped.WithLabelValues(kind.String()).Inc()
		if o.Policy == nil {
			continue
		}
		action := o.Policy.OnBackPressure(ms, kind)
		switch action {
		case KickMember:
			log.Warn().
				Str("module", "app.outbox").
				Str("conn", string(ms.ID())).
				Str("event", event).
				Msg("receiver too slow, closing connection")
			// Closing the transport ends its read loop, which runs the normal disconnect cleanup.
			ms.Signal().Close()
		case MarkSlow:
			log.Debug().Str("module", "app.outbox").Str("conn", string(ms.ID())).Str("event", event).Msg("receiver marked slow")
		case DropFrame, NoAction:
		}
	}
}
