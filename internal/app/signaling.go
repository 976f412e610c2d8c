package app

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicechat/internal/core"
	"github.com/dkeye/voicechat/internal/domain"
	"github.com/dkeye/voicechat/internal/protocol"
)

// VoicePresence answers whether a user currently holds a voice session.
type VoicePresence interface {
	ActiveChannel(uid domain.UserID) (domain.ChannelID, bool)
}

// Signaling forwards opaque call-setup payloads to one user's private room.
type Signaling struct {
	voice VoicePresence
	rooms core.RoomManager
	out   *Outbox
}

func NewSignaling(voice VoicePresence, rooms core.RoomManager, out *Outbox) *Signaling {
	return &Signaling{voice: voice, rooms: rooms, out: out}
}

// Relay delivers payload, augmented with the sender identity, to the recipient.
// It reports false without an error when nobody is listening.
func (s *Signaling) Relay(sender *domain.User, recipient domain.UserID, payload json.RawMessage) (bool, error) {
	if _, ok := s.voice.ActiveChannel(recipient); !ok {
		log.Debug().Str("module", "app.signaling").Int64("from", int64(sender.ID)).Int64("to", int64(recipient)).Msg("recipient not in voice, dropping signal")
		return false, nil
	}
	fields := map[string]json.RawMessage{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return false, fmt.Errorf("%w: signal payload must be an object", core.ErrValidation)
		}
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	name, err := json.Marshal(sender.Username)
	if err != nil {
		return false, fmt.Errorf("%w: encode sender name: %v", core.ErrProcessing, err)
	}
	fields["sender_id"] = json.RawMessage(strconv.FormatInt(int64(sender.ID), 10))
	fields["sender_name"] = name

	room, ok := s.rooms.Get(domain.UserRoom(recipient))
	if !ok {
		return false, nil
	}
	return s.out.Broadcast(room, "", KindControl, protocol.EventVoiceSignal, fields) > 0, nil
}
