package orch

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicechat/internal/app"
	"github.com/dkeye/voicechat/internal/app/sfu"
	"github.com/dkeye/voicechat/internal/audio"
	"github.com/dkeye/voicechat/internal/core"
	"github.com/dkeye/voicechat/internal/domain"
	"github.com/dkeye/voicechat/internal/metrics"
	"github.com/dkeye/voicechat/internal/protocol"
)

func (o *Orchestrator) SpeakingStatus(ms core.MemberSession, id domain.ChannelID, speaking bool) error {
	u := ms.Meta().User
	if !o.Membership.IsActive(u.ID, id) {
		return fmt.Errorf("%w: not in voice channel %d", core.ErrValidation, id)
	}
	room, ok := o.Rooms.Get(domain.VoiceRoom(id))
	if !ok {
		return nil
	}
	o.Out.Broadcast(room, ms.ID(), app.KindControl, protocol.EventUserSpeaking,
		protocol.UserSpeaking{ChannelID: id, UserID: u.ID, Speaking: speaking})
	return nil
}

// VoiceData queues one chunk on the sender's relay. Chunks for a channel the
// user is not active in are dropped without a reply.
func (o *Orchestrator) VoiceData(ms core.MemberSession, ev protocol.VoiceDataStream) error {
	if !o.Membership.IsActive(ms.Meta().User.ID, ev.ChannelID) {
		log.Trace().Str("module", "orch").Str("conn", string(ms.ID())).Int64("channel", int64(ev.ChannelID)).Msg("audio for inactive channel dropped")
		return nil
	}
	evicted, err := o.Relays.Push(ms.ID(), sfu.Packet{
		ChannelID:  ev.ChannelID,
		Samples:    ev.AudioData,
		Meta:       audio.Metadata{SampleRate: ev.SampleRate, Channels: ev.Channels, DType: ev.DType},
		ReceivedAt: time.Now(),
	})
	if err != nil {
		// The relay is gone once teardown started.
		return nil
	}
	if evicted {
		metrics.AudioQueueDropped.Inc()
	}
	return nil
}

// forwardAudio runs on the sender's relay goroutine, one packet at a time.
func (o *Orchestrator) forwardAudio(ms core.MemberSession, pkt sfu.Packet) {
	u := ms.Meta().User
	frame, reason := o.Audio.Process(pkt.Samples, pkt.Meta)
	switch reason {
	case audio.ReasonSilence:
		metrics.AudioFramesTotal.WithLabelValues(metrics.OutcomeSilence).Inc()
		return
	case audio.ReasonProcessingError:
		metrics.AudioFramesTotal.WithLabelValues(metrics.OutcomeError).Inc()
		o.Out.Send(ms, app.KindControl, protocol.EventAudioProcessingError,
			protocol.AudioProcessingError{ChannelID: pkt.ChannelID, Message: "audio chunk could not be processed"})
		return
	}

	// The user may have left while the packet was queued. A leave racing past
	// this check leaves an entry behind that expires on the next packet.
	if !o.Membership.IsActive(u.ID, pkt.ChannelID) {
		return
	}
	if o.Speakers.Admit(pkt.ChannelID, u.ID) == app.Suppressed {
		metrics.AudioFramesTotal.WithLabelValues(metrics.OutcomeSuppressed).Inc()
		return
	}
	room, ok := o.Rooms.Get(domain.VoiceRoom(pkt.ChannelID))
	if !ok {
		return
	}
	o.Out.Broadcast(room, ms.ID(), app.KindAudio, protocol.EventVoiceDataStreamChunk, protocol.VoiceChunk{
		ChannelID:  pkt.ChannelID,
		UserID:     u.ID,
		Username:   u.Username,
		AudioData:  frame.Samples,
		SampleRate: frame.SampleRate,
		Channels:   frame.Channels,
		DType:      frame.DType,
	})
	metrics.AudioFramesTotal.WithLabelValues(metrics.OutcomeForwarded).Inc()
}
