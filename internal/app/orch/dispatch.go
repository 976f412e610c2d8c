package orch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicechat/internal/app"
	"github.com/dkeye/voicechat/internal/core"
	"github.com/dkeye/voicechat/internal/metrics"
	"github.com/dkeye/voicechat/internal/protocol"
)

// Dispatch routes one decoded inbound event. Errors are local to ms; the
// caller reports them with ReportError and keeps the connection open.
func (o *Orchestrator) Dispatch(ctx context.Context, ms core.MemberSession, in protocol.Inbound) (err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.EventsTotal.WithLabelValues(in.EventName(), outcome).Inc()
	}()

	switch ev := in.(type) {
	case protocol.JoinTextChannel:
		return o.JoinText(ctx, ms, ev.ChannelID)
	case protocol.RequestOlderMessages:
		return o.OlderMessages(ctx, ms, ev.ChannelID, ev.BeforeMessageID, ev.Limit)
	case protocol.SendMessage:
		return o.SendMessage(ctx, ms, ev.ChannelID, ev.Message)
	case protocol.JoinVoiceChannel:
		return o.Membership.JoinVoice(ctx, ms, ev.ChannelID)
	case protocol.LeaveVoiceChannel:
		o.Membership.LeaveVoice(ms, ev.ChannelID)
		return nil
	case protocol.PreviewVoiceChannel:
		return o.Membership.PreviewVoice(ctx, ms, ev.ChannelID)
	case protocol.StopPreviewVoiceChannel:
		o.Membership.StopPreview(ms, ev.ChannelID)
		return nil
	case protocol.UserSpeakingStatus:
		return o.SpeakingStatus(ms, ev.ChannelID, *ev.Speaking)
	case protocol.VoiceDataStream:
		return o.VoiceData(ms, ev)
	case protocol.VoiceSignal:
		_, err := o.Signaling.Relay(ms.Meta().User, ev.RecipientID, ev.Payload)
		return err
	case protocol.Ping:
		o.Out.Send(ms, app.KindControl, protocol.EventPong, protocol.Pong{Time: time.Now().UnixMilli()})
		return nil
	}
	return fmt.Errorf("%w: unsupported event %q", core.ErrValidation, in.EventName())
}

// ReportError sends a non-fatal error event to the connection. Internal
// failures are logged and reported without their details.
func (o *Orchestrator) ReportError(ms core.MemberSession, event string, err error) {
	msg := err.Error()
	switch {
	case errors.Is(err, core.ErrValidation), errors.Is(err, core.ErrPermissionDenied), errors.Is(err, core.ErrNotFound):
		log.Debug().Err(err).Str("module", "orch").Str("conn", string(ms.ID())).Str("event", event).Msg("event rejected")
	default:
		log.Error().Err(err).Str("module", "orch").Str("conn", string(ms.ID())).Str("event", event).Msg("event failed")
		msg = "internal error, please retry"
	}
	o.Out.Send(ms, app.KindControl, protocol.EventError, protocol.Error{Message: msg})
}
