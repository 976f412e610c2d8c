package signal

import (
	"context"
	"fmt"

	"github.com/dkeye/voicechat/internal/core"
	"github.com/dkeye/voicechat/internal/metrics"
	"github.com/dkeye/voicechat/internal/protocol"
)

// handleSignal decodes one frame and hands it to the orchestrator. Every
// failure is reported to this connection only.
func (ctl *SignalWSController) handleSignal(ctx context.Context, ms core.MemberSession, data []byte) {
	in, err := protocol.Decode(data)
	if err != nil {
		metrics.EventsTotal.WithLabelValues("invalid", "error").Inc()
		ctl.Orch.ReportError(ms, "", err)
		return
	}
	if limited(in) && ctl.Limiter != nil && !ctl.Limiter.Allow(ms.Meta().User.ID) {
		metrics.EventsTotal.WithLabelValues(in.EventName(), "rate_limited").Inc()
		ctl.Orch.ReportError(ms, in.EventName(), fmt.Errorf("%w: too many %s events, slow down", core.ErrValidation, in.EventName()))
		return
	}
	if err := ctl.Orch.Dispatch(ctx, ms, in); err != nil {
		ctl.Orch.ReportError(ms, in.EventName(), err)
	}
}

// limited reports whether the event counts against the per-user rate limit.
// Audio and speaking updates are paced by the client's capture loop instead.
func limited(in protocol.Inbound) bool {
	switch in.(type) {
	case protocol.SendMessage, protocol.VoiceSignal, protocol.JoinTextChannel, protocol.RequestOlderMessages:
		return true
	}
	return false
}
