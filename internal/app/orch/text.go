package orch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicechat/internal/app"
	"github.com/dkeye/voicechat/internal/core"
	"github.com/dkeye/voicechat/internal/domain"
	"github.com/dkeye/voicechat/internal/metrics"
	"github.com/dkeye/voicechat/internal/protocol"
)

// JoinText subscribes the connection to the channel and pushes the latest page.
func (o *Orchestrator) JoinText(ctx context.Context, ms core.MemberSession, id domain.ChannelID) error {
	if _, err := o.Membership.JoinText(ctx, ms, id); err != nil {
		return err
	}
	page, err := o.History.InitialPage(ctx, id)
	if err != nil {
		return err
	}
	o.Out.Send(ms, app.KindControl, protocol.EventLoadHistoricalMessages, pageView(page))
	return nil
}

func (o *Orchestrator) OlderMessages(ctx context.Context, ms core.MemberSession, id domain.ChannelID, before domain.MessageID, limit int) error {
	if _, err := o.Membership.Authorize(ctx, ms.Meta().User, id, domain.ChannelText); err != nil {
		return err
	}
	page, err := o.History.OlderPage(ctx, id, before, limit)
	if err != nil {
		return err
	}
	o.Out.Send(ms, app.KindControl, protocol.EventOlderMessagesLoaded, pageView(page))
	return nil
}

// SendMessage persists the message and broadcasts it to the text room,
// sender included.
func (o *Orchestrator) SendMessage(ctx context.Context, ms core.MemberSession, id domain.ChannelID, content string) error {
	u := ms.Meta().User
	if _, err := o.Membership.Authorize(ctx, u, id, domain.ChannelText); err != nil {
		return err
	}
	msg, err := domain.NewMessage(id, u.ID, content)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	view, err := o.Messages.CreateMessage(ctx, msg)
	if err != nil {
		return fmt.Errorf("%w: store message: %v", core.ErrProcessing, err)
	}
	metrics.MessagesTotal.Inc()

	out := protocol.NewChatMessage(*view)
	room, ok := o.Rooms.Get(domain.TextRoom(id))
	if ok {
		o.Out.Broadcast(room, "", app.KindControl, protocol.EventNewMessage, out)
	}
	if !ok || !room.Has(ms.ID()) {
		o.Out.Send(ms, app.KindControl, protocol.EventNewMessage, out)
	}
	log.Debug().Str("module", "orch").Int64("user", int64(u.ID)).Int64("channel", int64(id)).Int64("message", int64(view.ID)).Msg("message sent")
	return nil
}

func pageView(p app.Page) protocol.MessagePage {
	msgs := make([]protocol.ChatMessage, 0, len(p.Messages))
	for _, m := range p.Messages {
		msgs = append(msgs, protocol.NewChatMessage(m))
	}
	return protocol.MessagePage{ChannelID: p.ChannelID, Messages: msgs, HasMoreOlder: p.HasMore}
}
