package app

import (
	"context"
	"fmt"

	"github.com/dkeye/voicechat/internal/core"
	"github.com/dkeye/voicechat/internal/domain"
)

type HistoryConfig struct {
	PageSize    int `mapstructure:"page_size"`
	MaxPageSize int `mapstructure:"max_page_size"`
}

// Page is a chronological slice of a channel's messages.
type Page struct {
	ChannelID domain.ChannelID
	Messages  []domain.MessageView
	HasMore   bool
}

// History paginates a channel backwards using the boundary message's
// (timestamp, id) as the cursor.
type History struct {
	messages core.MessageStore
	cfg      HistoryConfig
}

func NewHistory(messages core.MessageStore, cfg HistoryConfig) *History {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if cfg.MaxPageSize < cfg.PageSize {
		cfg.MaxPageSize = cfg.PageSize
	}
	return &History{messages: messages, cfg: cfg}
}

func (h *History) InitialPage(ctx context.Context, channel domain.ChannelID) (Page, error) {
	rows, err := h.messages.LatestMessages(ctx, channel, h.cfg.PageSize+1)
	if err != nil {
		return Page{}, fmt.Errorf("%w: load history of channel %d: %v", core.ErrProcessing, channel, err)
	}
	return h.page(channel, rows, h.cfg.PageSize), nil
}

// OlderPage returns up to limit messages strictly older than before. A limit
// of zero means the default page size. An unknown cursor yields an empty page.
func (h *History) OlderPage(ctx context.Context, channel domain.ChannelID, before domain.MessageID, limit int) (Page, error) {
	limit = h.clamp(limit)
	cursor, err := h.messages.GetMessage(ctx, before)
	if err != nil {
		return Page{}, fmt.Errorf("%w: load cursor %d: %v", core.ErrProcessing, before, err)
	}
	if cursor == nil || cursor.ChannelID != channel {
		return Page{ChannelID: channel, Messages: []domain.MessageView{}}, nil
	}
	rows, err := h.messages.MessagesBefore(ctx, channel, *cursor, limit+1)
	if err != nil {
		return Page{}, fmt.Errorf("%w: load history of channel %d: %v", core.ErrProcessing, channel, err)
	}
	return h.page(channel, rows, limit), nil
}

func (h *History) clamp(limit int) int {
	if limit <= 0 {
		return h.cfg.PageSize
	}
	if limit > h.cfg.MaxPageSize {
		return h.cfg.MaxPageSize
	}
	return limit
}

// page turns a newest-first result fetched with one extra row into a chronological page.
func (h *History) page(channel domain.ChannelID, rows []domain.MessageView, limit int) Page {
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	out := make([]domain.MessageView, len(rows))
	for i, m := range rows {
		out[len(rows)-1-i] = m
	}
	return Page{ChannelID: channel, Messages: out, HasMore: hasMore}
}
