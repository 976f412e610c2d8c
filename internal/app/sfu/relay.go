package sfu

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/dkeye/voicechat/internal/core"
)

// Handler processes and fans out one packet of a sender.
type Handler func(ctx context.Context, pkt Packet)

// Relay is the single consumer of one connection's audio queue. Packets are
// handled strictly in arrival order.
type Relay struct {
	conn  core.ConnID
	queue *Queue

	handled atomic.Uint64
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewRelay(conn core.ConnID, queueSize int, cancel context.CancelFunc) *Relay {
	return &Relay{
		conn:   conn,
		queue:  NewQueue(queueSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// loop drains the queue until ctx is done.
func (r *Relay) loop(ctx context.Context, handle Handler, logger *zerolog.Logger) {
	defer close(r.done)
	for {
		pkt, ok := r.queue.Pop(ctx)
		if !ok {
			logger.Debug().Uint64("handled", r.handled.Load()).Uint64("dropped", r.queue.Dropped()).Msg("relay ctx done")
			return
		}
		r.forward(ctx, pkt, handle, logger)
	}
}

// forward isolates the handler so one bad packet never stops the relay.
func (r *Relay) forward(ctx context.Context, pkt Packet, handle Handler, logger *zerolog.Logger) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Interface("panic", rec).Msg("relay handler panic")
		}
	}()
	handle(ctx, pkt)
	r.handled.Add(1)
}

func (r *Relay) stop() {
	r.cancel()
	<-r.done
}
