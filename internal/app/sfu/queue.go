package sfu

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/voicechat/internal/audio"
	"github.com/dkeye/voicechat/internal/domain"
)

// Packet is one inbound audio chunk waiting for the sender's forwarder.
type Packet struct {
	ChannelID  domain.ChannelID
	Samples    []float64
	Meta       audio.Metadata
	ReceivedAt time.Time
}

// Queue is a bounded FIFO that drops its oldest packet when full, so a
// stalled forwarder always resumes with the freshest audio.
type Queue struct {
	mu      sync.Mutex
	items   []Packet
	size    int
	dropped uint64
	notify  chan struct{}
}

func NewQueue(size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{
		items:  make([]Packet, 0, size),
		size:   size,
		notify: make(chan struct{}, 1),
	}
}

// Push enqueues p and reports whether an older packet was evicted to make room.
func (q *Queue) Push(p Packet) bool {
	q.mu.Lock()
	evicted := false
	if len(q.items) == q.size {
		copy(q.items, q.items[1:])
		q.items = q.items[:len(q.items)-1]
		q.dropped++
		evicted = true
	}
	q.items = append(q.items, p)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return evicted
}

// Pop blocks until a packet is available or ctx is done.
func (q *Queue) Pop(ctx context.Context) (Packet, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			p := q.items[0]
			copy(q.items, q.items[1:])
			q.items = q.items[:len(q.items)-1]
			q.mu.Unlock()
			return p, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Packet{}, false
		case <-q.notify:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
