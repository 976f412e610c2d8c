// Package sfu runs the per-connection audio forwarders: each sender gets a
// bounded queue fed by its read loop and one goroutine that drains it.
package sfu

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicechat/internal/core"
)

var ErrNoRelay = errors.New("no relay for connection")

type RelayManager struct {
	queueSize int

	mu     sync.RWMutex
	relays map[core.ConnID]*Relay
}

func NewRelayManager(queueSize int) *RelayManager {
	return &RelayManager{
		queueSize: queueSize,
		relays:    make(map[core.ConnID]*Relay),
	}
}

// StartRelay creates a new Relay for the given connection and starts its loop.
func (m *RelayManager) StartRelay(ctx context.Context, conn core.ConnID, handle Handler) {
	logger := log.With().
		Str("module", "sfu").
		Str("conn", string(conn)).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(conn, m.queueSize, cancel)

	m.mu.Lock()
	old, replaced := m.relays[conn]
	m.relays[conn] = relay
	m.mu.Unlock()

	if replaced {
		logger.Info().Msg("replacing existing relay for connection")
		old.stop()
	}

	logger.Debug().Msg("starting relay loop")
	go relay.loop(relayCtx, handle, &logger)
}

// Push hands a packet to the connection's relay. It reports whether an older
// packet was dropped to make room.
func (m *RelayManager) Push(conn core.ConnID, pkt Packet) (bool, error) {
	m.mu.RLock()
	relay, ok := m.relays[conn]
	m.mu.RUnlock()
	if !ok {
		return false, ErrNoRelay
	}
	return relay.queue.Push(pkt), nil
}

// StopRelay stops a relay, waits for its in-flight packet and removes it.
func (m *RelayManager) StopRelay(conn core.ConnID) {
	m.mu.Lock()
	relay, ok := m.relays[conn]
	if ok {
		delete(m.relays, conn)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.stop()
}

// HasRelay reports whether a relay exists for conn.
func (m *RelayManager) HasRelay(conn core.ConnID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[conn]
	return ok
}

func (m *RelayManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.relays)
}
