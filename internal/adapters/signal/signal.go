package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicechat/internal/app/orch"
	"github.com/dkeye/voicechat/internal/core"
	"github.com/dkeye/voicechat/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// Options tune one websocket connection.
type Options struct {
	SendBuffer int
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	return o
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Limiter *RateLimiter
	opts    Options
}

func NewSignalWSController(o *orch.Orchestrator, limiter *RateLimiter, opts Options) *SignalWSController {
	return &SignalWSController{Orch: o, Limiter: limiter, opts: opts.withDefaults()}
}

// WsSignalConn implements core.SignalConnection over a websocket. Outbound
// frames go through a bounded queue; a full queue rejects the newest frame.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, buffer),
		done: make(chan struct{}),
	}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// Close is idempotent and safe to call from any goroutine. It unblocks the
// read loop, which then runs the disconnect cleanup.
func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	_ = c.conn.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades an already authenticated request and serves it until
// the connection ends. Authentication happens before this is called.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context, user *domain.User) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	conn := newWsSignalConn(ws, ctl.opts.SendBuffer)

	ms, connCtx := ctl.Orch.Connect(ctx, user, conn)
	log.Info().
		Str("module", "signal").
		Str("conn", string(ms.ID())).
		Int64("user", int64(user.ID)).
		Str("remote", c.ClientIP()).
		Msg("new WS connection")

	go ctl.writePump(connCtx, conn)
	ctl.readPump(connCtx, ms, conn)
}
