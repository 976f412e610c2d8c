package signal

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dkeye/voicechat/internal/domain"
)

type userLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter is a token bucket per user shared by all of the user's connections.
type RateLimiter struct {
	mu    sync.Mutex
	users map[domain.UserID]*userLimiter
	r     rate.Limit
	burst int
	ttl   time.Duration
}

func NewRateLimiter(perSecond float64, burst int, ttl time.Duration) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		users: make(map[domain.UserID]*userLimiter),
		r:     rate.Limit(perSecond),
		burst: burst,
		ttl:   ttl,
	}
}

func (rl *RateLimiter) Allow(uid domain.UserID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	ul, ok := rl.users[uid]
	if !ok {
		ul = &userLimiter{lim: rate.NewLimiter(rl.r, rl.burst)}
		rl.users[uid] = ul
	}
	ul.seen = time.Now()
	return ul.lim.Allow()
}

// Prune drops limiters idle for longer than the ttl and returns how many were removed.
func (rl *RateLimiter) Prune(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for uid, ul := range rl.users {
		if now.Sub(ul.seen) > rl.ttl {
			delete(rl.users, uid)
			n++
		}
	}
	return n
}

// Run prunes idle limiters until done is closed.
func (rl *RateLimiter) Run(done <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			rl.Prune(now)
		}
	}
}
