package ratelimit

import (
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per sender address.
type Limiter struct {
	mu       sync.Mutex
	visitors map[netip.Addr]*visitor
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

// visitor tracks the bucket and last seen time for one address.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// notified is set once the sender was told it is limited and cleared
	// by its next allowed datagram.
	notified bool
}

// New creates a Limiter that allows rps datagrams per second per sender
// with bursts of up to burst. A non-positive rps disables limiting.
func New(rps float64, burst int) *Limiter {
	l := rate.Limit(rps)
	if rps <= 0 {
		l = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		visitors: make(map[netip.Addr]*visitor),
		limit:    l,
		burst:    burst,
		now:      time.Now,
	}
}

// Allow reports whether one more datagram from addr fits its budget.
func (l *Limiter) Allow(addr netip.Addr) bool {
	l.mu.Lock()
	now := l.now()
	v, ok := l.visitors[addr]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[addr] = v
	}
	v.lastSeen = now
	defer l.mu.Unlock()

	if !v.limiter.AllowN(now, 1) {
		return false
	}
	v.notified = false
	return true
}

// Notify reports whether a sender that was just denied should be told so.
// It returns true once per run of denied datagrams, so a flooding sender
// gets one notice rather than one per packet.
func (l *Limiter) Notify(addr netip.Addr) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.visitors[addr]
	if !ok || v.notified {
		return false
	}
	v.notified = true
	return true
}

// Sweep drops senders not seen for maxIdle and returns how many were dropped.
func (l *Limiter) Sweep(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n := 0
	for addr, v := range l.visitors {
		if now.Sub(v.lastSeen) > maxIdle {
			delete(l.visitors, addr)
			n++
		}
	}
	return n
}

// Len returns the number of tracked senders.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}
