package api

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleEvict = 10 * time.Minute

// clientLimiter keeps one token bucket per client identity. Buckets idle
// longer than limiterIdleEvict are pruned so the map stays bounded.
type clientLimiter struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	clients map[string]*clientBucket
}

type clientBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = int(math.Ceil(rps))
	}
	l := &clientLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*clientBucket),
	}
	go l.pruneLoop()
	return l
}

// allow checks and consumes one token for the client. When denied it
// returns the whole seconds to wait before retrying, at least 1.
func (l *clientLimiter) allow(client string) (bool, int) {
	l.mu.Lock()
	b, ok := l.clients[client]
	if !ok {
		b = &clientBucket{lim: rate.NewLimiter(l.rps, l.burst)}
		l.clients[client] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()

	if b.lim.Allow() {
		return true, 0
	}

	res := b.lim.Reserve()
	delay := res.Delay()
	res.Cancel()
	secs := int(math.Ceil(delay.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return false, secs
}

func (l *clientLimiter) pruneLoop() {
	t := time.NewTicker(limiterIdleEvict / 2)
	defer t.Stop()
	for range t.C {
		cutoff := time.Now().Add(-limiterIdleEvict)
		l.mu.Lock()
		for client, b := range l.clients {
			if b.lastSeen.Before(cutoff) {
				delete(l.clients, client)
			}
		}
		l.mu.Unlock()
	}
}
