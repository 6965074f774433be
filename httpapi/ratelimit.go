package httpapi

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter keeps one token bucket per client address. Idle entries are
// swept so the map does not grow with one-shot clients.
type clientLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket

	limit rate.Limit
	burst int

	lastSweep time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const (
	limiterSweepInterval = 5 * time.Minute
	limiterIdleEviction  = 10 * time.Minute
)

func newClientLimiter(perSecond float64, burst int) *clientLimiter {
	return &clientLimiter{
		clients:   make(map[string]*clientBucket),
		limit:     rate.Limit(perSecond),
		burst:     burst,
		lastSweep: time.Now(),
	}
}

func (l *clientLimiter) allow(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastSweep) > limiterSweepInterval {
		for key, bucket := range l.clients {
			if now.Sub(bucket.lastSeen) > limiterIdleEviction {
				delete(l.clients, key)
			}
		}
		l.lastSweep = now
	}

	bucket, ok := l.clients[host]
	if !ok {
		bucket = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[host] = bucket
	}
	bucket.lastSeen = now

	return bucket.limiter.Allow()
}
