package auth

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"hipaa-training/internal/audit"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LoginRateLimiter throttles login requests per client IP with a token bucket.
// It sits in front of the per-identity lockout and never records failures.
type LoginRateLimiter struct {
	mu        sync.Mutex
	perMinute int
	limit     rate.Limit
	byIP      map[string]*ipLimiter
	maxMemory int
	idleTTL   time.Duration
	now       func() time.Time
}

func NewLoginRateLimiter(perMinute int) *LoginRateLimiter {
	if perMinute <= 0 {
		perMinute = 10
	}

	return &LoginRateLimiter{
		perMinute: perMinute,
		limit:     rate.Every(time.Minute / time.Duration(perMinute)),
		byIP:      make(map[string]*ipLimiter),
		maxMemory: 5000,
		idleTTL:   10 * time.Minute,
		now:       time.Now,
	}
}

// WithCapacity bounds how many client IPs are tracked at once.
func (l *LoginRateLimiter) WithCapacity(maxIPs int) *LoginRateLimiter {
	if maxIPs > 0 {
		l.maxMemory = maxIPs
	}
	return l
}

func (l *LoginRateLimiter) WithClock(now func() time.Time) *LoginRateLimiter {
	l.now = now
	return l
}

// Tracked is the number of client IPs currently held.
func (l *LoginRateLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byIP)
}

func (l *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter := l.allow(audit.ResolveClientIP(r))
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many attempts, try again later")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *LoginRateLimiter) allow(ip string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.byIP[ip]
	if !ok {
		if len(l.byIP) >= l.maxMemory {
			l.evictIdle(now)
		}
		if len(l.byIP) >= l.maxMemory {
			l.evictLeastRecent()
		}
		entry = &ipLimiter{limiter: rate.NewLimiter(l.limit, l.perMinute)}
		l.byIP[ip] = entry
	}
	entry.lastSeen = now

	reservation := entry.limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		if delay < time.Second {
			delay = time.Second
		}
		return false, delay
	}

	return true, 0
}

func (l *LoginRateLimiter) evictIdle(now time.Time) {
	for key, value := range l.byIP {
		if now.Sub(value.lastSeen) > l.idleTTL {
			delete(l.byIP, key)
		}
	}
}

func (l *LoginRateLimiter) evictLeastRecent() {
	var oldestKey string
	var oldest time.Time
	for key, value := range l.byIP {
		if oldestKey == "" || value.lastSeen.Before(oldest) {
			oldestKey, oldest = key, value.lastSeen
		}
	}
	delete(l.byIP, oldestKey)
}
