package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter admits or refuses a single event for key.
type RateLimiter interface {
	Allow(key string) bool
}

// RatePolicy describes a token bucket: Events per Per on average, bursting
// up to Burst. Buckets untouched for Idle are forgotten.
type RatePolicy struct {
	Events int
	Per    time.Duration
	Burst  int
	Idle   time.Duration
}

func (p RatePolicy) normalized() RatePolicy {
	if p.Events <= 0 {
		p.Events = 1
	}
	if p.Per <= 0 {
		p.Per = time.Second
	}
	if p.Burst <= 0 {
		p.Burst = 1
	}
	if p.Idle <= 0 {
		p.Idle = 5 * time.Minute
	}
	return p
}

type bucket struct {
	tokens  *rate.Limiter
	touched time.Time
}

// KeyedLimiter keeps one token bucket per key. Keys are usually a route
// scope joined with the client address.
type KeyedLimiter struct {
	policy RatePolicy
	every  rate.Limit
	clock  func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// NewKeyedLimiter builds a limiter enforcing policy independently per key.
func NewKeyedLimiter(policy RatePolicy) *KeyedLimiter {
	policy = policy.normalized()
	return &KeyedLimiter{
		policy:  policy,
		every:   rate.Every(policy.Per / time.Duration(policy.Events)),
		clock:   time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow spends one token from key's bucket.
func (l *KeyedLimiter) Allow(key string) bool {
	if key == "" {
		key = "anonymous"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if now.Sub(l.lastSweep) >= l.policy.Idle {
		l.sweep(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: rate.NewLimiter(l.every, l.policy.Burst)}
		l.buckets[key] = b
	}
	b.touched = now
	return b.tokens.AllowN(now, 1)
}

// Len reports how many keys are currently tracked.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *KeyedLimiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.touched) > l.policy.Idle {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}

// Limit rejects requests with 429 once the client exhausts its allowance
// for scope. Invites, contact submissions and the auth bridge use it.
func Limit(limiter RateLimiter, scope string, retryAfter time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || limiter.Allow(scopedKey(scope, ClientIP(r))) {
				next.ServeHTTP(w, r)
				return
			}
			if secs := int(retryAfter.Seconds()); secs > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}
			writeError(w, http.StatusTooManyRequests, "too many requests")
		})
	}
}

func scopedKey(scope, client string) string {
	if scope == "" {
		return client
	}
	return scope + "|" + client
}

// ClientIP returns the first X-Forwarded-For hop or the connection address.
func ClientIP(r *http.Request) string {
	if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	return addr
}
