package server

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// staleLimiterTTL is how long a per-IP limiter can be idle before cleanup.
	staleLimiterTTL = 10 * time.Minute

	// cleanupInterval is how often the background sweep runs.
	cleanupInterval = 1 * time.Minute
)

// limitRule binds an endpoint pattern to its token bucket parameters.
type limitRule struct {
	method string // "" matches any method
	prefix string // "" matches any path
	rps    rate.Limit
	burst  int
}

// defaultRules throttle the write endpoints harder than the read ones. The
// verify endpoint is the public-facing one and the main brute-force target.
func defaultRules() []limitRule {
	return []limitRule{
		{method: "POST", prefix: "/api/sms/process", rps: rate.Limit(30.0 / 60), burst: 10},
		{method: "POST", prefix: "/api/verify", rps: rate.Limit(10.0 / 60), burst: 5},
		{method: "", prefix: "", rps: 2, burst: 10},
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies per-endpoint, per-IP request throttling.
type RateLimiter struct {
	mu       sync.Mutex
	entries  map[string]*limiterEntry // key: ruleIndex|clientIP
	rules    []limitRule
	logger   *slog.Logger
	nowFunc  func() time.Time
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter starts the limiter and its stale-entry sweeper. Call Stop
// when the limiter is no longer needed.
func NewRateLimiter(logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		entries: make(map[string]*limiterEntry),
		rules:   defaultRules(),
		logger:  logger.With("component", "ratelimit"),
		nowFunc: time.Now,
		stopCh:  make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Stop shuts down the sweeper. Safe to call multiple times.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.evictStale()
		}
	}
}

func (rl *RateLimiter) evictStale() {
	now := rl.nowFunc()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, entry := range rl.entries {
		if now.Sub(entry.lastSeen) > staleLimiterTTL {
			delete(rl.entries, key)
		}
	}
}

// EntryCount reports the number of live per-IP buckets.
func (rl *RateLimiter) EntryCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// Wrap applies the rate limit before delegating to next.
func (rl *RateLimiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		idx := rl.matchRule(r.Method, r.URL.Path)

		if !rl.bucket(idx, ip).Allow() {
			w.Header().Set("Retry-After", "60")
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			rl.logger.Warn("rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", ip,
			)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) matchRule(method, path string) int {
	for i, rule := range rl.rules {
		if rule.method != "" && !strings.EqualFold(rule.method, method) {
			continue
		}
		if rule.prefix != "" && !strings.HasPrefix(path, rule.prefix) {
			continue
		}
		return i
	}
	return len(rl.rules) - 1
}

func (rl *RateLimiter) bucket(ruleIdx int, ip string) *rate.Limiter {
	key := strconv.Itoa(ruleIdx) + "|" + ip
	now := rl.nowFunc()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if entry, ok := rl.entries[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}
	rule := rl.rules[ruleIdx]
	entry := &limiterEntry{
		limiter:  rate.NewLimiter(rule.rps, rule.burst),
		lastSeen: now,
	}
	rl.entries[key] = entry
	return entry.limiter
}

// clientIP determines the caller's IP: X-Forwarded-For first entry, then
// X-Real-IP, then RemoteAddr without the port.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
