// Package middleware provides HTTP middleware for the identity kernel.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	internalhttputil "github.com/pik-systems/identity-kernel/infrastructure/httputil"
	"github.com/pik-systems/identity-kernel/infrastructure/logging"
)

// RateLimiter keeps one golang.org/x/time/rate token bucket per client key:
// tokens refill at limit/window and at most burst requests pass at once.
// It is not a sliding-window count. Route policies are separate RateLimiter
// instances (see PolicyRateLimiter).
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
	limit    int
	window   time.Duration
	logger   *logging.Logger
}

// LimiterCount returns the number of active limiters.
func (rl *RateLimiter) LimiterCount() int {
	if rl == nil {
		return 0
	}
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.limiters)
}

// NewRateLimiter creates a new rate limiter at a flat requests-per-second rate.
func NewRateLimiter(requestsPerSecond, burst int, logger *logging.Logger) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		limit:    requestsPerSecond,
		window:   time.Second,
		logger:   logger,
	}
}

// NewRateLimiterWithWindow creates a rate limiter configured by a fixed window
// and request budget, e.g. 60 requests per 60s.
func NewRateLimiterWithWindow(limit int, window time.Duration, burst int, logger *logging.Logger) *RateLimiter {
	if window <= 0 {
		window = time.Second
	}
	requestsPerSecond := float64(limit) / window.Seconds()
	if requestsPerSecond < 0 {
		requestsPerSecond = 0
	}

	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		limit:    limit,
		window:   window,
		logger:   logger,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = limiter
	}
	return limiter
}

// Allow reports whether the caller identified by key may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// Handler returns the rate limiting middleware handler. Client identity is
// the request's client IP.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := internalhttputil.ClientIP(r)
		if key == "" {
			key = "unknown"
		}

		if !rl.getLimiter(key).Allow() {
			if rl.logger != nil {
				rl.logger.LogSecurityEvent(r.Context(), "rate_limit_exceeded", map[string]interface{}{
					"key":    key,
					"path":   r.URL.Path,
					"method": r.Method,
				})
			}

			window := rl.window
			if window <= 0 {
				window = time.Second
			}
			serviceErr := errTooMany("rate limit exceeded")
			if seconds := int(math.Ceil(window.Seconds())); seconds > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
			}
			internalhttputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Kind), serviceErr.Message, serviceErr.Details)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Cleanup drops every limiter once more than 10000 keys are tracked (should
// be called periodically); below that it leaves the map untouched.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if len(rl.limiters) > 10000 {
		rl.limiters = make(map[string]*rate.Limiter)
	}
}

// StartCleanup starts a background goroutine to periodically cleanup old limiters.
func (rl *RateLimiter) StartCleanup(interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-done:
				return
			}
		}
	}()

	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

// PolicyRateLimiter dispatches to a distinct RateLimiter per route class
// (ingest 120/min, auth 10/min, demo 5/min, health unlimited, default
// 60/min).
type PolicyRateLimiter struct {
	policies map[string]*RateLimiter
	logger   *logging.Logger
}

// RoutePolicy names one of the route classes this service rate-limits.
type RoutePolicy string

const (
	PolicyDefault RoutePolicy = "default"
	PolicyIngest  RoutePolicy = "ingest"
	PolicyAuth    RoutePolicy = "auth"
	PolicyDemo    RoutePolicy = "demo"
)

// NewPolicyRateLimiter builds the default policy table. Health endpoints are
// intentionally absent — callers must not route them through this middleware.
func NewPolicyRateLimiter(logger *logging.Logger) *PolicyRateLimiter {
	return &PolicyRateLimiter{
		logger: logger,
		policies: map[string]*RateLimiter{
			string(PolicyDefault): NewRateLimiterWithWindow(60, time.Minute, 10, logger),
			string(PolicyIngest):  NewRateLimiterWithWindow(120, time.Minute, 20, logger),
			string(PolicyAuth):    NewRateLimiterWithWindow(10, time.Minute, 3, logger),
			string(PolicyDemo):    NewRateLimiterWithWindow(5, time.Minute, 2, logger),
		},
	}
}

// ForPolicy returns middleware enforcing the named route policy, falling
// back to PolicyDefault if the name is unknown.
func (p *PolicyRateLimiter) ForPolicy(policy RoutePolicy) func(http.Handler) http.Handler {
	rl, ok := p.policies[string(policy)]
	if !ok {
		rl = p.policies[string(PolicyDefault)]
	}
	return rl.Handler
}

// StartCleanup starts the background eviction goroutine on every policy's limiter.
func (p *PolicyRateLimiter) StartCleanup(interval time.Duration) (stop func()) {
	stops := make([]func(), 0, len(p.policies))
	for _, rl := range p.policies {
		stops = append(stops, rl.StartCleanup(interval))
	}
	return func() {
		for _, s := range stops {
			s()
		}
	}
}
