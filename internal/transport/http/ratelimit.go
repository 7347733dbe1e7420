// Copyright 2026 The Holidesk Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/holidesk/holidesk/internal/auth"
)

// RateLimiter is a per-instance, per-IP token bucket in front of the
// handlers. It only sheds floods; the authoritative login and 2FA limits
// are enforced by the orchestrator against Redis.
type RateLimiter struct {
	ips   map[string]*rate.Limiter
	mu    sync.Mutex
	rps   rate.Limit
	burst int
	stop  chan struct{}
	once  sync.Once
}

// NewRateLimiter creates a limiter and starts its cleanup loop. Call Close
// to stop it.
func NewRateLimiter(rps float64, burst int, cleanupInterval time.Duration) *RateLimiter {
	if cleanupInterval <= 0 {
		cleanupInterval = 10 * time.Minute
	}
	rl := &RateLimiter{
		ips:   make(map[string]*rate.Limiter),
		rps:   rate.Limit(rps),
		burst: burst,
		stop:  make(chan struct{}),
	}
	go rl.cleanup(cleanupInterval)
	return rl
}

// Allow consumes one token for ip
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	limiter, exists := rl.ips[ip]
	if !exists {
		limiter = rate.NewLimiter(rl.rps, rl.burst)
		rl.ips[ip] = limiter
	}
	rl.mu.Unlock()
	return limiter.Allow()
}

// Close stops the cleanup loop
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			// Drop all buckets; active clients get a fresh one on their next request
			rl.mu.Lock()
			rl.ips = make(map[string]*rate.Limiter)
			rl.mu.Unlock()
		}
	}
}

// RateLimitMiddleware rejects requests from IPs over their budget
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(clientIP(r)) {
				respondError(w, r, &auth.Error{Kind: auth.KindRateLimited, RetryAfter: time.Second})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the host part of RemoteAddr. Proxy headers are applied
// to RemoteAddr by middleware.RealIP before this runs.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
