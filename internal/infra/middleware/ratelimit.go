package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SecurityHeaders adds standard security headers to all responses.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if r.TLS != nil {
			w.Header().Set("Strict-Transport-Security",
				"max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// CallerIdentity names one rate-limit bucket and its allowance. Requests
// from the same identity share a token bucket.
type CallerIdentity struct {
	Key             string
	RequestsPerHour int
	Burst           int
}

// IdentityFunc resolves a request to its rate-limit identity. The API
// layer prefers the caller's API key; the fallback is the client IP.
type IdentityFunc func(r *http.Request) CallerIdentity

// IPIdentity builds an IdentityFunc keyed by client IP with a fixed
// allowance. Proxy headers are ignored: the TCP peer is the identity.
func IPIdentity(perHour, burst int) IdentityFunc {
	return func(r *http.Request) CallerIdentity {
		ip := r.RemoteAddr
		if idx := strings.LastIndex(ip, ":"); idx > 0 {
			ip = ip[:idx]
		}
		return CallerIdentity{Key: ip, RequestsPerHour: perHour, Burst: burst}
	}
}

// RateLimit enforces a per-caller token bucket. Exceeding callers get a
// 429 with a Retry-After header. Stale buckets are reaped by a goroutine
// bound to ctx.
func RateLimit(ctx context.Context, identify IdentityFunc) func(http.Handler) http.Handler {
	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	clients := make(map[string]*client)
	mu := &sync.Mutex{}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				mu.Lock()
				for key, c := range clients {
					if time.Since(c.lastSeen) > 10*time.Minute {
						delete(clients, key)
					}
				}
				mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := identify(r)
			if id.RequestsPerHour <= 0 {
				id.RequestsPerHour = 100
			}
			if id.Burst <= 0 {
				id.Burst = 10
			}

			mu.Lock()
			c, exists := clients[id.Key]
			if !exists {
				c = &client{
					limiter: rate.NewLimiter(rate.Limit(id.RequestsPerHour)/3600.0, id.Burst),
				}
				clients[id.Key] = c
			}
			c.lastSeen = time.Now()
			limiter := c.limiter
			mu.Unlock()

			if !limiter.Allow() {
				w.Header().Set("Retry-After", "3600")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded","retry_after_seconds":3600}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
