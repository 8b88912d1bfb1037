// endpoint_ratelimit.go - Per-endpoint rate limiting for Ephemeral Drop.
//
// Uploads create state on disk and zip downloads build archives, so both
// get tighter buckets than plain API reads.
package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Route classes shared by rate limiting and request duration metrics.
const (
	classUpload   = "upload"
	classDownload = "download"
	classAPI      = "api"
)

// routeClass buckets a request path.
func routeClass(path string) string {
	switch {
	case path == "/upload":
		return classUpload
	case strings.HasPrefix(path, "/download/"):
		return classDownload
	default:
		return classAPI
	}
}

// RateLimitConfig holds the per-class limits.
type RateLimitConfig struct {
	UploadRate     int
	UploadWindow   time.Duration
	DownloadRate   int
	DownloadWindow time.Duration
	APIRate        int
	APIWindow      time.Duration
}

// DefaultRateLimitConfig returns the production defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		UploadRate:     20,
		UploadWindow:   time.Hour,
		DownloadRate:   100,
		DownloadWindow: time.Hour,
		APIRate:        300,
		APIWindow:      time.Minute,
	}
}

// EndpointRateLimiter applies a different bucket per route class.
type EndpointRateLimiter struct {
	limiters map[string]*rateLimiter
	windows  map[string]time.Duration
}

// NewEndpointRateLimiter builds the limiter set from cfg.
func NewEndpointRateLimiter(cfg RateLimitConfig) *EndpointRateLimiter {
	return &EndpointRateLimiter{
		limiters: map[string]*rateLimiter{
			classUpload:   newRateLimiter(cfg.UploadRate, cfg.UploadWindow),
			classDownload: newRateLimiter(cfg.DownloadRate, cfg.DownloadWindow),
			classAPI:      newRateLimiter(cfg.APIRate, cfg.APIWindow),
		},
		windows: map[string]time.Duration{
			classUpload:   cfg.UploadWindow,
			classDownload: cfg.DownloadWindow,
			classAPI:      cfg.APIWindow,
		},
	}
}

// Middleware rejects requests over their class limit with 429.
func (erl *EndpointRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		class := routeClass(r.URL.Path)
		ip := getClientIP(r)

		if !erl.limiters[class].allow(ip) {
			Warn("rate_limit_exceeded", map[string]any{
				"request_id": RequestIDFromContext(r.Context()),
				"ip":         ip,
				"path":       r.URL.Path,
				"method":     r.Method,
				"limit_type": class,
			})

			retry := int(erl.windows[class].Seconds())
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			w.Header().Set("X-RateLimit-Limit-Type", class)
			http.Error(w, "Rate limit exceeded for "+class+" endpoints. Please try again later.", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Run sweeps idle visitors of every class until ctx is done.
func (erl *EndpointRateLimiter) Run(ctx context.Context) {
	for _, rl := range erl.limiters {
		go rl.runCleanup(ctx)
	}
	<-ctx.Done()
}
