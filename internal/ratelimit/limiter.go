// Package ratelimit throttles API clients with Redis backed counters.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter registers a hit for key and decides whether it is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Options selects and configures a Limiter.
type Options struct {
	// Backend is "ulule" (fixed window) or "sliding". The in-memory "local"
	// backend is a plain middleware, see Local.
	Backend string
	Prefix  string
	// Rate is the ulule formatted rate, e.g. "300-M".
	Rate   string
	Window time.Duration
	Max    int
}

// New builds the Limiter named by opts.Backend.
func New(client *redis.Client, opts Options) (Limiter, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", "ulule":
		return NewUlule(client, opts.Prefix, opts.Rate)
	case "sliding":
		return SlidingWindow{Client: client, Prefix: opts.Prefix + ":", Window: opts.Window, Max: opts.Max}, nil
	default:
		return nil, fmt.Errorf("ratelimit: unknown backend %q", opts.Backend)
	}
}
