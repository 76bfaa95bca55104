package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// Ulule adapts a ulule/limiter fixed window limiter with a Redis store.
type Ulule struct {
	l *limiter.Limiter
}

// NewUlule builds a Ulule limiter for a formatted rate such as "300-M".
func NewUlule(client *redis.Client, prefix, rate string) (*Ulule, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: rate %q: %w", rate, err)
	}
	store, err := limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return nil, fmt.Errorf("ratelimit: redis store: %w", err)
	}
	return &Ulule{l: limiter.New(store, parsed)}, nil
}

// Allow implements Limiter.
func (u *Ulule) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := u.l.Get(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:   !res.Reached,
		Limit:     int(res.Limit),
		Remaining: int(res.Remaining),
		ResetAt:   time.Unix(res.Reset, 0),
	}, nil
}
