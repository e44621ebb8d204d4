package ratelimit

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/fakturo/internal/actor"
	"github.com/smallbiznis/fakturo/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyAPIActor = "ratelimit:api:%s"

// APILimiter throttles authenticated API requests per actor.
// A nil *APILimiter allows everything.
type APILimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

// NewAPILimiter returns nil when redis or a positive rate is not configured.
func NewAPILimiter(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *APILimiter {
	if !cfg.Redis.Enabled() || cfg.RateLimit.Rate <= 0 || cfg.RateLimit.Burst <= 0 {
		log.Info("api rate limiting disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return newAPILimiter(client, cfg.RateLimit)
}

func newAPILimiter(client redis.Scripter, cfg config.RateLimitConfig) *APILimiter {
	return &APILimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.Rate,
		burst:  cfg.Burst,
	}
}

func (l *APILimiter) Allow(ctx context.Context, a actor.Actor) (*Result, error) {
	if l == nil {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyAPIActor, a.String()), l.rate, l.burst)
}
