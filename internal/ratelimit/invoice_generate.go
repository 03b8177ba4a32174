package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/wipline/internal/config"
)

const (
	keyInvoiceGenerateTenant = "invoice:generate:tenant:%s"
	keyNightlyRunLock        = "jobs:nightly:lock"
)

// InvoiceGenerateLimiter throttles interactive invoice generation per
// tenant. Disabled entirely when no redis address is configured; callers
// treat disabled as allow.
type InvoiceGenerateLimiter struct {
	enabled bool

	bucket *TokenBucket

	rate  float64
	burst int
}

func NewInvoiceGenerateLimiter(cfg config.Config, client *redis.Client) *InvoiceGenerateLimiter {
	if client == nil {
		return nil
	}
	rate := cfg.InvoiceGenerateRate
	if rate <= 0 {
		rate = 1
	}
	burst := cfg.InvoiceGenerateBurst
	if burst <= 0 {
		burst = 5
	}
	return &InvoiceGenerateLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    rate,
		burst:   burst,
	}
}

func (l *InvoiceGenerateLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *InvoiceGenerateLimiter) Allow(ctx context.Context, tenantID string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	key := fmt.Sprintf(keyInvoiceGenerateTenant, strings.TrimSpace(tenantID))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}

// NightlyRunLockKey is the shared redis key serializing nightly runs.
func NightlyRunLockKey() string {
	return keyNightlyRunLock
}

// NewRedisClient builds the shared redis client, or nil when redis is not
// configured. Both the run lock and the limiters degrade gracefully on nil.
func NewRedisClient(cfg config.Config) *redis.Client {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     strings.TrimSpace(cfg.RedisPassword),
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}
