// Package cache keeps short-lived Redis copies of tenant escalation lists.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"skynet/internal/events"
	"skynet/internal/service"
)

const keyPrefix = "skynet:escalations"

// EscalationCache serves escalation pages from Redis and falls back to the
// wrapped lister on a miss. Each tenant has a generation counter that is
// bumped whenever one of its escalations changes, so stale pages are never
// read again and simply expire.
type EscalationCache struct {
	next   service.EscalationLister
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewEscalationCache(next service.EscalationLister, redisClient *redis.Client, ttl time.Duration, logger *zerolog.Logger) *EscalationCache {
	return &EscalationCache{
		next:   next,
		redis:  redisClient,
		ttl:    ttl,
		logger: logger.With().Str("component", "escalation_cache").Logger(),
	}
}

// ListEscalations implements service.EscalationLister.
func (c *EscalationCache) ListEscalations(ctx context.Context, in service.ListEscalationsInput) (*service.EscalationPage, error) {
	if c.redis == nil || c.ttl <= 0 || !in.Actor.Role.CanManageEscalations() {
		return c.next.ListEscalations(ctx, in)
	}

	key := c.pageKey(ctx, in)
	var page service.EscalationPage
	if key != "" && c.readCache(ctx, key, &page) {
		return &page, nil
	}

	fresh, err := c.next.ListEscalations(ctx, in)
	if err != nil {
		return nil, err
	}
	if key != "" {
		c.writeCache(ctx, key, fresh)
	}
	return fresh, nil
}

// Invalidate drops every cached page of the tenant.
func (c *EscalationCache) Invalidate(ctx context.Context, tenantID string) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Incr(ctx, generationKey(tenantID)).Err()
}

// Subscribe invalidates a tenant's pages whenever one of its escalations changes.
func (c *EscalationCache) Subscribe(bus *events.EventBus) {
	for _, t := range []string{
		events.TypeEscalationTriggered,
		events.TypeEscalationDismissed,
		events.TypeEscalationsResolved,
	} {
		bus.Subscribe(t, c.handle)
	}
}

func (c *EscalationCache) handle(ctx context.Context, e events.Event) error {
	if err := c.Invalidate(ctx, e.TenantID); err != nil {
		return fmt.Errorf("invalidate escalations of tenant %s: %w", e.TenantID, err)
	}
	return nil
}

func generationKey(tenantID string) string {
	return fmt.Sprintf("%s:%s:gen", keyPrefix, tenantID)
}

func (c *EscalationCache) pageKey(ctx context.Context, in service.ListEscalationsInput) string {
	gen, err := c.redis.Get(ctx, generationKey(in.Actor.TenantID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn().Err(err).Msg("Escalation cache unavailable")
		return ""
	}
	return fmt.Sprintf("%s:%s:%d:%s:%d:%d", keyPrefix, in.Actor.TenantID, gen, in.Status, in.Page, in.Limit)
}

func (c *EscalationCache) readCache(ctx context.Context, key string, out any) bool {
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *EscalationCache) writeCache(ctx context.Context, key string, val any) {
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}
