// Package redis provides Redis-backed helpers shared across instances.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/artpar/creditgate/ports"
)

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Connect creates a client and verifies the server is reachable.
func Connect(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// EventDeduper records handled webhook deliveries, so a delivery replayed
// to any instance is skipped until the key expires.
type EventDeduper struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewEventDeduper creates a deduper. Keys are "<prefix><provider>:<event id>".
func NewEventDeduper(client goredis.UniversalClient, prefix string, ttl time.Duration) (*EventDeduper, error) {
	if client == nil {
		return nil, errors.New("redis client not configured")
	}
	if ttl <= 0 {
		return nil, errors.New("dedup ttl must be positive")
	}
	if prefix == "" {
		prefix = "creditgate:webhook:"
	}
	return &EventDeduper{client: client, prefix: prefix, ttl: ttl}, nil
}

// Seen reports whether eventID was already handled.
func (d *EventDeduper) Seen(ctx context.Context, provider, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}
	n, err := d.client.Exists(ctx, d.key(provider, eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("check webhook event: %w", err)
	}
	return n > 0, nil
}

// Remember records eventID as handled for the configured ttl.
func (d *EventDeduper) Remember(ctx context.Context, provider, eventID string) error {
	if eventID == "" {
		return nil
	}
	err := d.client.Set(ctx, d.key(provider, eventID), time.Now().UTC().Format(time.RFC3339), d.ttl).Err()
	if err != nil {
		return fmt.Errorf("remember webhook event: %w", err)
	}
	return nil
}

// Ping checks the redis connection.
func (d *EventDeduper) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

func (d *EventDeduper) key(provider, eventID string) string {
	return d.prefix + provider + ":" + eventID
}

// Ensure interface compliance.
var _ ports.EventDeduper = (*EventDeduper)(nil)
