package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/creditgate/adapters/redis"
)

func TestNewEventDeduper_Validation(t *testing.T) {
	if _, err := redis.NewEventDeduper(nil, "", time.Minute); err == nil {
		t.Error("expected error for nil client")
	}
}

// Set CREDITGATE_TEST_REDIS_ADDR (e.g. localhost:6379) to run.
func TestEventDeduper_Redis(t *testing.T) {
	addr := os.Getenv("CREDITGATE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CREDITGATE_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	client, err := redis.Connect(ctx, redis.Config{Addr: addr})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	d, err := redis.NewEventDeduper(client, "creditgate-test:"+uuid.NewString()+":", time.Minute)
	if err != nil {
		t.Fatalf("NewEventDeduper: %v", err)
	}

	if err := d.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	seen, err := d.Seen(ctx, "stripe", "evt_1")
	if err != nil || seen {
		t.Fatalf("Seen before Remember = %v, %v", seen, err)
	}
	if err := d.Remember(ctx, "stripe", "evt_1"); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	seen, err = d.Seen(ctx, "stripe", "evt_1")
	if err != nil || !seen {
		t.Errorf("Seen after Remember = %v, %v", seen, err)
	}

	other, err := d.Seen(ctx, "dummy", "evt_1")
	if err != nil || other {
		t.Errorf("Seen for another provider = %v, %v", other, err)
	}

	if err := d.Remember(ctx, "stripe", ""); err != nil {
		t.Fatalf("Remember with empty id: %v", err)
	}
	empty, err := d.Seen(ctx, "stripe", "")
	if err != nil || empty {
		t.Errorf("Seen with empty id = %v, %v; want always processed", empty, err)
	}
}
