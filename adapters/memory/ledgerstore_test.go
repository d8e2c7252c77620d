package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/artpar/creditgate/adapters/ledgertest"
	"github.com/artpar/creditgate/adapters/memory"
	"github.com/artpar/creditgate/ports"
)

func TestLedgerStore_Conformance(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ports.LedgerStore {
		return memory.NewLedgerStore()
	})
}

func TestEventDeduper(t *testing.T) {
	ctx := context.Background()
	d := memory.NewEventDeduper(time.Hour)

	if seen, err := d.Seen(ctx, "stripe", "evt_1"); err != nil || seen {
		t.Fatalf("Seen before Remember = %v, %v; want false", seen, err)
	}
	if seen, _ := d.Seen(ctx, "stripe", "evt_1"); seen {
		t.Error("checking must not mark an event as handled")
	}

	if err := d.Remember(ctx, "stripe", "evt_1"); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if seen, _ := d.Seen(ctx, "stripe", "evt_1"); !seen {
		t.Error("remembered event should be seen")
	}
	if seen, _ := d.Seen(ctx, "dummy", "evt_1"); seen {
		t.Error("same event id from another provider should not be seen")
	}
}

func TestEventDeduper_Expiry(t *testing.T) {
	ctx := context.Background()
	d := memory.NewEventDeduper(-time.Second)

	if err := d.Remember(ctx, "stripe", "evt_1"); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if seen, _ := d.Seen(ctx, "stripe", "evt_1"); seen {
		t.Error("expired entry should not be seen")
	}
}
