package redis

import (
	"fmt"
	"testing"
	"time"
)

func TestReserveDistinctPhoneLimit(t *testing.T) {
	ledger := NewSignupLedger(testRedisClient(t), 4, 24*time.Hour)
	addr := "203.0.113.7"

	for i := 0; i < 4; i++ {
		allowed, err := ledger.Reserve(addr, fmt.Sprintf("987654321%d", i), storeT0)
		if err != nil {
			t.Fatalf("Reserve #%d: %v", i+1, err)
		}
		if !allowed {
			t.Fatalf("Reserve #%d denied under the cap", i+1)
		}
	}

	// A phone already in the window never consumes a slot.
	allowed, err := ledger.Reserve(addr, "9876543210", storeT0.Add(time.Hour))
	if err != nil {
		t.Fatalf("Reserve repeat: %v", err)
	}
	if !allowed {
		t.Error("re-request for a known phone denied")
	}

	allowed, err = ledger.Reserve(addr, "9876543219", storeT0.Add(time.Hour))
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if allowed {
		t.Error("fifth distinct phone admitted")
	}

	// Another address keeps its own ledger.
	if allowed, _ := ledger.Reserve("198.51.100.9", "9876543219", storeT0.Add(time.Hour)); !allowed {
		t.Error("other address denied")
	}
}
