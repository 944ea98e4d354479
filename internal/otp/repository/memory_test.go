package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestMemoryStore_SaveGetDelete(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStoreWithClock(clock.Now)
	ctx := context.Background()

	if err := store.Save(ctx, testChallenge("t"), time.Minute, 0); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Get(ctx, "t")
	if err != nil || got == nil {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if got.CodeHash != "hash" {
		t.Errorf("CodeHash = %q", got.CodeHash)
	}

	got.CodeHash = "mutated"
	again, _ := store.Get(ctx, "t")
	if again.CodeHash != "hash" {
		t.Error("Get should return a copy")
	}

	if err := store.Delete(ctx, "t"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := store.Get(ctx, "t"); got != nil {
		t.Error("challenge should be gone after Delete")
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStoreWithClock(clock.Now)
	ctx := context.Background()
	_ = store.Save(ctx, testChallenge("t"), time.Minute, 0)

	clock.Advance(59 * time.Second)
	if got, _ := store.Get(ctx, "t"); got == nil {
		t.Fatal("challenge should still be live")
	}
	clock.Advance(time.Second)
	if got, _ := store.Get(ctx, "t"); got != nil {
		t.Error("challenge should expire at ttl")
	}
}

func TestMemoryStore_CooldownAndAttempts(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStoreWithClock(clock.Now)
	ctx := context.Background()
	_ = store.Save(ctx, testChallenge("t"), 10*time.Minute, time.Minute)

	in, remaining, _ := store.InCooldown(ctx, "t")
	if !in || remaining != time.Minute {
		t.Errorf("InCooldown = %v, %v", in, remaining)
	}
	for want := 1; want <= 2; want++ {
		if n, _ := store.IncrementAttempts(ctx, "t"); n != want {
			t.Errorf("attempts = %d, want %d", n, want)
		}
	}

	clock.Advance(time.Minute)
	if in, _, _ := store.InCooldown(ctx, "t"); in {
		t.Error("cooldown should be over")
	}
	_ = store.Save(ctx, testChallenge("t"), 10*time.Minute, 0)
	if n, _ := store.IncrementAttempts(ctx, "t"); n != 1 {
		t.Errorf("attempts after re-save = %d, want 1", n)
	}
}

func TestMemoryStore_ConsumeOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Save(ctx, testChallenge("t"), time.Minute, 0); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if ok, _ := store.Consume(ctx, "t", "other"); ok {
		t.Fatal("Consume with a different hash should fail")
	}

	const callers = 8
	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Consume(ctx, "t", "hash")
			if err != nil {
				t.Errorf("Consume: %v", err)
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Errorf("Consume succeeded %d times, want 1", wins.Load())
	}
	if got, _ := store.Get(ctx, "t"); got != nil {
		t.Error("challenge should be gone after Consume")
	}
}
