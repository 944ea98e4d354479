package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestChecker_NoDependencies(t *testing.T) {
	r := NewChecker(nil, 0).Check(context.Background())
	if !r.Serving() {
		t.Errorf("status = %q, want %q", r.Status, StatusServing)
	}
}

func TestChecker_AllHealthy(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	c := NewChecker(map[string]Pinger{"postgres": ok, "redis": ok}, time.Second)
	r := c.Check(context.Background())
	if !r.Serving() {
		t.Fatalf("status = %q", r.Status)
	}
	if r.Checks["postgres"] != "ok" || r.Checks["redis"] != "ok" {
		t.Errorf("checks = %v", r.Checks)
	}
}

func TestChecker_OneFailing(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	bad := PingFunc(func(context.Context) error { return errors.New("connection refused") })
	c := NewChecker(map[string]Pinger{"postgres": ok, "redis": bad}, time.Second)
	r := c.Check(context.Background())
	if r.Serving() {
		t.Fatal("expected NOT_SERVING")
	}
	if r.Checks["redis"] != "connection refused" {
		t.Errorf("redis check = %q", r.Checks["redis"])
	}
}

func TestChecker_TimeoutApplied(t *testing.T) {
	slow := PingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	c := NewChecker(map[string]Pinger{"slow": slow}, 20*time.Millisecond)
	start := time.Now()
	r := c.Check(context.Background())
	if r.Serving() {
		t.Fatal("expected NOT_SERVING")
	}
	if time.Since(start) > time.Second {
		t.Error("check did not honor timeout")
	}
}

func TestChecker_SkipsNilAndSortsNames(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	c := NewChecker(map[string]Pinger{"redis": ok, "postgres": ok, "none": nil}, 0)
	names := c.Names()
	if len(names) != 2 || names[0] != "postgres" || names[1] != "redis" {
		t.Errorf("Names = %v", names)
	}
}
