// Package health reports liveness and dependency readiness.
package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Pinger is a dependency that can be pinged. *sqlx.DB satisfies it directly.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// Status values.
const (
	StatusServing    = "SERVING"
	StatusNotServing = "NOT_SERVING"
)

// Report is the result of a readiness check.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Serving reports whether every dependency answered.
func (r Report) Serving() bool { return r.Status == StatusServing }

// Checker pings a fixed set of named dependencies.
type Checker struct {
	deps    map[string]Pinger
	timeout time.Duration
}

// NewChecker returns a Checker. A non-positive timeout defaults to 2s.
func NewChecker(deps map[string]Pinger, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	cp := make(map[string]Pinger, len(deps))
	for name, p := range deps {
		if p != nil {
			cp[name] = p
		}
	}
	return &Checker{deps: cp, timeout: timeout}
}

// Names returns the checked dependency names in sorted order.
func (c *Checker) Names() []string {
	names := make([]string, 0, len(c.deps))
	for name := range c.deps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check pings all dependencies concurrently. With no dependencies it is always serving.
func (c *Checker) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]string, len(c.deps))
		status = StatusServing
	)
	for name, p := range c.deps {
		wg.Add(1)
		go func(name string, p Pinger) {
			defer wg.Done()
			err := p.PingContext(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[name] = err.Error()
				status = StatusNotServing
				return
			}
			checks[name] = "ok"
		}(name, p)
	}
	wg.Wait()
	return Report{Status: status, Checks: checks}
}
