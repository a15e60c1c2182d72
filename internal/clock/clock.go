// Package clock abstracts the wall clock so session deadlines can be
// tested deterministically. Production code uses Real(); tests use Fake().
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is the subset of the time package the client depends on.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f once d has elapsed. The returned Timer cancels it.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop reports whether the call was prevented from running.
	Stop() bool
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// FakeClock only moves when Advance or Set is called. Due callbacks run
// synchronously in the goroutine that moved the clock, in deadline order.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeTimer
}

type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	f        func()
	done     bool
}

// Fake returns a FakeClock frozen at start.
func Fake(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc runs f synchronously when d <= 0.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{clock: c, f: f}
	if d <= 0 {
		t.done = true
		f()
		return t
	}
	c.mu.Lock()
	t.deadline = c.now.Add(d)
	c.pending = append(c.pending, t)
	c.mu.Unlock()
	return t
}

// Advance moves the clock forward by d and fires every callback now due.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	c.Set(target)
}

// Set moves the clock to t. Moving backwards never fires callbacks.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	var due, keep []*fakeTimer
	for _, p := range c.pending {
		switch {
		case p.done:
		case !p.deadline.After(t):
			p.done = true
			due = append(due, p)
		default:
			keep = append(keep, p)
		}
	}
	c.pending = keep
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	for _, p := range due {
		p.f()
	}
}

// Pending reports how many callbacks are still scheduled.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range c.pending {
		if !p.done {
			n++
		}
	}
	return n
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}
