// Package progress tracks chunks received per concurrent model call.
package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// startingMax is the initial scale of a counter. The scale doubles whenever
// the position reaches it, so open-ended streams keep a meaningful fraction.
const startingMax = 50

// Snapshot is a point-in-time view of a counter.
type Snapshot struct {
	Name     string
	Position int64
	Max      int64
}

// Fraction returns the position relative to the current scale.
func (s Snapshot) Fraction() float64 {
	if s.Max == 0 {
		return 0
	}
	return float64(s.Position) / float64(s.Max)
}

// Counter counts chunks for one call. A counter is owned by a single task;
// Snapshot may be read from any goroutine.
type Counter struct {
	name string

	mu  sync.Mutex
	pos int64
	max int64
}

// NewCounter returns a counter at zero.
func NewCounter(name string) *Counter {
	return &Counter{name: name, max: startingMax}
}

// Inc records one chunk, doubling the scale when the position reaches it.
func (c *Counter) Inc() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos++
	if c.pos >= c.max {
		c.max *= 2
	}
}

// Reset returns the counter to zero, as when a request is reissued.
func (c *Counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = 0
	c.max = startingMax
}

// Snapshot returns the current state.
func (c *Counter) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{Name: c.name, Position: c.pos, Max: c.max}
}

// Tracker is the handle shared by the tasks of one fan-out. Each task gets its
// own Counter, so tasks never contend with each other.
type Tracker struct {
	mu       sync.Mutex
	counters []*Counter
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Counter registers and returns a new counter.
func (t *Tracker) Counter(name string) *Counter {
	c := NewCounter(name)
	t.mu.Lock()
	t.counters = append(t.counters, c)
	t.mu.Unlock()
	return c
}

// Clear drops all registered counters.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.counters = nil
	t.mu.Unlock()
}

// Snapshots returns the state of every registered counter in registration order.
func (t *Tracker) Snapshots() []Snapshot {
	t.mu.Lock()
	counters := append([]*Counter(nil), t.counters...)
	t.mu.Unlock()

	out := make([]Snapshot, 0, len(counters))
	for _, c := range counters {
		out = append(out, c.Snapshot())
	}
	return out
}

// Report logs the tracker's snapshots every interval until ctx is cancelled.
func (t *Tracker) Report(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range t.Snapshots() {
				logger.Debug("chunks received", "call", s.Name, "chunks", s.Position, "scale", s.Max)
			}
		}
	}
}
