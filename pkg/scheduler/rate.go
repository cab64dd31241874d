package scheduler

import (
	"sync"
	"time"
)

// RollingCounter tracks event counts over a sliding window, used for
// the 15-minute processed/ingested rate metrics of §4.4. It keeps one
// bucket per minute and discards buckets older than the window.
type RollingCounter struct {
	mu      sync.Mutex
	window  time.Duration
	buckets map[int64]int64 // unix-minute -> count
	clock   func() time.Time
}

// NewRollingCounter creates a counter over window, bucketed per minute.
func NewRollingCounter(window time.Duration) *RollingCounter {
	return &RollingCounter{
		window:  window,
		buckets: make(map[int64]int64),
		clock:   time.Now,
	}
}

func (c *RollingCounter) minute(t time.Time) int64 { return t.Unix() / 60 }

// Add records n events at the current time.
func (c *RollingCounter) Add(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buckets[c.minute(c.clock())] += n
	c.evictLocked()
}

func (c *RollingCounter) evictLocked() {
	cutoff := c.minute(c.clock()) - int64(c.window/time.Minute)
	for k := range c.buckets {
		if k < cutoff {
			delete(c.buckets, k)
		}
	}
}

// PerHour returns the observed rate, extrapolated to events/hour from
// the current window's total.
func (c *RollingCounter) PerHour() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked()
	var total int64
	for _, v := range c.buckets {
		total += v
	}
	windowHours := c.window.Hours()
	if windowHours == 0 {
		return 0
	}
	return float64(total) / windowHours
}
