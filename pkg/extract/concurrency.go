package extract

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const foregroundPollInterval = 5 * time.Millisecond

// ConcurrencyGate enforces §5's cooperative task-pool model for the
// extraction DAG: per-plugin concurrency caps, a single global GPU
// concurrency cap shared by every GPU-backed node, and a foreground
// ceiling that drops GPU-backed concurrency to zero while the user is
// active. Retries after a plugin timeout are paced through a
// rate.Limiter rather than retried in a tight loop.
type ConcurrencyGate struct {
	mu           sync.Mutex
	pluginSlots  map[string]chan struct{}
	pluginCaps   map[string]int
	gpuSlots     chan struct{}
	gpuPlugins   map[string]bool
	foreground   func() bool // reports whether the user is currently active
	retryLimiter *rate.Limiter
}

// NewConcurrencyGate builds a gate from per-plugin caps, the set of
// plugin IDs that contend for the GPU, the global GPU cap, and a
// foreground-activity probe. foreground may be nil, meaning "never
// foreground-restrict".
func NewConcurrencyGate(pluginCaps map[string]int, gpuPlugins []string, gpuCap int, foreground func() bool) *ConcurrencyGate {
	g := &ConcurrencyGate{
		pluginSlots:  make(map[string]chan struct{}, len(pluginCaps)),
		pluginCaps:   pluginCaps,
		gpuPlugins:   make(map[string]bool, len(gpuPlugins)),
		foreground:   foreground,
		retryLimiter: rate.NewLimiter(rate.Limit(2), 1), // at most 2 retries/sec system-wide, matching the bounded single-retry contract
	}
	if gpuCap > 0 {
		g.gpuSlots = make(chan struct{}, gpuCap)
	}
	for _, id := range gpuPlugins {
		g.gpuPlugins[id] = true
	}
	for id, n := range pluginCaps {
		if n > 0 {
			g.pluginSlots[id] = make(chan struct{}, n)
		}
	}
	return g
}

// Acquire blocks until pluginID may run: its own per-plugin slot, and
// (if it contends for the GPU) a GPU slot — withheld entirely while
// the foreground ceiling reports the user active (§5: "foreground
// ceiling (default 0 heavy workers while user is active)"). Returns a
// release func and an error if ctx is cancelled first.
func (g *ConcurrencyGate) Acquire(ctx context.Context, pluginID string) (release func(), err error) {
	var releasers []func()

	if slot, ok := g.pluginSlots[pluginID]; ok {
		select {
		case slot <- struct{}{}:
			releasers = append(releasers, func() { <-slot })
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if g.gpuPlugins[pluginID] && g.gpuSlots != nil {
		if g.foreground != nil {
			ticker := time.NewTicker(foregroundPollInterval)
			for g.foreground() {
				select {
				case <-ctx.Done():
					ticker.Stop()
					releaseAll(releasers)
					return nil, ctx.Err()
				case <-ticker.C:
				}
			}
			ticker.Stop()
		}
		select {
		case g.gpuSlots <- struct{}{}:
			releasers = append(releasers, func() { <-g.gpuSlots })
		case <-ctx.Done():
			releaseAll(releasers)
			return nil, ctx.Err()
		}
	}

	return func() { releaseAll(releasers) }, nil
}

// WaitRetry paces a post-timeout retry attempt against the shared
// backoff limiter, returning early if ctx is cancelled.
func (g *ConcurrencyGate) WaitRetry(ctx context.Context) error {
	return g.retryLimiter.Wait(ctx)
}

func releaseAll(releasers []func()) {
	for i := len(releasers) - 1; i >= 0; i-- {
		releasers[i]()
	}
}
