package scheduler

import (
	"context"
	"time"
)

// BacklogSource reports the extraction backlog so the scheduler can
// compute §4.4's projected-catchup metric without owning storage
// itself.
type BacklogSource interface {
	// OldestUnprocessedAge returns the age of the oldest unprocessed
	// artifact as of now.
	OldestUnprocessedAge(ctx context.Context, now time.Time) (time.Duration, error)
	// BacklogSize returns the count of unprocessed artifacts.
	BacklogSize(ctx context.Context) (int64, error)
}

// FreeBytesSource reports available destination-disk bytes for the
// storage-pressure state machine.
type FreeBytesSource func() (int64, error)

// Scheduler runs the Idle Gate tick loop (§4.4), owning the processed/
// ingested rate counters and the storage-pressure thresholds.
type Scheduler struct {
	gate             Gate
	activitySignalPath string
	backlog          BacklogSource
	freeBytes        FreeBytesSource
	thresholds       PressureThresholds
	processed        RateCounter
	ingested         RateCounter
	inst             *instrumentation
	clock            func() time.Time
	tickInterval     time.Duration
}

// New builds a Scheduler. processed/ingested default to in-process
// RollingCounters if nil.
func New(activitySignalPath string, backlog BacklogSource, freeBytes FreeBytesSource, thresholds PressureThresholds, processed, ingested RateCounter) *Scheduler {
	if processed == nil {
		processed = NewRollingCounter(15 * time.Minute)
	}
	if ingested == nil {
		ingested = NewRollingCounter(15 * time.Minute)
	}
	inst, _ := newInstrumentation() // best-effort; nil instrumentation is a no-op
	return &Scheduler{
		activitySignalPath: activitySignalPath,
		backlog:            backlog,
		freeBytes:          freeBytes,
		thresholds:         thresholds,
		processed:          processed,
		ingested:           ingested,
		inst:               inst,
		clock:              time.Now,
		tickInterval:       defaultTickInterval,
	}
}

// RecordProcessed registers n items as processed this tick, feeding the
// processed_items_per_hour metric.
func (s *Scheduler) RecordProcessed(n int64) { s.processed.Add(n) }

// RecordIngested registers n items as ingested this tick.
func (s *Scheduler) RecordIngested(n int64) { s.ingested.Add(n) }

// Tick evaluates one admission decision. Callers loop this on
// s.TickInterval() (batch run's idle-gated poll loop).
func (s *Scheduler) Tick(ctx context.Context) (Decision, error) {
	now := s.clock()
	sig := ReadActivitySignal(s.activitySignalPath, now)

	oldestAge, err := s.backlog.OldestUnprocessedAge(ctx, now)
	if err != nil {
		return Decision{}, err
	}
	backlogSize, err := s.backlog.BacklogSize(ctx)
	if err != nil {
		return Decision{}, err
	}

	free, err := s.freeBytes()
	if err != nil {
		return Decision{}, err
	}
	pressure := ClassifyPressure(free, s.thresholds)

	d := s.gate.Evaluate(sig, oldestAge.Hours(), backlogSize, s.processed.PerHour(), s.ingested.PerHour(), pressure)
	s.inst.record(ctx, d)
	return d, nil
}

// TickInterval reports the configured poll cadence.
func (s *Scheduler) TickInterval() time.Duration { return s.tickInterval }

// WithTickInterval overrides the poll cadence (testing hook).
func (s *Scheduler) WithTickInterval(d time.Duration) *Scheduler {
	s.tickInterval = d
	return s
}
