// Package workerpool bounds the number of concurrently active entity
// workers with a semaphore, isolates per-entity failures so one bad entity
// never kills a run, and lets a SyncFailureError or cancellation propagate
// and stop the whole pool. Generalized from eve.evalgo.org/worker's
// Pool/Worker: that package runs named job queues with per-queue worker
// counts; a sync run has exactly one queue (the entity stream) so this
// collapses to one semaphore-bounded fan-out over a channel instead of a
// slice of named workers.
package workerpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/airweave-ai/airweave-sync/internal/entity"
)

// SyncFailureError is a critical interrupt: unlike a per-entity processing
// error, it propagates and fails the whole run.
type SyncFailureError struct {
	Reason string
	Err    error
}

func (e *SyncFailureError) Error() string {
	if e.Err != nil {
		return "sync failure: " + e.Reason + ": " + e.Err.Error()
	}
	return "sync failure: " + e.Reason
}

func (e *SyncFailureError) Unwrap() error { return e.Err }

// EntityProcessor processes one entity end-to-end: enrich, resolve action,
// route through the DAG, persist. Returning a *SyncFailureError stops the
// pool; any other error is recorded as a per-entity failure and processing
// continues with the next entity.
type EntityProcessor interface {
	Process(ctx context.Context, e *entity.Entity) error
}

// Counters is the running tally the pool updates as entities complete. The
// implementation (internal/orchestrator's runCounters) feeds the counts that
// internal/progress publishes.
type Counters interface {
	IncrementSucceeded()
	IncrementFailed(entityID string, err error)
}

// Pool runs up to maxWorkers entity processors concurrently over a stream
// of entities.
type Pool struct {
	maxWorkers  int
	sem         chan struct{}
	gracePeriod time.Duration
}

// New creates a Pool bounded to maxWorkers concurrently active workers.
func New(maxWorkers int) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Pool{maxWorkers: maxWorkers, sem: make(chan struct{}, maxWorkers)}
}

// WithGracePeriod bounds how long Run waits for in-flight workers to drain
// after ctx is cancelled. Zero (the default) waits indefinitely.
func (p *Pool) WithGracePeriod(d time.Duration) *Pool {
	p.gracePeriod = d
	return p
}

// Run drains entities, dispatching each to processor under the pool's
// semaphore. It returns the first *SyncFailureError encountered (or a
// context cancellation error), after waiting for in-flight workers to
// finish. Per-entity errors are reported via counters and never abort the
// run.
func (p *Pool) Run(ctx context.Context, entities <-chan *entity.Entity, processor EntityProcessor, counters Counters) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstCritical error

	recordCritical := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstCritical == nil {
			firstCritical = err
			cancel()
		}
	}

loop:
	for {
		select {
		case e, ok := <-entities:
			if !ok {
				break loop
			}

			select {
			case p.sem <- struct{}{}:
			case <-runCtx.Done():
				break loop
			}

			wg.Add(1)
			go func(e *entity.Entity) {
				defer wg.Done()
				defer func() { <-p.sem }()

				err := processor.Process(runCtx, e)
				if err == nil {
					counters.IncrementSucceeded()
					return
				}

				var syncFailure *SyncFailureError
				if errors.As(err, &syncFailure) {
					recordCritical(err)
					return
				}

				counters.IncrementFailed(e.EntityID, err)
			}(e)

		case <-runCtx.Done():
			break loop
		}
	}

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()

	// Only bound the wait when the run was actually cancelled/critically
	// failed: a clean stream exhaustion should never time out waiting for
	// its own in-flight workers.
	if ctx.Err() != nil && p.gracePeriod > 0 {
		select {
		case <-waitDone:
		case <-time.After(p.gracePeriod):
		}
	} else {
		<-waitDone
	}

	if firstCritical != nil {
		return firstCritical
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}
