package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/airweave-ai/airweave-sync/internal/entity"
)

type fakeCounters struct {
	succeeded int32
	failed    int32
	failedIDs []string
	mu        sync.Mutex
}

func (c *fakeCounters) IncrementSucceeded() { atomic.AddInt32(&c.succeeded, 1) }
func (c *fakeCounters) IncrementFailed(entityID string, err error) {
	atomic.AddInt32(&c.failed, 1)
	c.mu.Lock()
	c.failedIDs = append(c.failedIDs, entityID)
	c.mu.Unlock()
}

type funcProcessor struct {
	fn func(ctx context.Context, e *entity.Entity) error
}

func (f *funcProcessor) Process(ctx context.Context, e *entity.Entity) error { return f.fn(ctx, e) }

func makeStream(ids ...string) chan *entity.Entity {
	ch := make(chan *entity.Entity, len(ids))
	for _, id := range ids {
		ch <- &entity.Entity{EntityID: id}
	}
	close(ch)
	return ch
}

func TestPoolProcessesAllEntitiesSuccessfully(t *testing.T) {
	pool := New(4)
	counters := &fakeCounters{}
	proc := &funcProcessor{fn: func(ctx context.Context, e *entity.Entity) error { return nil }}

	err := pool.Run(context.Background(), makeStream("a", "b", "c"), proc, counters)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counters.succeeded != 3 {
		t.Fatalf("expected 3 successes, got %d", counters.succeeded)
	}
}

func TestPerEntityFailureDoesNotAbortRun(t *testing.T) {
	pool := New(2)
	counters := &fakeCounters{}
	proc := &funcProcessor{fn: func(ctx context.Context, e *entity.Entity) error {
		if e.EntityID == "bad" {
			return errors.New("parse failure")
		}
		return nil
	}}

	err := pool.Run(context.Background(), makeStream("a", "bad", "c"), proc, counters)
	if err != nil {
		t.Fatalf("per-entity failure must not abort the run: %v", err)
	}
	if counters.succeeded != 2 || counters.failed != 1 {
		t.Fatalf("expected 2 successes and 1 failure, got %d/%d", counters.succeeded, counters.failed)
	}
}

func TestSyncFailureErrorAbortsRun(t *testing.T) {
	pool := New(2)
	counters := &fakeCounters{}
	proc := &funcProcessor{fn: func(ctx context.Context, e *entity.Entity) error {
		if e.EntityID == "critical" {
			return &SyncFailureError{Reason: "db unreachable"}
		}
		return nil
	}}

	err := pool.Run(context.Background(), makeStream("critical", "a", "b", "c", "d"), proc, counters)
	if err == nil {
		t.Fatalf("expected a SyncFailureError to abort the run")
	}
	var sfe *SyncFailureError
	if !errors.As(err, &sfe) {
		t.Fatalf("expected *SyncFailureError, got %T", err)
	}
}

func TestSemaphoreBoundsConcurrency(t *testing.T) {
	pool := New(3)
	counters := &fakeCounters{}

	var active int32
	var maxSeen int32
	proc := &funcProcessor{fn: func(ctx context.Context, e *entity.Entity) error {
		n := atomic.AddInt32(&active, 1)
		for {
			m := atomic.LoadInt32(&maxSeen)
			if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return nil
	}}

	ids := make([]string, 30)
	for i := range ids {
		ids[i] = "e"
	}
	if err := pool.Run(context.Background(), makeStream(ids...), proc, counters); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if maxSeen > 3 {
		t.Fatalf("expected at most 3 concurrent workers, saw %d", maxSeen)
	}
}
