// Package sourcestream wraps a source connector's lazy entity generator in
// a bounded in-process buffer so a slow consumer applies backpressure to a
// fast producer, per §4.7. Grounded on the producer/consumer channel shape
// of eve.evalgo.org/worker's Queue, simplified from a named multi-queue
// system to a single bounded channel since a sync run has exactly one
// source feeding exactly one worker pool.
package sourcestream

import (
	"context"
	"fmt"

	"github.com/airweave-ai/airweave-sync/internal/entity"
)

// Generator is the source connector's sole data-producing method: an
// iterator of entities that can fail partway through.
type Generator func(ctx context.Context, emit func(*entity.Entity) error) error

// Stream is a bounded channel of entities backed by a source's Generator.
// The producer goroutine suspends on a full buffer; on generator error the
// stream surfaces it to the consumer and closes.
type Stream struct {
	entities chan *entity.Entity
	errCh    chan error
}

// Open starts the generator in its own goroutine, buffering up to
// bufferSize entities ahead of the slowest consumer.
func Open(ctx context.Context, gen Generator, bufferSize int) *Stream {
	if bufferSize < 1 {
		bufferSize = 1
	}
	s := &Stream{
		entities: make(chan *entity.Entity, bufferSize),
		errCh:    make(chan error, 1),
	}

	go func() {
		defer close(s.entities)

		err := gen(ctx, func(e *entity.Entity) error {
			select {
			case s.entities <- e:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			s.errCh <- fmt.Errorf("sourcestream: generator failed: %w", err)
		}
		close(s.errCh)
	}()

	return s
}

// Entities returns the channel of produced entities, closed when the
// generator finishes or the context is cancelled.
func (s *Stream) Entities() <-chan *entity.Entity { return s.entities }

// Err blocks until the generator goroutine finishes and returns its error,
// if any. Callers read this after draining Entities().
func (s *Stream) Err() error {
	for err := range s.errCh {
		return err
	}
	return nil
}

// BufferSizeFor returns the default buffer size for a pool of maxWorkers
// workers: 2x, per §4.7's "default ~2×worker count".
func BufferSizeFor(maxWorkers, factor int) int {
	if factor < 1 {
		factor = 2
	}
	size := maxWorkers * factor
	if size < 1 {
		size = 1
	}
	return size
}
