package sourcestream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/airweave-ai/airweave-sync/internal/entity"
)

func TestStreamDeliversEntitiesInOrder(t *testing.T) {
	gen := func(ctx context.Context, emit func(*entity.Entity) error) error {
		for i := 0; i < 5; i++ {
			if err := emit(&entity.Entity{EntityID: string(rune('a' + i))}); err != nil {
				return err
			}
		}
		return nil
	}

	s := Open(context.Background(), gen, 2)

	var got []string
	for e := range s.Entities() {
		got = append(got, e.EntityID)
	}
	if err := s.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"a", "b", "c", "d", "e"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch at %d: got %v want %v", i, got, want)
		}
	}
}

func TestStreamSurfacesGeneratorError(t *testing.T) {
	boom := errors.New("source exploded")
	gen := func(ctx context.Context, emit func(*entity.Entity) error) error {
		emit(&entity.Entity{EntityID: "first"})
		return boom
	}

	s := Open(context.Background(), gen, 1)
	for range s.Entities() {
	}

	if err := s.Err(); err == nil {
		t.Fatalf("expected generator error to surface")
	}
}

func TestStreamRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := func(ctx context.Context, emit func(*entity.Entity) error) error {
		for i := 0; i < 1000; i++ {
			if err := emit(&entity.Entity{EntityID: "x"}); err != nil {
				return err
			}
		}
		return nil
	}

	s := Open(ctx, gen, 1)
	<-s.Entities()
	cancel()

	done := make(chan struct{})
	go func() {
		for range s.Entities() {
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not close promptly after cancellation")
	}
}

func TestBufferSizeForDefaultsToDoubleWorkers(t *testing.T) {
	if got := BufferSizeFor(20, 0); got != 40 {
		t.Fatalf("expected default factor of 2, got %d", got)
	}
	if got := BufferSizeFor(5, 3); got != 15 {
		t.Fatalf("got %d", got)
	}
}
