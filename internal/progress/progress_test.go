package progress

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestDisabledPublisherNeverErrors(t *testing.T) {
	p, err := NewPublisher("", "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	if err := p.Connected(ctx); err != nil {
		t.Fatalf("Connected on disabled publisher must be a no-op: %v", err)
	}
	if err := p.Progress(ctx, Counts{Inserted: 1}); err != nil {
		t.Fatalf("Progress on disabled publisher must be a no-op: %v", err)
	}
	if err := p.Heartbeat(ctx, Counts{}); err != nil {
		t.Fatalf("Heartbeat on disabled publisher must be a no-op: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close on disabled publisher must be a no-op: %v", err)
	}
}

func TestInvalidRedisURLErrors(t *testing.T) {
	if _, err := NewPublisher("::not-a-url::", "job-1"); err == nil {
		t.Fatalf("expected an error for a malformed redis url")
	}
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	srv := miniredis.RunT(t)
	redisURL := "redis://" + srv.Addr()

	pub, err := NewPublisher(redisURL, "job-1")
	if err != nil {
		t.Fatalf("unexpected error creating publisher: %v", err)
	}
	defer pub.Close()

	sub, err := NewSubscriber(redisURL)
	if err != nil {
		t.Fatalf("unexpected error creating subscriber: %v", err)
	}
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := sub.Subscribe(ctx, "job-1")
	if err != nil {
		t.Fatalf("unexpected error subscribing: %v", err)
	}

	// give the subscription goroutine a moment to register before publishing.
	time.Sleep(50 * time.Millisecond)

	if err := pub.Progress(ctx, Counts{Inserted: 3, Updated: 1}); err != nil {
		t.Fatalf("unexpected error publishing: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Type != EventProgress {
			t.Fatalf("expected event type %q, got %q", EventProgress, ev.Type)
		}
		if ev.Counts.Inserted != 3 || ev.Counts.Updated != 1 {
			t.Fatalf("unexpected counts: %+v", ev.Counts)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published event")
	}
}
