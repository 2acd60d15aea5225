// Package completionqueue fans sync-job-completed events out to external
// workflow engines, a documented external collaborator of the sync runtime
// (§1) rather than a core module. Grounded on queue/rabbit.go's
// RabbitMQService: same AMQPDialer dependency-injection seam, same durable
// queue declaration and JSON-publish shape, retargeted from
// eve.FlowProcessMessage to CompletionEvent.
package completionqueue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/streadway/amqp"
)

// Config names the RabbitMQ server and the durable queue completed sync
// jobs are published to.
type Config struct {
	URL       string
	QueueName string
}

// CompletionEvent is the message body published for every terminal
// SyncJob, successful or not.
type CompletionEvent struct {
	SyncID     string    `json:"sync_id"`
	SyncJobID  string    `json:"sync_job_id"`
	Status     string    `json:"status"`
	Inserted   int       `json:"inserted"`
	Updated    int       `json:"updated"`
	Kept       int       `json:"kept"`
	Deleted    int       `json:"deleted"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Publisher defines the interface for publishing completion events. Allows
// the orchestrator to depend on an interface rather than a concrete queue
// client.
type Publisher interface {
	PublishCompletion(event CompletionEvent) error
	Close() error
}

// AMQPConnection and AMQPChannel mirror the AMQP library's surface narrowly
// enough to inject a fake in tests without dialing a real broker.
type AMQPConnection interface {
	Channel() (AMQPChannel, error)
	Close() error
}

type AMQPChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Dialer allows injecting a custom connector for testing.
type Dialer interface {
	Dial(url string) (AMQPConnection, error)
}

type realConnection struct{ conn *amqp.Connection }

func (r *realConnection) Channel() (AMQPChannel, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, err
	}
	return &realChannel{ch: ch}, nil
}

func (r *realConnection) Close() error { return r.conn.Close() }

type realChannel struct{ ch *amqp.Channel }

func (r *realChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	return r.ch.QueueDeclare(name, durable, autoDelete, exclusive, noWait, args)
}

func (r *realChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return r.ch.Publish(exchange, key, mandatory, immediate, msg)
}

func (r *realChannel) Close() error { return r.ch.Close() }

// RealDialer dials a live RabbitMQ broker.
type RealDialer struct{}

func (RealDialer) Dial(url string) (AMQPConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &realConnection{conn: conn}, nil
}

// Service publishes CompletionEvents to a durable queue.
type Service struct {
	connection AMQPConnection
	channel    AMQPChannel
	config     Config
}

// New connects to RabbitMQ with the real dialer.
func New(config Config) (*Service, error) {
	return NewWithDialer(config, RealDialer{})
}

// NewWithDialer connects using an injected Dialer, for testing.
func NewWithDialer(config Config, dialer Dialer) (*Service, error) {
	conn, err := dialer.Dial(config.URL)
	if err != nil {
		return nil, fmt.Errorf("completionqueue: connecting: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("completionqueue: opening channel: %w", err)
	}

	_, err = ch.QueueDeclare(config.QueueName, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("completionqueue: declaring queue %s: %w", config.QueueName, err)
	}

	return &Service{connection: conn, channel: ch, config: config}, nil
}

// PublishCompletion marshals and publishes one terminal sync job event.
func (s *Service) PublishCompletion(event CompletionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("completionqueue: marshaling event: %w", err)
	}

	err = s.channel.Publish("", s.config.QueueName, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("completionqueue: publishing event for sync job %s: %w", event.SyncJobID, err)
	}
	return nil
}

func (s *Service) Close() error {
	if s.channel != nil {
		s.channel.Close()
	}
	if s.connection != nil {
		s.connection.Close()
	}
	return nil
}

var _ Publisher = (*Service)(nil)
