// Package relay bridges event buses of separate processes over a RabbitMQ fanout exchange.
// Each process forwards what it published locally and replays what other processes published.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/lineageq/internal/domain"
	"github.com/cuongbtq/lineageq/internal/eventbus"
)

const publishTimeout = 5 * time.Second

// Broker sends encoded notifications to the exchange
type Broker interface {
	PublishJSON(ctx context.Context, v any) error
}

// Source delivers notifications published by any process
type Source interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds relay configuration
type Config struct {
	Logger *slog.Logger
	Bus    *eventbus.Bus
	Broker Broker
	Source Source
	// OnJobQueued is called for job-queued notifications from other processes
	OnJobQueued func()
}

// Relay forwards local notifications out and remote notifications in
type Relay struct {
	logger      *slog.Logger
	bus         *eventbus.Bus
	broker      Broker
	source      Source
	onJobQueued func()
	sub         *eventbus.Subscription
	wg          sync.WaitGroup
}

// New creates a relay. Either Broker or Source may be nil to run one direction only.
func New(cfg *Config) *Relay {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		logger:      logger,
		bus:         cfg.Bus,
		broker:      cfg.Broker,
		source:      cfg.Source,
		onJobQueued: cfg.OnJobQueued,
	}
}

// Start launches the forwarding goroutines. They stop when ctx is done or on Stop.
func (r *Relay) Start(ctx context.Context) error {
	if r.broker != nil {
		r.sub = r.bus.Subscribe()
		r.wg.Add(1)
		go r.forward(ctx, r.sub)
	}

	if r.source != nil {
		deliveries, err := r.source.Consume("lineageq-" + r.bus.Origin())
		if err != nil {
			if r.sub != nil {
				r.bus.Unsubscribe(r.sub)
			}
			return err
		}
		r.wg.Add(1)
		go r.receive(ctx, deliveries)
	}

	r.logger.Info("Notification relay started",
		slog.String("origin", r.bus.Origin()),
		slog.Bool("outbound", r.broker != nil),
		slog.Bool("inbound", r.source != nil),
	)
	return nil
}

// Stop ends outbound forwarding and waits for both directions to finish.
// The inbound side finishes when ctx is done or the delivery channel closes.
func (r *Relay) Stop() {
	if r.sub != nil {
		r.bus.Unsubscribe(r.sub)
	}
	r.wg.Wait()
	r.logger.Info("Notification relay stopped")
}

func (r *Relay) forward(ctx context.Context, sub *eventbus.Subscription) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-sub.C():
			if !ok {
				return
			}
			if n.Origin != r.bus.Origin() {
				continue
			}

			pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
			err := r.broker.PublishJSON(pubCtx, n)
			cancel()
			if err != nil {
				r.logger.Warn("Failed to relay notification",
					slog.String("type", n.Type),
					slog.Int64("job_id", n.JobID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (r *Relay) receive(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				r.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			var n domain.Notification
			if err := json.Unmarshal(delivery.Body, &n); err != nil {
				r.logger.Error("Failed to parse relayed notification",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				continue
			}

			if n.Origin == "" || n.Origin == r.bus.Origin() {
				continue
			}

			r.bus.Deliver(n)

			if n.Type == domain.NotificationJob && n.Status == domain.JobStatusQueued && r.onJobQueued != nil {
				r.onJobQueued()
			}
		}
	}
}
