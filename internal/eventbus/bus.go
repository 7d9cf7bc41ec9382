package eventbus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/lineageq/internal/domain"
)

// DefaultBuffer is the per-subscriber channel capacity
const DefaultBuffer = 64

// Options configures a Bus
type Options struct {
	// Buffer is the capacity of each subscriber channel
	Buffer int
	// Origin stamps notifications published from this process
	Origin string
	Logger *slog.Logger
}

// Subscription is one live listener on the bus
type Subscription struct {
	ID string
	ch chan domain.Notification
}

// C returns the delivery channel. It is closed on Unsubscribe.
func (s *Subscription) C() <-chan domain.Notification {
	return s.ch
}

// Bus fans notifications out to every currently registered subscriber.
// Delivery is best-effort: a subscriber whose buffer is full misses the notification.
type Bus struct {
	mu     sync.Mutex
	subs   map[string]chan domain.Notification
	buffer int
	origin string
	logger *slog.Logger
}

// New creates an empty bus
func New(opts Options) *Bus {
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	origin := opts.Origin
	if origin == "" {
		origin = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Bus{
		subs:   make(map[string]chan domain.Notification),
		buffer: buffer,
		origin: origin,
		logger: logger,
	}
}

// Origin identifies this process on notifications it publishes
func (b *Bus) Origin() string {
	return b.origin
}

// Subscribe registers a new listener. It sees only notifications published after it returns.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		ID: uuid.NewString(),
		ch: make(chan domain.Notification, b.buffer),
	}

	b.mu.Lock()
	b.subs[sub.ID] = sub.ch
	b.mu.Unlock()

	b.logger.Debug("Subscriber registered", slog.String("subscriber_id", sub.ID))
	return sub
}

// Unsubscribe removes the listener and closes its channel. Safe to call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	ch, ok := b.subs[sub.ID]
	if ok {
		delete(b.subs, sub.ID)
		close(ch)
	}
	b.mu.Unlock()

	if ok {
		b.logger.Debug("Subscriber removed", slog.String("subscriber_id", sub.ID))
	}
}

// Publish stamps a local notification with this bus's origin and delivers it
func (b *Bus) Publish(n domain.Notification) {
	n.Origin = b.origin
	b.Deliver(n)
}

// Deliver hands n to every subscriber without blocking, keeping its origin.
// All subscribers observe deliveries in the same order.
func (b *Bus) Deliver(n domain.Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- n:
		default:
			b.logger.Warn("Subscriber buffer full, dropping notification",
				slog.String("subscriber_id", id),
				slog.String("type", n.Type),
				slog.Int64("job_id", n.JobID),
			)
		}
	}
}

// Len reports the number of active subscribers
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
