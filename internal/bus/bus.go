// Package bus implements the unified message bus: in-process publish/subscribe
// with topic-pattern matching, per-sender ordering and per-subscriber fault
// isolation.
//
// Delivery is asynchronous. Each subscription owns an ordered queue filled
// under the publish lock, a dedicated watermill GoChannel pipe and a single
// forwarder goroutine moving envelopes from the queue into the pipe, so a
// slow or failing handler never stalls delivery to anyone else and every
// subscriber observes one sender's envelopes in publish order. Delivery is
// at-most-once: handler errors are logged and the envelope is not
// redelivered, and a subscriber that falls further behind than its queue
// depth has envelopes dropped.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"github.com/nfrund/modlink/internal/envelope"
	"github.com/nfrund/modlink/internal/topics"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

// Handler processes a delivered envelope. A non-nil error is logged by the
// bus and never propagated to the publisher or to other handlers.
type Handler func(ctx context.Context, env envelope.Envelope) error

// Config holds bus tuning knobs.
type Config struct {
	// BufferSize is the per-subscription queue depth. A subscriber with more
	// than this many undelivered envelopes starts dropping. Defaults to 64.
	BufferSize int
}

// Handle identifies a subscription for later removal.
type Handle struct {
	id      string
	pattern string
	module  string
}

// Pattern returns the topic pattern the handle subscribes to.
func (h Handle) Pattern() string { return h.pattern }

// Module returns the owning module id.
func (h Handle) Module() string { return h.module }

type subKey struct {
	pattern string
	module  string
}

type subscription struct {
	id      string
	key     subKey
	cancel  context.CancelFunc
	queue   chan *message.Message
	dropped atomic.Int64
}

// Bus is the unified message bus. All methods are safe for concurrent use.
type Bus struct {
	pub    message.Publisher
	sub    message.Subscriber
	seq    *envelope.Sequencer
	buffer int

	mu     sync.Mutex
	subs   map[subKey]*subscription
	order  []subKey
	closed bool
}

const deliveryTopicPrefix = "modlink.deliver."

// New creates a bus backed by an in-memory watermill GoChannel.
func New(cfg Config) *Bus {
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = 64
	}

	logger := watermill.NewStdLogger(false, false)
	// Buffering happens in the per-subscription queues; the pipe carries one
	// envelope at a time and the forwarder waits for its ack, which is what
	// keeps per-sender delivery order intact.
	goChannel := gochannel.NewGoChannel(
		gochannel.Config{BlockPublishUntilSubscriberAck: true},
		logger,
	)

	return &Bus{
		pub:    goChannel,
		sub:    goChannel,
		seq:    envelope.NewSequencer(),
		buffer: buffer,
		subs:   make(map[subKey]*subscription),
	}
}

// Subscribe registers a handler for every envelope whose topic matches the
// pattern. A module holds at most one subscription per exact pattern:
// re-subscribing replaces the previous handler instead of duplicating it.
func (b *Bus) Subscribe(pattern, moduleID string, handler Handler) (Handle, error) {
	if handler == nil {
		return Handle{}, errors.New("bus: nil handler")
	}
	if moduleID == "" {
		return Handle{}, errors.New("bus: empty module id")
	}
	if err := topics.ValidatePattern(pattern); err != nil {
		return Handle{}, fmt.Errorf("bus: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return Handle{}, ErrClosed
	}

	key := subKey{pattern: pattern, module: moduleID}
	if old, ok := b.subs[key]; ok {
		// Replace semantics: tear down the previous pipe first.
		old.cancel()
		delete(b.subs, key)
		b.removeFromOrder(key)
	}

	id := uuid.NewString()
	subCtx, cancel := context.WithCancel(context.Background())

	messages, err := b.sub.Subscribe(subCtx, deliveryTopicPrefix+id)
	if err != nil {
		cancel()
		return Handle{}, fmt.Errorf("bus: subscribe: %w", err)
	}

	s := &subscription{
		id:     id,
		key:    key,
		cancel: cancel,
		queue:  make(chan *message.Message, b.buffer),
	}
	b.subs[key] = s
	b.order = append(b.order, key)

	go b.forward(subCtx, s)
	go b.deliver(subCtx, s, messages, handler)

	return Handle{id: id, pattern: pattern, module: moduleID}, nil
}

// forward drains one subscription's queue into its watermill pipe. A single
// forwarder per subscription, publishing one acked envelope at a time, keeps
// delivery in enqueue order.
func (b *Bus) forward(ctx context.Context, s *subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case wm := <-s.queue:
			if err := b.pub.Publish(deliveryTopicPrefix+s.id, wm); err != nil {
				slog.Error("Bus delivery failed",
					"pattern", s.key.pattern, "module", s.key.module, "msg_id", wm.UUID, "error", err)
			}
		}
	}
}

// deliver drains one subscription pipe, invoking the handler per envelope.
// Handler failures are logged and acknowledged; delivery is at-most-once.
func (b *Bus) deliver(ctx context.Context, s *subscription, messages <-chan *message.Message, handler Handler) {
	for wm := range messages {
		env, err := fromMessage(wm)
		if err != nil {
			slog.Error("Failed to decode envelope", "pattern", s.key.pattern, "module", s.key.module, "msg_id", wm.UUID, "error", err)
			wm.Ack()
			continue
		}

		if err := handler(ctx, env); err != nil {
			slog.Error("Message handler failed", "topic", env.Topic, "module", s.key.module, "envelope_id", env.ID, "error", err)
		}
		wm.Ack()
	}
	slog.Debug("Delivery loop ended", "pattern", s.key.pattern, "module", s.key.module)
}

// Publish delivers an envelope to every matching subscription. The bus
// assigns the envelope's id, per-sender sequence number and timestamp.
//
// A sender's own wildcard subscriptions are skipped; a sender only hears its
// own envelopes through an exact subscription to the published topic.
// Publishing with no matching subscribers is a no-op, not an error.
func (b *Bus) Publish(ctx context.Context, env envelope.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Sequence == 0 {
		env.Sequence = b.seq.Next(env.Sender)
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = time.Now()
	}

	wm, err := toMessage(env)
	if err != nil {
		return fmt.Errorf("bus: encode envelope: %w", err)
	}

	matched := 0
	for _, key := range b.order {
		s := b.subs[key]
		if env.Target != "" && key.module != env.Target {
			continue
		}
		if !envelope.MatchTopic(key.pattern, env.Topic) {
			continue
		}
		if key.module == env.Sender && key.pattern != env.Topic {
			continue
		}
		matched++

		select {
		case s.queue <- wm.Copy():
		default:
			s.dropped.Add(1)
			slog.Warn("Dropping envelope for slow subscriber",
				"topic", env.Topic, "module", key.module, "pattern", key.pattern, "envelope_id", env.ID)
		}
	}

	if matched == 0 {
		slog.Debug("No subscribers matched", "topic", env.Topic, "sender", env.Sender)
	}
	return nil
}

// Unsubscribe removes a subscription. It is idempotent: removing an
// already-removed or replaced subscription is a no-op.
func (b *Bus) Unsubscribe(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := subKey{pattern: h.pattern, module: h.module}
	s, ok := b.subs[key]
	if !ok || s.id != h.id {
		return
	}
	s.cancel()
	delete(b.subs, key)
	b.removeFromOrder(key)
}

// UnsubscribeModule removes every subscription owned by a module. The
// coordinator calls this when a module deregisters.
func (b *Bus) UnsubscribeModule(moduleID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := b.order[:0]
	for _, key := range b.order {
		if key.module != moduleID {
			remaining = append(remaining, key)
			continue
		}
		if s, ok := b.subs[key]; ok {
			s.cancel()
			delete(b.subs, key)
		}
	}
	b.order = remaining
}

// Close shuts down the bus and every subscription. Idempotent.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, s := range b.subs {
		s.cancel()
	}
	b.subs = make(map[subKey]*subscription)
	b.order = nil

	return b.sub.Close()
}

// SubscriptionInfo describes one active subscription for stats output.
type SubscriptionInfo struct {
	Pattern string `json:"pattern"`
	Module  string `json:"module"`
	Dropped int64  `json:"dropped"`
}

// Stats returns the active subscriptions in subscription order.
func (b *Bus) Stats() []SubscriptionInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]SubscriptionInfo, 0, len(b.order))
	for _, key := range b.order {
		s := b.subs[key]
		out = append(out, SubscriptionInfo{
			Pattern: key.pattern,
			Module:  key.module,
			Dropped: s.dropped.Load(),
		})
	}
	return out
}

// removeFromOrder deletes a key from the delivery-order slice.
// Callers must hold b.mu.
func (b *Bus) removeFromOrder(key subKey) {
	for i, k := range b.order {
		if k == key {
			b.order = append(b.order[:i], b.order[i+1:]...)
			return
		}
	}
}
