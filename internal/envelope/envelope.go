// Package envelope defines the unit of communication on the bus and the
// topic addressing scheme used to route it.
package envelope

import (
	"strings"
	"sync"
	"time"

	"github.com/nfrund/modlink/internal/payload"
)

// Envelope is the addressed unit of communication on the bus.
//
// Envelopes are treated as immutable once published: the bus fills in the ID,
// sequence number and timestamp at publish time and hands each subscriber its
// own copy.
type Envelope struct {
	// ID is a globally unique identifier assigned at publish time.
	ID string
	// Topic is the hierarchical address, e.g. "pet.state.changed".
	Topic string
	// Sender is the module id that emitted the envelope.
	Sender string
	// Target optionally narrows delivery to a single module.
	// Empty means broadcast to every matching subscription.
	Target string
	// CorrelationID ties request and reply envelopes together.
	CorrelationID string
	// Payload carries the structured message body.
	Payload payload.Value
	// Sequence is strictly increasing per sender, assigned at publish time.
	Sequence uint64
	// CreatedAt records when the envelope was published.
	CreatedAt time.Time
}

// New creates an envelope addressed to a topic. The bus assigns ID, sequence
// and timestamp on publish, so callers normally only set addressing fields.
func New(topic, sender string, p payload.Value) Envelope {
	return Envelope{
		Topic:   topic,
		Sender:  sender,
		Payload: p,
	}
}

// WithTarget returns a copy of the envelope narrowed to a single module.
func (e Envelope) WithTarget(moduleID string) Envelope {
	e.Target = moduleID
	return e
}

// MatchTopic reports whether a topic matches a subscription pattern.
//
// Patterns are either exact topic names or a prefix followed by ".*", which
// matches any topic below that prefix ("pet.*" matches "pet.state.changed").
// The bare pattern "*" matches every topic.
func MatchTopic(pattern, topic string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(topic, prefix+".")
	}
	return pattern == topic
}

// IsWildcard reports whether a pattern uses wildcard matching.
func IsWildcard(pattern string) bool {
	return pattern == "*" || strings.HasSuffix(pattern, ".*")
}

// Sequencer hands out strictly increasing sequence numbers per sender,
// establishing the per-sender causal order subscribers observe.
type Sequencer struct {
	mu       sync.Mutex
	counters map[string]uint64
}

// NewSequencer creates an empty sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{counters: make(map[string]uint64)}
}

// Next returns the next sequence number for a sender, starting at 1.
func (s *Sequencer) Next(sender string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[sender]++
	return s.counters[sender]
}

// Current returns the last sequence number handed out for a sender.
func (s *Sequencer) Current(sender string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[sender]
}
