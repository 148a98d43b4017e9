// Package router maps high-level domain events onto bus topics.
//
// Modules emit typed domain events; declarative rules decide which topics
// those events land on and whether they are broadcast, targeted or filtered.
// The router is permissive: an event no rule matches is dropped with a debug
// trace, because modules may emit events nobody currently cares about.
package router

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nfrund/modlink/internal/bus"
	"github.com/nfrund/modlink/internal/envelope"
	"github.com/nfrund/modlink/internal/payload"
)

// Mode controls how many rules an event applies.
type Mode string

const (
	// ModeExclusive stops at the first matching rule.
	ModeExclusive Mode = "exclusive"
	// ModeFanout applies every matching rule.
	ModeFanout Mode = "fanout"
)

// Event is a structured domain event emitted by a module.
type Event struct {
	// Type is the hierarchical event type, e.g. "pet.mood.changed".
	Type string
	// Source is the emitting module id.
	Source string
	// Mode selects exclusive or fan-out routing. Empty means exclusive.
	Mode Mode
	// Payload is the event body, forwarded into the published envelopes.
	Payload payload.Value
}

// Filter is a predicate over an event payload. A nil Filter matches
// everything.
type Filter func(p payload.Value) bool

// Rule binds an event-type pattern to a bus topic. Rules are evaluated in
// registration order.
type Rule struct {
	// Name identifies the rule in logs and CLI output.
	Name string
	// EventPattern is an exact event type or a trailing-wildcard pattern.
	EventPattern string
	// Topic is the bus topic matching events are published on.
	Topic string
	// Target optionally narrows delivery to one module.
	Target string
	// Filter optionally restricts the rule to matching payloads.
	Filter Filter
}

// Router resolves domain events to envelopes and publishes them.
// All methods are safe for concurrent use.
type Router struct {
	bus *bus.Bus

	mu    sync.RWMutex
	rules []Rule
}

// New creates a router publishing on the given bus.
func New(b *bus.Bus) *Router {
	return &Router{bus: b}
}

// AddRule appends a rule. Rules added earlier win for exclusive events.
func (r *Router) AddRule(rule Rule) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule)
	return nil
}

// ReplaceRules atomically swaps the whole rule set. Used by the hot-reload
// watcher so a half-loaded file never routes anything.
func (r *Router) ReplaceRules(rules []Rule) error {
	for _, rule := range rules {
		if err := validateRule(rule); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append([]Rule(nil), rules...)
	return nil
}

// Rules returns a snapshot of the current rule set in evaluation order.
func (r *Router) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Rule(nil), r.rules...)
}

// Route converts a domain event into envelopes per the matching rules and
// publishes each. An unmatched event is dropped with a debug trace, not an
// error.
func (r *Router) Route(ctx context.Context, ev Event) error {
	r.mu.RLock()
	rules := r.rules
	r.mu.RUnlock()

	matched := 0
	for _, rule := range rules {
		if !envelope.MatchTopic(rule.EventPattern, ev.Type) {
			continue
		}
		if rule.Filter != nil && !rule.Filter(ev.Payload) {
			continue
		}
		matched++

		env := envelope.New(rule.Topic, ev.Source, ev.Payload)
		env.Target = rule.Target
		if err := r.bus.Publish(ctx, env); err != nil {
			return err
		}
		slog.Debug("Routed domain event",
			"event_type", ev.Type, "rule", rule.Name, "topic", rule.Topic)

		if ev.Mode != ModeFanout {
			break
		}
	}

	if matched == 0 {
		slog.Debug("No routing rule matched", "event_type", ev.Type, "source", ev.Source)
	}
	return nil
}
