package conflict

import (
	"log/slog"
	"sync"
	"time"
)

// HistoryEntry records one resolved conflict for an entity.
type HistoryEntry struct {
	Record     Record
	Resolution Resolution
	ResolvedAt time.Time
}

// Engine routes conflicts to the policy registered for the entity type.
//
// The engine itself is stateless apart from a bounded recent-history window
// per entity, kept so merge decisions can be audited after the fact.
type Engine struct {
	mu           sync.Mutex
	policies     map[string]Policy
	fallback     Policy
	history      map[string][]HistoryEntry
	historyLimit int
}

// Option configures an Engine.
type Option func(*Engine)

// WithDefaultPolicy overrides the fallback policy used when no policy is
// registered for an entity type.
func WithDefaultPolicy(p Policy) Option {
	return func(e *Engine) {
		if p != nil {
			e.fallback = p
		}
	}
}

// WithHistoryLimit bounds the per-entity resolution history. Default: 16.
func WithHistoryLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.historyLimit = n
		}
	}
}

// NewEngine creates an engine. The default fallback policy is FieldMerge,
// which degrades to last-writer-wins for non-map payloads.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		policies:     make(map[string]Policy),
		fallback:     FieldMerge{},
		history:      make(map[string][]HistoryEntry),
		historyLimit: 16,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterPolicy binds a policy to an entity type, replacing any previous
// binding for that type.
func (e *Engine) RegisterPolicy(entityType string, p Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[entityType] = p
}

// Resolve picks the policy for the record's entity type and returns its
// verdict. Resolve never panics for a well-formed record; policy failures
// surface as rejected resolutions.
func (e *Engine) Resolve(rec Record) Resolution {
	e.mu.Lock()
	policy, ok := e.policies[rec.EntityType]
	if !ok {
		policy = e.fallback
	}
	e.mu.Unlock()

	res := policy.Resolve(rec)
	res.Policy = policy.Name()

	switch res.Outcome {
	case OutcomeMerged:
		slog.Debug("Conflict merged",
			"entity_id", rec.EntityID, "policy", res.Policy,
			"ours_writer", rec.Ours.Writer, "theirs_writer", rec.Theirs.Writer)
	case OutcomeRejected:
		slog.Warn("Conflict rejected",
			"entity_id", rec.EntityID, "policy", res.Policy, "reason", res.Reason)
	}

	e.record(rec, res)
	return res
}

// History returns the recorded resolutions for an entity, oldest first.
func (e *Engine) History(entityID string) []HistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries := e.history[entityID]
	out := make([]HistoryEntry, len(entries))
	copy(out, entries)
	return out
}

func (e *Engine) record(rec Record, res Resolution) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries := append(e.history[rec.EntityID], HistoryEntry{
		Record:     rec,
		Resolution: res,
		ResolvedAt: time.Now(),
	})
	if len(entries) > e.historyLimit {
		entries = entries[len(entries)-e.historyLimit:]
	}
	e.history[rec.EntityID] = entries
}
