// Package syncmgr propagates shared-state changes between modules.
//
// The manager owns the table of shared entities. Writers propose updates
// with the version they based their change on; matching versions are staged
// and applied when a short coalescing window closes, so bursts of updates to
// one entity publish a single final value instead of thrashing the bus with
// interim states. Stale or concurrent proposals are handed to the conflict
// resolution engine before anything is applied.
package syncmgr

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nfrund/modlink/internal/bus"
	"github.com/nfrund/modlink/internal/conflict"
	"github.com/nfrund/modlink/internal/envelope"
	"github.com/nfrund/modlink/internal/payload"
	"github.com/nfrund/modlink/internal/topics"
)

// Entity is a versioned piece of state owned jointly by multiple modules.
type Entity struct {
	ID         string
	Type       string
	Version    uint64
	Value      payload.Value
	LastWriter string
	LastWrite  time.Time
}

// ErrClosed is returned by proposals made after Close.
var ErrClosed = errors.New("sync manager is closed")

// ConflictRejectedError is returned when the conflict resolution engine
// refuses a proposed update. The prior authoritative version stands.
type ConflictRejectedError struct {
	EntityID string
	Reason   string
}

// Error implements the error interface.
func (e *ConflictRejectedError) Error() string {
	return "update to " + e.EntityID + " rejected: " + e.Reason
}

// Config holds sync manager tuning knobs.
type Config struct {
	// CoalesceWindow is how long an entity's staged update waits for
	// follow-up writes before being applied and published. Defaults to 25ms.
	CoalesceWindow time.Duration
}

// Manager owns the shared entity table. All methods are safe for concurrent
// use; a single update to a given entity is ever in flight at a time.
type Manager struct {
	bus    *bus.Bus
	engine *conflict.Engine
	window time.Duration

	mu       sync.Mutex
	entities map[string]*entityState
	closed   bool
}

type entityState struct {
	mu     sync.Mutex
	ent    Entity
	topic  string
	staged *stagedUpdate
}

type stagedUpdate struct {
	value  payload.Value
	writer string
	at     time.Time
	timer  *time.Timer
}

// New creates a sync manager publishing change envelopes on the given bus
// and deferring conflicts to the given engine.
func New(b *bus.Bus, engine *conflict.Engine, cfg Config) *Manager {
	window := cfg.CoalesceWindow
	if window <= 0 {
		window = 25 * time.Millisecond
	}
	return &Manager{
		bus:      b,
		engine:   engine,
		window:   window,
		entities: make(map[string]*entityState),
	}
}

// RegisterEntity declares a shared entity with an explicit type and change
// topic. Undeclared entities spring into existence on first proposal with an
// empty type and the default change topic.
func (m *Manager) RegisterEntity(entityID, entityType, changeTopic string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.entities[entityID]; ok {
		s.mu.Lock()
		s.ent.Type = entityType
		if changeTopic != "" {
			s.topic = changeTopic
		}
		s.mu.Unlock()
		return
	}
	if changeTopic == "" {
		changeTopic = topics.EntityChanged(entityID)
	}
	m.entities[entityID] = &entityState{
		ent:   Entity{ID: entityID, Type: entityType},
		topic: changeTopic,
	}
}

// Get returns a snapshot of the current authoritative entity state.
// Staged but unapplied updates are not visible.
func (m *Manager) Get(entityID string) (Entity, bool) {
	m.mu.Lock()
	s, ok := m.entities[entityID]
	m.mu.Unlock()
	if !ok {
		return Entity{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ent, true
}

// ProposeUpdate applies an optimistic-concurrency write to a shared entity.
//
// When baseVersion matches the current version and nothing is staged, the
// value is staged and applied when the coalescing window closes. A proposal
// arriving while another is staged, or carrying a stale base version, is a
// conflict: the engine's verdict either replaces the staged value or rejects
// the proposal with ConflictRejectedError. Each window close bumps the
// version exactly once and publishes exactly one change envelope.
func (m *Manager) ProposeUpdate(ctx context.Context, writer, entityID string, value payload.Value, baseVersion uint64) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	s, ok := m.entities[entityID]
	if !ok {
		s = &entityState{
			ent:   Entity{ID: entityID},
			topic: topics.EntityChanged(entityID),
		}
		m.entities[entityID] = s
	}
	m.mu.Unlock()

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	proposed := conflict.Snapshot{
		EntityID:   s.ent.ID,
		EntityType: s.ent.Type,
		Version:    baseVersion,
		Value:      value,
		Writer:     writer,
		WrittenAt:  now,
	}

	if s.staged == nil && baseVersion == s.ent.Version {
		s.stage(value, writer, now)
		s.staged.timer = time.AfterFunc(m.window, func() { m.flush(s) })
		return nil
	}

	// Concurrent or stale write. The freshest competing snapshot is the
	// staged one when present, otherwise the applied entity state.
	ours := conflict.Snapshot{
		EntityID:   s.ent.ID,
		EntityType: s.ent.Type,
		Version:    s.ent.Version,
		Value:      s.ent.Value,
		Writer:     s.ent.LastWriter,
		WrittenAt:  s.ent.LastWrite,
	}
	if s.staged != nil {
		ours.Value = s.staged.value
		ours.Writer = s.staged.writer
		ours.WrittenAt = s.staged.at
	}

	res := m.engine.Resolve(conflict.Record{
		EntityID:   s.ent.ID,
		EntityType: s.ent.Type,
		Ours:       ours,
		Theirs:     proposed,
		DetectedAt: now,
	})

	if res.Outcome == conflict.OutcomeRejected {
		m.publishRejection(ctx, entityID, writer, res.Reason)
		return &ConflictRejectedError{EntityID: entityID, Reason: res.Reason}
	}

	if s.staged != nil {
		// Fold the merged value into the pending window; the running timer
		// still applies it with a single version bump.
		s.staged.value = res.Value
		s.staged.writer = writer
		s.staged.at = now
		return nil
	}

	s.stage(res.Value, writer, now)
	s.staged.timer = time.AfterFunc(m.window, func() { m.flush(s) })
	return nil
}

// stage records a pending value. Callers must hold s.mu.
func (s *entityState) stage(value payload.Value, writer string, at time.Time) {
	s.staged = &stagedUpdate{value: value, writer: writer, at: at}
}

// flush applies the staged update: one version bump, one change envelope.
func (m *Manager) flush(s *entityState) {
	s.mu.Lock()

	staged := s.staged
	if staged == nil {
		s.mu.Unlock()
		return
	}
	if staged.timer != nil {
		staged.timer.Stop()
	}
	s.staged = nil

	s.ent.Version++
	s.ent.Value = staged.value
	s.ent.LastWriter = staged.writer
	s.ent.LastWrite = staged.at

	env := envelope.New(s.topic, topics.SyncModule, payload.Map(map[string]payload.Value{
		"entity_id": payload.String(s.ent.ID),
		"version":   payload.Int(int64(s.ent.Version)),
		"value":     s.ent.Value,
		"writer":    payload.String(s.ent.LastWriter),
	}))
	version := s.ent.Version
	entityID := s.ent.ID
	s.mu.Unlock()

	if err := m.bus.Publish(context.Background(), env); err != nil {
		slog.Error("Failed to publish entity change", "entity_id", entityID, "version", version, "error", err)
		return
	}
	slog.Debug("Applied shared entity update", "entity_id", entityID, "version", version)
}

// Flush applies any staged update for an entity immediately, without waiting
// for the coalescing window. Used at shutdown and by tests.
func (m *Manager) Flush(entityID string) {
	m.mu.Lock()
	s, ok := m.entities[entityID]
	m.mu.Unlock()
	if ok {
		m.flush(s)
	}
}

// Close flushes all staged updates and stops accepting proposals.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	states := make([]*entityState, 0, len(m.entities))
	for _, s := range m.entities {
		states = append(states, s)
	}
	m.mu.Unlock()

	for _, s := range states {
		m.flush(s)
	}
}

// publishRejection surfaces a refused update on the reserved rejection topic
// so observers (e.g. a settings UI) can prompt for manual resolution.
func (m *Manager) publishRejection(ctx context.Context, entityID, writer, reason string) {
	env := envelope.New(topics.SyncRejected, topics.SyncModule, payload.Map(map[string]payload.Value{
		"entity_id": payload.String(entityID),
		"writer":    payload.String(writer),
		"reason":    payload.String(reason),
	}))
	if err := m.bus.Publish(ctx, env); err != nil {
		slog.Error("Failed to publish sync rejection", "entity_id", entityID, "error", err)
	}
}
