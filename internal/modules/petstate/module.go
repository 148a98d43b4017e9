// Package petstate owns the desktop pet's shared state: the mood, energy
// and activity fields that other modules observe and occasionally write.
package petstate

import (
	"context"
	"log/slog"

	"github.com/nfrund/modlink/internal/envelope"
	"github.com/nfrund/modlink/internal/module"
	"github.com/nfrund/modlink/internal/payload"
	"github.com/nfrund/modlink/internal/router"
	"github.com/nfrund/modlink/internal/topics"
)

const (
	// ModuleName is the id this module registers under.
	ModuleName = "petstate"
	// EntityID is the shared entity holding the pet's state.
	EntityID = "pet_001"
	// EntityType selects the conflict policy for pet state.
	EntityType = "pet_state"
)

// Module implements the module.Module interface for the pet state feature.
type Module struct {
	module.BaseModule
	deps module.Deps
}

// New creates a new instance of the pet state module.
func New() *Module {
	return &Module{}
}

// Name returns the module name.
func (m *Module) Name() string {
	return ModuleName
}

// Initialize declares the shared pet entity and starts answering state
// requests from other modules.
func (m *Module) Initialize(ctx context.Context, deps module.Deps) error {
	m.deps = deps

	deps.Sync.RegisterEntity(EntityID, EntityType, TopicStateChanged.Name)

	_, err := deps.Bus.Subscribe(topics.Request(ModuleName), ModuleName, m.handleRequest)
	return err
}

// Dispose is called on shutdown; subscriptions are purged by the
// coordinator when the module deregisters.
func (m *Module) Dispose(ctx context.Context) error {
	slog.Info("Shutting down pet state module")
	return nil
}

// SetMood proposes a mood change on the shared pet entity and routes a
// domain event for observers that only care about activity.
func (m *Module) SetMood(ctx context.Context, mood string) error {
	ent, _ := m.deps.Sync.Get(EntityID)

	fields, ok := ent.Value.AsMap()
	if !ok {
		fields = make(map[string]payload.Value)
	}
	fields["mood"] = payload.String(mood)

	if err := m.deps.Sync.ProposeUpdate(ctx, ModuleName, EntityID, payload.Map(fields), ent.Version); err != nil {
		return err
	}

	return m.deps.Router.Route(ctx, router.Event{
		Type:   "pet.mood.changed",
		Source: ModuleName,
		Payload: payload.Map(map[string]payload.Value{
			"mood": payload.String(mood),
		}),
	})
}

// handleRequest replies to state requests with the current pet snapshot.
func (m *Module) handleRequest(ctx context.Context, env envelope.Envelope) error {
	ent, _ := m.deps.Sync.Get(EntityID)
	return m.deps.Coordinator.Reply(ctx, ModuleName, env, payload.Map(map[string]payload.Value{
		"entity_id": payload.String(EntityID),
		"version":   payload.Int(int64(ent.Version)),
		"value":     ent.Value,
	}))
}
