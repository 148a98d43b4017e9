// Package dashboard mirrors the pet's shared state for display. It never
// writes pet state itself; it observes change envelopes and can ask the pet
// state module directly when it needs a fresh snapshot.
package dashboard

import (
	"context"
	"sync"

	"github.com/nfrund/modlink/internal/envelope"
	"github.com/nfrund/modlink/internal/module"
	"github.com/nfrund/modlink/internal/payload"
)

// ModuleName is the id this module registers under.
const ModuleName = "dashboard"

// Module implements the module.Module interface for the dashboard feature.
type Module struct {
	module.BaseModule
	deps module.Deps

	mu          sync.RWMutex
	lastValue   payload.Value
	lastVersion uint64
}

// New creates a new instance of the dashboard module.
func New() *Module {
	return &Module{}
}

// Name returns the module name.
func (m *Module) Name() string {
	return ModuleName
}

// Initialize subscribes to every pet state topic.
func (m *Module) Initialize(ctx context.Context, deps module.Deps) error {
	m.deps = deps

	_, err := deps.Bus.Subscribe("pet.state.*", ModuleName, m.handleStateChanged)
	return err
}

// Snapshot returns the last observed pet state and its version.
func (m *Module) Snapshot() (payload.Value, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastValue, m.lastVersion
}

// RequestPetState asks the pet state module for a fresh snapshot over the
// coordinator's request/reply channel.
func (m *Module) RequestPetState(ctx context.Context, petModule string) (payload.Value, error) {
	resp, err := m.deps.Coordinator.SendRequest(ctx, ModuleName, petModule, payload.Null(), 0)
	if err != nil {
		return payload.Null(), err
	}
	value, _ := resp.Payload.Field("value")
	return value, nil
}

// handleStateChanged records the latest synchronized pet state.
func (m *Module) handleStateChanged(ctx context.Context, env envelope.Envelope) error {
	value, _ := env.Payload.Field("value")
	version, _ := env.Payload.Field("version")

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastValue = value
	if v, ok := version.AsInt(); ok && v >= 0 {
		m.lastVersion = uint64(v)
	}
	return nil
}
