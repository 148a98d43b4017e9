package module

import (
	"context"

	"github.com/nfrund/modlink/internal/bus"
	"github.com/nfrund/modlink/internal/coordinator"
	"github.com/nfrund/modlink/internal/router"
	"github.com/nfrund/modlink/internal/syncmgr"
)

// Deps holds the core communication services handed to every module.
type Deps struct {
	Bus         *bus.Bus
	Router      *router.Router
	Coordinator *coordinator.Coordinator
	Sync        *syncmgr.Manager
}

// Module defines the contract for a self-contained application feature.
type Module interface {
	// Name returns a unique identifier for the module. The coordinator
	// registers the module under this id.
	Name() string

	// Initialize is called after the module is registered with the
	// coordinator. This is the phase for subscribing to topics and
	// declaring shared entities.
	Initialize(ctx context.Context, deps Deps) error

	// Dispose is called during graceful shutdown, before the module is
	// deregistered. Bus subscriptions are purged by the coordinator; this
	// is the phase for stopping background work.
	Dispose(ctx context.Context) error
}

// BaseModule provides default no-op implementations for Module methods.
// Modules can embed this to avoid implementing methods they don't need.
type BaseModule struct{}

func (m *BaseModule) Initialize(ctx context.Context, deps Deps) error { return nil }

func (m *BaseModule) Dispose(ctx context.Context) error { return nil }
