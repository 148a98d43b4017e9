// Package app assembles the communication core and drives module lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/do/v2"
	"github.com/spf13/afero"

	"github.com/nfrund/modlink/internal/bus"
	"github.com/nfrund/modlink/internal/config"
	"github.com/nfrund/modlink/internal/conflict"
	"github.com/nfrund/modlink/internal/coordinator"
	"github.com/nfrund/modlink/internal/module"
	"github.com/nfrund/modlink/internal/router"
	"github.com/nfrund/modlink/internal/syncmgr"
	"github.com/nfrund/modlink/internal/topics"
)

// App wires the bus, router, coordinator, sync manager and conflict engine
// together and runs modules through their lifecycle.
type App struct {
	injector *do.RootScope
	cfg      *config.Config

	Bus         *bus.Bus
	Router      *router.Router
	Coordinator *coordinator.Coordinator
	Sync        *syncmgr.Manager
	Engine      *conflict.Engine

	modules []module.Module
	started []module.Module
}

// New builds the service container and resolves the core services.
func New(cfg *config.Config) (*App, error) {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.Provide(injector, func(i do.Injector) (*bus.Bus, error) {
		c := do.MustInvoke[*config.Config](i)
		return bus.New(bus.Config{BufferSize: c.BusBuffer}), nil
	})
	do.Provide(injector, func(i do.Injector) (*conflict.Engine, error) {
		return conflict.NewEngine(), nil
	})
	do.Provide(injector, func(i do.Injector) (*router.Router, error) {
		return router.New(do.MustInvoke[*bus.Bus](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (*coordinator.Coordinator, error) {
		c := do.MustInvoke[*config.Config](i)
		return coordinator.New(do.MustInvoke[*bus.Bus](i), coordinator.Config{
			DefaultTimeout: c.RequestTimeout,
		})
	})
	do.Provide(injector, func(i do.Injector) (*syncmgr.Manager, error) {
		c := do.MustInvoke[*config.Config](i)
		return syncmgr.New(
			do.MustInvoke[*bus.Bus](i),
			do.MustInvoke[*conflict.Engine](i),
			syncmgr.Config{CoalesceWindow: c.CoalesceWindow},
		), nil
	})

	coord, err := do.Invoke[*coordinator.Coordinator](injector)
	if err != nil {
		return nil, fmt.Errorf("app: build coordinator: %w", err)
	}

	a := &App{
		injector:    injector,
		cfg:         cfg,
		Bus:         do.MustInvoke[*bus.Bus](injector),
		Router:      do.MustInvoke[*router.Router](injector),
		Coordinator: coord,
		Sync:        do.MustInvoke[*syncmgr.Manager](injector),
		Engine:      do.MustInvoke[*conflict.Engine](injector),
	}

	for _, t := range topics.Framework() {
		if err := topics.Register(t); err != nil {
			slog.Debug("Framework topic already registered", "topic", t.Name)
		}
	}

	if cfg.RulesPath != "" {
		if err := router.LoadInto(a.Router, afero.NewOsFs(), cfg.RulesPath); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Register queues a module for startup. Modules start in registration order
// and shut down in reverse.
func (a *App) Register(m module.Module) {
	a.modules = append(a.modules, m)
}

// Start registers each module with the coordinator and initializes it.
// When rules hot reload is enabled, the watcher is armed here.
func (a *App) Start(ctx context.Context) error {
	if a.cfg.RulesPath != "" && a.cfg.WatchRules {
		if err := router.Watch(ctx, a.Router, a.cfg.RulesPath); err != nil {
			return err
		}
	}

	deps := module.Deps{
		Bus:         a.Bus,
		Router:      a.Router,
		Coordinator: a.Coordinator,
		Sync:        a.Sync,
	}

	for _, m := range a.modules {
		if err := a.Coordinator.RegisterModule(ctx, m.Name()); err != nil {
			return fmt.Errorf("app: register module %s: %w", m.Name(), err)
		}
		if err := m.Initialize(ctx, deps); err != nil {
			a.Coordinator.DeregisterModule(ctx, m.Name())
			return fmt.Errorf("app: initialize module %s: %w", m.Name(), err)
		}
		a.started = append(a.started, m)
		slog.Info("Module started", "module", m.Name())
	}
	return nil
}

// Shutdown disposes modules in reverse start order, then tears down the
// core services.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error
	for i := len(a.started) - 1; i >= 0; i-- {
		m := a.started[i]
		if err := m.Dispose(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("app: dispose module %s: %w", m.Name(), err)
		}
		a.Coordinator.DeregisterModule(ctx, m.Name())
	}
	a.started = nil

	a.Sync.Close()
	a.Coordinator.Close()
	if err := a.Bus.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	a.injector.Shutdown()
	return firstErr
}
