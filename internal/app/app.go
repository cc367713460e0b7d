// Package app wires the core's independently-testable components
// (session store, cron scheduler, heartbeat coordinator, gateway router)
// into one running process, the way cmd/friday's gwHwd.run used to wire a
// single *gateway.Gateway — generalized here to the full collaborator graph
// SPEC_FULL.md's MODULE LAYOUT describes.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openclaw/core/internal/config"
	"github.com/openclaw/core/internal/consts"
	"github.com/openclaw/core/internal/cron"
	"github.com/openclaw/core/internal/gateway"
	"github.com/openclaw/core/internal/gateway/authn"
	"github.com/openclaw/core/internal/heartbeat"
	"github.com/openclaw/core/internal/lane"
	"github.com/openclaw/core/internal/pkg/events"
	"github.com/openclaw/core/internal/pkg/logs"
	"github.com/openclaw/core/internal/session"
	"github.com/openclaw/core/internal/sysevent"
)

// App owns every long-lived collaborator for one running core instance.
type App struct {
	Config *config.Config

	Emitter    *events.Emitter
	Devices    *authn.DeviceRegistry
	Sessions   *session.Store
	SysEvents  *sysevent.Queue
	Lanes      *lane.Dispatcher
	Scheduler  *cron.Scheduler
	Heartbeats *heartbeat.Coordinator
	Gateway    *gateway.Router
}

// New builds the full collaborator graph from cfg without starting any of
// it. The state directory and its subdirectories are created if missing.
func New(cfg *config.Config) (*App, error) {
	if err := os.MkdirAll(consts.StateDir(), 0o700); err != nil {
		return nil, fmt.Errorf("app: create state dir: %w", err)
	}
	if err := os.MkdirAll(consts.CronStoreDir(), 0o700); err != nil {
		return nil, fmt.Errorf("app: create cron store dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(consts.LogFilePath()), 0o700); err != nil {
		return nil, fmt.Errorf("app: create log dir: %w", err)
	}

	emitter := events.NewEmitter()
	emitter.On("store.reset", func(ev events.Event) {
		logs.Warn("app: store reset: %+v", ev.Payload)
	})

	devices := authn.NewDeviceRegistry(consts.DevicePublicKeyRegistryPath())
	if err := devices.Load(); err != nil {
		return nil, fmt.Errorf("app: load device registry: %w", err)
	}

	sessions := session.New(consts.SessionStorePath(), emitter)
	sysEvents := sysevent.New()
	lanes := lane.NewDispatcher()
	executor := NewPlaceholderExecutor()

	// deliverer's router field is nil until the gateway Router is
	// constructed below; nothing invokes Deliver before App.Start runs, so
	// the two can be wired into a cycle without either waiting on the other.
	deliverer := &gatewayDeliverer{}

	heartbeats := heartbeat.New(heartbeat.Deps{
		SysEvents:       sysEvents,
		Lanes:           lanes,
		Executor:        executor,
		Content:         noopContentProvider{},
		Targets:         noopTargetResolver{},
		Deliverer:       deliverAdapter{d: deliverer},
		Emitter:         emitter,
		GloballyEnabled: func() bool { return cfg.Heartbeat.Enabled },
	})

	jobTimeout := time.Duration(cfg.Cron.DefaultJobTimeoutSec) * time.Second
	scheduler := cron.NewScheduler(consts.CronStorePath(), cron.Deps{
		Sessions:           sessions,
		SysEvents:          sysEvents,
		Lanes:              lanes,
		Executor:           executor,
		Heartbeats:         heartbeatRequester{heartbeats},
		Deliverer:          deliverer,
		Emitter:            emitter,
		JobTimeout:         jobTimeout,
		EphemeralRetention: parseEphemeralRetention(cfg.Cron.EphemeralSessionRetention),
		MaxConcurrentRuns:  cfg.Cron.MaxConcurrentRuns,
	})

	router := gateway.NewRouter(gateway.Deps{
		Config:     cfg.Gateway,
		Devices:    devices,
		Sessions:   sessions,
		Scheduler:  scheduler,
		SysEvents:  sysEvents,
		Lanes:      lanes,
		Executor:   executor,
		Heartbeats: heartbeats,
		Emitter:    emitter,
	})
	deliverer.router = router

	return &App{
		Config:     cfg,
		Emitter:    emitter,
		Devices:    devices,
		Sessions:   sessions,
		SysEvents:  sysEvents,
		Lanes:      lanes,
		Scheduler:  scheduler,
		Heartbeats: heartbeats,
		Gateway:    router,
	}, nil
}

// Start brings up the scheduler, heartbeat coordinator, and gateway router,
// in that order (each can run independently of the others being up).
func (a *App) Start(ctx context.Context) error {
	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("app: start scheduler: %w", err)
	}
	a.Heartbeats.Start()
	if err := a.Gateway.Start(ctx); err != nil {
		return fmt.Errorf("app: start gateway: %w", err)
	}
	return nil
}

// Stop tears down in reverse order, best-effort, returning the first error
// encountered.
func (a *App) Stop(ctx context.Context) error {
	var firstErr error
	if err := a.Gateway.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	a.Heartbeats.Stop()
	a.Scheduler.Stop()
	return firstErr
}

// parseEphemeralRetention reads the cron config's duration-or-"never" field
// (config.Validate already defaults an empty value to "24h").
func parseEphemeralRetention(raw string) time.Duration {
	if raw == "" || raw == "never" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		logs.Warn("app: invalid cron ephemeral_session_retention %q, disabling reaper: %v", raw, err)
		return 0
	}
	return d
}
