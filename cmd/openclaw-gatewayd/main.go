// Command openclaw-gatewayd runs the core as a long-lived daemon: session
// store, cron scheduler, heartbeat coordinator, and the Gateway Router,
// wired together by internal/app. Grounded on cmd/friday's gwHwd.run.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/openclaw/core/internal/app"
	"github.com/openclaw/core/internal/config"
	"github.com/openclaw/core/internal/consts"
	"github.com/openclaw/core/internal/pkg/logs"
)

func main() {
	if err := run(); err != nil {
		logs.Error("openclaw-gatewayd: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := consts.DefaultConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		fmt.Printf("openclaw is not configured yet; write a config to %s first.\n", cfgPath)
		return nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logs.Init(logs.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		File:       cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logs.SetLogID(ctx, logs.NewLogID())

	logs.CtxInfo(ctx, "booting openclaw-gatewayd, state dir %s, config %s", consts.StateDir(), cfgPath)

	a, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background())
		return fmt.Errorf("start app: %w", err)
	}

	logs.CtxInfo(ctx, "gateway listening on %s (scope %s); press Ctrl+C to stop", cfg.Gateway.Bind, cfg.Gateway.BindScope)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	select {
	case sig := <-signalCh:
		logs.CtxInfo(ctx, "received %s, shutting down", sig.String())
	case <-ctx.Done():
	}

	if err := a.Stop(context.Background()); err != nil {
		logs.CtxError(ctx, "stop error: %v", err)
	}
	logs.CtxInfo(ctx, "openclaw-gatewayd stopped")
	return nil
}
