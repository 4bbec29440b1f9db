package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"hivemind/internal/bus"
	"hivemind/internal/config"
	"hivemind/internal/monitor"
	"hivemind/internal/planner"
	"hivemind/internal/schedule"
	"hivemind/internal/scheduler"
	"hivemind/internal/slo"
	"hivemind/internal/store"
	"hivemind/internal/swarm"
	"hivemind/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("hivemind %s\n", version)
	case "gateway":
		if err := runGateway(); err != nil {
			slog.Error("gateway failed", "error", err)
			os.Exit(1)
		}
	case "backup":
		if err := runBackup(os.Args[2:]); err != nil {
			slog.Error("backup failed", "error", err)
			os.Exit(1)
		}
	case "restore":
		if err := runRestore(os.Args[2:]); err != nil {
			slog.Error("restore failed", "error", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: hivemind <command>\n\nCommands:\n  gateway    Start the hivemind gateway service\n  backup     Archive the data directory\n  restore    Restore a data directory archive\n  version    Print version\n")
}

func runGateway() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting hivemind gateway", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	b, err := bus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer b.Close()
	slog.Info("nats started", "port", cfg.NATS.Port)

	// Swarm coordinator
	coord := swarm.NewCoordinator(db, b, cfg.Swarm)
	defer coord.Close()

	// Dependency scheduler
	sched := scheduler.New(db)

	// Planner
	pl := planner.New(db, coord)

	// Recovery monitor
	mon := monitor.New(db, b, cfg.Monitor)
	defer mon.Close()
	go mon.Start(ctx)

	// SLO gate
	gate := slo.NewGate(db, b, cfg.SLO)
	defer gate.Close()

	// Swarm schedule dispatcher
	disp := schedule.NewDispatcher(db, pl, b, cfg.Scheduler)
	defer disp.Close()
	go disp.Start(ctx)

	// Web API
	if cfg.Web.Enabled {
		srv := web.NewServer(db, b, coord, sched, pl, gate, cfg.Web, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()

	return nil
}
