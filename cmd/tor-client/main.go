// Package main provides an executable that bootstraps the circuit
// management core, keeps a pool of clean circuits warm, and reports
// status until it is asked to shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/go-tor/pkg/circuit"
	"github.com/opd-ai/go-tor/pkg/config"
	"github.com/opd-ai/go-tor/pkg/connection"
	"github.com/opd-ai/go-tor/pkg/directory"
	"github.com/opd-ai/go-tor/pkg/logger"
	"github.com/opd-ai/go-tor/pkg/metrics"
	"github.com/opd-ai/go-tor/pkg/path"
	"github.com/opd-ai/go-tor/pkg/protocol"
)

var (
	version   = "0.1.0-dev"
	buildTime = "unknown"
)

func main() {
	// Parse command-line flags
	configFile := flag.String("config", "", "Path to configuration file (torrc format)")
	dataDir := flag.String("data-dir", "", "Data directory for persistent state (default: auto-detect)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("go-tor version %s (built %s)\n", version, buildTime)
		fmt.Println("Pure Go Tor circuit management core")
		os.Exit(0)
	}

	// Load or create configuration
	var cfg *config.Config
	if *configFile != "" {
		cfg = config.DefaultConfig()
		if err := config.LoadFromFile(*configFile, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config file: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg = config.DefaultConfig()
		fmt.Printf("[INFO] Using zero-configuration mode\n")
		fmt.Printf("[INFO] Data directory: %s\n", cfg.DataDirectory)
	}

	if *dataDir != "" {
		cfg.DataDirectory = *dataDir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(level, os.Stdout)

	log.Info("Starting go-tor circuit core",
		"version", version,
		"build_time", buildTime)
	log.Info("Configuration loaded",
		"data_directory", cfg.DataDirectory,
		"num_entry_guards", cfg.NumEntryGuards,
		"log_level", cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Application error", "error", err)
		os.Exit(1)
	}

	log.Info("Shutdown complete")
}

// run builds the path selector, connection cache, and circuit manager,
// starts the build scheduler, and blocks until a shutdown signal arrives.
func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	log.Info("Fetching directory consensus...")

	dirClient := directory.NewClient(log)
	selector := path.NewSelector(dirClient, log)
	if err := selector.UpdateConsensus(ctx); err != nil {
		return fmt.Errorf("fetching initial consensus: %w", err)
	}

	if cfg.UseEntryGuards {
		guardMgr, err := path.NewGuardManager(cfg.DataDirectory, log)
		if err != nil {
			return fmt.Errorf("initializing guard manager: %w", err)
		}
		selector.SetGuardManager(guardMgr)
	}

	stats := metrics.New()

	connCache := connection.NewCache(&connection.CacheConfig{
		MaxConnections: cfg.ConnLimit,
		DialTimeout:    cfg.CircuitBuildTimeout,
		PostDial: func(ctx context.Context, conn *connection.Connection) error {
			return protocol.NewHandshake(conn, log).PerformHandshake(ctx)
		},
		Metrics: stats,
	}, log)
	defer connCache.Close()

	manager := circuit.NewManagerWithConfig(circuit.ManagerConfig{
		Selector:  selector,
		ConnCache: connCache,
		Logger:    log,
		Metrics:   stats,
		SchedulerConfig: &circuit.SchedulerConfig{
			TickInterval:        1 * time.Second,
			TargetCleanCircuits: cfg.CircuitPoolMinSize,
			MaxPendingBuilds:    cfg.CircuitPoolMaxSize,
			MaxDirtyAge:         cfg.MaxCircuitDirtiness,
			MaxBuildAge:         cfg.CircuitBuildTimeout,
		},
	})

	log.Info("Bootstrapping circuit pool...")
	startTime := time.Now()
	manager.StartBuildingCircuits(ctx)

	warmupCtx, warmupCancel := context.WithTimeout(ctx, 60*time.Second)
	if err := manager.WaitForCircuitCount(warmupCtx, circuit.StateOpen, cfg.CircuitPoolMinSize); err != nil {
		log.Warn("Circuit pool did not reach target size before warmup deadline", "error", err)
	}
	warmupCancel()

	log.Info("Circuit manager running",
		"target_clean_circuits", cfg.CircuitPoolMinSize,
		"startup_time", time.Since(startTime).Round(time.Millisecond))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	log.Info("Press Ctrl+C to exit")

	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		log.Info("Context cancelled", "reason", ctx.Err())
	}

	log.Info("Initiating graceful shutdown...",
		"open_circuits", manager.Count(),
		"open_circuits_state", manager.CountByState(circuit.StateOpen))
	if err := manager.CloseWithDeadline(30 * time.Second); err != nil {
		log.Warn("Error during shutdown", "error", err)
	}

	snap := stats.Snapshot()
	log.Info("Final circuit metrics",
		"circuit_builds", snap.CircuitBuilds,
		"circuit_build_success", snap.CircuitBuildSuccess,
		"circuit_build_failure", snap.CircuitBuildFailure,
		"circuit_build_p95", snap.CircuitBuildTimeP95)

	return nil
}
