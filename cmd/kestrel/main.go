// Kestrel - Batch transaction risk flagging for AML review.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ingest"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/score"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	txPath := flag.String("transactions", "", "Score a transactions CSV once and exit")
	customersPath := flag.String("customers", "", "Customers CSV to import in one-shot mode")
	configPath := flag.String("config", "", "Risk configuration JSON (one-shot mode)")
	runDate := flag.String("date", "", "Run date YYYY-MM-DD (one-shot mode, default today)")
	tenantID := flag.String("tenant", "default", "Tenant ID for one-shot mode")
	flag.Parse()

	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Rule Engine
	engine, err := rules.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()
	slog.Info("rule engine initialized")

	// Initialize Scoring Processor
	processor := score.NewProcessor(engine, repo, cacheImpl, busImpl)
	slog.Info("scoring processor initialized")

	// One-shot CSV pipeline mode
	if *txPath != "" {
		if err := runOnce(ctx, repo, processor, cfg.Risk, *txPath, *customersPath, *configPath, *runDate, *tenantID); err != nil {
			slog.Error("one-shot run failed", "error", err)
			os.Exit(1)
		}
		return
	}

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, processor, cfg.Risk)

		// Get tenant IDs to process (from environment or default)
		tenantIDs := []string{}
		if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
			tenantIDs = strings.Split(envTenants, ",")
		}

		workerCfg := worker.Config{
			TenantIDs:   tenantIDs,
			WorkerCount: 5,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, processor, cfg.Risk, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// runOnce imports the CSVs, scores the batch, and prints the summary.
func runOnce(ctx context.Context, repo domain.Repository, processor *score.Processor, riskCfg *domain.RiskConfig, txPath, customersPath, configPath, runDate, tenantID string) error {
	if customersPath != "" {
		customers, stats, err := ingest.ReadCustomers(customersPath)
		if err != nil {
			return err
		}
		for i := range customers {
			if err := repo.SaveCustomer(ctx, tenantID, &customers[i]); err != nil {
				slog.Error("failed to save customer", "account", customers[i].BankAccount, "error", err)
			}
		}
		slog.Info("customers imported",
			"read", stats.Read,
			"kept", stats.Kept,
			"bad_format", stats.BadFormat,
			"duplicates", stats.Duplicates,
		)
	}

	records, stats, err := ingest.ReadTransactions(txPath)
	if err != nil {
		return err
	}
	slog.Info("transactions imported",
		"read", stats.Read,
		"kept", stats.Kept,
		"bad_amount", stats.BadAmount,
		"bad_currency", stats.BadCurrency,
		"duplicates", stats.Duplicates,
	)

	input := &score.Input{
		TenantID: tenantID,
		Records:  records,
	}

	if configPath != "" {
		raw, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		input.Config = score.ParseRiskConfig(raw, riskCfg)
	}

	if runDate != "" {
		asOf, err := time.Parse("2006-01-02", runDate)
		if err != nil {
			return fmt.Errorf("invalid date %q, want YYYY-MM-DD: %w", runDate, err)
		}
		input.AsOf = asOf.UTC()
	}

	result, err := processor.Process(ctx, input, riskCfg)
	if err != nil {
		return err
	}

	fmt.Printf("\nRun %s (%s)\n", result.Run.ID, result.Run.FlaggedDate)
	fmt.Printf("  scored:  %d of %d records\n", result.Run.Scored, result.Run.Total)
	fmt.Printf("  flagged: %d (%d newly persisted)\n", result.Run.Flagged, result.Inserted)
	for reason, count := range result.Run.ReasonCounts {
		fmt.Printf("    %4d  %s\n", count, reason)
	}
	fmt.Println()

	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║      Batch Risk Flagging Engine           ║")
	fmt.Println("  ║    Every batch, screened overnight.       ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /score             - Score a batch of transactions")
	fmt.Println("    POST /config/validate   - Validate a risk configuration")
	fmt.Println("    GET  /runs/{id}         - Get run summary by ID")
	fmt.Println("    GET  /flagged           - List flagged transactions")
	fmt.Println("    GET  /transactions/{id} - Get transaction by ID")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println()
}
