// Fraudasaurus - batch fraud detection for digital banking channels.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nguyendon/fraudasaurus.ai/internal/api"
	"github.com/nguyendon/fraudasaurus.ai/internal/bus"
	"github.com/nguyendon/fraudasaurus.ai/internal/cache"
	"github.com/nguyendon/fraudasaurus.ai/internal/domain"
	"github.com/nguyendon/fraudasaurus.ai/internal/pipeline"
	"github.com/nguyendon/fraudasaurus.ai/internal/repository"
	"github.com/nguyendon/fraudasaurus.ai/internal/rules"
	"github.com/nguyendon/fraudasaurus.ai/internal/scoring"
	"github.com/nguyendon/fraudasaurus.ai/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("FRAUDASAURUS_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting fraudasaurus",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()
	if os.Getenv("FRAUDASAURUS_EDITION") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro edition mode")
	}

	slog.Info("configuration loaded",
		"edition", cfg.Edition,
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

	// Initialize Screening Engine. Tenant rules are loaded from the
	// database at the start of each scan.
	screen, err := rules.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize screening engine", "error", err)
		os.Exit(1)
	}
	slog.Info("screening engine initialized")

	// Initialize Scan Runner
	runner := pipeline.NewRunner(repo, cacheImpl, busImpl, screen, cfg.Thresholds, logger)
	slog.Info("scan runner initialized")

	// One-shot batch mode: scan a single tenant, print the report, exit.
	if os.Getenv("FRAUDASAURUS_RUN_ONCE") == "true" {
		tenantID := os.Getenv("FRAUDASAURUS_TENANT")
		if tenantID == "" {
			tenantID = "default"
		}
		report, err := runner.Scan(ctx, tenantID, time.Time{})
		if err != nil {
			slog.Error("scan failed", "tenant_id", tenantID, "error", err)
			os.Exit(1)
		}
		printReport(report)
		return
	}

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Edition == domain.EditionPro || os.Getenv("FRAUDASAURUS_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, runner)

		var tenantIDs []string
		if envTenants := os.Getenv("FRAUDASAURUS_TENANTS"); envTenants != "" {
			for _, t := range strings.Split(envTenants, ",") {
				if t = strings.TrimSpace(t); t != "" {
					tenantIDs = append(tenantIDs, t)
				}
			}
		}

		if err := asyncWorker.Start(worker.Config{TenantIDs: tenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, screen, runner, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("fraudasaurus is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first so in-flight scans finish
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

	slog.Info("fraudasaurus shutdown complete")
}

// topEntities caps how many scored entities the batch summary prints.
const topEntities = 15

// printReport renders a scan report as a human-readable batch summary.
func printReport(report *domain.ScanReport) {
	fmt.Println()
	fmt.Printf("Scan %s completed in %dms (as of %s)\n",
		report.ID, report.DurationMs, report.AsOf.Format(time.RFC3339))
	fmt.Printf("  records:  %d transactions, %d logins, %d identities, %d core accounts, %d actions, %d links\n",
		report.Counts.Transactions, report.Counts.Logins, report.Counts.Identities,
		report.Counts.CoreAccounts, report.Counts.Actions, report.Counts.Links)
	fmt.Printf("  findings: %d alerts across %d entities\n", report.AlertCount, len(report.Entities))

	fmt.Println()
	fmt.Println("  Tier distribution:")
	counts := scoring.TierCounts(report.Entities)
	for _, tier := range []domain.Tier{domain.TierCritical, domain.TierHigh, domain.TierMedium, domain.TierLow} {
		fmt.Printf("    %-8s %d\n", tier, counts[tier])
	}

	fmt.Println()
	fmt.Println("  Top entities:")
	for i, e := range report.Entities {
		if i >= topEntities {
			fmt.Printf("  ... and %d more\n", len(report.Entities)-topEntities)
			break
		}
		fmt.Printf("  %2d. %-28s score %3d  [%s]\n", i+1, e.Subject.Key(), e.Score, e.Tier)
		for _, a := range e.Alerts {
			fmt.Printf("        - [%s] %s: %s\n", a.Severity, a.Category, a.Evidence)
		}
	}

	if len(report.Skipped) > 0 {
		fmt.Println()
		fmt.Println("  Skipped:")
		for _, s := range report.Skipped {
			fmt.Printf("    - %s\n", s)
		}
	}
	fmt.Println()
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  =============================================")
	fmt.Println("               FRAUDASAURUS")
	fmt.Println("      Batch fraud detection pipeline")
	fmt.Println("  =============================================")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Edition:  %s\n", cfg.Edition)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /transactions         - Ingest transactions")
	fmt.Println("    POST /logins               - Ingest login attempts")
	fmt.Println("    POST /identities           - Ingest user identities")
	fmt.Println("    POST /accounts             - Ingest core account statuses")
	fmt.Println("    POST /actions              - Ingest account actions")
	fmt.Println("    POST /links                - Ingest member links")
	fmt.Println("    POST /scans                - Run a scan (async with {\"async\":true})")
	fmt.Println("    GET  /scans/{id}           - Get a scan report")
	fmt.Println("    GET  /scans/{id}/entities  - Get scored entities (filter ?tier=)")
	fmt.Println("    GET  /rules                - List screening rules")
	fmt.Println("    POST /rules                - Create a screening rule")
	fmt.Println("    POST /rules/reload         - Hot-reload screening rules")
	fmt.Println("    GET  /health               - Health check")
	fmt.Println()
}
