package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/techcortex/buildcheck/internal/api"
	"github.com/techcortex/buildcheck/internal/bus"
	"github.com/techcortex/buildcheck/internal/cache"
	"github.com/techcortex/buildcheck/internal/catalog"
	"github.com/techcortex/buildcheck/internal/domain"
	"github.com/techcortex/buildcheck/internal/repository"
	"github.com/techcortex/buildcheck/internal/rules"
	"github.com/techcortex/buildcheck/internal/validation"
	"github.com/techcortex/buildcheck/internal/worker"
)

var (
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the validation API and the selection worker",
		RunE:  runServe,
	}
	watchCatalog bool
)

func init() {
	serveCmd.Flags().BoolVar(&watchCatalog, "watch", false, "Re-import the catalog file when it changes")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	slog.Info("starting buildcheck",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if watchCatalog {
		cfg.Catalog.Watch = true
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	opts := catalog.Options{MultiSelect: cfg.Engine.MultiSelectCategories}
	source := catalog.NewSource(repo, cacheImpl, opts, cfg.Engine.SnapshotTTL)

	if cfg.Catalog.Path != "" {
		if err := importCatalog(ctx, repo, source, cfg.Catalog, opts); err != nil {
			return err
		}
	}

	evaluator, err := rules.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to initialize rule evaluator: %w", err)
	}
	if err := rules.RegisterBuiltins(evaluator); err != nil {
		return fmt.Errorf("failed to register builtin checks: %w", err)
	}
	orchestrator := validation.NewOrchestrator(evaluator, cfg.Engine)
	slog.Info("validation engine initialized",
		"checks", len(evaluator.Checks()),
		"max_workers", cfg.Engine.MaxWorkers,
	)

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, repo, source, orchestrator)
		err := asyncWorker.Start(worker.Config{
			TenantIDs:   cfg.Worker.Tenants,
			Debounce:    cfg.Engine.Debounce,
			IdleTimeout: cfg.Worker.IdleTimeout,
		})
		if err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	var watcher *catalog.FileWatcher
	if cfg.Catalog.Path != "" && cfg.Catalog.Watch {
		watcher, err = catalog.NewFileWatcher(cfg.Catalog.Path, 0)
		if err != nil {
			return err
		}
		defer watcher.Stop()

		go watcher.Watch(ctx, func(ctx context.Context, path string) {
			if err := importCatalog(ctx, repo, source, cfg.Catalog, opts); err != nil {
				slog.Error("catalog reload failed", "path", path, "error", err)
				return
			}
			event := domain.CatalogChanged{TenantID: cfg.Catalog.Tenant, Reason: "catalog file changed"}
			if err := bus.PublishJSON(ctx, busImpl, cfg.Catalog.Tenant, domain.TopicCatalogChanged, event); err != nil {
				slog.Warn("failed to publish catalog change", "error", err)
			}
		})
		slog.Info("watching catalog file", "path", cfg.Catalog.Path)
	}

	srv := api.NewServer(cfg.Server, api.Dependencies{
		Repository:   repo,
		Cache:        cacheImpl,
		Bus:          busImpl,
		Source:       source,
		Evaluator:    evaluator,
		Orchestrator: orchestrator,
		Version:      Version,
	})

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	slog.Info("buildcheck is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-serveErr:
		slog.Error("server failed", "error", err)
		cancel()
	}

	// Stop consuming selections before the server and stores go away.
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

	slog.Info("buildcheck shutdown complete")
	return nil
}

// importCatalog loads the configured catalog file into the store and drops
// the tenant's cached schema.
func importCatalog(ctx context.Context, repo domain.Repository, source *catalog.Source, cfg domain.CatalogConfig, opts catalog.Options) error {
	data, err := catalog.ReadFile(cfg.Path)
	if err != nil {
		return err
	}
	if _, err := catalog.Import(ctx, repo, cfg.Tenant, data, opts); err != nil {
		return fmt.Errorf("failed to import catalog: %w", err)
	}
	if source != nil {
		if err := source.Invalidate(ctx, cfg.Tenant); err != nil {
			slog.Warn("failed to invalidate catalog cache", "tenant_id", cfg.Tenant, "error", err)
		}
	}
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	w := os.Stdout
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  buildcheck - PC build compatibility engine")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Version:  %s\n", version)
	fmt.Fprintf(w, "  Tier:     %s\n", cfg.Tier)
	fmt.Fprintf(w, "  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintf(w, "  Worker:   %v (debounce %s)\n", cfg.Worker.Enabled, cfg.Engine.Debounce)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Endpoints:")
	fmt.Fprintln(w, "    POST /validate                - Validate a selection now")
	fmt.Fprintln(w, "    POST /builds/{id}/selection   - Queue a debounced validation")
	fmt.Fprintln(w, "    GET  /validations/{id}        - Get a stored validation")
	fmt.Fprintln(w, "    GET  /categories              - Category tree and templates")
	fmt.Fprintln(w, "    GET  /rules                   - Rules, problems and custom checks")
	fmt.Fprintln(w, "    POST /rules/check             - Dry-run a rule against the schema")
	fmt.Fprintln(w, "    POST /catalog/reload          - Drop the cached catalog")
	fmt.Fprintln(w, "    GET  /health | /ready | /metrics")
	fmt.Fprintln(w)
}
