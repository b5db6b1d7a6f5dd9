package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/audit"
	"github.com/nulzo/model-gateway/internal/catalog"
	"github.com/nulzo/model-gateway/internal/config"
	"github.com/nulzo/model-gateway/internal/control"
	"github.com/nulzo/model-gateway/internal/controlstore"
	"github.com/nulzo/model-gateway/internal/matching"
	"github.com/nulzo/model-gateway/internal/provider"
	"github.com/nulzo/model-gateway/internal/store/sqlite"
	"github.com/nulzo/model-gateway/internal/tasks"
	"github.com/nulzo/model-gateway/internal/upstream"
)

// seed prepares a fresh database: providers from the configured seed file
// (or the legacy upstream settings), model aliases and profiles, and the
// standard maintenance jobs.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := zap.NewNop()
	repo, err := sqlite.NewSQLiteStorage(cfg.Store.Path, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer repo.Close()

	ctx := context.Background()
	cs := controlstore.New(repo, logger)

	var opts []provider.Option
	if cfg.Store.SeedFile != "" {
		seedCfg, err := provider.LoadSeedFile(cfg.Store.SeedFile)
		if err != nil {
			log.Fatal(err)
		}
		opts = append(opts, provider.WithSeed(seedCfg))
	}
	registry := provider.NewRegistry(cs, cfg.Upstream, logger, opts...)
	providers, err := registry.Load(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Providers: %d (default %q)\n", len(providers.Providers), providers.DefaultProviderID)

	models := provider.NewModelRegistry(cs, registry, cfg.Upstream.Model, logger)
	if err := models.Load(ctx); err != nil {
		log.Fatal(err)
	}

	existing, err := repo.Tasks().ListEnabled(ctx)
	if err != nil {
		log.Fatal(err)
	}
	if len(existing) > 0 {
		fmt.Printf("Tasks already scheduled: %d\n", len(existing))
		return
	}

	client := upstream.New(nil, logger)
	auditor := audit.NewService(repo, logger, cfg.Audit.Key, cfg.Server.APIKey, cfg.Audit.RetentionDays)
	catalogSvc := catalog.NewService(repo, registry, client, auditor, logger)
	controlSvc := control.NewService(registry, models, catalogSvc, matching.NewEngine(repo, auditor, logger), client, auditor, logger)
	runner := tasks.NewRunner(repo, controlSvc.JobHandlers(), logger)

	jobs := []tasks.JobSpec{
		{Name: "catalog-sync-default", Type: control.JobCatalogSync, Interval: 6 * time.Hour},
		{Name: "catalog-cleanup", Type: control.JobCatalogCleanup, Cron: "30 3 * * *"},
	}
	for _, spec := range jobs {
		id, err := runner.Schedule(ctx, spec)
		if err != nil {
			if errors.Is(err, tasks.ErrInvalidJob) {
				log.Fatalf("Invalid seed job %s: %v", spec.Name, err)
			}
			log.Fatal(err)
		}
		fmt.Printf("Scheduled %s (%s): %d\n", spec.Name, spec.Type, id)
	}
}
