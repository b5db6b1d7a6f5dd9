package control

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/provider"
	"github.com/nulzo/model-gateway/internal/tasks"
)

// Scheduled job types served by JobHandlers.
const (
	JobCatalogSync    = "catalog_sync"
	JobCatalogCleanup = "catalog_cleanup"
)

// JobHandlers returns the task runner handlers for catalog maintenance.
//
//	catalog_sync     {"provider_id": "..."}; the default provider when omitted
//	catalog_cleanup  deletes offline catalog rows
func (s *Service) JobHandlers() map[string]tasks.JobHandler {
	return map[string]tasks.JobHandler{
		JobCatalogSync:    s.catalogSyncJob,
		JobCatalogCleanup: s.catalogCleanupJob,
	}
}

func (s *Service) catalogSyncJob(ctx context.Context, job tasks.Job) error {
	id, _ := job.Payload["provider_id"].(string)
	res, err := s.SyncCatalog(ctx, id, tasks.Actor)
	if err != nil {
		if id == "" && errors.Is(err, provider.ErrProviderNotFound) {
			return tasks.ErrSkipRun
		}
		return err
	}
	s.logger.Info("Scheduled catalog sync finished",
		zap.String("job", job.Name),
		zap.String("provider_id", res.Catalog.ProviderID),
		zap.Int("models", res.Catalog.Models),
		zap.Bool("cached", res.Catalog.Cached))
	return nil
}

func (s *Service) catalogCleanupJob(ctx context.Context, job tasks.Job) error {
	n, err := s.catalog.CleanupOffline(ctx, tasks.Actor)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("Pruned offline catalog rows", zap.String("job", job.Name), zap.Int64("rows", n))
	}
	return nil
}
