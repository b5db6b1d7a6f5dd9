package analytics

import (
	"context"
	"time"

	"github.com/nulzo/model-gateway/internal/store"
	"github.com/nulzo/model-gateway/internal/store/model"
)

type Service interface {
	// ProviderStats aggregates dispatch outcomes per provider over the last days.
	ProviderStats(ctx context.Context, days int) ([]model.ProviderStats, error)
	RecentTraces(ctx context.Context, limit int) ([]model.TraceEvent, error)
}

type service struct {
	repo store.Repository
	now  func() time.Time
}

func NewService(repo store.Repository) Service {
	return &service{
		repo: repo,
		now:  time.Now,
	}
}

func (s *service) ProviderStats(ctx context.Context, days int) ([]model.ProviderStats, error) {
	if days <= 0 {
		days = 7 // default to last week
	}
	since := s.now().Add(-time.Duration(days) * 24 * time.Hour).UnixMilli()
	return s.repo.Traces().ProviderStats(ctx, since)
}

func (s *service) RecentTraces(ctx context.Context, limit int) ([]model.TraceEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.Traces().Recent(ctx, limit)
}
