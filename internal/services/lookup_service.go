package services

import (
	"context"
	"fmt"

	"air-shapelets/internal/models"
	"air-shapelets/internal/repository"
	"air-shapelets/pkg/logging"
	"air-shapelets/pkg/metrics"
)

// MaxPageSize caps the page size of list lookups
const MaxPageSize = 1000

// LookupService serves read-only queries over ingested shapelets
type LookupService struct {
	repo    repository.ShapeletRepository
	logger  logging.Logger
	metrics *metrics.Collector
}

// NewLookupService creates a new lookup service
func NewLookupService(repo repository.ShapeletRepository, logger logging.Logger, metricsCollector *metrics.Collector) *LookupService {
	return &LookupService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// GetShapelets retrieves shapelets with filtering
func (s *LookupService) GetShapelets(ctx context.Context, filter repository.ShapeletFilter) ([]*models.Shapelet, int, error) {
	filter.Limit = clampLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.GetShapelets(ctx, filter)
}

// GetSites retrieves monitoring sites
func (s *LookupService) GetSites(ctx context.Context, limit, offset int) ([]*models.Site, error) {
	return s.repo.ListSites(ctx, clampLimit(limit), max(offset, 0))
}

// GetPollutants retrieves every known parameter code
func (s *LookupService) GetPollutants(ctx context.Context) ([]*models.Pollutant, error) {
	return s.repo.ListPollutants(ctx)
}

// GetRuns retrieves ingestion runs, newest first
func (s *LookupService) GetRuns(ctx context.Context, limit, offset int) ([]*models.IngestionRun, error) {
	return s.repo.ListRuns(ctx, clampLimit(limit), max(offset, 0))
}

// GetRun retrieves one ingestion run
func (s *LookupService) GetRun(ctx context.Context, id int64) (*models.IngestionRun, error) {
	return s.repo.GetRun(ctx, id)
}

// GetSummary describes the ingested data set
func (s *LookupService) GetSummary(ctx context.Context) (*models.DatasetSummary, error) {
	summary, err := s.repo.Summary(ctx)
	if err != nil {
		s.logger.Error(ctx, "[SUMMARY_ERROR] Failed to summarize shapelets", logging.Fields{}, err)
		return nil, fmt.Errorf("failed to summarize shapelets: %w", err)
	}
	return summary, nil
}

// HealthCheck verifies the store is reachable
func (s *LookupService) HealthCheck(ctx context.Context) error {
	return s.repo.HealthCheck(ctx)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > MaxPageSize:
		return MaxPageSize
	}
	return limit
}
