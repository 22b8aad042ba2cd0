package region

import (
	"context"
	"errors"
	"sort"

	"log/slog"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/repository"
	"github.com/MRC-CLIMB/bryn/pkg/config"
)

// Service exposes regions and their cloud settings.
type Service struct {
	repo   repository.RegionRepository
	clouds config.Regions
	logger *slog.Logger
}

// New constructs a Service.
func New(repo repository.RegionRepository, clouds config.Regions, logger *slog.Logger) Service {
	return Service{repo: repo, clouds: clouds, logger: logger}
}

// ErrRegionNotFound is returned for unknown regions.
var ErrRegionNotFound = domain.NewError(domain.ErrNotFound, "region not found")

// Sync makes sure every configured region has a row.
func (s Service) Sync(ctx context.Context) error {
	names := make([]string, 0, len(s.clouds))
	for name := range s.clouds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rg, err := s.repo.EnsureRegion(ctx, name, s.clouds[name].Description)
		if err != nil {
			return err
		}
		s.logger.Debug("region synced", "region", rg.Name, "disabled", rg.Disabled)
	}
	return nil
}

// List returns all regions with their flags.
func (s Service) List(ctx context.Context) ([]domain.Region, error) {
	return s.repo.ListRegions(ctx)
}

// Get returns a region by identifier.
func (s Service) Get(ctx context.Context, regionID int64) (*domain.Region, error) {
	rg, err := s.repo.GetRegionByID(ctx, regionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRegionNotFound
		}
		return nil, err
	}
	return rg, nil
}

// GetByName returns a region by name.
func (s Service) GetByName(ctx context.Context, name string) (*domain.Region, error) {
	rg, err := s.repo.GetRegionByName(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRegionNotFound
		}
		return nil, err
	}
	return rg, nil
}

// Cloud returns the endpoint settings for a region.
func (s Service) Cloud(name string) (config.RegionCloud, error) {
	cloud, ok := s.clouds.Lookup(name)
	if !ok {
		return config.RegionCloud{}, domain.NewError(domain.ErrNotFound, "region "+name+" has no cloud configuration")
	}
	return cloud, nil
}
