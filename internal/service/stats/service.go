package stats

import (
	"context"
	"encoding/json"
	"time"

	"log/slog"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/openstack"
	"github.com/MRC-CLIMB/bryn/internal/repository"
	"github.com/MRC-CLIMB/bryn/internal/ws"
)

// Regions lists configured regions.
type Regions interface {
	List(ctx context.Context) ([]domain.Region, error)
}

// AdminClouds builds region-admin cloud façades.
type AdminClouds interface {
	AdminCloud(regionName string) (*openstack.Service, error)
}

// Broadcaster publishes payloads to stream subscribers.
type Broadcaster interface {
	Broadcast(topic string, payload []byte)
}

// Service reads and refreshes hypervisor capacity.
type Service struct {
	repo    repository.HypervisorStatsRepository
	regions Regions
	clouds  AdminClouds
	feed    Broadcaster
	logger  *slog.Logger
	now     func() time.Time
}

// New constructs a Service. feed may be nil.
func New(repo repository.HypervisorStatsRepository, regions Regions, clouds AdminClouds, feed Broadcaster, logger *slog.Logger) Service {
	return Service{repo: repo, regions: regions, clouds: clouds, feed: feed, logger: logger, now: time.Now}
}

// RefreshResult summarises one refresh run.
type RefreshResult struct {
	Updated []string          `json:"updated"`
	Skipped []string          `json:"skipped"`
	Failed  map[string]string `json:"failed"`
}

// List returns the latest stats for every region.
func (s Service) List(ctx context.Context) ([]domain.HypervisorStats, error) {
	return s.repo.ListHypervisorStats(ctx)
}

// Refresh pulls statistics for each enabled region and stores them. A region
// that fails is logged and skipped.
func (s Service) Refresh(ctx context.Context) (RefreshResult, error) {
	result := RefreshResult{Failed: map[string]string{}}
	regions, err := s.regions.List(ctx)
	if err != nil {
		return result, err
	}
	for _, region := range regions {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if region.Disabled {
			result.Skipped = append(result.Skipped, region.Name)
			continue
		}
		if err := s.refreshRegion(ctx, region); err != nil {
			s.logger.Warn("hypervisor stats refresh failed", "region", region.Name, "error", err)
			result.Failed[region.Name] = err.Error()
			continue
		}
		result.Updated = append(result.Updated, region.Name)
	}
	if len(result.Updated) > 0 {
		s.Publish(ctx)
	}
	return result, nil
}

func (s Service) refreshRegion(ctx context.Context, region domain.Region) error {
	cloud, err := s.clouds.AdminCloud(region.Name)
	if err != nil {
		return err
	}
	st, err := cloud.Hypervisors.Statistics(ctx)
	if err != nil {
		return err
	}
	return s.repo.UpsertHypervisorStats(ctx, domain.HypervisorStats{
		RegionID:           region.ID,
		RegionName:         region.Name,
		HypervisorCount:    st.Count,
		DiskAvailableLeast: st.DiskAvailableLeast,
		FreeDiskGB:         st.FreeDiskGB,
		FreeRAMMB:          st.FreeRAMMB,
		LocalGB:            st.LocalGB,
		LocalGBUsed:        st.LocalGBUsed,
		MemoryMB:           st.MemoryMB,
		MemoryMBUsed:       st.MemoryMBUsed,
		RunningVMs:         st.RunningVMs,
		VCPUs:              st.VCPUs,
		VCPUsUsed:          st.VCPUsUsed,
		UpdatedAt:          s.now().UTC(),
	})
}

// Publish broadcasts the stored stats to stream subscribers.
func (s Service) Publish(ctx context.Context) {
	if s.feed == nil {
		return
	}
	all, err := s.repo.ListHypervisorStats(ctx)
	if err != nil {
		s.logger.Warn("load hypervisor stats for broadcast", "error", err)
		return
	}
	payload, err := json.Marshal(all)
	if err != nil {
		s.logger.Warn("encode hypervisor stats", "error", err)
		return
	}
	s.feed.Broadcast(ws.TopicHypervisorStats, payload)
}
