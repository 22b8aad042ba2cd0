package region

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/repository"
	"github.com/MRC-CLIMB/bryn/pkg/config"
)

type stubRegions struct {
	repository.RegionRepository
	ensured []string
}

func (s *stubRegions) EnsureRegion(_ context.Context, name, description string) (*domain.Region, error) {
	s.ensured = append(s.ensured, name)
	return &domain.Region{Name: name, Description: description}, nil
}

func (s *stubRegions) GetRegionByID(context.Context, int64) (*domain.Region, error) {
	return nil, repository.ErrNotFound
}

func TestSyncEnsuresConfiguredRegionsInOrder(t *testing.T) {
	repo := &stubRegions{}
	clouds := config.Regions{"warwick": {AuthURL: "https://w"}, "bham": {AuthURL: "https://b"}}
	svc := New(repo, clouds, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := svc.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(repo.ensured) != 2 || repo.ensured[0] != "bham" || repo.ensured[1] != "warwick" {
		t.Fatalf("unexpected ensured regions %v", repo.ensured)
	}
	if _, err := svc.Cloud("cardiff"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected missing cloud config error, got %v", err)
	}
	if _, err := svc.Get(context.Background(), 9); !errors.Is(err, ErrRegionNotFound) {
		t.Fatalf("expected region not found, got %v", err)
	}
}
