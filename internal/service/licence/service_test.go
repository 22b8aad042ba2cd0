package licence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/repository"
)

type memoryStore struct {
	repository.LicenceRepository
	repository.TeamRepository
	version     *domain.LicenceVersion
	acceptances []domain.LicenceAcceptance
	team        domain.Team
}

func (m *memoryStore) CurrentLicenceVersion(context.Context, time.Time) (*domain.LicenceVersion, error) {
	if m.version == nil {
		return nil, repository.ErrNotFound
	}
	return m.version, nil
}

func (m *memoryStore) CreateLicenceAcceptance(_ context.Context, acc *domain.LicenceAcceptance) error {
	acc.ID = int64(len(m.acceptances) + 1)
	m.acceptances = append(m.acceptances, *acc)
	return nil
}

func (m *memoryStore) ListLicenceAcceptances(context.Context, int64) ([]domain.LicenceAcceptance, error) {
	return m.acceptances, nil
}

func (m *memoryStore) GetTeamByID(context.Context, int64) (*domain.Team, error) {
	clone := m.team
	return &clone, nil
}

func (m *memoryStore) UpdateTeam(_ context.Context, team *domain.Team) error {
	m.team = *team
	return nil
}

type memberAccess struct{}

// memberAccess treats user 7 as the team admin and user 9 as a regular member.
func (memberAccess) Membership(_ context.Context, teamID, userID int64) (*domain.TeamMember, error) {
	if userID != 7 && userID != 9 {
		return nil, domain.NewError(domain.ErrNotFound, "team not found")
	}
	return &domain.TeamMember{TeamID: teamID, UserID: userID, IsAdmin: userID == 7}, nil
}

func (a memberAccess) RequireAdmin(ctx context.Context, teamID, userID int64) (*domain.TeamMember, error) {
	m, err := a.Membership(ctx, teamID, userID)
	if err != nil {
		return nil, err
	}
	if !m.IsAdmin {
		return nil, domain.NewError(domain.ErrForbidden, "team admin rights required")
	}
	return m, nil
}

func TestAcceptExtendsTeamLicence(t *testing.T) {
	store := &memoryStore{
		version: &domain.LicenceVersion{ID: 3, VersionNumber: "2.0", ValidityPeriodDays: 30},
		team:    domain.Team{ID: 1},
	}
	svc := New(store, store, memberAccess{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	acc, err := svc.Accept(context.Background(), 1, 7)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	want := now.AddDate(0, 0, 30)
	if !acc.Expiry().Equal(want) || !store.team.LicenceExpiry.Equal(want) {
		t.Fatalf("expected expiry %v, got %v / %v", want, acc.Expiry(), store.team.LicenceExpiry)
	}
	if !store.team.LicenceIsValid(now.AddDate(0, 0, 29)) || store.team.LicenceIsValid(now.AddDate(0, 0, 31)) {
		t.Fatalf("unexpected licence validity window")
	}
}

func TestAcceptRefusesRegularMember(t *testing.T) {
	store := &memoryStore{
		version: &domain.LicenceVersion{ID: 3, VersionNumber: "2.0", ValidityPeriodDays: 30},
		team:    domain.Team{ID: 1},
	}
	svc := New(store, store, memberAccess{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := svc.Accept(context.Background(), 1, 9); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for a non-admin member, got %v", err)
	}
	if len(store.acceptances) != 0 || !store.team.LicenceExpiry.IsZero() {
		t.Fatalf("refused acceptance must not change the team")
	}
	if _, err := svc.ListAcceptances(context.Background(), 1, 9); err != nil {
		t.Fatalf("members may still list acceptances: %v", err)
	}
}

func TestAcceptRequiresMembershipAndCurrentVersion(t *testing.T) {
	store := &memoryStore{}
	svc := New(store, store, memberAccess{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := svc.Accept(context.Background(), 1, 8); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected non-member to be refused, got %v", err)
	}
	if _, err := svc.Accept(context.Background(), 1, 7); !errors.Is(err, ErrNoLicence) {
		t.Fatalf("expected no licence error, got %v", err)
	}
}
