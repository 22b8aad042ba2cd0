package licence

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/repository"
)

// TeamAccess resolves the caller's membership of a team.
type TeamAccess interface {
	Membership(ctx context.Context, teamID, userID int64) (*domain.TeamMember, error)
	RequireAdmin(ctx context.Context, teamID, userID int64) (*domain.TeamMember, error)
}

// Service manages licence versions and team acceptances.
type Service struct {
	licences repository.LicenceRepository
	teams    repository.TeamRepository
	access   TeamAccess
	logger   *slog.Logger
	now      func() time.Time
}

// New constructs a Service.
func New(licences repository.LicenceRepository, teams repository.TeamRepository, access TeamAccess, logger *slog.Logger) Service {
	return Service{licences: licences, teams: teams, access: access, logger: logger, now: time.Now}
}

// ErrNoLicence is returned when no licence version is in effect.
var ErrNoLicence = domain.NewError(domain.ErrNotFound, "no licence is currently in effect")

// Current returns the latest licence version in effect.
func (s Service) Current(ctx context.Context) (*domain.LicenceVersion, error) {
	version, err := s.licences.CurrentLicenceVersion(ctx, s.now().UTC())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoLicence
		}
		return nil, err
	}
	return version, nil
}

// ListAcceptances returns a team's acceptances, newest first.
func (s Service) ListAcceptances(ctx context.Context, teamID, userID int64) ([]domain.LicenceAcceptance, error) {
	if _, err := s.access.Membership(ctx, teamID, userID); err != nil {
		return nil, err
	}
	return s.licences.ListLicenceAcceptances(ctx, teamID)
}

// Accept records a team admin accepting the current licence for the team and
// extends the team's licence expiry.
func (s Service) Accept(ctx context.Context, teamID, userID int64) (*domain.LicenceAcceptance, error) {
	if _, err := s.access.RequireAdmin(ctx, teamID, userID); err != nil {
		return nil, err
	}
	version, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	acc := &domain.LicenceAcceptance{
		Version:    *version,
		UserID:     userID,
		TeamID:     teamID,
		AcceptedAt: s.now().UTC(),
	}
	if err := s.licences.CreateLicenceAcceptance(ctx, acc); err != nil {
		return nil, err
	}
	team, err := s.teams.GetTeamByID(ctx, teamID)
	if err != nil {
		return nil, err
	}
	team.LicenceExpiry = acc.Expiry()
	if err := s.teams.UpdateTeam(ctx, team); err != nil {
		return nil, err
	}
	s.logger.Info("licence accepted", "team_id", teamID, "user_id", userID, "version", version.VersionNumber, "expires", team.LicenceExpiry)
	return acc, nil
}
