package admin

import (
	"context"
	"errors"

	"log/slog"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/repository"
)

// Provisioner creates cloud tenants.
type Provisioner interface {
	Provision(ctx context.Context, teamID, regionID int64) (*domain.Tenant, error)
}

// Invitations resends invitation emails.
type Invitations interface {
	Resend(ctx context.Context, id string) error
}

// Validations resends email validation links.
type Validations interface {
	ResendValidation(ctx context.Context, userID int64) error
}

// Mailer delivers staff-triggered notifications.
type Mailer interface {
	TeamVerified(ctx context.Context, team domain.Team, admins []domain.User) error
}

// Deps groups the collaborators of Service.
type Deps struct {
	Users       repository.UserRepository
	Teams       repository.TeamRepository
	Provisioner Provisioner
	Invitations Invitations
	Validations Validations
	Mailer      Mailer
	Logger      *slog.Logger
}

// Service runs staff bulk actions. Each action reports a result per item and
// never aborts the batch.
type Service struct {
	users       repository.UserRepository
	teams       repository.TeamRepository
	provisioner Provisioner
	invitations Invitations
	validations Validations
	mailer      Mailer
	logger      *slog.Logger
}

// New constructs a Service.
func New(d Deps) Service {
	return Service{
		users:       d.Users,
		teams:       d.Teams,
		provisioner: d.Provisioner,
		invitations: d.Invitations,
		validations: d.Validations,
		mailer:      d.Mailer,
		logger:      d.Logger,
	}
}

// ErrStaffOnly is returned when a non-staff user calls an admin action.
var ErrStaffOnly = domain.NewError(domain.ErrForbidden, "staff access required")

// ItemResult is the outcome of one item of a bulk action.
type ItemResult struct {
	ID    any    `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func result(id any, err error) ItemResult {
	if err != nil {
		return ItemResult{ID: id, Error: err.Error()}
	}
	return ItemResult{ID: id, OK: true}
}

// RequireStaff returns the requester if they are staff.
func (s Service) RequireStaff(ctx context.Context, userID int64) (*domain.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrStaffOnly
		}
		return nil, err
	}
	if !user.IsStaff && !user.IsSuperuser {
		return nil, ErrStaffOnly
	}
	return user, nil
}

// VerifyTeams marks teams verified and notifies their admins.
func (s Service) VerifyTeams(ctx context.Context, requesterID int64, teamIDs []int64) ([]ItemResult, error) {
	if _, err := s.RequireStaff(ctx, requesterID); err != nil {
		return nil, err
	}
	out := make([]ItemResult, 0, len(teamIDs))
	for _, id := range teamIDs {
		err := s.verifyTeam(ctx, id)
		if err != nil {
			s.logger.Warn("verify team failed", "team_id", id, "error", err)
		}
		out = append(out, result(id, err))
	}
	return out, nil
}

func (s Service) verifyTeam(ctx context.Context, teamID int64) error {
	team, err := s.teams.GetTeamByID(ctx, teamID)
	if err != nil {
		return err
	}
	if !team.Verified {
		team.Verified = true
		if err := s.teams.UpdateTeam(ctx, team); err != nil {
			return err
		}
	}
	admins, err := s.teams.ListTeamAdmins(ctx, teamID)
	if err != nil {
		return err
	}
	if err := s.mailer.TeamVerified(ctx, *team, admins); err != nil {
		return err
	}
	s.logger.Info("team verified", "team_id", teamID)
	return nil
}

// CreateTenants provisions a tenant in a region for each team.
func (s Service) CreateTenants(ctx context.Context, requesterID, regionID int64, teamIDs []int64) ([]ItemResult, error) {
	if _, err := s.RequireStaff(ctx, requesterID); err != nil {
		return nil, err
	}
	out := make([]ItemResult, 0, len(teamIDs))
	for _, id := range teamIDs {
		_, err := s.provisioner.Provision(ctx, id, regionID)
		if err != nil {
			s.logger.Warn("create tenant failed", "team_id", id, "region_id", regionID, "error", err)
		}
		out = append(out, result(id, err))
	}
	return out, nil
}

// ResendInvitations resends invitation emails.
func (s Service) ResendInvitations(ctx context.Context, requesterID int64, ids []string) ([]ItemResult, error) {
	if _, err := s.RequireStaff(ctx, requesterID); err != nil {
		return nil, err
	}
	out := make([]ItemResult, 0, len(ids))
	for _, id := range ids {
		out = append(out, result(id, s.invitations.Resend(ctx, id)))
	}
	return out, nil
}

// ResendValidation resends email validation links.
func (s Service) ResendValidation(ctx context.Context, requesterID int64, userIDs []int64) ([]ItemResult, error) {
	if _, err := s.RequireStaff(ctx, requesterID); err != nil {
		return nil, err
	}
	out := make([]ItemResult, 0, len(userIDs))
	for _, id := range userIDs {
		out = append(out, result(id, s.validations.ResendValidation(ctx, id)))
	}
	return out, nil
}
