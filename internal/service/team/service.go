package team

import (
	"context"
	"errors"
	"strings"

	"log/slog"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/repository"
)

// Service handles team workflows and membership checks.
type Service struct {
	repo        repository.TeamRepository
	logger      *slog.Logger
	phoneRegion string
}

// New constructs a Service. phoneRegion is the default region for national
// phone numbers.
func New(repo repository.TeamRepository, logger *slog.Logger, phoneRegion string) Service {
	return Service{repo: repo, logger: logger, phoneRegion: phoneRegion}
}

var (
	// ErrNotMember hides teams from users outside them.
	ErrNotMember = domain.NewError(domain.ErrNotFound, "team not found")
	// ErrNotAdmin is returned when a member attempts an admin action.
	ErrNotAdmin = domain.NewError(domain.ErrForbidden, "team admin rights required")
	// ErrOwnMembership is returned when an admin tries to remove themselves.
	ErrOwnMembership = domain.NewError(domain.ErrNotAllowed, "you cannot remove your own membership")
	// ErrMemberHoldsLeases is returned when the member is still assigned server leases.
	ErrMemberHoldsLeases = domain.NewError(domain.ErrConflict, "member is still assigned server leases, reassign them first")

	errMemberNotFound = domain.NewError(domain.ErrNotFound, "team member not found")
)

// Update carries the editable team fields. Nil fields are left unchanged.
type Update struct {
	Position          *string `json:"position"`
	Department        *string `json:"department"`
	PhoneNumber       *string `json:"phone_number"`
	ResearchInterests *string `json:"research_interests"`
	IntendedClimbUse  *string `json:"intended_climb_use"`
	HeldMRCGrants     *string `json:"held_mrc_grants"`
	DefaultRegionID   *int64  `json:"default_region_id"`
}

// Membership returns the caller's membership of a team.
func (s Service) Membership(ctx context.Context, teamID, userID int64) (*domain.TeamMember, error) {
	member, err := s.repo.GetMember(ctx, teamID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotMember
		}
		return nil, err
	}
	return member, nil
}

// RequireAdmin returns the caller's membership if they administer the team.
func (s Service) RequireAdmin(ctx context.Context, teamID, userID int64) (*domain.TeamMember, error) {
	member, err := s.Membership(ctx, teamID, userID)
	if err != nil {
		return nil, err
	}
	if !member.IsAdmin {
		return nil, ErrNotAdmin
	}
	return member, nil
}

// Get returns a team the caller belongs to.
func (s Service) Get(ctx context.Context, teamID, userID int64) (*domain.Team, error) {
	if _, err := s.Membership(ctx, teamID, userID); err != nil {
		return nil, err
	}
	return s.repo.GetTeamByID(ctx, teamID)
}

// ListForUser returns the caller's teams.
func (s Service) ListForUser(ctx context.Context, userID int64) ([]domain.Team, error) {
	return s.repo.ListTeamsByUser(ctx, userID)
}

// Update applies changes to a team. Only admins may edit.
func (s Service) Update(ctx context.Context, teamID, userID int64, changes Update) (*domain.Team, error) {
	if _, err := s.RequireAdmin(ctx, teamID, userID); err != nil {
		return nil, err
	}
	team, err := s.repo.GetTeamByID(ctx, teamID)
	if err != nil {
		return nil, err
	}
	verr := domain.NewValidationError()
	assign := func(dst *string, src *string, field string, required bool) {
		if src == nil {
			return
		}
		value := strings.TrimSpace(*src)
		if required && value == "" {
			verr.Add(field, "this field is required")
			return
		}
		*dst = value
	}
	assign(&team.Position, changes.Position, "position", true)
	assign(&team.Department, changes.Department, "department", true)
	assign(&team.ResearchInterests, changes.ResearchInterests, "research_interests", true)
	assign(&team.IntendedClimbUse, changes.IntendedClimbUse, "intended_climb_use", true)
	assign(&team.HeldMRCGrants, changes.HeldMRCGrants, "held_mrc_grants", false)
	if changes.PhoneNumber != nil {
		phone, err := domain.NormalizePhoneNumber(*changes.PhoneNumber, s.phoneRegion)
		if err != nil {
			verr.Add("phone_number", err.Error())
		} else {
			team.PhoneNumber = phone
		}
	}
	if changes.DefaultRegionID != nil {
		team.DefaultRegionID = changes.DefaultRegionID
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateTeam(ctx, team); err != nil {
		return nil, err
	}
	s.logger.Info("team updated", "team_id", teamID, "user_id", userID)
	return team, nil
}

// ListMembers returns a team's members with their users.
func (s Service) ListMembers(ctx context.Context, teamID, userID int64) ([]domain.TeamMemberDetail, error) {
	if _, err := s.Membership(ctx, teamID, userID); err != nil {
		return nil, err
	}
	return s.repo.ListMembers(ctx, teamID)
}

// DeleteMember removes a membership. Admins cannot remove themselves.
func (s Service) DeleteMember(ctx context.Context, teamID, memberID, userID int64) error {
	caller, err := s.RequireAdmin(ctx, teamID, userID)
	if err != nil {
		return err
	}
	target, err := s.repo.GetMemberByID(ctx, memberID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errMemberNotFound
		}
		return err
	}
	if target.TeamID != teamID {
		return errMemberNotFound
	}
	if target.ID == caller.ID {
		return ErrOwnMembership
	}
	if err := s.repo.DeleteMember(ctx, memberID); err != nil {
		if errors.Is(err, repository.ErrInUse) {
			return ErrMemberHoldsLeases
		}
		return err
	}
	s.logger.Info("team member removed", "team_id", teamID, "member_id", memberID, "by", userID)
	return nil
}

// Admins returns the users administering a team.
func (s Service) Admins(ctx context.Context, teamID int64) ([]domain.User, error) {
	return s.repo.ListTeamAdmins(ctx, teamID)
}
