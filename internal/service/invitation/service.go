package invitation

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/repository"
	"github.com/MRC-CLIMB/bryn/pkg/crypto"
)

// TeamAccess resolves the caller's membership of a team.
type TeamAccess interface {
	Membership(ctx context.Context, teamID, userID int64) (*domain.TeamMember, error)
	RequireAdmin(ctx context.Context, teamID, userID int64) (*domain.TeamMember, error)
}

// Mailer sends invitation emails.
type Mailer interface {
	Invitation(ctx context.Context, inv domain.Invitation, team domain.Team, inviter domain.User) error
}

// Service manages team invitations.
type Service struct {
	invitations repository.InvitationRepository
	teams       repository.TeamRepository
	users       repository.UserRepository
	enrollment  repository.EnrollmentRepository
	access      TeamAccess
	mailer      Mailer
	logger      *slog.Logger
	now         func() time.Time
}

// New constructs a Service.
func New(invitations repository.InvitationRepository, teams repository.TeamRepository, users repository.UserRepository, enrollment repository.EnrollmentRepository, access TeamAccess, mailer Mailer, logger *slog.Logger) Service {
	return Service{invitations: invitations, teams: teams, users: users, enrollment: enrollment, access: access, mailer: mailer, logger: logger, now: time.Now}
}

var (
	// ErrAlreadyAccepted is returned when deleting or re-using an accepted invitation.
	ErrAlreadyAccepted = domain.NewError(domain.ErrNotAllowed, "invitation has already been accepted")

	// ErrWrongRecipient is returned when a signed-in user claims an invitation
	// addressed to someone else.
	ErrWrongRecipient = domain.NewError(domain.ErrForbidden, "this invitation was sent to a different email address")
	// ErrAlreadyMember is returned when the invitee already belongs to the team.
	ErrAlreadyMember = domain.NewError(domain.ErrConflict, "you are already a member of this team")

	errInvitationNotFound = domain.NewError(domain.ErrNotFound, "invitation not found")
)

const msgAccountExists = "an account with this email already exists, sign in to accept the invitation"


// List returns a team's unaccepted invitations.
func (s Service) List(ctx context.Context, teamID, userID int64) ([]domain.Invitation, error) {
	if _, err := s.access.Membership(ctx, teamID, userID); err != nil {
		return nil, err
	}
	return s.invitations.ListPendingInvitations(ctx, teamID)
}

// Create invites email to join a team and sends the invitation.
func (s Service) Create(ctx context.Context, teamID, userID int64, email, message string) (*domain.Invitation, error) {
	if _, err := s.access.RequireAdmin(ctx, teamID, userID); err != nil {
		return nil, err
	}
	normalized, ok := domain.NormalizeEmail(email)
	if !ok {
		verr := domain.NewValidationError()
		verr.Add("email", "enter a valid email address")
		return nil, verr
	}
	inv := &domain.Invitation{
		UUID:     uuid.NewString(),
		ToTeamID: teamID,
		MadeByID: userID,
		Email:    normalized,
		Message:  strings.TrimSpace(message),
		Date:     s.now().UTC(),
	}
	if err := s.invitations.CreateInvitation(ctx, inv); err != nil {
		return nil, err
	}
	if err := s.send(ctx, *inv); err != nil {
		return nil, err
	}
	s.logger.Info("invitation created", "team_id", teamID, "invitation", inv.UUID, "by", userID)
	return inv, nil
}

// Delete withdraws a pending invitation.
func (s Service) Delete(ctx context.Context, teamID int64, id string, userID int64) error {
	if _, err := s.access.RequireAdmin(ctx, teamID, userID); err != nil {
		return err
	}
	inv, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if inv.ToTeamID != teamID {
		return errInvitationNotFound
	}
	if inv.Accepted {
		return ErrAlreadyAccepted
	}
	return s.invitations.DeleteInvitation(ctx, id)
}

// Pending returns an invitation that can still be accepted, with its team.
func (s Service) Pending(ctx context.Context, id string) (*domain.Invitation, *domain.Team, error) {
	inv, err := s.get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if inv.Accepted {
		return nil, nil, ErrAlreadyAccepted
	}
	team, err := s.teams.GetTeamByID(ctx, inv.ToTeamID)
	if err != nil {
		return nil, nil, err
	}
	return inv, team, nil
}

// AcceptRequest is the form an invitee completes.
type AcceptRequest struct {
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Accept creates an active user for the invited email, adds them to the
// team as a member and marks the invitation used, all in one transaction.
func (s Service) Accept(ctx context.Context, id string, req AcceptRequest) (*domain.User, error) {
	inv, _, err := s.Pending(ctx, id)
	if err != nil {
		return nil, err
	}
	verr := domain.NewValidationError()
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if req.FirstName == "" {
		verr.Add("first_name", "this field is required")
	}
	if req.LastName == "" {
		verr.Add("last_name", "this field is required")
	}
	if msg := domain.CheckPassword(req.Password); msg != "" {
		verr.Add("password", msg)
	} else if req.Password != req.ConfirmPassword {
		verr.Add("confirm_password", "passwords do not match")
	}
	taken, err := s.users.UsernameOrEmailTaken(ctx, inv.Email, inv.Email)
	if err != nil {
		return nil, err
	}
	if taken {
		verr.Add("email", msgAccountExists)
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		Username:       inv.Email,
		Email:          inv.Email,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		PasswordHash:   hash,
		IsActive:       true,
		EmailValidated: true,
		CreatedAt:      s.now().UTC(),
	}
	member := &domain.TeamMember{}
	if err := s.enrollment.AcceptInvitation(ctx, inv.UUID, user, member); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, s.acceptConflict(ctx, inv.UUID)
		}
		return nil, err
	}
	s.logger.Info("invitation accepted", "team_id", inv.ToTeamID, "invitation", inv.UUID, "user_id", user.ID)
	return user, nil
}

// AcceptAsUser adds an existing, signed-in user to the invitation's team as a
// regular member. The user's email must match the invitation.
func (s Service) AcceptAsUser(ctx context.Context, id string, u domain.User) (*domain.TeamMember, error) {
	inv, _, err := s.Pending(ctx, id)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(strings.TrimSpace(u.Email), inv.Email) {
		return nil, ErrWrongRecipient
	}
	if _, err := s.teams.GetMember(ctx, inv.ToTeamID, u.ID); err == nil {
		return nil, ErrAlreadyMember
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	member := &domain.TeamMember{}
	if err := s.enrollment.AcceptInvitation(ctx, inv.UUID, &u, member); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			if _, merr := s.teams.GetMember(ctx, inv.ToTeamID, u.ID); merr == nil {
				return nil, ErrAlreadyMember
			}
			return nil, ErrAlreadyAccepted
		}
		return nil, err
	}
	s.logger.Info("invitation accepted", "team_id", inv.ToTeamID, "invitation", inv.UUID, "user_id", u.ID)
	return member, nil
}

// acceptConflict explains why the transactional accept was refused.
func (s Service) acceptConflict(ctx context.Context, id string) error {
	inv, err := s.get(ctx, id)
	if err == nil && inv.Accepted {
		return ErrAlreadyAccepted
	}
	verr := domain.NewValidationError()
	verr.Add("email", msgAccountExists)
	return verr
}

// Resend emails a pending invitation again.
func (s Service) Resend(ctx context.Context, id string) error {
	inv, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if inv.Accepted {
		return ErrAlreadyAccepted
	}
	return s.send(ctx, *inv)
}

func (s Service) get(ctx context.Context, id string) (*domain.Invitation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errInvitationNotFound
	}
	inv, err := s.invitations.GetInvitation(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errInvitationNotFound
		}
		return nil, err
	}
	return inv, nil
}

func (s Service) send(ctx context.Context, inv domain.Invitation) error {
	team, err := s.teams.GetTeamByID(ctx, inv.ToTeamID)
	if err != nil {
		return err
	}
	inviter, err := s.users.GetUserByID(ctx, inv.MadeByID)
	if err != nil {
		return err
	}
	return s.mailer.Invitation(ctx, inv, *team, *inviter)
}
