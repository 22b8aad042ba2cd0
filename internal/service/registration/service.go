package registration

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/repository"
	"github.com/MRC-CLIMB/bryn/pkg/config"
	"github.com/MRC-CLIMB/bryn/pkg/crypto"
	jwtpkg "github.com/MRC-CLIMB/bryn/pkg/jwt"
)

// Mailer sends registration emails.
type Mailer interface {
	ValidateEmail(ctx context.Context, user domain.User, token string) error
	RegistrationAdminNotice(ctx context.Context, to []string, team domain.Team, user domain.User) error
}

// Service registers new users and teams.
type Service struct {
	users        repository.UserRepository
	teams        repository.TeamRepository
	institutions repository.InstitutionRepository
	enrollment   repository.EnrollmentRepository
	mailer       Mailer
	logger       *slog.Logger
	cfg          config.APIConfig
	now          func() time.Time
}

// New constructs a Service.
func New(users repository.UserRepository, teams repository.TeamRepository, institutions repository.InstitutionRepository, enrollment repository.EnrollmentRepository, mailer Mailer, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{users: users, teams: teams, institutions: institutions, enrollment: enrollment, mailer: mailer, logger: logger, cfg: cfg, now: time.Now}
}

// ErrInvalidToken is returned for bad or stale validation links.
var ErrInvalidToken = domain.NewError(domain.ErrInvalidInput, "validation link is invalid or has expired")

// Request is the registration form.
type Request struct {
	FirstName         string `json:"first_name"`
	LastName          string `json:"last_name"`
	Email             string `json:"email"`
	Password          string `json:"password"`
	ConfirmPassword   string `json:"confirm_password"`
	TeamName          string `json:"team_name"`
	Position          string `json:"position"`
	Department        string `json:"department"`
	Institution       string `json:"institution"`
	PhoneNumber       string `json:"phone_number"`
	ResearchInterests string `json:"research_interests"`
	IntendedClimbUse  string `json:"intended_climb_use"`
	HeldMRCGrants     string `json:"held_mrc_grants"`
	AcceptedTerms     bool   `json:"accepted_terms"`
}

// Result is a completed registration.
type Result struct {
	User   *domain.User
	Team   *domain.Team
	Member *domain.TeamMember
}

// Register creates an inactive user and an unverified team with the user as
// its admin, then sends the validation email and the admin notice.
func (s Service) Register(ctx context.Context, req Request) (*Result, error) {
	req = trimRequest(req)
	verr := domain.NewValidationError()
	required := map[string]string{
		"first_name":         req.FirstName,
		"last_name":          req.LastName,
		"team_name":          req.TeamName,
		"position":           req.Position,
		"department":         req.Department,
		"institution":        req.Institution,
		"research_interests": req.ResearchInterests,
		"intended_climb_use": req.IntendedClimbUse,
	}
	for field, value := range required {
		if value == "" {
			verr.Add(field, "this field is required")
		}
	}
	email, ok := domain.NormalizeEmail(req.Email)
	if !ok {
		verr.Add("email", "enter a valid email address")
	}
	if msg := domain.CheckPassword(req.Password); msg != "" {
		verr.Add("password", msg)
	} else if req.Password != req.ConfirmPassword {
		verr.Add("confirm_password", "passwords do not match")
	}
	if !req.AcceptedTerms {
		verr.Add("accepted_terms", "you must accept the terms and conditions")
	}
	phone, err := domain.NormalizePhoneNumber(req.PhoneNumber, s.cfg.PhoneDefaultRegion)
	if err != nil {
		verr.Add("phone_number", err.Error())
	}
	if req.Institution != "" {
		known, err := s.institutionExists(ctx, req.Institution)
		if err != nil {
			return nil, err
		}
		if !known {
			verr.Add("institution", "select an institution from the list")
		}
	}
	if ok {
		taken, err := s.users.UsernameOrEmailTaken(ctx, email, email)
		if err != nil {
			return nil, err
		}
		if taken {
			verr.Add("email", "an account with this email already exists")
		}
	}
	if req.TeamName != "" {
		taken, err := s.teams.TeamNameTaken(ctx, req.TeamName)
		if err != nil {
			return nil, err
		}
		if taken {
			verr.Add("team_name", "a team with this name already exists")
		}
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := &domain.User{
		Username:     email,
		Email:        email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PasswordHash: hash,
		CreatedAt:    now,
	}
	team := &domain.Team{
		Name:              req.TeamName,
		CreatedAt:         now,
		Position:          req.Position,
		Department:        req.Department,
		Institution:       req.Institution,
		PhoneNumber:       phone,
		ResearchInterests: req.ResearchInterests,
		IntendedClimbUse:  req.IntendedClimbUse,
		HeldMRCGrants:     req.HeldMRCGrants,
		LicenceExpiry:     now,
	}
	member := &domain.TeamMember{IsAdmin: true}
	if err := s.enrollment.RegisterTeam(ctx, user, team, member); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, s.conflictError(ctx, req.TeamName)
		}
		return nil, err
	}
	s.logger.Info("team registered", "team_id", team.ID, "user_id", user.ID)

	if err := s.sendValidation(ctx, *user); err != nil {
		s.logger.Error("send validation email failed", "user_id", user.ID, "error", err)
	}
	if len(s.cfg.NewRegistrationAdminEmails) > 0 {
		if err := s.mailer.RegistrationAdminNotice(ctx, s.cfg.NewRegistrationAdminEmails, *team, *user); err != nil {
			s.logger.Warn("registration admin notice failed", "team_id", team.ID, "error", err)
		}
	}
	return &Result{User: user, Team: team, Member: member}, nil
}

// conflictError names the field a lost uniqueness race belongs to.
func (s Service) conflictError(ctx context.Context, teamName string) error {
	verr := domain.NewValidationError()
	taken, err := s.teams.TeamNameTaken(ctx, teamName)
	if err != nil {
		return err
	}
	if taken {
		verr.Add("team_name", "a team with this name already exists")
	} else {
		verr.Add("email", "an account with this email already exists")
	}
	return verr
}

// ValidateEmail confirms a user's email address and activates the account.
func (s Service) ValidateEmail(ctx context.Context, token string) (*domain.User, error) {
	claims, err := jwtpkg.ParsePurpose(token, jwtpkg.PurposeValidateEmail, s.cfg.JWTSecret)
	if err != nil {
		return nil, ErrInvalidToken
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !strings.EqualFold(claims.Binding, user.Email) {
		return nil, ErrInvalidToken
	}
	if user.EmailValidated {
		return user, nil
	}
	user.MarkEmailValidated()
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info("email validated", "user_id", user.ID)
	return user, nil
}

// ResendValidation sends a fresh validation link to an unvalidated user.
func (s Service) ResendValidation(ctx context.Context, userID int64) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.EmailValidated {
		return domain.NewError(domain.ErrNotAllowed, "email address already validated")
	}
	return s.sendValidation(ctx, *user)
}

// InstitutionTypeahead returns institutions matching q, ignoring case. An
// empty query returns every institution.
func (s Service) InstitutionTypeahead(ctx context.Context, q string) ([]domain.Institution, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return s.institutions.ListInstitutions(ctx)
	}
	return s.institutions.SearchInstitutions(ctx, q, s.cfg.InstitutionMaxResults)
}

func (s Service) sendValidation(ctx context.Context, user domain.User) error {
	token, err := jwtpkg.GeneratePurposeToken(user.ID, jwtpkg.PurposeValidateEmail, user.Email, s.cfg.JWTSecret, s.cfg.EmailTokenTTL)
	if err != nil {
		return err
	}
	return s.mailer.ValidateEmail(ctx, user, token)
}

func (s Service) institutionExists(ctx context.Context, name string) (bool, error) {
	matches, err := s.institutions.SearchInstitutions(ctx, name, 50)
	if err != nil {
		return false, err
	}
	for _, inst := range matches {
		if strings.EqualFold(inst.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

func trimRequest(req Request) Request {
	for _, field := range []*string{
		&req.FirstName, &req.LastName, &req.Email, &req.TeamName, &req.Position, &req.Department,
		&req.Institution, &req.PhoneNumber, &req.ResearchInterests, &req.IntendedClimbUse, &req.HeldMRCGrants,
	} {
		*field = strings.TrimSpace(*field)
	}
	return req
}
