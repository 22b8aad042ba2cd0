package user

import (
	"context"
	"errors"
	"strings"

	"log/slog"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/repository"
	"github.com/MRC-CLIMB/bryn/pkg/config"
	jwtpkg "github.com/MRC-CLIMB/bryn/pkg/jwt"
)

// Mailer sends email change messages.
type Mailer interface {
	EmailChange(ctx context.Context, user domain.User, newEmail, token string) error
}

// Service manages the signed-in user's own account.
type Service struct {
	users  repository.UserRepository
	mailer Mailer
	logger *slog.Logger
	cfg    config.APIConfig
}

// New constructs a Service.
func New(users repository.UserRepository, mailer Mailer, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{users: users, mailer: mailer, logger: logger, cfg: cfg}
}

var (
	// ErrInvalidToken is returned for bad or stale email change links.
	ErrInvalidToken = domain.NewError(domain.ErrInvalidInput, "email change link is invalid or has expired")
	// ErrSuperuserOnly guards the active user export.
	ErrSuperuserOnly = domain.NewError(domain.ErrForbidden, "superuser rights required")
)

// Update carries editable profile fields. Nil fields are left unchanged.
type Update struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Email     *string `json:"email"`
}

// Get returns the user.
func (s Service) Get(ctx context.Context, userID int64) (*domain.User, error) {
	return s.users.GetUserByID(ctx, userID)
}

// Update edits the caller's profile. A new email address is not applied
// until confirmed through the link sent to it.
func (s Service) Update(ctx context.Context, userID int64, changes Update) (*domain.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	verr := domain.NewValidationError()
	if changes.FirstName != nil {
		if v := strings.TrimSpace(*changes.FirstName); v == "" {
			verr.Add("first_name", "this field is required")
		} else {
			user.FirstName = v
		}
	}
	if changes.LastName != nil {
		if v := strings.TrimSpace(*changes.LastName); v == "" {
			verr.Add("last_name", "this field is required")
		} else {
			user.LastName = v
		}
	}
	var newEmail string
	if changes.Email != nil && !strings.EqualFold(strings.TrimSpace(*changes.Email), user.Email) {
		email, ok := domain.NormalizeEmail(*changes.Email)
		if !ok {
			verr.Add("email", "enter a valid email address")
		} else {
			taken, err := s.users.UsernameOrEmailTaken(ctx, email, email)
			if err != nil {
				return nil, err
			}
			if taken {
				verr.Add("email", "an account with this email already exists")
			}
			newEmail = email
		}
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}
	if newEmail != "" {
		user.NewEmailPendingVerification = &newEmail
	}
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	if newEmail != "" {
		token, err := jwtpkg.GeneratePurposeToken(user.ID, jwtpkg.PurposeEmailChange, newEmail, s.cfg.JWTSecret, s.cfg.EmailTokenTTL)
		if err != nil {
			return nil, err
		}
		if err := s.mailer.EmailChange(ctx, *user, newEmail, token); err != nil {
			return nil, err
		}
		s.logger.Info("email change requested", "user_id", user.ID)
	}
	return user, nil
}

// ConfirmEmailChange applies a pending email change from its link.
func (s Service) ConfirmEmailChange(ctx context.Context, token string) (*domain.User, error) {
	claims, err := jwtpkg.ParsePurpose(token, jwtpkg.PurposeEmailChange, s.cfg.JWTSecret)
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
	if user.NewEmailPendingVerification == nil || *user.NewEmailPendingVerification != claims.Binding {
		return nil, ErrInvalidToken
	}
	user.ConfirmEmailChange()
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info("email change confirmed", "user_id", user.ID)
	return user, nil
}

// ActiveUsers lists every member of a verified team with their institution
// and team name. Superusers only.
func (s Service) ActiveUsers(ctx context.Context, requester domain.User) ([]domain.MemberContact, error) {
	if !requester.IsSuperuser {
		return nil, ErrSuperuserOnly
	}
	return s.users.ListVerifiedTeamContacts(ctx)
}
