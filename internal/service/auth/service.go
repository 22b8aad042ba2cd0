package auth

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

// Mailer sends password reset links.
type Mailer interface {
	PasswordReset(ctx context.Context, user domain.User, token string) error
}

// Service handles authentication workflows.
type Service struct {
	users  repository.UserRepository
	mailer Mailer
	logger *slog.Logger
	cfg    config.APIConfig
	now    func() time.Time
}

// New constructs a Service.
func New(users repository.UserRepository, mailer Mailer, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{users: users, mailer: mailer, logger: logger, cfg: cfg, now: time.Now}
}

var (
	// ErrInvalidCredentials is returned for unknown users and wrong passwords alike.
	ErrInvalidCredentials = domain.NewError(domain.ErrUnauthorized, "invalid username or password")
	// ErrInactive is returned for accounts that have not validated their email.
	ErrInactive = domain.NewError(domain.ErrUnauthorized, "account is not active")
	// ErrInvalidToken is returned for expired, tampered or already used email links.
	ErrInvalidToken = domain.NewError(domain.ErrInvalidInput, "link is invalid or has expired")

	errTokenRequired = domain.NewError(domain.ErrUnauthorized, "token required")
)

// Session is an issued session token.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// Login authenticates by username or email and issues a session token.
func (s Service) Login(ctx context.Context, login, password string) (*domain.User, Session, error) {
	user, err := s.users.GetUserByLogin(ctx, strings.TrimSpace(login))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, Session{}, ErrInvalidCredentials
		}
		return nil, Session{}, err
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, Session{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, Session{}, ErrInactive
	}
	session, err := s.issueSession(user.ID)
	if err != nil {
		return nil, Session{}, err
	}
	if err := s.users.TouchLastLogin(ctx, user.ID, s.now().UTC()); err != nil {
		s.logger.Warn("record last login failed", "user_id", user.ID, "error", err)
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return user, session, nil
}

// Authorize validates a session token and returns the associated user and claims.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, *jwtpkg.Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, nil, errTokenRequired
	}
	claims, err := jwtpkg.ParsePurpose(trimmed, jwtpkg.PurposeSession, s.cfg.JWTSecret)
	if err != nil {
		return nil, nil, domain.NewError(domain.ErrUnauthorized, "invalid session")
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, domain.NewError(domain.ErrUnauthorized, "invalid session")
		}
		return nil, nil, err
	}
	if !user.IsActive {
		return nil, nil, ErrInactive
	}
	return user, claims, nil
}

// RequestPasswordReset emails a reset link when email belongs to an active
// account. Unknown addresses are not reported to the caller.
func (s Service) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Info("password reset for unknown email")
			return nil
		}
		return err
	}
	if !user.IsActive {
		return nil
	}
	token, err := jwtpkg.GeneratePurposeToken(user.ID, jwtpkg.PurposePasswordReset, crypto.HashFingerprint(user.PasswordHash), s.cfg.JWTSecret, s.cfg.EmailTokenTTL)
	if err != nil {
		return err
	}
	return s.mailer.PasswordReset(ctx, *user, token)
}

// CheckResetToken returns the user a reset token was issued to, if it is
// still usable.
func (s Service) CheckResetToken(ctx context.Context, token string) (*domain.User, error) {
	claims, err := jwtpkg.ParsePurpose(token, jwtpkg.PurposePasswordReset, s.cfg.JWTSecret)
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
	// the binding changes with the password, so a used token stops matching
	if claims.Binding != crypto.HashFingerprint(user.PasswordHash) {
		return nil, ErrInvalidToken
	}
	return user, nil
}

// ResetPassword sets a new password using a reset token.
func (s Service) ResetPassword(ctx context.Context, token, password, confirm string) error {
	user, err := s.CheckResetToken(ctx, token)
	if err != nil {
		return err
	}
	verr := domain.NewValidationError()
	if msg := domain.CheckPassword(password); msg != "" {
		verr.Add("password", msg)
	}
	if password != confirm {
		verr.Add("confirm_password", "passwords do not match")
	}
	if err := verr.Err(); err != nil {
		return err
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}
	s.logger.Info("password reset", "user_id", user.ID)
	return nil
}

func (s Service) issueSession(userID int64) (Session, error) {
	token, err := jwtpkg.GenerateToken(userID, s.cfg.JWTSecret, s.cfg.SessionTTL)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: s.now().Add(s.cfg.SessionTTL)}, nil
}
