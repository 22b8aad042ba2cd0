package user

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/repository"
	"github.com/MRC-CLIMB/bryn/pkg/config"
)

type stubUsers struct {
	repository.UserRepository
	users    map[int64]*domain.User
	contacts []domain.MemberContact
}

func (s *stubUsers) GetUserByID(_ context.Context, id int64) (*domain.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (s *stubUsers) UpdateUser(_ context.Context, u *domain.User) error {
	s.users[u.ID] = u
	return nil
}

func (s *stubUsers) UsernameOrEmailTaken(_ context.Context, _, email string) (bool, error) {
	for _, u := range s.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubUsers) ListVerifiedTeamContacts(context.Context) ([]domain.MemberContact, error) {
	return s.contacts, nil
}

type stubMailer struct {
	tokens []string
	to     []string
}

func (m *stubMailer) EmailChange(_ context.Context, _ domain.User, newEmail, token string) error {
	m.tokens = append(m.tokens, token)
	m.to = append(m.to, newEmail)
	return nil
}

func newTestService() (Service, *stubUsers, *stubMailer) {
	users := &stubUsers{users: map[int64]*domain.User{
		1: {ID: 1, Username: "ada@uni.ac.uk", Email: "ada@uni.ac.uk", FirstName: "Ada", IsActive: true, EmailValidated: true},
		2: {ID: 2, Username: "grace", Email: "grace@uni.ac.uk", IsActive: true},
	}}
	mailer := &stubMailer{}
	cfg := config.APIConfig{JWTSecret: "test-secret", EmailTokenTTL: time.Hour}
	return New(users, mailer, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg), users, mailer
}

func TestEmailChangeRequiresConfirmation(t *testing.T) {
	svc, users, mailer := newTestService()
	ctx := context.Background()
	email := "ada@new.ac.uk"
	updated, err := svc.Update(ctx, 1, Update{Email: &email})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Email != "ada@uni.ac.uk" {
		t.Fatalf("email should not change before confirmation")
	}
	if len(mailer.tokens) != 1 || mailer.to[0] != email {
		t.Fatalf("expected verification sent to new address")
	}
	confirmed, err := svc.ConfirmEmailChange(ctx, mailer.tokens[0])
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Email != email || confirmed.Username != email {
		t.Fatalf("expected email and username to follow, got %+v", confirmed)
	}
	if users.users[1].NewEmailPendingVerification != nil {
		t.Fatalf("pending email should be cleared")
	}
	if _, err := svc.ConfirmEmailChange(ctx, mailer.tokens[0]); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected reused link to fail, got %v", err)
	}
}

func TestEmailChangeRejectsTakenAddress(t *testing.T) {
	svc, _, _ := newTestService()
	email := "grace@uni.ac.uk"
	_, err := svc.Update(context.Background(), 1, Update{Email: &email})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestActiveUsersSuperuserOnly(t *testing.T) {
	svc, users, _ := newTestService()
	users.contacts = []domain.MemberContact{
		{FirstName: "Ada", LastName: "Lovelace", Email: "ada@uni.ac.uk", Institution: "University of Oxford", TeamName: "Pathogen Lab"},
	}
	if _, err := svc.ActiveUsers(context.Background(), domain.User{ID: 1}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	contacts, err := svc.ActiveUsers(context.Background(), domain.User{ID: 1, IsSuperuser: true})
	if err != nil {
		t.Fatalf("active users: %v", err)
	}
	if len(contacts) != 1 || contacts[0].TeamName != "Pathogen Lab" || contacts[0].Email != "ada@uni.ac.uk" {
		t.Fatalf("unexpected contacts %v", contacts)
	}
}
