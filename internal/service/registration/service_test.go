package registration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/repository"
	"github.com/MRC-CLIMB/bryn/pkg/config"
)

type memoryStore struct {
	repository.UserRepository
	repository.TeamRepository
	users     map[int64]*domain.User
	teams     map[int64]*domain.Team
	members   []domain.TeamMember
	teamNames map[string]bool
	// racing names are claimed by another registration between the
	// availability check and the insert.
	racing map[string]bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{users: map[int64]*domain.User{}, teams: map[int64]*domain.Team{}, teamNames: map[string]bool{"taken-team": true}, racing: map[string]bool{}}
}

func (m *memoryStore) CreateUser(_ context.Context, u *domain.User) error {
	u.ID = int64(len(m.users) + 1)
	m.users[u.ID] = u
	return nil
}

func (m *memoryStore) GetUserByID(_ context.Context, id int64) (*domain.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (m *memoryStore) UsernameOrEmailTaken(_ context.Context, username, email string) (bool, error) {
	for _, u := range m.users {
		if u.Username == username || strings.EqualFold(u.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStore) UpdateUser(_ context.Context, u *domain.User) error {
	m.users[u.ID] = u
	return nil
}

func (m *memoryStore) CreateTeam(_ context.Context, team *domain.Team) error {
	if m.teamNames[team.Name] {
		return repository.ErrConflict
	}
	m.teamNames[team.Name] = true
	team.ID = int64(len(m.teams) + 1)
	m.teams[team.ID] = team
	return nil
}

func (m *memoryStore) TeamNameTaken(_ context.Context, name string) (bool, error) {
	return m.teamNames[name], nil
}

func (m *memoryStore) CreateMember(_ context.Context, member *domain.TeamMember) error {
	member.ID = int64(len(m.members) + 1)
	m.members = append(m.members, *member)
	return nil
}

// RegisterTeam applies all three inserts or none of them.
func (m *memoryStore) RegisterTeam(ctx context.Context, u *domain.User, team *domain.Team, member *domain.TeamMember) error {
	if m.racing[team.Name] {
		delete(m.racing, team.Name)
		m.teamNames[team.Name] = true
		return repository.ErrConflict
	}
	if taken, _ := m.UsernameOrEmailTaken(ctx, u.Username, u.Email); taken {
		return repository.ErrConflict
	}
	if m.teamNames[team.Name] {
		return repository.ErrConflict
	}
	_ = m.CreateUser(ctx, u)
	team.CreatorID = &u.ID
	_ = m.CreateTeam(ctx, team)
	member.TeamID, member.UserID = team.ID, u.ID
	return m.CreateMember(ctx, member)
}

func (m *memoryStore) AcceptInvitation(context.Context, string, *domain.User, *domain.TeamMember) error {
	return errors.New("memoryStore: AcceptInvitation not implemented")
}

type stubInstitutions struct{}

func (stubInstitutions) ListInstitutions(context.Context) ([]domain.Institution, error) {
	return stubInstitutions{}.SearchInstitutions(context.Background(), "", 100)
}

func (stubInstitutions) SearchInstitutions(_ context.Context, q string, limit int) ([]domain.Institution, error) {
	all := []domain.Institution{{ID: 1, Name: "University of Warwick"}, {ID: 2, Name: "University of Birmingham"}, {ID: 3, Name: "Cardiff University"}}
	out := []domain.Institution{}
	for _, inst := range all {
		if strings.Contains(strings.ToLower(inst.Name), strings.ToLower(q)) && len(out) < limit {
			out = append(out, inst)
		}
	}
	return out, nil
}

type stubMailer struct {
	validationTokens []string
	adminNotices     int
	adminErr         error
}

func (m *stubMailer) ValidateEmail(_ context.Context, _ domain.User, token string) error {
	m.validationTokens = append(m.validationTokens, token)
	return nil
}

func (m *stubMailer) RegistrationAdminNotice(context.Context, []string, domain.Team, domain.User) error {
	m.adminNotices++
	return m.adminErr
}

func newTestService() (Service, *memoryStore, *stubMailer) {
	store := newMemoryStore()
	mailer := &stubMailer{}
	cfg := config.APIConfig{
		JWTSecret:                  "test-secret",
		EmailTokenTTL:              time.Hour,
		PhoneDefaultRegion:         "GB",
		InstitutionMaxResults:      10,
		NewRegistrationAdminEmails: []string{"admin@climb.ac.uk"},
	}
	svc := New(store, store, stubInstitutions{}, store, mailer, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
	return svc, store, mailer
}

func validRequest() Request {
	return Request{
		FirstName:         "Ada",
		LastName:          "Lovelace",
		Email:             "ada@warwick.ac.uk",
		Password:          "correct horse",
		ConfirmPassword:   "correct horse",
		TeamName:          "genomics",
		Position:          "PI",
		Department:        "Life Sciences",
		Institution:       "university of warwick",
		PhoneNumber:       "024 7652 3523",
		ResearchInterests: "pathogens",
		IntendedClimbUse:  "assembly",
		AcceptedTerms:     true,
	}
}

func TestRegisterCreatesInactiveUserAndAdminMembership(t *testing.T) {
	svc, store, mailer := newTestService()
	mailer.adminErr = errors.New("smtp down")

	res, err := svc.Register(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if res.User.IsActive || res.User.EmailValidated {
		t.Fatalf("new user should be inactive until validated")
	}
	if res.User.Username != "ada@warwick.ac.uk" {
		t.Fatalf("username should default to email, got %q", res.User.Username)
	}
	if res.Team.Verified || res.Team.PhoneNumber != "+442476523523" {
		t.Fatalf("unexpected team %+v", res.Team)
	}
	if len(store.members) != 1 || !store.members[0].IsAdmin {
		t.Fatalf("expected admin membership, got %+v", store.members)
	}
	if len(mailer.validationTokens) != 1 || mailer.adminNotices != 1 {
		t.Fatalf("expected validation email and admin notice")
	}

	user, err := svc.ValidateEmail(context.Background(), mailer.validationTokens[0])
	if err != nil {
		t.Fatalf("validate email: %v", err)
	}
	if !user.IsActive || !user.EmailValidated {
		t.Fatalf("user should be active after validation")
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newTestService()
	req := validRequest()
	req.Institution = "Unknown Polytechnic"
	req.PhoneNumber = "123"
	req.AcceptedTerms = false
	req.ConfirmPassword = "nope"

	_, err := svc.Register(context.Background(), req)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, field := range []string{"institution", "phone_number", "accepted_terms", "confirm_password"} {
		if verr.Fields[field] == "" {
			t.Fatalf("expected error on %s, got %v", field, verr.Fields)
		}
	}
}

func TestRegisterRejectsDuplicateTeamAndEmail(t *testing.T) {
	svc, _, _ := newTestService()
	req := validRequest()
	req.TeamName = "taken-team"
	_, err := svc.Register(context.Background(), req)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Fields["team_name"] == "" {
		t.Fatalf("expected team name conflict, got %v", err)
	}

	if _, err := svc.Register(context.Background(), validRequest()); err != nil {
		t.Fatalf("register: %v", err)
	}
	req = validRequest()
	req.TeamName = "another"
	_, err = svc.Register(context.Background(), req)
	if !errors.As(err, &verr) || verr.Fields["email"] == "" {
		t.Fatalf("expected duplicate email error, got %v", err)
	}
}

func TestInstitutionTypeahead(t *testing.T) {
	svc, _, _ := newTestService()
	got, err := svc.InstitutionTypeahead(context.Background(), "UNIVERSITY")
	if err != nil {
		t.Fatalf("typeahead: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected case-insensitive matches, got %v", got)
	}
	all, err := svc.InstitutionTypeahead(context.Background(), "  ")
	if err != nil {
		t.Fatalf("typeahead: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("blank query should list every institution, got %v", all)
	}
}

func TestRegisterLostTeamNameRaceLeavesNoAccount(t *testing.T) {
	svc, store, mailer := newTestService()
	store.racing["genomics"] = true

	_, err := svc.Register(context.Background(), validRequest())
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Fields["team_name"] == "" {
		t.Fatalf("expected team name error, got %v", err)
	}
	if len(store.users) != 0 || len(store.members) != 0 {
		t.Fatalf("failed registration left rows behind: users=%d members=%d", len(store.users), len(store.members))
	}
	if len(mailer.validationTokens) != 0 {
		t.Fatalf("no validation email expected for a failed registration")
	}

	req := validRequest()
	req.TeamName = "genomics-2"
	res, err := svc.Register(context.Background(), req)
	if err != nil {
		t.Fatalf("retry with a new team name: %v", err)
	}
	if len(store.users) != 1 || res.Member.TeamID != res.Team.ID || res.Member.UserID != res.User.ID {
		t.Fatalf("unexpected result after retry: users=%d member=%+v", len(store.users), res.Member)
	}
}
