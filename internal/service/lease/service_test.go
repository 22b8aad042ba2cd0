package lease

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/openstack"
	"github.com/MRC-CLIMB/bryn/internal/repository"
	"github.com/MRC-CLIMB/bryn/internal/service/tenant"
)

type memoryLeases struct {
	repository.LeaseRepository
	byServer map[string]*domain.ServerLease
	due      []domain.LeaseAssignment
	marked   []int64
}

func (m *memoryLeases) GetLeaseByServerID(_ context.Context, id string) (*domain.ServerLease, error) {
	l, ok := m.byServer[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *l
	return &clone, nil
}

func (m *memoryLeases) CreateLease(_ context.Context, l *domain.ServerLease) error {
	l.ID = int64(len(m.byServer) + 1)
	clone := *l
	m.byServer[l.ServerID] = &clone
	return nil
}

func (m *memoryLeases) UpdateLease(_ context.Context, l *domain.ServerLease) error {
	clone := *l
	m.byServer[l.ServerID] = &clone
	return nil
}

func (m *memoryLeases) ListActiveDueLeases(context.Context, time.Time) ([]domain.LeaseAssignment, error) {
	return m.due, nil
}

func (m *memoryLeases) MarkLeaseReminderSent(_ context.Context, id int64, _ time.Time) error {
	m.marked = append(m.marked, id)
	return nil
}

type memoryTeams struct {
	repository.TeamRepository
	members map[int64]domain.TeamMember
}

func (m *memoryTeams) GetMemberByID(_ context.Context, id int64) (*domain.TeamMember, error) {
	member, ok := m.members[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &member, nil
}

func (m *memoryTeams) GetTeamByID(_ context.Context, id int64) (*domain.Team, error) {
	return &domain.Team{ID: id, Name: "Lab"}, nil
}

type memoryUsers struct{ repository.UserRepository }

func (memoryUsers) GetUserByID(_ context.Context, id int64) (*domain.User, error) {
	return &domain.User{ID: id, Email: "ada@example.ac.uk"}, nil
}

type stubCompute struct{ openstack.ComputeClient }

func (stubCompute) GetServer(_ context.Context, id string) (*openstack.Server, error) {
	if id != "srv-1" {
		return nil, openstack.ErrNotFound
	}
	return &openstack.Server{ID: id, Name: "analysis"}, nil
}

type stubSession struct{ openstack.Session }

func (stubSession) Compute(context.Context) (openstack.ComputeClient, error) { return stubCompute{}, nil }

type stubConnector struct{}

func (stubConnector) Connect(context.Context, openstack.Credentials) (openstack.Session, error) {
	return stubSession{}, nil
}

// members: 10 is an admin (user 1), 11 a plain member (user 2), 12 another plain member (user 3).
type stubTenants struct{}

func (stubTenants) Open(_ context.Context, ref tenant.Ref) (*tenant.Scope, error) {
	members := map[int64]domain.TeamMember{
		1: {ID: 10, TeamID: ref.TeamID, UserID: 1, IsAdmin: true},
		2: {ID: 11, TeamID: ref.TeamID, UserID: 2},
		3: {ID: 12, TeamID: ref.TeamID, UserID: 3},
	}
	member, ok := members[ref.UserID]
	if !ok {
		return nil, domain.NewError(domain.ErrNotFound, "team not found")
	}
	return &tenant.Scope{
		Tenant: &domain.Tenant{ID: ref.TenantID, TeamID: ref.TeamID},
		Region: &domain.Region{Name: "warwick"},
		Member: &member,
		Cloud:  openstack.New(stubConnector{}, openstack.Credentials{}),
	}, nil
}

type recordingMailer struct {
	reminders  []int
	extensions []string
	fail       bool
}

func (m *recordingMailer) LeaseReminder(_ context.Context, _ domain.LeaseAssignment, days int) error {
	if m.fail {
		return errors.New("smtp down")
	}
	m.reminders = append(m.reminders, days)
	return nil
}

func (m *recordingMailer) LeaseExtensionRequest(_ context.Context, _ domain.ServerLease, _ domain.Team, _ domain.User, message string) error {
	m.extensions = append(m.extensions, message)
	return nil
}

func newTestService() (Service, *memoryLeases, *recordingMailer, time.Time) {
	leases := &memoryLeases{byServer: map[string]*domain.ServerLease{}}
	teams := &memoryTeams{members: map[int64]domain.TeamMember{
		10: {ID: 10, TeamID: 1, UserID: 1, IsAdmin: true},
		11: {ID: 11, TeamID: 1, UserID: 2},
		20: {ID: 20, TeamID: 2, UserID: 9},
	}}
	mailer := &recordingMailer{}
	svc := New(leases, teams, memoryUsers{}, stubTenants{}, mailer, slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config{DefaultDays: 14, ReminderDays: []int{7, 3, 1, 0}})
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	return svc, leases, mailer, now
}

func ref(userID int64) tenant.Ref {
	return tenant.Ref{TeamID: 1, TenantID: 5, UserID: userID}
}

func TestAssignCreatesLeaseWithDefaultExpiry(t *testing.T) {
	svc, leases, _, now := newTestService()
	ctx := context.Background()

	if _, err := svc.Assign(ctx, ref(2), "srv-1", 11); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected admin requirement, got %v", err)
	}
	if _, err := svc.Assign(ctx, ref(1), "srv-1", 20); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected foreign member to be refused, got %v", err)
	}

	lease, err := svc.Assign(ctx, ref(1), "srv-1", 11)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if lease.ServerName != "analysis" || lease.TenantID != 5 || lease.AssignedTeamMemberID != 11 {
		t.Fatalf("unexpected lease %+v", lease)
	}
	if want := now.AddDate(0, 0, 14); lease.Expiry == nil || !lease.Expiry.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, lease.Expiry)
	}

	again, err := svc.Assign(ctx, ref(1), "srv-1", 10)
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if again.ID != lease.ID || leases.byServer["srv-1"].AssignedTeamMemberID != 10 {
		t.Fatalf("expected reassignment of the existing lease")
	}
}

func TestRenewRequiresHolderOrAdmin(t *testing.T) {
	svc, leases, _, now := newTestService()
	ctx := context.Background()
	expiry := now.AddDate(0, 0, 2)
	sent := now.Add(-time.Hour)
	leases.byServer["srv-1"] = &domain.ServerLease{ID: 1, ServerID: "srv-1", TenantID: 5, AssignedTeamMemberID: 11,
		Expiry: &expiry, LastReminderSentAt: &sent}

	if _, err := svc.Renew(ctx, ref(3), "srv-1"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for another member, got %v", err)
	}
	lease, err := svc.Renew(ctx, ref(2), "srv-1")
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if lease.RenewalCount != 1 || !lease.Expiry.Equal(now.AddDate(0, 0, 14)) || lease.LastReminderSentAt != nil {
		t.Fatalf("unexpected renewed lease %+v", lease)
	}
	if _, err := svc.Renew(ctx, ref(1), "srv-1"); err != nil {
		t.Fatalf("admin renew: %v", err)
	}
	if leases.byServer["srv-1"].RenewalCount != 2 {
		t.Fatalf("expected second renewal to be stored")
	}
}

func TestLeaseOfAnotherTenantIsHidden(t *testing.T) {
	svc, leases, _, _ := newTestService()
	leases.byServer["srv-9"] = &domain.ServerLease{ID: 9, ServerID: "srv-9", TenantID: 77}
	if _, err := svc.Get(context.Background(), ref(1), "srv-9"); !errors.Is(err, ErrLeaseNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRequestExtensionMailsSupport(t *testing.T) {
	svc, leases, mailer, _ := newTestService()
	ctx := context.Background()
	leases.byServer["srv-1"] = &domain.ServerLease{ID: 1, ServerID: "srv-1", TenantID: 5}

	if err := svc.RequestExtension(ctx, ref(2), "srv-1", "  "); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected message validation, got %v", err)
	}
	if err := svc.RequestExtension(ctx, ref(2), "srv-1", "need another month"); err != nil {
		t.Fatalf("request extension: %v", err)
	}
	if len(mailer.extensions) != 1 || mailer.extensions[0] != "need another month" {
		t.Fatalf("unexpected extension mails %v", mailer.extensions)
	}
}

func TestSendRemindersSelection(t *testing.T) {
	svc, leases, mailer, now := newTestService()
	at := func(d time.Duration) *time.Time {
		v := now.Add(d)
		return &v
	}
	day := 24 * time.Hour
	leases.due = []domain.LeaseAssignment{
		{Lease: domain.ServerLease{ID: 1, Expiry: at(3*day + time.Hour)}},
		{Lease: domain.ServerLease{ID: 2, Expiry: at(5*day + time.Hour)}},
		{Lease: domain.ServerLease{ID: 3, Expiry: at(day + time.Hour), LastReminderSentAt: at(-2 * time.Hour)}},
		{Lease: domain.ServerLease{ID: 4, Expiry: at(-time.Hour)}},
		{Lease: domain.ServerLease{ID: 5, Expiry: at(7*day + time.Hour), LastReminderSentAt: at(-25 * time.Hour)}},
	}

	sent, err := svc.SendReminders(context.Background())
	if err != nil {
		t.Fatalf("send reminders: %v", err)
	}
	if sent != 2 || len(leases.marked) != 2 || leases.marked[0] != 1 || leases.marked[1] != 5 {
		t.Fatalf("expected leases 1 and 5 reminded, got %d %v", sent, leases.marked)
	}
	if mailer.reminders[0] != 3 || mailer.reminders[1] != 7 {
		t.Fatalf("unexpected days %v", mailer.reminders)
	}

	mailer.fail = true
	leases.marked = nil
	sent, err = svc.SendReminders(context.Background())
	if err != nil || sent != 0 || len(leases.marked) != 0 {
		t.Fatalf("failed deliveries must not be stamped: %d %v %v", sent, err, leases.marked)
	}
}
