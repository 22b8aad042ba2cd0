package lease

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/repository"
	"github.com/MRC-CLIMB/bryn/internal/service/tenant"
)

// Tenants opens tenant scopes for a caller.
type Tenants interface {
	Open(ctx context.Context, ref tenant.Ref) (*tenant.Scope, error)
}

// Mailer delivers lease notifications.
type Mailer interface {
	LeaseReminder(ctx context.Context, a domain.LeaseAssignment, daysRemaining int) error
	LeaseExtensionRequest(ctx context.Context, lease domain.ServerLease, team domain.Team, requester domain.User, message string) error
}

// Config controls lease length and the reminder schedule.
type Config struct {
	DefaultDays  int
	ReminderDays []int
}

// Service manages server leases.
type Service struct {
	leases  repository.LeaseRepository
	teams   repository.TeamRepository
	users   repository.UserRepository
	tenants Tenants
	mailer  Mailer
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

// New constructs a Service.
func New(leases repository.LeaseRepository, teams repository.TeamRepository, users repository.UserRepository, tenants Tenants, mailer Mailer, logger *slog.Logger, cfg Config) Service {
	if cfg.DefaultDays <= 0 {
		cfg.DefaultDays = 14
	}
	return Service{
		leases:  leases,
		teams:   teams,
		users:   users,
		tenants: tenants,
		mailer:  mailer,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

var (
	// ErrLeaseNotFound is returned when a server has no lease.
	ErrLeaseNotFound = domain.NewError(domain.ErrNotFound, "lease not found")
	// ErrNotLeaseHolder is returned when a non-admin renews someone else's lease.
	ErrNotLeaseHolder = domain.NewError(domain.ErrForbidden, "only the lease holder or a team admin may renew")
	// ErrNotAdmin is returned when a member attempts to assign a lease.
	ErrNotAdmin = domain.NewError(domain.ErrForbidden, "team admin rights required")

	errMemberNotFound = domain.NewError(domain.ErrInvalidInput, "member does not belong to this team")
)

// Get returns the lease on a server in the caller's tenant.
func (s Service) Get(ctx context.Context, ref tenant.Ref, serverID string) (*domain.ServerLease, error) {
	scope, err := s.tenants.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, scope, serverID)
}

func (s Service) load(ctx context.Context, scope *tenant.Scope, serverID string) (*domain.ServerLease, error) {
	lease, err := s.leases.GetLeaseByServerID(ctx, serverID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrLeaseNotFound
		}
		return nil, err
	}
	if lease.TenantID != scope.Tenant.ID {
		return nil, ErrLeaseNotFound
	}
	return lease, nil
}

// Assign gives a server's lease to a team member, creating the lease on
// first assignment. Only team admins may assign.
func (s Service) Assign(ctx context.Context, ref tenant.Ref, serverID string, memberID int64) (*domain.ServerLease, error) {
	scope, err := s.tenants.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !scope.Member.IsAdmin {
		return nil, ErrNotAdmin
	}
	member, err := s.teams.GetMemberByID(ctx, memberID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errMemberNotFound
		}
		return nil, err
	}
	if member.TeamID != ref.TeamID {
		return nil, errMemberNotFound
	}
	server, err := scope.Cloud.Servers.Get(ctx, serverID)
	if err != nil {
		return nil, err
	}

	existing, err := s.load(ctx, scope, server.ID)
	switch {
	case err == nil:
		existing.AssignedTeamMemberID = member.ID
		existing.ServerName = server.Name
		if err := s.leases.UpdateLease(ctx, existing); err != nil {
			return nil, err
		}
		s.logger.Info("lease reassigned", "server_id", server.ID, "member_id", member.ID, "user_id", ref.UserID)
		return existing, nil
	case !errors.Is(err, ErrLeaseNotFound):
		return nil, err
	}

	now := s.now().UTC()
	expiry := domain.DefaultLeaseExpiry(now, s.cfg.DefaultDays)
	lease := &domain.ServerLease{
		ServerID:             server.ID,
		ServerName:           server.Name,
		TenantID:             scope.Tenant.ID,
		AssignedTeamMemberID: member.ID,
		CreatedAt:            now,
		LastRenewedAt:        now,
		Expiry:               &expiry,
	}
	if err := s.leases.CreateLease(ctx, lease); err != nil {
		return nil, err
	}
	s.logger.Info("lease assigned", "server_id", server.ID, "member_id", member.ID, "expiry", expiry)
	return lease, nil
}

// Renew extends a lease by the default lease length from now.
func (s Service) Renew(ctx context.Context, ref tenant.Ref, serverID string) (*domain.ServerLease, error) {
	scope, err := s.tenants.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	lease, err := s.load(ctx, scope, serverID)
	if err != nil {
		return nil, err
	}
	if !scope.Member.IsAdmin && lease.AssignedTeamMemberID != scope.Member.ID {
		return nil, ErrNotLeaseHolder
	}
	lease.Renew(s.now().UTC(), s.cfg.DefaultDays)
	lease.LastReminderSentAt = nil
	if err := s.leases.UpdateLease(ctx, lease); err != nil {
		return nil, err
	}
	s.logger.Info("lease renewed", "server_id", serverID, "renewals", lease.RenewalCount, "user_id", ref.UserID)
	return lease, nil
}

// RequestExtension asks support for a longer lease.
func (s Service) RequestExtension(ctx context.Context, ref tenant.Ref, serverID, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		verr := domain.NewValidationError()
		verr.Add("message", "this field is required")
		return verr.Err()
	}
	scope, err := s.tenants.Open(ctx, ref)
	if err != nil {
		return err
	}
	lease, err := s.load(ctx, scope, serverID)
	if err != nil {
		return err
	}
	team, err := s.teams.GetTeamByID(ctx, ref.TeamID)
	if err != nil {
		return err
	}
	requester, err := s.users.GetUserByID(ctx, ref.UserID)
	if err != nil {
		return err
	}
	if err := s.mailer.LeaseExtensionRequest(ctx, *lease, *team, *requester, message); err != nil {
		s.logger.Error("lease extension request failed", "server_id", serverID, "error", err)
		return err
	}
	return nil
}

// SendReminders emails holders of leases that reach a reminder day and
// returns how many were sent. Delivery failures are logged and skipped.
func (s Service) SendReminders(ctx context.Context) (int, error) {
	now := s.now().UTC()
	due, err := s.leases.ListActiveDueLeases(ctx, now)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, a := range due {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if !a.Lease.ReminderDue(now, s.cfg.ReminderDays) {
			continue
		}
		days, _ := a.Lease.DaysRemaining(now)
		if err := s.mailer.LeaseReminder(ctx, a, days); err != nil {
			s.logger.Error("lease reminder failed", "server_id", a.Lease.ServerID, "to", a.Assignee.Email, "error", err)
			continue
		}
		if err := s.leases.MarkLeaseReminderSent(ctx, a.Lease.ID, now); err != nil {
			s.logger.Warn("mark lease reminder failed", "lease_id", a.Lease.ID, "error", err)
		}
		sent++
	}
	return sent, nil
}
