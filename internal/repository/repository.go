package repository

import (
	"context"
	"time"

	"github.com/MRC-CLIMB/bryn/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByLogin(ctx context.Context, login string) (*domain.User, error)
	UsernameOrEmailTaken(ctx context.Context, username, email string) (bool, error)
	UpdateUser(ctx context.Context, user *domain.User) error
	UpdatePassword(ctx context.Context, userID int64, hash []byte) error
	TouchLastLogin(ctx context.Context, userID int64, at time.Time) error
	ListVerifiedTeamContacts(ctx context.Context) ([]domain.MemberContact, error)
}

// InstitutionRepository looks up known institutions.
type InstitutionRepository interface {
	SearchInstitutions(ctx context.Context, query string, limit int) ([]domain.Institution, error)
	ListInstitutions(ctx context.Context) ([]domain.Institution, error)
}

// EnrollmentRepository writes the rows of an account workflow in one transaction.
type EnrollmentRepository interface {
	// RegisterTeam stores a new user, their team and the admin membership.
	RegisterTeam(ctx context.Context, user *domain.User, team *domain.Team, member *domain.TeamMember) error
	// AcceptInvitation claims a pending invitation and adds member to its team.
	// A user without an identifier is created first. ErrConflict reports an
	// invitation that was already accepted or a duplicate account or membership.
	AcceptInvitation(ctx context.Context, uuid string, user *domain.User, member *domain.TeamMember) error
}

// TeamRepository manages teams and memberships.
type TeamRepository interface {
	CreateTeam(ctx context.Context, team *domain.Team) error
	UpdateTeam(ctx context.Context, team *domain.Team) error
	GetTeamByID(ctx context.Context, teamID int64) (*domain.Team, error)
	TeamNameTaken(ctx context.Context, name string) (bool, error)
	ListTeamsByUser(ctx context.Context, userID int64) ([]domain.Team, error)
	ListTeamsWithLicenceExpiringBefore(ctx context.Context, before time.Time) ([]domain.Team, error)
	MarkLicenceReminderSent(ctx context.Context, teamID int64, at time.Time) error
	CreateMember(ctx context.Context, member *domain.TeamMember) error
	GetMember(ctx context.Context, teamID, userID int64) (*domain.TeamMember, error)
	GetMemberByID(ctx context.Context, memberID int64) (*domain.TeamMember, error)
	ListMembers(ctx context.Context, teamID int64) ([]domain.TeamMemberDetail, error)
	DeleteMember(ctx context.Context, memberID int64) error
	ListTeamAdmins(ctx context.Context, teamID int64) ([]domain.User, error)
}

// InvitationRepository stores team invitations.
type InvitationRepository interface {
	CreateInvitation(ctx context.Context, inv *domain.Invitation) error
	GetInvitation(ctx context.Context, uuid string) (*domain.Invitation, error)
	ListPendingInvitations(ctx context.Context, teamID int64) ([]domain.Invitation, error)
	DeleteInvitation(ctx context.Context, uuid string) error
}

// LicenceRepository stores licence versions and acceptances.
type LicenceRepository interface {
	CurrentLicenceVersion(ctx context.Context, now time.Time) (*domain.LicenceVersion, error)
	CreateLicenceAcceptance(ctx context.Context, acc *domain.LicenceAcceptance) error
	ListLicenceAcceptances(ctx context.Context, teamID int64) ([]domain.LicenceAcceptance, error)
}

// RegionRepository reads region configuration.
type RegionRepository interface {
	ListRegions(ctx context.Context) ([]domain.Region, error)
	GetRegionByID(ctx context.Context, regionID int64) (*domain.Region, error)
	GetRegionByName(ctx context.Context, name string) (*domain.Region, error)
	EnsureRegion(ctx context.Context, name, description string) (*domain.Region, error)
}

// TenantRepository stores team tenancies.
type TenantRepository interface {
	CreateTenant(ctx context.Context, tenant *domain.Tenant) error
	GetTenant(ctx context.Context, tenantID int64) (*domain.Tenant, error)
	GetTenantByTeamRegion(ctx context.Context, teamID, regionID int64) (*domain.Tenant, error)
	ListTenantsByTeam(ctx context.Context, teamID int64) ([]domain.Tenant, error)
}

// LeaseRepository stores server leases.
type LeaseRepository interface {
	CreateLease(ctx context.Context, lease *domain.ServerLease) error
	GetLeaseByServerID(ctx context.Context, serverID string) (*domain.ServerLease, error)
	UpdateLease(ctx context.Context, lease *domain.ServerLease) error
	DeleteLeaseByServerID(ctx context.Context, serverID string) error
	ListLeasesByTenant(ctx context.Context, tenantID int64) ([]domain.ServerLease, error)
	ListActiveDueLeases(ctx context.Context, now time.Time) ([]domain.LeaseAssignment, error)
	MarkLeaseReminderSent(ctx context.Context, leaseID int64, at time.Time) error
}

// HypervisorStatsRepository stores the latest hypervisor capacity per region.
type HypervisorStatsRepository interface {
	UpsertHypervisorStats(ctx context.Context, stats domain.HypervisorStats) error
	ListHypervisorStats(ctx context.Context) ([]domain.HypervisorStats, error)
}

// KeyPairRepository stores user public keys.
type KeyPairRepository interface {
	CreateKeyPair(ctx context.Context, kp *domain.KeyPair) error
	GetKeyPair(ctx context.Context, keyPairID int64) (*domain.KeyPair, error)
	ListKeyPairsByUser(ctx context.Context, userID int64) ([]domain.KeyPair, error)
	DeleteKeyPair(ctx context.Context, keyPairID int64) error
}
