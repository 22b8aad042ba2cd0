package tenant

import (
	"context"
	"errors"
	"fmt"

	"log/slog"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/openstack"
	"github.com/MRC-CLIMB/bryn/internal/repository"
	"github.com/MRC-CLIMB/bryn/pkg/config"
	"github.com/MRC-CLIMB/bryn/pkg/crypto"
)

// TeamAccess resolves the caller's membership of a team.
type TeamAccess interface {
	Membership(ctx context.Context, teamID, userID int64) (*domain.TeamMember, error)
}

// Regions resolves regions and their cloud settings.
type Regions interface {
	Get(ctx context.Context, regionID int64) (*domain.Region, error)
	Cloud(name string) (config.RegionCloud, error)
}

// Service maps teams onto cloud projects.
type Service struct {
	tenants   repository.TenantRepository
	teams     repository.TeamRepository
	users     repository.UserRepository
	regions   Regions
	access    TeamAccess
	sealer    *crypto.Sealer
	connector openstack.Connector
	logger    *slog.Logger
}

// Deps groups the collaborators of a Service.
type Deps struct {
	Tenants   repository.TenantRepository
	Teams     repository.TeamRepository
	Users     repository.UserRepository
	Regions   Regions
	Access    TeamAccess
	Sealer    *crypto.Sealer
	Connector openstack.Connector
	Logger    *slog.Logger
}

// New constructs a Service.
func New(d Deps) Service {
	return Service{
		tenants:   d.Tenants,
		teams:     d.Teams,
		users:     d.Users,
		regions:   d.Regions,
		access:    d.Access,
		sealer:    d.Sealer,
		connector: d.Connector,
		logger:    d.Logger,
	}
}

var (
	// ErrTenantNotFound hides tenants outside the caller's team.
	ErrTenantNotFound = domain.NewError(domain.ErrNotFound, "tenant not found")
	// ErrTeamNotVerified blocks provisioning for unverified teams.
	ErrTeamNotVerified = domain.NewError(domain.ErrNotAllowed, "team has not been verified")
	// ErrTenantExists is returned when the team already has a tenant in the region.
	ErrTenantExists = domain.NewError(domain.ErrConflict, "team already has a tenant in this region")
	// ErrRegionDisabled blocks access to disabled regions.
	ErrRegionDisabled = domain.NewError(domain.ErrNotAllowed, "region is disabled")
)

// Ref addresses a tenant of a team on behalf of a user.
type Ref struct {
	TeamID   int64
	TenantID int64
	UserID   int64
}

// Scope is a tenant opened for one request, with its façade.
type Scope struct {
	Tenant *domain.Tenant
	Region *domain.Region
	Member *domain.TeamMember
	Cloud  *openstack.Service
}

// List returns the caller's team tenants.
func (s Service) List(ctx context.Context, teamID, userID int64) ([]domain.Tenant, error) {
	if _, err := s.access.Membership(ctx, teamID, userID); err != nil {
		return nil, err
	}
	return s.tenants.ListTenantsByTeam(ctx, teamID)
}

// Open checks membership and returns the tenant with a façade authenticated
// as the tenant's cloud user.
func (s Service) Open(ctx context.Context, ref Ref) (*Scope, error) {
	teamID := ref.TeamID
	member, err := s.access.Membership(ctx, teamID, ref.UserID)
	if err != nil {
		return nil, err
	}
	tenant, err := s.tenants.GetTenant(ctx, ref.TenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}
	if tenant.TeamID != teamID {
		return nil, ErrTenantNotFound
	}
	rg, err := s.regions.Get(ctx, tenant.RegionID)
	if err != nil {
		return nil, err
	}
	if rg.Disabled {
		return nil, ErrRegionDisabled
	}
	team, err := s.teams.GetTeamByID(ctx, teamID)
	if err != nil {
		return nil, err
	}
	cloud, err := s.regions.Cloud(rg.Name)
	if err != nil {
		return nil, err
	}
	password, err := s.sealer.Open(tenant.AuthPassword)
	if err != nil {
		return nil, fmt.Errorf("open tenant password: %w", err)
	}
	creds := openstack.TenantCredentials(cloud, team.TenantName(), password)
	return &Scope{
		Tenant: tenant,
		Region: rg,
		Member: member,
		Cloud:  openstack.New(s.connector, creds, openstack.WithDefaultVolumeType(cloud.DefaultVolumeType)),
	}, nil
}

// AdminCloud returns a façade scoped to a region's admin project.
func (s Service) AdminCloud(regionName string) (*openstack.Service, error) {
	cloud, err := s.regions.Cloud(regionName)
	if err != nil {
		return nil, err
	}
	return openstack.New(s.connector, openstack.AdminCredentials(cloud)), nil
}

// Provision creates a cloud project and user for a verified team in a region
// and records the tenant.
func (s Service) Provision(ctx context.Context, teamID, regionID int64) (*domain.Tenant, error) {
	team, err := s.teams.GetTeamByID(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if !team.Verified {
		return nil, ErrTeamNotVerified
	}
	rg, err := s.regions.Get(ctx, regionID)
	if err != nil {
		return nil, err
	}
	if rg.Disabled {
		return nil, ErrRegionDisabled
	}
	if _, err := s.tenants.GetTenantByTeamRegion(ctx, teamID, regionID); err == nil {
		return nil, ErrTenantExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	cloud, err := s.regions.Cloud(rg.Name)
	if err != nil {
		return nil, err
	}

	creatorLastName := ""
	if team.CreatorID != nil {
		if creator, err := s.users.GetUserByID(ctx, *team.CreatorID); err == nil {
			creatorLastName = creator.LastName
		}
	}
	password, err := crypto.RandomSecret(24)
	if err != nil {
		return nil, err
	}
	admin := openstack.New(s.connector, openstack.AdminCredentials(cloud))
	created, err := openstack.NewProvisioner(admin).CreateTenant(ctx, openstack.ProvisionRequest{
		Name:        team.TenantName(),
		Description: team.TenantDescription(creatorLastName),
		Password:    password,
		MemberRole:  cloud.MemberRole,
	})
	if err != nil {
		return nil, err
	}
	sealed, err := s.sealer.Seal(password)
	if err != nil {
		return nil, err
	}
	tenant := &domain.Tenant{
		TeamID:          teamID,
		RegionID:        regionID,
		RegionName:      rg.Name,
		CreatedTenantID: created.ProjectID,
		AuthPassword:    sealed,
	}
	if err := s.tenants.CreateTenant(ctx, tenant); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrTenantExists
		}
		return nil, err
	}
	if !team.TenantsAvailable {
		team.TenantsAvailable = true
		if err := s.teams.UpdateTeam(ctx, team); err != nil {
			s.logger.Warn("mark tenants available failed", "team_id", teamID, "error", err)
		}
	}
	s.logger.Info("tenant provisioned", "team_id", teamID, "region", rg.Name, "project_id", created.ProjectID)
	return tenant, nil
}
