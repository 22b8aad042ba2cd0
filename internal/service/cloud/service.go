package cloud

import (
	"context"
	"strings"

	"log/slog"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/openstack"
	"github.com/MRC-CLIMB/bryn/internal/repository"
	"github.com/MRC-CLIMB/bryn/internal/service/tenant"
)

// Tenants opens tenant scopes for a caller.
type Tenants interface {
	Open(ctx context.Context, ref tenant.Ref) (*tenant.Scope, error)
}

// Service exposes cloud operations on a team's tenant.
type Service struct {
	tenants Tenants
	leases  repository.LeaseRepository
	logger  *slog.Logger
}

// New constructs a Service.
func New(tenants Tenants, leases repository.LeaseRepository, logger *slog.Logger) Service {
	return Service{tenants: tenants, leases: leases, logger: logger}
}

// Action is a server lifecycle action.
type Action string

// Supported server actions.
const (
	ActionStart    Action = "start"
	ActionStop     Action = "stop"
	ActionReboot   Action = "reboot"
	ActionUnshelve Action = "unshelve"
)

var (
	// ErrUnshelvingDisabled is returned when the region refuses unshelving.
	ErrUnshelvingDisabled = domain.NewError(domain.ErrNotAllowed, "unshelving is disabled in this region")
	// ErrNewInstancesDisabled is returned when the region refuses new resources.
	ErrNewInstancesDisabled = domain.NewError(domain.ErrNotAllowed, "new resources are disabled in this region")

	errUnknownAction = domain.NewError(domain.ErrInvalidInput, "unknown server action")
)

// ServerView is a server with its lease, if any.
type ServerView struct {
	openstack.Server
	Lease *domain.ServerLease `json:"lease"`
}

// VolumeRequest describes a volume to create.
type VolumeRequest struct {
	Name       string `json:"name"`
	SizeGB     int    `json:"size"`
	ImageID    string `json:"image_id"`
	VolumeType string `json:"volume_type"`
}

// Flavors lists flavors.
func (s Service) Flavors(ctx context.Context, ref tenant.Ref) ([]openstack.Flavor, error) {
	scope, err := s.tenants.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	return scope.Cloud.Flavors.List(ctx)
}

// Images lists images.
func (s Service) Images(ctx context.Context, ref tenant.Ref) ([]openstack.Image, error) {
	scope, err := s.tenants.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	return scope.Cloud.Images.List(ctx)
}

// KeyPairs lists keypairs.
func (s Service) KeyPairs(ctx context.Context, ref tenant.Ref) ([]openstack.KeyPair, error) {
	scope, err := s.tenants.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	return scope.Cloud.Keypairs.List(ctx)
}

// CreateKeyPair registers a public key with the tenant.
func (s Service) CreateKeyPair(ctx context.Context, ref tenant.Ref, name, publicKey string) (*openstack.KeyPair, error) {
	verr := domain.NewValidationError()
	name = strings.TrimSpace(name)
	if name == "" {
		verr.Add("name", "this field is required")
	}
	if strings.TrimSpace(publicKey) == "" {
		verr.Add("public_key", "this field is required")
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}
	scope, err := s.tenants.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	return scope.Cloud.Keypairs.Create(ctx, name, strings.TrimSpace(publicKey))
}

// DeleteKeyPair removes a keypair from the tenant.
func (s Service) DeleteKeyPair(ctx context.Context, ref tenant.Ref, name string) error {
	scope, err := s.tenants.Open(ctx, ref)
	if err != nil {
		return err
	}
	return scope.Cloud.Keypairs.Delete(ctx, name)
}

// VolumeTypes lists volume types with the default flagged.
func (s Service) VolumeTypes(ctx context.Context, ref tenant.Ref) ([]openstack.VolumeType, error) {
	scope, err := s.tenants.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	return scope.Cloud.VolumeTypes.List(ctx)
}

// Volumes lists volumes.
func (s Service) Volumes(ctx context.Context, ref tenant.Ref) ([]openstack.Volume, error) {
	scope, err := s.tenants.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	return scope.Cloud.Volumes.List(ctx)
}

// CreateVolume creates a volume within the region's size limit.
func (s Service) CreateVolume(ctx context.Context, ref tenant.Ref, req VolumeRequest) (*openstack.Volume, error) {
	scope, err := s.tenants.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	if scope.Region.NewInstancesDisabled {
		return nil, ErrNewInstancesDisabled
	}
	verr := domain.NewValidationError()
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		verr.Add("name", "this field is required")
	}
	switch {
	case req.SizeGB <= 0:
		verr.Add("size", "size must be a positive number of GB")
	case scope.Region.MaxVolumeSizeGB > 0 && req.SizeGB > scope.Region.MaxVolumeSizeGB:
		verr.Add("size", "size exceeds the region maximum")
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}
	vol, err := scope.Cloud.Volumes.Create(ctx, req.ImageID, req.Name, req.SizeGB, req.VolumeType)
	if err != nil {
		return nil, err
	}
	s.logger.Info("volume created", "team_id", ref.TeamID, "tenant_id", ref.TenantID, "volume_id", vol.ID, "size_gb", vol.Size)
	return vol, nil
}

// DeleteVolume removes an available volume.
func (s Service) DeleteVolume(ctx context.Context, ref tenant.Ref, volumeID string) error {
	scope, err := s.tenants.Open(ctx, ref)
	if err != nil {
		return err
	}
	if err := scope.Cloud.Volumes.Delete(ctx, volumeID); err != nil {
		return err
	}
	s.logger.Info("volume deleted", "team_id", ref.TeamID, "tenant_id", ref.TenantID, "volume_id", volumeID)
	return nil
}

// Servers lists servers joined with their leases.
func (s Service) Servers(ctx context.Context, ref tenant.Ref) ([]ServerView, error) {
	scope, err := s.tenants.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	servers, err := scope.Cloud.Servers.List(ctx)
	if err != nil {
		return nil, err
	}
	leases, err := s.leases.ListLeasesByTenant(ctx, scope.Tenant.ID)
	if err != nil {
		return nil, err
	}
	byServer := make(map[string]domain.ServerLease, len(leases))
	for _, l := range leases {
		byServer[l.ServerID] = l
	}
	out := make([]ServerView, 0, len(servers))
	for _, srv := range servers {
		view := ServerView{Server: srv}
		if l, ok := byServer[srv.ID]; ok {
			view.Lease = &l
		}
		out = append(out, view)
	}
	return out, nil
}

// Server returns one server.
func (s Service) Server(ctx context.Context, ref tenant.Ref, serverID string) (*openstack.Server, error) {
	scope, err := s.tenants.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	return scope.Cloud.Servers.Get(ctx, serverID)
}

// ServerAction runs a lifecycle action on a server.
func (s Service) ServerAction(ctx context.Context, ref tenant.Ref, serverID string, action Action) error {
	scope, err := s.tenants.Open(ctx, ref)
	if err != nil {
		return err
	}
	servers := scope.Cloud.Servers
	switch action {
	case ActionStart:
		err = servers.Start(ctx, serverID)
	case ActionStop:
		err = servers.Stop(ctx, serverID)
	case ActionReboot:
		err = servers.Reboot(ctx, serverID)
	case ActionUnshelve:
		if scope.Region.UnshelvingDisabled {
			return ErrUnshelvingDisabled
		}
		err = servers.Unshelve(ctx, serverID)
	default:
		return errUnknownAction
	}
	if err != nil {
		return err
	}
	s.logger.Info("server action", "action", string(action), "team_id", ref.TeamID, "tenant_id", ref.TenantID, "server_id", serverID, "user_id", ref.UserID)
	return nil
}

// TerminateServer deletes a server and its lease.
func (s Service) TerminateServer(ctx context.Context, ref tenant.Ref, serverID string) error {
	scope, err := s.tenants.Open(ctx, ref)
	if err != nil {
		return err
	}
	if err := scope.Cloud.Servers.Terminate(ctx, serverID); err != nil {
		return err
	}
	if err := s.leases.DeleteLeaseByServerID(ctx, serverID); err != nil {
		s.logger.Warn("delete lease after terminate failed", "server_id", serverID, "error", err)
	}
	s.logger.Info("server terminated", "team_id", ref.TeamID, "tenant_id", ref.TenantID, "server_id", serverID, "user_id", ref.UserID)
	return nil
}
