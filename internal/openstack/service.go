package openstack

import (
	"context"
	"fmt"
	"strings"
)

// Service is the cloud façade for one tenant in one region. Clients are
// created on first use and reused for the life of the Service. A Service
// must not be shared between goroutines.
type Service struct {
	connector         Connector
	creds             Credentials
	defaultVolumeType string

	session      Session
	compute      ComputeClient
	blockStorage BlockStorageClient
	image        ImageClient
	identity     IdentityClient
	volumeType   *VolumeType

	Images      *ImageService
	Flavors     *FlavorService
	Keypairs    *KeypairService
	Servers     *ServerService
	Volumes     *VolumeService
	VolumeTypes *VolumeTypeService
	Hypervisors *HypervisorService
}

// Option configures a Service.
type Option func(*Service)

// WithDefaultVolumeType sets the volume type used when a request names none.
func WithDefaultVolumeType(name string) Option {
	return func(s *Service) {
		s.defaultVolumeType = strings.TrimSpace(name)
	}
}

// New returns a façade that authenticates with creds on first use.
func New(connector Connector, creds Credentials, opts ...Option) *Service {
	s := &Service{connector: connector, creds: creds}
	for _, opt := range opts {
		opt(s)
	}
	s.Images = &ImageService{svc: s}
	s.Flavors = &FlavorService{svc: s}
	s.Keypairs = &KeypairService{svc: s}
	s.Servers = &ServerService{svc: s}
	s.Volumes = &VolumeService{svc: s}
	s.VolumeTypes = &VolumeTypeService{svc: s}
	s.Hypervisors = &HypervisorService{svc: s}
	return s
}

func (s *Service) sessionFor(ctx context.Context) (Session, error) {
	if s.session != nil {
		return s.session, nil
	}
	if s.connector == nil {
		return nil, fmt.Errorf("authenticate: %w", ErrServiceUnavailable)
	}
	sess, err := s.connector.Connect(ctx, s.creds)
	if err != nil {
		return nil, mapError("authenticate", err)
	}
	s.session = sess
	return sess, nil
}

func (s *Service) computeClient(ctx context.Context) (ComputeClient, error) {
	if s.compute != nil {
		return s.compute, nil
	}
	sess, err := s.sessionFor(ctx)
	if err != nil {
		return nil, err
	}
	client, err := sess.Compute(ctx)
	if err != nil {
		return nil, mapError("compute client", err)
	}
	s.compute = client
	return client, nil
}

func (s *Service) blockStorageClient(ctx context.Context) (BlockStorageClient, error) {
	if s.blockStorage != nil {
		return s.blockStorage, nil
	}
	sess, err := s.sessionFor(ctx)
	if err != nil {
		return nil, err
	}
	client, err := sess.BlockStorage(ctx)
	if err != nil {
		return nil, mapError("block storage client", err)
	}
	s.blockStorage = client
	return client, nil
}

func (s *Service) imageClient(ctx context.Context) (ImageClient, error) {
	if s.image != nil {
		return s.image, nil
	}
	sess, err := s.sessionFor(ctx)
	if err != nil {
		return nil, err
	}
	client, err := sess.Image(ctx)
	if err != nil {
		return nil, mapError("image client", err)
	}
	s.image = client
	return client, nil
}

func (s *Service) identityClient(ctx context.Context) (IdentityClient, error) {
	if s.identity != nil {
		return s.identity, nil
	}
	sess, err := s.sessionFor(ctx)
	if err != nil {
		return nil, err
	}
	client, err := sess.Identity(ctx)
	if err != nil {
		return nil, mapError("identity client", err)
	}
	s.identity = client
	return client, nil
}

// ImageService lists images visible to the tenant.
type ImageService struct{ svc *Service }

// List returns all images.
func (i *ImageService) List(ctx context.Context) ([]Image, error) {
	client, err := i.svc.imageClient(ctx)
	if err != nil {
		return nil, err
	}
	images, err := client.ListImages(ctx)
	return images, mapError("list images", err)
}

// FlavorService lists flavors.
type FlavorService struct{ svc *Service }

// List returns detailed flavors.
func (f *FlavorService) List(ctx context.Context) ([]Flavor, error) {
	client, err := f.svc.computeClient(ctx)
	if err != nil {
		return nil, err
	}
	flavors, err := client.ListFlavors(ctx)
	return flavors, mapError("list flavors", err)
}

// KeypairService manages SSH keys registered with the compute API.
type KeypairService struct{ svc *Service }

// Create registers a public key under name.
func (k *KeypairService) Create(ctx context.Context, name, publicKey string) (*KeyPair, error) {
	client, err := k.svc.computeClient(ctx)
	if err != nil {
		return nil, err
	}
	kp, err := client.CreateKeyPair(ctx, name, publicKey)
	return kp, mapError("create keypair", err)
}

// Get returns a keypair by name.
func (k *KeypairService) Get(ctx context.Context, name string) (*KeyPair, error) {
	client, err := k.svc.computeClient(ctx)
	if err != nil {
		return nil, err
	}
	kp, err := client.GetKeyPair(ctx, name)
	return kp, mapError("get keypair", err)
}

// List returns all keypairs.
func (k *KeypairService) List(ctx context.Context) ([]KeyPair, error) {
	client, err := k.svc.computeClient(ctx)
	if err != nil {
		return nil, err
	}
	kps, err := client.ListKeyPairs(ctx)
	return kps, mapError("list keypairs", err)
}

// Delete removes a keypair by name.
func (k *KeypairService) Delete(ctx context.Context, name string) error {
	client, err := k.svc.computeClient(ctx)
	if err != nil {
		return err
	}
	return mapError("delete keypair", client.DeleteKeyPair(ctx, name))
}

// ServerService runs lifecycle actions on servers.
type ServerService struct{ svc *Service }

// Get returns one server.
func (s *ServerService) Get(ctx context.Context, id string) (*Server, error) {
	client, err := s.svc.computeClient(ctx)
	if err != nil {
		return nil, err
	}
	server, err := client.GetServer(ctx, id)
	return server, mapError("get server", err)
}

// List returns detailed servers.
func (s *ServerService) List(ctx context.Context) ([]Server, error) {
	client, err := s.svc.computeClient(ctx)
	if err != nil {
		return nil, err
	}
	servers, err := client.ListServers(ctx)
	return servers, mapError("list servers", err)
}

// Start powers a server on.
func (s *ServerService) Start(ctx context.Context, id string) error {
	client, err := s.svc.computeClient(ctx)
	if err != nil {
		return err
	}
	return mapError("start server", client.StartServer(ctx, id))
}

// Stop powers a server off.
func (s *ServerService) Stop(ctx context.Context, id string) error {
	client, err := s.svc.computeClient(ctx)
	if err != nil {
		return err
	}
	return mapError("stop server", client.StopServer(ctx, id))
}

// Terminate deletes a server.
func (s *ServerService) Terminate(ctx context.Context, id string) error {
	client, err := s.svc.computeClient(ctx)
	if err != nil {
		return err
	}
	return mapError("terminate server", client.DeleteServer(ctx, id))
}

// Unshelve restores a shelved server.
func (s *ServerService) Unshelve(ctx context.Context, id string) error {
	client, err := s.svc.computeClient(ctx)
	if err != nil {
		return err
	}
	return mapError("unshelve server", client.UnshelveServer(ctx, id))
}

// Reboot restarts a server. Reboots are always hard.
func (s *ServerService) Reboot(ctx context.Context, id string) error {
	client, err := s.svc.computeClient(ctx)
	if err != nil {
		return err
	}
	return mapError("reboot server", client.HardRebootServer(ctx, id))
}

// VolumeService manages block storage volumes.
type VolumeService struct{ svc *Service }

// Get returns one volume.
func (v *VolumeService) Get(ctx context.Context, id string) (*Volume, error) {
	client, err := v.svc.blockStorageClient(ctx)
	if err != nil {
		return nil, err
	}
	vol, err := client.GetVolume(ctx, id)
	return vol, mapError("get volume", err)
}

// List returns all volumes.
func (v *VolumeService) List(ctx context.Context) ([]Volume, error) {
	client, err := v.svc.blockStorageClient(ctx)
	if err != nil {
		return nil, err
	}
	vols, err := client.ListVolumes(ctx)
	return vols, mapError("list volumes", err)
}

// Create makes a volume, optionally from an image. An empty volume type
// resolves to the default type.
func (v *VolumeService) Create(ctx context.Context, imageID, name string, sizeGB int, volumeType string) (*Volume, error) {
	client, err := v.svc.blockStorageClient(ctx)
	if err != nil {
		return nil, err
	}
	if volumeType == "" {
		vt, err := v.svc.VolumeTypes.Default(ctx)
		if err != nil {
			return nil, err
		}
		volumeType = vt.Name
	}
	vol, err := client.CreateVolume(ctx, VolumeRequest{Name: name, SizeGB: sizeGB, ImageID: imageID, VolumeType: volumeType})
	return vol, mapError("create volume", err)
}

// Delete removes a volume. Only volumes with status "available" may be deleted.
func (v *VolumeService) Delete(ctx context.Context, id string) error {
	vol, err := v.Get(ctx, id)
	if err != nil {
		return err
	}
	if vol.Status != "available" {
		return ErrVolumeNotAvailable
	}
	client, err := v.svc.blockStorageClient(ctx)
	if err != nil {
		return err
	}
	return mapError("delete volume", client.DeleteVolume(ctx, id))
}

// VolumeTypeService lists volume types.
type VolumeTypeService struct{ svc *Service }

// Default returns the region's configured volume type, or the first public
// type when none is configured.
func (v *VolumeTypeService) Default(ctx context.Context) (*VolumeType, error) {
	if v.svc.volumeType != nil {
		return v.svc.volumeType, nil
	}
	types, err := v.fetch(ctx)
	if err != nil {
		return nil, err
	}
	var chosen, firstPublic *VolumeType
	for i := range types {
		if v.svc.defaultVolumeType != "" && types[i].Name == v.svc.defaultVolumeType {
			chosen = &types[i]
			break
		}
		if firstPublic == nil && types[i].Public {
			firstPublic = &types[i]
		}
	}
	if chosen == nil {
		chosen = firstPublic
	}
	if chosen == nil {
		return nil, fmt.Errorf("default volume type: %w", ErrNotFound)
	}
	chosen.IsDefault = true
	v.svc.volumeType = chosen
	return chosen, nil
}

// List returns volume types with the default one flagged.
func (v *VolumeTypeService) List(ctx context.Context) ([]VolumeType, error) {
	types, err := v.fetch(ctx)
	if err != nil {
		return nil, err
	}
	def, err := v.Default(ctx)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	for i := range types {
		types[i].IsDefault = def != nil && types[i].ID == def.ID
	}
	return types, nil
}

func (v *VolumeTypeService) fetch(ctx context.Context) ([]VolumeType, error) {
	client, err := v.svc.blockStorageClient(ctx)
	if err != nil {
		return nil, err
	}
	types, err := client.ListVolumeTypes(ctx)
	return types, mapError("list volume types", err)
}

// HypervisorService reads aggregate capacity. It needs admin scope.
type HypervisorService struct{ svc *Service }

// Statistics returns aggregate hypervisor statistics for the region.
func (h *HypervisorService) Statistics(ctx context.Context) (*HypervisorStatistics, error) {
	client, err := h.svc.computeClient(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := client.HypervisorStatistics(ctx)
	return stats, mapError("hypervisor statistics", err)
}
