package openstack

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gophercloud/gophercloud/v2"
	gcopenstack "github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/volumes"
	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/volumetypes"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/hypervisors"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/keypairs"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/projects"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/roles"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/users"
	"github.com/gophercloud/gophercloud/v2/openstack/image/v2/images"
)

// GophercloudConnector authenticates against Keystone with gophercloud.
type GophercloudConnector struct {
	Timeout time.Duration
}

var _ Connector = GophercloudConnector{}

// Connect performs password authentication scoped to the credential's project.
func (c GophercloudConnector) Connect(ctx context.Context, creds Credentials) (Session, error) {
	provider, err := gcopenstack.NewClient(creds.AuthURL)
	if err != nil {
		return nil, fmt.Errorf("auth endpoint: %w", err)
	}
	provider.HTTPClient = http.Client{Timeout: c.Timeout}
	opts := gophercloud.AuthOptions{
		IdentityEndpoint: creds.AuthURL,
		Username:         creds.Username,
		Password:         creds.Password,
		DomainName:       creds.DomainName,
		Scope: &gophercloud.AuthScope{
			ProjectName: creds.ProjectName,
			DomainName:  creds.DomainName,
		},
	}
	if err := gcopenstack.Authenticate(ctx, provider, opts); err != nil {
		return nil, err
	}
	return &gophercloudSession{
		provider: provider,
		endpoint: gophercloud.EndpointOpts{Region: creds.Region},
		domainID: creds.DomainID,
	}, nil
}

type gophercloudSession struct {
	provider *gophercloud.ProviderClient
	endpoint gophercloud.EndpointOpts
	domainID string
}

func (s *gophercloudSession) Compute(context.Context) (ComputeClient, error) {
	client, err := gcopenstack.NewComputeV2(s.provider, s.endpoint)
	if err != nil {
		return nil, err
	}
	return computeClient{client: client}, nil
}

func (s *gophercloudSession) BlockStorage(context.Context) (BlockStorageClient, error) {
	client, err := gcopenstack.NewBlockStorageV3(s.provider, s.endpoint)
	if err != nil {
		return nil, err
	}
	return blockStorageClient{client: client}, nil
}

func (s *gophercloudSession) Image(context.Context) (ImageClient, error) {
	client, err := gcopenstack.NewImageV2(s.provider, s.endpoint)
	if err != nil {
		return nil, err
	}
	return imageClient{client: client}, nil
}

func (s *gophercloudSession) Identity(context.Context) (IdentityClient, error) {
	client, err := gcopenstack.NewIdentityV3(s.provider, s.endpoint)
	if err != nil {
		return nil, err
	}
	return identityClient{client: client, domainID: s.domainID}, nil
}

type computeClient struct {
	client *gophercloud.ServiceClient
}

func (c computeClient) ListFlavors(ctx context.Context) ([]Flavor, error) {
	pages, err := flavors.ListDetail(c.client, flavors.ListOpts{}).AllPages(ctx)
	if err != nil {
		return nil, err
	}
	all, err := flavors.ExtractFlavors(pages)
	if err != nil {
		return nil, err
	}
	out := make([]Flavor, 0, len(all))
	for _, f := range all {
		out = append(out, Flavor{ID: f.ID, Name: f.Name, RAM: f.RAM, VCPUs: f.VCPUs, Disk: f.Disk, Public: f.IsPublic})
	}
	return out, nil
}

func (c computeClient) CreateKeyPair(ctx context.Context, name, publicKey string) (*KeyPair, error) {
	kp, err := keypairs.Create(ctx, c.client, keypairs.CreateOpts{Name: name, PublicKey: publicKey}).Extract()
	if err != nil {
		return nil, err
	}
	return &KeyPair{Name: kp.Name, Fingerprint: kp.Fingerprint, PublicKey: kp.PublicKey}, nil
}

func (c computeClient) GetKeyPair(ctx context.Context, name string) (*KeyPair, error) {
	kp, err := keypairs.Get(ctx, c.client, name, keypairs.GetOpts{}).Extract()
	if err != nil {
		return nil, err
	}
	return &KeyPair{Name: kp.Name, Fingerprint: kp.Fingerprint, PublicKey: kp.PublicKey}, nil
}

func (c computeClient) ListKeyPairs(ctx context.Context) ([]KeyPair, error) {
	pages, err := keypairs.List(c.client, keypairs.ListOpts{}).AllPages(ctx)
	if err != nil {
		return nil, err
	}
	all, err := keypairs.ExtractKeyPairs(pages)
	if err != nil {
		return nil, err
	}
	out := make([]KeyPair, 0, len(all))
	for _, kp := range all {
		out = append(out, KeyPair{Name: kp.Name, Fingerprint: kp.Fingerprint, PublicKey: kp.PublicKey})
	}
	return out, nil
}

func (c computeClient) DeleteKeyPair(ctx context.Context, name string) error {
	return keypairs.Delete(ctx, c.client, name, keypairs.DeleteOpts{}).ExtractErr()
}

func (c computeClient) GetServer(ctx context.Context, id string) (*Server, error) {
	srv, err := servers.Get(ctx, c.client, id).Extract()
	if err != nil {
		return nil, err
	}
	out := convertServer(*srv)
	return &out, nil
}

func (c computeClient) ListServers(ctx context.Context) ([]Server, error) {
	pages, err := servers.List(c.client, servers.ListOpts{}).AllPages(ctx)
	if err != nil {
		return nil, err
	}
	all, err := servers.ExtractServers(pages)
	if err != nil {
		return nil, err
	}
	out := make([]Server, 0, len(all))
	for _, srv := range all {
		out = append(out, convertServer(srv))
	}
	return out, nil
}

func (c computeClient) StartServer(ctx context.Context, id string) error {
	return servers.Start(ctx, c.client, id).ExtractErr()
}

func (c computeClient) StopServer(ctx context.Context, id string) error {
	return servers.Stop(ctx, c.client, id).ExtractErr()
}

func (c computeClient) DeleteServer(ctx context.Context, id string) error {
	return servers.Delete(ctx, c.client, id).ExtractErr()
}

func (c computeClient) UnshelveServer(ctx context.Context, id string) error {
	return servers.Unshelve(ctx, c.client, id, servers.UnshelveOpts{}).ExtractErr()
}

func (c computeClient) HardRebootServer(ctx context.Context, id string) error {
	return servers.Reboot(ctx, c.client, id, servers.RebootOpts{Type: servers.HardReboot}).ExtractErr()
}

func (c computeClient) HypervisorStatistics(ctx context.Context) (*HypervisorStatistics, error) {
	st, err := hypervisors.GetStatistics(ctx, c.client).Extract()
	if err != nil {
		return nil, err
	}
	return &HypervisorStatistics{
		Count:              st.Count,
		DiskAvailableLeast: st.DiskAvailableLeast,
		FreeDiskGB:         st.FreeDiskGB,
		FreeRAMMB:          st.FreeRamMB,
		LocalGB:            st.LocalGB,
		LocalGBUsed:        st.LocalGBUsed,
		MemoryMB:           st.MemoryMB,
		MemoryMBUsed:       st.MemoryMBUsed,
		RunningVMs:         st.RunningVMs,
		VCPUs:              st.VCPUs,
		VCPUsUsed:          st.VCPUsUsed,
	}, nil
}

func convertServer(srv servers.Server) Server {
	out := Server{
		ID:        srv.ID,
		Name:      srv.Name,
		Status:    srv.Status,
		KeyName:   srv.KeyName,
		Created:   srv.Created,
		Updated:   srv.Updated,
		Addresses: make(map[string][]string, len(srv.Addresses)),
	}
	if id, ok := srv.Flavor["id"].(string); ok {
		out.FlavorID = id
	}
	if id, ok := srv.Image["id"].(string); ok {
		out.ImageID = id
	}
	for network, raw := range srv.Addresses {
		entries, ok := raw.([]any)
		if !ok {
			continue
		}
		for _, entry := range entries {
			fields, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			if addr, ok := fields["addr"].(string); ok {
				out.Addresses[network] = append(out.Addresses[network], addr)
			}
		}
	}
	return out
}

type blockStorageClient struct {
	client *gophercloud.ServiceClient
}

func (c blockStorageClient) GetVolume(ctx context.Context, id string) (*Volume, error) {
	vol, err := volumes.Get(ctx, c.client, id).Extract()
	if err != nil {
		return nil, err
	}
	out := convertVolume(*vol)
	return &out, nil
}

func (c blockStorageClient) ListVolumes(ctx context.Context) ([]Volume, error) {
	pages, err := volumes.List(c.client, volumes.ListOpts{}).AllPages(ctx)
	if err != nil {
		return nil, err
	}
	all, err := volumes.ExtractVolumes(pages)
	if err != nil {
		return nil, err
	}
	out := make([]Volume, 0, len(all))
	for _, vol := range all {
		out = append(out, convertVolume(vol))
	}
	return out, nil
}

func (c blockStorageClient) CreateVolume(ctx context.Context, req VolumeRequest) (*Volume, error) {
	opts := volumes.CreateOpts{
		Name:       req.Name,
		Size:       req.SizeGB,
		ImageID:    req.ImageID,
		VolumeType: req.VolumeType,
	}
	vol, err := volumes.Create(ctx, c.client, opts, nil).Extract()
	if err != nil {
		return nil, err
	}
	out := convertVolume(*vol)
	return &out, nil
}

func (c blockStorageClient) DeleteVolume(ctx context.Context, id string) error {
	return volumes.Delete(ctx, c.client, id, volumes.DeleteOpts{}).ExtractErr()
}

func (c blockStorageClient) ListVolumeTypes(ctx context.Context) ([]VolumeType, error) {
	pages, err := volumetypes.List(c.client, volumetypes.ListOpts{}).AllPages(ctx)
	if err != nil {
		return nil, err
	}
	all, err := volumetypes.ExtractVolumeTypes(pages)
	if err != nil {
		return nil, err
	}
	out := make([]VolumeType, 0, len(all))
	for _, vt := range all {
		out = append(out, VolumeType{ID: vt.ID, Name: vt.Name, Public: vt.IsPublic})
	}
	return out, nil
}

func convertVolume(vol volumes.Volume) Volume {
	out := Volume{
		ID:         vol.ID,
		Name:       vol.Name,
		Status:     vol.Status,
		Size:       vol.Size,
		VolumeType: vol.VolumeType,
		Bootable:   vol.Bootable == "true",
		CreatedAt:  vol.CreatedAt,
	}
	for _, att := range vol.Attachments {
		out.Attached = append(out.Attached, att.ServerID)
	}
	return out
}

type imageClient struct {
	client *gophercloud.ServiceClient
}

func (c imageClient) ListImages(ctx context.Context) ([]Image, error) {
	pages, err := images.List(c.client, images.ListOpts{}).AllPages(ctx)
	if err != nil {
		return nil, err
	}
	all, err := images.ExtractImages(pages)
	if err != nil {
		return nil, err
	}
	out := make([]Image, 0, len(all))
	for _, img := range all {
		out = append(out, Image{
			ID:         img.ID,
			Name:       img.Name,
			Status:     string(img.Status),
			Visibility: string(img.Visibility),
			MinDiskGB:  img.MinDiskGigabytes,
			MinRAMMB:   img.MinRAMMegabytes,
			SizeBytes:  img.SizeBytes,
			CreatedAt:  img.CreatedAt,
		})
	}
	return out, nil
}

type identityClient struct {
	client   *gophercloud.ServiceClient
	domainID string
}

func (c identityClient) CreateProject(ctx context.Context, name, description string) (string, error) {
	enabled := true
	project, err := projects.Create(ctx, c.client, projects.CreateOpts{
		Name:        name,
		Description: description,
		DomainID:    c.domainID,
		Enabled:     &enabled,
	}).Extract()
	if err != nil {
		return "", err
	}
	return project.ID, nil
}

func (c identityClient) CreateUser(ctx context.Context, name, password, projectID string) (string, error) {
	enabled := true
	user, err := users.Create(ctx, c.client, users.CreateOpts{
		Name:             name,
		Password:         password,
		DomainID:         c.domainID,
		DefaultProjectID: projectID,
		Enabled:          &enabled,
	}).Extract()
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

func (c identityClient) FindRole(ctx context.Context, name string) (string, error) {
	pages, err := roles.List(c.client, roles.ListOpts{Name: name}).AllPages(ctx)
	if err != nil {
		return "", err
	}
	all, err := roles.ExtractRoles(pages)
	if err != nil {
		return "", err
	}
	if len(all) == 0 {
		return "", fmt.Errorf("role %q: %w", name, ErrNotFound)
	}
	return all[0].ID, nil
}

func (c identityClient) AssignProjectRole(ctx context.Context, roleID, userID, projectID string) error {
	return roles.Assign(ctx, c.client, roleID, roles.AssignOpts{UserID: userID, ProjectID: projectID}).ExtractErr()
}
