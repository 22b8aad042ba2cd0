package openstack

import (
	"context"
	"time"
)

// Credentials authenticate one project-scoped session. Region is the
// provider's endpoint region name.
type Credentials struct {
	AuthURL     string
	Region      string
	DomainName  string
	DomainID    string
	Username    string
	Password    string
	ProjectName string
}

// Connector opens authenticated sessions against a cloud.
type Connector interface {
	Connect(ctx context.Context, creds Credentials) (Session, error)
}

// Session hands out per-API clients for one authenticated project.
type Session interface {
	Compute(ctx context.Context) (ComputeClient, error)
	BlockStorage(ctx context.Context) (BlockStorageClient, error)
	Image(ctx context.Context) (ImageClient, error)
	Identity(ctx context.Context) (IdentityClient, error)
}

// ComputeClient covers the compute API calls the application makes.
type ComputeClient interface {
	ListFlavors(ctx context.Context) ([]Flavor, error)
	CreateKeyPair(ctx context.Context, name, publicKey string) (*KeyPair, error)
	GetKeyPair(ctx context.Context, name string) (*KeyPair, error)
	ListKeyPairs(ctx context.Context) ([]KeyPair, error)
	DeleteKeyPair(ctx context.Context, name string) error
	GetServer(ctx context.Context, id string) (*Server, error)
	ListServers(ctx context.Context) ([]Server, error)
	StartServer(ctx context.Context, id string) error
	StopServer(ctx context.Context, id string) error
	DeleteServer(ctx context.Context, id string) error
	UnshelveServer(ctx context.Context, id string) error
	HardRebootServer(ctx context.Context, id string) error
	HypervisorStatistics(ctx context.Context) (*HypervisorStatistics, error)
}

// BlockStorageClient covers the block storage API calls.
type BlockStorageClient interface {
	GetVolume(ctx context.Context, id string) (*Volume, error)
	ListVolumes(ctx context.Context) ([]Volume, error)
	CreateVolume(ctx context.Context, req VolumeRequest) (*Volume, error)
	DeleteVolume(ctx context.Context, id string) error
	ListVolumeTypes(ctx context.Context) ([]VolumeType, error)
}

// ImageClient covers the image API calls.
type ImageClient interface {
	ListImages(ctx context.Context) ([]Image, error)
}

// IdentityClient covers the identity calls used to provision tenants.
type IdentityClient interface {
	CreateProject(ctx context.Context, name, description string) (string, error)
	CreateUser(ctx context.Context, name, password, projectID string) (string, error)
	FindRole(ctx context.Context, name string) (string, error)
	AssignProjectRole(ctx context.Context, roleID, userID, projectID string) error
}

// Flavor is a compute size.
type Flavor struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	RAM    int    `json:"ram"`
	VCPUs  int    `json:"vcpus"`
	Disk   int    `json:"disk"`
	Public bool   `json:"is_public"`
}

// KeyPair is an SSH key registered with the compute API.
type KeyPair struct {
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
	PublicKey   string `json:"public_key"`
}

// Server is a compute instance.
type Server struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Status    string              `json:"status"`
	FlavorID  string              `json:"flavor_id"`
	ImageID   string              `json:"image_id"`
	KeyName   string              `json:"key_name"`
	Addresses map[string][]string `json:"addresses"`
	Created   time.Time           `json:"created"`
	Updated   time.Time           `json:"updated"`
}

// Volume is a block storage volume.
type Volume struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Size       int       `json:"size"`
	VolumeType string    `json:"volume_type"`
	Bootable   bool      `json:"bootable"`
	Attached   []string  `json:"attached_to"`
	CreatedAt  time.Time `json:"created_at"`
}

// VolumeRequest describes a volume to create.
type VolumeRequest struct {
	Name       string
	SizeGB     int
	ImageID    string
	VolumeType string
}

// VolumeType is a block storage backend class.
type VolumeType struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Public    bool   `json:"is_public"`
	IsDefault bool   `json:"is_default"`
}

// Image is a bootable image.
type Image struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Visibility string    `json:"visibility"`
	MinDiskGB  int       `json:"min_disk"`
	MinRAMMB   int       `json:"min_ram"`
	SizeBytes  int64     `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
}

// HypervisorStatistics aggregates capacity across a region's hypervisors.
type HypervisorStatistics struct {
	Count              int
	DiskAvailableLeast int
	FreeDiskGB         int
	FreeRAMMB          int
	LocalGB            int
	LocalGBUsed        int
	MemoryMB           int
	MemoryMBUsed       int
	RunningVMs         int
	VCPUs              int
	VCPUsUsed          int
}
