package openstack

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gophercloud/gophercloud/v2"
)

type stubConnector struct {
	session *stubSession
	calls   int
	err     error
}

func (c *stubConnector) Connect(context.Context, Credentials) (Session, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.session, nil
}

type stubSession struct {
	compute      *stubCompute
	blockStorage *stubBlockStorage
	computeCalls int
}

func (s *stubSession) Compute(context.Context) (ComputeClient, error) {
	s.computeCalls++
	return s.compute, nil
}

func (s *stubSession) BlockStorage(context.Context) (BlockStorageClient, error) {
	return s.blockStorage, nil
}

func (s *stubSession) Image(context.Context) (ImageClient, error) {
	return nil, errors.New("no image api")
}

func (s *stubSession) Identity(context.Context) (IdentityClient, error) {
	return nil, errors.New("no identity api")
}

type stubCompute struct {
	ComputeClient
	rebooted []string
	started  []string
	err      error
}

func (c *stubCompute) HardRebootServer(_ context.Context, id string) error {
	c.rebooted = append(c.rebooted, id)
	return c.err
}

func (c *stubCompute) StartServer(_ context.Context, id string) error {
	c.started = append(c.started, id)
	return c.err
}

type stubBlockStorage struct {
	BlockStorageClient
	volumes map[string]Volume
	types   []VolumeType
	created []VolumeRequest
	deleted []string
}

func (b *stubBlockStorage) GetVolume(_ context.Context, id string) (*Volume, error) {
	vol, ok := b.volumes[id]
	if !ok {
		return nil, gophercloud.ErrUnexpectedResponseCode{Actual: http.StatusNotFound}
	}
	return &vol, nil
}

func (b *stubBlockStorage) DeleteVolume(_ context.Context, id string) error {
	b.deleted = append(b.deleted, id)
	return nil
}

func (b *stubBlockStorage) CreateVolume(_ context.Context, req VolumeRequest) (*Volume, error) {
	b.created = append(b.created, req)
	return &Volume{ID: "vol-new", Name: req.Name, Size: req.SizeGB, VolumeType: req.VolumeType, Status: "creating"}, nil
}

func (b *stubBlockStorage) ListVolumeTypes(context.Context) ([]VolumeType, error) {
	out := make([]VolumeType, len(b.types))
	copy(out, b.types)
	return out, nil
}

func newStubService(opts ...Option) (*Service, *stubConnector) {
	connector := &stubConnector{session: &stubSession{
		compute: &stubCompute{},
		blockStorage: &stubBlockStorage{
			volumes: map[string]Volume{
				"vol-free":  {ID: "vol-free", Status: "available"},
				"vol-inuse": {ID: "vol-inuse", Status: "in-use"},
			},
			types: []VolumeType{
				{ID: "t1", Name: "private", Public: false},
				{ID: "t2", Name: "standard", Public: true},
				{ID: "t3", Name: "ceph-ssd", Public: true},
			},
		},
	}}
	return New(connector, Credentials{Username: "bryn:1_team", ProjectName: "bryn:1_team"}, opts...), connector
}

func TestClientsAreCreatedOnceAndCached(t *testing.T) {
	svc, connector := newStubService()
	ctx := context.Background()
	if err := svc.Servers.Reboot(ctx, "srv-1"); err != nil {
		t.Fatalf("reboot: %v", err)
	}
	if err := svc.Servers.Start(ctx, "srv-2"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if connector.calls != 1 {
		t.Fatalf("expected one authentication, got %d", connector.calls)
	}
	if connector.session.computeCalls != 1 {
		t.Fatalf("expected one compute client, got %d", connector.session.computeCalls)
	}
	if got := connector.session.compute.rebooted; len(got) != 1 || got[0] != "srv-1" {
		t.Fatalf("unexpected reboots %v", got)
	}
}

func TestAuthenticationFailureMapsToUnavailable(t *testing.T) {
	connector := &stubConnector{err: &netTimeout{}}
	svc := New(connector, Credentials{})
	if _, err := svc.Flavors.List(context.Background()); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestDeleteVolumeRequiresAvailableStatus(t *testing.T) {
	svc, connector := newStubService()
	ctx := context.Background()
	if err := svc.Volumes.Delete(ctx, "vol-inuse"); !errors.Is(err, ErrVolumeNotAvailable) {
		t.Fatalf("expected not available, got %v", err)
	}
	if err := svc.Volumes.Delete(ctx, "vol-free"); err != nil {
		t.Fatalf("delete available volume: %v", err)
	}
	if err := svc.Volumes.Delete(ctx, "vol-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if got := connector.session.blockStorage.deleted; len(got) != 1 || got[0] != "vol-free" {
		t.Fatalf("unexpected deletes %v", got)
	}
}

func TestCreateVolumeUsesDefaultType(t *testing.T) {
	svc, connector := newStubService(WithDefaultVolumeType("ceph-ssd"))
	vol, err := svc.Volumes.Create(context.Background(), "img-1", "data", 20, "")
	if err != nil {
		t.Fatalf("create volume: %v", err)
	}
	if vol.VolumeType != "ceph-ssd" {
		t.Fatalf("expected configured default type, got %q", vol.VolumeType)
	}
	req := connector.session.blockStorage.created[0]
	if req.ImageID != "img-1" || req.SizeGB != 20 {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestVolumeTypesFallBackToFirstPublic(t *testing.T) {
	svc, _ := newStubService()
	types, err := svc.VolumeTypes.List(context.Background())
	if err != nil {
		t.Fatalf("list volume types: %v", err)
	}
	for _, vt := range types {
		if vt.IsDefault != (vt.Name == "standard") {
			t.Fatalf("unexpected default flag on %+v", vt)
		}
	}
}

func TestProviderErrorsAreWrapped(t *testing.T) {
	svc, connector := newStubService()
	connector.session.compute.err = errors.New("boom")
	err := svc.Servers.Reboot(context.Background(), "srv-1")
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
	connector.session.compute.err = gophercloud.ErrUnexpectedResponseCode{Actual: http.StatusServiceUnavailable}
	if err := svc.Servers.Start(context.Background(), "srv-1"); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

type netTimeout struct{}

func (netTimeout) Error() string   { return "dial tcp: i/o timeout" }
func (netTimeout) Timeout() bool   { return true }
func (netTimeout) Temporary() bool { return true }
