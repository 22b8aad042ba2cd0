package cloud

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/openstack"
	"github.com/MRC-CLIMB/bryn/internal/repository"
	"github.com/MRC-CLIMB/bryn/internal/service/tenant"
)

type fakeCompute struct {
	openstack.ComputeClient
	servers    []openstack.Server
	unshelved  []string
	terminated []string
}

func (f *fakeCompute) ListServers(context.Context) ([]openstack.Server, error) { return f.servers, nil }

func (f *fakeCompute) UnshelveServer(_ context.Context, id string) error {
	f.unshelved = append(f.unshelved, id)
	return nil
}

func (f *fakeCompute) DeleteServer(_ context.Context, id string) error {
	f.terminated = append(f.terminated, id)
	return nil
}

type fakeBlockStorage struct {
	openstack.BlockStorageClient
	created []openstack.VolumeRequest
}

func (f *fakeBlockStorage) CreateVolume(_ context.Context, req openstack.VolumeRequest) (*openstack.Volume, error) {
	f.created = append(f.created, req)
	return &openstack.Volume{ID: "vol-1", Name: req.Name, Size: req.SizeGB}, nil
}

type fakeSession struct {
	openstack.Session
	compute *fakeCompute
	storage *fakeBlockStorage
}

func (s fakeSession) Compute(context.Context) (openstack.ComputeClient, error) { return s.compute, nil }

func (s fakeSession) BlockStorage(context.Context) (openstack.BlockStorageClient, error) {
	return s.storage, nil
}

type fakeConnector struct{ session fakeSession }

func (c fakeConnector) Connect(context.Context, openstack.Credentials) (openstack.Session, error) {
	return c.session, nil
}

type fakeTenants struct {
	region    domain.Region
	connector fakeConnector
}

func (f *fakeTenants) Open(_ context.Context, ref tenant.Ref) (*tenant.Scope, error) {
	if ref.UserID != 1 {
		return nil, domain.NewError(domain.ErrNotFound, "team not found")
	}
	rg := f.region
	return &tenant.Scope{
		Tenant: &domain.Tenant{ID: ref.TenantID, TeamID: ref.TeamID},
		Region: &rg,
		Member: &domain.TeamMember{TeamID: ref.TeamID, UserID: ref.UserID},
		Cloud:  openstack.New(f.connector, openstack.Credentials{}, openstack.WithDefaultVolumeType("standard")),
	}, nil
}

type fakeLeases struct {
	repository.LeaseRepository
	leases  []domain.ServerLease
	deleted []string
}

func (f *fakeLeases) ListLeasesByTenant(context.Context, int64) ([]domain.ServerLease, error) {
	return f.leases, nil
}

func (f *fakeLeases) DeleteLeaseByServerID(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func newTestService(region domain.Region) (Service, *fakeTenants, *fakeLeases) {
	tenants := &fakeTenants{
		region: region,
		connector: fakeConnector{session: fakeSession{
			compute: &fakeCompute{servers: []openstack.Server{{ID: "srv-1", Name: "a"}, {ID: "srv-2", Name: "b"}}},
			storage: &fakeBlockStorage{},
		}},
	}
	leases := &fakeLeases{leases: []domain.ServerLease{{ID: 1, ServerID: "srv-2", ServerName: "b"}}}
	return New(tenants, leases, slog.New(slog.NewTextHandler(io.Discard, nil))), tenants, leases
}

var ref = tenant.Ref{TeamID: 1, TenantID: 2, UserID: 1}

func TestServersIncludeLeases(t *testing.T) {
	svc, _, _ := newTestService(domain.Region{Name: "warwick"})
	views, err := svc.Servers(context.Background(), ref)
	if err != nil {
		t.Fatalf("servers: %v", err)
	}
	if len(views) != 2 || views[0].Lease != nil || views[1].Lease == nil || views[1].Lease.ID != 1 {
		t.Fatalf("unexpected views %+v", views)
	}
}

func TestUnshelveRespectsRegionFlag(t *testing.T) {
	svc, tenants, _ := newTestService(domain.Region{Name: "warwick", UnshelvingDisabled: true})
	if err := svc.ServerAction(context.Background(), ref, "srv-1", ActionUnshelve); !errors.Is(err, domain.ErrNotAllowed) {
		t.Fatalf("expected not allowed, got %v", err)
	}
	tenants.region.UnshelvingDisabled = false
	if err := svc.ServerAction(context.Background(), ref, "srv-1", ActionUnshelve); err != nil {
		t.Fatalf("unshelve: %v", err)
	}
	if got := tenants.connector.session.compute.unshelved; len(got) != 1 {
		t.Fatalf("expected one unshelve, got %v", got)
	}
	if err := svc.ServerAction(context.Background(), ref, "srv-1", Action("resize")); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected unknown action error, got %v", err)
	}
}

func TestTerminateDeletesLease(t *testing.T) {
	svc, tenants, leases := newTestService(domain.Region{Name: "warwick"})
	if err := svc.TerminateServer(context.Background(), ref, "srv-2"); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if len(tenants.connector.session.compute.terminated) != 1 || len(leases.deleted) != 1 || leases.deleted[0] != "srv-2" {
		t.Fatalf("expected server and lease removal")
	}
}

func TestCreateVolumeLimits(t *testing.T) {
	svc, tenants, _ := newTestService(domain.Region{Name: "warwick", MaxVolumeSizeGB: 100})
	ctx := context.Background()
	if _, err := svc.CreateVolume(ctx, ref, VolumeRequest{Name: "data", SizeGB: 200}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected size validation, got %v", err)
	}
	vol, err := svc.CreateVolume(ctx, ref, VolumeRequest{Name: "data", SizeGB: 50, VolumeType: "ssd"})
	if err != nil {
		t.Fatalf("create volume: %v", err)
	}
	if vol.Size != 50 || tenants.connector.session.storage.created[0].VolumeType != "ssd" {
		t.Fatalf("unexpected volume %+v", vol)
	}

	tenants.region.NewInstancesDisabled = true
	if _, err := svc.CreateVolume(ctx, ref, VolumeRequest{Name: "data", SizeGB: 10}); !errors.Is(err, ErrNewInstancesDisabled) {
		t.Fatalf("expected region to refuse new volumes, got %v", err)
	}
}

func TestNonMembersAreRefused(t *testing.T) {
	svc, _, _ := newTestService(domain.Region{Name: "warwick"})
	other := tenant.Ref{TeamID: 1, TenantID: 2, UserID: 99}
	if _, err := svc.Flavors(context.Background(), other); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
