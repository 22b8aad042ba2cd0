package stats

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/openstack"
)

type memoryStats struct {
	rows map[int64]domain.HypervisorStats
}

func (m *memoryStats) UpsertHypervisorStats(_ context.Context, st domain.HypervisorStats) error {
	m.rows[st.RegionID] = st
	return nil
}

func (m *memoryStats) ListHypervisorStats(context.Context) ([]domain.HypervisorStats, error) {
	out := make([]domain.HypervisorStats, 0, len(m.rows))
	for id := int64(1); id <= 3; id++ {
		if st, ok := m.rows[id]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

type staticRegions []domain.Region

func (r staticRegions) List(context.Context) ([]domain.Region, error) { return r, nil }

type statsCompute struct {
	openstack.ComputeClient
	vcpus int
}

func (c statsCompute) HypervisorStatistics(context.Context) (*openstack.HypervisorStatistics, error) {
	return &openstack.HypervisorStatistics{Count: 2, VCPUs: c.vcpus, VCPUsUsed: 1}, nil
}

type statsSession struct {
	openstack.Session
	vcpus int
}

func (s statsSession) Compute(context.Context) (openstack.ComputeClient, error) {
	return statsCompute{vcpus: s.vcpus}, nil
}

type statsConnector struct{ vcpus int }

func (c statsConnector) Connect(context.Context, openstack.Credentials) (openstack.Session, error) {
	return statsSession{vcpus: c.vcpus}, nil
}

type failingConnector struct{}

func (failingConnector) Connect(context.Context, openstack.Credentials) (openstack.Session, error) {
	return nil, errors.New("dial tcp: connection refused")
}

type clouds map[string]openstack.Connector

func (c clouds) AdminCloud(name string) (*openstack.Service, error) {
	conn, ok := c[name]
	if !ok {
		return nil, errors.New("no cloud")
	}
	return openstack.New(conn, openstack.Credentials{}), nil
}

type feed struct{ payloads [][]byte }

func (f *feed) Broadcast(_ string, payload []byte) { f.payloads = append(f.payloads, payload) }

func TestRefreshSkipsDisabledAndFailingRegions(t *testing.T) {
	repo := &memoryStats{rows: map[int64]domain.HypervisorStats{}}
	regions := staticRegions{
		{ID: 1, Name: "bham"},
		{ID: 2, Name: "cardiff", Disabled: true},
		{ID: 3, Name: "warwick"},
	}
	cl := clouds{"bham": failingConnector{}, "cardiff": statsConnector{vcpus: 4}, "warwick": statsConnector{vcpus: 64}}
	f := &feed{}
	svc := New(repo, regions, cl, f, slog.New(slog.NewTextHandler(io.Discard, nil)))

	res, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(res.Updated) != 1 || res.Updated[0] != "warwick" {
		t.Fatalf("unexpected updated regions %v", res.Updated)
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != "cardiff" {
		t.Fatalf("unexpected skipped regions %v", res.Skipped)
	}
	if _, ok := res.Failed["bham"]; !ok {
		t.Fatalf("expected bham failure, got %v", res.Failed)
	}
	if got := repo.rows[3]; got.VCPUs != 64 || got.HypervisorCount != 2 || got.RegionName != "warwick" {
		t.Fatalf("unexpected stored stats %+v", got)
	}
	if _, ok := repo.rows[2]; ok {
		t.Fatalf("disabled region must not be refreshed")
	}

	if len(f.payloads) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(f.payloads))
	}
	var sent []domain.HypervisorStats
	if err := json.Unmarshal(f.payloads[0], &sent); err != nil || len(sent) != 1 {
		t.Fatalf("unexpected broadcast %s (%v)", f.payloads[0], err)
	}
}

func TestRefreshWithoutUpdatesDoesNotBroadcast(t *testing.T) {
	repo := &memoryStats{rows: map[int64]domain.HypervisorStats{}}
	f := &feed{}
	svc := New(repo, staticRegions{{ID: 1, Name: "bham"}}, clouds{}, f, slog.New(slog.NewTextHandler(io.Discard, nil)))
	res, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(res.Failed) != 1 || len(f.payloads) != 0 {
		t.Fatalf("expected a failure and no broadcast, got %+v / %d", res, len(f.payloads))
	}
}
