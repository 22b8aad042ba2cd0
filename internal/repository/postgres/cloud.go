package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MRC-CLIMB/bryn/internal/domain"
)

const regionColumns = `id, name, description, disabled, new_instances_disabled, unshelving_disabled, max_volume_size_gb`

func scanRegion(row pgx.Row) (*domain.Region, error) {
	var rg domain.Region
	if err := row.Scan(&rg.ID, &rg.Name, &rg.Description, &rg.Disabled, &rg.NewInstancesDisabled, &rg.UnshelvingDisabled, &rg.MaxVolumeSizeGB); err != nil {
		return nil, notFound(err)
	}
	return &rg, nil
}

// ListRegions returns all regions ordered by name.
func (r *Repository) ListRegions(ctx context.Context) ([]domain.Region, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+regionColumns+` FROM regions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Region, 0)
	for rows.Next() {
		rg, err := scanRegion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rg)
	}
	return out, rows.Err()
}

// GetRegionByID returns a region by identifier.
func (r *Repository) GetRegionByID(ctx context.Context, regionID int64) (*domain.Region, error) {
	return scanRegion(r.pool.QueryRow(ctx, `SELECT `+regionColumns+` FROM regions WHERE id = $1`, regionID))
}

// GetRegionByName returns a region by name.
func (r *Repository) GetRegionByName(ctx context.Context, name string) (*domain.Region, error) {
	return scanRegion(r.pool.QueryRow(ctx, `SELECT `+regionColumns+` FROM regions WHERE name = $1`, name))
}

// EnsureRegion inserts a region if it is missing and refreshes its description.
// Flags set by operators are left untouched.
func (r *Repository) EnsureRegion(ctx context.Context, name, description string) (*domain.Region, error) {
	const query = `INSERT INTO regions (name, description) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
		RETURNING ` + regionColumns
	return scanRegion(r.pool.QueryRow(ctx, query, name, description))
}

const tenantSelect = `SELECT t.id, t.team_id, t.region_id, rg.name, t.created_tenant_id, t.auth_password
	FROM tenants t INNER JOIN regions rg ON rg.id = t.region_id`

func scanTenant(row pgx.Row) (*domain.Tenant, error) {
	var t domain.Tenant
	if err := row.Scan(&t.ID, &t.TeamID, &t.RegionID, &t.RegionName, &t.CreatedTenantID, &t.AuthPassword); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// CreateTenant stores a provisioned tenant and sets its identifier.
func (r *Repository) CreateTenant(ctx context.Context, tenant *domain.Tenant) error {
	const query = `INSERT INTO tenants (team_id, region_id, created_tenant_id, auth_password)
		VALUES ($1, $2, $3, $4) RETURNING id`
	err := r.pool.QueryRow(ctx, query, tenant.TeamID, tenant.RegionID, tenant.CreatedTenantID, tenant.AuthPassword).Scan(&tenant.ID)
	return mapWriteError(err)
}

// GetTenant returns a tenant by identifier.
func (r *Repository) GetTenant(ctx context.Context, tenantID int64) (*domain.Tenant, error) {
	return scanTenant(r.pool.QueryRow(ctx, tenantSelect+` WHERE t.id = $1`, tenantID))
}

// GetTenantByTeamRegion returns the tenant of a team in a region.
func (r *Repository) GetTenantByTeamRegion(ctx context.Context, teamID, regionID int64) (*domain.Tenant, error) {
	return scanTenant(r.pool.QueryRow(ctx, tenantSelect+` WHERE t.team_id = $1 AND t.region_id = $2`, teamID, regionID))
}

// ListTenantsByTeam returns a team's tenants.
func (r *Repository) ListTenantsByTeam(ctx context.Context, teamID int64) ([]domain.Tenant, error) {
	rows, err := r.pool.Query(ctx, tenantSelect+` WHERE t.team_id = $1 ORDER BY rg.name`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Tenant, 0)
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpsertHypervisorStats replaces the stored statistics for a region.
func (r *Repository) UpsertHypervisorStats(ctx context.Context, s domain.HypervisorStats) error {
	const query = `INSERT INTO hypervisor_stats (region_id, hypervisor_count, disk_available_least, free_disk_gb, free_ram_mb,
			local_gb, local_gb_used, memory_mb, memory_mb_used, running_vms, vcpus, vcpus_used, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (region_id) DO UPDATE SET
			hypervisor_count = EXCLUDED.hypervisor_count,
			disk_available_least = EXCLUDED.disk_available_least,
			free_disk_gb = EXCLUDED.free_disk_gb,
			free_ram_mb = EXCLUDED.free_ram_mb,
			local_gb = EXCLUDED.local_gb,
			local_gb_used = EXCLUDED.local_gb_used,
			memory_mb = EXCLUDED.memory_mb,
			memory_mb_used = EXCLUDED.memory_mb_used,
			running_vms = EXCLUDED.running_vms,
			vcpus = EXCLUDED.vcpus,
			vcpus_used = EXCLUDED.vcpus_used,
			updated_at = EXCLUDED.updated_at`
	updated := s.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, query, s.RegionID, s.HypervisorCount, s.DiskAvailableLeast, s.FreeDiskGB, s.FreeRAMMB,
		s.LocalGB, s.LocalGBUsed, s.MemoryMB, s.MemoryMBUsed, s.RunningVMs, s.VCPUs, s.VCPUsUsed, updated)
	return err
}

// ListHypervisorStats returns the statistics of every region that has been polled.
func (r *Repository) ListHypervisorStats(ctx context.Context) ([]domain.HypervisorStats, error) {
	const query = `SELECT s.region_id, rg.name, s.hypervisor_count, s.disk_available_least, s.free_disk_gb, s.free_ram_mb,
			s.local_gb, s.local_gb_used, s.memory_mb, s.memory_mb_used, s.running_vms, s.vcpus, s.vcpus_used, s.updated_at
		FROM hypervisor_stats s
		INNER JOIN regions rg ON rg.id = s.region_id
		ORDER BY rg.name`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.HypervisorStats, 0)
	for rows.Next() {
		var s domain.HypervisorStats
		if err := rows.Scan(&s.RegionID, &s.RegionName, &s.HypervisorCount, &s.DiskAvailableLeast, &s.FreeDiskGB, &s.FreeRAMMB,
			&s.LocalGB, &s.LocalGBUsed, &s.MemoryMB, &s.MemoryMBUsed, &s.RunningVMs, &s.VCPUs, &s.VCPUsUsed, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
