package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/repository"
)

const leaseColumns = `l.id, l.server_id::text, l.server_name, l.tenant_id, l.assigned_teammember_id, l.created_at,
	l.last_renewed_at, l.expiry, l.renewal_count, l.last_reminder_sent_at`

func scanLease(row pgx.Row) (*domain.ServerLease, error) {
	var l domain.ServerLease
	if err := row.Scan(&l.ID, &l.ServerID, &l.ServerName, &l.TenantID, &l.AssignedTeamMemberID, &l.CreatedAt,
		&l.LastRenewedAt, &l.Expiry, &l.RenewalCount, &l.LastReminderSentAt); err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

// CreateLease stores a new server lease and sets its identifier.
func (r *Repository) CreateLease(ctx context.Context, lease *domain.ServerLease) error {
	const query = `INSERT INTO server_leases (server_id, server_name, tenant_id, assigned_teammember_id, created_at, last_renewed_at, expiry, renewal_count)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8) RETURNING id`
	err := r.pool.QueryRow(ctx, query, lease.ServerID, lease.ServerName, lease.TenantID, lease.AssignedTeamMemberID,
		lease.CreatedAt, lease.LastRenewedAt, lease.Expiry, lease.RenewalCount).Scan(&lease.ID)
	return mapWriteError(err)
}

// GetLeaseByServerID returns the lease held on a server.
func (r *Repository) GetLeaseByServerID(ctx context.Context, serverID string) (*domain.ServerLease, error) {
	return scanLease(r.pool.QueryRow(ctx, `SELECT `+leaseColumns+` FROM server_leases l WHERE l.server_id = $1::uuid`, serverID))
}

// UpdateLease stores renewal and assignment changes.
func (r *Repository) UpdateLease(ctx context.Context, lease *domain.ServerLease) error {
	const query = `UPDATE server_leases SET server_name = $2, assigned_teammember_id = $3, last_renewed_at = $4,
			expiry = $5, renewal_count = $6, last_reminder_sent_at = $7
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, lease.ID, lease.ServerName, lease.AssignedTeamMemberID, lease.LastRenewedAt,
		lease.Expiry, lease.RenewalCount, lease.LastReminderSentAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteLeaseByServerID removes the lease on a server, if any.
func (r *Repository) DeleteLeaseByServerID(ctx context.Context, serverID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM server_leases WHERE server_id = $1::uuid`, serverID)
	return err
}

// ListLeasesByTenant returns all leases in a tenant.
func (r *Repository) ListLeasesByTenant(ctx context.Context, tenantID int64) ([]domain.ServerLease, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+leaseColumns+` FROM server_leases l WHERE l.tenant_id = $1 ORDER BY l.server_name`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ServerLease, 0)
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// ListActiveDueLeases returns leases with an expiry still in the future, joined
// with their team, region and assigned user.
func (r *Repository) ListActiveDueLeases(ctx context.Context, now time.Time) ([]domain.LeaseAssignment, error) {
	const query = `SELECT ` + leaseColumns + `, tm.team_id, tea.name, rg.name,
			u.id, u.username, u.email, u.first_name, u.last_name
		FROM server_leases l
		INNER JOIN tenants t ON t.id = l.tenant_id
		INNER JOIN regions rg ON rg.id = t.region_id
		INNER JOIN team_members tm ON tm.id = l.assigned_teammember_id
		INNER JOIN teams tea ON tea.id = tm.team_id
		INNER JOIN users u ON u.id = tm.user_id
		WHERE l.expiry IS NOT NULL AND l.expiry > $1
		ORDER BY l.expiry`
	rows, err := r.pool.Query(ctx, query, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.LeaseAssignment, 0)
	for rows.Next() {
		var a domain.LeaseAssignment
		l := &a.Lease
		if err := rows.Scan(&l.ID, &l.ServerID, &l.ServerName, &l.TenantID, &l.AssignedTeamMemberID, &l.CreatedAt,
			&l.LastRenewedAt, &l.Expiry, &l.RenewalCount, &l.LastReminderSentAt,
			&a.TeamID, &a.TeamName, &a.RegionName,
			&a.Assignee.ID, &a.Assignee.Username, &a.Assignee.Email, &a.Assignee.FirstName, &a.Assignee.LastName); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkLeaseReminderSent stamps the reminder time on a lease.
func (r *Repository) MarkLeaseReminderSent(ctx context.Context, leaseID int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE server_leases SET last_reminder_sent_at = $2 WHERE id = $1`, leaseID, at.UTC())
	return err
}
