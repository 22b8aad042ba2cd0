package postgres

import (
	"context"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/repository"
)

// CreateInvitation stores a new invitation.
func (r *Repository) CreateInvitation(ctx context.Context, inv *domain.Invitation) error {
	const query = `INSERT INTO invitations (uuid, to_team_id, made_by_id, email, message, accepted, date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query, inv.UUID, inv.ToTeamID, inv.MadeByID, inv.Email, inv.Message, inv.Accepted, inv.Date)
	return mapWriteError(err)
}

// GetInvitation returns an invitation by UUID.
func (r *Repository) GetInvitation(ctx context.Context, uuid string) (*domain.Invitation, error) {
	const query = `SELECT uuid::text, to_team_id, made_by_id, email, message, accepted, date FROM invitations WHERE uuid = $1::uuid`
	var inv domain.Invitation
	if err := r.pool.QueryRow(ctx, query, uuid).Scan(&inv.UUID, &inv.ToTeamID, &inv.MadeByID, &inv.Email, &inv.Message, &inv.Accepted, &inv.Date); err != nil {
		return nil, notFound(err)
	}
	return &inv, nil
}

// ListPendingInvitations returns unaccepted invitations for a team.
func (r *Repository) ListPendingInvitations(ctx context.Context, teamID int64) ([]domain.Invitation, error) {
	const query = `SELECT uuid::text, to_team_id, made_by_id, email, message, accepted, date
		FROM invitations WHERE to_team_id = $1 AND NOT accepted ORDER BY date DESC`
	rows, err := r.pool.Query(ctx, query, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Invitation, 0)
	for rows.Next() {
		var inv domain.Invitation
		if err := rows.Scan(&inv.UUID, &inv.ToTeamID, &inv.MadeByID, &inv.Email, &inv.Message, &inv.Accepted, &inv.Date); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// DeleteInvitation removes an invitation.
func (r *Repository) DeleteInvitation(ctx context.Context, uuid string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM invitations WHERE uuid = $1::uuid`, uuid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
