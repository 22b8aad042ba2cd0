package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/repository"
)

// RegisterTeam stores the applicant, their team and the admin membership in one
// transaction. Nothing is kept when any insert fails.
func (r *Repository) RegisterTeam(ctx context.Context, user *domain.User, team *domain.Team, member *domain.TeamMember) error {
	if user == nil || team == nil || member == nil {
		return fmt.Errorf("user, team and member required")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := insertUser(ctx, tx, user); err != nil {
		return err
	}
	team.CreatorID = &user.ID
	if err := insertTeam(ctx, tx, team); err != nil {
		return err
	}
	member.TeamID = team.ID
	member.UserID = user.ID
	if err := insertMember(ctx, tx, member); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// AcceptInvitation claims the invitation row first so concurrent acceptances of
// the same link serialise on it, then creates the user when needed and the
// membership.
func (r *Repository) AcceptInvitation(ctx context.Context, uuid string, user *domain.User, member *domain.TeamMember) error {
	if user == nil || member == nil {
		return fmt.Errorf("user and member required")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var teamID int64
	const claim = `UPDATE invitations SET accepted = TRUE WHERE uuid = $1::uuid AND NOT accepted RETURNING to_team_id`
	if err := tx.QueryRow(ctx, claim, uuid).Scan(&teamID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrConflict
		}
		return err
	}
	if user.ID == 0 {
		if err := insertUser(ctx, tx, user); err != nil {
			return err
		}
	}
	member.TeamID = teamID
	member.UserID = user.ID
	if err := insertMember(ctx, tx, member); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
