package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/repository"
)

const teamColumns = `t.id, t.name, t.creator_id, t.created_at, t.position, t.department, t.institution, t.phone_number,
	t.research_interests, t.intended_climb_use, t.held_mrc_grants, t.verified, t.default_region_id, t.tenants_available,
	t.licence_expiry, t.licence_last_reminder_sent_at`

func scanTeam(row pgx.Row) (*domain.Team, error) {
	var t domain.Team
	if err := row.Scan(&t.ID, &t.Name, &t.CreatorID, &t.CreatedAt, &t.Position, &t.Department, &t.Institution, &t.PhoneNumber,
		&t.ResearchInterests, &t.IntendedClimbUse, &t.HeldMRCGrants, &t.Verified, &t.DefaultRegionID, &t.TenantsAvailable,
		&t.LicenceExpiry, &t.LicenceLastReminderSentAt); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func collectTeams(rows pgx.Rows) ([]domain.Team, error) {
	defer rows.Close()
	teams := make([]domain.Team, 0)
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, *t)
	}
	return teams, rows.Err()
}

// CreateTeam creates a team record and sets its identifier.
func (r *Repository) CreateTeam(ctx context.Context, team *domain.Team) error {
	return insertTeam(ctx, r.pool, team)
}

func insertTeam(ctx context.Context, q querier, team *domain.Team) error {
	const query = `INSERT INTO teams (name, creator_id, created_at, position, department, institution, phone_number,
			research_interests, intended_climb_use, held_mrc_grants, verified, default_region_id, tenants_available, licence_expiry)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`
	err := q.QueryRow(ctx, query, team.Name, team.CreatorID, team.CreatedAt, team.Position, team.Department,
		team.Institution, team.PhoneNumber, team.ResearchInterests, team.IntendedClimbUse, team.HeldMRCGrants,
		team.Verified, team.DefaultRegionID, team.TenantsAvailable, team.LicenceExpiry).Scan(&team.ID)
	return mapWriteError(err)
}

// UpdateTeam stores editable team fields.
func (r *Repository) UpdateTeam(ctx context.Context, team *domain.Team) error {
	const query = `UPDATE teams SET name = $2, position = $3, department = $4, institution = $5, phone_number = $6,
			research_interests = $7, intended_climb_use = $8, held_mrc_grants = $9, verified = $10,
			default_region_id = $11, tenants_available = $12, licence_expiry = $13
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, team.ID, team.Name, team.Position, team.Department, team.Institution,
		team.PhoneNumber, team.ResearchInterests, team.IntendedClimbUse, team.HeldMRCGrants, team.Verified,
		team.DefaultRegionID, team.TenantsAvailable, team.LicenceExpiry)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetTeamByID returns a team by identifier.
func (r *Repository) GetTeamByID(ctx context.Context, teamID int64) (*domain.Team, error) {
	return scanTeam(r.pool.QueryRow(ctx, `SELECT `+teamColumns+` FROM teams t WHERE t.id = $1`, teamID))
}

// TeamNameTaken reports whether a team already uses name, ignoring case.
func (r *Repository) TeamNameTaken(ctx context.Context, name string) (bool, error) {
	var taken bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM teams WHERE LOWER(name) = LOWER($1))`, name).Scan(&taken)
	return taken, err
}

// ListTeamsByUser returns teams the user belongs to.
func (r *Repository) ListTeamsByUser(ctx context.Context, userID int64) ([]domain.Team, error) {
	const query = `SELECT ` + teamColumns + `
		FROM teams t
		INNER JOIN team_members tm ON tm.team_id = t.id
		WHERE tm.user_id = $1
		ORDER BY t.name`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	return collectTeams(rows)
}

// ListTeamsWithLicenceExpiringBefore returns verified teams whose licence lapses before the cutoff.
func (r *Repository) ListTeamsWithLicenceExpiringBefore(ctx context.Context, before time.Time) ([]domain.Team, error) {
	const query = `SELECT ` + teamColumns + ` FROM teams t WHERE t.verified AND t.licence_expiry < $1 ORDER BY t.licence_expiry`
	rows, err := r.pool.Query(ctx, query, before.UTC())
	if err != nil {
		return nil, err
	}
	return collectTeams(rows)
}

// MarkLicenceReminderSent stamps the licence reminder time.
func (r *Repository) MarkLicenceReminderSent(ctx context.Context, teamID int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE teams SET licence_last_reminder_sent_at = $2 WHERE id = $1`, teamID, at.UTC())
	return err
}

// CreateMember adds a member to a team.
func (r *Repository) CreateMember(ctx context.Context, member *domain.TeamMember) error {
	return insertMember(ctx, r.pool, member)
}

func insertMember(ctx context.Context, q querier, member *domain.TeamMember) error {
	const query = `INSERT INTO team_members (team_id, user_id, is_admin) VALUES ($1, $2, $3) RETURNING id`
	err := q.QueryRow(ctx, query, member.TeamID, member.UserID, member.IsAdmin).Scan(&member.ID)
	return mapWriteError(err)
}

// GetMember returns the membership of user in team.
func (r *Repository) GetMember(ctx context.Context, teamID, userID int64) (*domain.TeamMember, error) {
	const query = `SELECT id, team_id, user_id, is_admin FROM team_members WHERE team_id = $1 AND user_id = $2`
	var m domain.TeamMember
	if err := r.pool.QueryRow(ctx, query, teamID, userID).Scan(&m.ID, &m.TeamID, &m.UserID, &m.IsAdmin); err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// GetMemberByID returns a membership by identifier.
func (r *Repository) GetMemberByID(ctx context.Context, memberID int64) (*domain.TeamMember, error) {
	const query = `SELECT id, team_id, user_id, is_admin FROM team_members WHERE id = $1`
	var m domain.TeamMember
	if err := r.pool.QueryRow(ctx, query, memberID).Scan(&m.ID, &m.TeamID, &m.UserID, &m.IsAdmin); err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// ListMembers returns memberships of a team with their users.
func (r *Repository) ListMembers(ctx context.Context, teamID int64) ([]domain.TeamMemberDetail, error) {
	const query = `SELECT tm.id, tm.team_id, tm.user_id, tm.is_admin,
			u.id, u.username, u.email, u.first_name, u.last_name, u.is_active, u.email_validated
		FROM team_members tm
		INNER JOIN users u ON u.id = tm.user_id
		WHERE tm.team_id = $1
		ORDER BY tm.is_admin DESC, u.last_name, u.first_name`
	rows, err := r.pool.Query(ctx, query, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]domain.TeamMemberDetail, 0)
	for rows.Next() {
		var d domain.TeamMemberDetail
		if err := rows.Scan(&d.ID, &d.TeamID, &d.UserID, &d.IsAdmin,
			&d.User.ID, &d.User.Username, &d.User.Email, &d.User.FirstName, &d.User.LastName, &d.User.IsActive, &d.User.EmailValidated); err != nil {
			return nil, err
		}
		members = append(members, d)
	}
	return members, rows.Err()
}

// DeleteMember removes a membership. ErrInUse means the member still holds
// server leases.
func (r *Repository) DeleteMember(ctx context.Context, memberID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM team_members WHERE id = $1`, memberID)
	if err != nil {
		return mapDeleteError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListTeamAdmins returns users with admin membership of a team.
func (r *Repository) ListTeamAdmins(ctx context.Context, teamID int64) ([]domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id IN (
		SELECT user_id FROM team_members WHERE team_id = $1 AND is_admin
	) ORDER BY id`
	rows, err := r.pool.Query(ctx, query, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}
