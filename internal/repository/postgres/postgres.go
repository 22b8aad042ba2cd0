package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository            = (*Repository)(nil)
	_ repository.InstitutionRepository     = (*Repository)(nil)
	_ repository.TeamRepository            = (*Repository)(nil)
	_ repository.InvitationRepository      = (*Repository)(nil)
	_ repository.LicenceRepository         = (*Repository)(nil)
	_ repository.RegionRepository          = (*Repository)(nil)
	_ repository.TenantRepository          = (*Repository)(nil)
	_ repository.LeaseRepository           = (*Repository)(nil)
	_ repository.HypervisorStatsRepository = (*Repository)(nil)
	_ repository.KeyPairRepository         = (*Repository)(nil)
	_ repository.EnrollmentRepository      = (*Repository)(nil)
)

const userColumns = `id, username, email, first_name, last_name, password_hash, is_active, is_staff, is_superuser,
	email_validated, new_email_pending_verification, default_keypair_id, last_login, created_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.PasswordHash, &u.IsActive, &u.IsStaff,
		&u.IsSuperuser, &u.EmailValidated, &u.NewEmailPendingVerification, &u.DefaultKeyPairID, &u.LastLogin, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a user and sets its identifier.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	return insertUser(ctx, r.pool, user)
}

func insertUser(ctx context.Context, q querier, user *domain.User) error {
	const query = `INSERT INTO users (username, email, first_name, last_name, password_hash, is_active, is_staff, is_superuser, email_validated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	err := q.QueryRow(ctx, query, user.Username, user.Email, user.FirstName, user.LastName, user.PasswordHash,
		user.IsActive, user.IsStaff, user.IsSuperuser, user.EmailValidated, user.CreatedAt).Scan(&user.ID)
	return mapWriteError(err)
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetUserByEmail fetches a user by email, ignoring case.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, strings.TrimSpace(email)))
}

// GetUserByLogin fetches a user by username or email.
func (r *Repository) GetUserByLogin(ctx context.Context, login string) (*domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE username = $1 OR LOWER(email) = LOWER($1)
		ORDER BY (username = $1) DESC LIMIT 1`
	return scanUser(r.pool.QueryRow(ctx, query, strings.TrimSpace(login)))
}

// UsernameOrEmailTaken reports whether either value already belongs to an account.
func (r *Repository) UsernameOrEmailTaken(ctx context.Context, username, email string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1 OR LOWER(email) = LOWER($2))`
	var taken bool
	if err := r.pool.QueryRow(ctx, query, username, email).Scan(&taken); err != nil {
		return false, err
	}
	return taken, nil
}

// UpdateUser stores mutable profile fields.
func (r *Repository) UpdateUser(ctx context.Context, user *domain.User) error {
	const query = `UPDATE users SET username = $2, email = $3, first_name = $4, last_name = $5, is_active = $6,
			email_validated = $7, new_email_pending_verification = $8, default_keypair_id = $9
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, user.ID, user.Username, user.Email, user.FirstName, user.LastName, user.IsActive,
		user.EmailValidated, user.NewEmailPendingVerification, user.DefaultKeyPairID)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdatePassword replaces the stored password hash.
func (r *Repository) UpdatePassword(ctx context.Context, userID int64, hash []byte) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, userID, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// TouchLastLogin records a successful login.
func (r *Repository) TouchLastLogin(ctx context.Context, userID int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, userID, at.UTC())
	return err
}

// ListVerifiedTeamContacts returns every membership of a verified team with
// the member's name and email.
func (r *Repository) ListVerifiedTeamContacts(ctx context.Context) ([]domain.MemberContact, error) {
	const query = `SELECT u.first_name, u.last_name, u.email, t.institution, t.name
		FROM team_members tm
		INNER JOIN users u ON u.id = tm.user_id
		INNER JOIN teams t ON t.id = tm.team_id
		WHERE t.verified
		ORDER BY t.name, u.last_name, u.first_name`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.MemberContact, 0)
	for rows.Next() {
		var c domain.MemberContact
		if err := rows.Scan(&c.FirstName, &c.LastName, &c.Email, &c.Institution, &c.TeamName); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SearchInstitutions returns institutions whose name contains query, ignoring case.
func (r *Repository) SearchInstitutions(ctx context.Context, query string, limit int) ([]domain.Institution, error) {
	if limit <= 0 {
		limit = 10
	}
	const stmt = `SELECT id, name FROM institutions WHERE name ILIKE '%' || $1 || '%' ORDER BY name LIMIT $2`
	rows, err := r.pool.Query(ctx, stmt, escapeLike(query), limit)
	if err != nil {
		return nil, err
	}
	return collectInstitutions(rows)
}

// ListInstitutions returns every institution ordered by name.
func (r *Repository) ListInstitutions(ctx context.Context) ([]domain.Institution, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM institutions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return collectInstitutions(rows)
}

func collectInstitutions(rows pgx.Rows) ([]domain.Institution, error) {
	defer rows.Close()
	out := make([]domain.Institution, 0)
	for rows.Next() {
		var inst domain.Institution
		if err := rows.Scan(&inst.ID, &inst.Name); err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

// querier is satisfied by the pool and by a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return repository.ErrConflict
		case "23503":
			return repository.ErrNotFound
		}
	}
	return err
}

// mapDeleteError reports rows still pointing at a deleted record as ErrInUse.
func mapDeleteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return repository.ErrInUse
	}
	return err
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	return err
}
