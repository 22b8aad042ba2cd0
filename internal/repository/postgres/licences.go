package postgres

import (
	"context"
	"time"

	"github.com/MRC-CLIMB/bryn/internal/domain"
)

// CurrentLicenceVersion returns the latest version already in effect at now.
func (r *Repository) CurrentLicenceVersion(ctx context.Context, now time.Time) (*domain.LicenceVersion, error) {
	const query = `SELECT id, version_number, licence_terms, effective_date, validity_period_days
		FROM licence_versions WHERE effective_date <= $1::date
		ORDER BY effective_date DESC, id DESC LIMIT 1`
	var v domain.LicenceVersion
	if err := r.pool.QueryRow(ctx, query, now.UTC()).Scan(&v.ID, &v.VersionNumber, &v.LicenceTerms, &v.EffectiveDate, &v.ValidityPeriodDays); err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

// CreateLicenceAcceptance records an acceptance and sets its identifier.
func (r *Repository) CreateLicenceAcceptance(ctx context.Context, acc *domain.LicenceAcceptance) error {
	const query = `INSERT INTO licence_acceptances (version_id, user_id, team_id, accepted_at)
		VALUES ($1, $2, $3, $4) RETURNING id`
	return r.pool.QueryRow(ctx, query, acc.Version.ID, acc.UserID, acc.TeamID, acc.AcceptedAt).Scan(&acc.ID)
}

// ListLicenceAcceptances returns a team's acceptances, newest first.
func (r *Repository) ListLicenceAcceptances(ctx context.Context, teamID int64) ([]domain.LicenceAcceptance, error) {
	const query = `SELECT a.id, a.user_id, a.team_id, a.accepted_at,
			v.id, v.version_number, v.licence_terms, v.effective_date, v.validity_period_days
		FROM licence_acceptances a
		INNER JOIN licence_versions v ON v.id = a.version_id
		WHERE a.team_id = $1
		ORDER BY a.accepted_at DESC`
	rows, err := r.pool.Query(ctx, query, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.LicenceAcceptance, 0)
	for rows.Next() {
		var a domain.LicenceAcceptance
		if err := rows.Scan(&a.ID, &a.UserID, &a.TeamID, &a.AcceptedAt,
			&a.Version.ID, &a.Version.VersionNumber, &a.Version.LicenceTerms, &a.Version.EffectiveDate, &a.Version.ValidityPeriodDays); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
