package domain

import "time"

// DefaultLicenceValidityDays applies when a version does not set its own period.
const DefaultLicenceValidityDays = 90

// LicenceVersion is one revision of the terms teams must accept.
type LicenceVersion struct {
	ID                 int64     `json:"id"`
	VersionNumber      string    `json:"version_number"`
	LicenceTerms       string    `json:"licence_terms"`
	EffectiveDate      time.Time `json:"effective_date"`
	ValidityPeriodDays int       `json:"validity_period_days"`
}

// LicenceAcceptance records a user accepting a licence version for a team.
type LicenceAcceptance struct {
	ID         int64          `json:"id"`
	Version    LicenceVersion `json:"version"`
	UserID     int64          `json:"user_id"`
	TeamID     int64          `json:"team_id"`
	AcceptedAt time.Time      `json:"accepted_at"`
}

// Expiry is when the acceptance stops covering the team.
func (a LicenceAcceptance) Expiry() time.Time {
	days := a.Version.ValidityPeriodDays
	if days <= 0 {
		days = DefaultLicenceValidityDays
	}
	return a.AcceptedAt.AddDate(0, 0, days)
}

// HasExpired reports whether the acceptance has lapsed at now.
func (a LicenceAcceptance) HasExpired(now time.Time) bool {
	return now.After(a.Expiry())
}
