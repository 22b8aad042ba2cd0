package domain

import (
	"fmt"
	"time"
)

// Institution is a known research organisation offered during registration.
type Institution struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Team represents a registered research group and the unit of access control.
type Team struct {
	ID                        int64      `json:"id"`
	Name                      string     `json:"name"`
	CreatorID                 *int64     `json:"creator_id"`
	CreatedAt                 time.Time  `json:"created_at"`
	Position                  string     `json:"position"`
	Department                string     `json:"department"`
	Institution               string     `json:"institution"`
	PhoneNumber               string     `json:"phone_number"`
	ResearchInterests         string     `json:"research_interests"`
	IntendedClimbUse          string     `json:"intended_climb_use"`
	HeldMRCGrants             string     `json:"held_mrc_grants"`
	Verified                  bool       `json:"verified"`
	DefaultRegionID           *int64     `json:"default_region_id"`
	TenantsAvailable          bool       `json:"tenants_available"`
	LicenceExpiry             time.Time  `json:"licence_expiry"`
	LicenceLastReminderSentAt *time.Time `json:"-"`
}

// TenantName is the cloud project (and user) name for this team.
func (t Team) TenantName() string {
	return fmt.Sprintf("bryn:%d_%s", t.ID, t.Name)
}

// TenantDescription is the cloud project description for this team.
func (t Team) TenantDescription(creatorLastName string) string {
	return fmt.Sprintf("%s (%s)", t.Name, creatorLastName)
}

// LicenceIsValid reports whether the team holds an unexpired licence at now.
func (t Team) LicenceIsValid(now time.Time) bool {
	return now.Before(t.LicenceExpiry)
}

// TeamMember links a user to a team.
type TeamMember struct {
	ID      int64 `json:"id"`
	TeamID  int64 `json:"team_id"`
	UserID  int64 `json:"user_id"`
	IsAdmin bool  `json:"is_admin"`
}

// TeamMemberDetail is a membership joined with its user.
type TeamMemberDetail struct {
	TeamMember
	User User `json:"user"`
}

// Invitation asks an email address to join a team.
type Invitation struct {
	UUID     string    `json:"uuid"`
	ToTeamID int64     `json:"to_team_id"`
	MadeByID int64     `json:"made_by_id"`
	Email    string    `json:"email"`
	Message  string    `json:"message"`
	Accepted bool      `json:"accepted"`
	Date     time.Time `json:"date"`
}

// MemberContact is one member of a verified team as listed for site admins.
type MemberContact struct {
	FirstName   string
	LastName    string
	Email       string
	Institution string
	TeamName    string
}
