package domain

// Tenant maps one team onto one region's cloud project.
type Tenant struct {
	ID              int64  `json:"id"`
	TeamID          int64  `json:"team_id"`
	RegionID        int64  `json:"region_id"`
	RegionName      string `json:"region"`
	CreatedTenantID string `json:"created_tenant_id"`
	AuthPassword    []byte `json:"-"`
}
