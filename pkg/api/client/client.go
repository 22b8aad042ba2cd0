package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "http://localhost:8000"

// Client provides typed access to the Bryn REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg := extractError(resp.Body)
		return APIError{Status: resp.StatusCode, Message: msg}
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// User is the signed-in account.
type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	IsStaff     bool   `json:"is_staff"`
	IsSuperuser bool   `json:"is_superuser"`
}

// LoginResponse carries the issued session.
type LoginResponse struct {
	User      User      `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Region is a cloud region.
type Region struct {
	ID                   int64  `json:"id"`
	Name                 string `json:"name"`
	Description          string `json:"description"`
	Disabled             bool   `json:"disabled"`
	NewInstancesDisabled bool   `json:"new_instances_disabled"`
	UnshelvingDisabled   bool   `json:"unshelving_disabled"`
}

// Team is a research team.
type Team struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Institution string `json:"institution"`
	Verified    bool   `json:"verified"`
}

// Tenant is a team's project in one region.
type Tenant struct {
	ID              int64  `json:"id"`
	TeamID          int64  `json:"team_id"`
	RegionID        int64  `json:"region_id"`
	RegionName      string `json:"region"`
	CreatedTenantID string `json:"created_tenant_id"`
}

// Lease is the renewal state of a server.
type Lease struct {
	ServerID             string     `json:"server_id"`
	AssignedTeamMemberID int64      `json:"assigned_teammember_id"`
	Expiry               *time.Time `json:"expiry"`
	RenewalCount         int        `json:"renewal_count"`
}

// Server is a cloud instance with its lease.
type Server struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Lease  *Lease `json:"lease"`
}

// Volume is a block storage volume.
type Volume struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Size       int    `json:"size"`
	VolumeType string `json:"volume_type"`
}

// VolumeInput describes a volume to create.
type VolumeInput struct {
	Name       string `json:"name"`
	Size       int    `json:"size"`
	ImageID    string `json:"image_id,omitempty"`
	VolumeType string `json:"volume_type,omitempty"`
}

// KeyPair is a stored public key.
type KeyPair struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
}

// HypervisorStats is the latest capacity of a region.
type HypervisorStats struct {
	RegionName      string `json:"region"`
	HypervisorCount int    `json:"hypervisor_count"`
	RunningVMs      int    `json:"running_vms"`
	VCPUs           int    `json:"vcpus"`
	FreeRAMMB       int    `json:"free_ram_mb"`
	FreeDiskGB      int    `json:"free_disk_gb"`
}

// ItemResult is one outcome of an admin bulk action.
type ItemResult struct {
	ID    any    `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func tenantPath(teamID, tenantID int64) string {
	return "/api/teams/" + strconv.FormatInt(teamID, 10) + "/tenants/" + strconv.FormatInt(tenantID, 10)
}

// Login exchanges a username or email and password for a session token.
func (c *Client) Login(ctx context.Context, login, password string) (LoginResponse, error) {
	var resp LoginResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{"username": login, "password": password}, "", &resp)
	return resp, err
}

// CurrentUser returns the token's user.
func (c *Client) CurrentUser(ctx context.Context, token string) (User, error) {
	var u User
	err := c.do(ctx, http.MethodGet, "/api/user", nil, token, &u)
	return u, err
}

// ListRegions lists cloud regions.
func (c *Client) ListRegions(ctx context.Context, token string) ([]Region, error) {
	var out []Region
	err := c.do(ctx, http.MethodGet, "/api/regions", nil, token, &out)
	return out, err
}

// ListTeams lists the caller's teams.
func (c *Client) ListTeams(ctx context.Context, token string) ([]Team, error) {
	var out []Team
	err := c.do(ctx, http.MethodGet, "/api/teams", nil, token, &out)
	return out, err
}

// ListTenants lists a team's tenants.
func (c *Client) ListTenants(ctx context.Context, token string, teamID int64) ([]Tenant, error) {
	var out []Tenant
	err := c.do(ctx, http.MethodGet, "/api/teams/"+strconv.FormatInt(teamID, 10)+"/tenants", nil, token, &out)
	return out, err
}

// ListServers lists a tenant's servers with their leases.
func (c *Client) ListServers(ctx context.Context, token string, teamID, tenantID int64) ([]Server, error) {
	var out []Server
	err := c.do(ctx, http.MethodGet, tenantPath(teamID, tenantID)+"/servers", nil, token, &out)
	return out, err
}

// ServerAction starts, stops, reboots or unshelves a server.
func (c *Client) ServerAction(ctx context.Context, token string, teamID, tenantID int64, serverID, action string) error {
	path := tenantPath(teamID, tenantID) + "/servers/" + url.PathEscape(serverID) + "/" + url.PathEscape(action)
	return c.do(ctx, http.MethodPost, path, nil, token, nil)
}

// TerminateServer deletes a server.
func (c *Client) TerminateServer(ctx context.Context, token string, teamID, tenantID int64, serverID string) error {
	return c.do(ctx, http.MethodDelete, tenantPath(teamID, tenantID)+"/servers/"+url.PathEscape(serverID), nil, token, nil)
}

// RenewLease extends a server lease by the default period.
func (c *Client) RenewLease(ctx context.Context, token string, teamID, tenantID int64, serverID string) (Lease, error) {
	var out Lease
	err := c.do(ctx, http.MethodPost, tenantPath(teamID, tenantID)+"/servers/"+url.PathEscape(serverID)+"/lease/renew", nil, token, &out)
	return out, err
}

// ListVolumes lists a tenant's volumes.
func (c *Client) ListVolumes(ctx context.Context, token string, teamID, tenantID int64) ([]Volume, error) {
	var out []Volume
	err := c.do(ctx, http.MethodGet, tenantPath(teamID, tenantID)+"/volumes", nil, token, &out)
	return out, err
}

// CreateVolume creates a volume.
func (c *Client) CreateVolume(ctx context.Context, token string, teamID, tenantID int64, input VolumeInput) (Volume, error) {
	var out Volume
	err := c.do(ctx, http.MethodPost, tenantPath(teamID, tenantID)+"/volumes", input, token, &out)
	return out, err
}

// ListKeyPairs lists the caller's stored public keys.
func (c *Client) ListKeyPairs(ctx context.Context, token string) ([]KeyPair, error) {
	var out []KeyPair
	err := c.do(ctx, http.MethodGet, "/api/keypairs", nil, token, &out)
	return out, err
}

// AddKeyPair stores a public key.
func (c *Client) AddKeyPair(ctx context.Context, token, name, publicKey string) (KeyPair, error) {
	var out KeyPair
	err := c.do(ctx, http.MethodPost, "/api/keypairs", map[string]string{"name": name, "public_key": publicKey}, token, &out)
	return out, err
}

// PushKeyPair copies a stored key into a tenant.
func (c *Client) PushKeyPair(ctx context.Context, token string, teamID, tenantID, keyPairID int64) error {
	return c.do(ctx, http.MethodPost, tenantPath(teamID, tenantID)+"/keypairs", map[string]int64{"keypair_id": keyPairID}, token, nil)
}

// HypervisorStats returns the latest capacity per region.
func (c *Client) HypervisorStats(ctx context.Context, token string) ([]HypervisorStats, error) {
	var out []HypervisorStats
	err := c.do(ctx, http.MethodGet, "/api/hypervisor-stats", nil, token, &out)
	return out, err
}

// VerifyTeams marks teams verified. Staff only.
func (c *Client) VerifyTeams(ctx context.Context, token string, teamIDs []int64) ([]ItemResult, error) {
	var out []ItemResult
	err := c.do(ctx, http.MethodPost, "/api/admin/teams/verify", map[string]any{"team_ids": teamIDs}, token, &out)
	return out, err
}

// CreateTenants provisions tenants in a region. Staff only.
func (c *Client) CreateTenants(ctx context.Context, token string, regionID int64, teamIDs []int64) ([]ItemResult, error) {
	var out []ItemResult
	err := c.do(ctx, http.MethodPost, "/api/admin/tenants", map[string]any{"region_id": regionID, "team_ids": teamIDs}, token, &out)
	return out, err
}
