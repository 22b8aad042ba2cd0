package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	apiclient "github.com/MRC-CLIMB/bryn/pkg/api/client"
)

type cliConfig struct {
	APIBaseURL  string    `json:"api_base_url"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = commandLogin(args)
	case "whoami":
		err = commandWhoami()
	case "regions":
		err = commandRegions()
	case "teams":
		err = commandTeams()
	case "tenants":
		err = commandTenants(args)
	case "servers":
		err = commandServers(args)
	case "volumes":
		err = commandVolumes(args)
	case "keypairs":
		err = commandKeyPairs(args)
	case "stats":
		err = commandStats()
	case "admin":
		err = commandAdmin(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	username := fs.String("username", "", "Username or email address")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default "+apiclient.DefaultBaseURL+")")
	fs.Parse(args)

	if strings.TrimSpace(*username) == "" {
		return errors.New("--username is required")
	}

	secret := strings.TrimSpace(*password)
	if secret == "" {
		fmt.Print("Password: ")
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		secret = string(bytes)
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	}

	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	resp, err := client.Login(ctx, *username, secret)
	if err != nil {
		return err
	}
	cfg.AccessToken = resp.Token
	cfg.ExpiresAt = resp.ExpiresAt
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Printf("logged in as %s (session expires %s)\n", resp.User.Username, resp.ExpiresAt.Local().Format(time.RFC1123))
	return nil
}

// session loads the saved token and a client for the configured API.
func session() (*apiclient.Client, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, "", errors.New("please login first using 'brynctl login'")
	}
	if !cfg.ExpiresAt.IsZero() && time.Now().After(cfg.ExpiresAt) {
		return nil, "", errors.New("session expired, run 'brynctl login' again")
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return nil, "", err
	}
	return client, token, nil
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func commandWhoami() error {
	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()
	u, err := client.CurrentUser(ctx, token)
	if err != nil {
		return err
	}
	role := "user"
	switch {
	case u.IsSuperuser:
		role = "superuser"
	case u.IsStaff:
		role = "staff"
	}
	fmt.Printf("%s\t%s %s\t%s\t%s\n", u.Username, u.FirstName, u.LastName, u.Email, role)
	return nil
}

func commandRegions() error {
	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()
	regions, err := client.ListRegions(ctx, token)
	if err != nil {
		return err
	}
	for _, r := range regions {
		state := "enabled"
		if r.Disabled {
			state = "disabled"
		}
		fmt.Printf("%d\t%s\t%s\t%s\n", r.ID, r.Name, state, r.Description)
	}
	return nil
}

func commandTeams() error {
	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()
	teams, err := client.ListTeams(ctx, token)
	if err != nil {
		return err
	}
	for _, t := range teams {
		fmt.Printf("%d\t%s\t%s\tverified=%t\n", t.ID, t.Name, t.Institution, t.Verified)
	}
	return nil
}

func commandTenants(args []string) error {
	fs := flag.NewFlagSet("tenants", flag.ExitOnError)
	teamID := fs.Int64("team", 0, "Team identifier")
	fs.Parse(args)
	if *teamID == 0 {
		return errors.New("--team is required")
	}

	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()
	tenants, err := client.ListTenants(ctx, token, *teamID)
	if err != nil {
		return err
	}
	for _, t := range tenants {
		fmt.Printf("%d\t%s\t%s\n", t.ID, t.RegionName, t.CreatedTenantID)
	}
	return nil
}

type tenantFlags struct {
	team   *int64
	tenant *int64
}

func addTenantFlags(fs *flag.FlagSet) tenantFlags {
	return tenantFlags{
		team:   fs.Int64("team", 0, "Team identifier"),
		tenant: fs.Int64("tenant", 0, "Tenant identifier"),
	}
}

func (f tenantFlags) validate() error {
	if *f.team == 0 || *f.tenant == 0 {
		return errors.New("--team and --tenant are required")
	}
	return nil
}

func commandServers(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: brynctl servers [list|start|stop|reboot|unshelve|terminate|renew]")
	}
	sub := args[0]
	fs := flag.NewFlagSet("servers "+sub, flag.ExitOnError)
	scope := addTenantFlags(fs)
	serverID := fs.String("server", "", "Server identifier")
	fs.Parse(args[1:])
	if err := scope.validate(); err != nil {
		return err
	}
	if sub != "list" && strings.TrimSpace(*serverID) == "" {
		return errors.New("--server is required")
	}

	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	switch sub {
	case "list":
		servers, err := client.ListServers(ctx, token, *scope.team, *scope.tenant)
		if err != nil {
			return err
		}
		for _, s := range servers {
			expiry := "-"
			if s.Lease != nil && s.Lease.Expiry != nil {
				expiry = s.Lease.Expiry.Local().Format("2006-01-02 15:04")
			}
			fmt.Printf("%s\t%s\t%s\tlease=%s\n", s.ID, s.Name, s.Status, expiry)
		}
		return nil
	case "start", "stop", "reboot", "unshelve":
		if err := client.ServerAction(ctx, token, *scope.team, *scope.tenant, *serverID, sub); err != nil {
			return err
		}
		fmt.Printf("%s requested for %s\n", sub, *serverID)
		return nil
	case "terminate":
		if err := client.TerminateServer(ctx, token, *scope.team, *scope.tenant, *serverID); err != nil {
			return err
		}
		fmt.Printf("server %s terminated\n", *serverID)
		return nil
	case "renew":
		lease, err := client.RenewLease(ctx, token, *scope.team, *scope.tenant, *serverID)
		if err != nil {
			return err
		}
		if lease.Expiry != nil {
			fmt.Printf("lease renewed until %s\n", lease.Expiry.Local().Format(time.RFC1123))
		} else {
			fmt.Println("lease renewed")
		}
		return nil
	default:
		return fmt.Errorf("unknown servers command: %s", sub)
	}
}

func commandVolumes(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: brynctl volumes [list|create]")
	}
	sub := args[0]
	fs := flag.NewFlagSet("volumes "+sub, flag.ExitOnError)
	scope := addTenantFlags(fs)
	name := fs.String("name", "", "Volume name")
	size := fs.Int("size", 0, "Size in GB")
	volumeType := fs.String("type", "", "Volume type (defaults to the region's type)")
	image := fs.String("image", "", "Image to copy onto the volume")
	fs.Parse(args[1:])
	if err := scope.validate(); err != nil {
		return err
	}

	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	switch sub {
	case "list":
		volumes, err := client.ListVolumes(ctx, token, *scope.team, *scope.tenant)
		if err != nil {
			return err
		}
		for _, v := range volumes {
			fmt.Printf("%s\t%s\t%s\t%dGB\t%s\n", v.ID, v.Name, v.Status, v.Size, v.VolumeType)
		}
		return nil
	case "create":
		if strings.TrimSpace(*name) == "" || *size <= 0 {
			return errors.New("--name and --size are required")
		}
		vol, err := client.CreateVolume(ctx, token, *scope.team, *scope.tenant, apiclient.VolumeInput{
			Name:       *name,
			Size:       *size,
			ImageID:    *image,
			VolumeType: *volumeType,
		})
		if err != nil {
			return err
		}
		fmt.Printf("volume created: %s (%s)\n", vol.ID, vol.Status)
		return nil
	default:
		return fmt.Errorf("unknown volumes command: %s", sub)
	}
}

func commandKeyPairs(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: brynctl keypairs [list|add|push]")
	}
	sub := args[0]
	fs := flag.NewFlagSet("keypairs "+sub, flag.ExitOnError)
	name := fs.String("name", "", "Key name")
	file := fs.String("file", "", "Public key file")
	id := fs.Int64("id", 0, "Stored key identifier")
	scope := addTenantFlags(fs)
	fs.Parse(args[1:])

	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	switch sub {
	case "list":
		keys, err := client.ListKeyPairs(ctx, token)
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Printf("%d\t%s\t%s\n", k.ID, k.Name, k.Fingerprint)
		}
		return nil
	case "add":
		if strings.TrimSpace(*name) == "" || strings.TrimSpace(*file) == "" {
			return errors.New("--name and --file are required")
		}
		data, err := os.ReadFile(*file)
		if err != nil {
			return fmt.Errorf("read public key: %w", err)
		}
		key, err := client.AddKeyPair(ctx, token, *name, strings.TrimSpace(string(data)))
		if err != nil {
			return err
		}
		fmt.Printf("key stored: %d %s\n", key.ID, key.Fingerprint)
		return nil
	case "push":
		if err := scope.validate(); err != nil {
			return err
		}
		if *id == 0 {
			return errors.New("--id is required")
		}
		if err := client.PushKeyPair(ctx, token, *scope.team, *scope.tenant, *id); err != nil {
			return err
		}
		fmt.Println("key pushed to tenant")
		return nil
	default:
		return fmt.Errorf("unknown keypairs command: %s", sub)
	}
}

func commandStats() error {
	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()
	stats, err := client.HypervisorStats(ctx, token)
	if err != nil {
		return err
	}
	for _, s := range stats {
		fmt.Printf("%s\thypervisors=%d\tvms=%d\tvcpus=%d\tfree_ram_mb=%d\tfree_disk_gb=%d\n",
			s.RegionName, s.HypervisorCount, s.RunningVMs, s.VCPUs, s.FreeRAMMB, s.FreeDiskGB)
	}
	return nil
}

func commandAdmin(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: brynctl admin [verify-teams|create-tenants]")
	}
	sub := args[0]
	fs := flag.NewFlagSet("admin "+sub, flag.ExitOnError)
	teams := fs.String("teams", "", "Comma separated team identifiers")
	regionID := fs.Int64("region", 0, "Region identifier")
	fs.Parse(args[1:])

	ids, err := parseIDs(*teams)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return errors.New("--teams is required")
	}

	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var results []apiclient.ItemResult
	switch sub {
	case "verify-teams":
		results, err = client.VerifyTeams(ctx, token, ids)
	case "create-tenants":
		if *regionID == 0 {
			return errors.New("--region is required")
		}
		results, err = client.CreateTenants(ctx, token, *regionID, ids)
	default:
		return fmt.Errorf("unknown admin command: %s", sub)
	}
	if err != nil {
		return err
	}
	failed := 0
	for _, r := range results {
		if r.OK {
			fmt.Printf("%v\tok\n", r.ID)
			continue
		}
		failed++
		fmt.Printf("%v\tfailed\t%s\n", r.ID, r.Error)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d items failed", failed, len(results))
	}
	return nil
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: apiclient.DefaultBaseURL}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = apiclient.DefaultBaseURL
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	if path := strings.TrimSpace(os.Getenv("BRYNCTL_CONFIG")); path != "" {
		return path, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "bryn", "config.json"), nil
}

func printUsage() {
	fmt.Printf("brynctl %s\n\n", buildVersion)
	fmt.Print(`Usage:
	brynctl login --username <name|email> [--password secret] [--api ` + apiclient.DefaultBaseURL + `]
	brynctl whoami
	brynctl regions
	brynctl teams
	brynctl tenants --team <id>
	brynctl servers list --team <id> --tenant <id>
	brynctl servers start|stop|reboot|unshelve|terminate|renew --team <id> --tenant <id> --server <uuid>
	brynctl volumes list --team <id> --tenant <id>
	brynctl volumes create --team <id> --tenant <id> --name <name> --size <GB> [--type t] [--image id]
	brynctl keypairs list
	brynctl keypairs add --name <name> --file ~/.ssh/id_ed25519.pub
	brynctl keypairs push --id <key-id> --team <id> --tenant <id>
	brynctl stats
	brynctl admin verify-teams --teams 1,2,3
	brynctl admin create-tenants --region <id> --teams 1,2,3
	brynctl version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
