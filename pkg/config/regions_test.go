package config

import "testing"

func TestParseRegionsAppliesDefaults(t *testing.T) {
	t.Setenv("WARWICK_ADMIN_PASSWORD", "s3cret")
	data := []byte(`
regions:
  warwick:
    auth_url: https://keystone.warwick.example:5000/v3
    admin_username: admin
    admin_password: env:WARWICK_ADMIN_PASSWORD
    admin_project: admin
  cardiff:
    auth_url: https://keystone.cardiff.example:5000/v3
    domain_name: climb
    member_role: _member_
    default_volume_type: ceph
`)
	regions, err := ParseRegions(data)
	if err != nil {
		t.Fatalf("parse regions: %v", err)
	}
	warwick, ok := regions.Lookup("warwick")
	if !ok {
		t.Fatalf("expected warwick region")
	}
	if warwick.AdminPassword != "s3cret" {
		t.Fatalf("expected password resolved from env, got %q", warwick.AdminPassword)
	}
	if warwick.DomainName != "Default" || warwick.MemberRole != "member" {
		t.Fatalf("unexpected defaults: %+v", warwick)
	}
	cardiff, _ := regions.Lookup("cardiff")
	if cardiff.MemberRole != "_member_" || cardiff.DefaultVolumeType != "ceph" {
		t.Fatalf("unexpected cardiff settings: %+v", cardiff)
	}
}

func TestParseRegionsRequiresAuthURL(t *testing.T) {
	if _, err := ParseRegions([]byte("regions:\n  bham:\n    admin_username: x\n")); err == nil {
		t.Fatalf("expected error for missing auth_url")
	}
	if _, err := ParseRegions([]byte("regions: {}\n")); err == nil {
		t.Fatalf("expected error for empty regions")
	}
}
