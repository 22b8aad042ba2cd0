package main

import (
	"path/filepath"
	"testing"
	"time"
)

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs(" 1, 2,,3 ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[2] != 3 {
		t.Fatalf("unexpected ids %v", ids)
	}
	if _, err := parseIDs("1,x"); err == nil {
		t.Fatalf("expected error for non-numeric id")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	t.Setenv("BRYNCTL_CONFIG", filepath.Join(t.TempDir(), "config.json"))
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	if cfg.APIBaseURL == "" {
		t.Fatalf("expected default base url")
	}
	cfg.AccessToken = "tok"
	cfg.ExpiresAt = time.Now().Add(-time.Minute)
	if err := saveConfig(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, _, err := session(); err == nil {
		t.Fatalf("expected expired session error")
	}
}
