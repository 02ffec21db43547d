package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.BasePath != "" {
		t.Errorf("BasePath = %q, want trailing slash trimmed", cfg.Server.BasePath)
	}
	if cfg.Import.JobTTL != 30*time.Minute {
		t.Errorf("JobTTL = %s", cfg.Import.JobTTL)
	}
	if cfg.Matching.Threshold != 0.5 || cfg.Matching.Weights.LastName != 0.30 || !cfg.Matching.RequireLastName {
		t.Errorf("Matching = %+v", cfg.Matching)
	}
	if cfg.MaxUploadBytes() != 10<<20 {
		t.Errorf("MaxUploadBytes = %d", cfg.MaxUploadBytes())
	}
	if !cfg.Backup.Enabled || cfg.Backup.Dir != "/data/backups" || cfg.Backup.Retention != 10 {
		t.Errorf("Backup = %+v", cfg.Backup)
	}
	if cfg.Database.OptimizeInterval != 24*time.Hour {
		t.Errorf("OptimizeInterval = %s", cfg.Database.OptimizeInterval)
	}
	if len(cfg.Webhooks) != 0 {
		t.Errorf("Webhooks = %+v", cfg.Webhooks)
	}
	if cfg.Inbox.Dir != "" || cfg.Inbox.Debounce != 2*time.Second {
		t.Errorf("Inbox = %+v", cfg.Inbox)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
server:
  port: 9090
  base_path: /roster/
database:
  path: /tmp/roster.db
import:
  job_ttl: 5m
  max_pending_jobs: 3
matching:
  threshold: 0.7
  require_last_name: false
  weights:
    team: 0.4
backup:
  enabled: false
  retention: 3
inbox:
  dir: /srv/inbox
  debounce: 500ms
webhooks:
  - name: coaches
    url: https://hooks.example.com/roster
    type: slack
    events: [import.executed]
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.BasePath != "/roster" {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Import.JobTTL != 5*time.Minute || cfg.Import.MaxPendingJobs != 3 {
		t.Errorf("Import = %+v", cfg.Import)
	}
	if cfg.Matching.Threshold != 0.7 || cfg.Matching.Weights.Team != 0.4 || cfg.Matching.RequireLastName {
		t.Errorf("Matching = %+v", cfg.Matching)
	}
	if cfg.Backup.Enabled || cfg.Backup.Retention != 3 || cfg.Backup.Dir != "/tmp/backups" {
		t.Errorf("Backup = %+v", cfg.Backup)
	}
	if cfg.Inbox.Dir != "/srv/inbox" || cfg.Inbox.Debounce != 500*time.Millisecond {
		t.Errorf("Inbox = %+v", cfg.Inbox)
	}
	if len(cfg.Webhooks) != 1 || cfg.Webhooks[0].Type != "slack" || cfg.Webhooks[0].Events[0] != "import.executed" {
		t.Errorf("Webhooks = %+v", cfg.Webhooks)
	}
	// Unset keys keep their defaults.
	if cfg.Matching.Weights.LastName != 0.30 || cfg.Import.PreviewSampleSize != 10 {
		t.Errorf("defaults lost: %+v", cfg.Matching.Weights)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RI_PORT", "7000")
	t.Setenv("RI_DB_PATH", "/tmp/env.db")
	t.Setenv("RI_JOB_TTL", "90s")
	t.Setenv("RI_MATCH_THRESHOLD", "0.65")
	t.Setenv("RI_LOG_FORMAT", "text")
	t.Setenv("RI_BACKUP_ENABLED", "false")
	t.Setenv("RI_BACKUP_DIR", "/srv/snapshots")
	t.Setenv("RI_INBOX_DIR", "/srv/inbox")
	t.Setenv("RI_CORS_ORIGINS", "https://coach.example.com, ,https://admin.example.com")
	t.Setenv("RI_TRUSTED_PROXIES", "10.0.0.0/8,172.18.0.2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7000 || cfg.Database.Path != "/tmp/env.db" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Import.JobTTL != 90*time.Second || cfg.Matching.Threshold != 0.65 || cfg.Logging.Format != "text" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Backup.Enabled || cfg.Backup.Dir != "/srv/snapshots" {
		t.Errorf("Backup = %+v", cfg.Backup)
	}
	if cfg.Inbox.Dir != "/srv/inbox" {
		t.Errorf("Inbox = %+v", cfg.Inbox)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://admin.example.com" {
		t.Errorf("CORSOrigins = %q", cfg.Server.CORSOrigins)
	}
	if len(cfg.Server.TrustedProxies) != 2 || cfg.Server.TrustedProxies[1] != "172.18.0.2" {
		t.Errorf("TrustedProxies = %q", cfg.Server.TrustedProxies)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad port", "RI_PORT", "99999"},
		{"non-numeric port", "RI_PORT", "abc"},
		{"bad ttl", "RI_JOB_TTL", "soon"},
		{"negative ttl", "RI_JOB_TTL", "-1m"},
		{"threshold above one", "RI_MATCH_THRESHOLD", "1.2"},
		{"unknown log format", "RI_LOG_FORMAT", "xml"},
		{"bad backup flag", "RI_BACKUP_ENABLED", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := Load(""); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.val)
			}
		})
	}
}

func TestLoad_WebhookWithoutURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("webhooks:\n  - name: broken\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for webhook without url")
	}
}
