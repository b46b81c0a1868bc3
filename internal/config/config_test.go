package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pantry.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Server.DBDriver != "sqlite" {
		t.Errorf("driver = %q, want sqlite", cfg.Server.DBDriver)
	}
	if cfg.Expiry.SweepInterval != time.Hour {
		t.Errorf("sweep interval = %v, want 1h", cfg.Expiry.SweepInterval)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
log_level: debug
log_format: json
server:
  addr: ":9090"
  db_driver: postgres
  dsn: postgres://localhost/pantry
remote:
  url: http://localhost:9090
expiry:
  sweep_interval: 15m
backup:
  passphrase: hunter2
  interval: 24h
  keep: 7
  s3:
    bucket: pantry
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
		t.Errorf("logging = %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.Server.DBDriver != "postgres" || cfg.Server.DSN != "postgres://localhost/pantry" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Expiry.SweepInterval != 15*time.Minute {
		t.Errorf("sweep interval = %v, want 15m", cfg.Expiry.SweepInterval)
	}
	if cfg.Backup.Interval != 24*time.Hour || cfg.Backup.Keep != 7 || cfg.Backup.S3.Bucket != "pantry" {
		t.Errorf("backup = %+v", cfg.Backup)
	}
	if cfg.FoodFacts.RequestsPerSecond != 1 {
		t.Errorf("unset key lost its default: rps = %v", cfg.FoodFacts.RequestsPerSecond)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "server:\n  addr: \":9090\"\n")
	t.Setenv("PANTRY_ADDR", ":7070")
	t.Setenv("PANTRY_SWEEP_INTERVAL", "5m")
	t.Setenv("PANTRY_BACKUP_KEEP", "3")
	t.Setenv("PANTRY_POSTMARK_TOKEN", "pm-token")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("addr = %q, want :7070", cfg.Server.Addr)
	}
	if cfg.Expiry.SweepInterval != 5*time.Minute {
		t.Errorf("sweep interval = %v, want 5m", cfg.Expiry.SweepInterval)
	}
	if cfg.Backup.Keep != 3 {
		t.Errorf("keep = %d, want 3", cfg.Backup.Keep)
	}
	if cfg.Email.ServerToken != "pm-token" {
		t.Errorf("postmark token = %q, want pm-token", cfg.Email.ServerToken)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  map[string]string
		want string
	}{
		{name: "bad duration", env: map[string]string{"PANTRY_SWEEP_INTERVAL": "soon"}, want: "PANTRY_SWEEP_INTERVAL"},
		{name: "bad number", env: map[string]string{"PANTRY_FOODFACTS_RPS": "fast"}, want: "PANTRY_FOODFACTS_RPS"},
		{name: "unknown driver", file: "server:\n  db_driver: mysql\n", want: "DBDriver"},
		{name: "bad remote url", env: map[string]string{"PANTRY_REMOTE_URL": "not a url"}, want: "URL"},
		{name: "malformed yaml", file: "server: [", want: "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.file != "" {
				path = writeFile(t, tt.file)
			}
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load() error = nil, want error")
	}
}

func TestRequireBackup(t *testing.T) {
	cfg := Default()
	err := cfg.RequireBackup()
	if err == nil {
		t.Fatal("RequireBackup() = nil, want error")
	}
	for _, want := range []string{"bucket", "access_key", "passphrase"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}

	cfg.Backup.S3.Bucket = "b"
	cfg.Backup.S3.AccessKey = "k"
	cfg.Backup.S3.SecretKey = "s"
	cfg.Backup.Passphrase = "p"
	if err := cfg.RequireBackup(); err != nil {
		t.Errorf("RequireBackup() = %v, want nil", err)
	}
}

func TestRequireRemote(t *testing.T) {
	cfg := Default()
	if err := cfg.RequireRemote(); err == nil {
		t.Fatal("RequireRemote() = nil, want error")
	}
	cfg.Remote.URL = "http://localhost:8080"
	if err := cfg.RequireRemote(); err != nil {
		t.Errorf("RequireRemote() = %v, want nil", err)
	}
}
