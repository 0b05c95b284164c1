package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Remote.Timeout != 15*time.Second {
		t.Errorf("remote.timeout = %v, want 15s", cfg.Remote.Timeout)
	}
	if cfg.Inbox.Debounce != 250*time.Millisecond {
		t.Errorf("inbox.debounce = %v, want 250ms", cfg.Inbox.Debounce)
	}
	if cfg.Server.Store != "memory" || cfg.Server.Addr != ":8090" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if !strings.HasSuffix(cfg.DBPath, filepath.Join(".myclass", "attendance.db")) {
		t.Errorf("db_path = %q", cfg.DBPath)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "myclass.toml")
	content := `
owner = "staff-7"
timezone = "Asia/Kolkata"

[remote]
url = "https://attend.example.org"
timeout = "3s"

[server]
rate_limit_per_min = 30
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MYCLASS_REMOTE_URL", "https://override.example.org")
	t.Setenv("MYCLASS_DASHBOARD_PORT", "9099")

	cfg, err := Load(New(), path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Owner != "staff-7" {
		t.Errorf("owner = %q", cfg.Owner)
	}
	if cfg.Remote.URL != "https://override.example.org" {
		t.Errorf("remote.url = %q, want env override", cfg.Remote.URL)
	}
	if cfg.Remote.Timeout != 3*time.Second {
		t.Errorf("remote.timeout = %v", cfg.Remote.Timeout)
	}
	if cfg.Server.RateLimitPerMin != 30 {
		t.Errorf("rate_limit_per_min = %d", cfg.Server.RateLimitPerMin)
	}
	if cfg.Dashboard.Port != 9099 {
		t.Errorf("dashboard.port = %d", cfg.Dashboard.Port)
	}
	loc, err := cfg.Location()
	if err != nil || loc.String() != "Asia/Kolkata" {
		t.Errorf("Location() = %v, %v", loc, err)
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown store", map[string]string{"MYCLASS_SERVER_STORE": "mysql"}, "server.store"},
		{"postgres without url", map[string]string{"MYCLASS_SERVER_STORE": "postgres"}, "database_url"},
		{"bad timezone", map[string]string{"MYCLASS_TIMEZONE": "Mars/Olympus"}, "timezone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(New(), "")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}

	if _, err := Load(New(), filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Load() accepted a missing explicit config file")
	}
}

func TestWriteDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "sub", "config.toml")

	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("WriteDefault() failed: %v", err)
	}
	if err := WriteDefault(path, false); err == nil {
		t.Error("WriteDefault() overwrote an existing file without force")
	}
	if err := WriteDefault(path, true); err != nil {
		t.Errorf("WriteDefault(force) failed: %v", err)
	}

	cfg, err := Load(New(), path)
	if err != nil {
		t.Fatalf("Load() of written defaults failed: %v", err)
	}
	if cfg.Server.TokenTTL != 720*time.Hour || cfg.Log.MaxBackups != 3 {
		t.Errorf("round-tripped config = %+v", cfg)
	}
}

func TestYAML_MasksSecrets(t *testing.T) {
	cfg := &Config{
		Remote: RemoteConfig{Token: "eyJhbGciOi"},
		Server: ServerConfig{
			Store:         "postgres",
			DatabaseURL:   "postgres://attend:hunter2@db:5432/attend",
			JWTSigningKey: "s3cret",
		},
	}
	out, err := cfg.YAML()
	if err != nil {
		t.Fatalf("YAML() failed: %v", err)
	}
	for _, secret := range []string{"eyJhbGciOi", "hunter2", "s3cret"} {
		if strings.Contains(string(out), secret) {
			t.Errorf("YAML() leaked %q:\n%s", secret, out)
		}
	}
	if !strings.Contains(string(out), "postgres://attend:********@db:5432/attend") {
		t.Errorf("database_url not masked as expected:\n%s", out)
	}
	if cfg.Remote.Token != "eyJhbGciOi" {
		t.Error("YAML() modified the receiver")
	}
}
