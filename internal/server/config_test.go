package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(nil, envMap(nil), filepath.Join(t.TempDir(), ".host"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.Addr != "localhost:8080" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.SessionsDir != "sessions" {
		t.Errorf("SessionsDir = %q", cfg.SessionsDir)
	}
	if cfg.MaxFileBytes != 10*1024*1024 || cfg.MaxFiles != 10 {
		t.Errorf("limits = %d bytes / %d files", cfg.MaxFileBytes, cfg.MaxFiles)
	}
	if cfg.SweepInterval != 2*time.Second || cfg.RetryBackoff != time.Second {
		t.Errorf("reaper timing = %s / %s", cfg.SweepInterval, cfg.RetryBackoff)
	}
	if cfg.CookieDomain != "localhost" {
		t.Errorf("CookieDomain = %q, want localhost", cfg.CookieDomain)
	}
	if cfg.MirrorEnabled() {
		t.Error("mirror enabled without settings")
	}
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()

	file := filepath.Join(dir, "sfd.toml")
	toml := `
addr = "file.example:1000"
sessions_dir = "/srv/from-file"
max_files = 3
sweep_interval = "5s"

[s3]
endpoint = "http://minio:9000"
access_key = "ak"
secret_key = "sk"
bucket = "drops"
sweep_interval = "1m"

[database]
url = "postgres://u:p@db:5432/sfd"
`
	if err := os.WriteFile(file, []byte(toml), 0o600); err != nil {
		t.Fatal(err)
	}

	hostFile := filepath.Join(dir, ".host")
	env := map[string]string{
		"SFD_CONFIG":         file,
		"SFD_ADDR":           "env.example:2000",
		"SFD_MAX_FILE_BYTES": "2048",
		"SFD_RETRY_BACKOFF":  "3",
	}

	tests := []struct {
		name     string
		args     []string
		hostFile string
		wantAddr string
	}{
		{"env over file", nil, "", "env.example:2000"},
		{"host file over env", nil, "host.example:3000\n", "host.example:3000"},
		{"argument over host file", []string{"arg.example:4000"}, "host.example:3000", "arg.example:4000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_ = os.Remove(hostFile)
			if tt.hostFile != "" {
				if err := os.WriteFile(hostFile, []byte(tt.hostFile), 0o600); err != nil {
					t.Fatal(err)
				}
			}

			cfg, err := loadConfig(tt.args, envMap(env), hostFile)
			if err != nil {
				t.Fatalf("loadConfig: %v", err)
			}
			if cfg.Addr != tt.wantAddr {
				t.Errorf("Addr = %q, want %q", cfg.Addr, tt.wantAddr)
			}
			wantDomain := strings.Split(tt.wantAddr, ":")[0]
			if cfg.CookieDomain != wantDomain {
				t.Errorf("CookieDomain = %q, want %q", cfg.CookieDomain, wantDomain)
			}

			// File values survive where nothing overrides them.
			if cfg.SessionsDir != "/srv/from-file" || cfg.MaxFiles != 3 || cfg.SweepInterval != 5*time.Second {
				t.Errorf("file values lost: %+v", cfg)
			}
			if cfg.MaxFileBytes != 2048 || cfg.RetryBackoff != 3*time.Second {
				t.Errorf("env values lost: %d %s", cfg.MaxFileBytes, cfg.RetryBackoff)
			}
			if !cfg.MirrorEnabled() || cfg.MirrorSweepInterval != time.Minute {
				t.Errorf("mirror settings = %+v", cfg)
			}
			if cfg.DatabaseURL != "postgres://u:p@db:5432/sfd" {
				t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
			}
		})
	}
}

func TestLoadConfig_WildcardBindHasNoCookieDomain(t *testing.T) {
	cfg, err := loadConfig([]string{"0.0.0.0:8080"}, envMap(nil), "")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.CookieDomain != "" {
		t.Errorf("CookieDomain = %q, want empty", cfg.CookieDomain)
	}

	cfg, err = loadConfig([]string{"0.0.0.0:8080"}, envMap(map[string]string{
		"SFD_COOKIE_DOMAIN": "drop.example.com",
	}), "")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.CookieDomain != "drop.example.com" {
		t.Errorf("explicit CookieDomain = %q", cfg.CookieDomain)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		env     map[string]string
		wantErr string
	}{
		{"bad port", []string{"localhost:99999"}, nil, "addr"},
		{"no port", []string{"localhost"}, nil, "addr"},
		{"zero max files", nil, map[string]string{"SFD_MAX_FILES": "0"}, "SFD_MAX_FILES"},
		{"garbage file size", nil, map[string]string{"SFD_MAX_FILE_BYTES": "ten"}, "SFD_MAX_FILE_BYTES"},
		{"bad duration", nil, map[string]string{"SFD_SWEEP_INTERVAL": "often"}, "SFD_SWEEP_INTERVAL"},
		{"negative duration", nil, map[string]string{"SFD_RETRY_BACKOFF": "-1s"}, "SFD_RETRY_BACKOFF"},
		{"partial mirror", nil, map[string]string{"SFD_S3_ENDPOINT": "minio:9000"}, "SFD_S3_*"},
		{"bad database url", nil, map[string]string{"DATABASE_URL": "mysql://x"}, "DATABASE_URL"},
		{"bad log format", nil, map[string]string{"SFD_LOG_FORMAT": "xml"}, "SFD_LOG_FORMAT"},
		{"bad webhook url", nil, map[string]string{"SFD_WEBHOOK_URL": "ftp://hooks"}, "SFD_WEBHOOK_URL"},
		{"webhook secret alone", nil, map[string]string{"SFD_WEBHOOK_SECRET": "k"}, "SFD_WEBHOOK_SECRET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(tt.args, envMap(tt.env), "")
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(nil, envMap(map[string]string{
		"SFD_CONFIG": filepath.Join(t.TempDir(), "absent.toml"),
	}), "")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidator_ValidateAddr(t *testing.T) {
	tests := []struct {
		addr  string
		valid bool
	}{
		{"localhost:8080", true},
		{":8080", true},
		{"[::1]:443", true},
		{"0.0.0.0:0", true},
		{"localhost", false},
		{"localhost:http", false},
		{"localhost:-1", false},
		{"", false},
	}
	for _, tt := range tests {
		v := NewConfigValidator()
		v.ValidateAddr("addr", tt.addr)
		if v.HasErrors() == tt.valid {
			t.Errorf("ValidateAddr(%q): errors = %v, want valid=%v", tt.addr, v.Errors(), tt.valid)
		}
	}
}
