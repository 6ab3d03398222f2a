package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JOBBOARD_CONFIG", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PriorityIncrement != 200 || cfg.DefaultLimit != 200 || cfg.ArchivedLimit != 100 {
		t.Fatalf("unexpected board defaults: %+v", cfg)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobboard.yaml")
	configYAML := strings.TrimSpace(`
addr: ":9000"
priority_increment: 1000
archived_limit: 25
board_cache_ttl: 2m
minio_endpoint: "minio:9000"
`)
	if err := os.WriteFile(path, []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("JOBBOARD_CONFIG", path)
	t.Setenv("API_ADDR", ":9100")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":9100" {
		t.Fatalf("env should win over file, got addr %q", cfg.Addr)
	}
	if cfg.PriorityIncrement != 1000 || cfg.ArchivedLimit != 25 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.DefaultLimit != 200 {
		t.Fatalf("unset file values should keep defaults, got %d", cfg.DefaultLimit)
	}
	if cfg.BoardCacheTTL != 2*time.Minute {
		t.Fatalf("board cache ttl = %s", cfg.BoardCacheTTL)
	}
	if cfg.MinioEndpoint != "minio:9000" || !cfg.MinioUseSSL {
		t.Fatalf("minio settings not applied: %+v", cfg)
	}
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("addr: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("JOBBOARD_CONFIG", path)
	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}

	t.Setenv("JOBBOARD_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected read error")
	}
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.PriorityIncrement = 1
	cfg.ArchivedLimit = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, fragment := range []string{"priority increment", "archived limit"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("error %q missing %q", err, fragment)
		}
	}

	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestGetenvIntIgnoresGarbage(t *testing.T) {
	t.Setenv("BOARD_DEFAULT_LIMIT", "lots")
	if got := getenvInt("BOARD_DEFAULT_LIMIT", 7); got != 7 {
		t.Fatalf("getenvInt = %d, want fallback", got)
	}
}
