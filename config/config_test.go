package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFillsDefaultsAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := `
server_addr: "127.0.0.1"
server_port: 2121
pasv_enable: true
pasv_port_min: 30000
pasv_port_max: 30010
max_clients: 10
admin:
  name: root
  password: hunter2
users:
  - name: anonymous
    password: ""
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerAddr != "127.0.0.1" || cfg.ServerPort != 2121 {
		t.Fatalf("unexpected addr/port: %+v", cfg)
	}
	if cfg.IdleTimeoutSecs != 90 {
		t.Fatalf("expected default idle timeout preserved, got %d", cfg.IdleTimeoutSecs)
	}
	if cfg.Admin.Name != "root" || cfg.Admin.Password != "hunter2" {
		t.Fatalf("unexpected admin: %+v", cfg.Admin)
	}
	if len(cfg.Users) != 1 || cfg.Users[0].Name != "anonymous" {
		t.Fatalf("unexpected users: %+v", cfg.Users)
	}
}

func TestLoadRejectsBadPasvRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := `
server_port: 2121
pasv_enable: true
pasv_port_min: 40000
pasv_port_max: 30000
`
	os.WriteFile(path, []byte(contents), 0o644)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for pasv_port_min > pasv_port_max")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}
