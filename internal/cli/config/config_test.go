package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	p, ok := cfg.Profile("")
	if !ok || p.Server != DefaultServer {
		t.Errorf("default profile = %+v, %v", p, ok)
	}
	if cfg.DefaultOutput != "table" {
		t.Errorf("DefaultOutput = %q", cfg.DefaultOutput)
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()
	if !filepath.IsAbs(path) {
		t.Errorf("path %q is not absolute", path)
	}
	if filepath.Base(filepath.Dir(path)) != ".dtnmesh" || filepath.Base(path) != "cli.yaml" {
		t.Errorf("unexpected path %q", path)
	}
}

func TestLoad_Missing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CurrentProfile != "local" {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cli.yaml")
	cfg := Default()
	cfg.CurrentProfile = "relay"
	cfg.Profiles["relay"] = Profile{Server: "https://relay:4550", Token: "t0k"}
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", fi.Mode().Perm())
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p, ok := got.Profile("")
	if !ok || p.Server != "https://relay:4550" || p.Token != "t0k" {
		t.Errorf("relay profile = %+v, %v", p, ok)
	}
	if _, ok := got.Profile("local"); !ok {
		t.Error("local profile lost")
	}
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.yaml")
	if err := os.WriteFile(path, []byte("profiles: [1, 2"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected a parse error")
	}
}
