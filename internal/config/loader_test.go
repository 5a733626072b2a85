package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	def := DefaultConfig()
	if cfg.Locker.Type != def.Locker.Type || cfg.Maildir.BasePath != def.Maildir.BasePath {
		t.Fatalf("got %+v, want defaults %+v", cfg, def)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailutil.yaml")
	yaml := "locker:\n  type: kernel\nmaildir:\n  base_path: /srv/mail\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Locker.Type != "kernel" {
		t.Fatalf("got locker type %q", cfg.Locker.Type)
	}
	if cfg.Maildir.BasePath != "/srv/mail" {
		t.Fatalf("got maildir base_path %q", cfg.Maildir.BasePath)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("expected untouched fields to keep their defaults, got %q", cfg.Logging.Level)
	}
}

func TestLoadRejectsUnknownLockerType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailutil.yaml")
	if err := os.WriteFile(path, []byte("locker:\n  type: bogus\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unknown locker type")
	}
}

func TestLoadRejectsEmptyMaildirBasePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailutil.yaml")
	if err := os.WriteFile(path, []byte("maildir:\n  base_path: \"\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an empty maildir base_path")
	}
}
