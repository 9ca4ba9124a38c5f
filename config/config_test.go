package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected load without file to succeed, got %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Auth.TokenExpireHours != 24 {
		t.Errorf("expected default token expiry 24h, got %d", cfg.Auth.TokenExpireHours)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected default log level info, got %q", cfg.Log.Level)
	}
	if cfg.Minio.Bucket != "agreement-artifacts" {
		t.Errorf("expected default bucket, got %q", cfg.Minio.Bucket)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  port: 9090
database:
  url: postgres://file-host/db
minio:
  endpoint: localhost:9000
  bucket: custom-bucket
auth:
  jwt_secret: file-secret
log:
  level: debug
  format: json
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected load to succeed, got %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Database.URL != "postgres://file-host/db" {
		t.Errorf("unexpected database url %q", cfg.Database.URL)
	}
	if cfg.Minio.Bucket != "custom-bucket" {
		t.Errorf("unexpected bucket %q", cfg.Minio.Bucket)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
database:
  url: postgres://file-host/db
auth:
  jwt_secret: file-secret
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	t.Setenv("DATABASE_URL", "postgres://env-host/db")
	t.Setenv("JWT_SECRET", "env-secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected load to succeed, got %v", err)
	}
	if cfg.Database.URL != "postgres://env-host/db" {
		t.Errorf("expected env to win, got %q", cfg.Database.URL)
	}
	if cfg.Auth.JWTSecret != "env-secret" {
		t.Errorf("expected env to win, got %q", cfg.Auth.JWTSecret)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
