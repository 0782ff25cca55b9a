package routing

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const sampleYAML = `
services:
  root: /api
backends:
  - service: root
    backend:
      type: basic
      ip: 10.0.0.1
      port: 8099
`

func TestParseConfigDecodesBasicBackend(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Backends) != 1 {
		t.Fatalf("expected 1 backend, got %d", len(cfg.Backends))
	}
	b := cfg.Backends[0]
	if b.Kind != BackendBasic || b.IP != "10.0.0.1" || b.Port != 8099 {
		t.Fatalf("unexpected backend: %+v", b)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateUndefinedService(t *testing.T) {
	cfg := Config{
		Services: map[string]string{"root": "/api"},
		Backends: []Backend{{Service: "unknown", Kind: BackendBasic, IP: "1.2.3.4", Port: 80}},
	}
	err := cfg.Validate()
	var ve *ValidationError
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !asValidationError(err, &ve) || ve.Kind != "undefined_service" {
		t.Fatalf("expected undefined_service error, got %v", err)
	}
}

func TestValidateUnusedService(t *testing.T) {
	cfg := Config{
		Services: map[string]string{"root": "/api", "unused": "/unused"},
		Backends: []Backend{{Service: "root", Kind: BackendBasic, IP: "1.2.3.4", Port: 80}},
	}
	err := cfg.Validate()
	var ve *ValidationError
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !asValidationError(err, &ve) || ve.Kind != "unused_service" {
		t.Fatalf("expected unused_service error, got %v", err)
	}
}

func asValidationError(err error, target **ValidationError) bool {
	return errors.As(err, target)
}

func TestSelectFirstMatchAndUnimplementedBackend(t *testing.T) {
	cfg := Config{
		Services: map[string]string{"root": "/api"},
		Backends: []Backend{{Service: "root", Kind: BackendDynamicPool}},
	}
	tbl := NewTable(cfg, "", time.Hour, zerolog.Nop())

	_, err := tbl.Select("/other")
	if err != ErrNoServiceMatch {
		t.Fatalf("expected ErrNoServiceMatch, got %v", err)
	}

	_, err = tbl.Select("/api/widgets")
	if err != ErrBackendUnimplemented {
		t.Fatalf("expected ErrBackendUnimplemented, got %v", err)
	}
}

func TestSelectNoBackendForService(t *testing.T) {
	cfg := Config{
		Services: map[string]string{"root": "/api"},
		Backends: nil,
	}
	// Skipping Validate (would reject unused service) to exercise the
	// no-backend-for-service path directly.
	tbl := NewTable(cfg, "", time.Hour, zerolog.Nop())

	_, err := tbl.Select("/api/widgets")
	if err != ErrNoBackend {
		t.Fatalf("expected ErrNoBackend, got %v", err)
	}
}

func TestReloadOnceRetainsPreviousOnInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routes.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	initial, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	tbl := NewTable(initial, path, time.Hour, zerolog.Nop())

	if err := os.WriteFile(path, []byte("not: [valid"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	tbl.reloadOnce()

	b, err := tbl.Select("/api/widgets")
	if err != nil {
		t.Fatalf("expected previous config retained, got error: %v", err)
	}
	if b.IP != "10.0.0.1" {
		t.Fatalf("unexpected backend after failed reload: %+v", b)
	}
}
