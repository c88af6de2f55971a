package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_ADDR", "")
	t.Setenv("ARGMAP_ACCESS_TTL_SECONDS", "")
	t.Setenv("ARGMAP_TOMBSTONE_TTL_MS", "")

	cfg := Load()
	if cfg.Addr != ":8787" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Errorf("AccessTTL = %v", cfg.AccessTTL)
	}
	// The tombstone window guards one extraction round trip; anything longer
	// than a few hundred milliseconds would hide re-added annotations.
	if cfg.TombstoneTTL != 500*time.Millisecond {
		t.Errorf("TombstoneTTL = %v, want 500ms", cfg.TombstoneTTL)
	}
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9999")
	t.Setenv("ARGMAP_TOMBSTONE_TTL_MS", "750")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg := Load()
	if cfg.Addr != ":9999" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.TombstoneTTL != 750*time.Millisecond {
		t.Errorf("TombstoneTTL = %v", cfg.TombstoneTTL)
	}
	if !cfg.MinioUseSSL {
		t.Error("MinioUseSSL override ignored")
	}
}
