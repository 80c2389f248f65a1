package config

import (
	"testing"
)

func TestParseEnvironment(t *testing.T) {
	cases := map[string]Environment{
		"development": Development,
		"Testing":     Testing,
		"PRODUCTION":  Production,
	}
	for input, want := range cases {
		got, ok := ParseEnvironment(input)
		if !ok || got != want {
			t.Fatalf("ParseEnvironment(%q) = (%q, %v), want (%q, true)", input, got, ok, want)
		}
	}
	if _, ok := ParseEnvironment("staging"); ok {
		t.Fatalf("expected unknown environment to fail parsing")
	}
}

func TestLoadDefaultsToDevelopment(t *testing.T) {
	t.Setenv("CHENGIS_ENV", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != Development {
		t.Fatalf("expected default environment development, got %s", cfg.Env)
	}
	if !cfg.IsDevelopment() {
		t.Fatalf("expected IsDevelopment() true")
	}
	if cfg.MaxConcurrentStages <= 0 {
		t.Fatalf("expected a positive default concurrency limit")
	}
}

func TestLoadRejectsUnknownEnvironment(t *testing.T) {
	t.Setenv("CHENGIS_ENV", "staging")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown CHENGIS_ENV")
	}
}

func TestValidateRequiresDatabaseInProduction(t *testing.T) {
	cfg := &Config{
		Env:                 Production,
		WorkspaceRoot:       "/tmp/ws",
		ArtifactsRoot:       "/tmp/art",
		CacheRoot:           "/tmp/cache",
		MaxConcurrentBuilds: 1,
		MaxConcurrentStages: 1,
		MaxParallelSteps:    1,
		MaxMatrixCombos:     1,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for missing DATABASE_DSN in production")
	}
	cfg.Database.DSN = "postgres://localhost/chengis"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected validation to pass once DSN is set: %v", err)
	}
}

func TestValidateRejectsNonPositiveLimits(t *testing.T) {
	cfg := &Config{
		WorkspaceRoot: "/tmp/ws",
		ArtifactsRoot: "/tmp/art",
		CacheRoot:     "/tmp/cache",
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for zero-value limits")
	}
}
