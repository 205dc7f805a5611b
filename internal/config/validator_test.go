package config

import (
	"errors"
	"path/filepath"
	"runtime"
	"testing"

	autoerrors "github.com/standardbeagle/autousing/internal/errors"
)

func TestValidateAndSetDefaults(t *testing.T) {
	cfg := Default()
	cfg.Protocol.UnknownCommand = ""
	cfg.Log = Log{}

	validator := &Validator{getenv: func(string) string { return "/env/nuget" }}
	if err := validator.ValidateAndSetDefaults(cfg); err != nil {
		t.Fatalf("ValidateAndSetDefaults failed: %v", err)
	}

	if want := max(1, runtime.NumCPU()-1); cfg.Index.MaxParallelLoads != want {
		t.Errorf("MaxParallelLoads = %d, want %d", cfg.Index.MaxParallelLoads, want)
	}
	if cfg.Index.NuGetPackages != "/env/nuget" {
		t.Errorf("NuGetPackages = %q, want the NUGET_PACKAGES value", cfg.Index.NuGetPackages)
	}
	if cfg.Protocol.UnknownCommand != UnknownCommandError {
		t.Errorf("UnknownCommand = %q, want %q", cfg.Protocol.UnknownCommand, UnknownCommandError)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("log defaults not applied: %+v", cfg.Log)
	}
}

func TestValidateAndSetDefaults_NuGetHomeFallback(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := Default()
	validator := &Validator{getenv: func(string) string { return "" }}
	if err := validator.ValidateAndSetDefaults(cfg); err != nil {
		t.Fatalf("ValidateAndSetDefaults failed: %v", err)
	}
	if want := filepath.Join(home, ".nuget", "packages"); cfg.Index.NuGetPackages != want {
		t.Errorf("NuGetPackages = %q, want %q", cfg.Index.NuGetPackages, want)
	}
}

func TestValidateAndSetDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := Default()
	cfg.Index.MaxParallelLoads = 7
	cfg.Index.NuGetPackages = "/explicit"

	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("ValidateConfig failed: %v", err)
	}
	if cfg.Index.MaxParallelLoads != 7 {
		t.Errorf("MaxParallelLoads overwritten: %d", cfg.Index.MaxParallelLoads)
	}
	if cfg.Index.NuGetPackages != "/explicit" {
		t.Errorf("NuGetPackages overwritten: %q", cfg.Index.NuGetPackages)
	}
}

func TestValidateAndSetDefaults_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"negative parallel loads", func(c *Config) { c.Index.MaxParallelLoads = -1 }, "index"},
		{"negative cache", func(c *Config) { c.Index.CacheEntries = -5 }, "index"},
		{"backoff above timeout", func(c *Config) { c.Index.LockInitialBackoffMs = 10_000 }, "index"},
		{"bad exclude pattern", func(c *Config) { c.Index.Exclude = []string{"[unclosed"} }, "index"},
		{"negative debounce", func(c *Config) { c.Watch.DebounceMs = -1 }, "watch.debounce_ms"},
		{"unknown policy", func(c *Config) { c.Protocol.UnknownCommand = "panic" }, "protocol.unknown_command"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := ValidateConfig(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var cfgErr *autoerrors.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *ConfigError, got %T", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", cfgErr.Field, tt.field)
			}
		})
	}
}
