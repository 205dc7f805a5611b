package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap/zapcore"

	autoerrors "github.com/standardbeagle/autousing/internal/errors"
)

// Validator validates configuration and sets smart defaults
type Validator struct {
	getenv func(string) string
}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{getenv: os.Getenv}
}

// ValidateAndSetDefaults validates configuration and applies smart defaults
func (v *Validator) ValidateAndSetDefaults(cfg *Config) error {
	if err := v.validateIndexConfig(&cfg.Index); err != nil {
		return autoerrors.NewConfigError("index", "", err)
	}

	if cfg.Watch.DebounceMs < 0 {
		return autoerrors.NewConfigError("watch.debounce_ms", strconv.Itoa(cfg.Watch.DebounceMs),
			errors.New("debounce cannot be negative"))
	}

	switch cfg.Protocol.UnknownCommand {
	case "", UnknownCommandError, UnknownCommandIgnore:
	default:
		return autoerrors.NewConfigError("protocol.unknown_command", cfg.Protocol.UnknownCommand,
			fmt.Errorf("must be %q or %q", UnknownCommandError, UnknownCommandIgnore))
	}

	if err := v.validateLogConfig(&cfg.Log); err != nil {
		return autoerrors.NewConfigError("log", "", err)
	}

	v.setSmartDefaults(cfg)
	return nil
}

func (v *Validator) validateIndexConfig(index *Index) error {
	if index.MaxParallelLoads < 0 {
		return fmt.Errorf("MaxParallelLoads cannot be negative, got %d", index.MaxParallelLoads)
	}
	if index.CacheEntries < 0 {
		return fmt.Errorf("CacheEntries cannot be negative, got %d", index.CacheEntries)
	}
	if index.LockTimeoutMs < 0 || index.LockInitialBackoffMs < 0 {
		return fmt.Errorf("lock timings cannot be negative, got timeout %d backoff %d",
			index.LockTimeoutMs, index.LockInitialBackoffMs)
	}
	if index.LockTimeoutMs > 0 && index.LockInitialBackoffMs > index.LockTimeoutMs {
		return fmt.Errorf("LockInitialBackoffMs (%d) exceeds LockTimeoutMs (%d)",
			index.LockInitialBackoffMs, index.LockTimeoutMs)
	}
	for _, pattern := range index.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}
	return nil
}

func (v *Validator) validateLogConfig(log *Log) error {
	if log.Level != "" {
		if _, err := zapcore.ParseLevel(log.Level); err != nil {
			return err
		}
	}
	switch log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("log format must be json or console, got %q", log.Format)
	}
	return nil
}

// setSmartDefaults applies defaults that depend on the machine
func (v *Validator) setSmartDefaults(cfg *Config) {
	// cores-1 leaves headroom for the request loop, minimum of 1
	if cfg.Index.MaxParallelLoads == 0 {
		cfg.Index.MaxParallelLoads = max(1, runtime.NumCPU()-1)
	}

	if cfg.Index.NuGetPackages == "" {
		if env := v.getenv("NUGET_PACKAGES"); env != "" {
			cfg.Index.NuGetPackages = env
		} else if home, err := os.UserHomeDir(); err == nil {
			cfg.Index.NuGetPackages = filepath.Join(home, ".nuget", "packages")
		}
	}

	if cfg.Protocol.UnknownCommand == "" {
		cfg.Protocol.UnknownCommand = UnknownCommandError
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// ValidateConfig is a convenience function for quick validation
func ValidateConfig(cfg *Config) error {
	return NewValidator().ValidateAndSetDefaults(cfg)
}
