// Package testhelpers provides shared fixtures for autousing tests
package testhelpers

import (
	"github.com/standardbeagle/autousing/internal/config"
)

// TestConfigBuilder provides a fluent API for building test configs with safe defaults
// Usage:
//
//	cfg := testhelpers.NewTestConfigBuilder().
//		WithFrameworkDirs(sdkDir).
//		WithDebounceMs(10).
//		Build()
type TestConfigBuilder struct {
	cfg *config.Config
}

// NewTestConfigBuilder starts from the built-in defaults tuned for tests:
// no watching, a short lock timeout, two parallel loads and no NuGet folder
func NewTestConfigBuilder() *TestConfigBuilder {
	cfg := config.Default()
	cfg.Index.MaxParallelLoads = 2
	cfg.Index.LockTimeoutMs = 100
	cfg.Index.LockInitialBackoffMs = 5
	cfg.Index.NuGetPackages = ""
	cfg.Watch.Enabled = false
	cfg.Watch.DebounceMs = 10
	cfg.Log.Level = "debug"
	return &TestConfigBuilder{cfg: cfg}
}

// WithWatch enables file watching
func (b *TestConfigBuilder) WithWatch() *TestConfigBuilder {
	b.cfg.Watch.Enabled = true
	return b
}

// WithDebounceMs sets the rebuild debounce
func (b *TestConfigBuilder) WithDebounceMs(ms int) *TestConfigBuilder {
	b.cfg.Watch.DebounceMs = ms
	return b
}

// WithFrameworkDirs adds implicit framework directories
func (b *TestConfigBuilder) WithFrameworkDirs(dirs ...string) *TestConfigBuilder {
	b.cfg.Index.FrameworkDirs = append(b.cfg.Index.FrameworkDirs, dirs...)
	return b
}

// WithNuGetPackages sets the global packages folder
func (b *TestConfigBuilder) WithNuGetPackages(dir string) *TestConfigBuilder {
	b.cfg.Index.NuGetPackages = dir
	return b
}

// WithExclusions adds index exclusion patterns
func (b *TestConfigBuilder) WithExclusions(patterns ...string) *TestConfigBuilder {
	b.cfg.Index.Exclude = append(b.cfg.Index.Exclude, patterns...)
	return b
}

// WithUnknownCommand sets the protocol policy for unknown commands
func (b *TestConfigBuilder) WithUnknownCommand(policy string) *TestConfigBuilder {
	b.cfg.Protocol.UnknownCommand = policy
	return b
}

// WithLockTimeoutMs sets how long a locked reference is waited for
func (b *TestConfigBuilder) WithLockTimeoutMs(ms int) *TestConfigBuilder {
	b.cfg.Index.LockTimeoutMs = ms
	return b
}

// Build returns the config
func (b *TestConfigBuilder) Build() *config.Config {
	return b.cfg
}
