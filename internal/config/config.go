package config

import (
	"os"
	"path/filepath"
	"time"
)

// FileName is the configuration file looked up in the home directory and
// then in the working directory
const FileName = ".autousing.kdl"

// Unknown command policies
const (
	UnknownCommandError  = "error"
	UnknownCommandIgnore = "ignore"
)

type Config struct {
	Version  int
	Index    Index
	Watch    Watch
	Protocol Protocol
	Log      Log
	Metrics  Metrics
}

type Index struct {
	MaxParallelLoads     int      // 0 = auto-detect (NumCPU-1)
	CacheEntries         int      // parse cache capacity, 0 disables the cache
	LockTimeoutMs        int      // give up on a locked reference after this long
	LockInitialBackoffMs int      // first retry delay while a reference is locked
	FrameworkDirs        []string // directories holding implicitly referenced assemblies
	NuGetPackages        string   // global packages folder for PackageReference lookup
	Exclude              []string // doublestar patterns of references never indexed
}

type Watch struct {
	Enabled    bool
	DebounceMs int
}

type Protocol struct {
	UnknownCommand string // "error" or "ignore"
}

type Log struct {
	Level  string // debug, info, warn, error
	Format string // json or console
	File   string // empty logs to stderr
}

type Metrics struct {
	Addr string // empty disables the metrics listener
}

func (i Index) LockTimeout() time.Duration {
	return time.Duration(i.LockTimeoutMs) * time.Millisecond
}

func (i Index) LockInitialBackoff() time.Duration {
	return time.Duration(i.LockInitialBackoffMs) * time.Millisecond
}

func (w Watch) Debounce() time.Duration {
	return time.Duration(w.DebounceMs) * time.Millisecond
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Version: 1,
		Index: Index{
			MaxParallelLoads:     0,
			CacheEntries:         256,
			LockTimeoutMs:        5000,
			LockInitialBackoffMs: 25,
			Exclude:              []string{"**/*.resources.dll"},
		},
		Watch: Watch{
			Enabled:    true,
			DebounceMs: 250,
		},
		Protocol: Protocol{UnknownCommand: UnknownCommandError},
		Log: Log{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from the working directory
func Load() (*Config, error) {
	return LoadWithRoot("")
}

// LoadWithRoot layers ~/.autousing.kdl, then rootDir/.autousing.kdl, over
// the defaults. Project settings override home settings; exclusions and
// framework directories accumulate.
func LoadWithRoot(rootDir string) (*Config, error) {
	searchDir := "."
	if rootDir != "" {
		searchDir = rootDir
	}

	cfg := Default()

	if homeDir, err := os.UserHomeDir(); err == nil {
		if err := applyFile(cfg, filepath.Join(homeDir, FileName)); err != nil {
			return nil, err
		}
	}

	projectFile := filepath.Join(searchDir, FileName)
	if home, err := os.UserHomeDir(); err != nil || !samePath(filepath.Join(home, FileName), projectFile) {
		if err := applyFile(cfg, projectFile); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

// DeduplicatePatterns removes repeated entries, keeping first occurrences
func DeduplicatePatterns(patterns []string) []string {
	seen := make(map[string]bool, len(patterns))
	out := patterns[:0:0]
	for _, p := range patterns {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
