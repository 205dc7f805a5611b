package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644))
}

func TestLoadWithRoot_ProjectOverridesHome(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	t.Setenv("HOME", home)

	writeConfig(t, home, `
index {
    max_parallel_loads 2
    cache_entries 64
    exclude "**/Legacy.*.dll"
}
watch { debounce_ms 500; }
`)
	writeConfig(t, project, `
index {
    max_parallel_loads 6
    exclude "**/*.Tests.dll"
}
`)

	cfg, err := LoadWithRoot(project)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Index.MaxParallelLoads, "project wins")
	assert.Equal(t, 64, cfg.Index.CacheEntries, "home value kept when project is silent")
	assert.Equal(t, 500, cfg.Watch.DebounceMs)
	assert.Equal(t, []string{"**/*.resources.dll", "**/Legacy.*.dll", "**/*.Tests.dll"}, cfg.Index.Exclude,
		"exclusions accumulate in load order")
}

func TestLoadWithRoot_NoFiles(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadWithRoot(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithRoot_HomeIsProject(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	writeConfig(t, home, `index { framework_dirs "/opt/ref"; }`)

	cfg, err := LoadWithRoot(home)
	require.NoError(t, err)
	assert.Equal(t, []string{"/opt/ref"}, cfg.Index.FrameworkDirs, "the same file is applied once")
}

func TestLoadWithRoot_InvalidFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	project := t.TempDir()
	writeConfig(t, project, `index {`)

	_, err := LoadWithRoot(project)
	require.Error(t, err)
	assert.Contains(t, err.Error(), FileName)
}

func TestDeduplicatePatterns(t *testing.T) {
	got := DeduplicatePatterns([]string{"a", "", "b", "a", "c", "b"})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
