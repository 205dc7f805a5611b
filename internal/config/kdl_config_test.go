package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKDL_Defaults(t *testing.T) {
	cfg, err := parseKDL("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 256, cfg.Index.CacheEntries)
	assert.Equal(t, 5*time.Second, cfg.Index.LockTimeout())
	assert.Equal(t, 25*time.Millisecond, cfg.Index.LockInitialBackoff())
	assert.True(t, cfg.Watch.Enabled)
	assert.Equal(t, 250*time.Millisecond, cfg.Watch.Debounce())
	assert.Equal(t, UnknownCommandError, cfg.Protocol.UnknownCommand)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestParseKDL_AllSections(t *testing.T) {
	kdlContent := `
index {
    max_parallel_loads 3
    cache_entries 0
    lock_timeout_ms 1000
    lock_initial_backoff_ms 10
    framework_dirs "/usr/share/dotnet/packs/Microsoft.NETCore.App.Ref/8.0.0/ref/net8.0"
    nuget_packages "/srv/nuget"
    exclude {
        "**/*.Tests.dll"
        "**/Interop.*.dll"
    }
}
watch {
    enabled false
    debounce_ms 100
}
protocol {
    unknown_command "Ignore"
}
log {
    level "debug"
    format "console"
    file "/tmp/autousing.log"
}
metrics {
    addr ":9464"
}
`
	cfg, err := parseKDL(kdlContent)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Index.MaxParallelLoads)
	assert.Equal(t, 0, cfg.Index.CacheEntries)
	assert.Equal(t, time.Second, cfg.Index.LockTimeout())
	assert.Equal(t, 10*time.Millisecond, cfg.Index.LockInitialBackoff())
	assert.Equal(t, []string{"/usr/share/dotnet/packs/Microsoft.NETCore.App.Ref/8.0.0/ref/net8.0"}, cfg.Index.FrameworkDirs)
	assert.Equal(t, "/srv/nuget", cfg.Index.NuGetPackages)
	assert.Equal(t, []string{"**/*.resources.dll", "**/*.Tests.dll", "**/Interop.*.dll"}, cfg.Index.Exclude)
	assert.False(t, cfg.Watch.Enabled)
	assert.Equal(t, 100, cfg.Watch.DebounceMs)
	assert.Equal(t, UnknownCommandIgnore, cfg.Protocol.UnknownCommand)
	assert.Equal(t, Log{Level: "debug", Format: "console", File: "/tmp/autousing.log"}, cfg.Log)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)
}

func TestParseKDL_InlineList(t *testing.T) {
	cfg, err := parseKDL(`index { framework_dirs "/a" "/b" "/a"; }`)
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/b"}, cfg.Index.FrameworkDirs)
}

func TestParseKDL_UnknownKeysIgnored(t *testing.T) {
	cfg, err := parseKDL(`
index { max_file_size "10MB"; }
search { max_results 5; }
`)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseKDL_Invalid(t *testing.T) {
	_, err := parseKDL(`index { max_parallel_loads`)
	assert.Error(t, err)
}

func TestParseKDL_TruncatedBlocksRejected(t *testing.T) {
	for _, content := range []string{
		`index { max_parallel_loads 3`,
		"watch {\n    enabled false\n",
		"index {\n    exclude \"a\" \"b\"\n}\nlog {\n",
		`index { } }`,
		`log { file "unterminated }`,
		"index { /* never closed }",
	} {
		_, err := parseKDL(content)
		assert.Error(t, err, "content %q", content)
	}
}

func TestParseKDL_BracesInStringsAndComments(t *testing.T) {
	cfg, err := parseKDL(`
// a { comment
/* block { comment */
log { file "logs/{date}.log"; }
`)
	require.NoError(t, err)
	assert.Equal(t, "logs/{date}.log", cfg.Log.File)
}

func TestCheckBalanced(t *testing.T) {
	tests := []struct {
		content string
		ok      bool
	}{
		{`a { b "}" }`, true},
		{`a { b "\"}" }`, true},
		{`a { b r#"x"}"# }`, true},
		{`a { b r"{" }`, true},
		{"/* x /* { */ } */ a { }", true},
		{`bar { }`, true},
		{`a {`, false},
		{`a { } }`, false},
		{`a { b "x }`, false},
		{`a { b r#"x" }`, false},
		{"/* { ", false},
	}
	for _, tt := range tests {
		err := checkBalanced(tt.content)
		if tt.ok {
			assert.NoError(t, err, "content %q", tt.content)
		} else {
			assert.Error(t, err, "content %q", tt.content)
		}
	}
}
