package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/standardbeagle/autousing/internal/project"
	"github.com/standardbeagle/autousing/internal/types"
	"github.com/standardbeagle/autousing/testhelpers"
)

type harness struct {
	session *mcp.ClientSession
	dir     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testhelpers.NewTestConfigBuilder().Build()
	logger := zaptest.NewLogger(t)

	opts, err := project.OptionsFromConfig(cfg, logger, nil)
	require.NoError(t, err)
	registry := project.NewRegistry(logger, nil)
	t.Cleanup(registry.Close)

	srv := NewServer(registry, func(ctx context.Context, path string) (*project.Project, error) {
		return project.Open(ctx, path, opts)
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := srv.Connect(ctx, serverTransport)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = session.Close()
		_ = serverSession.Wait()
	})

	return &harness{session: session, dir: t.TempDir()}
}

func (h *harness) writeProject(t *testing.T) string {
	t.Helper()
	testhelpers.WriteManifest(t, filepath.Join(h.dir, "lib", "Acme.types.toml"),
		[]string{"Acme.Ui.Widget", "Acme.Ui.Window", "Acme.Data.Record"},
		"Acme.Numbers.Twice(Int32)")
	return testhelpers.NewProjectFile(h.dir, "App").
		WithHintReference("Acme", `lib\Acme.types.toml`).
		Write(t)
}

func (h *harness) call(t *testing.T, name string, args map[string]any) (*mcp.CallToolResult, string) {
	t.Helper()
	result, err := h.session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content")
	return result, text.Text
}

func TestListTools(t *testing.T) {
	h := newHarness(t)

	tools, err := h.session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"add_project", "remove_project", "list_projects", "complete_type", "complete_extension",
	}, names)
}

func TestCompletionTools(t *testing.T) {
	h := newHarness(t)
	path := h.writeProject(t)

	result, text := h.call(t, "add_project", map[string]any{"path": path})
	require.False(t, result.IsError, text)
	var info project.Info
	require.NoError(t, json.Unmarshal([]byte(text), &info))
	assert.Equal(t, "App", info.Name)
	assert.Equal(t, 3, info.Types)

	result, text = h.call(t, "complete_type", map[string]any{"project": "App", "prefix": "W"})
	require.False(t, result.IsError, text)
	var entries []types.CompletionEntry
	require.NoError(t, json.Unmarshal([]byte(text), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "Widget", entries[0].Name)
	assert.Equal(t, []string{"Acme.Ui"}, entries[0].Namespaces)
	assert.Equal(t, "Window", entries[1].Name)

	_, text = h.call(t, "complete_type", map[string]any{
		"project": "App", "prefix": "W", "imported": []string{"Acme.Ui"},
	})
	assert.JSONEq(t, `[]`, text)

	result, text = h.call(t, "complete_extension", map[string]any{"project": "App", "type": "int"})
	require.False(t, result.IsError, text)
	var exts []types.ExtensionCompletion
	require.NoError(t, json.Unmarshal([]byte(text), &exts))
	require.Len(t, exts, 1)
	assert.Equal(t, "Twice", exts[0].Method)
	assert.Equal(t, []string{"Acme.Numbers"}, exts[0].Namespaces)

	_, text = h.call(t, "list_projects", map[string]any{})
	var infos []project.Info
	require.NoError(t, json.Unmarshal([]byte(text), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "App", infos[0].Name)

	result, text = h.call(t, "remove_project", map[string]any{"name": "App"})
	require.False(t, result.IsError, text)

	_, text = h.call(t, "list_projects", map[string]any{})
	assert.JSONEq(t, `[]`, text)
}

func TestToolErrors(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		tool   string
		args   map[string]any
		code   string
		reason string
	}{
		{"unknown project", "complete_type", map[string]any{"project": "Nope"}, "ProjectNotFound", "SpecifiedProjectNotFound"},
		{"missing project", "complete_extension", map[string]any{"project": "", "type": "int"}, "ArgumentMissing", "ProjectNameRequired"},
		{"missing path", "add_project", map[string]any{"path": ""}, "ArgumentMissing", "ProjectFilePathRequired"},
		{"remove unknown", "remove_project", map[string]any{"name": "Nope"}, "ProjectNotFound", "SpecifiedProjectNotFound"},
		{"malformed project", "add_project", map[string]any{"path": filepath.Join(h.dir, "Missing.csproj")}, "MalformedProjectFile", "Unreadable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, text := h.call(t, tt.tool, tt.args)
			assert.True(t, result.IsError)

			var body struct {
				Success bool   `json:"success"`
				Code    string `json:"code"`
				Reason  string `json:"reason"`
			}
			require.NoError(t, json.Unmarshal([]byte(text), &body))
			assert.False(t, body.Success)
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, tt.reason, body.Reason)
		})
	}
}
