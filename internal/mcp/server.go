// Package mcp exposes the project registry as Model Context Protocol tools,
// for agents that want completions without speaking the line protocol.
package mcp

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/standardbeagle/autousing/internal/project"
	"github.com/standardbeagle/autousing/internal/version"
)

// OpenFunc opens a project file for registration
type OpenFunc func(ctx context.Context, path string) (*project.Project, error)

// Server serves completion tools over MCP
type Server struct {
	server   *mcp.Server
	registry *project.Registry
	open     OpenFunc
	logger   *zap.Logger
}

// NewServer creates the MCP server and registers its tools
func NewServer(registry *project.Registry, open OpenFunc, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "autousing",
			Version: version.Version,
		}, nil),
		registry: registry,
		open:     open,
		logger:   logger.Named("mcp"),
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	importedSchema := &jsonschema.Schema{
		Type:        "array",
		Description: "Namespaces the source file already imports; entries whose every namespace is listed are omitted",
		Items:       &jsonschema.Schema{Type: "string"},
	}

	s.server.AddTool(&mcp.Tool{
		Name:        "add_project",
		Description: "Register a C# project file and index its references. The project is addressed by its file name without extension.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"path": {
					Type:        "string",
					Description: "Path to the .csproj file",
				},
			},
			Required: []string{"path"},
		},
	}, s.handleAddProject)

	s.server.AddTool(&mcp.Tool{
		Name:        "remove_project",
		Description: "Unregister a project and stop watching its files",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"name": {
					Type:        "string",
					Description: "Project name",
				},
			},
			Required: []string{"name"},
		},
	}, s.handleRemoveProject)

	s.server.AddTool(&mcp.Tool{
		Name:        "list_projects",
		Description: "List registered projects with index status and load failures",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, s.handleListProjects)

	s.server.AddTool(&mcp.Tool{
		Name:        "complete_type",
		Description: "Complete a type name prefix (case-sensitive) and report which namespaces declare each match",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"project": {
					Type:        "string",
					Description: "Project name",
				},
				"prefix": {
					Type:        "string",
					Description: "Type name prefix; empty lists everything",
				},
				"imported": importedSchema,
			},
			Required: []string{"project"},
		},
	}, s.handleCompleteType)

	s.server.AddTool(&mcp.Tool{
		Name:        "complete_extension",
		Description: "List extension methods callable on a receiver type such as \"int\" or \"List<string>\"",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"project": {
					Type:        "string",
					Description: "Project name",
				},
				"type": {
					Type:        "string",
					Description: "Receiver type as written in source",
				},
				"imported": importedSchema,
			},
			Required: []string{"project", "type"},
		},
	}, s.handleCompleteExtension)
}

// Run serves over stdin/stdout until ctx is cancelled or the client leaves
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server starting", zap.String("version", version.Version))
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Connect serves one session over t, used by tests with in-memory transports
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}
