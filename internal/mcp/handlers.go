package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	autoerrors "github.com/standardbeagle/autousing/internal/errors"
	"github.com/standardbeagle/autousing/internal/project"
	"github.com/standardbeagle/autousing/internal/types"
)

type addProjectParams struct {
	Path string `json:"path"`
}

type removeProjectParams struct {
	Name string `json:"name"`
}

type completeTypeParams struct {
	Project  string   `json:"project"`
	Prefix   string   `json:"prefix"`
	Imported []string `json:"imported"`
}

type completeExtensionParams struct {
	Project  string   `json:"project"`
	Type     string   `json:"type"`
	Imported []string `json:"imported"`
}

func decodeParams(op string, req *mcp.CallToolRequest, v any) error {
	raw := req.Params.Arguments
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return autoerrors.New(autoerrors.CodeMalformedRequest, op, err).
			WithReason(autoerrors.ReasonInvalidArguments)
	}
	return nil
}

func (s *Server) handleAddProject(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params addProjectParams
	if err := decodeParams("add_project", req, &params); err != nil {
		return createErrorResponse("add_project", err)
	}
	if params.Path == "" {
		return createErrorResponse("add_project",
			autoerrors.ArgumentMissing("add_project", autoerrors.ReasonProjectFilePathRequired))
	}

	p, err := s.open(ctx, params.Path)
	if err != nil {
		s.logger.Warn("add_project failed", zap.String("path", params.Path), zap.Error(err))
		return createErrorResponse("add_project", err)
	}
	s.registry.Add(p)
	return createJSONResponse(p.Info())
}

func (s *Server) handleRemoveProject(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params removeProjectParams
	if err := decodeParams("remove_project", req, &params); err != nil {
		return createErrorResponse("remove_project", err)
	}
	if params.Name == "" {
		return createErrorResponse("remove_project",
			autoerrors.ArgumentMissing("remove_project", autoerrors.ReasonProjectNameRequired))
	}
	if !s.registry.RemoveByName(params.Name) {
		return createErrorResponse("remove_project", autoerrors.ProjectNotFound("remove_project", params.Name))
	}
	return createJSONResponse(map[string]any{"success": true, "removed": params.Name})
}

func (s *Server) handleListProjects(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects := s.registry.List()
	infos := make([]project.Info, len(projects))
	for i, p := range projects {
		infos[i] = p.Info()
	}
	return createJSONResponse(infos)
}

func (s *Server) find(op, name string) (*project.Project, error) {
	if name == "" {
		return nil, autoerrors.ArgumentMissing(op, autoerrors.ReasonProjectNameRequired)
	}
	p, ok := s.registry.Find(name)
	if !ok {
		return nil, autoerrors.ProjectNotFound(op, name)
	}
	return p, nil
}

func (s *Server) handleCompleteType(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params completeTypeParams
	if err := decodeParams("complete_type", req, &params); err != nil {
		return createErrorResponse("complete_type", err)
	}
	p, err := s.find("complete_type", params.Project)
	if err != nil {
		return createErrorResponse("complete_type", err)
	}
	return createJSONResponse(p.Query(params.Prefix, types.NewNamespaceSet(params.Imported...)))
}

func (s *Server) handleCompleteExtension(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params completeExtensionParams
	if err := decodeParams("complete_extension", req, &params); err != nil {
		return createErrorResponse("complete_extension", err)
	}
	p, err := s.find("complete_extension", params.Project)
	if err != nil {
		return createErrorResponse("complete_extension", err)
	}
	return createJSONResponse(p.Extensions(params.Type, types.NewNamespaceSet(params.Imported...)))
}
