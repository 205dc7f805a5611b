package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	autoerrors "github.com/standardbeagle/autousing/internal/errors"
)

// createJSONResponse creates a standardized JSON response for MCP tools
func createJSONResponse(data any) (*mcp.CallToolResult, error) {
	content, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response data: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(content)},
		},
	}, nil
}

// createErrorResponse reports a tool failure by its stable code. Internal
// faults carry no message.
func createErrorResponse(operation string, err error) (*mcp.CallToolResult, error) {
	code := autoerrors.CodeOf(err)
	errorData := map[string]any{
		"success":   false,
		"code":      string(code),
		"operation": operation,
	}
	if reason := autoerrors.ReasonOf(err); reason != "" && code != autoerrors.CodeInternalError {
		errorData["reason"] = reason
	}

	response, marshalErr := createJSONResponse(errorData)
	if marshalErr != nil {
		return nil, marshalErr
	}

	// Tool errors belong in the result with IsError set, not in the
	// protocol error, so the client model can see them
	response.IsError = true
	return response, nil
}
