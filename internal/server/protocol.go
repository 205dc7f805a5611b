package server

import (
	"bytes"
	"encoding/json"
	"strings"

	autoerrors "github.com/standardbeagle/autousing/internal/errors"
)

// Response types
const (
	TypeSuccess = "Success"
	TypeError   = "Error"
)

// Command names as callers send them. Matching is case-insensitive.
const (
	CommandPing                    = "Ping"
	CommandAddProject              = "AddProject"
	CommandRemoveProject           = "RemoveProject"
	CommandGetAllCompletions       = "GetAllCompletions"
	CommandGetCompletions          = "GetCompletions"
	CommandGetExtensionCompletions = "GetExtensionCompletions"
	CommandListProjects            = "ListProjects"
	CommandGetProjectStatus        = "GetProjectStatus"
)

// Request is one inbound frame: {"Command":"AddProject","Arguments":"App.csproj"}
type Request struct {
	Command   string          `json:"Command"`
	Arguments json.RawMessage `json:"Arguments,omitempty"`
}

// Argument returns the argument payload. The protocol sends a string;
// a bare JSON object is accepted too and returned as its text.
func (r Request) Argument() (string, error) {
	raw := bytes.TrimSpace(r.Arguments)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] != '"' {
		return string(raw), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return s, nil
}

// Response is one outbound frame. Error bodies are always an error code.
type Response struct {
	Type   string `json:"Type"`
	Body   any    `json:"Body"`
	Reason string `json:"Reason,omitempty"`
}

func success(body any) Response {
	return Response{Type: TypeSuccess, Body: body}
}

// failure converts err into an Error frame. Errors without a code are
// reported as InternalError and their text is never sent.
func failure(err error) Response {
	code := autoerrors.CodeOf(err)
	resp := Response{Type: TypeError, Body: string(code)}
	if code != autoerrors.CodeInternalError {
		resp.Reason = autoerrors.ReasonOf(err)
	}
	return resp
}

// CompletionsArgs is the argument of GetCompletions
type CompletionsArgs struct {
	Project  string   `json:"project"`
	Prefix   string   `json:"prefix"`
	Imported []string `json:"imported"`
}

// ExtensionArgs is the argument of GetExtensionCompletions
type ExtensionArgs struct {
	Project  string   `json:"project"`
	Type     string   `json:"type"`
	Imported []string `json:"imported"`
}

func decodeArgs(op, arg string, v any) error {
	dec := json.NewDecoder(strings.NewReader(arg))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return autoerrors.New(autoerrors.CodeMalformedRequest, op, err).
			WithReason(autoerrors.ReasonInvalidArguments)
	}
	return nil
}
