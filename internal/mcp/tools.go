// ABOUTME: Tool and resource definitions mapping MCP calls onto engine operations
// ABOUTME: Tool failures are reported in the result with isError, not as protocol errors

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ToolInfo represents an MCP tool definition.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ListToolsResult is the result for tools/list.
type ListToolsResult struct {
	Tools []ToolInfo `json:"tools"`
}

// CallToolParams are the params for tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the result for tools/call.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content represents content in a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// errInvalidArguments marks arguments that do not decode into the tool's input.
var errInvalidArguments = errors.New("invalid arguments")

type tool struct {
	info ToolInfo
	call func(ctx context.Context, args json.RawMessage) (any, error)
}

// newTool builds a tool whose arguments decode into In.
func newTool[In any](name, description, schema string, fn func(ctx context.Context, in In) (any, error)) tool {
	return tool{
		info: ToolInfo{Name: name, Description: description, InputSchema: json.RawMessage(schema)},
		call: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in In
			if len(args) > 0 && string(args) != "null" {
				dec := json.NewDecoder(bytes.NewReader(args))
				dec.DisallowUnknownFields()
				if err := dec.Decode(&in); err != nil {
					return nil, fmt.Errorf("%w: %w", errInvalidArguments, err)
				}
			}
			return fn(ctx, in)
		},
	}
}

const noArgsSchema = `{"type": "object", "properties": {}}`

type createPlanArgs struct {
	Goal   string   `json:"goal"`
	Phases []string `json:"phases"`
}

type phaseArgs struct {
	PhaseName string `json:"phase_name"`
	Reason    string `json:"reason"`
}

type noteArgs struct {
	Content string `json:"content"`
	Section string `json:"section"`
}

type sectionArgs struct {
	Section string `json:"section"`
}

type decisionArgs struct {
	Decision  string `json:"decision"`
	Rationale string `json:"rationale"`
}

type errorArgs struct {
	Error      string `json:"error"`
	Resolution string `json:"resolution"`
}

type historyArgs struct {
	Limit int `json:"limit"`
}

type rollbackArgs struct {
	Version int64 `json:"version"`
}

type none struct{}

func (s *Server) stateTools() []tool {
	e := s.engine
	return []tool{
		newTool("create_plan", "Create a new task plan with phases, replacing any existing plan",
			`{"type": "object", "properties": {
				"goal": {"type": "string", "description": "The main goal of the task"},
				"phases": {"type": "array", "items": {"type": "string"}, "description": "Phase names, in order"}
			}, "required": ["goal"]}`,
			func(ctx context.Context, in createPlanArgs) (any, error) {
				return e.CreatePlan(ctx, in.Goal, in.Phases)
			}),
		newTool("start_phase", "Start a phase of the current plan",
			`{"type": "object", "properties": {
				"phase_name": {"type": "string", "description": "Name of the phase to start"}
			}, "required": ["phase_name"]}`,
			func(ctx context.Context, in phaseArgs) (any, error) {
				return e.StartPhase(ctx, in.PhaseName)
			}),
		newTool("complete_phase", "Complete a phase of the current plan",
			`{"type": "object", "properties": {
				"phase_name": {"type": "string", "description": "Name of the phase to complete"}
			}, "required": ["phase_name"]}`,
			func(ctx context.Context, in phaseArgs) (any, error) {
				return e.CompletePhase(ctx, in.PhaseName)
			}),
		newTool("fail_phase", "Mark a phase of the current plan as failed",
			`{"type": "object", "properties": {
				"phase_name": {"type": "string", "description": "Name of the phase that failed"},
				"reason": {"type": "string", "description": "Why it failed"}
			}, "required": ["phase_name"]}`,
			func(ctx context.Context, in phaseArgs) (any, error) {
				return e.FailPhase(ctx, in.PhaseName, in.Reason)
			}),
		newTool("get_status", "Get the current plan, progress and entry counts", noArgsSchema,
			func(ctx context.Context, _ none) (any, error) {
				return e.Status(ctx)
			}),
		newTool("add_note", "Add a note to the agent state",
			`{"type": "object", "properties": {
				"content": {"type": "string", "description": "The note content"},
				"section": {"type": "string", "description": "Optional section for the note"}
			}, "required": ["content"]}`,
			func(ctx context.Context, in noteArgs) (any, error) {
				return e.AddNote(ctx, in.Content, in.Section)
			}),
		newTool("get_notes", "Get all notes, optionally filtered by section",
			`{"type": "object", "properties": {
				"section": {"type": "string", "description": "Filter by section"}
			}}`,
			func(ctx context.Context, in sectionArgs) (any, error) {
				return e.Notes(ctx, in.Section)
			}),
		newTool("add_decision", "Record a key decision with rationale",
			`{"type": "object", "properties": {
				"decision": {"type": "string", "description": "The decision made"},
				"rationale": {"type": "string", "description": "Why this decision was made"}
			}, "required": ["decision", "rationale"]}`,
			func(ctx context.Context, in decisionArgs) (any, error) {
				return e.AddDecision(ctx, in.Decision, in.Rationale)
			}),
		newTool("get_decisions", "Get all recorded decisions", noArgsSchema,
			func(ctx context.Context, _ none) (any, error) {
				return e.Decisions(ctx)
			}),
		newTool("log_error", "Log an error with optional resolution",
			`{"type": "object", "properties": {
				"error": {"type": "string", "description": "The error message"},
				"resolution": {"type": "string", "description": "How the error was resolved"}
			}, "required": ["error"]}`,
			func(ctx context.Context, in errorArgs) (any, error) {
				return e.LogError(ctx, in.Error, in.Resolution)
			}),
		newTool("get_errors", "Get all logged errors", noArgsSchema,
			func(ctx context.Context, _ none) (any, error) {
				return e.Errors(ctx)
			}),
		newTool("get_history", "List saved state versions, newest first",
			`{"type": "object", "properties": {
				"limit": {"type": "integer", "minimum": 1, "description": "Maximum number of versions"}
			}}`,
			func(ctx context.Context, in historyArgs) (any, error) {
				return e.History(ctx, in.Limit)
			}),
		newTool("rollback", "Restore a saved state version",
			`{"type": "object", "properties": {
				"version": {"type": "integer", "minimum": 1, "description": "Version to restore"}
			}, "required": ["version"]}`,
			func(ctx context.Context, in rollbackArgs) (any, error) {
				return e.Rollback(ctx, in.Version)
			}),
	}
}

func (s *Server) listTools() ListToolsResult {
	result := ListToolsResult{Tools: make([]ToolInfo, 0, len(s.order))}
	for _, name := range s.order {
		result.Tools = append(result.Tools, s.tools[name].info)
	}
	return result
}

// callTool handles tools/call.
func (s *Server) callTool(ctx context.Context, raw json.RawMessage) (any, *JSONRPCError) {
	var params CallToolParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, &JSONRPCError{Code: JSONRPCInvalidParams, Message: "invalid params"}
		}
	}
	if params.Name == "" {
		return nil, &JSONRPCError{Code: JSONRPCInvalidParams, Message: "tool name is required"}
	}
	t, ok := s.tools[params.Name]
	if !ok {
		return nil, &JSONRPCError{Code: JSONRPCInvalidParams, Message: "tool not found"}
	}

	out, err := t.call(ctx, params.Arguments)
	switch {
	case errors.Is(err, errInvalidArguments):
		return nil, &JSONRPCError{Code: JSONRPCInvalidParams, Message: err.Error()}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, &JSONRPCError{Code: JSONRPCInternalError, Message: "request cancelled"}
	case err != nil:
		s.logger.Warn("tool call failed", "tool_name", params.Name, "error", err)
		return CallToolResult{
			Content: []Content{{Type: "text", Text: err.Error()}},
			IsError: true,
		}, nil
	}

	text, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, &JSONRPCError{Code: JSONRPCInternalError, Message: "encoding tool result"}
	}
	s.logger.Debug("tools/call complete", "tool_name", params.Name)
	return CallToolResult{Content: []Content{{Type: "text", Text: string(text)}}}, nil
}

// Resource is an MCP resource descriptor.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceContents is one entry of a resources/read result.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

const statusURI = "agentstate://status"

func (s *Server) listResources() map[string]any {
	return map[string]any{
		"resources": []Resource{{
			URI:         statusURI,
			Name:        "Agent Status",
			Description: "Current plan, progress and entry counts",
			MimeType:    "application/json",
		}},
	}
}

func (s *Server) readResource(ctx context.Context, raw json.RawMessage) (any, *JSONRPCError) {
	var params struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(raw, &params); err != nil || params.URI == "" {
		return nil, &JSONRPCError{Code: JSONRPCInvalidParams, Message: "uri is required"}
	}
	if params.URI != statusURI {
		return nil, &JSONRPCError{Code: JSONRPCInvalidParams, Message: "resource not found"}
	}

	st, err := s.engine.Status(ctx)
	if err != nil {
		s.logger.Warn("reading status resource", "error", err)
		return nil, &JSONRPCError{Code: JSONRPCInternalError, Message: "reading status failed"}
	}
	text, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, &JSONRPCError{Code: JSONRPCInternalError, Message: "encoding status"}
	}
	return map[string]any{
		"contents": []ResourceContents{{URI: statusURI, MimeType: "application/json", Text: string(text)}},
	}, nil
}
