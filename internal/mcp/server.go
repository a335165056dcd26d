// ABOUTME: MCP server exposing engine operations as tools to external agents
// ABOUTME: Streamable HTTP transport with session management plus a stdio transport

package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/agentstate/internal/engine"
)

// Supported MCP protocol versions
var supportedProtocolVersions = map[string]bool{
	"2024-11-05": true,
	"2025-03-26": true,
	"2025-11-25": true,
}

// latestProtocolVersion is the version we advertise in initialize responses
const latestProtocolVersion = "2025-11-25"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// session tracks an initialized HTTP client.
type session struct {
	id              string
	protocolVersion string
	createdAt       time.Time
}

type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*session)}
}

func (s *sessionStore) create(protocolVersion string) *session {
	sess := &session{
		id:              uuid.New().String(),
		protocolVersion: protocolVersion,
		createdAt:       time.Now(),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

func (s *sessionStore) get(id string) (*session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	return sess, ok
}

func (s *sessionStore) delete(id string) bool {
	s.mu.Lock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	return existed
}

// Config holds configuration for the MCP server.
type Config struct {
	Name    string
	Version string
	Logger  *slog.Logger
}

// Server answers MCP requests against one engine.
type Server struct {
	engine   *engine.Engine
	name     string
	version  string
	logger   *slog.Logger
	sessions *sessionStore
	tools    map[string]tool
	order    []string
}

// NewServer creates an MCP server for eng.
func NewServer(eng *engine.Engine, cfg Config) (*Server, error) {
	if eng == nil {
		return nil, errors.New("engine is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "agentstate"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		engine:   eng,
		name:     cfg.Name,
		version:  cfg.Version,
		logger:   logger.With("component", "mcp"),
		sessions: newSessionStore(),
		tools:    make(map[string]tool),
	}
	for _, t := range s.stateTools() {
		s.tools[t.info.Name] = t
		s.order = append(s.order, t.info.Name)
	}
	return s, nil
}

// ServeHTTP is the single MCP endpoint supporting POST and DELETE per the
// Streamable HTTP transport.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		// No server-initiated streams.
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleDelete terminates a session.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}
	if !s.sessions.delete(sessionID) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	s.logger.Info("MCP session terminated", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handlePost processes one JSON-RPC message sent via HTTP POST.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	protoVersion := r.Header.Get("Mcp-Protocol-Version")

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "failed to read request body")
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendJSONRPCError(w, nil, JSONRPCInvalidRequest, "request body too large")
		return
	}

	req, rpcErr := parseRequest(body)
	if rpcErr != nil {
		s.sendJSONRPCError(w, req.ID, rpcErr.Code, rpcErr.Message)
		return
	}

	isInitialize := req.Method == "initialize"
	if !isInitialize && protoVersion != "" && !supportedProtocolVersions[protoVersion] {
		http.Error(w, "Bad Request: unsupported MCP-Protocol-Version", http.StatusBadRequest)
		return
	}

	if isInitialize {
		sess := s.sessions.create(latestProtocolVersion)
		s.logger.Info("MCP session created", "session_id", sess.id)
		w.Header().Set("Mcp-Session-Id", sess.id)
	} else {
		if sessionID == "" {
			http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
			return
		}
		if _, ok := s.sessions.get(sessionID); !ok {
			// Client must re-initialize.
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
	}

	if isNotification(req) {
		s.logger.Debug("accepted MCP notification", "method", req.Method)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	result, rpcErr := s.dispatch(r.Context(), req)
	if rpcErr != nil {
		s.sendJSONRPCError(w, req.ID, rpcErr.Code, rpcErr.Message)
		return
	}
	s.sendJSONRPCResult(w, req.ID, result)
}

// ServeStdio reads newline-delimited JSON-RPC messages from in and writes responses
// to out until in is exhausted or ctx is canceled.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxRequestBodySize)
	enc := json.NewEncoder(out)

	s.logger.Info("serving MCP over stdio")
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		req, rpcErr := parseRequest([]byte(line))
		var resp JSONRPCResponse
		switch {
		case rpcErr != nil:
			resp = JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
		case isNotification(req):
			s.logger.Debug("accepted MCP notification", "method", req.Method)
			continue
		default:
			result, rpcErr := s.dispatch(ctx, req)
			resp = JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result, Error: rpcErr}
		}
		if resp.ID == nil {
			resp.ID = json.RawMessage("null")
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading requests: %w", err)
	}
	return nil
}

func parseRequest(body []byte) (JSONRPCRequest, *JSONRPCError) {
	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return JSONRPCRequest{}, &JSONRPCError{Code: JSONRPCParseError, Message: "invalid JSON"}
	}
	if req.JSONRPC != "2.0" {
		return req, &JSONRPCError{Code: JSONRPCInvalidRequest, Message: "invalid JSON-RPC version"}
	}
	if req.Method == "" {
		return req, &JSONRPCError{Code: JSONRPCInvalidRequest, Message: "method is required"}
	}
	return req, nil
}

func isNotification(req JSONRPCRequest) bool {
	return len(req.ID) == 0 || string(req.ID) == "null"
}

// dispatch routes a request to its method handler.
func (s *Server) dispatch(ctx context.Context, req JSONRPCRequest) (any, *JSONRPCError) {
	s.logger.Debug("MCP request", "method", req.Method)

	switch req.Method {
	case "initialize":
		return map[string]any{
			"protocolVersion": latestProtocolVersion,
			"capabilities": map[string]any{
				"tools":     map[string]any{},
				"resources": map[string]any{},
			},
			"serverInfo": map[string]any{
				"name":    s.name,
				"version": s.version,
			},
		}, nil
	case "ping":
		return map[string]any{}, nil
	case "tools/list":
		return s.listTools(), nil
	case "tools/call":
		return s.callTool(ctx, req.Params)
	case "resources/list":
		return s.listResources(), nil
	case "resources/read":
		return s.readResource(ctx, req.Params)
	default:
		return nil, &JSONRPCError{Code: JSONRPCMethodNotFound, Message: "method not found"}
	}
}

// sendJSONRPCResult sends a successful JSON-RPC response.
func (s *Server) sendJSONRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}

// sendJSONRPCError sends a JSON-RPC error response.
func (s *Server) sendJSONRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	if id == nil {
		id = json.RawMessage("null")
	}
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC error response", "error", err)
	}
}
