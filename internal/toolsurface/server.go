package toolsurface

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/paigeai/paige/internal/observability"
)

const protocolVersion = "2024-11-05"

// Server speaks line-delimited JSON-RPC 2.0 over a byte stream, exposing
// the registry to an external AI host. One instance serves one stream,
// typically stdin/stdout.
type Server struct {
	registry *Registry
	logger   *observability.Logger
	version  string

	writeMu sync.Mutex
	out     io.Writer
}

// NewServer creates a server over the given stream pair.
func NewServer(registry *Registry, out io.Writer, logger *observability.Logger, version string) *Server {
	return &Server{
		registry: registry,
		logger:   logger,
		version:  version,
		out:      out,
	}
}

// Serve reads newline-delimited requests until EOF or context cancellation.
// Malformed lines produce error responses; they never kill the loop.
func (s *Server) Serve(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req jsonrpcRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			s.respondError(nil, errCodeParseError, "parse error")
			continue
		}
		if req.JSONRPC != "2.0" {
			s.respondError(req.ID, errCodeInvalidRequest, "unsupported jsonrpc version")
			continue
		}
		s.handle(ctx, req)
	}
	return scanner.Err()
}

func (s *Server) handle(ctx context.Context, req jsonrpcRequest) {
	switch req.Method {
	case "initialize":
		s.respond(req.ID, initializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities:    map[string]any{"tools": map[string]any{}},
			ServerInfo:      serverInfo{Name: "paige", Version: s.version},
		})

	case "notifications/initialized":
		// Notification; no response.

	case "tools/list":
		s.respond(req.ID, listToolsResult{Tools: s.registry.Descriptors()})

	case "tools/call":
		var params callToolParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.respondError(req.ID, errCodeInvalidParams, "invalid tools/call params")
			return
		}
		s.callTool(ctx, req.ID, params)

	case "ping":
		s.respond(req.ID, map[string]any{})

	default:
		s.respondError(req.ID, errCodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (s *Server) callTool(ctx context.Context, id any, params callToolParams) {
	names := s.registry.Names()
	known := false
	for _, name := range names {
		if name == params.Name {
			known = true
			break
		}
	}
	if !known {
		s.respondError(id, errCodeToolNotFound, fmt.Sprintf("unknown tool %q", params.Name))
		return
	}

	result, err := s.registry.Call(ctx, params.Name, params.Arguments)
	if err != nil {
		// Tool execution errors ride in the result payload so the host can
		// show them to the model instead of failing the RPC.
		s.respond(id, callToolResult{
			Content: []toolResultContent{{Type: "text", Text: err.Error()}},
			IsError: true,
		})
		return
	}

	text, err := renderResult(result)
	if err != nil {
		s.respondError(id, errCodeInternalError, err.Error())
		return
	}
	s.respond(id, callToolResult{
		Content: []toolResultContent{{Type: "text", Text: text}},
	})
}

func renderResult(result any) (string, error) {
	switch v := result.(type) {
	case nil:
		return "null", nil
	case string:
		return v, nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode tool result: %w", err)
		}
		return string(encoded), nil
	}
}

func (s *Server) respond(id any, result any) {
	s.write(jsonrpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) respondError(id any, code int, message string) {
	s.write(jsonrpcResponse{JSONRPC: "2.0", ID: id, Error: &jsonrpcError{Code: code, Message: message}})
}

func (s *Server) write(resp jsonrpcResponse) {
	encoded, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error(context.Background(), "encode rpc response", "error", err)
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(append(encoded, '\n')); err != nil {
		s.logger.Error(context.Background(), "write rpc response", "error", err)
	}
}
