// Package engine routes decoded JSON-RPC requests to MCP method handlers
// and shapes every outcome into a response envelope. It holds no
// cross-request state; transports own whatever lifecycle tracking they
// need.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/factlore/wikipedia-mcp/internal/jsonrpc"
	"github.com/factlore/wikipedia-mcp/internal/logctx"
	"github.com/factlore/wikipedia-mcp/mcp"
	"github.com/factlore/wikipedia-mcp/mcpservice"
)

// Server identity advertised in initialize results and the info endpoint.
const (
	ServerName    = "wikipedia-mcp"
	ServerVersion = "1.0.0"
)

// CapabilitiesFor derives the capability set to advertise for a negotiated
// protocol revision. It is a pure lookup: same version in, same
// capabilities out. The second return is false for unsupported revisions.
func CapabilitiesFor(version string) (mcp.ServerCapabilities, bool) {
	switch version {
	case mcp.ProtocolVersion20241105:
		// Minimal set: tools only.
		return mcp.ServerCapabilities{
			Tools: &struct {
				ListChanged bool `json:"listChanged"`
			}{},
		}, true
	case mcp.ProtocolVersion20250618:
		// Extended set: list-change support plus resources/prompts
		// placeholders.
		return mcp.ServerCapabilities{
			Tools: &struct {
				ListChanged bool `json:"listChanged"`
			}{ListChanged: true},
			Resources: &struct {
				ListChanged bool `json:"listChanged"`
				Subscribe   bool `json:"subscribe"`
			}{},
			Prompts: &struct {
				ListChanged bool `json:"listChanged"`
			}{},
		}, true
	default:
		return mcp.ServerCapabilities{}, false
	}
}

// Engine dispatches MCP requests against an immutable tool registry.
type Engine struct {
	reg *mcpservice.Registry
	log *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom logger for the Engine.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// New builds an Engine over the given registry.
func New(reg *mcpservice.Registry, opts ...Option) *Engine {
	e := &Engine{reg: reg, log: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handle routes one request or notification. It returns nil for
// notifications: by protocol definition they are never answered, and
// failures while handling them are logged only. Every other outcome,
// success or failure, becomes a response envelope carrying the request's
// ID.
func (e *Engine) Handle(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	msgType := "request"
	if req.IsNotification() {
		msgType = "notification"
	}
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: req.Method,
		ID:     req.ID.String(),
		Type:   msgType,
	})

	if req.IsNotification() {
		e.handleNotification(ctx, req)
		return nil
	}

	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		return e.handleInitialize(ctx, req)
	case mcp.ToolsListMethod:
		return e.handleToolsList(ctx, req)
	case mcp.ToolsCallMethod:
		return e.handleToolsCall(ctx, req)
	default:
		e.log.InfoContext(ctx, "rpc.method.unknown")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound,
			fmt.Sprintf("method not found: %q", req.Method), nil)
	}
}

func (e *Engine) handleNotification(ctx context.Context, req *jsonrpc.Request) {
	switch mcp.Method(req.Method) {
	case mcp.InitializedNotificationMethod:
		// Pure acknowledgment from the client; nothing to act on.
		e.log.InfoContext(ctx, "rpc.initialized")
	default:
		e.log.InfoContext(ctx, "rpc.notification.unknown")
	}
}

func (e *Engine) handleInitialize(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams,
				"invalid initialize params: "+err.Error(), nil)
		}
	}

	caps, ok := CapabilitiesFor(params.ProtocolVersion)
	if !ok {
		e.log.WarnContext(ctx, "rpc.initialize.version.unsupported",
			slog.String("requested", params.ProtocolVersion))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams,
			fmt.Sprintf("unsupported protocol version %q (supported: %s)",
				params.ProtocolVersion, strings.Join(mcp.SupportedProtocolVersions, ", ")), nil)
	}

	// Client info is reported here and not retained.
	e.log.InfoContext(ctx, "rpc.initialize.ok",
		slog.String("protocol_version", params.ProtocolVersion),
		slog.String("client_name", params.ClientInfo.Name),
		slog.String("client_version", params.ClientInfo.Version))

	return e.result(req.ID, &mcp.InitializeResult{
		ProtocolVersion: params.ProtocolVersion,
		Capabilities:    caps,
		ServerInfo:      mcp.ImplementationInfo{Name: ServerName, Version: ServerVersion},
	})
}

func (e *Engine) handleToolsList(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	tools := e.reg.List()
	e.log.DebugContext(ctx, "rpc.tools.list", slog.Int("count", len(tools)))
	return e.result(req.ID, &mcp.ListToolsResult{Tools: tools})
}

func (e *Engine) handleToolsCall(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.CallToolRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams,
			"invalid tools/call params: "+err.Error(), nil)
	}
	if params.Name == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams,
			"tools/call requires a tool name", nil)
	}

	res, err := e.reg.Call(ctx, params.Name, params.Arguments)
	if err != nil {
		var bindErr *mcpservice.BindingError
		if errors.Is(err, mcpservice.ErrToolNotFound) || errors.As(err, &bindErr) {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, err.Error(), nil)
		}
		// Handler failures, upstream errors, and timeouts surface with the
		// original message preserved.
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, err.Error(), nil)
	}
	return e.result(req.ID, res)
}

func (e *Engine) result(id *jsonrpc.RequestID, v any) *jsonrpc.Response {
	resp, err := jsonrpc.NewResultResponse(id, v)
	if err != nil {
		e.log.Error("rpc.result.encode.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError,
			"failed to encode result", nil)
	}
	return resp
}
