package streaminghttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/factlore/wikipedia-mcp/internal/engine"
	"github.com/factlore/wikipedia-mcp/internal/jsonrpc"
	"github.com/factlore/wikipedia-mcp/internal/logctx"
	"github.com/factlore/wikipedia-mcp/mcp"
	"github.com/factlore/wikipedia-mcp/mcpservice"
)

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
	// Server preference order for /mcp responses: plain JSON unless the
	// client only accepts an event stream.
	acceptableMediaTypes = []contenttype.MediaType{jsonMediaType, eventStreamMediaType}
)

const mcpProtocolVersionHeader = "MCP-Protocol-Version"

// writeJSONError emits a minimal JSON body for transport-level rejections
// where no JSON-RPC exchange is possible (unreadable body, wrong media
// type). Protocol-level failures never come through here; they ride a 200
// with an error envelope.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Handler is the HTTP front door. It owns a mux with the two MCP endpoints
// plus health and info.
type Handler struct {
	mux *http.ServeMux
	eng *engine.Engine
	reg *mcpservice.Registry
	log *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the slog logger used by the handler.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// New constructs the HTTP handler over the given engine and registry.
func New(eng *engine.Engine, reg *mcpservice.Registry, opts ...Option) *Handler {
	h := &Handler{
		mux: http.NewServeMux(),
		eng: eng,
		reg: reg,
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.mux.HandleFunc("POST /mcp/rpc", h.handleRPC)
	h.mux.HandleFunc("POST /mcp", h.handleMCP)
	h.mux.HandleFunc("GET /mcp", func(w http.ResponseWriter, r *http.Request) {
		// No standalone server-push channel: there is no session to
		// deliver to between calls.
		writeJSONError(w, http.StatusMethodNotAllowed, "GET is not supported; POST JSON-RPC messages")
	})
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /info", h.handleInfo)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	h.mux.ServeHTTP(w, r.WithContext(ctx))
}

// handleRPC is the simple mode: one JSON body in, one JSON body out.
func (h *Handler) handleRPC(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	h.log.InfoContext(ctx, "http.rpc.start")

	resp, notification, ok := h.dispatch(ctx, w, r)
	if !ok {
		return
	}
	if notification {
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "http.rpc.accepted", slog.Duration("dur", time.Since(start)))
		return
	}
	h.writeJSONResponse(ctx, w, resp)
	h.log.InfoContext(ctx, "http.rpc.ok", slog.Duration("dur", time.Since(start)))
}

// handleMCP is the streaming-capable endpoint. The dispatch outcome is the
// same as simple mode; only the framing differs.
func (h *Handler) handleMCP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	h.log.InfoContext(ctx, "http.mcp.start")

	accepted, _, err := contenttype.GetAcceptableMediaType(r, acceptableMediaTypes)
	if err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "accept must include application/json or text/event-stream")
		h.log.WarnContext(ctx, "http.mcp.accept.unsupported", slog.String("err", err.Error()))
		return
	}

	resp, notification, ok := h.dispatch(ctx, w, r)
	if !ok {
		return
	}
	if notification {
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "http.mcp.accepted", slog.Duration("dur", time.Since(start)))
		return
	}

	if accepted.Matches(eventStreamMediaType) {
		h.writeSSEResponse(ctx, w, resp)
	} else {
		h.writeJSONResponse(ctx, w, resp)
	}
	h.log.InfoContext(ctx, "http.mcp.ok", slog.Duration("dur", time.Since(start)))
}

// dispatch decodes one envelope from the request body and routes it. The
// third return is false when the transport-level reply has already been
// written. A true notification return means no envelope should be emitted.
func (h *Handler) dispatch(ctx context.Context, w http.ResponseWriter, r *http.Request) (*jsonrpc.Response, bool, bool) {
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "http.content_type.unsupported")
		return nil, false, false
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		h.log.WarnContext(ctx, "http.body.read.fail", slog.String("err", err.Error()))
		return nil, false, false
	}

	msg, err := jsonrpc.DecodeMessage(body)
	if err != nil {
		// Malformed JSON is protocol-level: the error is data, not status.
		h.log.WarnContext(ctx, "http.decode.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError,
			"parse error: "+err.Error(), nil), false, true
	}

	req := msg.AsRequest()
	if req == nil {
		// Client-sent response: acknowledged, never answered.
		h.log.InfoContext(ctx, "http.response.ignored")
		return nil, true, true
	}

	// The header form of the protocol version is advisory; on initialize
	// the body-declared version wins.
	if v := r.Header.Get(mcpProtocolVersionHeader); v != "" && mcp.IsSupportedProtocolVersion(v) {
		w.Header().Set(mcpProtocolVersionHeader, v)
	}

	resp := h.eng.Handle(ctx, req)
	if resp == nil {
		return nil, true, true
	}

	if mcp.Method(req.Method) == mcp.InitializeMethod && resp.Error == nil {
		var initRes mcp.InitializeResult
		if err := json.Unmarshal(resp.Result, &initRes); err == nil {
			w.Header().Set(mcpProtocolVersionHeader, initRes.ProtocolVersion)
		}
	}
	return resp, false, true
}

func (h *Handler) writeJSONResponse(ctx context.Context, w http.ResponseWriter, resp *jsonrpc.Response) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.ErrorContext(ctx, "http.response.write.fail", slog.String("err", err.Error()))
	}
}

// writeSSEResponse frames the dispatch outcome as a server-sent event
// stream carrying a single message event.
func (h *Handler) writeSSEResponse(ctx context.Context, w http.ResponseWriter, resp *jsonrpc.Response) {
	f, ok := w.(http.Flusher)
	if !ok {
		h.log.ErrorContext(ctx, "http.sse.flusher.missing")
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported by server")
		return
	}

	body, err := json.Marshal(resp)
	if err != nil {
		h.log.ErrorContext(ctx, "http.sse.encode.fail", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	if err := writeSSEEvent(w, uuid.NewString(), "message", body); err != nil {
		h.log.WarnContext(ctx, "http.sse.write.fail", slog.String("err", err.Error()))
		return
	}
	f.Flush()
}

// writeSSEEvent writes one id/event/data frame.
func writeSSEEvent(w io.Writer, id, event string, payload []byte) error {
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return fmt.Errorf("write SSE id: %w", err)
		}
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return fmt.Errorf("write SSE event type: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write SSE data: %w", err)
	}
	return nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	tools := h.reg.List()
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	_ = json.NewEncoder(w).Encode(map[string]any{
		"name":             engine.ServerName,
		"version":          engine.ServerVersion,
		"protocolVersions": mcp.SupportedProtocolVersions,
		"tools":            names,
	})
}
