package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/factlore/wikipedia-mcp/internal/engine"
	"github.com/factlore/wikipedia-mcp/internal/jsonrpc"
	"github.com/factlore/wikipedia-mcp/mcp"
)

// maxLineBytes bounds a single inbound JSON-RPC line.
const maxLineBytes = 4 * 1024 * 1024

// Handler is a single-connection stdio transport. It reads one JSON object
// per line from its reader, dispatches it, and writes one JSON object per
// line to its writer. Processing is strictly sequential: a request
// completes, including any awaited upstream call, before the next line is
// read, so responses are emitted in request order.
type Handler struct {
	eng *engine.Engine
	r   io.Reader
	w   io.Writer
	log *slog.Logger

	// initialized tracks the connection lifecycle for logging. tools/list
	// and tools/call are deliberately permitted before initialize.
	initialized bool
}

// NewHandler constructs a stdio Handler bound to os.Stdin/os.Stdout and
// applies options.
func NewHandler(eng *engine.Engine, opts ...Option) *Handler {
	h := &Handler{
		eng: eng,
		r:   os.Stdin,
		w:   os.Stdout,
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve runs the read/dispatch/write loop until EOF on the reader or the
// context is canceled. It is safe to call at most once per Handler.
func (h *Handler) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(h.r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	h.log.InfoContext(ctx, "stdio.serve.start")
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := h.handleLine(ctx, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		h.log.WarnContext(ctx, "stdio.read.fail", slog.String("err", err.Error()))
		return fmt.Errorf("read stdin: %w", err)
	}
	h.log.InfoContext(ctx, "stdio.serve.eof")
	return nil
}

func (h *Handler) handleLine(ctx context.Context, line []byte) error {
	msg, err := jsonrpc.DecodeMessage(line)
	if err != nil {
		h.log.WarnContext(ctx, "stdio.decode.fail", slog.String("err", err.Error()))
		return h.writeResponse(jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError,
			"parse error: "+err.Error(), nil))
	}

	req := msg.AsRequest()
	if req == nil {
		// A client-sent response; this server never issues requests, so
		// there is nothing to correlate it with.
		h.log.WarnContext(ctx, "stdio.response.unexpected")
		return nil
	}

	if !h.initialized && !req.IsNotification() {
		switch mcp.Method(req.Method) {
		case mcp.InitializeMethod:
		default:
			// Permissive policy: serve the request anyway.
			h.log.DebugContext(ctx, "stdio.request.preinit", slog.String("method", req.Method))
		}
	}

	resp := h.eng.Handle(ctx, req)
	if resp == nil {
		// Notification: suppress output entirely.
		return nil
	}

	if mcp.Method(req.Method) == mcp.InitializeMethod && resp.Error == nil {
		h.initialized = true
	}
	return h.writeResponse(resp)
}

// writeResponse encodes one envelope followed by a newline. Write failures
// tear down the connection; there is no way to report them in-band.
func (h *Handler) writeResponse(resp *jsonrpc.Response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	if _, err := h.w.Write(append(body, '\n')); err != nil {
		return fmt.Errorf("write stdout: %w", err)
	}
	return nil
}
