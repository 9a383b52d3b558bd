// Command wikipedia-mcp serves the Wikipedia MCP tools over stdio or HTTP.
//
// In stdio mode the process speaks newline-delimited JSON-RPC on
// stdin/stdout and logs to stderr. In http mode it listens on
// WIKIMCP_ADDR (default :5070) and exposes POST /mcp/rpc, POST /mcp,
// GET /health, and GET /info.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/factlore/wikipedia-mcp/internal/engine"
	"github.com/factlore/wikipedia-mcp/internal/logctx"
	"github.com/factlore/wikipedia-mcp/mcpservice"
	"github.com/factlore/wikipedia-mcp/stdio"
	"github.com/factlore/wikipedia-mcp/streaminghttp"
	"github.com/factlore/wikipedia-mcp/wikipedia"
)

// Config is populated from the environment.
type Config struct {
	// Mode selects the transport: "stdio" or "http".
	Mode string `env:"WIKIMCP_MODE,default=stdio"`
	// Addr is the HTTP listen address in http mode.
	Addr string `env:"WIKIMCP_ADDR,default=:5070"`
	// WikiBaseURL points at the Wikipedia API host.
	WikiBaseURL string `env:"WIKIMCP_WIKI_BASE_URL,default=https://en.wikipedia.org"`
	// ToolTimeout bounds each tool invocation.
	ToolTimeout time.Duration `env:"WIKIMCP_TOOL_TIMEOUT,default=30s"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"WIKIMCP_LOG_LEVEL,default=info"`
}

func parseLogLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "wikipedia-mcp:", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	// Logs always go to stderr: in stdio mode stdout carries protocol
	// envelopes exclusively.
	log := slog.New(logctx.Handler{
		Handler: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}),
	})
	slog.SetDefault(log)

	client := wikipedia.NewClient(
		wikipedia.WithBaseURL(cfg.WikiBaseURL),
		wikipedia.WithLogger(log),
	)
	reg := mcpservice.NewRegistry(
		mcpservice.WikipediaTools(client),
		mcpservice.WithCallTimeout(cfg.ToolTimeout),
		mcpservice.WithLogger(log),
	)
	eng := engine.New(reg, engine.WithLogger(log))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cfg.Mode {
	case "stdio":
		h := stdio.NewHandler(eng, stdio.WithLogger(log))
		return h.Serve(ctx)
	case "http":
		h := streaminghttp.New(eng, reg, streaminghttp.WithLogger(log))
		srv := &http.Server{
			Addr:              cfg.Addr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			log.Info("http.listen", slog.String("addr", cfg.Addr))
			errCh <- srv.ListenAndServe()
		}()
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}
	default:
		return fmt.Errorf("unknown mode %q (want stdio or http)", cfg.Mode)
	}
}
