package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/selfheal/autoheal"
)

var serveFlags struct {
	addr  string
	stdio bool
	db    string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the healer over MCP and HTTP",
	Long: `With --stdio, serves the MCP tools (autoheal_heal_html, autoheal_results,
autoheal_summary) over stdin/stdout. Otherwise listens on --addr with the
healing dashboard endpoints, /metrics and MCP over streamable HTTP at /mcp.`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.addr, "addr", "127.0.0.1:8087", "HTTP listen address")
	f.BoolVar(&serveFlags.stdio, "stdio", false, "Serve MCP over stdin/stdout instead of HTTP")
	f.StringVar(&serveFlags.db, "db", "", "Persist records to this SQLite audit database")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveFlags.db != "" {
		cfg.Report.SQLite = serveFlags.db
	}
	if serveFlags.stdio {
		// stdout carries the MCP stream.
		cfg.Report.Stdout = false
	}
	h, err := autoheal.New(cfg, autoheal.WithLogger(slog.Default()))
	if err != nil {
		return err
	}
	defer h.Close()

	srv := sdkmcp.NewServer(&sdkmcp.Implementation{Name: "autoheal", Version: version}, nil)
	h.RegisterMCP(srv)

	if serveFlags.stdio {
		slog.Info("autoheal: serving MCP over stdio")
		return srv.Run(ctx, &sdkmcp.StdioTransport{})
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/mcp", sdkmcp.NewStreamableHTTPHandler(func(*http.Request) *sdkmcp.Server { return srv }, nil))
	r.Mount("/", h.Handler())

	hs := &http.Server{
		Addr:              serveFlags.addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("autoheal: listening", "addr", serveFlags.addr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
