// flowcanvas runs the canvas daemon: an MCP server on stdio for agent-driven
// editing, with optional autosave and an HTTP management panel.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/GGPrompts/flowcanvas/internal/autosave"
	"github.com/GGPrompts/flowcanvas/internal/logging"
	"github.com/GGPrompts/flowcanvas/internal/panel"
	"github.com/GGPrompts/flowcanvas/internal/query"
	"github.com/GGPrompts/flowcanvas/internal/session"
	"github.com/GGPrompts/flowcanvas/internal/store"
	"github.com/GGPrompts/flowcanvas/internal/streaming"
	"github.com/GGPrompts/flowcanvas/internal/validation"
	"github.com/GGPrompts/flowcanvas/pkg/mcp"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		printVersion()
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "flowcanvas: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	db, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	validator, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return fmt.Errorf("compile schemas: %w", err)
	}

	hub := streaming.NewMemoryHub()
	canvases := session.NewRegistry()

	srv := mcp.NewCanvasServer(mcp.CanvasServerDeps{
		Store:     db,
		Canvases:  canvases,
		Validator: validator,
		Query:     query.NewEngine(),
		Hub:       hub,
		Logger:    logger,
	})

	// Relay editor events to MCP clients watching each graph.
	go func() {
		if fwdErr := srv.Notifier().Forward(ctx, hub); fwdErr != nil && !errors.Is(fwdErr, context.Canceled) {
			logger.Error("notifier stopped", slog.Any("error", fwdErr))
		}
	}()

	var saver *autosave.Autosaver
	if cfg.Autosave != "" {
		saver = autosave.New(canvases, db, cfg.Autosave, logger)
		if err := saver.Start(ctx); err != nil {
			return fmt.Errorf("autosave: %w", err)
		}
		defer saver.Stop()
	}

	if cfg.Panel {
		panelSrv := panel.NewPanelServer(panel.PanelDeps{
			Store:    db,
			Canvases: canvases,
			Hub:      hub,
			Logger:   logger,
		})
		httpSrv := &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           panelSrv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("panel listening", slog.String("addr", cfg.ListenAddr))
			if serveErr := httpSrv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				logger.Error("panel server failed", slog.Any("error", serveErr))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("flowcanvas ready",
		slog.String("db", cfg.DBPath),
		slog.Bool("panel", cfg.Panel),
		slog.String("autosave", cfg.Autosave))

	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// newLogger builds the process logger: text to stderr (stdout carries the
// MCP transport) with correlation IDs injected from contexts.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(handler))
}
