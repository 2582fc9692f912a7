// Command devmirror renders one page on several emulated devices, mirrors
// scroll and click across them and saves stitched full-page screenshots.
//
// Usage:
//
//	devmirror -config devmirror.yaml           # devices, sinks and bus from YAML
//	devmirror -url https://example.com         # default devices, ~/Desktop folder
//	devmirror -url https://example.com -mcp    # expose tools over MCP stdio
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/devmirror"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to devmirror.yaml config file")
	url := flag.String("url", "", "URL to load on every device (overrides config)")
	httpAddr := flag.String("http", "", "control API listen address, e.g. :8420 (overrides config)")
	serveMCP := flag.Bool("mcp", false, "serve MCP tools on stdin/stdout")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(*configPath, *url, *httpAddr)
	if err != nil {
		logger.Error("devmirror: config", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, logger, cfg, *serveMCP); err != nil {
		logger.Error("devmirror: fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path, url, httpAddr string) (*devmirror.Config, error) {
	var cfg *devmirror.Config
	if path != "" {
		c, err := devmirror.LoadConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	} else {
		cfg = devmirror.DefaultConfig()
	}
	if url != "" {
		cfg.URL = url
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if cfg.URL == "" && path == "" {
		return nil, errors.New("usage: devmirror -config <file> | -url <url>")
	}
	return cfg, nil
}

func run(ctx context.Context, logger *slog.Logger, cfg *devmirror.Config, serveMCP bool) error {
	host := devmirror.New(cfg, logger)
	if err := host.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer host.Stop()

	var srv *http.Server
	if cfg.HTTP.Addr != "" {
		srv = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           host.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      5 * time.Minute,
			IdleTimeout:       60 * time.Second,
		}
		go func() {
			logger.Info("devmirror: control API listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("devmirror: http server", "error", err)
			}
		}()
	}

	if serveMCP {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "devmirror", Version: version}, nil)
		host.RegisterMCP(mcpSrv)
		go func() {
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("devmirror: mcp server", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("devmirror: shutting down")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("devmirror: shutdown", "error", err)
		}
	}
	return nil
}
