package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	mcpadapter "github.com/kirillkom/policy-copilot/internal/adapters/mcp"
	"github.com/kirillkom/policy-copilot/internal/bootstrap"
	"github.com/kirillkom/policy-copilot/internal/config"
	"github.com/kirillkom/policy-copilot/internal/observability/logging"
)

const (
	serviceName = "policy-mcp"
	version     = "0.1.0"
)

func main() {
	cfg, err := config.LoadWithDotEnv()
	if err != nil {
		slog.Error("config_load_failed", "error", err.Error())
		os.Exit(1)
	}
	slog.SetDefault(logging.NewJSONLoggerTo(os.Stderr, serviceName, cfg.LogLevel))

	app, err := bootstrap.New(context.Background(), cfg, serviceName)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err.Error())
		os.Exit(1)
	}
	defer app.Close()

	if err := server.ServeStdio(mcpadapter.NewServer("policy-copilot", version, app.Search)); err != nil {
		slog.Error("mcp_server_failed", "error", err.Error())
	}
}
