// Warden: durable, covenant-guarded codebase memory for AI coding agents.
//
// Usage:
//
//	warden serve          # Start the MCP server (stdio transport)
//	warden config show    # Print the effective configuration
//	warden version
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/HendryAvila/warden/internal/config"
	"github.com/HendryAvila/warden/internal/server"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "warden",
		Short:         "Durable memory for AI coding agents, served over MCP",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.warden/config.yaml)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server on stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "warden %s\n", server.Version)
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	configCmd := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	configCmd.AddCommand(show)

	root.AddCommand(serve, version, configCmd)
	return root
}

// newLogger writes to stderr; stdout belongs to the MCP transport.
func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func run(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	app, err := server.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	if err := app.Start(ctx); err != nil {
		return err
	}

	if app.HTTP != nil {
		go func() {
			if err := app.HTTP.Serve(ctx, cfg.HTTPAddr); err != nil {
				logger.Error("http server stopped", "addr", cfg.HTTPAddr, "error", err)
			}
		}()
	}

	stdio := mcpserver.NewStdioServer(app.MCP)
	stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))
	err = stdio.Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
