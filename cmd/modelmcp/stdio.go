package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xscopehub/modelmcp/internal/bridge"
	"github.com/xscopehub/modelmcp/internal/config"
	applog "github.com/xscopehub/modelmcp/pkg/log"
)

func newStdioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Relay JSON-RPC lines from stdin to the HTTP endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runBridge(cmd.Context(), cfg)
		},
	}
}

func runBridge(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	level := cfg.Log.Level
	if cfg.Bridge.Debug {
		level = "debug"
	}
	// stdout carries protocol replies only.
	logger := applog.New("modelmcp-bridge", applog.Options{
		Level:  level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})

	return bridge.New(cfg.Bridge, cfg.Auth, logger).Run(ctx, os.Stdin, os.Stdout)
}
