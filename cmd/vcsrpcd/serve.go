package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/danmuck/vcsrpc/internal/config"
	"github.com/danmuck/vcsrpc/internal/observability"
	"github.com/danmuck/vcsrpc/internal/server"
)

type serveFlags struct {
	config     string
	listen     string
	httpListen string
	root       string
	compress   bool
}

func serveCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the RPC server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveServerConfig(cmd, f)
			if err != nil {
				return err
			}
			logger := observability.InitLogger(cfg.Name)
			observability.RegisterMetrics()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info().Str("root", cfg.Root).Bool("compress", cfg.Compress).Msg("starting")
			if err := server.New(cfg).Run(ctx); err != nil {
				return err
			}
			logger.Info().Msg("stopped")
			return nil
		},
	}
	cmd.Flags().StringVarP(&f.config, "config", "c", "", "server config file (toml)")
	cmd.Flags().StringVar(&f.listen, "listen", "", "tcp listen address")
	cmd.Flags().StringVar(&f.httpListen, "http", "", "http listen address for /rpc, /metrics and /healthz")
	cmd.Flags().StringVar(&f.root, "root", "", "directory fetch serves files from")
	cmd.Flags().BoolVar(&f.compress, "compress", false, "compress every session")
	return cmd
}

// resolveServerConfig loads the config file, if any, and applies the flags
// that were set on top of it.
func resolveServerConfig(cmd *cobra.Command, f serveFlags) (config.ServerConfig, error) {
	cfg := config.DefaultServerConfig()
	if f.config != "" {
		loaded, err := config.LoadServerConfig(f.config)
		if err != nil {
			return config.ServerConfig{}, err
		}
		cfg = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Listen = f.listen
	}
	if flags.Changed("http") {
		cfg.HTTPListen = f.httpListen
	}
	if flags.Changed("root") {
		cfg.Root = f.root
	}
	if flags.Changed("compress") {
		cfg.Compress = f.compress
	}
	if err := config.ValidateServerConfig(cfg); err != nil {
		return config.ServerConfig{}, fmt.Errorf("invalid server config: %w", err)
	}
	return cfg, nil
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a server config template",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "vcsrpcd.toml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteTemplate(path, "server", force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
