package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danmuck/vcsrpc/internal/config"
	"github.com/danmuck/vcsrpc/internal/observability"
	"github.com/danmuck/vcsrpc/internal/protocol"
	"github.com/danmuck/vcsrpc/internal/protocol/session"
	"github.com/danmuck/vcsrpc/internal/server"
	"github.com/danmuck/vcsrpc/internal/transport"
)

type globalFlags struct {
	config   string
	addr     string
	compress bool
}

func resolveClientConfig(cmd *cobra.Command, g *globalFlags) (config.ClientConfig, error) {
	cfg := config.DefaultClientConfig()
	if g.config != "" {
		loaded, err := config.LoadClientConfig(g.config)
		if err != nil {
			return config.ClientConfig{}, err
		}
		cfg = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Addr = g.addr
	}
	if flags.Changed("compress") {
		cfg.Compress = g.compress
	}
	if err := config.ValidateClientConfig(cfg); err != nil {
		return config.ClientConfig{}, fmt.Errorf("invalid client config: %w", err)
	}
	return cfg, nil
}

// withSession dials the server, runs fn on a fresh session and releases the
// connection afterwards.
func withSession(cmd *cobra.Command, g *globalFlags, state *server.ClientState, fn func(*session.Session) error) error {
	cfg, err := resolveClientConfig(cmd, g)
	if err != nil {
		return err
	}
	logger := observability.InitLogger(cfg.Name)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	opts := cfg.Transport
	opts.Alive = transport.AliveFromContext(ctx)
	conn, err := transport.Dial(ctx, cfg.Addr, opts, cfg.Security, cfg.Backoff)
	if err != nil {
		return err
	}

	scfg := cfg.Session
	scfg.Name = cfg.Addr
	scfg.Logger = &logger
	s := session.New(conn, session.NewRegistry(state.Table()), scfg)
	defer func() {
		if err := s.ReleaseFinal(); err != nil {
			logger.Debug().Err(err).Msg("final release")
		}
		_ = s.Close()
	}()

	if cfg.Compress {
		if err := state.Run(s, "compress"); err != nil {
			return fmt.Errorf("compress: %w", err)
		}
	}
	return fn(s)
}

func callCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "call <op> [name=value | arg]...",
		Short: "Invoke an operation and print the server's messages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state := server.NewClientState(cmd.OutOrStdout())
			return withSession(cmd, g, state, func(s *session.Session) error {
				applyCallArgs(s.SendVars(), args[1:])
				return state.Run(s, args[0])
			})
		},
	}
}

// applyCallArgs turns name=value words into named variables and everything
// else into positional arguments.
func applyCallArgs(vs varSetter, words []string) {
	for _, w := range words {
		if name, value, ok := strings.Cut(w, "="); ok && name != "" {
			vs.SetString(name, value)
			continue
		}
		vs.AddArg([]byte(w))
	}
}

type varSetter interface {
	SetString(name, value string)
	AddArg(value []byte)
}

func fetchCmd(g *globalFlags) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "fetch <path>",
		Short: "Copy a file from the server root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state := server.NewClientState(cmd.OutOrStdout())
			state.Target = out
			err := withSession(cmd, g, state, func(s *session.Session) error {
				s.SetVar(protocol.VarPath, args[0])
				return state.Run(s, "fetch")
			})
			if err != nil {
				return err
			}
			if out != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d bytes\n", out, state.Written)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "local file to write (default stdout)")
	return cmd
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a client config template",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "vcsrpc.toml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteTemplate(path, "client", force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
