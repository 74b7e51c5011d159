package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "vcsrpc: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "vcsrpc",
		Short:         "Call operations on a vcsrpcd server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&g.config, "config", "c", "", "client config file (toml)")
	rootCmd.PersistentFlags().StringVar(&g.addr, "addr", "", "server address (tcp://, tls:// or ws://)")
	rootCmd.PersistentFlags().BoolVar(&g.compress, "compress", false, "ask the server to compress the link")
	rootCmd.AddCommand(callCmd(g), fetchCmd(g), initCmd())
	return rootCmd
}
