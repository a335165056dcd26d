// ABOUTME: serve, mcp and config subcommands
// ABOUTME: serve runs the HTTP API, mcp speaks MCP over stdio, config prints the resolved settings

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/2389/agentstate/internal/api"
	"github.com/2389/agentstate/internal/mcp"
)

const banner = `
   __ _  __ _  ___ _ __ | |_ ___| |_ __ _| |_ ___
  / _' |/ _' |/ _ \ '_ \| __/ __| __/ _' | __/ _ \
 | (_| | (_| |  __/ | | | |_\__ \ || (_| | ||  __/
  \__,_|\__, |\___|_| |_|\__|___/\__\__,_|\__\___|
        |___/
`

func newServeCmd(flags *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: withSession(flags, func(cmd *cobra.Command, args []string, s *session) error {
			if addr != "" {
				s.cfg.Server.HTTPAddr = addr
			}

			out := s.out
			color.New(color.FgCyan).Fprint(out, banner)
			gray.Fprintf(out, "    version: %s\n\n", version)

			green.Fprint(out, "    ▶ ")
			fmt.Fprintf(out, "Backend:   %s", s.cfg.Storage.Backend)
			if s.cfg.Storage.Path != "" {
				gray.Fprintf(out, " (%s)", s.cfg.Storage.Path)
			}
			fmt.Fprintln(out)
			green.Fprint(out, "    ▶ ")
			fmt.Fprintf(out, "HTTP:      %s\n", s.cfg.Server.HTTPAddr)
			if s.cfg.Metrics.Enabled {
				green.Fprint(out, "    ▶ ")
				fmt.Fprintf(out, "Metrics:   %s\n", s.cfg.Metrics.Path)
			}
			fmt.Fprintln(out)

			srv := api.NewServer(s.engine, api.Config{
				Addr:           s.cfg.Server.HTTPAddr,
				Version:        version,
				MetricsEnabled: s.cfg.Metrics.Enabled,
				MetricsPath:    s.cfg.Metrics.Path,
				IdempotencyTTL: s.cfg.Server.IdempotencyTTL,
			}, s.logger)

			if err := srv.Run(cmd.Context()); err != nil {
				return err
			}
			s.logger.Info("server stopped")
			return nil
		}),
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.http_addr")
	return cmd
}

func newMCPCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP over stdin/stdout",
		Long:  "Serve the state tools to an MCP client that launched this process. Logs go to stderr.",
		Args:  cobra.NoArgs,
		RunE: withSession(flags, func(cmd *cobra.Command, args []string, s *session) error {
			srv, err := mcp.NewServer(s.engine, mcp.Config{Version: version, Logger: s.logger})
			if err != nil {
				return err
			}
			return srv.ServeStdio(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		}),
	}
}

func newConfigCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if cfg.Storage.Password != "" {
				cfg.Storage.Password = "********"
			}
			if cfg.Redis.Password != "" {
				cfg.Redis.Password = "********"
			}
			if flags.jsonOutput {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encoding config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
