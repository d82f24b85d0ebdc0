package main

import (
	"github.com/spf13/cobra"

	"github.com/dshills/vecsearch-mcp/internal/config"
	"github.com/dshills/vecsearch-mcp/internal/mcp"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		transport string
		host      string
		port      int
		stateless bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search tool over MCP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			flags := cmd.Flags()
			if flags.Changed("transport") {
				cfg.Server.Transport = transport
			}
			if flags.Changed("host") {
				cfg.Server.Host = host
			}
			if flags.Changed("port") {
				cfg.Server.Port = port
			}
			if flags.Changed("stateless") {
				cfg.Server.Stateless = stateless
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			srch, cache, err := a.newSearcher()
			if err != nil {
				return err
			}
			defer func() {
				_ = srch.Close()
				_ = cache.Close()
			}()

			a.logger.Info("starting vecsearch MCP server",
				"version", version,
				"index", cfg.Index.Path,
				"provider", cache.Provider(),
				"transport", cfg.Server.Transport)

			// Warm up before the first client call; a missing index is not
			// fatal because a build may still be running
			if err := srch.Warm(cmd.Context()); err != nil {
				a.logger.Warn("warmup failed, will retry on first search", "error", err)
			}

			err = mcp.NewServer(cfg, srch, a.logger).Serve(cmd.Context())
			a.logger.Info("server stopped")
			return err
		},
	}

	cmd.Flags().StringVar(&transport, "transport", config.TransportStdio, "Transport type (stdio or streamable-http)")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "Host to bind to")
	cmd.Flags().IntVar(&port, "port", 8080, "Port to listen on for HTTP")
	cmd.Flags().BoolVar(&stateless, "stateless", false, "Run streamable HTTP in stateless mode")
	return cmd
}
