package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/vecsearch-mcp/internal/config"
	"github.com/dshills/vecsearch-mcp/internal/embedder"
	"github.com/dshills/vecsearch-mcp/internal/observability"
	"github.com/dshills/vecsearch-mcp/internal/searcher"
	"github.com/dshills/vecsearch-mcp/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries what every subcommand needs once the config is loaded
type app struct {
	configPath string
	logLevel   string

	cfg     *config.Config
	logger  *slog.Logger
	tracing *observability.TracerProvider
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "vecsearch",
		Short:         "Semantic search over Markdown documents, served over MCP",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.shutdown(cmd.Context())
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default: ./vecsearch.yaml or ~/.config/vecsearch/vecsearch.yaml)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newBuildCmd(a),
		newServeCmd(a),
		newSearchCmd(a),
		newInfoCmd(a),
		newBenchCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}

	logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	tp, err := observability.InitTracing(cmd.Context(), &observability.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	a.cfg = cfg
	a.logger = logger
	a.tracing = tp
	return nil
}

func (a *app) shutdown(ctx context.Context) error {
	if a.tracing == nil {
		return nil
	}
	return a.tracing.Shutdown(context.WithoutCancel(ctx))
}

// newLogger builds the process logger. Logs always go to stderr because
// stdout carries the MCP stdio stream.
func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// newSearcher wires provider, cache and searcher from the config. Closing
// the returned cache closes the provider.
func (a *app) newSearcher() (*searcher.Searcher, *embedder.Cache, error) {
	emb, err := embedder.New(a.cfg.EmbedderConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	cache := embedder.NewCache(emb, a.cfg.CacheOptions())

	s := searcher.New(
		searcher.OpenFile(a.cfg.Index.Path, a.cfg.StorageTuning()),
		cache,
		searcher.Options{
			DefaultK:      a.cfg.Search.TopK,
			SlowEmbedding: a.cfg.Search.SlowEmbedding,
			SlowStore:     a.cfg.Search.SlowStore,
			QueryTimeout:  a.cfg.Search.QueryTimeout,
			LogTiming:     a.cfg.Search.LogTiming,
			Logger:        a.logger,
		},
	)
	return s, cache, nil
}

func newVersionCmd() *cobra.Command {
	noop := func(cmd *cobra.Command, args []string) error { return nil }
	return &cobra.Command{
		Use:                "version",
		Short:              "Print version and build information",
		PersistentPreRunE:  noop,
		PersistentPostRunE: noop,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "vecsearch %s\n", version)
			fmt.Fprintf(out, "Build Time: %s\n", buildTime)
			fmt.Fprintf(out, "Build Mode: %s\n", storage.BuildMode)
			fmt.Fprintf(out, "SQLite Driver: %s\n", storage.DriverName)
			fmt.Fprintf(out, "Vector Extension: %v\n", storage.VectorExtensionAvailable)
			fmt.Fprintf(out, "Embedding Providers: %v\n", embedder.SupportedProviders())
		},
	}
}
