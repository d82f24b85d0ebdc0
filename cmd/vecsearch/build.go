package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dshills/vecsearch-mcp/internal/chunker"
	"github.com/dshills/vecsearch-mcp/internal/embedder"
	"github.com/dshills/vecsearch-mcp/internal/indexer"
	"github.com/dshills/vecsearch-mcp/pkg/types"
)

func newBuildCmd(a *app) *cobra.Command {
	var (
		indexPath string
		localDir  string
		useFTP    bool
		onError   string
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the index from the configured data source",
		Long: `Reads every Markdown document from the local directory or FTP server,
splits it into chunks, embeds the chunks and writes a fresh index file.
The previous index is replaced only when the build succeeds.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if indexPath != "" {
				cfg.Index.Path = indexPath
			}
			if localDir != "" {
				cfg.Source.LocalDir = localDir
			}
			if cmd.Flags().Changed("ftp") {
				cfg.Source.UseFTP = useFTP
			}
			if onError != "" {
				cfg.Source.OnItemError = onError
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			emb, err := embedder.New(cfg.EmbedderConfig())
			if err != nil {
				return fmt.Errorf("failed to initialize embedder: %w", err)
			}
			cache := embedder.NewCache(emb, cfg.CacheOptions())
			defer func() { _ = cache.Close() }()

			idx := indexer.New(nil, chunker.New(cfg.Index.ChunkSize), cache, a.logger)
			summary, err := idx.Build(cmd.Context(), cfg.NewSource(a.logger), indexer.BuildOptions{
				Path:      cfg.Index.Path,
				Tuning:    cfg.StorageTuning(),
				Workers:   cfg.Index.Workers,
				BatchSize: cfg.Index.BatchSize,
				Progress: func(documents, chunks int) {
					a.logger.Debug("progress", "documents", documents, "chunks", chunks)
				},
			})
			if errors.Is(err, types.ErrEmptyCorpus) {
				return fmt.Errorf("%w; the existing index was left unchanged", err)
			}
			if err != nil {
				return err
			}

			printSummary(cmd, summary)
			return nil
		},
	}

	cmd.Flags().StringVar(&indexPath, "path", "", "Override index.path")
	cmd.Flags().StringVar(&localDir, "local-dir", "", "Override source.local_dir")
	cmd.Flags().BoolVar(&useFTP, "ftp", false, "Read from the FTP server instead of the local directory")
	cmd.Flags().StringVar(&onError, "on-item-error", "", "skip or abort when a single document cannot be read")
	return cmd
}

func printSummary(cmd *cobra.Command, s *indexer.Summary) {
	st := newStyles()
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, st.title.Render("Index built"))
	fmt.Fprintf(out, "  %s %s\n", st.label.Render("path:     "), s.Path)
	fmt.Fprintf(out, "  %s %s\n", st.label.Render("documents:"), humanize.Comma(int64(s.Documents)))
	fmt.Fprintf(out, "  %s %s\n", st.label.Render("chunks:   "), humanize.Comma(int64(s.ChunksIndexed)))
	fmt.Fprintf(out, "  %s %s\n", st.label.Render("duration: "), s.Duration.Round(time.Millisecond))

	if s.Skipped > 0 {
		fmt.Fprintf(out, "  %s %d\n", st.warn.Render("skipped:  "), s.Skipped)
		for _, msg := range s.Errors {
			fmt.Fprintf(out, "    - %s\n", msg)
		}
	}
}
