package main

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dshills/vecsearch-mcp/internal/searcher"
)

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show index statistics and runtime settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			srch, cache, err := a.newSearcher()
			if err != nil {
				return err
			}
			defer func() {
				_ = srch.Close()
				_ = cache.Close()
			}()

			snap, err := srch.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), a.cfg.Index.Path, snap)
			return nil
		},
	}
}

func printSnapshot(w io.Writer, path string, snap *searcher.Snapshot) {
	st := newStyles()
	row := func(label string, value any) {
		fmt.Fprintf(w, "  %s %v\n", st.label.Render(fmt.Sprintf("%-16s", label+":")), value)
	}

	fmt.Fprintln(w, st.title.Render("Index"))
	row("path", path)
	if snap.Index == nil {
		row("status", st.bad.Render("unavailable"))
		if snap.IndexError != "" {
			row("error", snap.IndexError)
		}
	} else {
		idx := snap.Index
		row("chunks", humanize.Comma(int64(idx.RowCount)))
		row("metadata rows", humanize.Comma(int64(idx.MetadataCount)))
		row("size", humanize.Bytes(uint64(idx.SizeBytes)))
		row("dimension", idx.Dimension)
		row("schema", idx.SchemaVersion)
		row("engine", idx.Engine)
		row("build mode", idx.BuildMode)
		for _, k := range slices.Sorted(maps.Keys(idx.Metadata)) {
			row(k, idx.Metadata[k])
		}
		if len(snap.SampleFiles) > 0 {
			fmt.Fprintln(w, st.section.Render("Sample files"))
			for _, f := range snap.SampleFiles {
				fmt.Fprintf(w, "  - %s %s\n", f.Name, st.dim.Render("("+f.Source+")"))
			}
		}
		if len(idx.Tuning) > 0 {
			fmt.Fprintln(w, st.section.Render("SQLite settings"))
			for _, k := range slices.Sorted(maps.Keys(idx.Tuning)) {
				row(k, idx.Tuning[k])
			}
		}
	}

	fmt.Fprintln(w, st.title.Render("Embedding"))
	row("provider", snap.Provider)
	row("model", snap.Model)
	row("device", snap.Device)
	row("dimension", snap.Dimension)
	row("cache", fmt.Sprintf("%d/%d (hits %d, misses %d)",
		snap.Cache.Size, snap.Cache.Capacity, snap.Cache.Hits, snap.Cache.Misses))
	row("warmed", snap.Warmed)
}
