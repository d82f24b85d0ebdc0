package main

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dshills/vecsearch-mcp/internal/searcher"
)

var defaultBenchQueries = []string{
	"大学", "授業", "履修", "成績", "卒業",
	"学生証", "図書館", "研究室", "試験", "単位",
}

const (
	basicQueryCount = 5
	coldTarget      = 200 * time.Millisecond
	cachedTarget    = 50 * time.Millisecond
)

// measurement is the latency of one query over several runs.
type measurement struct {
	Query   string
	Times   []time.Duration
	Results int
}

func (m measurement) avg() time.Duration {
	if len(m.Times) == 0 {
		return 0
	}
	var sum time.Duration
	for _, t := range m.Times {
		sum += t
	}
	return sum / time.Duration(len(m.Times))
}

func (m measurement) min() time.Duration {
	if len(m.Times) == 0 {
		return 0
	}
	return slices.Min(m.Times)
}

func (m measurement) max() time.Duration {
	if len(m.Times) == 0 {
		return 0
	}
	return slices.Max(m.Times)
}

func newBenchCmd(a *app) *cobra.Command {
	var (
		detailed bool
		queries  []string
		runs     int
		topK     int
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure query latency",
		Long: `Without flags, runs the first five default queries three times each.
--detailed reports cold, cached and fresh query latency against targets.
--queries runs the given queries once each unless --runs is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			srch, cache, err := a.newSearcher()
			if err != nil {
				return err
			}
			defer func() {
				_ = srch.Close()
				_ = cache.Close()
			}()

			b := &bench{cmd: cmd, srch: srch, k: topK}
			switch {
			case detailed:
				return b.detailed()
			case len(queries) > 0:
				if !cmd.Flags().Changed("runs") {
					runs = 1
				}
				return b.basic(queries, runs)
			default:
				return b.basic(defaultBenchQueries[:basicQueryCount], runs)
			}
		},
	}

	cmd.Flags().BoolVar(&detailed, "detailed", false, "Report cold, cached and fresh query latency")
	cmd.Flags().StringSliceVar(&queries, "queries", nil, "Queries to run (comma separated or repeated)")
	cmd.Flags().IntVar(&runs, "runs", 3, "Runs per query")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 3, "Results per query")
	return cmd
}

type bench struct {
	cmd  *cobra.Command
	srch *searcher.Searcher
	k    int
}

func (b *bench) out() io.Writer { return b.cmd.OutOrStdout() }

func (b *bench) measure(query string, runs int) (measurement, error) {
	m := measurement{Query: query}
	for range max(runs, 1) {
		start := time.Now()
		results, err := b.srch.Search(b.cmd.Context(), query, b.k)
		if err != nil {
			return m, fmt.Errorf("query %q: %w", query, err)
		}
		m.Times = append(m.Times, time.Since(start))
		m.Results = len(results)
	}
	return m, nil
}

func (b *bench) basic(queries []string, runs int) error {
	st := newStyles()
	w := b.out()

	if err := b.srch.Warm(b.cmd.Context()); err != nil {
		return err
	}

	fmt.Fprintf(w, "%s %d queries x %d runs\n", st.title.Render("Benchmark:"), len(queries), max(runs, 1))
	all := measurement{Query: "overall"}
	for _, q := range queries {
		m, err := b.measure(q, runs)
		if err != nil {
			return err
		}
		all.Times = append(all.Times, m.Times...)
		fmt.Fprintf(w, "  %-12s avg %-10s min %-10s max %-10s %s\n",
			q, fmtDur(m.avg()), fmtDur(m.min()), fmtDur(m.max()),
			st.dim.Render(fmt.Sprintf("%d results", m.Results)))
	}
	fmt.Fprintf(w, "%s avg %s min %s max %s\n",
		st.section.Render("Overall:"), fmtDur(all.avg()), fmtDur(all.min()), fmtDur(all.max()))
	return nil
}

func (b *bench) detailed() error {
	st := newStyles()
	w := b.out()
	ctx := b.cmd.Context()

	snap, err := b.srch.Snapshot(ctx)
	if err != nil {
		return err
	}
	if snap.Index == nil {
		return fmt.Errorf("index unavailable: %s", snap.IndexError)
	}

	fmt.Fprintln(w, st.title.Render("Environment"))
	fmt.Fprintf(w, "  index size: %s (%s chunks)\n",
		humanize.Bytes(uint64(snap.Index.SizeBytes)), humanize.Comma(int64(snap.Index.RowCount)))
	fmt.Fprintf(w, "  provider:   %s/%s on %s\n", snap.Provider, snap.Model, snap.Device)
	fmt.Fprintf(w, "  cache:      %d entries max\n", snap.Cache.Capacity)
	for _, k := range []string{"journal_mode", "synchronous", "cache_size", "temp_store", "mmap_size"} {
		if v, ok := snap.Index.Tuning[k]; ok {
			fmt.Fprintf(w, "  %-11s %s\n", k+":", v)
		}
	}

	// The first query pays for warmup, the repeat is served from the
	// embedding cache, the remaining queries have not been seen before.
	cold, err := b.measure(defaultBenchQueries[0], 1)
	if err != nil {
		return err
	}
	cached, err := b.measure(defaultBenchQueries[0], 3)
	if err != nil {
		return err
	}
	fresh := measurement{Query: "new queries"}
	for _, q := range defaultBenchQueries[1:basicQueryCount] {
		m, err := b.measure(q, 1)
		if err != nil {
			return err
		}
		fresh.Times = append(fresh.Times, m.Times...)
	}

	fmt.Fprintln(w, st.title.Render("Latency"))
	b.verdict("cold query", cold.avg(), coldTarget)
	b.verdict("cached query", cached.avg(), cachedTarget)
	b.verdict("new queries", fresh.avg(), coldTarget)
	return nil
}

func (b *bench) verdict(label string, d, target time.Duration) {
	st := newStyles()
	mark := st.good.Render("ok")
	if d > target {
		mark = st.warn.Render("above target " + target.String())
	}
	fmt.Fprintf(b.out(), "  %-13s %-10s %s\n", label+":", fmtDur(d), mark)
}

func fmtDur(d time.Duration) string {
	return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000)
}
