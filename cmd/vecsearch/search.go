package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/vecsearch-mcp/internal/searcher"
)

const previewRunes = 100

func newSearchCmd(a *app) *cobra.Command {
	var (
		topK       int
		showTiming bool
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Run a query against the index",
		Long: `Runs one query and prints the closest chunks. Without a query argument
it reads queries from stdin, one per line, until EOF or "quit".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			srch, cache, err := a.newSearcher()
			if err != nil {
				return err
			}
			defer func() {
				_ = srch.Close()
				_ = cache.Close()
			}()

			if len(args) > 0 {
				return runQuery(cmd, srch, strings.Join(args, " "), topK, showTiming)
			}
			return interactive(cmd, srch, topK, showTiming)
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 3, "Number of results")
	cmd.Flags().BoolVar(&showTiming, "timing", false, "Print the latency breakdown")
	return cmd
}

func runQuery(cmd *cobra.Command, srch *searcher.Searcher, query string, k int, showTiming bool) error {
	resp, err := srch.SearchWithTiming(cmd.Context(), query, k)
	if err != nil {
		return err
	}
	printResults(cmd.OutOrStdout(), query, resp)
	if showTiming {
		printTiming(cmd.OutOrStdout(), resp.Timing)
	}
	return nil
}

// interactive answers queries read line by line. A failed query is
// reported and the loop continues.
func interactive(cmd *cobra.Command, srch *searcher.Searcher, k int, showTiming bool) error {
	st := newStyles()
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, st.dim.Render(`Enter a query ("quit" to exit)`))

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, st.title.Render("query> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		query := strings.TrimSpace(scanner.Text())
		switch query {
		case "":
			continue
		case "quit", "exit", "q":
			return nil
		}
		if err := runQuery(cmd, srch, query, k, showTiming); err != nil {
			fmt.Fprintln(out, st.bad.Render("error: "+err.Error()))
		}
		if err := cmd.Context().Err(); err != nil {
			return err
		}
	}
}

func printResults(w io.Writer, query string, resp *searcher.Response) {
	st := newStyles()
	fmt.Fprintf(w, "%s %q\n", st.title.Render("Results for"), query)
	if len(resp.Results) == 0 {
		fmt.Fprintln(w, st.dim.Render("  no results"))
		return
	}
	for i, r := range resp.Results {
		fmt.Fprintf(w, "\n%d. %s %s\n", i+1, r.Name, st.distance.Render(fmt.Sprintf("(distance %.4f)", r.Distance)))
		fmt.Fprintf(w, "   %s %s\n", st.label.Render("url:"), r.Reference)
		fmt.Fprintf(w, "   %s\n", preview(r.Text, previewRunes))
	}
	fmt.Fprintln(w)
}

func printTiming(w io.Writer, t searcher.Timing) {
	st := newStyles()
	embedding := t.Embedding.Round(time.Microsecond).String()
	if t.CacheHit {
		embedding += " " + st.good.Render("(cache hit)")
	}
	if t.SlowEmbedding {
		embedding += " " + st.warn.Render("slow")
	}
	store := t.Store.Round(time.Microsecond).String()
	if t.SlowStore {
		store += " " + st.warn.Render("slow")
	}

	fmt.Fprintln(w, st.section.Render("Timing"))
	fmt.Fprintf(w, "  %s %s\n", st.label.Render("embedding:"), embedding)
	fmt.Fprintf(w, "  %s %s\n", st.label.Render("store:    "), store)
	fmt.Fprintf(w, "  %s %s\n", st.label.Render("total:    "), t.Total.Round(time.Microsecond))
}

// preview returns the first n characters of s on a single line.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
