package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/adamdsmith/fwspp/internal/source"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the occurrence repositories and their query settings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		repos, err := repositories(cfg)
		if err != nil {
			return err
		}
		formatSources(os.Stdout, repos)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}

// formatSources writes a table of repositories to out.
func formatSources(out io.Writer, repos []source.Repository) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tNAME\tMODE\tCAP\tPAGE\tRATE\tBASE URL")
	for _, r := range repos {
		limit := "-"
		if r.Cap > 0 {
			limit = humanize.Comma(int64(r.Cap))
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%g/s\t%s\n",
			r.Key, r.Name, r.Mode, limit, r.PageSize, r.RateLimit, r.BaseURL)
	}
	_ = w.Flush()
}
