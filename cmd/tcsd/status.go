package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	tcshttp "github.com/fyrsmithlabs/tcsd/internal/http"
	"github.com/fyrsmithlabs/tcsd/internal/monitor"
)

func newStatusCmd() *cobra.Command {
	var (
		serverURL string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the active phase and checkers of a running tcsd",
		Long: `Query the status surface of a running tcsd for its active states and
registered checkers.

Examples:
  tcsd status
  tcsd status --server http://plant-host:9090 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			snap, err := monitor.NewClient(serverURL).Fetch(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					State    tcshttp.StateResponse    `json:"state"`
					Checkers tcshttp.CheckersResponse `json:"checkers"`
				}{snap.State, snap.Checkers})
			}
			return printStatus(out, snap.State, snap.Checkers)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:9090", "tcsd server URL")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func printStatus(w io.Writer, state tcshttp.StateResponse, checkers tcshttp.CheckersResponse) error {
	running := "stopped"
	switch {
	case !state.Started:
		running = "not started"
	case !state.Stopped:
		running = "running"
	}
	fmt.Fprintf(w, "Machine:  %s\n", running)
	fmt.Fprintf(w, "Phase:    %s\n", strings.Join(state.Configuration, ", "))
	if c := state.Constants; c != nil {
		fmt.Fprintf(w, "Constants: %s (version %d, loaded %s)\n", c.Source, c.Version, c.LoadedAt.Format(time.RFC3339))
	}
	if len(checkers.Checkers) == 0 {
		fmt.Fprintln(w, "Checkers: none")
		return nil
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHECKER\tSELECTOR\tMEAN\tIN LIMIT\tSTALE\tTICKS")
	for _, c := range checkers.Checkers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%t\t%d\n",
			c.Name, c.Selector, monitor.FormatMean(c.Last), c.Last.InLimit, c.Last.Stale, c.Ticks)
	}
	return tw.Flush()
}
