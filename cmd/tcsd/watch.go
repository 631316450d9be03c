package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/tcsd/internal/monitor"
)

func newWatchCmd() *cobra.Command {
	var (
		serverURL string
		interval  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live dashboard of a running tcsd",
		Long: `Open a terminal dashboard that polls a running tcsd and shows the active
phase, the constants version and each checker's running mean.

Keys:
  q, ctrl+c  quit
  r          refresh now`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if interval <= 0 {
				return fmt.Errorf("interval must be positive, got %s", interval)
			}
			p := tea.NewProgram(
				monitor.NewModel(serverURL, interval),
				tea.WithAltScreen(),
				tea.WithContext(cmd.Context()),
			)
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("dashboard: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:9090", "tcsd server URL")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "refresh interval")
	return cmd
}
