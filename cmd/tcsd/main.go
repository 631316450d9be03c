// Tcsd sequences the charge and discharge phases of a thermochemical
// storage plant.
//
// Usage:
//
//	# Run a sequencing session against the gateway
//	tcsd run --config tcsd.yaml
//
//	# Inspect a running session
//	tcsd status --server http://localhost:9090
//
//	# Follow it live
//	tcsd watch --interval 1s
//
//	# Print estimator weights
//	tcsd coefficients --der 1 --acc 2
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tcsd",
		Short: "Thermochemical storage phase sequencer",
		Long: `tcsd drives a thermochemical storage plant through its charge and
discharge phases, watching process measurements and commanding valves and
pumps as each phase requires.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newCoefficientsCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "tcsd by Fyrsmith Labs\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}
