package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/tcsd/internal/findiff"
)

func newCoefficientsCmd() *cobra.Command {
	var der, acc int
	cmd := &cobra.Command{
		Use:   "coefficients",
		Short: "Print backward finite-difference weights",
		Long: `Print the weights a checker applies to its raw window, oldest sample
first, for the given derivative order and accuracy.

Examples:
  # Mean of three samples
  tcsd coefficients --der 0 --acc 2

  # First derivative, second-order accurate
  tcsd coefficients --der 1 --acc 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			coef, err := findiff.Coefficients(der, acc)
			if err != nil {
				return err
			}
			parts := make([]string, len(coef))
			for i, c := range coef {
				parts[i] = strconv.FormatFloat(c, 'g', 10, 64)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "der=%d acc=%d window=%d\n[%s]\n",
				der, acc, len(coef), strings.Join(parts, ", "))
			return nil
		},
	}
	cmd.Flags().IntVar(&der, "der", 0, "derivative order")
	cmd.Flags().IntVar(&acc, "acc", 2, "accuracy order")
	return cmd
}
