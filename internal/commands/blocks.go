package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sdpower/clauditor-go/internal/calculator"
	"github.com/sdpower/clauditor-go/internal/output"
)

func newBlocksCommand(g *globalFlags) *cobra.Command {
	var (
		format string
		days   int
	)

	cmd := &cobra.Command{
		Use:   "blocks",
		Short: "List recent usage windows",
		Long:  `List the usage windows of the last days, including idle gaps between them.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days <= 0 {
				return fmt.Errorf("--days must be positive")
			}
			outFormat, err := output.ParseFormat(format)
			if err != nil {
				return err
			}
			a, err := g.load(cmd)
			if err != nil {
				return err
			}

			// History needs every file touched in the period and no
			// pruning inside it.
			period := time.Duration(days) * 24 * time.Hour
			coord, calc, err := a.buildEngine(engineOptions{
				maxFileAge: period + a.cfg.WindowDuration(),
				retention:  period + a.cfg.WindowDuration(),
			})
			if err != nil {
				return err
			}

			ctx := context.WithoutCancel(cmd.Context())
			now := time.Now()
			if _, err := coord.Tick(ctx, now); err != nil {
				return err
			}

			windows := calc.IdentifyWindows(ctx, coord.Records(), now, a.cfg.WindowDuration())
			windows = calculator.FilterRecentWindows(windows, now.Add(-period))

			formatter := output.NewFormatter(output.FormatterOptions{
				Format:     outFormat,
				NoColor:    a.noColor,
				Timezone:   a.location,
				TokenLimit: a.cfg.Output.TokenLimit,
			})
			report, err := formatter.FormatWindows(windows, now)
			if err != nil {
				return fmt.Errorf("failed to format report: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format (table, json)")
	cmd.Flags().IntVar(&days, "days", 3, "Number of days to list")
	return cmd
}
