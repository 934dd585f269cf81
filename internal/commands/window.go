package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sdpower/clauditor-go/internal/output"
)

func newWindowCommand(g *globalFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "window",
		Short: "Show usage in the current window",
		Long:  `Read the Claude usage logs once and report the active window's token and cost totals per project.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outFormat, err := output.ParseFormat(format)
			if err != nil {
				return err
			}
			a, err := g.load(cmd)
			if err != nil {
				return err
			}

			coord, _, err := a.buildEngine(a.defaultEngineOptions())
			if err != nil {
				return err
			}

			// An interrupt must not cut the tick short.
			snap, err := coord.Tick(context.WithoutCancel(cmd.Context()), time.Now())
			if err != nil {
				return err
			}

			formatter := output.NewFormatter(output.FormatterOptions{
				Format:     outFormat,
				NoColor:    a.noColor,
				Timezone:   a.location,
				TokenLimit: a.cfg.Output.TokenLimit,
			})
			report, err := formatter.FormatSnapshot(snap)
			if err != nil {
				return fmt.Errorf("failed to format snapshot: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format (table, json)")
	return cmd
}
