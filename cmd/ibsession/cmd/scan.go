package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/ibsession/broker"
	"github.com/rustyeddy/ibsession/session"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a market scanner",
	Long: `Run a one-shot market scanner and list the ranked instruments.

Examples:
  ibsession scan
  ibsession scan --code HOT_BY_VOLUME --location STK.HK.ASX --rows 20`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var scanParams broker.ScanParams

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVar(&scanParams.Instrument, "instrument", "STK", "scanner instrument")
	scanCmd.Flags().StringVar(&scanParams.LocationCode, "location", "STK.US.MAJOR", "location code")
	scanCmd.Flags().StringVar(&scanParams.ScanCode, "code", "TOP_PERC_GAIN", "scan code")
	scanCmd.Flags().IntVar(&scanParams.Rows, "rows", 10, "number of rows")
}

func runScan(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, s *session.Session) error {
		rows, err := s.Scan(ctx, scanParams)
		if err != nil {
			return fmt.Errorf("scan %s: %w", scanParams.ScanCode, err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s in %s (%d)\n", scanParams.ScanCode, scanParams.LocationCode, len(rows))
		for _, r := range rows {
			fmt.Fprintf(out, "%4d  %-16s %s\n", r.Rank, r.Instrument, r.Distance)
		}
		return nil
	})
}
