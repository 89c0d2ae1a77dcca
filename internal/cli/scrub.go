package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	sweepLimit int
	scrubAs    string
)

func init() {
	rootCmd.AddCommand(scrubCmd)
	scrubCmd.AddCommand(scrubSweepCmd, scrubFlightCmd)
	scrubSweepCmd.Flags().IntVar(&sweepLimit, "limit", -1, "Maximum flights to scrub (default ORM_SWEEP_LIMIT, 0 = no limit)")
	scrubFlightCmd.Flags().StringVar(&scrubAs, "as", "", "Email of the admin performing the scrub")
	_ = scrubFlightCmd.MarkFlagRequired("as")
}

var scrubCmd = &cobra.Command{
	Use:   "scrub",
	Short: "Redact identifying fields from flights",
}

var scrubSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Scrub every flight past the PII retention window",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		limit := sweepLimit
		if limit < 0 {
			limit = a.Config.SweepLimit
		}
		res, err := a.Service.SweepExpired(ctx, limit)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "scrubbed %d of %d expired flights\n", len(res.Scrubbed), res.Candidates)
		for _, id := range res.Scrubbed {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

var scrubFlightCmd = &cobra.Command{
	Use:   "flight <id>",
	Short: "Scrub one flight now, regardless of its age",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		operator, err := a.Store.FindByEmail(ctx, scrubAs)
		if err != nil {
			return fmt.Errorf("operator %s: %w", scrubAs, err)
		}
		view, err := a.Service.ScrubFlight(ctx, operator, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "flight %s scrubbed\n", view.ID)
		return nil
	},
}
