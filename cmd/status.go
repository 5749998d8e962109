package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show canonical table counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		stats, err := st.Stats(ctx)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "documents\t%d\n", stats.Documents)
		fmt.Fprintf(tw, "price quotes\t%d\n", stats.PriceQuotes)
		fmt.Fprintf(tw, "material mappings\t%d\n", stats.Mappings)
		fmt.Fprintf(tw, "valuations\t%d\n", stats.Valuations)
		fmt.Fprintf(tw, "companies\t%d\n", stats.Companies)
		fmt.Fprintf(tw, "waste listings\t%d\n", stats.WasteListings)
		fmt.Fprintf(tw, "carbon records\t%d\n", stats.CarbonRecords)
		fmt.Fprintf(tw, "exchanges\t%d\n", stats.Exchanges)
		fmt.Fprintf(tw, "open fraud flags\t%d\n", stats.OpenFraudFlags)
		fmt.Fprintf(tw, "runs completed\t%d\n", stats.RunsCompleted)
		fmt.Fprintf(tw, "runs failed\t%d\n", stats.RunsFailed)
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
