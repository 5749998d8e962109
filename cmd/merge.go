package main

import (
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/symbio-data/engine-cli/internal/resolve"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <surviving-id> <losing-id>",
	Short: "Merge two canonical companies",
	Long:  "Folds the losing company into the surviving one: aliases are unioned, listings, emissions, and exchanges re-pointed, and the losing row deleted, atomically.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		survivingID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Wrapf(err, "invalid surviving id %q", args[0])
		}
		losingID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return eris.Wrapf(err, "invalid losing id %q", args[1])
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		resolver := resolve.NewCompanyResolver(st, cfg.Resolver.CompanyThreshold)
		if err := resolver.Merge(ctx, survivingID, losingID); err != nil {
			return err
		}

		surviving, err := st.GetCompany(ctx, survivingID)
		if err != nil {
			return err
		}
		fmt.Printf("Merged company %d into %d (%s, %d aliases).\n",
			losingID, survivingID, surviving.CanonicalName, len(surviving.Aliases))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mergeCmd)
}
