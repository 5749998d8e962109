package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initdbCmd = &cobra.Command{
	Use:   "initdb",
	Short: "Create the schema and seed the material registry",
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

		types, err := st.ListMaterialTypes(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Schema ready; %d material types registered.\n", len(types))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initdbCmd)
}
