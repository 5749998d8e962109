package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/symbio-data/engine-cli/internal/model"
)

var revalueCmd = &cobra.Command{
	Use:   "revalue [material-type-id...]",
	Short: "Recompute material valuations from raw quotes",
	Long:  "Recomputes the derived valuation for the given material types, or for every registered type when none are named. Valuations are fully derived; this is always safe to re-run.",
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

		ids := make(map[string]struct{})
		if len(args) > 0 {
			for _, id := range args {
				ids[id] = struct{}{}
			}
		} else {
			types, err := st.ListMaterialTypes(ctx)
			if err != nil {
				return err
			}
			for _, t := range types {
				ids[t.ID] = struct{}{}
			}
		}

		run := &model.PipelineRun{PipelineType: "revalue"}
		if err := st.CreateRun(ctx, run); err != nil {
			return err
		}

		rev := newRevaluer(st)
		done, recomputeErr := rev.RecomputeSet(ctx, ids)
		failed := len(ids) - done

		if recomputeErr != nil {
			if err := st.FailRun(ctx, run.ID, done, failed, recomputeErr.Error()); err != nil {
				return err
			}
			fmt.Printf("Run %s: %d of %d valuations recomputed (first error: %v)\n",
				run.ID, done, len(ids), recomputeErr)
			return nil
		}

		if err := st.CompleteRun(ctx, run.ID, done, failed); err != nil {
			return err
		}
		fmt.Printf("Run %s: %d valuations recomputed.\n", run.ID, done)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(revalueCmd)
}
