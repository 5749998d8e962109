package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/symbio-data/engine-cli/internal/model"
)

var (
	processInput  string
	processDomain string
	processSource string
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Apply a batch of raw records to the canonical tables",
	Long:  "Reads NDJSON raw records from a file or stdin, resolves materials and companies, runs anomaly detection, and upserts by natural key. Re-running the same input is harmless.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		records, err := readRecords(processInput)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintln(os.Stderr, "No records to process.")
			return nil
		}

		coord := newCoordinator(st)
		result, err := coord.Apply(ctx, processDomain, processSource, records)
		if err != nil {
			return err
		}

		fmt.Printf("Run %s: %d inserted, %d updated, %d skipped, %d unmapped, %d failed, %d flagged, %d revalued\n",
			result.RunID, result.Inserted, result.Updated, result.Skipped,
			result.Unmapped, result.Failed, result.Flagged, result.Revalued)
		for _, f := range result.Failures {
			fmt.Fprintf(os.Stderr, "  failed %s: %s\n", f.Key, f.Reason)
		}
		return nil
	},
}

// readRecords decodes NDJSON raw records from path, or stdin when path is
// "-" or empty.
func readRecords(path string) ([]model.RawRecord, error) {
	var r io.Reader = os.Stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "open input %s", path)
		}
		defer f.Close()
		r = f
	}

	var records []model.RawRecord
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec model.RawRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, eris.Wrapf(err, "decode record at line %d", line)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "read input")
	}
	return records, nil
}

func init() {
	processCmd.Flags().StringVarP(&processInput, "input", "i", "", "NDJSON input file (default stdin)")
	processCmd.Flags().StringVar(&processDomain, "domain", "", "domain label for the run (waste, carbon, symbiosis)")
	processCmd.Flags().StringVar(&processSource, "source", "", "source label for the run")
	rootCmd.AddCommand(processCmd)
}
