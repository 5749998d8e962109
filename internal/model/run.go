package model

import "time"

// RunStatus is the state of a pipeline batch run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// PipelineRun records one batch invocation for observability and
// resumability. Rows are append-only and never mutated after reaching a
// terminal status.
type PipelineRun struct {
	ID                 string     `json:"id" db:"id"`
	PipelineType       string     `json:"pipeline_type" db:"pipeline_type"`
	Domain             string     `json:"domain,omitempty" db:"domain"`
	Source             string     `json:"source,omitempty" db:"source"`
	StartedAt          time.Time  `json:"started_at" db:"started_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	Status             RunStatus  `json:"status" db:"status"`
	DocumentsProcessed int        `json:"documents_processed" db:"documents_processed"`
	DocumentsFailed    int        `json:"documents_failed" db:"documents_failed"`
	Error              string     `json:"error,omitempty" db:"error"`
}

// ApplyFailure records one record that could not be applied, with the
// reason. The batch continues past individual failures.
type ApplyFailure struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// ApplyResult summarizes one coordinator batch.
type ApplyResult struct {
	RunID    string         `json:"run_id"`
	Inserted int            `json:"inserted"`
	Updated  int            `json:"updated"`
	Skipped  int            `json:"skipped"`
	Unmapped int            `json:"unmapped"`
	Failed   int            `json:"failed"`
	Flagged  int            `json:"flagged"`
	Revalued int            `json:"revalued"`
	Failures []ApplyFailure `json:"failures,omitempty"`
}

// Processed is the number of records that made it into canonical tables.
func (r *ApplyResult) Processed() int {
	return r.Inserted + r.Updated
}

// PipelineStats is a point-in-time snapshot of table counts, mirroring the
// status command output.
type PipelineStats struct {
	Documents      int `json:"documents"`
	PriceQuotes    int `json:"price_quotes"`
	Mappings       int `json:"mappings"`
	Valuations     int `json:"valuations"`
	Companies      int `json:"companies"`
	WasteListings  int `json:"waste_listings"`
	CarbonRecords  int `json:"carbon_records"`
	Exchanges      int `json:"exchanges"`
	OpenFraudFlags int `json:"open_fraud_flags"`
	RunsCompleted  int `json:"runs_completed"`
	RunsFailed     int `json:"runs_failed"`
}
