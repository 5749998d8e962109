// Package store persists raw records and canonical tables behind a narrow
// interface so resolution and aggregation logic stays independent of the
// storage engine.
package store

import (
	"context"

	"github.com/symbio-data/engine-cli/internal/model"
)

// UpsertOutcome distinguishes a fresh insert from a natural-key update.
type UpsertOutcome int

const (
	OutcomeInserted UpsertOutcome = iota
	OutcomeUpdated
)

// PriceQuoteAppend pairs a raw quote with its normalized label for the
// append path.
type PriceQuoteAppend struct {
	Quote           *model.RawPriceQuote
	NormalizedLabel string
}

// RunFilter specifies criteria for listing pipeline runs.
type RunFilter struct {
	Status model.RunStatus
	Domain string
	Limit  int
}

// Store is the persistence interface for the canonicalization pipeline.
// Every canonical table enforces its uniqueness invariant via a structural
// constraint; no operation bypasses it.
type Store interface {
	// Documents (owned by the acquisition layer; core reads and validates).
	UpsertDocument(ctx context.Context, d *model.Document) (UpsertOutcome, error)
	DocumentExists(ctx context.Context, id string) (bool, error)

	// Raw price quotes (append-only, landed a batch at a time).
	AppendPriceQuotes(ctx context.Context, quotes []PriceQuoteAppend) error
	ListQuotesForMaterialType(ctx context.Context, materialTypeID string) ([]model.RawPriceQuote, error)

	// Canonical material registry and label mappings.
	ListMaterialTypes(ctx context.Context) ([]model.MaterialType, error)
	GetMaterialType(ctx context.Context, id string) (*model.MaterialType, error)
	GetMaterialMapping(ctx context.Context, normalizedLabel string) (*model.MaterialTypeMapping, error)
	UpsertMaterialMapping(ctx context.Context, m *model.MaterialTypeMapping) error

	// Valuations (fully derived; one row per material type).
	GetValuation(ctx context.Context, materialTypeID string) (*model.MaterialValuation, error)
	UpsertValuation(ctx context.Context, v *model.MaterialValuation) error
	MarkValuationStale(ctx context.Context, materialTypeID string) error
	ListValuations(ctx context.Context) ([]model.MaterialValuation, error)

	// Canonical companies.
	GetCompany(ctx context.Context, id int64) (*model.Company, error)
	GetCompanyByName(ctx context.Context, normalized string) (*model.Company, error)
	ListCompanies(ctx context.Context) ([]model.Company, error)
	CreateCompany(ctx context.Context, c *model.Company) error
	AddCompanyAlias(ctx context.Context, companyID int64, alias string) error
	MergeCompanies(ctx context.Context, survivingID, losingID int64) error

	// Extracted facts, keyed by natural uniqueness constraints.
	UpsertWasteListing(ctx context.Context, l *model.WasteListing) (UpsertOutcome, error)
	UpsertCarbonEmission(ctx context.Context, rec *model.CarbonEmissionRecord) (UpsertOutcome, error)
	UpsertSymbiosisExchange(ctx context.Context, ex *model.SymbiosisExchange) (UpsertOutcome, error)
	GetCarbonEmission(ctx context.Context, companyName string, year int) (*model.CarbonEmissionRecord, error)
	ListListingsWithValue(ctx context.Context, limit int) ([]model.ListingValue, error)

	// Fraud flags (append-only from the detector; lifecycle transitions
	// belong to the external review workflow).
	InsertFraudFlag(ctx context.Context, f *model.FraudFlag) error
	ListFraudFlags(ctx context.Context, status string, limit int) ([]model.FraudFlag, error)

	// Pipeline runs.
	CreateRun(ctx context.Context, run *model.PipelineRun) error
	CompleteRun(ctx context.Context, runID string, processed, failed int) error
	FailRun(ctx context.Context, runID string, processed, failed int, errMsg string) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error)

	// Observability.
	Stats(ctx context.Context) (*model.PipelineStats, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
