package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symbio-data/engine-cli/internal/anomaly"
	"github.com/symbio-data/engine-cli/internal/model"
	"github.com/symbio-data/engine-cli/internal/resilience"
	"github.com/symbio-data/engine-cli/internal/resolve"
	"github.com/symbio-data/engine-cli/internal/store"
	"github.com/symbio-data/engine-cli/internal/valuation"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *store.SQLiteStore, string) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.NewSQLite(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	quarantinePath := filepath.Join(dir, "quarantine.ndjson")
	coord := NewCoordinator(
		st,
		resolve.NewMaterialResolver(st, 0),
		resolve.NewCompanyResolver(st, 0),
		anomaly.NewDetector(),
		valuation.NewRevaluer(valuation.NewAggregator(st)),
		WithConcurrency(2),
		WithQuarantine(resilience.NewQuarantine(quarantinePath)),
	)
	return coord, st, quarantinePath
}

func testBatch() []model.RawRecord {
	return []model.RawRecord{
		{Kind: model.KindDocument, Document: &model.Document{ID: "doc-1", Source: "test"}},
		{Kind: model.KindListing, Listing: &model.WasteListing{
			DocumentID:    "doc-1",
			MaterialLabel: "Copper Wire 1",
			CompanyName:   "Acme Steel Inc.",
			Industry:      "manufacturing",
			QuantityTons:  10,
			Year:          2025,
		}},
		{Kind: model.KindPriceQuote, PriceQuote: &model.RawPriceQuote{
			MaterialLabel: "Copper Wire 1",
			PriceValue:    250,
			PriceUnit:     "tonne",
			Currency:      "USD",
			Source:        "scrapmonster",
			FetchedAt:     time.Now().UTC().AddDate(0, -1, 0),
		}},
		{Kind: model.KindEmission, Emission: &model.CarbonEmissionRecord{
			CompanyName: "Acme Steel Inc.",
			Year:        2025,
			CO2Tons:     1200,
		}},
	}
}

func TestCoordinator_ApplyBatch(t *testing.T) {
	coord, st, _ := newTestCoordinator(t)
	ctx := context.Background()

	res, err := coord.Apply(ctx, "waste", "test", testBatch())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Inserted)
	assert.Zero(t, res.Updated)
	assert.Zero(t, res.Failed)
	assert.Zero(t, res.Flagged)
	assert.Equal(t, 1, res.Revalued, "resolved quote triggers revaluation")

	// The quote resolved and re-valued its material.
	v, err := st.GetValuation(ctx, "CU-WIRE1")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.InDelta(t, 250.0, v.PricePerTonUSD, 1e-9)
	assert.Equal(t, 1, v.SourceCount)

	// The listing got both its references resolved.
	listings, err := st.ListListingsWithValue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "CU-WIRE1", listings[0].Listing.MaterialTypeID)
	require.NotNil(t, listings[0].Listing.CompanyID)
	require.NotNil(t, listings[0].EstimatedValue)
	assert.InDelta(t, 2500.0, *listings[0].EstimatedValue, 1e-9)

	company, err := st.GetCompanyByName(ctx, "ACME STEEL")
	require.NoError(t, err)
	require.NotNil(t, company)
	assert.Equal(t, *listings[0].Listing.CompanyID, company.ID)

	runs, err := st.ListRuns(ctx, store.RunFilter{Status: model.RunStatusCompleted})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].ID)
}

func TestCoordinator_ReapplyIsIdempotent(t *testing.T) {
	coord, st, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := coord.Apply(ctx, "waste", "test", testBatch())
	require.NoError(t, err)

	res, err := coord.Apply(ctx, "waste", "test", testBatch())
	require.NoError(t, err)
	// Document, listing, and emission hit their natural keys; only the
	// append-only quote still counts as an insert.
	assert.Equal(t, 3, res.Updated)
	assert.Equal(t, 1, res.Inserted)
	assert.Zero(t, res.Failed)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.WasteListings)
	assert.Equal(t, 1, stats.CarbonRecords)
	assert.Equal(t, 2, stats.PriceQuotes)
	assert.Equal(t, 1, stats.Companies)
}

func TestCoordinator_MissingDocumentQuarantined(t *testing.T) {
	coord, st, quarantinePath := newTestCoordinator(t)
	ctx := context.Background()

	res, err := coord.Apply(ctx, "waste", "test", []model.RawRecord{
		{Kind: model.KindListing, Listing: &model.WasteListing{
			DocumentID:    "doc-ghost",
			MaterialLabel: "Copper Wire 1",
			CompanyName:   "Acme Steel",
			QuantityTons:  5,
			Year:          2025,
		}},
	})
	require.NoError(t, err, "individual failures never abort the batch")
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Flagged)
	assert.Zero(t, res.Inserted)

	// The record is excluded from canonical tables but flagged and kept.
	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.WasteListings)
	assert.Equal(t, 1, stats.OpenFraudFlags)

	flags, err := st.ListFraudFlags(ctx, model.FlagOpen, 10)
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, model.FlagUnresolvedReference, flags[0].FlagType)

	data, err := os.ReadFile(quarantinePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "doc-ghost")

	runs, err := st.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, 1, runs[0].DocumentsFailed)
}

func TestCoordinator_MalformedRecordSkipped(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)

	res, err := coord.Apply(context.Background(), "waste", "test", []model.RawRecord{
		{Kind: "telemetry"},
		{Kind: model.KindListing}, // kind set, payload missing
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Skipped)
	assert.Zero(t, res.Failed)
}

func TestCoordinator_ExchangeAnomaliesFlagged(t *testing.T) {
	coord, st, _ := newTestCoordinator(t)
	ctx := context.Background()

	res, err := coord.Apply(ctx, "waste", "test", []model.RawRecord{
		{Kind: model.KindExchange, Exchange: &model.SymbiosisExchange{
			SourceCompany: "Acme Steel",
			TargetCompany: "Zenith Cement",
			MaterialLabel: "slag",
			Year:          2099,
			VolumeTons:    -50,
		}},
	})
	require.NoError(t, err, "flags never block ingestion")
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 2, res.Flagged)

	flags, err := st.ListFraudFlags(ctx, model.FlagOpen, 10)
	require.NoError(t, err)
	require.Len(t, flags, 2)
	types := []string{flags[0].FlagType, flags[1].FlagType}
	assert.Contains(t, types, model.FlagFutureDate)
	assert.Contains(t, types, model.FlagNonPositiveQuantity)
	for _, f := range flags {
		assert.Equal(t, model.EntityExchange, f.EntityType)
	}

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Exchanges, "the flagged exchange still landed")
}

func TestCoordinator_BlankMaterialLabelRejected(t *testing.T) {
	coord, st, _ := newTestCoordinator(t)
	ctx := context.Background()

	res, err := coord.Apply(ctx, "waste", "test", []model.RawRecord{
		{Kind: model.KindDocument, Document: &model.Document{ID: "doc-1", Source: "test"}},
		{Kind: model.KindListing, Listing: &model.WasteListing{
			DocumentID:    "doc-1",
			MaterialLabel: "   ",
			CompanyName:   "Acme Steel",
			QuantityTons:  5,
			Year:          2025,
		}},
		{Kind: model.KindExchange, Exchange: &model.SymbiosisExchange{
			SourceCompany: "Acme Steel",
			TargetCompany: "Zenith Cement",
			MaterialLabel: "   ",
			Year:          2025,
			VolumeTons:    100,
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted, "only the document lands")
	assert.Equal(t, 2, res.Failed)
	assert.Zero(t, res.Unmapped, "a blank label is invalid, not unmapped")

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.WasteListings)
	assert.Zero(t, stats.Exchanges)
}

func TestCoordinator_UnmappedMaterialStillLands(t *testing.T) {
	coord, st, _ := newTestCoordinator(t)
	ctx := context.Background()

	res, err := coord.Apply(ctx, "waste", "test", []model.RawRecord{
		{Kind: model.KindDocument, Document: &model.Document{ID: "doc-1", Source: "test"}},
		{Kind: model.KindListing, Listing: &model.WasteListing{
			DocumentID:    "doc-1",
			MaterialLabel: "quantum flux residue",
			CompanyName:   "Acme Steel",
			QuantityTons:  5,
			Year:          2025,
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, res.Unmapped)

	listings, err := st.ListListingsWithValue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Empty(t, listings[0].Listing.MaterialTypeID, "no forced match for unknown material")
	assert.Nil(t, listings[0].EstimatedValue)
}
