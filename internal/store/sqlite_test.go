package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symbio-data/engine-cli/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedDocument(t *testing.T, st *SQLiteStore, id string) {
	t.Helper()
	_, err := st.UpsertDocument(context.Background(), &model.Document{
		ID:     id,
		Source: "test",
	})
	require.NoError(t, err)
}

func TestSQLiteStore_MigrateSeedsRegistry(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	types, err := st.ListMaterialTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, types, len(seedMaterials))

	mt, err := st.GetMaterialType(ctx, "CU-WIRE1")
	require.NoError(t, err)
	require.NotNil(t, mt)
	assert.Equal(t, "copper wire 1", mt.Name)
	assert.Equal(t, "metals", mt.Category)

	missing, err := st.GetMaterialType(ctx, "UNOBTANIUM")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// Running migrations again must not duplicate the registry.
	require.NoError(t, st.Migrate(ctx))
	types, err = st.ListMaterialTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, types, len(seedMaterials))
}

func TestSQLiteStore_DocumentExists(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedDocument(t, st, "doc-1")

	ok, err := st.DocumentExists(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.DocumentExists(ctx, "doc-unknown")
	require.NoError(t, err)
	assert.False(t, ok)

	// Re-upserting the same document reports an update, not an insert.
	outcome, err := st.UpsertDocument(ctx, &model.Document{ID: "doc-1", Source: "test"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)

	outcome, err = st.UpsertDocument(ctx, &model.Document{ID: "doc-2", Source: "test"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, outcome)
}

func TestSQLiteStore_ListingUpsertIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedDocument(t, st, "doc-1")

	l := &model.WasteListing{
		DocumentID:    "doc-1",
		MaterialLabel: "copper wire scrap",
		CompanyName:   "ACME STEEL",
		QuantityTons:  12.5,
		Year:          2025,
	}
	outcome, err := st.UpsertWasteListing(ctx, l)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, outcome)
	firstID := l.ID
	assert.NotZero(t, firstID)

	// Same natural key with enriched fields updates in place.
	price := 250.0
	again := &model.WasteListing{
		DocumentID:     "doc-1",
		MaterialLabel:  "copper wire scrap",
		MaterialTypeID: "CU-WIRE1",
		CompanyName:    "ACME STEEL",
		QuantityTons:   12.5,
		Year:           2025,
		PricePerTon:    &price,
	}
	outcome, err = st.UpsertWasteListing(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)
	assert.Equal(t, firstID, again.ID)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.WasteListings)
}

func TestSQLiteStore_EmissionUpsertAndGet(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	s1 := 400.0
	rec := &model.CarbonEmissionRecord{
		CompanyName: "ACME STEEL",
		Year:        2024,
		CO2Tons:     1000,
		Scope1Tons:  &s1,
		Verified:    true,
	}
	outcome, err := st.UpsertCarbonEmission(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, outcome)

	got, err := st.GetCarbonEmission(ctx, "ACME STEEL", 2024)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1000.0, got.CO2Tons)
	require.NotNil(t, got.Scope1Tons)
	assert.Equal(t, 400.0, *got.Scope1Tons)
	assert.Nil(t, got.Scope2Tons)
	assert.True(t, got.Verified)

	// A revised report for the same company+year replaces the values.
	rec2 := &model.CarbonEmissionRecord{CompanyName: "ACME STEEL", Year: 2024, CO2Tons: 950}
	outcome, err = st.UpsertCarbonEmission(ctx, rec2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)
	assert.Equal(t, got.ID, rec2.ID)

	missing, err := st.GetCarbonEmission(ctx, "ACME STEEL", 1999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteStore_ExchangeUpsertIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ex := &model.SymbiosisExchange{
		SourceCompany: "ACME STEEL",
		TargetCompany: "ZENITH CEMENT",
		MaterialLabel: "slag",
		Year:          2025,
		VolumeTons:    5000,
	}
	outcome, err := st.UpsertSymbiosisExchange(ctx, ex)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, outcome)

	outcome, err = st.UpsertSymbiosisExchange(ctx, ex)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Exchanges)
}

func TestSQLiteStore_QuotesJoinThroughMapping(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	q := &model.RawPriceQuote{
		MaterialLabel: "Copper Wire Scrap",
		PriceValue:    250,
		PriceUnit:     "tonne",
		Currency:      "USD",
		Source:        "scrapmonster",
		FetchedAt:     time.Now().UTC(),
	}
	require.NoError(t, st.AppendPriceQuotes(ctx, []PriceQuoteAppend{
		{Quote: q, NormalizedLabel: "copper wire scrap"},
	}))
	assert.NotZero(t, q.ID)

	// No mapping yet: the quote is invisible to the aggregator.
	quotes, err := st.ListQuotesForMaterialType(ctx, "CU-WIRE1")
	require.NoError(t, err)
	assert.Empty(t, quotes)

	require.NoError(t, st.UpsertMaterialMapping(ctx, &model.MaterialTypeMapping{
		WasteMaterialLabel: "copper wire scrap",
		MaterialTypeID:     "CU-WIRE1",
		MatchConfidence:    0.92,
	}))

	quotes, err = st.ListQuotesForMaterialType(ctx, "CU-WIRE1")
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "Copper Wire Scrap", quotes[0].MaterialLabel)

	m, err := st.GetMaterialMapping(ctx, "copper wire scrap")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "CU-WIRE1", m.MaterialTypeID)
	assert.InDelta(t, 0.92, m.MatchConfidence, 1e-9)
}

func TestSQLiteStore_ValuationRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	v := &model.MaterialValuation{
		MaterialTypeID:  "CU-WIRE1",
		MaterialName:    "copper wire 1",
		PricePerTonUSD:  250,
		PriceRangeLow:   200,
		PriceRangeHigh:  300,
		SourceCount:     3,
		ConfidenceScore: 0.6,
	}
	require.NoError(t, st.UpsertValuation(ctx, v))

	got, err := st.GetValuation(ctx, "CU-WIRE1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, 250.0, got.PricePerTonUSD, 1e-9)
	assert.False(t, got.Stale)

	require.NoError(t, st.MarkValuationStale(ctx, "CU-WIRE1"))
	got, err = st.GetValuation(ctx, "CU-WIRE1")
	require.NoError(t, err)
	assert.True(t, got.Stale)

	// The non-positive guard holds at the write boundary.
	err = st.UpsertValuation(ctx, &model.MaterialValuation{MaterialTypeID: "CU-WIRE1", PricePerTonUSD: 0})
	assert.True(t, model.IsConsistency(err))

	missing, err := st.GetValuation(ctx, "AL-6063")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteStore_MergeCompanies(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedDocument(t, st, "doc-1")

	surviving := &model.Company{CanonicalName: "ACME STEEL", Aliases: []string{"ACME STEEL"}}
	losing := &model.Company{CanonicalName: "ACME STEEL CORP", Aliases: []string{"ACME STEEL CORP", "ACME STEEL CORPORATION"}}
	require.NoError(t, st.CreateCompany(ctx, surviving))
	require.NoError(t, st.CreateCompany(ctx, losing))

	l := &model.WasteListing{
		DocumentID:    "doc-1",
		MaterialLabel: "steel turnings",
		CompanyName:   "ACME STEEL CORP",
		CompanyID:     &losing.ID,
		QuantityTons:  40,
		Year:          2025,
	}
	_, err := st.UpsertWasteListing(ctx, l)
	require.NoError(t, err)

	require.NoError(t, st.MergeCompanies(ctx, surviving.ID, losing.ID))

	gone, err := st.GetCompany(ctx, losing.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	merged, err := st.GetCompany(ctx, surviving.ID)
	require.NoError(t, err)
	require.NotNil(t, merged)
	assert.True(t, merged.HasAlias("ACME STEEL CORP"))
	assert.True(t, merged.HasAlias("ACME STEEL CORPORATION"))

	// The loser's canonical name now resolves to the survivor.
	byName, err := st.GetCompanyByName(ctx, "ACME STEEL CORP")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, surviving.ID, byName.ID)

	listings, err := st.ListListingsWithValue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	require.NotNil(t, listings[0].Listing.CompanyID)
	assert.Equal(t, surviving.ID, *listings[0].Listing.CompanyID)
}

func TestSQLiteStore_ListListingsWithValue(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedDocument(t, st, "doc-1")

	require.NoError(t, st.UpsertValuation(ctx, &model.MaterialValuation{
		MaterialTypeID:  "CU-WIRE1",
		MaterialName:    "copper wire 1",
		PricePerTonUSD:  200,
		ConfidenceScore: 0.8,
	}))

	_, err := st.UpsertWasteListing(ctx, &model.WasteListing{
		DocumentID:     "doc-1",
		MaterialLabel:  "copper wire scrap",
		MaterialTypeID: "CU-WIRE1",
		CompanyName:    "ACME STEEL",
		QuantityTons:   10,
		Year:           2025,
	})
	require.NoError(t, err)
	_, err = st.UpsertWasteListing(ctx, &model.WasteListing{
		DocumentID:    "doc-1",
		MaterialLabel: "mystery sludge",
		CompanyName:   "ACME STEEL",
		QuantityTons:  3,
		Year:          2025,
	})
	require.NoError(t, err)

	out, err := st.ListListingsWithValue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, out, 2)

	valued := out[0]
	require.NotNil(t, valued.EstimatedValue)
	assert.InDelta(t, 2000.0, *valued.EstimatedValue, 1e-9)
	require.NotNil(t, valued.PricePerTonUSD)
	assert.InDelta(t, 200.0, *valued.PricePerTonUSD, 1e-9)

	unmapped := out[1]
	assert.Nil(t, unmapped.EstimatedValue, "unmapped material has no valuation")
	assert.Nil(t, unmapped.PricePerTonUSD)
}

func TestSQLiteStore_FraudFlags(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	f := &model.FraudFlag{
		EntityType: model.EntityListing,
		EntityKey:  "listing:doc-1|x|ACME|2025|1.0000",
		FlagType:   model.FlagFutureDate,
		Severity:   model.SeverityCritical,
		Confidence: 0.6,
	}
	require.NoError(t, st.InsertFraudFlag(ctx, f))
	assert.NotZero(t, f.ID)
	assert.Equal(t, model.FlagOpen, f.Status)

	resolved := &model.FraudFlag{
		EntityType: model.EntityListing,
		EntityKey:  "listing:doc-1|y|ACME|2025|1.0000",
		FlagType:   model.FlagZeroPrice,
		Severity:   model.SeverityLow,
		Status:     model.FlagResolved,
	}
	require.NoError(t, st.InsertFraudFlag(ctx, resolved))

	open, err := st.ListFraudFlags(ctx, model.FlagOpen, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, model.FlagFutureDate, open[0].FlagType)

	all, err := st.ListFraudFlags(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteStore_RunLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	run := &model.PipelineRun{PipelineType: "process", Domain: "waste", Source: "test"}
	require.NoError(t, st.CreateRun(ctx, run))
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	require.NoError(t, st.CompleteRun(ctx, run.ID, 10, 2))

	runs, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusCompleted})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, 10, runs[0].DocumentsProcessed)
	assert.Equal(t, 2, runs[0].DocumentsFailed)
	require.NotNil(t, runs[0].CompletedAt)

	// Terminal states are final: a second transition is rejected.
	assert.Error(t, st.CompleteRun(ctx, run.ID, 10, 2))
	assert.Error(t, st.FailRun(ctx, run.ID, 10, 2, "boom"))

	failed := &model.PipelineRun{PipelineType: "process", Domain: "carbon"}
	require.NoError(t, st.CreateRun(ctx, failed))
	require.NoError(t, st.FailRun(ctx, failed.ID, 0, 5, "extraction timeout"))

	runs, err = st.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "extraction timeout", runs[0].Error)

	runs, err = st.ListRuns(ctx, RunFilter{Domain: "waste"})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSQLiteStore_Stats(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedDocument(t, st, "doc-1")

	require.NoError(t, st.CreateCompany(ctx, &model.Company{CanonicalName: "ACME STEEL"}))
	_, err := st.UpsertWasteListing(ctx, &model.WasteListing{
		DocumentID: "doc-1", MaterialLabel: "x", CompanyName: "ACME STEEL", QuantityTons: 1, Year: 2025,
	})
	require.NoError(t, err)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, 1, stats.Companies)
	assert.Equal(t, 1, stats.WasteListings)
	assert.Zero(t, stats.OpenFraudFlags)
}
