package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symbio-data/engine-cli/internal/model"
)

// anyArgs returns n pgxmock.AnyArg matchers for expectations that do
// not assert on argument values.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresFromPool(mock), mock
}

func TestPostgresStore_GetMaterialTypeNotFound(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id, name, COALESCE`).
		WithArgs("UNOBTANIUM").
		WillReturnError(pgx.ErrNoRows)

	mt, err := st.GetMaterialType(context.Background(), "UNOBTANIUM")
	require.NoError(t, err)
	assert.Nil(t, mt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMaterialType(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id, name, COALESCE`).
		WithArgs("CU-WIRE1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "category"}).
			AddRow("CU-WIRE1", "copper wire 1", "metals"))

	mt, err := st.GetMaterialType(context.Background(), "CU-WIRE1")
	require.NoError(t, err)
	require.NotNil(t, mt)
	assert.Equal(t, "copper wire 1", mt.Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DocumentExists(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("doc-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := st.DocumentExists(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertDocumentOutcomes(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO documents`).
		WithArgs(anyArgs(6)...).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))
	mock.ExpectQuery(`INSERT INTO documents`).
		WithArgs(anyArgs(6)...).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(false))

	d := &model.Document{ID: "doc-1", Source: "test"}
	outcome, err := st.UpsertDocument(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, outcome)

	outcome, err = st.UpsertDocument(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

// The quote append rides the COPY protocol rather than row-at-a-time
// inserts.
func TestPostgresStore_AppendPriceQuotesUsesCopy(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectCopyFrom(pgx.Identifier{"raw_price_quotes"}, priceQuoteColumns).
		WillReturnResult(2)

	err := st.AppendPriceQuotes(context.Background(), []PriceQuoteAppend{
		{Quote: &model.RawPriceQuote{MaterialLabel: "Copper Wire Scrap", PriceValue: 250, PriceUnit: "tonne", Currency: "USD", Source: "scrapmonster"}, NormalizedLabel: "copper wire scrap"},
		{Quote: &model.RawPriceQuote{MaterialLabel: "Aluminum 6063", PriceValue: 180, PriceUnit: "tonne", Currency: "USD", Source: "scrapmonster"}, NormalizedLabel: "aluminum 6063"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendPriceQuotesEmpty(t *testing.T) {
	st, mock := newMockStore(t)

	// No COPY expected for an empty batch.
	require.NoError(t, st.AppendPriceQuotes(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

// xmax = 0 on the returned row distinguishes a fresh insert from a
// natural-key conflict update.
func TestPostgresStore_UpsertWasteListingOutcomes(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO waste_listings`).
		WithArgs(anyArgs(12)...).
		WillReturnRows(pgxmock.NewRows([]string{"id", "inserted"}).AddRow(int64(1), true))
	mock.ExpectQuery(`INSERT INTO waste_listings`).
		WithArgs(anyArgs(12)...).
		WillReturnRows(pgxmock.NewRows([]string{"id", "inserted"}).AddRow(int64(1), false))

	l := &model.WasteListing{
		DocumentID:    "doc-1",
		MaterialLabel: "copper wire scrap",
		CompanyName:   "ACME STEEL",
		QuantityTons:  12.5,
		Year:          2025,
	}
	outcome, err := st.UpsertWasteListing(context.Background(), l)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, outcome)
	assert.Equal(t, int64(1), l.ID)

	outcome, err = st.UpsertWasteListing(context.Background(), l)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertValuationGuard(t *testing.T) {
	st, mock := newMockStore(t)

	// No query expected: the guard rejects before touching the pool.
	err := st.UpsertValuation(context.Background(), &model.MaterialValuation{
		MaterialTypeID: "CU-WIRE1",
		PricePerTonUSD: 0,
	})
	assert.True(t, model.IsConsistency(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRunAlreadyTerminal(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE pipeline_runs`).
		WithArgs(anyArgs(5)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.CompleteRun(context.Background(), "run-1", 10, 0)
	assert.Error(t, err, "terminal runs reject further transitions")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE pipeline_runs`).
		WithArgs(anyArgs(5)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, st.CompleteRun(context.Background(), "run-1", 10, 2))
	require.NoError(t, mock.ExpectationsWereMet())
}
