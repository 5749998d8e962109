package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	mock := newMockPool(t)

	n, err := CopyFrom(context.Background(), mock, "raw_price_quotes", []string{"material_label"}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom(t *testing.T) {
	mock := newMockPool(t)
	cols := []string{"material_label", "price_value"}
	mock.ExpectCopyFrom(pgx.Identifier{"raw_price_quotes"}, cols).WillReturnResult(2)

	n, err := CopyFrom(context.Background(), mock, "raw_price_quotes", cols, [][]any{
		{"copper wire scrap", 250.0},
		{"aluminum 6063", 180.0},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
