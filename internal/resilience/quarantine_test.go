package resilience

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symbio-data/engine-cli/internal/model"
)

func TestQuarantine_AppendsNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quarantine.ndjson")
	q := NewQuarantine(path)
	require.NotNil(t, q)

	entries := []QuarantineEntry{
		{
			RunID: "run-1",
			Key:   "listing:doc-x|copper|ACME|2025|1.0000",
			Record: model.RawRecord{
				Kind:    model.KindListing,
				Listing: &model.WasteListing{DocumentID: "doc-x", MaterialLabel: "copper", CompanyName: "ACME", QuantityTons: 1, Year: 2025},
			},
			Error:     "document doc-x not found",
			ErrorType: "permanent",
		},
		{
			RunID:     "run-1",
			Key:       "emission:ACME|2025",
			Error:     "database is locked",
			ErrorType: "transient",
		},
	}
	for _, e := range entries {
		require.NoError(t, q.Add(e))
	}

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var decoded []QuarantineEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e QuarantineEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		decoded = append(decoded, e)
	}
	require.NoError(t, sc.Err())

	require.Len(t, decoded, 2)
	assert.Equal(t, "listing:doc-x|copper|ACME|2025|1.0000", decoded[0].Key)
	assert.Equal(t, model.KindListing, decoded[0].Record.Kind)
	assert.False(t, decoded[0].QuarantinedAt.IsZero(), "timestamp filled in on append")
	assert.Equal(t, "transient", decoded[1].ErrorType)
}

func TestQuarantine_NilSinkDropsEntries(t *testing.T) {
	q := NewQuarantine("")
	assert.Nil(t, q)
	assert.NoError(t, q.Add(QuarantineEntry{Key: "x"}))
}
