package valuation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symbio-data/engine-cli/internal/model"
)

func TestToUSDPerTon(t *testing.T) {
	tests := []struct {
		name     string
		price    float64
		unit     string
		currency string
		want     float64
	}{
		{"usd per metric ton", 250, "metric_ton", "USD", 250},
		{"tonne alias", 250, "tonnes", "USD", 250},
		{"short ton", 100, "ton", "USD", 100 / 0.907185},
		{"kilograms", 0.25, "kg", "USD", 250},
		{"pounds plural", 0.10, "lbs", "USD", 0.10 / 0.000453592},
		{"hundredweight", 12, "cwt", "USD", 12 / 0.0453592},
		{"euros", 100, "tonne", "EUR", 108},
		{"unit casing and spaces", 250, " Metric Tons ", "usd", 250},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &model.RawPriceQuote{PriceValue: tt.price, PriceUnit: tt.unit, Currency: tt.currency}
			got, err := ToUSDPerTon(q)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestToUSDPerTon_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		quote model.RawPriceQuote
	}{
		{"unknown unit", model.RawPriceQuote{PriceValue: 10, PriceUnit: "barrels", Currency: "USD"}},
		{"unknown currency", model.RawPriceQuote{PriceValue: 10, PriceUnit: "ton", Currency: "XYZ"}},
		{"zero price", model.RawPriceQuote{PriceValue: 0, PriceUnit: "ton", Currency: "USD"}},
		{"negative price", model.RawPriceQuote{PriceValue: -5, PriceUnit: "ton", Currency: "USD"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ToUSDPerTon(&tt.quote)
			assert.True(t, model.IsValidation(err))
		})
	}
}
