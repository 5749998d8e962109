// Package valuation recomputes canonical material valuations from raw
// price quotes.
package valuation

import (
	"strings"

	"github.com/symbio-data/engine-cli/internal/model"
)

// tonsPerUnit converts one mass unit to metric tons. Quote prices are
// quoted per unit, so USD/unit divided by this factor gives USD/ton.
var tonsPerUnit = map[string]float64{
	"metric_ton": 1.0,
	"tonne":      1.0,
	"t":          1.0,
	"mt":         1.0,
	"ton":        0.907185, // US short ton
	"short_ton":  0.907185,
	"long_ton":   1.01605,
	"kg":         0.001,
	"kilogram":   0.001,
	"lb":         0.000453592,
	"pound":      0.000453592,
	"cwt":        0.0453592, // US hundredweight
}

// usdPerCurrency is static FX reference data, refreshed out-of-band by the
// reference-data collaborator. Rates are deliberately coarse: valuations
// carry a confidence score, not basis-point precision.
var usdPerCurrency = map[string]float64{
	"USD": 1.0,
	"EUR": 1.08,
	"GBP": 1.27,
	"CHF": 1.12,
	"SEK": 0.095,
	"NOK": 0.094,
	"DKK": 0.145,
	"JPY": 0.0067,
	"CNY": 0.14,
	"INR": 0.012,
	"AED": 0.27,
	"SAR": 0.27,
	"CAD": 0.73,
	"AUD": 0.66,
}

// normalizeUnit folds unit spelling variants onto the conversion table
// keys ("tonnes", "Metric Tons", "lbs").
func normalizeUnit(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	u = strings.ReplaceAll(u, " ", "_")
	u = strings.TrimSuffix(u, "s")
	switch u {
	case "metric_ton", "metric_tonne":
		return "metric_ton"
	}
	return u
}

// ToUSDPerTon normalizes a raw quote to USD per metric ton. Unknown units
// or currencies reject the quote with a ValidationError; a bad unit must
// not silently skew the aggregate.
func ToUSDPerTon(q *model.RawPriceQuote) (float64, error) {
	tons, ok := tonsPerUnit[normalizeUnit(q.PriceUnit)]
	if !ok || tons <= 0 {
		return 0, model.NewValidationError("price_unit", "unknown unit "+q.PriceUnit)
	}

	rate, ok := usdPerCurrency[strings.ToUpper(strings.TrimSpace(q.Currency))]
	if !ok {
		return 0, model.NewValidationError("currency", "unknown currency "+q.Currency)
	}

	if q.PriceValue <= 0 {
		return 0, model.NewValidationError("price_value", "price must be positive")
	}

	return q.PriceValue * rate / tons, nil
}
