package model

import "time"

// MaterialType is a canonical material identity. The registry is seeded via
// migrations and grows only through curation, never automatically: an
// unmatched label must not mint a bogus identity that pollutes valuations.
type MaterialType struct {
	ID       string `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Category string `json:"category,omitempty" db:"category"`
}

// MaterialTypeMapping links one normalized raw label to a canonical
// material type. Many labels map to one type. Confidence is 1.0 only for
// exact or manually verified matches; fuzzy matches carry their similarity.
type MaterialTypeMapping struct {
	ID                 int64     `json:"id" db:"id"`
	WasteMaterialLabel string    `json:"waste_material_label" db:"waste_material_label"`
	MaterialTypeID     string    `json:"material_type_id" db:"material_type_id"`
	MatchConfidence    float64   `json:"match_confidence" db:"match_confidence"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

// MaterialValuation is the single derived valuation row for a material
// type. It is recomputable at any time from the raw quotes joined through
// current mappings and is never hand-edited.
type MaterialValuation struct {
	ID               int64     `json:"id" db:"id"`
	MaterialTypeID   string    `json:"material_type_id" db:"material_type_id"`
	MaterialName     string    `json:"material_name" db:"material_name"`
	MaterialCategory string    `json:"material_category,omitempty" db:"material_category"`
	PricePerTonUSD   float64   `json:"price_per_ton_usd" db:"price_per_ton_usd"`
	PriceRangeLow    float64   `json:"price_range_low" db:"price_range_low"`
	PriceRangeHigh   float64   `json:"price_range_high" db:"price_range_high"`
	SourceCount      int       `json:"source_count" db:"source_count"`
	ConfidenceScore  float64   `json:"confidence_score" db:"confidence_score"`
	Stale            bool      `json:"stale" db:"stale"`
	LastUpdated      time.Time `json:"last_updated" db:"last_updated"`
}

// Company is a canonical company identity. Aliases accumulate as new raw
// name variants resolve to it.
type Company struct {
	ID            int64     `json:"id" db:"id"`
	CanonicalName string    `json:"canonical_name" db:"canonical_name"`
	Aliases       []string  `json:"aliases" db:"aliases"`
	Industry      string    `json:"industry,omitempty" db:"industry"`
	Country       string    `json:"country,omitempty" db:"country"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// HasAlias reports whether the company already carries the given
// normalized alias.
func (c *Company) HasAlias(alias string) bool {
	for _, a := range c.Aliases {
		if a == alias {
			return true
		}
	}
	return false
}
