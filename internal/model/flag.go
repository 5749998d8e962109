package model

import "time"

// Flag entity types.
const (
	EntityListing  = "waste_listing"
	EntityEmission = "carbon_emission"
	EntityExchange = "symbiosis_exchange"
)

// Flag types raised by the detector.
const (
	FlagFutureDate          = "future_date"
	FlagNonPositiveQuantity = "non_positive_quantity"
	FlagUnresolvedReference = "unresolved_reference"
	FlagImplausibleDrop     = "implausible_reduction"
	FlagScopeMismatch       = "scope_mismatch"
	FlagIndustryMismatch    = "industry_material_mismatch"
	FlagZeroPrice           = "zero_price"
)

// Flag severities.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Flag lifecycle states. The detector only ever creates flags in open
// state; the remaining transitions belong to the external review workflow.
const (
	FlagOpen          = "open"
	FlagInvestigating = "investigating"
	FlagResolved      = "resolved"
	FlagFalsePositive = "false_positive"
)

// FraudFlag is an advisory implausibility signal attached to a record.
// Flags never block ingestion.
type FraudFlag struct {
	ID         int64     `json:"id" db:"id"`
	EntityType string    `json:"entity_type" db:"entity_type"`
	EntityKey  string    `json:"entity_key" db:"entity_key"`
	FlagType   string    `json:"flag_type" db:"flag_type"`
	Severity   string    `json:"severity" db:"severity"`
	Confidence float64   `json:"confidence" db:"confidence"`
	Status     string    `json:"status" db:"status"`
	Detail     string    `json:"detail,omitempty" db:"detail"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
