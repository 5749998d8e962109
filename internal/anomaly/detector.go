// Package anomaly scores records for statistical implausibility and emits
// advisory fraud flags. Detection never blocks ingestion.
package anomaly

import (
	"fmt"
	"strings"
	"time"

	"github.com/symbio-data/engine-cli/internal/model"
)

// Per-check weights. A record's anomaly score is the sum of the weights of
// its triggered checks, capped at 1.0.
var checkWeights = map[string]float64{
	model.FlagFutureDate:          0.6,
	model.FlagNonPositiveQuantity: 0.6,
	model.FlagUnresolvedReference: 0.4,
	model.FlagImplausibleDrop:     0.3,
	model.FlagScopeMismatch:       0.3,
	model.FlagIndustryMismatch:    0.25,
	model.FlagZeroPrice:           0.2,
}

// Weight returns the fixed score contribution of a flag type.
func Weight(flagType string) float64 {
	return checkWeights[flagType]
}

// Score combines triggered checks into an anomaly score in [0,1].
func Score(flags []model.FraudFlag) float64 {
	var score float64
	for _, f := range flags {
		score += Weight(f.FlagType)
	}
	if score > 1.0 {
		return 1.0
	}
	return score
}

// Tunable defaults.
const (
	// DefaultImplausibleDrop flags a single-year emissions reduction
	// above this fraction when no verification record backs it.
	DefaultImplausibleDrop = 0.60
	// DefaultScopeTolerance allows the scope breakdown to deviate from
	// the reported total by this fraction before flagging.
	DefaultScopeTolerance = 0.10
)

// serviceIndustries are sectors that do not plausibly generate heavy
// industrial process waste. A listing pairing one of these with an
// electroplating or solvent stream is a classic extraction hallucination.
var serviceIndustries = []string{"finance", "telecom", "software", "services", "insurance", "retail banking"}

var implausibleServiceMaterials = []string{"electroplating", "metal finishing", "solvent", "pickling liquor"}

// Detector applies per-record-type implausibility checks.
type Detector struct {
	implausibleDrop float64
	scopeTolerance  float64
	now             func() time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithImplausibleDrop overrides the flagged year-over-year reduction fraction.
func WithImplausibleDrop(f float64) Option {
	return func(d *Detector) {
		if f > 0 {
			d.implausibleDrop = f
		}
	}
}

// WithScopeTolerance overrides the allowed scope-sum deviation fraction.
func WithScopeTolerance(f float64) Option {
	return func(d *Detector) {
		if f > 0 {
			d.scopeTolerance = f
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// NewDetector builds a detector with default thresholds.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		implausibleDrop: DefaultImplausibleDrop,
		scopeTolerance:  DefaultScopeTolerance,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func newFlag(entityType, entityKey, flagType, severity, detail string) model.FraudFlag {
	return model.FraudFlag{
		EntityType: entityType,
		EntityKey:  entityKey,
		FlagType:   flagType,
		Severity:   severity,
		Confidence: Weight(flagType),
		Status:     model.FlagOpen,
		Detail:     detail,
	}
}

// UnresolvedReferenceFlag is raised by the coordinator when a record
// references a document, material, or company that does not resolve. The
// record is excluded from aggregation until fixed.
func UnresolvedReferenceFlag(entityType, entityKey, refType, ref string) model.FraudFlag {
	return newFlag(entityType, entityKey, model.FlagUnresolvedReference, model.SeverityHigh,
		fmt.Sprintf("unresolved %s reference %q", refType, ref))
}

// CheckListing applies listing checks: temporal validity, mass
// conservation, ghost pricing, and industry/material plausibility.
func (d *Detector) CheckListing(l *model.WasteListing) []model.FraudFlag {
	var flags []model.FraudFlag
	key := l.NaturalKey()

	if l.Year > d.now().Year() {
		flags = append(flags, newFlag(model.EntityListing, key, model.FlagFutureDate,
			model.SeverityCritical, fmt.Sprintf("listing year %d is in the future", l.Year)))
	}
	if l.QuantityTons <= 0 {
		flags = append(flags, newFlag(model.EntityListing, key, model.FlagNonPositiveQuantity,
			model.SeverityCritical, fmt.Sprintf("quantity %.4f tons is not positive", l.QuantityTons)))
	}
	if l.PricePerTon != nil && *l.PricePerTon == 0 {
		flags = append(flags, newFlag(model.EntityListing, key, model.FlagZeroPrice,
			model.SeverityLow, "zero price on a priced listing"))
	}
	if f, bad := d.checkIndustryMaterial(l); bad {
		flags = append(flags, f)
	}

	return flags
}

func (d *Detector) checkIndustryMaterial(l *model.WasteListing) (model.FraudFlag, bool) {
	industry := strings.ToLower(l.Industry)
	if industry == "" {
		return model.FraudFlag{}, false
	}
	service := false
	for _, s := range serviceIndustries {
		if strings.Contains(industry, s) {
			service = true
			break
		}
	}
	if !service {
		return model.FraudFlag{}, false
	}

	material := strings.ToLower(l.MaterialLabel)
	for _, m := range implausibleServiceMaterials {
		if strings.Contains(material, m) {
			return newFlag(model.EntityListing, l.NaturalKey(), model.FlagIndustryMismatch,
				model.SeverityMedium,
				fmt.Sprintf("%s industry listing %s waste", l.Industry, l.MaterialLabel)), true
		}
	}
	return model.FraudFlag{}, false
}

// CheckExchange applies exchange checks: temporal validity, mass
// conservation on the exchanged volume, and sign of the claimed savings.
func (d *Detector) CheckExchange(ex *model.SymbiosisExchange) []model.FraudFlag {
	var flags []model.FraudFlag
	key := ex.NaturalKey()

	if ex.Year > d.now().Year() {
		flags = append(flags, newFlag(model.EntityExchange, key, model.FlagFutureDate,
			model.SeverityCritical, fmt.Sprintf("exchange year %d is in the future", ex.Year)))
	}
	if ex.VolumeTons <= 0 {
		flags = append(flags, newFlag(model.EntityExchange, key, model.FlagNonPositiveQuantity,
			model.SeverityCritical, fmt.Sprintf("volume %.4f tons is not positive", ex.VolumeTons)))
	}
	if ex.CO2SavingsTons != nil && *ex.CO2SavingsTons < 0 {
		flags = append(flags, newFlag(model.EntityExchange, key, model.FlagNonPositiveQuantity,
			model.SeverityMedium, fmt.Sprintf("claimed co2 savings %.4f tons is negative", *ex.CO2SavingsTons)))
	}

	return flags
}

// CheckEmission applies emission checks: temporal validity, mass
// conservation, trend plausibility against the prior year, and scope
// breakdown consistency. prior may be nil when no earlier record exists.
func (d *Detector) CheckEmission(rec *model.CarbonEmissionRecord, prior *model.CarbonEmissionRecord) []model.FraudFlag {
	var flags []model.FraudFlag
	key := rec.NaturalKey()
	now := d.now()

	if rec.Year > now.Year() || (rec.ReportDate != nil && rec.ReportDate.After(now)) {
		flags = append(flags, newFlag(model.EntityEmission, key, model.FlagFutureDate,
			model.SeverityCritical, fmt.Sprintf("emission year %d is in the future", rec.Year)))
	}
	if rec.CO2Tons <= 0 {
		flags = append(flags, newFlag(model.EntityEmission, key, model.FlagNonPositiveQuantity,
			model.SeverityCritical, fmt.Sprintf("co2_tons %.4f is not positive", rec.CO2Tons)))
	}

	if prior != nil && prior.CO2Tons > 0 && rec.CO2Tons > 0 && !rec.Verified {
		drop := (prior.CO2Tons - rec.CO2Tons) / prior.CO2Tons
		if drop > d.implausibleDrop {
			flags = append(flags, newFlag(model.EntityEmission, key, model.FlagImplausibleDrop,
				model.SeverityMedium,
				fmt.Sprintf("unverified %.0f%% reduction from %d to %d", drop*100, prior.Year, rec.Year)))
		}
	}

	if f, bad := d.checkScopes(rec); bad {
		flags = append(flags, f)
	}

	return flags
}

// checkScopes compares the declared scope breakdown to the reported total.
// A partial breakdown may legitimately undercut the total, so the
// undershoot check only applies when all three scopes are declared.
func (d *Detector) checkScopes(rec *model.CarbonEmissionRecord) (model.FraudFlag, bool) {
	if rec.CO2Tons <= 0 {
		return model.FraudFlag{}, false
	}

	var sum float64
	declared := 0
	for _, s := range []*float64{rec.Scope1Tons, rec.Scope2Tons, rec.Scope3Tons} {
		if s != nil {
			sum += *s
			declared++
		}
	}
	if declared == 0 {
		return model.FraudFlag{}, false
	}

	over := sum > rec.CO2Tons*(1+d.scopeTolerance)
	under := declared == 3 && sum < rec.CO2Tons*(1-d.scopeTolerance)
	if !over && !under {
		return model.FraudFlag{}, false
	}

	return newFlag(model.EntityEmission, rec.NaturalKey(), model.FlagScopeMismatch,
		model.SeverityMedium,
		fmt.Sprintf("scope breakdown %.1f vs total %.1f tons", sum, rec.CO2Tons)), true
}
