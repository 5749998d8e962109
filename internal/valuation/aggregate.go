package valuation

import (
	"context"
	"fmt"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/symbio-data/engine-cli/internal/model"
)

// Tunable defaults. The source data does not pin these down; they are
// engineering choices exposed through configuration.
const (
	DefaultStalenessMonths   = 12
	DefaultOutlierMultiplier = 3.0
	DefaultConfidenceDivisor = 5
)

// Store is the persistence surface the aggregator needs.
type Store interface {
	ListQuotesForMaterialType(ctx context.Context, materialTypeID string) ([]model.RawPriceQuote, error)
	GetMaterialType(ctx context.Context, id string) (*model.MaterialType, error)
	GetValuation(ctx context.Context, materialTypeID string) (*model.MaterialValuation, error)
	UpsertValuation(ctx context.Context, v *model.MaterialValuation) error
	MarkValuationStale(ctx context.Context, materialTypeID string) error
}

// Aggregator recomputes one valuation per material type from all raw
// quotes currently mapped to it. The whole aggregate is recomputed from
// scratch on every invocation rather than maintained incrementally, so
// outlier exclusion and the staleness window can never drift from the true
// value.
type Aggregator struct {
	store             Store
	stalenessMonths   int
	outlierMultiplier float64
	confidenceDivisor int
	now               func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithStalenessMonths overrides the trailing quote window.
func WithStalenessMonths(months int) Option {
	return func(a *Aggregator) {
		if months > 0 {
			a.stalenessMonths = months
		}
	}
}

// WithOutlierMultiplier overrides the median multiple beyond which quotes
// are excluded from the mean.
func WithOutlierMultiplier(m float64) Option {
	return func(a *Aggregator) {
		if m > 0 {
			a.outlierMultiplier = m
		}
	}
}

// WithConfidenceDivisor overrides the source count at which confidence
// saturates.
func WithConfidenceDivisor(d int) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.confidenceDivisor = d
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator builds an aggregator with default tunables.
func NewAggregator(store Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:             store,
		stalenessMonths:   DefaultStalenessMonths,
		outlierMultiplier: DefaultOutlierMultiplier,
		confidenceDivisor: DefaultConfidenceDivisor,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Recompute derives the valuation for one material type. The computation
// is pure and re-entrant: identical inputs always produce an identical row
// apart from last_updated. When no fresh quotes remain, the prior
// valuation is retained and marked stale rather than deleted.
func (a *Aggregator) Recompute(ctx context.Context, materialTypeID string) (*model.MaterialValuation, error) {
	mt, err := a.store.GetMaterialType(ctx, materialTypeID)
	if err != nil {
		return nil, eris.Wrapf(err, "valuation: load material type %s", materialTypeID)
	}
	if mt == nil {
		return nil, &model.UnresolvedReferenceError{RefType: "material_type", Ref: materialTypeID}
	}

	quotes, err := a.store.ListQuotesForMaterialType(ctx, materialTypeID)
	if err != nil {
		return nil, eris.Wrapf(err, "valuation: load quotes for %s", materialTypeID)
	}

	cutoff := a.now().AddDate(0, -a.stalenessMonths, 0)
	prices := make([]float64, 0, len(quotes))
	sources := make(map[string]struct{}, len(quotes))
	for i := range quotes {
		q := &quotes[i]
		if q.FetchedAt.Before(cutoff) {
			continue
		}
		usdPerTon, err := ToUSDPerTon(q)
		if err != nil {
			zap.L().Warn("valuation: quote skipped",
				zap.String("material_type_id", materialTypeID),
				zap.Int64("quote_id", q.ID),
				zap.Error(err),
			)
			continue
		}
		prices = append(prices, usdPerTon)
		sources[q.Source] = struct{}{}
	}

	if len(prices) == 0 {
		if err := a.store.MarkValuationStale(ctx, materialTypeID); err != nil {
			return nil, eris.Wrapf(err, "valuation: mark stale %s", materialTypeID)
		}
		zap.L().Info("valuation: no fresh quotes, prior valuation retained",
			zap.String("material_type_id", materialTypeID),
		)
		return a.store.GetValuation(ctx, materialTypeID)
	}

	kept, excluded := excludeOutliers(prices, a.outlierMultiplier)

	mean, err := stats.Mean(kept)
	if err != nil {
		return nil, eris.Wrapf(err, "valuation: mean for %s", materialTypeID)
	}
	low, _ := stats.Min(kept)
	high, _ := stats.Max(kept)

	if mean <= 0 {
		// Never write a non-positive canonical price; the previous
		// valuation stays in place and the failure is surfaced.
		return nil, &model.ConsistencyError{
			Detail: fmt.Sprintf("non-positive aggregate price %.4f for %s", mean, materialTypeID),
		}
	}

	// Outliers are excluded from the mean but their sources still count:
	// source_count is a diagnostic of corroboration, not of agreement.
	confidence := float64(len(sources)) / float64(a.confidenceDivisor)
	if confidence > 1.0 {
		confidence = 1.0
	}

	v := &model.MaterialValuation{
		MaterialTypeID:   materialTypeID,
		MaterialName:     mt.Name,
		MaterialCategory: mt.Category,
		PricePerTonUSD:   mean,
		PriceRangeLow:    low,
		PriceRangeHigh:   high,
		SourceCount:      len(sources),
		ConfidenceScore:  confidence,
		Stale:            false,
		LastUpdated:      a.now().UTC(),
	}
	if err := a.store.UpsertValuation(ctx, v); err != nil {
		return nil, eris.Wrapf(err, "valuation: upsert %s", materialTypeID)
	}

	zap.L().Info("valuation: recomputed",
		zap.String("material_type_id", materialTypeID),
		zap.Float64("price_per_ton_usd", mean),
		zap.Int("source_count", len(sources)),
		zap.Int("outliers_excluded", excluded),
	)
	return v, nil
}

// excludeOutliers drops prices beyond multiplier x median, preventing a
// single corrupted scrape from dominating the aggregate. Returns the kept
// prices and the excluded count.
func excludeOutliers(prices []float64, multiplier float64) ([]float64, int) {
	if len(prices) < 2 {
		return prices, 0
	}
	median, err := stats.Median(prices)
	if err != nil || median <= 0 {
		return prices, 0
	}

	kept := make([]float64, 0, len(prices))
	for _, p := range prices {
		if p > median*multiplier {
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return prices, 0
	}
	return kept, len(prices) - len(kept)
}
