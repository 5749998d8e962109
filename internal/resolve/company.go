package resolve

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/symbio-data/engine-cli/internal/model"
)

// DefaultCompanyThreshold is stricter than the material threshold:
// company names are higher-stakes and collision-prone, and a wrong merge
// contaminates every fact attached to the identity.
const DefaultCompanyThreshold = 0.85

// CompanyStore is the persistence surface the company resolver needs.
type CompanyStore interface {
	GetCompanyByName(ctx context.Context, normalized string) (*model.Company, error)
	ListCompanies(ctx context.Context) ([]model.Company, error)
	CreateCompany(ctx context.Context, c *model.Company) error
	AddCompanyAlias(ctx context.Context, companyID int64, alias string) error
	MergeCompanies(ctx context.Context, survivingID, losingID int64) error
}

// CompanyResolver maps raw company names to canonical company ids. Unlike
// the material resolver it always succeeds for non-empty names: an
// unmatched company harmlessly starts a new identity, so auto-creation is
// safe here.
type CompanyResolver struct {
	store     CompanyStore
	threshold float64

	// Serializes the lookup-then-create window and excludes resolution
	// during an in-process merge.
	mu sync.Mutex
}

// NewCompanyResolver builds a resolver with the given fuzzy threshold.
func NewCompanyResolver(store CompanyStore, threshold float64) *CompanyResolver {
	if threshold <= 0 {
		threshold = DefaultCompanyThreshold
	}
	return &CompanyResolver{store: store, threshold: threshold}
}

// Resolve returns the canonical company id for a raw name, creating a new
// canonical company when nothing matches above the threshold. created
// reports whether a new identity was minted.
func (r *CompanyResolver) Resolve(ctx context.Context, rawName, industryHint string) (companyID int64, created bool, err error) {
	normalized := NormalizeCompany(rawName)
	if normalized == "" {
		return 0, false, model.NewValidationError("company_name", "empty or non-text name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Pass 1: exact match on canonical name or any alias.
	existing, err := r.store.GetCompanyByName(ctx, normalized)
	if err != nil {
		return 0, false, eris.Wrapf(err, "resolve: company lookup %q", normalized)
	}
	if existing != nil {
		return existing.ID, false, nil
	}

	// Pass 2: fuzzy match over canonical names and aliases.
	companies, err := r.store.ListCompanies(ctx)
	if err != nil {
		return 0, false, eris.Wrap(err, "resolve: list companies")
	}

	var (
		best      *model.Company
		bestScore float64
	)
	for i := range companies {
		c := &companies[i]
		score := Similarity(normalized, c.CanonicalName)
		for _, alias := range c.Aliases {
			if s := Similarity(normalized, alias); s > score {
				score = s
			}
		}
		if score > bestScore {
			best, bestScore = c, score
		}
	}

	if best != nil && bestScore >= r.threshold {
		if !best.HasAlias(normalized) {
			if err := r.store.AddCompanyAlias(ctx, best.ID, normalized); err != nil {
				return 0, false, eris.Wrapf(err, "resolve: add alias %q", normalized)
			}
		}
		zap.L().Debug("resolve: company fuzzy-matched",
			zap.String("raw_name", rawName),
			zap.String("canonical", best.CanonicalName),
			zap.Float64("similarity", bestScore),
		)
		return best.ID, false, nil
	}

	// Pass 3: no match, start a new canonical identity.
	company := &model.Company{
		CanonicalName: normalized,
		Aliases:       []string{normalized},
		Industry:      industryHint,
	}
	if err := r.store.CreateCompany(ctx, company); err != nil {
		return 0, false, eris.Wrapf(err, "resolve: create company %q", normalized)
	}

	zap.L().Info("resolve: created canonical company",
		zap.String("raw_name", rawName),
		zap.String("canonical", normalized),
		zap.Int64("company_id", company.ID),
	)
	return company.ID, true, nil
}

// Merge folds losingID into survivingID: aliases are unioned, foreign
// references re-pointed, and the losing row deleted, all in one store
// transaction. Partial application is a correctness bug, so any error
// aborts the whole operation. No resolution runs while a merge is in
// flight.
func (r *CompanyResolver) Merge(ctx context.Context, survivingID, losingID int64) error {
	if survivingID == losingID {
		return model.NewValidationError("company_id", "cannot merge a company into itself")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.MergeCompanies(ctx, survivingID, losingID); err != nil {
		return eris.Wrapf(err, "resolve: merge company %d into %d", losingID, survivingID)
	}

	zap.L().Info("resolve: merged companies",
		zap.Int64("surviving_id", survivingID),
		zap.Int64("losing_id", losingID),
	)
	return nil
}
