package resolve

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/symbio-data/engine-cli/internal/model"
)

// DefaultMaterialThreshold is the fuzzy similarity a label must exceed to
// resolve to an existing material type. A score exactly at the threshold
// stays unmapped.
const DefaultMaterialThreshold = 0.80

// MaterialStore is the persistence surface the material resolver needs.
type MaterialStore interface {
	GetMaterialMapping(ctx context.Context, normalizedLabel string) (*model.MaterialTypeMapping, error)
	UpsertMaterialMapping(ctx context.Context, m *model.MaterialTypeMapping) error
	ListMaterialTypes(ctx context.Context) ([]model.MaterialType, error)
}

// MaterialResolution is the outcome of resolving one label.
type MaterialResolution struct {
	MaterialTypeID string
	Confidence     float64
	Method         string // "exact" or "fuzzy"
}

// Resolution methods.
const (
	MatchExact = "exact"
	MatchFuzzy = "fuzzy"
)

// MaterialResolver maps free-text material labels to canonical material
// type ids. It never creates new canonical identities: a label below the
// fuzzy threshold stays unmapped and is surfaced through the run's backlog
// count rather than force-matched.
type MaterialResolver struct {
	store     MaterialStore
	threshold float64

	mu    sync.Mutex
	cache map[string]*MaterialResolution // nil value = known unmapped
	types []model.MaterialType
}

// NewMaterialResolver builds a resolver with the given fuzzy threshold.
// The per-label cache lives for the resolver's lifetime (one run); it is
// only persisted across restarts through the mappings it materializes.
func NewMaterialResolver(store MaterialStore, threshold float64) *MaterialResolver {
	if threshold <= 0 {
		threshold = DefaultMaterialThreshold
	}
	return &MaterialResolver{
		store:     store,
		threshold: threshold,
		cache:     make(map[string]*MaterialResolution),
	}
}

// Resolve maps a label to a material type. A nil resolution with nil error
// means the label is unmapped. categoryHint breaks ties between candidates
// scoring within epsilon of each other.
func (r *MaterialResolver) Resolve(ctx context.Context, label, categoryHint string) (*MaterialResolution, error) {
	normalized := NormalizeLabel(label)
	if normalized == "" {
		return nil, model.NewValidationError("material_label", "empty or non-text label")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if res, seen := r.cache[normalized]; seen {
		return res, nil
	}

	mapping, err := r.store.GetMaterialMapping(ctx, normalized)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: mapping lookup %q", normalized)
	}
	if mapping != nil {
		res := &MaterialResolution{
			MaterialTypeID: mapping.MaterialTypeID,
			Confidence:     1.0,
			Method:         MatchExact,
		}
		r.cache[normalized] = res
		return res, nil
	}

	if r.types == nil {
		types, err := r.store.ListMaterialTypes(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "resolve: list material types")
		}
		r.types = types
	}

	res, err := r.fuzzyResolve(ctx, label, normalized, categoryHint)
	if err != nil {
		return nil, err
	}
	r.cache[normalized] = res
	return res, nil
}

// fuzzyResolve scans canonical material names for the best match above the
// threshold and materializes the mapping so the fuzzy search is paid once
// per label across all future runs.
func (r *MaterialResolver) fuzzyResolve(ctx context.Context, label, normalized, categoryHint string) (*MaterialResolution, error) {
	var (
		bestID    string
		bestScore float64
		bestInCat bool
	)
	for _, t := range r.types {
		score := Similarity(normalized, NormalizeLabel(t.Name))
		inCat := categoryHint != "" && t.Category == categoryHint
		// Category hint only breaks near ties; it never lifts a candidate
		// over the threshold.
		better := score > bestScore ||
			(inCat && !bestInCat && bestScore-score < 0.005)
		if better {
			bestID, bestScore, bestInCat = t.ID, score, inCat
		}
	}

	if bestID == "" || bestScore <= r.threshold {
		zap.L().Debug("resolve: material unmapped",
			zap.String("label", label),
			zap.Float64("best_score", bestScore),
		)
		return nil, nil
	}

	mapping := &model.MaterialTypeMapping{
		WasteMaterialLabel: normalized,
		MaterialTypeID:     bestID,
		MatchConfidence:    bestScore,
	}
	if err := r.store.UpsertMaterialMapping(ctx, mapping); err != nil {
		return nil, eris.Wrapf(err, "resolve: store mapping %q", normalized)
	}

	zap.L().Info("resolve: material fuzzy-matched",
		zap.String("label", label),
		zap.String("material_type_id", bestID),
		zap.Float64("similarity", bestScore),
	)

	return &MaterialResolution{
		MaterialTypeID: bestID,
		Confidence:     bestScore,
		Method:         MatchFuzzy,
	}, nil
}
