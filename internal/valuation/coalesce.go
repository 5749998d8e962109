package valuation

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Revaluer serializes recomputation per material type. A recompute for a
// given material never runs concurrently with itself; triggers arriving
// while one is in flight coalesce into exactly one follow-up run instead
// of queueing unboundedly.
type Revaluer struct {
	agg *Aggregator

	mu       sync.Mutex
	inflight map[string]bool
	pending  map[string]bool
	wg       sync.WaitGroup
}

// NewRevaluer wraps an aggregator with coalescing trigger semantics.
func NewRevaluer(agg *Aggregator) *Revaluer {
	return &Revaluer{
		agg:      agg,
		inflight: make(map[string]bool),
		pending:  make(map[string]bool),
	}
}

// Trigger requests an asynchronous recompute for one material type.
func (r *Revaluer) Trigger(ctx context.Context, materialTypeID string) {
	r.mu.Lock()
	if r.inflight[materialTypeID] {
		r.pending[materialTypeID] = true
		r.mu.Unlock()
		return
	}
	r.inflight[materialTypeID] = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx, materialTypeID)
	}()
}

func (r *Revaluer) run(ctx context.Context, materialTypeID string) {
	for {
		if _, err := r.agg.Recompute(ctx, materialTypeID); err != nil {
			zap.L().Error("valuation: recompute failed",
				zap.String("material_type_id", materialTypeID),
				zap.Error(err),
			)
		}

		r.mu.Lock()
		if r.pending[materialTypeID] {
			delete(r.pending, materialTypeID)
			r.mu.Unlock()
			continue
		}
		delete(r.inflight, materialTypeID)
		r.mu.Unlock()
		return
	}
}

// Wait blocks until all triggered recomputations have drained.
func (r *Revaluer) Wait() {
	r.wg.Wait()
}

// RecomputeSet recomputes each material type in the set exactly once,
// synchronously and in deterministic order. This is the batch path: N
// quotes for the same material in one run cost one recomputation. A
// ConsistencyError on one material does not stop the rest; the first
// error is returned after the full pass.
func (r *Revaluer) RecomputeSet(ctx context.Context, ids map[string]struct{}) (int, error) {
	ordered := make([]string, 0, len(ids))
	for id := range ids {
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)

	var firstErr error
	done := 0
	for _, id := range ordered {
		if _, err := r.agg.Recompute(ctx, id); err != nil {
			zap.L().Error("valuation: batch recompute failed",
				zap.String("material_type_id", id),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		done++
	}
	return done, firstErr
}
