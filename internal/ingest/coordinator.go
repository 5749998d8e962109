// Package ingest coordinates batches of raw records through resolution,
// validation, anomaly detection, and canonical upserts.
package ingest

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/symbio-data/engine-cli/internal/anomaly"
	"github.com/symbio-data/engine-cli/internal/metrics"
	"github.com/symbio-data/engine-cli/internal/model"
	"github.com/symbio-data/engine-cli/internal/resilience"
	"github.com/symbio-data/engine-cli/internal/resolve"
	"github.com/symbio-data/engine-cli/internal/store"
	"github.com/symbio-data/engine-cli/internal/valuation"
)

// DefaultConcurrency bounds how many records resolve in parallel.
const DefaultConcurrency = 8

// Coordinator owns the write path: resolution and detection fan out across
// a bounded worker pool, while writes to any one natural key are
// serialized so concurrent duplicates cannot race past the idempotency
// check.
type Coordinator struct {
	store      store.Store
	materials  *resolve.MaterialResolver
	companies  *resolve.CompanyResolver
	detector   *anomaly.Detector
	revaluer   *valuation.Revaluer
	quarantine *resilience.Quarantine

	concurrency int
	retry       resilience.RetryConfig
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithConcurrency bounds the resolution worker pool.
func WithConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithQuarantine attaches a sink for records that cannot be applied.
func WithQuarantine(q *resilience.Quarantine) Option {
	return func(c *Coordinator) { c.quarantine = q }
}

// WithRetryConfig overrides the store retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *Coordinator) { c.retry = cfg }
}

// NewCoordinator wires the pipeline components together.
func NewCoordinator(
	st store.Store,
	materials *resolve.MaterialResolver,
	companies *resolve.CompanyResolver,
	detector *anomaly.Detector,
	revaluer *valuation.Revaluer,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		store:       st,
		materials:   materials,
		companies:   companies,
		detector:    detector,
		revaluer:    revaluer,
		concurrency: DefaultConcurrency,
		retry:       resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// batchState accumulates per-batch counters, the resolved quotes awaiting
// the batch append, and the set of material types whose valuations need
// recomputing once the batch lands.
type batchState struct {
	mu      sync.Mutex
	result  model.ApplyResult
	keys    keyedMutex
	quotes  []quoteJob
	revalue map[string]struct{}
}

// quoteJob is a resolved quote waiting for the batch append.
type quoteJob struct {
	key            string
	row            store.PriceQuoteAppend
	materialTypeID string // empty when the label is unmapped
}

func (b *batchState) fail(key string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.result.Failed++
	b.result.Failures = append(b.result.Failures, model.ApplyFailure{Key: key, Reason: err.Error()})
}

func (b *batchState) outcome(kind string, out store.UpsertOutcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch out {
	case store.OutcomeInserted:
		b.result.Inserted++
		metrics.RecordsProcessed.WithLabelValues(kind, "inserted").Inc()
	case store.OutcomeUpdated:
		b.result.Updated++
		metrics.RecordsProcessed.WithLabelValues(kind, "updated").Inc()
	}
}

// Apply runs one batch. Individual record failures never abort the batch;
// only context cancellation or run bookkeeping errors do. Re-applying the
// same batch is harmless: every canonical write is a natural-key upsert.
func (c *Coordinator) Apply(ctx context.Context, domain, source string, records []model.RawRecord) (*model.ApplyResult, error) {
	run := &model.PipelineRun{PipelineType: "process", Domain: domain, Source: source}
	if err := c.store.CreateRun(ctx, run); err != nil {
		return nil, eris.Wrap(err, "ingest: create run")
	}

	state := &batchState{revalue: make(map[string]struct{})}
	state.result.RunID = run.ID

	// Documents land first so same-batch fact records can resolve their
	// references.
	var facts []model.RawRecord
	for i := range records {
		rec := &records[i]
		if rec.Kind == model.KindDocument && rec.Document != nil {
			c.applyDocument(ctx, state, rec.Document)
			continue
		}
		facts = append(facts, *rec)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i := range facts {
		rec := &facts[i]
		g.Go(func() error {
			c.applyRecord(gctx, run.ID, state, rec)
			return gctx.Err()
		})
	}
	groupErr := g.Wait()

	if groupErr == nil {
		c.flushQuotes(ctx, state)
	}

	if groupErr == nil && len(state.revalue) > 0 {
		done, err := c.revaluer.RecomputeSet(ctx, state.revalue)
		state.result.Revalued = done
		metrics.Revaluations.Add(float64(done))
		if err != nil {
			zap.L().Warn("ingest: revaluation pass had errors", zap.Error(err))
		}
	}

	res := &state.result
	if groupErr != nil {
		metrics.Runs.WithLabelValues(string(model.RunStatusFailed)).Inc()
		if err := c.store.FailRun(ctx, run.ID, res.Processed(), res.Failed, groupErr.Error()); err != nil {
			zap.L().Error("ingest: fail run", zap.String("run_id", run.ID), zap.Error(err))
		}
		return res, eris.Wrap(groupErr, "ingest: batch aborted")
	}

	metrics.Runs.WithLabelValues(string(model.RunStatusCompleted)).Inc()
	if err := c.store.CompleteRun(ctx, run.ID, res.Processed(), res.Failed); err != nil {
		return res, eris.Wrap(err, "ingest: complete run")
	}

	zap.L().Info("ingest: batch applied",
		zap.String("run_id", run.ID),
		zap.Int("inserted", res.Inserted),
		zap.Int("updated", res.Updated),
		zap.Int("unmapped", res.Unmapped),
		zap.Int("failed", res.Failed),
		zap.Int("flagged", res.Flagged),
		zap.Int("revalued", res.Revalued),
	)
	return res, nil
}

func (c *Coordinator) applyRecord(ctx context.Context, runID string, state *batchState, rec *model.RawRecord) {
	switch rec.Kind {
	case model.KindPriceQuote:
		if rec.PriceQuote != nil {
			c.applyQuote(ctx, state, rec.PriceQuote)
			return
		}
	case model.KindListing:
		if rec.Listing != nil {
			c.applyListing(ctx, runID, state, rec)
			return
		}
	case model.KindEmission:
		if rec.Emission != nil {
			c.applyEmission(ctx, state, rec.Emission)
			return
		}
	case model.KindExchange:
		if rec.Exchange != nil {
			c.applyExchange(ctx, state, rec.Exchange)
			return
		}
	}

	state.mu.Lock()
	state.result.Skipped++
	state.mu.Unlock()
	metrics.RecordsProcessed.WithLabelValues(rec.Kind, "skipped").Inc()
	zap.L().Warn("ingest: skipping malformed record", zap.String("kind", rec.Kind))
}

func (c *Coordinator) applyDocument(ctx context.Context, state *batchState, d *model.Document) {
	out, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (store.UpsertOutcome, error) {
		return c.store.UpsertDocument(ctx, d)
	})
	if err != nil {
		state.fail("document:"+d.ID, err)
		metrics.RecordsProcessed.WithLabelValues(model.KindDocument, "failed").Inc()
		return
	}
	state.outcome(model.KindDocument, out)
}

// applyQuote resolves the observation and queues it for the batch append.
// Quotes with unmapped labels are still kept: a future curated mapping
// picks them up retroactively through the label join.
func (c *Coordinator) applyQuote(ctx context.Context, state *batchState, q *model.RawPriceQuote) {
	key := "quote:" + q.MaterialLabel + "|" + q.Source

	res, err := c.materials.Resolve(ctx, q.MaterialLabel, q.Category)
	if err != nil {
		state.fail(key, err)
		metrics.RecordsProcessed.WithLabelValues(model.KindPriceQuote, "failed").Inc()
		return
	}

	job := quoteJob{
		key: key,
		row: store.PriceQuoteAppend{Quote: q, NormalizedLabel: resolve.NormalizeLabel(q.MaterialLabel)},
	}
	if res != nil {
		job.materialTypeID = res.MaterialTypeID
	}
	state.mu.Lock()
	state.quotes = append(state.quotes, job)
	state.mu.Unlock()
}

// flushQuotes lands the batch's resolved quotes in one append and queues
// their material types for revaluation. Runs after the worker pool drains,
// so state is no longer contended.
func (c *Coordinator) flushQuotes(ctx context.Context, state *batchState) {
	if len(state.quotes) == 0 {
		return
	}

	rows := make([]store.PriceQuoteAppend, len(state.quotes))
	for i, job := range state.quotes {
		rows[i] = job.row
	}
	err := resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.store.AppendPriceQuotes(ctx, rows)
	})
	if err != nil {
		for _, job := range state.quotes {
			state.fail(job.key, err)
			metrics.RecordsProcessed.WithLabelValues(model.KindPriceQuote, "failed").Inc()
		}
		return
	}

	state.mu.Lock()
	for _, job := range state.quotes {
		state.result.Inserted++
		if job.materialTypeID == "" {
			state.result.Unmapped++
		} else {
			state.revalue[job.materialTypeID] = struct{}{}
		}
	}
	state.mu.Unlock()
	metrics.RecordsProcessed.WithLabelValues(model.KindPriceQuote, "inserted").Add(float64(len(state.quotes)))
}

func (c *Coordinator) applyListing(ctx context.Context, runID string, state *batchState, rec *model.RawRecord) {
	l := rec.Listing
	key := l.NaturalKey()

	exists, err := c.store.DocumentExists(ctx, l.DocumentID)
	if err != nil {
		state.fail(key, err)
		metrics.RecordsProcessed.WithLabelValues(model.KindListing, "failed").Inc()
		return
	}
	if !exists {
		c.quarantineRecord(runID, state, key, rec,
			&model.UnresolvedReferenceError{RefType: "document", Ref: l.DocumentID})
		flag := anomaly.UnresolvedReferenceFlag(model.EntityListing, key, "document", l.DocumentID)
		c.insertFlags(ctx, state, []model.FraudFlag{flag})
		metrics.RecordsProcessed.WithLabelValues(model.KindListing, "failed").Inc()
		return
	}

	// Resolution errors, validation included, reject the single record; an
	// unmapped label comes back as a nil resolution and still lands.
	matRes, err := c.materials.Resolve(ctx, l.MaterialLabel, "")
	if err != nil {
		state.fail(key, err)
		metrics.RecordsProcessed.WithLabelValues(model.KindListing, "failed").Inc()
		return
	}
	if matRes != nil {
		l.MaterialTypeID = matRes.MaterialTypeID
	} else {
		state.mu.Lock()
		state.result.Unmapped++
		state.mu.Unlock()
	}

	companyID, _, err := c.companies.Resolve(ctx, l.CompanyName, l.Industry)
	if err != nil {
		state.fail(key, err)
		metrics.RecordsProcessed.WithLabelValues(model.KindListing, "failed").Inc()
		return
	}
	l.CompanyID = &companyID

	c.insertFlags(ctx, state, c.detector.CheckListing(l))

	unlock := state.keys.lock(key)
	defer unlock()
	out, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (store.UpsertOutcome, error) {
		return c.store.UpsertWasteListing(ctx, l)
	})
	if err != nil {
		state.fail(key, err)
		metrics.RecordsProcessed.WithLabelValues(model.KindListing, "failed").Inc()
		return
	}
	state.outcome(model.KindListing, out)
}

func (c *Coordinator) applyEmission(ctx context.Context, state *batchState, rec *model.CarbonEmissionRecord) {
	key := rec.NaturalKey()

	companyID, _, err := c.companies.Resolve(ctx, rec.CompanyName, "")
	if err != nil {
		state.fail(key, err)
		metrics.RecordsProcessed.WithLabelValues(model.KindEmission, "failed").Inc()
		return
	}
	rec.CompanyID = &companyID

	prior, err := c.store.GetCarbonEmission(ctx, rec.CompanyName, rec.Year-1)
	if err != nil {
		state.fail(key, err)
		metrics.RecordsProcessed.WithLabelValues(model.KindEmission, "failed").Inc()
		return
	}
	c.insertFlags(ctx, state, c.detector.CheckEmission(rec, prior))

	unlock := state.keys.lock(key)
	defer unlock()
	out, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (store.UpsertOutcome, error) {
		return c.store.UpsertCarbonEmission(ctx, rec)
	})
	if err != nil {
		state.fail(key, err)
		metrics.RecordsProcessed.WithLabelValues(model.KindEmission, "failed").Inc()
		return
	}
	state.outcome(model.KindEmission, out)
}

func (c *Coordinator) applyExchange(ctx context.Context, state *batchState, ex *model.SymbiosisExchange) {
	key := ex.NaturalKey()

	srcID, _, err := c.companies.Resolve(ctx, ex.SourceCompany, "")
	if err != nil {
		state.fail(key, err)
		metrics.RecordsProcessed.WithLabelValues(model.KindExchange, "failed").Inc()
		return
	}
	tgtID, _, err := c.companies.Resolve(ctx, ex.TargetCompany, "")
	if err != nil {
		state.fail(key, err)
		metrics.RecordsProcessed.WithLabelValues(model.KindExchange, "failed").Inc()
		return
	}
	ex.SourceCompanyID, ex.TargetCompanyID = &srcID, &tgtID

	matRes, err := c.materials.Resolve(ctx, ex.MaterialLabel, "")
	if err != nil {
		state.fail(key, err)
		metrics.RecordsProcessed.WithLabelValues(model.KindExchange, "failed").Inc()
		return
	}
	if matRes != nil {
		ex.MaterialTypeID = matRes.MaterialTypeID
	} else {
		state.mu.Lock()
		state.result.Unmapped++
		state.mu.Unlock()
	}

	c.insertFlags(ctx, state, c.detector.CheckExchange(ex))

	unlock := state.keys.lock(key)
	defer unlock()
	out, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (store.UpsertOutcome, error) {
		return c.store.UpsertSymbiosisExchange(ctx, ex)
	})
	if err != nil {
		state.fail(key, err)
		metrics.RecordsProcessed.WithLabelValues(model.KindExchange, "failed").Inc()
		return
	}
	state.outcome(model.KindExchange, out)
}

func (c *Coordinator) insertFlags(ctx context.Context, state *batchState, flags []model.FraudFlag) {
	for i := range flags {
		f := &flags[i]
		err := resilience.Do(ctx, c.retry, func(ctx context.Context) error {
			return c.store.InsertFraudFlag(ctx, f)
		})
		if err != nil {
			zap.L().Error("ingest: insert fraud flag",
				zap.String("entity_key", f.EntityKey),
				zap.String("flag_type", f.FlagType),
				zap.Error(err),
			)
			continue
		}
		state.mu.Lock()
		state.result.Flagged++
		state.mu.Unlock()
		metrics.FraudFlags.WithLabelValues(f.Severity).Inc()
	}
}

func (c *Coordinator) quarantineRecord(runID string, state *batchState, key string, rec *model.RawRecord, cause error) {
	state.fail(key, cause)
	if err := c.quarantine.Add(resilience.QuarantineEntry{
		RunID:     runID,
		Key:       key,
		Record:    *rec,
		Error:     cause.Error(),
		ErrorType: resilience.ClassifyError(cause),
	}); err != nil {
		zap.L().Error("ingest: quarantine write failed", zap.String("key", key), zap.Error(err))
	}
}

// keyedMutex hands out one mutex per natural key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
