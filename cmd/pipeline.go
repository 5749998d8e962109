package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/symbio-data/engine-cli/internal/anomaly"
	"github.com/symbio-data/engine-cli/internal/ingest"
	"github.com/symbio-data/engine-cli/internal/resilience"
	"github.com/symbio-data/engine-cli/internal/resolve"
	"github.com/symbio-data/engine-cli/internal/store"
	"github.com/symbio-data/engine-cli/internal/valuation"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = "symbio.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func newRevaluer(st store.Store) *valuation.Revaluer {
	agg := valuation.NewAggregator(st,
		valuation.WithStalenessMonths(cfg.Valuation.StalenessMonths),
		valuation.WithOutlierMultiplier(cfg.Valuation.OutlierMultiplier),
		valuation.WithConfidenceDivisor(cfg.Valuation.ConfidenceDivisor),
	)
	return valuation.NewRevaluer(agg)
}

func newCoordinator(st store.Store) *ingest.Coordinator {
	materials := resolve.NewMaterialResolver(st, cfg.Resolver.MaterialThreshold)
	companies := resolve.NewCompanyResolver(st, cfg.Resolver.CompanyThreshold)
	detector := anomaly.NewDetector(
		anomaly.WithImplausibleDrop(cfg.Anomaly.ImplausibleDrop),
		anomaly.WithScopeTolerance(cfg.Anomaly.ScopeTolerance),
	)

	return ingest.NewCoordinator(st, materials, companies, detector, newRevaluer(st),
		ingest.WithConcurrency(cfg.Batch.Concurrency),
		ingest.WithQuarantine(resilience.NewQuarantine(cfg.Batch.QuarantinePath)),
	)
}
