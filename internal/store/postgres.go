package store

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/symbio-data/engine-cli/internal/db"
	"github.com/symbio-data/engine-cli/internal/model"
)

// PostgresStore implements Store using pgxpool. It is the backend for
// shared multi-writer deployments.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

var _ Store = (*PostgresStore)(nil)

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id            TEXT PRIMARY KEY,
	source        TEXT NOT NULL,
	source_url    TEXT,
	document_type TEXT,
	content_hash  TEXT UNIQUE,
	ingested_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS raw_price_quotes (
	id                  BIGSERIAL PRIMARY KEY,
	material_label      TEXT NOT NULL,
	material_label_norm TEXT NOT NULL,
	category            TEXT,
	price_value         DOUBLE PRECISION NOT NULL,
	price_unit          TEXT NOT NULL,
	currency            TEXT NOT NULL,
	source              TEXT NOT NULL,
	source_url          TEXT,
	region              TEXT,
	quote_date          TIMESTAMPTZ,
	fetched_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS material_types (
	id       TEXT PRIMARY KEY,
	name     TEXT NOT NULL,
	category TEXT
);

CREATE TABLE IF NOT EXISTS material_type_mapping (
	id                   BIGSERIAL PRIMARY KEY,
	waste_material_label TEXT NOT NULL UNIQUE,
	material_type_id     TEXT NOT NULL REFERENCES material_types(id),
	match_confidence     DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS material_valuations (
	id                BIGSERIAL PRIMARY KEY,
	material_type_id  TEXT NOT NULL UNIQUE REFERENCES material_types(id),
	material_name     TEXT NOT NULL,
	material_category TEXT,
	price_per_ton_usd DOUBLE PRECISION NOT NULL CHECK (price_per_ton_usd > 0),
	price_range_low   DOUBLE PRECISION NOT NULL DEFAULT 0,
	price_range_high  DOUBLE PRECISION NOT NULL DEFAULT 0,
	source_count      INTEGER NOT NULL DEFAULT 1,
	confidence_score  DOUBLE PRECISION NOT NULL DEFAULT 0,
	stale             BOOLEAN NOT NULL DEFAULT false,
	last_updated      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS companies (
	id             BIGSERIAL PRIMARY KEY,
	canonical_name TEXT NOT NULL UNIQUE,
	aliases        TEXT[] NOT NULL DEFAULT '{}',
	industry       TEXT,
	country        TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS waste_listings (
	id                    BIGSERIAL PRIMARY KEY,
	document_id           TEXT NOT NULL REFERENCES documents(id),
	material_label        TEXT NOT NULL,
	material_type_id      TEXT REFERENCES material_types(id),
	company_name          TEXT NOT NULL,
	company_id            BIGINT REFERENCES companies(id),
	industry              TEXT,
	country               TEXT,
	quantity_tons         DOUBLE PRECISION NOT NULL,
	year                  INTEGER NOT NULL,
	price_per_ton         DOUBLE PRECISION,
	extraction_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	source_url            TEXT,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (document_id, material_label, company_name, year, quantity_tons)
);

CREATE TABLE IF NOT EXISTS carbon_emissions (
	id                    BIGSERIAL PRIMARY KEY,
	document_id           TEXT REFERENCES documents(id),
	company_name          TEXT NOT NULL,
	company_id            BIGINT REFERENCES companies(id),
	year                  INTEGER NOT NULL,
	co2_tons              DOUBLE PRECISION NOT NULL,
	scope1_tons           DOUBLE PRECISION,
	scope2_tons           DOUBLE PRECISION,
	scope3_tons           DOUBLE PRECISION,
	verified              BOOLEAN NOT NULL DEFAULT false,
	methodology           TEXT,
	report_date           TIMESTAMPTZ,
	extraction_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (company_name, year)
);

CREATE TABLE IF NOT EXISTS symbiosis_exchanges (
	id                    BIGSERIAL PRIMARY KEY,
	document_id           TEXT,
	source_company        TEXT NOT NULL,
	target_company        TEXT NOT NULL,
	source_company_id     BIGINT REFERENCES companies(id),
	target_company_id     BIGINT REFERENCES companies(id),
	material_label        TEXT NOT NULL,
	material_type_id      TEXT REFERENCES material_types(id),
	year                  INTEGER NOT NULL,
	volume_tons           DOUBLE PRECISION NOT NULL,
	co2_savings_tons      DOUBLE PRECISION,
	extraction_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (source_company, target_company, material_label, year)
);

CREATE TABLE IF NOT EXISTS fraud_flags (
	id          BIGSERIAL PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_key  TEXT NOT NULL,
	flag_type   TEXT NOT NULL,
	severity    TEXT NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'open',
	detail      TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id                  TEXT PRIMARY KEY,
	pipeline_type       TEXT NOT NULL,
	domain              TEXT,
	source              TEXT,
	started_at          TIMESTAMPTZ NOT NULL,
	completed_at        TIMESTAMPTZ,
	status              TEXT NOT NULL DEFAULT 'running',
	documents_processed INTEGER NOT NULL DEFAULT 0,
	documents_failed    INTEGER NOT NULL DEFAULT 0,
	error               TEXT
);

CREATE INDEX IF NOT EXISTS idx_quotes_label_norm ON raw_price_quotes(material_label_norm);
CREATE INDEX IF NOT EXISTS idx_mapping_type ON material_type_mapping(material_type_id);
CREATE INDEX IF NOT EXISTS idx_listings_type ON waste_listings(material_type_id);
CREATE INDEX IF NOT EXISTS idx_emissions_company_year ON carbon_emissions(company_name, year);
CREATE INDEX IF NOT EXISTS idx_flags_status ON fraud_flags(status);
CREATE INDEX IF NOT EXISTS idx_runs_status ON pipeline_runs(status);
`

// Migrate applies the schema and bulk-seeds the material registry.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}

	rows := make([][]any, 0, len(seedMaterials))
	for _, m := range seedMaterials {
		rows = append(rows, []any{m.ID, m.Name, m.Category})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "material_types",
		Columns:      []string{"id", "name", "category"},
		ConflictKeys: []string{"id"},
	}, rows)
	return eris.Wrap(err, "postgres: seed material types")
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Documents ---

func (s *PostgresStore) UpsertDocument(ctx context.Context, d *model.Document) (UpsertOutcome, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.IngestedAt.IsZero() {
		d.IngestedAt = time.Now().UTC()
	}
	var inserted bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO documents (id, source, source_url, document_type, content_hash, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			source_url = EXCLUDED.source_url,
			document_type = EXCLUDED.document_type
		RETURNING (xmax = 0)`,
		d.ID, d.Source, nullStr(d.SourceURL), nullStr(d.DocumentType), nullStr(d.ContentHash), d.IngestedAt,
	).Scan(&inserted)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: upsert document %s", d.ID)
	}
	if inserted {
		return OutcomeInserted, nil
	}
	return OutcomeUpdated, nil
}

func (s *PostgresStore) DocumentExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: document exists %s", id)
	}
	return exists, nil
}

// --- Raw price quotes ---

var priceQuoteColumns = []string{
	"material_label", "material_label_norm", "category", "price_value", "price_unit",
	"currency", "source", "source_url", "region", "quote_date", "fetched_at",
}

// AppendPriceQuotes lands a batch of quotes over the COPY protocol.
func (s *PostgresStore) AppendPriceQuotes(ctx context.Context, quotes []PriceQuoteAppend) error {
	if len(quotes) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(quotes))
	for _, qa := range quotes {
		q := qa.Quote
		if q.FetchedAt.IsZero() {
			q.FetchedAt = time.Now().UTC()
		}
		rows = append(rows, []any{
			q.MaterialLabel, qa.NormalizedLabel, nullStr(q.Category), q.PriceValue, q.PriceUnit,
			q.Currency, q.Source, nullStr(q.SourceURL), nullStr(q.Region), q.QuoteDate, q.FetchedAt,
		})
	}
	_, err := db.CopyFrom(ctx, s.pool, "raw_price_quotes", priceQuoteColumns, rows)
	return eris.Wrap(err, "postgres: append price quotes")
}

func (s *PostgresStore) ListQuotesForMaterialType(ctx context.Context, materialTypeID string) ([]model.RawPriceQuote, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT q.id, q.material_label, COALESCE(q.category, ''), q.price_value, q.price_unit,
		       q.currency, q.source, COALESCE(q.source_url, ''), COALESCE(q.region, ''),
		       COALESCE(q.quote_date, 'epoch'::timestamptz), q.fetched_at
		FROM raw_price_quotes q
		JOIN material_type_mapping m ON m.waste_material_label = q.material_label_norm
		WHERE m.material_type_id = $1
		ORDER BY q.fetched_at DESC`, materialTypeID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list quotes for %s", materialTypeID)
	}
	defer rows.Close()

	var quotes []model.RawPriceQuote
	for rows.Next() {
		var q model.RawPriceQuote
		if err := rows.Scan(&q.ID, &q.MaterialLabel, &q.Category, &q.PriceValue, &q.PriceUnit,
			&q.Currency, &q.Source, &q.SourceURL, &q.Region, &q.QuoteDate, &q.FetchedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan quote")
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

// --- Material types & mappings ---

func (s *PostgresStore) ListMaterialTypes(ctx context.Context) ([]model.MaterialType, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, COALESCE(category, '') FROM material_types ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list material types")
	}
	defer rows.Close()

	var types []model.MaterialType
	for rows.Next() {
		var t model.MaterialType
		if err := rows.Scan(&t.ID, &t.Name, &t.Category); err != nil {
			return nil, eris.Wrap(err, "postgres: scan material type")
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

func (s *PostgresStore) GetMaterialType(ctx context.Context, id string) (*model.MaterialType, error) {
	var t model.MaterialType
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(category, '') FROM material_types WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Category)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get material type %s", id)
	}
	return &t, nil
}

func (s *PostgresStore) GetMaterialMapping(ctx context.Context, normalizedLabel string) (*model.MaterialTypeMapping, error) {
	var m model.MaterialTypeMapping
	err := s.pool.QueryRow(ctx, `
		SELECT id, waste_material_label, material_type_id, match_confidence, created_at
		FROM material_type_mapping WHERE waste_material_label = $1`, normalizedLabel,
	).Scan(&m.ID, &m.WasteMaterialLabel, &m.MaterialTypeID, &m.MatchConfidence, &m.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get mapping %q", normalizedLabel)
	}
	return &m, nil
}

func (s *PostgresStore) UpsertMaterialMapping(ctx context.Context, m *model.MaterialTypeMapping) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO material_type_mapping (waste_material_label, material_type_id, match_confidence)
		VALUES ($1, $2, $3)
		ON CONFLICT (waste_material_label) DO UPDATE SET
			material_type_id = EXCLUDED.material_type_id,
			match_confidence = EXCLUDED.match_confidence`,
		m.WasteMaterialLabel, m.MaterialTypeID, m.MatchConfidence,
	)
	return eris.Wrapf(err, "postgres: upsert mapping %q", m.WasteMaterialLabel)
}

// --- Valuations ---

const valuationCols = `id, material_type_id, material_name, COALESCE(material_category, ''),
	price_per_ton_usd, price_range_low, price_range_high,
	source_count, confidence_score, stale, last_updated`

func (s *PostgresStore) scanValuation(row pgx.Row) (*model.MaterialValuation, error) {
	var v model.MaterialValuation
	err := row.Scan(&v.ID, &v.MaterialTypeID, &v.MaterialName, &v.MaterialCategory,
		&v.PricePerTonUSD, &v.PriceRangeLow, &v.PriceRangeHigh,
		&v.SourceCount, &v.ConfidenceScore, &v.Stale, &v.LastUpdated)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *PostgresStore) GetValuation(ctx context.Context, materialTypeID string) (*model.MaterialValuation, error) {
	v, err := s.scanValuation(s.pool.QueryRow(ctx,
		`SELECT `+valuationCols+` FROM material_valuations WHERE material_type_id = $1`, materialTypeID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get valuation %s", materialTypeID)
	}
	return v, nil
}

func (s *PostgresStore) UpsertValuation(ctx context.Context, v *model.MaterialValuation) error {
	if v.PricePerTonUSD <= 0 {
		return &model.ConsistencyError{Detail: "refusing to write non-positive valuation for " + v.MaterialTypeID}
	}
	if v.LastUpdated.IsZero() {
		v.LastUpdated = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO material_valuations
			(material_type_id, material_name, material_category, price_per_ton_usd,
			 price_range_low, price_range_high, source_count, confidence_score, stale, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (material_type_id) DO UPDATE SET
			material_name = EXCLUDED.material_name,
			material_category = EXCLUDED.material_category,
			price_per_ton_usd = EXCLUDED.price_per_ton_usd,
			price_range_low = EXCLUDED.price_range_low,
			price_range_high = EXCLUDED.price_range_high,
			source_count = EXCLUDED.source_count,
			confidence_score = EXCLUDED.confidence_score,
			stale = EXCLUDED.stale,
			last_updated = EXCLUDED.last_updated`,
		v.MaterialTypeID, v.MaterialName, nullStr(v.MaterialCategory), v.PricePerTonUSD,
		v.PriceRangeLow, v.PriceRangeHigh, v.SourceCount, v.ConfidenceScore, v.Stale, v.LastUpdated,
	)
	return eris.Wrapf(err, "postgres: upsert valuation %s", v.MaterialTypeID)
}

func (s *PostgresStore) MarkValuationStale(ctx context.Context, materialTypeID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE material_valuations SET stale = true WHERE material_type_id = $1`, materialTypeID)
	return eris.Wrapf(err, "postgres: mark stale %s", materialTypeID)
}

func (s *PostgresStore) ListValuations(ctx context.Context) ([]model.MaterialValuation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+valuationCols+` FROM material_valuations ORDER BY material_type_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list valuations")
	}
	defer rows.Close()

	var vals []model.MaterialValuation
	for rows.Next() {
		v, err := s.scanValuation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan valuation")
		}
		vals = append(vals, *v)
	}
	return vals, rows.Err()
}

// --- Companies ---

const pgCompanyCols = `id, canonical_name, aliases, COALESCE(industry, ''), COALESCE(country, ''), created_at, updated_at`

func scanPgCompany(row pgx.Row) (*model.Company, error) {
	var c model.Company
	if err := row.Scan(&c.ID, &c.CanonicalName, &c.Aliases, &c.Industry, &c.Country, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) GetCompany(ctx context.Context, id int64) (*model.Company, error) {
	c, err := scanPgCompany(s.pool.QueryRow(ctx,
		`SELECT `+pgCompanyCols+` FROM companies WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get company %d", id)
	}
	return c, nil
}

func (s *PostgresStore) GetCompanyByName(ctx context.Context, normalized string) (*model.Company, error) {
	c, err := scanPgCompany(s.pool.QueryRow(ctx, `
		SELECT `+pgCompanyCols+` FROM companies
		WHERE canonical_name = $1 OR $1 = ANY(aliases)
		LIMIT 1`, normalized))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get company by name %q", normalized)
	}
	return c, nil
}

func (s *PostgresStore) ListCompanies(ctx context.Context) ([]model.Company, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgCompanyCols+` FROM companies ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list companies")
	}
	defer rows.Close()

	var companies []model.Company
	for rows.Next() {
		c, err := scanPgCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		companies = append(companies, *c)
	}
	return companies, rows.Err()
}

func (s *PostgresStore) CreateCompany(ctx context.Context, c *model.Company) error {
	if c.Aliases == nil {
		c.Aliases = []string{c.CanonicalName}
	}
	now := time.Now().UTC()
	err := s.pool.QueryRow(ctx, `
		INSERT INTO companies (canonical_name, aliases, industry, country, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		c.CanonicalName, c.Aliases, nullStr(c.Industry), nullStr(c.Country), now, now,
	).Scan(&c.ID)
	if err != nil {
		return eris.Wrapf(err, "postgres: create company %q", c.CanonicalName)
	}
	c.CreatedAt, c.UpdatedAt = now, now
	return nil
}

func (s *PostgresStore) AddCompanyAlias(ctx context.Context, companyID int64, alias string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE companies
		SET aliases = array_append(aliases, $1), updated_at = now()
		WHERE id = $2 AND NOT ($1 = ANY(aliases))`,
		alias, companyID)
	return eris.Wrapf(err, "postgres: add alias to company %d", companyID)
}

func (s *PostgresStore) MergeCompanies(ctx context.Context, survivingID, losingID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: merge begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var losingName string
	var losingAliases []string
	err = tx.QueryRow(ctx,
		`SELECT canonical_name, aliases FROM companies WHERE id = $1`, losingID,
	).Scan(&losingName, &losingAliases)
	if err != nil {
		return eris.Wrapf(err, "postgres: merge load losing %d", losingID)
	}

	// Union in the losing identity's names; duplicates filtered in SQL.
	for _, a := range append(losingAliases, losingName) {
		if _, err := tx.Exec(ctx, `
			UPDATE companies
			SET aliases = array_append(aliases, $1), updated_at = now()
			WHERE id = $2 AND NOT ($1 = ANY(aliases))`,
			a, survivingID); err != nil {
			return eris.Wrap(err, "postgres: merge union aliases")
		}
	}

	repoint := []string{
		`UPDATE waste_listings SET company_id = $1 WHERE company_id = $2`,
		`UPDATE carbon_emissions SET company_id = $1 WHERE company_id = $2`,
		`UPDATE symbiosis_exchanges SET source_company_id = $1 WHERE source_company_id = $2`,
		`UPDATE symbiosis_exchanges SET target_company_id = $1 WHERE target_company_id = $2`,
	}
	for _, q := range repoint {
		if _, err := tx.Exec(ctx, q, survivingID, losingID); err != nil {
			return eris.Wrap(err, "postgres: merge re-point references")
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM companies WHERE id = $1`, losingID); err != nil {
		return eris.Wrapf(err, "postgres: merge delete company %d", losingID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: merge commit")
}

// --- Extracted facts ---

// xmax = 0 distinguishes a fresh insert from a conflict update on the
// returned row.
func (s *PostgresStore) UpsertWasteListing(ctx context.Context, l *model.WasteListing) (UpsertOutcome, error) {
	var inserted bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO waste_listings
			(document_id, material_label, material_type_id, company_name, company_id,
			 industry, country, quantity_tons, year, price_per_ton,
			 extraction_confidence, source_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (document_id, material_label, company_name, year, quantity_tons) DO UPDATE SET
			material_type_id = EXCLUDED.material_type_id,
			company_id = EXCLUDED.company_id,
			industry = EXCLUDED.industry,
			country = EXCLUDED.country,
			price_per_ton = EXCLUDED.price_per_ton,
			extraction_confidence = EXCLUDED.extraction_confidence,
			source_url = EXCLUDED.source_url,
			updated_at = now()
		RETURNING id, (xmax = 0)`,
		l.DocumentID, l.MaterialLabel, nullStr(l.MaterialTypeID), l.CompanyName, l.CompanyID,
		nullStr(l.Industry), nullStr(l.Country), l.QuantityTons, l.Year, l.PricePerTon,
		l.ExtractionConfidence, nullStr(l.SourceURL),
	).Scan(&l.ID, &inserted)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: upsert listing %s", l.NaturalKey())
	}
	if inserted {
		return OutcomeInserted, nil
	}
	return OutcomeUpdated, nil
}

func (s *PostgresStore) UpsertCarbonEmission(ctx context.Context, rec *model.CarbonEmissionRecord) (UpsertOutcome, error) {
	var inserted bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO carbon_emissions
			(document_id, company_name, company_id, year, co2_tons,
			 scope1_tons, scope2_tons, scope3_tons, verified, methodology,
			 report_date, extraction_confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (company_name, year) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			company_id = EXCLUDED.company_id,
			co2_tons = EXCLUDED.co2_tons,
			scope1_tons = EXCLUDED.scope1_tons,
			scope2_tons = EXCLUDED.scope2_tons,
			scope3_tons = EXCLUDED.scope3_tons,
			verified = EXCLUDED.verified,
			methodology = EXCLUDED.methodology,
			report_date = EXCLUDED.report_date,
			extraction_confidence = EXCLUDED.extraction_confidence,
			updated_at = now()
		RETURNING id, (xmax = 0)`,
		nullStr(rec.DocumentID), rec.CompanyName, rec.CompanyID, rec.Year, rec.CO2Tons,
		rec.Scope1Tons, rec.Scope2Tons, rec.Scope3Tons, rec.Verified, nullStr(rec.Methodology),
		rec.ReportDate, rec.ExtractionConfidence,
	).Scan(&rec.ID, &inserted)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: upsert emission %s", rec.NaturalKey())
	}
	if inserted {
		return OutcomeInserted, nil
	}
	return OutcomeUpdated, nil
}

func (s *PostgresStore) UpsertSymbiosisExchange(ctx context.Context, ex *model.SymbiosisExchange) (UpsertOutcome, error) {
	var inserted bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO symbiosis_exchanges
			(document_id, source_company, target_company, source_company_id, target_company_id,
			 material_label, material_type_id, year, volume_tons, co2_savings_tons,
			 extraction_confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (source_company, target_company, material_label, year) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			source_company_id = EXCLUDED.source_company_id,
			target_company_id = EXCLUDED.target_company_id,
			material_type_id = EXCLUDED.material_type_id,
			volume_tons = EXCLUDED.volume_tons,
			co2_savings_tons = EXCLUDED.co2_savings_tons,
			extraction_confidence = EXCLUDED.extraction_confidence,
			updated_at = now()
		RETURNING id, (xmax = 0)`,
		nullStr(ex.DocumentID), ex.SourceCompany, ex.TargetCompany, ex.SourceCompanyID, ex.TargetCompanyID,
		ex.MaterialLabel, nullStr(ex.MaterialTypeID), ex.Year, ex.VolumeTons, ex.CO2SavingsTons,
		ex.ExtractionConfidence,
	).Scan(&ex.ID, &inserted)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: upsert exchange %s", ex.NaturalKey())
	}
	if inserted {
		return OutcomeInserted, nil
	}
	return OutcomeUpdated, nil
}

func (s *PostgresStore) GetCarbonEmission(ctx context.Context, companyName string, year int) (*model.CarbonEmissionRecord, error) {
	var rec model.CarbonEmissionRecord
	err := s.pool.QueryRow(ctx, `
		SELECT id, COALESCE(document_id, ''), company_name, company_id, year, co2_tons,
		       scope1_tons, scope2_tons, scope3_tons, verified, COALESCE(methodology, ''),
		       report_date, extraction_confidence
		FROM carbon_emissions WHERE company_name = $1 AND year = $2`,
		companyName, year,
	).Scan(&rec.ID, &rec.DocumentID, &rec.CompanyName, &rec.CompanyID, &rec.Year, &rec.CO2Tons,
		&rec.Scope1Tons, &rec.Scope2Tons, &rec.Scope3Tons, &rec.Verified, &rec.Methodology,
		&rec.ReportDate, &rec.ExtractionConfidence)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get emission %s/%d", companyName, year)
	}
	return &rec, nil
}

func (s *PostgresStore) ListListingsWithValue(ctx context.Context, limit int) ([]model.ListingValue, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT l.id, l.document_id, l.material_label, COALESCE(l.material_type_id, ''),
		       l.company_name, l.company_id, COALESCE(l.industry, ''), COALESCE(l.country, ''),
		       l.quantity_tons, l.year, l.price_per_ton, l.extraction_confidence,
		       COALESCE(l.source_url, ''),
		       v.price_per_ton_usd, v.confidence_score,
		       l.quantity_tons * v.price_per_ton_usd AS estimated_value
		FROM waste_listings l
		LEFT JOIN material_valuations v ON v.material_type_id = l.material_type_id
		ORDER BY l.id
		LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list listings with value")
	}
	defer rows.Close()

	var out []model.ListingValue
	for rows.Next() {
		var lv model.ListingValue
		if err := rows.Scan(&lv.Listing.ID, &lv.Listing.DocumentID, &lv.Listing.MaterialLabel,
			&lv.Listing.MaterialTypeID, &lv.Listing.CompanyName, &lv.Listing.CompanyID,
			&lv.Listing.Industry, &lv.Listing.Country, &lv.Listing.QuantityTons, &lv.Listing.Year,
			&lv.Listing.PricePerTon, &lv.Listing.ExtractionConfidence, &lv.Listing.SourceURL,
			&lv.PricePerTonUSD, &lv.Confidence, &lv.EstimatedValue); err != nil {
			return nil, eris.Wrap(err, "postgres: scan listing value")
		}
		out = append(out, lv)
	}
	return out, rows.Err()
}

// --- Fraud flags ---

func (s *PostgresStore) InsertFraudFlag(ctx context.Context, f *model.FraudFlag) error {
	if f.Status == "" {
		f.Status = model.FlagOpen
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO fraud_flags (entity_type, entity_key, flag_type, severity, confidence, status, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		f.EntityType, f.EntityKey, f.FlagType, f.Severity, f.Confidence, f.Status, nullStr(f.Detail),
	).Scan(&f.ID)
	return eris.Wrapf(err, "postgres: insert fraud flag %s", f.FlagType)
}

func (s *PostgresStore) ListFraudFlags(ctx context.Context, status string, limit int) ([]model.FraudFlag, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, entity_type, entity_key, flag_type, severity, confidence, status,
		       COALESCE(detail, ''), created_at
		FROM fraud_flags`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
		args = append(args, status, limit)
	} else {
		query += ` ORDER BY created_at DESC, id DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list fraud flags")
	}
	defer rows.Close()

	var flags []model.FraudFlag
	for rows.Next() {
		var f model.FraudFlag
		if err := rows.Scan(&f.ID, &f.EntityType, &f.EntityKey, &f.FlagType, &f.Severity,
			&f.Confidence, &f.Status, &f.Detail, &f.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan fraud flag")
		}
		flags = append(flags, f)
	}
	return flags, rows.Err()
}

// --- Pipeline runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.PipelineRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	run.Status = model.RunStatusRunning
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pipeline_runs (id, pipeline_type, domain, source, started_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.PipelineType, nullStr(run.Domain), nullStr(run.Source), run.StartedAt, string(run.Status),
	)
	return eris.Wrapf(err, "postgres: create run %s", run.ID)
}

func (s *PostgresStore) terminateRun(ctx context.Context, runID string, status model.RunStatus, processed, failed int, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pipeline_runs
		SET status = $1, completed_at = now(), documents_processed = $2, documents_failed = $3, error = $4
		WHERE id = $5 AND status = 'running'`,
		string(status), processed, failed, nullStr(errMsg), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: terminate run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run %s not found or not running", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, processed, failed int) error {
	return s.terminateRun(ctx, runID, model.RunStatusCompleted, processed, failed, "")
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, processed, failed int, errMsg string) error {
	return s.terminateRun(ctx, runID, model.RunStatusFailed, processed, failed, errMsg)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	query := `
		SELECT id, pipeline_type, COALESCE(domain, ''), COALESCE(source, ''),
		       started_at, completed_at, status, documents_processed, documents_failed,
		       COALESCE(error, '')
		FROM pipeline_runs WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $1`
	}
	if filter.Domain != "" {
		args = append(args, filter.Domain)
		query += ` AND domain = $` + strconv.Itoa(len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += ` ORDER BY started_at DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		var r model.PipelineRun
		if err := rows.Scan(&r.ID, &r.PipelineType, &r.Domain, &r.Source,
			&r.StartedAt, &r.CompletedAt, &r.Status, &r.DocumentsProcessed, &r.DocumentsFailed,
			&r.Error); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- Stats ---

func (s *PostgresStore) Stats(ctx context.Context) (*model.PipelineStats, error) {
	var st model.PipelineStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM documents),
			(SELECT COUNT(*) FROM raw_price_quotes),
			(SELECT COUNT(*) FROM material_type_mapping),
			(SELECT COUNT(*) FROM material_valuations),
			(SELECT COUNT(*) FROM companies),
			(SELECT COUNT(*) FROM waste_listings),
			(SELECT COUNT(*) FROM carbon_emissions),
			(SELECT COUNT(*) FROM symbiosis_exchanges),
			(SELECT COUNT(*) FROM fraud_flags WHERE status = 'open'),
			(SELECT COUNT(*) FROM pipeline_runs WHERE status = 'completed'),
			(SELECT COUNT(*) FROM pipeline_runs WHERE status = 'failed')`,
	).Scan(&st.Documents, &st.PriceQuotes, &st.Mappings, &st.Valuations, &st.Companies,
		&st.WasteListings, &st.CarbonRecords, &st.Exchanges, &st.OpenFraudFlags,
		&st.RunsCompleted, &st.RunsFailed)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats")
	}
	return &st, nil
}

