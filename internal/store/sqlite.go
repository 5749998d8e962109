package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/symbio-data/engine-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the default
// backend for local and single-node deployments.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id            TEXT PRIMARY KEY,
	source        TEXT NOT NULL,
	source_url    TEXT,
	document_type TEXT,
	content_hash  TEXT UNIQUE,
	ingested_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS raw_price_quotes (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	material_label      TEXT NOT NULL,
	material_label_norm TEXT NOT NULL,
	category            TEXT,
	price_value         REAL NOT NULL,
	price_unit          TEXT NOT NULL,
	currency            TEXT NOT NULL,
	source              TEXT NOT NULL,
	source_url          TEXT,
	region              TEXT,
	quote_date          DATETIME,
	fetched_at          DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS material_types (
	id       TEXT PRIMARY KEY,
	name     TEXT NOT NULL,
	category TEXT
);

CREATE TABLE IF NOT EXISTS material_type_mapping (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	waste_material_label TEXT NOT NULL UNIQUE,
	material_type_id     TEXT NOT NULL REFERENCES material_types(id),
	match_confidence     REAL NOT NULL DEFAULT 1.0,
	created_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS material_valuations (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	material_type_id  TEXT NOT NULL UNIQUE REFERENCES material_types(id),
	material_name     TEXT NOT NULL,
	material_category TEXT,
	price_per_ton_usd REAL NOT NULL CHECK (price_per_ton_usd > 0),
	price_range_low   REAL NOT NULL DEFAULT 0,
	price_range_high  REAL NOT NULL DEFAULT 0,
	source_count      INTEGER NOT NULL DEFAULT 1,
	confidence_score  REAL NOT NULL DEFAULT 0,
	stale             INTEGER NOT NULL DEFAULT 0,
	last_updated      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS companies (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	canonical_name TEXT NOT NULL UNIQUE,
	aliases        TEXT NOT NULL DEFAULT '[]',
	industry       TEXT,
	country        TEXT,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS waste_listings (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id           TEXT NOT NULL REFERENCES documents(id),
	material_label        TEXT NOT NULL,
	material_type_id      TEXT REFERENCES material_types(id),
	company_name          TEXT NOT NULL,
	company_id            INTEGER REFERENCES companies(id),
	industry              TEXT,
	country               TEXT,
	quantity_tons         REAL NOT NULL,
	year                  INTEGER NOT NULL,
	price_per_ton         REAL,
	extraction_confidence REAL NOT NULL DEFAULT 0,
	source_url            TEXT,
	created_at            DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at            DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (document_id, material_label, company_name, year, quantity_tons)
);

CREATE TABLE IF NOT EXISTS carbon_emissions (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id           TEXT REFERENCES documents(id),
	company_name          TEXT NOT NULL,
	company_id            INTEGER REFERENCES companies(id),
	year                  INTEGER NOT NULL,
	co2_tons              REAL NOT NULL,
	scope1_tons           REAL,
	scope2_tons           REAL,
	scope3_tons           REAL,
	verified              INTEGER NOT NULL DEFAULT 0,
	methodology           TEXT,
	report_date           DATETIME,
	extraction_confidence REAL NOT NULL DEFAULT 0,
	created_at            DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at            DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (company_name, year)
);

CREATE TABLE IF NOT EXISTS symbiosis_exchanges (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id           TEXT,
	source_company        TEXT NOT NULL,
	target_company        TEXT NOT NULL,
	source_company_id     INTEGER REFERENCES companies(id),
	target_company_id     INTEGER REFERENCES companies(id),
	material_label        TEXT NOT NULL,
	material_type_id      TEXT REFERENCES material_types(id),
	year                  INTEGER NOT NULL,
	volume_tons           REAL NOT NULL,
	co2_savings_tons      REAL,
	extraction_confidence REAL NOT NULL DEFAULT 0,
	created_at            DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at            DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (source_company, target_company, material_label, year)
);

CREATE TABLE IF NOT EXISTS fraud_flags (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_type TEXT NOT NULL,
	entity_key  TEXT NOT NULL,
	flag_type   TEXT NOT NULL,
	severity    TEXT NOT NULL,
	confidence  REAL NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'open',
	detail      TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id                  TEXT PRIMARY KEY,
	pipeline_type       TEXT NOT NULL,
	domain              TEXT,
	source              TEXT,
	started_at          DATETIME NOT NULL,
	completed_at        DATETIME,
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

// Migrate applies the embedded schema and seeds the material registry.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	for _, m := range seedMaterials {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO material_types (id, name, category) VALUES (?, ?, ?)`,
			m.ID, m.Name, m.Category); err != nil {
			return eris.Wrapf(err, "sqlite: seed material type %s", m.ID)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Documents ---

func (s *SQLiteStore) UpsertDocument(ctx context.Context, d *model.Document) (UpsertOutcome, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.IngestedAt.IsZero() {
		d.IngestedAt = time.Now().UTC()
	}
	exists, err := s.DocumentExists(ctx, d.ID)
	if err != nil {
		return 0, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, source, source_url, document_type, content_hash, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			source_url = excluded.source_url,
			document_type = excluded.document_type`,
		d.ID, d.Source, nullStr(d.SourceURL), nullStr(d.DocumentType), nullStr(d.ContentHash), d.IngestedAt,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: upsert document %s", d.ID)
	}
	if exists {
		return OutcomeUpdated, nil
	}
	return OutcomeInserted, nil
}

func (s *SQLiteStore) DocumentExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: document exists %s", id)
	}
	return true, nil
}

// --- Raw price quotes ---

// AppendPriceQuotes lands a batch of quotes in one transaction.
func (s *SQLiteStore) AppendPriceQuotes(ctx context.Context, quotes []PriceQuoteAppend) error {
	if len(quotes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: append quotes begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, qa := range quotes {
		q := qa.Quote
		if q.FetchedAt.IsZero() {
			q.FetchedAt = time.Now().UTC()
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO raw_price_quotes
				(material_label, material_label_norm, category, price_value, price_unit,
				 currency, source, source_url, region, quote_date, fetched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			q.MaterialLabel, qa.NormalizedLabel, nullStr(q.Category), q.PriceValue, q.PriceUnit,
			q.Currency, q.Source, nullStr(q.SourceURL), nullStr(q.Region), q.QuoteDate, q.FetchedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: append quote %q", q.MaterialLabel)
		}
		q.ID, _ = res.LastInsertId()
	}

	return eris.Wrap(tx.Commit(), "sqlite: append quotes commit")
}

func (s *SQLiteStore) ListQuotesForMaterialType(ctx context.Context, materialTypeID string) ([]model.RawPriceQuote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, q.material_label, COALESCE(q.category, ''), q.price_value, q.price_unit,
		       q.currency, q.source, COALESCE(q.source_url, ''), COALESCE(q.region, ''),
		       q.quote_date, q.fetched_at
		FROM raw_price_quotes q
		JOIN material_type_mapping m ON m.waste_material_label = q.material_label_norm
		WHERE m.material_type_id = ?
		ORDER BY q.fetched_at DESC`, materialTypeID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list quotes for %s", materialTypeID)
	}
	defer rows.Close()

	var quotes []model.RawPriceQuote
	for rows.Next() {
		var q model.RawPriceQuote
		var quoteDate sql.NullTime
		if err := rows.Scan(&q.ID, &q.MaterialLabel, &q.Category, &q.PriceValue, &q.PriceUnit,
			&q.Currency, &q.Source, &q.SourceURL, &q.Region, &quoteDate, &q.FetchedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan quote")
		}
		if quoteDate.Valid {
			q.QuoteDate = quoteDate.Time
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

// --- Material types & mappings ---

func (s *SQLiteStore) ListMaterialTypes(ctx context.Context) ([]model.MaterialType, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, COALESCE(category, '') FROM material_types ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list material types")
	}
	defer rows.Close()

	var types []model.MaterialType
	for rows.Next() {
		var t model.MaterialType
		if err := rows.Scan(&t.ID, &t.Name, &t.Category); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan material type")
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

func (s *SQLiteStore) GetMaterialType(ctx context.Context, id string) (*model.MaterialType, error) {
	var t model.MaterialType
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(category, '') FROM material_types WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.Category)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get material type %s", id)
	}
	return &t, nil
}

func (s *SQLiteStore) GetMaterialMapping(ctx context.Context, normalizedLabel string) (*model.MaterialTypeMapping, error) {
	var m model.MaterialTypeMapping
	err := s.db.QueryRowContext(ctx, `
		SELECT id, waste_material_label, material_type_id, match_confidence, created_at
		FROM material_type_mapping WHERE waste_material_label = ?`, normalizedLabel,
	).Scan(&m.ID, &m.WasteMaterialLabel, &m.MaterialTypeID, &m.MatchConfidence, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get mapping %q", normalizedLabel)
	}
	return &m, nil
}

func (s *SQLiteStore) UpsertMaterialMapping(ctx context.Context, m *model.MaterialTypeMapping) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO material_type_mapping (waste_material_label, material_type_id, match_confidence)
		VALUES (?, ?, ?)
		ON CONFLICT (waste_material_label) DO UPDATE SET
			material_type_id = excluded.material_type_id,
			match_confidence = excluded.match_confidence`,
		m.WasteMaterialLabel, m.MaterialTypeID, m.MatchConfidence,
	)
	return eris.Wrapf(err, "sqlite: upsert mapping %q", m.WasteMaterialLabel)
}

// --- Valuations ---

func (s *SQLiteStore) GetValuation(ctx context.Context, materialTypeID string) (*model.MaterialValuation, error) {
	var v model.MaterialValuation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, material_type_id, material_name, COALESCE(material_category, ''),
		       price_per_ton_usd, price_range_low, price_range_high,
		       source_count, confidence_score, stale, last_updated
		FROM material_valuations WHERE material_type_id = ?`, materialTypeID,
	).Scan(&v.ID, &v.MaterialTypeID, &v.MaterialName, &v.MaterialCategory,
		&v.PricePerTonUSD, &v.PriceRangeLow, &v.PriceRangeHigh,
		&v.SourceCount, &v.ConfidenceScore, &v.Stale, &v.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get valuation %s", materialTypeID)
	}
	return &v, nil
}

func (s *SQLiteStore) UpsertValuation(ctx context.Context, v *model.MaterialValuation) error {
	if v.PricePerTonUSD <= 0 {
		return &model.ConsistencyError{Detail: "refusing to write non-positive valuation for " + v.MaterialTypeID}
	}
	if v.LastUpdated.IsZero() {
		v.LastUpdated = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO material_valuations
			(material_type_id, material_name, material_category, price_per_ton_usd,
			 price_range_low, price_range_high, source_count, confidence_score, stale, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (material_type_id) DO UPDATE SET
			material_name = excluded.material_name,
			material_category = excluded.material_category,
			price_per_ton_usd = excluded.price_per_ton_usd,
			price_range_low = excluded.price_range_low,
			price_range_high = excluded.price_range_high,
			source_count = excluded.source_count,
			confidence_score = excluded.confidence_score,
			stale = excluded.stale,
			last_updated = excluded.last_updated`,
		v.MaterialTypeID, v.MaterialName, nullStr(v.MaterialCategory), v.PricePerTonUSD,
		v.PriceRangeLow, v.PriceRangeHigh, v.SourceCount, v.ConfidenceScore, v.Stale, v.LastUpdated,
	)
	return eris.Wrapf(err, "sqlite: upsert valuation %s", v.MaterialTypeID)
}

func (s *SQLiteStore) MarkValuationStale(ctx context.Context, materialTypeID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE material_valuations SET stale = 1 WHERE material_type_id = ?`, materialTypeID)
	return eris.Wrapf(err, "sqlite: mark stale %s", materialTypeID)
}

func (s *SQLiteStore) ListValuations(ctx context.Context) ([]model.MaterialValuation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, material_type_id, material_name, COALESCE(material_category, ''),
		       price_per_ton_usd, price_range_low, price_range_high,
		       source_count, confidence_score, stale, last_updated
		FROM material_valuations ORDER BY material_type_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list valuations")
	}
	defer rows.Close()

	var vals []model.MaterialValuation
	for rows.Next() {
		var v model.MaterialValuation
		if err := rows.Scan(&v.ID, &v.MaterialTypeID, &v.MaterialName, &v.MaterialCategory,
			&v.PricePerTonUSD, &v.PriceRangeLow, &v.PriceRangeHigh,
			&v.SourceCount, &v.ConfidenceScore, &v.Stale, &v.LastUpdated); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan valuation")
		}
		vals = append(vals, v)
	}
	return vals, rows.Err()
}

// --- Companies ---

func scanCompany(row interface{ Scan(...any) error }) (*model.Company, error) {
	var c model.Company
	var aliases string
	if err := row.Scan(&c.ID, &c.CanonicalName, &aliases, &c.Industry, &c.Country, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(aliases), &c.Aliases); err != nil {
		return nil, eris.Wrapf(err, "decode aliases for company %d", c.ID)
	}
	return &c, nil
}

const companyCols = `id, canonical_name, aliases, COALESCE(industry, ''), COALESCE(country, ''), created_at, updated_at`

func (s *SQLiteStore) GetCompany(ctx context.Context, id int64) (*model.Company, error) {
	c, err := scanCompany(s.db.QueryRowContext(ctx,
		`SELECT `+companyCols+` FROM companies WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get company %d", id)
	}
	return c, nil
}

func (s *SQLiteStore) GetCompanyByName(ctx context.Context, normalized string) (*model.Company, error) {
	// Canonical name first, then alias membership in the JSON array.
	c, err := scanCompany(s.db.QueryRowContext(ctx, `
		SELECT `+companyCols+` FROM companies
		WHERE canonical_name = ?
		   OR EXISTS (SELECT 1 FROM json_each(companies.aliases) WHERE json_each.value = ?)
		LIMIT 1`, normalized, normalized))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get company by name %q", normalized)
	}
	return c, nil
}

func (s *SQLiteStore) ListCompanies(ctx context.Context) ([]model.Company, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+companyCols+` FROM companies ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list companies")
	}
	defer rows.Close()

	var companies []model.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company")
		}
		companies = append(companies, *c)
	}
	return companies, rows.Err()
}

func (s *SQLiteStore) CreateCompany(ctx context.Context, c *model.Company) error {
	if c.Aliases == nil {
		c.Aliases = []string{c.CanonicalName}
	}
	aliases, err := json.Marshal(c.Aliases)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode aliases")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO companies (canonical_name, aliases, industry, country, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.CanonicalName, string(aliases), nullStr(c.Industry), nullStr(c.Country), now, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: create company %q", c.CanonicalName)
	}
	c.ID, _ = res.LastInsertId()
	c.CreatedAt, c.UpdatedAt = now, now
	return nil
}

func (s *SQLiteStore) AddCompanyAlias(ctx context.Context, companyID int64, alias string) error {
	c, err := s.GetCompany(ctx, companyID)
	if err != nil {
		return err
	}
	if c == nil {
		return eris.Errorf("sqlite: company %d not found", companyID)
	}
	if c.HasAlias(alias) {
		return nil
	}
	aliases, err := json.Marshal(append(c.Aliases, alias))
	if err != nil {
		return eris.Wrap(err, "sqlite: encode aliases")
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE companies SET aliases = ?, updated_at = ? WHERE id = ?`,
		string(aliases), time.Now().UTC(), companyID)
	return eris.Wrapf(err, "sqlite: add alias to company %d", companyID)
}

// MergeCompanies folds losingID into survivingID in one transaction:
// aliases are unioned, foreign references re-pointed, and the losing row
// deleted. Any failure rolls back the whole merge.
func (s *SQLiteStore) MergeCompanies(ctx context.Context, survivingID, losingID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: merge begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	surviving, err := scanCompany(tx.QueryRowContext(ctx,
		`SELECT `+companyCols+` FROM companies WHERE id = ?`, survivingID))
	if err != nil {
		return eris.Wrapf(err, "sqlite: merge load surviving %d", survivingID)
	}
	losing, err := scanCompany(tx.QueryRowContext(ctx,
		`SELECT `+companyCols+` FROM companies WHERE id = ?`, losingID))
	if err != nil {
		return eris.Wrapf(err, "sqlite: merge load losing %d", losingID)
	}

	merged := surviving.Aliases
	for _, a := range append(losing.Aliases, losing.CanonicalName) {
		if !surviving.HasAlias(a) {
			merged = append(merged, a)
			surviving.Aliases = merged
		}
	}
	aliases, err := json.Marshal(merged)
	if err != nil {
		return eris.Wrap(err, "sqlite: merge encode aliases")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE companies SET aliases = ?, updated_at = ? WHERE id = ?`,
		string(aliases), time.Now().UTC(), survivingID); err != nil {
		return eris.Wrap(err, "sqlite: merge update surviving")
	}

	repoint := []string{
		`UPDATE waste_listings SET company_id = ? WHERE company_id = ?`,
		`UPDATE carbon_emissions SET company_id = ? WHERE company_id = ?`,
		`UPDATE symbiosis_exchanges SET source_company_id = ? WHERE source_company_id = ?`,
		`UPDATE symbiosis_exchanges SET target_company_id = ? WHERE target_company_id = ?`,
	}
	for _, q := range repoint {
		if _, err := tx.ExecContext(ctx, q, survivingID, losingID); err != nil {
			return eris.Wrap(err, "sqlite: merge re-point references")
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM companies WHERE id = ?`, losingID); err != nil {
		return eris.Wrapf(err, "sqlite: merge delete company %d", losingID)
	}

	return eris.Wrap(tx.Commit(), "sqlite: merge commit")
}

// --- Extracted facts ---

func (s *SQLiteStore) UpsertWasteListing(ctx context.Context, l *model.WasteListing) (UpsertOutcome, error) {
	var existingID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM waste_listings
		WHERE document_id = ? AND material_label = ? AND company_name = ? AND year = ? AND quantity_tons = ?`,
		l.DocumentID, l.MaterialLabel, l.CompanyName, l.Year, l.QuantityTons,
	).Scan(&existingID)

	now := time.Now().UTC()
	switch {
	case err == sql.ErrNoRows:
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO waste_listings
				(document_id, material_label, material_type_id, company_name, company_id,
				 industry, country, quantity_tons, year, price_per_ton,
				 extraction_confidence, source_url, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.DocumentID, l.MaterialLabel, nullStr(l.MaterialTypeID), l.CompanyName, nullInt(l.CompanyID),
			nullStr(l.Industry), nullStr(l.Country), l.QuantityTons, l.Year, nullFloat(l.PricePerTon),
			l.ExtractionConfidence, nullStr(l.SourceURL), now, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert listing %s", l.NaturalKey())
		}
		l.ID, _ = res.LastInsertId()
		return OutcomeInserted, nil
	case err != nil:
		return 0, eris.Wrapf(err, "sqlite: lookup listing %s", l.NaturalKey())
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE waste_listings SET
			material_type_id = ?, company_id = ?, industry = ?, country = ?,
			price_per_ton = ?, extraction_confidence = ?, source_url = ?, updated_at = ?
		WHERE id = ?`,
		nullStr(l.MaterialTypeID), nullInt(l.CompanyID), nullStr(l.Industry), nullStr(l.Country),
		nullFloat(l.PricePerTon), l.ExtractionConfidence, nullStr(l.SourceURL), now, existingID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: update listing %s", l.NaturalKey())
	}
	l.ID = existingID
	return OutcomeUpdated, nil
}

func (s *SQLiteStore) UpsertCarbonEmission(ctx context.Context, rec *model.CarbonEmissionRecord) (UpsertOutcome, error) {
	var existingID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM carbon_emissions WHERE company_name = ? AND year = ?`,
		rec.CompanyName, rec.Year,
	).Scan(&existingID)

	now := time.Now().UTC()
	switch {
	case err == sql.ErrNoRows:
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO carbon_emissions
				(document_id, company_name, company_id, year, co2_tons,
				 scope1_tons, scope2_tons, scope3_tons, verified, methodology,
				 report_date, extraction_confidence, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			nullStr(rec.DocumentID), rec.CompanyName, nullInt(rec.CompanyID), rec.Year, rec.CO2Tons,
			nullFloat(rec.Scope1Tons), nullFloat(rec.Scope2Tons), nullFloat(rec.Scope3Tons),
			rec.Verified, nullStr(rec.Methodology), nullTime(rec.ReportDate),
			rec.ExtractionConfidence, now, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert emission %s", rec.NaturalKey())
		}
		rec.ID, _ = res.LastInsertId()
		return OutcomeInserted, nil
	case err != nil:
		return 0, eris.Wrapf(err, "sqlite: lookup emission %s", rec.NaturalKey())
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE carbon_emissions SET
			document_id = ?, company_id = ?, co2_tons = ?,
			scope1_tons = ?, scope2_tons = ?, scope3_tons = ?, verified = ?,
			methodology = ?, report_date = ?, extraction_confidence = ?, updated_at = ?
		WHERE id = ?`,
		nullStr(rec.DocumentID), nullInt(rec.CompanyID), rec.CO2Tons,
		nullFloat(rec.Scope1Tons), nullFloat(rec.Scope2Tons), nullFloat(rec.Scope3Tons), rec.Verified,
		nullStr(rec.Methodology), nullTime(rec.ReportDate), rec.ExtractionConfidence, now, existingID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: update emission %s", rec.NaturalKey())
	}
	rec.ID = existingID
	return OutcomeUpdated, nil
}

func (s *SQLiteStore) UpsertSymbiosisExchange(ctx context.Context, ex *model.SymbiosisExchange) (UpsertOutcome, error) {
	var existingID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM symbiosis_exchanges
		WHERE source_company = ? AND target_company = ? AND material_label = ? AND year = ?`,
		ex.SourceCompany, ex.TargetCompany, ex.MaterialLabel, ex.Year,
	).Scan(&existingID)

	now := time.Now().UTC()
	switch {
	case err == sql.ErrNoRows:
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO symbiosis_exchanges
				(document_id, source_company, target_company, source_company_id, target_company_id,
				 material_label, material_type_id, year, volume_tons, co2_savings_tons,
				 extraction_confidence, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			nullStr(ex.DocumentID), ex.SourceCompany, ex.TargetCompany,
			nullInt(ex.SourceCompanyID), nullInt(ex.TargetCompanyID),
			ex.MaterialLabel, nullStr(ex.MaterialTypeID), ex.Year, ex.VolumeTons,
			nullFloat(ex.CO2SavingsTons), ex.ExtractionConfidence, now, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert exchange %s", ex.NaturalKey())
		}
		ex.ID, _ = res.LastInsertId()
		return OutcomeInserted, nil
	case err != nil:
		return 0, eris.Wrapf(err, "sqlite: lookup exchange %s", ex.NaturalKey())
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE symbiosis_exchanges SET
			document_id = ?, source_company_id = ?, target_company_id = ?, material_type_id = ?,
			volume_tons = ?, co2_savings_tons = ?, extraction_confidence = ?, updated_at = ?
		WHERE id = ?`,
		nullStr(ex.DocumentID), nullInt(ex.SourceCompanyID), nullInt(ex.TargetCompanyID),
		nullStr(ex.MaterialTypeID), ex.VolumeTons, nullFloat(ex.CO2SavingsTons),
		ex.ExtractionConfidence, now, existingID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: update exchange %s", ex.NaturalKey())
	}
	ex.ID = existingID
	return OutcomeUpdated, nil
}

func (s *SQLiteStore) GetCarbonEmission(ctx context.Context, companyName string, year int) (*model.CarbonEmissionRecord, error) {
	var rec model.CarbonEmissionRecord
	var docID, methodology sql.NullString
	var companyID sql.NullInt64
	var s1, s2, s3 sql.NullFloat64
	var reportDate sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, company_name, company_id, year, co2_tons,
		       scope1_tons, scope2_tons, scope3_tons, verified, methodology,
		       report_date, extraction_confidence
		FROM carbon_emissions WHERE company_name = ? AND year = ?`,
		companyName, year,
	).Scan(&rec.ID, &docID, &rec.CompanyName, &companyID, &rec.Year, &rec.CO2Tons,
		&s1, &s2, &s3, &rec.Verified, &methodology, &reportDate, &rec.ExtractionConfidence)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get emission %s/%d", companyName, year)
	}
	rec.DocumentID = docID.String
	rec.Methodology = methodology.String
	if companyID.Valid {
		rec.CompanyID = &companyID.Int64
	}
	for ptr, v := range map[**float64]sql.NullFloat64{&rec.Scope1Tons: s1, &rec.Scope2Tons: s2, &rec.Scope3Tons: s3} {
		if v.Valid {
			f := v.Float64
			*ptr = &f
		}
	}
	if reportDate.Valid {
		t := reportDate.Time
		rec.ReportDate = &t
	}
	return &rec, nil
}

// ListListingsWithValue left-joins listings through their resolved
// material type to the current valuation, computing
// estimated_value = quantity_tons * price_per_ton_usd. Valuation fields
// come back NULL for unmapped or not-yet-valued materials.
func (s *SQLiteStore) ListListingsWithValue(ctx context.Context, limit int) ([]model.ListingValue, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.document_id, l.material_label, COALESCE(l.material_type_id, ''),
		       l.company_name, l.company_id, COALESCE(l.industry, ''), COALESCE(l.country, ''),
		       l.quantity_tons, l.year, l.price_per_ton, l.extraction_confidence,
		       COALESCE(l.source_url, ''),
		       v.price_per_ton_usd, v.confidence_score,
		       l.quantity_tons * v.price_per_ton_usd AS estimated_value
		FROM waste_listings l
		LEFT JOIN material_valuations v ON v.material_type_id = l.material_type_id
		ORDER BY l.id
		LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list listings with value")
	}
	defer rows.Close()

	var out []model.ListingValue
	for rows.Next() {
		var lv model.ListingValue
		var companyID sql.NullInt64
		var pricePerTon, valPrice, valConf, estValue sql.NullFloat64
		if err := rows.Scan(&lv.Listing.ID, &lv.Listing.DocumentID, &lv.Listing.MaterialLabel,
			&lv.Listing.MaterialTypeID, &lv.Listing.CompanyName, &companyID,
			&lv.Listing.Industry, &lv.Listing.Country, &lv.Listing.QuantityTons, &lv.Listing.Year,
			&pricePerTon, &lv.Listing.ExtractionConfidence, &lv.Listing.SourceURL,
			&valPrice, &valConf, &estValue); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan listing value")
		}
		if companyID.Valid {
			lv.Listing.CompanyID = &companyID.Int64
		}
		if pricePerTon.Valid {
			f := pricePerTon.Float64
			lv.Listing.PricePerTon = &f
		}
		if valPrice.Valid {
			f := valPrice.Float64
			lv.PricePerTonUSD = &f
		}
		if valConf.Valid {
			f := valConf.Float64
			lv.Confidence = &f
		}
		if estValue.Valid {
			f := estValue.Float64
			lv.EstimatedValue = &f
		}
		out = append(out, lv)
	}
	return out, rows.Err()
}

// --- Fraud flags ---

func (s *SQLiteStore) InsertFraudFlag(ctx context.Context, f *model.FraudFlag) error {
	if f.Status == "" {
		f.Status = model.FlagOpen
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO fraud_flags (entity_type, entity_key, flag_type, severity, confidence, status, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.EntityType, f.EntityKey, f.FlagType, f.Severity, f.Confidence, f.Status, nullStr(f.Detail),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert fraud flag %s", f.FlagType)
	}
	f.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) ListFraudFlags(ctx context.Context, status string, limit int) ([]model.FraudFlag, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, entity_type, entity_key, flag_type, severity, confidence, status,
		       COALESCE(detail, ''), created_at
		FROM fraud_flags`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list fraud flags")
	}
	defer rows.Close()

	var flags []model.FraudFlag
	for rows.Next() {
		var f model.FraudFlag
		if err := rows.Scan(&f.ID, &f.EntityType, &f.EntityKey, &f.FlagType, &f.Severity,
			&f.Confidence, &f.Status, &f.Detail, &f.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fraud flag")
		}
		flags = append(flags, f)
	}
	return flags, rows.Err()
}

// --- Pipeline runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.PipelineRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	run.Status = model.RunStatusRunning
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, pipeline_type, domain, source, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.PipelineType, nullStr(run.Domain), nullStr(run.Source), run.StartedAt, string(run.Status),
	)
	return eris.Wrapf(err, "sqlite: create run %s", run.ID)
}

// terminateRun transitions a run out of running state. The WHERE clause
// keeps terminal rows append-only: completing or failing twice is a no-op
// error surfaced to the caller.
func (s *SQLiteStore) terminateRun(ctx context.Context, runID string, status model.RunStatus, processed, failed int, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET status = ?, completed_at = ?, documents_processed = ?, documents_failed = ?, error = ?
		WHERE id = ? AND status = 'running'`,
		string(status), time.Now().UTC(), processed, failed, nullStr(errMsg), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: terminate run %s", runID)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return eris.Errorf("sqlite: run %s not found or not running", runID)
	}
	return nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, processed, failed int) error {
	return s.terminateRun(ctx, runID, model.RunStatusCompleted, processed, failed, "")
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, processed, failed int, errMsg string) error {
	return s.terminateRun(ctx, runID, model.RunStatusFailed, processed, failed, errMsg)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	query := `
		SELECT id, pipeline_type, COALESCE(domain, ''), COALESCE(source, ''),
		       started_at, completed_at, status, documents_processed, documents_failed,
		       COALESCE(error, '')
		FROM pipeline_runs WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Domain != "" {
		query += ` AND domain = ?`
		args = append(args, filter.Domain)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		var r model.PipelineRun
		var completedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.PipelineType, &r.Domain, &r.Source,
			&r.StartedAt, &completedAt, &r.Status, &r.DocumentsProcessed, &r.DocumentsFailed,
			&r.Error); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- Stats ---

func (s *SQLiteStore) Stats(ctx context.Context) (*model.PipelineStats, error) {
	var st model.PipelineStats
	err := s.db.QueryRowContext(ctx, `
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
		return nil, eris.Wrap(err, "sqlite: stats")
	}
	return &st, nil
}

// --- scan/arg helpers ---

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return *p
}
