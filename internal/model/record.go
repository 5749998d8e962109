// Package model defines the raw and canonical data types flowing through
// the canonicalization pipeline.
package model

import (
	"fmt"
	"time"
)

// Record kinds accepted on the ingest boundary.
const (
	KindDocument   = "document"
	KindPriceQuote = "price_quote"
	KindListing    = "waste_listing"
	KindEmission   = "carbon_emission"
	KindExchange   = "symbiosis_exchange"
)

// RawRecord is the typed envelope emitted by the acquisition/extraction
// collaborators. Exactly one payload field is set, selected by Kind.
type RawRecord struct {
	Kind       string                `json:"kind"`
	Document   *Document             `json:"document,omitempty"`
	PriceQuote *RawPriceQuote        `json:"price_quote,omitempty"`
	Listing    *WasteListing         `json:"waste_listing,omitempty"`
	Emission   *CarbonEmissionRecord `json:"carbon_emission,omitempty"`
	Exchange   *SymbiosisExchange    `json:"symbiosis_exchange,omitempty"`
}

// Document is a source document reference. Documents are owned by the
// acquisition layer; the core only validates references against them.
type Document struct {
	ID           string    `json:"id" db:"id"`
	Source       string    `json:"source" db:"source"`
	SourceURL    string    `json:"source_url,omitempty" db:"source_url"`
	DocumentType string    `json:"document_type,omitempty" db:"document_type"`
	ContentHash  string    `json:"content_hash,omitempty" db:"content_hash"`
	IngestedAt   time.Time `json:"ingested_at" db:"ingested_at"`
}

// RawPriceQuote is an immutable price observation for a material as
// extracted from one source. Many quotes may reference the same real
// material under different labels.
type RawPriceQuote struct {
	ID            int64     `json:"id" db:"id"`
	MaterialLabel string    `json:"material_label" db:"material_label"`
	Category      string    `json:"category,omitempty" db:"category"`
	PriceValue    float64   `json:"price_value" db:"price_value"`
	PriceUnit     string    `json:"price_unit" db:"price_unit"`
	Currency      string    `json:"currency" db:"currency"`
	Source        string    `json:"source" db:"source"`
	SourceURL     string    `json:"source_url,omitempty" db:"source_url"`
	Region        string    `json:"region,omitempty" db:"region"`
	QuoteDate     time.Time `json:"quote_date" db:"quote_date"`
	FetchedAt     time.Time `json:"fetched_at" db:"fetched_at"`
}

// WasteListing is an extracted waste availability fact tied to a source
// document, optionally linked to a resolved material type and company.
type WasteListing struct {
	ID                   int64    `json:"id" db:"id"`
	DocumentID           string   `json:"document_id" db:"document_id"`
	MaterialLabel        string   `json:"material_label" db:"material_label"`
	MaterialTypeID       string   `json:"material_type_id,omitempty" db:"material_type_id"`
	CompanyName          string   `json:"company_name" db:"company_name"`
	CompanyID            *int64   `json:"company_id,omitempty" db:"company_id"`
	Industry             string   `json:"industry,omitempty" db:"industry"`
	Country              string   `json:"country,omitempty" db:"country"`
	QuantityTons         float64  `json:"quantity_tons" db:"quantity_tons"`
	Year                 int      `json:"year" db:"year"`
	PricePerTon          *float64 `json:"price_per_ton,omitempty" db:"price_per_ton"`
	ExtractionConfidence float64  `json:"extraction_confidence" db:"extraction_confidence"`
	SourceURL            string   `json:"source_url,omitempty" db:"source_url"`
}

// NaturalKey identifies the listing independently of when or how many
// times it was ingested.
func (l *WasteListing) NaturalKey() string {
	return fmt.Sprintf("listing:%s|%s|%s|%d|%.4f",
		l.DocumentID, l.MaterialLabel, l.CompanyName, l.Year, l.QuantityTons)
}

// CarbonEmissionRecord is an extracted emissions report for one company
// and year, with optional scope breakdown.
type CarbonEmissionRecord struct {
	ID                   int64      `json:"id" db:"id"`
	DocumentID           string     `json:"document_id" db:"document_id"`
	CompanyName          string     `json:"company_name" db:"company_name"`
	CompanyID            *int64     `json:"company_id,omitempty" db:"company_id"`
	Year                 int        `json:"year" db:"year"`
	CO2Tons              float64    `json:"co2_tons" db:"co2_tons"`
	Scope1Tons           *float64   `json:"scope1_tons,omitempty" db:"scope1_tons"`
	Scope2Tons           *float64   `json:"scope2_tons,omitempty" db:"scope2_tons"`
	Scope3Tons           *float64   `json:"scope3_tons,omitempty" db:"scope3_tons"`
	Verified             bool       `json:"verified" db:"verified"`
	Methodology          string     `json:"methodology,omitempty" db:"methodology"`
	ReportDate           *time.Time `json:"report_date,omitempty" db:"report_date"`
	ExtractionConfidence float64    `json:"extraction_confidence" db:"extraction_confidence"`
}

// NaturalKey is company+year: re-ingesting a revised report for the same
// company and year updates in place.
func (r *CarbonEmissionRecord) NaturalKey() string {
	return fmt.Sprintf("emission:%s|%d", r.CompanyName, r.Year)
}

// SymbiosisExchange is an extracted industrial-symbiosis exchange fact:
// material flowing from one company to another in a given year.
type SymbiosisExchange struct {
	ID                   int64    `json:"id" db:"id"`
	DocumentID           string   `json:"document_id,omitempty" db:"document_id"`
	SourceCompany        string   `json:"source_company" db:"source_company"`
	TargetCompany        string   `json:"target_company" db:"target_company"`
	SourceCompanyID      *int64   `json:"source_company_id,omitempty" db:"source_company_id"`
	TargetCompanyID      *int64   `json:"target_company_id,omitempty" db:"target_company_id"`
	MaterialLabel        string   `json:"material_label" db:"material_label"`
	MaterialTypeID       string   `json:"material_type_id,omitempty" db:"material_type_id"`
	Year                 int      `json:"year" db:"year"`
	VolumeTons           float64  `json:"volume_tons" db:"volume_tons"`
	CO2SavingsTons       *float64 `json:"co2_savings_tons,omitempty" db:"co2_savings_tons"`
	ExtractionConfidence float64  `json:"extraction_confidence" db:"extraction_confidence"`
}

// NaturalKey is source+target+material+year.
func (e *SymbiosisExchange) NaturalKey() string {
	return fmt.Sprintf("exchange:%s|%s|%s|%d",
		e.SourceCompany, e.TargetCompany, e.MaterialLabel, e.Year)
}

// ListingValue is a waste listing joined with the current valuation of its
// resolved material type. Valuation fields are nil when the listing's
// material has no mapping or no valuation yet.
type ListingValue struct {
	Listing        WasteListing `json:"listing"`
	PricePerTonUSD *float64     `json:"price_per_ton_usd,omitempty"`
	Confidence     *float64     `json:"confidence,omitempty"`
	EstimatedValue *float64     `json:"estimated_value,omitempty"`
}
