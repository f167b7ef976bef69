// Package spec parses and validates AFP product specifications and derives
// their deterministic product identifier.
package spec

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// StakeField is the out-of-schema key carrying the builder's initial stake.
const StakeField = "initial_builder_stake"

// Specification is a schema-valid product specification: the on-chain
// product plus the extended metadata sections that are pinned off-chain.
type Specification struct {
	Product        Product        `json:"product"`
	OutcomeSpace   OutcomeSpace   `json:"outcome_space"`
	OutcomePoint   OutcomePoint   `json:"outcome_point"`
	OracleConfig   OracleConfig   `json:"oracle_config"`
	OracleFallback OracleFallback `json:"oracle_fallback"`
}

// Product is the prediction product registered on-chain.
type Product struct {
	Base       BaseProduct     `json:"base"`
	ExpirySpec ExpirySpec      `json:"expirySpec"`
	MinPrice   decimal.Decimal `json:"minPrice"`
	MaxPrice   decimal.Decimal `json:"maxPrice"`
}

// BaseProduct holds the fields shared by every AFP product type.
type BaseProduct struct {
	Metadata        Metadata        `json:"metadata"`
	OracleSpec      OracleSpec      `json:"oracleSpec"`
	CollateralAsset string          `json:"collateralAsset" validate:"required,eth_addr"`
	StartTime       time.Time       `json:"startTime" validate:"required"`
	PointValue      decimal.Decimal `json:"pointValue"`
	PriceDecimals   int             `json:"priceDecimals" validate:"min=0,max=18"`
	// ExtendedMetadata is the content identifier of the pinned extended
	// metadata. Empty until the product has been pinned.
	ExtendedMetadata string `json:"extendedMetadata,omitempty"`
}

type Metadata struct {
	Builder     string `json:"builder" validate:"required,eth_addr"`
	Symbol      string `json:"symbol" validate:"required,nowhitespace"`
	Description string `json:"description" validate:"required"`
}

type OracleSpec struct {
	OracleAddress string          `json:"oracleAddress" validate:"required,eth_addr"`
	FSVDecimals   int             `json:"fsvDecimals" validate:"min=0,max=18"`
	FSPAlpha      decimal.Decimal `json:"fspAlpha"`
	FSPBeta       decimal.Decimal `json:"fspBeta"`
	FSVCalldata   string          `json:"fsvCalldata" validate:"hexbytes"`
}

type ExpirySpec struct {
	EarliestFSPSubmissionTime time.Time `json:"earliestFSPSubmissionTime" validate:"required"`
	TradeoutInterval          int64     `json:"tradeoutInterval" validate:"gt=0"` // seconds
}

type OutcomeSpace struct {
	FSPType     string `json:"fsp_type" validate:"required"`
	Description string `json:"description" validate:"required"`
	BaseCase    Case   `json:"base_case"`
	EdgeCases   []Case `json:"edge_cases" validate:"dive"`
	Frequency   string `json:"frequency"`
	Units       string `json:"units"`
	SourceName  string `json:"source_name" validate:"required"`
	SourceURI   string `json:"source_uri" validate:"required,http_url"`
}

type Case struct {
	Condition     string `json:"condition" validate:"required"`
	FSPResolution string `json:"fsp_resolution" validate:"required"`
}

type OutcomePoint struct {
	FSPType     string      `json:"fsp_type"`
	Observation Observation `json:"observation"`
}

type Observation struct {
	ReferenceDate string `json:"reference_date" validate:"required,datetime=2006-01-02"`
	ReleaseDate   string `json:"release_date" validate:"required,datetime=2006-01-02"`
}

type OracleConfig struct {
	Description       string            `json:"description" validate:"required"`
	ProjectURL        string            `json:"project_url" validate:"required,http_url"`
	EvaluationAPISpec EvaluationAPISpec `json:"evaluation_api_spec"`
}

type EvaluationAPISpec struct {
	Standard          string            `json:"standard" validate:"required"`
	URL               string            `json:"url" validate:"required,http_url"`
	DatePath          string            `json:"date_path" validate:"required"`
	ValuePath         string            `json:"value_path" validate:"required"`
	Headers           map[string]string `json:"headers"`
	Timezone          string            `json:"timezone" validate:"omitempty,timezone"`
	DateFormatType    string            `json:"date_format_type"`
	AuthParamName     *string           `json:"auth_param_name"`
	AuthParamLocation string            `json:"auth_param_location"`
}

type OracleFallback struct {
	FallbackTime time.Time       `json:"fallback_time" validate:"required"`
	FallbackFSP  decimal.Decimal `json:"fallback_fsp"`
}

// ExtendedDocument is the off-chain part of a specification, pinned to the
// metadata store and referenced on-chain by content identifier.
type ExtendedDocument struct {
	OutcomeSpace   OutcomeSpace   `json:"outcome_space"`
	OutcomePoint   OutcomePoint   `json:"outcome_point"`
	OracleConfig   OracleConfig   `json:"oracle_config"`
	OracleFallback OracleFallback `json:"oracle_fallback"`
}

// Extended returns the extended metadata document of s.
func (s *Specification) Extended() ExtendedDocument {
	return ExtendedDocument{
		OutcomeSpace:   s.OutcomeSpace,
		OutcomePoint:   s.OutcomePoint,
		OracleConfig:   s.OracleConfig,
		OracleFallback: s.OracleFallback,
	}
}

// Builder returns the builder address.
func (s *Specification) Builder() common.Address {
	return common.HexToAddress(s.Product.Base.Metadata.Builder)
}

// Symbol returns the product token symbol.
func (s *Specification) Symbol() string {
	return s.Product.Base.Metadata.Symbol
}

// OracleAddress returns the oracle contract address.
func (s *Specification) OracleAddress() common.Address {
	return common.HexToAddress(s.Product.Base.OracleSpec.OracleAddress)
}

// CollateralAsset returns the collateral token address.
func (s *Specification) CollateralAsset() common.Address {
	return common.HexToAddress(s.Product.Base.CollateralAsset)
}

// StartTime returns the product start time.
func (s *Specification) StartTime() time.Time {
	return s.Product.Base.StartTime
}

// Normalize rewrites s into its canonical shape: checksummed addresses, UTC
// timestamps and empty collections in a single representation. It is
// idempotent.
func (s *Specification) Normalize() {
	b := &s.Product.Base
	b.Metadata.Builder = checksum(b.Metadata.Builder)
	b.OracleSpec.OracleAddress = checksum(b.OracleSpec.OracleAddress)
	b.CollateralAsset = checksum(b.CollateralAsset)
	b.StartTime = b.StartTime.UTC()

	s.Product.ExpirySpec.EarliestFSPSubmissionTime = s.Product.ExpirySpec.EarliestFSPSubmissionTime.UTC()
	s.OracleFallback.FallbackTime = s.OracleFallback.FallbackTime.UTC()

	if s.OutcomeSpace.EdgeCases == nil {
		s.OutcomeSpace.EdgeCases = []Case{}
	}
	if len(s.OracleConfig.EvaluationAPISpec.Headers) == 0 {
		s.OracleConfig.EvaluationAPISpec.Headers = nil
	}
}

func checksum(addr string) string {
	if !common.IsHexAddress(addr) {
		return addr
	}
	return common.HexToAddress(addr).Hex()
}
