package spec

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// FSPScale is the fixed-point exponent of the final settlement price
// transformation coefficients (alpha, beta).
const FSPScale = 18

// ErrNotPinned is returned when an on-chain conversion is attempted before the
// extended metadata has been pinned.
var ErrNotPinned = errors.New("extended metadata has not been pinned")

// OnChainProduct is the integer representation submitted to the product
// registry. Prices are scaled by 10^priceDecimals, the point value by the
// collateral asset's decimals and alpha/beta by 10^FSPScale.
type OnChainProduct struct {
	Builder                   common.Address `json:"builder"`
	Symbol                    string         `json:"symbol"`
	Description               string         `json:"description"`
	OracleAddress             common.Address `json:"oracleAddress"`
	FSVDecimals               uint8          `json:"fsvDecimals"`
	FSPAlpha                  *big.Int       `json:"fspAlpha"`
	FSPBeta                   *big.Int       `json:"fspBeta"`
	FSVCalldata               hexutil.Bytes  `json:"fsvCalldata"`
	CollateralAsset           common.Address `json:"collateralAsset"`
	StartTime                 uint64         `json:"startTime"`
	PointValue                *big.Int       `json:"pointValue"`
	PriceDecimals             uint8          `json:"priceDecimals"`
	ExtendedMetadata          string         `json:"extendedMetadata"`
	EarliestFSPSubmissionTime uint64         `json:"earliestFSPSubmissionTime"`
	TradeoutInterval          uint64         `json:"tradeoutInterval"`
	MinPrice                  *big.Int       `json:"minPrice"`
	MaxPrice                  *big.Int       `json:"maxPrice"`
}

// OnChain converts a pinned specification into its registry representation.
func (s *Specification) OnChain(collateralDecimals int32) (*OnChainProduct, error) {
	base := s.Product.Base
	if base.ExtendedMetadata == "" {
		return nil, ErrNotPinned
	}

	calldata, err := hexutil.Decode(base.OracleSpec.FSVCalldata)
	if err != nil {
		return nil, fmt.Errorf("fsvCalldata: %w", err)
	}

	priceExp := int32(base.PriceDecimals)
	out := &OnChainProduct{
		Builder:                   s.Builder(),
		Symbol:                    base.Metadata.Symbol,
		Description:               base.Metadata.Description,
		OracleAddress:             s.OracleAddress(),
		FSVDecimals:               uint8(base.OracleSpec.FSVDecimals),
		FSVCalldata:               calldata,
		CollateralAsset:           s.CollateralAsset(),
		StartTime:                 uint64(base.StartTime.Unix()),
		PriceDecimals:             uint8(base.PriceDecimals),
		ExtendedMetadata:          base.ExtendedMetadata,
		EarliestFSPSubmissionTime: uint64(s.Product.ExpirySpec.EarliestFSPSubmissionTime.Unix()),
		TradeoutInterval:          uint64(s.Product.ExpirySpec.TradeoutInterval),
	}

	fields := []struct {
		name  string
		value decimal.Decimal
		exp   int32
		dst   **big.Int
	}{
		{"fspAlpha", base.OracleSpec.FSPAlpha, FSPScale, &out.FSPAlpha},
		{"fspBeta", base.OracleSpec.FSPBeta, FSPScale, &out.FSPBeta},
		{"pointValue", base.PointValue, collateralDecimals, &out.PointValue},
		{"minPrice", s.Product.MinPrice, priceExp, &out.MinPrice},
		{"maxPrice", s.Product.MaxPrice, priceExp, &out.MaxPrice},
	}
	for _, f := range fields {
		v, err := scaleExact(f.value, f.exp)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}
	return out, nil
}

// scaleExact returns value*10^exp, failing when the result is fractional.
func scaleExact(value decimal.Decimal, exp int32) (*big.Int, error) {
	shifted := value.Shift(exp)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("%s has more than %d decimal places", value.String(), exp)
	}
	return shifted.BigInt(), nil
}
