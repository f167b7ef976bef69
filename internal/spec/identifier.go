package spec

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidProductID is wrapped when a product id is not 0x + 64 hex characters.
var ErrInvalidProductID = errors.New("invalid product_id format, expected 0x followed by 64 hex characters")

// ErrProductNotFound is wrapped by product sources when no product exists
// for an id.
var ErrProductNotFound = errors.New("product not found")

var productIDRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)

// ProductID is the 32-byte on-chain identifier of a product.
type ProductID [32]byte

// ParseProductID parses a 0x-prefixed 32-byte hex string.
func ParseProductID(s string) (ProductID, error) {
	if !productIDRegex.MatchString(s) {
		return ProductID{}, fmt.Errorf("%w: got %q", ErrInvalidProductID, s)
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return ProductID{}, fmt.Errorf("%w: %v", ErrInvalidProductID, err)
	}
	var id ProductID
	copy(id[:], b)
	return id, nil
}

// IsProductID reports whether s is a well-formed product id.
func IsProductID(s string) bool {
	return productIDRegex.MatchString(s)
}

// Hex returns the lower-case 0x-prefixed form.
func (id ProductID) Hex() string { return hexutil.Encode(id[:]) }

func (id ProductID) String() string { return id.Hex() }

func (id ProductID) IsZero() bool { return id == ProductID{} }

func (id ProductID) MarshalText() ([]byte, error) { return []byte(id.Hex()), nil }

func (id *ProductID) UnmarshalText(text []byte) error {
	parsed, err := ParseProductID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Canonical returns the normalized copy of s that the identifier is computed
// from. The extended metadata CID is cleared so the identifier is the same
// before and after pinning.
func (s *Specification) Canonical() Specification {
	c := *s
	c.Normalize()
	c.Product.Base.ExtendedMetadata = ""
	return c
}

// Identifier computes the deterministic product id of s: keccak256 over the
// canonical JSON encoding. The builder stake is never part of a Specification
// and therefore never part of the id.
func Identifier(s *Specification) (ProductID, error) {
	c := s.Canonical()
	b, err := json.Marshal(&c)
	if err != nil {
		return ProductID{}, fmt.Errorf("encode canonical specification: %w", err)
	}
	return ProductID(crypto.Keccak256Hash(b)), nil
}
