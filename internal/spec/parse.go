package spec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrMalformedJSON is wrapped when a document is not valid JSON.
	ErrMalformedJSON = errors.New("invalid JSON format")
	// ErrInvalidStake is wrapped when initial_builder_stake cannot be parsed.
	ErrInvalidStake = errors.New("invalid initial_builder_stake value")
)

// Stake is the builder stake declared next to a specification.
type Stake struct {
	Amount   decimal.Decimal
	Declared bool
}

// ExtractStake removes initial_builder_stake from a raw document and returns
// it together with the remaining document. A missing or null stake is zero and
// not declared. Strings and JSON numbers are both accepted.
func ExtractStake(raw []byte) (Stake, []byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Stake{}, nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	if fields == nil {
		return Stake{}, nil, fmt.Errorf("%w: document must be a JSON object", ErrMalformedJSON)
	}

	value, ok := fields[StakeField]
	delete(fields, StakeField)

	rest, err := json.Marshal(fields)
	if err != nil {
		return Stake{}, nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}

	value = bytes.TrimSpace(value)
	if !ok || bytes.Equal(value, []byte("null")) {
		return Stake{Amount: decimal.Zero}, rest, nil
	}

	amount, err := parseStake(value)
	if err != nil {
		return Stake{}, nil, err
	}
	return Stake{Amount: amount, Declared: true}, rest, nil
}

func parseStake(value json.RawMessage) (decimal.Decimal, error) {
	text := string(value)
	if strings.HasPrefix(text, `"`) {
		if err := json.Unmarshal(value, &text); err != nil {
			return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrInvalidStake, err)
		}
	}
	text = strings.TrimSpace(text)

	amount, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q: %v", ErrInvalidStake, text, err)
	}
	if amount.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: %q is negative", ErrInvalidStake, text)
	}
	return amount, nil
}

// Parse decodes a specification document (without initial_builder_stake),
// validates it and returns it normalized. Syntax errors wrap
// ErrMalformedJSON; everything else is a *ValidationError.
func Parse(raw []byte) (*Specification, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var s Specification
	if err := dec.Decode(&s); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
		}
		return nil, &ValidationError{Violations: []Violation{decodeViolation(err)}}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: unexpected data after the top-level object", ErrMalformedJSON)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	s.Normalize()
	return &s, nil
}

func decodeViolation(err error) Violation {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return Violation{
			Path:    typeErr.Field,
			Message: fmt.Sprintf("expected %s, got JSON %s", typeErr.Type, typeErr.Value),
		}
	}
	msg := strings.TrimPrefix(err.Error(), "json: ")
	return Violation{Message: msg}
}

// JSON returns the document form of s.
func (s *Specification) JSON() ([]byte, error) {
	return json.Marshal(s)
}
