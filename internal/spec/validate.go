package spec

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	_ "time/tzdata" // evaluation API timezones

	"github.com/go-playground/validator/v10"
)

// Violation is a single schema failure at a JSON path.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.Path == "" {
		return v.Message
	}
	return v.Path + ": " + v.Message
}

// ValidationError lists every schema violation found in a specification.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	noun := "violation"
	if len(parts) != 1 {
		noun = "violations"
	}
	return fmt.Sprintf("%d schema %s: %s", len(parts), noun, strings.Join(parts, "; "))
}

var hexDataRegex = regexp.MustCompile(`^0x([0-9a-fA-F]{2})*$`)

// Tags reported by the cross-field rules of validateSpecification.
const (
	tagPositive = "positive"
	tagAfter    = "after"
	tagAbove    = "above"
	tagMatches  = "matches"
	tagWithin   = "within"
)

var schema = newSchemaValidator()

func newSchemaValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	mustRegister(v, "hexbytes", func(fl validator.FieldLevel) bool {
		return hexDataRegex.MatchString(fl.Field().String())
	})
	mustRegister(v, "nowhitespace", func(fl validator.FieldLevel) bool {
		return !strings.ContainsAny(fl.Field().String(), " \t\r\n")
	})
	v.RegisterStructValidation(validateSpecification, Specification{})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic("spec: register validation " + tag + ": " + err.Error())
	}
}

// validateSpecification holds the rules that span sections or involve
// decimal amounts, which struct tags cannot express.
func validateSpecification(sl validator.StructLevel) {
	s := sl.Current().Interface().(Specification)
	base := s.Product.Base

	if !base.PointValue.IsPositive() {
		sl.ReportError(base.PointValue.String(), "product.base.pointValue", "PointValue", tagPositive, "")
	}

	expiry := s.Product.ExpirySpec.EarliestFSPSubmissionTime
	if !base.StartTime.IsZero() && !expiry.IsZero() && !expiry.After(base.StartTime) {
		sl.ReportError(expiry, "product.expirySpec.earliestFSPSubmissionTime", "EarliestFSPSubmissionTime", tagAfter, "product.base.startTime")
	}

	if !s.Product.MinPrice.LessThan(s.Product.MaxPrice) {
		sl.ReportError(s.Product.MaxPrice.String(), "product.maxPrice", "MaxPrice", tagAbove, "product.minPrice")
	}

	if s.OutcomePoint.FSPType != s.OutcomeSpace.FSPType {
		sl.ReportError(s.OutcomePoint.FSPType, "outcome_point.fsp_type", "FSPType", tagMatches, "outcome_space.fsp_type")
	}

	fallback := s.OracleFallback
	if !fallback.FallbackTime.IsZero() && !expiry.IsZero() && !fallback.FallbackTime.After(expiry) {
		sl.ReportError(fallback.FallbackTime, "oracle_fallback.fallback_time", "FallbackTime", tagAfter, "product.expirySpec.earliestFSPSubmissionTime")
	}
	if fallback.FallbackFSP.LessThan(s.Product.MinPrice) || fallback.FallbackFSP.GreaterThan(s.Product.MaxPrice) {
		sl.ReportError(fallback.FallbackFSP.String(), "oracle_fallback.fallback_fsp", "FallbackFSP", tagWithin, "[minPrice, maxPrice]")
	}
}

// Validate checks the structural and cross-field rules of a specification.
func (s *Specification) Validate() error {
	err := schema.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate specification: %w", err)
	}
	vs := make([]Violation, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		vs = append(vs, violationOf(fe))
	}
	return &ValidationError{Violations: vs}
}

func violationOf(fe validator.FieldError) Violation {
	// Namespace is "Specification.<json path>".
	_, path, _ := strings.Cut(fe.Namespace(), ".")
	return Violation{Path: path, Message: violationMessage(fe)}
}

func violationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "eth_addr":
		return fmt.Sprintf("must be a 0x-prefixed 20-byte hex address, got %q", fe.Value())
	case "hexbytes":
		return "must be 0x-prefixed hex bytes"
	case "nowhitespace":
		return "must not contain whitespace"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "http_url":
		return fmt.Sprintf("must be an absolute http(s) URL, got %q", fe.Value())
	case "datetime":
		return fmt.Sprintf("must be a date in %s layout, got %q", fe.Param(), fe.Value())
	case "timezone":
		return fmt.Sprintf("unknown timezone %q", fe.Value())
	case tagPositive:
		return "must be positive"
	case tagAfter:
		return "must be after " + fe.Param()
	case tagAbove:
		return "must be greater than " + fe.Param()
	case tagMatches:
		return "must match " + fe.Param()
	case tagWithin:
		return "must lie within " + fe.Param()
	}
	return fmt.Sprintf("failed %q validation", fe.Tag())
}
