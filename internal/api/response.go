package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/Checker-Finance/afp-onboarding/internal/admission"
	"github.com/Checker-Finance/afp-onboarding/internal/registration"
)

// AdmissionResponse is the body of an accepted validation.
type AdmissionResponse struct {
	ProductID         string   `json:"productId"`
	Symbol            string   `json:"symbol"`
	Builder           string   `json:"builder"`
	Environment       string   `json:"environment,omitempty"`
	Stake             string   `json:"initialBuilderStake"`
	Eligibility       string   `json:"eligibility"`
	AlreadyRegistered bool     `json:"alreadyRegistered,omitempty"`
	Warnings          []string `json:"warnings,omitempty"`
}

// TransitionResponse is one lifecycle step.
type TransitionResponse struct {
	Step    string `json:"step"`
	Outcome string `json:"outcome"`
	TxHash  string `json:"txHash,omitempty"`
	CID     string `json:"cid,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Error   string `json:"errorMessage,omitempty"`
}

// LifecycleResponse is the body of register and list calls.
type LifecycleResponse struct {
	ProductID   string               `json:"productId"`
	Warnings    []string             `json:"warnings,omitempty"`
	Transitions []TransitionResponse `json:"transitions"`
}

// ErrorResponse describes a rejection.
type ErrorResponse struct {
	Error       string   `json:"error"`
	Kind        string   `json:"kind,omitempty"`
	Field       string   `json:"field,omitempty"`
	Expected    string   `json:"expected,omitempty"`
	Actual      string   `json:"actual,omitempty"`
	Details     []string `json:"details,omitempty"`
	Remediation []string `json:"remediation,omitempty"`
}

func toAdmissionResponse(res *admission.Result) AdmissionResponse {
	s := res.Specification
	return AdmissionResponse{
		ProductID:         res.ProductID.Hex(),
		Symbol:            s.Symbol(),
		Builder:           s.Builder().Hex(),
		Environment:       res.Environment.String(),
		Stake:             res.Stake.Amount.String(),
		Eligibility:       res.Eligibility.String(),
		AlreadyRegistered: res.AlreadyRegistered,
		Warnings:          res.Warnings,
	}
}

func toTransitionResponses(ts []registration.Transition) []TransitionResponse {
	out := make([]TransitionResponse, 0, len(ts))
	for _, t := range ts {
		r := TransitionResponse{
			Step:    string(t.Step),
			Outcome: string(t.Outcome),
			TxHash:  t.TxHash,
			CID:     t.CID,
			Reason:  t.Reason,
		}
		if t.Err != nil {
			r.Kind = string(admission.KindOf(t.Err))
			r.Error = t.Err.Error()
		}
		out = append(out, r)
	}
	return out
}

func toErrorResponse(err error) ErrorResponse {
	var e *admission.Error
	if !errors.As(err, &e) {
		return ErrorResponse{Error: err.Error()}
	}
	resp := ErrorResponse{
		Error:       e.Message,
		Kind:        string(e.Kind),
		Field:       e.Field,
		Expected:    e.Expected,
		Actual:      e.Actual,
		Details:     e.Details,
		Remediation: e.Remediation,
	}
	if e.Err != nil {
		resp.Details = append(resp.Details, e.Err.Error())
	}
	return resp
}

// statusFor maps a rejection kind to an HTTP status.
func statusFor(kind admission.Kind) int {
	switch kind {
	case admission.KindMalformedInput:
		return fiber.StatusBadRequest
	case admission.KindNotFound:
		return fiber.StatusNotFound
	case admission.KindSchemaViolation, admission.KindAddressMismatch, admission.KindTimingViolation,
		admission.KindInsufficientCollateral, admission.KindIneligible:
		return fiber.StatusUnprocessableEntity
	case admission.KindRegistryUnavailable:
		return fiber.StatusServiceUnavailable
	case admission.KindMetadataPinFailure, admission.KindChainCallFailure, admission.KindUpstreamFailure:
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}
