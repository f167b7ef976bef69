package registration

import (
	"errors"
	"strings"

	"github.com/Checker-Finance/afp-onboarding/internal/spec"
)

// Step is a lifecycle transition of a product.
type Step string

const (
	StepRegister Step = "register"
	StepList     Step = "list"
	StepReveal   Step = "reveal"
)

// Outcome is the tagged result of a transition.
type Outcome string

const (
	Applied        Outcome = "applied"
	AlreadyInState Outcome = "already_in_state"
	Failed         Outcome = "failed"
)

// Reason codes reported by the exchange and the signer when the target state
// already holds.
const (
	ReasonAlreadyRegistered = "PRODUCT_ALREADY_REGISTERED"
	ReasonAlreadyListed     = "PRODUCT_ALREADY_LISTED"
	ReasonAlreadyRevealed   = "PRODUCT_ALREADY_REVEALED"
	ReasonProductNotFound   = "PRODUCT_NOT_FOUND"
)

// lifecycleReasons are codes specific enough to decide a transition on their
// own. Generic codes (VALIDATION_ERROR and the like) are not listed.
var lifecycleReasons = map[string]bool{
	ReasonAlreadyRegistered: true,
	ReasonAlreadyListed:     true,
	ReasonAlreadyRevealed:   true,
	ReasonProductNotFound:   true,
}

// Transition records one attempted step.
type Transition struct {
	Step      Step
	Outcome   Outcome
	ProductID spec.ProductID
	TxHash    string
	CID       string
	// Reason explains an AlreadyInState or Failed outcome.
	Reason string
	Err    error
}

// Succeeded reports whether the product is in the step's target state.
func (t Transition) Succeeded() bool {
	return t.Outcome == Applied || t.Outcome == AlreadyInState
}

// FirstError returns the error of the first failed transition, or nil.
func FirstError(ts ...Transition) error {
	for _, t := range ts {
		if t.Outcome == Failed {
			return t.Err
		}
	}
	return nil
}

// ReasonCoder is implemented by errors that carry a structured reason code.
type ReasonCoder interface {
	ReasonCode() string
}

// alreadyInState reports whether err says the target state already holds.
// A lifecycle reason code is authoritative. For any other or missing code the
// lower-cased message is searched for phrase; the phrasing is not a stable
// contract of the exchange.
func alreadyInState(err error, code, phrase string) bool {
	var rc ReasonCoder
	if errors.As(err, &rc) {
		got := rc.ReasonCode()
		if got == code {
			return true
		}
		if lifecycleReasons[got] {
			return false
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), phrase)
}
