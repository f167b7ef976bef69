package chain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrEmptyResult is wrapped when a call returns no data, which usually
	// means there is no contract at the address.
	ErrEmptyResult = errors.New("empty call result")
	// ErrNoMarginAccount is wrapped when the registry has no margin account
	// for a collateral asset.
	ErrNoMarginAccount = errors.New("no margin account for collateral asset")
)

// CallError describes a failed contract read or registration submission.
type CallError struct {
	Op       string
	Contract common.Address
	// Reason is the structured reason code reported by the signer, if any.
	Reason string
	Err    error
}

func (e *CallError) Error() string {
	msg := fmt.Sprintf("chain %s on %s", e.Op, e.Contract.Hex())
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CallError) Unwrap() error { return e.Err }

// ReasonCode returns the structured reason code, or "".
func (e *CallError) ReasonCode() string { return e.Reason }
