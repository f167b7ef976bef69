package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/afp-onboarding/internal/metrics"
	"github.com/Checker-Finance/afp-onboarding/internal/spec"
)

// Receipt statuses reported by the signer.
const (
	StatusConfirmed = "confirmed"
	StatusReverted  = "reverted"
	StatusRejected  = "rejected"
)

// Requester is the subset of *nats.Conn used by Signer.
type Requester interface {
	RequestMsgWithContext(ctx context.Context, msg *nats.Msg) (*nats.Msg, error)
}

// RegistrationRequest asks the signer to register a product on behalf of
// its builder.
type RegistrationRequest struct {
	RequestID           string               `json:"request_id"`
	ProductID           spec.ProductID       `json:"product_id"`
	Product             *spec.OnChainProduct `json:"product"`
	InitialBuilderStake string               `json:"initial_builder_stake"`
	Network             string               `json:"network"`
}

// Receipt is the signer's reply.
type Receipt struct {
	RequestID  string `json:"request_id"`
	TxHash     string `json:"tx_hash"`
	Status     string `json:"status"`
	ReasonCode string `json:"reason_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Signer submits registrations to the key-holding signer service over NATS
// request/reply.
type Signer struct {
	conn     Requester
	subject  string
	network  string
	registry common.Address
	timeout  time.Duration
	logger   *zap.Logger
}

// NewSigner creates a Signer publishing on subject. registry is the product
// registry the signer writes to and only labels errors.
func NewSigner(conn Requester, subject, network string, registry common.Address, timeout time.Duration, logger *zap.Logger) *Signer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Signer{conn: conn, subject: subject, network: network, registry: registry, timeout: timeout, logger: logger}
}

// SubmitRegistration sends one registration and waits for its receipt.
// A reverted or rejected receipt is returned together with a *CallError
// carrying the signer's reason code.
func (s *Signer) SubmitRegistration(ctx context.Context, id spec.ProductID, product *spec.OnChainProduct, stake string) (*Receipt, error) {
	req := RegistrationRequest{
		RequestID:           uuid.NewString(),
		ProductID:           id,
		Product:             product,
		InitialBuilderStake: stake,
		Network:             s.network,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal registration request: %w", err)
	}

	msg := nats.NewMsg(s.subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, req.RequestID)
	msg.Header.Set("Product-Id", id.Hex())

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	reply, err := s.conn.RequestMsgWithContext(ctx, msg)
	metrics.ObserveCall("signer", "register", start, err)
	if err != nil {
		s.logger.Warn("signer.request_failed",
			zap.String("request_id", req.RequestID),
			zap.String("product_id", id.Hex()),
			zap.Error(err))
		return nil, &CallError{Op: "registerPredictionProductFor", Contract: s.registry, Err: err}
	}

	var receipt Receipt
	if err := json.Unmarshal(reply.Data, &receipt); err != nil {
		return nil, &CallError{Op: "registerPredictionProductFor", Contract: s.registry, Err: fmt.Errorf("decode receipt: %w", err)}
	}

	fields := []zap.Field{
		zap.String("request_id", req.RequestID),
		zap.String("product_id", id.Hex()),
		zap.String("tx_hash", receipt.TxHash),
		zap.String("status", receipt.Status),
	}
	if receipt.Status != StatusConfirmed {
		s.logger.Warn("signer.registration_failed", append(fields, zap.String("reason_code", receipt.ReasonCode), zap.String("error", receipt.Error))...)
		reason := receipt.Error
		if reason == "" {
			reason = "transaction " + receipt.Status
		}
		return &receipt, &CallError{Op: "registerPredictionProductFor", Contract: s.registry, Reason: receipt.ReasonCode, Err: errors.New(reason)}
	}
	s.logger.Info("signer.registration_confirmed", fields...)
	return &receipt, nil
}
