package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the canonical wrapper of every event published by the service.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// ProductTransitionEvent reports one lifecycle step of a product.
type ProductTransitionEvent struct {
	ProductID string    `json:"product_id"`
	Step      string    `json:"step"`
	Outcome   string    `json:"outcome"`
	TxHash    string    `json:"tx_hash,omitempty"`
	CID       string    `json:"cid,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
