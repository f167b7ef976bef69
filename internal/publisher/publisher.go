// Package publisher emits product lifecycle events to NATS JetStream.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/afp-onboarding/internal/admission"
	"github.com/Checker-Finance/afp-onboarding/internal/metrics"
	"github.com/Checker-Finance/afp-onboarding/internal/registration"
	"github.com/Checker-Finance/afp-onboarding/pkg/model"
)

const (
	EventTypeTransition = "product.transition"
	eventVersion        = "1.0.0"
)

// JetStream is the subset of nats.JetStreamContext used for publishing.
type JetStream interface {
	PublishMsg(msg *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher publishes canonical event envelopes.
type Publisher struct {
	nc      *nats.Conn
	js      JetStream
	subject string
	service string
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a Publisher on a JetStream-enabled connection.
func New(nc *nats.Conn, subject, service string, logger *zap.Logger) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	p := NewWithJetStream(js, subject, service, logger)
	p.nc = nc
	return p, nil
}

// NewWithJetStream creates a Publisher over an existing JetStream context.
func NewWithJetStream(js JetStream, subject, service string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{js: js, subject: subject, service: service, logger: logger, now: time.Now}
}

// NotifyTransition publishes t as a product.transition event on
// <subject>.<step>.
func (p *Publisher) NotifyTransition(ctx context.Context, t registration.Transition) error {
	ev := model.ProductTransitionEvent{
		ProductID: t.ProductID.Hex(),
		Step:      string(t.Step),
		Outcome:   string(t.Outcome),
		TxHash:    t.TxHash,
		CID:       t.CID,
		Reason:    t.Reason,
		Timestamp: p.now().UTC(),
	}
	if t.Err != nil {
		ev.ErrorKind = string(admission.KindOf(t.Err))
		ev.Error = t.Err.Error()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	subject := p.subject + "." + string(t.Step)
	env := &model.Envelope{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		Topic:         subject,
		EventType:     EventTypeTransition,
		Version:       eventVersion,
		Timestamp:     ev.Timestamp,
		Payload:       payload,
	}
	return p.PublishEnvelope(ctx, subject, env)
}

// PublishEnvelope serializes and publishes env. An empty subject uses the
// publisher's default subject.
func (p *Publisher) PublishEnvelope(_ context.Context, subject string, env *model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("publisher.marshal_failed",
			zap.String("subject", subject),
			zap.String("event_type", env.EventType),
			zap.Error(err))
		metrics.IncError("publisher", "marshal_failed")
		return err
	}
	if subject == "" {
		subject = p.subject
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
			nats.MsgIdHdr:    []string{env.ID.String()},
		},
	}

	start := time.Now()
	_, err = p.js.PublishMsg(msg)
	metrics.ObserveCall("nats", "publish", start, err)
	if err != nil {
		p.logger.Error("publisher.publish_failed",
			zap.String("subject", subject),
			zap.String("event_type", env.EventType),
			zap.Error(err))
		metrics.IncNATSMessage(subject, "error")
		return err
	}

	p.logger.Debug("publisher.publish_success",
		zap.String("subject", subject),
		zap.String("event_type", env.EventType))
	metrics.IncNATSMessage(subject, "ok")
	return nil
}

func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		p.nc.Close()
	}
}

// StreamManager is the subset of nats.JetStreamManager used to provision the
// events stream.
type StreamManager interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// EnsureStream creates the stream capturing <subject>.> unless it exists.
func EnsureStream(jsm StreamManager, stream, subject string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := jsm.StreamInfo(stream); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", stream, err)
	}
	if _, err := jsm.AddStream(&nats.StreamConfig{
		Name:     stream,
		Subjects: []string{subject + ".>"},
		Storage:  nats.FileStorage,
	}); err != nil {
		return fmt.Errorf("add stream %s: %w", stream, err)
	}
	logger.Info("publisher.stream_created", zap.String("stream", stream), zap.String("subject", subject))
	return nil
}
