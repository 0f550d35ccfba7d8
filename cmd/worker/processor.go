package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/medsupply-orderflow/internal/orders"
	"github.com/imrishuroy/medsupply-orderflow/internal/outbox"
	"github.com/imrishuroy/medsupply-orderflow/internal/service"
)

// orderService is the part of service.Service the worker drives.
type orderService interface {
	GetOrder(ctx context.Context, orderID string) (*orders.Order, error)
	Transition(ctx context.Context, orderID string, in service.TransitionInput) (service.TransitionResult, error)
}

// Processor validates newly created orders announced by OrderCreated events.
type Processor struct {
	svc orderService
	log *slog.Logger
}

// NewProcessor creates a new worker processor.
func NewProcessor(svc orderService, log *slog.Logger) *Processor {
	return &Processor{svc: svc, log: log}
}

// Handle processes an SQS batch and reports failed messages individually so
// only those are redelivered.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.HandleMessage(ctx, []byte(rec.Body)); err != nil {
			p.log.Error("worker error", "message_id", rec.MessageId, "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

// HandleMessage processes one envelope. Redelivered or out of date events are
// acknowledged without error.
func (p *Processor) HandleMessage(ctx context.Context, body []byte) error {
	env, err := outbox.DecodeEnvelope(body)
	if err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if env.EventType != orders.EventOrderCreated {
		p.log.Debug("ignoring event", "event", env.EventType, "event_id", env.EventID)
		return nil
	}
	if env.EventVersion > outbox.EnvelopeVersion {
		return fmt.Errorf("unsupported envelope version %d for event %s", env.EventVersion, env.EventID)
	}

	orderID := env.AggregateID
	p.log.Info("received", "order", orderID, "event", env.EventID)

	o, err := p.svc.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", orderID, err)
	}

	in := service.TransitionInput{Status: orders.StatusValidated, ExpectedVersion: &o.Version}
	if len(o.Items) == 0 {
		in.Status = orders.StatusFailed
		in.Reason = "order has no items"
	}

	res, err := p.svc.Transition(ctx, orderID, in)
	if errors.Is(err, orders.ErrInvalidTransition) {
		// already moved past NEW by an earlier delivery or an operator
		p.log.Info("duplicate delivery, order already progressed", "order", orderID, "status", o.Status)
		return nil
	}
	if err != nil {
		return fmt.Errorf("transition order %s: %w", orderID, err)
	}
	if !res.Changed {
		p.log.Info("duplicate delivery", "order", orderID, "status", res.Order.Status)
		return nil
	}

	p.log.Info("order checked", "order", orderID, "status", res.Order.Status)
	return nil
}
