// Package notify defines order lifecycle events and the fire-and-forget
// sink contract the engine emits them through. Delivery transports
// (websocket push, queues, polling) live behind the Sink interface.
package notify

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"farmmarket/pkg/logger"
)

// EventType names an order lifecycle event.
type EventType string

const (
	OrderCreated       EventType = "order.created"
	OrderStatusChanged EventType = "order.status_changed"
	PaymentUpdated     EventType = "order.payment_updated"
)

// Event is a snapshot of an order at the moment of a lifecycle change.
type Event struct {
	Type          EventType `json:"type"`
	OrderID       string    `json:"orderId"`
	OrderNumber   string    `json:"orderNumber"`
	BuyerID       string    `json:"buyerId"`
	SellerID      string    `json:"sellerId"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"paymentStatus"`
	TotalAmount   float64   `json:"totalAmount"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Sink receives lifecycle events. Emission is best-effort: a Sink error
// must never fail the operation that produced the event.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, ev Event) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Dispatcher fans an event out to several sinks concurrently under a
// bounded timeout. Per-sink failures are logged and swallowed.
type Dispatcher struct {
	log     *logger.Logger
	timeout time.Duration
	sinks   []Sink
}

// NewDispatcher builds a Dispatcher over the given sinks. A zero timeout
// defaults to two seconds.
func NewDispatcher(log *logger.Logger, timeout time.Duration, sinks ...Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Dispatcher{log: log, timeout: timeout, sinks: sinks}
}

// Emit delivers ev to every sink. It detaches from the caller's
// cancellation so a finished request cannot abort delivery, and always
// returns nil: delivery failures are not the producer's problem.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	var g errgroup.Group
	for _, s := range d.sinks {
		s := s
		g.Go(func() error { return s.Emit(ctx, ev) })
	}
	if err := g.Wait(); err != nil {
		d.log.Warn(ctx, "event delivery failed", "type", ev.Type, "order", ev.OrderNumber, "error", err)
	}
	return nil
}
