package order

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"farmmarket/pkg/logger"
	"farmmarket/pkg/notify"
	"farmmarket/pkg/otel"
	"farmmarket/pkg/product"
)

// DeliveryQuoter prices delivery for a destination and method. The engine
// does not fix a pricing policy; installers supply their own.
type DeliveryQuoter func(addr ShippingAddress, method string) float64

// ZeroDelivery quotes free delivery for every destination and method.
func ZeroDelivery(ShippingAddress, string) float64 { return 0 }

const defaultDeliveryMethod = "standard"

// Service orchestrates order placement and lifecycle updates against the
// inventory and the order ledger.
type Service struct {
	log       *logger.Logger
	inventory product.Inventory
	orders    Repository
	numbers   NumberSource
	sink      notify.Sink
	quote     DeliveryQuoter
	now       func() time.Time
}

// NewService wires a Service. inventory and orders are required; numbers
// defaults to NewNumberGenerator, quote to ZeroDelivery, and a nil sink
// disables notifications.
func NewService(log *logger.Logger, inventory product.Inventory, orders Repository, numbers NumberSource, sink notify.Sink, quote DeliveryQuoter) *Service {
	if inventory == nil || orders == nil {
		panic("order.NewService: nil inventory or repository")
	}
	if numbers == nil {
		numbers = NewNumberGenerator()
	}
	if quote == nil {
		quote = ZeroDelivery
	}
	return &Service{
		log:       log,
		inventory: inventory,
		orders:    orders,
		numbers:   numbers,
		sink:      sink,
		quote:     quote,
		now:       time.Now,
	}
}

// CreateOrderInput carries everything a buyer submits at checkout.
type CreateOrderInput struct {
	BuyerID         string
	Items           []CartItem
	ShippingAddress ShippingAddress
	PaymentMethod   PaymentMethod
	DeliveryMethod  string
	Notes           string
}

func (in *CreateOrderInput) validate() error {
	switch {
	case in.BuyerID == "":
		return fmt.Errorf("%w: buyer is required", ErrValidation)
	case len(in.Items) == 0:
		return fmt.Errorf("%w: order must contain at least one item", ErrValidation)
	case !validPaymentMethods[in.PaymentMethod]:
		return fmt.Errorf("%w: unknown payment method %q", ErrValidation, in.PaymentMethod)
	case len(in.Notes) > maxNotesLen:
		return fmt.Errorf("%w: notes cannot be more than %d characters", ErrValidation, maxNotesLen)
	}
	for _, it := range in.Items {
		if it.ProductID == "" {
			return fmt.Errorf("%w: item product is required", ErrValidation)
		}
		if it.Quantity < 1 {
			return fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
		}
	}
	if in.DeliveryMethod == "" {
		in.DeliveryMethod = defaultDeliveryMethod
	}
	return in.ShippingAddress.Validate()
}

// CreateOrder validates the cart, reserves stock item by item, and
// persists the order. On any failure every reservation already made is
// released before the error is returned, so inventory is left exactly as
// it was and no order record survives. On success the returned order's
// total equals the sum of quantity times snapshot price over its items.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (Order, error) {
	ctx, span := otel.AddSpan(ctx, "order.create", attribute.String("buyer", in.BuyerID))
	defer span.End()

	if err := in.validate(); err != nil {
		return Order{}, err
	}

	var (
		items    []LineItem
		reserved []LineItem
		sellerID string
		total    float64
	)
	for _, it := range in.Items {
		p, err := s.inventory.Get(ctx, it.ProductID)
		if err != nil {
			s.releaseAll(ctx, reserved)
			if err == product.ErrNotFound {
				return Order{}, fmt.Errorf("product not found: %s: %w", it.ProductID, err)
			}
			return Order{}, err
		}

		// Single seller by construction: the first resolved product
		// fixes the order's seller.
		if sellerID == "" {
			sellerID = p.SellerID
		} else if sellerID != p.SellerID {
			s.releaseAll(ctx, reserved)
			return Order{}, ErrMixedSeller
		}

		if !p.IsAvailable {
			s.releaseAll(ctx, reserved)
			return Order{}, &product.InsufficientStockError{
				ProductID: p.ID, Name: p.Name, Requested: it.Quantity, Available: 0,
			}
		}
		if it.Quantity < p.MinOrder {
			s.releaseAll(ctx, reserved)
			return Order{}, fmt.Errorf("%w: minimum order for %s is %d", ErrValidation, p.Name, p.MinOrder)
		}

		if err := s.inventory.TryReserve(ctx, it.ProductID, it.Quantity); err != nil {
			s.releaseAll(ctx, reserved)
			return Order{}, err
		}

		line := LineItem{ProductID: p.ID, Quantity: it.Quantity, Price: p.Price}
		reserved = append(reserved, line)
		items = append(items, line)
		total += p.Price * float64(it.Quantity)
	}

	now := s.now().UTC()
	o := Order{
		ID:              uuid.NewString(),
		OrderNumber:     s.numbers.Next(),
		BuyerID:         in.BuyerID,
		SellerID:        sellerID,
		Items:           items,
		TotalAmount:     total,
		Status:          StatusPending,
		ShippingAddress: in.ShippingAddress,
		Payment:         Payment{Method: in.PaymentMethod, Status: PaymentPending},
		Delivery:        Delivery{Method: in.DeliveryMethod, Cost: s.quote(in.ShippingAddress, in.DeliveryMethod)},
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.orders.Create(ctx, o); err != nil {
		s.releaseAll(ctx, reserved)
		return Order{}, fmt.Errorf("persisting order: %w", err)
	}

	s.log.Info(ctx, "order created", "order", o.OrderNumber, "buyer", o.BuyerID, "seller", o.SellerID, "total", o.TotalAmount)
	s.emit(ctx, notify.OrderCreated, o)
	return o, nil
}

// UpdateStatus applies a status transition requested by the order's buyer
// or seller, persisting it only when the state machine accepts it.
func (s *Service) UpdateStatus(ctx context.Context, orderID, requesterID string, next Status) (Order, error) {
	ctx, span := otel.AddSpan(ctx, "order.updateStatus", attribute.String("order", orderID))
	defer span.End()

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if requesterID != o.BuyerID && requesterID != o.SellerID {
		return Order{}, ErrUnauthorized
	}
	if err := ValidateTransition(o.Status, next); err != nil {
		return Order{}, err
	}
	if err := s.orders.UpdateStatus(ctx, orderID, next); err != nil {
		return Order{}, err
	}

	o.Status = next
	o.UpdatedAt = s.now().UTC()
	s.log.Info(ctx, "order status updated", "order", o.OrderNumber, "status", next)
	s.emit(ctx, notify.OrderStatusChanged, o)
	return o, nil
}

// SetPaymentStatus records the outcome reported by the payment
// collaborator. It does not consult the order state machine: payment state
// evolves independently of fulfillment state.
func (s *Service) SetPaymentStatus(ctx context.Context, orderID string, status PaymentStatus, transactionID string) (Order, error) {
	if !validPaymentStatuses[status] {
		return Order{}, fmt.Errorf("%w: unknown payment status %q", ErrValidation, status)
	}

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	p := o.Payment
	p.Status = status
	if transactionID != "" {
		p.TransactionID = transactionID
	}
	if err := s.orders.UpdatePayment(ctx, orderID, p); err != nil {
		return Order{}, err
	}

	o.Payment = p
	o.UpdatedAt = s.now().UTC()
	s.emit(ctx, notify.PaymentUpdated, o)
	return o, nil
}

// OrdersForBuyer lists the orders placed by buyerID, newest first.
func (s *Service) OrdersForBuyer(ctx context.Context, buyerID string) ([]Order, error) {
	return s.orders.ListByBuyer(ctx, buyerID)
}

// OrdersForSeller lists the orders received by sellerID, newest first.
func (s *Service) OrdersForSeller(ctx context.Context, sellerID string) ([]Order, error) {
	return s.orders.ListBySeller(ctx, sellerID)
}

// releaseAll rolls back the reservations made so far in a failed order
// attempt. Release only ever credits back what was debited, so failures
// here are logged rather than compounded.
func (s *Service) releaseAll(ctx context.Context, reserved []LineItem) {
	for _, li := range reserved {
		if err := s.inventory.Release(ctx, li.ProductID, li.Quantity); err != nil {
			s.log.Error(ctx, "releasing reservation", "product", li.ProductID, "quantity", li.Quantity, "error", err)
		}
	}
}

// emit sends a lifecycle event, best-effort.
func (s *Service) emit(ctx context.Context, typ notify.EventType, o Order) {
	if s.sink == nil {
		return
	}
	ev := notify.Event{
		Type:          typ,
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		BuyerID:       o.BuyerID,
		SellerID:      o.SellerID,
		Status:        string(o.Status),
		PaymentStatus: string(o.Payment.Status),
		TotalAmount:   o.TotalAmount,
		OccurredAt:    s.now().UTC(),
	}
	if err := s.sink.Emit(ctx, ev); err != nil {
		s.log.Warn(ctx, "emitting event", "type", typ, "order", o.OrderNumber, "error", err)
	}
}
