// Package order implements the order placement and lifecycle engine: the
// order model and ledger contract, the status state machine, the order
// number generator, and the Service orchestrating cart validation, stock
// reservation, and lifecycle events.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the fulfillment state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// PaymentMethod identifies how the buyer pays.
type PaymentMethod string

const (
	PaymentStripe PaymentMethod = "stripe"
	PaymentMpesa  PaymentMethod = "mpesa"
	PaymentCOD    PaymentMethod = "cod"
)

// PaymentStatus tracks the payment sub-state. It evolves independently of
// the order status and is set by the external payment collaborator.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// LineItem records one product within an order with the quantity and the
// unit price snapshotted at reservation time.
type LineItem struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// ShippingAddress is where the order ships to. All fields are required.
type ShippingAddress struct {
	Address string `json:"address"`
	City    string `json:"city"`
	Country string `json:"country"`
	Phone   string `json:"phone"`
}

// Payment is the order's payment sub-record.
type Payment struct {
	Method        PaymentMethod `json:"method"`
	Status        PaymentStatus `json:"status"`
	TransactionID string        `json:"transactionId,omitempty"`
}

// Delivery is the order's delivery sub-record.
type Delivery struct {
	Method         string     `json:"method"`
	Cost           float64    `json:"cost"`
	EstimatedDate  *time.Time `json:"estimatedDate,omitempty"`
	TrackingNumber string     `json:"trackingNumber,omitempty"`
}

// Order is a single-seller purchase. Line items, totals, and the shipping
// address are immutable after creation; only status and the payment
// sub-record change afterwards.
type Order struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"orderNumber"`
	BuyerID         string          `json:"buyerId"`
	SellerID        string          `json:"sellerId"`
	Items           []LineItem      `json:"items"`
	TotalAmount     float64         `json:"totalAmount"`
	Status          Status          `json:"status"`
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	Payment         Payment         `json:"payment"`
	Delivery        Delivery        `json:"delivery"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// CartItem is a requested (product, quantity) pair submitted at
// order-creation time.
type CartItem struct {
	ProductID string `json:"product"`
	Quantity  int    `json:"quantity"`
}

// Repository defines behavior for persisting orders.
type Repository interface {
	Create(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]Order, error)
	ListBySeller(ctx context.Context, sellerID string) ([]Order, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	UpdatePayment(ctx context.Context, id string, p Payment) error
}

var (
	// ErrNotFound indicates the requested order does not exist.
	ErrNotFound = errors.New("order not found")

	// ErrValidation indicates malformed or missing required input.
	ErrValidation = errors.New("validation failed")

	// ErrMixedSeller indicates a cart spanning more than one seller.
	ErrMixedSeller = errors.New("all items must be from the same seller")

	// ErrUnauthorized indicates the requester is neither the order's
	// buyer nor its seller.
	ErrUnauthorized = errors.New("not authorized for this order")

	// ErrInvalidTransition indicates the requested status is not
	// reachable from the current one.
	ErrInvalidTransition = errors.New("invalid status transition")
)

const maxNotesLen = 500

var validPaymentMethods = map[PaymentMethod]bool{
	PaymentStripe: true, PaymentMpesa: true, PaymentCOD: true,
}

var validPaymentStatuses = map[PaymentStatus]bool{
	PaymentPending: true, PaymentPaid: true, PaymentFailed: true, PaymentRefunded: true,
}

// Validate checks the required address fields, defaulting the country when
// blank.
func (a *ShippingAddress) Validate() error {
	a.Address = strings.TrimSpace(a.Address)
	a.City = strings.TrimSpace(a.City)
	a.Country = strings.TrimSpace(a.Country)
	a.Phone = strings.TrimSpace(a.Phone)
	if a.Country == "" {
		a.Country = "Kenya"
	}
	switch {
	case a.Address == "":
		return fmt.Errorf("%w: shipping address is required", ErrValidation)
	case a.City == "":
		return fmt.Errorf("%w: city is required", ErrValidation)
	case a.Phone == "":
		return fmt.Errorf("%w: phone is required", ErrValidation)
	}
	return nil
}
