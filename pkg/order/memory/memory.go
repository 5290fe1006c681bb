// Package memory implements an in-memory order ledger.
package memory

import (
	"context"
	"sort"
	"sync"

	"farmmarket/pkg/order"
)

// Repository provides an in-memory implementation of order.Repository.
type Repository struct {
	mu     sync.RWMutex
	orders map[string]order.Order
}

// New creates a new in-memory ledger.
func New() *Repository {
	return &Repository{orders: make(map[string]order.Order)}
}

// Create appends a new order.
func (r *Repository) Create(ctx context.Context, o order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.ID] = o
	return nil
}

// Get retrieves an order by ID.
func (r *Repository) Get(ctx context.Context, id string) (order.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	return o, nil
}

// ListByBuyer returns buyerID's orders, newest first.
func (r *Repository) ListByBuyer(ctx context.Context, buyerID string) ([]order.Order, error) {
	return r.list(func(o order.Order) bool { return o.BuyerID == buyerID }), nil
}

// ListBySeller returns sellerID's orders, newest first.
func (r *Repository) ListBySeller(ctx context.Context, sellerID string) ([]order.Order, error) {
	return r.list(func(o order.Order) bool { return o.SellerID == sellerID }), nil
}

// UpdateStatus sets the status of an existing order.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status order.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	o.Status = status
	r.orders[id] = o
	return nil
}

// UpdatePayment sets the payment sub-record of an existing order.
func (r *Repository) UpdatePayment(ctx context.Context, id string, p order.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	o.Payment = p
	r.orders[id] = o
	return nil
}

func (r *Repository) list(keep func(order.Order) bool) []order.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []order.Order
	for _, o := range r.orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
