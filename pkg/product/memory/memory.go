// Package memory implements an in-memory product inventory.
package memory

import (
	"context"
	"sort"
	"sync"

	"farmmarket/pkg/product"
)

// Inventory provides an in-memory implementation of product.Inventory.
// The single mutex covers the check-and-decrement in TryReserve, so
// concurrent reservations against the same product serialize.
type Inventory struct {
	mu       sync.Mutex
	products map[string]product.Product
}

// New creates an empty in-memory inventory.
func New() *Inventory {
	return &Inventory{products: make(map[string]product.Product)}
}

// Create stores a new listing.
func (r *Inventory) Create(ctx context.Context, p product.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = p
	return nil
}

// Get retrieves a product by id.
func (r *Inventory) Get(ctx context.Context, id string) (product.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return product.Product{}, product.ErrNotFound
	}
	return p, nil
}

// Update replaces an existing listing.
func (r *Inventory) Update(ctx context.Context, p product.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[p.ID]; !ok {
		return product.ErrNotFound
	}
	r.products[p.ID] = p
	return nil
}

// List returns all available listings.
func (r *Inventory) List(ctx context.Context) ([]product.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]product.Product, 0, len(r.products))
	for _, p := range r.products {
		if p.IsAvailable {
			out = append(out, p)
		}
	}
	sortByCreated(out)
	return out, nil
}

// ListBySeller returns every listing owned by sellerID.
func (r *Inventory) ListBySeller(ctx context.Context, sellerID string) ([]product.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []product.Product
	for _, p := range r.products {
		if p.SellerID == sellerID {
			out = append(out, p)
		}
	}
	sortByCreated(out)
	return out, nil
}

// TryReserve debits qty from the product's stock if enough is available,
// clearing the availability flag when stock reaches zero.
func (r *Inventory) TryReserve(ctx context.Context, productID string, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[productID]
	if !ok {
		return product.ErrNotFound
	}
	if p.Quantity < qty {
		return &product.InsufficientStockError{
			ProductID: p.ID,
			Name:      p.Name,
			Requested: qty,
			Available: p.Quantity,
		}
	}
	p.Quantity -= qty
	if p.Quantity == 0 {
		p.IsAvailable = false
	}
	r.products[productID] = p
	return nil
}

// Release credits qty back after a failed order attempt, restoring
// availability if stock had been exhausted.
func (r *Inventory) Release(ctx context.Context, productID string, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[productID]
	if !ok {
		return product.ErrNotFound
	}
	if p.Quantity == 0 {
		p.IsAvailable = true
	}
	p.Quantity += qty
	r.products[productID] = p
	return nil
}

func sortByCreated(ps []product.Product) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].CreatedAt.After(ps[j].CreatedAt) })
}
