package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"farmmarket/pkg/product"
)

func seed(t *testing.T, inv *Inventory, id string, qty int) {
	t.Helper()
	p := product.Product{
		ID:          id,
		SellerID:    "farmer-1",
		Name:        "Tomatoes",
		Quantity:    qty,
		Price:       10,
		IsAvailable: qty > 0,
	}
	if err := inv.Create(context.Background(), p); err != nil {
		t.Fatalf("create: %v", err)
	}
}

func TestTryReserve(t *testing.T) {
	ctx := context.Background()
	inv := New()
	seed(t, inv, "p1", 5)

	if err := inv.TryReserve(ctx, "p1", 3); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	p, err := inv.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Quantity != 2 {
		t.Fatalf("expected quantity 2, got %d", p.Quantity)
	}
	if !p.IsAvailable {
		t.Fatal("product should stay available with stock remaining")
	}
}

func TestTryReserveExhaustsStock(t *testing.T) {
	ctx := context.Background()
	inv := New()
	seed(t, inv, "p1", 3)

	if err := inv.TryReserve(ctx, "p1", 3); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	p, _ := inv.Get(ctx, "p1")
	if p.Quantity != 0 {
		t.Fatalf("expected quantity 0, got %d", p.Quantity)
	}
	if p.IsAvailable {
		t.Fatal("product should be unavailable at zero stock")
	}
}

func TestTryReserveInsufficient(t *testing.T) {
	ctx := context.Background()
	inv := New()
	seed(t, inv, "p1", 2)

	err := inv.TryReserve(ctx, "p1", 3)
	if err == nil {
		t.Fatal("expected error")
	}
	var ise *product.InsufficientStockError
	if !errors.As(err, &ise) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if ise.Requested != 3 || ise.Available != 2 {
		t.Fatalf("unexpected numbers: requested %d available %d", ise.Requested, ise.Available)
	}
	p, _ := inv.Get(ctx, "p1")
	if p.Quantity != 2 {
		t.Fatalf("failed reservation must not change stock, got %d", p.Quantity)
	}
}

func TestTryReserveNotFound(t *testing.T) {
	inv := New()
	if err := inv.TryReserve(context.Background(), "nope", 1); !errors.Is(err, product.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReleaseRestoresAvailability(t *testing.T) {
	ctx := context.Background()
	inv := New()
	seed(t, inv, "p1", 2)

	if err := inv.TryReserve(ctx, "p1", 2); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := inv.Release(ctx, "p1", 2); err != nil {
		t.Fatalf("release: %v", err)
	}
	p, _ := inv.Get(ctx, "p1")
	if p.Quantity != 2 {
		t.Fatalf("expected quantity restored to 2, got %d", p.Quantity)
	}
	if !p.IsAvailable {
		t.Fatal("release from zero should restore availability")
	}
}

func TestConcurrentReserveLastUnit(t *testing.T) {
	ctx := context.Background()
	inv := New()
	seed(t, inv, "p1", 1)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- inv.TryReserve(ctx, "p1", 1)
		}()
	}
	wg.Wait()
	close(errs)

	var ok, insufficient int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, product.ErrInsufficientStock):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || insufficient != n-1 {
		t.Fatalf("expected 1 success and %d failures, got %d/%d", n-1, ok, insufficient)
	}
	p, _ := inv.Get(ctx, "p1")
	if p.Quantity != 0 {
		t.Fatalf("expected quantity 0, got %d", p.Quantity)
	}
}

func TestConcurrentReserveNeverNegative(t *testing.T) {
	ctx := context.Background()
	inv := New()
	seed(t, inv, "p1", 20)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inv.TryReserve(ctx, "p1", 3)
		}()
	}
	wg.Wait()

	p, _ := inv.Get(ctx, "p1")
	if p.Quantity < 0 {
		t.Fatalf("quantity went negative: %d", p.Quantity)
	}
}

func TestListBySeller(t *testing.T) {
	ctx := context.Background()
	inv := New()
	seed(t, inv, "p1", 5)
	other := product.Product{ID: "p2", SellerID: "farmer-2", Name: "Beans", Quantity: 1, IsAvailable: true}
	if err := inv.Create(ctx, other); err != nil {
		t.Fatalf("create: %v", err)
	}

	mine, err := inv.ListBySeller(ctx, "farmer-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != "p1" {
		t.Fatalf("unexpected listing: %+v", mine)
	}
}
