package order_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"farmmarket/pkg/logger"
	"farmmarket/pkg/notify"
	"farmmarket/pkg/order"
	ordermem "farmmarket/pkg/order/memory"
	"farmmarket/pkg/product"
	productmem "farmmarket/pkg/product/memory"
)

type seqNumbers struct {
	mu sync.Mutex
	n  int
}

func (s *seqNumbers) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("ORD-TEST-%04d", s.n)
}

type recordingSink struct {
	mu     sync.Mutex
	events []notify.Event
	fail   bool
}

func (s *recordingSink) Emit(ctx context.Context, ev notify.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink down")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) types() []notify.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	svc    *order.Service
	inv    *productmem.Inventory
	ledger *ordermem.Repository
	sink   *recordingSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.New(io.Discard, logger.LevelError, "test", nil)
	inv := productmem.New()
	ledger := ordermem.New()
	sink := &recordingSink{}
	svc := order.NewService(log, inv, ledger, &seqNumbers{}, sink, nil)
	return &fixture{svc: svc, inv: inv, ledger: ledger, sink: sink}
}

func (f *fixture) addProduct(t *testing.T, id, sellerID string, qty int, price float64) {
	t.Helper()
	err := f.inv.Create(context.Background(), product.Product{
		ID:          id,
		SellerID:    sellerID,
		Name:        "Product " + id,
		Description: "test produce",
		Category:    product.CategoryVegetables,
		Price:       price,
		Unit:        product.UnitKg,
		Quantity:    qty,
		MinOrder:    1,
		Location:    product.Location{City: "Nairobi", Country: "Kenya"},
		IsAvailable: qty > 0,
	})
	if err != nil {
		t.Fatalf("seeding product: %v", err)
	}
}

func (f *fixture) quantity(t *testing.T, id string) int {
	t.Helper()
	p, err := f.inv.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	return p.Quantity
}

func checkout(items ...order.CartItem) order.CreateOrderInput {
	return order.CreateOrderInput{
		BuyerID: "buyer-1",
		Items:   items,
		ShippingAddress: order.ShippingAddress{
			Address: "12 Market Rd",
			City:    "Nairobi",
			Country: "Kenya",
			Phone:   "+254700000000",
		},
		PaymentMethod: order.PaymentMpesa,
	}
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "p1", "farmer-1", 5, 10)

	o, err := f.svc.CreateOrder(context.Background(), checkout(order.CartItem{ProductID: "p1", Quantity: 3}))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if o.TotalAmount != 30 {
		t.Fatalf("expected total 30, got %v", o.TotalAmount)
	}
	if o.Status != order.StatusPending {
		t.Fatalf("expected pending status, got %s", o.Status)
	}
	if o.Payment.Status != order.PaymentPending {
		t.Fatalf("expected pending payment, got %s", o.Payment.Status)
	}
	if o.SellerID != "farmer-1" {
		t.Fatalf("unexpected seller: %s", o.SellerID)
	}
	if o.OrderNumber != "ORD-TEST-0001" {
		t.Fatalf("unexpected order number: %s", o.OrderNumber)
	}
	if f.quantity(t, "p1") != 2 {
		t.Fatalf("expected 2 units left, got %d", f.quantity(t, "p1"))
	}
	p, _ := f.inv.Get(context.Background(), "p1")
	if !p.IsAvailable {
		t.Fatal("product should stay available with stock remaining")
	}

	stored, err := f.ledger.Get(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("order not persisted: %v", err)
	}
	var sum float64
	for _, li := range stored.Items {
		sum += float64(li.Quantity) * li.Price
	}
	if sum != stored.TotalAmount {
		t.Fatalf("total %v does not match line items %v", stored.TotalAmount, sum)
	}

	got := f.sink.types()
	if len(got) != 1 || got[0] != notify.OrderCreated {
		t.Fatalf("expected one order.created event, got %v", got)
	}
}

func TestCreateOrderInsufficientStockAfterPartialSale(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "p1", "farmer-1", 5, 10)

	if _, err := f.svc.CreateOrder(context.Background(), checkout(order.CartItem{ProductID: "p1", Quantity: 3})); err != nil {
		t.Fatalf("first order: %v", err)
	}
	_, err := f.svc.CreateOrder(context.Background(), checkout(order.CartItem{ProductID: "p1", Quantity: 3}))
	if !errors.Is(err, product.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if f.quantity(t, "p1") != 2 {
		t.Fatalf("failed order must not change stock, got %d", f.quantity(t, "p1"))
	}
}

func TestCreateOrderRollsBackOnLateFailure(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "p1", "farmer-1", 10, 5)
	f.addProduct(t, "p2", "farmer-1", 10, 5)
	f.addProduct(t, "p3", "farmer-1", 1, 5)

	_, err := f.svc.CreateOrder(context.Background(), checkout(
		order.CartItem{ProductID: "p1", Quantity: 2},
		order.CartItem{ProductID: "p2", Quantity: 2},
		order.CartItem{ProductID: "p3", Quantity: 5},
	))
	if !errors.Is(err, product.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	for id, want := range map[string]int{"p1": 10, "p2": 10, "p3": 1} {
		if got := f.quantity(t, id); got != want {
			t.Fatalf("inventory for %s not rolled back: got %d, want %d", id, got, want)
		}
	}
	if list, _ := f.ledger.ListByBuyer(context.Background(), "buyer-1"); len(list) != 0 {
		t.Fatalf("no order should be persisted, found %d", len(list))
	}
	if got := f.sink.types(); len(got) != 0 {
		t.Fatalf("no events should be emitted, got %v", got)
	}
}

func TestCreateOrderMixedSeller(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "p1", "farmer-1", 10, 5)
	f.addProduct(t, "p2", "farmer-2", 10, 5)

	_, err := f.svc.CreateOrder(context.Background(), checkout(
		order.CartItem{ProductID: "p1", Quantity: 1},
		order.CartItem{ProductID: "p2", Quantity: 1},
	))
	if !errors.Is(err, order.ErrMixedSeller) {
		t.Fatalf("expected ErrMixedSeller, got %v", err)
	}
	if f.quantity(t, "p1") != 10 || f.quantity(t, "p2") != 10 {
		t.Fatal("mixed-seller failure must leave all inventory untouched")
	}
}

func TestCreateOrderUnknownProduct(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "p1", "farmer-1", 10, 5)

	_, err := f.svc.CreateOrder(context.Background(), checkout(
		order.CartItem{ProductID: "p1", Quantity: 1},
		order.CartItem{ProductID: "missing", Quantity: 1},
	))
	if !errors.Is(err, product.ErrNotFound) {
		t.Fatalf("expected product.ErrNotFound, got %v", err)
	}
	if f.quantity(t, "p1") != 10 {
		t.Fatal("reservation for the earlier item must be rolled back")
	}
}

func TestCreateOrderWithdrawnProduct(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "p1", "farmer-1", 10, 5)
	p, _ := f.inv.Get(context.Background(), "p1")
	p.IsAvailable = false
	if err := f.inv.Update(context.Background(), p); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	_, err := f.svc.CreateOrder(context.Background(), checkout(order.CartItem{ProductID: "p1", Quantity: 1}))
	if !errors.Is(err, product.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock for withdrawn listing, got %v", err)
	}
	if f.quantity(t, "p1") != 10 {
		t.Fatal("withdrawn listing stock must not change")
	}
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "p1", "farmer-1", 10, 5)

	tests := []struct {
		name   string
		mutate func(*order.CreateOrderInput)
	}{
		{"empty cart", func(in *order.CreateOrderInput) { in.Items = nil }},
		{"zero quantity", func(in *order.CreateOrderInput) { in.Items[0].Quantity = 0 }},
		{"missing buyer", func(in *order.CreateOrderInput) { in.BuyerID = "" }},
		{"missing address", func(in *order.CreateOrderInput) { in.ShippingAddress.Address = "" }},
		{"missing city", func(in *order.CreateOrderInput) { in.ShippingAddress.City = "" }},
		{"missing phone", func(in *order.CreateOrderInput) { in.ShippingAddress.Phone = "" }},
		{"bad payment method", func(in *order.CreateOrderInput) { in.PaymentMethod = "barter" }},
		{"notes too long", func(in *order.CreateOrderInput) {
			for len(in.Notes) <= 500 {
				in.Notes += "very long note "
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := checkout(order.CartItem{ProductID: "p1", Quantity: 1})
			tt.mutate(&in)
			_, err := f.svc.CreateOrder(context.Background(), in)
			if !errors.Is(err, order.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if f.quantity(t, "p1") != 10 {
				t.Fatal("validation failure must not touch inventory")
			}
		})
	}
}

func TestCreateOrderBelowMinOrder(t *testing.T) {
	f := newFixture(t)
	err := f.inv.Create(context.Background(), product.Product{
		ID: "bulk", SellerID: "farmer-1", Name: "Maize Sacks",
		Price: 30, Quantity: 100, MinOrder: 10, IsAvailable: true,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err = f.svc.CreateOrder(context.Background(), checkout(order.CartItem{ProductID: "bulk", Quantity: 2}))
	if !errors.Is(err, order.ErrValidation) {
		t.Fatalf("expected ErrValidation for below min order, got %v", err)
	}
	if f.quantity(t, "bulk") != 100 {
		t.Fatal("stock must be untouched")
	}
}

func TestCreateOrderDefaultsDelivery(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "p1", "farmer-1", 10, 5)

	o, err := f.svc.CreateOrder(context.Background(), checkout(order.CartItem{ProductID: "p1", Quantity: 1}))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if o.Delivery.Method != "standard" {
		t.Fatalf("expected standard delivery, got %q", o.Delivery.Method)
	}
	if o.Delivery.Cost != 0 {
		t.Fatalf("expected zero default delivery cost, got %v", o.Delivery.Cost)
	}
}

func TestCreateOrderCustomQuoter(t *testing.T) {
	log := logger.New(io.Discard, logger.LevelError, "test", nil)
	inv := productmem.New()
	ledger := ordermem.New()
	svc := order.NewService(log, inv, ledger, nil, nil, func(addr order.ShippingAddress, method string) float64 {
		if method == "express" {
			return 250
		}
		return 0
	})
	if err := inv.Create(context.Background(), product.Product{
		ID: "p1", SellerID: "farmer-1", Name: "Eggs", Price: 12, Quantity: 4, MinOrder: 1, IsAvailable: true,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	in := checkout(order.CartItem{ProductID: "p1", Quantity: 1})
	in.DeliveryMethod = "express"
	o, err := svc.CreateOrder(context.Background(), in)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if o.Delivery.Cost != 250 {
		t.Fatalf("expected quoted cost 250, got %v", o.Delivery.Cost)
	}
}

func TestCreateOrderSinkFailureDoesNotFailOrder(t *testing.T) {
	f := newFixture(t)
	f.sink.fail = true
	f.addProduct(t, "p1", "farmer-1", 10, 5)

	o, err := f.svc.CreateOrder(context.Background(), checkout(order.CartItem{ProductID: "p1", Quantity: 1}))
	if err != nil {
		t.Fatalf("sink failure must not fail the order: %v", err)
	}
	if _, err := f.ledger.Get(context.Background(), o.ID); err != nil {
		t.Fatalf("order should be committed: %v", err)
	}
}

func TestConcurrentCreateOrderLastUnit(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "p1", "farmer-1", 1, 10)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateOrder(context.Background(), checkout(order.CartItem{ProductID: "p1", Quantity: 1}))
			errs <- err
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
		t.Fatalf("expected exactly 1 success and %d insufficient-stock failures, got %d/%d", n-1, ok, insufficient)
	}
	if got := f.quantity(t, "p1"); got != 0 {
		t.Fatalf("expected quantity 0, got %d", got)
	}
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "p1", "farmer-1", 10, 5)
	o, err := f.svc.CreateOrder(context.Background(), checkout(order.CartItem{ProductID: "p1", Quantity: 1}))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	updated, err := f.svc.UpdateStatus(context.Background(), o.ID, "farmer-1", order.StatusConfirmed)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if updated.Status != order.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", updated.Status)
	}

	stored, _ := f.ledger.Get(context.Background(), o.ID)
	if stored.Status != order.StatusConfirmed {
		t.Fatalf("status not persisted: %s", stored.Status)
	}

	got := f.sink.types()
	if len(got) != 2 || got[1] != notify.OrderStatusChanged {
		t.Fatalf("expected status-changed event, got %v", got)
	}
}

func TestUpdateStatusRejectsSkippedStep(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "p1", "farmer-1", 10, 5)
	o, _ := f.svc.CreateOrder(context.Background(), checkout(order.CartItem{ProductID: "p1", Quantity: 1}))

	_, err := f.svc.UpdateStatus(context.Background(), o.ID, "farmer-1", order.StatusShipped)
	if !errors.Is(err, order.ErrInvalidTransition) {
		t.Fatalf("pending to shipped must fail, got %v", err)
	}
	stored, _ := f.ledger.Get(context.Background(), o.ID)
	if stored.Status != order.StatusPending {
		t.Fatalf("rejected transition must not persist, got %s", stored.Status)
	}
}

func TestUpdateStatusTerminalStates(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "p1", "farmer-1", 10, 5)
	o, _ := f.svc.CreateOrder(context.Background(), checkout(order.CartItem{ProductID: "p1", Quantity: 1}))

	for _, next := range []order.Status{order.StatusConfirmed, order.StatusShipped, order.StatusDelivered} {
		if _, err := f.svc.UpdateStatus(context.Background(), o.ID, "farmer-1", next); err != nil {
			t.Fatalf("advance to %s: %v", next, err)
		}
	}
	for _, next := range []order.Status{order.StatusPending, order.StatusConfirmed, order.StatusShipped, order.StatusCancelled} {
		if _, err := f.svc.UpdateStatus(context.Background(), o.ID, "farmer-1", next); !errors.Is(err, order.ErrInvalidTransition) {
			t.Fatalf("delivered is terminal, transition to %s got %v", next, err)
		}
	}

	o2, _ := f.svc.CreateOrder(context.Background(), checkout(order.CartItem{ProductID: "p1", Quantity: 1}))
	if _, err := f.svc.UpdateStatus(context.Background(), o2.ID, "buyer-1", order.StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.svc.UpdateStatus(context.Background(), o2.ID, "buyer-1", order.StatusPending); !errors.Is(err, order.ErrInvalidTransition) {
		t.Fatal("cancelled is terminal")
	}
}

func TestUpdateStatusAuthorization(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "p1", "farmer-1", 10, 5)
	o, _ := f.svc.CreateOrder(context.Background(), checkout(order.CartItem{ProductID: "p1", Quantity: 1}))

	if _, err := f.svc.UpdateStatus(context.Background(), o.ID, "someone-else", order.StatusConfirmed); !errors.Is(err, order.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.svc.UpdateStatus(context.Background(), "missing", "buyer-1", order.StatusConfirmed); !errors.Is(err, order.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetPaymentStatus(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "p1", "farmer-1", 10, 5)
	o, _ := f.svc.CreateOrder(context.Background(), checkout(order.CartItem{ProductID: "p1", Quantity: 1}))

	updated, err := f.svc.SetPaymentStatus(context.Background(), o.ID, order.PaymentPaid, "MPESA-XYZ")
	if err != nil {
		t.Fatalf("set payment: %v", err)
	}
	if updated.Payment.Status != order.PaymentPaid || updated.Payment.TransactionID != "MPESA-XYZ" {
		t.Fatalf("unexpected payment record: %+v", updated.Payment)
	}
	if updated.Status != order.StatusPending {
		t.Fatal("payment state must not move order status")
	}

	if _, err := f.svc.SetPaymentStatus(context.Background(), o.ID, "settled", ""); !errors.Is(err, order.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown payment status, got %v", err)
	}
}

func TestOrdersForBuyerAndSeller(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "p1", "farmer-1", 10, 5)
	f.addProduct(t, "p2", "farmer-2", 10, 5)

	if _, err := f.svc.CreateOrder(context.Background(), checkout(order.CartItem{ProductID: "p1", Quantity: 1})); err != nil {
		t.Fatalf("order 1: %v", err)
	}
	in := checkout(order.CartItem{ProductID: "p2", Quantity: 1})
	in.BuyerID = "buyer-2"
	if _, err := f.svc.CreateOrder(context.Background(), in); err != nil {
		t.Fatalf("order 2: %v", err)
	}

	mine, err := f.svc.OrdersForBuyer(context.Background(), "buyer-1")
	if err != nil || len(mine) != 1 {
		t.Fatalf("buyer orders: err=%v len=%d", err, len(mine))
	}
	sales, err := f.svc.OrdersForSeller(context.Background(), "farmer-2")
	if err != nil || len(sales) != 1 {
		t.Fatalf("seller orders: err=%v len=%d", err, len(sales))
	}
	if sales[0].BuyerID != "buyer-2" {
		t.Fatalf("unexpected sale: %+v", sales[0])
	}
}
