// Package postgres implements the order ledger on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"farmmarket/pkg/order"
)

// Schema is the DDL the ledger expects. The caller applies it at startup.
const Schema = `CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	order_number TEXT NOT NULL UNIQUE,
	buyer_id TEXT NOT NULL,
	seller_id TEXT NOT NULL,
	total_amount DOUBLE PRECISION NOT NULL CHECK (total_amount >= 0),
	status TEXT NOT NULL,
	ship_address TEXT NOT NULL,
	ship_city TEXT NOT NULL,
	ship_country TEXT NOT NULL,
	ship_phone TEXT NOT NULL,
	payment_method TEXT NOT NULL,
	payment_status TEXT NOT NULL,
	payment_transaction_id TEXT NOT NULL DEFAULT '',
	delivery_method TEXT NOT NULL,
	delivery_cost DOUBLE PRECISION NOT NULL CHECK (delivery_cost >= 0),
	delivery_estimated_date TIMESTAMPTZ,
	delivery_tracking_number TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS order_items (
	order_id TEXT NOT NULL REFERENCES orders(id),
	position INT NOT NULL,
	product_id TEXT NOT NULL,
	quantity INT NOT NULL CHECK (quantity >= 1),
	price DOUBLE PRECISION NOT NULL CHECK (price >= 0),
	PRIMARY KEY (order_id, position)
)`

const orderColumns = `id, order_number, buyer_id, seller_id, total_amount, status,
	ship_address, ship_city, ship_country, ship_phone,
	payment_method, payment_status, payment_transaction_id,
	delivery_method, delivery_cost, delivery_estimated_date, delivery_tracking_number,
	notes, created_at, updated_at`

// Repository persists orders in PostgreSQL.
type Repository struct {
	db *sql.DB
}

// New creates a PostgreSQL ledger.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts the order and its line items in one transaction.
func (r *Repository) Create(ctx context.Context, o order.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`) VALUES
		($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		o.ID, o.OrderNumber, o.BuyerID, o.SellerID, o.TotalAmount, o.Status,
		o.ShippingAddress.Address, o.ShippingAddress.City, o.ShippingAddress.Country, o.ShippingAddress.Phone,
		o.Payment.Method, o.Payment.Status, o.Payment.TransactionID,
		o.Delivery.Method, o.Delivery.Cost, o.Delivery.EstimatedDate, o.Delivery.TrackingNumber,
		o.Notes, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting order: %w", err)
	}

	for i, li := range o.Items {
		_, err = tx.ExecContext(ctx, `INSERT INTO order_items (order_id, position, product_id, quantity, price)
			VALUES ($1,$2,$3,$4,$5)`, o.ID, i, li.ProductID, li.Quantity, li.Price)
		if err != nil {
			return fmt.Errorf("inserting order item: %w", err)
		}
	}

	return tx.Commit()
}

// Get retrieves an order with its line items.
func (r *Repository) Get(ctx context.Context, id string) (order.Order, error) {
	o, err := r.scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return order.Order{}, order.ErrNotFound
	}
	if err != nil {
		return order.Order{}, err
	}
	if err := r.loadItems(ctx, map[string]*order.Order{o.ID: &o}); err != nil {
		return order.Order{}, err
	}
	return o, nil
}

// ListByBuyer fetches buyerID's orders, newest first.
func (r *Repository) ListByBuyer(ctx context.Context, buyerID string) ([]order.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC`, buyerID)
}

// ListBySeller fetches sellerID's orders, newest first.
func (r *Repository) ListBySeller(ctx context.Context, sellerID string) ([]order.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE seller_id = $1 ORDER BY created_at DESC`, sellerID)
}

// UpdateStatus sets the status of an existing order.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status order.Status) error {
	res, err := r.db.ExecContext(ctx, `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return order.ErrNotFound
	}
	return nil
}

// UpdatePayment sets the payment sub-record of an existing order.
func (r *Repository) UpdatePayment(ctx context.Context, id string, p order.Payment) error {
	res, err := r.db.ExecContext(ctx, `UPDATE orders
		SET payment_method = $2, payment_status = $3, payment_transaction_id = $4, updated_at = now()
		WHERE id = $1`, id, p.Method, p.Status, p.TransactionID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]order.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []order.Order
	byID := make(map[string]*order.Order)
	for rows.Next() {
		o, err := r.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		byID[out[i].ID] = &out[i]
	}
	if err := r.loadItems(ctx, byID); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) loadItems(ctx context.Context, orders map[string]*order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, 0, len(orders))
	for id := range orders {
		ids = append(ids, id)
	}
	rows, err := r.db.QueryContext(ctx, `SELECT order_id, product_id, quantity, price
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var orderID string
		var li order.LineItem
		if err := rows.Scan(&orderID, &li.ProductID, &li.Quantity, &li.Price); err != nil {
			return err
		}
		if o, ok := orders[orderID]; ok {
			o.Items = append(o.Items, li)
		}
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanOrder(row scanner) (order.Order, error) {
	var o order.Order
	err := row.Scan(&o.ID, &o.OrderNumber, &o.BuyerID, &o.SellerID, &o.TotalAmount, &o.Status,
		&o.ShippingAddress.Address, &o.ShippingAddress.City, &o.ShippingAddress.Country, &o.ShippingAddress.Phone,
		&o.Payment.Method, &o.Payment.Status, &o.Payment.TransactionID,
		&o.Delivery.Method, &o.Delivery.Cost, &o.Delivery.EstimatedDate, &o.Delivery.TrackingNumber,
		&o.Notes, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}
