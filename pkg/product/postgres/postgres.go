// Package postgres implements the product inventory on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"farmmarket/pkg/product"
)

// Schema is the DDL the inventory expects. The caller applies it at
// startup.
const Schema = `CREATE TABLE IF NOT EXISTS products (
	id TEXT PRIMARY KEY,
	seller_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL,
	category TEXT NOT NULL,
	subcategory TEXT NOT NULL DEFAULT '',
	price DOUBLE PRECISION NOT NULL CHECK (price >= 0),
	unit TEXT NOT NULL,
	quantity INT NOT NULL CHECK (quantity >= 0),
	min_order INT NOT NULL DEFAULT 1,
	images TEXT[] NOT NULL DEFAULT '{}',
	grade TEXT NOT NULL DEFAULT '',
	variety TEXT NOT NULL DEFAULT '',
	organic BOOLEAN NOT NULL DEFAULT FALSE,
	pesticide_free BOOLEAN NOT NULL DEFAULT FALSE,
	expiry_date TIMESTAMPTZ,
	harvest_date TIMESTAMPTZ,
	city TEXT NOT NULL,
	country TEXT NOT NULL,
	is_available BOOLEAN NOT NULL DEFAULT TRUE,
	rating DOUBLE PRECISION NOT NULL DEFAULT 0,
	review_count INT NOT NULL DEFAULT 0,
	tags TEXT[] NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

const columns = `id, seller_id, name, description, category, subcategory, price, unit,
	quantity, min_order, images, grade, variety, organic, pesticide_free,
	expiry_date, harvest_date, city, country, is_available, rating, review_count,
	tags, created_at, updated_at`

// Inventory persists products in PostgreSQL.
type Inventory struct {
	db *sql.DB
}

// New creates a PostgreSQL inventory.
func New(db *sql.DB) *Inventory {
	return &Inventory{db: db}
}

// Create inserts a new listing.
func (r *Inventory) Create(ctx context.Context, p product.Product) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO products (`+columns+`) VALUES
		($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)`,
		p.ID, p.SellerID, p.Name, p.Description, p.Category, p.Subcategory, p.Price, p.Unit,
		p.Quantity, p.MinOrder, pq.Array(p.Images), p.Specifications.Grade, p.Specifications.Variety,
		p.Specifications.Organic, p.Specifications.PesticideFree, p.Specifications.ExpiryDate,
		p.Specifications.HarvestDate, p.Location.City, p.Location.Country, p.IsAvailable,
		p.Rating, p.ReviewCount, pq.Array(p.Tags), p.CreatedAt, p.UpdatedAt)
	return err
}

// Get retrieves a product by id.
func (r *Inventory) Get(ctx context.Context, id string) (product.Product, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM products WHERE id = $1`, id)
	p, err := scan(row)
	if err == sql.ErrNoRows {
		return product.Product{}, product.ErrNotFound
	}
	return p, err
}

// Update replaces an existing listing.
func (r *Inventory) Update(ctx context.Context, p product.Product) error {
	res, err := r.db.ExecContext(ctx, `UPDATE products SET
		name=$2, description=$3, category=$4, subcategory=$5, price=$6, unit=$7,
		quantity=$8, min_order=$9, images=$10, grade=$11, variety=$12, organic=$13,
		pesticide_free=$14, expiry_date=$15, harvest_date=$16, city=$17, country=$18,
		is_available=$19, rating=$20, review_count=$21, tags=$22, updated_at=$23
		WHERE id=$1`,
		p.ID, p.Name, p.Description, p.Category, p.Subcategory, p.Price, p.Unit,
		p.Quantity, p.MinOrder, pq.Array(p.Images), p.Specifications.Grade,
		p.Specifications.Variety, p.Specifications.Organic, p.Specifications.PesticideFree,
		p.Specifications.ExpiryDate, p.Specifications.HarvestDate, p.Location.City,
		p.Location.Country, p.IsAvailable, p.Rating, p.ReviewCount, pq.Array(p.Tags), p.UpdatedAt)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return product.ErrNotFound
	}
	return nil
}

// List fetches all available listings, newest first.
func (r *Inventory) List(ctx context.Context) ([]product.Product, error) {
	return r.list(ctx, `SELECT `+columns+` FROM products WHERE is_available ORDER BY created_at DESC`)
}

// ListBySeller fetches every listing owned by sellerID, newest first.
func (r *Inventory) ListBySeller(ctx context.Context, sellerID string) ([]product.Product, error) {
	return r.list(ctx, `SELECT `+columns+` FROM products WHERE seller_id = $1 ORDER BY created_at DESC`, sellerID)
}

// TryReserve debits qty in a single conditional UPDATE, so the
// check-and-decrement is atomic at the storage layer and concurrent
// reservations cannot oversell.
func (r *Inventory) TryReserve(ctx context.Context, productID string, qty int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE products
		SET quantity = quantity - $2,
		    is_available = (quantity - $2) > 0,
		    updated_at = now()
		WHERE id = $1 AND quantity >= $2`, productID, qty)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		return nil
	}

	// Distinguish a missing product from exhausted stock.
	var name string
	var available int
	err = r.db.QueryRowContext(ctx, `SELECT name, quantity FROM products WHERE id = $1`, productID).Scan(&name, &available)
	if err == sql.ErrNoRows {
		return product.ErrNotFound
	}
	if err != nil {
		return err
	}
	return &product.InsufficientStockError{ProductID: productID, Name: name, Requested: qty, Available: available}
}

// Release credits qty back, restoring availability when stock had been
// exhausted.
func (r *Inventory) Release(ctx context.Context, productID string, qty int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE products
		SET quantity = quantity + $2,
		    is_available = CASE WHEN quantity = 0 THEN TRUE ELSE is_available END,
		    updated_at = now()
		WHERE id = $1`, productID, qty)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return product.ErrNotFound
	}
	return nil
}

func (r *Inventory) list(ctx context.Context, query string, args ...any) ([]product.Product, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []product.Product
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.SellerID, &p.Name, &p.Description, &p.Category, &p.Subcategory,
		&p.Price, &p.Unit, &p.Quantity, &p.MinOrder, pq.Array(&p.Images),
		&p.Specifications.Grade, &p.Specifications.Variety, &p.Specifications.Organic,
		&p.Specifications.PesticideFree, &p.Specifications.ExpiryDate, &p.Specifications.HarvestDate,
		&p.Location.City, &p.Location.Country, &p.IsAvailable, &p.Rating, &p.ReviewCount,
		pq.Array(&p.Tags), &p.CreatedAt, &p.UpdatedAt)
	return p, err
}
