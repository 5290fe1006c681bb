// Package product defines the product catalog model and the inventory
// contract the order engine reserves stock against.
package product

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Unit is the unit a product is sold in.
type Unit string

const (
	UnitKg    Unit = "kg"
	UnitG     Unit = "g"
	UnitLb    Unit = "lb"
	UnitPiece Unit = "piece"
	UnitBunch Unit = "bunch"
	UnitCrate Unit = "crate"
	UnitBag   Unit = "bag"
)

// Category classifies a product listing.
type Category string

const (
	CategoryVegetables Category = "Vegetables"
	CategoryFruits     Category = "Fruits"
	CategoryGrains     Category = "Grains"
	CategoryLivestock  Category = "Livestock"
	CategoryDairy      Category = "Dairy"
	CategoryPoultry    Category = "Poultry"
	CategoryOther      Category = "Other"
)

// Grade rates produce quality.
type Grade string

const (
	GradeA        Grade = "A"
	GradeB        Grade = "B"
	GradeC        Grade = "C"
	GradePremium  Grade = "Premium"
	GradeStandard Grade = "Standard"
	GradeEconomy  Grade = "Economy"
)

// Specifications carries optional produce details.
type Specifications struct {
	Grade         Grade      `json:"grade,omitempty"`
	Variety       string     `json:"variety,omitempty"`
	Organic       bool       `json:"organic"`
	PesticideFree bool       `json:"pesticideFree"`
	ExpiryDate    *time.Time `json:"expiryDate,omitempty"`
	HarvestDate   *time.Time `json:"harvestDate,omitempty"`
}

// Location is where the product is offered from.
type Location struct {
	City    string `json:"city"`
	Country string `json:"country"`
}

// Product is a seller's listing together with its available stock. Quantity
// is mutated only through Inventory.TryReserve/Release and seller edits;
// IsAvailable drops to false whenever quantity reaches zero but may also be
// false on a withdrawn listing with stock remaining.
type Product struct {
	ID             string         `json:"id"`
	SellerID       string         `json:"sellerId"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Category       Category       `json:"category"`
	Subcategory    string         `json:"subcategory,omitempty"`
	Price          float64        `json:"price"`
	Unit           Unit           `json:"unit"`
	Quantity       int            `json:"quantity"`
	MinOrder       int            `json:"minOrder"`
	Images         []string       `json:"images,omitempty"`
	Specifications Specifications `json:"specifications"`
	Location       Location       `json:"location"`
	IsAvailable    bool           `json:"isAvailable"`
	Rating         float64        `json:"rating"`
	ReviewCount    int            `json:"reviewCount"`
	Tags           []string       `json:"tags,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

const (
	maxNameLen        = 100
	maxDescriptionLen = 1000

	defaultCountry = "Kenya"
)

var validUnits = map[Unit]bool{
	UnitKg: true, UnitG: true, UnitLb: true, UnitPiece: true,
	UnitBunch: true, UnitCrate: true, UnitBag: true,
}

var validCategories = map[Category]bool{
	CategoryVegetables: true, CategoryFruits: true, CategoryGrains: true,
	CategoryLivestock: true, CategoryDairy: true, CategoryPoultry: true,
	CategoryOther: true,
}

var validGrades = map[Grade]bool{
	GradeA: true, GradeB: true, GradeC: true,
	GradePremium: true, GradeStandard: true, GradeEconomy: true,
}

// Normalize trims free-text fields and fills schema defaults.
func (p *Product) Normalize() {
	p.Name = strings.TrimSpace(p.Name)
	p.Subcategory = strings.TrimSpace(p.Subcategory)
	p.Location.City = strings.TrimSpace(p.Location.City)
	p.Location.Country = strings.TrimSpace(p.Location.Country)
	if p.Location.Country == "" {
		p.Location.Country = defaultCountry
	}
	if p.MinOrder == 0 {
		p.MinOrder = 1
	}
}

// Validate checks the listing constraints and reports the first violation
// wrapped in ErrValidation.
func (p *Product) Validate() error {
	switch {
	case p.SellerID == "":
		return fmt.Errorf("%w: seller is required", ErrValidation)
	case p.Name == "":
		return fmt.Errorf("%w: product name is required", ErrValidation)
	case len(p.Name) > maxNameLen:
		return fmt.Errorf("%w: product name cannot be more than %d characters", ErrValidation, maxNameLen)
	case p.Description == "":
		return fmt.Errorf("%w: product description is required", ErrValidation)
	case len(p.Description) > maxDescriptionLen:
		return fmt.Errorf("%w: description cannot be more than %d characters", ErrValidation, maxDescriptionLen)
	case !validCategories[p.Category]:
		return fmt.Errorf("%w: unknown category %q", ErrValidation, p.Category)
	case !validUnits[p.Unit]:
		return fmt.Errorf("%w: unknown unit %q", ErrValidation, p.Unit)
	case p.Price < 0:
		return fmt.Errorf("%w: price cannot be negative", ErrValidation)
	case p.Quantity < 0:
		return fmt.Errorf("%w: quantity cannot be negative", ErrValidation)
	case p.MinOrder < 1:
		return fmt.Errorf("%w: minimum order must be at least 1", ErrValidation)
	case p.Location.City == "":
		return fmt.Errorf("%w: city is required", ErrValidation)
	case p.Rating < 0 || p.Rating > 5:
		return fmt.Errorf("%w: rating must be between 0 and 5", ErrValidation)
	}
	if p.Specifications.Grade != "" && !validGrades[p.Specifications.Grade] {
		return fmt.Errorf("%w: unknown grade %q", ErrValidation, p.Specifications.Grade)
	}
	return nil
}

// Inventory is the durable product store. TryReserve and Release are the
// only stock mutations the order engine performs.
type Inventory interface {
	Create(ctx context.Context, p Product) error
	Get(ctx context.Context, id string) (Product, error)
	Update(ctx context.Context, p Product) error
	List(ctx context.Context) ([]Product, error)
	ListBySeller(ctx context.Context, sellerID string) ([]Product, error)

	// TryReserve atomically checks quantity >= qty and debits it,
	// clearing IsAvailable when stock runs out. Concurrent reservations
	// against the same product must never oversubscribe stock.
	TryReserve(ctx context.Context, productID string, qty int) error

	// Release is the compensating operation for TryReserve, crediting
	// qty back and restoring availability if stock had hit zero.
	Release(ctx context.Context, productID string, qty int) error
}

var (
	// ErrNotFound indicates the requested product does not exist.
	ErrNotFound = errors.New("product not found")

	// ErrValidation indicates a listing violates its field constraints.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientStock indicates available quantity is less than
	// requested.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// InsufficientStockError reports a failed reservation with the numbers the
// caller needs to recover (reduce quantity or pick another listing).
type InsufficientStockError struct {
	ProductID string
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.Name, e.Requested, e.Available)
}

// Unwrap ties the typed error to the ErrInsufficientStock sentinel.
func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }
