package invoice

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lubepos/lubepos/internal/catalog"
	"github.com/lubepos/lubepos/internal/inventory"
	"github.com/lubepos/lubepos/internal/shared"
)

// Status is derived from the issued flags of an invoice's lines.
type Status string

const (
	StatusFullyIssued       Status = "fully_issued"
	StatusPartiallyDeferred Status = "partially_deferred"
)

// Invoice is a sales transaction.
type Invoice struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"user_id"`
	CustomerLabel string          `json:"customer_label"`
	CreatedAt     time.Time       `json:"created_at"`
	Status        Status          `json:"status"`
	GrossTotal    decimal.Decimal `json:"gross_total"`
	Discount      decimal.Decimal `json:"discount"`
	Lines         []Line          `json:"lines,omitempty"`
}

// Line is one invoiced product. A deferred line (IsIssued false) is carried as
// the seller's debt until a supplementary export discharges it.
type Line struct {
	ID        int64           `json:"id"`
	InvoiceID int64           `json:"invoice_id"`
	ProductID int64           `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Tier      catalog.Tier    `json:"tier"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
	IsIssued  bool            `json:"is_issued"`
	Note      string          `json:"note,omitempty"`
	// SourceLineID is set on issued clones split off a deferred line.
	SourceLineID *int64     `json:"source_line_id,omitempty"`
	DischargedAt *time.Time `json:"discharged_at,omitempty"`
}

// Total is quantity times unit price less the line discount.
func (l Line) Total() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice).Sub(l.Discount)
}

// Discharged reports whether a supplementary export has touched the line.
func (l Line) Discharged() bool {
	return l.DischargedAt != nil || l.SourceLineID != nil
}

// Reference identifies the line on stock movements.
func (l Line) Reference() string {
	return LineReference(l.ID)
}

// BasketItem is one product in a customer basket.
type BasketItem struct {
	ProductID int64           `json:"product_id" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
	IsVIP     bool            `json:"is_vip"`
	IsIssued  bool            `json:"is_issued_now"`
	Discount  decimal.Decimal `json:"discount"`
	Note      string          `json:"note" validate:"max=500"`
}

// CreateInput is a basket plus invoice header fields.
type CreateInput struct {
	CustomerLabel string          `json:"customer_label" validate:"max=200"`
	CreatedAt     *time.Time      `json:"created_at,omitempty"`
	Discount      decimal.Decimal `json:"discount"`
	Items         []BasketItem    `json:"items" validate:"dive"`
}

// CreateResult is returned by invoice creation.
type CreateResult struct {
	Invoice        Invoice                   `json:"invoice"`
	Movements      []inventory.StockMovement `json:"movements"`
	DeferredCredit decimal.Decimal           `json:"deferred_credit"`
	Changed        shared.ChangeSet          `json:"changed"`
}

// EditInput carries the header fields an admin may correct.
type EditInput struct {
	CustomerLabel *string          `json:"customer_label,omitempty" validate:"omitempty,max=200"`
	CreatedAt     *time.Time       `json:"created_at,omitempty"`
	Discount      *decimal.Decimal `json:"discount,omitempty"`
}

// EditResult is returned by admin edits.
type EditResult struct {
	Invoice Invoice          `json:"invoice"`
	Changed shared.ChangeSet `json:"changed"`
}

// DeleteResult is returned by admin deletion.
type DeleteResult struct {
	InvoiceID      int64                     `json:"invoice_id"`
	Movements      []inventory.StockMovement `json:"movements"`
	DeferredCredit decimal.Decimal           `json:"deferred_credit_reversed"`
	Changed        shared.ChangeSet          `json:"changed"`
}

// ListFilter narrows invoice listings.
type ListFilter struct {
	UserID int64
	Status Status
	From   time.Time
	To     time.Time
	Limit  int
}
