package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lubepos/lubepos/internal/catalog"
	"github.com/lubepos/lubepos/internal/inventory"
	"github.com/lubepos/lubepos/internal/invoice"
	"github.com/lubepos/lubepos/internal/shared"
)

// OpeningPool is deferred stock carried in from before onboarding.
type OpeningPool struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"user_id"`
	ProductID  int64           `json:"product_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	Tier       catalog.Tier    `json:"tier"`
	UnitPrice  decimal.Decimal `json:"unit_price_at_record"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// DeferredLine is an undischarged invoice line together with the fields FIFO ordering needs.
type DeferredLine struct {
	invoice.Line
	SellerID         int64     `json:"seller_id"`
	InvoiceCreatedAt time.Time `json:"invoice_created_at"`
}

// Overdraw records export units taken beyond the deferred supply.
type Overdraw struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"user_id"`
	ProductID  int64           `json:"product_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	Tier       catalog.Tier    `json:"tier"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// UnionDifference is the price spread of discharging sold units at another price.
type UnionDifference struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	ProductID       int64           `json:"product_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	SourceTier      catalog.Tier    `json:"source_tier"`
	ExportTier      catalog.Tier    `json:"export_tier"`
	SoldUnitPrice   decimal.Decimal `json:"sold_unit_price"`
	ExportUnitPrice decimal.Decimal `json:"export_unit_price"`
	Amount          decimal.Decimal `json:"amount"`
	RecordedAt      time.Time       `json:"recorded_at"`
	IsCurrentPrice  bool            `json:"is_current_price"`
}

// SourceKind tells opening pools and deferred lines apart.
type SourceKind string

const (
	SourceOpeningPool SourceKind = "opening_pool"
	SourceInvoiceLine SourceKind = "invoice_line"
)

// Source is one row the planner may discharge from.
type Source struct {
	Kind      SourceKind      `json:"kind"`
	ID        int64           `json:"id"`
	InvoiceID int64           `json:"invoice_id,omitempty"`
	UserID    int64           `json:"user_id"`
	ProductID int64           `json:"product_id"`
	Tier      catalog.Tier    `json:"tier"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	// Since is recorded_at for pools and the invoice's created_at for lines.
	Since time.Time `json:"since"`
}

// Key identifies a source row across kinds.
func (s Source) Key() string {
	return fmt.Sprintf("%s:%d", s.Kind, s.ID)
}

// Request asks to export quantity units of a product at a tier.
type Request struct {
	ProductID int64           `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Tier      catalog.Tier    `json:"target_tier"`
}

// PlanInput is a batch of requests plus the caller's affirmations.
type PlanInput struct {
	Requests      []Request `json:"requests"`
	AllowBorrow   bool      `json:"allow_borrow"`
	AllowOverdraw bool      `json:"allow_overdraw"`
}

// ExecuteInput executes a plan. A non-empty Fingerprint must match the plan
// recomputed at execution time.
type ExecuteInput struct {
	PlanInput
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Discharge takes quantity units out of one source row.
type Discharge struct {
	Request         int             `json:"request"`
	Source          Source          `json:"source"`
	ExportTier      catalog.Tier    `json:"export_tier"`
	Quantity        decimal.Decimal `json:"quantity"`
	SoldUnitPrice   decimal.Decimal `json:"sold_unit_price"`
	ExportUnitPrice decimal.Decimal `json:"export_unit_price"`
	Borrowed        bool            `json:"borrowed"`
}

// PlannedOverdraw is demand left after the substitution graph is exhausted.
type PlannedOverdraw struct {
	Request   int             `json:"request"`
	ProductID int64           `json:"product_id"`
	Tier      catalog.Tier    `json:"tier"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// PlanItem summarises one request.
type PlanItem struct {
	Request         Request         `json:"request"`
	ProductName     string          `json:"product_name"`
	ExportUnitPrice decimal.Decimal `json:"export_unit_price"`
	Discharged      decimal.Decimal `json:"discharged"`
	Borrowed        decimal.Decimal `json:"borrowed"`
	Overdraw        decimal.Decimal `json:"overdraw"`
	UnionAmount     decimal.Decimal `json:"union_amount"`
}

// Plan is the dry-run outcome of a batch of requests.
type Plan struct {
	ID               string            `json:"id"`
	Items            []PlanItem        `json:"items"`
	Discharges       []Discharge       `json:"discharges"`
	Overdraws        []PlannedOverdraw `json:"overdraws"`
	UnionDifferences []UnionDifference `json:"union_differences"`
	UnionTotal       decimal.Decimal   `json:"union_total"`
	NeedsBorrow      bool              `json:"needs_borrow"`
	NeedsOverdraw    bool              `json:"needs_overdraw"`
	Fingerprint      string            `json:"fingerprint"`
	Description      []string          `json:"description"`
}

// Authorized reports whether the affirmations in input cover the plan.
func (p Plan) Authorized(input PlanInput) bool {
	return (!p.NeedsBorrow || input.AllowBorrow) && (!p.NeedsOverdraw || input.AllowOverdraw)
}

// ExecuteResult reports a committed export.
type ExecuteResult struct {
	Plan              Plan                      `json:"plan"`
	IssuedLines       []invoice.Line            `json:"issued_lines"`
	UnionDifferences  []UnionDifference         `json:"union_differences"`
	Overdraws         []Overdraw                `json:"overdraws"`
	Movements         []inventory.StockMovement `json:"movements"`
	CompletedInvoices []int64                   `json:"completed_invoices,omitempty"`
	Changed           shared.ChangeSet          `json:"changed"`
}

// PoolInput records one onboarding pool.
type PoolInput struct {
	UserID     int64            `json:"user_id" validate:"required"`
	ProductID  int64            `json:"product_id" validate:"required"`
	Quantity   decimal.Decimal  `json:"quantity"`
	Tier       catalog.Tier     `json:"tier" validate:"required"`
	UnitPrice  *decimal.Decimal `json:"unit_price,omitempty"`
	RecordedAt *time.Time       `json:"recorded_at,omitempty"`
}

// PoolResult is returned by RecordOpeningPools.
type PoolResult struct {
	Pools   []OpeningPool    `json:"pools"`
	Changed shared.ChangeSet `json:"changed"`
}

// PoolFilter narrows pool listings.
type PoolFilter struct {
	ProductID int64
	UserID    int64
	Tier      catalog.Tier
}

// ReportFilter narrows union difference and overdraw listings.
type ReportFilter struct {
	ProductID int64
	UserID    int64
	From      time.Time
	To        time.Time
	Limit     int
}

// SYSItem reports a product whose requests exceed its SYS ceiling.
type SYSItem struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Requested   decimal.Decimal `json:"requested"`
	OnHand      decimal.Decimal `json:"on_hand"`
	Deferred    decimal.Decimal `json:"deferred"`
	SYS         decimal.Decimal `json:"sys"`
}

// SYSExceededError lists every product over its ceiling.
type SYSExceededError struct {
	Items []SYSItem
}

func (e *SYSExceededError) Error() string {
	parts := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		parts = append(parts, fmt.Sprintf("%s requested %s, SYS %s", it.ProductName, it.Requested, it.SYS))
	}
	return fmt.Sprintf("%s: %s", shared.ErrExceedsSYS, strings.Join(parts, "; "))
}

func (e *SYSExceededError) Unwrap() error { return shared.ErrExceedsSYS }

// Details exposes the offending products to API callers.
func (e *SYSExceededError) Details() any { return e.Items }

// AuthorizationError carries a plan that needs borrow or overdraw affirmation.
type AuthorizationError struct {
	Plan Plan
}

func (e *AuthorizationError) Error() string {
	var needs []string
	if e.Plan.NeedsBorrow {
		needs = append(needs, "borrow")
	}
	if e.Plan.NeedsOverdraw {
		needs = append(needs, "overdraw")
	}
	return fmt.Sprintf("%s: %s; %s", shared.ErrRequiresAuthorization, strings.Join(needs, " and "), strings.Join(e.Plan.Description, "; "))
}

func (e *AuthorizationError) Unwrap() error { return shared.ErrRequiresAuthorization }

// Details exposes the proposed plan to API callers.
func (e *AuthorizationError) Details() any { return e.Plan }
