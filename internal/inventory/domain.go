package inventory

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lubepos/lubepos/internal/catalog"
	"github.com/lubepos/lubepos/internal/shared"
)

// Action classifies a stock movement.
type Action string

const (
	ActionSale                Action = "sale"
	ActionRecount             Action = "recount"
	ActionSupplementaryExport Action = "supplementary_export"
)

// StockMovement is one append-only entry of the movement log.
// Quantity is signed for recounts (counted minus system) and positive for
// outbound sales and exports; a negative sale quantity reverses a deleted sale.
type StockMovement struct {
	ID               int64           `json:"id"`
	ProductID        int64           `json:"product_id"`
	UserID           int64           `json:"user_id"`
	OccurredAt       time.Time       `json:"occurred_at"`
	Action           Action          `json:"action"`
	Quantity         decimal.Decimal `json:"quantity"`
	OnHandBefore     decimal.Decimal `json:"on_hand_before"`
	OnHandAfter      decimal.Decimal `json:"on_hand_after"`
	AppliedUnitPrice decimal.Decimal `json:"applied_unit_price"`
	UnionDelta       decimal.Decimal `json:"union_delta"`
	Tier             catalog.Tier    `json:"tier,omitempty"`
	Reason           string          `json:"reason,omitempty"`
	Reference        string          `json:"reference,omitempty"`
}

// Consumption asks the ledger to take Quantity of a product off the shelf.
type Consumption struct {
	ProductID  int64
	Quantity   decimal.Decimal
	UnitPrice  decimal.Decimal
	UnionDelta decimal.Decimal
	Tier       catalog.Tier
	Reason     string
	// Reference ties the movement to the caller's source row, e.g. "invoice_line:12".
	Reference string
}

// RecountEntry is one counted product in a recount session.
type RecountEntry struct {
	ProductID int64           `json:"product_id" validate:"required"`
	Counted   decimal.Decimal `json:"counted"`
	Reason    string          `json:"reason"`
}

// RecountLine reports the outcome for one counted product.
type RecountLine struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Counted     decimal.Decimal `json:"counted"`
	System      decimal.Decimal `json:"system"`
	Difference  decimal.Decimal `json:"difference"`
	Reason      string          `json:"reason,omitempty"`
}

// RecountResult summarises a committed recount session.
type RecountResult struct {
	UserID       int64            `json:"user_id"`
	RecordedAt   time.Time        `json:"recorded_at"`
	Lines        []RecountLine    `json:"lines"`
	Movements    []StockMovement  `json:"movements"`
	SnapshotPath string           `json:"snapshot_path,omitempty"`
	Changed      shared.ChangeSet `json:"changed"`
}

// ReceiveInput records goods arriving on the shelf.
type ReceiveInput struct {
	ProductID int64           `json:"product_id" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
	Reason    string          `json:"reason"`
}

// MovementResult is returned by single-movement commands.
type MovementResult struct {
	Movement StockMovement    `json:"movement"`
	Changed  shared.ChangeSet `json:"changed"`
}

// MovementFilter narrows movement listings.
type MovementFilter struct {
	ProductID int64
	UserID    int64
	Action    Action
	From      time.Time
	To        time.Time
	Limit     int
}

// Shortage describes one product that cannot cover a request.
type Shortage struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Requested   decimal.Decimal `json:"requested"`
	Available   decimal.Decimal `json:"available"`
}

// StockShortageError lists every product short of stock.
type StockShortageError struct {
	Shortages []Shortage
}

func (e *StockShortageError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s requested %s available %s", s.ProductName, s.Requested, s.Available))
	}
	return fmt.Sprintf("%s: %s", shared.ErrInsufficientStock, strings.Join(parts, "; "))
}

func (e *StockShortageError) Unwrap() error { return shared.ErrInsufficientStock }

// Details exposes the shortages to API callers.
func (e *StockShortageError) Details() any { return e.Shortages }

// MissingReasonError lists products recounted with a discrepancy but no reason.
type MissingReasonError struct {
	ProductIDs []int64
}

func (e *MissingReasonError) Error() string {
	return fmt.Sprintf("%s: products %v", shared.ErrMissingReason, e.ProductIDs)
}

func (e *MissingReasonError) Unwrap() error { return shared.ErrMissingReason }

// Details exposes the offending product ids to API callers.
func (e *MissingReasonError) Details() any { return e.ProductIDs }
