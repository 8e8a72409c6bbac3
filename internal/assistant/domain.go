// Package assistant answers the read-only questions of the in-app assistant:
// user debts, the fund ledger, an inventory view and the tabs a role may open.
package assistant

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lubepos/lubepos/internal/fund"
	"github.com/lubepos/lubepos/internal/shared"
)

// Debt is what a user holds on behalf of the shop.
type Debt struct {
	UserID  int64           `json:"user_id"`
	Name    string          `json:"name"`
	Role    shared.Role     `json:"role"`
	Balance decimal.Decimal `json:"balance"`
	// Outstanding is the total of the user's undischarged deferred lines.
	Outstanding   decimal.Decimal `json:"outstanding_deferred"`
	DeferredLines int             `json:"deferred_lines"`
}

// LedgerQuery bounds the fund ledger by date.
type LedgerQuery struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Ledger is the fund ledger within a date range.
type Ledger struct {
	From      time.Time       `json:"from"`
	To        time.Time       `json:"to"`
	Transfers []fund.Transfer `json:"transfers"`
	// Paid out of the shop (transfers without recipient).
	PaidOut decimal.Decimal `json:"paid_out"`
	Moved   decimal.Decimal `json:"moved"`
}

// InventoryQuery filters the inventory view.
type InventoryQuery struct {
	Search     string  `json:"search,omitempty"`
	ProductIDs []int64 `json:"product_ids,omitempty"`
}

// InventoryRow is a product's stock position.
type InventoryRow struct {
	ProductID          int64           `json:"product_id"`
	Name               string          `json:"name"`
	OnHand             decimal.Decimal `json:"on_hand"`
	Deferred           decimal.Decimal `json:"deferred"`
	SYS                decimal.Decimal `json:"sys"`
	RetailPrice        decimal.Decimal `json:"retail_price"`
	WholesalePrice     decimal.Decimal `json:"wholesale_price"`
	VIPPrice           decimal.Decimal `json:"vip_price"`
	WholesaleThreshold decimal.Decimal `json:"wholesale_threshold"`
}
