package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lubepos/lubepos/internal/shared"
)

// Tier is a price tier.
type Tier string

const (
	TierRetail    Tier = "retail"
	TierWholesale Tier = "wholesale"
	TierVIP       Tier = "vip"
)

// Tiers lists every tier in ascending privilege.
var Tiers = []Tier{TierRetail, TierWholesale, TierVIP}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierRetail, TierWholesale, TierVIP:
		return true
	}
	return false
}

// ParseTier normalises s into a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", shared.ErrInvalidTier, s)
	}
	return t, nil
}

// Product is the catalog master record. OnHand is owned by the inventory ledger.
type Product struct {
	ID                 int64           `json:"id"`
	Name               string          `json:"name"`
	RetailPrice        decimal.Decimal `json:"retail_price"`
	WholesalePrice     decimal.Decimal `json:"wholesale_price"`
	VIPPrice           decimal.Decimal `json:"vip_price"`
	OnHand             decimal.Decimal `json:"on_hand"`
	WholesaleThreshold decimal.Decimal `json:"wholesale_threshold"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Price returns the unit price for tier.
func (p Product) Price(t Tier) decimal.Decimal {
	switch t {
	case TierWholesale:
		return p.WholesalePrice
	case TierVIP:
		return p.VIPPrice
	default:
		return p.RetailPrice
	}
}

// SetPrice updates the unit price for tier.
func (p *Product) SetPrice(t Tier, v decimal.Decimal) {
	switch t {
	case TierWholesale:
		p.WholesalePrice = v
	case TierVIP:
		p.VIPPrice = v
	default:
		p.RetailPrice = v
	}
}

// ProductInput describes a new product.
type ProductInput struct {
	Name               string          `json:"name" validate:"required,max=200"`
	RetailPrice        decimal.Decimal `json:"retail_price"`
	WholesalePrice     decimal.Decimal `json:"wholesale_price"`
	VIPPrice           decimal.Decimal `json:"vip_price"`
	WholesaleThreshold decimal.Decimal `json:"wholesale_threshold"`
}

// ProductUpdate carries optional field changes.
type ProductUpdate struct {
	Name               *string          `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	RetailPrice        *decimal.Decimal `json:"retail_price,omitempty"`
	WholesalePrice     *decimal.Decimal `json:"wholesale_price,omitempty"`
	VIPPrice           *decimal.Decimal `json:"vip_price,omitempty"`
	WholesaleThreshold *decimal.Decimal `json:"wholesale_threshold,omitempty"`
}

// PriceHistory records one tier price change.
type PriceHistory struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	Tier      Tier            `json:"tier"`
	OldPrice  decimal.Decimal `json:"old_price"`
	NewPrice  decimal.Decimal `json:"new_price"`
	UserID    int64           `json:"user_id"`
	ChangedAt time.Time       `json:"changed_at"`
}

// ProductFilter narrows product listings.
type ProductFilter struct {
	Search string
	IDs    []int64
	Limit  int
}

// PriceHistoryFilter narrows price history listings.
type PriceHistoryFilter struct {
	ProductID int64
	Tier      Tier
	From      time.Time
	To        time.Time
	Limit     int
}

// TableRow is one row of a bulk price table.
type TableRow struct {
	Name               string          `json:"name" validate:"required,max=200"`
	RetailPrice        decimal.Decimal `json:"retail_price"`
	WholesalePrice     decimal.Decimal `json:"wholesale_price"`
	VIPPrice           decimal.Decimal `json:"vip_price"`
	WholesaleThreshold decimal.Decimal `json:"wholesale_threshold"`
}

// UpsertResult summarises a bulk upsert.
type UpsertResult struct {
	Created      int              `json:"created"`
	Updated      int              `json:"updated"`
	Unchanged    int              `json:"unchanged"`
	PriceChanges []PriceHistory   `json:"price_changes"`
	Changed      shared.ChangeSet `json:"changed"`
}

// ProductResult is returned by single-product mutations.
type ProductResult struct {
	Product      Product          `json:"product"`
	PriceChanges []PriceHistory   `json:"price_changes,omitempty"`
	Changed      shared.ChangeSet `json:"changed"`
}
