package inventory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lubepos/lubepos/internal/catalog"
)

// TxRepository exposes transactional operations used by the ledger.
type TxRepository interface {
	GetProductForUpdate(ctx context.Context, id int64) (catalog.Product, error)
	SetOnHand(ctx context.Context, productID int64, qty decimal.Decimal) error
	InsertMovement(ctx context.Context, m StockMovement) (int64, error)
}

// ApplySale decrements on-hand stock for a sale and appends one sale movement per
// consumption. It runs inside the caller's transaction and fails with a
// StockShortageError naming every product that cannot cover its total demand.
func ApplySale(ctx context.Context, tx TxRepository, userID int64, at time.Time, consumptions []Consumption) ([]StockMovement, error) {
	return post(ctx, tx, ActionSale, userID, at, consumptions)
}

// ApplyExport takes overdrawn export units off the shelf and appends one
// supplementary_export movement per consumption; zero quantities are still logged.
func ApplyExport(ctx context.Context, tx TxRepository, userID int64, at time.Time, consumptions []Consumption) ([]StockMovement, error) {
	return post(ctx, tx, ActionSupplementaryExport, userID, at, consumptions)
}

// ReverseSale puts sold units back on the shelf with negative sale movements.
func ReverseSale(ctx context.Context, tx TxRepository, userID int64, at time.Time, consumptions []Consumption) ([]StockMovement, error) {
	reversed := make([]Consumption, len(consumptions))
	for i, c := range consumptions {
		c.Quantity = c.Quantity.Neg()
		c.UnionDelta = c.UnionDelta.Neg()
		reversed[i] = c
	}
	return post(ctx, tx, ActionSale, userID, at, reversed)
}

func post(ctx context.Context, tx TxRepository, action Action, userID int64, at time.Time, consumptions []Consumption) ([]StockMovement, error) {
	products, err := lockProducts(ctx, tx, consumptions)
	if err != nil {
		return nil, err
	}
	if err := checkStock(products, consumptions); err != nil {
		return nil, err
	}
	movements := make([]StockMovement, 0, len(consumptions))
	for _, c := range consumptions {
		p := products[c.ProductID]
		after := p.OnHand.Sub(c.Quantity)
		if !c.Quantity.IsZero() {
			if err := tx.SetOnHand(ctx, p.ID, after); err != nil {
				return nil, err
			}
		}
		m := StockMovement{
			ProductID:        p.ID,
			UserID:           userID,
			OccurredAt:       at,
			Action:           action,
			Quantity:         c.Quantity,
			OnHandBefore:     p.OnHand,
			OnHandAfter:      after,
			AppliedUnitPrice: c.UnitPrice,
			UnionDelta:       c.UnionDelta,
			Tier:             c.Tier,
			Reason:           c.Reason,
			Reference:        c.Reference,
		}
		id, err := tx.InsertMovement(ctx, m)
		if err != nil {
			return nil, err
		}
		m.ID = id
		movements = append(movements, m)
		p.OnHand = after
		products[p.ID] = p
	}
	return movements, nil
}

// lockProducts locks every referenced product row in id order.
func lockProducts(ctx context.Context, tx TxRepository, consumptions []Consumption) (map[int64]catalog.Product, error) {
	ids := make([]int64, 0, len(consumptions))
	seen := make(map[int64]struct{}, len(consumptions))
	for _, c := range consumptions {
		if _, ok := seen[c.ProductID]; ok {
			continue
		}
		seen[c.ProductID] = struct{}{}
		ids = append(ids, c.ProductID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	products := make(map[int64]catalog.Product, len(ids))
	for _, id := range ids {
		p, err := tx.GetProductForUpdate(ctx, id)
		if err != nil {
			return nil, catalog.LookupError(err, id)
		}
		products[id] = p
	}
	return products, nil
}

func checkStock(products map[int64]catalog.Product, consumptions []Consumption) error {
	demand := make(map[int64]decimal.Decimal, len(products))
	var order []int64
	for _, c := range consumptions {
		if _, ok := demand[c.ProductID]; !ok {
			order = append(order, c.ProductID)
		}
		demand[c.ProductID] = demand[c.ProductID].Add(c.Quantity)
	}
	var shortages []Shortage
	for _, id := range order {
		p := products[id]
		if demand[id].GreaterThan(p.OnHand) {
			shortages = append(shortages, Shortage{
				ProductID:   id,
				ProductName: p.Name,
				Requested:   demand[id],
				Available:   p.OnHand,
			})
		}
	}
	if len(shortages) > 0 {
		return &StockShortageError{Shortages: shortages}
	}
	return nil
}

// CheckAvailability reports shortages for consumptions without changing anything.
func CheckAvailability(ctx context.Context, tx TxRepository, consumptions []Consumption) error {
	products, err := lockProducts(ctx, tx, consumptions)
	if err != nil {
		return err
	}
	return checkStock(products, consumptions)
}
