package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/lubepos/lubepos/internal/catalog"
	"github.com/lubepos/lubepos/internal/inventory"
	"github.com/lubepos/lubepos/internal/shared"
)

func (d *dataset) GetProduct(_ context.Context, id int64) (catalog.Product, error) {
	p, ok := d.products[id]
	if !ok {
		return catalog.Product{}, shared.ErrNotFound
	}
	return p, nil
}

func (d *dataset) GetProductForUpdate(ctx context.Context, id int64) (catalog.Product, error) {
	return d.GetProduct(ctx, id)
}

func (d *dataset) GetProductByName(_ context.Context, name string) (catalog.Product, error) {
	for _, p := range d.products {
		if strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}
	return catalog.Product{}, shared.ErrNotFound
}

func (d *dataset) InsertProduct(_ context.Context, p catalog.Product) (int64, error) {
	p.ID = d.next("products")
	d.products[p.ID] = p
	return p.ID, nil
}

func (d *dataset) UpdateProduct(_ context.Context, p catalog.Product) error {
	current, ok := d.products[p.ID]
	if !ok {
		return shared.ErrNotFound
	}
	p.OnHand = current.OnHand
	p.CreatedAt = current.CreatedAt
	d.products[p.ID] = p
	return nil
}

func (d *dataset) DeleteProduct(_ context.Context, id int64) error {
	if _, ok := d.products[id]; !ok {
		return shared.ErrNotFound
	}
	delete(d.products, id)
	return nil
}

func (d *dataset) ProductReferenced(_ context.Context, id int64) (bool, error) {
	for _, l := range d.lines {
		if l.ProductID == id {
			return true, nil
		}
	}
	for _, p := range d.pools {
		if p.ProductID == id {
			return true, nil
		}
	}
	return false, nil
}

func (d *dataset) InsertPriceHistory(_ context.Context, h catalog.PriceHistory) (int64, error) {
	h.ID = d.next("price_history")
	d.priceHistory = append(d.priceHistory, h)
	return h.ID, nil
}

func (d *dataset) LatestPrice(_ context.Context, productID int64, tier catalog.Tier) (decimal.Decimal, bool, error) {
	var (
		latest catalog.PriceHistory
		found  bool
	)
	for _, h := range d.priceHistory {
		if h.ProductID != productID || h.Tier != tier {
			continue
		}
		if !found || h.ChangedAt.After(latest.ChangedAt) || (h.ChangedAt.Equal(latest.ChangedAt) && h.ID > latest.ID) {
			latest, found = h, true
		}
	}
	return latest.NewPrice, found, nil
}

func (d *dataset) SetOnHand(_ context.Context, productID int64, qty decimal.Decimal) error {
	p, ok := d.products[productID]
	if !ok {
		return shared.ErrNotFound
	}
	p.OnHand = qty
	d.products[productID] = p
	return nil
}

func (d *dataset) InsertMovement(_ context.Context, m inventory.StockMovement) (int64, error) {
	m.ID = d.next("movements")
	d.movements = append(d.movements, m)
	return m.ID, nil
}

func (d *dataset) MovementsByReference(_ context.Context, refs []string) ([]inventory.StockMovement, error) {
	wanted := make(map[string]struct{}, len(refs))
	for _, r := range refs {
		wanted[r] = struct{}{}
	}
	var out []inventory.StockMovement
	for _, m := range d.movements {
		if _, ok := wanted[m.Reference]; ok && m.Reference != "" {
			out = append(out, m)
		}
	}
	return out, nil
}

func (d *dataset) listProducts(filter catalog.ProductFilter) []catalog.Product {
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	ids := make(map[int64]struct{}, len(filter.IDs))
	for _, id := range filter.IDs {
		ids[id] = struct{}{}
	}
	out := make([]catalog.Product, 0, len(d.products))
	for _, p := range d.products {
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) {
			continue
		}
		if len(ids) > 0 {
			if _, ok := ids[p.ID]; !ok {
				continue
			}
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return limit(out, filter.Limit)
}

func (d *dataset) listPriceHistory(filter catalog.PriceHistoryFilter) []catalog.PriceHistory {
	var out []catalog.PriceHistory
	for _, h := range d.priceHistory {
		if filter.ProductID != 0 && h.ProductID != filter.ProductID {
			continue
		}
		if filter.Tier != "" && h.Tier != filter.Tier {
			continue
		}
		if !within(h.ChangedAt, filter.From, filter.To) {
			continue
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return limit(out, filter.Limit)
}

func (d *dataset) listMovements(filter inventory.MovementFilter) []inventory.StockMovement {
	var out []inventory.StockMovement
	for _, m := range d.movements {
		if filter.ProductID != 0 && m.ProductID != filter.ProductID {
			continue
		}
		if filter.UserID != 0 && m.UserID != filter.UserID {
			continue
		}
		if filter.Action != "" && m.Action != filter.Action {
			continue
		}
		if !within(m.OccurredAt, filter.From, filter.To) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return limit(out, filter.Limit)
}
