package memory

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/lubepos/lubepos/internal/export"
	"github.com/lubepos/lubepos/internal/invoice"
	"github.com/lubepos/lubepos/internal/shared"
)

func (d *dataset) InsertInvoice(_ context.Context, inv invoice.Invoice) (int64, error) {
	inv.ID = d.next("invoices")
	inv.Lines = nil
	d.invoices[inv.ID] = inv
	return inv.ID, nil
}

func (d *dataset) InsertLine(_ context.Context, line invoice.Line) (int64, error) {
	if _, ok := d.invoices[line.InvoiceID]; !ok {
		return 0, shared.ErrNotFound
	}
	line.ID = d.next("invoice_lines")
	d.lines[line.ID] = line
	return line.ID, nil
}

func (d *dataset) UpdateLine(_ context.Context, line invoice.Line) error {
	if _, ok := d.lines[line.ID]; !ok {
		return shared.ErrNotFound
	}
	d.lines[line.ID] = line
	return nil
}

func (d *dataset) GetInvoiceForUpdate(_ context.Context, id int64) (invoice.Invoice, error) {
	inv, ok := d.invoices[id]
	if !ok {
		return invoice.Invoice{}, shared.ErrNotFound
	}
	inv.Lines = d.linesOf(id)
	return inv, nil
}

func (d *dataset) UpdateInvoice(_ context.Context, inv invoice.Invoice) error {
	if _, ok := d.invoices[inv.ID]; !ok {
		return shared.ErrNotFound
	}
	inv.Lines = nil
	d.invoices[inv.ID] = inv
	return nil
}

func (d *dataset) DeleteInvoice(_ context.Context, id int64) error {
	if _, ok := d.invoices[id]; !ok {
		return shared.ErrNotFound
	}
	for lineID, l := range d.lines {
		if l.InvoiceID == id {
			delete(d.lines, lineID)
		}
	}
	delete(d.invoices, id)
	return nil
}

func (d *dataset) linesOf(invoiceID int64) []invoice.Line {
	var out []invoice.Line
	for _, l := range d.lines {
		if l.InvoiceID == invoiceID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *dataset) listInvoices(filter invoice.ListFilter) []invoice.Invoice {
	var out []invoice.Invoice
	for _, inv := range d.invoices {
		if filter.UserID != 0 && inv.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		if !within(inv.CreatedAt, filter.From, filter.To) {
			continue
		}
		inv.Lines = d.linesOf(inv.ID)
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return limit(out, filter.Limit)
}

func (d *dataset) OpeningPoolsForProduct(_ context.Context, productID int64) ([]export.OpeningPool, error) {
	return d.listPools(export.PoolFilter{ProductID: productID}), nil
}

func (d *dataset) DeferredLinesForProduct(_ context.Context, productID int64) ([]export.DeferredLine, error) {
	return d.listDeferred(export.PoolFilter{ProductID: productID}), nil
}

func (d *dataset) InsertOpeningPool(_ context.Context, p export.OpeningPool) (int64, error) {
	p.ID = d.next("opening_pools")
	d.pools[p.ID] = p
	return p.ID, nil
}

func (d *dataset) UpdateOpeningPool(_ context.Context, id int64, qty decimal.Decimal) error {
	p, ok := d.pools[id]
	if !ok {
		return shared.ErrNotFound
	}
	p.Quantity = qty
	d.pools[id] = p
	return nil
}

func (d *dataset) DeleteOpeningPool(_ context.Context, id int64) error {
	if _, ok := d.pools[id]; !ok {
		return shared.ErrNotFound
	}
	delete(d.pools, id)
	return nil
}

func (d *dataset) InsertOverdraw(_ context.Context, o export.Overdraw) (int64, error) {
	o.ID = d.next("overdraws")
	d.overdraws = append(d.overdraws, o)
	return o.ID, nil
}

func (d *dataset) InsertUnionDifference(_ context.Context, u export.UnionDifference) (int64, error) {
	u.ID = d.next("union_differences")
	d.unions = append(d.unions, u)
	return u.ID, nil
}

func (d *dataset) listPools(filter export.PoolFilter) []export.OpeningPool {
	var out []export.OpeningPool
	for _, p := range d.pools {
		if filter.ProductID != 0 && p.ProductID != filter.ProductID {
			continue
		}
		if filter.UserID != 0 && p.UserID != filter.UserID {
			continue
		}
		if filter.Tier != "" && p.Tier != filter.Tier {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].RecordedAt.Before(out[j].RecordedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (d *dataset) listDeferred(filter export.PoolFilter) []export.DeferredLine {
	var out []export.DeferredLine
	for _, l := range d.lines {
		if l.IsIssued || !l.Quantity.IsPositive() {
			continue
		}
		if filter.ProductID != 0 && l.ProductID != filter.ProductID {
			continue
		}
		if filter.Tier != "" && l.Tier != filter.Tier {
			continue
		}
		inv := d.invoices[l.InvoiceID]
		if filter.UserID != 0 && inv.UserID != filter.UserID {
			continue
		}
		out = append(out, export.DeferredLine{Line: l, SellerID: inv.UserID, InvoiceCreatedAt: inv.CreatedAt})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].InvoiceCreatedAt.Equal(out[j].InvoiceCreatedAt) {
			return out[i].InvoiceCreatedAt.Before(out[j].InvoiceCreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (d *dataset) listUnions(filter export.ReportFilter) []export.UnionDifference {
	var out []export.UnionDifference
	for _, u := range d.unions {
		if filter.ProductID != 0 && u.ProductID != filter.ProductID {
			continue
		}
		if filter.UserID != 0 && u.UserID != filter.UserID {
			continue
		}
		if !within(u.RecordedAt, filter.From, filter.To) {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return limit(out, filter.Limit)
}

func (d *dataset) listOverdraws(filter export.ReportFilter) []export.Overdraw {
	var out []export.Overdraw
	for _, o := range d.overdraws {
		if filter.ProductID != 0 && o.ProductID != filter.ProductID {
			continue
		}
		if filter.UserID != 0 && o.UserID != filter.UserID {
			continue
		}
		if !within(o.RecordedAt, filter.From, filter.To) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return limit(out, filter.Limit)
}
