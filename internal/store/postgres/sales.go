package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/lubepos/lubepos/internal/catalog"
	"github.com/lubepos/lubepos/internal/export"
	"github.com/lubepos/lubepos/internal/invoice"
)

const lineColumns = `l.id, l.invoice_id, l.product_id, l.quantity, l.tier, l.unit_price, l.discount, l.is_issued, l.note,
	l.source_line_id, l.discharged_at`

func scanLine(row pgx.Row, extra ...any) (invoice.Line, error) {
	var (
		l    invoice.Line
		tier string
	)
	dest := []any{&l.ID, &l.InvoiceID, &l.ProductID, &l.Quantity, &tier, &l.UnitPrice, &l.Discount, &l.IsIssued, &l.Note,
		&l.SourceLineID, &l.DischargedAt}
	err := row.Scan(append(dest, extra...)...)
	l.Tier = catalog.Tier(tier)
	return l, err
}

func (q *queries) InsertInvoice(ctx context.Context, inv invoice.Invoice) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `
		INSERT INTO invoices (user_id, customer_label, created_at, status, gross_total, discount)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		inv.UserID, inv.CustomerLabel, inv.CreatedAt, string(inv.Status), inv.GrossTotal, inv.Discount,
	).Scan(&id)
	return id, err
}

func (q *queries) InsertLine(ctx context.Context, l invoice.Line) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `
		INSERT INTO invoice_lines (invoice_id, product_id, quantity, tier, unit_price, discount, is_issued, note,
			source_line_id, discharged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		l.InvoiceID, l.ProductID, l.Quantity, string(l.Tier), l.UnitPrice, l.Discount, l.IsIssued, l.Note,
		l.SourceLineID, l.DischargedAt,
	).Scan(&id)
	return id, err
}

func (q *queries) UpdateLine(ctx context.Context, l invoice.Line) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE invoice_lines
		SET quantity = $2, discount = $3, is_issued = $4, note = $5, discharged_at = $6
		WHERE id = $1`,
		l.ID, l.Quantity, l.Discount, l.IsIssued, l.Note, l.DischargedAt)
	return affected(tag.RowsAffected(), err)
}

func (q *queries) getInvoice(ctx context.Context, id int64, lock bool) (invoice.Invoice, error) {
	sql := `SELECT id, user_id, customer_label, created_at, status, gross_total, discount FROM invoices WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	inv, err := scanInvoice(q.db.QueryRow(ctx, sql, id))
	if err != nil {
		return invoice.Invoice{}, notFound(err)
	}
	lineSQL := `SELECT ` + lineColumns + ` FROM invoice_lines l WHERE l.invoice_id = $1 ORDER BY l.id`
	if lock {
		lineSQL += ` FOR UPDATE`
	}
	rows, err := q.db.Query(ctx, lineSQL, id)
	if err != nil {
		return invoice.Invoice{}, err
	}
	inv.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (invoice.Line, error) { return scanLine(row) })
	return inv, err
}

func scanInvoice(row pgx.Row) (invoice.Invoice, error) {
	var (
		inv    invoice.Invoice
		status string
	)
	err := row.Scan(&inv.ID, &inv.UserID, &inv.CustomerLabel, &inv.CreatedAt, &status, &inv.GrossTotal, &inv.Discount)
	inv.Status = invoice.Status(status)
	return inv, err
}

func (q *queries) GetInvoiceForUpdate(ctx context.Context, id int64) (invoice.Invoice, error) {
	return q.getInvoice(ctx, id, true)
}

func (q *queries) UpdateInvoice(ctx context.Context, inv invoice.Invoice) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE invoices
		SET customer_label = $2, created_at = $3, status = $4, gross_total = $5, discount = $6
		WHERE id = $1`,
		inv.ID, inv.CustomerLabel, inv.CreatedAt, string(inv.Status), inv.GrossTotal, inv.Discount)
	return affected(tag.RowsAffected(), err)
}

func (q *queries) DeleteInvoice(ctx context.Context, id int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	return affected(tag.RowsAffected(), err)
}

func (q *queries) listInvoices(ctx context.Context, filter invoice.ListFilter) ([]invoice.Invoice, error) {
	w := newWhere()
	if filter.UserID != 0 {
		w.add("user_id = %s", filter.UserID)
	}
	if filter.Status != "" {
		w.add("status = %s", string(filter.Status))
	}
	w.between("created_at", filter.From, filter.To)
	rows, err := q.db.Query(ctx, `
		SELECT id, user_id, customer_label, created_at, status, gross_total, discount
		FROM invoices`+w.sql()+` ORDER BY created_at DESC, id DESC`+limitClause(filter.Limit), w.args...)
	if err != nil {
		return nil, err
	}
	invoices, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (invoice.Invoice, error) { return scanInvoice(row) })
	if err != nil || len(invoices) == 0 {
		return invoices, err
	}
	ids := make([]int64, len(invoices))
	index := make(map[int64]int, len(invoices))
	for i, inv := range invoices {
		ids[i] = inv.ID
		index[inv.ID] = i
	}
	rows, err = q.db.Query(ctx, `SELECT `+lineColumns+` FROM invoice_lines l WHERE l.invoice_id = ANY($1) ORDER BY l.id`, ids)
	if err != nil {
		return nil, err
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (invoice.Line, error) { return scanLine(row) })
	if err != nil {
		return nil, err
	}
	for _, l := range lines {
		i := index[l.InvoiceID]
		invoices[i].Lines = append(invoices[i].Lines, l)
	}
	return invoices, nil
}

func (q *queries) OpeningPoolsForProduct(ctx context.Context, productID int64) ([]export.OpeningPool, error) {
	return q.listPools(ctx, export.PoolFilter{ProductID: productID}, true)
}

func (q *queries) DeferredLinesForProduct(ctx context.Context, productID int64) ([]export.DeferredLine, error) {
	return q.listDeferred(ctx, export.PoolFilter{ProductID: productID}, true)
}

func (q *queries) listPools(ctx context.Context, filter export.PoolFilter, lock bool) ([]export.OpeningPool, error) {
	w := newWhere()
	if filter.ProductID != 0 {
		w.add("product_id = %s", filter.ProductID)
	}
	if filter.UserID != 0 {
		w.add("user_id = %s", filter.UserID)
	}
	if filter.Tier != "" {
		w.add("tier = %s", string(filter.Tier))
	}
	sql := `SELECT id, user_id, product_id, quantity, tier, unit_price_at_record, recorded_at FROM opening_pools` +
		w.sql() + ` ORDER BY product_id, recorded_at, id`
	if lock {
		sql += ` FOR UPDATE`
	}
	rows, err := q.db.Query(ctx, sql, w.args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (export.OpeningPool, error) {
		var (
			p    export.OpeningPool
			tier string
		)
		err := row.Scan(&p.ID, &p.UserID, &p.ProductID, &p.Quantity, &tier, &p.UnitPrice, &p.RecordedAt)
		p.Tier = catalog.Tier(tier)
		return p, err
	})
}

func (q *queries) listDeferred(ctx context.Context, filter export.PoolFilter, lock bool) ([]export.DeferredLine, error) {
	w := newWhere()
	w.clauses = append(w.clauses, "NOT l.is_issued")
	if filter.ProductID != 0 {
		w.add("l.product_id = %s", filter.ProductID)
	}
	if filter.UserID != 0 {
		w.add("i.user_id = %s", filter.UserID)
	}
	if filter.Tier != "" {
		w.add("l.tier = %s", string(filter.Tier))
	}
	sql := `SELECT ` + lineColumns + `, i.user_id, i.created_at
		FROM invoice_lines l JOIN invoices i ON i.id = l.invoice_id` +
		w.sql() + ` ORDER BY l.product_id, i.created_at, l.id`
	if lock {
		sql += ` FOR UPDATE OF l`
	}
	rows, err := q.db.Query(ctx, sql, w.args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (export.DeferredLine, error) {
		var dl export.DeferredLine
		var err error
		dl.Line, err = scanLine(row, &dl.SellerID, &dl.InvoiceCreatedAt)
		return dl, err
	})
}

func (q *queries) InsertOpeningPool(ctx context.Context, p export.OpeningPool) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `
		INSERT INTO opening_pools (user_id, product_id, quantity, tier, unit_price_at_record, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		p.UserID, p.ProductID, p.Quantity, string(p.Tier), p.UnitPrice, p.RecordedAt,
	).Scan(&id)
	return id, err
}

func (q *queries) UpdateOpeningPool(ctx context.Context, id int64, qty decimal.Decimal) error {
	tag, err := q.db.Exec(ctx, `UPDATE opening_pools SET quantity = $2 WHERE id = $1`, id, qty)
	return affected(tag.RowsAffected(), err)
}

func (q *queries) DeleteOpeningPool(ctx context.Context, id int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM opening_pools WHERE id = $1`, id)
	return affected(tag.RowsAffected(), err)
}

func (q *queries) InsertOverdraw(ctx context.Context, o export.Overdraw) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `
		INSERT INTO overdraws (user_id, product_id, quantity, tier, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		o.UserID, o.ProductID, o.Quantity, string(o.Tier), o.RecordedAt,
	).Scan(&id)
	return id, err
}

func (q *queries) InsertUnionDifference(ctx context.Context, u export.UnionDifference) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `
		INSERT INTO union_differences (user_id, product_id, quantity, source_tier, export_tier, sold_unit_price,
			export_unit_price, amount, recorded_at, is_current_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		u.UserID, u.ProductID, u.Quantity, string(u.SourceTier), string(u.ExportTier), u.SoldUnitPrice,
		u.ExportUnitPrice, u.Amount, u.RecordedAt, u.IsCurrentPrice,
	).Scan(&id)
	return id, err
}

func (q *queries) listUnions(ctx context.Context, filter export.ReportFilter) ([]export.UnionDifference, error) {
	w := newWhere()
	if filter.ProductID != 0 {
		w.add("product_id = %s", filter.ProductID)
	}
	if filter.UserID != 0 {
		w.add("user_id = %s", filter.UserID)
	}
	w.between("recorded_at", filter.From, filter.To)
	rows, err := q.db.Query(ctx, `
		SELECT id, user_id, product_id, quantity, source_tier, export_tier, sold_unit_price, export_unit_price,
			amount, recorded_at, is_current_price
		FROM union_differences`+w.sql()+` ORDER BY id DESC`+limitClause(filter.Limit), w.args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (export.UnionDifference, error) {
		var (
			u              export.UnionDifference
			source, target string
		)
		err := row.Scan(&u.ID, &u.UserID, &u.ProductID, &u.Quantity, &source, &target, &u.SoldUnitPrice,
			&u.ExportUnitPrice, &u.Amount, &u.RecordedAt, &u.IsCurrentPrice)
		u.SourceTier = catalog.Tier(source)
		u.ExportTier = catalog.Tier(target)
		return u, err
	})
}

func (q *queries) listOverdraws(ctx context.Context, filter export.ReportFilter) ([]export.Overdraw, error) {
	w := newWhere()
	if filter.ProductID != 0 {
		w.add("product_id = %s", filter.ProductID)
	}
	if filter.UserID != 0 {
		w.add("user_id = %s", filter.UserID)
	}
	w.between("recorded_at", filter.From, filter.To)
	rows, err := q.db.Query(ctx, `
		SELECT id, user_id, product_id, quantity, tier, recorded_at
		FROM overdraws`+w.sql()+` ORDER BY id DESC`+limitClause(filter.Limit), w.args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (export.Overdraw, error) {
		var (
			o    export.Overdraw
			tier string
		)
		err := row.Scan(&o.ID, &o.UserID, &o.ProductID, &o.Quantity, &tier, &o.RecordedAt)
		o.Tier = catalog.Tier(tier)
		return o, err
	})
}
