package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/lubepos/lubepos/internal/catalog"
	"github.com/lubepos/lubepos/internal/inventory"
	"github.com/lubepos/lubepos/internal/shared"
)

const productColumns = `id, name, retail_price, wholesale_price, vip_price, on_hand, wholesale_threshold, created_at, updated_at`

func scanProduct(row pgx.Row) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(&p.ID, &p.Name, &p.RetailPrice, &p.WholesalePrice, &p.VIPPrice, &p.OnHand, &p.WholesaleThreshold, &p.CreatedAt, &p.UpdatedAt)
	return p, notFound(err)
}

func (q *queries) GetProduct(ctx context.Context, id int64) (catalog.Product, error) {
	return scanProduct(q.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (q *queries) GetProductForUpdate(ctx context.Context, id int64) (catalog.Product, error) {
	return scanProduct(q.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
}

func (q *queries) GetProductByName(ctx context.Context, name string) (catalog.Product, error) {
	return scanProduct(q.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE lower(name) = lower($1)`, name))
}

func (q *queries) InsertProduct(ctx context.Context, p catalog.Product) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `
		INSERT INTO products (name, retail_price, wholesale_price, vip_price, on_hand, wholesale_threshold, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		p.Name, p.RetailPrice, p.WholesalePrice, p.VIPPrice, p.OnHand, p.WholesaleThreshold, p.CreatedAt, p.UpdatedAt,
	).Scan(&id)
	return id, err
}

func (q *queries) UpdateProduct(ctx context.Context, p catalog.Product) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE products
		SET name = $2, retail_price = $3, wholesale_price = $4, vip_price = $5, wholesale_threshold = $6, updated_at = $7
		WHERE id = $1`,
		p.ID, p.Name, p.RetailPrice, p.WholesalePrice, p.VIPPrice, p.WholesaleThreshold, p.UpdatedAt)
	return affected(tag.RowsAffected(), err)
}

func (q *queries) DeleteProduct(ctx context.Context, id int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	return affected(tag.RowsAffected(), err)
}

func (q *queries) ProductReferenced(ctx context.Context, id int64) (bool, error) {
	var referenced bool
	err := q.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM invoice_lines WHERE product_id = $1)
		    OR EXISTS (SELECT 1 FROM opening_pools WHERE product_id = $1)`, id).Scan(&referenced)
	return referenced, err
}

func (q *queries) InsertPriceHistory(ctx context.Context, h catalog.PriceHistory) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `
		INSERT INTO price_history (product_id, tier, old_price, new_price, user_id, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		h.ProductID, string(h.Tier), h.OldPrice, h.NewPrice, h.UserID, h.ChangedAt,
	).Scan(&id)
	return id, err
}

func (q *queries) LatestPrice(ctx context.Context, productID int64, tier catalog.Tier) (decimal.Decimal, bool, error) {
	var price decimal.Decimal
	err := q.db.QueryRow(ctx, `
		SELECT new_price FROM price_history
		WHERE product_id = $1 AND tier = $2
		ORDER BY changed_at DESC, id DESC
		LIMIT 1`, productID, string(tier)).Scan(&price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}
	return price, true, nil
}

func (q *queries) SetOnHand(ctx context.Context, productID int64, qty decimal.Decimal) error {
	tag, err := q.db.Exec(ctx, `UPDATE products SET on_hand = $2 WHERE id = $1`, productID, qty)
	return affected(tag.RowsAffected(), err)
}

const movementColumns = `id, product_id, user_id, occurred_at, action, quantity, on_hand_before, on_hand_after,
	applied_unit_price, union_delta, tier, reason, reference`

func (q *queries) InsertMovement(ctx context.Context, m inventory.StockMovement) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `
		INSERT INTO stock_movements (product_id, user_id, occurred_at, action, quantity, on_hand_before, on_hand_after,
			applied_unit_price, union_delta, tier, reason, reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		m.ProductID, m.UserID, m.OccurredAt, string(m.Action), m.Quantity, m.OnHandBefore, m.OnHandAfter,
		m.AppliedUnitPrice, m.UnionDelta, string(m.Tier), m.Reason, m.Reference,
	).Scan(&id)
	return id, err
}

func (q *queries) MovementsByReference(ctx context.Context, refs []string) ([]inventory.StockMovement, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	rows, err := q.db.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements WHERE reference = ANY($1) ORDER BY id`, refs)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanMovement)
}

func scanMovement(row pgx.CollectableRow) (inventory.StockMovement, error) {
	var (
		m      inventory.StockMovement
		action string
		tier   string
	)
	err := row.Scan(&m.ID, &m.ProductID, &m.UserID, &m.OccurredAt, &action, &m.Quantity, &m.OnHandBefore, &m.OnHandAfter,
		&m.AppliedUnitPrice, &m.UnionDelta, &tier, &m.Reason, &m.Reference)
	m.Action = inventory.Action(action)
	m.Tier = catalog.Tier(tier)
	return m, err
}

func (q *queries) listProducts(ctx context.Context, filter catalog.ProductFilter) ([]catalog.Product, error) {
	w := newWhere()
	if s := strings.TrimSpace(filter.Search); s != "" {
		w.add("name ILIKE '%%' || %s || '%%'", s)
	}
	if len(filter.IDs) > 0 {
		w.add("id = ANY(%s)", filter.IDs)
	}
	rows, err := q.db.Query(ctx, `SELECT `+productColumns+` FROM products`+w.sql()+` ORDER BY id`+limitClause(filter.Limit), w.args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Product, error) { return scanProduct(row) })
}

func (q *queries) listPriceHistory(ctx context.Context, filter catalog.PriceHistoryFilter) ([]catalog.PriceHistory, error) {
	w := newWhere()
	if filter.ProductID != 0 {
		w.add("product_id = %s", filter.ProductID)
	}
	if filter.Tier != "" {
		w.add("tier = %s", string(filter.Tier))
	}
	w.between("changed_at", filter.From, filter.To)
	rows, err := q.db.Query(ctx, `
		SELECT id, product_id, tier, old_price, new_price, user_id, changed_at
		FROM price_history`+w.sql()+` ORDER BY id DESC`+limitClause(filter.Limit), w.args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.PriceHistory, error) {
		var (
			h    catalog.PriceHistory
			tier string
		)
		err := row.Scan(&h.ID, &h.ProductID, &tier, &h.OldPrice, &h.NewPrice, &h.UserID, &h.ChangedAt)
		h.Tier = catalog.Tier(tier)
		return h, err
	})
}

func (q *queries) listMovements(ctx context.Context, filter inventory.MovementFilter) ([]inventory.StockMovement, error) {
	w := newWhere()
	if filter.ProductID != 0 {
		w.add("product_id = %s", filter.ProductID)
	}
	if filter.UserID != 0 {
		w.add("user_id = %s", filter.UserID)
	}
	if filter.Action != "" {
		w.add("action = %s", string(filter.Action))
	}
	w.between("occurred_at", filter.From, filter.To)
	rows, err := q.db.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements`+w.sql()+` ORDER BY id DESC`+limitClause(filter.Limit), w.args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanMovement)
}

func affected(n int64, err error) error {
	if err != nil {
		return err
	}
	if n == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func limitClause(n int) string {
	if n <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", n)
}
