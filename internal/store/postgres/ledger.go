package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/lubepos/lubepos/internal/fund"
	"github.com/lubepos/lubepos/internal/shared"
	"github.com/lubepos/lubepos/internal/users"
)

const userColumns = `id, name, role, balance, password_hash, created_at`

func scanUser(row pgx.Row) (users.User, error) {
	var (
		u    users.User
		role string
	)
	err := row.Scan(&u.ID, &u.Name, &role, &u.Balance, &u.PasswordHash, &u.CreatedAt)
	u.Role = shared.Role(role)
	return u, notFound(err)
}

func (q *queries) getUser(ctx context.Context, id int64, lock bool) (users.User, error) {
	sql := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	return scanUser(q.db.QueryRow(ctx, sql, id))
}

func (q *queries) GetUserForUpdate(ctx context.Context, id int64) (users.User, error) {
	return q.getUser(ctx, id, true)
}

func (q *queries) AdjustBalance(ctx context.Context, userID int64, delta decimal.Decimal) error {
	tag, err := q.db.Exec(ctx, `UPDATE users SET balance = balance + $2 WHERE id = $1`, userID, delta)
	return affected(tag.RowsAffected(), err)
}

func (q *queries) InsertTransfer(ctx context.Context, t fund.Transfer) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `
		INSERT INTO fund_transfers (from_user_id, to_user_id, amount, invoice_id, note, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		t.FromUserID, t.ToUserID, t.Amount, t.InvoiceID, t.Note, t.CreatedBy, t.CreatedAt,
	).Scan(&id)
	return id, err
}

func (q *queries) FirstUserWithRole(ctx context.Context, role shared.Role) (users.User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE role = $1 ORDER BY id LIMIT 1`, string(role)))
}

func (q *queries) insertUser(ctx context.Context, u users.User) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `
		INSERT INTO users (name, role, balance, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		u.Name, string(u.Role), u.Balance, u.PasswordHash, u.CreatedAt,
	).Scan(&id)
	return id, err
}

func (q *queries) updateUser(ctx context.Context, u users.User) error {
	tag, err := q.db.Exec(ctx, `UPDATE users SET role = $2, password_hash = $3 WHERE id = $1`, u.ID, string(u.Role), u.PasswordHash)
	return affected(tag.RowsAffected(), err)
}

func (q *queries) getUserByName(ctx context.Context, name string) (users.User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(name) = lower($1)`, name))
}

func (q *queries) listUsers(ctx context.Context) ([]users.User, error) {
	rows, err := q.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (users.User, error) { return scanUser(row) })
}

func (q *queries) listTransfers(ctx context.Context, filter fund.HistoryFilter) ([]fund.Transfer, error) {
	w := newWhere()
	if filter.UserID != 0 {
		w.add("(from_user_id = %[1]s OR to_user_id = %[1]s)", filter.UserID)
	}
	if filter.InvoiceID != 0 {
		w.add("invoice_id = %s", filter.InvoiceID)
	}
	w.between("created_at", filter.From, filter.To)
	rows, err := q.db.Query(ctx, `
		SELECT id, from_user_id, to_user_id, amount, invoice_id, note, created_by, created_at
		FROM fund_transfers`+w.sql()+` ORDER BY id DESC`+limitClause(filter.Limit), w.args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (fund.Transfer, error) {
		var t fund.Transfer
		err := row.Scan(&t.ID, &t.FromUserID, &t.ToUserID, &t.Amount, &t.InvoiceID, &t.Note, &t.CreatedBy, &t.CreatedAt)
		return t, err
	})
}

func (q *queries) sumTransfersForInvoice(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := q.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM fund_transfers WHERE invoice_id = $1`, invoiceID).Scan(&sum)
	return sum, err
}
