// Package postgres implements every repository port on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lubepos/lubepos/internal/catalog"
	"github.com/lubepos/lubepos/internal/export"
	"github.com/lubepos/lubepos/internal/fund"
	"github.com/lubepos/lubepos/internal/inventory"
	"github.com/lubepos/lubepos/internal/invoice"
	"github.com/lubepos/lubepos/internal/platform/db"
	"github.com/lubepos/lubepos/internal/shared"
	"github.com/lubepos/lubepos/internal/users"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// queries holds every statement; it runs on the pool for reads and on a pgx.Tx
// inside transactions.
type queries struct {
	db querier
}

// Store persists all collections in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	opts db.TxOptions
	read *queries
}

// New constructs Store.
func New(pool *pgxpool.Pool, opts db.TxOptions) *Store {
	return &Store{pool: pool, opts: opts, read: &queries{db: pool}}
}

func (s *Store) withTx(ctx context.Context, fn func(context.Context, *queries) error) error {
	return db.WithTx(ctx, s.pool, s.opts, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &queries{db: tx})
	})
}

// Catalog returns the catalog repository.
func (s *Store) Catalog() catalog.RepositoryPort { return catalogRepo{s} }

// Inventory returns the inventory repository.
func (s *Store) Inventory() inventory.RepositoryPort { return inventoryRepo{s} }

// Invoices returns the invoice repository.
func (s *Store) Invoices() invoice.RepositoryPort { return invoiceRepo{s} }

// Exports returns the supplementary export repository.
func (s *Store) Exports() export.RepositoryPort { return exportRepo{s} }

// Funds returns the fund ledger repository.
func (s *Store) Funds() fund.RepositoryPort { return fundRepo{s} }

// Users returns the user repository.
func (s *Store) Users() users.RepositoryPort { return usersRepo{s} }

type catalogRepo struct{ s *Store }

func (r catalogRepo) WithTx(ctx context.Context, fn func(context.Context, catalog.TxRepository) error) error {
	return r.s.withTx(ctx, func(ctx context.Context, q *queries) error { return fn(ctx, q) })
}

func (r catalogRepo) GetProduct(ctx context.Context, id int64) (catalog.Product, error) {
	p, err := r.s.read.GetProduct(ctx, id)
	return p, classify(err)
}

func (r catalogRepo) ListProducts(ctx context.Context, filter catalog.ProductFilter) ([]catalog.Product, error) {
	out, err := r.s.read.listProducts(ctx, filter)
	return out, classify(err)
}

func (r catalogRepo) ListPriceHistory(ctx context.Context, filter catalog.PriceHistoryFilter) ([]catalog.PriceHistory, error) {
	out, err := r.s.read.listPriceHistory(ctx, filter)
	return out, classify(err)
}

type inventoryRepo struct{ s *Store }

func (r inventoryRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return r.s.withTx(ctx, func(ctx context.Context, q *queries) error { return fn(ctx, q) })
}

func (r inventoryRepo) GetProduct(ctx context.Context, id int64) (catalog.Product, error) {
	p, err := r.s.read.GetProduct(ctx, id)
	return p, classify(err)
}

func (r inventoryRepo) ListMovements(ctx context.Context, filter inventory.MovementFilter) ([]inventory.StockMovement, error) {
	out, err := r.s.read.listMovements(ctx, filter)
	return out, classify(err)
}

type invoiceRepo struct{ s *Store }

func (r invoiceRepo) WithTx(ctx context.Context, fn func(context.Context, invoice.TxRepository) error) error {
	return r.s.withTx(ctx, func(ctx context.Context, q *queries) error { return fn(ctx, q) })
}

func (r invoiceRepo) GetInvoice(ctx context.Context, id int64) (invoice.Invoice, error) {
	inv, err := r.s.read.getInvoice(ctx, id, false)
	return inv, classify(err)
}

func (r invoiceRepo) ListInvoices(ctx context.Context, filter invoice.ListFilter) ([]invoice.Invoice, error) {
	out, err := r.s.read.listInvoices(ctx, filter)
	return out, classify(err)
}

type exportRepo struct{ s *Store }

func (r exportRepo) WithTx(ctx context.Context, fn func(context.Context, export.TxRepository) error) error {
	return r.s.withTx(ctx, func(ctx context.Context, q *queries) error { return fn(ctx, q) })
}

func (r exportRepo) ListOpeningPools(ctx context.Context, filter export.PoolFilter) ([]export.OpeningPool, error) {
	out, err := r.s.read.listPools(ctx, filter, false)
	return out, classify(err)
}

func (r exportRepo) ListDeferredLines(ctx context.Context, filter export.PoolFilter) ([]export.DeferredLine, error) {
	out, err := r.s.read.listDeferred(ctx, filter, false)
	return out, classify(err)
}

func (r exportRepo) ListUnionDifferences(ctx context.Context, filter export.ReportFilter) ([]export.UnionDifference, error) {
	out, err := r.s.read.listUnions(ctx, filter)
	return out, classify(err)
}

func (r exportRepo) ListOverdraws(ctx context.Context, filter export.ReportFilter) ([]export.Overdraw, error) {
	out, err := r.s.read.listOverdraws(ctx, filter)
	return out, classify(err)
}

type fundRepo struct{ s *Store }

func (r fundRepo) WithTx(ctx context.Context, fn func(context.Context, fund.TxRepository) error) error {
	return r.s.withTx(ctx, func(ctx context.Context, q *queries) error { return fn(ctx, q) })
}

func (r fundRepo) GetUser(ctx context.Context, id int64) (users.User, error) {
	u, err := r.s.read.getUser(ctx, id, false)
	return u, classify(err)
}

func (r fundRepo) ListUsers(ctx context.Context) ([]users.User, error) {
	out, err := r.s.read.listUsers(ctx)
	return out, classify(err)
}

func (r fundRepo) ListTransfers(ctx context.Context, filter fund.HistoryFilter) ([]fund.Transfer, error) {
	out, err := r.s.read.listTransfers(ctx, filter)
	return out, classify(err)
}

func (r fundRepo) SumTransfersForInvoice(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	sum, err := r.s.read.sumTransfersForInvoice(ctx, invoiceID)
	return sum, classify(err)
}

type usersRepo struct{ s *Store }

func (r usersRepo) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := r.s.read.db.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&n)
	return n, classify(err)
}

func (r usersRepo) InsertUser(ctx context.Context, u users.User) (int64, error) {
	id, err := r.s.read.insertUser(ctx, u)
	return id, classify(err)
}

func (r usersRepo) UpdateUser(ctx context.Context, u users.User) error {
	return classify(r.s.read.updateUser(ctx, u))
}

func (r usersRepo) GetUser(ctx context.Context, id int64) (users.User, error) {
	u, err := r.s.read.getUser(ctx, id, false)
	return u, classify(err)
}

func (r usersRepo) GetUserByName(ctx context.Context, name string) (users.User, error) {
	u, err := r.s.read.getUserByName(ctx, name)
	return u, classify(err)
}

func (r usersRepo) ListUsers(ctx context.Context) ([]users.User, error) {
	out, err := r.s.read.listUsers(ctx)
	return out, classify(err)
}

// classify maps pgx.ErrNoRows to shared.ErrNotFound and leaves other errors to db.Classify.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, shared.ErrNotFound) {
		return err
	}
	return db.Classify(err)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.ErrNotFound
	}
	return err
}

var (
	_ catalog.TxRepository   = (*queries)(nil)
	_ inventory.TxRepository = (*queries)(nil)
	_ fund.TxRepository      = (*queries)(nil)
	_ invoice.TxRepository   = (*queries)(nil)
	_ export.TxRepository    = (*queries)(nil)
)
