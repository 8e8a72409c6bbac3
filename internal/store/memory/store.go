// Package memory keeps every collection in process memory. Transactions run on
// a copy of the data set that replaces the live one only on success.
package memory

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/lubepos/lubepos/internal/catalog"
	"github.com/lubepos/lubepos/internal/export"
	"github.com/lubepos/lubepos/internal/fund"
	"github.com/lubepos/lubepos/internal/inventory"
	"github.com/lubepos/lubepos/internal/invoice"
	"github.com/lubepos/lubepos/internal/users"
)

// Store is an in-memory implementation of every repository port.
type Store struct {
	mu   sync.Mutex
	data *dataset
}

// New returns an empty store.
func New() *Store {
	return &Store{data: newDataset()}
}

type dataset struct {
	seq          map[string]int64
	products     map[int64]catalog.Product
	priceHistory []catalog.PriceHistory
	users        map[int64]users.User
	movements    []inventory.StockMovement
	invoices     map[int64]invoice.Invoice
	lines        map[int64]invoice.Line
	pools        map[int64]export.OpeningPool
	overdraws    []export.Overdraw
	unions       []export.UnionDifference
	transfers    []fund.Transfer
}

func newDataset() *dataset {
	return &dataset{
		seq:      make(map[string]int64),
		products: make(map[int64]catalog.Product),
		users:    make(map[int64]users.User),
		invoices: make(map[int64]invoice.Invoice),
		lines:    make(map[int64]invoice.Line),
		pools:    make(map[int64]export.OpeningPool),
	}
}

func (d *dataset) clone() *dataset {
	c := &dataset{
		seq:          make(map[string]int64, len(d.seq)),
		products:     make(map[int64]catalog.Product, len(d.products)),
		priceHistory: append([]catalog.PriceHistory(nil), d.priceHistory...),
		users:        make(map[int64]users.User, len(d.users)),
		movements:    append([]inventory.StockMovement(nil), d.movements...),
		invoices:     make(map[int64]invoice.Invoice, len(d.invoices)),
		lines:        make(map[int64]invoice.Line, len(d.lines)),
		pools:        make(map[int64]export.OpeningPool, len(d.pools)),
		overdraws:    append([]export.Overdraw(nil), d.overdraws...),
		unions:       append([]export.UnionDifference(nil), d.unions...),
		transfers:    append([]fund.Transfer(nil), d.transfers...),
	}
	for k, v := range d.seq {
		c.seq[k] = v
	}
	for k, v := range d.products {
		c.products[k] = v
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.invoices {
		c.invoices[k] = v
	}
	for k, v := range d.lines {
		c.lines[k] = v
	}
	for k, v := range d.pools {
		c.pools[k] = v
	}
	return c
}

func (d *dataset) next(table string) int64 {
	d.seq[table]++
	return d.seq[table]
}

// tx implements every module's TxRepository over a private copy of the data set.
type tx struct {
	*dataset
}

func (s *Store) withTx(ctx context.Context, fn func(context.Context, *tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.data.clone()
	if err := fn(ctx, &tx{dataset: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *Store) read(fn func(*dataset)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.data)
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
	return r.s.withTx(ctx, func(ctx context.Context, t *tx) error { return fn(ctx, t) })
}

func (r catalogRepo) GetProduct(ctx context.Context, id int64) (p catalog.Product, err error) {
	r.s.read(func(d *dataset) { p, err = d.GetProduct(ctx, id) })
	return
}

func (r catalogRepo) ListProducts(_ context.Context, filter catalog.ProductFilter) (out []catalog.Product, err error) {
	r.s.read(func(d *dataset) { out = d.listProducts(filter) })
	return
}

func (r catalogRepo) ListPriceHistory(_ context.Context, filter catalog.PriceHistoryFilter) (out []catalog.PriceHistory, err error) {
	r.s.read(func(d *dataset) { out = d.listPriceHistory(filter) })
	return
}

type inventoryRepo struct{ s *Store }

func (r inventoryRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return r.s.withTx(ctx, func(ctx context.Context, t *tx) error { return fn(ctx, t) })
}

func (r inventoryRepo) GetProduct(ctx context.Context, id int64) (p catalog.Product, err error) {
	r.s.read(func(d *dataset) { p, err = d.GetProduct(ctx, id) })
	return
}

func (r inventoryRepo) ListMovements(_ context.Context, filter inventory.MovementFilter) (out []inventory.StockMovement, err error) {
	r.s.read(func(d *dataset) { out = d.listMovements(filter) })
	return
}

type invoiceRepo struct{ s *Store }

func (r invoiceRepo) WithTx(ctx context.Context, fn func(context.Context, invoice.TxRepository) error) error {
	return r.s.withTx(ctx, func(ctx context.Context, t *tx) error { return fn(ctx, t) })
}

func (r invoiceRepo) GetInvoice(ctx context.Context, id int64) (inv invoice.Invoice, err error) {
	r.s.read(func(d *dataset) { inv, err = d.GetInvoiceForUpdate(ctx, id) })
	return
}

func (r invoiceRepo) ListInvoices(_ context.Context, filter invoice.ListFilter) (out []invoice.Invoice, err error) {
	r.s.read(func(d *dataset) { out = d.listInvoices(filter) })
	return
}

type exportRepo struct{ s *Store }

func (r exportRepo) WithTx(ctx context.Context, fn func(context.Context, export.TxRepository) error) error {
	return r.s.withTx(ctx, func(ctx context.Context, t *tx) error { return fn(ctx, t) })
}

func (r exportRepo) ListOpeningPools(_ context.Context, filter export.PoolFilter) (out []export.OpeningPool, err error) {
	r.s.read(func(d *dataset) { out = d.listPools(filter) })
	return
}

func (r exportRepo) ListDeferredLines(_ context.Context, filter export.PoolFilter) (out []export.DeferredLine, err error) {
	r.s.read(func(d *dataset) { out = d.listDeferred(filter) })
	return
}

func (r exportRepo) ListUnionDifferences(_ context.Context, filter export.ReportFilter) (out []export.UnionDifference, err error) {
	r.s.read(func(d *dataset) { out = d.listUnions(filter) })
	return
}

func (r exportRepo) ListOverdraws(_ context.Context, filter export.ReportFilter) (out []export.Overdraw, err error) {
	r.s.read(func(d *dataset) { out = d.listOverdraws(filter) })
	return
}

type fundRepo struct{ s *Store }

func (r fundRepo) WithTx(ctx context.Context, fn func(context.Context, fund.TxRepository) error) error {
	return r.s.withTx(ctx, func(ctx context.Context, t *tx) error { return fn(ctx, t) })
}

func (r fundRepo) GetUser(ctx context.Context, id int64) (u users.User, err error) {
	r.s.read(func(d *dataset) { u, err = d.GetUserForUpdate(ctx, id) })
	return
}

func (r fundRepo) ListUsers(_ context.Context) (out []users.User, err error) {
	r.s.read(func(d *dataset) { out = d.listUsers() })
	return
}

func (r fundRepo) ListTransfers(_ context.Context, filter fund.HistoryFilter) (out []fund.Transfer, err error) {
	r.s.read(func(d *dataset) { out = d.listTransfers(filter) })
	return
}

func (r fundRepo) SumTransfersForInvoice(_ context.Context, invoiceID int64) (sum decimal.Decimal, err error) {
	r.s.read(func(d *dataset) { sum = d.sumTransfersForInvoice(invoiceID) })
	return
}

type usersRepo struct{ s *Store }

func (r usersRepo) CountUsers(_ context.Context) (n int, err error) {
	r.s.read(func(d *dataset) { n = len(d.users) })
	return
}

func (r usersRepo) InsertUser(ctx context.Context, u users.User) (id int64, err error) {
	err = r.s.withTx(ctx, func(_ context.Context, t *tx) error {
		id, err = t.insertUser(u)
		return err
	})
	return
}

func (r usersRepo) UpdateUser(ctx context.Context, u users.User) error {
	return r.s.withTx(ctx, func(_ context.Context, t *tx) error { return t.updateUser(u) })
}

func (r usersRepo) GetUser(ctx context.Context, id int64) (u users.User, err error) {
	r.s.read(func(d *dataset) { u, err = d.GetUserForUpdate(ctx, id) })
	return
}

func (r usersRepo) GetUserByName(_ context.Context, name string) (u users.User, err error) {
	r.s.read(func(d *dataset) { u, err = d.getUserByName(name) })
	return
}

func (r usersRepo) ListUsers(_ context.Context) (out []users.User, err error) {
	r.s.read(func(d *dataset) { out = d.listUsers() })
	return
}

var (
	_ catalog.TxRepository   = (*tx)(nil)
	_ inventory.TxRepository = (*tx)(nil)
	_ fund.TxRepository      = (*tx)(nil)
	_ invoice.TxRepository   = (*tx)(nil)
	_ export.TxRepository    = (*tx)(nil)
)
