package export_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lubepos/lubepos/internal/catalog"
	"github.com/lubepos/lubepos/internal/export"
	"github.com/lubepos/lubepos/internal/inventory"
	"github.com/lubepos/lubepos/internal/invoice"
	"github.com/lubepos/lubepos/internal/rbac"
	"github.com/lubepos/lubepos/internal/shared"
	"github.com/lubepos/lubepos/internal/store/memory"
	"github.com/lubepos/lubepos/internal/users"
)

var exportTime = time.Date(2024, 7, 2, 16, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type env struct {
	store      *memory.Store
	catalog    *catalog.Service
	inventory  *inventory.Service
	invoices   *invoice.Service
	exports    *export.Service
	admin      shared.Actor
	accountant shared.Actor
	staff      shared.Actor
}

func ctxFor(actor shared.Actor) context.Context {
	return shared.ContextWithActor(context.Background(), actor)
}

func newEnv(t *testing.T) env {
	t.Helper()
	store := memory.New()
	insert := func(name string, role shared.Role) shared.Actor {
		id, err := store.Users().InsertUser(context.Background(), users.User{Name: name, Role: role, Balance: decimal.Zero})
		require.NoError(t, err)
		return shared.Actor{UserID: id, Name: name, Role: role}
	}
	policy := rbac.MustDefaultPolicy()
	e := env{
		store:      store,
		catalog:    catalog.NewService(store.Catalog(), policy, nil),
		inventory:  inventory.NewService(store.Inventory(), policy, nil, nil, nil),
		invoices:   invoice.NewService(store.Invoices(), policy, nil),
		exports:    export.NewService(store.Exports(), policy, nil, shared.NewLocalLocker(time.Second), nil),
		admin:      insert("admin", shared.RoleAdmin),
		accountant: insert("ayu", shared.RoleAccountant),
		staff:      insert("sari", shared.RoleStaff),
	}
	e.exports.WithNow(func() time.Time { return exportTime })
	return e
}

func (e env) product(t *testing.T, name, retail, wholesale, vip, threshold, onHand string) int64 {
	t.Helper()
	res, err := e.catalog.AddProduct(ctxFor(e.admin), catalog.ProductInput{
		Name: name, RetailPrice: dec(retail), WholesalePrice: dec(wholesale), VIPPrice: dec(vip), WholesaleThreshold: dec(threshold),
	})
	require.NoError(t, err)
	if q := dec(onHand); q.IsPositive() {
		_, err = e.inventory.Receive(ctxFor(e.admin), inventory.ReceiveInput{ProductID: res.Product.ID, Quantity: q})
		require.NoError(t, err)
	}
	return res.Product.ID
}

func (e env) sellDeferred(t *testing.T, productID int64, qty string) invoice.CreateResult {
	t.Helper()
	res, err := e.invoices.Create(ctxFor(e.staff), invoice.CreateInput{
		Items: []invoice.BasketItem{{ProductID: productID, Quantity: dec(qty)}},
	})
	require.NoError(t, err)
	return res
}

func (e env) balance(t *testing.T, userID int64) decimal.Decimal {
	t.Helper()
	u, err := e.store.Users().GetUser(context.Background(), userID)
	require.NoError(t, err)
	return u.Balance
}

func (e env) onHand(t *testing.T, productID int64) decimal.Decimal {
	t.Helper()
	p, err := e.store.Catalog().GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return p.OnHand
}

func (e env) deferred(t *testing.T, productID int64) decimal.Decimal {
	t.Helper()
	sources, err := e.exports.Pools(ctxFor(e.admin), export.PoolFilter{ProductID: productID})
	require.NoError(t, err)
	total := decimal.Zero
	for _, s := range sources {
		total = total.Add(s.Quantity)
	}
	return total
}

func retail(productID int64, qty string) export.Request {
	return export.Request{ProductID: productID, Quantity: dec(qty), Tier: catalog.TierRetail}
}

func TestExportDischargesDeferredLine(t *testing.T) {
	e := newEnv(t)
	x := e.product(t, "X", "100", "80", "70", "10", "45")
	sale := e.sellDeferred(t, x, "3")

	res, err := e.exports.Execute(ctxFor(e.accountant), export.ExecuteInput{PlanInput: export.PlanInput{
		Requests: []export.Request{retail(x, "3")},
	}})
	require.NoError(t, err)
	require.Len(t, res.IssuedLines, 1)
	require.True(t, res.IssuedLines[0].IsIssued)
	require.NotNil(t, res.IssuedLines[0].DischargedAt)
	require.Equal(t, []int64{sale.Invoice.ID}, res.CompletedInvoices)
	require.Empty(t, res.UnionDifferences)
	require.Empty(t, res.Overdraws)

	inv, err := e.invoices.Detail(ctxFor(e.admin), sale.Invoice.ID)
	require.NoError(t, err)
	require.Equal(t, invoice.StatusFullyIssued, inv.Status)

	require.True(t, e.balance(t, e.accountant.UserID).IsZero())
	require.True(t, e.deferred(t, x).IsZero())
	require.True(t, e.onHand(t, x).Equal(dec("42")))

	// The export leaves one zero-quantity movement in the log.
	require.Len(t, res.Movements, 1)
	require.Equal(t, inventory.ActionSupplementaryExport, res.Movements[0].Action)
	require.True(t, res.Movements[0].Quantity.IsZero())
}

func TestBorrowNeedsAffirmation(t *testing.T) {
	e := newEnv(t)
	y := e.product(t, "Y", "120", "90", "80", "20", "10")
	e.sellDeferred(t, y, "10")
	threshold := dec("5")
	_, err := e.catalog.UpdateProduct(ctxFor(e.admin), y, catalog.ProductUpdate{WholesaleThreshold: &threshold})
	require.NoError(t, err)

	request := export.PlanInput{Requests: []export.Request{{ProductID: y, Quantity: dec("8"), Tier: catalog.TierWholesale}}}

	plan, err := e.exports.Plan(ctxFor(e.accountant), request)
	require.ErrorIs(t, err, shared.ErrRequiresAuthorization)
	proposed, ok := export.IsAuthorizationRequired(err)
	require.True(t, ok)
	require.Equal(t, plan.Fingerprint, proposed.Fingerprint)
	require.True(t, proposed.NeedsBorrow)

	_, err = e.exports.Execute(ctxFor(e.accountant), export.ExecuteInput{PlanInput: request})
	require.ErrorIs(t, err, shared.ErrRequiresAuthorization)
	require.True(t, e.deferred(t, y).Equal(dec("10")))

	request.AllowBorrow = true
	res, err := e.exports.Execute(ctxFor(e.accountant), export.ExecuteInput{PlanInput: request, Fingerprint: plan.Fingerprint})
	require.NoError(t, err)
	require.Len(t, res.UnionDifferences, 1)
	ud := res.UnionDifferences[0]
	require.Equal(t, catalog.TierRetail, ud.SourceTier)
	require.Equal(t, catalog.TierWholesale, ud.ExportTier)
	require.True(t, ud.Quantity.Equal(dec("8")))
	require.True(t, ud.Amount.Equal(dec("240")))
	require.True(t, res.Changed.Has(shared.CollectionUnionDifferences))

	require.True(t, e.balance(t, e.accountant.UserID).Equal(dec("-240")))
	require.True(t, e.deferred(t, y).Equal(dec("2")))

	// The partial discharge split the line: an issued clone of 8 and 2 still deferred.
	require.Len(t, res.IssuedLines, 1)
	clone := res.IssuedLines[0]
	require.NotNil(t, clone.SourceLineID)
	require.True(t, clone.Quantity.Equal(dec("8")))
	require.Empty(t, res.CompletedInvoices)

	recorded, err := e.exports.UnionDifferences(ctxFor(e.accountant), export.ReportFilter{ProductID: y})
	require.NoError(t, err)
	require.Len(t, recorded, 1)
}

func TestExceedsSYSChangesNothing(t *testing.T) {
	e := newEnv(t)
	z := e.product(t, "Z", "60", "50", "40", "3", "7")
	e.sellDeferred(t, z, "2")
	require.True(t, e.onHand(t, z).Equal(dec("5")))

	_, err := e.exports.Execute(ctxFor(e.accountant), export.ExecuteInput{PlanInput: export.PlanInput{
		Requests: []export.Request{retail(z, "8")}, AllowBorrow: true, AllowOverdraw: true,
	}})
	require.ErrorIs(t, err, shared.ErrExceedsSYS)
	require.True(t, e.onHand(t, z).Equal(dec("5")))
	require.True(t, e.deferred(t, z).Equal(dec("2")))
}

func TestOverdrawTakesFromShelf(t *testing.T) {
	e := newEnv(t)
	z := e.product(t, "Z", "60", "50", "40", "3", "7")
	e.sellDeferred(t, z, "2")

	request := export.PlanInput{Requests: []export.Request{retail(z, "5")}}
	_, err := e.exports.Execute(ctxFor(e.accountant), export.ExecuteInput{PlanInput: request})
	require.ErrorIs(t, err, shared.ErrRequiresAuthorization)

	request.AllowOverdraw = true
	res, err := e.exports.Execute(ctxFor(e.accountant), export.ExecuteInput{PlanInput: request})
	require.NoError(t, err)
	require.Len(t, res.Plan.Discharges, 1)
	require.True(t, res.Plan.Discharges[0].Quantity.Equal(dec("2")))
	require.Len(t, res.Overdraws, 1)
	require.True(t, res.Overdraws[0].Quantity.Equal(dec("3")))
	require.Equal(t, e.accountant.UserID, res.Overdraws[0].UserID)

	require.True(t, e.balance(t, e.accountant.UserID).IsZero())
	require.True(t, e.deferred(t, z).IsZero())
	require.True(t, e.onHand(t, z).Equal(dec("2")))

	overdraws, err := e.exports.Overdraws(ctxFor(e.accountant), export.ReportFilter{})
	require.NoError(t, err)
	require.Len(t, overdraws, 1)
}

func TestFingerprintMismatchReturnsFreshPlan(t *testing.T) {
	e := newEnv(t)
	x := e.product(t, "X", "100", "80", "70", "10", "20")
	e.sellDeferred(t, x, "3")

	request := export.PlanInput{Requests: []export.Request{retail(x, "2")}}
	preview, err := e.exports.Plan(ctxFor(e.accountant), request)
	require.NoError(t, err)

	// Another deferred sale does not change the FIFO head, so the plan still matches.
	e.sellDeferred(t, x, "1")
	_, err = e.exports.Execute(ctxFor(e.accountant), export.ExecuteInput{PlanInput: request, Fingerprint: "stale"})
	require.ErrorIs(t, err, shared.ErrRequiresAuthorization)
	fresh, ok := export.IsAuthorizationRequired(err)
	require.True(t, ok)
	require.Equal(t, preview.Fingerprint, fresh.Fingerprint)
	require.True(t, e.deferred(t, x).Equal(dec("4")))

	_, err = e.exports.Execute(ctxFor(e.accountant), export.ExecuteInput{PlanInput: request, Fingerprint: preview.Fingerprint})
	require.NoError(t, err)
	require.True(t, e.deferred(t, x).Equal(dec("2")))
}

func TestSplitApportionsDiscount(t *testing.T) {
	e := newEnv(t)
	x := e.product(t, "X", "100", "80", "70", "10", "20")
	res, err := e.invoices.Create(ctxFor(e.staff), invoice.CreateInput{
		Items: []invoice.BasketItem{{ProductID: x, Quantity: dec("3"), Discount: dec("10")}},
	})
	require.NoError(t, err)
	require.True(t, e.balance(t, e.staff.UserID).Equal(dec("290")))

	out, err := e.exports.Execute(ctxFor(e.accountant), export.ExecuteInput{PlanInput: export.PlanInput{
		Requests: []export.Request{retail(x, "1")},
	}})
	require.NoError(t, err)
	require.True(t, out.IssuedLines[0].Discount.Equal(dec("3.33")))

	inv, err := e.invoices.Detail(ctxFor(e.admin), res.Invoice.ID)
	require.NoError(t, err)
	require.Len(t, inv.Lines, 2)
	require.True(t, inv.Lines[0].Quantity.Equal(dec("2")))
	require.True(t, inv.Lines[0].Discount.Equal(dec("6.67")))
	require.False(t, inv.Lines[0].IsIssued)
	require.Equal(t, invoice.StatusPartiallyDeferred, inv.Status)
}

func TestOpeningPoolsAreConsumedFirst(t *testing.T) {
	e := newEnv(t)
	x := e.product(t, "X", "100", "80", "70", "10", "20")
	e.sellDeferred(t, x, "2")

	recorded, err := e.exports.RecordOpeningPools(ctxFor(e.admin), []export.PoolInput{
		{UserID: e.staff.UserID, ProductID: x, Quantity: dec("3"), Tier: catalog.TierRetail},
		{UserID: e.staff.UserID, ProductID: x, Quantity: dec("1"), Tier: catalog.TierVIP, UnitPrice: ptr(dec("65"))},
	})
	require.NoError(t, err)
	require.Len(t, recorded.Pools, 2)
	require.True(t, recorded.Pools[0].UnitPrice.Equal(dec("100")))
	require.True(t, recorded.Pools[1].UnitPrice.Equal(dec("65")))

	sources, err := e.exports.Pools(ctxFor(e.admin), export.PoolFilter{ProductID: x})
	require.NoError(t, err)
	require.Len(t, sources, 3)
	require.Equal(t, export.SourceOpeningPool, sources[0].Kind)
	require.Equal(t, export.SourceInvoiceLine, sources[2].Kind)

	res, err := e.exports.Execute(ctxFor(e.accountant), export.ExecuteInput{PlanInput: export.PlanInput{
		Requests: []export.Request{retail(x, "4")},
	}})
	require.NoError(t, err)
	require.Len(t, res.Plan.Discharges, 2)
	require.Equal(t, export.SourceOpeningPool, res.Plan.Discharges[0].Source.Kind)
	require.True(t, res.Plan.Discharges[0].Quantity.Equal(dec("3")))
	require.Equal(t, export.SourceInvoiceLine, res.Plan.Discharges[1].Source.Kind)

	pools, err := e.store.Exports().ListOpeningPools(context.Background(), export.PoolFilter{ProductID: x})
	require.NoError(t, err)
	require.Len(t, pools, 1)
	require.Equal(t, catalog.TierVIP, pools[0].Tier)
}

func TestRecordOpeningPoolsValidation(t *testing.T) {
	e := newEnv(t)
	x := e.product(t, "X", "100", "80", "70", "10", "0")
	ctx := ctxFor(e.admin)

	_, err := e.exports.RecordOpeningPools(ctx, nil)
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)
	_, err = e.exports.RecordOpeningPools(ctx, []export.PoolInput{{UserID: e.staff.UserID, ProductID: x, Quantity: dec("1"), Tier: "gold"}})
	require.ErrorIs(t, err, shared.ErrInvalidTier)
	_, err = e.exports.RecordOpeningPools(ctx, []export.PoolInput{{UserID: e.staff.UserID, ProductID: x, Quantity: dec("0"), Tier: catalog.TierRetail}})
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)
	_, err = e.exports.RecordOpeningPools(ctx, []export.PoolInput{{UserID: 404, ProductID: x, Quantity: dec("1"), Tier: catalog.TierRetail}})
	require.ErrorIs(t, err, shared.ErrInvalidUser)
}

func TestStaffCannotExport(t *testing.T) {
	e := newEnv(t)
	x := e.product(t, "X", "100", "80", "70", "10", "5")
	_, err := e.exports.Execute(ctxFor(e.staff), export.ExecuteInput{PlanInput: export.PlanInput{Requests: []export.Request{retail(x, "1")}}})
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
	var authErr *export.AuthorizationError
	require.False(t, errors.As(err, &authErr))
}

func ptr[T any](v T) *T { return &v }
