package invoice_test

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

var saleTime = time.Date(2024, 6, 3, 10, 15, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type shop struct {
	store     *memory.Store
	invoices  *invoice.Service
	inventory *inventory.Service
	staff     shared.Actor
	other     shared.Actor
	admin     shared.Actor
	x         int64
}

func (s shop) as(actor shared.Actor) context.Context {
	return shared.ContextWithActor(context.Background(), actor)
}

func (s shop) balance(t *testing.T, userID int64) decimal.Decimal {
	t.Helper()
	u, err := s.store.Users().GetUser(context.Background(), userID)
	require.NoError(t, err)
	return u.Balance
}

func (s shop) onHand(t *testing.T, productID int64) decimal.Decimal {
	t.Helper()
	p, err := s.store.Catalog().GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return p.OnHand
}

// newShop seeds product X (retail 100, wholesale 80, vip 70, threshold 10) with 50 units on hand.
func newShop(t *testing.T) shop {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	insert := func(name string, role shared.Role) shared.Actor {
		id, err := store.Users().InsertUser(ctx, users.User{Name: name, Role: role, Balance: decimal.Zero})
		require.NoError(t, err)
		return shared.Actor{UserID: id, Name: name, Role: role}
	}
	s := shop{store: store}
	s.admin = insert("admin", shared.RoleAdmin)
	s.staff = insert("sari", shared.RoleStaff)
	s.other = insert("budi", shared.RoleStaff)

	policy := rbac.MustDefaultPolicy()
	cat := catalog.NewService(store.Catalog(), policy, nil)
	res, err := cat.AddProduct(s.as(s.admin), catalog.ProductInput{
		Name: "X", RetailPrice: dec("100"), WholesalePrice: dec("80"), VIPPrice: dec("70"), WholesaleThreshold: dec("10"),
	})
	require.NoError(t, err)
	s.x = res.Product.ID

	s.inventory = inventory.NewService(store.Inventory(), policy, nil, nil, nil)
	_, err = s.inventory.Receive(s.as(s.admin), inventory.ReceiveInput{ProductID: s.x, Quantity: dec("50")})
	require.NoError(t, err)

	s.invoices = invoice.NewService(store.Invoices(), policy, nil)
	s.invoices.WithNow(func() time.Time { return saleTime })
	return s
}

func TestIssuedRetailSale(t *testing.T) {
	s := newShop(t)

	res, err := s.invoices.Create(s.as(s.staff), invoice.CreateInput{
		Items: []invoice.BasketItem{{ProductID: s.x, Quantity: dec("5"), IsIssued: true}},
	})
	require.NoError(t, err)

	line := res.Invoice.Lines[0]
	require.Equal(t, catalog.TierRetail, line.Tier)
	require.True(t, line.UnitPrice.Equal(dec("100")))
	require.True(t, line.Total().Equal(dec("500")))
	require.Equal(t, invoice.StatusFullyIssued, res.Invoice.Status)
	require.True(t, res.Invoice.GrossTotal.Equal(dec("500")))
	require.True(t, res.DeferredCredit.IsZero())

	require.Len(t, res.Movements, 1)
	m := res.Movements[0]
	require.Equal(t, inventory.ActionSale, m.Action)
	require.True(t, m.UnionDelta.Equal(dec("100")))
	require.Equal(t, line.Reference(), m.Reference)

	require.True(t, s.onHand(t, s.x).Equal(dec("45")))
	require.True(t, s.balance(t, s.staff.UserID).IsZero())
	require.False(t, res.Changed.Has(shared.CollectionBalances))
}

func TestDeferredSaleCreditsSeller(t *testing.T) {
	s := newShop(t)
	ctx := s.as(s.staff)
	_, err := s.invoices.Create(ctx, invoice.CreateInput{
		Items: []invoice.BasketItem{{ProductID: s.x, Quantity: dec("5"), IsIssued: true}},
	})
	require.NoError(t, err)

	res, err := s.invoices.Create(ctx, invoice.CreateInput{
		CustomerLabel: "  bengkel maju  ",
		Items:         []invoice.BasketItem{{ProductID: s.x, Quantity: dec("3")}},
	})
	require.NoError(t, err)
	require.Equal(t, "bengkel maju", res.Invoice.CustomerLabel)
	require.Equal(t, invoice.StatusPartiallyDeferred, res.Invoice.Status)
	require.True(t, res.DeferredCredit.Equal(dec("300")))
	require.True(t, res.Changed.Has(shared.CollectionBalances))
	require.True(t, res.Changed.Has(shared.CollectionPools))

	require.True(t, s.onHand(t, s.x).Equal(dec("42")))
	require.True(t, s.balance(t, s.staff.UserID).Equal(dec("300")))

	deferred, err := s.store.Exports().ListDeferredLines(context.Background(), export.PoolFilter{ProductID: s.x})
	require.NoError(t, err)
	require.Len(t, deferred, 1)
	require.Equal(t, s.staff.UserID, deferred[0].SellerID)
	require.True(t, deferred[0].Quantity.Equal(dec("3")))
}

func TestTierResolution(t *testing.T) {
	p := catalog.Product{RetailPrice: dec("100"), WholesalePrice: dec("80"), VIPPrice: dec("70"), WholesaleThreshold: dec("10")}
	require.Equal(t, catalog.TierRetail, invoice.ResolveTier(p, dec("9"), false))
	require.Equal(t, catalog.TierWholesale, invoice.ResolveTier(p, dec("10"), false))
	require.Equal(t, catalog.TierVIP, invoice.ResolveTier(p, dec("1"), true))
	require.Equal(t, catalog.TierVIP, invoice.ResolveTier(p, dec("20"), true))

	p.WholesaleThreshold = decimal.Zero
	require.Equal(t, catalog.TierWholesale, invoice.ResolveTier(p, dec("1"), false))

	require.True(t, invoice.UnionDelta(p, catalog.TierRetail, dec("2"), dec("5")).Equal(dec("35")))
	require.True(t, invoice.UnionDelta(p, catalog.TierWholesale, dec("2"), decimal.Zero).IsZero())
}

func TestWholesaleAndVIPSales(t *testing.T) {
	s := newShop(t)
	res, err := s.invoices.Create(s.as(s.staff), invoice.CreateInput{
		Discount: dec("50"),
		Items: []invoice.BasketItem{
			{ProductID: s.x, Quantity: dec("12"), IsIssued: true},
			{ProductID: s.x, Quantity: dec("2"), IsVIP: true, IsIssued: true, Discount: dec("10")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, catalog.TierWholesale, res.Invoice.Lines[0].Tier)
	require.True(t, res.Invoice.Lines[0].UnitPrice.Equal(dec("80")))
	require.Equal(t, catalog.TierVIP, res.Invoice.Lines[1].Tier)
	// 12*80 + (2*70 - 10) - 50
	require.True(t, res.Invoice.GrossTotal.Equal(dec("1040")))
	for _, m := range res.Movements {
		require.True(t, m.UnionDelta.IsZero())
	}
	require.True(t, s.onHand(t, s.x).Equal(dec("36")))
}

func TestShortBasketWritesNothing(t *testing.T) {
	s := newShop(t)
	_, err := s.invoices.Create(s.as(s.staff), invoice.CreateInput{
		Items: []invoice.BasketItem{
			{ProductID: s.x, Quantity: dec("30")},
			{ProductID: s.x, Quantity: dec("30")},
		},
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	var shortage *inventory.StockShortageError
	require.True(t, errors.As(err, &shortage))
	require.True(t, shortage.Shortages[0].Requested.Equal(dec("60")))

	require.True(t, s.onHand(t, s.x).Equal(dec("50")))
	require.True(t, s.balance(t, s.staff.UserID).IsZero())
	list, err := s.invoices.List(s.as(s.admin), invoice.ListFilter{})
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestCreateValidation(t *testing.T) {
	s := newShop(t)
	ctx := s.as(s.staff)
	cases := []struct {
		name  string
		input invoice.CreateInput
		want  error
	}{
		{"empty basket", invoice.CreateInput{}, shared.ErrInvalidQuantity},
		{"zero quantity", invoice.CreateInput{Items: []invoice.BasketItem{{ProductID: s.x, Quantity: decimal.Zero}}}, shared.ErrInvalidQuantity},
		{"unknown product", invoice.CreateInput{Items: []invoice.BasketItem{{ProductID: 99, Quantity: dec("1")}}}, shared.ErrInvalidProduct},
		{"missing product", invoice.CreateInput{Items: []invoice.BasketItem{{Quantity: dec("1")}}}, shared.ErrInvalidProduct},
		{"negative line discount", invoice.CreateInput{Items: []invoice.BasketItem{{ProductID: s.x, Quantity: dec("1"), Discount: dec("-1")}}}, shared.ErrInvalidAmount},
		{"line discount above subtotal", invoice.CreateInput{Items: []invoice.BasketItem{{ProductID: s.x, Quantity: dec("1"), Discount: dec("101")}}}, shared.ErrInvalidAmount},
		{"invoice discount above total", invoice.CreateInput{Discount: dec("200"), Items: []invoice.BasketItem{{ProductID: s.x, Quantity: dec("1")}}}, shared.ErrInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.invoices.Create(ctx, tc.input)
			require.ErrorIs(t, err, tc.want)
		})
	}
	require.True(t, s.onHand(t, s.x).Equal(dec("50")))
}

func TestStaffSeesOnlyOwnInvoices(t *testing.T) {
	s := newShop(t)
	mine, err := s.invoices.Create(s.as(s.staff), invoice.CreateInput{
		Items: []invoice.BasketItem{{ProductID: s.x, Quantity: dec("1"), IsIssued: true}},
	})
	require.NoError(t, err)
	theirs, err := s.invoices.Create(s.as(s.other), invoice.CreateInput{
		Items: []invoice.BasketItem{{ProductID: s.x, Quantity: dec("1"), IsIssued: true}},
	})
	require.NoError(t, err)

	list, err := s.invoices.List(s.as(s.staff), invoice.ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, mine.Invoice.ID, list[0].ID)

	_, err = s.invoices.Detail(s.as(s.staff), theirs.Invoice.ID)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	all, err := s.invoices.List(s.as(s.admin), invoice.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestAdminEdit(t *testing.T) {
	s := newShop(t)
	created, err := s.invoices.Create(s.as(s.staff), invoice.CreateInput{
		Items: []invoice.BasketItem{{ProductID: s.x, Quantity: dec("2"), IsIssued: true}},
	})
	require.NoError(t, err)
	id := created.Invoice.ID

	discount := dec("20")
	label := "Pak Joko"
	_, err = s.invoices.AdminEdit(s.as(s.staff), id, invoice.EditInput{Discount: &discount})
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	res, err := s.invoices.AdminEdit(s.as(s.admin), id, invoice.EditInput{Discount: &discount, CustomerLabel: &label})
	require.NoError(t, err)
	require.True(t, res.Invoice.GrossTotal.Equal(dec("180")))
	require.Equal(t, "Pak Joko", res.Invoice.CustomerLabel)

	tooMuch := dec("201")
	_, err = s.invoices.AdminEdit(s.as(s.admin), id, invoice.EditInput{Discount: &tooMuch})
	require.ErrorIs(t, err, shared.ErrInvalidAmount)

	_, err = s.invoices.AdminEdit(s.as(s.admin), 999, invoice.EditInput{Discount: &discount})
	require.ErrorIs(t, err, shared.ErrInvalidProduct)
}

func TestAdminDeleteReversesSale(t *testing.T) {
	s := newShop(t)
	created, err := s.invoices.Create(s.as(s.staff), invoice.CreateInput{
		Items: []invoice.BasketItem{
			{ProductID: s.x, Quantity: dec("4"), IsIssued: true},
			{ProductID: s.x, Quantity: dec("3")},
		},
	})
	require.NoError(t, err)
	require.True(t, s.balance(t, s.staff.UserID).Equal(dec("300")))
	require.True(t, s.onHand(t, s.x).Equal(dec("43")))

	res, err := s.invoices.AdminDelete(s.as(s.admin), created.Invoice.ID)
	require.NoError(t, err)
	require.True(t, res.DeferredCredit.Equal(dec("300")))
	require.Len(t, res.Movements, 2)
	require.True(t, res.Movements[0].Quantity.Equal(dec("-4")))
	require.True(t, res.Movements[0].UnionDelta.Equal(dec("-80")))

	require.True(t, s.onHand(t, s.x).Equal(dec("50")))
	require.True(t, s.balance(t, s.staff.UserID).IsZero())

	_, err = s.invoices.Detail(s.as(s.admin), created.Invoice.ID)
	require.ErrorIs(t, err, shared.ErrInvalidProduct)

	deferred, err := s.store.Exports().ListDeferredLines(context.Background(), export.PoolFilter{ProductID: s.x})
	require.NoError(t, err)
	require.Empty(t, deferred)
}

func TestDischargedInvoiceIsLocked(t *testing.T) {
	s := newShop(t)
	created, err := s.invoices.Create(s.as(s.staff), invoice.CreateInput{
		Items: []invoice.BasketItem{{ProductID: s.x, Quantity: dec("3")}},
	})
	require.NoError(t, err)

	exports := export.NewService(s.store.Exports(), nil, nil, nil, nil)
	_, err = exports.Execute(s.as(s.admin), export.ExecuteInput{PlanInput: export.PlanInput{
		Requests: []export.Request{{ProductID: s.x, Quantity: dec("1"), Tier: catalog.TierRetail}},
	}})
	require.NoError(t, err)

	_, err = s.invoices.AdminDelete(s.as(s.admin), created.Invoice.ID)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
	label := "late edit"
	_, err = s.invoices.AdminEdit(s.as(s.admin), created.Invoice.ID, invoice.EditInput{CustomerLabel: &label})
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
}
