package export

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lubepos/lubepos/internal/catalog"
	"github.com/lubepos/lubepos/internal/inventory"
	"github.com/lubepos/lubepos/internal/shared"
)

var planTime = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func productY() catalog.Product {
	return catalog.Product{ID: 2, Name: "Y", RetailPrice: dec("120"), WholesalePrice: dec("90"), VIPPrice: dec("80"), WholesaleThreshold: dec("5"), OnHand: dec("4")}
}

func stateWith(p catalog.Product, sources ...Source) State {
	SortFIFO(sources)
	return State{
		Products:      map[int64]catalog.Product{p.ID: p},
		Sources:       map[int64][]Source{p.ID: sources},
		CurrentPrices: map[PriceKey]decimal.Decimal{},
	}
}

func line(id int64, tier catalog.Tier, qty, price string, since time.Time) Source {
	return Source{Kind: SourceInvoiceLine, ID: id, InvoiceID: id, UserID: 5, ProductID: 2, Tier: tier, Quantity: dec(qty), UnitPrice: dec(price), Since: since}
}

func pool(id int64, tier catalog.Tier, qty, price string, since time.Time) Source {
	return Source{Kind: SourceOpeningPool, ID: id, UserID: 5, ProductID: 2, Tier: tier, Quantity: dec(qty), UnitPrice: dec(price), Since: since}
}

func TestSubstitutionGraph(t *testing.T) {
	require.Equal(t, []catalog.Tier{catalog.TierRetail}, SourceTiers(catalog.TierRetail))
	require.Equal(t, []catalog.Tier{catalog.TierWholesale, catalog.TierRetail}, SourceTiers(catalog.TierWholesale))
	require.Equal(t, []catalog.Tier{catalog.TierVIP, catalog.TierWholesale, catalog.TierRetail}, SourceTiers(catalog.TierVIP))

	tiers := SourceTiers(catalog.TierVIP)
	tiers[0] = catalog.TierRetail
	require.Equal(t, catalog.TierVIP, SourceTiers(catalog.TierVIP)[0])
}

func TestBorrowFromRetailForWholesale(t *testing.T) {
	state := stateWith(productY(), line(1, catalog.TierRetail, "10", "120", planTime.Add(-time.Hour)))
	input := PlanInput{Requests: []Request{{ProductID: 2, Quantity: dec("8"), Tier: catalog.TierWholesale}}}

	plan, err := BuildPlan(input, state, 9, planTime)
	require.NoError(t, err)
	require.True(t, plan.NeedsBorrow)
	require.False(t, plan.NeedsOverdraw)
	require.False(t, plan.Authorized(input))
	input.AllowBorrow = true
	require.True(t, plan.Authorized(input))

	require.Len(t, plan.Discharges, 1)
	d := plan.Discharges[0]
	require.True(t, d.Borrowed)
	require.True(t, d.Quantity.Equal(dec("8")))

	require.Len(t, plan.UnionDifferences, 1)
	ud := plan.UnionDifferences[0]
	require.Equal(t, catalog.TierRetail, ud.SourceTier)
	require.Equal(t, catalog.TierWholesale, ud.ExportTier)
	require.True(t, ud.SoldUnitPrice.Equal(dec("120")))
	require.True(t, ud.ExportUnitPrice.Equal(dec("90")))
	require.True(t, ud.Amount.Equal(dec("240")))
	require.Equal(t, int64(9), ud.UserID)
	require.True(t, ud.IsCurrentPrice)
	require.True(t, plan.UnionTotal.Equal(dec("240")))
	require.NotEmpty(t, plan.Fingerprint)
	require.NotEmpty(t, plan.Description)
}

func TestPrimaryTierConsumedBeforeBorrowing(t *testing.T) {
	state := stateWith(productY(),
		line(1, catalog.TierRetail, "5", "120", planTime.Add(-3*time.Hour)),
		line(2, catalog.TierWholesale, "4", "90", planTime.Add(-time.Hour)),
	)
	plan, err := BuildPlan(PlanInput{Requests: []Request{{ProductID: 2, Quantity: dec("6"), Tier: catalog.TierWholesale}}}, state, 9, planTime)
	require.NoError(t, err)
	require.Len(t, plan.Discharges, 2)
	require.Equal(t, catalog.TierWholesale, plan.Discharges[0].Source.Tier)
	require.False(t, plan.Discharges[0].Borrowed)
	require.True(t, plan.Discharges[0].Quantity.Equal(dec("4")))
	require.Equal(t, catalog.TierRetail, plan.Discharges[1].Source.Tier)
	require.True(t, plan.Discharges[1].Borrowed)
	require.True(t, plan.Discharges[1].Quantity.Equal(dec("2")))
	require.True(t, plan.Items[0].Borrowed.Equal(dec("2")))
	// Only the borrowed retail units carry a spread.
	require.Len(t, plan.UnionDifferences, 1)
	require.True(t, plan.UnionTotal.Equal(dec("60")))
}

func TestFIFOPoolsBeforeLinesThenByAge(t *testing.T) {
	sources := []Source{
		line(7, catalog.TierRetail, "1", "120", planTime.Add(-48*time.Hour)),
		pool(3, catalog.TierRetail, "1", "110", planTime.Add(-time.Hour)),
		line(4, catalog.TierRetail, "1", "120", planTime.Add(-72*time.Hour)),
		pool(2, catalog.TierRetail, "1", "110", planTime.Add(-time.Hour)),
	}
	SortFIFO(sources)
	keys := make([]string, len(sources))
	for i, s := range sources {
		keys[i] = s.Key()
	}
	require.Equal(t, []string{"opening_pool:2", "opening_pool:3", "invoice_line:4", "invoice_line:7"}, keys)
}

func TestUnionAggregatesBySoldPrice(t *testing.T) {
	p := productY()
	state := stateWith(p,
		pool(1, catalog.TierRetail, "2", "110", planTime.Add(-time.Hour)),
		line(2, catalog.TierRetail, "2", "120", planTime.Add(-time.Hour)),
		line(3, catalog.TierRetail, "2", "120", planTime),
	)
	state.CurrentPrices[PriceKey{ProductID: 2, Tier: catalog.TierRetail}] = dec("120")
	plan, err := BuildPlan(PlanInput{
		Requests:    []Request{{ProductID: 2, Quantity: dec("6"), Tier: catalog.TierVIP}},
		AllowBorrow: true,
	}, state, 9, planTime)
	require.NoError(t, err)
	require.Len(t, plan.Discharges, 3)
	require.Len(t, plan.UnionDifferences, 2)

	stale, current := plan.UnionDifferences[0], plan.UnionDifferences[1]
	require.True(t, stale.SoldUnitPrice.Equal(dec("110")))
	require.False(t, stale.IsCurrentPrice)
	require.True(t, stale.Amount.Equal(dec("60")))
	require.True(t, current.Quantity.Equal(dec("4")))
	require.True(t, current.IsCurrentPrice)
	require.True(t, current.Amount.Equal(dec("160")))
	require.True(t, plan.UnionTotal.Equal(dec("220")))
}

func TestZeroAmountGroupsAreDropped(t *testing.T) {
	state := stateWith(productY(), line(1, catalog.TierRetail, "3", "120", planTime))
	plan, err := BuildPlan(PlanInput{Requests: []Request{{ProductID: 2, Quantity: dec("3"), Tier: catalog.TierRetail}}}, state, 9, planTime)
	require.NoError(t, err)
	require.Len(t, plan.Discharges, 1)
	require.Empty(t, plan.UnionDifferences)
	require.True(t, plan.UnionTotal.IsZero())
}

func TestSYSCeiling(t *testing.T) {
	z := catalog.Product{ID: 2, Name: "Z", RetailPrice: dec("60"), WholesalePrice: dec("50"), VIPPrice: dec("40"), WholesaleThreshold: dec("3"), OnHand: dec("5")}
	state := stateWith(z, line(1, catalog.TierRetail, "2", "60", planTime))
	require.True(t, state.Deferred(2).Equal(dec("2")))

	_, err := BuildPlan(PlanInput{Requests: []Request{
		{ProductID: 2, Quantity: dec("4"), Tier: catalog.TierRetail},
		{ProductID: 2, Quantity: dec("4"), Tier: catalog.TierRetail},
	}}, state, 9, planTime)
	require.ErrorIs(t, err, shared.ErrExceedsSYS)
	var sys *SYSExceededError
	require.True(t, errors.As(err, &sys))
	require.True(t, sys.Items[0].SYS.Equal(dec("7")))
	require.True(t, sys.Items[0].Requested.Equal(dec("8")))
}

func TestOverdrawComesOffTheShelf(t *testing.T) {
	z := catalog.Product{ID: 2, Name: "Z", RetailPrice: dec("60"), WholesalePrice: dec("50"), VIPPrice: dec("40"), WholesaleThreshold: dec("3"), OnHand: dec("5")}
	state := stateWith(z, line(1, catalog.TierRetail, "2", "60", planTime))

	plan, err := BuildPlan(PlanInput{Requests: []Request{{ProductID: 2, Quantity: dec("5"), Tier: catalog.TierRetail}}}, state, 9, planTime)
	require.NoError(t, err)
	require.True(t, plan.NeedsOverdraw)
	require.Len(t, plan.Overdraws, 1)
	require.True(t, plan.Overdraws[0].Quantity.Equal(dec("3")))

	z.OnHand = dec("1")
	state = stateWith(z, line(1, catalog.TierRetail, "6", "60", planTime))
	_, err = BuildPlan(PlanInput{Requests: []Request{{ProductID: 2, Quantity: dec("7"), Tier: catalog.TierVIP}}}, state, 9, planTime)
	require.NoError(t, err)

	// SYS allows it, but retail cannot draw from VIP supply and the shelf
	// cannot cover the overdraw.
	state = stateWith(z, pool(1, catalog.TierVIP, "6", "40", planTime))
	_, err = BuildPlan(PlanInput{Requests: []Request{{ProductID: 2, Quantity: dec("7"), Tier: catalog.TierRetail}}}, state, 9, planTime)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	var shortage *inventory.StockShortageError
	require.True(t, errors.As(err, &shortage))
	require.True(t, shortage.Shortages[0].Requested.Equal(dec("7")))
}

func TestWholesaleThreshold(t *testing.T) {
	state := stateWith(productY(), line(1, catalog.TierWholesale, "10", "90", planTime))
	_, err := BuildPlan(PlanInput{Requests: []Request{{ProductID: 2, Quantity: dec("4"), Tier: catalog.TierWholesale}}}, state, 9, planTime)
	require.ErrorIs(t, err, shared.ErrBelowWholesaleThreshold)

	// Zero-quantity requests are accepted and do nothing.
	plan, err := BuildPlan(PlanInput{Requests: []Request{{ProductID: 2, Quantity: decimal.Zero, Tier: catalog.TierWholesale}}}, state, 9, planTime)
	require.NoError(t, err)
	require.Empty(t, plan.Discharges)
	require.Empty(t, plan.Overdraws)
}

func TestRequestValidation(t *testing.T) {
	state := stateWith(productY())
	_, err := BuildPlan(PlanInput{}, state, 9, planTime)
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)

	_, err = BuildPlan(PlanInput{Requests: []Request{{ProductID: 2, Quantity: dec("1"), Tier: "gold"}}}, state, 9, planTime)
	require.ErrorIs(t, err, shared.ErrInvalidTier)

	_, err = BuildPlan(PlanInput{Requests: []Request{{ProductID: 2, Quantity: dec("-1"), Tier: catalog.TierRetail}}}, state, 9, planTime)
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)

	_, err = BuildPlan(PlanInput{Requests: []Request{{ProductID: 44, Quantity: dec("1"), Tier: catalog.TierRetail}}}, state, 9, planTime)
	require.ErrorIs(t, err, shared.ErrInvalidProduct)
}

func TestFingerprintTracksPlanShape(t *testing.T) {
	input := PlanInput{Requests: []Request{{ProductID: 2, Quantity: dec("2"), Tier: catalog.TierRetail}}}
	a, err := BuildPlan(input, stateWith(productY(), line(1, catalog.TierRetail, "3", "120", planTime)), 9, planTime)
	require.NoError(t, err)
	b, err := BuildPlan(input, stateWith(productY(), line(1, catalog.TierRetail, "3", "120", planTime)), 9, planTime.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, a.Fingerprint, b.Fingerprint)

	c, err := BuildPlan(input, stateWith(productY(), line(1, catalog.TierRetail, "3", "115", planTime)), 9, planTime)
	require.NoError(t, err)
	require.NotEqual(t, a.Fingerprint, c.Fingerprint)
}
