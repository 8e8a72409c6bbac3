package inventory_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lubepos/lubepos/internal/archive"
	"github.com/lubepos/lubepos/internal/catalog"
	"github.com/lubepos/lubepos/internal/inventory"
	"github.com/lubepos/lubepos/internal/shared"
	"github.com/lubepos/lubepos/internal/store/memory"
)

var testNow = time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func staffContext() context.Context {
	return shared.ContextWithActor(context.Background(), shared.Actor{UserID: 7, Name: "rina", Role: shared.RoleStaff})
}

type fixture struct {
	store   *memory.Store
	catalog *catalog.Service
	svc     *inventory.Service
	oil     int64
	filter  int64
}

func newFixture(t *testing.T, arch inventory.ArchivePort) fixture {
	t.Helper()
	store := memory.New()
	cat := catalog.NewService(store.Catalog(), nil, nil)
	ctx := staffContext()
	oil, err := cat.AddProduct(ctx, catalog.ProductInput{
		Name: "Motul 5100 1L", RetailPrice: dec("95000"), WholesalePrice: dec("90000"), VIPPrice: dec("88000"), WholesaleThreshold: dec("6"),
	})
	require.NoError(t, err)
	filter, err := cat.AddProduct(ctx, catalog.ProductInput{
		Name: "Oil filter C-415", RetailPrice: dec("35000"), WholesalePrice: dec("30000"), VIPPrice: dec("29000"), WholesaleThreshold: dec("10"),
	})
	require.NoError(t, err)
	svc := inventory.NewService(store.Inventory(), nil, nil, arch, nil)
	svc.WithNow(func() time.Time { return testNow })
	return fixture{store: store, catalog: cat, svc: svc, oil: oil.Product.ID, filter: filter.Product.ID}
}

func TestReceiveAddsToShelf(t *testing.T) {
	f := newFixture(t, nil)
	ctx := staffContext()

	res, err := f.svc.Receive(ctx, inventory.ReceiveInput{ProductID: f.oil, Quantity: dec("24")})
	require.NoError(t, err)
	require.Equal(t, inventory.ActionRecount, res.Movement.Action)
	require.Equal(t, "stock receipt", res.Movement.Reason)
	require.True(t, res.Movement.OnHandBefore.IsZero())
	require.True(t, res.Movement.OnHandAfter.Equal(dec("24")))

	_, err = f.svc.Receive(ctx, inventory.ReceiveInput{ProductID: f.oil, Quantity: dec("6"), Reason: "supplier drop"})
	require.NoError(t, err)

	onHand, err := f.svc.OnHand(ctx, f.oil)
	require.NoError(t, err)
	require.True(t, onHand.Equal(dec("30")))

	_, err = f.svc.Receive(ctx, inventory.ReceiveInput{ProductID: f.oil, Quantity: dec("0")})
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)

	_, err = f.svc.Receive(ctx, inventory.ReceiveInput{ProductID: 404, Quantity: dec("1")})
	require.ErrorIs(t, err, shared.ErrInvalidProduct)
}

func TestRecountRequiresReasonForEveryDifference(t *testing.T) {
	f := newFixture(t, nil)
	ctx := staffContext()
	_, err := f.svc.Receive(ctx, inventory.ReceiveInput{ProductID: f.oil, Quantity: dec("10")})
	require.NoError(t, err)
	_, err = f.svc.Receive(ctx, inventory.ReceiveInput{ProductID: f.filter, Quantity: dec("5")})
	require.NoError(t, err)

	_, err = f.svc.Recount(ctx, []inventory.RecountEntry{
		{ProductID: f.oil, Counted: dec("8")},
		{ProductID: f.filter, Counted: dec("4"), Reason: "damaged"},
	})
	require.ErrorIs(t, err, shared.ErrMissingReason)
	var missing *inventory.MissingReasonError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, []int64{f.oil}, missing.ProductIDs)

	// Nothing was written.
	onHand, err := f.svc.OnHand(ctx, f.filter)
	require.NoError(t, err)
	require.True(t, onHand.Equal(dec("5")))
}

func TestRecountSetsCountedValues(t *testing.T) {
	f := newFixture(t, nil)
	ctx := staffContext()
	_, err := f.svc.Receive(ctx, inventory.ReceiveInput{ProductID: f.oil, Quantity: dec("10")})
	require.NoError(t, err)

	res, err := f.svc.Recount(ctx, []inventory.RecountEntry{
		{ProductID: f.oil, Counted: dec("7"), Reason: "  leak  "},
		{ProductID: f.filter, Counted: dec("0")},
	})
	require.NoError(t, err)
	require.Len(t, res.Lines, 2)
	require.Len(t, res.Movements, 1)
	require.True(t, res.Movements[0].Quantity.Equal(dec("-3")))
	require.Equal(t, "leak", res.Movements[0].Reason)
	require.True(t, res.Changed.Has(shared.CollectionMovements))

	onHand, err := f.svc.OnHand(ctx, f.oil)
	require.NoError(t, err)
	require.True(t, onHand.Equal(dec("7")))

	unchanged, err := f.svc.Recount(ctx, []inventory.RecountEntry{{ProductID: f.oil, Counted: dec("7")}})
	require.NoError(t, err)
	require.Empty(t, unchanged.Movements)
	require.Empty(t, unchanged.Changed)
}

func TestRecountRejectsBadEntries(t *testing.T) {
	f := newFixture(t, nil)
	ctx := staffContext()

	_, err := f.svc.Recount(ctx, []inventory.RecountEntry{{ProductID: f.oil, Counted: dec("-1"), Reason: "x"}})
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)

	_, err = f.svc.Recount(ctx, []inventory.RecountEntry{
		{ProductID: f.oil, Counted: dec("1"), Reason: "x"},
		{ProductID: f.oil, Counted: dec("2"), Reason: "y"},
	})
	require.ErrorIs(t, err, shared.ErrInvalidProduct)
}

func TestRecountWritesSnapshot(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, archive.New(dir, 0, nil))
	ctx := staffContext()

	res, err := f.svc.Recount(ctx, []inventory.RecountEntry{{ProductID: f.filter, Counted: dec("12"), Reason: "opening count"}})
	require.NoError(t, err)
	require.NotEmpty(t, res.SnapshotPath)
	require.True(t, strings.HasPrefix(res.SnapshotPath, dir))

	raw, err := os.ReadFile(res.SnapshotPath)
	require.NoError(t, err)
	body := string(raw)
	require.Contains(t, body, "user_id,product_id,product,counted,system,difference,reason,timestamp")
	require.Contains(t, body, "7,2,Oil filter C-415,12,0,12,opening count,2024-05-02T08:30:00Z")
}

type failingArchive struct{}

func (failingArchive) Write(context.Context, string, string, func(io.Writer) error) (string, error) {
	return "", errors.New("disk full")
}

func TestRecountSnapshotFailureDoesNotFailRecount(t *testing.T) {
	f := newFixture(t, failingArchive{})
	res, err := f.svc.Recount(staffContext(), []inventory.RecountEntry{{ProductID: f.oil, Counted: dec("3"), Reason: "found"}})
	require.NoError(t, err)
	require.Empty(t, res.SnapshotPath)
	require.Len(t, res.Movements, 1)
}

func TestApplySaleReportsEveryShortage(t *testing.T) {
	f := newFixture(t, nil)
	ctx := staffContext()
	_, err := f.svc.Receive(ctx, inventory.ReceiveInput{ProductID: f.oil, Quantity: dec("3")})
	require.NoError(t, err)
	_, err = f.svc.Receive(ctx, inventory.ReceiveInput{ProductID: f.filter, Quantity: dec("1")})
	require.NoError(t, err)

	err = f.store.Inventory().WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		_, err := inventory.ApplySale(ctx, tx, 7, testNow, []inventory.Consumption{
			{ProductID: f.oil, Quantity: dec("2")},
			{ProductID: f.filter, Quantity: dec("2")},
			{ProductID: f.oil, Quantity: dec("2")},
		})
		return err
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	var shortage *inventory.StockShortageError
	require.True(t, errors.As(err, &shortage))
	require.Len(t, shortage.Shortages, 2)
	require.Equal(t, f.oil, shortage.Shortages[0].ProductID)
	require.True(t, shortage.Shortages[0].Requested.Equal(dec("4")))
	require.True(t, shortage.Shortages[0].Available.Equal(dec("3")))
	require.Equal(t, f.filter, shortage.Shortages[1].ProductID)
}

func TestApplySaleAndReverse(t *testing.T) {
	f := newFixture(t, nil)
	ctx := staffContext()
	_, err := f.svc.Receive(ctx, inventory.ReceiveInput{ProductID: f.oil, Quantity: dec("5")})
	require.NoError(t, err)

	consumptions := []inventory.Consumption{{
		ProductID: f.oil, Quantity: dec("2"), UnitPrice: dec("95000"), UnionDelta: dec("10000"),
		Tier: catalog.TierRetail, Reference: "invoice_line:1",
	}}
	err = f.store.Inventory().WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		movements, err := inventory.ApplySale(ctx, tx, 7, testNow, consumptions)
		if err != nil {
			return err
		}
		require.Len(t, movements, 1)
		require.True(t, movements[0].OnHandAfter.Equal(dec("3")))
		reversed, err := inventory.ReverseSale(ctx, tx, 7, testNow, consumptions)
		if err != nil {
			return err
		}
		require.True(t, reversed[0].Quantity.Equal(dec("-2")))
		require.True(t, reversed[0].UnionDelta.Equal(dec("-10000")))
		require.True(t, reversed[0].OnHandAfter.Equal(dec("5")))
		return nil
	})
	require.NoError(t, err)

	sales, err := f.svc.Movements(ctx, inventory.MovementFilter{ProductID: f.oil, Action: inventory.ActionSale})
	require.NoError(t, err)
	require.Len(t, sales, 2)
}

func TestApplyExportLogsZeroQuantities(t *testing.T) {
	f := newFixture(t, nil)
	ctx := staffContext()
	err := f.store.Inventory().WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		movements, err := inventory.ApplyExport(ctx, tx, 7, testNow, []inventory.Consumption{{ProductID: f.filter, Quantity: decimal.Zero}})
		if err != nil {
			return err
		}
		require.Len(t, movements, 1)
		require.Equal(t, inventory.ActionSupplementaryExport, movements[0].Action)
		return nil
	})
	require.NoError(t, err)
}

func TestWriteRecountCSV(t *testing.T) {
	var buf bytes.Buffer
	err := inventory.WriteRecountCSV(&buf, 3, testNow, []inventory.RecountLine{{
		ProductID: 9, ProductName: "Prestone coolant, 1L", Counted: dec("4"), System: dec("6"), Difference: dec("-2"), Reason: "leak",
	}})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, `3,9,"Prestone coolant, 1L",4,6,-2,leak,2024-05-02T08:30:00Z`, lines[1])
}
