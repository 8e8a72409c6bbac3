package shift

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lubepos/lubepos/internal/fund"
	"github.com/lubepos/lubepos/internal/invoice"
	"github.com/lubepos/lubepos/internal/rbac"
	"github.com/lubepos/lubepos/internal/shared"
	"github.com/lubepos/lubepos/internal/users"
)

var closeTime = time.Date(2024, 7, 3, 17, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeBooks struct {
	invoices      []invoice.Invoice
	transfers     []fund.Transfer
	users         map[int64]users.User
	invoiceFilter invoice.ListFilter
}

func (f *fakeBooks) ListInvoices(_ context.Context, filter invoice.ListFilter) ([]invoice.Invoice, error) {
	f.invoiceFilter = filter
	return f.invoices, nil
}

func (f *fakeBooks) GetUser(_ context.Context, id int64) (users.User, error) {
	u, ok := f.users[id]
	if !ok {
		return users.User{}, shared.ErrNotFound
	}
	return u, nil
}

func (f *fakeBooks) ListTransfers(context.Context, fund.HistoryFilter) ([]fund.Transfer, error) {
	return f.transfers, nil
}

type memArchive struct {
	files map[string][]byte
	fail  bool
}

func (a *memArchive) Write(_ context.Context, category, name string, write func(io.Writer) error) (string, error) {
	if a.fail {
		return "", errors.New("read-only file system")
	}
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		return "", err
	}
	path := category + "/" + name
	a.files[path] = buf.Bytes()
	return path, nil
}

type fakePDF struct{ html string }

func (p *fakePDF) RenderHTML(_ context.Context, html string) ([]byte, error) {
	p.html = html
	return []byte("%PDF-1.7"), nil
}

func newBooks() *fakeBooks {
	accountant := int64(3)
	return &fakeBooks{
		users: map[int64]users.User{
			2: {ID: 2, Name: "sari", Role: shared.RoleStaff, Balance: dec("190")},
		},
		// Newest first, as the repository returns them.
		invoices: []invoice.Invoice{
			{ID: 12, UserID: 2, CustomerLabel: "<b>Bengkel Jaya</b>", CreatedAt: closeTime.Add(-time.Hour), Status: invoice.StatusPartiallyDeferred,
				GrossTotal: dec("290"), Discount: dec("10"), Lines: []invoice.Line{
					{ID: 21, Quantity: dec("1"), UnitPrice: dec("100"), IsIssued: true},
					{ID: 22, Quantity: dec("2"), UnitPrice: dec("100"), IsIssued: false},
				}},
			{ID: 11, UserID: 2, CustomerLabel: "walk-in", CreatedAt: closeTime.Add(-5 * time.Hour), Status: invoice.StatusFullyIssued,
				GrossTotal: dec("80"), Discount: decimal.Zero, Lines: []invoice.Line{
					{ID: 20, Quantity: dec("1"), UnitPrice: dec("80"), IsIssued: true},
				}},
		},
		transfers: []fund.Transfer{
			{ID: 5, FromUserID: 2, ToUserID: &accountant, Amount: dec("100")},
			{ID: 4, FromUserID: 3, ToUserID: ptr(int64(2)), Amount: dec("20")},
		},
	}
}

func ptr[T any](v T) *T { return &v }

func staff() context.Context {
	return shared.ContextWithActor(context.Background(), shared.Actor{UserID: 2, Name: "sari", Role: shared.RoleStaff})
}

func newShift(books *fakeBooks, archive ArchivePort) *Service {
	svc := NewService(books, books, rbac.MustDefaultPolicy(), nil, archive, "en", nil)
	svc.WithNow(func() time.Time { return closeTime })
	svc.WithLocation(time.UTC)
	return svc
}

func TestSummarize(t *testing.T) {
	books := newBooks()
	s := Summarize(books.users[2], closeTime.Add(-8*time.Hour), closeTime, books.invoices, books.transfers)

	require.Len(t, s.Invoices, 2)
	require.Equal(t, int64(11), s.Invoices[0].ID)
	require.True(t, s.Invoices[1].Issued.Equal(dec("100")))
	require.True(t, s.Invoices[1].Deferred.Equal(dec("200")))
	require.True(t, s.IssuedTotal.Equal(dec("180")))
	require.True(t, s.DeferredTotal.Equal(dec("200")))
	require.True(t, s.DiscountTotal.Equal(dec("10")))
	require.True(t, s.GrossTotal.Equal(dec("370")))
	require.True(t, s.TransfersOut.Equal(dec("100")))
	require.True(t, s.TransfersIn.Equal(dec("20")))
	require.True(t, s.Balance.Equal(dec("190")))
}

func TestCloseDefaultsToToday(t *testing.T) {
	books := newBooks()
	svc := newShift(books, nil)

	s, err := svc.Close(staff(), CloseInput{})
	require.NoError(t, err)
	require.Equal(t, int64(2), s.UserID)
	require.Equal(t, time.Date(2024, 7, 3, 0, 0, 0, 0, time.UTC), s.From)
	require.Equal(t, closeTime, s.To)
	require.Equal(t, int64(2), books.invoiceFilter.UserID)
	require.Empty(t, s.ReportPath)
}

func TestCloseGuards(t *testing.T) {
	svc := newShift(newBooks(), nil)

	_, err := svc.Close(staff(), CloseInput{UserID: 3})
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	_, err = svc.Close(staff(), CloseInput{From: closeTime, To: closeTime.Add(-time.Minute)})
	require.ErrorIs(t, err, shared.ErrInvalidAmount)

	admin := shared.ContextWithActor(context.Background(), shared.Actor{UserID: 1, Role: shared.RoleAdmin})
	_, err = svc.Close(admin, CloseInput{UserID: 42})
	require.ErrorIs(t, err, shared.ErrInvalidUser)
}

func TestCloseArchivesReport(t *testing.T) {
	archive := &memArchive{files: map[string][]byte{}}
	pdf := &fakePDF{}
	svc := newShift(newBooks(), archive)
	svc.WithPDF(pdf)

	s, err := svc.Close(staff(), CloseInput{})
	require.NoError(t, err)
	require.Equal(t, "shifts/shift_2_20240703T170000.html", s.ReportPath)
	require.Equal(t, "shifts/shift_2_20240703T170000.pdf", s.PDFPath)

	html := string(archive.files[s.ReportPath])
	require.Contains(t, html, "Shift close: sari")
	require.Contains(t, html, "&lt;b&gt;Bengkel Jaya&lt;/b&gt;")
	require.Contains(t, html, "290.00")
	require.Equal(t, html, pdf.html)
	require.Equal(t, []byte("%PDF-1.7"), archive.files[s.PDFPath])
}

func TestCloseSurvivesArchiveFailure(t *testing.T) {
	svc := newShift(newBooks(), &memArchive{fail: true})
	s, err := svc.Close(staff(), CloseInput{})
	require.NoError(t, err)
	require.Empty(t, s.ReportPath)
	require.Len(t, s.Invoices, 2)
}

func TestRenderHTMLFallsBackOnBadLocale(t *testing.T) {
	var buf bytes.Buffer
	err := RenderHTML(&buf, Summary{UserName: "budi", From: closeTime, To: closeTime}, "not a locale!", nil)
	require.NoError(t, err)
	require.True(t, strings.Contains(buf.String(), `lang="id"`))
	require.Contains(t, buf.String(), "No invoices")
}
