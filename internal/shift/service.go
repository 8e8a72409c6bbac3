package shift

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lubepos/lubepos/internal/fund"
	"github.com/lubepos/lubepos/internal/invoice"
	"github.com/lubepos/lubepos/internal/shared"
	"github.com/lubepos/lubepos/internal/users"
)

// InvoiceReader lists invoices.
type InvoiceReader interface {
	ListInvoices(ctx context.Context, filter invoice.ListFilter) ([]invoice.Invoice, error)
}

// LedgerReader reads users and transfers.
type LedgerReader interface {
	GetUser(ctx context.Context, id int64) (users.User, error)
	ListTransfers(ctx context.Context, filter fund.HistoryFilter) ([]fund.Transfer, error)
}

// ArchivePort persists the rendered report.
type ArchivePort interface {
	Write(ctx context.Context, category, name string, write func(io.Writer) error) (string, error)
}

// PDFRenderer converts the HTML report to PDF.
type PDFRenderer interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// Service closes shifts.
type Service struct {
	invoices InvoiceReader
	ledger   LedgerReader
	authz    shared.Authorizer
	audit    shared.AuditPort
	archive  ArchivePort
	pdf      PDFRenderer
	logger   *slog.Logger
	locale   string
	loc      *time.Location
	now      func() time.Time
}

// NewService builds Service. archive may be nil to skip the HTML report.
func NewService(invoices InvoiceReader, ledger LedgerReader, authz shared.Authorizer, audit shared.AuditPort, archive ArchivePort, locale string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		invoices: invoices,
		ledger:   ledger,
		authz:    authz,
		audit:    audit,
		archive:  archive,
		logger:   logger,
		locale:   locale,
		loc:      time.Local,
		now:      time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithPDF archives a PDF copy of every report next to the HTML one.
func (s *Service) WithPDF(r PDFRenderer) {
	s.pdf = r
}

// WithLocation sets the time zone used for day boundaries and the report.
func (s *Service) WithLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

// Close summarises the user's shift and archives its report.
func (s *Service) Close(ctx context.Context, input CloseInput) (Summary, error) {
	actor, err := shared.Authorize(ctx, s.authz, shared.CmdShiftClose)
	if err != nil {
		return Summary{}, err
	}
	requested := input.UserID
	if requested == 0 {
		requested = actor.UserID
	}
	userID, err := shared.ScopeUser(ctx, s.authz, requested)
	if err != nil {
		return Summary{}, err
	}
	now := s.now()
	from, to := input.From, input.To
	if to.IsZero() {
		to = now
	}
	if from.IsZero() {
		local := to.In(s.loc)
		from = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	}
	if from.After(to) {
		return Summary{}, fmt.Errorf("%w: shift starts after it ends", shared.ErrInvalidAmount)
	}

	user, err := s.ledger.GetUser(ctx, userID)
	if err != nil {
		return Summary{}, users.LookupError(err, userID)
	}
	invoices, err := s.invoices.ListInvoices(ctx, invoice.ListFilter{UserID: userID, From: from, To: to})
	if err != nil {
		return Summary{}, err
	}
	transfers, err := s.ledger.ListTransfers(ctx, fund.HistoryFilter{UserID: userID, From: from, To: to})
	if err != nil {
		return Summary{}, err
	}

	summary := Summarize(user, from, to, invoices, transfers)
	if s.archive != nil {
		s.archiveReport(ctx, &summary)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.UserID,
			Action:   "shift:close",
			Entity:   "user",
			EntityID: strconv.FormatInt(userID, 10),
			Meta: map[string]any{
				"from":     from,
				"to":       to,
				"invoices": len(summary.Invoices),
				"gross":    summary.GrossTotal.StringFixed(2),
			},
			At: now,
		})
	}
	return summary, nil
}

func (s *Service) archiveReport(ctx context.Context, summary *Summary) {
	base := fmt.Sprintf("shift_%d_%s", summary.UserID, summary.To.UTC().Format("20060102T150405"))
	var buf bytes.Buffer
	if err := RenderHTML(&buf, *summary, s.locale, s.loc); err != nil {
		s.logger.Warn("render shift report", slog.Any("error", err), slog.Int64("user_id", summary.UserID))
		return
	}
	path, err := s.archive.Write(ctx, "shifts", base+".html", writeBytes(buf.Bytes()))
	if err != nil {
		s.logger.Warn("write shift report", slog.Any("error", err), slog.Int64("user_id", summary.UserID))
		return
	}
	summary.ReportPath = path
	if s.pdf == nil {
		return
	}
	pdf, err := s.pdf.RenderHTML(ctx, buf.String())
	if err != nil {
		s.logger.Warn("convert shift report", slog.Any("error", err), slog.Int64("user_id", summary.UserID))
		return
	}
	if path, err = s.archive.Write(ctx, "shifts", base+".pdf", writeBytes(pdf)); err != nil {
		s.logger.Warn("write shift pdf", slog.Any("error", err), slog.Int64("user_id", summary.UserID))
		return
	}
	summary.PDFPath = path
}

func writeBytes(b []byte) func(io.Writer) error {
	return func(w io.Writer) error {
		_, err := w.Write(b)
		return err
	}
}

// Summarize totals invoices and transfers for user. Invoices are listed oldest first.
func Summarize(user users.User, from, to time.Time, invoices []invoice.Invoice, transfers []fund.Transfer) Summary {
	out := Summary{
		UserID:        user.ID,
		UserName:      user.Name,
		From:          from,
		To:            to,
		Invoices:      make([]InvoiceRow, 0, len(invoices)),
		IssuedTotal:   decimal.Zero,
		DeferredTotal: decimal.Zero,
		DiscountTotal: decimal.Zero,
		GrossTotal:    decimal.Zero,
		TransfersIn:   decimal.Zero,
		TransfersOut:  decimal.Zero,
		Balance:       user.Balance,
	}
	for i := len(invoices) - 1; i >= 0; i-- {
		inv := invoices[i]
		deferred := invoice.DeferredTotal(inv.Lines)
		issued := invoice.LinesTotal(inv.Lines).Sub(deferred)
		out.Invoices = append(out.Invoices, InvoiceRow{
			ID:            inv.ID,
			CreatedAt:     inv.CreatedAt,
			CustomerLabel: inv.CustomerLabel,
			Status:        string(inv.Status),
			Issued:        issued,
			Deferred:      deferred,
			GrossTotal:    inv.GrossTotal,
		})
		out.IssuedTotal = out.IssuedTotal.Add(issued)
		out.DeferredTotal = out.DeferredTotal.Add(deferred)
		out.DiscountTotal = out.DiscountTotal.Add(inv.Discount)
		out.GrossTotal = out.GrossTotal.Add(inv.GrossTotal)
	}
	for _, t := range transfers {
		if t.FromUserID == user.ID {
			out.TransfersOut = out.TransfersOut.Add(t.Amount)
		}
		if t.ToUserID != nil && *t.ToUserID == user.ID {
			out.TransfersIn = out.TransfersIn.Add(t.Amount)
		}
	}
	return out
}
