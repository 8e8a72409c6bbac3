// Package shift closes a user's shift: it totals the user's invoices and transfers
// over the shift window and archives a printable report.
package shift

import (
	"time"

	"github.com/shopspring/decimal"
)

// CloseInput selects the shift to close. Zero bounds default to the start of
// the current day and now.
type CloseInput struct {
	UserID int64     `json:"user_id"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
}

// InvoiceRow is one invoice in the shift report.
type InvoiceRow struct {
	ID            int64           `json:"id"`
	CreatedAt     time.Time       `json:"created_at"`
	CustomerLabel string          `json:"customer_label"`
	Status        string          `json:"status"`
	Issued        decimal.Decimal `json:"issued"`
	Deferred      decimal.Decimal `json:"deferred"`
	GrossTotal    decimal.Decimal `json:"gross_total"`
}

// Summary is the closed shift.
type Summary struct {
	UserID        int64           `json:"user_id"`
	UserName      string          `json:"user_name"`
	From          time.Time       `json:"from"`
	To            time.Time       `json:"to"`
	Invoices      []InvoiceRow    `json:"invoices"`
	IssuedTotal   decimal.Decimal `json:"issued_total"`
	DeferredTotal decimal.Decimal `json:"deferred_total"`
	DiscountTotal decimal.Decimal `json:"discount_total"`
	GrossTotal    decimal.Decimal `json:"gross_total"`
	TransfersIn   decimal.Decimal `json:"transfers_in"`
	TransfersOut  decimal.Decimal `json:"transfers_out"`
	Balance       decimal.Decimal `json:"balance"`
	ReportPath    string          `json:"report_path,omitempty"`
	PDFPath       string          `json:"pdf_path,omitempty"`
}
