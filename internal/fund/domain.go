package fund

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lubepos/lubepos/internal/shared"
)

// Transfer moves money between user balances. A nil ToUserID is money leaving the shop.
type Transfer struct {
	ID         int64           `json:"id"`
	FromUserID int64           `json:"from_user_id"`
	ToUserID   *int64          `json:"to_user_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	InvoiceID  *int64          `json:"invoice_id,omitempty"`
	Note       string          `json:"note,omitempty"`
	CreatedBy  int64           `json:"created_by"`
	CreatedAt  time.Time       `json:"created_at"`
}

// TransferInput requests a transfer.
type TransferInput struct {
	From      int64           `json:"from" validate:"required"`
	To        *int64          `json:"to,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	InvoiceID *int64          `json:"invoice_id,omitempty"`
	Note      string          `json:"note" validate:"max=500"`
}

// PayoutInput requests money leaving the shop.
type PayoutInput struct {
	From   int64           `json:"from" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note" validate:"max=500"`
}

// RemitInput sends cash to the default recipient.
type RemitInput struct {
	From      int64           `json:"from" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
	InvoiceID *int64          `json:"invoice_id,omitempty"`
	Note      string          `json:"note" validate:"max=500"`
}

// TransferResult is returned by transfer commands.
type TransferResult struct {
	Transfer Transfer         `json:"transfer"`
	Changed  shared.ChangeSet `json:"changed"`
}

// Balance is a user's current balance.
type Balance struct {
	UserID  int64           `json:"user_id"`
	Name    string          `json:"name"`
	Role    shared.Role     `json:"role"`
	Balance decimal.Decimal `json:"balance"`
}

// HistoryFilter narrows transfer listings. UserID matches either side.
type HistoryFilter struct {
	UserID    int64
	InvoiceID int64
	From      time.Time
	To        time.Time
	Limit     int
}
