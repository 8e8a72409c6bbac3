package fund

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lubepos/lubepos/internal/shared"
	"github.com/lubepos/lubepos/internal/users"
)

// BalanceTx is the slice of a transaction other modules need to move balances.
type BalanceTx interface {
	GetUserForUpdate(ctx context.Context, id int64) (users.User, error)
	AdjustBalance(ctx context.Context, userID int64, delta decimal.Decimal) error
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	BalanceTx
	InsertTransfer(ctx context.Context, t Transfer) (int64, error)
	FirstUserWithRole(ctx context.Context, role shared.Role) (users.User, error)
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetUser(ctx context.Context, id int64) (users.User, error)
	ListUsers(ctx context.Context) ([]users.User, error)
	ListTransfers(ctx context.Context, filter HistoryFilter) ([]Transfer, error)
	SumTransfersForInvoice(ctx context.Context, invoiceID int64) (decimal.Decimal, error)
}

// Service coordinates fund movements.
type Service struct {
	repo  RepositoryPort
	authz shared.Authorizer
	audit shared.AuditPort
	now   func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, authz shared.Authorizer, audit shared.AuditPort) *Service {
	return &Service{repo: repo, authz: authz, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Transfer moves amount from one user to another. A transfer to oneself is only
// allowed as an invoice annotation.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (TransferResult, error) {
	actor, err := shared.Authorize(ctx, s.authz, shared.CmdFundTransfer)
	if err != nil {
		return TransferResult{}, err
	}
	if input.To == nil {
		return TransferResult{}, fmt.Errorf("%w: recipient required, use payout for money leaving the shop", shared.ErrInvalidUser)
	}
	return s.transfer(ctx, actor, input, "fund:transfer")
}

// PayoutOut records money leaving the shop from a user's balance.
func (s *Service) PayoutOut(ctx context.Context, input PayoutInput) (TransferResult, error) {
	actor, err := shared.Authorize(ctx, s.authz, shared.CmdFundPayout)
	if err != nil {
		return TransferResult{}, err
	}
	return s.transfer(ctx, actor, TransferInput{From: input.From, Amount: input.Amount, Note: input.Note}, "fund:payout")
}

// Remit sends cash to the default recipient, the first accountant.
func (s *Service) Remit(ctx context.Context, input RemitInput) (TransferResult, error) {
	actor, err := shared.Authorize(ctx, s.authz, shared.CmdFundTransfer)
	if err != nil {
		return TransferResult{}, err
	}
	var recipient users.User
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		recipient, err = tx.FirstUserWithRole(ctx, shared.RoleAccountant)
		if errors.Is(err, shared.ErrNotFound) {
			return fmt.Errorf("%w: no accountant to receive remittance", shared.ErrInvalidUser)
		}
		return err
	})
	if err != nil {
		return TransferResult{}, err
	}
	to := recipient.ID
	return s.transfer(ctx, actor, TransferInput{
		From:      input.From,
		To:        &to,
		Amount:    input.Amount,
		InvoiceID: input.InvoiceID,
		Note:      input.Note,
	}, "fund:remit")
}

func (s *Service) transfer(ctx context.Context, actor shared.Actor, input TransferInput, action string) (TransferResult, error) {
	input.Note = strings.TrimSpace(input.Note)
	if err := shared.ValidateStruct(input, shared.ErrInvalidUser); err != nil {
		return TransferResult{}, err
	}
	if !input.Amount.IsPositive() {
		return TransferResult{}, fmt.Errorf("%w: amount must be > 0", shared.ErrInvalidAmount)
	}
	if input.To != nil && *input.To == input.From && input.InvoiceID == nil {
		return TransferResult{}, fmt.Errorf("%w: user %d", shared.ErrSameParty, input.From)
	}
	now := s.now().UTC()
	t := Transfer{
		FromUserID: input.From,
		ToUserID:   input.To,
		Amount:     input.Amount,
		InvoiceID:  input.InvoiceID,
		Note:       input.Note,
		CreatedBy:  actor.UserID,
		CreatedAt:  now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ids := []int64{input.From}
		if input.To != nil && *input.To != input.From {
			ids = append(ids, *input.To)
			if *input.To < input.From {
				ids[0], ids[1] = ids[1], ids[0]
			}
		}
		locked := make(map[int64]users.User, len(ids))
		for _, id := range ids {
			u, err := tx.GetUserForUpdate(ctx, id)
			if err != nil {
				return users.LookupError(err, id)
			}
			locked[id] = u
		}
		from := locked[input.From]
		if from.Balance.LessThan(input.Amount) {
			return fmt.Errorf("%w: user %d holds %s, transfer needs %s", shared.ErrInsufficientBalance, from.ID, from.Balance, input.Amount)
		}
		if err := tx.AdjustBalance(ctx, from.ID, input.Amount.Neg()); err != nil {
			return err
		}
		if input.To != nil {
			if err := tx.AdjustBalance(ctx, *input.To, input.Amount); err != nil {
				return err
			}
		}
		id, err := tx.InsertTransfer(ctx, t)
		if err != nil {
			return err
		}
		t.ID = id
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	if s.audit != nil {
		meta := map[string]any{"from": t.FromUserID, "amount": t.Amount.String()}
		if t.ToUserID != nil {
			meta["to"] = *t.ToUserID
		}
		if t.InvoiceID != nil {
			meta["invoice_id"] = *t.InvoiceID
		}
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.UserID,
			Action:   action,
			Entity:   "fund_transfer",
			EntityID: strconv.FormatInt(t.ID, 10),
			Meta:     meta,
			At:       now,
		})
	}
	return TransferResult{Transfer: t, Changed: shared.Changes(shared.CollectionBalances, shared.CollectionTransfers)}, nil
}

// BalanceOf returns a user's balance. Restricted roles may only read their own.
func (s *Service) BalanceOf(ctx context.Context, userID int64) (Balance, error) {
	if _, err := shared.Authorize(ctx, s.authz, shared.CmdFundView); err != nil {
		return Balance{}, err
	}
	scoped, err := shared.ScopeUser(ctx, s.authz, userID)
	if err != nil {
		return Balance{}, err
	}
	u, err := s.repo.GetUser(ctx, scoped)
	if err != nil {
		return Balance{}, users.LookupError(err, scoped)
	}
	return Balance{UserID: u.ID, Name: u.Name, Role: u.Role, Balance: u.Balance}, nil
}

// Balances lists every user's balance, or only the caller's for restricted roles.
func (s *Service) Balances(ctx context.Context) ([]Balance, error) {
	if _, err := shared.Authorize(ctx, s.authz, shared.CmdFundView); err != nil {
		return nil, err
	}
	scoped, err := shared.ScopeUser(ctx, s.authz, 0)
	if err != nil {
		return nil, err
	}
	all, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Balance, 0, len(all))
	for _, u := range all {
		if scoped != 0 && u.ID != scoped {
			continue
		}
		out = append(out, Balance{UserID: u.ID, Name: u.Name, Role: u.Role, Balance: u.Balance})
	}
	return out, nil
}

// History lists transfers, newest first.
func (s *Service) History(ctx context.Context, filter HistoryFilter) ([]Transfer, error) {
	if _, err := shared.Authorize(ctx, s.authz, shared.CmdFundView); err != nil {
		return nil, err
	}
	scoped, err := shared.ScopeUser(ctx, s.authz, filter.UserID)
	if err != nil {
		return nil, err
	}
	filter.UserID = scoped
	return s.repo.ListTransfers(ctx, filter)
}

// RemittedForInvoice sums transfers annotated with an invoice.
func (s *Service) RemittedForInvoice(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	if _, err := shared.Authorize(ctx, s.authz, shared.CmdFundView); err != nil {
		return decimal.Zero, err
	}
	return s.repo.SumTransfersForInvoice(ctx, invoiceID)
}

// CreditDeferred adds a deferred sale amount to the seller's balance inside the caller's transaction.
func CreditDeferred(ctx context.Context, tx BalanceTx, userID int64, amount decimal.Decimal) error {
	return adjust(ctx, tx, userID, amount)
}

// DebitUnionDifference charges an export's union difference to the acting user.
func DebitUnionDifference(ctx context.Context, tx BalanceTx, userID int64, amount decimal.Decimal) error {
	return adjust(ctx, tx, userID, amount.Neg())
}

func adjust(ctx context.Context, tx BalanceTx, userID int64, delta decimal.Decimal) error {
	if _, err := tx.GetUserForUpdate(ctx, userID); err != nil {
		return users.LookupError(err, userID)
	}
	if delta.IsZero() {
		return nil
	}
	return tx.AdjustBalance(ctx, userID, delta)
}
