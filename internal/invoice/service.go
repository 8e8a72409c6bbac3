package invoice

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lubepos/lubepos/internal/catalog"
	"github.com/lubepos/lubepos/internal/fund"
	"github.com/lubepos/lubepos/internal/inventory"
	"github.com/lubepos/lubepos/internal/shared"
)

// TxRepository exposes transactional invoice operations. It embeds the ledger
// and balance slices so creation posts stock and credit in the same transaction.
type TxRepository interface {
	inventory.TxRepository
	fund.BalanceTx
	InsertInvoice(ctx context.Context, inv Invoice) (int64, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	UpdateLine(ctx context.Context, line Line) error
	GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error)
	UpdateInvoice(ctx context.Context, inv Invoice) error
	DeleteInvoice(ctx context.Context, id int64) error
	MovementsByReference(ctx context.Context, refs []string) ([]inventory.StockMovement, error)
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, error)
}

// Service coordinates invoice operations.
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

// Create turns a basket into an invoice, takes the goods off the shelf and
// credits deferred line totals to the seller's balance. Nothing is written when
// any product is short.
func (s *Service) Create(ctx context.Context, input CreateInput) (CreateResult, error) {
	actor, err := shared.Authorize(ctx, s.authz, shared.CmdInvoiceCreate)
	if err != nil {
		return CreateResult{}, err
	}
	input.CustomerLabel = strings.TrimSpace(input.CustomerLabel)
	if len(input.Items) == 0 {
		return CreateResult{}, fmt.Errorf("%w: basket is empty", shared.ErrInvalidQuantity)
	}
	for i := range input.Items {
		input.Items[i].Note = strings.TrimSpace(input.Items[i].Note)
		if input.Items[i].ProductID <= 0 {
			return CreateResult{}, fmt.Errorf("%w: item %d has no product", shared.ErrInvalidProduct, i+1)
		}
	}
	if err := shared.ValidateStruct(input, shared.ErrInvalidQuantity); err != nil {
		return CreateResult{}, err
	}
	if input.Discount.IsNegative() {
		return CreateResult{}, fmt.Errorf("%w: invoice discount must be >= 0", shared.ErrInvalidAmount)
	}
	createdAt := s.now().UTC()
	if input.CreatedAt != nil && !input.CreatedAt.IsZero() {
		createdAt = input.CreatedAt.UTC()
	}

	var result CreateResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		products, err := lockBasket(ctx, tx, input.Items)
		if err != nil {
			return err
		}
		lines := make([]Line, 0, len(input.Items))
		for _, item := range input.Items {
			line, err := PriceItem(products[item.ProductID], item)
			if err != nil {
				return err
			}
			lines = append(lines, line)
		}
		subtotal := LinesTotal(lines)
		if input.Discount.GreaterThan(subtotal) {
			return fmt.Errorf("%w: invoice discount %s exceeds line total %s", shared.ErrInvalidAmount, input.Discount, subtotal)
		}
		consumptions := make([]inventory.Consumption, len(lines))
		for i, l := range lines {
			consumptions[i] = inventory.Consumption{ProductID: l.ProductID, Quantity: l.Quantity}
		}
		if err := inventory.CheckAvailability(ctx, tx, consumptions); err != nil {
			return err
		}

		inv := Invoice{
			UserID:        actor.UserID,
			CustomerLabel: input.CustomerLabel,
			CreatedAt:     createdAt,
			Status:        DeriveStatus(lines),
			GrossTotal:    subtotal.Sub(input.Discount),
			Discount:      input.Discount,
		}
		inv.ID, err = tx.InsertInvoice(ctx, inv)
		if err != nil {
			return err
		}
		reason := "invoice " + strconv.FormatInt(inv.ID, 10)
		for i := range lines {
			lines[i].InvoiceID = inv.ID
			lines[i].ID, err = tx.InsertLine(ctx, lines[i])
			if err != nil {
				return err
			}
			l := lines[i]
			consumptions[i] = inventory.Consumption{
				ProductID:  l.ProductID,
				Quantity:   l.Quantity,
				UnitPrice:  l.UnitPrice,
				UnionDelta: UnionDelta(products[l.ProductID], l.Tier, l.Quantity, l.Discount),
				Tier:       l.Tier,
				Reason:     reason,
				Reference:  l.Reference(),
			}
		}
		movements, err := inventory.ApplySale(ctx, tx, actor.UserID, createdAt, consumptions)
		if err != nil {
			return err
		}
		credit := DeferredTotal(lines)
		if credit.IsPositive() {
			if err := fund.CreditDeferred(ctx, tx, actor.UserID, credit); err != nil {
				return err
			}
		}
		inv.Lines = lines
		result = CreateResult{Invoice: inv, Movements: movements, DeferredCredit: credit}
		return nil
	})
	if err != nil {
		return CreateResult{}, err
	}
	result.Changed = shared.Changes(shared.CollectionInvoices, shared.CollectionProducts, shared.CollectionMovements)
	if result.DeferredCredit.IsPositive() {
		result.Changed = result.Changed.Merge(shared.Changes(shared.CollectionBalances, shared.CollectionPools))
	}
	s.record(ctx, actor, "invoice:create", result.Invoice.ID, map[string]any{
		"lines":           len(result.Invoice.Lines),
		"gross_total":     result.Invoice.GrossTotal.String(),
		"deferred_credit": result.DeferredCredit.String(),
	})
	return result, nil
}

// List returns invoices, newest first. Restricted roles only see their own.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Invoice, error) {
	if _, err := shared.Authorize(ctx, s.authz, shared.CmdInvoiceView); err != nil {
		return nil, err
	}
	userID, err := shared.ScopeUser(ctx, s.authz, filter.UserID)
	if err != nil {
		return nil, err
	}
	filter.UserID = userID
	return s.repo.ListInvoices(ctx, filter)
}

// Detail returns an invoice with its lines.
func (s *Service) Detail(ctx context.Context, id int64) (Invoice, error) {
	if _, err := shared.Authorize(ctx, s.authz, shared.CmdInvoiceView); err != nil {
		return Invoice{}, err
	}
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return Invoice{}, LookupError(err, id)
	}
	if _, err := shared.ScopeUser(ctx, s.authz, inv.UserID); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

// AdminEdit corrects header fields of an invoice no export has touched.
func (s *Service) AdminEdit(ctx context.Context, id int64, input EditInput) (EditResult, error) {
	actor, err := shared.Authorize(ctx, s.authz, shared.CmdInvoiceAdminEdit)
	if err != nil {
		return EditResult{}, err
	}
	if err := shared.ValidateStruct(input, shared.ErrInvalidAmount); err != nil {
		return EditResult{}, err
	}
	var inv Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		inv, err = tx.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			return LookupError(err, id)
		}
		if err := ensureUndischarged(inv); err != nil {
			return err
		}
		if input.CustomerLabel != nil {
			inv.CustomerLabel = strings.TrimSpace(*input.CustomerLabel)
		}
		if input.CreatedAt != nil && !input.CreatedAt.IsZero() {
			inv.CreatedAt = input.CreatedAt.UTC()
		}
		if input.Discount != nil {
			subtotal := LinesTotal(inv.Lines)
			if input.Discount.IsNegative() || input.Discount.GreaterThan(subtotal) {
				return fmt.Errorf("%w: invoice discount must be between 0 and %s", shared.ErrInvalidAmount, subtotal)
			}
			inv.Discount = *input.Discount
			inv.GrossTotal = subtotal.Sub(inv.Discount)
		}
		return tx.UpdateInvoice(ctx, inv)
	})
	if err != nil {
		return EditResult{}, err
	}
	s.record(ctx, actor, "invoice:admin_edit", id, map[string]any{
		"discount":       inv.Discount.String(),
		"customer_label": inv.CustomerLabel,
	})
	return EditResult{Invoice: inv, Changed: shared.Changes(shared.CollectionInvoices)}, nil
}

// AdminDelete removes an invoice no export has touched, returning its goods to
// the shelf and withdrawing the deferred credit from the seller.
func (s *Service) AdminDelete(ctx context.Context, id int64) (DeleteResult, error) {
	actor, err := shared.Authorize(ctx, s.authz, shared.CmdInvoiceAdminDelete)
	if err != nil {
		return DeleteResult{}, err
	}
	now := s.now().UTC()
	result := DeleteResult{InvoiceID: id}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			return LookupError(err, id)
		}
		if err := ensureUndischarged(inv); err != nil {
			return err
		}
		refs := make([]string, len(inv.Lines))
		for i, l := range inv.Lines {
			refs[i] = l.Reference()
		}
		sold, err := tx.MovementsByReference(ctx, refs)
		if err != nil {
			return err
		}
		deltas := make(map[string]decimal.Decimal, len(sold))
		for _, m := range sold {
			if m.Action == inventory.ActionSale {
				deltas[m.Reference] = deltas[m.Reference].Add(m.UnionDelta)
			}
		}
		consumptions := make([]inventory.Consumption, len(inv.Lines))
		for i, l := range inv.Lines {
			consumptions[i] = inventory.Consumption{
				ProductID:  l.ProductID,
				Quantity:   l.Quantity,
				UnitPrice:  l.UnitPrice,
				UnionDelta: deltas[l.Reference()],
				Tier:       l.Tier,
				Reason:     "invoice " + strconv.FormatInt(inv.ID, 10) + " deleted",
				Reference:  l.Reference(),
			}
		}
		result.Movements, err = inventory.ReverseSale(ctx, tx, actor.UserID, now, consumptions)
		if err != nil {
			return err
		}
		result.DeferredCredit = DeferredTotal(inv.Lines)
		if result.DeferredCredit.IsPositive() {
			if err := fund.CreditDeferred(ctx, tx, inv.UserID, result.DeferredCredit.Neg()); err != nil {
				return err
			}
		}
		return tx.DeleteInvoice(ctx, inv.ID)
	})
	if err != nil {
		return DeleteResult{}, err
	}
	result.Changed = shared.Changes(shared.CollectionInvoices, shared.CollectionProducts, shared.CollectionMovements)
	if result.DeferredCredit.IsPositive() {
		result.Changed = result.Changed.Merge(shared.Changes(shared.CollectionBalances, shared.CollectionPools))
	}
	s.record(ctx, actor, "invoice:admin_delete", id, map[string]any{"deferred_credit": result.DeferredCredit.String()})
	return result, nil
}

func (s *Service) record(ctx context.Context, actor shared.Actor, action string, invoiceID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "invoice",
		EntityID: strconv.FormatInt(invoiceID, 10),
		Meta:     meta,
		At:       s.now().UTC(),
	})
}

// lockBasket locks every basket product in id order.
func lockBasket(ctx context.Context, tx TxRepository, items []BasketItem) (map[int64]catalog.Product, error) {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	products := make(map[int64]catalog.Product, len(ids))
	for _, id := range ids {
		if _, ok := products[id]; ok {
			continue
		}
		p, err := tx.GetProductForUpdate(ctx, id)
		if err != nil {
			return nil, catalog.LookupError(err, id)
		}
		products[id] = p
	}
	return products, nil
}

func ensureUndischarged(inv Invoice) error {
	for _, l := range inv.Lines {
		if l.Discharged() {
			return fmt.Errorf("%w: invoice %d has lines discharged by a supplementary export", shared.ErrPermissionDenied, inv.ID)
		}
	}
	return nil
}

// LookupError maps a repository miss to InvalidProduct, the kind used for
// unknown sale references.
func LookupError(err error, id int64) error {
	if errors.Is(err, shared.ErrNotFound) {
		return fmt.Errorf("%w: invoice %d not found", shared.ErrInvalidProduct, id)
	}
	return err
}
