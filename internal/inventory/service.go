package inventory

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lubepos/lubepos/internal/catalog"
	"github.com/lubepos/lubepos/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, id int64) (catalog.Product, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, error)
}

// ArchivePort persists export files such as recount snapshots.
type ArchivePort interface {
	Write(ctx context.Context, category, name string, write func(io.Writer) error) (string, error)
}

// Service coordinates inventory operations.
type Service struct {
	repo    RepositoryPort
	authz   shared.Authorizer
	audit   shared.AuditPort
	archive ArchivePort
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds Service. archive may be nil to skip recount snapshots.
func NewService(repo RepositoryPort, authz shared.Authorizer, audit shared.AuditPort, archive ArchivePort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, authz: authz, audit: audit, archive: archive, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Recount sets on-hand quantities to the counted values. Every product whose
// count differs from the system quantity needs a reason; otherwise nothing is written.
func (s *Service) Recount(ctx context.Context, entries []RecountEntry) (RecountResult, error) {
	actor, err := shared.Authorize(ctx, s.authz, shared.CmdInventoryRecount)
	if err != nil {
		return RecountResult{}, err
	}
	seen := make(map[int64]struct{}, len(entries))
	for i := range entries {
		entries[i].Reason = strings.TrimSpace(entries[i].Reason)
		e := entries[i]
		if e.ProductID <= 0 {
			return RecountResult{}, fmt.Errorf("%w: product id required", shared.ErrInvalidProduct)
		}
		if e.Counted.IsNegative() {
			return RecountResult{}, fmt.Errorf("%w: counted quantity for product %d is negative", shared.ErrInvalidQuantity, e.ProductID)
		}
		if _, dup := seen[e.ProductID]; dup {
			return RecountResult{}, fmt.Errorf("%w: product %d counted twice", shared.ErrInvalidProduct, e.ProductID)
		}
		seen[e.ProductID] = struct{}{}
	}
	sorted := append([]RecountEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	now := s.now().UTC()
	result := RecountResult{UserID: actor.UserID, RecordedAt: now}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		products := make([]catalog.Product, len(sorted))
		var missing []int64
		for i, e := range sorted {
			p, err := tx.GetProductForUpdate(ctx, e.ProductID)
			if err != nil {
				return catalog.LookupError(err, e.ProductID)
			}
			products[i] = p
			if !e.Counted.Equal(p.OnHand) && e.Reason == "" {
				missing = append(missing, e.ProductID)
			}
		}
		if len(missing) > 0 {
			return &MissingReasonError{ProductIDs: missing}
		}
		result.Lines = make([]RecountLine, 0, len(sorted))
		for i, e := range sorted {
			p := products[i]
			diff := e.Counted.Sub(p.OnHand)
			result.Lines = append(result.Lines, RecountLine{
				ProductID:   p.ID,
				ProductName: p.Name,
				Counted:     e.Counted,
				System:      p.OnHand,
				Difference:  diff,
				Reason:      e.Reason,
			})
			if diff.IsZero() {
				continue
			}
			m, err := setCount(ctx, tx, actor.UserID, now, p, e.Counted, e.Reason)
			if err != nil {
				return err
			}
			result.Movements = append(result.Movements, m)
		}
		return nil
	})
	if err != nil {
		return RecountResult{}, err
	}
	if len(result.Movements) > 0 {
		result.Changed = shared.Changes(shared.CollectionProducts, shared.CollectionMovements)
	} else {
		result.Changed = shared.Changes()
	}
	if s.archive != nil && len(result.Lines) > 0 {
		name := fmt.Sprintf("recount_%d_%s.csv", actor.UserID, now.Format("20060102T150405.000000000"))
		path, err := s.archive.Write(ctx, "recounts", name, func(w io.Writer) error {
			return WriteRecountCSV(w, actor.UserID, now, result.Lines)
		})
		if err != nil {
			s.logger.Warn("write recount snapshot", slog.Any("error", err), slog.Int64("user_id", actor.UserID))
		} else {
			result.SnapshotPath = path
		}
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.UserID,
			Action:   "inventory:recount",
			Entity:   "recount_session",
			EntityID: now.Format(time.RFC3339Nano),
			Meta:     map[string]any{"entries": len(result.Lines), "adjusted": len(result.Movements)},
			At:       now,
		})
	}
	return result, nil
}

// Receive adds received goods to the shelf, logged as a recount to the new total.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (MovementResult, error) {
	actor, err := shared.Authorize(ctx, s.authz, shared.CmdInventoryReceive)
	if err != nil {
		return MovementResult{}, err
	}
	if input.ProductID <= 0 {
		return MovementResult{}, fmt.Errorf("%w: product id required", shared.ErrInvalidProduct)
	}
	if !input.Quantity.IsPositive() {
		return MovementResult{}, fmt.Errorf("%w: received quantity must be > 0", shared.ErrInvalidQuantity)
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		reason = "stock receipt"
	}
	now := s.now().UTC()
	var movement StockMovement
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetProductForUpdate(ctx, input.ProductID)
		if err != nil {
			return catalog.LookupError(err, input.ProductID)
		}
		movement, err = setCount(ctx, tx, actor.UserID, now, p, p.OnHand.Add(input.Quantity), reason)
		return err
	})
	if err != nil {
		return MovementResult{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.UserID,
			Action:   "inventory:receive",
			Entity:   "product",
			EntityID: strconv.FormatInt(input.ProductID, 10),
			Meta:     map[string]any{"quantity": input.Quantity.String(), "reason": reason},
			At:       now,
		})
	}
	return MovementResult{Movement: movement, Changed: shared.Changes(shared.CollectionProducts, shared.CollectionMovements)}, nil
}

// OnHand returns the shelf quantity of a product.
func (s *Service) OnHand(ctx context.Context, productID int64) (decimal.Decimal, error) {
	if _, err := shared.Authorize(ctx, s.authz, shared.CmdInventoryView); err != nil {
		return decimal.Zero, err
	}
	p, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return decimal.Zero, catalog.LookupError(err, productID)
	}
	return p.OnHand, nil
}

// Movements lists the movement log, newest first. Restricted roles only see their own movements.
func (s *Service) Movements(ctx context.Context, filter MovementFilter) ([]StockMovement, error) {
	if _, err := shared.Authorize(ctx, s.authz, shared.CmdInventoryView); err != nil {
		return nil, err
	}
	userID, err := shared.ScopeUser(ctx, s.authz, filter.UserID)
	if err != nil {
		return nil, err
	}
	filter.UserID = userID
	return s.repo.ListMovements(ctx, filter)
}

func setCount(ctx context.Context, tx TxRepository, userID int64, at time.Time, p catalog.Product, counted decimal.Decimal, reason string) (StockMovement, error) {
	if err := tx.SetOnHand(ctx, p.ID, counted); err != nil {
		return StockMovement{}, err
	}
	m := StockMovement{
		ProductID:    p.ID,
		UserID:       userID,
		OccurredAt:   at,
		Action:       ActionRecount,
		Quantity:     counted.Sub(p.OnHand),
		OnHandBefore: p.OnHand,
		OnHandAfter:  counted,
		Reason:       reason,
	}
	id, err := tx.InsertMovement(ctx, m)
	if err != nil {
		return StockMovement{}, err
	}
	m.ID = id
	return m, nil
}
