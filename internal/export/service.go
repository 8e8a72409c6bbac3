package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lubepos/lubepos/internal/catalog"
	"github.com/lubepos/lubepos/internal/fund"
	"github.com/lubepos/lubepos/internal/inventory"
	"github.com/lubepos/lubepos/internal/invoice"
	"github.com/lubepos/lubepos/internal/shared"
	"github.com/lubepos/lubepos/internal/users"
)

// TxRepository exposes transactional export operations on top of the invoice slice.
type TxRepository interface {
	invoice.TxRepository
	// OpeningPoolsForProduct returns live pools of a product ordered by recorded_at, id.
	OpeningPoolsForProduct(ctx context.Context, productID int64) ([]OpeningPool, error)
	// DeferredLinesForProduct returns deferred lines of a product ordered by invoice created_at, line id.
	DeferredLinesForProduct(ctx context.Context, productID int64) ([]DeferredLine, error)
	InsertOpeningPool(ctx context.Context, p OpeningPool) (int64, error)
	UpdateOpeningPool(ctx context.Context, id int64, qty decimal.Decimal) error
	DeleteOpeningPool(ctx context.Context, id int64) error
	InsertOverdraw(ctx context.Context, o Overdraw) (int64, error)
	InsertUnionDifference(ctx context.Context, u UnionDifference) (int64, error)
	// LatestPrice returns the new price of the most recent history entry, if any.
	LatestPrice(ctx context.Context, productID int64, tier catalog.Tier) (decimal.Decimal, bool, error)
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListOpeningPools(ctx context.Context, filter PoolFilter) ([]OpeningPool, error)
	ListDeferredLines(ctx context.Context, filter PoolFilter) ([]DeferredLine, error)
	ListUnionDifferences(ctx context.Context, filter ReportFilter) ([]UnionDifference, error)
	ListOverdraws(ctx context.Context, filter ReportFilter) ([]Overdraw, error)
}

// Service plans and executes supplementary exports.
type Service struct {
	repo   RepositoryPort
	authz  shared.Authorizer
	audit  shared.AuditPort
	locker shared.Locker
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service. locker serialises executions across processes and may be nil.
func NewService(repo RepositoryPort, authz shared.Authorizer, audit shared.AuditPort, locker shared.Locker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, authz: authz, audit: audit, locker: locker, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Plan computes an export plan without changing anything. When the plan needs a
// borrow or overdraw the input does not allow, the plan is returned together with
// an AuthorizationError describing it.
func (s *Service) Plan(ctx context.Context, input PlanInput) (Plan, error) {
	actor, err := shared.Authorize(ctx, s.authz, shared.CmdExportPlan)
	if err != nil {
		return Plan{}, err
	}
	now := s.now().UTC()
	var plan Plan
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		state, _, err := loadState(ctx, tx, input.Requests)
		if err != nil {
			return err
		}
		plan, err = BuildPlan(input, state, actor.UserID, now)
		return err
	})
	if err != nil {
		return Plan{}, err
	}
	plan.ID = uuid.NewString()
	if !plan.Authorized(input) {
		return plan, &AuthorizationError{Plan: plan}
	}
	return plan, nil
}

// Execute recomputes the plan under the export lock and applies it in one
// transaction: source rows are discharged, overdraws and union differences are
// recorded, overdrawn units leave the shelf and the acting user is debited the
// union difference total.
func (s *Service) Execute(ctx context.Context, input ExecuteInput) (ExecuteResult, error) {
	actor, err := shared.Authorize(ctx, s.authz, shared.CmdExportExecute)
	if err != nil {
		return ExecuteResult{}, err
	}
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, shared.ExportLockKey)
		if err != nil {
			return ExecuteResult{}, err
		}
		defer release()
	}
	now := s.now().UTC()
	var result ExecuteResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		state, lines, err := loadState(ctx, tx, input.Requests)
		if err != nil {
			return err
		}
		plan, err := BuildPlan(input.PlanInput, state, actor.UserID, now)
		if err != nil {
			return err
		}
		plan.ID = uuid.NewString()
		if !plan.Authorized(input.PlanInput) {
			return &AuthorizationError{Plan: plan}
		}
		if input.Fingerprint != "" && input.Fingerprint != plan.Fingerprint {
			s.logger.Info("export plan changed since preview", slog.String("plan_id", plan.ID), slog.Int64("user_id", actor.UserID))
			return &AuthorizationError{Plan: plan}
		}
		result, err = apply(ctx, tx, actor.UserID, now, plan, lines)
		return err
	})
	if err != nil {
		return ExecuteResult{}, err
	}
	result.Changed = shared.Changes(shared.CollectionMovements)
	if len(result.Plan.Discharges) > 0 {
		result.Changed = result.Changed.Merge(shared.Changes(shared.CollectionPools, shared.CollectionInvoices))
	}
	if len(result.Overdraws) > 0 {
		result.Changed = result.Changed.Merge(shared.Changes(shared.CollectionOverdraws, shared.CollectionProducts))
	}
	if len(result.UnionDifferences) > 0 {
		result.Changed = result.Changed.Merge(shared.Changes(shared.CollectionUnionDifferences, shared.CollectionBalances))
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.UserID,
			Action:   "export:execute",
			Entity:   "export_plan",
			EntityID: result.Plan.ID,
			Meta: map[string]any{
				"requests":    len(result.Plan.Items),
				"discharges":  len(result.Plan.Discharges),
				"overdraws":   len(result.Overdraws),
				"union_total": result.Plan.UnionTotal.String(),
			},
			At: now,
		})
	}
	return result, nil
}

func apply(ctx context.Context, tx TxRepository, userID int64, now time.Time, plan Plan, lines map[int64]DeferredLine) (ExecuteResult, error) {
	result := ExecuteResult{Plan: plan}

	type taken struct {
		source Source
		qty    decimal.Decimal
	}
	var order []string
	bySource := make(map[string]*taken)
	for _, d := range plan.Discharges {
		key := d.Source.Key()
		t, ok := bySource[key]
		if !ok {
			t = &taken{source: d.Source, qty: decimal.Zero}
			bySource[key] = t
			order = append(order, key)
		}
		t.qty = t.qty.Add(d.Quantity)
	}

	touched := make(map[int64]struct{})
	for _, key := range order {
		t := bySource[key]
		switch t.source.Kind {
		case SourceOpeningPool:
			left := t.source.Quantity.Sub(t.qty)
			var err error
			if left.IsPositive() {
				err = tx.UpdateOpeningPool(ctx, t.source.ID, left)
			} else {
				err = tx.DeleteOpeningPool(ctx, t.source.ID)
			}
			if err != nil {
				return ExecuteResult{}, err
			}
		case SourceInvoiceLine:
			line, ok := lines[t.source.ID]
			if !ok {
				return ExecuteResult{}, fmt.Errorf("deferred line %d vanished during export", t.source.ID)
			}
			issued, err := dischargeLine(ctx, tx, line.Line, t.qty, now)
			if err != nil {
				return ExecuteResult{}, err
			}
			result.IssuedLines = append(result.IssuedLines, issued)
			touched[line.InvoiceID] = struct{}{}
		}
	}

	invoiceIDs := make([]int64, 0, len(touched))
	for id := range touched {
		invoiceIDs = append(invoiceIDs, id)
	}
	sort.Slice(invoiceIDs, func(i, j int) bool { return invoiceIDs[i] < invoiceIDs[j] })
	for _, id := range invoiceIDs {
		inv, err := tx.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			return ExecuteResult{}, err
		}
		status := invoice.DeriveStatus(inv.Lines)
		if status == inv.Status {
			continue
		}
		inv.Status = status
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return ExecuteResult{}, err
		}
		if status == invoice.StatusFullyIssued {
			result.CompletedInvoices = append(result.CompletedInvoices, id)
		}
	}

	for _, o := range plan.Overdraws {
		row := Overdraw{UserID: userID, ProductID: o.ProductID, Quantity: o.Quantity, Tier: o.Tier, RecordedAt: now}
		id, err := tx.InsertOverdraw(ctx, row)
		if err != nil {
			return ExecuteResult{}, err
		}
		row.ID = id
		result.Overdraws = append(result.Overdraws, row)
	}
	for _, ud := range plan.UnionDifferences {
		id, err := tx.InsertUnionDifference(ctx, ud)
		if err != nil {
			return ExecuteResult{}, err
		}
		ud.ID = id
		result.UnionDifferences = append(result.UnionDifferences, ud)
	}

	consumptions := make([]inventory.Consumption, 0, len(plan.Items))
	for _, item := range plan.Items {
		if item.Request.Quantity.IsZero() {
			continue
		}
		consumptions = append(consumptions, inventory.Consumption{
			ProductID:  item.Request.ProductID,
			Quantity:   item.Overdraw,
			UnitPrice:  item.ExportUnitPrice,
			UnionDelta: item.UnionAmount,
			Tier:       item.Request.Tier,
			Reason:     "supplementary export " + plan.ID,
			Reference:  "export_plan:" + plan.ID,
		})
	}
	if len(consumptions) > 0 {
		movements, err := inventory.ApplyExport(ctx, tx, userID, now, consumptions)
		if err != nil {
			return ExecuteResult{}, err
		}
		result.Movements = movements
	}
	if err := fund.DebitUnionDifference(ctx, tx, userID, plan.UnionTotal); err != nil {
		return ExecuteResult{}, err
	}
	return result, nil
}

// dischargeLine issues qty units of a deferred line. A full discharge flips the
// line; a partial one splits off an issued clone carrying a proportional share
// of the discount.
func dischargeLine(ctx context.Context, tx TxRepository, line invoice.Line, qty decimal.Decimal, now time.Time) (invoice.Line, error) {
	at := now
	if qty.GreaterThanOrEqual(line.Quantity) {
		line.IsIssued = true
		line.DischargedAt = &at
		if err := tx.UpdateLine(ctx, line); err != nil {
			return invoice.Line{}, err
		}
		return line, nil
	}
	share := line.Discount.Mul(qty).Div(line.Quantity).Round(2)
	sourceID := line.ID
	clone := line
	clone.ID = 0
	clone.Quantity = qty
	clone.Discount = share
	clone.IsIssued = true
	clone.SourceLineID = &sourceID
	clone.DischargedAt = &at
	id, err := tx.InsertLine(ctx, clone)
	if err != nil {
		return invoice.Line{}, err
	}
	clone.ID = id
	line.Quantity = line.Quantity.Sub(qty)
	line.Discount = line.Discount.Sub(share)
	if err := tx.UpdateLine(ctx, line); err != nil {
		return invoice.Line{}, err
	}
	return clone, nil
}

// loadState locks the requested products and reads their live source rows.
func loadState(ctx context.Context, tx TxRepository, requests []Request) (State, map[int64]DeferredLine, error) {
	ids := make([]int64, 0, len(requests))
	seen := make(map[int64]struct{}, len(requests))
	for _, r := range requests {
		if _, ok := seen[r.ProductID]; ok || r.ProductID <= 0 {
			continue
		}
		seen[r.ProductID] = struct{}{}
		ids = append(ids, r.ProductID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	state := State{
		Products:      make(map[int64]catalog.Product, len(ids)),
		Sources:       make(map[int64][]Source, len(ids)),
		CurrentPrices: make(map[PriceKey]decimal.Decimal),
	}
	lines := make(map[int64]DeferredLine)
	for _, id := range ids {
		p, err := tx.GetProductForUpdate(ctx, id)
		if err != nil {
			return State{}, nil, catalog.LookupError(err, id)
		}
		state.Products[id] = p
		pools, err := tx.OpeningPoolsForProduct(ctx, id)
		if err != nil {
			return State{}, nil, err
		}
		deferred, err := tx.DeferredLinesForProduct(ctx, id)
		if err != nil {
			return State{}, nil, err
		}
		sources := make([]Source, 0, len(pools)+len(deferred))
		for _, pool := range pools {
			sources = append(sources, poolSource(pool))
		}
		for _, dl := range deferred {
			lines[dl.ID] = dl
			sources = append(sources, lineSource(dl))
		}
		SortFIFO(sources)
		state.Sources[id] = sources
		for _, tier := range catalog.Tiers {
			price, ok, err := tx.LatestPrice(ctx, id, tier)
			if err != nil {
				return State{}, nil, err
			}
			if ok {
				state.CurrentPrices[PriceKey{ProductID: id, Tier: tier}] = price
			}
		}
	}
	return state, lines, nil
}

func poolSource(p OpeningPool) Source {
	return Source{
		Kind:      SourceOpeningPool,
		ID:        p.ID,
		UserID:    p.UserID,
		ProductID: p.ProductID,
		Tier:      p.Tier,
		Quantity:  p.Quantity,
		UnitPrice: p.UnitPrice,
		Since:     p.RecordedAt,
	}
}

func lineSource(dl DeferredLine) Source {
	return Source{
		Kind:      SourceInvoiceLine,
		ID:        dl.ID,
		InvoiceID: dl.InvoiceID,
		UserID:    dl.SellerID,
		ProductID: dl.ProductID,
		Tier:      dl.Tier,
		Quantity:  dl.Quantity,
		UnitPrice: dl.UnitPrice,
		Since:     dl.InvoiceCreatedAt,
	}
}

// SortFIFO orders sources for consumption: opening pools before deferred lines,
// each by age then id.
func SortFIFO(sources []Source) {
	sort.SliceStable(sources, func(i, j int) bool {
		a, b := sources[i], sources[j]
		if a.Kind != b.Kind {
			return a.Kind == SourceOpeningPool
		}
		if !a.Since.Equal(b.Since) {
			return a.Since.Before(b.Since)
		}
		return a.ID < b.ID
	})
}

// RecordOpeningPools inserts onboarding pools. The unit price defaults to the
// current catalog price of the pool's tier.
func (s *Service) RecordOpeningPools(ctx context.Context, inputs []PoolInput) (PoolResult, error) {
	actor, err := shared.Authorize(ctx, s.authz, shared.CmdExportPoolsRecord)
	if err != nil {
		return PoolResult{}, err
	}
	if len(inputs) == 0 {
		return PoolResult{}, fmt.Errorf("%w: no pools given", shared.ErrInvalidQuantity)
	}
	for i, in := range inputs {
		if err := shared.ValidateStruct(in, shared.ErrInvalidProduct); err != nil {
			return PoolResult{}, fmt.Errorf("pool %d: %w", i+1, err)
		}
		if !in.Tier.Valid() {
			return PoolResult{}, fmt.Errorf("%w: pool %d tier %q", shared.ErrInvalidTier, i+1, in.Tier)
		}
		if !in.Quantity.IsPositive() {
			return PoolResult{}, fmt.Errorf("%w: pool %d quantity must be > 0", shared.ErrInvalidQuantity, i+1)
		}
		if in.UnitPrice != nil && in.UnitPrice.IsNegative() {
			return PoolResult{}, fmt.Errorf("%w: pool %d unit price must be >= 0", shared.ErrInvalidAmount, i+1)
		}
	}
	now := s.now().UTC()
	var pools []OpeningPool
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, in := range inputs {
			if _, err := tx.GetUserForUpdate(ctx, in.UserID); err != nil {
				return users.LookupError(err, in.UserID)
			}
			p, err := tx.GetProductForUpdate(ctx, in.ProductID)
			if err != nil {
				return catalog.LookupError(err, in.ProductID)
			}
			pool := OpeningPool{
				UserID:     in.UserID,
				ProductID:  in.ProductID,
				Quantity:   in.Quantity,
				Tier:       in.Tier,
				UnitPrice:  p.Price(in.Tier),
				RecordedAt: now,
			}
			if in.UnitPrice != nil {
				pool.UnitPrice = *in.UnitPrice
			}
			if in.RecordedAt != nil && !in.RecordedAt.IsZero() {
				pool.RecordedAt = in.RecordedAt.UTC()
			}
			pool.ID, err = tx.InsertOpeningPool(ctx, pool)
			if err != nil {
				return err
			}
			pools = append(pools, pool)
		}
		return nil
	})
	if err != nil {
		return PoolResult{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.UserID,
			Action:   "export:record_opening_pools",
			Entity:   "opening_pool",
			EntityID: fmt.Sprintf("%d-%d", pools[0].ID, pools[len(pools)-1].ID),
			Meta:     map[string]any{"pools": len(pools)},
			At:       now,
		})
	}
	return PoolResult{Pools: pools, Changed: shared.Changes(shared.CollectionPools)}, nil
}

// Pools lists every live source row in consumption order.
func (s *Service) Pools(ctx context.Context, filter PoolFilter) ([]Source, error) {
	if _, err := shared.Authorize(ctx, s.authz, shared.CmdExportView); err != nil {
		return nil, err
	}
	if filter.Tier != "" && !filter.Tier.Valid() {
		return nil, fmt.Errorf("%w: %q", shared.ErrInvalidTier, filter.Tier)
	}
	scoped, err := shared.ScopeUser(ctx, s.authz, filter.UserID)
	if err != nil {
		return nil, err
	}
	filter.UserID = scoped
	pools, err := s.repo.ListOpeningPools(ctx, filter)
	if err != nil {
		return nil, err
	}
	deferred, err := s.repo.ListDeferredLines(ctx, filter)
	if err != nil {
		return nil, err
	}
	sources := make([]Source, 0, len(pools)+len(deferred))
	for _, p := range pools {
		sources = append(sources, poolSource(p))
	}
	for _, dl := range deferred {
		sources = append(sources, lineSource(dl))
	}
	sort.SliceStable(sources, func(i, j int) bool { return sources[i].ProductID < sources[j].ProductID })
	start := 0
	for i := 1; i <= len(sources); i++ {
		if i == len(sources) || sources[i].ProductID != sources[start].ProductID {
			SortFIFO(sources[start:i])
			start = i
		}
	}
	return sources, nil
}

// UnionDifferences lists recorded union differences, newest first.
func (s *Service) UnionDifferences(ctx context.Context, filter ReportFilter) ([]UnionDifference, error) {
	if _, err := shared.Authorize(ctx, s.authz, shared.CmdExportView); err != nil {
		return nil, err
	}
	scoped, err := shared.ScopeUser(ctx, s.authz, filter.UserID)
	if err != nil {
		return nil, err
	}
	filter.UserID = scoped
	return s.repo.ListUnionDifferences(ctx, filter)
}

// Overdraws lists recorded overdraws, newest first.
func (s *Service) Overdraws(ctx context.Context, filter ReportFilter) ([]Overdraw, error) {
	if _, err := shared.Authorize(ctx, s.authz, shared.CmdExportView); err != nil {
		return nil, err
	}
	scoped, err := shared.ScopeUser(ctx, s.authz, filter.UserID)
	if err != nil {
		return nil, err
	}
	filter.UserID = scoped
	return s.repo.ListOverdraws(ctx, filter)
}

// IsAuthorizationRequired reports whether err asks for borrow or overdraw affirmation
// and returns the proposed plan.
func IsAuthorizationRequired(err error) (Plan, bool) {
	var authErr *AuthorizationError
	if errors.As(err, &authErr) {
		return authErr.Plan, true
	}
	return Plan{}, false
}
