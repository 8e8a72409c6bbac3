package assistant

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lubepos/lubepos/internal/catalog"
	"github.com/lubepos/lubepos/internal/export"
	"github.com/lubepos/lubepos/internal/fund"
	"github.com/lubepos/lubepos/internal/shared"
	"github.com/lubepos/lubepos/internal/users"
)

// CatalogReader lists products.
type CatalogReader interface {
	ListProducts(ctx context.Context, filter catalog.ProductFilter) ([]catalog.Product, error)
}

// LedgerReader lists users and transfers.
type LedgerReader interface {
	ListUsers(ctx context.Context) ([]users.User, error)
	ListTransfers(ctx context.Context, filter fund.HistoryFilter) ([]fund.Transfer, error)
}

// PoolReader lists deferred supply.
type PoolReader interface {
	ListOpeningPools(ctx context.Context, filter export.PoolFilter) ([]export.OpeningPool, error)
	ListDeferredLines(ctx context.Context, filter export.PoolFilter) ([]export.DeferredLine, error)
}

// TabPolicy is the role oracle.
type TabPolicy interface {
	Allowed(role shared.Role, command string) bool
	AllowedTabs(role shared.Role) []string
}

// Service runs the assistant's read-only queries.
type Service struct {
	catalog CatalogReader
	ledger  LedgerReader
	pools   PoolReader
	policy  TabPolicy
	authz   shared.Authorizer
	cache   *Cache
}

// NewService builds Service. cache may be nil.
func NewService(catalog CatalogReader, ledger LedgerReader, pools PoolReader, policy TabPolicy, authz shared.Authorizer, cache *Cache) *Service {
	return &Service{catalog: catalog, ledger: ledger, pools: pools, policy: policy, authz: authz, cache: cache}
}

// UserDebts lists user balances with their outstanding deferred lines.
// Restricted roles only see themselves.
func (s *Service) UserDebts(ctx context.Context) ([]Debt, error) {
	if _, err := shared.Authorize(ctx, s.authz, shared.CmdAssistantQuery); err != nil {
		return nil, err
	}
	scoped, err := shared.ScopeUser(ctx, s.authz, 0)
	if err != nil {
		return nil, err
	}
	deps := []shared.Collection{shared.CollectionBalances, shared.CollectionUsers, shared.CollectionInvoices}
	return fetch(ctx, s.cache, "debts", deps, []string{strconv.FormatInt(scoped, 10)}, func(ctx context.Context) ([]Debt, error) {
		all, err := s.ledger.ListUsers(ctx)
		if err != nil {
			return nil, err
		}
		lines, err := s.pools.ListDeferredLines(ctx, export.PoolFilter{UserID: scoped})
		if err != nil {
			return nil, err
		}
		out := make([]Debt, 0, len(all))
		index := make(map[int64]int, len(all))
		for _, u := range all {
			if scoped != 0 && u.ID != scoped {
				continue
			}
			index[u.ID] = len(out)
			out = append(out, Debt{UserID: u.ID, Name: u.Name, Role: u.Role, Balance: u.Balance, Outstanding: decimal.Zero})
		}
		for _, l := range lines {
			i, ok := index[l.SellerID]
			if !ok {
				continue
			}
			out[i].Outstanding = out[i].Outstanding.Add(l.Total())
			out[i].DeferredLines++
		}
		return out, nil
	})
}

// FundLedger lists transfers in the date range. Restricted roles only see transfers they are party to.
func (s *Service) FundLedger(ctx context.Context, q LedgerQuery) (Ledger, error) {
	if _, err := shared.Authorize(ctx, s.authz, shared.CmdAssistantQuery); err != nil {
		return Ledger{}, err
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.From.After(q.To) {
		return Ledger{}, fmt.Errorf("%w: range starts after it ends", shared.ErrInvalidAmount)
	}
	scoped, err := shared.ScopeUser(ctx, s.authz, 0)
	if err != nil {
		return Ledger{}, err
	}
	deps := []shared.Collection{shared.CollectionTransfers}
	params := []string{strconv.FormatInt(scoped, 10), stamp(q.From), stamp(q.To)}
	return fetch(ctx, s.cache, "ledger", deps, params, func(ctx context.Context) (Ledger, error) {
		transfers, err := s.ledger.ListTransfers(ctx, fund.HistoryFilter{UserID: scoped, From: q.From, To: q.To})
		if err != nil {
			return Ledger{}, err
		}
		out := Ledger{From: q.From, To: q.To, Transfers: transfers, PaidOut: decimal.Zero, Moved: decimal.Zero}
		for _, t := range transfers {
			if t.ToUserID == nil {
				out.PaidOut = out.PaidOut.Add(t.Amount)
			} else {
				out.Moved = out.Moved.Add(t.Amount)
			}
		}
		return out, nil
	})
}

// InventoryView lists stock positions of products matching q. The caller's role
// must be allowed to view inventory.
func (s *Service) InventoryView(ctx context.Context, q InventoryQuery) ([]InventoryRow, error) {
	actor, err := shared.Authorize(ctx, s.authz, shared.CmdAssistantQuery)
	if err != nil {
		return nil, err
	}
	if s.policy != nil && !s.policy.Allowed(actor.Role, shared.CmdInventoryView) {
		return nil, fmt.Errorf("%w: role %s may not view inventory", shared.ErrPermissionDenied, actor.Role)
	}
	ids := slices.Clone(q.ProductIDs)
	slices.Sort(ids)
	idParts := make([]string, len(ids))
	for i, id := range ids {
		idParts[i] = strconv.FormatInt(id, 10)
	}
	deps := []shared.Collection{shared.CollectionProducts, shared.CollectionInvoices, shared.CollectionPools}
	params := []string{strings.ToLower(strings.TrimSpace(q.Search)), strings.Join(idParts, ",")}
	return fetch(ctx, s.cache, "inventory", deps, params, func(ctx context.Context) ([]InventoryRow, error) {
		products, err := s.catalog.ListProducts(ctx, catalog.ProductFilter{Search: q.Search, IDs: ids})
		if err != nil {
			return nil, err
		}
		out := make([]InventoryRow, 0, len(products))
		for _, p := range products {
			deferred, err := s.deferred(ctx, p.ID)
			if err != nil {
				return nil, err
			}
			out = append(out, InventoryRow{
				ProductID:          p.ID,
				Name:               p.Name,
				OnHand:             p.OnHand,
				Deferred:           deferred,
				SYS:                p.OnHand.Add(deferred),
				RetailPrice:        p.RetailPrice,
				WholesalePrice:     p.WholesalePrice,
				VIPPrice:           p.VIPPrice,
				WholesaleThreshold: p.WholesaleThreshold,
			})
		}
		return out, nil
	})
}

func (s *Service) deferred(ctx context.Context, productID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	pools, err := s.pools.ListOpeningPools(ctx, export.PoolFilter{ProductID: productID})
	if err != nil {
		return decimal.Zero, err
	}
	for _, p := range pools {
		total = total.Add(p.Quantity)
	}
	lines, err := s.pools.ListDeferredLines(ctx, export.PoolFilter{ProductID: productID})
	if err != nil {
		return decimal.Zero, err
	}
	for _, l := range lines {
		total = total.Add(l.Quantity)
	}
	return total, nil
}

// AllowedTabs lists the presentation tabs of role. An empty role means the
// caller's own; only admins may ask about other roles.
func (s *Service) AllowedTabs(ctx context.Context, role shared.Role) ([]string, error) {
	actor, err := shared.Authorize(ctx, s.authz, shared.CmdAssistantQuery)
	if err != nil {
		return nil, err
	}
	if role == "" {
		role = actor.Role
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", shared.ErrInvalidUser, role)
	}
	if role != actor.Role && actor.Role != shared.RoleAdmin {
		return nil, fmt.Errorf("%w: %s may not inspect role %s", shared.ErrPermissionDenied, actor.Role, role)
	}
	if s.policy == nil {
		return nil, nil
	}
	return s.policy.AllowedTabs(role), nil
}

// Invalidate drops cached answers that depend on changed.
func (s *Service) Invalidate(ctx context.Context, changed shared.ChangeSet) error {
	return s.cache.Bump(ctx, changed)
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return strconv.FormatInt(t.UnixNano(), 10)
}
