package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lubepos/lubepos/internal/shared"
)

// TxRepository exposes transactional catalog operations.
type TxRepository interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	GetProductForUpdate(ctx context.Context, id int64) (Product, error)
	GetProductByName(ctx context.Context, name string) (Product, error)
	InsertProduct(ctx context.Context, p Product) (int64, error)
	UpdateProduct(ctx context.Context, p Product) error
	DeleteProduct(ctx context.Context, id int64) error
	ProductReferenced(ctx context.Context, id int64) (bool, error)
	InsertPriceHistory(ctx context.Context, h PriceHistory) (int64, error)
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error)
	ListPriceHistory(ctx context.Context, filter PriceHistoryFilter) ([]PriceHistory, error)
}

// Service coordinates catalog operations.
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

// AddProduct creates a product with zero stock; stock arrives through recounts.
func (s *Service) AddProduct(ctx context.Context, input ProductInput) (ProductResult, error) {
	actor, err := shared.Authorize(ctx, s.authz, shared.CmdCatalogAdd)
	if err != nil {
		return ProductResult{}, err
	}
	input.Name = strings.TrimSpace(input.Name)
	if err := shared.ValidateStruct(input, shared.ErrInvalidProduct); err != nil {
		return ProductResult{}, err
	}
	if err := validatePricing(input.RetailPrice, input.WholesalePrice, input.VIPPrice, input.WholesaleThreshold); err != nil {
		return ProductResult{}, err
	}
	now := s.now().UTC()
	product := Product{
		Name:               input.Name,
		RetailPrice:        input.RetailPrice,
		WholesalePrice:     input.WholesalePrice,
		VIPPrice:           input.VIPPrice,
		OnHand:             decimal.Zero,
		WholesaleThreshold: input.WholesaleThreshold,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := ensureNameFree(ctx, tx, product.Name, 0); err != nil {
			return err
		}
		id, err := tx.InsertProduct(ctx, product)
		if err != nil {
			return err
		}
		product.ID = id
		return nil
	})
	if err != nil {
		return ProductResult{}, err
	}
	s.record(ctx, actor, "catalog:add", product.ID, map[string]any{"name": product.Name})
	return ProductResult{Product: product, Changed: shared.Changes(shared.CollectionProducts)}, nil
}

// UpdateProduct applies field changes and appends price history for every changed tier price.
func (s *Service) UpdateProduct(ctx context.Context, id int64, update ProductUpdate) (ProductResult, error) {
	actor, err := shared.Authorize(ctx, s.authz, shared.CmdCatalogUpdate)
	if err != nil {
		return ProductResult{}, err
	}
	if err := shared.ValidateStruct(update, shared.ErrInvalidProduct); err != nil {
		return ProductResult{}, err
	}
	var result ProductResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetProductForUpdate(ctx, id)
		if err != nil {
			return LookupError(err, id)
		}
		next := current
		if update.Name != nil {
			next.Name = strings.TrimSpace(*update.Name)
			if next.Name == "" {
				return fmt.Errorf("%w: name required", shared.ErrInvalidProduct)
			}
			if !strings.EqualFold(next.Name, current.Name) {
				if err := ensureNameFree(ctx, tx, next.Name, id); err != nil {
					return err
				}
			}
		}
		if update.RetailPrice != nil {
			next.RetailPrice = *update.RetailPrice
		}
		if update.WholesalePrice != nil {
			next.WholesalePrice = *update.WholesalePrice
		}
		if update.VIPPrice != nil {
			next.VIPPrice = *update.VIPPrice
		}
		if update.WholesaleThreshold != nil {
			next.WholesaleThreshold = *update.WholesaleThreshold
		}
		if err := validatePricing(next.RetailPrice, next.WholesalePrice, next.VIPPrice, next.WholesaleThreshold); err != nil {
			return err
		}
		changes, err := s.applyUpdate(ctx, tx, actor, current, next)
		if err != nil {
			return err
		}
		result.Product = next
		result.PriceChanges = changes
		return nil
	})
	if err != nil {
		return ProductResult{}, err
	}
	result.Changed = shared.Changes(shared.CollectionProducts)
	if len(result.PriceChanges) > 0 {
		result.Changed = result.Changed.Merge(shared.Changes(shared.CollectionPriceHistory))
	}
	s.record(ctx, actor, "catalog:update", id, map[string]any{"price_changes": len(result.PriceChanges)})
	return result, nil
}

// DeleteProduct removes a product that no invoice line or opening pool references.
func (s *Service) DeleteProduct(ctx context.Context, id int64) (shared.ChangeSet, error) {
	actor, err := shared.Authorize(ctx, s.authz, shared.CmdCatalogDelete)
	if err != nil {
		return nil, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetProductForUpdate(ctx, id); err != nil {
			return LookupError(err, id)
		}
		referenced, err := tx.ProductReferenced(ctx, id)
		if err != nil {
			return err
		}
		if referenced {
			return fmt.Errorf("%w: product %d is referenced by invoices or pools", shared.ErrInvalidProduct, id)
		}
		return tx.DeleteProduct(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor, "catalog:delete", id, nil)
	return shared.Changes(shared.CollectionProducts), nil
}

// BulkUpsert creates missing products and updates existing ones by name.
// Re-applying the same table is a no-op.
func (s *Service) BulkUpsert(ctx context.Context, rows []TableRow) (UpsertResult, error) {
	actor, err := shared.Authorize(ctx, s.authz, shared.CmdCatalogBulkUpsert)
	if err != nil {
		return UpsertResult{}, err
	}
	seen := make(map[string]int, len(rows))
	for i := range rows {
		rows[i].Name = strings.TrimSpace(rows[i].Name)
		if err := shared.ValidateStruct(rows[i], shared.ErrInvalidProduct); err != nil {
			return UpsertResult{}, fmt.Errorf("row %d: %w", i+1, err)
		}
		row := rows[i]
		if err := validatePricing(row.RetailPrice, row.WholesalePrice, row.VIPPrice, row.WholesaleThreshold); err != nil {
			return UpsertResult{}, fmt.Errorf("row %d: %w", i+1, err)
		}
		key := strings.ToLower(row.Name)
		if prev, dup := seen[key]; dup {
			return UpsertResult{}, fmt.Errorf("%w: row %d duplicates row %d (%s)", shared.ErrInvalidProduct, i+1, prev, row.Name)
		}
		seen[key] = i + 1
	}
	var result UpsertResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.now().UTC()
		for _, row := range rows {
			current, err := tx.GetProductByName(ctx, row.Name)
			if errors.Is(err, shared.ErrNotFound) {
				p := Product{
					Name:               row.Name,
					RetailPrice:        row.RetailPrice,
					WholesalePrice:     row.WholesalePrice,
					VIPPrice:           row.VIPPrice,
					OnHand:             decimal.Zero,
					WholesaleThreshold: row.WholesaleThreshold,
					CreatedAt:          now,
					UpdatedAt:          now,
				}
				if _, err := tx.InsertProduct(ctx, p); err != nil {
					return err
				}
				result.Created++
				continue
			}
			if err != nil {
				return err
			}
			next := current
			next.RetailPrice = row.RetailPrice
			next.WholesalePrice = row.WholesalePrice
			next.VIPPrice = row.VIPPrice
			next.WholesaleThreshold = row.WholesaleThreshold
			if sameCatalogFields(current, next) {
				result.Unchanged++
				continue
			}
			changes, err := s.applyUpdate(ctx, tx, actor, current, next)
			if err != nil {
				return err
			}
			result.PriceChanges = append(result.PriceChanges, changes...)
			result.Updated++
		}
		return nil
	})
	if err != nil {
		return UpsertResult{}, err
	}
	if result.Created+result.Updated > 0 {
		result.Changed = shared.Changes(shared.CollectionProducts)
	}
	if len(result.PriceChanges) > 0 {
		result.Changed = result.Changed.Merge(shared.Changes(shared.CollectionPriceHistory))
	}
	s.record(ctx, actor, "catalog:bulk_upsert", 0, map[string]any{
		"created":   result.Created,
		"updated":   result.Updated,
		"unchanged": result.Unchanged,
	})
	return result, nil
}

// ListProducts returns products matching filter.
func (s *Service) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	if _, err := shared.Authorize(ctx, s.authz, shared.CmdCatalogList); err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, filter)
}

// GetProduct returns a product by id.
func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	if _, err := shared.Authorize(ctx, s.authz, shared.CmdCatalogList); err != nil {
		return Product{}, err
	}
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return Product{}, LookupError(err, id)
	}
	return p, nil
}

// PriceHistory lists price changes, newest first.
func (s *Service) PriceHistory(ctx context.Context, filter PriceHistoryFilter) ([]PriceHistory, error) {
	if _, err := shared.Authorize(ctx, s.authz, shared.CmdCatalogPriceLog); err != nil {
		return nil, err
	}
	if filter.Tier != "" && !filter.Tier.Valid() {
		return nil, fmt.Errorf("%w: %q", shared.ErrInvalidTier, filter.Tier)
	}
	return s.repo.ListPriceHistory(ctx, filter)
}

func (s *Service) applyUpdate(ctx context.Context, tx TxRepository, actor shared.Actor, current, next Product) ([]PriceHistory, error) {
	now := s.now().UTC()
	next.UpdatedAt = now
	if err := tx.UpdateProduct(ctx, next); err != nil {
		return nil, err
	}
	var changes []PriceHistory
	for _, tier := range Tiers {
		oldPrice, newPrice := current.Price(tier), next.Price(tier)
		if oldPrice.Equal(newPrice) {
			continue
		}
		h := PriceHistory{
			ProductID: current.ID,
			Tier:      tier,
			OldPrice:  oldPrice,
			NewPrice:  newPrice,
			UserID:    actor.UserID,
			ChangedAt: now,
		}
		id, err := tx.InsertPriceHistory(ctx, h)
		if err != nil {
			return nil, err
		}
		h.ID = id
		changes = append(changes, h)
	}
	return changes, nil
}

func (s *Service) record(ctx context.Context, actor shared.Actor, action string, productID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "product",
		EntityID: strconv.FormatInt(productID, 10),
		Meta:     meta,
		At:       s.now().UTC(),
	})
}

func ensureNameFree(ctx context.Context, tx TxRepository, name string, selfID int64) error {
	existing, err := tx.GetProductByName(ctx, name)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID != selfID:
		return fmt.Errorf("%w: product %q already exists", shared.ErrInvalidProduct, name)
	}
	return nil
}

func validatePricing(retail, wholesale, vip, threshold decimal.Decimal) error {
	for _, price := range []decimal.Decimal{retail, wholesale, vip} {
		if price.IsNegative() {
			return fmt.Errorf("%w: prices must be >= 0", shared.ErrInvalidAmount)
		}
	}
	if threshold.IsNegative() {
		return fmt.Errorf("%w: wholesale threshold must be >= 0", shared.ErrInvalidQuantity)
	}
	return nil
}

func sameCatalogFields(a, b Product) bool {
	return a.Name == b.Name &&
		a.RetailPrice.Equal(b.RetailPrice) &&
		a.WholesalePrice.Equal(b.WholesalePrice) &&
		a.VIPPrice.Equal(b.VIPPrice) &&
		a.WholesaleThreshold.Equal(b.WholesaleThreshold)
}

// LookupError maps a repository miss to InvalidProduct.
func LookupError(err error, id int64) error {
	if errors.Is(err, shared.ErrNotFound) {
		return fmt.Errorf("%w: product %d not found", shared.ErrInvalidProduct, id)
	}
	return err
}
