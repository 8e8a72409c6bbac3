package export

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lubepos/lubepos/internal/catalog"
	"github.com/lubepos/lubepos/internal/inventory"
	"github.com/lubepos/lubepos/internal/shared"
)

// PriceKey identifies a tier price of a product.
type PriceKey struct {
	ProductID int64
	Tier      catalog.Tier
}

// State is everything the planner reads. Sources holds every live source row per
// product in FIFO order: opening pools by recorded_at then id, then deferred
// lines by invoice created_at then line id.
type State struct {
	Products map[int64]catalog.Product
	Sources  map[int64][]Source
	// CurrentPrices holds the latest recorded price per product and tier.
	CurrentPrices map[PriceKey]decimal.Decimal
}

// Deferred sums the remaining source quantity of a product across tiers.
func (s State) Deferred(productID int64) decimal.Decimal {
	total := decimal.Zero
	for _, src := range s.Sources[productID] {
		total = total.Add(src.Quantity)
	}
	return total
}

func (s State) currentPrice(productID int64, tier catalog.Tier) decimal.Decimal {
	if price, ok := s.CurrentPrices[PriceKey{ProductID: productID, Tier: tier}]; ok {
		return price
	}
	return s.Products[productID].Price(tier)
}

// BuildPlan computes the discharges, overdraws and union differences for a batch
// of requests without touching storage. Union difference rows carry userID and
// at so the plan can be applied verbatim.
func BuildPlan(input PlanInput, state State, userID int64, at time.Time) (Plan, error) {
	if err := validateRequests(input.Requests, state); err != nil {
		return Plan{}, err
	}
	if err := checkSYS(input.Requests, state); err != nil {
		return Plan{}, err
	}
	for _, r := range input.Requests {
		if r.Quantity.IsZero() || !requiresThreshold(r.Tier) {
			continue
		}
		p := state.Products[r.ProductID]
		if r.Quantity.LessThan(p.WholesaleThreshold) {
			return Plan{}, fmt.Errorf("%w: %s needs at least %s units for wholesale, requested %s",
				shared.ErrBelowWholesaleThreshold, p.Name, p.WholesaleThreshold, r.Quantity)
		}
	}

	remaining := make(map[string]decimal.Decimal)
	for _, sources := range state.Sources {
		for _, src := range sources {
			remaining[src.Key()] = src.Quantity
		}
	}

	plan := Plan{
		Items:      make([]PlanItem, 0, len(input.Requests)),
		UnionTotal: decimal.Zero,
	}
	overdrawByProduct := make(map[int64]decimal.Decimal)
	for i, r := range input.Requests {
		p := state.Products[r.ProductID]
		exportPrice := p.Price(r.Tier)
		item := PlanItem{
			Request:         r,
			ProductName:     p.Name,
			ExportUnitPrice: exportPrice,
			Discharged:      decimal.Zero,
			Borrowed:        decimal.Zero,
			Overdraw:        decimal.Zero,
			UnionAmount:     decimal.Zero,
		}
		need := r.Quantity
		for rank, tier := range SourceTiers(r.Tier) {
			if !need.IsPositive() {
				break
			}
			for _, src := range state.Sources[r.ProductID] {
				if src.Tier != tier {
					continue
				}
				left := remaining[src.Key()]
				if !left.IsPositive() {
					continue
				}
				take := decimal.Min(left, need)
				remaining[src.Key()] = left.Sub(take)
				need = need.Sub(take)
				d := Discharge{
					Request:         i,
					Source:          src,
					ExportTier:      r.Tier,
					Quantity:        take,
					SoldUnitPrice:   src.UnitPrice,
					ExportUnitPrice: exportPrice,
					Borrowed:        rank > 0,
				}
				plan.Discharges = append(plan.Discharges, d)
				item.Discharged = item.Discharged.Add(take)
				item.UnionAmount = item.UnionAmount.Add(d.amount())
				if d.Borrowed {
					item.Borrowed = item.Borrowed.Add(take)
					plan.NeedsBorrow = true
				}
				if !need.IsPositive() {
					break
				}
			}
		}
		if need.IsPositive() {
			plan.Overdraws = append(plan.Overdraws, PlannedOverdraw{
				Request:   i,
				ProductID: r.ProductID,
				Tier:      r.Tier,
				Quantity:  need,
				UnitPrice: exportPrice,
			})
			item.Overdraw = need
			plan.NeedsOverdraw = true
			overdrawByProduct[r.ProductID] = overdrawByProduct[r.ProductID].Add(need)
		}
		plan.Items = append(plan.Items, item)
	}

	if err := checkOverdrawStock(input.Requests, state, overdrawByProduct); err != nil {
		return Plan{}, err
	}
	plan.UnionDifferences = aggregateUnion(plan.Discharges, state, userID, at)
	for _, ud := range plan.UnionDifferences {
		plan.UnionTotal = plan.UnionTotal.Add(ud.Amount)
	}
	plan.Description = describe(plan)
	plan.Fingerprint = fingerprint(plan)
	return plan, nil
}

func (d Discharge) amount() decimal.Decimal {
	return d.SoldUnitPrice.Sub(d.ExportUnitPrice).Mul(d.Quantity)
}

func validateRequests(requests []Request, state State) error {
	if len(requests) == 0 {
		return fmt.Errorf("%w: no export requests", shared.ErrInvalidQuantity)
	}
	for i, r := range requests {
		if !r.Tier.Valid() {
			return fmt.Errorf("%w: request %d target tier %q", shared.ErrInvalidTier, i+1, r.Tier)
		}
		if r.Quantity.IsNegative() {
			return fmt.Errorf("%w: request %d quantity %s is negative", shared.ErrInvalidQuantity, i+1, r.Quantity)
		}
		if _, ok := state.Products[r.ProductID]; !ok {
			return fmt.Errorf("%w: product %d not found", shared.ErrInvalidProduct, r.ProductID)
		}
	}
	return nil
}

// checkSYS rejects the batch when the summed demand for any product exceeds
// on-hand stock plus every deferred unit of that product.
func checkSYS(requests []Request, state State) error {
	demand := make(map[int64]decimal.Decimal)
	var order []int64
	for _, r := range requests {
		if _, ok := demand[r.ProductID]; !ok {
			order = append(order, r.ProductID)
		}
		demand[r.ProductID] = demand[r.ProductID].Add(r.Quantity)
	}
	var items []SYSItem
	for _, id := range order {
		p := state.Products[id]
		deferred := state.Deferred(id)
		sys := p.OnHand.Add(deferred)
		if demand[id].GreaterThan(sys) {
			items = append(items, SYSItem{
				ProductID:   id,
				ProductName: p.Name,
				Requested:   demand[id],
				OnHand:      p.OnHand,
				Deferred:    deferred,
				SYS:         sys,
			})
		}
	}
	if len(items) > 0 {
		return &SYSExceededError{Items: items}
	}
	return nil
}

// checkOverdrawStock ensures overdrawn units can come off the shelf.
func checkOverdrawStock(requests []Request, state State, overdraw map[int64]decimal.Decimal) error {
	var shortages []inventory.Shortage
	seen := make(map[int64]struct{})
	for _, r := range requests {
		if _, ok := seen[r.ProductID]; ok {
			continue
		}
		seen[r.ProductID] = struct{}{}
		p := state.Products[r.ProductID]
		if q, ok := overdraw[r.ProductID]; ok && q.GreaterThan(p.OnHand) {
			shortages = append(shortages, inventory.Shortage{
				ProductID:   p.ID,
				ProductName: p.Name,
				Requested:   q,
				Available:   p.OnHand,
			})
		}
	}
	if len(shortages) > 0 {
		return &inventory.StockShortageError{Shortages: shortages}
	}
	return nil
}

// aggregateUnion groups discharges by product, source tier, export tier and sold
// price, keeping only groups with a non-zero amount.
func aggregateUnion(discharges []Discharge, state State, userID int64, at time.Time) []UnionDifference {
	type groupKey struct {
		productID  int64
		sourceTier catalog.Tier
		exportTier catalog.Tier
		sold       string
	}
	index := make(map[groupKey]int)
	var groups []UnionDifference
	for _, d := range discharges {
		key := groupKey{d.Source.ProductID, d.Source.Tier, d.ExportTier, d.SoldUnitPrice.String()}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, UnionDifference{
				UserID:          userID,
				ProductID:       d.Source.ProductID,
				Quantity:        decimal.Zero,
				SourceTier:      d.Source.Tier,
				ExportTier:      d.ExportTier,
				SoldUnitPrice:   d.SoldUnitPrice,
				ExportUnitPrice: d.ExportUnitPrice,
				Amount:          decimal.Zero,
				RecordedAt:      at,
				IsCurrentPrice:  d.SoldUnitPrice.Equal(state.currentPrice(d.Source.ProductID, d.Source.Tier)),
			})
		}
		groups[i].Quantity = groups[i].Quantity.Add(d.Quantity)
		groups[i].Amount = groups[i].Amount.Add(d.amount())
	}
	out := groups[:0]
	for _, g := range groups {
		if !g.Amount.IsZero() {
			out = append(out, g)
		}
	}
	return out
}

func describe(plan Plan) []string {
	lines := make([]string, 0, len(plan.Discharges)+len(plan.Overdraws))
	for _, item := range plan.Items {
		r := item.Request
		if r.Quantity.IsZero() {
			lines = append(lines, fmt.Sprintf("%s: nothing to export", item.ProductName))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: export %s at %s (%s each)", item.ProductName, r.Quantity, r.Tier, item.ExportUnitPrice))
	}
	for _, d := range plan.Discharges {
		name := plan.Items[d.Request].ProductName
		verb := "discharge"
		if d.Borrowed {
			verb = "borrow"
		}
		lines = append(lines, fmt.Sprintf("%s: %s %s from %s %s sold at %s", name, verb, d.Quantity, d.Source.Tier, d.Source.Key(), d.SoldUnitPrice))
	}
	for _, o := range plan.Overdraws {
		name := plan.Items[o.Request].ProductName
		lines = append(lines, fmt.Sprintf("%s: overdraw %s at %s", name, o.Quantity, o.Tier))
	}
	if !plan.UnionTotal.IsZero() {
		lines = append(lines, fmt.Sprintf("union difference total %s", plan.UnionTotal))
	}
	return lines
}

// fingerprint hashes the parts of a plan that execution depends on.
func fingerprint(plan Plan) string {
	var b strings.Builder
	for _, d := range plan.Discharges {
		fmt.Fprintf(&b, "d|%d|%s|%s|%s|%s\n", d.Request, d.Source.Key(), d.Quantity, d.SoldUnitPrice, d.ExportUnitPrice)
	}
	for _, o := range plan.Overdraws {
		fmt.Fprintf(&b, "o|%d|%d|%s|%s|%s\n", o.Request, o.ProductID, o.Tier, o.Quantity, o.UnitPrice)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
