package invoice

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/lubepos/lubepos/internal/catalog"
	"github.com/lubepos/lubepos/internal/shared"
)

// ResolveTier picks the price tier for a basket item. A zero threshold lets every
// non-VIP quantity qualify for wholesale.
func ResolveTier(p catalog.Product, quantity decimal.Decimal, isVIP bool) catalog.Tier {
	switch {
	case isVIP:
		return catalog.TierVIP
	case quantity.GreaterThanOrEqual(p.WholesaleThreshold):
		return catalog.TierWholesale
	default:
		return catalog.TierRetail
	}
}

// UnionDelta is the retail-over-wholesale spread a retail line carries.
// Other tiers carry none.
func UnionDelta(p catalog.Product, tier catalog.Tier, quantity, discount decimal.Decimal) decimal.Decimal {
	if tier != catalog.TierRetail {
		return decimal.Zero
	}
	return p.RetailPrice.Sub(p.WholesalePrice).Mul(quantity).Sub(discount)
}

// PriceItem turns a basket item into an unsaved line.
func PriceItem(p catalog.Product, item BasketItem) (Line, error) {
	if !item.Quantity.IsPositive() {
		return Line{}, fmt.Errorf("%w: quantity for %s must be > 0", shared.ErrInvalidQuantity, p.Name)
	}
	tier := ResolveTier(p, item.Quantity, item.IsVIP)
	line := Line{
		ProductID: p.ID,
		Quantity:  item.Quantity,
		Tier:      tier,
		UnitPrice: p.Price(tier),
		Discount:  item.Discount,
		IsIssued:  item.IsIssued,
		Note:      item.Note,
	}
	if line.UnitPrice.IsNegative() {
		return Line{}, fmt.Errorf("%w: %s has a negative %s price", shared.ErrInvalidAmount, p.Name, tier)
	}
	if item.Discount.IsNegative() {
		return Line{}, fmt.Errorf("%w: discount for %s must be >= 0", shared.ErrInvalidAmount, p.Name)
	}
	if item.Discount.GreaterThan(line.Quantity.Mul(line.UnitPrice)) {
		return Line{}, fmt.Errorf("%w: discount %s exceeds line subtotal for %s", shared.ErrInvalidAmount, item.Discount, p.Name)
	}
	return line, nil
}

// DeriveStatus is fully_issued iff every line is issued.
func DeriveStatus(lines []Line) Status {
	for _, l := range lines {
		if !l.IsIssued {
			return StatusPartiallyDeferred
		}
	}
	return StatusFullyIssued
}

// LinesTotal sums line totals.
func LinesTotal(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Total())
	}
	return total
}

// DeferredTotal sums the totals of deferred lines.
func DeferredTotal(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		if !l.IsIssued {
			total = total.Add(l.Total())
		}
	}
	return total
}

// LineReference is the movement reference for a line id.
func LineReference(lineID int64) string {
	return "invoice_line:" + strconv.FormatInt(lineID, 10)
}
