/*
pricing.go - Deterministic price breakdown computation

PURPOSE:
  Pure computation of a unit's or booking's price from base price, area,
  premium rules, discounts, additional charges, and tax rates. No mutable
  state, no I/O: the same input always produces the same breakdown, so
  totals are reproducible across retries and audits.

COMPUTATION ORDER:
  1. Base subtotal  = base price x chargeable area (or the base price as-is
     when it is already area-inclusive)
  2. Floor premium  = floor-rise rule: fixed amount x area, or percent of
     the base subtotal; applied once
  3. View premiums  = percent of base subtotal, one per declared view
  4. Ad-hoc adjustments: fixed or percentage; kind "discount" subtracts,
     every other kind adds
  5. Discounts      = only entries with status approved subtract; pending
     and rejected entries are carried in the breakdown for audit but do not
     change the total
  6. Charges        = flat amounts added post-premium
  7. Taxes          = each rate percent x taxable subtotal, where the
     subtotal is base + premiums + charges - approved discounts

OUTPUT:
  A fully itemized PriceBreakdown, never a bare number, so approval and
  audit surfaces can reproduce every line without recomputation.
*/
package sales

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PRICING VALUE TYPES - Owned by the booking/unit that embeds them
// =============================================================================

// AdjustmentKind distinguishes fixed-amount from percentage entries.
type AdjustmentKind string

const (
	AdjustFixed   AdjustmentKind = "fixed"
	AdjustPercent AdjustmentKind = "percentage"
)

// PremiumAdjustment is an ad-hoc price adjustment on a unit or booking.
// Type "discount" subtracts; any other type (plc, corner, facing, ...) adds.
type PremiumAdjustment struct {
	Name  string
	Type  string
	Kind  AdjustmentKind
	Value decimal.Decimal
}

const AdjustmentTypeDiscount = "discount"

// ViewPremium is a percentage premium for a declared view.
type ViewPremium struct {
	Name    string
	Percent decimal.Decimal
}

// FloorRiseMode selects how a tower's floor-rise rule is applied.
type FloorRiseMode string

const (
	FloorRisePerArea       FloorRiseMode = "fixed_per_area"
	FloorRisePercentOfBase FloorRiseMode = "percent_of_base"
)

// FloorRiseRule is the resolved floor premium rule for one unit's floor.
type FloorRiseRule struct {
	Mode  FloorRiseMode
	Value decimal.Decimal
}

// DiscountStatus tracks the approval state of a discount entry.
type DiscountStatus string

const (
	DiscountPending  DiscountStatus = "pending"
	DiscountApproved DiscountStatus = "approved"
	DiscountRejected DiscountStatus = "rejected"
)

// Discount is a discount entry on a booking. Amount is the computed money
// value; for percentage discounts it is derived when the discount is added.
type Discount struct {
	ID         string
	Name       string
	Kind       AdjustmentKind
	Value      decimal.Decimal
	Amount     decimal.Decimal
	Status     DiscountStatus
	ApprovalID *ApprovalID
	GrantedBy  ActorID
	GrantedAt  time.Time
}

// AdditionalCharge is a flat amount added after premiums.
type AdditionalCharge struct {
	Name   string
	Amount decimal.Decimal
}

// =============================================================================
// PRICE INPUT / BREAKDOWN
// =============================================================================

// PriceInput is everything ComputePrice needs. Callers assemble it from the
// unit snapshot on the booking plus tenant tax configuration.
type PriceInput struct {
	// BasePrice is either a rate per area unit or, when AreaInclusive is
	// set, the full base amount for the unit.
	BasePrice     decimal.Decimal
	Area          decimal.Decimal
	AreaInclusive bool

	FloorRise   *FloorRiseRule
	Views       []ViewPremium
	Adjustments []PremiumAdjustment
	Discounts   []Discount
	Charges     []AdditionalCharge
	Taxes       TaxRates
}

// BreakdownLine is one named amount in a breakdown.
type BreakdownLine struct {
	Name   string
	Amount decimal.Decimal
}

// PriceBreakdown itemizes every component of a computed total.
type PriceBreakdown struct {
	BaseAmount decimal.Decimal

	FloorPremium decimal.Decimal
	ViewPremiums []BreakdownLine
	Adjustments  []BreakdownLine // signed: discount-type entries are negative
	PremiumTotal decimal.Decimal // floor + views + adjustments

	DiscountLines     []BreakdownLine // approved only; audit lines below
	ExcludedDiscounts []BreakdownLine // pending/rejected, not in the total
	DiscountTotal     decimal.Decimal

	ChargeLines []BreakdownLine
	ChargeTotal decimal.Decimal

	// TaxableAmount = base + premiums + charges - approved discounts.
	TaxableAmount decimal.Decimal
	TaxLines      []BreakdownLine
	TaxTotal      decimal.Decimal

	Total decimal.Decimal
}

// =============================================================================
// PRICING ENGINE
// =============================================================================

// PricingEngine computes price breakdowns. It is stateless; the zero value
// is ready to use and safe to share.
type PricingEngine struct{}

func NewPricingEngine() *PricingEngine { return &PricingEngine{} }

// ComputePrice derives the full itemized breakdown for in.
func (e *PricingEngine) ComputePrice(in PriceInput) PriceBreakdown {
	var bd PriceBreakdown

	// 1. Base subtotal
	bd.BaseAmount = in.BasePrice
	if !in.AreaInclusive {
		bd.BaseAmount = in.BasePrice.Mul(in.Area)
	}

	// 2. Floor premium, applied once
	if in.FloorRise != nil {
		switch in.FloorRise.Mode {
		case FloorRisePerArea:
			bd.FloorPremium = in.FloorRise.Value.Mul(in.Area)
		case FloorRisePercentOfBase:
			bd.FloorPremium = PercentOf(in.FloorRise.Value, bd.BaseAmount)
		}
	}

	// 3. View premiums, percent of base subtotal each
	for _, v := range in.Views {
		amt := PercentOf(v.Percent, bd.BaseAmount)
		bd.ViewPremiums = append(bd.ViewPremiums, BreakdownLine{Name: v.Name, Amount: amt})
	}

	// 4. Ad-hoc adjustments
	for _, adj := range in.Adjustments {
		amt := adj.Value
		if adj.Kind == AdjustPercent {
			amt = PercentOf(adj.Value, bd.BaseAmount)
		}
		if adj.Type == AdjustmentTypeDiscount {
			amt = amt.Neg()
		}
		bd.Adjustments = append(bd.Adjustments, BreakdownLine{Name: adj.Name, Amount: amt})
	}

	bd.PremiumTotal = bd.FloorPremium
	for _, l := range bd.ViewPremiums {
		bd.PremiumTotal = bd.PremiumTotal.Add(l.Amount)
	}
	for _, l := range bd.Adjustments {
		bd.PremiumTotal = bd.PremiumTotal.Add(l.Amount)
	}

	// 5. Discounts: approved entries count, the rest are audit-only
	for _, d := range in.Discounts {
		line := BreakdownLine{Name: d.Name, Amount: d.Amount}
		if d.Status == DiscountApproved {
			bd.DiscountLines = append(bd.DiscountLines, line)
			bd.DiscountTotal = bd.DiscountTotal.Add(d.Amount)
		} else {
			bd.ExcludedDiscounts = append(bd.ExcludedDiscounts, line)
		}
	}

	// 6. Additional charges
	for _, c := range in.Charges {
		bd.ChargeLines = append(bd.ChargeLines, BreakdownLine{Name: c.Name, Amount: c.Amount})
		bd.ChargeTotal = bd.ChargeTotal.Add(c.Amount)
	}

	// 7. Taxes on the post-discount subtotal
	bd.TaxableAmount = bd.BaseAmount.
		Add(bd.PremiumTotal).
		Add(bd.ChargeTotal).
		Sub(bd.DiscountTotal)

	taxes := []struct {
		name string
		rate decimal.Decimal
	}{
		{"gst", in.Taxes.GSTPercent},
		{"stamp_duty", in.Taxes.StampDutyPercent},
		{"registration", in.Taxes.RegistrationPercent},
		{"other", in.Taxes.OtherPercent},
	}
	for _, t := range taxes {
		if t.rate.IsZero() {
			continue
		}
		amt := PercentOf(t.rate, bd.TaxableAmount)
		bd.TaxLines = append(bd.TaxLines, BreakdownLine{Name: t.name, Amount: amt})
		bd.TaxTotal = bd.TaxTotal.Add(amt)
	}

	bd.Total = bd.TaxableAmount.Add(bd.TaxTotal)
	return bd
}
