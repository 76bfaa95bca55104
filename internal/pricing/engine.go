// Package pricing derives quote line and document totals from raw draft input.
//
// All amounts are CLP pesos in minor units (no decimals). Input text is
// sanitised rather than rejected so the calculator can drive a live preview
// while the user is still typing.
package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value stored in minor units.
type Money = int64

// DefaultVATPercent is the Chilean IVA applied when a line has no override.
const DefaultVATPercent int64 = 19

// Bounds applied while sanitising input so products of quantity and price fit in int64.
const (
	MaxQuantity      int64 = 1_000_000
	MaxUnitCost      Money = 1_000_000_000
	MinMarginPercent int64 = -100
	MaxMarginPercent int64 = 1000
)

var (
	hundred    = decimal.NewFromInt(100)
	one        = decimal.NewFromInt(1)
	minMargin  = decimal.NewFromInt(MinMarginPercent)
	maxMargin  = decimal.NewFromInt(MaxMarginPercent)
	maxQtyDec  = decimal.NewFromInt(MaxQuantity)
	maxCostDec = decimal.NewFromInt(MaxUnitCost)
)

// Draft is a line item as typed into the quote form.
type Draft struct {
	ProductID          string `json:"productId"`
	Quantity           string `json:"quantity"`
	UnitCostNet        string `json:"unitCostNet"`
	VATPercentOverride string `json:"vatPercentOverride,omitempty"`
}

// Line holds the computed values for one draft.
type Line struct {
	ProductID     string `json:"productId"`
	Quantity      int64  `json:"quantity"`
	UnitCost      Money  `json:"unitCost"`
	CostNet       Money  `json:"costNet"`
	UnitSalePrice Money  `json:"unitSalePrice"`
	SaleNet       Money  `json:"saleNet"`
	VATPercent    int64  `json:"vatPercent"`
	VATAmount     Money  `json:"vatAmount"`
	LineTotal     Money  `json:"lineTotal"`
}

// Totals aggregates computed line values for a quote.
type Totals struct {
	Lines       []Line `json:"lines"`
	TotalCost   Money  `json:"totalCost"`
	TotalProfit Money  `json:"totalProfit"`
	TotalNet    Money  `json:"totalNet"`
	TotalVAT    Money  `json:"totalVat"`
	GrandTotal  Money  `json:"grandTotal"`
}

// Compute calculates per-line and aggregate totals. Rounding happens on the
// unit sale price and on each line's VAT amount; aggregates are plain sums.
func Compute(items []Draft, marginPercent string, defaultVAT int64) Totals {
	multiplier := MarginMultiplier(marginPercent)
	totals := Totals{Lines: make([]Line, 0, len(items))}
	for _, it := range items {
		line := computeLine(it, multiplier, defaultVAT)
		totals.Lines = append(totals.Lines, line)
		totals.TotalCost += line.CostNet
		totals.TotalNet += line.SaleNet
		totals.TotalVAT += line.VATAmount
	}
	totals.TotalProfit = totals.TotalNet - totals.TotalCost
	totals.GrandTotal = totals.TotalNet + totals.TotalVAT
	return totals
}

func computeLine(it Draft, multiplier decimal.Decimal, defaultVAT int64) Line {
	qty := ParseQuantity(it.Quantity)
	cost := ParseUnitCost(it.UnitCostNet)
	unitSale := roundHalfUp(decimal.NewFromInt(cost).Mul(multiplier))
	saleNet := qty * unitSale
	vat := ResolveVATPercent(it.VATPercentOverride, defaultVAT)
	vatAmount := roundHalfUp(decimal.NewFromInt(saleNet).Mul(decimal.NewFromInt(vat)).Div(hundred))
	return Line{
		ProductID:     strings.TrimSpace(it.ProductID),
		Quantity:      qty,
		UnitCost:      cost,
		CostNet:       qty * cost,
		UnitSalePrice: unitSale,
		SaleNet:       saleNet,
		VATPercent:    vat,
		VATAmount:     vatAmount,
		LineTotal:     saleNet + vatAmount,
	}
}

// ParseQuantity returns floor(q) when q is a number >= 1, otherwise 1.
func ParseQuantity(raw string) int64 {
	v, ok := parseNumber(raw)
	if !ok || v.LessThan(one) {
		return 1
	}
	if v.GreaterThan(maxQtyDec) {
		return MaxQuantity
	}
	return v.Floor().IntPart()
}

// ParseUnitCost returns round(c) when c is a number >= 0, otherwise 0.
func ParseUnitCost(raw string) Money {
	v, ok := parseNumber(raw)
	if !ok || v.IsNegative() {
		return 0
	}
	if v.GreaterThan(maxCostDec) {
		return MaxUnitCost
	}
	return roundHalfUp(v)
}

// ResolveVATPercent returns the clamped override when one is given, else the
// clamped default. Non-numeric overrides fall back to the default.
func ResolveVATPercent(override string, defaultVAT int64) int64 {
	if v, ok := parseNumber(override); ok {
		if v.IsNegative() {
			return 0
		}
		if v.GreaterThan(hundred) {
			return 100
		}
		return roundHalfUp(v)
	}
	return clampPercent(defaultVAT)
}

// MarginMultiplier converts margin text into 1 + m/100. Non-numeric input
// yields 1 (no margin).
func MarginMultiplier(raw string) decimal.Decimal {
	v, ok := parseNumber(raw)
	if !ok {
		return one
	}
	if v.LessThan(minMargin) {
		v = minMargin
	}
	if v.GreaterThan(maxMargin) {
		v = maxMargin
	}
	return one.Add(v.Div(hundred))
}

// Form fields longer than maxNumberLen, or whose exponent falls outside
// [minExponent, maxExponent], are treated as non-numeric. Comparing decimals
// rescales to the larger exponent, which is unbounded work otherwise.
const (
	maxNumberLen = 32
	minExponent  = -18
	maxExponent  = 18
)

func parseNumber(raw string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || len(s) > maxNumberLen {
		return decimal.Zero, false
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if exp := v.Exponent(); exp < minExponent || exp > maxExponent {
		return decimal.Zero, false
	}
	return v, true
}

// roundHalfUp rounds to the nearest integer with ties away from zero.
func roundHalfUp(v decimal.Decimal) int64 {
	return v.Round(0).IntPart()
}

func clampPercent(v int64) int64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
