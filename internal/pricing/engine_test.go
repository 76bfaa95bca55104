package pricing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeSingleItemWithMarginAndDefaultVAT(t *testing.T) {
	totals := Compute([]Draft{{ProductID: "p-1", Quantity: "2", UnitCostNet: "1000"}}, "25", DefaultVATPercent)

	require.Len(t, totals.Lines, 1)
	line := totals.Lines[0]
	require.Equal(t, int64(2), line.Quantity)
	require.Equal(t, Money(1000), line.UnitCost)
	require.Equal(t, Money(2000), line.CostNet)
	require.Equal(t, Money(1250), line.UnitSalePrice)
	require.Equal(t, Money(2500), line.SaleNet)
	require.Equal(t, int64(19), line.VATPercent)
	require.Equal(t, Money(475), line.VATAmount)
	require.Equal(t, Money(2975), line.LineTotal)

	require.Equal(t, Money(2000), totals.TotalCost)
	require.Equal(t, Money(500), totals.TotalProfit)
	require.Equal(t, Money(2500), totals.TotalNet)
	require.Equal(t, Money(475), totals.TotalVAT)
	require.Equal(t, Money(2975), totals.GrandTotal)
}

func TestComputeEmptyMarginKeepsCost(t *testing.T) {
	for _, margin := range []string{"", "   ", "abc", "12%"} {
		totals := Compute([]Draft{{Quantity: "3", UnitCostNet: "990"}}, margin, DefaultVATPercent)
		require.Equal(t, Money(990), totals.Lines[0].UnitSalePrice, "margin %q", margin)
		require.Equal(t, Money(0), totals.TotalProfit, "margin %q", margin)
	}
}

func TestComputeNegativeQuantityClampsToOne(t *testing.T) {
	totals := Compute([]Draft{{Quantity: "-3", UnitCostNet: "100"}}, "0", DefaultVATPercent)
	require.Equal(t, int64(1), totals.Lines[0].Quantity)
	require.Equal(t, Money(100), totals.Lines[0].SaleNet)
}

func TestComputeMixedVATOverrides(t *testing.T) {
	items := []Draft{
		{ProductID: "exento", Quantity: "1", UnitCostNet: "1000", VATPercentOverride: "0"},
		{ProductID: "afecto", Quantity: "3", UnitCostNet: "333"},
	}
	totals := Compute(items, "25", DefaultVATPercent)

	exempt, taxed := totals.Lines[0], totals.Lines[1]
	require.Equal(t, int64(0), exempt.VATPercent)
	require.Equal(t, Money(0), exempt.VATAmount)
	require.Equal(t, Money(1250), exempt.LineTotal)

	require.Equal(t, int64(19), taxed.VATPercent)
	require.Equal(t, Money(416), taxed.UnitSalePrice)
	require.Equal(t, Money(1248), taxed.SaleNet)
	require.Equal(t, Money(237), taxed.VATAmount)
	require.Equal(t, Money(1485), taxed.LineTotal)

	require.Equal(t, exempt.LineTotal+taxed.LineTotal, totals.GrandTotal)
	require.Equal(t, Money(2735), totals.GrandTotal)
}

func TestComputeRoundsBeforeAggregating(t *testing.T) {
	// each line VAT is 9.5 -> 10, the exact sum would be 19
	items := []Draft{
		{Quantity: "1", UnitCostNet: "50"},
		{Quantity: "1", UnitCostNet: "50"},
	}
	totals := Compute(items, "0", DefaultVATPercent)
	require.Equal(t, Money(10), totals.Lines[0].VATAmount)
	require.Equal(t, Money(20), totals.TotalVAT)
	require.Equal(t, Money(120), totals.GrandTotal)
}

func TestComputeTiesRoundHalfUp(t *testing.T) {
	totals := Compute([]Draft{{Quantity: "1", UnitCostNet: "2"}}, "25", 0)
	require.Equal(t, Money(3), totals.Lines[0].UnitSalePrice)

	totals = Compute([]Draft{{Quantity: "1", UnitCostNet: "1"}}, "12.5", 0)
	require.Equal(t, Money(1), totals.Lines[0].UnitSalePrice)

	totals = Compute([]Draft{{Quantity: "1", UnitCostNet: "10"}}, "15", 0)
	require.Equal(t, Money(12), totals.Lines[0].UnitSalePrice)
}

func TestComputeIsDeterministic(t *testing.T) {
	items := []Draft{
		{ProductID: "a", Quantity: "7", UnitCostNet: "1234.5", VATPercentOverride: "10"},
		{ProductID: "b", Quantity: "x", UnitCostNet: "-9"},
	}
	first := Compute(items, "33.3", DefaultVATPercent)
	second := Compute(items, "33.3", DefaultVATPercent)
	require.Equal(t, first, second)
}

func TestComputeGrandTotalEqualsSumOfLines(t *testing.T) {
	items := []Draft{
		{Quantity: "4", UnitCostNet: "17"},
		{Quantity: "11", UnitCostNet: "3", VATPercentOverride: "7"},
		{Quantity: "2.9", UnitCostNet: "999.5", VATPercentOverride: "142"},
		{Quantity: "", UnitCostNet: ""},
	}
	for _, margin := range []string{"0", "17", "-20", "3.75", "nope"} {
		totals := Compute(items, margin, DefaultVATPercent)
		var sum Money
		for _, l := range totals.Lines {
			sum += l.LineTotal
		}
		require.Equal(t, sum, totals.GrandTotal, "margin %q", margin)
		require.Equal(t, totals.TotalNet+totals.TotalVAT, totals.GrandTotal, "margin %q", margin)
	}
}

func TestComputeEmptyItems(t *testing.T) {
	totals := Compute(nil, "25", DefaultVATPercent)
	require.NotNil(t, totals.Lines)
	require.Empty(t, totals.Lines)
	require.Equal(t, Money(0), totals.GrandTotal)
}

func TestParseQuantity(t *testing.T) {
	cases := map[string]int64{
		"1":        1,
		"2.9":      2,
		" 5 ":      5,
		"0":        1,
		"0.5":      1,
		"-3":       1,
		"":         1,
		"abc":      1,
		"1e2":      100,
		"99999999": MaxQuantity,
	}
	for in, want := range cases {
		require.Equal(t, want, ParseQuantity(in), "input %q", in)
	}
}

func TestParseUnitCost(t *testing.T) {
	cases := map[string]Money{
		"1000":         1000,
		"1000.4":       1000,
		"1000.5":       1001,
		"0":            0,
		"-1":           0,
		"":             0,
		"$1000":        0,
		"123456789012": MaxUnitCost,
	}
	for in, want := range cases {
		require.Equal(t, want, ParseUnitCost(in), "input %q", in)
	}
}

func TestResolveVATPercent(t *testing.T) {
	cases := []struct {
		override string
		def      int64
		want     int64
	}{
		{"", 19, 19},
		{"  ", 19, 19},
		{"0", 19, 0},
		{"10.5", 19, 11},
		{"10.4", 19, 10},
		{"-5", 19, 0},
		{"250", 19, 100},
		{"iva", 19, 19},
		{"", 140, 100},
		{"", -1, 0},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ResolveVATPercent(tc.override, tc.def), "override %q default %d", tc.override, tc.def)
	}
}

func TestMarginMultiplier(t *testing.T) {
	require.Equal(t, "1.25", MarginMultiplier("25").String())
	require.Equal(t, "1", MarginMultiplier("").String())
	require.Equal(t, "0.9", MarginMultiplier("-10").String())
	require.Equal(t, "0", MarginMultiplier("-250").String())
	require.Equal(t, "11", MarginMultiplier("5000").String())
}

func TestExtremeExponentsAreNonNumeric(t *testing.T) {
	for _, in := range []string{"1e20000000", "1e-20000000", "1e19", "1e-19", "123456789012345678901234567890123"} {
		require.Equal(t, int64(1), ParseQuantity(in), "quantity %q", in)
		require.Equal(t, Money(0), ParseUnitCost(in), "unit cost %q", in)
		require.Equal(t, int64(19), ResolveVATPercent(in, 19), "vat %q", in)
		require.Equal(t, "1", MarginMultiplier(in).String(), "margin %q", in)
	}

	totals := Compute([]Draft{{ProductID: "p-1", Quantity: "1e20000000", UnitCostNet: "1e-20000000", VATPercentOverride: "1e20000000"}}, "1e-20000000", 19)
	require.Equal(t, Money(0), totals.GrandTotal)
}
