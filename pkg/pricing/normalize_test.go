package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestNormalizeConvertsCurrencyAndDropsUnknown(t *testing.T) {
	comps := []Comparable{
		{PriceCents: 1000, Currency: "USD", Condition: "near mint", Source: "a"},
		{PriceCents: 1000, Currency: "XYZ", Condition: "near mint", Source: "b"},
	}
	out := normalize(comps)
	if len(out) != 1 {
		t.Fatalf("expected the unknown-currency comparable to be dropped, got %d", len(out))
	}
	if out[0].condition != bandNearMint {
		t.Fatalf("expected near-mint band, got %v", out[0].condition)
	}
}

func TestFilterByConditionFallsBackToFullSetWhenNoMatch(t *testing.T) {
	comps := []normalizedComparable{
		{condition: bandDamaged, source: "a"},
	}
	filtered := filterByCondition(comps, bandMint)
	if len(filtered) != 1 {
		t.Fatalf("expected fallback to the full set, got %d", len(filtered))
	}
}

func TestRejectOutliersDropsFarOutliers(t *testing.T) {
	comps := []normalizedComparable{
		{priceCents: decimal.NewFromInt(1000), condition: bandNearMint, source: "a"},
		{priceCents: decimal.NewFromInt(1050), condition: bandNearMint, source: "a"},
		{priceCents: decimal.NewFromInt(1100), condition: bandNearMint, source: "a"},
		{priceCents: decimal.NewFromInt(1080), condition: bandNearMint, source: "a"},
		{priceCents: decimal.NewFromInt(100000), condition: bandNearMint, source: "a"},
	}
	retained, prices := rejectOutliers(comps)
	if len(retained) != 4 {
		t.Fatalf("expected the extreme outlier dropped, got %d retained", len(retained))
	}
	if len(prices) != len(retained) {
		t.Fatalf("expected prices to track retained count")
	}
}

func TestSourcesDeduplicatesAndSorts(t *testing.T) {
	comps := []normalizedComparable{
		{source: "marketplace"},
		{source: "live-auction"},
		{source: "marketplace"},
	}
	got := sources(comps)
	if len(got) != 2 || got[0] != "live-auction" || got[1] != "marketplace" {
		t.Fatalf("unexpected sources: %v", got)
	}
}
