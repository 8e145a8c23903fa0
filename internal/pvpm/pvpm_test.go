package pvpm

import (
	"errors"
	"testing"

	"pricesync/backend/internal/domain"
)

func testConfig() domain.PricingConfig {
	return domain.DefaultPricingConfig()
}

func ptr(v float64) *float64 { return &v }

func TestCalculateIsDeterministic(t *testing.T) {
	cfg := testConfig()
	in := Input{Cost: 50, Margin: ptr(0.75), Weight: 2}

	first, err := Calculate(in, cfg)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	second, err := Calculate(in, cfg)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical output, got %+v and %+v", first, second)
	}
	// 50/0.75 = 66.666..; *1.21 = 80.666..; + 4.57 (<=3kg) = 85.24
	if first.PVPM != 85.24 {
		t.Fatalf("expected pvpm 85.24, got %v", first.PVPM)
	}
	if first.ShippingCost != 4.57 {
		t.Fatalf("expected tier shipping 4.57, got %v", first.ShippingCost)
	}
}

func TestShippingCostTiers(t *testing.T) {
	cfg := domain.PricingConfig{
		DefaultShippingCost: 4.99,
		ShippingTiers: []domain.WeightTier{
			{MaxWeight: 1, Cost: 4.18},
			{MaxWeight: 3, Cost: 4.57},
			{MaxWeight: 5, Cost: 4.93},
		},
		ExtraWeightCostPerKg: 0.47,
	}

	cases := []struct {
		weight float64
		want   float64
	}{
		{weight: 0.5, want: 4.18},
		{weight: 1, want: 4.18},
		{weight: 4, want: 4.93},
		{weight: 7, want: 5.87},
		{weight: 0, want: 4.99},
		{weight: -2, want: 4.99},
	}
	for _, tc := range cases {
		if got := ShippingCost(tc.weight, cfg); got != tc.want {
			t.Fatalf("weight %v: expected %v, got %v", tc.weight, tc.want, got)
		}
	}

	cfg.ShippingTiers = nil
	if got := ShippingCost(3, cfg); got != 4.99 {
		t.Fatalf("empty table should use default shipping, got %v", got)
	}
}

func TestCalculateOverrides(t *testing.T) {
	cfg := testConfig()
	in := Input{Cost: 10, CustomCost: ptr(20), Margin: ptr(0.5), CustomShippingCost: ptr(0), Weight: 12}

	got, err := Calculate(in, cfg)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	// 20/0.5 = 40; *1.21 = 48.40; shipping override 0
	if got.PVPM != 48.40 || got.Cost != 20 || got.ShippingCost != 0 {
		t.Fatalf("unexpected breakdown: %+v", got)
	}
}

func TestCalculateRejectsInvalidInputs(t *testing.T) {
	cfg := testConfig()

	if _, err := Calculate(Input{Cost: 0}, cfg); !errors.Is(err, ErrInvalidCost) {
		t.Fatalf("expected ErrInvalidCost, got %v", err)
	}
	if _, err := Calculate(Input{Cost: 10, CustomCost: ptr(-1)}, cfg); !errors.Is(err, ErrInvalidCost) {
		t.Fatalf("expected ErrInvalidCost for negative custom cost, got %v", err)
	}
	if _, err := Calculate(Input{Cost: 10, Margin: ptr(0)}, cfg); !errors.Is(err, ErrInvalidMargin) {
		t.Fatalf("expected ErrInvalidMargin, got %v", err)
	}
	if _, err := Calculate(Input{Cost: 10, Margin: ptr(1.2)}, cfg); !errors.Is(err, ErrInvalidMargin) {
		t.Fatalf("expected ErrInvalidMargin above 1, got %v", err)
	}
}

func TestShippingBeyondDefaultTable(t *testing.T) {
	cfg := testConfig()
	// 20kg tier is 7.50; 23kg adds 3*0.47
	if got := ShippingCost(23, cfg); got != 8.91 {
		t.Fatalf("expected 8.91, got %v", got)
	}
}
