package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"pricesync/backend/internal/domain"
	"pricesync/backend/internal/store"
)

func TestApplyPriceRejectsStaleVersion(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	p, err := s.GetProduct(ctx, "prd-001")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	stale := p.Pricing.Version

	if _, err := s.UpdatePricing(ctx, p.ID, func(p *domain.Product) error {
		p.Pricing.Weight = 3
		return nil
	}); err != nil {
		t.Fatalf("update pricing: %v", err)
	}

	_, err = s.ApplyPrice(ctx, p.ID, 70, time.Now(), stale)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	fresh, _ := s.GetProduct(ctx, p.ID)
	applied, err := s.ApplyPrice(ctx, p.ID, 70, time.Now(), fresh.Pricing.Version)
	if err != nil {
		t.Fatalf("apply price: %v", err)
	}
	if applied.Price != 70 || applied.Pricing.AutoUpdateCount != 1 {
		t.Fatalf("unexpected applied product: price=%v count=%d", applied.Price, applied.Pricing.AutoUpdateCount)
	}
	if applied.Pricing.PricingStatus != domain.PricingStatusOK {
		t.Fatalf("expected status ok, got %s", applied.Pricing.PricingStatus)
	}
}

func TestUpdatePricingMutatorErrorWritesNothing(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := s.UpdatePricing(ctx, "prd-002", func(p *domain.Product) error {
		p.Pricing.Cost = 999
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutator error, got %v", err)
	}
	p, _ := s.GetProduct(ctx, "prd-002")
	if p.Pricing.Cost == 999 {
		t.Fatalf("mutator error must not persist changes")
	}
}

func TestReturnedProductsAreCopies(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	p, _ := s.GetProduct(ctx, "prd-003")
	*p.StorefrontPrice = 1

	again, _ := s.GetProduct(ctx, "prd-003")
	if *again.StorefrontPrice == 1 {
		t.Fatalf("store leaked internal pointer")
	}
}

func TestCreateActionRejectsSecondOpenPerType(t *testing.T) {
	s := New()
	ctx := context.Background()

	first := domain.PendingAction{ProductID: "p1", ActionType: domain.ActionMissingCost, Priority: domain.PriorityCritical}
	if _, err := s.CreateAction(ctx, first); err != nil {
		t.Fatalf("create action: %v", err)
	}
	if _, err := s.CreateAction(ctx, first); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate open action, got %v", err)
	}
}

func TestListForCompetitorCheckSkipsFreshAndUnlisted(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := s.UpdatePricing(ctx, "prd-001", func(p *domain.Product) error {
		p.Pricing.CompetitorData.LastChecked = &now
		return nil
	}); err != nil {
		t.Fatalf("update pricing: %v", err)
	}

	products, err := s.ListForCompetitorCheck(ctx, now.Add(-30*time.Minute), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, p := range products {
		if p.ID == "prd-001" {
			t.Fatalf("recently checked product must be skipped")
		}
		if p.ASIN == "" {
			t.Fatalf("product without listing id must be skipped: %s", p.ID)
		}
	}
	if len(products) != 3 {
		t.Fatalf("expected 3 eligible products, got %d", len(products))
	}
}

func TestDeleteExpiredActionsKeepsTerminalAndUnexpiring(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)

	expired, _ := s.CreateAction(ctx, domain.PendingAction{ProductID: "p1", ActionType: domain.ActionCompetitorAlert, ExpiresAt: &past})
	_, _ = s.CreateAction(ctx, domain.PendingAction{ProductID: "p1", ActionType: domain.ActionMissingCost})
	_, _ = s.CreateAction(ctx, domain.PendingAction{ProductID: "p2", ActionType: domain.ActionSyncError, Status: domain.ActionStatusResolved, ExpiresAt: &past})

	deleted, err := s.DeleteExpiredActions(ctx, now)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
	if _, err := s.GetAction(ctx, expired.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expired action should be gone, got %v", err)
	}
}

func TestPricingConfigMissingUntilSaved(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.GetPricingConfig(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before bootstrap, got %v", err)
	}
	if err := s.SavePricingConfig(ctx, domain.DefaultPricingConfig()); err != nil {
		t.Fatalf("save config: %v", err)
	}
	cfg, err := s.GetPricingConfig(ctx)
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if cfg.GlobalMargin != 0.75 || len(cfg.ShippingTiers) != 5 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
