package executor

import (
	"context"
	"testing"

	"pricesync/backend/internal/channel"
	"pricesync/backend/internal/domain"
	"pricesync/backend/internal/events"
	"pricesync/backend/internal/store/memory"
)

func newTestExecutor(t *testing.T) (*Executor, *memory.Store, *channel.Simulated, *events.Recorder) {
	t.Helper()
	repo := memory.NewSeeded()
	sim := channel.NewSimulated()
	rec := &events.Recorder{}
	return New(repo, sim, rec, nil), repo, sim, rec
}

func TestExecuteAppliesPriceOnSuccess(t *testing.T) {
	exec, repo, sim, rec := newTestExecutor(t)
	ctx := context.Background()
	p, _ := repo.GetProduct(ctx, "prd-001")

	res, updated := exec.Execute(ctx, *p, domain.Decision{FinalPrice: 61.5, Strategy: domain.StrategyFallback}, domain.TriggerContext{Type: domain.TriggerManual})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.PreviousPrice != 64.90 || res.NewPrice != 61.5 {
		t.Fatalf("unexpected prices: %+v", res)
	}
	if res.FinishedAt.Before(res.StartedAt) {
		t.Fatalf("finish before start")
	}
	if updated == nil || updated.Price != 61.5 || updated.Pricing.AutoUpdateCount != 1 {
		t.Fatalf("local record not updated: %+v", updated)
	}
	if price, _ := sim.SubmittedPrice(p.SKU); price != 61.5 {
		t.Fatalf("channel did not receive price, got %v", price)
	}
	if rec.AppliedCount() != 1 {
		t.Fatalf("expected price.applied event")
	}
}

func TestExecuteChannelFailureLeavesLocalPrice(t *testing.T) {
	exec, repo, sim, rec := newTestExecutor(t)
	ctx := context.Background()
	p, _ := repo.GetProduct(ctx, "prd-002")
	sim.FailSubmits(channel.ErrUnavailable)

	res, updated := exec.Execute(ctx, *p, domain.Decision{FinalPrice: 40}, domain.TriggerContext{})
	if res.Success {
		t.Fatalf("expected failure")
	}
	if res.ChannelError == "" || updated != nil {
		t.Fatalf("unexpected result: %+v updated=%v", res, updated)
	}

	after, _ := repo.GetProduct(ctx, "prd-002")
	if after.Price != p.Price {
		t.Fatalf("local price changed from %v to %v", p.Price, after.Price)
	}
	if after.Pricing.PricingStatus != domain.PricingStatusManualReview {
		t.Fatalf("expected manual_review, got %s", after.Pricing.PricingStatus)
	}
	if after.Pricing.PricingStatusMessage == "" {
		t.Fatalf("expected error message on status")
	}
	if rec.AppliedCount() != 0 {
		t.Fatalf("no event on failure")
	}
}

func TestExecuteFollowsChannelOnVersionConflict(t *testing.T) {
	exec, repo, _, _ := newTestExecutor(t)
	ctx := context.Background()
	p, _ := repo.GetProduct(ctx, "prd-004")

	// concurrent competitor update bumps the version after the decision was made
	_, _ = repo.UpdatePricing(ctx, p.ID, func(p *domain.Product) error {
		p.Pricing.CompetitorData.TotalOffers = 5
		return nil
	})

	res, updated := exec.Execute(ctx, *p, domain.Decision{FinalPrice: 16.5}, domain.TriggerContext{})
	if !res.Success || updated == nil || updated.Price != 16.5 {
		t.Fatalf("expected local write to follow channel, got %+v", res)
	}
	if updated.Pricing.CompetitorData.TotalOffers != 5 {
		t.Fatalf("concurrent update lost")
	}
}
