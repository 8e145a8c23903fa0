package competitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"pricesync/backend/internal/cache"
	"pricesync/backend/internal/channel"
	"pricesync/backend/internal/domain"
	"pricesync/backend/internal/store/memory"
)

type staticConfig struct{ cfg domain.PricingConfig }

func (s staticConfig) Current() domain.PricingConfig { return s.cfg }

type recordingObserver struct {
	seen []Observation
}

func (r *recordingObserver) OnObservation(_ context.Context, obs Observation) error {
	r.seen = append(r.seen, obs)
	return nil
}

func ptr(v float64) *float64 { return &v }

type mapCache struct {
	entries map[string]domain.CompetitiveOffers
}

func (c *mapCache) Get(_ context.Context, asin string) (*domain.CompetitiveOffers, bool, error) {
	v, ok := c.entries[asin]
	if !ok {
		return nil, false, nil
	}
	return &v, true, nil
}

func (c *mapCache) Set(_ context.Context, asin string, value *domain.CompetitiveOffers, _ time.Duration) error {
	c.entries[asin] = *value
	return nil
}

func (c *mapCache) Delete(_ context.Context, asin string) error {
	delete(c.entries, asin)
	return nil
}

func newTestMonitor(t *testing.T) (*Monitor, *memory.Store, *channel.Simulated, *recordingObserver) {
	t.Helper()
	repo := memory.NewSeeded()
	sim := channel.NewSimulated()
	m := NewMonitor(repo, sim, cache.NoopOfferCache{}, staticConfig{domain.DefaultPricingConfig()}, nil, Options{BatchSize: 10, SellerID: "ME"}, nil)
	obs := &recordingObserver{}
	m.SetObserver(obs)
	return m, repo, sim, obs
}

func TestShouldHaveBuyboxExample(t *testing.T) {
	if ShouldHaveBuybox(48, 45, 0.05) {
		t.Fatalf("48 > 45*1.05=47.25, buy-box should not be held")
	}
	if !ShouldHaveBuybox(47.25, 45, 0.05) {
		t.Fatalf("47.25 is within tolerance")
	}
}

func TestIsSignificant(t *testing.T) {
	cases := []struct {
		name     string
		previous *float64
		current  *float64
		want     bool
	}{
		{"first observation", nil, ptr(10), true},
		{"absolute move", ptr(100), ptr(99), true},
		{"relative move", ptr(20), ptr(20.40), true},
		{"exact two percent up", ptr(49), ptr(49.98), true},
		{"exact two percent down", ptr(49), ptr(48.02), true},
		{"exact one unit", ptr(75.30), ptr(74.30), true},
		{"just under two percent", ptr(49), ptr(49.97), false},
		{"small move", ptr(100), ptr(99.50), false},
		{"unchanged", ptr(45), ptr(45), false},
		{"competitor gone", ptr(45), nil, true},
		{"never seen", nil, nil, false},
	}
	for _, tc := range cases {
		if got := IsSignificant(tc.previous, tc.current); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestIsSignificantAtExactTwoPercentOnCentPrices(t *testing.T) {
	// multiples of 50 cents keep the 2% move a whole number of cents
	for cents := 500; cents <= 20000; cents += 50 {
		previous := float64(cents) / 100
		current := float64(cents+cents/50) / 100
		if !IsSignificant(&previous, &current) {
			t.Fatalf("%.2f -> %.2f is exactly 2%% and must be significant", previous, current)
		}
	}
}

func TestObserveBuyboxLostFiresCriticalTrigger(t *testing.T) {
	m, repo, _, observer := newTestMonitor(t)
	ctx := context.Background()

	_, err := repo.UpdatePricing(ctx, "prd-001", func(p *domain.Product) error {
		p.Price = 48
		p.Pricing.CompetitorPrice = ptr(45.2)
		p.Pricing.CompetitorData.HasBuybox = true
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	obs, err := m.Observe(ctx, "prd-001", domain.CompetitiveOffers{CompetitorPrice: ptr(45), OfferCount: 4})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if obs.Significant {
		t.Fatalf("0.20 move on 45.20 is not significant")
	}
	if !obs.BuyboxLost {
		t.Fatalf("expected buy-box loss")
	}
	if obs.Trigger.Type != domain.TriggerBuyboxLost || obs.Trigger.Urgency != domain.UrgencyCritical {
		t.Fatalf("unexpected trigger: %+v", obs.Trigger)
	}
	if len(observer.seen) != 1 {
		t.Fatalf("expected observer to be notified once, got %d", len(observer.seen))
	}

	p, _ := repo.GetProduct(ctx, "prd-001")
	if p.Pricing.CompetitorData.HasBuybox || p.Pricing.CompetitorData.TotalOffers != 4 {
		t.Fatalf("competitor data not persisted: %+v", p.Pricing.CompetitorData)
	}
}

func TestObserveInsignificantPersistsSilently(t *testing.T) {
	m, repo, _, observer := newTestMonitor(t)
	ctx := context.Background()

	_, _ = repo.UpdatePricing(ctx, "prd-002", func(p *domain.Product) error {
		p.Price = 50
		p.Pricing.CompetitorPrice = ptr(60)
		p.Pricing.CompetitorData.HasBuybox = true
		return nil
	})

	obs, err := m.Observe(ctx, "prd-002", domain.CompetitiveOffers{CompetitorPrice: ptr(59.8), OfferCount: 2})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if obs.Actionable() {
		t.Fatalf("expected non-actionable observation: %+v", obs)
	}
	if len(observer.seen) != 0 {
		t.Fatalf("observer must not be notified for insignificant change")
	}
	p, _ := repo.GetProduct(ctx, "prd-002")
	if p.Pricing.CompetitorPrice == nil || *p.Pricing.CompetitorPrice != 59.8 {
		t.Fatalf("new competitor price must still be persisted")
	}
	if p.Pricing.CompetitorData.LastChecked == nil {
		t.Fatalf("last checked must be set")
	}
}

func TestSweepIsolatesFailuresAndUsesCache(t *testing.T) {
	m, _, sim, observer := newTestMonitor(t)
	ctx := context.Background()

	sim.SetOffers("B0TALADRO1", domain.CompetitiveOffers{CompetitorPrice: ptr(60), OfferCount: 3})
	sim.SetOffers("B0SIERRA01", domain.CompetitiveOffers{CompetitorPrice: ptr(50), OfferCount: 2})
	sim.FailOffers("B0LIJADOR1", channel.ErrUnavailable)

	res, err := m.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Processed != 4 || res.Failed != 1 || res.Successful != 3 {
		t.Fatalf("unexpected batch result: %+v", res)
	}
	if len(res.Errors) != 1 || res.Errors[0].ID != "prd-003" {
		t.Fatalf("expected prd-003 error detail, got %+v", res.Errors)
	}
	if len(observer.seen) != 2 {
		t.Fatalf("expected 2 first observations, got %d", len(observer.seen))
	}

	// checked products are no longer stale
	res, err = m.Sweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if res.Processed != 1 {
		t.Fatalf("only the failed product should be retried, got %d", res.Processed)
	}
}

func TestHandleOfferChangedNotification(t *testing.T) {
	m, repo, _, observer := newTestMonitor(t)
	ctx := context.Background()

	n := domain.OfferNotification{
		NotificationType: domain.NotificationAnyOfferChanged,
		EventTime:        "2026-03-01T10:00:00Z",
		Payload: domain.NotificationPayload{
			Summary: &domain.NotificationSummary{ASIN: "B0SIERRA01", MarketplaceID: "A1RKKUPIHCS9HS"},
			Offers: []domain.NotificationOffer{
				{SellerID: "ME", SellerSKU: "SKU-SIERRA-01", ListingPrice: domain.Money{Amount: 54, CurrencyCode: "EUR"}, IsBuyBoxWinner: false, Condition: "new"},
				{SellerID: "OTHER1", ListingPrice: domain.Money{Amount: 49.5, CurrencyCode: "EUR"}, IsBuyBoxWinner: true, Condition: "new"},
				{SellerID: "OTHER2", ListingPrice: domain.Money{Amount: 47, CurrencyCode: "EUR"}, Condition: "used"},
				{SellerID: "OTHER3", ListingPrice: domain.Money{Amount: 51, CurrencyCode: "EUR"}, Condition: "New"},
			},
		},
	}

	obs, err := m.HandleNotification(ctx, n)
	if err != nil {
		t.Fatalf("handle notification: %v", err)
	}
	if obs.CompetitorPrice == nil || *obs.CompetitorPrice != 49.5 {
		t.Fatalf("expected lowest new competitor price 49.5, got %v", obs.CompetitorPrice)
	}
	if obs.HasBuybox {
		t.Fatalf("competitor holds the buy-box")
	}
	if len(observer.seen) != 1 {
		t.Fatalf("first observation should notify")
	}

	p, _ := repo.GetProduct(ctx, "prd-002")
	if p.Pricing.CompetitorData.BuyboxPrice == nil || *p.Pricing.CompetitorData.BuyboxPrice != 49.5 {
		t.Fatalf("buy-box price not persisted: %+v", p.Pricing.CompetitorData)
	}
	if p.Pricing.CompetitorData.TotalOffers != 3 {
		t.Fatalf("used offers must be ignored, got %d", p.Pricing.CompetitorData.TotalOffers)
	}
}

func TestHandlePricingHealthMarksAlert(t *testing.T) {
	m, repo, _, observer := newTestMonitor(t)
	ctx := context.Background()

	obs, err := m.HandleNotification(ctx, domain.OfferNotification{
		NotificationType: domain.NotificationPricingHealth,
		Payload:          domain.NotificationPayload{SellerSKU: "SKU-BROCAS-01", IssueType: "BuyBoxIneligible"},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if obs.Trigger.Urgency != domain.UrgencyCritical {
		t.Fatalf("expected critical trigger, got %+v", obs.Trigger)
	}
	p, _ := repo.GetProduct(ctx, "prd-004")
	if p.Pricing.PricingStatus != domain.PricingStatusCompetitorAlert {
		t.Fatalf("expected competitor_alert status, got %s", p.Pricing.PricingStatus)
	}
	if len(observer.seen) != 1 {
		t.Fatalf("expected observer notification")
	}
}

func TestHandlePricingHealthDropsCachedOffers(t *testing.T) {
	repo := memory.NewSeeded()
	offers := &mapCache{entries: map[string]domain.CompetitiveOffers{
		"B0BROCAS01": {CompetitorPrice: ptr(14.50), OfferCount: 2},
		"B0TALADRO1": {CompetitorPrice: ptr(60), OfferCount: 1},
	}}
	m := NewMonitor(repo, channel.NewSimulated(), offers, staticConfig{domain.DefaultPricingConfig()}, nil, Options{BatchSize: 10, SellerID: "ME"}, nil)

	_, err := m.HandleNotification(context.Background(), domain.OfferNotification{
		NotificationType: domain.NotificationPricingHealth,
		Payload:          domain.NotificationPayload{SellerSKU: "SKU-BROCAS-01", IssueType: "BuyBoxIneligible"},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, ok := offers.entries["B0BROCAS01"]; ok {
		t.Fatalf("flagged listing must not be served from cache")
	}
	if _, ok := offers.entries["B0TALADRO1"]; !ok {
		t.Fatalf("other listings keep their cached offers")
	}
}

func TestHandleUnknownNotification(t *testing.T) {
	m, _, _, _ := newTestMonitor(t)
	_, err := m.HandleNotification(context.Background(), domain.OfferNotification{NotificationType: "FEE_CHANGE"})
	if !errors.Is(err, ErrUnknownNotification) {
		t.Fatalf("expected ErrUnknownNotification, got %v", err)
	}
}

func TestEventTimeFallsBack(t *testing.T) {
	fallback := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := eventTime("not-a-time", fallback); !got.Equal(fallback) {
		t.Fatalf("expected fallback, got %s", got)
	}
}
