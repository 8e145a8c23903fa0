// Package competitor keeps competitor price and buy-box data fresh, either by
// polling the marketplace or from inbound offer-change notifications.
package competitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"pricesync/backend/internal/cache"
	"pricesync/backend/internal/channel"
	"pricesync/backend/internal/domain"
	"pricesync/backend/internal/logging"
	"pricesync/backend/internal/store"
)

const (
	significantAbsolute = 1.0
	significantRelative = 0.02
	// cent prices differ from their float sums by far less than this
	significanceEpsilon = 1e-9
)

var ErrUnknownNotification = errors.New("unknown notification type")

type ConfigSource interface {
	Current() domain.PricingConfig
}

// Observer is told about significant competitor changes and buy-box loss.
type Observer interface {
	OnObservation(ctx context.Context, obs Observation) error
}

type Options struct {
	BatchSize   int
	StaleWindow time.Duration
	CacheTTL    time.Duration
	SellerID    string
}

type Observation struct {
	ProductID        string                `json:"product_id"`
	SKU              string                `json:"sku"`
	PreviousPrice    *float64              `json:"previous_price,omitempty"`
	CompetitorPrice  *float64              `json:"competitor_price,omitempty"`
	FirstObservation bool                  `json:"first_observation"`
	Significant      bool                  `json:"significant"`
	HadBuybox        bool                  `json:"had_buybox"`
	HasBuybox        bool                  `json:"has_buybox"`
	BuyboxLost       bool                  `json:"buybox_lost"`
	Trigger          domain.TriggerContext `json:"trigger"`
}

// Actionable reports whether the observation should reach the decision engine.
func (o Observation) Actionable() bool {
	return o.Significant || o.BuyboxLost
}

type Monitor struct {
	products store.ProductStore
	pricing  channel.PricingPort
	offers   cache.OfferCache
	config   ConfigSource
	throttle *channel.Throttle
	observer Observer
	opts     Options
	now      func() time.Time
	log      *zap.Logger
}

func NewMonitor(products store.ProductStore, pricing channel.PricingPort, offers cache.OfferCache, config ConfigSource, throttle *channel.Throttle, opts Options, log *zap.Logger) *Monitor {
	if offers == nil {
		offers = cache.NoopOfferCache{}
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 20
	}
	if opts.StaleWindow <= 0 {
		opts.StaleWindow = 30 * time.Minute
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	return &Monitor{
		products: products,
		pricing:  pricing,
		offers:   offers,
		config:   config,
		throttle: throttle,
		opts:     opts,
		now:      time.Now,
		log:      logging.OrNop(log),
	}
}

// SetObserver registers the component that reacts to actionable observations.
func (m *Monitor) SetObserver(o Observer) {
	m.observer = o
}

// SetClock overrides the time source.
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// Sweep polls the marketplace for a bounded batch of products whose
// competitor data is missing or stale.
func (m *Monitor) Sweep(ctx context.Context) (domain.BatchResult, error) {
	now := m.now().UTC()
	result := domain.BatchResult{StartedAt: now, Errors: []domain.BatchItemError{}}

	products, err := m.products.ListForCompetitorCheck(ctx, now.Add(-m.opts.StaleWindow), m.opts.BatchSize)
	if err != nil {
		return result, fmt.Errorf("list products for competitor check: %w", err)
	}

	for _, p := range products {
		result.Processed++
		offers, err := m.fetch(ctx, p)
		if err != nil {
			m.log.Warn("competitor fetch failed", zap.String("product_id", p.ID), zap.Error(err))
			result.AddError(p.ID, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if _, err := m.Observe(ctx, p.ID, offers); err != nil {
			m.log.Warn("competitor observe failed", zap.String("product_id", p.ID), zap.Error(err))
			result.AddError(p.ID, err)
			continue
		}
		result.Successful++
	}

	result.FinishedAt = m.now().UTC()
	m.log.Info("competitor sweep finished",
		zap.Int("processed", result.Processed),
		zap.Int("successful", result.Successful),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func (m *Monitor) fetch(ctx context.Context, p domain.Product) (domain.CompetitiveOffers, error) {
	cached, ok, err := m.offers.Get(ctx, p.ASIN)
	if err != nil {
		m.log.Debug("offer cache read failed", zap.String("asin", p.ASIN), zap.Error(err))
	}
	if ok && cached != nil {
		return *cached, nil
	}

	if err := m.throttle.Wait(ctx); err != nil {
		return domain.CompetitiveOffers{}, err
	}
	offers, err := m.pricing.GetCompetitiveOffers(ctx, channel.RefFor(p))
	if err != nil {
		return domain.CompetitiveOffers{}, err
	}
	if offers.FetchedAt.IsZero() {
		offers.FetchedAt = m.now().UTC()
	}
	if err := m.offers.Set(ctx, p.ASIN, &offers, m.opts.CacheTTL); err != nil {
		m.log.Debug("offer cache write failed", zap.String("asin", p.ASIN), zap.Error(err))
	}
	return offers, nil
}

// Observe records a competitive-offer snapshot for a product. Competitor
// fields are always persisted; the observer is only notified when the change
// is significant or the buy-box was lost.
func (m *Monitor) Observe(ctx context.Context, productID string, offers domain.CompetitiveOffers) (Observation, error) {
	now := m.now().UTC()
	tolerance := m.config.Current().Competitor.BuyboxTolerance
	var obs Observation

	_, err := m.products.UpdatePricing(ctx, productID, func(p *domain.Product) error {
		pr := &p.Pricing
		obs = Observation{
			ProductID:       p.ID,
			SKU:             p.SKU,
			PreviousPrice:   pr.CompetitorPrice,
			CompetitorPrice: offers.CompetitorPrice,
			HadBuybox:       pr.CompetitorData.HasBuybox,
		}
		obs.FirstObservation = pr.CompetitorPrice == nil && offers.CompetitorPrice != nil
		obs.Significant = IsSignificant(pr.CompetitorPrice, offers.CompetitorPrice)

		switch {
		case offers.OwnBuybox != nil:
			obs.HasBuybox = *offers.OwnBuybox
		case offers.CompetitorPrice == nil:
			obs.HasBuybox = true
		default:
			obs.HasBuybox = ShouldHaveBuybox(p.Price, *offers.CompetitorPrice, tolerance)
		}
		obs.BuyboxLost = obs.HadBuybox && !obs.HasBuybox

		if obs.Significant {
			pr.CompetitorPriceUpdatedAt = &now
		}
		pr.CompetitorPrice = offers.CompetitorPrice
		pr.CompetitorData = domain.CompetitorData{
			HasBuybox:   obs.HasBuybox,
			BuyboxPrice: offers.BuyboxPrice,
			LowestPrice: offers.CompetitorPrice,
			TotalOffers: offers.OfferCount,
			LastChecked: &now,
		}
		obs.Trigger = triggerFor(obs, p.Price)
		return nil
	})
	if err != nil {
		return Observation{}, fmt.Errorf("persist competitor data: %w", err)
	}

	if obs.BuyboxLost {
		m.log.Warn("buy-box lost",
			zap.String("product_id", obs.ProductID),
			zap.Float64p("competitor_price", obs.CompetitorPrice),
		)
	}
	m.notify(ctx, obs)
	return obs, nil
}

// HandleNotification ingests a marketplace webhook.
func (m *Monitor) HandleNotification(ctx context.Context, n domain.OfferNotification) (*Observation, error) {
	switch n.NotificationType {
	case domain.NotificationAnyOfferChanged:
		return m.handleOfferChanged(ctx, n)
	case domain.NotificationPricingHealth:
		return m.handlePricingHealth(ctx, n)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNotification, n.NotificationType)
	}
}

func (m *Monitor) handleOfferChanged(ctx context.Context, n domain.OfferNotification) (*Observation, error) {
	asin := n.Payload.ASIN
	if n.Payload.Summary != nil && n.Payload.Summary.ASIN != "" {
		asin = n.Payload.Summary.ASIN
	}

	product, err := m.locate(ctx, asin, m.ownSKU(n.Payload.Offers))
	if err != nil {
		return nil, err
	}

	offers := SplitOffers(n.Payload.Offers, m.opts.SellerID, product.SKU)
	offers.FetchedAt = eventTime(n.EventTime, m.now())
	if product.ASIN != "" {
		if err := m.offers.Set(ctx, product.ASIN, &offers, m.opts.CacheTTL); err != nil {
			m.log.Debug("offer cache write failed", zap.String("asin", product.ASIN), zap.Error(err))
		}
	}

	obs, err := m.Observe(ctx, product.ID, offers)
	if err != nil {
		return nil, err
	}
	return &obs, nil
}

func (m *Monitor) handlePricingHealth(ctx context.Context, n domain.OfferNotification) (*Observation, error) {
	asin := n.Payload.ASIN
	if asin == "" && n.Payload.Summary != nil {
		asin = n.Payload.Summary.ASIN
	}
	product, err := m.locate(ctx, asin, n.Payload.SellerSKU)
	if err != nil {
		return nil, err
	}

	issue := n.Payload.IssueType
	if issue == "" {
		issue = "unspecified"
	}
	message := "pricing health issue reported by marketplace: " + issue
	if err := m.products.UpdatePricingStatus(ctx, product.ID, domain.PricingStatusCompetitorAlert, message, m.now()); err != nil {
		return nil, fmt.Errorf("mark competitor alert: %w", err)
	}
	// the next sweep must read live offers for a listing the marketplace flagged
	if product.ASIN != "" {
		if err := m.offers.Delete(ctx, product.ASIN); err != nil {
			m.log.Debug("offer cache delete failed", zap.String("asin", product.ASIN), zap.Error(err))
		}
	}

	obs := Observation{
		ProductID:       product.ID,
		SKU:             product.SKU,
		PreviousPrice:   product.Pricing.CompetitorPrice,
		CompetitorPrice: product.Pricing.CompetitorPrice,
		HadBuybox:       product.Pricing.CompetitorData.HasBuybox,
		HasBuybox:       product.Pricing.CompetitorData.HasBuybox,
		Significant:     true,
		Trigger: domain.TriggerContext{
			Type:    domain.TriggerPricingHealth,
			Urgency: domain.UrgencyCritical,
			Source:  "notification",
			Note:    message,
		},
	}
	m.notify(ctx, obs)
	return &obs, nil
}

func (m *Monitor) locate(ctx context.Context, asin string, sku string) (*domain.Product, error) {
	if asin != "" {
		p, err := m.products.GetProductByASIN(ctx, asin)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	if sku != "" {
		return m.products.GetProductBySKU(ctx, sku)
	}
	return nil, store.ErrNotFound
}

func (m *Monitor) ownSKU(offers []domain.NotificationOffer) string {
	if m.opts.SellerID == "" {
		return ""
	}
	for _, o := range offers {
		if o.SellerID == m.opts.SellerID {
			return o.SellerSKU
		}
	}
	return ""
}

func (m *Monitor) notify(ctx context.Context, obs Observation) {
	if m.observer == nil || !obs.Actionable() {
		return
	}
	if err := m.observer.OnObservation(ctx, obs); err != nil {
		m.log.Warn("competitor observer failed", zap.String("product_id", obs.ProductID), zap.Error(err))
	}
}

// SplitOffers separates the own offer from competing offers and reduces the
// latter to the lowest price and the buy-box holder. An offer is own when its
// seller id matches sellerID, or, without a seller id, when its SKU matches.
func SplitOffers(raw []domain.NotificationOffer, sellerID string, ownSKU string) domain.CompetitiveOffers {
	result := domain.CompetitiveOffers{}
	var lowest *float64
	for _, o := range raw {
		if o.Condition != "" && !strings.EqualFold(o.Condition, "new") {
			continue
		}
		result.OfferCount++

		own := (sellerID != "" && o.SellerID == sellerID) || (sellerID == "" && ownSKU != "" && o.SellerSKU == ownSKU)
		price := o.ListingPrice.Amount
		if o.IsBuyBoxWinner {
			winner := price
			result.BuyboxPrice = &winner
			holds := own
			result.OwnBuybox = &holds
		}
		if own || price <= 0 {
			continue
		}
		if lowest == nil || price < *lowest {
			p := price
			lowest = &p
		}
	}
	result.CompetitorPrice = lowest
	return result
}

// IsSignificant applies the change rule: first observation, or a move of at
// least 1.0 absolute or 2% of the previous competitor price. A competitor
// disappearing counts as significant.
func IsSignificant(previous *float64, current *float64) bool {
	switch {
	case current == nil:
		return previous != nil
	case previous == nil:
		return true
	}
	delta := math.Abs(*current - *previous)
	if delta >= significantAbsolute-significanceEpsilon {
		return true
	}
	return *previous > 0 && delta >= *previous*significantRelative-significanceEpsilon
}

// ShouldHaveBuybox reports whether our price is within tolerance of the
// lowest competitor.
func ShouldHaveBuybox(ownPrice float64, competitorPrice float64, tolerance float64) bool {
	return ownPrice <= competitorPrice*(1+tolerance)
}

func triggerFor(obs Observation, ownPrice float64) domain.TriggerContext {
	if obs.BuyboxLost {
		return domain.TriggerContext{
			Type:    domain.TriggerBuyboxLost,
			Urgency: domain.UrgencyCritical,
			Source:  "competitor_monitor",
		}
	}
	urgency := domain.UrgencyNormal
	if obs.CompetitorPrice != nil && *obs.CompetitorPrice < ownPrice {
		urgency = domain.UrgencyHigh
	}
	return domain.TriggerContext{
		Type:    domain.TriggerCompetitorChange,
		Urgency: urgency,
		Source:  "competitor_monitor",
	}
}

func eventTime(raw string, fallback time.Time) time.Time {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC()
	}
	return fallback.UTC()
}
