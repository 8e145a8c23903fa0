// Package history keeps the immutable ledger of applied price changes.
package history

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pricesync/backend/internal/domain"
	"pricesync/backend/internal/logging"
	"pricesync/backend/internal/store"
	"pricesync/backend/internal/xid"
)

const (
	// MaxInlineChanges bounds the compact trail kept on the pricing record.
	MaxInlineChanges = 100
	defaultListLimit = 50
	maxListLimit     = 500
)

type Recorder struct {
	history  store.HistoryStore
	products store.ProductStore
	now      func() time.Time
	log      *zap.Logger
}

func NewRecorder(history store.HistoryStore, products store.ProductStore, log *zap.Logger) *Recorder {
	return &Recorder{history: history, products: products, now: time.Now, log: logging.OrNop(log)}
}

func (r *Recorder) SetClock(now func() time.Time) {
	r.now = now
}

// Record appends one ledger entry for an applied decision. Only call it for
// decisions whose execution succeeded.
func (r *Recorder) Record(ctx context.Context, before domain.Product, after domain.Product, d domain.Decision, trig domain.TriggerContext, actor domain.Actor) (*domain.PriceHistoryEntry, error) {
	now := r.now().UTC()
	entry := domain.PriceHistoryEntry{
		ID:         xid.New("ph"),
		ProductID:  before.ID,
		SKU:        before.SKU,
		Before:     snapshot(before),
		After:      snapshot(after),
		Trigger:    trig,
		Strategy:   d.Strategy,
		Confidence: d.Confidence,
		Reasoning:  d.Reasoning,
		Actor:      actor,
		ChangedAt:  now,
	}
	if err := r.history.CreatePriceHistory(ctx, entry); err != nil {
		return nil, fmt.Errorf("create price history: %w", err)
	}

	change := domain.PriceChange{
		PreviousPrice: before.Price,
		NewPrice:      after.Price,
		Reason:        fmt.Sprintf("%s: %s", trig.Type, d.Strategy),
		ChangedAt:     now,
		ChangedBy:     actor.String(),
	}
	if _, err := r.products.UpdatePricing(ctx, before.ID, func(p *domain.Product) error {
		p.Pricing.PriceHistory = AppendBounded(p.Pricing.PriceHistory, change, MaxInlineChanges)
		return nil
	}); err != nil {
		// the ledger entry is authoritative; the inline trail is a convenience copy
		r.log.Warn("append inline price change failed", zap.String("product_id", before.ID), zap.Error(err))
	}

	return &entry, nil
}

// List returns ledger entries for a product, newest first.
func (r *Recorder) List(ctx context.Context, productID string, limit int) ([]domain.PriceHistoryEntry, error) {
	if limit < 1 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return r.history.ListPriceHistory(ctx, productID, limit)
}

// AppendBounded appends change and drops the oldest entries beyond max.
func AppendBounded(changes []domain.PriceChange, change domain.PriceChange, max int) []domain.PriceChange {
	changes = append(changes, change)
	if len(changes) > max {
		changes = append([]domain.PriceChange(nil), changes[len(changes)-max:]...)
	}
	return changes
}

func snapshot(p domain.Product) domain.PriceSnapshot {
	return domain.PriceSnapshot{
		ChannelPrice:    p.Price,
		PVPM:            p.Pricing.PVPM,
		CompetitorPrice: p.Pricing.CompetitorPrice,
		FixedPrice:      p.Pricing.FixedPrice,
	}
}
