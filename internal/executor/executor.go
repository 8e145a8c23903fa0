// Package executor applies approved prices to the marketplace and then to the
// local product record.
package executor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"pricesync/backend/internal/channel"
	"pricesync/backend/internal/domain"
	"pricesync/backend/internal/events"
	"pricesync/backend/internal/logging"
	"pricesync/backend/internal/store"
)

const maxLocalAttempts = 3

type Executor struct {
	products store.ProductStore
	pricing  channel.PricingPort
	events   events.Publisher
	now      func() time.Time
	log      *zap.Logger
}

func New(products store.ProductStore, pricing channel.PricingPort, publisher events.Publisher, log *zap.Logger) *Executor {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Executor{
		products: products,
		pricing:  pricing,
		events:   publisher,
		now:      time.Now,
		log:      logging.OrNop(log),
	}
}

func (e *Executor) SetClock(now func() time.Time) {
	e.now = now
}

// Execute submits d.FinalPrice to the channel and, only if that succeeds,
// writes it to the local record. A channel failure leaves the local price
// untouched and flags the product for manual review. The returned product is
// the post-write state when the local write happened.
func (e *Executor) Execute(ctx context.Context, p domain.Product, d domain.Decision, trig domain.TriggerContext) (domain.ExecutionResult, *domain.Product) {
	started := e.now().UTC()
	res := domain.ExecutionResult{
		PreviousPrice: p.Price,
		NewPrice:      d.FinalPrice,
		StartedAt:     started,
	}

	if err := e.pricing.SubmitPrice(ctx, channel.RefFor(p), d.FinalPrice); err != nil {
		res.ChannelError = err.Error()
		e.log.Warn("channel price submit failed",
			zap.String("product_id", p.ID),
			zap.Float64("price", d.FinalPrice),
			zap.Error(err),
		)
		e.flagManualReview(ctx, p.ID, "channel update failed: "+err.Error())
		return finish(res, e.now), nil
	}

	updated, err := e.applyLocal(ctx, p, d.FinalPrice)
	if err != nil {
		res.LocalError = err.Error()
		e.log.Error("local price write failed after channel update",
			zap.String("product_id", p.ID),
			zap.Float64("price", d.FinalPrice),
			zap.Error(err),
		)
		e.flagManualReview(ctx, p.ID, "local update failed after channel accepted price: "+err.Error())
		return finish(res, e.now), nil
	}

	res.Success = true
	e.publish(ctx, *updated, res, d, trig)
	return finish(res, e.now), updated
}

// applyLocal retries on version conflicts: the channel already carries the
// new price, so the local record has to follow even if other fields changed
// concurrently.
func (e *Executor) applyLocal(ctx context.Context, p domain.Product, price float64) (*domain.Product, error) {
	version := p.Pricing.Version
	var lastErr error
	for attempt := 0; attempt < maxLocalAttempts; attempt++ {
		updated, err := e.products.ApplyPrice(ctx, p.ID, price, e.now(), version)
		if err == nil {
			return updated, nil
		}
		lastErr = err
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		current, err := e.products.GetProduct(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		version = current.Pricing.Version
	}
	return nil, lastErr
}

func (e *Executor) flagManualReview(ctx context.Context, productID string, message string) {
	if err := e.products.UpdatePricingStatus(ctx, productID, domain.PricingStatusManualReview, message, e.now()); err != nil {
		e.log.Error("failed to flag manual review", zap.String("product_id", productID), zap.Error(err))
	}
}

func (e *Executor) publish(ctx context.Context, p domain.Product, res domain.ExecutionResult, d domain.Decision, trig domain.TriggerContext) {
	err := e.events.PublishPriceApplied(ctx, events.PriceApplied{
		ProductID:     p.ID,
		SKU:           p.SKU,
		PreviousPrice: res.PreviousPrice,
		NewPrice:      res.NewPrice,
		PVPM:          d.PVPM,
		Strategy:      d.Strategy,
		Trigger:       trig.Type,
		AppliedAt:     e.now().UTC(),
	})
	if err != nil {
		e.log.Warn("publish price applied failed", zap.String("product_id", p.ID), zap.Error(err))
	}
}

func finish(res domain.ExecutionResult, now func() time.Time) domain.ExecutionResult {
	res.FinishedAt = now().UTC()
	res.DurationMS = res.FinishedAt.Sub(res.StartedAt).Milliseconds()
	return res
}
