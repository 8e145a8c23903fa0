package channel

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"pricesync/backend/internal/domain"
	"pricesync/backend/internal/logging"
)

type RetryOptions struct {
	Timeout         time.Duration
	MaxAttempts     int
	InitialInterval time.Duration
	Multiplier      float64
}

func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		Timeout:         15 * time.Second,
		MaxAttempts:     3,
		InitialInterval: 2 * time.Second,
		Multiplier:      2,
	}
}

// Retrying wraps a Marketplace with a per-call timeout and bounded
// exponential backoff. Auth failures trigger Reinit on the inner client
// before the next attempt.
type Retrying struct {
	inner Marketplace
	opts  RetryOptions
	log   *zap.Logger
}

func NewRetrying(inner Marketplace, opts RetryOptions, log *zap.Logger) *Retrying {
	def := DefaultRetryOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = def.InitialInterval
	}
	if opts.Multiplier < 1 {
		opts.Multiplier = def.Multiplier
	}
	return &Retrying{inner: inner, opts: opts, log: logging.OrNop(log)}
}

func (r *Retrying) SubmitPrice(ctx context.Context, ref ProductRef, price float64) error {
	return r.do(ctx, "submit_price", ref, func(ctx context.Context) error {
		return r.inner.SubmitPrice(ctx, ref, price)
	})
}

func (r *Retrying) GetCompetitiveOffers(ctx context.Context, ref ProductRef) (domain.CompetitiveOffers, error) {
	var offers domain.CompetitiveOffers
	err := r.do(ctx, "get_competitive_offers", ref, func(ctx context.Context) error {
		var err error
		offers, err = r.inner.GetCompetitiveOffers(ctx, ref)
		return err
	})
	return offers, err
}

func (r *Retrying) UpdateStock(ctx context.Context, ref ProductRef, quantity int) error {
	return r.do(ctx, "update_stock", ref, func(ctx context.Context) error {
		return r.inner.UpdateStock(ctx, ref, quantity)
	})
}

func (r *Retrying) UpdateLeadTime(ctx context.Context, ref ProductRef, days int) error {
	return r.do(ctx, "update_lead_time", ref, func(ctx context.Context) error {
		return r.inner.UpdateLeadTime(ctx, ref, days)
	})
}

func (r *Retrying) do(ctx context.Context, op string, ref ProductRef, call func(ctx context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()

		err := call(callCtx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrRejected) || errors.Is(err, ErrNotListed) {
			return backoff.Permanent(err)
		}
		if errors.Is(err, ErrAuth) {
			r.reinit(ctx, op)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.log.Warn("channel call failed, retrying",
			zap.String("op", op),
			zap.String("product_id", ref.ProductID),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	return backoff.RetryNotify(operation, r.newBackOff(ctx), notify)
}

func (r *Retrying) reinit(ctx context.Context, op string) {
	reinit, ok := r.inner.(Reinitializer)
	if !ok {
		return
	}
	if err := reinit.Reinit(ctx); err != nil {
		r.log.Warn("channel reinit failed", zap.String("op", op), zap.Error(err))
	}
}

func (r *Retrying) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.opts.InitialInterval
	exp.Multiplier = r.opts.Multiplier
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.MaxInterval = r.opts.InitialInterval * time.Duration(1<<uint(r.opts.MaxAttempts))
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.opts.MaxAttempts-1)), ctx)
}
