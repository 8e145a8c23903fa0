package cache

import (
	"context"
	"time"

	"pricesync/backend/internal/domain"
)

// OfferCache holds the latest competitive-offer snapshot per listing so that
// repeated sweeps inside the TTL do not hit the marketplace again.
type OfferCache interface {
	Get(ctx context.Context, asin string) (*domain.CompetitiveOffers, bool, error)
	Set(ctx context.Context, asin string, value *domain.CompetitiveOffers, ttl time.Duration) error
	Delete(ctx context.Context, asin string) error
}

type NoopOfferCache struct{}

func (NoopOfferCache) Get(_ context.Context, _ string) (*domain.CompetitiveOffers, bool, error) {
	return nil, false, nil
}

func (NoopOfferCache) Set(_ context.Context, _ string, _ *domain.CompetitiveOffers, _ time.Duration) error {
	return nil
}

func (NoopOfferCache) Delete(_ context.Context, _ string) error {
	return nil
}
