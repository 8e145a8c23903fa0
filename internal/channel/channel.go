// Package channel holds the ports the pricing core uses to talk to external
// sales channels, plus the retry and throttle wrappers every call goes through.
package channel

import (
	"context"
	"errors"

	"pricesync/backend/internal/domain"
)

var (
	ErrAuth        = errors.New("channel authentication failed")
	ErrUnavailable = errors.New("channel unavailable")

	// ErrRejected is returned when the channel refuses the request itself;
	// retrying will not help.
	ErrRejected  = errors.New("channel rejected request")
	ErrNotListed = errors.New("product is not listed on channel")
)

type ProductRef struct {
	ProductID string
	SKU       string
	ASIN      string
}

func RefFor(p domain.Product) ProductRef {
	return ProductRef{ProductID: p.ID, SKU: p.SKU, ASIN: p.ASIN}
}

type PricingPort interface {
	SubmitPrice(ctx context.Context, ref ProductRef, price float64) error
	GetCompetitiveOffers(ctx context.Context, ref ProductRef) (domain.CompetitiveOffers, error)
}

// InventoryPort is the stock and lead-time side of the marketplace. The pricing
// pipeline does not call it; it is kept for the inventory sync collaborator.
type InventoryPort interface {
	UpdateStock(ctx context.Context, ref ProductRef, quantity int) error
	UpdateLeadTime(ctx context.Context, ref ProductRef, days int) error
}

type Marketplace interface {
	PricingPort
	InventoryPort
}

// Reinitializer is implemented by clients that can rebuild their session
// after an authentication failure.
type Reinitializer interface {
	Reinit(ctx context.Context) error
}
