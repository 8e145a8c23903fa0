package store

import (
	"context"
	"errors"
	"time"

	"pricesync/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
)

// PricingMutator edits a product in place inside UpdatePricing. Returning an
// error aborts the update and nothing is written.
type PricingMutator func(p *domain.Product) error

type ProductStore interface {
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	GetProductByASIN(ctx context.Context, asin string) (*domain.Product, error)
	ListProductIDs(ctx context.Context, activeOnly bool) ([]string, error)
	ListForCompetitorCheck(ctx context.Context, checkedBefore time.Time, limit int) ([]domain.Product, error)
	// UpdatePricing applies fn atomically to the stored product and bumps the
	// pricing version.
	UpdatePricing(ctx context.Context, id string, fn PricingMutator) (*domain.Product, error)
	// ApplyPrice writes an executed price. It fails with ErrConflict when the
	// stored pricing version differs from expectedVersion.
	ApplyPrice(ctx context.Context, id string, price float64, at time.Time, expectedVersion int64) (*domain.Product, error)
	UpdatePricingStatus(ctx context.Context, id string, status string, message string, at time.Time) error
}

type ActionStore interface {
	CreateAction(ctx context.Context, action domain.PendingAction) (*domain.PendingAction, error)
	UpdateAction(ctx context.Context, action domain.PendingAction) (*domain.PendingAction, error)
	GetAction(ctx context.Context, id string) (*domain.PendingAction, error)
	// FindOpen returns the single open action for (productID, actionType).
	FindOpen(ctx context.Context, productID string, actionType string) (*domain.PendingAction, error)
	ListOpenNotIn(ctx context.Context, productID string, actionTypes []string) ([]domain.PendingAction, error)
	ListActions(ctx context.Context, filter domain.PendingActionFilter) ([]domain.PendingAction, error)
	DeleteExpiredActions(ctx context.Context, now time.Time) (int, error)
}

type HistoryStore interface {
	CreatePriceHistory(ctx context.Context, entry domain.PriceHistoryEntry) error
	ListPriceHistory(ctx context.Context, productID string, limit int) ([]domain.PriceHistoryEntry, error)
}

type ConfigStore interface {
	GetPricingConfig(ctx context.Context) (*domain.PricingConfig, error)
	SavePricingConfig(ctx context.Context, cfg domain.PricingConfig) error
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	ProductStore
	ActionStore
	HistoryStore
	ConfigStore
	UserStore
}
