// Package events publishes pricing events for downstream consumers
// (storefront sync, reporting). Publishing is best effort.
package events

import (
	"context"
	"time"
)

const (
	TypePriceApplied = "price.applied"
	TypeActionRaised = "pending_action.raised"
)

type PriceApplied struct {
	ProductID     string    `json:"product_id"`
	SKU           string    `json:"sku"`
	PreviousPrice float64   `json:"previous_price"`
	NewPrice      float64   `json:"new_price"`
	PVPM          float64   `json:"pvpm"`
	Strategy      string    `json:"strategy"`
	Trigger       string    `json:"trigger"`
	AppliedAt     time.Time `json:"applied_at"`
}

type ActionRaised struct {
	ActionID   string    `json:"action_id"`
	ProductID  string    `json:"product_id"`
	SKU        string    `json:"sku"`
	ActionType string    `json:"action_type"`
	Priority   string    `json:"priority"`
	Title      string    `json:"title"`
	RaisedAt   time.Time `json:"raised_at"`
}

type Publisher interface {
	PublishPriceApplied(ctx context.Context, ev PriceApplied) error
	PublishActionRaised(ctx context.Context, ev ActionRaised) error
}

type NoopPublisher struct{}

func (NoopPublisher) PublishPriceApplied(_ context.Context, _ PriceApplied) error { return nil }

func (NoopPublisher) PublishActionRaised(_ context.Context, _ ActionRaised) error { return nil }
