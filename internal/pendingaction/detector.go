// Package pendingaction detects data and pricing anomalies per product and
// keeps exactly one open action per (product, type) in sync with them.
package pendingaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pricesync/backend/internal/batch"
	"pricesync/backend/internal/channel"
	"pricesync/backend/internal/domain"
	"pricesync/backend/internal/events"
	"pricesync/backend/internal/logging"
	"pricesync/backend/internal/store"
)

const (
	autoResolveNote  = "condition no longer detected"
	defaultListLimit = 100
	maxListLimit     = 500
	defaultTTL       = 7 * 24 * time.Hour
)

var ErrNotOpen = fmt.Errorf("action is not open: %w", store.ErrConflict)

// ttlByType overrides defaultTTL; a zero duration means the action never expires.
var ttlByType = map[string]time.Duration{
	domain.ActionCompetitorAlert: 24 * time.Hour,
	domain.ActionSyncError:       48 * time.Hour,
	domain.ActionMissingWeight:   0,
	domain.ActionMissingCost:     0,
}

type Detector struct {
	products  store.ProductStore
	actions   store.ActionStore
	events    events.Publisher
	throttle  *channel.Throttle
	tolerance float64
	batchSize int
	cursor    batch.Cursor
	now       func() time.Time
	log       *zap.Logger
}

func NewDetector(products store.ProductStore, actions store.ActionStore, publisher events.Publisher, throttle *channel.Throttle, tolerance float64, log *zap.Logger) *Detector {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if tolerance <= 0 {
		tolerance = 0.05
	}
	return &Detector{
		products:  products,
		actions:   actions,
		events:    publisher,
		throttle:  throttle,
		tolerance: tolerance,
		batchSize: batch.DefaultSize,
		now:       time.Now,
		log:       logging.OrNop(log),
	}
}

func (d *Detector) SetClock(now func() time.Time) {
	d.now = now
}

// SetBatchSize caps how many products one DetectBulk call over all products
// visits. Successive calls rotate through the catalogue.
func (d *Detector) SetBatchSize(n int) {
	if n > 0 {
		d.batchSize = n
	}
}

// Detect reconciles the stored actions of one product with its current state:
// fresh anomalies are created or refreshed, open actions whose condition has
// cleared are auto-resolved.
func (d *Detector) Detect(ctx context.Context, productID string) (domain.DetectionResult, error) {
	p, err := d.products.GetProduct(ctx, productID)
	if err != nil {
		return domain.DetectionResult{}, err
	}
	return d.detect(ctx, *p)
}

// DetectProduct is Detect for a product the caller already loaded.
func (d *Detector) DetectProduct(ctx context.Context, p domain.Product) (domain.DetectionResult, error) {
	return d.detect(ctx, p)
}

func (d *Detector) detect(ctx context.Context, p domain.Product) (domain.DetectionResult, error) {
	now := d.now().UTC()
	res := domain.DetectionResult{ProductID: p.ID, Open: []domain.PendingAction{}}

	drafts := Evaluate(p, d.tolerance)
	types := make([]string, 0, len(drafts))
	for _, draft := range drafts {
		types = append(types, draft.ActionType)
		created, err := d.upsert(ctx, p, draft, now)
		if err != nil {
			return res, fmt.Errorf("upsert %s: %w", draft.ActionType, err)
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}

	stale, err := d.actions.ListOpenNotIn(ctx, p.ID, types)
	if err != nil {
		return res, fmt.Errorf("list cleared actions: %w", err)
	}
	for _, action := range stale {
		if !action.AutoResolveEnabled {
			continue
		}
		resolve(&action, domain.ActionStatusAutoResolved, domain.SystemActor.ID, autoResolveNote, domain.ResolutionSystemUpdate, now)
		if _, err := d.actions.UpdateAction(ctx, action); err != nil {
			return res, fmt.Errorf("auto-resolve %s: %w", action.ID, err)
		}
		res.AutoResolved++
	}

	open, err := d.actions.ListActions(ctx, domain.PendingActionFilter{ProductID: p.ID, OpenOnly: true})
	if err != nil {
		return res, err
	}
	res.Open = open
	if res.Created > 0 || res.AutoResolved > 0 {
		d.log.Debug("pending actions reconciled",
			zap.String("product_id", p.ID),
			zap.Int("created", res.Created),
			zap.Int("updated", res.Updated),
			zap.Int("auto_resolved", res.AutoResolved),
		)
	}
	return res, nil
}

// upsert refreshes the open action of draft's type or creates one. A create
// that loses a race against a concurrent detector falls back to update.
func (d *Detector) upsert(ctx context.Context, p domain.Product, draft Draft, now time.Time) (bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := d.actions.FindOpen(ctx, p.ID, draft.ActionType)
		if err == nil {
			existing.Priority = draft.Priority
			existing.Title = draft.Title
			existing.Description = draft.Description
			existing.Data = draft.Data
			existing.OccurrenceCount++
			existing.LastChecked = now
			existing.ExpiresAt = expiresAt(draft.ActionType, now)
			_, err = d.actions.UpdateAction(ctx, *existing)
			return false, err
		}
		if !errors.Is(err, store.ErrNotFound) {
			return false, err
		}

		created, err := d.actions.CreateAction(ctx, domain.PendingAction{
			ProductID:          p.ID,
			SKU:                p.SKU,
			ActionType:         draft.ActionType,
			Priority:           draft.Priority,
			Title:              draft.Title,
			Description:        draft.Description,
			Data:               draft.Data,
			Status:             domain.ActionStatusPending,
			OccurrenceCount:    1,
			FirstDetected:      now,
			LastChecked:        now,
			AutoResolveEnabled: true,
			ExpiresAt:          expiresAt(draft.ActionType, now),
			CreatedAt:          now,
		})
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return false, err
		}
		d.raised(ctx, *created)
		return true, nil
	}
	return false, fmt.Errorf("open %s action for %s: %w", draft.ActionType, p.ID, store.ErrConflict)
}

func (d *Detector) raised(ctx context.Context, a domain.PendingAction) {
	err := d.events.PublishActionRaised(ctx, events.ActionRaised{
		ActionID:   a.ID,
		ProductID:  a.ProductID,
		SKU:        a.SKU,
		ActionType: a.ActionType,
		Priority:   a.Priority,
		Title:      a.Title,
		RaisedAt:   a.FirstDetected,
	})
	if err != nil {
		d.log.Warn("publish action raised failed", zap.String("action_id", a.ID), zap.Error(err))
	}
}

// DetectBulk runs Detect sequentially over ids. With no ids it takes the next
// window of active products. One product's failure never stops the batch.
func (d *Detector) DetectBulk(ctx context.Context, ids []string) (domain.BatchResult, error) {
	res := domain.BatchResult{StartedAt: d.now().UTC(), Errors: []domain.BatchItemError{}}
	if err := batch.CheckExplicit(ids); err != nil {
		return res, err
	}
	if len(ids) == 0 {
		all, err := d.products.ListProductIDs(ctx, true)
		if err != nil {
			return res, err
		}
		ids = d.cursor.Window(all, d.batchSize)
	}

	for _, id := range ids {
		if err := d.throttle.Wait(ctx); err != nil {
			res.FinishedAt = d.now().UTC()
			return res, err
		}
		res.Processed++
		if _, err := d.Detect(ctx, id); err != nil {
			d.log.Warn("pending action detection failed", zap.String("product_id", id), zap.Error(err))
			res.AddError(id, err)
			continue
		}
		res.Successful++
	}

	res.FinishedAt = d.now().UTC()
	d.log.Info("bulk detection finished",
		zap.Int("processed", res.Processed),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

func (d *Detector) Resolve(ctx context.Context, id string, actor domain.Actor, note string, method string) (*domain.PendingAction, error) {
	switch method {
	case "":
		method = domain.ResolutionManual
	case domain.ResolutionManual, domain.ResolutionAutomatic, domain.ResolutionBulkOperation, domain.ResolutionSystemUpdate:
	default:
		return nil, fmt.Errorf("%w: unknown resolution method %q", store.ErrInvalidInput, method)
	}
	return d.transition(ctx, id, func(a *domain.PendingAction) error {
		resolve(a, domain.ActionStatusResolved, actor.String(), note, method, d.now().UTC())
		return nil
	})
}

func (d *Detector) Dismiss(ctx context.Context, id string, actor domain.Actor, note string) (*domain.PendingAction, error) {
	return d.transition(ctx, id, func(a *domain.PendingAction) error {
		resolve(a, domain.ActionStatusDismissed, actor.String(), note, domain.ResolutionManual, d.now().UTC())
		return nil
	})
}

func (d *Detector) MarkInProgress(ctx context.Context, id string, actor domain.Actor) (*domain.PendingAction, error) {
	return d.transition(ctx, id, func(a *domain.PendingAction) error {
		if a.Status == domain.ActionStatusInProgress {
			return nil
		}
		a.Status = domain.ActionStatusInProgress
		d.log.Info("pending action started", zap.String("action_id", a.ID), zap.String("actor", actor.String()))
		return nil
	})
}

func (d *Detector) transition(ctx context.Context, id string, apply func(a *domain.PendingAction) error) (*domain.PendingAction, error) {
	action, err := d.actions.GetAction(ctx, id)
	if err != nil {
		return nil, err
	}
	if !action.IsOpen() {
		return nil, ErrNotOpen
	}
	if err := apply(action); err != nil {
		return nil, err
	}
	return d.actions.UpdateAction(ctx, *action)
}

// Reap deletes open actions whose expiry has passed.
func (d *Detector) Reap(ctx context.Context) (int, error) {
	deleted, err := d.actions.DeleteExpiredActions(ctx, d.now().UTC())
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		d.log.Info("expired pending actions reaped", zap.Int("deleted", deleted))
	}
	return deleted, nil
}

func (d *Detector) List(ctx context.Context, filter domain.PendingActionFilter) ([]domain.PendingAction, error) {
	if filter.Limit < 1 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return d.actions.ListActions(ctx, filter)
}

func (d *Detector) Summary(ctx context.Context) (domain.PendingActionSummary, error) {
	open, err := d.actions.ListActions(ctx, domain.PendingActionFilter{OpenOnly: true})
	if err != nil {
		return domain.PendingActionSummary{}, err
	}
	summary := domain.PendingActionSummary{
		TotalOpen:  len(open),
		ByPriority: map[string]int{},
		ByType:     map[string]int{},
	}
	for _, a := range open {
		summary.ByPriority[a.Priority]++
		summary.ByType[a.ActionType]++
	}
	return summary, nil
}

func resolve(a *domain.PendingAction, status string, by string, note string, method string, at time.Time) {
	a.Status = status
	a.ResolvedAt = &at
	a.ResolvedBy = by
	a.ResolutionNote = note
	a.ResolutionMethod = method
}

func expiresAt(actionType string, now time.Time) *time.Time {
	ttl, ok := ttlByType[actionType]
	if !ok {
		ttl = defaultTTL
	}
	if ttl == 0 {
		return nil
	}
	at := now.Add(ttl)
	return &at
}
