// Package service runs the pricing pipeline: PVPM refresh, decision,
// validation, execution, history and pending-action reconciliation.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"pricesync/backend/internal/batch"
	"pricesync/backend/internal/channel"
	"pricesync/backend/internal/competitor"
	"pricesync/backend/internal/decision"
	"pricesync/backend/internal/domain"
	"pricesync/backend/internal/executor"
	"pricesync/backend/internal/history"
	"pricesync/backend/internal/logging"
	"pricesync/backend/internal/pendingaction"
	"pricesync/backend/internal/pvpm"
	"pricesync/backend/internal/store"
	"pricesync/backend/internal/validation"
)

var ErrSweepInProgress = errors.New("sweep already in progress")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// actorOrSystem falls back to the system actor for background callers.
func actorOrSystem(ctx context.Context) domain.Actor {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor
	}
	return domain.SystemActor
}

type Deps struct {
	Products  store.ProductStore
	Config    *ConfigService
	Engine    *decision.Engine
	Validator *validation.Validator
	Executor  *executor.Executor
	History   *history.Recorder
	Detector  *pendingaction.Detector
	Throttle  *channel.Throttle
}

type Pipeline struct {
	products  store.ProductStore
	config    *ConfigService
	engine    *decision.Engine
	validator *validation.Validator
	executor  *executor.Executor
	history   *history.Recorder
	detector  *pendingaction.Detector
	throttle  *channel.Throttle
	locks     *keyedMutex
	batchSize int
	cursor    batch.Cursor
	now       func() time.Time
	log       *zap.Logger

	startedAt   time.Time
	lastRunAt   atomic.Pointer[time.Time]
	processed   atomic.Int64
	applied     atomic.Int64
	blocked     atomic.Int64
	failed      atomic.Int64
	recomputing atomic.Bool
}

func NewPipeline(deps Deps, log *zap.Logger) *Pipeline {
	engine := deps.Engine
	if engine == nil {
		engine = decision.NewEngine()
	}
	return &Pipeline{
		products:  deps.Products,
		config:    deps.Config,
		engine:    engine,
		validator: deps.Validator,
		executor:  deps.Executor,
		history:   deps.History,
		detector:  deps.Detector,
		throttle:  deps.Throttle,
		locks:     newKeyedMutex(),
		batchSize: batch.DefaultSize,
		now:       time.Now,
		log:       logging.OrNop(log),
		startedAt: time.Now().UTC(),
	}
}

func (s *Pipeline) SetClock(now func() time.Time) {
	s.now = now
}

// ProcessProduct runs the whole pipeline for one product. Blocked decisions
// and channel failures are reported in the result; data errors such as an
// invalid cost are returned after the detector has flagged them.
func (s *Pipeline) ProcessProduct(ctx context.Context, productID string, trig domain.TriggerContext, actor domain.Actor) (domain.ProcessResult, error) {
	unlock := s.locks.Lock(productID)
	defer unlock()

	result := domain.ProcessResult{ProductID: productID}
	defer s.markRun()

	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return result, err
	}
	cfg := s.config.Current()
	s.processed.Add(1)

	fresh, err := s.ensurePVPM(ctx, *product, cfg)
	if err != nil {
		s.failed.Add(1)
		result.PendingActions = s.detect(ctx, s.reload(ctx, *product))
		return result, fmt.Errorf("calculate pvpm for %s: %w", productID, err)
	}
	product = fresh

	result.Decision = s.engine.Decide(*product, cfg, trig)
	result.Validation = s.validator.Validate(result.Decision, *product, cfg, trig, s.now())

	if !result.Validation.Approved() {
		s.blocked.Add(1)
		s.log.Debug("price decision not applied",
			zap.String("product_id", productID),
			zap.String("strategy", result.Decision.Strategy),
			zap.String("reason", result.Validation.BlockingReason),
			zap.Bool("valid", result.Validation.IsValid),
		)
		result.PendingActions = s.detect(ctx, *product)
		return result, nil
	}

	exec, after := s.executor.Execute(ctx, *product, result.Decision, trig)
	result.Execution = &exec
	if exec.Success && after != nil {
		entry, err := s.history.Record(ctx, *product, *after, result.Decision, trig, actor)
		if err != nil {
			s.log.Error("price history not recorded", zap.String("product_id", productID), zap.Error(err))
		}
		result.History = entry
		result.Applied = true
		s.applied.Add(1)
		s.log.Info("price applied",
			zap.String("product_id", productID),
			zap.String("strategy", result.Decision.Strategy),
			zap.Float64("previous_price", exec.PreviousPrice),
			zap.Float64("new_price", exec.NewPrice),
			zap.String("trigger", trig.Type),
		)
	} else {
		s.failed.Add(1)
	}

	// executor and recorder both wrote to the product; detect on the latest state
	result.PendingActions = s.detect(ctx, s.reload(ctx, *product))
	return result, nil
}

func (s *Pipeline) reload(ctx context.Context, p domain.Product) domain.Product {
	latest, err := s.products.GetProduct(ctx, p.ID)
	if err != nil {
		return p
	}
	return *latest
}

// ensurePVPM recomputes the floor from current inputs and persists it when it
// moved. On failure the stored PVPM is zeroed so no stale floor is used.
func (s *Pipeline) ensurePVPM(ctx context.Context, p domain.Product, cfg domain.PricingConfig) (*domain.Product, error) {
	breakdown, calcErr := pvpm.Calculate(pvpm.InputFromRecord(p.Pricing), cfg)
	if calcErr == nil && breakdown == p.Pricing.PVPMBreakdown && p.Pricing.PVPM == breakdown.PVPM && p.Pricing.PVPMCalculatedAt != nil {
		return &p, nil
	}
	if calcErr != nil && p.Pricing.PVPM == 0 {
		return nil, calcErr
	}

	now := s.now().UTC()
	updated, err := s.products.UpdatePricing(ctx, p.ID, func(prod *domain.Product) error {
		if calcErr != nil {
			prod.Pricing.PVPM = 0
			prod.Pricing.PVPMBreakdown = domain.PVPMBreakdown{}
			return nil
		}
		prod.Pricing.PVPM = breakdown.PVPM
		prod.Pricing.PVPMBreakdown = breakdown
		prod.Pricing.PVPMCalculatedAt = &now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persist pvpm: %w", err)
	}
	if calcErr != nil {
		return nil, calcErr
	}
	return updated, nil
}

func (s *Pipeline) detect(ctx context.Context, p domain.Product) *domain.DetectionResult {
	if s.detector == nil {
		return nil
	}
	res, err := s.detector.DetectProduct(ctx, p)
	if err != nil {
		s.log.Warn("pending action detection failed", zap.String("product_id", p.ID), zap.Error(err))
		return nil
	}
	return &res
}

// ProcessBatch runs ProcessProduct sequentially over ids, or over the next
// window of active products when ids is empty. Items never abort the batch.
func (s *Pipeline) ProcessBatch(ctx context.Context, ids []string, trig domain.TriggerContext, actor domain.Actor) (domain.BatchResult, error) {
	res := domain.BatchResult{StartedAt: s.now().UTC(), Errors: []domain.BatchItemError{}}
	ids, err := s.resolveIDs(ctx, ids)
	if err != nil {
		return res, err
	}

	for _, id := range ids {
		if err := s.throttle.Wait(ctx); err != nil {
			res.FinishedAt = s.now().UTC()
			return res, err
		}
		res.Processed++
		item, err := s.ProcessProduct(ctx, id, trig, actor)
		switch {
		case err != nil:
			s.log.Warn("batch item failed", zap.String("product_id", id), zap.Error(err))
			res.AddError(id, err)
		case item.Applied:
			res.Successful++
		case item.Execution != nil:
			res.AddError(id, executionError(*item.Execution))
		default:
			res.Skipped++
		}
	}

	res.FinishedAt = s.now().UTC()
	s.log.Info("batch processed",
		zap.String("trigger", trig.Type),
		zap.Int("processed", res.Processed),
		zap.Int("successful", res.Successful),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

// Simulate decides and validates without touching the channel or the store.
func (s *Pipeline) Simulate(ctx context.Context, ids []string, trig domain.TriggerContext) (domain.SimulationResult, error) {
	out := domain.SimulationResult{
		Batch: domain.BatchResult{StartedAt: s.now().UTC(), Errors: []domain.BatchItemError{}},
		Items: []domain.ProcessResult{},
	}
	ids, err := s.resolveIDs(ctx, ids)
	if err != nil {
		return out, err
	}
	cfg := s.config.Current()

	for _, id := range ids {
		out.Batch.Processed++
		p, err := s.products.GetProduct(ctx, id)
		if err != nil {
			out.Batch.AddError(id, err)
			continue
		}
		breakdown, err := pvpm.Calculate(pvpm.InputFromRecord(p.Pricing), cfg)
		if err != nil {
			out.Batch.AddError(id, fmt.Errorf("calculate pvpm: %w", err))
			continue
		}
		p.Pricing.PVPM = breakdown.PVPM
		p.Pricing.PVPMBreakdown = breakdown

		d := s.engine.Decide(*p, cfg, trig)
		v := s.validator.Validate(d, *p, cfg, trig, s.now())
		out.Items = append(out.Items, domain.ProcessResult{ProductID: id, Decision: d, Validation: v})
		if v.Approved() {
			out.Batch.Successful++
		} else {
			out.Batch.Skipped++
		}
	}
	out.Batch.FinishedAt = s.now().UTC()
	return out, nil
}

// OnObservation lets the competitor monitor drive the pipeline.
func (s *Pipeline) OnObservation(ctx context.Context, obs competitor.Observation) error {
	_, err := s.ProcessProduct(ctx, obs.ProductID, obs.Trigger, domain.SystemActor)
	return err
}

// RefreshPVPM recomputes and persists one product's PVPM, then re-runs the
// detector since warning thresholds depend on it.
func (s *Pipeline) RefreshPVPM(ctx context.Context, productID string) (domain.PVPMBreakdown, error) {
	unlock := s.locks.Lock(productID)
	defer unlock()

	p, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return domain.PVPMBreakdown{}, err
	}
	updated, err := s.ensurePVPM(ctx, *p, s.config.Current())
	if err != nil {
		s.detect(ctx, s.reload(ctx, *p))
		return domain.PVPMBreakdown{}, err
	}
	s.detect(ctx, *updated)
	return updated.Pricing.PVPMBreakdown, nil
}

// RecomputeAll refreshes the PVPM of every active product. Only one sweep
// runs at a time.
func (s *Pipeline) RecomputeAll(ctx context.Context) (domain.BatchResult, error) {
	res := domain.BatchResult{StartedAt: s.now().UTC(), Errors: []domain.BatchItemError{}}
	if !s.recomputing.CompareAndSwap(false, true) {
		return res, ErrSweepInProgress
	}
	defer s.recomputing.Store(false)

	ids, err := s.products.ListProductIDs(ctx, true)
	if err != nil {
		return res, err
	}
	for _, id := range ids {
		res.Processed++
		if _, err := s.RefreshPVPM(ctx, id); err != nil {
			res.AddError(id, err)
			continue
		}
		res.Successful++
	}
	res.FinishedAt = s.now().UTC()
	s.log.Info("pvpm recomputed",
		zap.Int("processed", res.Processed),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// RecomputeAfterConfigChange is registered with ConfigService.OnChange.
func (s *Pipeline) RecomputeAfterConfigChange(ctx context.Context) {
	if _, err := s.RecomputeAll(ctx); err != nil {
		s.log.Warn("pvpm recompute after config change failed", zap.Error(err))
	}
}

func (s *Pipeline) Status() domain.EngineStatus {
	return domain.EngineStatus{
		StartedAt:        s.startedAt,
		LastRunAt:        s.lastRunAt.Load(),
		Processed:        s.processed.Load(),
		Applied:          s.applied.Load(),
		Blocked:          s.blocked.Load(),
		Failed:           s.failed.Load(),
		ConfigUpdatedAt:  s.config.Current().UpdatedAt,
		RecomputeRunning: s.recomputing.Load(),
	}
}

func (s *Pipeline) Product(ctx context.Context, id string) (*domain.Product, error) {
	return s.products.GetProduct(ctx, id)
}

func (s *Pipeline) PriceHistory(ctx context.Context, productID string, limit int) ([]domain.PriceHistoryEntry, error) {
	if _, err := s.products.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.history.List(ctx, productID, limit)
}

// SetBatchSize caps how many products a batch without explicit ids visits.
func (s *Pipeline) SetBatchSize(n int) {
	if n > 0 {
		s.batchSize = n
	}
}

func (s *Pipeline) resolveIDs(ctx context.Context, ids []string) ([]string, error) {
	if err := batch.CheckExplicit(ids); err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		return ids, nil
	}
	all, err := s.products.ListProductIDs(ctx, true)
	if err != nil {
		return nil, err
	}
	return s.cursor.Window(all, s.batchSize), nil
}

func (s *Pipeline) markRun() {
	now := s.now().UTC()
	s.lastRunAt.Store(&now)
}

func executionError(exec domain.ExecutionResult) error {
	if exec.ChannelError != "" {
		return fmt.Errorf("channel: %s", exec.ChannelError)
	}
	if exec.LocalError != "" {
		return fmt.Errorf("local write: %s", exec.LocalError)
	}
	return errors.New("execution failed")
}
