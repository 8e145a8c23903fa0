package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"pricesync/backend/internal/domain"
	"pricesync/backend/internal/logging"
	"pricesync/backend/internal/store"
)

// ConfigService holds the pricing config loaded at startup. Reads are served
// from memory; Update persists first and then swaps.
type ConfigService struct {
	store    store.ConfigStore
	mu       sync.RWMutex
	current  domain.PricingConfig
	loaded   bool
	defaults domain.PricingConfig
	onChange []func(ctx context.Context)
	now      func() time.Time
	log      *zap.Logger
}

func NewConfigService(configs store.ConfigStore, log *zap.Logger) *ConfigService {
	return &ConfigService{
		store:    configs,
		current:  domain.DefaultPricingConfig(),
		defaults: domain.DefaultPricingConfig(),
		now:      time.Now,
		log:      logging.OrNop(log),
	}
}

// SetDefaults replaces the config Bootstrap writes when the store has none.
func (c *ConfigService) SetDefaults(cfg domain.PricingConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaults = cloneConfig(cfg)
}

// OnChange registers a listener fired after a successful Update. Each
// listener runs in its own goroutine.
func (c *ConfigService) OnChange(fn func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// Bootstrap loads the stored config, writing the defaults first when none
// exists yet.
func (c *ConfigService) Bootstrap(ctx context.Context) (domain.PricingConfig, error) {
	cfg, err := c.store.GetPricingConfig(ctx)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		c.mu.RLock()
		defaults := cloneConfig(c.defaults)
		c.mu.RUnlock()
		if err := ValidateConfig(defaults); err != nil {
			return domain.PricingConfig{}, fmt.Errorf("default pricing config: %w", err)
		}
		defaults.UpdatedAt = c.now().UTC()
		defaults.UpdatedBy = domain.SystemActor.ID
		if err := c.store.SavePricingConfig(ctx, defaults); err != nil {
			return domain.PricingConfig{}, fmt.Errorf("save default pricing config: %w", err)
		}
		c.log.Info("pricing config bootstrapped with defaults")
		cfg = &defaults
	default:
		return domain.PricingConfig{}, fmt.Errorf("load pricing config: %w", err)
	}

	c.mu.Lock()
	c.current = cloneConfig(*cfg)
	c.loaded = true
	c.mu.Unlock()
	return cloneConfig(*cfg), nil
}

// Current returns a copy of the active config.
func (c *ConfigService) Current() domain.PricingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneConfig(c.current)
}

func (c *ConfigService) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

func (c *ConfigService) Update(ctx context.Context, cfg domain.PricingConfig, actor domain.Actor) (domain.PricingConfig, error) {
	if err := ValidateConfig(cfg); err != nil {
		return domain.PricingConfig{}, err
	}
	cfg = cloneConfig(cfg)
	cfg.UpdatedAt = c.now().UTC()
	cfg.UpdatedBy = actor.String()
	if err := c.store.SavePricingConfig(ctx, cfg); err != nil {
		return domain.PricingConfig{}, fmt.Errorf("save pricing config: %w", err)
	}

	c.mu.Lock()
	c.current = cloneConfig(cfg)
	c.loaded = true
	onChange := c.onChange
	c.mu.Unlock()

	c.log.Info("pricing config updated", zap.String("updated_by", cfg.UpdatedBy))
	for _, fn := range onChange {
		go fn(context.WithoutCancel(ctx))
	}
	return cloneConfig(cfg), nil
}

// ValidateConfig rejects configs the PVPM calculator or the scheduler cannot use.
func ValidateConfig(cfg domain.PricingConfig) error {
	invalid := func(msg string) error {
		return fmt.Errorf("%w: %s", store.ErrInvalidInput, msg)
	}
	if cfg.GlobalMargin <= 0 || cfg.GlobalMargin > 1 {
		return invalid("global_margin must be in (0, 1]")
	}
	if cfg.TaxRate < 0 || cfg.TaxRate >= 1 {
		return invalid("tax_rate must be in [0, 1)")
	}
	if cfg.DefaultShippingCost < 0 || cfg.ExtraWeightCostPerKg < 0 {
		return invalid("shipping costs must not be negative")
	}
	for i, tier := range cfg.ShippingTiers {
		if tier.MaxWeight <= 0 || tier.Cost < 0 {
			return invalid(fmt.Sprintf("shipping tier %d must have positive weight and non-negative cost", i))
		}
		if i > 0 && tier.MaxWeight <= cfg.ShippingTiers[i-1].MaxWeight {
			return invalid("shipping tiers must be sorted by max_weight ascending")
		}
	}
	comp := cfg.Competitor
	if comp.MinPriceDifference < 0 || comp.FallbackDifference < 0 || comp.BuyboxDifference < 0 {
		return invalid("competitor differences must not be negative")
	}
	if comp.BuyboxTolerance < 0 || comp.BuyboxTolerance > 1 {
		return invalid("buybox_tolerance must be in [0, 1]")
	}
	if comp.PollFrequencyMinutes < 1 {
		return invalid("poll_frequency_minutes must be at least 1")
	}
	hours := cfg.OperatingHours
	if hours.Start < 0 || hours.Start > 23 || hours.End < 0 || hours.End > 23 {
		return invalid("operating hours must be between 0 and 23")
	}
	return nil
}

func cloneConfig(cfg domain.PricingConfig) domain.PricingConfig {
	cfg.ShippingTiers = slices.Clone(cfg.ShippingTiers)
	return cfg
}
