package scheduler

import (
	"context"
	"time"

	"pricesync/backend/internal/competitor"
	"pricesync/backend/internal/pendingaction"
	"pricesync/backend/internal/service"
)

type Intervals struct {
	CompetitorSweep time.Duration
	// PollFrequency, when set, drives the competitor sweep instead of
	// CompetitorSweep.
	PollFrequency   func() time.Duration
	CorrectionSweep time.Duration
	PVPMRefresh     time.Duration
	ActionReaper    time.Duration
}

// PricingTasks builds the standard task set. The competitor sweep reaches the
// pipeline through the monitor's observer.
func PricingTasks(monitor *competitor.Monitor, detector *pendingaction.Detector, pipeline *service.Pipeline, iv Intervals) []Task {
	return []Task{
		{
			Name:     TaskCompetitorSweep,
			Interval: iv.CompetitorSweep,
			Every:    iv.PollFrequency,
			Run: func(ctx context.Context) error {
				_, err := monitor.Sweep(ctx)
				return err
			},
		},
		{
			Name:       TaskCorrectionSweep,
			Interval:   iv.CorrectionSweep,
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				_, err := detector.DetectBulk(ctx, nil)
				return err
			},
		},
		{
			Name:     TaskPVPMRefresh,
			Interval: iv.PVPMRefresh,
			Run: func(ctx context.Context) error {
				_, err := pipeline.RecomputeAll(ctx)
				return err
			},
		},
		{
			Name:     TaskActionReaper,
			Interval: iv.ActionReaper,
			Run: func(ctx context.Context) error {
				_, err := detector.Reap(ctx)
				return err
			},
		},
	}
}
