package events

import (
	"context"
	"sync"
)

// Recorder keeps published events in memory. Tests use it to assert on what
// the pipeline emitted.
type Recorder struct {
	mu      sync.Mutex
	Applied []PriceApplied
	Raised  []ActionRaised
}

func (r *Recorder) PublishPriceApplied(_ context.Context, ev PriceApplied) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Applied = append(r.Applied, ev)
	return nil
}

func (r *Recorder) PublishActionRaised(_ context.Context, ev ActionRaised) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Raised = append(r.Raised, ev)
	return nil
}

func (r *Recorder) AppliedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Applied)
}

func (r *Recorder) RaisedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Raised)
}
