package events

import (
	"context"
	"testing"
)

func TestPublishersSatisfyInterface(t *testing.T) {
	var _ Publisher = NoopPublisher{}
	var _ Publisher = (*Recorder)(nil)
	var _ Publisher = (*KafkaPublisher)(nil)
}

func TestRecorderKeepsEvents(t *testing.T) {
	r := &Recorder{}
	_ = r.PublishPriceApplied(context.Background(), PriceApplied{ProductID: "p1", NewPrice: 10})
	_ = r.PublishActionRaised(context.Background(), ActionRaised{ProductID: "p1", ActionType: "missing_cost"})

	if r.AppliedCount() != 1 || r.RaisedCount() != 1 {
		t.Fatalf("unexpected counts applied=%d raised=%d", r.AppliedCount(), r.RaisedCount())
	}
}
