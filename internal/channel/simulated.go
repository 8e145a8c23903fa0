package channel

import (
	"context"
	"sync"
	"time"

	"pricesync/backend/internal/domain"
)

// Simulated is an in-memory marketplace used in development mode and tests.
type Simulated struct {
	mu          sync.Mutex
	offers      map[string]domain.CompetitiveOffers
	prices      map[string]float64
	stock       map[string]int
	leadTimes   map[string]int
	submitErrs  []error
	offerErrs   map[string]error
	submitCalls int
	reinitCalls int
	now         func() time.Time
}

func NewSimulated() *Simulated {
	return &Simulated{
		offers:    make(map[string]domain.CompetitiveOffers),
		prices:    make(map[string]float64),
		stock:     make(map[string]int),
		leadTimes: make(map[string]int),
		offerErrs: make(map[string]error),
		now:       time.Now,
	}
}

// SetOffers programs the competitive offers returned for an ASIN.
func (s *Simulated) SetOffers(asin string, offers domain.CompetitiveOffers) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[asin] = offers
}

// FailSubmits makes the next SubmitPrice calls fail with errs, in order.
func (s *Simulated) FailSubmits(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitErrs = append(s.submitErrs, errs...)
}

func (s *Simulated) FailOffers(asin string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offerErrs[asin] = err
}

func (s *Simulated) SubmitPrice(ctx context.Context, ref ProductRef, price float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.submitCalls++
	if len(s.submitErrs) > 0 {
		err := s.submitErrs[0]
		s.submitErrs = s.submitErrs[1:]
		return err
	}
	s.prices[ref.SKU] = price
	return nil
}

func (s *Simulated) GetCompetitiveOffers(ctx context.Context, ref ProductRef) (domain.CompetitiveOffers, error) {
	if err := ctx.Err(); err != nil {
		return domain.CompetitiveOffers{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if ref.ASIN == "" {
		return domain.CompetitiveOffers{}, ErrNotListed
	}
	if err, ok := s.offerErrs[ref.ASIN]; ok {
		return domain.CompetitiveOffers{}, err
	}
	offers, ok := s.offers[ref.ASIN]
	if !ok {
		return domain.CompetitiveOffers{FetchedAt: s.now().UTC()}, nil
	}
	if offers.FetchedAt.IsZero() {
		offers.FetchedAt = s.now().UTC()
	}
	return offers, nil
}

func (s *Simulated) UpdateStock(_ context.Context, ref ProductRef, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[ref.SKU] = quantity
	return nil
}

func (s *Simulated) UpdateLeadTime(_ context.Context, ref ProductRef, days int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leadTimes[ref.SKU] = days
	return nil
}

func (s *Simulated) Reinit(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reinitCalls++
	return nil
}

// SubmittedPrice returns the last price accepted for sku.
func (s *Simulated) SubmittedPrice(sku string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	price, ok := s.prices[sku]
	return price, ok
}

func (s *Simulated) SubmitCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitCalls
}

func (s *Simulated) ReinitCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reinitCalls
}
