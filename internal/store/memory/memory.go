package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"pricesync/backend/internal/domain"
	"pricesync/backend/internal/store"
	"pricesync/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	productBySKU    map[string]string
	productByASIN   map[string]string
	actionsByID     map[string]domain.PendingAction
	historyByID     map[string][]domain.PriceHistoryEntry
	pricingConfig   *domain.PricingConfig
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		productBySKU:    make(map[string]string),
		productByASIN:   make(map[string]string),
		actionsByID:     make(map[string]domain.PendingAction),
		historyByID:     make(map[string][]domain.PriceHistoryEntry),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with demo catalog data and an admin account whose
// password comes from SEED_ADMIN_PASSWORD (dev default otherwise).
func NewSeeded() *Store {
	s := New()
	for _, p := range seedProducts() {
		_, _ = s.CreateProduct(context.Background(), p)
	}

	pwd := os.Getenv("SEED_ADMIN_PASSWORD")
	if pwd == "" {
		pwd = "admin123"
	}
	for _, u := range []struct {
		username string
		role     string
	}{
		{"admin", "admin"},
		{"operator", "operator"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
		if err != nil {
			continue
		}
		s.usersByUsername[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: time.Now().UTC(),
		}
	}
	return s
}

func seedProducts() []domain.Product {
	webPrice := 39.90
	margin := 0.7
	return []domain.Product{
		{ID: "prd-001", SKU: "SKU-TALADRO-01", Name: "Taladro percutor 750W", ASIN: "B0TALADRO1", Active: true, Price: 64.90, Stock: 14,
			Pricing: domain.PricingRecord{Cost: 32.50, Weight: 2.4, AutoUpdateEnabled: true, PricingStatus: domain.PricingStatusOK}},
		{ID: "prd-002", SKU: "SKU-SIERRA-01", Name: "Sierra de calar 600W", ASIN: "B0SIERRA01", Active: true, Price: 54.00, Stock: 6,
			Pricing: domain.PricingRecord{Cost: 24.10, Weight: 2.1, AutoUpdateEnabled: true, PricingStatus: domain.PricingStatusOK}},
		{ID: "prd-003", SKU: "SKU-LIJADORA-01", Name: "Lijadora orbital", ASIN: "B0LIJADOR1", Active: true, Price: 42.00, Stock: 9,
			ErpObs: domain.ErpObsStorefrontOffer, StorefrontPrice: &webPrice,
			Pricing: domain.PricingRecord{Cost: 18.75, Weight: 1.6, AutoUpdateEnabled: true, PricingStatus: domain.PricingStatusOK}},
		{ID: "prd-004", SKU: "SKU-BROCAS-01", Name: "Juego de brocas 19 piezas", ASIN: "B0BROCAS01", Active: true, Price: 15.90, Stock: 40,
			Pricing: domain.PricingRecord{Cost: 5.20, Margin: &margin, Weight: 0.8, AutoUpdateEnabled: true, PricingStatus: domain.PricingStatusOK}},
		{ID: "prd-005", SKU: "SKU-METRO-01", Name: "Metro laser 40m", Active: true, Price: 29.90, Stock: 3,
			Pricing: domain.PricingRecord{Cost: 0, Weight: 0, AutoUpdateEnabled: true, PricingStatus: domain.PricingStatusOK}},
	}
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product.SKU = strings.TrimSpace(product.SKU)
	if product.SKU == "" || strings.TrimSpace(product.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.productBySKU[product.SKU]; exists {
		return nil, store.ErrConflict
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrConflict
	}
	if product.Pricing.PricingStatus == "" {
		product.Pricing.PricingStatus = domain.PricingStatusOK
	}

	s.products[product.ID] = cloneProduct(product)
	s.productBySKU[product.SKU] = product.ID
	if product.ASIN != "" {
		s.productByASIN[product.ASIN] = product.ID
	}
	created := cloneProduct(product)
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := cloneProduct(product)
	return &copyProduct, nil
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	s.mu.RLock()
	id, ok := s.productBySKU[strings.TrimSpace(sku)]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.GetProduct(ctx, id)
}

func (s *Store) GetProductByASIN(ctx context.Context, asin string) (*domain.Product, error) {
	s.mu.RLock()
	id, ok := s.productByASIN[strings.TrimSpace(asin)]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.GetProduct(ctx, id)
}

func (s *Store) ListProductIDs(_ context.Context, activeOnly bool) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.products))
	for id, p := range s.products {
		if activeOnly && !p.Active {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *Store) ListForCompetitorCheck(_ context.Context, checkedBefore time.Time, limit int) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, limit)
	for _, p := range s.products {
		if !p.Active || p.ASIN == "" {
			continue
		}
		last := p.Pricing.CompetitorData.LastChecked
		if last != nil && !last.Before(checkedBefore) {
			continue
		}
		result = append(result, cloneProduct(p))
	}
	// never-checked first, then oldest check
	slices.SortFunc(result, func(a, b domain.Product) int {
		la, lb := a.Pricing.CompetitorData.LastChecked, b.Pricing.CompetitorData.LastChecked
		switch {
		case la == nil && lb == nil:
			return strings.Compare(a.ID, b.ID)
		case la == nil:
			return -1
		case lb == nil:
			return 1
		}
		return la.Compare(*lb)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) UpdatePricing(_ context.Context, id string, fn store.PricingMutator) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	working := cloneProduct(current)
	if err := fn(&working); err != nil {
		return nil, err
	}
	// identity fields are not editable through pricing updates
	working.ID = current.ID
	working.SKU = current.SKU
	working.ASIN = current.ASIN
	working.Pricing.Version = current.Pricing.Version + 1

	s.products[id] = cloneProduct(working)
	updated := cloneProduct(working)
	return &updated, nil
}

func (s *Store) ApplyPrice(_ context.Context, id string, price float64, at time.Time, expectedVersion int64) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if price <= 0 {
		return nil, store.ErrInvalidInput
	}
	if current.Pricing.Version != expectedVersion {
		return nil, store.ErrConflict
	}

	at = at.UTC()
	current = cloneProduct(current)
	current.Price = price
	current.Pricing.LastPriceUpdate = &at
	current.Pricing.AutoUpdateCount++
	current.Pricing.PricingStatus = domain.PricingStatusOK
	current.Pricing.PricingStatusMessage = ""
	current.Pricing.PricingStatusUpdatedAt = &at
	current.Pricing.Version++

	s.products[id] = current
	updated := cloneProduct(current)
	return &updated, nil
}

func (s *Store) UpdatePricingStatus(_ context.Context, id string, status string, message string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.products[id]
	if !exists {
		return store.ErrNotFound
	}
	at = at.UTC()
	current.Pricing.PricingStatus = status
	current.Pricing.PricingStatusMessage = message
	current.Pricing.PricingStatusUpdatedAt = &at
	current.Pricing.Version++
	s.products[id] = current
	return nil
}

func (s *Store) CreateAction(_ context.Context, action domain.PendingAction) (*domain.PendingAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if action.ProductID == "" || action.ActionType == "" {
		return nil, store.ErrInvalidInput
	}
	if action.Status == "" {
		action.Status = domain.ActionStatusPending
	}
	if action.IsOpen() {
		for _, existing := range s.actionsByID {
			if existing.ProductID == action.ProductID && existing.ActionType == action.ActionType && existing.IsOpen() {
				return nil, store.ErrConflict
			}
		}
	}
	if action.ID == "" {
		action.ID = xid.New("act")
	}
	now := time.Now().UTC()
	if action.CreatedAt.IsZero() {
		action.CreatedAt = now
	}
	action.UpdatedAt = now

	s.actionsByID[action.ID] = cloneAction(action)
	created := cloneAction(action)
	return &created, nil
}

func (s *Store) UpdateAction(_ context.Context, action domain.PendingAction) (*domain.PendingAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.actionsByID[action.ID]; !exists {
		return nil, store.ErrNotFound
	}
	action.UpdatedAt = time.Now().UTC()
	s.actionsByID[action.ID] = cloneAction(action)
	updated := cloneAction(action)
	return &updated, nil
}

func (s *Store) GetAction(_ context.Context, id string) (*domain.PendingAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	action, exists := s.actionsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyAction := cloneAction(action)
	return &copyAction, nil
}

func (s *Store) FindOpen(_ context.Context, productID string, actionType string) (*domain.PendingAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, action := range s.actionsByID {
		if action.ProductID == productID && action.ActionType == actionType && action.IsOpen() {
			copyAction := cloneAction(action)
			return &copyAction, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListOpenNotIn(_ context.Context, productID string, actionTypes []string) ([]domain.PendingAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PendingAction, 0, 4)
	for _, action := range s.actionsByID {
		if action.ProductID != productID || !action.IsOpen() {
			continue
		}
		if slices.Contains(actionTypes, action.ActionType) {
			continue
		}
		result = append(result, cloneAction(action))
	}
	sortActions(result)
	return result, nil
}

func (s *Store) ListActions(_ context.Context, filter domain.PendingActionFilter) ([]domain.PendingAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PendingAction, 0, 32)
	for _, action := range s.actionsByID {
		if filter.ProductID != "" && action.ProductID != filter.ProductID {
			continue
		}
		if filter.Status != "" && action.Status != filter.Status {
			continue
		}
		if filter.ActionType != "" && action.ActionType != filter.ActionType {
			continue
		}
		if filter.Priority != "" && action.Priority != filter.Priority {
			continue
		}
		if filter.OpenOnly && !action.IsOpen() {
			continue
		}
		result = append(result, cloneAction(action))
	}
	sortActions(result)
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) DeleteExpiredActions(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, action := range s.actionsByID {
		if !action.IsOpen() || action.ExpiresAt == nil {
			continue
		}
		if action.ExpiresAt.After(now) {
			continue
		}
		delete(s.actionsByID, id)
		deleted++
	}
	return deleted, nil
}

func (s *Store) CreatePriceHistory(_ context.Context, entry domain.PriceHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ProductID == "" {
		return store.ErrInvalidInput
	}
	if entry.ID == "" {
		entry.ID = xid.New("ph")
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}
	s.historyByID[entry.ProductID] = append(s.historyByID[entry.ProductID], entry)
	return nil
}

func (s *Store) ListPriceHistory(_ context.Context, productID string, limit int) ([]domain.PriceHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.historyByID[productID]
	if len(history) == 0 {
		return []domain.PriceHistoryEntry{}, nil
	}

	result := make([]domain.PriceHistoryEntry, len(history))
	copy(result, history)
	slices.SortFunc(result, func(a, b domain.PriceHistoryEntry) int {
		if a.ChangedAt.Equal(b.ChangedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.ChangedAt.After(b.ChangedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetPricingConfig(_ context.Context) (*domain.PricingConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.pricingConfig == nil {
		return nil, store.ErrNotFound
	}
	cfg := cloneConfig(*s.pricingConfig)
	return &cfg, nil
}

func (s *Store) SavePricingConfig(_ context.Context, cfg domain.PricingConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := cloneConfig(cfg)
	s.pricingConfig = &saved
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "operator"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func sortActions(actions []domain.PendingAction) {
	slices.SortFunc(actions, func(a, b domain.PendingAction) int {
		if pa, pb := priorityRank(a.Priority), priorityRank(b.Priority); pa != pb {
			return pa - pb
		}
		if !a.FirstDetected.Equal(b.FirstDetected) {
			return a.FirstDetected.Compare(b.FirstDetected)
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func priorityRank(priority string) int {
	switch priority {
	case domain.PriorityCritical:
		return 0
	case domain.PriorityHigh:
		return 1
	case domain.PriorityMedium:
		return 2
	default:
		return 3
	}
}

func cloneProduct(src domain.Product) domain.Product {
	dup := src
	dup.StorefrontPrice = cloneFloat(src.StorefrontPrice)
	dup.LastSyncAt = cloneTime(src.LastSyncAt)

	pr := &dup.Pricing
	pr.CustomCost = cloneFloat(src.Pricing.CustomCost)
	pr.Margin = cloneFloat(src.Pricing.Margin)
	pr.CustomShippingCost = cloneFloat(src.Pricing.CustomShippingCost)
	pr.PVPMCalculatedAt = cloneTime(src.Pricing.PVPMCalculatedAt)
	pr.FixedPrice = cloneFloat(src.Pricing.FixedPrice)
	pr.FixedPriceSetAt = cloneTime(src.Pricing.FixedPriceSetAt)
	pr.CompetitorPrice = cloneFloat(src.Pricing.CompetitorPrice)
	pr.CompetitorPriceUpdatedAt = cloneTime(src.Pricing.CompetitorPriceUpdatedAt)
	pr.CompetitorData.BuyboxPrice = cloneFloat(src.Pricing.CompetitorData.BuyboxPrice)
	pr.CompetitorData.LowestPrice = cloneFloat(src.Pricing.CompetitorData.LowestPrice)
	pr.CompetitorData.LastChecked = cloneTime(src.Pricing.CompetitorData.LastChecked)
	pr.PricingStatusUpdatedAt = cloneTime(src.Pricing.PricingStatusUpdatedAt)
	pr.LastPriceUpdate = cloneTime(src.Pricing.LastPriceUpdate)
	pr.PriceHistory = slices.Clone(src.Pricing.PriceHistory)
	return dup
}

func cloneAction(src domain.PendingAction) domain.PendingAction {
	dup := src
	if src.Data != nil {
		dup.Data = make(map[string]any, len(src.Data))
		for k, v := range src.Data {
			dup.Data[k] = v
		}
	}
	dup.ResolvedAt = cloneTime(src.ResolvedAt)
	dup.ExpiresAt = cloneTime(src.ExpiresAt)
	return dup
}

func cloneConfig(src domain.PricingConfig) domain.PricingConfig {
	dup := src
	dup.ShippingTiers = slices.Clone(src.ShippingTiers)
	return dup
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	dup := *v
	return &dup
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	dup := *v
	return &dup
}
