package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"pricesync/backend/internal/domain"
	"pricesync/backend/internal/store"
	"pricesync/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productColumns = `id, sku, name, asin, storefront_id, active, price, stock, erp_obs,
	storefront_price, sync_error, sync_error_message, last_sync_at, pricing, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var (
		p               domain.Product
		asin            sql.NullString
		storefrontPrice sql.NullFloat64
		lastSync        sql.NullTime
		pricing         []byte
		version         int64
	)
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &asin, &p.StorefrontID, &p.Active, &p.Price, &p.Stock, &p.ErpObs,
		&storefrontPrice, &p.SyncError, &p.SyncErrorMessage, &lastSync, &pricing, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(pricing, &p.Pricing); err != nil {
		return nil, fmt.Errorf("decode pricing of %s: %w", p.ID, err)
	}
	p.ASIN = asin.String
	if storefrontPrice.Valid {
		v := storefrontPrice.Float64
		p.StorefrontPrice = &v
	}
	if lastSync.Valid {
		t := lastSync.Time.UTC()
		p.LastSyncAt = &t
	}
	p.Pricing.Version = version
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	product.SKU = strings.TrimSpace(product.SKU)
	product.ASIN = strings.TrimSpace(product.ASIN)
	if product.SKU == "" || product.Name == "" || product.Price < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.Pricing.PricingStatus == "" {
		product.Pricing.PricingStatus = domain.PricingStatusOK
	}
	product.Pricing.Version = 0

	pricing, err := json.Marshal(product.Pricing)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (
			id, sku, name, asin, storefront_id, active, price, stock, erp_obs,
			storefront_price, sync_error, sync_error_message, last_sync_at, pricing,
			competitor_checked_at, version, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,0,now(),now())
	`, product.ID, product.SKU, product.Name, nullIfEmpty(product.ASIN), product.StorefrontID, product.Active,
		product.Price, product.Stock, product.ErpObs, nullFloat(product.StorefrontPrice), product.SyncError,
		product.SyncErrorMessage, nullTime(product.LastSyncAt), pricing, nullTime(product.Pricing.CompetitorData.LastChecked))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	return scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE sku = $1`, strings.TrimSpace(sku)))
}

func (s *Store) GetProductByASIN(ctx context.Context, asin string) (*domain.Product, error) {
	return scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE asin = $1`, strings.TrimSpace(asin)))
}

func (s *Store) ListProductIDs(ctx context.Context, activeOnly bool) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM products
		WHERE ($1 = false OR active = true)
		ORDER BY id
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0, 128)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) ListForCompetitorCheck(ctx context.Context, checkedBefore time.Time, limit int) ([]domain.Product, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true
		  AND asin IS NOT NULL
		  AND (competitor_checked_at IS NULL OR competitor_checked_at < $1)
		ORDER BY competitor_checked_at NULLS FIRST, id
		LIMIT $2
	`, checkedBefore.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, limit)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) UpdatePricing(ctx context.Context, id string, fn store.PricingMutator) (*domain.Product, error) {
	return s.mutate(ctx, id, func(p *domain.Product) error {
		return fn(p)
	})
}

func (s *Store) ApplyPrice(ctx context.Context, id string, price float64, at time.Time, expectedVersion int64) (*domain.Product, error) {
	if price <= 0 {
		return nil, store.ErrInvalidInput
	}
	at = at.UTC()
	return s.mutate(ctx, id, func(p *domain.Product) error {
		if p.Pricing.Version != expectedVersion {
			return store.ErrConflict
		}
		p.Price = price
		p.Pricing.LastPriceUpdate = &at
		p.Pricing.AutoUpdateCount++
		p.Pricing.PricingStatus = domain.PricingStatusOK
		p.Pricing.PricingStatusMessage = ""
		p.Pricing.PricingStatusUpdatedAt = &at
		return nil
	})
}

func (s *Store) UpdatePricingStatus(ctx context.Context, id string, status string, message string, at time.Time) error {
	at = at.UTC()
	_, err := s.mutate(ctx, id, func(p *domain.Product) error {
		p.Pricing.PricingStatus = status
		p.Pricing.PricingStatusMessage = message
		p.Pricing.PricingStatusUpdatedAt = &at
		return nil
	})
	return err
}

// mutate locks the product row, applies fn and writes the row back with the
// version bumped. An error from fn rolls the transaction back.
func (s *Store) mutate(ctx context.Context, id string, fn store.PricingMutator) (*domain.Product, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanProduct(tx.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	working := *current
	if err := fn(&working); err != nil {
		return nil, err
	}
	working.ID = current.ID
	working.SKU = current.SKU
	working.ASIN = current.ASIN
	working.Pricing.Version = current.Pricing.Version + 1

	pricing, err := json.Marshal(working.Pricing)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE products
		SET price = $2, pricing = $3, competitor_checked_at = $4, version = $5, updated_at = now()
		WHERE id = $1
	`, working.ID, working.Price, pricing, nullTime(working.Pricing.CompetitorData.LastChecked), working.Pricing.Version)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &working, nil
}

const actionColumns = `id, product_id, sku, action_type, priority, title, description, data, status,
	occurrence_count, first_detected, last_checked, auto_resolve_enabled, resolved_at, resolved_by,
	resolution_note, resolution_method, expires_at, created_at, updated_at`

func scanAction(row rowScanner) (*domain.PendingAction, error) {
	var (
		a          domain.PendingAction
		data       []byte
		resolvedAt sql.NullTime
		expiresAt  sql.NullTime
	)
	err := row.Scan(&a.ID, &a.ProductID, &a.SKU, &a.ActionType, &a.Priority, &a.Title, &a.Description, &data, &a.Status,
		&a.OccurrenceCount, &a.FirstDetected, &a.LastChecked, &a.AutoResolveEnabled, &resolvedAt, &a.ResolvedBy,
		&a.ResolutionNote, &a.ResolutionMethod, &expiresAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &a.Data); err != nil {
			return nil, fmt.Errorf("decode action data of %s: %w", a.ID, err)
		}
	}
	a.FirstDetected = a.FirstDetected.UTC()
	a.LastChecked = a.LastChecked.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		a.ResolvedAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		a.ExpiresAt = &t
	}
	return &a, nil
}

func scanActions(rows *sql.Rows) ([]domain.PendingAction, error) {
	defer rows.Close()
	actions := make([]domain.PendingAction, 0, 16)
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return actions, nil
}

func (s *Store) CreateAction(ctx context.Context, action domain.PendingAction) (*domain.PendingAction, error) {
	if action.ProductID == "" || action.ActionType == "" {
		return nil, store.ErrInvalidInput
	}
	if action.ID == "" {
		action.ID = xid.New("act")
	}
	if action.Status == "" {
		action.Status = domain.ActionStatusPending
	}
	now := time.Now().UTC()
	if action.CreatedAt.IsZero() {
		action.CreatedAt = now
	}
	if action.FirstDetected.IsZero() {
		action.FirstDetected = now
	}
	if action.LastChecked.IsZero() {
		action.LastChecked = now
	}
	action.UpdatedAt = now

	data, err := json.Marshal(action.Data)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_actions (`+actionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`, action.ID, action.ProductID, action.SKU, action.ActionType, action.Priority, action.Title, action.Description,
		data, action.Status, action.OccurrenceCount, action.FirstDetected, action.LastChecked, action.AutoResolveEnabled,
		nullTime(action.ResolvedAt), action.ResolvedBy, action.ResolutionNote, action.ResolutionMethod,
		nullTime(action.ExpiresAt), action.CreatedAt, action.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &action, nil
}

func (s *Store) UpdateAction(ctx context.Context, action domain.PendingAction) (*domain.PendingAction, error) {
	data, err := json.Marshal(action.Data)
	if err != nil {
		return nil, err
	}
	action.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_actions
		SET priority = $2, title = $3, description = $4, data = $5, status = $6, occurrence_count = $7,
		    last_checked = $8, auto_resolve_enabled = $9, resolved_at = $10, resolved_by = $11,
		    resolution_note = $12, resolution_method = $13, expires_at = $14, updated_at = $15
		WHERE id = $1
	`, action.ID, action.Priority, action.Title, action.Description, data, action.Status, action.OccurrenceCount,
		action.LastChecked, action.AutoResolveEnabled, nullTime(action.ResolvedAt), action.ResolvedBy,
		action.ResolutionNote, action.ResolutionMethod, nullTime(action.ExpiresAt), action.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return &action, nil
}

func (s *Store) GetAction(ctx context.Context, id string) (*domain.PendingAction, error) {
	return scanAction(s.db.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM pending_actions WHERE id = $1`, id))
}

func (s *Store) FindOpen(ctx context.Context, productID string, actionType string) (*domain.PendingAction, error) {
	return scanAction(s.db.QueryRowContext(ctx, `
		SELECT `+actionColumns+`
		FROM pending_actions
		WHERE product_id = $1 AND action_type = $2 AND status IN ('pending', 'in_progress')
	`, productID, actionType))
}

func (s *Store) ListOpenNotIn(ctx context.Context, productID string, actionTypes []string) ([]domain.PendingAction, error) {
	if actionTypes == nil {
		actionTypes = []string{}
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+actionColumns+`
		FROM pending_actions
		WHERE product_id = $1
		  AND status IN ('pending', 'in_progress')
		  AND NOT (action_type = ANY($2))
		ORDER BY `+priorityOrder+`, first_detected
	`, productID, actionTypes)
	if err != nil {
		return nil, err
	}
	return scanActions(rows)
}

const priorityOrder = `CASE priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END`

func (s *Store) ListActions(ctx context.Context, filter domain.PendingActionFilter) ([]domain.PendingAction, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+actionColumns+`
		FROM pending_actions
		WHERE ($1 = '' OR product_id = $1)
		  AND ($2 = '' OR status = $2)
		  AND ($3 = '' OR action_type = $3)
		  AND ($4 = '' OR priority = $4)
		  AND ($5 = false OR status IN ('pending', 'in_progress'))
		ORDER BY `+priorityOrder+`, first_detected
		LIMIT $6
	`, filter.ProductID, filter.Status, filter.ActionType, filter.Priority, filter.OpenOnly, limit)
	if err != nil {
		return nil, err
	}
	return scanActions(rows)
}

func (s *Store) DeleteExpiredActions(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_actions
		WHERE status IN ('pending', 'in_progress')
		  AND expires_at IS NOT NULL
		  AND expires_at < $1
	`, now.UTC())
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) CreatePriceHistory(ctx context.Context, entry domain.PriceHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = xid.New("ph")
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}
	before, err := json.Marshal(entry.Before)
	if err != nil {
		return err
	}
	after, err := json.Marshal(entry.After)
	if err != nil {
		return err
	}
	trigger, err := json.Marshal(entry.Trigger)
	if err != nil {
		return err
	}
	actor, err := json.Marshal(entry.Actor)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO price_history (
			id, product_id, sku, before_snapshot, after_snapshot, trigger_context,
			strategy, confidence, reasoning, actor, changed_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, entry.ID, entry.ProductID, entry.SKU, before, after, trigger, entry.Strategy, entry.Confidence,
		entry.Reasoning, actor, entry.ChangedAt)
	return err
}

func (s *Store) ListPriceHistory(ctx context.Context, productID string, limit int) ([]domain.PriceHistoryEntry, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, sku, before_snapshot, after_snapshot, trigger_context,
		       strategy, confidence, reasoning, actor, changed_at
		FROM price_history
		WHERE product_id = $1
		ORDER BY changed_at DESC
		LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]domain.PriceHistoryEntry, 0, limit)
	for rows.Next() {
		var (
			entry                         domain.PriceHistoryEntry
			before, after, trigger, actor []byte
		)
		if err := rows.Scan(&entry.ID, &entry.ProductID, &entry.SKU, &before, &after, &trigger,
			&entry.Strategy, &entry.Confidence, &entry.Reasoning, &actor, &entry.ChangedAt); err != nil {
			return nil, err
		}
		for _, part := range []struct {
			raw []byte
			dst any
		}{
			{before, &entry.Before},
			{after, &entry.After},
			{trigger, &entry.Trigger},
			{actor, &entry.Actor},
		} {
			if err := json.Unmarshal(part.raw, part.dst); err != nil {
				return nil, fmt.Errorf("decode price history %s: %w", entry.ID, err)
			}
		}
		entry.ChangedAt = entry.ChangedAt.UTC()
		history = append(history, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return history, nil
}

func (s *Store) GetPricingConfig(ctx context.Context) (*domain.PricingConfig, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT config FROM pricing_config WHERE id = 1`).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	var cfg domain.PricingConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode pricing config: %w", err)
	}
	return &cfg, nil
}

func (s *Store) SavePricingConfig(ctx context.Context, cfg domain.PricingConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pricing_config (id, config, updated_by, updated_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id)
		DO UPDATE SET config = EXCLUDED.config, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at
	`, raw, cfg.UpdatedBy, cfg.UpdatedAt)
	return err
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = "operator"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullFloat(val *float64) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return val.UTC()
}
