package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"pricesync/backend/internal/competitor"
	"pricesync/backend/internal/domain"
	"pricesync/backend/internal/logging"
	"pricesync/backend/internal/pendingaction"
	"pricesync/backend/internal/pvpm"
	"pricesync/backend/internal/scheduler"
	"pricesync/backend/internal/service"
	"pricesync/backend/internal/store"
)

type Deps struct {
	Pipeline  *service.Pipeline
	Config    *service.ConfigService
	Monitor   *competitor.Monitor
	Detector  *pendingaction.Detector
	Scheduler *scheduler.Scheduler
	Auth      *AuthManager
}

type API struct {
	pipeline      *service.Pipeline
	config        *service.ConfigService
	monitor       *competitor.Monitor
	detector      *pendingaction.Detector
	scheduler     *scheduler.Scheduler
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
	log           *zap.Logger
}

func New(deps Deps, allowedOrigin string, log *zap.Logger) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		pipeline:      deps.Pipeline,
		config:        deps.Config,
		monitor:       deps.Monitor,
		detector:      deps.Detector,
		scheduler:     deps.Scheduler,
		auth:          deps.Auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
		log:           logging.OrNop(log),
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (Unix time truncated to the hour).
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	bucket := time.Now().UTC().Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken accepts tokens from the current or previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("GET /api/v1/auth/csrf-token", a.handleCSRFToken)

	anyRole := []string{RoleOperator, RoleAdmin}

	mux.HandleFunc("GET /api/v1/pricing/status", a.requireAuth(a.handleStatus, anyRole...))
	mux.HandleFunc("POST /api/v1/pricing/products/{id}/process", a.requireAuth(a.handleProcess, anyRole...))
	mux.HandleFunc("POST /api/v1/pricing/products/{id}/pvpm", a.requireAuth(a.handleRefreshPVPM, anyRole...))
	mux.HandleFunc("POST /api/v1/pricing/batch", a.requireAuth(a.handleBatch, anyRole...))
	mux.HandleFunc("POST /api/v1/pricing/polling", a.requireAuth(a.handlePollingStart, RoleAdmin))
	mux.HandleFunc("DELETE /api/v1/pricing/polling", a.requireAuth(a.handlePollingStop, RoleAdmin))
	mux.HandleFunc("POST /api/v1/pricing/tasks/{name}/run", a.requireAuth(a.handleRunTask, RoleAdmin))
	mux.HandleFunc("POST /api/v1/pricing/notifications", a.requireAuth(a.handleNotification, anyRole...))
	mux.HandleFunc("POST /api/v1/pricing/notifications/simulate", a.requireAuth(a.handleSimulateObservation, anyRole...))
	mux.HandleFunc("GET /api/v1/pricing/config", a.requireAuth(a.handleGetConfig, anyRole...))
	mux.HandleFunc("PUT /api/v1/pricing/config", a.requireAuth(a.handlePutConfig, RoleAdmin))

	mux.HandleFunc("GET /api/v1/products/{id}", a.requireAuth(a.handleGetProduct, anyRole...))
	mux.HandleFunc("GET /api/v1/products/{id}/price-history", a.requireAuth(a.handlePriceHistory, anyRole...))
	mux.HandleFunc("PATCH /api/v1/products/{id}/fixed-price", a.requireAuth(a.handleFixedPrice, anyRole...))
	mux.HandleFunc("PATCH /api/v1/products/{id}/auto-update", a.requireAuth(a.handleAutoUpdate, anyRole...))
	mux.HandleFunc("PATCH /api/v1/products/{id}/cost", a.requireAuth(a.handleCostInputs, anyRole...))

	mux.HandleFunc("GET /api/v1/pending-actions", a.requireAuth(a.handleListActions, anyRole...))
	mux.HandleFunc("GET /api/v1/pending-actions/summary", a.requireAuth(a.handleActionSummary, anyRole...))
	mux.HandleFunc("POST /api/v1/pending-actions/detect", a.requireAuth(a.handleDetect, anyRole...))
	mux.HandleFunc("POST /api/v1/pending-actions/{id}/resolve", a.requireAuth(a.handleResolveAction, anyRole...))
	mux.HandleFunc("POST /api/v1/pending-actions/{id}/dismiss", a.requireAuth(a.handleDismissAction, anyRole...))
	mux.HandleFunc("POST /api/v1/pending-actions/{id}/start", a.requireAuth(a.handleStartAction, anyRole...))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func actorFrom(r *http.Request) domain.Actor {
	if actor, ok := service.ActorFromContext(r.Context()); ok {
		return actor
	}
	return domain.SystemActor
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"config_loaded": a.config.Loaded(),
		"at":            time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless token for the X-CSRF-Token header of
// mutating requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

var csrfExemptPaths = []string{
	"/api/v1/auth/login",
	"/api/v1/pricing/notifications",
}

// checkCSRF enforces CSRF token validation for state-changing methods.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) engineStatus() domain.EngineStatus {
	status := a.pipeline.Status()
	if a.scheduler != nil {
		status.Tasks = a.scheduler.Status()
		status.PollingEnabled = a.scheduler.Running()
	}
	return status
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": a.engineStatus()})
}

func (a *API) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req domain.ProcessRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	trig := domain.TriggerContext{
		Type:    domain.TriggerManual,
		Urgency: domain.UrgencyHigh,
		Force:   req.Force,
		Source:  "api",
		Note:    strings.TrimSpace(req.Note),
	}
	result, err := a.pipeline.ProcessProduct(r.Context(), r.PathValue("id"), trig, actorFrom(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (a *API) handleRefreshPVPM(w http.ResponseWriter, r *http.Request) {
	breakdown, err := a.pipeline.RefreshPVPM(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pvpm": breakdown})
}

func (a *API) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req domain.BatchProcessRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	trig := domain.TriggerContext{
		Type:    domain.TriggerBulkOperation,
		Urgency: domain.UrgencyNormal,
		Force:   req.Force,
		Source:  "api",
	}
	if req.Simulate {
		sim, err := a.pipeline.Simulate(r.Context(), req.ProductIDs, trig)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"simulation": sim})
		return
	}

	res, err := a.pipeline.ProcessBatch(r.Context(), req.ProductIDs, trig, actorFrom(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch": res})
}

func (a *API) handlePollingStart(w http.ResponseWriter, r *http.Request) {
	if a.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("scheduler not configured"))
		return
	}
	// the scheduler outlives this request
	a.scheduler.Start(context.WithoutCancel(r.Context()))
	a.log.Info("polling started", zap.String("by", actorFrom(r).String()))
	writeJSON(w, http.StatusOK, map[string]any{"status": a.engineStatus()})
}

func (a *API) handlePollingStop(w http.ResponseWriter, r *http.Request) {
	if a.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("scheduler not configured"))
		return
	}
	a.scheduler.Stop()
	a.log.Info("polling stopped", zap.String("by", actorFrom(r).String()))
	writeJSON(w, http.StatusOK, map[string]any{"status": a.engineStatus()})
}

func (a *API) handleRunTask(w http.ResponseWriter, r *http.Request) {
	if a.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("scheduler not configured"))
		return
	}
	if err := a.scheduler.RunNow(r.Context(), r.PathValue("name")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": a.scheduler.Status()})
}

func (a *API) handleNotification(w http.ResponseWriter, r *http.Request) {
	var n domain.OfferNotification
	// marketplace payloads carry fields we do not model
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	obs, err := a.monitor.HandleNotification(r.Context(), n)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"observation": obs})
}

type simulateObservationRequest struct {
	ProductID       string   `json:"product_id"`
	CompetitorPrice *float64 `json:"competitor_price"`
	BuyboxPrice     *float64 `json:"buybox_price"`
	OfferCount      int      `json:"offer_count"`
	OwnBuybox       *bool    `json:"own_buybox"`
}

func (a *API) handleSimulateObservation(w http.ResponseWriter, r *http.Request) {
	var req simulateObservationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		writeError(w, http.StatusBadRequest, errors.New("product_id required"))
		return
	}
	if req.CompetitorPrice != nil && *req.CompetitorPrice <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("competitor_price must be positive"))
		return
	}

	obs, err := a.monitor.Observe(r.Context(), req.ProductID, domain.CompetitiveOffers{
		CompetitorPrice: req.CompetitorPrice,
		BuyboxPrice:     req.BuyboxPrice,
		OfferCount:      req.OfferCount,
		OwnBuybox:       req.OwnBuybox,
		FetchedAt:       time.Now().UTC(),
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"observation": obs})
}

func (a *API) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"config": a.config.Current()})
}

func (a *API) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var cfg domain.PricingConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	saved, err := a.config.Update(r.Context(), cfg, actorFrom(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"config": saved})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.pipeline.Product(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 200)
	history, err := a.pipeline.PriceHistory(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (a *API) handleFixedPrice(w http.ResponseWriter, r *http.Request) {
	var req domain.FixedPriceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var (
		product *domain.Product
		err     error
	)
	if req.Price == nil {
		product, err = a.pipeline.ClearFixedPrice(r.Context(), r.PathValue("id"))
	} else {
		product, err = a.pipeline.SetFixedPrice(r.Context(), r.PathValue("id"), req)
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleAutoUpdate(w http.ResponseWriter, r *http.Request) {
	var req domain.AutoUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.pipeline.SetAutoUpdate(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleCostInputs(w http.ResponseWriter, r *http.Request) {
	var req domain.CostInputsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.pipeline.UpdateCostInputs(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleListActions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.PendingActionFilter{
		ProductID:  strings.TrimSpace(q.Get("product_id")),
		Status:     strings.TrimSpace(q.Get("status")),
		ActionType: strings.TrimSpace(q.Get("type")),
		Priority:   strings.TrimSpace(q.Get("priority")),
		Limit:      parsePositiveLimit(q.Get("limit"), 100, 500),
	}
	if open, err := strconv.ParseBool(q.Get("open")); err == nil {
		filter.OpenOnly = open
	}

	actions, err := a.detector.List(r.Context(), filter)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

func (a *API) handleActionSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := a.detector.Summary(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
}

type detectRequest struct {
	ProductIDs []string `json:"product_ids"`
}

func (a *API) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if len(req.ProductIDs) == 1 {
		res, err := a.detector.Detect(r.Context(), req.ProductIDs[0])
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"detection": res})
		return
	}

	res, err := a.detector.DetectBulk(r.Context(), req.ProductIDs)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch": res})
}

type resolveActionRequest struct {
	Note   string `json:"note"`
	Method string `json:"method"`
}

func (a *API) handleResolveAction(w http.ResponseWriter, r *http.Request) {
	var req resolveActionRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	action, err := a.detector.Resolve(r.Context(), r.PathValue("id"), actorFrom(r), strings.TrimSpace(req.Note), req.Method)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"action": action})
}

func (a *API) handleDismissAction(w http.ResponseWriter, r *http.Request) {
	var req domain.ActionResolutionRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	action, err := a.detector.Dismiss(r.Context(), r.PathValue("id"), actorFrom(r), strings.TrimSpace(req.Note))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"action": action})
}

func (a *API) handleStartAction(w http.ResponseWriter, r *http.Request) {
	action, err := a.detector.MarkInProgress(r.Context(), r.PathValue("id"), actorFrom(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"action": action})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(startedAt)),
		)
	})
}

// statusFor maps domain and store sentinels to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, scheduler.ErrUnknownTask):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidInput), errors.Is(err, competitor.ErrUnknownNotification):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrConflict), errors.Is(err, service.ErrSweepInProgress):
		return http.StatusConflict
	case errors.Is(err, pvpm.ErrInvalidCost), errors.Is(err, pvpm.ErrInvalidMargin):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(r *http.Request, dest any) error {
	if err := decodeJSON(r, dest); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; 4xx messages are user-facing.
	msg := err.Error()
	if status >= 500 {
		zap.L().Error("internal error", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
