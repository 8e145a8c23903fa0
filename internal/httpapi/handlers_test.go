package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pricesync/backend/internal/batch"
	"pricesync/backend/internal/channel"
	"pricesync/backend/internal/competitor"
	"pricesync/backend/internal/decision"
	"pricesync/backend/internal/domain"
	"pricesync/backend/internal/events"
	"pricesync/backend/internal/executor"
	"pricesync/backend/internal/history"
	"pricesync/backend/internal/pendingaction"
	"pricesync/backend/internal/scheduler"
	"pricesync/backend/internal/service"
	"pricesync/backend/internal/store/memory"
	"pricesync/backend/internal/validation"
)

const testSellerID = "SELLER-OWN"

// newTestAPI builds a full API over the in-memory store and the simulated
// marketplace so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	sim := channel.NewSimulated()
	rec := &events.Recorder{}
	clock := func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }

	configs := service.NewConfigService(repo, nil)
	if _, err := configs.Bootstrap(t.Context()); err != nil {
		t.Fatalf("bootstrap config: %v", err)
	}

	exec := executor.New(repo, sim, rec, nil)
	exec.SetClock(clock)
	detector := pendingaction.NewDetector(repo, repo, rec, nil, 0.05, nil)
	detector.SetClock(clock)

	pipeline := service.NewPipeline(service.Deps{
		Products:  repo,
		Config:    configs,
		Engine:    decision.NewEngine(),
		Validator: validation.New(time.UTC, nil),
		Executor:  exec,
		History:   history.NewRecorder(repo, repo, nil),
		Detector:  detector,
	}, nil)
	pipeline.SetClock(clock)

	monitor := competitor.NewMonitor(repo, sim, nil, configs, nil, competitor.Options{SellerID: testSellerID}, nil)
	monitor.SetObserver(pipeline)

	sched := scheduler.New(nil, scheduler.PricingTasks(monitor, detector, pipeline, scheduler.Intervals{
		CompetitorSweep: time.Hour,
		CorrectionSweep: time.Hour,
		PVPMRefresh:     time.Hour,
		ActionReaper:    time.Hour,
	})...)
	t.Cleanup(sched.Stop)

	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(Deps{
		Pipeline:  pipeline,
		Config:    configs,
		Monitor:   monitor,
		Detector:  detector,
		Scheduler: sched,
		Auth:      auth,
	}, "*", nil)
}

func login(t *testing.T, api *API, username string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: "admin123"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("%s login failed, status %d", username, res.Code)
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}

func loginAsAdmin(t *testing.T, api *API) string {
	t.Helper()
	return login(t, api, "admin")
}

// fetchCSRFToken calls the CSRF token endpoint and returns the token string.
func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("csrf-token endpoint returned status %d", res.Code)
	}
	var payload map[string]string
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode csrf-token response failed: %v", err)
	}
	return payload["csrf_token"]
}

// call sends an authenticated request, attaching a CSRF token to mutating methods.
func call(t *testing.T, api *API, method string, path string, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if method != http.MethodGet {
		req.Header.Set("X-CSRF-Token", fetchCSRFToken(t, api))
	}
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(res.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	res := call(t, api, http.MethodGet, "/healthz", "", "")

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var body map[string]any
	decodeBody(t, res, &body)
	if body["ok"] != true || body["config_loaded"] != true {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestHandleLogin_InvalidPassword(t *testing.T) {
	api := newTestAPI(t)
	res := call(t, api, http.MethodPost, "/api/v1/auth/login", "", `{"username":"admin","password":"nope"}`)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestProtectedEndpointRequiresToken(t *testing.T) {
	api := newTestAPI(t)
	res := call(t, api, http.MethodGet, "/api/v1/pricing/status", "", "")

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestProcessProductEndpointAppliesPrice(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	res := call(t, api, http.MethodPost, "/api/v1/pricing/products/prd-001/process", token, `{"note":"manual check"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	var body struct {
		Result domain.ProcessResult `json:"result"`
	}
	decodeBody(t, res, &body)
	if !body.Result.Applied || body.Result.History == nil {
		t.Fatalf("expected applied result with history, got %+v", body.Result)
	}
	if body.Result.History.Actor.ID != "admin" || body.Result.History.Trigger.Note != "manual check" {
		t.Fatalf("unexpected history attribution: %+v", body.Result.History)
	}

	res = call(t, api, http.MethodGet, "/api/v1/products/prd-001/price-history?limit=5", token, "")
	var hist struct {
		History []domain.PriceHistoryEntry `json:"history"`
	}
	decodeBody(t, res, &hist)
	if len(hist.History) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(hist.History))
	}
}

func TestProcessEndpointMapsErrors(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	if res := call(t, api, http.MethodPost, "/api/v1/pricing/products/prd-404/process", token, ""); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown product, got %d", res.Code)
	}
	if res := call(t, api, http.MethodPost, "/api/v1/pricing/products/prd-005/process", token, ""); res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for missing cost, got %d", res.Code)
	}
	if res := call(t, api, http.MethodPost, "/api/v1/pricing/products/prd-001/process", token, `{"unknown":1}`); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", res.Code)
	}
}

func TestOperatorCannotChangeConfigOrPolling(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "operator")

	res := call(t, api, http.MethodGet, "/api/v1/pricing/config", token, "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected operator to read config, got %d", res.Code)
	}
	cfgBody := res.Body.String()
	var wrapped struct {
		Config json.RawMessage `json:"config"`
	}
	if err := json.Unmarshal([]byte(cfgBody), &wrapped); err != nil {
		t.Fatalf("decode config: %v", err)
	}

	if res := call(t, api, http.MethodPut, "/api/v1/pricing/config", token, string(wrapped.Config)); res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for config update, got %d", res.Code)
	}
	if res := call(t, api, http.MethodPost, "/api/v1/pricing/polling", token, ""); res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for polling start, got %d", res.Code)
	}
}

func TestConfigUpdateValidates(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	cfg := domain.DefaultPricingConfig()
	cfg.GlobalMargin = -1
	raw, _ := json.Marshal(cfg)
	if res := call(t, api, http.MethodPut, "/api/v1/pricing/config", token, string(raw)); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative margin, got %d", res.Code)
	}

	cfg.GlobalMargin = 0.6
	raw, _ = json.Marshal(cfg)
	res := call(t, api, http.MethodPut, "/api/v1/pricing/config", token, string(raw))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	var body struct {
		Config domain.PricingConfig `json:"config"`
	}
	decodeBody(t, res, &body)
	if body.Config.GlobalMargin != 0.6 || body.Config.UpdatedBy != "admin" {
		t.Fatalf("unexpected saved config: %+v", body.Config)
	}
}

func TestNotificationUpdatesCompetitorData(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	payload := `{
		"notificationVersion": "1.0",
		"notificationType": "ANY_OFFER_CHANGED",
		"eventTime": "2026-03-02T09:58:00Z",
		"payload": {
			"summary": {"asin": "B0SIERRA01", "marketplaceId": "A1RKKUPIHCS9HS"},
			"offers": [
				{"sellerId": "SELLER-OWN", "sellerSku": "SKU-SIERRA-01", "listingPrice": {"amount": 54.00, "currencyCode": "EUR"}, "isBuyBoxWinner": false, "condition": "new"},
				{"sellerId": "SELLER-B", "sellerSku": "X-1", "listingPrice": {"amount": 50.00, "currencyCode": "EUR"}, "isBuyBoxWinner": true, "condition": "new"},
				{"sellerId": "SELLER-C", "sellerSku": "X-2", "listingPrice": {"amount": 30.00, "currencyCode": "EUR"}, "isBuyBoxWinner": false, "condition": "used"}
			]
		}
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pricing/notifications", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (body: %s)", res.Code, res.Body.String())
	}
	var body struct {
		Observation competitor.Observation `json:"observation"`
	}
	decodeBody(t, res, &body)
	if !body.Observation.Significant || body.Observation.HasBuybox {
		t.Fatalf("unexpected observation: %+v", body.Observation)
	}

	res = call(t, api, http.MethodGet, "/api/v1/products/prd-002", token, "")
	var product struct {
		Product domain.Product `json:"product"`
	}
	decodeBody(t, res, &product)
	cp := product.Product.Pricing.CompetitorPrice
	if cp == nil || *cp != 50.00 {
		t.Fatalf("expected competitor price 50.00, got %v", cp)
	}
	if product.Product.Pricing.CompetitorData.TotalOffers != 2 {
		t.Fatalf("expected used offer to be ignored, got %d offers", product.Product.Pricing.CompetitorData.TotalOffers)
	}
}

func TestUnknownNotificationTypeRejected(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	res := call(t, api, http.MethodPost, "/api/v1/pricing/notifications", token, `{"notificationType":"FEED_PROCESSING_FINISHED","payload":{}}`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestPendingActionLifecycle(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	res := call(t, api, http.MethodPost, "/api/v1/pending-actions/detect", token, `{"product_ids":["prd-005"]}`)
	if res.Code != http.StatusOK {
		t.Fatalf("detect expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	var detected struct {
		Detection domain.DetectionResult `json:"detection"`
	}
	decodeBody(t, res, &detected)
	if detected.Detection.Created == 0 {
		t.Fatalf("expected actions to be raised for prd-005")
	}

	res = call(t, api, http.MethodGet, "/api/v1/pending-actions?product_id=prd-005&type=missing_cost&open=true", token, "")
	var listed struct {
		Actions []domain.PendingAction `json:"actions"`
	}
	decodeBody(t, res, &listed)
	if len(listed.Actions) != 1 {
		t.Fatalf("expected one open missing_cost action, got %d", len(listed.Actions))
	}
	id := listed.Actions[0].ID

	if res := call(t, api, http.MethodPost, "/api/v1/pending-actions/"+id+"/start", token, ""); res.Code != http.StatusOK {
		t.Fatalf("start expected 200, got %d", res.Code)
	}
	res = call(t, api, http.MethodPost, "/api/v1/pending-actions/"+id+"/resolve", token, `{"note":"cost loaded from supplier sheet"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("resolve expected 200, got %d", res.Code)
	}
	var resolved struct {
		Action domain.PendingAction `json:"action"`
	}
	decodeBody(t, res, &resolved)
	if resolved.Action.Status != domain.ActionStatusResolved || resolved.Action.ResolvedBy != "admin" {
		t.Fatalf("unexpected resolved action: %+v", resolved.Action)
	}

	if res := call(t, api, http.MethodPost, "/api/v1/pending-actions/"+id+"/dismiss", token, ""); res.Code != http.StatusConflict {
		t.Fatalf("expected 409 for closed action, got %d", res.Code)
	}

	res = call(t, api, http.MethodGet, "/api/v1/pending-actions/summary", token, "")
	var summary struct {
		Summary domain.PendingActionSummary `json:"summary"`
	}
	decodeBody(t, res, &summary)
	if summary.Summary.ByType[domain.ActionMissingCost] != 0 {
		t.Fatalf("resolved action must not count as open: %+v", summary.Summary)
	}
}

func TestBatchSimulateWritesNothing(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	res := call(t, api, http.MethodPost, "/api/v1/pricing/batch", token, `{"product_ids":["prd-001","prd-002"],"simulate":true}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	var body struct {
		Simulation domain.SimulationResult `json:"simulation"`
	}
	decodeBody(t, res, &body)
	if body.Simulation.Batch.Processed != 2 || len(body.Simulation.Items) != 2 {
		t.Fatalf("unexpected simulation: %+v", body.Simulation.Batch)
	}

	res = call(t, api, http.MethodGet, "/api/v1/products/prd-001", token, "")
	var product struct {
		Product domain.Product `json:"product"`
	}
	decodeBody(t, res, &product)
	if product.Product.Price != 64.90 {
		t.Fatalf("simulation must not change price, got %.2f", product.Product.Price)
	}
}

func TestOversizedIDListsAreRejected(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	ids := make([]string, batch.MaxExplicit+1)
	for i := range ids {
		ids[i] = "prd-001"
	}
	payload, _ := json.Marshal(map[string]any{"product_ids": ids})

	for _, path := range []string{"/api/v1/pricing/batch", "/api/v1/pending-actions/detect"} {
		res := call(t, api, http.MethodPost, path, token, string(payload))
		if res.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d (body: %s)", path, res.Code, res.Body.String())
		}
	}
}

func TestFixedPricePatchSetsAndClears(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	res := call(t, api, http.MethodPatch, "/api/v1/products/prd-001/fixed-price", token, `{"price":80,"reason":"launch promo"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	var body struct {
		Product domain.Product `json:"product"`
	}
	decodeBody(t, res, &body)
	fp := body.Product.Pricing.FixedPrice
	if fp == nil || *fp != 80 || body.Product.Pricing.FixedPriceSetBy != "admin" {
		t.Fatalf("unexpected fixed price state: %+v", body.Product.Pricing)
	}

	if res := call(t, api, http.MethodPatch, "/api/v1/products/prd-001/fixed-price", token, `{"price":-3}`); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative fixed price, got %d", res.Code)
	}

	res = call(t, api, http.MethodPatch, "/api/v1/products/prd-001/fixed-price", token, `{"price":null}`)
	body.Product = domain.Product{}
	decodeBody(t, res, &body)
	if body.Product.Pricing.FixedPrice != nil {
		t.Fatalf("expected fixed price to be cleared")
	}
}

func TestPollingStartStop(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	res := call(t, api, http.MethodPost, "/api/v1/pricing/polling", token, "")
	var body struct {
		Status domain.EngineStatus `json:"status"`
	}
	decodeBody(t, res, &body)
	if !body.Status.PollingEnabled || len(body.Status.Tasks) != 4 {
		t.Fatalf("expected running scheduler with 4 tasks, got %+v", body.Status)
	}

	res = call(t, api, http.MethodDelete, "/api/v1/pricing/polling", token, "")
	body.Status = domain.EngineStatus{}
	decodeBody(t, res, &body)
	if body.Status.PollingEnabled {
		t.Fatalf("expected scheduler to be stopped")
	}

	if res := call(t, api, http.MethodPost, "/api/v1/pricing/tasks/nope/run", token, ""); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown task, got %d", res.Code)
	}
}
