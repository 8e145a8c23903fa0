package domain

import "time"

type Product struct {
	ID               string        `json:"id"`
	SKU              string        `json:"sku"`
	Name             string        `json:"name"`
	ASIN             string        `json:"asin,omitempty"`
	StorefrontID     string        `json:"storefront_id,omitempty"`
	Active           bool          `json:"active"`
	Price            float64       `json:"price"`
	Stock            int           `json:"stock"`
	ErpObs           string        `json:"erp_obs,omitempty"`
	StorefrontPrice  *float64      `json:"storefront_price,omitempty"`
	SyncError        bool          `json:"sync_error"`
	SyncErrorMessage string        `json:"sync_error_message,omitempty"`
	LastSyncAt       *time.Time    `json:"last_sync_at,omitempty"`
	Pricing          PricingRecord `json:"pricing"`
}

// InOfferMode reports whether the ERP flags the product as a storefront offer.
func (p Product) InOfferMode() bool {
	return p.ErpObs == ErpObsStorefrontOffer
}

type PricingRecord struct {
	Cost                     float64        `json:"cost"`
	CustomCost               *float64       `json:"custom_cost,omitempty"`
	Margin                   *float64       `json:"margin,omitempty"`
	CustomShippingCost       *float64       `json:"custom_shipping_cost,omitempty"`
	Weight                   float64        `json:"weight"`
	PVPM                     float64        `json:"pvpm"`
	PVPMBreakdown            PVPMBreakdown  `json:"pvpm_breakdown"`
	PVPMCalculatedAt         *time.Time     `json:"pvpm_calculated_at,omitempty"`
	FixedPrice               *float64       `json:"fixed_price,omitempty"`
	FixedPriceReason         string         `json:"fixed_price_reason,omitempty"`
	FixedPriceSetBy          string         `json:"fixed_price_set_by,omitempty"`
	FixedPriceSetAt          *time.Time     `json:"fixed_price_set_at,omitempty"`
	CompetitorPrice          *float64       `json:"competitor_price,omitempty"`
	CompetitorPriceUpdatedAt *time.Time     `json:"competitor_price_updated_at,omitempty"`
	CompetitorData           CompetitorData `json:"competitor_data"`
	AutoUpdateEnabled        bool           `json:"auto_update_enabled"`
	PricingStatus            string         `json:"pricing_status"`
	PricingStatusMessage     string         `json:"pricing_status_message,omitempty"`
	PricingStatusUpdatedAt   *time.Time     `json:"pricing_status_updated_at,omitempty"`
	LastPriceUpdate          *time.Time     `json:"last_price_update,omitempty"`
	AutoUpdateCount          int            `json:"auto_update_count"`
	PriceHistory             []PriceChange  `json:"price_history"`
	Version                  int64          `json:"version"`
}

type PVPMBreakdown struct {
	Cost         float64 `json:"cost"`
	Margin       float64 `json:"margin"`
	BasePrice    float64 `json:"base_price"`
	TaxRate      float64 `json:"tax_rate"`
	PriceWithTax float64 `json:"price_with_tax"`
	ShippingCost float64 `json:"shipping_cost"`
	PVPM         float64 `json:"pvpm"`
}

type CompetitorData struct {
	HasBuybox   bool       `json:"has_buybox"`
	BuyboxPrice *float64   `json:"buybox_price,omitempty"`
	LowestPrice *float64   `json:"lowest_price,omitempty"`
	TotalOffers int        `json:"total_offers"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
}

// PriceChange is the compact per-product trail kept on the pricing record.
type PriceChange struct {
	PreviousPrice float64   `json:"previous_price"`
	NewPrice      float64   `json:"new_price"`
	Reason        string    `json:"reason"`
	ChangedAt     time.Time `json:"changed_at"`
	ChangedBy     string    `json:"changed_by"`
	Error         string    `json:"error,omitempty"`
}

// CompetitiveOffers is what the marketplace reports for a listing.
type CompetitiveOffers struct {
	CompetitorPrice *float64  `json:"competitor_price,omitempty"`
	BuyboxPrice     *float64  `json:"buybox_price,omitempty"`
	OfferCount      int       `json:"offer_count"`
	OwnBuybox       *bool     `json:"own_buybox,omitempty"`
	FetchedAt       time.Time `json:"fetched_at"`
}

type WeightTier struct {
	MaxWeight float64 `json:"max_weight"`
	Cost      float64 `json:"cost"`
}

type CompetitorSettings struct {
	MinPriceDifference   float64 `json:"min_price_difference"`
	FallbackDifference   float64 `json:"fallback_difference"`
	BuyboxDifference     float64 `json:"buybox_difference"`
	BuyboxTolerance      float64 `json:"buybox_tolerance"`
	PollFrequencyMinutes int     `json:"poll_frequency_minutes"`
}

type OperatingHours struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type PricingConfig struct {
	GlobalMargin         float64            `json:"global_margin"`
	TaxRate              float64            `json:"tax_rate"`
	DefaultShippingCost  float64            `json:"default_shipping_cost"`
	ShippingTiers        []WeightTier       `json:"shipping_tiers"`
	ExtraWeightCostPerKg float64            `json:"extra_weight_cost_per_kg"`
	Competitor           CompetitorSettings `json:"competitor"`
	OperatingHours       OperatingHours     `json:"operating_hours"`
	UpdatedAt            time.Time          `json:"updated_at"`
	UpdatedBy            string             `json:"updated_by,omitempty"`
}

// DefaultPricingConfig is written by the bootstrap step when no config exists yet.
func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		GlobalMargin:        0.75,
		TaxRate:             0.21,
		DefaultShippingCost: 4.99,
		ShippingTiers: []WeightTier{
			{MaxWeight: 1, Cost: 4.18},
			{MaxWeight: 3, Cost: 4.57},
			{MaxWeight: 5, Cost: 4.93},
			{MaxWeight: 10, Cost: 5.98},
			{MaxWeight: 20, Cost: 7.50},
		},
		ExtraWeightCostPerKg: 0.47,
		Competitor: CompetitorSettings{
			MinPriceDifference:   0.01,
			FallbackDifference:   0.05,
			BuyboxDifference:     0,
			BuyboxTolerance:      0.05,
			PollFrequencyMinutes: 30,
		},
		OperatingHours: OperatingHours{Start: 8, End: 22},
	}
}

type TriggerContext struct {
	Type    string `json:"type"`
	Urgency string `json:"urgency"`
	Force   bool   `json:"force"`
	Source  string `json:"source,omitempty"`
	Note    string `json:"note,omitempty"`
}

type Actor struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Role string `json:"role,omitempty"`
}

// SystemActor is used for scheduled and notification-driven runs.
var SystemActor = Actor{Type: ActorTypeSystem, ID: "system"}

func (a Actor) String() string {
	if a.ID == "" {
		return a.Type
	}
	return a.ID
}

type Recommendation struct {
	Type     string `json:"type"`
	Priority string `json:"priority"`
	Message  string `json:"message"`
}

type Decision struct {
	ProductID       string           `json:"product_id"`
	Strategy        string           `json:"strategy"`
	FinalPrice      float64          `json:"final_price"`
	PriceSource     string           `json:"price_source"`
	Reasoning       string           `json:"reasoning"`
	Confidence      int              `json:"confidence"`
	Recommendations []Recommendation `json:"recommendations"`
	Metadata        map[string]any   `json:"metadata,omitempty"`
	PVPM            float64          `json:"pvpm"`
	CurrentPrice    float64          `json:"current_price"`
	DecidedAt       time.Time        `json:"decided_at"`
}

type ValidationIssue struct {
	Check    string `json:"check"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

type CheckResult struct {
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

type ValidationResult struct {
	IsValid        bool                   `json:"is_valid"`
	Blocked        bool                   `json:"blocked"`
	BlockingReason string                 `json:"blocking_reason,omitempty"`
	Warnings       []ValidationIssue      `json:"warnings"`
	Errors         []ValidationIssue      `json:"errors"`
	Checks         map[string]CheckResult `json:"checks"`
}

// Approved reports whether the decision may proceed to execution.
func (v ValidationResult) Approved() bool {
	return v.IsValid && !v.Blocked
}

type ExecutionResult struct {
	Success       bool      `json:"success"`
	PreviousPrice float64   `json:"previous_price"`
	NewPrice      float64   `json:"new_price"`
	ChannelError  string    `json:"channel_error,omitempty"`
	LocalError    string    `json:"local_error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	DurationMS    int64     `json:"duration_ms"`
}

type PriceSnapshot struct {
	ChannelPrice    float64  `json:"channel_price"`
	PVPM            float64  `json:"pvpm"`
	CompetitorPrice *float64 `json:"competitor_price,omitempty"`
	FixedPrice      *float64 `json:"fixed_price,omitempty"`
}

type PriceHistoryEntry struct {
	ID         string         `json:"id"`
	ProductID  string         `json:"product_id"`
	SKU        string         `json:"sku"`
	Before     PriceSnapshot  `json:"before"`
	After      PriceSnapshot  `json:"after"`
	Trigger    TriggerContext `json:"trigger"`
	Strategy   string         `json:"strategy"`
	Confidence int            `json:"confidence"`
	Reasoning  string         `json:"reasoning"`
	Actor      Actor          `json:"actor"`
	ChangedAt  time.Time      `json:"changed_at"`
}

type PendingAction struct {
	ID                 string         `json:"id"`
	ProductID          string         `json:"product_id"`
	SKU                string         `json:"sku"`
	ActionType         string         `json:"action_type"`
	Priority           string         `json:"priority"`
	Title              string         `json:"title"`
	Description        string         `json:"description"`
	Data               map[string]any `json:"data,omitempty"`
	Status             string         `json:"status"`
	OccurrenceCount    int            `json:"occurrence_count"`
	FirstDetected      time.Time      `json:"first_detected"`
	LastChecked        time.Time      `json:"last_checked"`
	AutoResolveEnabled bool           `json:"auto_resolve_enabled"`
	ResolvedAt         *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy         string         `json:"resolved_by,omitempty"`
	ResolutionNote     string         `json:"resolution_note,omitempty"`
	ResolutionMethod   string         `json:"resolution_method,omitempty"`
	ExpiresAt          *time.Time     `json:"expires_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// IsOpen reports whether the action still needs attention.
func (a PendingAction) IsOpen() bool {
	return IsOpenActionStatus(a.Status)
}

func IsOpenActionStatus(status string) bool {
	return status == ActionStatusPending || status == ActionStatusInProgress
}

type PendingActionFilter struct {
	ProductID  string
	Status     string
	ActionType string
	Priority   string
	OpenOnly   bool
	Limit      int
}

type PendingActionSummary struct {
	TotalOpen  int            `json:"total_open"`
	ByPriority map[string]int `json:"by_priority"`
	ByType     map[string]int `json:"by_type"`
}

type ActionResolutionRequest struct {
	Note string `json:"note"`
}

type DetectionResult struct {
	ProductID    string          `json:"product_id"`
	Created      int             `json:"created"`
	Updated      int             `json:"updated"`
	AutoResolved int             `json:"auto_resolved"`
	Open         []PendingAction `json:"open"`
}

type BatchItemError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type BatchResult struct {
	Processed  int              `json:"processed"`
	Successful int              `json:"successful"`
	Failed     int              `json:"failed"`
	Skipped    int              `json:"skipped"`
	Errors     []BatchItemError `json:"errors"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// MaxBatchErrorDetails bounds BatchResult.Errors.
const MaxBatchErrorDetails = 50

// AddError records a failed item, keeping at most MaxBatchErrorDetails details.
func (b *BatchResult) AddError(id string, err error) {
	b.Failed++
	if len(b.Errors) < MaxBatchErrorDetails {
		b.Errors = append(b.Errors, BatchItemError{ID: id, Error: err.Error()})
	}
}

type ProcessResult struct {
	ProductID      string             `json:"product_id"`
	Decision       Decision           `json:"decision"`
	Validation     ValidationResult   `json:"validation"`
	Execution      *ExecutionResult   `json:"execution,omitempty"`
	History        *PriceHistoryEntry `json:"history,omitempty"`
	PendingActions *DetectionResult   `json:"pending_actions,omitempty"`
	Applied        bool               `json:"applied"`
}

// SimulationResult is a dry run over a batch: decisions and validations only.
type SimulationResult struct {
	Batch BatchResult     `json:"batch"`
	Items []ProcessResult `json:"items"`
}

type BatchProcessRequest struct {
	ProductIDs []string `json:"product_ids"`
	Simulate   bool     `json:"simulate"`
	Force      bool     `json:"force"`
}

type ProcessRequest struct {
	Force bool   `json:"force"`
	Note  string `json:"note"`
}

type FixedPriceRequest struct {
	Price  *float64 `json:"price"`
	Reason string   `json:"reason"`
}

type AutoUpdateRequest struct {
	Enabled bool `json:"enabled"`
}

type CostInputsRequest struct {
	Cost               *float64 `json:"cost,omitempty"`
	CustomCost         *float64 `json:"custom_cost,omitempty"`
	Margin             *float64 `json:"margin,omitempty"`
	CustomShippingCost *float64 `json:"custom_shipping_cost,omitempty"`
	Weight             *float64 `json:"weight,omitempty"`
	ClearCustomCost    bool     `json:"clear_custom_cost,omitempty"`
	ClearMargin        bool     `json:"clear_margin,omitempty"`
	ClearShipping      bool     `json:"clear_custom_shipping,omitempty"`
}

type EngineStatus struct {
	StartedAt        time.Time    `json:"started_at"`
	LastRunAt        *time.Time   `json:"last_run_at,omitempty"`
	Processed        int64        `json:"processed"`
	Applied          int64        `json:"applied"`
	Blocked          int64        `json:"blocked"`
	Failed           int64        `json:"failed"`
	ConfigUpdatedAt  time.Time    `json:"config_updated_at"`
	RecomputeRunning bool         `json:"recompute_running"`
	Tasks            []TaskStatus `json:"tasks,omitempty"`
	PollingEnabled   bool         `json:"polling_enabled"`
}

type TaskStatus struct {
	Name      string     `json:"name"`
	Interval  string     `json:"interval"`
	Running   bool       `json:"running"`
	InFlight  bool       `json:"in_flight"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	RunCount  int64      `json:"run_count"`
	SkipCount int64      `json:"skip_count"`
}

// OfferNotification is the marketplace webhook body. Field names follow the
// marketplace wire format.
type OfferNotification struct {
	NotificationType string              `json:"notificationType"`
	EventTime        string              `json:"eventTime"`
	Payload          NotificationPayload `json:"payload"`
}

type NotificationPayload struct {
	Summary   *NotificationSummary `json:"summary,omitempty"`
	Offers    []NotificationOffer  `json:"offers,omitempty"`
	SellerSKU string               `json:"sellerSku,omitempty"`
	ASIN      string               `json:"asin,omitempty"`
	IssueType string               `json:"issueType,omitempty"`
}

type NotificationSummary struct {
	ASIN          string `json:"asin"`
	MarketplaceID string `json:"marketplaceId"`
}

type NotificationOffer struct {
	SellerID       string `json:"sellerId"`
	SellerSKU      string `json:"sellerSku"`
	ListingPrice   Money  `json:"listingPrice"`
	IsBuyBoxWinner bool   `json:"isBuyBoxWinner"`
	Condition      string `json:"condition"`
}

type Money struct {
	Amount       float64 `json:"amount"`
	CurrencyCode string  `json:"currencyCode"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const ErpObsStorefrontOffer = "OFERTA WEB"

const (
	PricingStatusOK              = "ok"
	PricingStatusCompetitorAlert = "competitor_alert"
	PricingStatusManualReview    = "manual_review"
)

const (
	StrategyFixedPrice       = "fixed_price"
	StrategyStorefrontOffer  = "storefront_offer"
	StrategyCompetitorBuybox = "competitor_buybox"
	StrategyCompetitorChase  = "competitor_chase"
	StrategyFallback         = "fallback_pvpm"
	StrategyPVPMOverride     = "pvpm_override"
)

const (
	TriggerManual           = "manual"
	TriggerScheduled        = "scheduled"
	TriggerCompetitorChange = "competitor_change"
	TriggerBuyboxLost       = "buybox_lost"
	TriggerBulkOperation    = "bulk_operation"
	TriggerPricingHealth    = "pricing_health"
	TriggerConfigChange     = "config_change"
)

const (
	UrgencyLow      = "low"
	UrgencyNormal   = "normal"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

const (
	ActorTypeUser   = "user"
	ActorTypeSystem = "system"
)

const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

const (
	ActionMissingWeight        = "missing_weight"
	ActionMissingCost          = "missing_cost"
	ActionWebOfferConflict     = "web_offer_conflict"
	ActionAmazonCheaperThanWeb = "amazon_cheaper_than_web"
	ActionCompetitorAlert      = "competitor_alert"
	ActionPVPMWarning          = "pvpm_warning"
	ActionInvalidMargin        = "invalid_margin"
	ActionFixedPriceBelowPVPM  = "fixed_price_below_pvpm"
	ActionSyncError            = "sync_error"
	ActionMissingAmazonData    = "missing_amazon_data"
)

const (
	ActionStatusPending      = "pending"
	ActionStatusInProgress   = "in_progress"
	ActionStatusResolved     = "resolved"
	ActionStatusDismissed    = "dismissed"
	ActionStatusAutoResolved = "auto_resolved"
)

const (
	ResolutionManual        = "manual"
	ResolutionAutomatic     = "automatic"
	ResolutionBulkOperation = "bulk_operation"
	ResolutionSystemUpdate  = "system_update"
)

const (
	NotificationAnyOfferChanged = "ANY_OFFER_CHANGED"
	NotificationPricingHealth   = "PRICING_HEALTH"
)
