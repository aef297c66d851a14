package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	apierrors "github.com/autra-ai/marketplace/internal/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AgentCategory is the catalog section an agent is listed under
type AgentCategory string

const (
	CategoryCustomerService AgentCategory = "customer_service"
	CategoryDataAnalysis    AgentCategory = "data_analysis"
	CategoryContentCreation AgentCategory = "content_creation"
	CategoryAutomation      AgentCategory = "automation"
	CategorySales           AgentCategory = "sales"
	CategoryCoding          AgentCategory = "coding"
	CategoryResearch        AgentCategory = "research"
	CategoryEducation       AgentCategory = "education"
	CategoryOther           AgentCategory = "other"
)

// Categories lists every category with its display label, in display order
var Categories = []struct {
	Value AgentCategory `json:"value"`
	Label string        `json:"label"`
}{
	{CategoryCustomerService, "Customer Service"},
	{CategoryDataAnalysis, "Data Analysis"},
	{CategoryContentCreation, "Content Creation"},
	{CategoryAutomation, "Process Automation"},
	{CategorySales, "Sales & Marketing"},
	{CategoryCoding, "Coding & Development"},
	{CategoryResearch, "Research & Analysis"},
	{CategoryEducation, "Education & Training"},
	{CategoryOther, "Other"},
}

// Valid reports whether c is a known category
func (c AgentCategory) Valid() bool {
	for _, known := range Categories {
		if known.Value == c {
			return true
		}
	}
	return false
}

// PricingModel is how an agent is charged for
type PricingModel string

const (
	PricingOneTime  PricingModel = "one_time"
	PricingMonthly  PricingModel = "monthly"
	PricingAnnual   PricingModel = "annual"
	PricingUsage    PricingModel = "usage"
	PricingFreemium PricingModel = "freemium"
	PricingCustom   PricingModel = "custom"
)

var pricingLabels = map[PricingModel]string{
	PricingOneTime:  "One-time Purchase",
	PricingMonthly:  "Monthly Subscription",
	PricingAnnual:   "Annual Subscription",
	PricingUsage:    "Pay Per Use",
	PricingFreemium: "Freemium",
	PricingCustom:   "Custom Pricing",
}

// Valid reports whether p is a known pricing model
func (p PricingModel) Valid() bool {
	_, ok := pricingLabels[p]
	return ok
}

// Label returns the display label of the pricing model
func (p PricingModel) Label() string {
	return pricingLabels[p]
}

// IntegrationType is how buyers integrate the agent
type IntegrationType string

const (
	IntegrationAPI        IntegrationType = "api"
	IntegrationWebhook    IntegrationType = "webhook"
	IntegrationSDK        IntegrationType = "sdk"
	IntegrationPlugin     IntegrationType = "plugin"
	IntegrationStandalone IntegrationType = "standalone"
)

// Valid reports whether i is a known integration type
func (i IntegrationType) Valid() bool {
	switch i {
	case IntegrationAPI, IntegrationWebhook, IntegrationSDK, IntegrationPlugin, IntegrationStandalone:
		return true
	}
	return false
}

// Agent trust score weights
const (
	AgentTrustBase           = 50
	AgentTrustTestedPoints   = 20
	AgentTrustVerifiedPoints = 15
	AgentTrustAuditPoints    = 10
	AgentTrustUptimePoints   = 5
	AgentTrustRiskPenalty    = 5

	MinRiskRating     = 1
	MaxRiskRating     = 5
	DefaultRiskRating = 3
	DefaultRateLimit  = 1000

	CurrencySymbol = "£"
)

var (
	// HighUptimeThreshold is the uptime at or above which an agent earns uptime points
	HighUptimeThreshold = decimal.RequireFromString("99.9")
	// DefaultUptime is the uptime recorded for a new listing
	DefaultUptime = decimal.RequireFromString("99.90")

	maxUptime    = decimal.NewFromInt(100)
	maxRating    = decimal.NewFromInt(5)
	monthsInYear = decimal.NewFromInt(12)
)

// Agent represents an AI agent listing
type Agent struct {
	ID                       uuid.UUID        `json:"id" db:"id"`
	DeveloperID              uuid.UUID        `json:"developer_id" db:"developer_id"`
	Name                     string           `json:"name" db:"name"`
	Slug                     string           `json:"slug" db:"slug"`
	Description              string           `json:"description" db:"description"`
	ShortDescription         string           `json:"short_description" db:"short_description"`
	Category                 AgentCategory    `json:"category" db:"category"`
	Tags                     []string         `json:"tags" db:"tags"`
	PricingModel             PricingModel     `json:"pricing_model" db:"pricing_model"`
	Price                    decimal.Decimal  `json:"price" db:"price"`
	UsagePrice               *decimal.Decimal `json:"usage_price,omitempty" db:"usage_price"`
	FreeTierLimit            int              `json:"free_tier_limit" db:"free_tier_limit"`
	APIEndpoint              string           `json:"api_endpoint" db:"api_endpoint"`
	DocumentationURL         string           `json:"documentation_url" db:"documentation_url"`
	GithubURL                string           `json:"github_url" db:"github_url"`
	IntegrationType          IntegrationType  `json:"integration_type" db:"integration_type"`
	Requirements             map[string]any   `json:"requirements" db:"requirements"`
	SandboxAvailable         bool             `json:"sandbox_available" db:"sandbox_available"`
	SandboxURL               string           `json:"sandbox_url" db:"sandbox_url"`
	DemoURL                  string           `json:"demo_url" db:"demo_url"`
	TestAPIKey               string           `json:"test_api_key,omitempty" db:"test_api_key"`
	RiskRating               int              `json:"risk_rating" db:"risk_rating"`
	TestedByPlatform         bool             `json:"tested_by_platform" db:"tested_by_platform"`
	SecurityAuditDate        *time.Time       `json:"security_audit_date,omitempty" db:"security_audit_date"`
	ComplianceCertifications []string         `json:"compliance_certifications" db:"compliance_certifications"`
	AverageResponseTime      *float64         `json:"average_response_time,omitempty" db:"average_response_time"`
	UptimePercentage         decimal.Decimal  `json:"uptime_percentage" db:"uptime_percentage"`
	RateLimit                int              `json:"rate_limit" db:"rate_limit"`
	TimesHired               int              `json:"times_hired" db:"times_hired"`
	TotalAPICalls            int64            `json:"total_api_calls" db:"total_api_calls"`
	ActiveSubscriptions      int              `json:"active_subscriptions" db:"active_subscriptions"`
	AverageRating            decimal.Decimal  `json:"average_rating" db:"average_rating"`
	TotalReviews             int              `json:"total_reviews" db:"total_reviews"`
	Logo                     string           `json:"logo,omitempty" db:"logo"`
	Screenshots              []string         `json:"screenshots" db:"screenshots"`
	VideoURL                 string           `json:"video_url" db:"video_url"`
	IsActive                 bool             `json:"is_active" db:"is_active"`
	IsFeatured               bool             `json:"is_featured" db:"is_featured"`
	IsVerified               bool             `json:"is_verified" db:"is_verified"`
	UnderReview              bool             `json:"under_review" db:"under_review"`
	CreatedAt                time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt                time.Time        `json:"updated_at" db:"updated_at"`
	PublishedAt              *time.Time       `json:"published_at,omitempty" db:"published_at"`
}

// TrustScore computes the agent's trust score from its current attributes.
// The score is clamped to [0, 100].
func (a *Agent) TrustScore() int {
	score := AgentTrustBase
	if a.TestedByPlatform {
		score += AgentTrustTestedPoints
	}
	if a.IsVerified {
		score += AgentTrustVerifiedPoints
	}
	if a.SecurityAuditDate != nil {
		score += AgentTrustAuditPoints
	}
	if a.UptimePercentage.GreaterThanOrEqual(HighUptimeThreshold) {
		score += AgentTrustUptimePoints
	}
	score -= (a.RiskRating - 1) * AgentTrustRiskPenalty

	return clamp(score, TrustScoreMin, TrustScoreMax)
}

// MonthlyRevenue estimates subscription revenue per month.
// Only monthly and annual pricing produce revenue; everything else is zero.
func (a *Agent) MonthlyRevenue() decimal.Decimal {
	subs := decimal.NewFromInt(int64(a.ActiveSubscriptions))
	switch a.PricingModel {
	case PricingMonthly:
		return a.Price.Mul(subs)
	case PricingAnnual:
		return a.Price.Div(monthsInYear).Mul(subs).Round(2)
	default:
		return decimal.Zero
	}
}

// PricingDisplay renders the price for listings
func (a *Agent) PricingDisplay() string {
	if a.PricingModel == PricingUsage {
		usage := decimal.Zero
		if a.UsagePrice != nil {
			usage = *a.UsagePrice
		}
		return fmt.Sprintf("%s%s/call", CurrencySymbol, usage.StringFixed(4))
	}
	return fmt.Sprintf("%s%s/%s", CurrencySymbol, a.Price.StringFixed(2), a.PricingModel.Label())
}

// RatingStars renders the whole-star part of the average rating
func (a *Agent) RatingStars() string {
	return strings.Repeat("★", int(a.AverageRating.IntPart()))
}

// ApplyPublishRule stamps PublishedAt the first time the agent is active
func (a *Agent) ApplyPublishRule(now time.Time) {
	if a.IsActive && a.PublishedAt == nil {
		a.PublishedAt = &now
	}
}

// Validate checks the declared field constraints of an agent
func (a *Agent) Validate() error {
	v := &apierrors.ValidationError{}

	if strings.TrimSpace(a.Name) == "" {
		v.Add("name", "is required")
	} else if len(a.Name) > 200 {
		v.Add("name", "must be at most 200 characters")
	}
	if a.Description == "" {
		v.Add("description", "is required")
	}
	if a.ShortDescription == "" {
		v.Add("short_description", "is required")
	} else if len(a.ShortDescription) > 500 {
		v.Add("short_description", "must be at most 500 characters")
	}
	if !a.Category.Valid() {
		v.Add("category", "unknown category %q", a.Category)
	}
	if !a.PricingModel.Valid() {
		v.Add("pricing_model", "unknown pricing model %q", a.PricingModel)
	}
	if a.Price.IsNegative() {
		v.Add("price", "must not be negative")
	}
	if a.UsagePrice != nil && a.UsagePrice.IsNegative() {
		v.Add("usage_price", "must not be negative")
	}
	if a.PricingModel == PricingUsage && a.UsagePrice == nil {
		v.Add("usage_price", "is required for usage pricing")
	}
	if a.FreeTierLimit < 0 {
		v.Add("free_tier_limit", "must not be negative")
	}
	if !a.IntegrationType.Valid() {
		v.Add("integration_type", "unknown integration type %q", a.IntegrationType)
	}
	if a.RiskRating < MinRiskRating || a.RiskRating > MaxRiskRating {
		v.Add("risk_rating", "must be between %d and %d", MinRiskRating, MaxRiskRating)
	}
	if a.UptimePercentage.IsNegative() || a.UptimePercentage.GreaterThan(maxUptime) {
		v.Add("uptime_percentage", "must be between 0 and 100")
	}
	if a.AverageRating.IsNegative() || a.AverageRating.GreaterThan(maxRating) {
		v.Add("average_rating", "must be between 0 and 5")
	}
	if a.AverageResponseTime != nil && *a.AverageResponseTime < 0 {
		v.Add("average_response_time", "must not be negative")
	}
	if a.RateLimit < 0 {
		v.Add("rate_limit", "must not be negative")
	}

	for _, u := range []struct{ field, raw string }{
		{"api_endpoint", a.APIEndpoint},
		{"documentation_url", a.DocumentationURL},
		{"github_url", a.GithubURL},
		{"sandbox_url", a.SandboxURL},
		{"demo_url", a.DemoURL},
		{"video_url", a.VideoURL},
	} {
		if u.raw != "" && !isHTTPURL(u.raw) {
			v.Add(u.field, "must be an http(s) URL")
		}
	}

	return v.OrNil()
}

// AgentVersion represents one entry of an agent's release history
type AgentVersion struct {
	ID            uuid.UUID `json:"id" db:"id"`
	AgentID       uuid.UUID `json:"agent_id" db:"agent_id"`
	VersionNumber string    `json:"version_number" db:"version_number"`
	Changelog     string    `json:"changelog" db:"changelog"`
	IsStable      bool      `json:"is_stable" db:"is_stable"`
	ReleaseDate   time.Time `json:"release_date" db:"release_date"`
}

// Validate checks the declared field constraints of a version
func (v *AgentVersion) Validate() error {
	errs := &apierrors.ValidationError{}
	if strings.TrimSpace(v.VersionNumber) == "" {
		errs.Add("version_number", "is required")
	} else if len(v.VersionNumber) > 20 {
		errs.Add("version_number", "must be at most 20 characters")
	}
	if strings.TrimSpace(v.Changelog) == "" {
		errs.Add("changelog", "is required")
	}
	return errs.OrNil()
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
