package models

import (
	stderrors "errors"
	"strings"
	"testing"
	"time"

	apierrors "github.com/autra-ai/marketplace/internal/errors"
	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

// generateAgent draws an agent with arbitrary trust and pricing attributes
func generateAgent(t *rapid.T) *Agent {
	var audit *time.Time
	if rapid.Bool().Draw(t, "audited") {
		d := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		audit = &d
	}
	uptimeHundredths := rapid.Int64Range(0, 10000).Draw(t, "uptimeHundredths")
	priceCents := rapid.Int64Range(0, 1000000).Draw(t, "priceCents")

	return &Agent{
		Name:                "Agent",
		PricingModel:        rapid.SampledFrom([]PricingModel{PricingOneTime, PricingMonthly, PricingAnnual, PricingUsage, PricingFreemium, PricingCustom}).Draw(t, "pricing"),
		Price:               decimal.New(priceCents, -2),
		ActiveSubscriptions: rapid.IntRange(0, 10000).Draw(t, "subs"),
		RiskRating:          rapid.IntRange(MinRiskRating, MaxRiskRating).Draw(t, "risk"),
		TestedByPlatform:    rapid.Bool().Draw(t, "tested"),
		IsVerified:          rapid.Bool().Draw(t, "verified"),
		SecurityAuditDate:   audit,
		UptimePercentage:    decimal.New(uptimeHundredths, -2),
	}
}

// Property: agent trust score stays within [0, 100] for every attribute combination
func TestProperty_AgentTrustScore_Bounded(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := generateAgent(rt)
		score := a.TrustScore()
		if score < 0 || score > 100 {
			rt.Fatalf("PROPERTY VIOLATION: trust score %d out of [0,100]", score)
		}
	})
}

// Property: agent trust score equals the additive formula when it does not need clamping
func TestProperty_AgentTrustScore_Formula(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := generateAgent(rt)

		expected := 50
		if a.TestedByPlatform {
			expected += 20
		}
		if a.IsVerified {
			expected += 15
		}
		if a.SecurityAuditDate != nil {
			expected += 10
		}
		if a.UptimePercentage.GreaterThanOrEqual(decimal.RequireFromString("99.9")) {
			expected += 5
		}
		expected -= (a.RiskRating - 1) * 5

		if got := a.TrustScore(); got != expected {
			rt.Fatalf("trust score: expected %d, got %d", expected, got)
		}
	})
}

func TestAgentTrustScore_Extremes(t *testing.T) {
	audit := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	lowest := &Agent{RiskRating: 5, UptimePercentage: decimal.RequireFromString("99.89")}
	if got := lowest.TrustScore(); got != 30 {
		t.Errorf("expected 30 with no boosts and risk 5, got %d", got)
	}

	highest := &Agent{
		RiskRating:        1,
		TestedByPlatform:  true,
		IsVerified:        true,
		SecurityAuditDate: &audit,
		UptimePercentage:  decimal.RequireFromString("99.90"),
	}
	if got := highest.TrustScore(); got != 100 {
		t.Errorf("expected 100 with all boosts and risk 1, got %d", got)
	}

	// out-of-range risk still clamps
	broken := &Agent{RiskRating: 50}
	if got := broken.TrustScore(); got != 0 {
		t.Errorf("expected clamp to 0, got %d", got)
	}
	boosted := &Agent{RiskRating: -10, TestedByPlatform: true}
	if got := boosted.TrustScore(); got != 100 {
		t.Errorf("expected clamp to 100, got %d", got)
	}
}

func TestAgentMonthlyRevenue(t *testing.T) {
	tests := []struct {
		name     string
		model    PricingModel
		price    string
		subs     int
		expected string
	}{
		{"monthly", PricingMonthly, "29.99", 10, "299.9"},
		{"annual", PricingAnnual, "120.00", 5, "50"},
		{"annual rounds to pennies", PricingAnnual, "100.00", 1, "8.33"},
		{"one time", PricingOneTime, "500.00", 7, "0"},
		{"usage", PricingUsage, "0", 100, "0"},
		{"monthly no subscribers", PricingMonthly, "10.00", 0, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Agent{PricingModel: tt.model, Price: decimal.RequireFromString(tt.price), ActiveSubscriptions: tt.subs}
			got := a.MonthlyRevenue()
			if !got.Equal(decimal.RequireFromString(tt.expected)) {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

// Property: monthly revenue is never negative and is zero for non-subscription models
func TestProperty_MonthlyRevenue(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := generateAgent(rt)
		rev := a.MonthlyRevenue()
		if rev.IsNegative() {
			rt.Fatalf("PROPERTY VIOLATION: negative revenue %s", rev)
		}
		if a.PricingModel != PricingMonthly && a.PricingModel != PricingAnnual && !rev.IsZero() {
			rt.Fatalf("PROPERTY VIOLATION: %s pricing produced revenue %s", a.PricingModel, rev)
		}
	})
}

func TestAgentPricingDisplay(t *testing.T) {
	usage := decimal.RequireFromString("0.0025")
	a := &Agent{PricingModel: PricingUsage, UsagePrice: &usage}
	if got := a.PricingDisplay(); got != "£0.0025/call" {
		t.Errorf("unexpected usage display %q", got)
	}

	m := &Agent{PricingModel: PricingMonthly, Price: decimal.RequireFromString("49")}
	if got := m.PricingDisplay(); got != "£49.00/Monthly Subscription" {
		t.Errorf("unexpected monthly display %q", got)
	}
}

func TestAgentRatingStars(t *testing.T) {
	a := &Agent{AverageRating: decimal.RequireFromString("4.50")}
	if got := a.RatingStars(); got != "★★★★" {
		t.Errorf("expected four stars, got %q", got)
	}
}

func TestAgentApplyPublishRule(t *testing.T) {
	now := time.Now()

	inactive := &Agent{IsActive: false}
	inactive.ApplyPublishRule(now)
	if inactive.PublishedAt != nil {
		t.Error("inactive agent must not be published")
	}

	active := &Agent{IsActive: true}
	active.ApplyPublishRule(now)
	if active.PublishedAt == nil || !active.PublishedAt.Equal(now) {
		t.Fatal("active agent should be stamped with publish time")
	}

	later := now.Add(time.Hour)
	active.ApplyPublishRule(later)
	if !active.PublishedAt.Equal(now) {
		t.Error("publish time must not move once set")
	}
}

func validAgent() *Agent {
	return &Agent{
		Name:             "Data Bot",
		Description:      "Analyses data",
		ShortDescription: "Data analysis",
		Category:         CategoryDataAnalysis,
		PricingModel:     PricingMonthly,
		Price:            decimal.RequireFromString("19.99"),
		IntegrationType:  IntegrationAPI,
		RiskRating:       DefaultRiskRating,
		UptimePercentage: DefaultUptime,
		RateLimit:        DefaultRateLimit,
	}
}

func TestAgentValidate(t *testing.T) {
	if err := validAgent().Validate(); err != nil {
		t.Fatalf("valid agent rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(a *Agent)
	}{
		{"risk too low", func(a *Agent) { a.RiskRating = 0 }},
		{"risk too high", func(a *Agent) { a.RiskRating = 6 }},
		{"uptime over 100", func(a *Agent) { a.UptimePercentage = decimal.RequireFromString("100.01") }},
		{"negative uptime", func(a *Agent) { a.UptimePercentage = decimal.RequireFromString("-1") }},
		{"rating over 5", func(a *Agent) { a.AverageRating = decimal.RequireFromString("5.01") }},
		{"negative price", func(a *Agent) { a.Price = decimal.RequireFromString("-0.01") }},
		{"unknown category", func(a *Agent) { a.Category = "gaming" }},
		{"unknown pricing", func(a *Agent) { a.PricingModel = "weekly" }},
		{"usage without usage price", func(a *Agent) { a.PricingModel = PricingUsage }},
		{"bad url", func(a *Agent) { a.DemoURL = "not a url" }},
		{"missing name", func(a *Agent) { a.Name = "  " }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validAgent()
			tt.mutate(a)
			if err := a.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestAgentValidate_URLFieldOrderIsStable(t *testing.T) {
	a := validAgent()
	a.APIEndpoint = "ftp://example.com"
	a.GithubURL = "github"
	a.DemoURL = "not a url"
	a.VideoURL = "mailto:x@example.com"
	want := []string{"api_endpoint", "github_url", "demo_url", "video_url"}

	for i := 0; i < 20; i++ {
		var v *apierrors.ValidationError
		if !stderrors.As(a.Validate(), &v) {
			t.Fatal("expected a validation error")
		}
		got := make([]string, 0, len(v.Fields))
		for _, f := range v.Fields {
			got = append(got, f.Field)
		}
		if strings.Join(got, ",") != strings.Join(want, ",") {
			t.Fatalf("run %d: expected fields %v, got %v", i, want, got)
		}
	}
}

func TestAgentVersionValidate(t *testing.T) {
	ok := &AgentVersion{VersionNumber: "1.0.0", Changelog: "Initial release"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid version rejected: %v", err)
	}
	bad := &AgentVersion{VersionNumber: "1.0.0-with-a-very-long-suffix", Changelog: ""}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}
