package agent_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/autra-ai/marketplace/internal/agent"
	"github.com/autra-ai/marketplace/internal/database"
	"github.com/autra-ai/marketplace/internal/database/dbtest"
	apierrors "github.com/autra-ai/marketplace/internal/errors"
	"github.com/autra-ai/marketplace/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"pgregory.net/rapid"
)

// Test database connection for integration and property tests
var testDB *pgxpool.Pool

func TestMain(m *testing.M) {
	var cleanup func()
	testDB, cleanup = dbtest.Setup(context.Background())

	code := m.Run()

	cleanup()
	os.Exit(code)
}

func boolPtr(b bool) *bool { return &b }

func newRequest(name string) *agent.CreateAgentRequest {
	return &agent.CreateAgentRequest{
		Name:             name,
		Description:      "Answers questions about spreadsheets",
		ShortDescription: "Spreadsheet helper",
		Category:         models.CategoryDataAnalysis,
		Tags:             []string{"sheets", "finance"},
		PricingModel:     models.PricingMonthly,
		Price:            decimal.RequireFromString("49.00"),
	}
}

func newDeveloper(t *testing.T) uuid.UUID {
	t.Helper()
	return dbtest.CreateUser(t, testDB, models.UserTypeDeveloper, dbtest.UserOptions{})
}

// ============================================
// Derived response
// ============================================

func TestNewAgentResponse_PublicViewHidesTestKey(t *testing.T) {
	audit := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &models.Agent{
		PricingModel:        models.PricingAnnual,
		Price:               decimal.RequireFromString("120.00"),
		ActiveSubscriptions: 3,
		RiskRating:          1,
		TestedByPlatform:    true,
		IsVerified:          true,
		SecurityAuditDate:   &audit,
		UptimePercentage:    decimal.RequireFromString("99.95"),
		AverageRating:       decimal.RequireFromString("4.50"),
		TestAPIKey:          "sk_test_123",
	}

	public := agent.NewAgentResponse(a, false)
	if public.TestAPIKey != "" {
		t.Error("public view must not expose the test API key")
	}
	if public.TrustScore != 100 {
		t.Errorf("expected trust 100, got %d", public.TrustScore)
	}
	if !public.MonthlyRevenue.Equal(decimal.RequireFromString("30.00")) {
		t.Errorf("expected revenue 30.00, got %s", public.MonthlyRevenue)
	}
	if public.RatingStars != "★★★★" {
		t.Errorf("unexpected stars %q", public.RatingStars)
	}

	owner := agent.NewAgentResponse(a, true)
	if owner.TestAPIKey != "sk_test_123" {
		t.Error("owner view must keep the test API key")
	}
}

// ============================================
// Creation and slugs
// ============================================

// Two listings named "Data Bot" receive distinct slugs
func TestCreate_SameNameGetsDistinctSlugs(t *testing.T) {
	dbtest.Require(t, testDB)
	ctx := context.Background()
	svc := agent.NewService(testDB, nil)
	dev := newDeveloper(t)

	first, err := svc.Create(ctx, dev, newRequest("Data Bot"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	second, err := svc.Create(ctx, dev, newRequest("Data Bot"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if first.Slug == second.Slug {
		t.Fatalf("duplicate slug %q", first.Slug)
	}
	for _, s := range []string{first.Slug, second.Slug} {
		if !strings.HasPrefix(s, "data-bot") {
			t.Errorf("slug %q not derived from name", s)
		}
	}
}

func TestCreate_ConcurrentSameNameGetsDistinctSlugs(t *testing.T) {
	dbtest.Require(t, testDB)
	svc := agent.NewService(testDB, nil)
	dev := newDeveloper(t)
	name := "Race Bot " + dbtest.UniqueName("x")

	const creators = 4
	slugs := make([]string, creators)
	var g errgroup.Group
	for i := 0; i < creators; i++ {
		g.Go(func() error {
			resp, err := svc.Create(context.Background(), dev, newRequest(name))
			if err != nil {
				return err
			}
			slugs[i] = resp.Slug
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent Create failed: %v", err)
	}

	seen := make(map[string]bool)
	for _, s := range slugs {
		if seen[s] {
			t.Fatalf("PROPERTY VIOLATION: duplicate slug %q in %v", s, slugs)
		}
		seen[s] = true
	}
}

func TestCreate_LowestFreeSuffix(t *testing.T) {
	dbtest.Require(t, testDB)
	ctx := context.Background()
	svc := agent.NewService(testDB, nil)
	dev := newDeveloper(t)

	name := "Ledger Bot " + dbtest.UniqueName("x")
	base := models.Slugify(name)

	var slugs []string
	for i := 0; i < 3; i++ {
		resp, err := svc.Create(ctx, dev, newRequest(name))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		slugs = append(slugs, resp.Slug)
	}
	want := []string{base, base + "-2", base + "-3"}
	for i := range want {
		if slugs[i] != want[i] {
			t.Errorf("slug %d: got %q, want %q", i, slugs[i], want[i])
		}
	}
}

// For any batch of names, every created agent gets a unique slug
func TestProperty_SlugsUniqueAcrossCreates(t *testing.T) {
	dbtest.Require(t, testDB)
	ctx := context.Background()
	svc := agent.NewService(testDB, nil)
	dev := newDeveloper(t)
	prefix := dbtest.UniqueName("p")

	rapid.Check(t, func(rt *rapid.T) {
		names := rapid.SliceOfN(rapid.SampledFrom([]string{"Alpha", "alpha", "ALPHA!", "Alpha  ", "Bêta"}), 1, 4).Draw(rt, "names")
		seen := map[string]bool{}
		for _, n := range names {
			resp, err := svc.Create(ctx, dev, newRequest(prefix+" "+n))
			if err != nil {
				rt.Fatalf("create failed: %v", err)
			}
			if seen[resp.Slug] {
				rt.Fatalf("PROPERTY VIOLATION: slug %q allocated twice", resp.Slug)
			}
			seen[resp.Slug] = true
		}
	})
}

func TestCreate_DefaultsAndPublishDate(t *testing.T) {
	dbtest.Require(t, testDB)
	ctx := context.Background()
	svc := agent.NewService(testDB, nil)
	dev := newDeveloper(t)

	resp, err := svc.Create(ctx, dev, newRequest("Defaults Bot"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if resp.PublishedAt == nil {
		t.Error("active agent must be published at creation")
	}
	if !resp.UnderReview || resp.RiskRating != models.DefaultRiskRating || resp.RateLimit != models.DefaultRateLimit {
		t.Errorf("unexpected defaults: %+v", resp.Agent)
	}
	if !resp.UptimePercentage.Equal(models.DefaultUptime) || resp.IntegrationType != models.IntegrationAPI {
		t.Errorf("unexpected defaults: uptime=%s integration=%s", resp.UptimePercentage, resp.IntegrationType)
	}

	var totalAgents int
	if err := testDB.QueryRow(ctx, `SELECT total_agents FROM developer_profiles WHERE user_id = $1`, dev).Scan(&totalAgents); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if totalAgents != 1 {
		t.Errorf("expected total_agents 1, got %d", totalAgents)
	}
}

func TestCreate_InactiveIsPublishedOnActivation(t *testing.T) {
	dbtest.Require(t, testDB)
	ctx := context.Background()
	svc := agent.NewService(testDB, nil)
	dev := newDeveloper(t)

	req := newRequest("Draft Bot")
	req.IsActive = boolPtr(false)
	draft, err := svc.Create(ctx, dev, req)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if draft.PublishedAt != nil {
		t.Fatal("inactive agent must not be published")
	}

	live, err := svc.Update(ctx, draft.ID, dev, &agent.UpdateAgentRequest{IsActive: boolPtr(true)})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if live.PublishedAt == nil {
		t.Fatal("activation must set published_at")
	}
	stored, err := svc.Get(ctx, draft.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	firstPublished := *stored.PublishedAt

	// deactivate and reactivate: the original publish date stays
	if _, err := svc.SetStatus(ctx, draft.ID, &agent.StatusRequest{IsActive: boolPtr(false)}); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	again, err := svc.SetStatus(ctx, draft.ID, &agent.StatusRequest{IsActive: boolPtr(true)})
	if err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if again.PublishedAt == nil || !again.PublishedAt.Equal(firstPublished) {
		t.Errorf("published_at changed: %v -> %v", firstPublished, again.PublishedAt)
	}
}

func TestCreate_RejectsNonDevelopers(t *testing.T) {
	dbtest.Require(t, testDB)
	svc := agent.NewService(testDB, nil)
	biz := dbtest.CreateUser(t, testDB, models.UserTypeBusiness, dbtest.UserOptions{})

	_, err := svc.Create(context.Background(), biz, newRequest("Not Allowed"))
	if !errors.Is(err, agent.ErrNotDeveloper) {
		t.Errorf("expected ErrNotDeveloper, got %v", err)
	}
}

func TestCreate_ValidationError(t *testing.T) {
	dbtest.Require(t, testDB)
	svc := agent.NewService(testDB, nil)

	req := newRequest("Broken Bot")
	req.PricingModel = models.PricingUsage
	req.Price = decimal.NewFromInt(-1)
	_, err := svc.Create(context.Background(), newDeveloper(t), req)

	var ve *apierrors.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

// ============================================
// Updates
// ============================================

func TestUpdate_OwnerOnlyAndSlugImmutable(t *testing.T) {
	dbtest.Require(t, testDB)
	ctx := context.Background()
	svc := agent.NewService(testDB, nil)
	dev := newDeveloper(t)

	created, err := svc.Create(ctx, dev, newRequest("Rename Bot"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	newName := "Completely Different"
	updated, err := svc.Update(ctx, created.ID, dev, &agent.UpdateAgentRequest{Name: &newName})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Name != newName || updated.Slug != created.Slug {
		t.Errorf("expected renamed agent with original slug, got %q/%q", updated.Name, updated.Slug)
	}

	_, err = svc.Update(ctx, created.ID, newDeveloper(t), &agent.UpdateAgentRequest{Name: &newName})
	if !errors.Is(err, agent.ErrAgentNotOwned) {
		t.Errorf("expected ErrAgentNotOwned, got %v", err)
	}

	_, err = svc.Update(ctx, uuid.New(), dev, &agent.UpdateAgentRequest{})
	if !errors.Is(err, agent.ErrAgentNotFound) {
		t.Errorf("expected ErrAgentNotFound, got %v", err)
	}
}

func TestSetTrustAttributes_RecomputesDeveloperTrust(t *testing.T) {
	dbtest.Require(t, testDB)
	ctx := context.Background()
	svc := agent.NewService(testDB, nil)
	dev := newDeveloper(t)

	a, err := svc.Create(ctx, dev, newRequest("Audit Bot"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	audit := time.Now()
	risk := 1
	resp, err := svc.SetTrustAttributes(ctx, a.ID, &agent.TrustAttributesRequest{
		RiskRating:        &risk,
		TestedByPlatform:  boolPtr(true),
		SecurityAuditDate: &audit,
	})
	if err != nil {
		t.Fatalf("SetTrustAttributes failed: %v", err)
	}
	// 50 + 20 tested + 10 audit + 5 uptime
	if resp.TrustScore != 85 {
		t.Errorf("expected agent trust 85, got %d", resp.TrustScore)
	}

	var devTrust int
	if err := testDB.QueryRow(ctx, `SELECT trust_score FROM users WHERE id = $1`, dev).Scan(&devTrust); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if devTrust != models.TrustPointsPerTestedAgent {
		t.Errorf("expected developer trust %d, got %d", models.TrustPointsPerTestedAgent, devTrust)
	}

	badRisk := 9
	_, err = svc.SetTrustAttributes(ctx, a.ID, &agent.TrustAttributesRequest{RiskRating: &badRisk})
	var ve *apierrors.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected ValidationError for risk 9, got %v", err)
	}
}

func TestRecordUsage(t *testing.T) {
	dbtest.Require(t, testDB)
	ctx := context.Background()
	svc := agent.NewService(testDB, nil)

	a, err := svc.Create(ctx, newDeveloper(t), newRequest("Usage Bot"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := svc.RecordUsage(ctx, a.ID, 250); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}
	got, err := svc.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.TotalAPICalls != 250 {
		t.Errorf("expected 250 calls, got %d", got.TotalAPICalls)
	}

	var ve *apierrors.ValidationError
	if err := svc.RecordUsage(ctx, a.ID, 0); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError, got %v", err)
	}
	if err := svc.RecordUsage(ctx, uuid.New(), 1); !errors.Is(err, agent.ErrAgentNotFound) {
		t.Errorf("expected ErrAgentNotFound, got %v", err)
	}
}

// ============================================
// Versions
// ============================================

func TestVersions(t *testing.T) {
	dbtest.Require(t, testDB)
	ctx := context.Background()
	svc := agent.NewService(testDB, nil)
	dev := newDeveloper(t)

	a, err := svc.Create(ctx, dev, newRequest("Versioned Bot"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	v1, err := svc.AddVersion(ctx, a.ID, dev, &agent.AddVersionRequest{VersionNumber: "1.0.0", Changelog: "Initial"})
	if err != nil {
		t.Fatalf("AddVersion failed: %v", err)
	}
	if _, err := svc.AddVersion(ctx, a.ID, dev, &agent.AddVersionRequest{VersionNumber: "1.1.0", Changelog: "Faster"}); err != nil {
		t.Fatalf("AddVersion failed: %v", err)
	}

	_, err = svc.AddVersion(ctx, a.ID, dev, &agent.AddVersionRequest{VersionNumber: "1.0.0", Changelog: "Again"})
	var ie *apierrors.IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("expected IntegrityError for duplicate version, got %v", err)
	}

	list, err := svc.ListVersions(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListVersions failed: %v", err)
	}
	if len(list) != 2 || list[0].VersionNumber != "1.1.0" {
		t.Errorf("expected newest first, got %+v", list)
	}

	v, err := svc.SetVersionStable(ctx, a.ID, v1.ID, dev, false)
	if err != nil {
		t.Fatalf("SetVersionStable failed: %v", err)
	}
	if v.IsStable || v.Changelog != "Initial" {
		t.Errorf("unexpected version after update: %+v", v)
	}

	if _, err := svc.SetVersionStable(ctx, a.ID, uuid.New(), dev, true); !errors.Is(err, agent.ErrVersionNotFound) {
		t.Errorf("expected ErrVersionNotFound, got %v", err)
	}
	if _, err := svc.AddVersion(ctx, a.ID, newDeveloper(t), &agent.AddVersionRequest{VersionNumber: "2.0", Changelog: "x"}); !errors.Is(err, agent.ErrAgentNotOwned) {
		t.Errorf("expected ErrAgentNotOwned, got %v", err)
	}
}

// ============================================
// Reads
// ============================================

func TestGetBySlug_OnlyActive(t *testing.T) {
	dbtest.Require(t, testDB)
	ctx := context.Background()
	svc := agent.NewService(testDB, nil)
	dev := newDeveloper(t)

	req := newRequest("Hidden Bot")
	req.IsActive = boolPtr(false)
	req.TestAPIKey = "sk_hidden"
	hidden, err := svc.Create(ctx, dev, req)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := svc.GetBySlug(ctx, hidden.Slug); !errors.Is(err, agent.ErrAgentNotFound) {
		t.Errorf("expected ErrAgentNotFound for inactive agent, got %v", err)
	}

	if _, err := svc.SetStatus(ctx, hidden.ID, &agent.StatusRequest{IsActive: boolPtr(true)}); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	got, err := svc.GetBySlug(ctx, hidden.Slug)
	if err != nil {
		t.Fatalf("GetBySlug failed: %v", err)
	}
	if got.ID != hidden.ID || got.TestAPIKey != "" {
		t.Errorf("unexpected public view: %+v", got.Agent)
	}
}

func TestSearch_FiltersAndOrdering(t *testing.T) {
	dbtest.Require(t, testDB)
	ctx := context.Background()
	svc := agent.NewService(testDB, nil)
	dev := newDeveloper(t)
	tag := dbtest.UniqueName("tag")

	var ids []uuid.UUID
	for i, rating := range []string{"3.50", "4.75", "1.00"} {
		req := newRequest("Search Bot")
		req.Tags = []string{tag}
		if i == 2 {
			req.Category = models.CategoryCoding
		}
		a, err := svc.Create(ctx, dev, req)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if _, err := testDB.Exec(ctx, `UPDATE agents SET average_rating = $2 WHERE id = $1`, a.ID, decimal.RequireFromString(rating)); err != nil {
			t.Fatalf("seed rating failed: %v", err)
		}
		ids = append(ids, a.ID)
	}

	res, err := svc.Search(ctx, agent.AgentFilter{Tag: tag, OrderBy: agent.OrderRating})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if res.Total != 3 || res.Agents[0].ID != ids[1] || res.Agents[2].ID != ids[2] {
		t.Errorf("unexpected rating order: %+v", res.Agents)
	}

	res, err = svc.Search(ctx, agent.AgentFilter{Tag: tag, Category: models.CategoryCoding})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if res.Total != 1 || res.Agents[0].ID != ids[2] {
		t.Errorf("category filter ignored: %+v", res.Agents)
	}

	minRating := decimal.RequireFromString("3.50")
	res, err = svc.Search(ctx, agent.AgentFilter{Tag: tag, MinRating: &minRating, Page: database.Page{PageSize: 1}})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if res.Total != 2 || len(res.Agents) != 1 || res.TotalPages != 2 {
		t.Errorf("unexpected page: total=%d len=%d pages=%d", res.Total, len(res.Agents), res.TotalPages)
	}
}
