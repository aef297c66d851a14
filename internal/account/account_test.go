package account

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/autra-ai/marketplace/internal/database/dbtest"
	apierrors "github.com/autra-ai/marketplace/internal/errors"
	"github.com/autra-ai/marketplace/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

var testDB *pgxpool.Pool

func TestMain(m *testing.M) {
	var cleanup func()
	testDB, cleanup = dbtest.Setup(context.Background())

	code := m.Run()

	cleanup()
	os.Exit(code)
}

func strPtr(s string) *string { return &s }

func registerDeveloper(t *testing.T, svc *Service, complete bool) *models.User {
	t.Helper()
	name := dbtest.UniqueName("dev")
	req := &RegisterRequest{
		Username: name,
		Email:    name + "@example.com",
		UserType: models.UserTypeDeveloper,
	}
	if complete {
		req.FirstName = "Ada"
		req.LastName = "Lovelace"
		req.Bio = "Builds agents"
		req.Developer = &DeveloperFields{
			GithubUsername: strPtr("ada"),
			Skills:         []string{"go"},
		}
	}
	u, err := svc.Register(context.Background(), req)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return u
}

// ============================================
// Registration
// ============================================

func TestRegister_DefaultsToBusinessWithProfile(t *testing.T) {
	dbtest.Require(t, testDB)
	ctx := context.Background()
	svc := NewService(testDB)

	name := dbtest.UniqueName("biz")
	u, err := svc.Register(ctx, &RegisterRequest{
		Username: name,
		Email:    name + "@example.com",
		Business: &BusinessFields{CompanyName: strPtr("Acme Ltd")},
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if u.UserType != models.UserTypeBusiness {
		t.Errorf("expected business default, got %s", u.UserType)
	}
	if !u.EmailNotifications || u.SMSNotifications || !u.NewsletterSubscription {
		t.Error("unexpected notification defaults")
	}

	got, err := svc.Get(ctx, u.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	b, ok := got.Business()
	if !ok {
		t.Fatal("expected a business profile")
	}
	if b.CompanyName != "Acme Ltd" {
		t.Errorf("expected company name to persist, got %q", b.CompanyName)
	}
	if _, ok := got.Developer(); ok {
		t.Error("business account must not carry a developer profile")
	}
	if got.DisplayName() != "Acme Ltd" {
		t.Errorf("unexpected display name %q", got.DisplayName())
	}
}

func TestRegister_CompleteProfileEarnsTrust(t *testing.T) {
	dbtest.Require(t, testDB)
	svc := NewService(testDB)

	u := registerDeveloper(t, svc, true)
	if !u.ProfileCompleted {
		t.Error("expected profile_completed for a full profile")
	}
	if u.TrustScore != models.TrustProfileCompletedPoints {
		t.Errorf("expected trust %d, got %d", models.TrustProfileCompletedPoints, u.TrustScore)
	}
}

func TestRegister_DuplicateIdentityIsValidationError(t *testing.T) {
	dbtest.Require(t, testDB)
	ctx := context.Background()
	svc := NewService(testDB)

	first := registerDeveloper(t, svc, false)

	_, err := svc.Register(ctx, &RegisterRequest{
		Username: first.Username,
		Email:    first.Email,
	})
	var ve *apierrors.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	fields := map[string]bool{}
	for _, f := range ve.Fields {
		fields[f.Field] = true
	}
	if !fields["username"] || !fields["email"] {
		t.Errorf("expected username and email failures, got %+v", ve.Fields)
	}
}

func TestRegister_RejectsWrongRoleFields(t *testing.T) {
	dbtest.Require(t, testDB)
	svc := NewService(testDB)

	name := dbtest.UniqueName("dev")
	_, err := svc.Register(context.Background(), &RegisterRequest{
		Username: name,
		Email:    name + "@example.com",
		UserType: models.UserTypeDeveloper,
		Business: &BusinessFields{CompanyName: strPtr("Nope")},
	})
	var ve *apierrors.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestRegister_InvalidInputNeverPersists(t *testing.T) {
	dbtest.Require(t, testDB)
	ctx := context.Background()
	svc := NewService(testDB)

	name := dbtest.UniqueName("bad")
	_, err := svc.Register(ctx, &RegisterRequest{
		Username:    name,
		Email:       "not-an-email",
		PhoneNumber: "12",
	})
	if err == nil {
		t.Fatal("expected validation failure")
	}

	var count int
	if err := testDB.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE username = $1`, name).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Error("invalid registration was persisted")
	}
}

// ============================================
// Profile edits
// ============================================

func TestUpdateProfile_RoleIsFixed(t *testing.T) {
	dbtest.Require(t, testDB)
	svc := NewService(testDB)
	u := registerDeveloper(t, svc, false)

	business := models.UserTypeBusiness
	_, err := svc.UpdateProfile(context.Background(), u.ID, &UpdateProfileRequest{UserType: &business})
	var ve *apierrors.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	_, err = svc.UpdateProfile(context.Background(), u.ID, &UpdateProfileRequest{
		Business: &BusinessFields{Industry: strPtr("retail")},
	})
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for business fields, got %v", err)
	}
}

func TestUpdateProfile_CompletingProfileRaisesTrust(t *testing.T) {
	dbtest.Require(t, testDB)
	ctx := context.Background()
	svc := NewService(testDB)
	u := registerDeveloper(t, svc, false)

	updated, err := svc.UpdateProfile(ctx, u.ID, &UpdateProfileRequest{
		FirstName: strPtr("Grace"),
		LastName:  strPtr("Hopper"),
		Bio:       strPtr("Compilers"),
		Developer: &DeveloperFields{
			GithubUsername: strPtr("grace"),
			Skills:         []string{"cobol"},
		},
	})
	if err != nil {
		t.Fatalf("UpdateProfile failed: %v", err)
	}
	if !updated.ProfileCompleted || updated.TrustScore != models.TrustProfileCompletedPoints {
		t.Errorf("expected completed profile with trust 10, got %v/%d", updated.ProfileCompleted, updated.TrustScore)
	}

	got, err := svc.Get(ctx, u.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	dev, _ := got.Developer()
	if dev.GithubUsername != "grace" || len(dev.Skills) != 1 {
		t.Errorf("developer fields not persisted: %+v", dev)
	}
}

func TestUpdateProfile_EmailTakenByAnother(t *testing.T) {
	dbtest.Require(t, testDB)
	svc := NewService(testDB)
	a := registerDeveloper(t, svc, false)
	b := registerDeveloper(t, svc, false)

	_, err := svc.UpdateProfile(context.Background(), b.ID, &UpdateProfileRequest{Email: strPtr(a.Email)})
	var ve *apierrors.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestUpdateProfile_UnknownUser(t *testing.T) {
	dbtest.Require(t, testDB)
	svc := NewService(testDB)

	_, err := svc.UpdateProfile(context.Background(), uuid.New(), &UpdateProfileRequest{})
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

// ============================================
// Trust score
// ============================================

// Verified developer, complete profile, three platform-tested agents: 90
func TestRecomputeTrustScore_Developer(t *testing.T) {
	dbtest.Require(t, testDB)
	ctx := context.Background()
	svc := NewService(testDB)

	u := registerDeveloper(t, svc, true)
	for i := 0; i < 3; i++ {
		dbtest.CreateAgent(t, testDB, u.ID, dbtest.AgentOptions{TestedByPlatform: true})
	}
	dbtest.CreateAgent(t, testDB, u.ID, dbtest.AgentOptions{})

	verified, err := svc.Verify(ctx, u.ID)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if verified.TrustScore != 90 {
		t.Errorf("expected 90, got %d", verified.TrustScore)
	}
	if verified.VerificationDate == nil {
		t.Error("expected verification date")
	}

	again, err := svc.RecomputeTrustScore(ctx, u.ID)
	if err != nil {
		t.Fatalf("RecomputeTrustScore failed: %v", err)
	}
	if again != 90 {
		t.Errorf("recompute must be stable, got %d", again)
	}
}

// Business with 15000 spent, unverified, incomplete profile: 15
func TestRecomputeTrustScore_Business(t *testing.T) {
	dbtest.Require(t, testDB)
	ctx := context.Background()
	svc := NewService(testDB)

	id := dbtest.CreateUser(t, testDB, models.UserTypeBusiness, dbtest.UserOptions{})
	if _, err := testDB.Exec(ctx, `UPDATE users SET total_spent = 15000 WHERE id = $1`, id); err != nil {
		t.Fatalf("seed spend failed: %v", err)
	}

	score, err := svc.RecomputeTrustScore(ctx, id)
	if err != nil {
		t.Fatalf("RecomputeTrustScore failed: %v", err)
	}
	if score != 15 {
		t.Errorf("expected 15, got %d", score)
	}
}

// For any spend, the persisted business score equals the pure formula and stays in range
func TestProperty_PersistedBusinessTrustMatchesFormula(t *testing.T) {
	dbtest.Require(t, testDB)
	ctx := context.Background()
	svc := NewService(testDB)

	rapid.Check(t, func(rt *rapid.T) {
		spent := decimal.NewFromInt(rapid.Int64Range(0, 500000).Draw(rt, "spent"))
		verified := rapid.Bool().Draw(rt, "verified")

		id := dbtest.CreateUser(t, testDB, models.UserTypeBusiness, dbtest.UserOptions{Verified: verified})
		if _, err := testDB.Exec(ctx, `UPDATE users SET total_spent = $2 WHERE id = $1`, id, spent); err != nil {
			rt.Fatalf("seed failed: %v", err)
		}

		score, err := svc.RecomputeTrustScore(ctx, id)
		if err != nil {
			rt.Fatalf("recompute failed: %v", err)
		}
		want := models.ComputeUserTrustScore(models.UserTrustInputs{
			UserType:   models.UserTypeBusiness,
			Verified:   verified,
			TotalSpent: spent,
		})
		if score != want || score < 0 || score > 100 {
			rt.Fatalf("PROPERTY VIOLATION: persisted %d, formula %d", score, want)
		}
	})
}

func TestRefreshProfileCompletion(t *testing.T) {
	dbtest.Require(t, testDB)
	ctx := context.Background()
	svc := NewService(testDB)

	id := dbtest.CreateUser(t, testDB, models.UserTypeBusiness, dbtest.UserOptions{ProfileCompleted: true})

	pct, err := svc.RefreshProfileCompletion(ctx, id)
	if err != nil {
		t.Fatalf("RefreshProfileCompletion failed: %v", err)
	}
	// only the email is filled
	if pct != 16 {
		t.Errorf("expected 16%%, got %d", pct)
	}
	u, err := svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if u.ProfileCompleted {
		t.Error("stale profile_completed flag was not cleared")
	}
}

// ============================================
// Lifecycle and search
// ============================================

func TestDeactivateAndTouch(t *testing.T) {
	dbtest.Require(t, testDB)
	ctx := context.Background()
	svc := NewService(testDB)
	u := registerDeveloper(t, svc, false)

	if err := svc.TouchLastActive(ctx, u.ID); err != nil {
		t.Fatalf("TouchLastActive failed: %v", err)
	}
	if err := svc.Deactivate(ctx, u.ID); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}
	got, err := svc.Get(ctx, u.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.IsActive || got.LastActive == nil {
		t.Errorf("unexpected state: active=%v last_active=%v", got.IsActive, got.LastActive)
	}

	if err := svc.Deactivate(ctx, uuid.New()); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestSearch(t *testing.T) {
	dbtest.Require(t, testDB)
	ctx := context.Background()
	svc := NewService(testDB)

	company := dbtest.UniqueName("Globex")
	name := dbtest.UniqueName("biz")
	if _, err := svc.Register(ctx, &RegisterRequest{
		Username: name,
		Email:    name + "@example.com",
		Business: &BusinessFields{CompanyName: &company},
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	res, err := svc.Search(ctx, UserFilter{Query: company, UserType: models.UserTypeBusiness})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if res.Total != 1 || len(res.Users) != 1 || res.Users[0].Username != name {
		t.Errorf("expected exactly the registered business, got %+v", res)
	}
	if res.Page != 1 || res.PageSize != 20 || res.TotalPages != 1 {
		t.Errorf("unexpected pagination %d/%d/%d", res.Page, res.PageSize, res.TotalPages)
	}

	none, err := svc.Search(ctx, UserFilter{Query: company, UserType: models.UserTypeDeveloper})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if none.Total != 0 {
		t.Errorf("role filter ignored, got %d", none.Total)
	}
}
