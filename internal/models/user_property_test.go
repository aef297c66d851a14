package models

import (
	"errors"
	"testing"

	apierrors "github.com/autra-ai/marketplace/internal/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

func TestUserTrustScore_Developer(t *testing.T) {
	in := UserTrustInputs{
		UserType:         UserTypeDeveloper,
		ProfileCompleted: true,
		Verified:         true,
		TestedAgents:     3,
	}
	if got := ComputeUserTrustScore(in); got != 90 {
		t.Errorf("expected 90, got %d", got)
	}
}

func TestUserTrustScore_Business(t *testing.T) {
	in := UserTrustInputs{
		UserType:   UserTypeBusiness,
		TotalSpent: decimal.RequireFromString("15000"),
	}
	if got := ComputeUserTrustScore(in); got != 15 {
		t.Errorf("expected 15, got %d", got)
	}
}

func TestUserTrustScore_SpendIsFloored(t *testing.T) {
	in := UserTrustInputs{UserType: UserTypeBusiness, TotalSpent: decimal.RequireFromString("1999.99")}
	if got := ComputeUserTrustScore(in); got != 1 {
		t.Errorf("expected 1, got %d", got)
	}
}

func TestUserTrustScore_ClampedAtMaximum(t *testing.T) {
	in := UserTrustInputs{
		UserType:         UserTypeDeveloper,
		ProfileCompleted: true,
		Verified:         true,
		TestedAgents:     25,
	}
	if got := ComputeUserTrustScore(in); got != 100 {
		t.Errorf("expected clamp to 100, got %d", got)
	}
}

// Property: user trust score stays within [0, 100] and activity never exceeds its cap
func TestProperty_UserTrustScore_Bounded(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		in := UserTrustInputs{
			UserType:         rapid.SampledFrom([]UserType{UserTypeDeveloper, UserTypeBusiness}).Draw(rt, "type"),
			ProfileCompleted: rapid.Bool().Draw(rt, "completed"),
			Verified:         rapid.Bool().Draw(rt, "verified"),
			TestedAgents:     rapid.IntRange(0, 1000).Draw(rt, "tested"),
			TotalSpent:       decimal.New(rapid.Int64Range(0, 100000000).Draw(rt, "spentCents"), -2),
		}
		score := ComputeUserTrustScore(in)
		if score < 0 || score > 100 {
			rt.Fatalf("PROPERTY VIOLATION: user trust score %d out of range", score)
		}

		base := 0
		if in.ProfileCompleted {
			base += 10
		}
		if in.Verified {
			base += 50
		}
		if score < base {
			rt.Fatalf("PROPERTY VIOLATION: score %d below its flag points %d", score, base)
		}
	})
}

// Property: developer trust ignores spend and business trust ignores tested agents
func TestProperty_UserTrustScore_RoleInputs(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		tested := rapid.IntRange(0, 20).Draw(rt, "tested")
		spent := decimal.NewFromInt(rapid.Int64Range(0, 200000).Draw(rt, "spent"))

		dev := ComputeUserTrustScore(UserTrustInputs{UserType: UserTypeDeveloper, TestedAgents: tested, TotalSpent: spent})
		devNoSpend := ComputeUserTrustScore(UserTrustInputs{UserType: UserTypeDeveloper, TestedAgents: tested})
		if dev != devNoSpend {
			rt.Fatalf("developer score depends on spend: %d vs %d", dev, devNoSpend)
		}

		biz := ComputeUserTrustScore(UserTrustInputs{UserType: UserTypeBusiness, TestedAgents: tested, TotalSpent: spent})
		bizNoAgents := ComputeUserTrustScore(UserTrustInputs{UserType: UserTypeBusiness, TotalSpent: spent})
		if biz != bizNoAgents {
			rt.Fatalf("business score depends on tested agents: %d vs %d", biz, bizNoAgents)
		}
	})
}

func TestProfileCompletion(t *testing.T) {
	id := uuid.New()

	dev := &User{
		ID:        id,
		Email:     "dev@example.com",
		FirstName: "Ada",
		UserType:  UserTypeDeveloper,
		Profile:   &DeveloperProfile{UserID: id, GithubUsername: "ada", Skills: []string{"Go"}},
	}
	// email, first name, github, skills = 4/6
	if got := dev.ProfileCompletion(); got != 66 {
		t.Errorf("expected 66, got %d", got)
	}

	dev.LastName = "Lovelace"
	dev.Bio = "Builds agents"
	if got := dev.ProfileCompletion(); got != 100 {
		t.Errorf("expected 100, got %d", got)
	}

	biz := &User{
		ID:       id,
		Email:    "ops@example.com",
		UserType: UserTypeBusiness,
		Profile:  &BusinessProfile{UserID: id, CompanyName: "Acme"},
	}
	// email, company = 2/6
	if got := biz.ProfileCompletion(); got != 33 {
		t.Errorf("expected 33, got %d", got)
	}

	noProfile := &User{Email: "x@example.com", FirstName: "a", LastName: "b", Bio: "c", UserType: UserTypeBusiness}
	if got := noProfile.ProfileCompletion(); got != 66 {
		t.Errorf("expected 66 without profile, got %d", got)
	}

	// a profile of the wrong role does not count
	mismatched := &User{Email: "x@example.com", UserType: UserTypeBusiness, Profile: &DeveloperProfile{GithubUsername: "x", Skills: []string{"Go"}}}
	if got := mismatched.ProfileCompletion(); got != 16 {
		t.Errorf("expected 16 with mismatched profile, got %d", got)
	}
}

// Property: profile completion is a multiple of one sixth, truncated, within [0, 100]
func TestProperty_ProfileCompletion_Range(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		pick := func(label string) string {
			if rapid.Bool().Draw(rt, label) {
				return "x"
			}
			return ""
		}
		u := &User{
			Email:     pick("email"),
			FirstName: pick("first"),
			LastName:  pick("last"),
			Bio:       pick("bio"),
		}
		filled := 0
		for _, s := range []string{u.Email, u.FirstName, u.LastName, u.Bio} {
			if s != "" {
				filled++
			}
		}
		if rapid.Bool().Draw(rt, "developer") {
			u.UserType = UserTypeDeveloper
			p := &DeveloperProfile{GithubUsername: pick("github")}
			if rapid.Bool().Draw(rt, "skills") {
				p.Skills = []string{"Go"}
			}
			if p.GithubUsername != "" {
				filled++
			}
			if len(p.Skills) > 0 {
				filled++
			}
			u.Profile = p
		} else {
			u.UserType = UserTypeBusiness
			p := &BusinessProfile{CompanyName: pick("company"), Industry: pick("industry")}
			if p.CompanyName != "" {
				filled++
			}
			if p.Industry != "" {
				filled++
			}
			u.Profile = p
		}

		if got, want := u.ProfileCompletion(), filled*100/6; got != want {
			rt.Fatalf("completion: expected %d, got %d", want, got)
		}
	})
}

func TestDisplayName(t *testing.T) {
	u := &User{Username: "jdoe", UserType: UserTypeBusiness, Profile: &BusinessProfile{}}
	if got := u.DisplayName(); got != "jdoe" {
		t.Errorf("expected username fallback, got %q", got)
	}
	u.FirstName, u.LastName = "Jane", "Doe"
	if got := u.DisplayName(); got != "Jane Doe" {
		t.Errorf("expected full name, got %q", got)
	}
	u.Profile = &BusinessProfile{CompanyName: "Doe Ltd"}
	if got := u.DisplayName(); got != "Doe Ltd" {
		t.Errorf("expected company name, got %q", got)
	}
}

func TestUserValidate(t *testing.T) {
	id := uuid.New()
	u := &User{
		Username: "dev1",
		Email:    "dev1@example.com",
		UserType: UserTypeDeveloper,
		Profile:  NewDeveloperProfile(id),
	}
	if err := u.Validate(); err != nil {
		t.Fatalf("valid user rejected: %v", err)
	}

	u.PhoneNumber = "12-34"
	u.Email = "nope"
	u.Profile = NewBusinessProfile(id)
	err := u.Validate()
	var v *apierrors.ValidationError
	if !errors.As(err, &v) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	fields := map[string]bool{}
	for _, f := range v.Fields {
		fields[f.Field] = true
	}
	for _, want := range []string{"email", "phone_number", "profile"} {
		if !fields[want] {
			t.Errorf("expected failure on %s, got %+v", want, v.Fields)
		}
	}
}
