package models

import (
	"net/mail"
	"regexp"
	"time"

	apierrors "github.com/autra-ai/marketplace/internal/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UserType represents the role of a user
type UserType string

const (
	UserTypeDeveloper UserType = "developer"
	UserTypeBusiness  UserType = "business"
)

// Valid reports whether t is a known role
func (t UserType) Valid() bool {
	return t == UserTypeDeveloper || t == UserTypeBusiness
}

// User trust score weights
const (
	TrustProfileCompletedPoints = 10
	TrustVerifiedPoints         = 50
	TrustPointsPerTestedAgent   = 10
	TrustActivityCap            = 100
	TrustSpendUnit              = 1000
	TrustScoreMin               = 0
	TrustScoreMax               = 100
)

var phonePattern = regexp.MustCompile(`^\+?1?\d{9,15}$`)

// User represents the identity shared by every account. Role-specific data
// lives in Profile, whose concrete type always matches UserType.
type User struct {
	ID                     uuid.UUID       `json:"id" db:"id"`
	Username               string          `json:"username" db:"username"`
	Email                  string          `json:"email" db:"email"`
	FirstName              string          `json:"first_name" db:"first_name"`
	LastName               string          `json:"last_name" db:"last_name"`
	UserType               UserType        `json:"user_type" db:"user_type"`
	Bio                    string          `json:"bio" db:"bio"`
	PhoneNumber            string          `json:"phone_number" db:"phone_number"`
	Website                string          `json:"website" db:"website"`
	Location               string          `json:"location" db:"location"`
	Avatar                 string          `json:"avatar,omitempty" db:"avatar"`
	Verified               bool            `json:"verified" db:"verified"`
	VerificationDate       *time.Time      `json:"verification_date,omitempty" db:"verification_date"`
	TrustScore             int             `json:"trust_score" db:"trust_score"`
	StripeCustomerID       string          `json:"stripe_customer_id,omitempty" db:"stripe_customer_id"`
	StripeAccountID        string          `json:"stripe_account_id,omitempty" db:"stripe_account_id"`
	ProfileCompleted       bool            `json:"profile_completed" db:"profile_completed"`
	OnboardingCompleted    bool            `json:"onboarding_completed" db:"onboarding_completed"`
	EmailNotifications     bool            `json:"email_notifications" db:"email_notifications"`
	SMSNotifications       bool            `json:"sms_notifications" db:"sms_notifications"`
	NewsletterSubscription bool            `json:"newsletter_subscription" db:"newsletter_subscription"`
	TotalSpent             decimal.Decimal `json:"total_spent" db:"total_spent"`
	TotalEarned            decimal.Decimal `json:"total_earned" db:"total_earned"`
	IsActive               bool            `json:"is_active" db:"is_active"`
	IsStaff                bool            `json:"is_staff" db:"is_staff"`
	CreatedAt              time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at" db:"updated_at"`
	LastActive             *time.Time      `json:"last_active,omitempty" db:"last_active"`
	Profile                RoleProfile     `json:"profile,omitempty"`
}

// RoleProfile is implemented only by *DeveloperProfile and *BusinessProfile.
type RoleProfile interface {
	Role() UserType
	completionFields() []bool
}

// ProjectSize is a developer's preferred engagement size
type ProjectSize string

const (
	ProjectSizeSmall  ProjectSize = "small"
	ProjectSizeMedium ProjectSize = "medium"
	ProjectSizeLarge  ProjectSize = "large"
	ProjectSizeAny    ProjectSize = "any"
)

// DeveloperProfile holds data that only applies to developer accounts
type DeveloperProfile struct {
	UserID                   uuid.UUID        `json:"user_id" db:"user_id"`
	GithubUsername           string           `json:"github_username" db:"github_username"`
	LinkedinURL              string           `json:"linkedin_url" db:"linkedin_url"`
	PortfolioURL             string           `json:"portfolio_url" db:"portfolio_url"`
	Skills                   []string         `json:"skills" db:"skills"`
	YearsOfExperience        *int             `json:"years_of_experience,omitempty" db:"years_of_experience"`
	Specializations          []string         `json:"specializations" db:"specializations"`
	Certifications           []string         `json:"certifications" db:"certifications"`
	AvailableForCustomWork   bool             `json:"available_for_custom_work" db:"available_for_custom_work"`
	HourlyRate               *decimal.Decimal `json:"hourly_rate,omitempty" db:"hourly_rate"`
	PreferredProjectSize     ProjectSize      `json:"preferred_project_size" db:"preferred_project_size"`
	TotalAgents              int              `json:"total_agents" db:"total_agents"`
	SuccessfulDeployments    int              `json:"successful_deployments" db:"successful_deployments"`
	AverageResponseTimeHours int              `json:"average_response_time_hours" db:"average_response_time_hours"`
}

// Role implements RoleProfile
func (p *DeveloperProfile) Role() UserType { return UserTypeDeveloper }

func (p *DeveloperProfile) completionFields() []bool {
	return []bool{p.GithubUsername != "", len(p.Skills) > 0}
}

// CompanySize is a business headcount bracket
type CompanySize string

const (
	CompanySize1To10     CompanySize = "1-10"
	CompanySize11To50    CompanySize = "11-50"
	CompanySize51To200   CompanySize = "51-200"
	CompanySize201To500  CompanySize = "201-500"
	CompanySize501To1000 CompanySize = "501-1000"
	CompanySize1000Plus  CompanySize = "1000+"
)

// BudgetRange is a business's preferred monthly spend
type BudgetRange string

const (
	BudgetLow        BudgetRange = "low"
	BudgetMedium     BudgetRange = "medium"
	BudgetHigh       BudgetRange = "high"
	BudgetEnterprise BudgetRange = "enterprise"
)

// BusinessProfile holds data that only applies to business accounts
type BusinessProfile struct {
	UserID               uuid.UUID   `json:"user_id" db:"user_id"`
	CompanyName          string      `json:"company_name" db:"company_name"`
	Industry             string      `json:"industry" db:"industry"`
	CompanySize          CompanySize `json:"company_size,omitempty" db:"company_size"`
	TaxID                string      `json:"tax_id,omitempty" db:"tax_id"`
	BillingAddress       string      `json:"billing_address,omitempty" db:"billing_address"`
	BillingEmail         string      `json:"billing_email,omitempty" db:"billing_email"`
	PreferredBudgetRange BudgetRange `json:"preferred_budget_range,omitempty" db:"preferred_budget_range"`
	InterestedCategories []string    `json:"interested_categories" db:"interested_categories"`
	TotalAgentsHired     int         `json:"total_agents_hired" db:"total_agents_hired"`
	ActiveSubscriptions  int         `json:"active_subscriptions" db:"active_subscriptions"`
}

// Role implements RoleProfile
func (p *BusinessProfile) Role() UserType { return UserTypeBusiness }

func (p *BusinessProfile) completionFields() []bool {
	return []bool{p.CompanyName != "", p.Industry != ""}
}

// IsDeveloper reports whether the user lists agents
func (u *User) IsDeveloper() bool { return u.UserType == UserTypeDeveloper }

// IsBusiness reports whether the user hires agents
func (u *User) IsBusiness() bool { return u.UserType == UserTypeBusiness }

// Developer returns the developer profile, if this is a developer account
func (u *User) Developer() (*DeveloperProfile, bool) {
	p, ok := u.Profile.(*DeveloperProfile)
	return p, ok && p != nil
}

// Business returns the business profile, if this is a business account
func (u *User) Business() (*BusinessProfile, bool) {
	p, ok := u.Profile.(*BusinessProfile)
	return p, ok && p != nil
}

// DisplayName returns the best name to show for this user
func (u *User) DisplayName() string {
	if b, ok := u.Business(); ok && b.CompanyName != "" {
		return b.CompanyName
	}
	if u.FirstName != "" && u.LastName != "" {
		return u.FirstName + " " + u.LastName
	}
	return u.Username
}

// ProfileCompletion returns the percentage of required profile fields that are filled.
// The required set is email, first name, last name, bio plus two role fields.
func (u *User) ProfileCompletion() int {
	fields := []bool{u.Email != "", u.FirstName != "", u.LastName != "", u.Bio != ""}
	var profile RoleProfile
	if p, ok := u.Developer(); ok && u.IsDeveloper() {
		profile = p
	} else if p, ok := u.Business(); ok && !u.IsDeveloper() {
		profile = p
	}
	if profile != nil {
		fields = append(fields, profile.completionFields()...)
	} else {
		// missing profile: role fields count as blank
		fields = append(fields, false, false)
	}

	completed := 0
	for _, ok := range fields {
		if ok {
			completed++
		}
	}
	return completed * 100 / len(fields)
}

// UserTrustInputs is the snapshot a user trust score is computed from
type UserTrustInputs struct {
	UserType         UserType
	ProfileCompleted bool
	Verified         bool
	TestedAgents     int
	TotalSpent       decimal.Decimal
}

// TrustInputs builds the trust inputs for u given its count of platform-tested agents
func (u *User) TrustInputs(testedAgents int) UserTrustInputs {
	return UserTrustInputs{
		UserType:         u.UserType,
		ProfileCompleted: u.ProfileCompleted,
		Verified:         u.Verified,
		TestedAgents:     testedAgents,
		TotalSpent:       u.TotalSpent,
	}
}

// ComputeUserTrustScore applies the role-dependent trust formula.
// The result is clamped to [0, 100], the same range as the agent score.
func ComputeUserTrustScore(in UserTrustInputs) int {
	score := 0
	if in.ProfileCompleted {
		score += TrustProfileCompletedPoints
	}
	if in.Verified {
		score += TrustVerifiedPoints
	}

	var activity int64
	switch in.UserType {
	case UserTypeDeveloper:
		activity = int64(in.TestedAgents) * TrustPointsPerTestedAgent
	case UserTypeBusiness:
		activity = in.TotalSpent.Div(decimal.NewFromInt(TrustSpendUnit)).Floor().IntPart()
	}
	if activity > TrustActivityCap {
		activity = TrustActivityCap
	}
	if activity < 0 {
		activity = 0
	}
	score += int(activity)

	return clamp(score, TrustScoreMin, TrustScoreMax)
}

// Validate checks the declared field constraints of a user and its profile
func (u *User) Validate() error {
	v := &apierrors.ValidationError{}

	if u.Username == "" {
		v.Add("username", "is required")
	} else if len(u.Username) > 150 {
		v.Add("username", "must be at most 150 characters")
	}
	if u.Email == "" {
		v.Add("email", "is required")
	} else if _, err := mail.ParseAddress(u.Email); err != nil {
		v.Add("email", "is not a valid email address")
	}
	if !u.UserType.Valid() {
		v.Add("user_type", "must be developer or business")
	}
	if len(u.Bio) > 1000 {
		v.Add("bio", "must be at most 1000 characters")
	}
	if u.PhoneNumber != "" && !phonePattern.MatchString(u.PhoneNumber) {
		v.Add("phone_number", "must be entered in the format '+999999999' with up to 15 digits")
	}
	if u.TotalSpent.IsNegative() {
		v.Add("total_spent", "must not be negative")
	}
	if u.TotalEarned.IsNegative() {
		v.Add("total_earned", "must not be negative")
	}

	switch p := u.Profile.(type) {
	case nil:
	case *DeveloperProfile:
		if u.UserType != UserTypeDeveloper {
			v.Add("profile", "developer profile on a %s account", u.UserType)
		}
		validateDeveloperProfile(p, v)
	case *BusinessProfile:
		if u.UserType != UserTypeBusiness {
			v.Add("profile", "business profile on a %s account", u.UserType)
		}
		validateBusinessProfile(p, v)
	}

	return v.OrNil()
}

func validateDeveloperProfile(p *DeveloperProfile, v *apierrors.ValidationError) {
	if p.YearsOfExperience != nil && *p.YearsOfExperience < 0 {
		v.Add("years_of_experience", "must not be negative")
	}
	if p.HourlyRate != nil && p.HourlyRate.IsNegative() {
		v.Add("hourly_rate", "must not be negative")
	}
	switch p.PreferredProjectSize {
	case ProjectSizeSmall, ProjectSizeMedium, ProjectSizeLarge, ProjectSizeAny:
	default:
		v.Add("preferred_project_size", "must be one of small, medium, large, any")
	}
}

func validateBusinessProfile(p *BusinessProfile, v *apierrors.ValidationError) {
	switch p.CompanySize {
	case "", CompanySize1To10, CompanySize11To50, CompanySize51To200,
		CompanySize201To500, CompanySize501To1000, CompanySize1000Plus:
	default:
		v.Add("company_size", "is not a known company size")
	}
	switch p.PreferredBudgetRange {
	case "", BudgetLow, BudgetMedium, BudgetHigh, BudgetEnterprise:
	default:
		v.Add("preferred_budget_range", "must be one of low, medium, high, enterprise")
	}
	if p.BillingEmail != "" {
		if _, err := mail.ParseAddress(p.BillingEmail); err != nil {
			v.Add("billing_email", "is not a valid email address")
		}
	}
	for _, c := range p.InterestedCategories {
		if !AgentCategory(c).Valid() {
			v.Add("interested_categories", "unknown category %q", c)
		}
	}
}

// NewDeveloperProfile returns a developer profile with default preferences
func NewDeveloperProfile(userID uuid.UUID) *DeveloperProfile {
	return &DeveloperProfile{
		UserID:                   userID,
		Skills:                   []string{},
		Specializations:          []string{},
		Certifications:           []string{},
		AvailableForCustomWork:   true,
		PreferredProjectSize:     ProjectSizeAny,
		AverageResponseTimeHours: 24,
	}
}

// NewBusinessProfile returns an empty business profile
func NewBusinessProfile(userID uuid.UUID) *BusinessProfile {
	return &BusinessProfile{
		UserID:               userID,
		InterestedCategories: []string{},
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
