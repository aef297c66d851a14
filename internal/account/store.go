package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/autra-ai/marketplace/internal/database"
	"github.com/autra-ai/marketplace/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const userColumns = `u.id, u.username, u.email, u.first_name, u.last_name, u.user_type, u.bio,
	u.phone_number, u.website, u.location, u.avatar, u.verified, u.verification_date,
	u.trust_score, u.stripe_customer_id, u.stripe_account_id, u.profile_completed,
	u.onboarding_completed, u.email_notifications, u.sms_notifications,
	u.newsletter_subscription, u.total_spent, u.total_earned, u.is_active, u.is_staff,
	u.created_at, u.updated_at, u.last_active`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.UserType, &u.Bio,
		&u.PhoneNumber, &u.Website, &u.Location, &u.Avatar, &u.Verified, &u.VerificationDate,
		&u.TrustScore, &u.StripeCustomerID, &u.StripeAccountID, &u.ProfileCompleted,
		&u.OnboardingCompleted, &u.EmailNotifications, &u.SMSNotifications,
		&u.NewsletterSubscription, &u.TotalSpent, &u.TotalEarned, &u.IsActive, &u.IsStaff,
		&u.CreatedAt, &u.UpdatedAt, &u.LastActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

// loadUser reads a user and its role profile. With lock set the user row is
// held FOR UPDATE until the surrounding transaction ends.
func loadUser(ctx context.Context, q database.Querier, userID uuid.UUID, lock bool) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users u WHERE u.id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	u, err := scanUser(q.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, err
	}
	if err := loadProfile(ctx, q, u); err != nil {
		return nil, err
	}
	return u, nil
}

func loadProfile(ctx context.Context, q database.Querier, u *models.User) error {
	switch u.UserType {
	case models.UserTypeDeveloper:
		p := &models.DeveloperProfile{}
		err := q.QueryRow(ctx, `
			SELECT user_id, github_username, linkedin_url, portfolio_url, skills,
				years_of_experience, specializations, certifications, available_for_custom_work,
				hourly_rate, preferred_project_size, total_agents, successful_deployments,
				average_response_time_hours
			FROM developer_profiles WHERE user_id = $1
		`, u.ID).Scan(
			&p.UserID, &p.GithubUsername, &p.LinkedinURL, &p.PortfolioURL, &p.Skills,
			&p.YearsOfExperience, &p.Specializations, &p.Certifications, &p.AvailableForCustomWork,
			&p.HourlyRate, &p.PreferredProjectSize, &p.TotalAgents, &p.SuccessfulDeployments,
			&p.AverageResponseTimeHours,
		)
		if errors.Is(err, pgx.ErrNoRows) {
			// a missing profile row is recreated on the next save
			u.Profile = models.NewDeveloperProfile(u.ID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load developer profile: %w", err)
		}
		u.Profile = p

	case models.UserTypeBusiness:
		p := &models.BusinessProfile{}
		err := q.QueryRow(ctx, `
			SELECT user_id, company_name, industry, company_size, tax_id, billing_address,
				billing_email, preferred_budget_range, interested_categories,
				total_agents_hired, active_subscriptions
			FROM business_profiles WHERE user_id = $1
		`, u.ID).Scan(
			&p.UserID, &p.CompanyName, &p.Industry, &p.CompanySize, &p.TaxID, &p.BillingAddress,
			&p.BillingEmail, &p.PreferredBudgetRange, &p.InterestedCategories,
			&p.TotalAgentsHired, &p.ActiveSubscriptions,
		)
		if errors.Is(err, pgx.ErrNoRows) {
			u.Profile = models.NewBusinessProfile(u.ID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load business profile: %w", err)
		}
		u.Profile = p
	}
	return nil
}

// saveProfile upserts the editable profile fields. Counters are owned by the
// catalog and ledger services and are never written here.
func saveProfile(ctx context.Context, tx pgx.Tx, profile models.RoleProfile) error {
	switch p := profile.(type) {
	case *models.DeveloperProfile:
		_, err := tx.Exec(ctx, `
			INSERT INTO developer_profiles (user_id, github_username, linkedin_url, portfolio_url,
				skills, years_of_experience, specializations, certifications,
				available_for_custom_work, hourly_rate, preferred_project_size)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (user_id) DO UPDATE SET
				github_username = EXCLUDED.github_username,
				linkedin_url = EXCLUDED.linkedin_url,
				portfolio_url = EXCLUDED.portfolio_url,
				skills = EXCLUDED.skills,
				years_of_experience = EXCLUDED.years_of_experience,
				specializations = EXCLUDED.specializations,
				certifications = EXCLUDED.certifications,
				available_for_custom_work = EXCLUDED.available_for_custom_work,
				hourly_rate = EXCLUDED.hourly_rate,
				preferred_project_size = EXCLUDED.preferred_project_size
		`, p.UserID, p.GithubUsername, p.LinkedinURL, p.PortfolioURL,
			nonNil(p.Skills), p.YearsOfExperience, nonNil(p.Specializations), nonNil(p.Certifications),
			p.AvailableForCustomWork, p.HourlyRate, p.PreferredProjectSize)
		if err != nil {
			return fmt.Errorf("failed to save developer profile: %w", err)
		}

	case *models.BusinessProfile:
		_, err := tx.Exec(ctx, `
			INSERT INTO business_profiles (user_id, company_name, industry, company_size, tax_id,
				billing_address, billing_email, preferred_budget_range, interested_categories)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (user_id) DO UPDATE SET
				company_name = EXCLUDED.company_name,
				industry = EXCLUDED.industry,
				company_size = EXCLUDED.company_size,
				tax_id = EXCLUDED.tax_id,
				billing_address = EXCLUDED.billing_address,
				billing_email = EXCLUDED.billing_email,
				preferred_budget_range = EXCLUDED.preferred_budget_range,
				interested_categories = EXCLUDED.interested_categories
		`, p.UserID, p.CompanyName, p.Industry, p.CompanySize, p.TaxID,
			p.BillingAddress, p.BillingEmail, p.PreferredBudgetRange, nonNil(p.InterestedCategories))
		if err != nil {
			return fmt.Errorf("failed to save business profile: %w", err)
		}
	}
	return nil
}

// nonNil keeps NOT NULL array columns from receiving NULL
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
