// Package account manages marketplace identities: registration, role profiles,
// verification, profile completion and the persisted user trust score.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/autra-ai/marketplace/internal/database"
	apierrors "github.com/autra-ai/marketplace/internal/errors"
	"github.com/autra-ai/marketplace/internal/logging"
	"github.com/autra-ai/marketplace/internal/models"
	"github.com/autra-ai/marketplace/internal/monitoring"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Service errors
var (
	ErrUserNotFound = errors.New("user not found")
)

// Service handles account operations
type Service struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewService creates a new account service
func NewService(db *pgxpool.Pool) *Service {
	return &Service{
		db:  db,
		log: logging.NewLogger("account"),
	}
}

// DeveloperFields carries developer profile input. Nil fields are left unchanged.
type DeveloperFields struct {
	GithubUsername         *string             `json:"github_username,omitempty"`
	LinkedinURL            *string             `json:"linkedin_url,omitempty"`
	PortfolioURL           *string             `json:"portfolio_url,omitempty"`
	Skills                 []string            `json:"skills,omitempty"`
	YearsOfExperience      *int                `json:"years_of_experience,omitempty"`
	Specializations        []string            `json:"specializations,omitempty"`
	Certifications         []string            `json:"certifications,omitempty"`
	AvailableForCustomWork *bool               `json:"available_for_custom_work,omitempty"`
	HourlyRate             *decimal.Decimal    `json:"hourly_rate,omitempty"`
	PreferredProjectSize   *models.ProjectSize `json:"preferred_project_size,omitempty"`
}

func (f *DeveloperFields) apply(p *models.DeveloperProfile) {
	if f == nil {
		return
	}
	setString(&p.GithubUsername, f.GithubUsername)
	setString(&p.LinkedinURL, f.LinkedinURL)
	setString(&p.PortfolioURL, f.PortfolioURL)
	if f.Skills != nil {
		p.Skills = f.Skills
	}
	if f.YearsOfExperience != nil {
		p.YearsOfExperience = f.YearsOfExperience
	}
	if f.Specializations != nil {
		p.Specializations = f.Specializations
	}
	if f.Certifications != nil {
		p.Certifications = f.Certifications
	}
	if f.AvailableForCustomWork != nil {
		p.AvailableForCustomWork = *f.AvailableForCustomWork
	}
	if f.HourlyRate != nil {
		p.HourlyRate = f.HourlyRate
	}
	if f.PreferredProjectSize != nil {
		p.PreferredProjectSize = *f.PreferredProjectSize
	}
}

// BusinessFields carries business profile input. Nil fields are left unchanged.
type BusinessFields struct {
	CompanyName          *string             `json:"company_name,omitempty"`
	Industry             *string             `json:"industry,omitempty"`
	CompanySize          *models.CompanySize `json:"company_size,omitempty"`
	TaxID                *string             `json:"tax_id,omitempty"`
	BillingAddress       *string             `json:"billing_address,omitempty"`
	BillingEmail         *string             `json:"billing_email,omitempty"`
	PreferredBudgetRange *models.BudgetRange `json:"preferred_budget_range,omitempty"`
	InterestedCategories []string            `json:"interested_categories,omitempty"`
}

func (f *BusinessFields) apply(p *models.BusinessProfile) {
	if f == nil {
		return
	}
	setString(&p.CompanyName, f.CompanyName)
	setString(&p.Industry, f.Industry)
	if f.CompanySize != nil {
		p.CompanySize = *f.CompanySize
	}
	setString(&p.TaxID, f.TaxID)
	setString(&p.BillingAddress, f.BillingAddress)
	setString(&p.BillingEmail, f.BillingEmail)
	if f.PreferredBudgetRange != nil {
		p.PreferredBudgetRange = *f.PreferredBudgetRange
	}
	if f.InterestedCategories != nil {
		p.InterestedCategories = f.InterestedCategories
	}
}

// RegisterRequest represents a request to create an account
type RegisterRequest struct {
	Username               string           `json:"username" binding:"required,max=150"`
	Email                  string           `json:"email" binding:"required,email"`
	FirstName              string           `json:"first_name"`
	LastName               string           `json:"last_name"`
	UserType               models.UserType  `json:"user_type"`
	Bio                    string           `json:"bio"`
	PhoneNumber            string           `json:"phone_number"`
	Website                string           `json:"website"`
	Location               string           `json:"location"`
	Avatar                 string           `json:"avatar"`
	IsStaff                bool             `json:"-"`
	EmailNotifications     *bool            `json:"email_notifications,omitempty"`
	SMSNotifications       *bool            `json:"sms_notifications,omitempty"`
	NewsletterSubscription *bool            `json:"newsletter_subscription,omitempty"`
	Developer              *DeveloperFields `json:"developer,omitempty"`
	Business               *BusinessFields  `json:"business,omitempty"`
}

// UpdateProfileRequest represents a partial profile edit
type UpdateProfileRequest struct {
	Email                  *string          `json:"email,omitempty"`
	FirstName              *string          `json:"first_name,omitempty"`
	LastName               *string          `json:"last_name,omitempty"`
	UserType               *models.UserType `json:"user_type,omitempty"`
	Bio                    *string          `json:"bio,omitempty"`
	PhoneNumber            *string          `json:"phone_number,omitempty"`
	Website                *string          `json:"website,omitempty"`
	Location               *string          `json:"location,omitempty"`
	Avatar                 *string          `json:"avatar,omitempty"`
	OnboardingCompleted    *bool            `json:"onboarding_completed,omitempty"`
	EmailNotifications     *bool            `json:"email_notifications,omitempty"`
	SMSNotifications       *bool            `json:"sms_notifications,omitempty"`
	NewsletterSubscription *bool            `json:"newsletter_subscription,omitempty"`
	Developer              *DeveloperFields `json:"developer,omitempty"`
	Business               *BusinessFields  `json:"business,omitempty"`
}

// UserFilter narrows a user search
type UserFilter struct {
	UserType    models.UserType `form:"user_type"`
	Verified    *bool           `form:"verified"`
	IsActive    *bool           `form:"is_active"`
	CreatedFrom *time.Time      `form:"created_from" time_format:"2006-01-02"`
	CreatedTo   *time.Time      `form:"created_to" time_format:"2006-01-02"`
	Query       string          `form:"q"`
	database.Page
}

// ListUsersResponse represents a paginated list of users
type ListUsersResponse struct {
	Users      []models.User `json:"users"`
	Total      int64         `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
}

// Register creates a user together with its role profile
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*models.User, error) {
	userType := req.UserType
	if userType == "" {
		userType = models.UserTypeBusiness
	}

	u := &models.User{
		ID:                     uuid.New(),
		Username:               strings.TrimSpace(req.Username),
		Email:                  strings.TrimSpace(req.Email),
		FirstName:              req.FirstName,
		LastName:               req.LastName,
		UserType:               userType,
		Bio:                    req.Bio,
		PhoneNumber:            req.PhoneNumber,
		Website:                req.Website,
		Location:               req.Location,
		Avatar:                 req.Avatar,
		IsStaff:                req.IsStaff,
		IsActive:               true,
		EmailNotifications:     boolOr(req.EmailNotifications, true),
		SMSNotifications:       boolOr(req.SMSNotifications, false),
		NewsletterSubscription: boolOr(req.NewsletterSubscription, true),
		TotalSpent:             decimal.Zero,
		TotalEarned:            decimal.Zero,
	}

	v := &apierrors.ValidationError{}
	switch userType {
	case models.UserTypeDeveloper:
		p := models.NewDeveloperProfile(u.ID)
		req.Developer.apply(p)
		u.Profile = p
		if req.Business != nil {
			v.Add("business", "business fields on a developer account")
		}
	case models.UserTypeBusiness:
		p := models.NewBusinessProfile(u.ID)
		req.Business.apply(p)
		u.Profile = p
		if req.Developer != nil {
			v.Add("developer", "developer fields on a business account")
		}
	}
	if err := u.Validate(); err != nil {
		var ve *apierrors.ValidationError
		if !errors.As(err, &ve) {
			return nil, err
		}
		v.Fields = append(v.Fields, ve.Fields...)
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}

	if err := s.checkIdentityFree(ctx, s.db, uuid.Nil, u.Username, u.Email); err != nil {
		return nil, err
	}

	u.ProfileCompleted = u.ProfileCompletion() == 100
	u.TrustScore = models.ComputeUserTrustScore(u.TrustInputs(0))

	err := database.InTx(ctx, s.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO users (id, username, email, first_name, last_name, user_type, bio,
				phone_number, website, location, avatar, trust_score, profile_completed,
				email_notifications, sms_notifications, newsletter_subscription, is_active, is_staff)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
			RETURNING created_at, updated_at
		`, u.ID, u.Username, u.Email, u.FirstName, u.LastName, u.UserType, u.Bio,
			u.PhoneNumber, u.Website, u.Location, u.Avatar, u.TrustScore, u.ProfileCompleted,
			u.EmailNotifications, u.SMSNotifications, u.NewsletterSubscription, u.IsActive, u.IsStaff,
		).Scan(&u.CreatedAt, &u.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return saveProfile(ctx, tx, u.Profile)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("user_id", u.ID.String()).
		Str("user_type", string(u.UserType)).
		Msg("Account registered")

	return u, nil
}

// checkIdentityFree reports a taken username or email as a ValidationError.
// A concurrent registration can still race past it; the unique constraints
// then surface as IntegrityError.
func (s *Service) checkIdentityFree(ctx context.Context, q database.Querier, self uuid.UUID, username, email string) error {
	rows, err := q.Query(ctx, `
		SELECT username = $1, email = $2 FROM users
		WHERE (username = $1 OR email = $2) AND id <> $3
	`, username, email, self)
	if err != nil {
		return fmt.Errorf("failed to check identity: %w", err)
	}
	defer rows.Close()

	v := &apierrors.ValidationError{}
	var usernameTaken, emailTaken bool
	for rows.Next() {
		var u, e bool
		if err := rows.Scan(&u, &e); err != nil {
			return fmt.Errorf("failed to scan identity: %w", err)
		}
		usernameTaken = usernameTaken || u
		emailTaken = emailTaken || e
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to check identity: %w", err)
	}
	if usernameTaken {
		v.Add("username", "a user with that username already exists")
	}
	if emailTaken {
		v.Add("email", "a user with that email already exists")
	}
	return v.OrNil()
}

// Get loads a user with its role profile
func (s *Service) Get(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return loadUser(ctx, s.db, userID, false)
}

// UpdateProfile applies a partial edit to the user and its role profile.
// The role is fixed at registration. Completion and trust are refreshed.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, req *UpdateProfileRequest) (*models.User, error) {
	var u *models.User
	err := database.InTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		u, err = loadUser(ctx, tx, userID, true)
		if err != nil {
			return err
		}

		v := &apierrors.ValidationError{}
		if req.UserType != nil && *req.UserType != u.UserType {
			v.Add("user_type", "cannot be changed")
		}
		if req.Developer != nil {
			if p, ok := u.Developer(); ok && u.IsDeveloper() {
				req.Developer.apply(p)
			} else {
				v.Add("developer", "developer fields on a %s account", u.UserType)
			}
		}
		if req.Business != nil {
			if p, ok := u.Business(); ok && u.IsBusiness() {
				req.Business.apply(p)
			} else {
				v.Add("business", "business fields on a %s account", u.UserType)
			}
		}
		if err := v.OrNil(); err != nil {
			return err
		}

		if req.Email != nil {
			email := strings.TrimSpace(*req.Email)
			if email != u.Email {
				if err := s.checkIdentityFree(ctx, tx, u.ID, "", email); err != nil {
					return err
				}
			}
			u.Email = email
		}
		setString(&u.FirstName, req.FirstName)
		setString(&u.LastName, req.LastName)
		setString(&u.Bio, req.Bio)
		setString(&u.PhoneNumber, req.PhoneNumber)
		setString(&u.Website, req.Website)
		setString(&u.Location, req.Location)
		setString(&u.Avatar, req.Avatar)
		setBool(&u.OnboardingCompleted, req.OnboardingCompleted)
		setBool(&u.EmailNotifications, req.EmailNotifications)
		setBool(&u.SMSNotifications, req.SMSNotifications)
		setBool(&u.NewsletterSubscription, req.NewsletterSubscription)

		if err := u.Validate(); err != nil {
			return err
		}
		u.ProfileCompleted = u.ProfileCompletion() == 100

		_, err = tx.Exec(ctx, `
			UPDATE users SET email = $2, first_name = $3, last_name = $4, bio = $5,
				phone_number = $6, website = $7, location = $8, avatar = $9,
				onboarding_completed = $10, email_notifications = $11, sms_notifications = $12,
				newsletter_subscription = $13, profile_completed = $14
			WHERE id = $1
		`, u.ID, u.Email, u.FirstName, u.LastName, u.Bio,
			u.PhoneNumber, u.Website, u.Location, u.Avatar,
			u.OnboardingCompleted, u.EmailNotifications, u.SMSNotifications,
			u.NewsletterSubscription, u.ProfileCompleted)
		if err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}
		if u.Profile != nil {
			if err := saveProfile(ctx, tx, u.Profile); err != nil {
				return err
			}
		}

		u.TrustScore, err = RecomputeTrustTx(ctx, tx, u.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Verify marks the user verified and recomputes the trust score.
// The first verification date is kept on repeat calls.
func (s *Service) Verify(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	err := database.InTx(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE users SET verified = TRUE, verification_date = COALESCE(verification_date, NOW())
			WHERE id = $1
		`, userID)
		if err != nil {
			return fmt.Errorf("failed to verify user: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrUserNotFound
		}
		_, err = RecomputeTrustTx(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	logging.LogSecurityEvent("user_verified", userID.String(), "", "")
	return s.Get(ctx, userID)
}

// Deactivate disables the account. Users are never hard-deleted.
func (s *Service) Deactivate(ctx context.Context, userID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET is_active = FALSE WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to deactivate user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	logging.LogSecurityEvent("user_deactivated", userID.String(), "", "")
	return nil
}

// TouchLastActive records activity for the user
func (s *Service) TouchLastActive(ctx context.Context, userID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET last_active = NOW() WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to touch user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// RefreshProfileCompletion persists profile_completed from the current fields
// and recomputes the trust score. Returns the completion percentage.
func (s *Service) RefreshProfileCompletion(ctx context.Context, userID uuid.UUID) (int, error) {
	var pct int
	err := database.InTx(ctx, s.db, func(tx pgx.Tx) error {
		u, err := loadUser(ctx, tx, userID, true)
		if err != nil {
			return err
		}
		pct = u.ProfileCompletion()
		if _, err := tx.Exec(ctx, `UPDATE users SET profile_completed = $2 WHERE id = $1`, userID, pct == 100); err != nil {
			return fmt.Errorf("failed to update profile completion: %w", err)
		}
		_, err = RecomputeTrustTx(ctx, tx, userID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return pct, nil
}

// RecomputeTrustScore recomputes and persists the user's trust score
func (s *Service) RecomputeTrustScore(ctx context.Context, userID uuid.UUID) (int, error) {
	var score int
	err := database.InTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		score, err = RecomputeTrustTx(ctx, tx, userID)
		return err
	})
	return score, err
}

// RecomputeTrustTx recomputes the trust score of userID inside tx. The user row
// is locked and the tested-agent count is read in the same transaction, so the
// persisted score reflects the inputs at commit.
func RecomputeTrustTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int, error) {
	var (
		in       models.UserTrustInputs
		previous int
	)
	err := tx.QueryRow(ctx, `
		SELECT user_type, profile_completed, verified, total_spent, trust_score
		FROM users WHERE id = $1
		FOR UPDATE
	`, userID).Scan(&in.UserType, &in.ProfileCompleted, &in.Verified, &in.TotalSpent, &previous)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to lock user: %w", err)
	}

	if in.UserType == models.UserTypeDeveloper {
		err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM agents WHERE developer_id = $1 AND tested_by_platform
		`, userID).Scan(&in.TestedAgents)
		if err != nil {
			return 0, fmt.Errorf("failed to count tested agents: %w", err)
		}
	}

	score := models.ComputeUserTrustScore(in)
	if score != previous {
		if _, err := tx.Exec(ctx, `UPDATE users SET trust_score = $2 WHERE id = $1`, userID, score); err != nil {
			return 0, fmt.Errorf("failed to update trust score: %w", err)
		}
	}

	monitoring.RecordTrustRecomputation(string(in.UserType))
	logging.LogTrustScore(userID.String(), string(in.UserType), previous, score)
	return score, nil
}

// Search lists users matching the filter, newest first
func (s *Service) Search(ctx context.Context, f UserFilter) (*ListUsersResponse, error) {
	page := f.Page.Normalize()

	var w database.Where
	if f.UserType != "" {
		w.Add("u.user_type = ?", f.UserType)
	}
	if f.Verified != nil {
		w.Add("u.verified = ?", *f.Verified)
	}
	if f.IsActive != nil {
		w.Add("u.is_active = ?", *f.IsActive)
	}
	if f.CreatedFrom != nil {
		w.Add("u.created_at >= ?", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		w.Add("u.created_at < ?", f.CreatedTo.AddDate(0, 0, 1))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		p := database.LikePattern(q)
		w.Add(`(u.username ILIKE ? OR u.email ILIKE ? OR u.first_name ILIKE ?
			OR u.last_name ILIKE ? OR COALESCE(bp.company_name, '') ILIKE ?)`, p, p, p, p, p)
	}

	from := ` FROM users u LEFT JOIN business_profiles bp ON bp.user_id = u.id` + w.SQL()

	var total int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*)`+from, w.Args()...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	query := `SELECT ` + userColumns + from +
		` ORDER BY u.created_at DESC LIMIT ` + w.Arg(page.PageSize) + ` OFFSET ` + w.Arg(page.Offset())
	rows, err := s.db.Query(ctx, query, w.Args()...)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}

	return &ListUsersResponse{
		Users:      users,
		Total:      total,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalPages: page.TotalPages(total),
	}, nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
