package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/autra-ai/marketplace/internal/account"
	"github.com/autra-ai/marketplace/internal/cache"
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
	ErrAgentNotFound   = errors.New("agent not found")
	ErrAgentNotOwned   = errors.New("agent not owned by user")
	ErrNotDeveloper    = errors.New("only developer accounts can list agents")
	ErrVersionNotFound = errors.New("agent version not found")
)

// Service handles agent catalog operations
type Service struct {
	db    *pgxpool.Pool
	cache *cache.Redis
	log   zerolog.Logger
	now   func() time.Time
}

// NewService creates a new agent service. A nil cache disables caching.
func NewService(db *pgxpool.Pool, c *cache.Redis) *Service {
	return &Service{
		db:    db,
		cache: c,
		log:   logging.NewLogger("agent"),
		now:   time.Now,
	}
}

// CreateAgentRequest represents a request to list a new agent
type CreateAgentRequest struct {
	Name             string                 `json:"name" binding:"required,max=200"`
	Description      string                 `json:"description" binding:"required"`
	ShortDescription string                 `json:"short_description" binding:"required,max=500"`
	Category         models.AgentCategory   `json:"category" binding:"required"`
	Tags             []string               `json:"tags,omitempty"`
	PricingModel     models.PricingModel    `json:"pricing_model" binding:"required"`
	Price            decimal.Decimal        `json:"price"`
	UsagePrice       *decimal.Decimal       `json:"usage_price,omitempty"`
	FreeTierLimit    int                    `json:"free_tier_limit"`
	APIEndpoint      string                 `json:"api_endpoint,omitempty"`
	DocumentationURL string                 `json:"documentation_url,omitempty"`
	GithubURL        string                 `json:"github_url,omitempty"`
	IntegrationType  models.IntegrationType `json:"integration_type,omitempty"`
	Requirements     map[string]any         `json:"requirements,omitempty"`
	SandboxAvailable bool                   `json:"sandbox_available"`
	SandboxURL       string                 `json:"sandbox_url,omitempty"`
	DemoURL          string                 `json:"demo_url,omitempty"`
	TestAPIKey       string                 `json:"test_api_key,omitempty"`
	RateLimit        *int                   `json:"rate_limit,omitempty"`
	Logo             string                 `json:"logo,omitempty"`
	Screenshots      []string               `json:"screenshots,omitempty"`
	VideoURL         string                 `json:"video_url,omitempty"`
	IsActive         *bool                  `json:"is_active,omitempty"`
}

// UpdateAgentRequest represents a partial edit by the owner.
// Slug, trust attributes and rating aggregates cannot be set here.
type UpdateAgentRequest struct {
	Name                *string                 `json:"name,omitempty"`
	Description         *string                 `json:"description,omitempty"`
	ShortDescription    *string                 `json:"short_description,omitempty"`
	Category            *models.AgentCategory   `json:"category,omitempty"`
	Tags                []string                `json:"tags,omitempty"`
	PricingModel        *models.PricingModel    `json:"pricing_model,omitempty"`
	Price               *decimal.Decimal        `json:"price,omitempty"`
	UsagePrice          *decimal.Decimal        `json:"usage_price,omitempty"`
	FreeTierLimit       *int                    `json:"free_tier_limit,omitempty"`
	APIEndpoint         *string                 `json:"api_endpoint,omitempty"`
	DocumentationURL    *string                 `json:"documentation_url,omitempty"`
	GithubURL           *string                 `json:"github_url,omitempty"`
	IntegrationType     *models.IntegrationType `json:"integration_type,omitempty"`
	Requirements        map[string]any          `json:"requirements,omitempty"`
	SandboxAvailable    *bool                   `json:"sandbox_available,omitempty"`
	SandboxURL          *string                 `json:"sandbox_url,omitempty"`
	DemoURL             *string                 `json:"demo_url,omitempty"`
	TestAPIKey          *string                 `json:"test_api_key,omitempty"`
	AverageResponseTime *float64                `json:"average_response_time,omitempty"`
	UptimePercentage    *decimal.Decimal        `json:"uptime_percentage,omitempty"`
	RateLimit           *int                    `json:"rate_limit,omitempty"`
	Logo                *string                 `json:"logo,omitempty"`
	Screenshots         []string                `json:"screenshots,omitempty"`
	VideoURL            *string                 `json:"video_url,omitempty"`
	IsActive            *bool                   `json:"is_active,omitempty"`
}

// StatusRequest represents an admin change of listing flags
type StatusRequest struct {
	IsActive    *bool `json:"is_active,omitempty"`
	IsFeatured  *bool `json:"is_featured,omitempty"`
	IsVerified  *bool `json:"is_verified,omitempty"`
	UnderReview *bool `json:"under_review,omitempty"`
}

// TrustAttributesRequest represents an admin change of the inputs to trust scoring
type TrustAttributesRequest struct {
	RiskRating               *int       `json:"risk_rating,omitempty"`
	TestedByPlatform         *bool      `json:"tested_by_platform,omitempty"`
	SecurityAuditDate        *time.Time `json:"security_audit_date,omitempty"`
	ClearSecurityAudit       bool       `json:"clear_security_audit,omitempty"`
	ComplianceCertifications []string   `json:"compliance_certifications,omitempty"`
}

// AgentResponse is an agent with its derived read-only metrics
type AgentResponse struct {
	models.Agent
	TrustScore     int             `json:"trust_score"`
	MonthlyRevenue decimal.Decimal `json:"monthly_revenue"`
	PricingDisplay string          `json:"pricing_display"`
	RatingStars    string          `json:"rating_stars"`
}

// ListAgentsResponse represents a paginated list of agents
type ListAgentsResponse struct {
	Agents     []AgentResponse `json:"agents"`
	Total      int64           `json:"total"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	TotalPages int             `json:"total_pages"`
}

// NewAgentResponse attaches derived metrics. Private fields are dropped unless includePrivate.
func NewAgentResponse(a *models.Agent, includePrivate bool) AgentResponse {
	resp := AgentResponse{
		Agent:          *a,
		TrustScore:     a.TrustScore(),
		MonthlyRevenue: a.MonthlyRevenue(),
		PricingDisplay: a.PricingDisplay(),
		RatingStars:    a.RatingStars(),
	}
	if !includePrivate {
		resp.TestAPIKey = ""
	}
	return resp
}

// Create lists a new agent owned by developerID. The slug is derived from
// the name and made unique with the lowest free numeric suffix.
func (s *Service) Create(ctx context.Context, developerID uuid.UUID, req *CreateAgentRequest) (*AgentResponse, error) {
	now := s.now()
	a := &models.Agent{
		ID:                       uuid.New(),
		DeveloperID:              developerID,
		Name:                     strings.TrimSpace(req.Name),
		Description:              req.Description,
		ShortDescription:         req.ShortDescription,
		Category:                 req.Category,
		Tags:                     nonNil(req.Tags),
		PricingModel:             req.PricingModel,
		Price:                    req.Price,
		UsagePrice:               req.UsagePrice,
		FreeTierLimit:            req.FreeTierLimit,
		APIEndpoint:              req.APIEndpoint,
		DocumentationURL:         req.DocumentationURL,
		GithubURL:                req.GithubURL,
		IntegrationType:          req.IntegrationType,
		Requirements:             requirements(req.Requirements),
		SandboxAvailable:         req.SandboxAvailable,
		SandboxURL:               req.SandboxURL,
		DemoURL:                  req.DemoURL,
		TestAPIKey:               req.TestAPIKey,
		RiskRating:               models.DefaultRiskRating,
		ComplianceCertifications: []string{},
		UptimePercentage:         models.DefaultUptime,
		RateLimit:                models.DefaultRateLimit,
		AverageRating:            decimal.Zero,
		Logo:                     req.Logo,
		Screenshots:              nonNil(req.Screenshots),
		VideoURL:                 req.VideoURL,
		IsActive:                 true,
		UnderReview:              true,
	}
	if a.IntegrationType == "" {
		a.IntegrationType = models.IntegrationAPI
	}
	if req.RateLimit != nil {
		a.RateLimit = *req.RateLimit
	}
	if req.IsActive != nil {
		a.IsActive = *req.IsActive
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	a.ApplyPublishRule(now)

	err := database.InTx(ctx, s.db, func(tx pgx.Tx) error {
		var userType models.UserType
		var active bool
		err := tx.QueryRow(ctx, `SELECT user_type, is_active FROM users WHERE id = $1`, developerID).
			Scan(&userType, &active)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return account.ErrUserNotFound
			}
			return fmt.Errorf("failed to load developer: %w", err)
		}
		if userType != models.UserTypeDeveloper || !active {
			return ErrNotDeveloper
		}

		a.Slug, err = allocateSlug(ctx, tx, models.Slugify(a.Name))
		if err != nil {
			return err
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO agents (id, developer_id, name, slug, description, short_description,
				category, tags, pricing_model, price, usage_price, free_tier_limit, api_endpoint,
				documentation_url, github_url, integration_type, requirements, sandbox_available,
				sandbox_url, demo_url, test_api_key, risk_rating, compliance_certifications,
				uptime_percentage, rate_limit, logo, screenshots, video_url, is_active,
				under_review, published_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
				$18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31)
			RETURNING created_at, updated_at
		`, a.ID, a.DeveloperID, a.Name, a.Slug, a.Description, a.ShortDescription,
			a.Category, a.Tags, a.PricingModel, a.Price, a.UsagePrice, a.FreeTierLimit, a.APIEndpoint,
			a.DocumentationURL, a.GithubURL, a.IntegrationType, a.Requirements, a.SandboxAvailable,
			a.SandboxURL, a.DemoURL, a.TestAPIKey, a.RiskRating, a.ComplianceCertifications,
			a.UptimePercentage, a.RateLimit, a.Logo, a.Screenshots, a.VideoURL, a.IsActive,
			a.UnderReview, a.PublishedAt,
		).Scan(&a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert agent: %w", err)
		}

		return syncDeveloperAgentCount(ctx, tx, developerID)
	})
	if err != nil {
		return nil, err
	}

	monitoring.RecordAgentCreated()
	if a.PublishedAt != nil {
		monitoring.RecordAgentPublished()
	}
	s.log.Info().
		Str("agent_id", a.ID.String()).
		Str("slug", a.Slug).
		Str("developer_id", developerID.String()).
		Msg("Agent created")

	resp := NewAgentResponse(a, true)
	return &resp, nil
}

// Get loads any agent by id, including inactive ones
func (s *Service) Get(ctx context.Context, agentID uuid.UUID) (*models.Agent, error) {
	return loadAgent(ctx, s.db, agentID, false)
}

// GetBySlug returns the public view of an active agent, read through the cache
func (s *Service) GetBySlug(ctx context.Context, slug string) (*AgentResponse, error) {
	key := cache.AgentKey(slug)
	var cached AgentResponse
	if s.cache.GetJSON(ctx, cache.TypeAgent, key, &cached) {
		return &cached, nil
	}

	a, err := scanAgent(s.db.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents a WHERE a.slug = $1 AND a.is_active`, slug))
	if err != nil {
		return nil, err
	}

	resp := NewAgentResponse(a, false)
	s.cache.SetJSON(ctx, key, resp)
	return &resp, nil
}

// Update applies an owner's partial edit
func (s *Service) Update(ctx context.Context, agentID, developerID uuid.UUID, req *UpdateAgentRequest) (*AgentResponse, error) {
	var a *models.Agent
	var published bool
	err := database.InTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		a, err = loadOwnedAgent(ctx, tx, agentID, developerID)
		if err != nil {
			return err
		}

		applyUpdate(a, req)
		if err := a.Validate(); err != nil {
			return err
		}
		published = a.PublishedAt == nil
		a.ApplyPublishRule(s.now())
		published = published && a.PublishedAt != nil

		return saveAgent(ctx, tx, a)
	})
	if err != nil {
		return nil, err
	}

	if published {
		monitoring.RecordAgentPublished()
	}
	s.invalidate(ctx, a.Slug)
	resp := NewAgentResponse(a, true)
	return &resp, nil
}

func applyUpdate(a *models.Agent, req *UpdateAgentRequest) {
	setString(&a.Name, req.Name)
	setString(&a.Description, req.Description)
	setString(&a.ShortDescription, req.ShortDescription)
	if req.Category != nil {
		a.Category = *req.Category
	}
	if req.Tags != nil {
		a.Tags = req.Tags
	}
	if req.PricingModel != nil {
		a.PricingModel = *req.PricingModel
	}
	if req.Price != nil {
		a.Price = *req.Price
	}
	if req.UsagePrice != nil {
		a.UsagePrice = req.UsagePrice
	}
	if req.FreeTierLimit != nil {
		a.FreeTierLimit = *req.FreeTierLimit
	}
	setString(&a.APIEndpoint, req.APIEndpoint)
	setString(&a.DocumentationURL, req.DocumentationURL)
	setString(&a.GithubURL, req.GithubURL)
	if req.IntegrationType != nil {
		a.IntegrationType = *req.IntegrationType
	}
	if req.Requirements != nil {
		a.Requirements = req.Requirements
	}
	if req.SandboxAvailable != nil {
		a.SandboxAvailable = *req.SandboxAvailable
	}
	setString(&a.SandboxURL, req.SandboxURL)
	setString(&a.DemoURL, req.DemoURL)
	setString(&a.TestAPIKey, req.TestAPIKey)
	if req.AverageResponseTime != nil {
		a.AverageResponseTime = req.AverageResponseTime
	}
	if req.UptimePercentage != nil {
		a.UptimePercentage = *req.UptimePercentage
	}
	if req.RateLimit != nil {
		a.RateLimit = *req.RateLimit
	}
	setString(&a.Logo, req.Logo)
	if req.Screenshots != nil {
		a.Screenshots = req.Screenshots
	}
	setString(&a.VideoURL, req.VideoURL)
	if req.IsActive != nil {
		a.IsActive = *req.IsActive
	}
}

// SetStatus changes listing flags. Activating an unpublished agent publishes it.
func (s *Service) SetStatus(ctx context.Context, agentID uuid.UUID, req *StatusRequest) (*AgentResponse, error) {
	var a *models.Agent
	var published bool
	err := database.InTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		a, err = loadAgent(ctx, tx, agentID, true)
		if err != nil {
			return err
		}

		setBool(&a.IsActive, req.IsActive)
		setBool(&a.IsFeatured, req.IsFeatured)
		setBool(&a.IsVerified, req.IsVerified)
		setBool(&a.UnderReview, req.UnderReview)

		published = a.PublishedAt == nil
		a.ApplyPublishRule(s.now())
		published = published && a.PublishedAt != nil

		return saveAgent(ctx, tx, a)
	})
	if err != nil {
		return nil, err
	}

	if published {
		monitoring.RecordAgentPublished()
	}
	s.invalidate(ctx, a.Slug)
	resp := NewAgentResponse(a, true)
	return &resp, nil
}

// SetTrustAttributes changes the agent's trust inputs and recomputes the
// owning developer's trust score in the same transaction.
func (s *Service) SetTrustAttributes(ctx context.Context, agentID uuid.UUID, req *TrustAttributesRequest) (*AgentResponse, error) {
	var a *models.Agent
	err := database.InTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		a, err = loadAgent(ctx, tx, agentID, true)
		if err != nil {
			return err
		}

		if req.RiskRating != nil {
			a.RiskRating = *req.RiskRating
		}
		setBool(&a.TestedByPlatform, req.TestedByPlatform)
		if req.ClearSecurityAudit {
			a.SecurityAuditDate = nil
		} else if req.SecurityAuditDate != nil {
			d := req.SecurityAuditDate.UTC().Truncate(24 * time.Hour)
			a.SecurityAuditDate = &d
		}
		if req.ComplianceCertifications != nil {
			a.ComplianceCertifications = req.ComplianceCertifications
		}
		if err := a.Validate(); err != nil {
			return err
		}

		if err := saveAgent(ctx, tx, a); err != nil {
			return err
		}
		if err := syncDeveloperAgentCount(ctx, tx, a.DeveloperID); err != nil {
			return err
		}
		_, err = account.RecomputeTrustTx(ctx, tx, a.DeveloperID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, a.Slug)
	resp := NewAgentResponse(a, true)
	return &resp, nil
}

// RecordUsage adds API calls to the agent's usage counter
func (s *Service) RecordUsage(ctx context.Context, agentID uuid.UUID, calls int64) error {
	if calls <= 0 {
		return apierrors.NewFieldError("calls", "must be positive")
	}

	var slug string
	err := s.db.QueryRow(ctx, `
		UPDATE agents SET total_api_calls = total_api_calls + $2
		WHERE id = $1
		RETURNING slug
	`, agentID, calls).Scan(&slug)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAgentNotFound
		}
		return fmt.Errorf("failed to record usage: %w", err)
	}

	monitoring.RecordAPICalls(calls)
	s.invalidate(ctx, slug)
	return nil
}

// InvalidateCache drops the cached public view of the agent
func (s *Service) InvalidateCache(ctx context.Context, agentID uuid.UUID) {
	var slug string
	if err := s.db.QueryRow(ctx, `SELECT slug FROM agents WHERE id = $1`, agentID).Scan(&slug); err != nil {
		return
	}
	s.invalidate(ctx, slug)
}

func (s *Service) invalidate(ctx context.Context, slug string) {
	s.cache.Delete(ctx, cache.AgentKey(slug))
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
