package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/autra-ai/marketplace/internal/database"
	"github.com/autra-ai/marketplace/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const agentColumns = `a.id, a.developer_id, a.name, a.slug, a.description, a.short_description,
	a.category, a.tags, a.pricing_model, a.price, a.usage_price, a.free_tier_limit,
	a.api_endpoint, a.documentation_url, a.github_url, a.integration_type, a.requirements,
	a.sandbox_available, a.sandbox_url, a.demo_url, a.test_api_key, a.risk_rating,
	a.tested_by_platform, a.security_audit_date, a.compliance_certifications,
	a.average_response_time, a.uptime_percentage, a.rate_limit, a.times_hired,
	a.total_api_calls, a.active_subscriptions, a.average_rating, a.total_reviews, a.logo,
	a.screenshots, a.video_url, a.is_active, a.is_featured, a.is_verified, a.under_review,
	a.created_at, a.updated_at, a.published_at`

func scanAgent(row pgx.Row) (*models.Agent, error) {
	var a models.Agent
	err := row.Scan(
		&a.ID, &a.DeveloperID, &a.Name, &a.Slug, &a.Description, &a.ShortDescription,
		&a.Category, &a.Tags, &a.PricingModel, &a.Price, &a.UsagePrice, &a.FreeTierLimit,
		&a.APIEndpoint, &a.DocumentationURL, &a.GithubURL, &a.IntegrationType, &a.Requirements,
		&a.SandboxAvailable, &a.SandboxURL, &a.DemoURL, &a.TestAPIKey, &a.RiskRating,
		&a.TestedByPlatform, &a.SecurityAuditDate, &a.ComplianceCertifications,
		&a.AverageResponseTime, &a.UptimePercentage, &a.RateLimit, &a.TimesHired,
		&a.TotalAPICalls, &a.ActiveSubscriptions, &a.AverageRating, &a.TotalReviews, &a.Logo,
		&a.Screenshots, &a.VideoURL, &a.IsActive, &a.IsFeatured, &a.IsVerified, &a.UnderReview,
		&a.CreatedAt, &a.UpdatedAt, &a.PublishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("failed to scan agent: %w", err)
	}
	return &a, nil
}

func loadAgent(ctx context.Context, q database.Querier, agentID uuid.UUID, lock bool) (*models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents a WHERE a.id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	return scanAgent(q.QueryRow(ctx, query, agentID))
}

// loadOwnedAgent locks the agent and checks that developerID owns it
func loadOwnedAgent(ctx context.Context, tx pgx.Tx, agentID, developerID uuid.UUID) (*models.Agent, error) {
	a, err := loadAgent(ctx, tx, agentID, true)
	if err != nil {
		return nil, err
	}
	if a.DeveloperID != developerID {
		return nil, ErrAgentNotOwned
	}
	return a, nil
}

// allocateSlug picks the lowest free slug for base among existing rows.
// Inside a transaction the advisory lock serialises creators of the same base
// until commit.
func allocateSlug(ctx context.Context, q database.Querier, base string) (string, error) {
	if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "agent-slug:"+base); err != nil {
		return "", fmt.Errorf("failed to lock slug: %w", err)
	}

	like := strings.ReplaceAll(base, "_", `\_`) + "-%"
	rows, err := q.Query(ctx, `SELECT slug FROM agents WHERE slug = $1 OR slug LIKE $2`, base, like)
	if err != nil {
		return "", fmt.Errorf("failed to list slugs: %w", err)
	}
	defer rows.Close()

	var taken []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return "", fmt.Errorf("failed to scan slug: %w", err)
		}
		taken = append(taken, s)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to list slugs: %w", err)
	}
	return models.NextFreeSlug(base, taken), nil
}

// syncDeveloperAgentCount keeps developer_profiles.total_agents equal to the owned-agent count
func syncDeveloperAgentCount(ctx context.Context, tx pgx.Tx, developerID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE developer_profiles
		SET total_agents = (SELECT COUNT(*) FROM agents WHERE developer_id = $1)
		WHERE user_id = $1
	`, developerID)
	if err != nil {
		return fmt.Errorf("failed to update developer agent count: %w", err)
	}
	return nil
}

// saveAgent writes every field an owner or admin may change. Slug, counters
// and rating aggregates are not written here.
func saveAgent(ctx context.Context, tx pgx.Tx, a *models.Agent) error {
	err := tx.QueryRow(ctx, `
		UPDATE agents SET
			name = $2, description = $3, short_description = $4, category = $5, tags = $6,
			pricing_model = $7, price = $8, usage_price = $9, free_tier_limit = $10,
			api_endpoint = $11, documentation_url = $12, github_url = $13, integration_type = $14,
			requirements = $15, sandbox_available = $16, sandbox_url = $17, demo_url = $18,
			test_api_key = $19, risk_rating = $20, tested_by_platform = $21,
			security_audit_date = $22, compliance_certifications = $23,
			average_response_time = $24, uptime_percentage = $25, rate_limit = $26,
			logo = $27, screenshots = $28, video_url = $29, is_active = $30, is_featured = $31,
			is_verified = $32, under_review = $33, published_at = $34
		WHERE id = $1
		RETURNING updated_at
	`, a.ID,
		a.Name, a.Description, a.ShortDescription, a.Category, nonNil(a.Tags),
		a.PricingModel, a.Price, a.UsagePrice, a.FreeTierLimit,
		a.APIEndpoint, a.DocumentationURL, a.GithubURL, a.IntegrationType,
		requirements(a.Requirements), a.SandboxAvailable, a.SandboxURL, a.DemoURL,
		a.TestAPIKey, a.RiskRating, a.TestedByPlatform,
		a.SecurityAuditDate, nonNil(a.ComplianceCertifications),
		a.AverageResponseTime, a.UptimePercentage, a.RateLimit,
		a.Logo, nonNil(a.Screenshots), a.VideoURL, a.IsActive, a.IsFeatured,
		a.IsVerified, a.UnderReview, a.PublishedAt,
	).Scan(&a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update agent: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func requirements(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
