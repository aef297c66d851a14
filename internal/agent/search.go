package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/autra-ai/marketplace/internal/database"
	"github.com/autra-ai/marketplace/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ordering of search results
const (
	OrderNewest  = "newest"
	OrderRating  = "rating"
	OrderPopular = "popular"
)

var orderClauses = map[string]string{
	OrderNewest:  "a.created_at DESC",
	OrderRating:  "a.average_rating DESC, a.times_hired DESC, a.created_at DESC",
	OrderPopular: "a.times_hired DESC, a.active_subscriptions DESC, a.created_at DESC",
}

// AgentFilter narrows a catalog search
type AgentFilter struct {
	Category         models.AgentCategory `form:"category"`
	PricingModel     models.PricingModel  `form:"pricing_model"`
	IsActive         *bool                `form:"is_active"`
	IsFeatured       *bool                `form:"is_featured"`
	IsVerified       *bool                `form:"is_verified"`
	TestedByPlatform *bool                `form:"tested_by_platform"`
	RiskRating       *int                 `form:"risk_rating"`
	DeveloperID      *uuid.UUID           `form:"-"`
	MinRating        *decimal.Decimal     `form:"-"`
	Tag              string               `form:"tag"`
	CreatedFrom      *time.Time           `form:"created_from" time_format:"2006-01-02"`
	CreatedTo        *time.Time           `form:"created_to" time_format:"2006-01-02"`
	Query            string               `form:"q"`
	OrderBy          string               `form:"order_by"`
	database.Page
}

// Search lists agents matching the filter
func (s *Service) Search(ctx context.Context, f AgentFilter) (*ListAgentsResponse, error) {
	page := f.Page.Normalize()

	var w database.Where
	if f.Category != "" {
		w.Add("a.category = ?", f.Category)
	}
	if f.PricingModel != "" {
		w.Add("a.pricing_model = ?", f.PricingModel)
	}
	if f.IsActive != nil {
		w.Add("a.is_active = ?", *f.IsActive)
	}
	if f.IsFeatured != nil {
		w.Add("a.is_featured = ?", *f.IsFeatured)
	}
	if f.IsVerified != nil {
		w.Add("a.is_verified = ?", *f.IsVerified)
	}
	if f.TestedByPlatform != nil {
		w.Add("a.tested_by_platform = ?", *f.TestedByPlatform)
	}
	if f.RiskRating != nil {
		w.Add("a.risk_rating = ?", *f.RiskRating)
	}
	if f.DeveloperID != nil {
		w.Add("a.developer_id = ?", *f.DeveloperID)
	}
	if f.MinRating != nil {
		w.Add("a.average_rating >= ?", *f.MinRating)
	}
	if tag := strings.TrimSpace(f.Tag); tag != "" {
		w.Add("? = ANY(a.tags)", tag)
	}
	if f.CreatedFrom != nil {
		w.Add("a.created_at >= ?", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		w.Add("a.created_at < ?", f.CreatedTo.AddDate(0, 0, 1))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		p := database.LikePattern(q)
		w.Add(`(a.name ILIKE ? OR a.description ILIKE ? OR u.username ILIKE ?
			OR COALESCE(bp.company_name, '') ILIKE ?)`, p, p, p, p)
	}

	order, ok := orderClauses[f.OrderBy]
	if !ok {
		order = orderClauses[OrderNewest]
	}

	from := ` FROM agents a
		JOIN users u ON u.id = a.developer_id
		LEFT JOIN business_profiles bp ON bp.user_id = u.id` + w.SQL()

	var total int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*)`+from, w.Args()...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count agents: %w", err)
	}

	query := `SELECT ` + agentColumns + from + ` ORDER BY ` + order +
		` LIMIT ` + w.Arg(page.PageSize) + ` OFFSET ` + w.Arg(page.Offset())
	rows, err := s.db.Query(ctx, query, w.Args()...)
	if err != nil {
		return nil, fmt.Errorf("failed to search agents: %w", err)
	}
	defer rows.Close()

	agents := []AgentResponse{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, NewAgentResponse(a, false))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agents: %w", err)
	}

	return &ListAgentsResponse{
		Agents:     agents,
		Total:      total,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalPages: page.TotalPages(total),
	}, nil
}
