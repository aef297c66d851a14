package review

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/autra-ai/marketplace/internal/database"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ReviewFilter narrows a moderation listing
type ReviewFilter struct {
	AgentID          *uuid.UUID `form:"-"`
	Rating           *int       `form:"rating"`
	VerifiedPurchase *bool      `form:"verified_purchase"`
	Reported         *bool      `form:"reported"`
	CreatedFrom      *time.Time `form:"created_from" time_format:"2006-01-02"`
	CreatedTo        *time.Time `form:"created_to" time_format:"2006-01-02"`
	Query            string     `form:"q"`
	database.Page
}

// ReviewItem is a review with the names shown in listings
type ReviewItem struct {
	ID               uuid.UUID `json:"id"`
	AgentID          uuid.UUID `json:"agent_id"`
	AgentName        string    `json:"agent_name"`
	ReviewerID       uuid.UUID `json:"reviewer_id"`
	ReviewerUsername string    `json:"reviewer_username"`
	Rating           int       `json:"rating"`
	Stars            string    `json:"stars"`
	Title            string    `json:"title"`
	Comment          string    `json:"comment"`
	EaseOfUse        *int      `json:"ease_of_use,omitempty"`
	Reliability      *int      `json:"reliability,omitempty"`
	Support          *int      `json:"support,omitempty"`
	ValueForMoney    *int      `json:"value_for_money,omitempty"`
	VerifiedPurchase bool      `json:"verified_purchase"`
	HelpfulCount     int       `json:"helpful_count"`
	Reported         bool      `json:"reported"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ListReviewsResponse represents a paginated list of reviews
type ListReviewsResponse struct {
	Reviews    []ReviewItem `json:"reviews"`
	Total      int64        `json:"total"`
	Page       int          `json:"page"`
	PageSize   int          `json:"page_size"`
	TotalPages int          `json:"total_pages"`
}

// ListForAgent returns an agent's reviews, most helpful first
func (s *Service) ListForAgent(ctx context.Context, agentID uuid.UUID, page database.Page) (*ListReviewsResponse, error) {
	return s.list(ctx, ReviewFilter{AgentID: &agentID, Page: page}, "r.helpful_count DESC, r.created_at DESC")
}

// Search returns reviews matching the filter, newest first
func (s *Service) Search(ctx context.Context, f ReviewFilter) (*ListReviewsResponse, error) {
	return s.list(ctx, f, "r.created_at DESC")
}

func (s *Service) list(ctx context.Context, f ReviewFilter, orderBy string) (*ListReviewsResponse, error) {
	page := f.Page.Normalize()

	var w database.Where
	if f.AgentID != nil {
		w.Add("r.agent_id = ?", *f.AgentID)
	}
	if f.Rating != nil {
		w.Add("r.rating = ?", *f.Rating)
	}
	if f.VerifiedPurchase != nil {
		w.Add("r.verified_purchase = ?", *f.VerifiedPurchase)
	}
	if f.Reported != nil {
		w.Add("r.reported = ?", *f.Reported)
	}
	if f.CreatedFrom != nil {
		w.Add("r.created_at >= ?", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		w.Add("r.created_at < ?", f.CreatedTo.AddDate(0, 0, 1))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		p := database.LikePattern(q)
		w.Add("(a.name ILIKE ? OR u.username ILIKE ? OR r.title ILIKE ? OR r.comment ILIKE ?)", p, p, p, p)
	}

	from := ` FROM reviews r
		JOIN agents a ON a.id = r.agent_id
		JOIN users u ON u.id = r.reviewer_id` + w.SQL()

	var total int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*)`+from, w.Args()...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count reviews: %w", err)
	}

	query := `SELECT ` + reviewColumns + `, a.name, u.username` + from +
		` ORDER BY ` + orderBy + ` LIMIT ` + w.Arg(page.PageSize) + ` OFFSET ` + w.Arg(page.Offset())
	rows, err := s.db.Query(ctx, query, w.Args()...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}

	return &ListReviewsResponse{
		Reviews:    items,
		Total:      total,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalPages: page.TotalPages(total),
	}, nil
}

func scanItems(rows pgx.Rows) ([]ReviewItem, error) {
	items := []ReviewItem{}
	for rows.Next() {
		var agentName, username string
		r, err := scanReview(rows, &agentName, &username)
		if err != nil {
			return nil, err
		}
		items = append(items, ReviewItem{
			ID:               r.ID,
			AgentID:          r.AgentID,
			AgentName:        agentName,
			ReviewerID:       r.ReviewerID,
			ReviewerUsername: username,
			Rating:           r.Rating,
			Stars:            r.Stars(),
			Title:            r.Title,
			Comment:          r.Comment,
			EaseOfUse:        r.EaseOfUse,
			Reliability:      r.Reliability,
			Support:          r.Support,
			ValueForMoney:    r.ValueForMoney,
			VerifiedPurchase: r.VerifiedPurchase,
			HelpfulCount:     r.HelpfulCount,
			Reported:         r.Reported,
			CreatedAt:        r.CreatedAt,
			UpdatedAt:        r.UpdatedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reviews: %w", err)
	}
	return items, nil
}
