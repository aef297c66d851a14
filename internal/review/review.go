// Package review manages agent reviews. Every mutation that can change an
// agent's rating recomputes average_rating and total_reviews in the same
// database transaction, under a row lock on the agent.
package review

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/autra-ai/marketplace/internal/account"
	"github.com/autra-ai/marketplace/internal/agent"
	"github.com/autra-ai/marketplace/internal/cache"
	"github.com/autra-ai/marketplace/internal/database"
	apierrors "github.com/autra-ai/marketplace/internal/errors"
	"github.com/autra-ai/marketplace/internal/logging"
	"github.com/autra-ai/marketplace/internal/models"
	"github.com/autra-ai/marketplace/internal/monitoring"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Service errors
var (
	ErrReviewNotFound = errors.New("review not found")
	ErrNotReviewer    = errors.New("review not written by user")
)

// Review actions used for metrics and logs
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
	ActionHelpful = "helpful"
	ActionReport  = "reported"
)

// Service handles review operations
type Service struct {
	db    *pgxpool.Pool
	cache *cache.Redis
}

// NewService creates a new review service
func NewService(db *pgxpool.Pool, c *cache.Redis) *Service {
	return &Service{db: db, cache: c}
}

// SubmitReviewRequest represents a new review
type SubmitReviewRequest struct {
	AgentID       uuid.UUID `json:"agent_id" binding:"required"`
	Rating        int       `json:"rating" binding:"required"`
	Title         string    `json:"title" binding:"required,max=200"`
	Comment       string    `json:"comment" binding:"required"`
	EaseOfUse     *int      `json:"ease_of_use,omitempty"`
	Reliability   *int      `json:"reliability,omitempty"`
	Support       *int      `json:"support,omitempty"`
	ValueForMoney *int      `json:"value_for_money,omitempty"`
}

// UpdateReviewRequest represents a partial edit by the reviewer
type UpdateReviewRequest struct {
	Rating        *int    `json:"rating,omitempty"`
	Title         *string `json:"title,omitempty"`
	Comment       *string `json:"comment,omitempty"`
	EaseOfUse     *int    `json:"ease_of_use,omitempty"`
	Reliability   *int    `json:"reliability,omitempty"`
	Support       *int    `json:"support,omitempty"`
	ValueForMoney *int    `json:"value_for_money,omitempty"`
}

// Rating is an agent's aggregate after a review mutation
type Rating struct {
	AgentID       uuid.UUID       `json:"agent_id"`
	AverageRating decimal.Decimal `json:"average_rating"`
	TotalReviews  int             `json:"total_reviews"`
}

const reviewColumns = `r.id, r.agent_id, r.reviewer_id, r.rating, r.title, r.comment, r.ease_of_use,
	r.reliability, r.support, r.value_for_money, r.verified_purchase, r.helpful_count, r.reported,
	r.created_at, r.updated_at`

func scanReview(row pgx.Row, extra ...any) (*models.Review, error) {
	var r models.Review
	dest := []any{
		&r.ID, &r.AgentID, &r.ReviewerID, &r.Rating, &r.Title, &r.Comment, &r.EaseOfUse,
		&r.Reliability, &r.Support, &r.ValueForMoney, &r.VerifiedPurchase, &r.HelpfulCount, &r.Reported,
		&r.CreatedAt, &r.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReviewNotFound
		}
		return nil, fmt.Errorf("failed to scan review: %w", err)
	}
	return &r, nil
}

// lockAgent holds the agent row until the transaction ends and returns its owner and slug
func lockAgent(ctx context.Context, tx pgx.Tx, agentID uuid.UUID) (developerID uuid.UUID, slug string, err error) {
	err = tx.QueryRow(ctx, `SELECT developer_id, slug FROM agents WHERE id = $1 FOR UPDATE`, agentID).
		Scan(&developerID, &slug)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, "", agent.ErrAgentNotFound
	}
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("failed to lock agent: %w", err)
	}
	return developerID, slug, nil
}

// aggregate writes the agent's rating mean (2dp, 0 when none) and review
// count in a single statement. The caller must hold the agent lock.
func aggregate(ctx context.Context, tx pgx.Tx, agentID uuid.UUID) (*Rating, error) {
	r := &Rating{AgentID: agentID}
	err := tx.QueryRow(ctx, `
		UPDATE agents SET (average_rating, total_reviews) = (
			SELECT COALESCE(ROUND(AVG(rating)::numeric, 2), 0), COUNT(*)
			FROM reviews WHERE agent_id = $1
		)
		WHERE id = $1
		RETURNING average_rating, total_reviews
	`, agentID).Scan(&r.AverageRating, &r.TotalReviews)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate ratings: %w", err)
	}
	return r, nil
}

// Submit records a review and refreshes the agent's rating.
// A reviewer may review each agent once and never their own agent.
func (s *Service) Submit(ctx context.Context, reviewerID uuid.UUID, req *SubmitReviewRequest) (*models.Review, *Rating, error) {
	r := &models.Review{
		ID:            uuid.New(),
		AgentID:       req.AgentID,
		ReviewerID:    reviewerID,
		Rating:        req.Rating,
		Title:         strings.TrimSpace(req.Title),
		Comment:       req.Comment,
		EaseOfUse:     req.EaseOfUse,
		Reliability:   req.Reliability,
		Support:       req.Support,
		ValueForMoney: req.ValueForMoney,
	}
	if err := r.Validate(); err != nil {
		return nil, nil, err
	}

	var (
		rating *Rating
		slug   string
	)
	err := database.InTx(ctx, s.db, func(tx pgx.Tx) error {
		developerID, agentSlug, err := lockAgent(ctx, tx, r.AgentID)
		if err != nil {
			return err
		}
		slug = agentSlug
		if developerID == reviewerID {
			return apierrors.NewFieldError("agent_id", "you cannot review your own agent")
		}

		var exists, duplicate bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM users WHERE id = $1),
				EXISTS (SELECT 1 FROM reviews WHERE agent_id = $2 AND reviewer_id = $1)
		`, reviewerID, r.AgentID).Scan(&exists, &duplicate)
		if err != nil {
			return fmt.Errorf("failed to check reviewer: %w", err)
		}
		if !exists {
			return account.ErrUserNotFound
		}
		if duplicate {
			return apierrors.NewFieldError("agent_id", "you have already reviewed this agent")
		}

		err = tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM transactions
				WHERE agent_id = $1 AND buyer_id = $2 AND status = $3
			)
		`, r.AgentID, reviewerID, models.TransactionStatusCompleted).Scan(&r.VerifiedPurchase)
		if err != nil {
			return fmt.Errorf("failed to check purchase: %w", err)
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO reviews (id, agent_id, reviewer_id, rating, title, comment, ease_of_use,
				reliability, support, value_for_money, verified_purchase)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING created_at, updated_at
		`, r.ID, r.AgentID, r.ReviewerID, r.Rating, r.Title, r.Comment, r.EaseOfUse,
			r.Reliability, r.Support, r.ValueForMoney, r.VerifiedPurchase,
		).Scan(&r.CreatedAt, &r.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert review: %w", err)
		}

		rating, err = aggregate(ctx, tx, r.AgentID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.afterRatingChange(ctx, ActionCreated, r.ID, slug, rating)
	return r, rating, nil
}

// Update applies the reviewer's edit. The agent's rating is refreshed only
// when the star rating changes.
func (s *Service) Update(ctx context.Context, reviewID, reviewerID uuid.UUID, req *UpdateReviewRequest) (*models.Review, error) {
	agentID, err := s.agentOf(ctx, reviewID)
	if err != nil {
		return nil, err
	}

	var (
		r      *models.Review
		rating *Rating
		slug   string
	)
	err = database.InTx(ctx, s.db, func(tx pgx.Tx) error {
		_, agentSlug, err := lockAgent(ctx, tx, agentID)
		if err != nil {
			return err
		}
		slug = agentSlug

		r, err = scanReview(tx.QueryRow(ctx, `SELECT `+reviewColumns+` FROM reviews r WHERE r.id = $1 FOR UPDATE`, reviewID))
		if err != nil {
			return err
		}
		if r.ReviewerID != reviewerID {
			return ErrNotReviewer
		}

		previous := r.Rating
		if req.Rating != nil {
			r.Rating = *req.Rating
		}
		if req.Title != nil {
			r.Title = strings.TrimSpace(*req.Title)
		}
		if req.Comment != nil {
			r.Comment = *req.Comment
		}
		if req.EaseOfUse != nil {
			r.EaseOfUse = req.EaseOfUse
		}
		if req.Reliability != nil {
			r.Reliability = req.Reliability
		}
		if req.Support != nil {
			r.Support = req.Support
		}
		if req.ValueForMoney != nil {
			r.ValueForMoney = req.ValueForMoney
		}
		if err := r.Validate(); err != nil {
			return err
		}

		err = tx.QueryRow(ctx, `
			UPDATE reviews SET rating = $2, title = $3, comment = $4, ease_of_use = $5,
				reliability = $6, support = $7, value_for_money = $8
			WHERE id = $1
			RETURNING updated_at
		`, r.ID, r.Rating, r.Title, r.Comment, r.EaseOfUse, r.Reliability, r.Support, r.ValueForMoney,
		).Scan(&r.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to update review: %w", err)
		}

		if r.Rating != previous {
			rating, err = aggregate(ctx, tx, agentID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if rating != nil {
		s.afterRatingChange(ctx, ActionUpdated, r.ID, slug, rating)
	} else {
		monitoring.RecordReview(ActionUpdated)
	}
	return r, nil
}

// Delete removes a review. Only the reviewer or staff may delete.
func (s *Service) Delete(ctx context.Context, reviewID, actorID uuid.UUID, isStaff bool) (*Rating, error) {
	agentID, err := s.agentOf(ctx, reviewID)
	if err != nil {
		return nil, err
	}

	var (
		rating *Rating
		slug   string
	)
	err = database.InTx(ctx, s.db, func(tx pgx.Tx) error {
		_, agentSlug, err := lockAgent(ctx, tx, agentID)
		if err != nil {
			return err
		}
		slug = agentSlug

		var reviewerID uuid.UUID
		err = tx.QueryRow(ctx, `DELETE FROM reviews WHERE id = $1 AND (reviewer_id = $2 OR $3) RETURNING reviewer_id`,
			reviewID, actorID, isStaff).Scan(&reviewerID)
		if errors.Is(err, pgx.ErrNoRows) {
			// distinguish a foreign review from one deleted concurrently
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM reviews WHERE id = $1)`, reviewID).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check review: %w", err)
			}
			if exists {
				return ErrNotReviewer
			}
			return ErrReviewNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to delete review: %w", err)
		}

		rating, err = aggregate(ctx, tx, agentID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterRatingChange(ctx, ActionDeleted, reviewID, slug, rating)
	return rating, nil
}

// MarkHelpful increments the review's helpful counter
func (s *Service) MarkHelpful(ctx context.Context, reviewID uuid.UUID) (*models.Review, error) {
	r, err := scanReview(s.db.QueryRow(ctx, `
		UPDATE reviews r SET helpful_count = helpful_count + 1
		WHERE r.id = $1
		RETURNING `+reviewColumns, reviewID))
	if err != nil {
		return nil, err
	}
	monitoring.RecordReview(ActionHelpful)
	return r, nil
}

// Report flags the review for moderation
func (s *Service) Report(ctx context.Context, reviewID uuid.UUID) (*models.Review, error) {
	r, err := scanReview(s.db.QueryRow(ctx, `
		UPDATE reviews r SET reported = TRUE
		WHERE r.id = $1
		RETURNING `+reviewColumns, reviewID))
	if err != nil {
		return nil, err
	}
	monitoring.RecordReview(ActionReport)
	logging.LogReview(ActionReport, r.ID.String(), r.AgentID.String(), "", 0)
	return r, nil
}

// RecomputeRating rebuilds an agent's rating aggregate from its reviews
func (s *Service) RecomputeRating(ctx context.Context, agentID uuid.UUID) (*Rating, error) {
	var (
		rating *Rating
		slug   string
	)
	err := database.InTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		if _, slug, err = lockAgent(ctx, tx, agentID); err != nil {
			return err
		}
		rating, err = aggregate(ctx, tx, agentID)
		return err
	})
	if err != nil {
		return nil, err
	}

	monitoring.RecordRatingRecomputation()
	s.cache.Delete(ctx, cache.AgentKey(slug))
	return rating, nil
}

// Get loads a review by id
func (s *Service) Get(ctx context.Context, reviewID uuid.UUID) (*models.Review, error) {
	return scanReview(s.db.QueryRow(ctx, `SELECT `+reviewColumns+` FROM reviews r WHERE r.id = $1`, reviewID))
}

func (s *Service) agentOf(ctx context.Context, reviewID uuid.UUID) (uuid.UUID, error) {
	var agentID uuid.UUID
	err := s.db.QueryRow(ctx, `SELECT agent_id FROM reviews WHERE id = $1`, reviewID).Scan(&agentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrReviewNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to load review: %w", err)
	}
	return agentID, nil
}

func (s *Service) afterRatingChange(ctx context.Context, action string, reviewID uuid.UUID, slug string, r *Rating) {
	s.cache.Delete(ctx, cache.AgentKey(slug))
	monitoring.RecordReview(action)
	monitoring.RecordRatingRecomputation()
	logging.LogReview(action, reviewID.String(), r.AgentID.String(), r.AverageRating.StringFixed(2), r.TotalReviews)
}
