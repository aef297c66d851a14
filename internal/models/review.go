package models

import (
	"strings"
	"time"

	apierrors "github.com/autra-ai/marketplace/internal/errors"
	"github.com/google/uuid"
)

const (
	MinRating = 1
	MaxRating = 5
)

// Review represents a user review of an agent
type Review struct {
	ID               uuid.UUID `json:"id" db:"id"`
	AgentID          uuid.UUID `json:"agent_id" db:"agent_id"`
	ReviewerID       uuid.UUID `json:"reviewer_id" db:"reviewer_id"`
	Rating           int       `json:"rating" db:"rating"`
	Title            string    `json:"title" db:"title"`
	Comment          string    `json:"comment" db:"comment"`
	EaseOfUse        *int      `json:"ease_of_use,omitempty" db:"ease_of_use"`
	Reliability      *int      `json:"reliability,omitempty" db:"reliability"`
	Support          *int      `json:"support,omitempty" db:"support"`
	ValueForMoney    *int      `json:"value_for_money,omitempty" db:"value_for_money"`
	VerifiedPurchase bool      `json:"verified_purchase" db:"verified_purchase"`
	HelpfulCount     int       `json:"helpful_count" db:"helpful_count"`
	Reported         bool      `json:"reported" db:"reported"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Validate checks the rating ranges and required text of a review
func (r *Review) Validate() error {
	v := &apierrors.ValidationError{}

	if r.Rating < MinRating || r.Rating > MaxRating {
		v.Add("rating", "must be between %d and %d", MinRating, MaxRating)
	}
	subRatings := []struct {
		field string
		value *int
	}{
		{"ease_of_use", r.EaseOfUse},
		{"reliability", r.Reliability},
		{"support", r.Support},
		{"value_for_money", r.ValueForMoney},
	}
	for _, s := range subRatings {
		if s.value != nil && (*s.value < MinRating || *s.value > MaxRating) {
			v.Add(s.field, "must be between %d and %d", MinRating, MaxRating)
		}
	}

	if strings.TrimSpace(r.Title) == "" {
		v.Add("title", "is required")
	} else if len(r.Title) > 200 {
		v.Add("title", "must be at most 200 characters")
	}
	if strings.TrimSpace(r.Comment) == "" {
		v.Add("comment", "is required")
	}
	if r.HelpfulCount < 0 {
		v.Add("helpful_count", "must not be negative")
	}

	return v.OrNil()
}

// Stars renders the rating as star characters
func (r *Review) Stars() string {
	return strings.Repeat("★", r.Rating)
}
