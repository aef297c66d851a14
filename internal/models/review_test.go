package models

import (
	"testing"

	"pgregory.net/rapid"
)

func intPtr(v int) *int { return &v }

func TestReviewValidate(t *testing.T) {
	r := &Review{Rating: 4, Title: "Solid", Comment: "Does what it says", Support: intPtr(5)}
	if err := r.Validate(); err != nil {
		t.Fatalf("valid review rejected: %v", err)
	}

	r.ValueForMoney = intPtr(0)
	if err := r.Validate(); err == nil {
		t.Fatal("expected sub-rating range error")
	}
}

// Property: a review is valid exactly when its rating and sub-ratings lie in [1, 5]
func TestProperty_ReviewRatingRange(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		rating := rapid.IntRange(-3, 9).Draw(rt, "rating")
		var ease *int
		if rapid.Bool().Draw(rt, "hasEase") {
			ease = intPtr(rapid.IntRange(-3, 9).Draw(rt, "ease"))
		}
		r := &Review{Rating: rating, EaseOfUse: ease, Title: "t", Comment: "c"}

		inRange := func(v int) bool { return v >= 1 && v <= 5 }
		wantValid := inRange(rating) && (ease == nil || inRange(*ease))

		if err := r.Validate(); (err == nil) != wantValid {
			rt.Fatalf("rating=%d ease=%v: valid=%v, err=%v", rating, ease, wantValid, err)
		}
	})
}

func TestReviewStars(t *testing.T) {
	if got := (&Review{Rating: 3}).Stars(); got != "★★★" {
		t.Errorf("got %q", got)
	}
}
