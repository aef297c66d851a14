package database

import (
	"errors"
	"fmt"
	"testing"

	apierrors "github.com/autra-ai/marketplace/internal/errors"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantIntegrity bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"unique", &pgconn.PgError{Code: "23505", ConstraintName: "agents_slug_key"}, true},
		{"foreign key", &pgconn.PgError{Code: "23503", ConstraintName: "agents_developer_id_fkey"}, true},
		{"check", &pgconn.PgError{Code: "23514", ConstraintName: "reviews_rating_check"}, true},
		{"wrapped unique", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), true},
		{"syntax", &pgconn.PgError{Code: "42601"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			var integrity *apierrors.IntegrityError
			isIntegrity := errors.As(got, &integrity)
			if isIntegrity != tt.wantIntegrity {
				t.Fatalf("expected integrity=%v, got %v (%v)", tt.wantIntegrity, isIntegrity, got)
			}
			if !tt.wantIntegrity && got != tt.err {
				t.Errorf("non-constraint error must pass through unchanged")
			}
		})
	}
}

func TestClassifyError_KeepsConstraintName(t *testing.T) {
	err := ClassifyError(&pgconn.PgError{Code: "23505", ConstraintName: "reviews_agent_reviewer_key"})
	var integrity *apierrors.IntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}
	if integrity.Constraint != "reviews_agent_reviewer_key" {
		t.Errorf("unexpected constraint %q", integrity.Constraint)
	}

	// classifying twice is stable
	if again := ClassifyError(err); again != err {
		t.Error("already classified error should be returned as-is")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})
	if !IsUniqueViolation(err, "users_email_key") {
		t.Error("expected match on constraint")
	}
	if !IsUniqueViolation(err, "") {
		t.Error("expected match on any constraint")
	}
	if IsUniqueViolation(err, "users_username_key") {
		t.Error("unexpected match on other constraint")
	}
	if IsUniqueViolation(errors.New("x"), "") {
		t.Error("plain error is not a unique violation")
	}
}
