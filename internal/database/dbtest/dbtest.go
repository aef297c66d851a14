// Package dbtest provides a migrated PostgreSQL database for integration tests.
//
// The database comes from TEST_DATABASE_URL when set, otherwise a throwaway
// container is started with testcontainers. When neither is available the
// returned pool is nil and tests calling Require are skipped.
package dbtest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/autra-ai/marketplace/internal/database"
	"github.com/autra-ai/marketplace/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// Setup connects to a test database and applies migrations.
// The returned cleanup func must be called once tests finish.
func Setup(ctx context.Context) (*pgxpool.Pool, func()) {
	dsn, terminate, err := resolveDSN(ctx)
	if err != nil {
		fmt.Printf("Warning: no test database available: %v\n", err)
		return nil, func() {}
	}

	if err := database.RunMigrations(dsn); err != nil {
		fmt.Printf("Warning: failed to migrate test database: %v\n", err)
		terminate()
		return nil, func() {}
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err == nil {
		err = pool.Ping(ctx)
	}
	if err != nil {
		fmt.Printf("Warning: failed to connect to test database: %v\n", err)
		if pool != nil {
			pool.Close()
		}
		terminate()
		return nil, func() {}
	}

	return pool, func() {
		pool.Close()
		terminate()
	}
}

func resolveDSN(ctx context.Context) (dsn string, terminate func(), err error) {
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn, func() {}, nil
	}
	if os.Getenv("TESTCONTAINERS_DISABLED") != "" {
		return "", nil, fmt.Errorf("TEST_DATABASE_URL not set and containers disabled")
	}

	// testcontainers panics when no docker host can be found
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("start postgres container: %v", r)
		}
	}()

	c, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("autra_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres container: %w", err)
	}

	dsn, err = c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = c.Terminate(ctx)
		return "", nil, err
	}
	return dsn, func() { _ = c.Terminate(context.Background()) }, nil
}

// Require skips the test when no database is available
func Require(t testing.TB, pool *pgxpool.Pool) {
	t.Helper()
	if pool == nil {
		t.Skip("Test database not available")
	}
}

// UniqueName returns a short unique name with the given prefix
func UniqueName(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString()[:13], "-", "")
}

// UserOptions tweaks a fixture user
type UserOptions struct {
	Verified         bool
	ProfileCompleted bool
	IsStaff          bool
	Inactive         bool
}

// CreateUser inserts a user of the given role together with its empty role profile
func CreateUser(t testing.TB, pool *pgxpool.Pool, userType models.UserType, opts UserOptions) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	id := uuid.New()
	name := UniqueName(string(userType))
	_, err := pool.Exec(ctx, `
		INSERT INTO users (id, username, email, user_type, verified, profile_completed, is_staff, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, name, name+"@example.com", userType, opts.Verified, opts.ProfileCompleted, opts.IsStaff, !opts.Inactive)
	if err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}

	table := "business_profiles"
	if userType == models.UserTypeDeveloper {
		table = "developer_profiles"
	}
	if _, err := pool.Exec(ctx, `INSERT INTO `+table+` (user_id) VALUES ($1)`, id); err != nil {
		t.Fatalf("Failed to create test profile: %v", err)
	}
	return id
}

// AgentOptions tweaks a fixture agent
type AgentOptions struct {
	PricingModel     models.PricingModel
	Price            string
	TestedByPlatform bool
}

// CreateAgent inserts an active agent owned by developerID and returns its id
func CreateAgent(t testing.TB, pool *pgxpool.Pool, developerID uuid.UUID, opts AgentOptions) uuid.UUID {
	t.Helper()

	if opts.PricingModel == "" {
		opts.PricingModel = models.PricingMonthly
	}
	if opts.Price == "" {
		opts.Price = "10.00"
	}

	id := uuid.New()
	slug := UniqueName("agent")
	_, err := pool.Exec(context.Background(), `
		INSERT INTO agents (id, developer_id, name, slug, description, short_description,
			category, pricing_model, price, tested_by_platform, published_at)
		VALUES ($1, $2, $3, $4, 'Test agent', 'Test agent', 'automation', $5, $6, $7, NOW())
	`, id, developerID, slug, slug, opts.PricingModel, decimal.RequireFromString(opts.Price), opts.TestedByPlatform)
	if err != nil {
		t.Fatalf("Failed to create test agent: %v", err)
	}
	return id
}
