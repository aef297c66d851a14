// Package ledger records financial events between buyers and agent developers.
// Every transaction is priced once at creation; completion and refund update the
// participants' accumulators and trust scores in the same database transaction.
package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

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
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrNotParticipant      = errors.New("user is not a party to the transaction")
)

// Service handles ledger operations
type Service struct {
	db    *pgxpool.Pool
	cache *cache.Redis
	now   func() time.Time
}

// NewService creates a new ledger service. The cache is only used to drop
// stale public agent views after settlement.
func NewService(db *pgxpool.Pool, c *cache.Redis) *Service {
	return &Service{db: db, cache: c, now: time.Now}
}

// CreateTransactionRequest represents a new financial event
type CreateTransactionRequest struct {
	AgentID              uuid.UUID              `json:"agent_id" binding:"required"`
	BuyerID              uuid.UUID              `json:"buyer_id"`
	Amount               decimal.Decimal        `json:"amount"`
	TransactionType      models.TransactionType `json:"transaction_type" binding:"required"`
	StripePaymentIntent  string                 `json:"stripe_payment_intent,omitempty"`
	StripeSubscriptionID string                 `json:"stripe_subscription_id,omitempty"`
}

const transactionColumns = `t.id, t.agent_id, t.buyer_id, t.seller_id, t.amount, t.platform_fee,
	t.seller_earning, t.priced_at, t.transaction_type, t.status, t.stripe_payment_intent,
	t.stripe_subscription_id, t.created_at, t.completed_at`

func scanTransaction(row pgx.Row, extra ...any) (*models.Transaction, error) {
	var t models.Transaction
	dest := []any{
		&t.ID, &t.AgentID, &t.BuyerID, &t.SellerID, &t.Amount, &t.PlatformFee,
		&t.SellerEarning, &t.PricedAt, &t.TransactionType, &t.Status, &t.StripePaymentIntent,
		&t.StripeSubscriptionID, &t.CreatedAt, &t.CompletedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	return &t, nil
}

// Create records a pending transaction for the agent's developer and prices it.
func (s *Service) Create(ctx context.Context, req *CreateTransactionRequest) (*models.Transaction, error) {
	now := s.now()
	t := &models.Transaction{
		ID:                   uuid.New(),
		AgentID:              req.AgentID,
		BuyerID:              req.BuyerID,
		Amount:               req.Amount,
		TransactionType:      req.TransactionType,
		Status:               models.TransactionStatusPending,
		StripePaymentIntent:  req.StripePaymentIntent,
		StripeSubscriptionID: req.StripeSubscriptionID,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	// a refund is the completed -> refunded move of the original transaction
	if t.TransactionType == models.TransactionRefund {
		return nil, apierrors.NewFieldError("transaction_type", "refunds are issued by refunding the original transaction")
	}

	err := database.InTx(ctx, s.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT developer_id FROM agents WHERE id = $1 FOR SHARE`, t.AgentID).Scan(&t.SellerID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return agent.ErrAgentNotFound
			}
			return fmt.Errorf("failed to load agent: %w", err)
		}

		var buyerActive bool
		err = tx.QueryRow(ctx, `SELECT is_active FROM users WHERE id = $1`, t.BuyerID).Scan(&buyerActive)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return account.ErrUserNotFound
			}
			return fmt.Errorf("failed to load buyer: %w", err)
		}
		if !buyerActive {
			return apierrors.NewFieldError("buyer_id", "buyer account is inactive")
		}
		if t.BuyerID == t.SellerID {
			return apierrors.NewFieldError("buyer_id", "developers cannot buy their own agent")
		}

		if err := t.CalculateFees(now); err != nil {
			return err
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO transactions (id, agent_id, buyer_id, seller_id, amount, platform_fee,
				seller_earning, priced_at, transaction_type, status, stripe_payment_intent,
				stripe_subscription_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING created_at
		`, t.ID, t.AgentID, t.BuyerID, t.SellerID, t.Amount, t.PlatformFee,
			t.SellerEarning, t.PricedAt, t.TransactionType, t.Status, t.StripePaymentIntent,
			t.StripeSubscriptionID,
		).Scan(&t.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	monitoring.RecordTransaction(string(t.TransactionType), string(t.Status))
	logging.LogTransaction(logging.RequestIDFromContext(ctx), t.ID.String(), string(t.TransactionType),
		"", string(t.Status), t.Amount.StringFixed(2), t.PlatformFee.StringFixed(2))
	return t, nil
}

// Get loads a transaction by id
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return scanTransaction(s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions t WHERE t.id = $1`, id))
}

// GetForUser loads a transaction the user bought or sold
func (s *Service) GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Transaction, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.BuyerID != userID && t.SellerID != userID {
		return nil, ErrNotParticipant
	}
	return t, nil
}

// MarkProcessing moves a priced pending transaction to processing
func (s *Service) MarkProcessing(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return s.Transition(ctx, id, models.TransactionStatusProcessing)
}

// Complete settles a processing transaction
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return s.Transition(ctx, id, models.TransactionStatusCompleted)
}

// Fail marks a processing transaction failed
func (s *Service) Fail(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return s.Transition(ctx, id, models.TransactionStatusFailed)
}

// Refund reverses a completed transaction
func (s *Service) Refund(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return s.Transition(ctx, id, models.TransactionStatusRefunded)
}

// Transition moves the transaction to status to. Illegal moves return a
// StateError and leave the record untouched. Completion and refund apply
// their side effects in the same database transaction.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to models.TransactionStatus) (*models.Transaction, error) {
	var (
		t         *models.Transaction
		from      models.TransactionStatus
		agentSlug string
	)
	err := database.InTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		t, err = scanTransaction(tx.QueryRow(ctx,
			`SELECT `+transactionColumns+` FROM transactions t WHERE t.id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}

		from = t.Status
		if err := t.Transition(to, s.now()); err != nil {
			return err
		}
		settles := to == models.TransactionStatusCompleted || to == models.TransactionStatusRefunded
		if settles {
			if agentSlug, err = lockSettlementRows(ctx, tx, t); err != nil {
				return err
			}
		}

		_, err = tx.Exec(ctx, `UPDATE transactions SET status = $2, completed_at = $3 WHERE id = $1`,
			t.ID, t.Status, t.CompletedAt)
		if err != nil {
			return fmt.Errorf("failed to update transaction status: %w", err)
		}

		if !settles {
			return nil
		}
		sign := 1
		if to == models.TransactionStatusRefunded {
			sign = -1
		}
		if err := applySettlement(ctx, tx, t, sign); err != nil {
			return err
		}

		if _, err := account.RecomputeTrustTx(ctx, tx, t.BuyerID); err != nil {
			return err
		}
		_, err = account.RecomputeTrustTx(ctx, tx, t.SellerID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if agentSlug != "" {
		s.cache.Delete(ctx, cache.AgentKey(agentSlug))
	}
	monitoring.RecordTransaction(string(t.TransactionType), string(t.Status))
	if to == models.TransactionStatusCompleted {
		fee, _ := t.PlatformFee.Float64()
		earning, _ := t.SellerEarning.Float64()
		monitoring.RecordSettledAmounts(fee, earning)
	}
	logging.LogTransaction(logging.RequestIDFromContext(ctx), t.ID.String(), string(t.TransactionType),
		string(from), string(t.Status), t.Amount.StringFixed(2), t.PlatformFee.StringFixed(2))
	return t, nil
}

// lockSettlementRows takes the row locks settlement writes to: the agent
// first, then both parties in ascending id order. Agent before users is the
// order every path that touches both follows.
func lockSettlementRows(ctx context.Context, tx pgx.Tx, t *models.Transaction) (string, error) {
	var slug string
	err := tx.QueryRow(ctx, `SELECT slug FROM agents WHERE id = $1 FOR UPDATE`, t.AgentID).Scan(&slug)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", agent.ErrAgentNotFound
		}
		return "", fmt.Errorf("failed to lock agent: %w", err)
	}

	for _, id := range lockOrder(t.BuyerID, t.SellerID) {
		if _, err := tx.Exec(ctx, `SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, id); err != nil {
			return "", fmt.Errorf("failed to lock user: %w", err)
		}
	}
	return slug, nil
}

// lockOrder returns the distinct ids in ascending byte order
func lockOrder(a, b uuid.UUID) []uuid.UUID {
	switch c := bytes.Compare(a[:], b[:]); {
	case c == 0:
		return []uuid.UUID{a}
	case c > 0:
		return []uuid.UUID{b, a}
	default:
		return []uuid.UUID{a, b}
	}
}

// applySettlement adds (sign 1) or reverses (sign -1) the accumulators and
// counters a completed transaction contributes. Reversal never goes below zero.
func applySettlement(ctx context.Context, tx pgx.Tx, t *models.Transaction, sign int) error {
	amount := t.Amount
	earning := t.SellerEarning
	step := 1
	if sign < 0 {
		amount = amount.Neg()
		earning = earning.Neg()
		step = -1
	}

	if _, err := tx.Exec(ctx, `UPDATE users SET total_spent = GREATEST(total_spent + $2, 0) WHERE id = $1`,
		t.BuyerID, amount); err != nil {
		return fmt.Errorf("failed to update buyer spend: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE users SET total_earned = GREATEST(total_earned + $2, 0) WHERE id = $1`,
		t.SellerID, earning); err != nil {
		return fmt.Errorf("failed to update seller earnings: %w", err)
	}

	if t.TransactionType.CountsAsHire() {
		if _, err := tx.Exec(ctx, `UPDATE agents SET times_hired = GREATEST(times_hired + $2, 0) WHERE id = $1`,
			t.AgentID, step); err != nil {
			return fmt.Errorf("failed to update agent hires: %w", err)
		}
	}

	if t.TransactionType == models.TransactionSubscriptionStart {
		if _, err := tx.Exec(ctx, `
			UPDATE agents SET active_subscriptions = GREATEST(active_subscriptions + $2, 0) WHERE id = $1
		`, t.AgentID, step); err != nil {
			return fmt.Errorf("failed to update agent subscriptions: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE business_profiles SET
				total_agents_hired = GREATEST(total_agents_hired + $2, 0),
				active_subscriptions = GREATEST(active_subscriptions + $2, 0)
			WHERE user_id = $1
		`, t.BuyerID, step); err != nil {
			return fmt.Errorf("failed to update buyer subscriptions: %w", err)
		}
	}
	return nil
}
