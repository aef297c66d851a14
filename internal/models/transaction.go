package models

import (
	"time"

	apierrors "github.com/autra-ai/marketplace/internal/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType represents what kind of financial event a transaction records
type TransactionType string

const (
	TransactionPurchase            TransactionType = "purchase"
	TransactionSubscriptionStart   TransactionType = "subscription_start"
	TransactionSubscriptionRenewal TransactionType = "subscription_renewal"
	TransactionUsage               TransactionType = "usage"
	TransactionRefund              TransactionType = "refund"
)

// Valid reports whether t is a known transaction type
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionPurchase, TransactionSubscriptionStart, TransactionSubscriptionRenewal,
		TransactionUsage, TransactionRefund:
		return true
	}
	return false
}

// CountsAsHire reports whether completing this type hires the agent
func (t TransactionType) CountsAsHire() bool {
	return t == TransactionPurchase || t == TransactionSubscriptionStart
}

// TransactionStatus represents the status of a transaction
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusCompleted  TransactionStatus = "completed"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusRefunded   TransactionStatus = "refunded"
)

// Valid reports whether s is a known status
func (s TransactionStatus) Valid() bool {
	_, ok := transactionTransitions[s]
	return ok
}

// Terminal reports whether no transition leaves s
func (s TransactionStatus) Terminal() bool {
	return len(transactionTransitions[s]) == 0
}

var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending:    {TransactionStatusProcessing},
	TransactionStatusProcessing: {TransactionStatusCompleted, TransactionStatusFailed},
	TransactionStatusCompleted:  {TransactionStatusRefunded},
	TransactionStatusFailed:     {},
	TransactionStatusRefunded:   {},
}

// CanTransition reports whether a transaction may move from one status to another
func CanTransition(from, to TransactionStatus) bool {
	for _, next := range transactionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PlatformFeeRate is the marketplace commission on every transaction
var PlatformFeeRate = decimal.RequireFromString("0.10")

// Transaction records a financial event between a buyer and the agent's developer
type Transaction struct {
	ID                   uuid.UUID         `json:"id" db:"id"`
	AgentID              uuid.UUID         `json:"agent_id" db:"agent_id"`
	BuyerID              uuid.UUID         `json:"buyer_id" db:"buyer_id"`
	SellerID             uuid.UUID         `json:"seller_id" db:"seller_id"`
	Amount               decimal.Decimal   `json:"amount" db:"amount"`
	PlatformFee          decimal.Decimal   `json:"platform_fee" db:"platform_fee"`
	SellerEarning        decimal.Decimal   `json:"seller_earning" db:"seller_earning"`
	PricedAt             *time.Time        `json:"priced_at,omitempty" db:"priced_at"`
	TransactionType      TransactionType   `json:"transaction_type" db:"transaction_type"`
	Status               TransactionStatus `json:"status" db:"status"`
	StripePaymentIntent  string            `json:"stripe_payment_intent" db:"stripe_payment_intent"`
	StripeSubscriptionID string            `json:"stripe_subscription_id" db:"stripe_subscription_id"`
	CreatedAt            time.Time         `json:"created_at" db:"created_at"`
	CompletedAt          *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
}

// SplitFee returns the platform fee and seller earning for an amount.
// The fee is rounded to the penny and the earning is the remainder, so
// fee + earning == amount exactly.
func SplitFee(amount decimal.Decimal) (fee, earning decimal.Decimal) {
	fee = amount.Mul(PlatformFeeRate).Round(2)
	return fee, amount.Sub(fee)
}

// CalculateFees prices the transaction. It may run only once and only while pending.
func (t *Transaction) CalculateFees(now time.Time) error {
	if t.Status != TransactionStatusPending {
		return &apierrors.StateError{
			Entity: "transaction",
			From:   string(t.Status),
			Reason: "fees can only be calculated while pending",
		}
	}
	if t.PricedAt != nil {
		return &apierrors.StateError{
			Entity: "transaction",
			From:   string(t.Status),
			Reason: "fees already calculated",
		}
	}
	if t.Amount.IsNegative() {
		return apierrors.NewFieldError("amount", "must not be negative")
	}

	t.PlatformFee, t.SellerEarning = SplitFee(t.Amount)
	t.PricedAt = &now
	return nil
}

// Transition moves the transaction to the next status. Fee fields never change.
func (t *Transaction) Transition(to TransactionStatus, now time.Time) error {
	if !CanTransition(t.Status, to) {
		return &apierrors.StateError{
			Entity: "transaction",
			From:   string(t.Status),
			To:     string(to),
		}
	}
	if to == TransactionStatusProcessing && t.PricedAt == nil {
		return &apierrors.StateError{
			Entity: "transaction",
			From:   string(t.Status),
			Reason: "transaction has not been priced",
		}
	}

	t.Status = to
	if to == TransactionStatusCompleted {
		t.CompletedAt = &now
	}
	return nil
}

// Validate checks the declared field constraints of a transaction
func (t *Transaction) Validate() error {
	v := &apierrors.ValidationError{}
	if t.AgentID == uuid.Nil {
		v.Add("agent_id", "is required")
	}
	if t.BuyerID == uuid.Nil {
		v.Add("buyer_id", "is required")
	}
	if t.Amount.IsNegative() {
		v.Add("amount", "must not be negative")
	}
	if t.Amount.Exponent() < -2 && !t.Amount.Equal(t.Amount.Round(2)) {
		v.Add("amount", "must have at most two decimal places")
	}
	if !t.TransactionType.Valid() {
		v.Add("transaction_type", "unknown transaction type %q", t.TransactionType)
	}
	if len(t.StripePaymentIntent) > 255 {
		v.Add("stripe_payment_intent", "must be at most 255 characters")
	}
	if len(t.StripeSubscriptionID) > 255 {
		v.Add("stripe_subscription_id", "must be at most 255 characters")
	}
	return v.OrNil()
}
