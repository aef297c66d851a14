package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/autra-ai/marketplace/internal/database"
	"github.com/autra-ai/marketplace/internal/models"
	"github.com/google/uuid"
)

// TransactionFilter narrows a ledger listing
type TransactionFilter struct {
	Status          models.TransactionStatus `form:"status"`
	TransactionType models.TransactionType   `form:"transaction_type"`
	AgentID         *uuid.UUID               `form:"-"`
	BuyerID         *uuid.UUID               `form:"-"`
	SellerID        *uuid.UUID               `form:"-"`
	// ParticipantID matches either side of the transaction
	ParticipantID *uuid.UUID `form:"-"`
	CreatedFrom   *time.Time `form:"created_from" time_format:"2006-01-02"`
	CreatedTo     *time.Time `form:"created_to" time_format:"2006-01-02"`
	Query         string     `form:"q"`
	database.Page
}

// TransactionItem is a transaction with the names shown in listings
type TransactionItem struct {
	models.Transaction
	AgentName      string `json:"agent_name"`
	BuyerUsername  string `json:"buyer_username"`
	SellerUsername string `json:"seller_username"`
}

// ListTransactionsResponse represents a paginated list of transactions
type ListTransactionsResponse struct {
	Transactions []TransactionItem `json:"transactions"`
	Total        int64             `json:"total"`
	Page         int               `json:"page"`
	PageSize     int               `json:"page_size"`
	TotalPages   int               `json:"total_pages"`
}

// List returns transactions matching the filter, newest first
func (s *Service) List(ctx context.Context, f TransactionFilter) (*ListTransactionsResponse, error) {
	page := f.Page.Normalize()

	var w database.Where
	if f.Status != "" {
		w.Add("t.status = ?", f.Status)
	}
	if f.TransactionType != "" {
		w.Add("t.transaction_type = ?", f.TransactionType)
	}
	if f.AgentID != nil {
		w.Add("t.agent_id = ?", *f.AgentID)
	}
	if f.BuyerID != nil {
		w.Add("t.buyer_id = ?", *f.BuyerID)
	}
	if f.SellerID != nil {
		w.Add("t.seller_id = ?", *f.SellerID)
	}
	if f.ParticipantID != nil {
		w.Add("(t.buyer_id = ? OR t.seller_id = ?)", *f.ParticipantID, *f.ParticipantID)
	}
	if f.CreatedFrom != nil {
		w.Add("t.created_at >= ?", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		w.Add("t.created_at < ?", f.CreatedTo.AddDate(0, 0, 1))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		p := database.LikePattern(q)
		w.Add(`(a.name ILIKE ? OR b.username ILIKE ? OR sl.username ILIKE ?
			OR t.stripe_payment_intent ILIKE ?)`, p, p, p, p)
	}

	from := ` FROM transactions t
		JOIN agents a ON a.id = t.agent_id
		JOIN users b ON b.id = t.buyer_id
		JOIN users sl ON sl.id = t.seller_id` + w.SQL()

	var total int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*)`+from, w.Args()...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}

	query := `SELECT ` + transactionColumns + `, a.name, b.username, sl.username` + from +
		` ORDER BY t.created_at DESC LIMIT ` + w.Arg(page.PageSize) + ` OFFSET ` + w.Arg(page.Offset())
	rows, err := s.db.Query(ctx, query, w.Args()...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	items := []TransactionItem{}
	for rows.Next() {
		var item TransactionItem
		t, err := scanTransaction(rows, &item.AgentName, &item.BuyerUsername, &item.SellerUsername)
		if err != nil {
			return nil, err
		}
		item.Transaction = *t
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	return &ListTransactionsResponse{
		Transactions: items,
		Total:        total,
		Page:         page.Page,
		PageSize:     page.PageSize,
		TotalPages:   page.TotalPages(total),
	}, nil
}
