package models

import "time"

// TransactionType classifies an entry in the credit ledger.
type TransactionType string

const (
	TransactionPurchase TransactionType = "purchase"
	TransactionUsage    TransactionType = "usage"
	TransactionBonus    TransactionType = "bonus"
	TransactionRefund   TransactionType = "refund"
)

// CreditTransaction is an append-only ledger entry. The client never
// creates these; it only displays them.
type CreditTransaction struct {
	ID           string          `json:"id" yaml:"id"`
	Amount       int             `json:"amount" yaml:"amount"`
	BalanceAfter int             `json:"balance_after" yaml:"balance_after"`
	Type         TransactionType `json:"type" yaml:"type"`
	Description  string          `json:"description,omitempty" yaml:"description,omitempty"`
	CreatedAt    time.Time       `json:"created_at" yaml:"created_at"`
}

// TransactionPage is one page of the credit ledger.
type TransactionPage struct {
	Transactions []CreditTransaction `json:"transactions" yaml:"transactions"`
	Total        int                 `json:"total" yaml:"total"`
	Page         int                 `json:"page" yaml:"page"`
	PageSize     int                 `json:"page_size" yaml:"page_size"`
	TotalPages   int                 `json:"total_pages" yaml:"total_pages"`
}
