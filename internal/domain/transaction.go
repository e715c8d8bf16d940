// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"time"
)

// Transaction is one normalized transaction record, ready for scoring.
// Records arrive from an external ingestion stage with heterogeneous
// column names; the normalize package maps them onto this schema.
type Transaction struct {
	// ID is the unique transaction key. Uniqueness is the caller's
	// responsibility.
	ID string `json:"transactionId"`

	// Timestamp is nil when the source value was absent or unparsable.
	// Time-dependent rules skip records without a timestamp.
	Timestamp *time.Time `json:"timestamp,omitempty"`

	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	// Accounts default to empty strings when the source lacks them.
	FromAccount string `json:"fromAccount,omitempty"`
	ToAccount   string `json:"toAccount,omitempty"`

	SenderCountry   string `json:"senderCountry,omitempty"`
	ReceiverCountry string `json:"receiverCountry,omitempty"`

	Notes string `json:"notes,omitempty"`
}

// FlaggedTransaction is one row of scoring output: a transaction worth
// manual review, annotated with every reason it was flagged.
type FlaggedTransaction struct {
	TransactionID string  `json:"transactionId"`
	Reason        string  `json:"reason"`
	FlaggedDate   string  `json:"flaggedDate"` // YYYY-MM-DD, constant per run
	Amount        float64 `json:"amount"`
}

// Customer is a cleaned customer row from the ingestion stage.
type Customer struct {
	Name         string `json:"name"`
	Personnummer string `json:"personnummer"`
	BankAccount  string `json:"bankAccount"`
	Address      string `json:"address,omitempty"`
	Phone        string `json:"phone,omitempty"`
}
