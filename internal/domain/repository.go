package domain

import (
	"context"
	"time"
)

// Repository persists customers, transactions, flagged output, and run
// summaries. Every method is tenant-scoped; no query crosses tenants.
type Repository interface {
	// Customers
	SaveCustomer(ctx context.Context, tenantID string, c *Customer) error
	GetCustomerByAccount(ctx context.Context, tenantID string, account string) (*Customer, error)

	// Transactions
	SaveTransaction(ctx context.Context, tenantID string, tx *Transaction) error
	GetTransaction(ctx context.Context, tenantID string, txID string) (*Transaction, error)
	GetTransactionsByAccount(ctx context.Context, tenantID string, account string, since time.Time) ([]*Transaction, error)

	// Flagged output. SaveFlagged is idempotent on
	// (transaction_id, reason, flagged_date) and reports whether a new
	// row was written.
	SaveFlagged(ctx context.Context, tenantID string, f *FlaggedTransaction) (bool, error)
	ListFlagged(ctx context.Context, tenantID string, flaggedDate string) ([]*FlaggedTransaction, error)

	// Run summaries
	SaveRun(ctx context.Context, tenantID string, run *RunSummary) error
	GetRun(ctx context.Context, tenantID string, runID string) (*RunSummary, error)

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryConfig selects and tunes the database driver.
type RepositoryConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string

	SQLitePath string

	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Pool settings shared by both drivers.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
