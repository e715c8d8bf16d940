// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveCustomer stores a customer with tenant isolation. Re-importing
// the same account updates the record in place.
func (r *SQLRepository) SaveCustomer(ctx context.Context, tenantID string, c *domain.Customer) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if c.BankAccount == "" {
		return fmt.Errorf("%w: bank account is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO customers (
			bank_account, tenant_id, name, personnummer, address, phone, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bank_account, tenant_id) DO UPDATE SET
			name = excluded.name,
			personnummer = excluded.personnummer,
			address = excluded.address,
			phone = excluded.phone
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		c.BankAccount, tenantID, c.Name, c.Personnummer,
		c.Address, c.Phone, time.Now().UTC(),
	)
	return err
}

// GetCustomerByAccount retrieves a customer by bank account with tenant isolation.
func (r *SQLRepository) GetCustomerByAccount(ctx context.Context, tenantID string, account string) (*domain.Customer, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT bank_account, name, personnummer, address, phone
		FROM customers
		WHERE tenant_id = ? AND bank_account = ?
	`

	var c domain.Customer
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, account).Scan(
		&c.BankAccount, &c.Name, &c.Personnummer, &c.Address, &c.Phone,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &c, nil
}

// SaveTransaction stores a transaction with tenant isolation.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (
			id, tenant_id, timestamp, amount, currency,
			from_account, to_account, sender_country, receiver_country,
			notes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO NOTHING
	`

	var ts any
	if tx.Timestamp != nil {
		ts = tx.Timestamp.UTC()
	}

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tenantID, ts,
		tx.Amount, tx.Currency,
		tx.FromAccount, tx.ToAccount,
		tx.SenderCountry, tx.ReceiverCountry,
		tx.Notes, time.Now().UTC(),
	)
	return err
}

// GetTransaction retrieves a transaction by ID with tenant isolation.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, timestamp, amount, currency,
			   from_account, to_account, sender_country, receiver_country, notes
		FROM transactions
		WHERE tenant_id = ? AND id = ?
	`

	var tx domain.Transaction
	var ts sql.NullTime

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID).Scan(
		&tx.ID, &ts, &tx.Amount, &tx.Currency,
		&tx.FromAccount, &tx.ToAccount,
		&tx.SenderCountry, &tx.ReceiverCountry, &tx.Notes,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if ts.Valid {
		t := ts.Time.UTC()
		tx.Timestamp = &t
	}

	return &tx, nil
}

// GetTransactionsByAccount retrieves transactions touching an account
// on either side, newest first.
func (r *SQLRepository) GetTransactionsByAccount(ctx context.Context, tenantID string, account string, since time.Time) ([]*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, timestamp, amount, currency,
			   from_account, to_account, sender_country, receiver_country, notes
		FROM transactions
		WHERE tenant_id = ?
		  AND (from_account = ? OR to_account = ?)
		  AND timestamp >= ?
		ORDER BY timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, account, account, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var ts sql.NullTime

		if err := rows.Scan(
			&tx.ID, &ts, &tx.Amount, &tx.Currency,
			&tx.FromAccount, &tx.ToAccount,
			&tx.SenderCountry, &tx.ReceiverCountry, &tx.Notes,
		); err != nil {
			return nil, err
		}

		if ts.Valid {
			t := ts.Time.UTC()
			tx.Timestamp = &t
		}

		transactions = append(transactions, &tx)
	}

	return transactions, rows.Err()
}

// SaveFlagged stores one flagged row. The insert is idempotent on
// (transaction_id, reason, flagged_date); the bool reports whether a
// new row was actually written.
func (r *SQLRepository) SaveFlagged(ctx context.Context, tenantID string, f *domain.FlaggedTransaction) (bool, error) {
	if tenantID == "" {
		return false, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO flagged_transactions (
			tenant_id, transaction_id, reason, flagged_date, amount, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, transaction_id, reason, flagged_date) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		tenantID, f.TransactionID, f.Reason, f.FlaggedDate,
		f.Amount, time.Now().UTC(),
	)
	if err != nil {
		return false, err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListFlagged retrieves flagged rows for a date, or all rows when the
// date is empty.
func (r *SQLRepository) ListFlagged(ctx context.Context, tenantID string, flaggedDate string) ([]*domain.FlaggedTransaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT transaction_id, reason, flagged_date, amount
		FROM flagged_transactions
		WHERE tenant_id = ?
	`
	args := []any{tenantID}

	if flaggedDate != "" {
		query += ` AND flagged_date = ?`
		args = append(args, flaggedDate)
	}
	query += ` ORDER BY amount DESC, transaction_id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flagged []*domain.FlaggedTransaction
	for rows.Next() {
		var f domain.FlaggedTransaction
		if err := rows.Scan(&f.TransactionID, &f.Reason, &f.FlaggedDate, &f.Amount); err != nil {
			return nil, err
		}
		flagged = append(flagged, &f)
	}

	return flagged, rows.Err()
}

// SaveRun stores a run summary with tenant isolation.
func (r *SQLRepository) SaveRun(ctx context.Context, tenantID string, run *domain.RunSummary) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	reasonCounts, _ := json.Marshal(run.ReasonCounts)

	query := `
		INSERT INTO runs (
			id, tenant_id, flagged_date, total, scored, flagged,
			timestamp, duration_ms, reason_counts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		run.ID, tenantID, run.FlaggedDate,
		run.Total, run.Scored, run.Flagged,
		run.Timestamp, run.DurationMs, string(reasonCounts),
	)
	return err
}

// GetRun retrieves a run summary by ID with tenant isolation.
func (r *SQLRepository) GetRun(ctx context.Context, tenantID string, runID string) (*domain.RunSummary, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, flagged_date, total, scored, flagged,
			   timestamp, duration_ms, reason_counts
		FROM runs
		WHERE tenant_id = ? AND id = ?
	`

	var run domain.RunSummary
	var reasonCounts string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, runID).Scan(
		&run.ID, &run.TenantID, &run.FlaggedDate,
		&run.Total, &run.Scored, &run.Flagged,
		&run.Timestamp, &run.DurationMs, &reasonCounts,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if reasonCounts != "" {
		json.Unmarshal([]byte(reasonCounts), &run.ReasonCounts)
	}

	return &run, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
