package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestSQLiteRepository(t *testing.T) {
	// Create temp database file
	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetTransaction", func(t *testing.T) {
		ts := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
		tx := &domain.Transaction{
			ID:              "tx-001",
			Timestamp:       &ts,
			Amount:          12000.00,
			Currency:        "SEK",
			FromAccount:     "acc-001",
			ToAccount:       "acc-002",
			SenderCountry:   "SE",
			ReceiverCountry: "SE",
			Notes:           "rent",
		}

		if err := repo.SaveTransaction(ctx, tenantID, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		retrieved, err := repo.GetTransaction(ctx, tenantID, tx.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}

		if retrieved.ID != tx.ID {
			t.Errorf("expected ID %s, got %s", tx.ID, retrieved.ID)
		}
		if retrieved.Amount != tx.Amount {
			t.Errorf("expected Amount %.2f, got %.2f", tx.Amount, retrieved.Amount)
		}
		if retrieved.Timestamp == nil || !retrieved.Timestamp.Equal(ts) {
			t.Errorf("expected Timestamp %v, got %v", ts, retrieved.Timestamp)
		}
	})

	t.Run("NilTimestampRoundTrip", func(t *testing.T) {
		tx := &domain.Transaction{
			ID:       "tx-nots",
			Amount:   50.00,
			Currency: "EUR",
		}

		if err := repo.SaveTransaction(ctx, tenantID, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		retrieved, err := repo.GetTransaction(ctx, tenantID, tx.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if retrieved.Timestamp != nil {
			t.Errorf("expected nil Timestamp, got %v", retrieved.Timestamp)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		otherTenant := "tenant-002"

		// Try to get tx from different tenant
		_, err := repo.GetTransaction(ctx, otherTenant, "tx-001")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		tx := &domain.Transaction{ID: "tx-test"}

		err := repo.SaveTransaction(ctx, "", tx)
		if err == nil {
			t.Error("expected error for empty tenantID")
		}

		_, err = repo.GetTransaction(ctx, "", "tx-001")
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("GetTransactionsByAccount", func(t *testing.T) {
		ts := time.Now().UTC()
		tx2 := &domain.Transaction{
			ID:          "tx-002",
			Timestamp:   &ts,
			Amount:      500.00,
			Currency:    "SEK",
			FromAccount: "acc-001", // Same sender as tx-001
			ToAccount:   "acc-003",
		}

		if err := repo.SaveTransaction(ctx, tenantID, tx2); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		transactions, err := repo.GetTransactionsByAccount(ctx, tenantID, "acc-001", since)
		if err != nil {
			t.Fatalf("GetTransactionsByAccount failed: %v", err)
		}

		if len(transactions) != 2 {
			t.Errorf("expected 2 transactions, got %d", len(transactions))
		}
	})

	t.Run("SaveAndGetCustomer", func(t *testing.T) {
		c := &domain.Customer{
			Name:         "Anna Andersson",
			Personnummer: "850412-1234",
			BankAccount:  "acc-001",
			Address:      "Storgatan 1",
			Phone:        "+46701234567",
		}

		if err := repo.SaveCustomer(ctx, tenantID, c); err != nil {
			t.Fatalf("SaveCustomer failed: %v", err)
		}

		retrieved, err := repo.GetCustomerByAccount(ctx, tenantID, c.BankAccount)
		if err != nil {
			t.Fatalf("GetCustomerByAccount failed: %v", err)
		}
		if retrieved.Name != c.Name {
			t.Errorf("expected Name %s, got %s", c.Name, retrieved.Name)
		}

		// Re-saving the same account updates in place
		c.Phone = "+46709999999"
		if err := repo.SaveCustomer(ctx, tenantID, c); err != nil {
			t.Fatalf("SaveCustomer update failed: %v", err)
		}
		retrieved, err = repo.GetCustomerByAccount(ctx, tenantID, c.BankAccount)
		if err != nil {
			t.Fatalf("GetCustomerByAccount failed: %v", err)
		}
		if retrieved.Phone != c.Phone {
			t.Errorf("expected Phone %s, got %s", c.Phone, retrieved.Phone)
		}
	})

	t.Run("SaveFlaggedIdempotent", func(t *testing.T) {
		f := &domain.FlaggedTransaction{
			TransactionID: "tx-001",
			Reason:        "High amount vs p98 (per currency)",
			FlaggedDate:   "2026-03-10",
			Amount:        12000.00,
		}

		inserted, err := repo.SaveFlagged(ctx, tenantID, f)
		if err != nil {
			t.Fatalf("SaveFlagged failed: %v", err)
		}
		if !inserted {
			t.Error("expected first SaveFlagged to insert")
		}

		inserted, err = repo.SaveFlagged(ctx, tenantID, f)
		if err != nil {
			t.Fatalf("repeated SaveFlagged failed: %v", err)
		}
		if inserted {
			t.Error("expected repeated SaveFlagged to be a no-op")
		}

		flagged, err := repo.ListFlagged(ctx, tenantID, "2026-03-10")
		if err != nil {
			t.Fatalf("ListFlagged failed: %v", err)
		}
		if len(flagged) != 1 {
			t.Errorf("expected 1 flagged row, got %d", len(flagged))
		}
	})

	t.Run("ListFlaggedOrdering", func(t *testing.T) {
		rows := []*domain.FlaggedTransaction{
			{TransactionID: "tx-a", Reason: "Keyword match in notes", FlaggedDate: "2026-03-11", Amount: 100},
			{TransactionID: "tx-b", Reason: "Keyword match in notes", FlaggedDate: "2026-03-11", Amount: 900},
		}
		for _, f := range rows {
			if _, err := repo.SaveFlagged(ctx, tenantID, f); err != nil {
				t.Fatalf("SaveFlagged failed: %v", err)
			}
		}

		flagged, err := repo.ListFlagged(ctx, tenantID, "2026-03-11")
		if err != nil {
			t.Fatalf("ListFlagged failed: %v", err)
		}
		if len(flagged) != 2 {
			t.Fatalf("expected 2 flagged rows, got %d", len(flagged))
		}
		if flagged[0].TransactionID != "tx-b" {
			t.Errorf("expected highest amount first, got %s", flagged[0].TransactionID)
		}
	})

	t.Run("SaveAndGetRun", func(t *testing.T) {
		run := &domain.RunSummary{
			ID:          "run-001",
			TenantID:    tenantID,
			FlaggedDate: "2026-03-10",
			Total:       100,
			Scored:      98,
			Flagged:     7,
			Timestamp:   time.Now().UTC(),
			DurationMs:  42,
			ReasonCounts: map[string]int{
				"High amount vs p98 (per currency)": 3,
			},
		}

		if err := repo.SaveRun(ctx, tenantID, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}

		retrieved, err := repo.GetRun(ctx, tenantID, run.ID)
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if retrieved.Flagged != run.Flagged {
			t.Errorf("expected Flagged %d, got %d", run.Flagged, retrieved.Flagged)
		}
		if retrieved.ReasonCounts["High amount vs p98 (per currency)"] != 3 {
			t.Errorf("reason counts not preserved: %v", retrieved.ReasonCounts)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetTransaction(ctx, tenantID, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}

		_, err = repo.GetRun(ctx, tenantID, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
