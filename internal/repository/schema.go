package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaCustomers = `
CREATE TABLE IF NOT EXISTS customers (
    bank_account TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    personnummer TEXT,
    address TEXT,
    phone TEXT,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (bank_account, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_customers_tenant ON customers(tenant_id);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    timestamp TIMESTAMP,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    from_account TEXT,
    to_account TEXT,
    sender_country TEXT,
    receiver_country TEXT,
    notes TEXT,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_transactions_tenant ON transactions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_transactions_from ON transactions(tenant_id, from_account);
CREATE INDEX IF NOT EXISTS idx_transactions_to ON transactions(tenant_id, to_account);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(tenant_id, timestamp);
`

// schemaFlagged stores the risk-flagging output. The unique index on
// (tenant, transaction, reason, date) is what makes repeated runs over
// the same batch idempotent.
const schemaFlagged = `
CREATE TABLE IF NOT EXISTS flagged_transactions (
    tenant_id TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    reason TEXT NOT NULL,
    flagged_date TEXT NOT NULL,
    amount REAL NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, transaction_id, reason, flagged_date)
);

CREATE INDEX IF NOT EXISTS idx_flagged_tenant ON flagged_transactions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_flagged_date ON flagged_transactions(tenant_id, flagged_date);
`

const schemaRuns = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    flagged_date TEXT NOT NULL,
    total INTEGER NOT NULL,
    scored INTEGER NOT NULL,
    flagged INTEGER NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    duration_ms INTEGER NOT NULL,
    reason_counts TEXT NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_tenant ON runs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_runs_date ON runs(tenant_id, flagged_date);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaCustomers,
		schemaTransactions,
		schemaFlagged,
		schemaRuns,
	}
}
