package repository

// Schema definitions for the Fraudasaurus database.
// Compatible with both SQLite and PostgreSQL. Amounts are stored as TEXT
// so decimal values round-trip exactly.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    tenant_id TEXT NOT NULL,
    id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    amount TEXT NOT NULL,
    posted_at TIMESTAMP NOT NULL,
    memo TEXT,
    type TEXT,
    user_id TEXT,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(tenant_id, account_id);
CREATE INDEX IF NOT EXISTS idx_transactions_posted ON transactions(tenant_id, posted_at);
`

const schemaLoginAttempts = `
CREATE TABLE IF NOT EXISTS login_attempts (
    tenant_id TEXT NOT NULL,
    username TEXT NOT NULL,
    result TEXT NOT NULL,
    attempted_at TIMESTAMP NOT NULL,
    source_ip TEXT
);

CREATE INDEX IF NOT EXISTS idx_login_attempts_user ON login_attempts(tenant_id, username);
CREATE INDEX IF NOT EXISTS idx_login_attempts_time ON login_attempts(tenant_id, attempted_at);
`

const schemaUserIdentities = `
CREATE TABLE IF NOT EXISTS user_identities (
    tenant_id TEXT NOT NULL,
    id TEXT NOT NULL,
    username TEXT,
    display_name TEXT,
    email TEXT,
    created_at TIMESTAMP,
    active INTEGER NOT NULL DEFAULT 1,
    member_number TEXT,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_user_identities_email ON user_identities(tenant_id, email);
`

const schemaCoreAccountStatus = `
CREATE TABLE IF NOT EXISTS core_account_status (
    tenant_id TEXT NOT NULL,
    member_number TEXT NOT NULL,
    last_modified TIMESTAMP NOT NULL,
    opened_at TIMESTAMP,
    closed_at TIMESTAMP,
    PRIMARY KEY (tenant_id, member_number)
);
`

const schemaAccountActions = `
CREATE TABLE IF NOT EXISTS account_actions (
    tenant_id TEXT NOT NULL,
    username TEXT NOT NULL,
    kind TEXT NOT NULL,
    occurred_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_account_actions_user ON account_actions(tenant_id, username);
`

const schemaMemberLinks = `
CREATE TABLE IF NOT EXISTS member_links (
    tenant_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    member_number TEXT NOT NULL,
    account_id TEXT NOT NULL,
    PRIMARY KEY (tenant_id, user_id, member_number, account_id)
);
`

const schemaScreenRules = `
CREATE TABLE IF NOT EXISTS screen_rules (
    tenant_id TEXT NOT NULL,
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    category TEXT NOT NULL,
    severity TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);
`

const schemaScans = `
CREATE TABLE IF NOT EXISTS scans (
    tenant_id TEXT NOT NULL,
    id TEXT NOT NULL,
    as_of TIMESTAMP NOT NULL,
    started_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP NOT NULL,
    duration_ms INTEGER NOT NULL,
    counts TEXT NOT NULL,
    alert_count INTEGER NOT NULL,
    entities TEXT NOT NULL,
    skipped TEXT,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_scans_started ON scans(tenant_id, started_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaLoginAttempts,
		schemaUserIdentities,
		schemaCoreAccountStatus,
		schemaAccountActions,
		schemaMemberLinks,
		schemaScreenRules,
		schemaScans,
	}
}
