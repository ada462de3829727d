package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Input collections. Saves are bulk append-only; Lists return the
	// collection ordered by time (per the record's natural ordering).
	SaveTransactions(ctx context.Context, tenantID string, txs []Transaction) error
	ListTransactions(ctx context.Context, tenantID string) ([]Transaction, error)

	SaveLoginAttempts(ctx context.Context, tenantID string, attempts []LoginAttempt) error
	ListLoginAttempts(ctx context.Context, tenantID string) ([]LoginAttempt, error)

	SaveIdentities(ctx context.Context, tenantID string, ids []UserIdentity) error
	ListIdentities(ctx context.Context, tenantID string) ([]UserIdentity, error)

	SaveCoreStatuses(ctx context.Context, tenantID string, statuses []CoreAccountStatus) error
	ListCoreStatuses(ctx context.Context, tenantID string) ([]CoreAccountStatus, error)

	SaveAccountActions(ctx context.Context, tenantID string, actions []AccountAction) error
	ListAccountActions(ctx context.Context, tenantID string) ([]AccountAction, error)

	SaveMemberLinks(ctx context.Context, tenantID string, links []MemberLink) error
	ListMemberLinks(ctx context.Context, tenantID string) ([]MemberLink, error)

	// Screening rule configuration.
	SaveScreenRule(ctx context.Context, tenantID string, rule *ScreenRule) error
	ListScreenRules(ctx context.Context, tenantID string) ([]*ScreenRule, error)

	// Completed scan reports.
	SaveScan(ctx context.Context, tenantID string, report *ScanReport) error
	GetScan(ctx context.Context, tenantID string, scanID string) (*ScanReport, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
