// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nguyendon/fraudasaurus.ai/internal/domain"
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

// bulkInsert runs one prepared statement per record inside a transaction.
func (r *SQLRepository) bulkInsert(ctx context.Context, query string, n int, bind func(i int) []any) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, bind(i)...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveTransactions bulk-appends transactions. Re-ingesting the same IDs is
// a no-op, so feed replays are idempotent.
func (r *SQLRepository) SaveTransactions(ctx context.Context, tenantID string, txs []domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (tenant_id, id, account_id, amount, posted_at, memo, type, user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO NOTHING
	`
	return r.bulkInsert(ctx, query, len(txs), func(i int) []any {
		t := txs[i]
		return []any{tenantID, t.ID, t.AccountID, t.Amount.String(), t.PostedAt.UTC(), t.Memo, t.Type, t.UserID}
	})
}

// ListTransactions returns all transactions for a tenant ordered by posting time.
func (r *SQLRepository) ListTransactions(ctx context.Context, tenantID string) ([]domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, account_id, amount, posted_at, memo, type, user_id
		FROM transactions
		WHERE tenant_id = ?
		ORDER BY posted_at, id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var amount string
		if err := rows.Scan(&t.ID, &t.AccountID, &amount, &t.PostedAt, &t.Memo, &t.Type, &t.UserID); err != nil {
			return nil, err
		}
		t.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: bad stored amount %q: %w", t.ID, amount, err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// SaveLoginAttempts bulk-appends login attempts.
func (r *SQLRepository) SaveLoginAttempts(ctx context.Context, tenantID string, attempts []domain.LoginAttempt) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO login_attempts (tenant_id, username, result, attempted_at, source_ip)
		VALUES (?, ?, ?, ?, ?)
	`
	return r.bulkInsert(ctx, query, len(attempts), func(i int) []any {
		a := attempts[i]
		return []any{tenantID, a.Username, a.Result, a.AttemptedAt.UTC(), a.SourceIP}
	})
}

// ListLoginAttempts returns all login attempts for a tenant ordered by time.
func (r *SQLRepository) ListLoginAttempts(ctx context.Context, tenantID string) ([]domain.LoginAttempt, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT username, result, attempted_at, source_ip
		FROM login_attempts
		WHERE tenant_id = ?
		ORDER BY attempted_at
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []domain.LoginAttempt
	for rows.Next() {
		var a domain.LoginAttempt
		if err := rows.Scan(&a.Username, &a.Result, &a.AttemptedAt, &a.SourceIP); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// SaveIdentities upserts user identities; profile fields may change between feeds.
func (r *SQLRepository) SaveIdentities(ctx context.Context, tenantID string, ids []domain.UserIdentity) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO user_identities (tenant_id, id, username, display_name, email, created_at, active, member_number)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			email = excluded.email,
			created_at = excluded.created_at,
			active = excluded.active,
			member_number = excluded.member_number
	`
	return r.bulkInsert(ctx, query, len(ids), func(i int) []any {
		u := ids[i]
		active := 0
		if u.Active {
			active = 1
		}
		return []any{tenantID, u.ID, u.Username, u.DisplayName, u.Email, u.CreatedAt.UTC(), active, u.MemberNumber}
	})
}

// ListIdentities returns all user identities for a tenant ordered by ID.
func (r *SQLRepository) ListIdentities(ctx context.Context, tenantID string) ([]domain.UserIdentity, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, username, display_name, email, created_at, active, member_number
		FROM user_identities
		WHERE tenant_id = ?
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []domain.UserIdentity
	for rows.Next() {
		var u domain.UserIdentity
		var active int
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Email, &u.CreatedAt, &active, &u.MemberNumber); err != nil {
			return nil, err
		}
		u.Active = active == 1
		ids = append(ids, u)
	}
	return ids, rows.Err()
}

// SaveCoreStatuses upserts core account statuses keyed by member number.
func (r *SQLRepository) SaveCoreStatuses(ctx context.Context, tenantID string, statuses []domain.CoreAccountStatus) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO core_account_status (tenant_id, member_number, last_modified, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, member_number) DO UPDATE SET
			last_modified = excluded.last_modified,
			opened_at = excluded.opened_at,
			closed_at = excluded.closed_at
	`
	return r.bulkInsert(ctx, query, len(statuses), func(i int) []any {
		s := statuses[i]
		var closedAt any
		if s.ClosedAt != nil {
			closedAt = s.ClosedAt.UTC()
		}
		return []any{tenantID, s.MemberNumber, s.LastModified.UTC(), s.OpenedAt.UTC(), closedAt}
	})
}

// ListCoreStatuses returns all core account statuses for a tenant.
func (r *SQLRepository) ListCoreStatuses(ctx context.Context, tenantID string) ([]domain.CoreAccountStatus, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT member_number, last_modified, opened_at, closed_at
		FROM core_account_status
		WHERE tenant_id = ?
		ORDER BY member_number
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statuses []domain.CoreAccountStatus
	for rows.Next() {
		var s domain.CoreAccountStatus
		var closedAt sql.NullTime
		if err := rows.Scan(&s.MemberNumber, &s.LastModified, &s.OpenedAt, &closedAt); err != nil {
			return nil, err
		}
		if closedAt.Valid {
			t := closedAt.Time
			s.ClosedAt = &t
		}
		statuses = append(statuses, s)
	}
	return statuses, rows.Err()
}

// SaveAccountActions bulk-appends account actions.
func (r *SQLRepository) SaveAccountActions(ctx context.Context, tenantID string, actions []domain.AccountAction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO account_actions (tenant_id, username, kind, occurred_at)
		VALUES (?, ?, ?, ?)
	`
	return r.bulkInsert(ctx, query, len(actions), func(i int) []any {
		a := actions[i]
		return []any{tenantID, a.Username, a.Kind, a.OccurredAt.UTC()}
	})
}

// ListAccountActions returns all account actions for a tenant ordered by time.
func (r *SQLRepository) ListAccountActions(ctx context.Context, tenantID string) ([]domain.AccountAction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT username, kind, occurred_at
		FROM account_actions
		WHERE tenant_id = ?
		ORDER BY occurred_at
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []domain.AccountAction
	for rows.Next() {
		var a domain.AccountAction
		if err := rows.Scan(&a.Username, &a.Kind, &a.OccurredAt); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// SaveMemberLinks bulk-appends member links; duplicates are ignored.
func (r *SQLRepository) SaveMemberLinks(ctx context.Context, tenantID string, links []domain.MemberLink) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO member_links (tenant_id, user_id, member_number, account_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant_id, user_id, member_number, account_id) DO NOTHING
	`
	return r.bulkInsert(ctx, query, len(links), func(i int) []any {
		l := links[i]
		return []any{tenantID, l.UserID, l.MemberNumber, l.AccountID}
	})
}

// ListMemberLinks returns all member links for a tenant.
func (r *SQLRepository) ListMemberLinks(ctx context.Context, tenantID string) ([]domain.MemberLink, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT user_id, member_number, account_id
		FROM member_links
		WHERE tenant_id = ?
		ORDER BY user_id, member_number, account_id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []domain.MemberLink
	for rows.Next() {
		var l domain.MemberLink
		if err := rows.Scan(&l.UserID, &l.MemberNumber, &l.AccountID); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// SaveScreenRule upserts a screening rule with tenant isolation.
func (r *SQLRepository) SaveScreenRule(ctx context.Context, tenantID string, rule *domain.ScreenRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO screen_rules (
			tenant_id, id, name, description, expression, category, severity, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			category = excluded.category,
			severity = excluded.severity,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tenantID, rule.ID, rule.Name, rule.Description,
		rule.Expression, string(rule.Category), string(rule.Severity), enabled,
		now, now,
	)
	return err
}

// ListScreenRules returns all enabled screening rules for a tenant.
func (r *SQLRepository) ListScreenRules(ctx context.Context, tenantID string) ([]*domain.ScreenRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, name, description, expression, category, severity, enabled
		FROM screen_rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ScreenRule
	for rows.Next() {
		rule := &domain.ScreenRule{TenantID: tenantID}
		var category, severity string
		var enabled int
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.Description, &rule.Expression, &category, &severity, &enabled); err != nil {
			return nil, err
		}
		rule.Category = domain.Category(category)
		rule.Severity = domain.Severity(severity)
		rule.Enabled = enabled == 1
		out = append(out, rule)
	}
	return out, rows.Err()
}

// SaveScan stores a completed scan report. Entities and skip notes are
// serialized as JSON; the report is read back whole, never queried by field.
func (r *SQLRepository) SaveScan(ctx context.Context, tenantID string, report *domain.ScanReport) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	counts, _ := json.Marshal(report.Counts)
	entities, _ := json.Marshal(report.Entities)
	skipped, _ := json.Marshal(report.Skipped)

	query := `
		INSERT INTO scans (
			tenant_id, id, as_of, started_at, completed_at, duration_ms,
			counts, alert_count, entities, skipped
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tenantID, report.ID, report.AsOf.UTC(), report.StartedAt.UTC(), report.CompletedAt.UTC(),
		report.DurationMs, string(counts), report.AlertCount, string(entities), string(skipped),
	)
	return err
}

// GetScan retrieves a scan report by ID with tenant isolation.
func (r *SQLRepository) GetScan(ctx context.Context, tenantID string, scanID string) (*domain.ScanReport, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, as_of, started_at, completed_at, duration_ms,
			   counts, alert_count, entities, skipped
		FROM scans
		WHERE tenant_id = ? AND id = ?
	`
	report := &domain.ScanReport{TenantID: tenantID}
	var counts, entities, skipped string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, scanID).Scan(
		&report.ID, &report.AsOf, &report.StartedAt, &report.CompletedAt, &report.DurationMs,
		&counts, &report.AlertCount, &entities, &skipped,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(counts), &report.Counts)
	json.Unmarshal([]byte(entities), &report.Entities)
	json.Unmarshal([]byte(skipped), &report.Skipped)

	return report, nil
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
