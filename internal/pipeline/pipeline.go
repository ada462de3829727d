// Package pipeline orchestrates batch fraud scans: load a snapshot, run
// every detector plus tenant screening rules concurrently, score the joined
// alerts, then persist and publish the report.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nguyendon/fraudasaurus.ai/internal/detect"
	"github.com/nguyendon/fraudasaurus.ai/internal/domain"
	"github.com/nguyendon/fraudasaurus.ai/internal/rules"
	"github.com/nguyendon/fraudasaurus.ai/internal/scoring"
)

// scanCacheTTL is how long completed reports stay in the cache layer.
const scanCacheTTL = time.Hour

// Runner executes scans against one repository. It is safe for concurrent
// use; each Scan call works on its own snapshot.
type Runner struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	screen    *rules.Engine
	scorer    *scoring.Engine
	detectors []detect.Detector
	logger    *slog.Logger
}

// NewRunner wires the standard detector set. Cache and bus may be nil for
// one-shot batch runs; screening is skipped when screen is nil.
func NewRunner(repo domain.Repository, cache domain.Cache, eventBus domain.EventBus, screen *rules.Engine, th domain.Thresholds, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		repo:   repo,
		cache:  cache,
		bus:    eventBus,
		screen: screen,
		scorer: scoring.NewEngine(),
		detectors: []detect.Detector{
			detect.NewStructuring(th),
			detect.NewTakeover(th),
			detect.NewDormant(th),
			detect.NewMultiIdentity(th),
		},
		logger: logger,
	}
}

// Scan runs one batch scan for a tenant. A zero asOf means "now". The scan
// always produces a report; missing optional inputs surface as skip notes,
// never as errors.
func (r *Runner) Scan(ctx context.Context, tenantID string, asOf time.Time) (*domain.ScanReport, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	started := time.Now().UTC()
	if asOf.IsZero() {
		asOf = started
	}
	asOf = asOf.UTC()

	snap, notes, err := r.loadSnapshot(ctx, tenantID, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	screenNotes := r.reloadScreenRules(ctx, tenantID)
	notes = append(notes, screenNotes...)

	r.logger.Info("scan started",
		"tenant_id", tenantID,
		"as_of", asOf,
		"transactions", len(snap.Transactions),
		"logins", len(snap.Logins),
		"identities", len(snap.Identities),
	)

	// Fan out detectors plus screening; results land in fixed slots so the
	// join order, and therefore the report, is deterministic.
	results := make([]*detect.Result, len(r.detectors))
	var screened []domain.Alert
	var wg sync.WaitGroup

	for i, d := range r.detectors {
		wg.Add(1)
		go func(idx int, d detect.Detector) {
			defer wg.Done()
			start := time.Now()
			results[idx] = d.Detect(ctx, snap)
			r.logger.Debug("detector finished",
				"tenant_id", tenantID,
				"detector", d.Name(),
				"alerts", len(results[idx].Alerts),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}(i, d)
	}
	if r.screen != nil && r.screen.RulesCount() > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			screened = r.screen.Screen(ctx, snap.Transactions)
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var alerts []domain.Alert
	for _, res := range results {
		alerts = append(alerts, res.Alerts...)
		notes = append(notes, res.Skipped...)
	}
	alerts = append(alerts, screened...)

	entities := r.scorer.Score(alerts)

	completed := time.Now().UTC()
	report := &domain.ScanReport{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		AsOf:        asOf,
		StartedAt:   started,
		CompletedAt: completed,
		DurationMs:  completed.Sub(started).Milliseconds(),
		Counts: domain.RecordCounts{
			Transactions: len(snap.Transactions),
			Logins:       len(snap.Logins),
			Identities:   len(snap.Identities),
			CoreAccounts: len(snap.CoreAccounts),
			Actions:      len(snap.Actions),
			Links:        len(snap.Links),
		},
		AlertCount: len(alerts),
		Entities:   entities,
		Skipped:    notes,
	}

	if err := r.repo.SaveScan(ctx, tenantID, report); err != nil {
		return nil, fmt.Errorf("failed to save scan: %w", err)
	}
	if r.cache != nil {
		if err := r.cache.SetScan(ctx, tenantID, report, scanCacheTTL); err != nil {
			r.logger.Warn("failed to cache scan", "tenant_id", tenantID, "scan_id", report.ID, "error", err)
		}
	}
	r.publish(ctx, tenantID, report)

	r.logger.Info("scan completed",
		"tenant_id", tenantID,
		"scan_id", report.ID,
		"alerts", report.AlertCount,
		"entities", len(report.Entities),
		"duration_ms", report.DurationMs,
	)
	return report, nil
}

// loadSnapshot materializes all input collections. Records that fail
// validation are dropped with a warning; the scan proceeds on the rest.
func (r *Runner) loadSnapshot(ctx context.Context, tenantID string, asOf time.Time) (*domain.Snapshot, []string, error) {
	var notes []string

	txs, err := r.repo.ListTransactions(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	logins, err := r.repo.ListLoginAttempts(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	identities, err := r.repo.ListIdentities(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	statuses, err := r.repo.ListCoreStatuses(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	actions, err := r.repo.ListAccountActions(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	links, err := r.repo.ListMemberLinks(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}

	snap := &domain.Snapshot{AsOf: asOf}
	dropped := 0

	for _, t := range txs {
		if err := t.Validate(); err != nil {
			r.logger.Warn("dropping invalid transaction", "tenant_id", tenantID, "error", err)
			dropped++
			continue
		}
		snap.Transactions = append(snap.Transactions, t)
	}
	for _, l := range logins {
		if err := l.Validate(); err != nil {
			r.logger.Warn("dropping invalid login attempt", "tenant_id", tenantID, "error", err)
			dropped++
			continue
		}
		snap.Logins = append(snap.Logins, l)
	}
	for _, id := range identities {
		if err := id.Validate(); err != nil {
			r.logger.Warn("dropping invalid identity", "tenant_id", tenantID, "error", err)
			dropped++
			continue
		}
		snap.Identities = append(snap.Identities, id)
	}
	for _, s := range statuses {
		if err := s.Validate(); err != nil {
			r.logger.Warn("dropping invalid core status", "tenant_id", tenantID, "error", err)
			dropped++
			continue
		}
		snap.CoreAccounts = append(snap.CoreAccounts, s)
	}
	if dropped > 0 {
		notes = append(notes, fmt.Sprintf("input: dropped %d invalid records", dropped))
	}

	// Empty collaborator tables count as absent; detectors skip the rules
	// that need them.
	if len(actions) > 0 {
		snap.Actions = actions
	}
	if len(links) > 0 {
		snap.Links = links
	}
	return snap, notes, nil
}

// reloadScreenRules loads the tenant's screening rules into the engine.
// A rule that no longer compiles is skipped with a note so one bad rule
// cannot block the whole scan.
func (r *Runner) reloadScreenRules(ctx context.Context, tenantID string) []string {
	if r.screen == nil {
		return nil
	}

	stored, err := r.repo.ListScreenRules(ctx, tenantID)
	if err != nil {
		r.logger.Warn("failed to list screen rules", "tenant_id", tenantID, "error", err)
		return []string{"screening: rules unavailable, screening skipped"}
	}

	var notes []string
	valid := make([]*domain.ScreenRule, 0, len(stored))
	for _, rule := range stored {
		if err := r.screen.ValidateRule(rule); err != nil {
			r.logger.Warn("skipping screen rule", "tenant_id", tenantID, "rule_id", rule.ID, "error", err)
			notes = append(notes, fmt.Sprintf("screening: rule %s failed to compile", rule.ID))
			continue
		}
		valid = append(valid, rule)
	}
	if err := r.screen.ReloadRules(valid); err != nil {
		r.logger.Error("failed to reload screen rules", "tenant_id", tenantID, "error", err)
		notes = append(notes, "screening: reload failed, screening skipped")
	}
	return notes
}

// publish emits the completion event plus one alert event per critical
// entity. Publish failures are logged, never fatal: the report is already
// persisted.
func (r *Runner) publish(ctx context.Context, tenantID string, report *domain.ScanReport) {
	if r.bus == nil {
		return
	}

	summary, _ := json.Marshal(map[string]any{
		"scanId":     report.ID,
		"asOf":       report.AsOf,
		"alertCount": report.AlertCount,
		"entities":   len(report.Entities),
		"durationMs": report.DurationMs,
	})
	if err := r.bus.Publish(ctx, tenantID, domain.TopicScanCompleted, summary); err != nil {
		r.logger.Warn("failed to publish scan completion", "tenant_id", tenantID, "error", err)
	}

	for _, entity := range scoring.CriticalEntities(report.Entities) {
		payload, _ := json.Marshal(entity)
		if err := r.bus.Publish(ctx, tenantID, domain.TopicAlert, payload); err != nil {
			r.logger.Warn("failed to publish alert",
				"tenant_id", tenantID,
				"subject", entity.Subject.Key(),
				"error", err,
			)
		}
	}
}
