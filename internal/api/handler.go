package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nguyendon/fraudasaurus.ai/internal/domain"
	"github.com/nguyendon/fraudasaurus.ai/internal/pipeline"
	"github.com/nguyendon/fraudasaurus.ai/internal/repository"
	"github.com/nguyendon/fraudasaurus.ai/internal/rules"
)

// scanTriggerLimit caps how many scans one tenant may trigger per minute.
const scanTriggerLimit = 10

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	screen  *rules.Engine
	runner  *pipeline.Runner
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, screen *rules.Engine, runner *pipeline.Runner, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		screen:  screen,
		runner:  runner,
		version: version,
	}
}

// ============================================================================
// INGEST HANDLERS
// ============================================================================

// IngestTransactions handles POST /transactions: a JSON array of records.
// Ingest is append-only and idempotent; replaying a batch is a no-op.
func (h *Handler) IngestTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var txs []domain.Transaction
	if !decodeBatch(w, r, &txs) {
		return
	}
	if len(txs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "request body must be a non-empty JSON array",
		})
		return
	}
	for i := range txs {
		if err := txs[i].Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "record " + err.Error(),
			})
			return
		}
	}

	if err := h.repo.SaveTransactions(ctx, tenantID, txs); err != nil {
		slog.Error("failed to save transactions", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save transactions",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"saved": len(txs)})
}

// IngestLogins handles POST /logins.
func (h *Handler) IngestLogins(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var attempts []domain.LoginAttempt
	if !decodeBatch(w, r, &attempts) {
		return
	}
	if len(attempts) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "request body must be a non-empty JSON array",
		})
		return
	}
	for i := range attempts {
		if err := attempts[i].Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "record " + err.Error(),
			})
			return
		}
	}

	if err := h.repo.SaveLoginAttempts(ctx, tenantID, attempts); err != nil {
		slog.Error("failed to save login attempts", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save login attempts",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"saved": len(attempts)})
}

// IngestIdentities handles POST /identities. Re-posting an identity ID
// upserts the record.
func (h *Handler) IngestIdentities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var ids []domain.UserIdentity
	if !decodeBatch(w, r, &ids) {
		return
	}
	if len(ids) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "request body must be a non-empty JSON array",
		})
		return
	}
	for i := range ids {
		if err := ids[i].Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "record " + err.Error(),
			})
			return
		}
	}

	if err := h.repo.SaveIdentities(ctx, tenantID, ids); err != nil {
		slog.Error("failed to save identities", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save identities",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"saved": len(ids)})
}

// IngestCoreStatuses handles POST /accounts: core-banking account statuses.
func (h *Handler) IngestCoreStatuses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var statuses []domain.CoreAccountStatus
	if !decodeBatch(w, r, &statuses) {
		return
	}
	if len(statuses) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "request body must be a non-empty JSON array",
		})
		return
	}
	for i := range statuses {
		if err := statuses[i].Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "record " + err.Error(),
			})
			return
		}
	}

	if err := h.repo.SaveCoreStatuses(ctx, tenantID, statuses); err != nil {
		slog.Error("failed to save core statuses", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save core statuses",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"saved": len(statuses)})
}

// IngestActions handles POST /actions: the optional account-action feed.
func (h *Handler) IngestActions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var actions []domain.AccountAction
	if !decodeBatch(w, r, &actions) {
		return
	}
	if len(actions) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "request body must be a non-empty JSON array",
		})
		return
	}

	if err := h.repo.SaveAccountActions(ctx, tenantID, actions); err != nil {
		slog.Error("failed to save account actions", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save account actions",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"saved": len(actions)})
}

// IngestLinks handles POST /links: the optional member-link feed.
func (h *Handler) IngestLinks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var links []domain.MemberLink
	if !decodeBatch(w, r, &links) {
		return
	}
	if len(links) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "request body must be a non-empty JSON array",
		})
		return
	}

	if err := h.repo.SaveMemberLinks(ctx, tenantID, links); err != nil {
		slog.Error("failed to save member links", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save member links",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"saved": len(links)})
}

// ============================================================================
// SCAN HANDLERS
// ============================================================================

// ScanRequest is the request body for POST /scans. Both fields are optional:
// a zero asOf scans up to now, and async defers the scan to a worker.
type ScanRequest struct {
	AsOf  time.Time `json:"asOf,omitempty"`
	Async bool      `json:"async,omitempty"`
}

// TriggerScan handles POST /scans. Synchronous by default; with async the
// request is queued on the event bus and a worker picks it up.
func (h *Handler) TriggerScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req ScanRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}

	// Rate-limit scan triggers per tenant; a scan reads every record the
	// tenant has.
	if h.cache != nil {
		n, err := h.cache.IncrementCounter(ctx, tenantID, "scan-trigger", time.Minute)
		if err == nil && n > scanTriggerLimit {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "scan trigger rate limit exceeded",
			})
			return
		}
	}

	if req.Async {
		if h.bus == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "async scans require an event bus",
			})
			return
		}
		payload, _ := json.Marshal(map[string]any{"asOf": req.AsOf})
		if err := h.bus.Publish(ctx, tenantID, domain.TopicScanRequested, payload); err != nil {
			slog.Error("failed to queue scan", "tenant_id", tenantID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to queue scan",
			})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}

	report, err := h.runner.Scan(ctx, tenantID, req.AsOf)
	if err != nil {
		slog.Error("scan failed", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "scan failed",
		})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetScan handles GET /scans/{id}. Recent reports are served from cache.
func (h *Handler) GetScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	scanID := chi.URLParam(r, "id")

	report := h.lookupScan(w, ctx, tenantID, scanID)
	if report == nil {
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetScanEntities handles GET /scans/{id}/entities, optionally filtered by
// ?tier=critical|high|medium|low.
func (h *Handler) GetScanEntities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	scanID := chi.URLParam(r, "id")

	report := h.lookupScan(w, ctx, tenantID, scanID)
	if report == nil {
		return
	}

	entities := report.Entities
	if tier := r.URL.Query().Get("tier"); tier != "" {
		filtered := make([]domain.ScoredEntity, 0, len(entities))
		for _, e := range entities {
			if e.Tier == domain.Tier(tier) {
				filtered = append(filtered, e)
			}
		}
		entities = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"scanId":   report.ID,
		"entities": entities,
		"count":    len(entities),
	})
}

// lookupScan resolves a scan report, writing the error response itself and
// returning nil when the caller should stop.
func (h *Handler) lookupScan(w http.ResponseWriter, ctx context.Context, tenantID, scanID string) *domain.ScanReport {
	if scanID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "scan id is required",
		})
		return nil
	}

	if h.cache != nil {
		if report, err := h.cache.GetScan(ctx, tenantID, scanID); err == nil && report != nil {
			return report
		}
	}

	report, err := h.repo.GetScan(ctx, tenantID, scanID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "scan not found",
			})
			return nil
		}
		slog.Error("failed to get scan", "tenant_id", tenantID, "scan_id", scanID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get scan",
		})
		return nil
	}
	return report
}

// ============================================================================
// SCREENING RULE HANDLERS
// ============================================================================

// ListRules returns the tenant's screening rules from the database.
// Rules are loaded into the engine at the start of every scan.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	ruleList, err := h.repo.ListScreenRules(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list screen rules", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": ruleList,
		"count": len(ruleList),
	})
}

// GetRule retrieves one screening rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	ruleList, err := h.repo.ListScreenRules(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list screen rules", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rules",
		})
		return
	}
	for _, rule := range ruleList {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a screening rule.
type CreateRuleRequest struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Expression  string          `json:"expression"`
	Category    domain.Category `json:"category"`
	Severity    domain.Severity `json:"severity"`
	Enabled     bool            `json:"enabled"`
}

// CreateRule validates and persists a screening rule. The rule takes effect
// on the next scan; POST /rules/reload applies it to the engine immediately.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}
	// An unrecognized severity would score zero and its matches would
	// vanish from every report.
	if !req.Severity.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "severity must be one of critical, high, medium, low",
		})
		return
	}
	if !req.Category.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "category must be one of structuring, account_takeover, dormant_abuse, multi_identity",
		})
		return
	}

	rule := &domain.ScreenRule{
		ID:          req.ID,
		TenantID:    tenantID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Category:    req.Category,
		Severity:    req.Severity,
		Enabled:     req.Enabled,
	}

	// Reject expressions that do not compile to a boolean.
	if h.screen != nil {
		if err := h.screen.ValidateRule(rule); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid CEL expression: " + err.Error(),
			})
			return
		}
	}

	if err := h.repo.SaveScreenRule(ctx, tenantID, rule); err != nil {
		slog.Error("failed to save screen rule", "tenant_id", tenantID, "rule_id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	slog.Info("screen rule created", "tenant_id", tenantID, "rule_id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule created. It applies from the next scan.",
	})
}

// ReloadRules reloads the tenant's screening rules from the database into
// the engine without waiting for the next scan.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.screen == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "screening engine not available",
		})
		return
	}

	ruleList, err := h.repo.ListScreenRules(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list screen rules", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.screen.ReloadRules(ruleList); err != nil {
		slog.Error("failed to reload screen rules", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("screen rules reloaded", "tenant_id", tenantID, "count", len(ruleList))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   len(ruleList),
	})
}

// ============================================================================
// HEALTH HANDLERS
// ============================================================================

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// decodeBatch parses a JSON array request body, writing a 400 on failure.
func decodeBatch(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
