// Package worker runs scans requested over the event bus, for deployments
// where scan triggers arrive asynchronously (schedulers, ingest completions).
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nguyendon/fraudasaurus.ai/internal/domain"
	"github.com/nguyendon/fraudasaurus.ai/internal/pipeline"
)

// Worker consumes scan requests from the EventBus and executes them.
type Worker struct {
	bus    domain.EventBus
	runner *pipeline.Runner

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to serve.
	TenantIDs []string
}

// NewWorker creates a new scan worker.
func NewWorker(bus domain.EventBus, runner *pipeline.Runner) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		runner: runner,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to scan requests for the given tenants.
func (w *Worker) Start(cfg Config) error {
	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)
	return nil
}

// startTenantWorker subscribes one tenant's scan-request topic.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicScanRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.processScanRequest(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicScanRequested,
	)
	return nil
}

// ScanRequestMessage is the payload of a scan-request event. A zero AsOf
// scans up to the time the worker picks the request up.
type ScanRequestMessage struct {
	AsOf time.Time `json:"asOf,omitempty"`
}

// processScanRequest runs one requested scan. Parse failures are dropped
// rather than retried; a malformed request never becomes valid.
func (w *Worker) processScanRequest(ctx context.Context, tenantID string, msg *domain.Message) error {
	var req ScanRequestMessage
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			slog.Error("failed to parse scan request",
				"tenant_id", tenantID,
				"message_id", msg.ID,
				"error", err,
			)
			return nil
		}
	}

	w.wg.Add(1)
	defer w.wg.Done()

	report, err := w.runner.Scan(ctx, tenantID, req.AsOf)
	if err != nil {
		slog.Error("requested scan failed",
			"tenant_id", tenantID,
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	slog.Info("requested scan completed",
		"tenant_id", tenantID,
		"scan_id", report.ID,
		"alerts", report.AlertCount,
		"entities", len(report.Entities),
	)
	return nil
}

// Stop gracefully stops all workers, waiting for in-flight scans.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
