// Package worker provides async batch processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/normalize"
	"github.com/opensource-finance/kestrel/internal/score"
)

// Worker consumes ingested batches from the EventBus and runs them
// through the scoring processor.
type Worker struct {
	bus       domain.EventBus
	processor *score.Processor
	riskCfg   *domain.RiskConfig

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string

	// WorkerCount is the number of concurrent workers per tenant
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, processor *score.Processor, riskCfg *domain.RiskConfig) *Worker {
	if riskCfg == nil {
		riskCfg = domain.DefaultRiskConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		processor: processor,
		riskCfg:   riskCfg,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins processing batches for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

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

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" tenant ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicBatchIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicBatchIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processBatch(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicBatchIngested,
	)

	return nil
}

// handleMessage handles messages from global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processBatch(ctx, msg.TenantID, msg)
}

// BatchMessage is the payload published on the batch-ingested topic.
type BatchMessage struct {
	TenantID string             `json:"tenantId"`
	TraceID  string             `json:"traceId,omitempty"`
	Records  []normalize.Record `json:"records"`

	// Config optionally overrides the worker's risk configuration.
	// Malformed overrides fall back to the defaults.
	Config json.RawMessage `json:"config,omitempty"`

	// AsOf optionally pins the run date (RFC 3339).
	AsOf string `json:"asOf,omitempty"`
}

// processBatch scores one ingested batch.
func (w *Worker) processBatch(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var batchMsg BatchMessage
	if err := json.Unmarshal(msg.Payload, &batchMsg); err != nil {
		slog.Error("failed to parse batch message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if batchMsg.TenantID != "" {
		tenantID = batchMsg.TenantID
	}

	slog.Debug("processing batch",
		"tenant_id", tenantID,
		"records", len(batchMsg.Records),
		"trace_id", batchMsg.TraceID,
	)

	input := &score.Input{
		TenantID: tenantID,
		Records:  batchMsg.Records,
	}
	if len(batchMsg.Config) > 0 {
		input.Config = score.ParseRiskConfig(batchMsg.Config, w.riskCfg)
	}
	if batchMsg.AsOf != "" {
		if asOf, err := time.Parse(time.RFC3339, batchMsg.AsOf); err == nil {
			input.AsOf = asOf.UTC()
		} else {
			slog.Warn("invalid asOf in batch message, using now",
				"as_of", batchMsg.AsOf,
			)
		}
	}

	result, err := w.processor.Process(ctx, input, w.riskCfg)
	if err != nil {
		slog.Error("batch scoring failed",
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	slog.Info("batch processed",
		"tenant_id", tenantID,
		"run_id", result.Run.ID,
		"scored", result.Run.Scored,
		"flagged", result.Run.Flagged,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
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
