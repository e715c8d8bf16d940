// Package score orchestrates one scoring run: normalize the raw batch,
// evaluate the risk rules, persist the output, and publish events.
package score

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/normalize"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Processor runs batches through the engine and fans the results out to
// the repository, cache, and event bus. Repository, cache, and bus are
// optional: a nil component is skipped, so the processor also works as
// a pure in-memory pipeline.
type Processor struct {
	engine *rules.Engine
	repo   domain.Repository
	cache  domain.Cache
	bus    domain.EventBus

	// RunTTL bounds how long run summaries stay cached.
	RunTTL time.Duration
}

// NewProcessor creates a scoring processor.
func NewProcessor(engine *rules.Engine, repo domain.Repository, cache domain.Cache, bus domain.EventBus) *Processor {
	return &Processor{
		engine: engine,
		repo:   repo,
		cache:  cache,
		bus:    bus,
		RunTTL: 15 * time.Minute,
	}
}

// Input is one scoring request.
type Input struct {
	TenantID string
	Records  []normalize.Record

	// Config overrides the server defaults for this run. Nil means use
	// the fallback passed to Process.
	Config *domain.RiskConfig

	// AsOf is the run date; zero means now.
	AsOf time.Time
}

// Result is the outcome of one scoring run.
type Result struct {
	Run     *domain.RunSummary          `json:"run"`
	Flagged []domain.FlaggedTransaction `json:"flagged"`

	// Inserted counts flagged rows newly written to the repository;
	// re-scoring an already persisted batch reports zero.
	Inserted int `json:"inserted"`
}

// ParseRiskConfig decodes a configuration override. A malformed
// document fails open: the fallback is returned and the error logged,
// so one bad override can never block a scheduled run.
func ParseRiskConfig(raw []byte, fallback *domain.RiskConfig) *domain.RiskConfig {
	if len(raw) == 0 {
		return fallback
	}

	var cfg domain.RiskConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		slog.Warn("malformed risk config, using defaults", "error", err)
		return fallback
	}
	return &cfg
}

// Process runs one batch end to end. The only fatal error is a batch
// missing a required column; everything downstream of evaluation is
// best effort and logged.
func (p *Processor) Process(ctx context.Context, in *Input, fallback *domain.RiskConfig) (*Result, error) {
	start := time.Now()

	cfg := in.Config
	if cfg == nil {
		cfg = fallback
	}
	if cfg == nil {
		cfg = domain.DefaultRiskConfig()
	}

	asOf := in.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	batch, err := normalize.Batch(in.Records)
	if err != nil {
		return nil, err
	}

	flagged := p.engine.EvaluateAsOf(ctx, batch, cfg, asOf)

	run := &domain.RunSummary{
		ID:           uuid.New().String(),
		TenantID:     in.TenantID,
		FlaggedDate:  asOf.Format("2006-01-02"),
		Total:        len(in.Records),
		Scored:       len(batch),
		Flagged:      len(flagged),
		Timestamp:    time.Now().UTC(),
		ReasonCounts: countReasons(flagged),
	}

	inserted := p.persist(ctx, in.TenantID, batch, flagged)
	run.DurationMs = time.Since(start).Milliseconds()

	if p.repo != nil {
		if err := p.repo.SaveRun(ctx, in.TenantID, run); err != nil {
			slog.Error("failed to save run", "run_id", run.ID, "error", err)
		}
	}
	if p.cache != nil {
		if err := p.cache.SetRun(ctx, in.TenantID, run.ID, run, p.RunTTL); err != nil {
			slog.Warn("failed to cache run", "run_id", run.ID, "error", err)
		}
	}

	p.publish(ctx, in.TenantID, run, flagged)

	slog.Info("batch scored",
		"tenant_id", in.TenantID,
		"run_id", run.ID,
		"total", run.Total,
		"scored", run.Scored,
		"flagged", run.Flagged,
		"inserted", inserted,
		"duration_ms", run.DurationMs,
	)

	return &Result{Run: run, Flagged: flagged, Inserted: inserted}, nil
}

// persist stores transactions and flagged rows. Flagged inserts are
// idempotent, so re-running a batch leaves the table unchanged.
func (p *Processor) persist(ctx context.Context, tenantID string, batch []domain.Transaction, flagged []domain.FlaggedTransaction) int {
	if p.repo == nil {
		return 0
	}

	for i := range batch {
		if err := p.repo.SaveTransaction(ctx, tenantID, &batch[i]); err != nil {
			slog.Error("failed to save transaction", "tx_id", batch[i].ID, "error", err)
		}
	}

	inserted := 0
	for i := range flagged {
		ok, err := p.repo.SaveFlagged(ctx, tenantID, &flagged[i])
		if err != nil {
			slog.Error("failed to save flagged row", "tx_id", flagged[i].TransactionID, "error", err)
			continue
		}
		if ok {
			inserted++
		}
	}
	return inserted
}

func (p *Processor) publish(ctx context.Context, tenantID string, run *domain.RunSummary, flagged []domain.FlaggedTransaction) {
	if p.bus == nil {
		return
	}

	if payload, err := json.Marshal(run); err == nil {
		if err := p.bus.Publish(ctx, tenantID, domain.TopicBatchScored, payload); err != nil {
			slog.Warn("failed to publish run summary", "run_id", run.ID, "error", err)
		}
	}

	for i := range flagged {
		payload, err := json.Marshal(&flagged[i])
		if err != nil {
			continue
		}
		if err := p.bus.Publish(ctx, tenantID, domain.TopicAlertFlagged, payload); err != nil {
			slog.Warn("failed to publish alert", "tx_id", flagged[i].TransactionID, "error", err)
		}
	}
}

func countReasons(flagged []domain.FlaggedTransaction) map[string]int {
	if len(flagged) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, f := range flagged {
		counts[f.Reason]++
	}
	return counts
}
