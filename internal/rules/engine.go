// Package rules implements the batch risk-flagging engine: percentile
// thresholds, seven built-in detection rules, CEL extension rules, and
// the gating/reason combinator.
package rules

import (
	"context"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var tracer = otel.Tracer("kestrel-rules")

// Engine scores batches of normalized transactions against a RiskConfig.
// It owns no batch state: every Evaluate call builds its thresholds and
// masks from scratch, so independent batches may be scored in parallel
// on one Engine.
type Engine struct {
	maxWorkers int

	env      *cel.Env
	mu       sync.Mutex
	programs map[string]cel.Program // compiled custom rules, keyed by expression
}

// NewEngine creates a new scoring engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := newCustomEnv()
	if err != nil {
		return nil, err
	}

	return &Engine{
		maxWorkers: maxWorkers,
		env:        env,
		programs:   make(map[string]cel.Program),
	}, nil
}

// Evaluate scores one batch with today's date as the flagged date.
func (e *Engine) Evaluate(ctx context.Context, batch []domain.Transaction, cfg *domain.RiskConfig) []domain.FlaggedTransaction {
	return e.EvaluateAsOf(ctx, batch, cfg, time.Now().UTC())
}

// EvaluateAsOf scores one batch with an explicit run date. Scoring the
// same (batch, configuration, date) twice yields identical output.
func (e *Engine) EvaluateAsOf(ctx context.Context, batch []domain.Transaction, cfg *domain.RiskConfig, runDate time.Time) []domain.FlaggedTransaction {
	_, span := tracer.Start(ctx, "rules.Evaluate")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.size", len(batch)))

	if len(batch) == 0 {
		return []domain.FlaggedTransaction{}
	}

	// Thresholds are computed independently per configured percentile;
	// high-amount and cross-border may differ.
	highThr := computeThresholds(batch, cfg.HighAmountP)
	crossThr := computeThresholds(batch, cfg.CrossBorderP)

	customs := e.compileCustom(cfg.CustomRules)

	m := &maskSet{custom: make([]customMask, len(customs))}

	// The evaluators read the same immutable batch and write disjoint
	// masks, so they run concurrently behind a semaphore. Gating and
	// union happen strictly after all masks complete.
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	run := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			f()
		}()
	}

	run(func() { m.high = ruleHighAmount(batch, highThr) })
	run(func() { m.crossBorder = ruleCrossBorder(batch, crossThr) })
	run(func() { m.structuring = ruleStructuring(batch, cfg.StructuringByCurrency) })
	run(func() { m.keyword = ruleKeyword(batch, cfg.Keywords) })
	run(func() { m.velocity = ruleVelocity(batch, cfg.VelocityWindowHours, cfg.VelocityMinTx) })
	run(func() { m.pingPong = rulePingPong(batch, cfg.PingPongDays, cfg.PingPongMinPairs) })
	for i, c := range customs {
		i, c := i, c
		run(func() { m.custom[i] = customMask{rule: c.rule, mask: evalCustomMask(c, batch)} })
	}
	wg.Wait()

	// New-counterparty reads the high mask when its gate is set, so it
	// runs after the base masks.
	m.newCp = ruleNewCounterparty(batch, cfg.NewCounterpartyDays, cfg.RequireHighForNewCounterparty, m.high)

	applyGates(cfg, m)

	flagged := assemble(batch, cfg, m, runDate.Format("2006-01-02"))
	span.SetAttributes(attribute.Int("batch.flagged", len(flagged)))
	return flagged
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.programs = make(map[string]cel.Program)
	return nil
}
