package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// maskSet carries the verdict of every evaluator for one batch.
// Masks are written by independent goroutines into disjoint fields and
// only read after all evaluators complete.
type maskSet struct {
	high        []bool
	crossBorder []bool
	structuring []bool
	keyword     []bool
	velocity    []bool
	pingPong    []bool
	newCp       []bool

	custom []customMask
}

type customMask struct {
	rule domain.CustomRule
	mask []bool
}

// applyGates applies the combination logic in its fixed order. Each gate
// is optional and ANDs one mask with another; the order matters because
// cross-border is gated against both high-amount and structuring.
func applyGates(cfg *domain.RiskConfig, m *maskSet) {
	if cfg.RequireHighForKeyword {
		for i := range m.keyword {
			m.keyword[i] = m.keyword[i] && m.high[i]
		}
	}
	if cfg.RequireHighForCrossBorder {
		for i := range m.crossBorder {
			m.crossBorder[i] = m.crossBorder[i] && m.high[i]
		}
	}
	if cfg.ExcludeStructuringFromCrossBorder {
		for i := range m.crossBorder {
			m.crossBorder[i] = m.crossBorder[i] && !m.structuring[i]
		}
	}
}

// assemble unions the gated masks, builds each flagged record's reason
// string in fixed rule order, deduplicates exact rows, and applies the
// optional per-reason cap. Every output row corresponds to at least one
// true mask; an all-false row reaching output is a bug.
func assemble(batch []domain.Transaction, cfg *domain.RiskConfig, m *maskSet, flaggedDate string) []domain.FlaggedTransaction {
	flagged := make([]domain.FlaggedTransaction, 0)
	seen := make(map[domain.FlaggedTransaction]struct{})

	for i, tx := range batch {
		reasons := reasonsFor(i, tx, cfg, m)
		if len(reasons) == 0 {
			continue
		}

		row := domain.FlaggedTransaction{
			TransactionID: tx.ID,
			Reason:        strings.Join(reasons, ", "),
			FlaggedDate:   flaggedDate,
			Amount:        tx.Amount,
		}
		if _, dup := seen[row]; dup {
			continue
		}
		seen[row] = struct{}{}
		flagged = append(flagged, row)
	}

	if cfg.CapPerReason > 0 {
		flagged = capPerReason(flagged, cfg.CapPerReason)
	}
	return flagged
}

// reasonsFor collects the reason fragment of every true mask for record
// i, in the fixed rule order.
func reasonsFor(i int, tx domain.Transaction, cfg *domain.RiskConfig, m *maskSet) []string {
	var reasons []string

	if m.high[i] {
		reasons = append(reasons, fmt.Sprintf("High amount vs p%g (per currency)", cfg.HighAmountP*100))
	}
	if m.crossBorder[i] {
		reasons = append(reasons, "High-value cross-border (strict)")
	}
	if m.structuring[i] {
		if band, ok := cfg.StructuringByCurrency[tx.Currency]; ok {
			reasons = append(reasons, fmt.Sprintf("Structuring band %g-%g %s", band.Lo, band.Hi, tx.Currency))
		}
	}
	if m.keyword[i] {
		if cfg.RequireHighForKeyword {
			reasons = append(reasons, "Keyword + high amount")
		} else {
			reasons = append(reasons, "Keyword match in notes")
		}
	}
	if m.velocity[i] {
		reasons = append(reasons, fmt.Sprintf("High velocity >= %d tx/%dh", cfg.VelocityMinTx, cfg.VelocityWindowHours))
	}
	if m.pingPong[i] {
		reasons = append(reasons, fmt.Sprintf("Ping-pong (return within %dd)", cfg.PingPongDays))
	}
	if m.newCp[i] {
		extra := ""
		if cfg.RequireHighForNewCounterparty {
			extra = " + high amount"
		}
		reasons = append(reasons, fmt.Sprintf("New counterparty (>%dd)%s", cfg.NewCounterpartyDays, extra))
	}

	for _, cm := range m.custom {
		if cm.mask[i] {
			reason := cm.rule.Reason
			if reason == "" {
				reason = cm.rule.ID
			}
			reasons = append(reasons, reason)
		}
	}

	return reasons
}

// capPerReason keeps at most n rows per reason group, highest amount
// first with ties broken by original order. Groups are capped
// independently; rows from uncapped groups are untouched.
func capPerReason(flagged []domain.FlaggedTransaction, n int) []domain.FlaggedTransaction {
	ranked := make([]domain.FlaggedTransaction, len(flagged))
	copy(ranked, flagged)
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].Amount > ranked[b].Amount
	})

	kept := make([]domain.FlaggedTransaction, 0, len(ranked))
	perReason := make(map[string]int)
	for _, row := range ranked {
		if perReason[row.Reason] >= n {
			continue
		}
		perReason[row.Reason]++
		kept = append(kept, row)
	}
	return kept
}
