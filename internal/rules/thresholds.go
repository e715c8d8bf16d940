package rules

import (
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Thresholds holds per-currency percentile thresholds computed from one
// batch. They are recomputed every call and never shared across runs.
type Thresholds map[string]float64

// For returns the threshold for a currency. Currencies absent from the
// batch get +Inf, so amount rules can never trigger for them.
func (t Thresholds) For(currency string) float64 {
	if v, ok := t[currency]; ok {
		return v
	}
	return math.Inf(1)
}

// computeThresholds calculates the value at percentile p of each
// currency's amounts, using linear interpolation between order
// statistics (index = p*(n-1)).
func computeThresholds(batch []domain.Transaction, p float64) Thresholds {
	byCurrency := make(map[string][]float64)
	for _, tx := range batch {
		byCurrency[tx.Currency] = append(byCurrency[tx.Currency], tx.Amount)
	}

	out := make(Thresholds, len(byCurrency))
	for currency, amounts := range byCurrency {
		sort.Float64s(amounts)
		out[currency] = quantile(amounts, p)
	}
	return out
}

// quantile interpolates linearly between the two order statistics
// surrounding p*(n-1). The input must be sorted.
func quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.Inf(1)
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	pos := p * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
