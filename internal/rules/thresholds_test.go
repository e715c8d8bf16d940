package rules

import (
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestQuantile(t *testing.T) {
	t.Run("Interpolation", func(t *testing.T) {
		// 24 values of 100 plus one outlier: p98 position is 0.98*24 =
		// 23.52, interpolated between sorted[23]=100 and sorted[24].
		sorted := make([]float64, 25)
		for i := 0; i < 24; i++ {
			sorted[i] = 100
		}
		sorted[24] = 1000000

		got := quantile(sorted, 0.98)
		want := 100*0.48 + 1000000*0.52
		if math.Abs(got-want) > 1e-6 {
			t.Errorf("quantile(0.98) = %v, want %v", got, want)
		}
	})

	t.Run("Midpoint", func(t *testing.T) {
		got := quantile([]float64{10, 20}, 0.5)
		if got != 15 {
			t.Errorf("quantile(0.5) = %v, want 15", got)
		}
	})

	t.Run("ExactOrderStatistic", func(t *testing.T) {
		// p*(n-1) lands exactly on index 2
		got := quantile([]float64{1, 2, 3, 4, 5}, 0.5)
		if got != 3 {
			t.Errorf("quantile(0.5) = %v, want 3", got)
		}
	})

	t.Run("Extremes", func(t *testing.T) {
		sorted := []float64{5, 10, 15}
		if got := quantile(sorted, 0); got != 5 {
			t.Errorf("quantile(0) = %v, want 5", got)
		}
		if got := quantile(sorted, 1); got != 15 {
			t.Errorf("quantile(1) = %v, want 15", got)
		}
	})

	t.Run("SingleElement", func(t *testing.T) {
		if got := quantile([]float64{42}, 0.98); got != 42 {
			t.Errorf("quantile of single element = %v, want 42", got)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		if got := quantile(nil, 0.98); !math.IsInf(got, 1) {
			t.Errorf("quantile of empty = %v, want +Inf", got)
		}
	})

	t.Run("Monotone", func(t *testing.T) {
		// Raising p can only raise or preserve the threshold.
		sorted := []float64{1, 5, 9, 50, 100, 2000, 9000}
		prev := math.Inf(-1)
		for p := 0.0; p <= 1.0; p += 0.05 {
			got := quantile(sorted, p)
			if got < prev {
				t.Errorf("quantile not monotone: q(%v)=%v < previous %v", p, got, prev)
			}
			prev = got
		}
	})
}

func TestComputeThresholds(t *testing.T) {
	t.Run("PerCurrency", func(t *testing.T) {
		batch := []domain.Transaction{
			{ID: "s1", Amount: 100, Currency: "SEK"},
			{ID: "s2", Amount: 200, Currency: "SEK"},
			{ID: "u1", Amount: 10, Currency: "USD"},
			{ID: "u2", Amount: 20, Currency: "USD"},
		}

		thr := computeThresholds(batch, 0.5)
		if got := thr.For("SEK"); got != 150 {
			t.Errorf("SEK threshold = %v, want 150", got)
		}
		if got := thr.For("USD"); got != 15 {
			t.Errorf("USD threshold = %v, want 15", got)
		}
	})

	t.Run("AbsentCurrencyIsInfinite", func(t *testing.T) {
		thr := computeThresholds([]domain.Transaction{
			{ID: "s1", Amount: 100, Currency: "SEK"},
		}, 0.98)
		if got := thr.For("JPY"); !math.IsInf(got, 1) {
			t.Errorf("Absent currency threshold = %v, want +Inf", got)
		}
	})

	t.Run("UnsortedInput", func(t *testing.T) {
		batch := []domain.Transaction{
			{ID: "a", Amount: 300, Currency: "SEK"},
			{ID: "b", Amount: 100, Currency: "SEK"},
			{ID: "c", Amount: 200, Currency: "SEK"},
		}
		thr := computeThresholds(batch, 0.5)
		if got := thr.For("SEK"); got != 200 {
			t.Errorf("SEK threshold = %v, want 200", got)
		}
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		thr := computeThresholds(nil, 0.98)
		if got := thr.For("SEK"); !math.IsInf(got, 1) {
			t.Errorf("Empty batch threshold = %v, want +Inf", got)
		}
	})
}
