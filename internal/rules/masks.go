package rules

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// The seven built-in evaluators. Each is a pure function of the
// normalized batch and configuration, producing a boolean mask aligned
// 1:1 with the batch. No evaluator observes another's output; gating
// happens afterwards in combine.go.

func ruleHighAmount(batch []domain.Transaction, thr Thresholds) []bool {
	mask := make([]bool, len(batch))
	for i, tx := range batch {
		mask[i] = tx.Amount >= thr.For(tx.Currency)
	}
	return mask
}

// ruleCrossBorder flags transactions whose sender and receiver country
// differ (case-sensitive) and whose amount clears the cross-border
// percentile threshold.
func ruleCrossBorder(batch []domain.Transaction, thr Thresholds) []bool {
	mask := make([]bool, len(batch))
	for i, tx := range batch {
		mask[i] = tx.SenderCountry != tx.ReceiverCountry && tx.Amount >= thr.For(tx.Currency)
	}
	return mask
}

// ruleStructuring flags amounts inside the closed per-currency band.
// A currency absent from the map never matches; a malformed band fails
// open to never matching.
func ruleStructuring(batch []domain.Transaction, bands map[string]domain.Band) []bool {
	mask := make([]bool, len(batch))
	if len(bands) == 0 {
		return mask
	}
	for i, tx := range batch {
		band, ok := bands[tx.Currency]
		if !ok || !band.Valid() {
			continue
		}
		mask[i] = tx.Amount >= band.Lo && tx.Amount <= band.Hi
	}
	return mask
}

// ruleKeyword flags notes containing any configured keyword as a
// case-insensitive literal substring. Keywords are escaped before being
// joined into a single alternation, so regex metacharacters in the
// configuration cannot change the match semantics.
func ruleKeyword(batch []domain.Transaction, keywords []string) []bool {
	mask := make([]bool, len(batch))
	if len(keywords) == 0 {
		return mask
	}

	quoted := make([]string, len(keywords))
	for i, kw := range keywords {
		quoted[i] = regexp.QuoteMeta(kw)
	}
	pattern, err := regexp.Compile("(?i)" + strings.Join(quoted, "|"))
	if err != nil {
		return mask
	}

	for i, tx := range batch {
		mask[i] = pattern.MatchString(tx.Notes)
	}
	return mask
}

// ruleVelocity flags a transaction when its from_account has at least
// minTx transactions (itself included) inside the sliding window
// [t-hours, t]. Implemented as a per-account time sort plus a
// two-pointer scan; never pairwise comparison.
func ruleVelocity(batch []domain.Transaction, hours, minTx int) []bool {
	mask := make([]bool, len(batch))
	if hours <= 0 || minTx <= 0 {
		return mask
	}

	groups := make(map[string][]int)
	for i, tx := range batch {
		if tx.FromAccount == "" || tx.Timestamp == nil {
			continue
		}
		groups[tx.FromAccount] = append(groups[tx.FromAccount], i)
	}

	window := time.Duration(hours) * time.Hour
	for _, idxs := range groups {
		sort.SliceStable(idxs, func(a, b int) bool {
			return batch[idxs[a]].Timestamp.Before(*batch[idxs[b]].Timestamp)
		})

		left := 0
		for j := range idxs {
			t := *batch[idxs[j]].Timestamp
			for t.Sub(*batch[idxs[left]].Timestamp) > window {
				left++
			}
			if j-left+1 >= minTx {
				mask[idxs[j]] = true
			}
		}
	}
	return mask
}

type pairKey struct {
	from string
	to   string
}

type pairEvent struct {
	idx int
	t   time.Time
}

// rulePingPong flags A->B transactions with a B->A return at or before
// their timestamp and within the day tolerance. Events are grouped per
// directional pair and time-sorted, then each pair's stream is merged
// against its reversed stream with two pointers: every event probes the
// nearest not-yet-exceeded opposite-direction event. When minPairs > 1,
// directional pairs with fewer qualifying returns are excluded entirely.
func rulePingPong(batch []domain.Transaction, days, minPairs int) []bool {
	mask := make([]bool, len(batch))
	if days < 0 {
		return mask
	}

	groups := make(map[pairKey][]pairEvent)
	for i, tx := range batch {
		if tx.Timestamp == nil {
			continue
		}
		key := pairKey{tx.FromAccount, tx.ToAccount}
		groups[key] = append(groups[key], pairEvent{i, *tx.Timestamp})
	}
	for key := range groups {
		evs := groups[key]
		sort.SliceStable(evs, func(a, b int) bool { return evs[a].t.Before(evs[b].t) })
		groups[key] = evs
	}

	tolerance := time.Duration(days) * 24 * time.Hour
	matched := make(map[pairKey]int)

	for key, evs := range groups {
		rev := groups[pairKey{key.to, key.from}]
		if len(rev) == 0 {
			continue
		}

		r := 0
		for _, e := range evs {
			for r < len(rev) && !rev[r].t.After(e.t) {
				r++
			}
			if r > 0 && e.t.Sub(rev[r-1].t) <= tolerance {
				mask[e.idx] = true
				matched[key]++
			}
		}
	}

	if minPairs > 1 {
		for key, evs := range groups {
			if c := matched[key]; c > 0 && c < minPairs {
				for _, e := range evs {
					mask[e.idx] = false
				}
			}
		}
	}

	return mask
}

// ruleNewCounterparty flags the first transaction ever for an ordered
// (from, to) pair within the batch, and any transaction whose gap since
// the pair's previous transaction is at least the configured number of
// days. Records without timestamps sort last; they can still be "first
// ever" for their pair, but gaps involving them never flag.
func ruleNewCounterparty(batch []domain.Transaction, days int, requireHigh bool, high []bool) []bool {
	mask := make([]bool, len(batch))
	if len(batch) == 0 {
		return mask
	}

	order := make([]int, len(batch))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ta, tb := batch[order[a]].Timestamp, batch[order[b]].Timestamp
		switch {
		case ta == nil:
			return false
		case tb == nil:
			return true
		default:
			return ta.Before(*tb)
		}
	})

	gap := time.Duration(days) * 24 * time.Hour
	prev := make(map[pairKey]*time.Time)
	seen := make(map[pairKey]bool)

	for _, i := range order {
		tx := batch[i]
		key := pairKey{tx.FromAccount, tx.ToAccount}

		if !seen[key] {
			mask[i] = true
		} else if p := prev[key]; p != nil && tx.Timestamp != nil && tx.Timestamp.Sub(*p) >= gap {
			mask[i] = true
		}

		seen[key] = true
		prev[key] = tx.Timestamp
	}

	if requireHigh {
		for i := range mask {
			mask[i] = mask[i] && high[i]
		}
	}
	return mask
}
