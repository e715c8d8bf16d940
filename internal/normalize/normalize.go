// Package normalize maps heterogeneous input records onto the canonical
// transaction schema.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrMissingColumn is returned when a required column cannot be resolved
// from any of its known aliases. Normalization cannot proceed partially,
// so this aborts the whole batch.
var ErrMissingColumn = errors.New("missing required column")

// Record is one raw input row: column name to raw value.
type Record map[string]string

var (
	fromAliases = []string{"from_account", "sender_account_id", "sender_account", "sender_account_number"}
	toAliases   = []string{"to_account", "receiver_account_id", "receiver_account", "receiver_account_number"}
)

// timestampLayouts are tried in order; anything else parses to nil.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Batch normalizes a raw batch. Records whose amount fails numeric
// coercion are dropped from scoring without error; an unparsable
// timestamp becomes nil and disables time-dependent rules for that
// record only. A batch where transaction_id or currency cannot be
// resolved fails with ErrMissingColumn.
func Batch(records []Record) ([]domain.Transaction, error) {
	out := make([]domain.Transaction, 0, len(records))

	for i, rec := range records {
		id, ok := first(rec, "transaction_id", "id")
		if !ok {
			return nil, fmt.Errorf("record %d: %w: transaction_id or id", i, ErrMissingColumn)
		}

		currency, ok := rec["currency"]
		if !ok {
			return nil, fmt.Errorf("record %d: %w: currency", i, ErrMissingColumn)
		}

		amount, err := strconv.ParseFloat(strings.TrimSpace(rec["amount"]), 64)
		if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) {
			continue
		}

		tx := domain.Transaction{
			ID:              id,
			Timestamp:       parseTimestamp(rec["timestamp"]),
			Amount:          amount,
			Currency:        currency,
			SenderCountry:   rec["sender_country"],
			ReceiverCountry: rec["receiver_country"],
			Notes:           rec["notes"],
		}
		if v, ok := first(rec, fromAliases...); ok {
			tx.FromAccount = v
		}
		if v, ok := first(rec, toAliases...); ok {
			tx.ToAccount = v
		}

		out = append(out, tx)
	}

	return out, nil
}

// first returns the value of the first alias present in the record.
// Presence of the column counts even when the value is empty.
func first(rec Record, aliases ...string) (string, bool) {
	for _, a := range aliases {
		if v, ok := rec[a]; ok {
			return v, true
		}
	}
	return "", false
}

func parseTimestamp(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}
