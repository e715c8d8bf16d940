// Package ingest reads and cleans the raw CSV exports before scoring.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/normalize"
)

// AllowedCurrencies limits transaction imports to the currencies the
// bank actually clears.
var AllowedCurrencies = map[string]bool{
	"SEK": true,
	"USD": true,
	"EUR": true,
	"GBP": true,
	"NOK": true,
	"DKK": true,
}

// CleanStats counts rows surviving each cleaning step.
type CleanStats struct {
	Read        int `json:"read"`
	BadAmount   int `json:"badAmount"`
	BadCurrency int `json:"badCurrency"`
	BadFormat   int `json:"badFormat"`
	Duplicates  int `json:"duplicates"`
	Kept        int `json:"kept"`
}

// ReadTransactions reads a transaction CSV and applies the cleaning
// rules: amount must parse and be at least 0.01, currency must be on
// the allow-list, notes are never null, and transaction ids are unique
// (first occurrence wins). The surviving rows come back as raw records
// for the normalizer.
func ReadTransactions(path string) ([]normalize.Record, CleanStats, error) {
	var stats CleanStats

	f, err := os.Open(path)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to open transactions file: %w", err)
	}
	defer f.Close()

	header, rows, err := readAll(f)
	if err != nil {
		return nil, stats, err
	}

	idCol := ""
	for _, c := range []string{"transaction_id", "id"} {
		if contains(header, c) {
			idCol = c
			break
		}
	}
	if idCol == "" {
		return nil, stats, fmt.Errorf("transactions file: %w: transaction_id or id", normalize.ErrMissingColumn)
	}

	records := make([]normalize.Record, 0, len(rows))
	seen := make(map[string]bool)

	for _, row := range rows {
		stats.Read++
		rec := toRecord(header, row)

		amount, err := strconv.ParseFloat(strings.TrimSpace(rec["amount"]), 64)
		if err != nil || amount < 0.01 {
			stats.BadAmount++
			continue
		}
		if ccy, ok := rec["currency"]; ok && !AllowedCurrencies[ccy] {
			stats.BadCurrency++
			continue
		}
		if _, ok := rec["notes"]; !ok {
			rec["notes"] = ""
		}

		id := strings.TrimSpace(rec[idCol])
		if seen[id] {
			stats.Duplicates++
			continue
		}
		seen[id] = true

		records = append(records, rec)
	}

	stats.Kept = len(records)
	return records, stats, nil
}

// ReadCustomers reads a customer CSV and applies the cleaning rules:
// name and bank account must be non-empty, the phone is either empty or
// at least 7 characters, the personnummer follows XXXXXX-XXXX, and each
// account keeps its first customer.
func ReadCustomers(path string) ([]domain.Customer, CleanStats, error) {
	var stats CleanStats

	f, err := os.Open(path)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to open customers file: %w", err)
	}
	defer f.Close()

	header, rows, err := readAll(f)
	if err != nil {
		return nil, stats, err
	}

	customers := make([]domain.Customer, 0, len(rows))
	seenAccount := make(map[string]bool)

	for _, row := range rows {
		stats.Read++
		rec := toRecord(header, row)

		c := domain.Customer{
			Name:         strings.TrimSpace(rec["Customer"]),
			Personnummer: strings.TrimSpace(rec["Personnummer"]),
			BankAccount:  strings.TrimSpace(rec["BankAccount"]),
			Address:      rec["Address"],
			Phone:        strings.TrimSpace(rec["Phone"]),
		}

		if c.Name == "" || c.BankAccount == "" {
			stats.BadFormat++
			continue
		}
		if c.Phone != "" && len(c.Phone) < 7 {
			stats.BadFormat++
			continue
		}
		if !validPersonnummer(c.Personnummer) {
			stats.BadFormat++
			continue
		}
		if seenAccount[c.BankAccount] {
			stats.Duplicates++
			continue
		}
		seenAccount[c.BankAccount] = true

		customers = append(customers, c)
	}

	stats.Kept = len(customers)
	return customers, stats, nil
}

// validPersonnummer checks the simple XXXXXX-XXXX shape.
func validPersonnummer(s string) bool {
	return len(s) == 11 && s[6] == '-'
}

func readAll(r io.Reader) ([]string, [][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	var rows [][]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read CSV row: %w", err)
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

func toRecord(header []string, row []string) normalize.Record {
	rec := make(normalize.Record, len(header))
	for i, col := range header {
		if i < len(row) {
			rec[col] = row[i]
		}
	}
	return rec
}

func contains(cols []string, name string) bool {
	for _, c := range cols {
		if c == name {
			return true
		}
	}
	return false
}
