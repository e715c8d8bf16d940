package domain

import "time"

// RunSummary describes one completed scoring run.
type RunSummary struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	FlaggedDate string    `json:"flaggedDate"`
	Total       int       `json:"total"`
	Scored      int       `json:"scored"`
	Flagged     int       `json:"flagged"`
	Timestamp   time.Time `json:"timestamp"`
	DurationMs  int64     `json:"durationMs"`

	// ReasonCounts maps each reason string to the number of flagged rows
	// carrying it.
	ReasonCounts map[string]int `json:"reasonCounts,omitempty"`
}
