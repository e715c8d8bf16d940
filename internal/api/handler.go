package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/normalize"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/score"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *rules.Engine
	processor *score.Processor
	riskCfg   *domain.RiskConfig
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, processor *score.Processor, riskCfg *domain.RiskConfig, version string) *Handler {
	if riskCfg == nil {
		riskCfg = domain.DefaultRiskConfig()
	}
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		engine:    engine,
		processor: processor,
		riskCfg:   riskCfg,
		version:   version,
	}
}

// ScoreRequest is the request body for POST /score.
type ScoreRequest struct {
	// Records are raw rows keyed by their source column names; the
	// normalizer maps aliases onto the canonical schema.
	Records []normalize.Record `json:"records"`

	// Config optionally overrides the server's risk configuration for
	// this run. A malformed document falls back to the defaults.
	Config json.RawMessage `json:"config,omitempty"`

	// AsOf optionally pins the run date (RFC 3339). Defaults to now.
	AsOf string `json:"asOf,omitempty"`
}

// ScoreResponse is the response for POST /score.
type ScoreResponse struct {
	Run      *domain.RunSummary          `json:"run"`
	Flagged  []domain.FlaggedTransaction `json:"flagged"`
	Inserted int                         `json:"inserted"`
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Score handles POST /score requests: one batch in, flagged rows out.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if len(req.Records) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "records is required",
		})
		return
	}

	input := &score.Input{
		TenantID: tenantID,
		Records:  req.Records,
		Config:   nil,
	}

	if len(req.Config) > 0 {
		input.Config = score.ParseRiskConfig(req.Config, h.riskCfg)
	}

	if req.AsOf != "" {
		asOf, err := time.Parse(time.RFC3339, req.AsOf)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "asOf must be RFC 3339",
			})
			return
		}
		input.AsOf = asOf.UTC()
	}

	result, err := h.processor.Process(ctx, input, h.riskCfg)
	if err != nil {
		// A missing required column is the only fatal batch error.
		if errors.Is(err, normalize.ErrMissingColumn) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("batch scoring failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "batch scoring failed",
		})
		return
	}

	resp := ScoreResponse{
		Run:      result.Run,
		Flagged:  result.Flagged,
		Inserted: result.Inserted,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// ValidateConfig handles POST /config/validate: it reports whether a
// risk configuration document parses cleanly and whether its custom
// rules compile. The scoring path itself never rejects a bad config,
// this endpoint exists so operators can catch mistakes up front.
func (h *Handler) ValidateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg domain.RiskConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"valid": false,
			"error": "malformed config: " + err.Error(),
		})
		return
	}

	var issues []string
	for ccy, band := range cfg.StructuringByCurrency {
		if !band.Valid() {
			issues = append(issues, "structuring band for "+ccy+" has lo > hi and never matches")
		}
	}
	for _, rule := range cfg.CustomRules {
		if !rule.Enabled {
			continue
		}
		if err := h.engine.ValidateCustomRule(rule); err != nil {
			issues = append(issues, "custom rule "+rule.ID+": "+err.Error())
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"valid":  len(issues) == 0,
		"issues": issues,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetRun retrieves a run summary by ID, cache first.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")

	if runID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "run id is required",
		})
		return
	}

	if h.cache != nil {
		if run, err := h.cache.GetRun(ctx, tenantID, runID); err == nil && run != nil {
			writeJSON(w, http.StatusOK, run)
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	run, err := h.repo.GetRun(ctx, tenantID, runID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get run", "id", runID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "run not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// ListFlagged retrieves flagged rows, optionally filtered by the
// date query parameter (YYYY-MM-DD).
func (h *Handler) ListFlagged(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	date := r.URL.Query().Get("date")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	flagged, err := h.repo.ListFlagged(ctx, tenantID, date)
	if err != nil {
		slog.Error("failed to list flagged transactions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list flagged transactions",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"flagged": flagged,
		"count":   len(flagged),
	})
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	tx, err := h.repo.GetTransaction(ctx, tenantID, txID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get transaction", "id", txID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
