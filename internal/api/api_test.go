package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/normalize"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/score"
)

// createTestServer creates a server with engine and processor but no
// repository, cache, or bus. The processor skips nil components.
func createTestServer() *Server {
	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	engine, _ := rules.NewEngine(5)
	processor := score.NewProcessor(engine, nil, nil, nil)

	return NewServer(cfg, nil, nil, nil, engine, processor, domain.DefaultRiskConfig(), "test-v1")
}

// smallBatch returns records where one SEK amount towers over the rest,
// so the p98 threshold flags exactly that record.
func smallBatch() []normalize.Record {
	records := make([]normalize.Record, 0, 25)
	for i := 0; i < 24; i++ {
		records = append(records, normalize.Record{
			"transaction_id": "tx-" + string(rune('a'+i)),
			"amount":         "100",
			"currency":       "SEK",
		})
	}
	records = append(records, normalize.Record{
		"transaction_id": "tx-big",
		"amount":         "1000000",
		"currency":       "SEK",
	})
	return records
}

func TestScoreEndpoint(t *testing.T) {
	server := createTestServer()

	t.Run("SuccessfulScoring", func(t *testing.T) {
		reqBody := ScoreRequest{Records: smallBatch()}

		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp ScoreResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.Run == nil || resp.Run.ID == "" {
			t.Fatal("expected run summary in response")
		}
		if resp.Run.Total != 25 || resp.Run.Scored != 25 {
			t.Errorf("expected 25 total/scored, got %d/%d", resp.Run.Total, resp.Run.Scored)
		}
		if len(resp.Flagged) != 1 || resp.Flagged[0].TransactionID != "tx-big" {
			t.Errorf("expected tx-big flagged, got %+v", resp.Flagged)
		}
		if resp.Metadata.Version != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp.Metadata.Version)
		}
		if resp.Metadata.TraceID == "" {
			t.Error("expected traceId in metadata")
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "application/json")
		// No X-Tenant-ID header

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBufferString("not-json"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("EmptyRecords", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBufferString(`{"records":[]}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingRequiredColumn", func(t *testing.T) {
		reqBody := ScoreRequest{
			Records: []normalize.Record{
				{"transaction_id": "tx-1", "amount": "100"}, // no currency
			},
		}
		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("MalformedConfigFailsOpen", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{
			"records": smallBatch(),
			"config":  "not-an-object",
		})
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200 with fallback config, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("InvalidAsOf", func(t *testing.T) {
		reqBody := ScoreRequest{Records: smallBatch(), AsOf: "yesterday"}
		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		reqBody := ScoreRequest{Records: smallBatch()}
		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestValidateConfigEndpoint(t *testing.T) {
	server := createTestServer()

	post := func(body string) map[string]any {
		req := httptest.NewRequest(http.MethodPost, "/config/validate", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		var resp map[string]any
		json.Unmarshal(rr.Body.Bytes(), &resp)
		return resp
	}

	t.Run("ValidConfig", func(t *testing.T) {
		resp := post(`{"highAmountP":0.95,"keywords":["crypto"]}`)
		if resp["valid"] != true {
			t.Errorf("expected valid config, got %v", resp)
		}
	})

	t.Run("MalformedJSON", func(t *testing.T) {
		resp := post(`{`)
		if resp["valid"] != false {
			t.Errorf("expected invalid config, got %v", resp)
		}
	})

	t.Run("InvertedBand", func(t *testing.T) {
		resp := post(`{"structuringByCurrency":{"SEK":{"lo":9999,"hi":9500}}}`)
		if resp["valid"] != false {
			t.Errorf("expected invalid config for inverted band, got %v", resp)
		}
	})

	t.Run("BadCustomRule", func(t *testing.T) {
		resp := post(`{"customRules":[{"id":"r1","expression":"amount +","enabled":true}]}`)
		if resp["valid"] != false {
			t.Errorf("expected invalid config for broken expression, got %v", resp)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer()

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TenantMiddlewareExtractsID", func(t *testing.T) {
		var capturedTenantID string

		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTenantID = GetTenantID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Tenant-ID", "my-tenant-123")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedTenantID != "my-tenant-123" {
			t.Errorf("expected tenant ID 'my-tenant-123', got '%s'", capturedTenantID)
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
