package worker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/normalize"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/score"
)

// outlierBatch returns records where one SEK amount towers over the
// rest, so the p98 threshold flags exactly that record.
func outlierBatch() []normalize.Record {
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

func TestWorker(t *testing.T) {
	// Create channel bus
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	engine, _ := rules.NewEngine(5)
	processor := score.NewProcessor(engine, nil, nil, eventBus)
	riskCfg := domain.DefaultRiskConfig()

	// Create worker
	worker := NewWorker(eventBus, processor, riskCfg)

	t.Run("StartAndStop", func(t *testing.T) {
		cfg := Config{
			TenantIDs:   []string{"tenant-001"},
			WorkerCount: 1,
		}

		err := worker.Start(cfg)
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := worker.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}

		err = worker.Stop()
		if err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = worker.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessBatch", func(t *testing.T) {
		// Create fresh worker for this test
		w := NewWorker(eventBus, processor, riskCfg)

		cfg := Config{
			TenantIDs: []string{"tenant-test"},
		}
		w.Start(cfg)
		defer w.Stop()

		// Track published run summaries
		var scoredReceived atomic.Bool
		var scoredPayload []byte

		eventBus.Subscribe(context.Background(), "tenant-test", domain.TopicBatchScored, func(ctx context.Context, msg *domain.Message) error {
			scoredPayload = msg.Payload
			scoredReceived.Store(true)
			return nil
		})

		// Allow subscriptions to be active
		time.Sleep(50 * time.Millisecond)

		batchMsg := BatchMessage{
			TenantID: "tenant-test",
			TraceID:  "trace-001",
			Records:  outlierBatch(),
		}

		payload, _ := json.Marshal(batchMsg)
		err := eventBus.Publish(context.Background(), "tenant-test", domain.TopicBatchIngested, payload)
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Wait for processing
		time.Sleep(100 * time.Millisecond)

		if !scoredReceived.Load() {
			t.Error("expected run summary to be published")
		}

		if scoredPayload != nil {
			var run domain.RunSummary
			if err := json.Unmarshal(scoredPayload, &run); err != nil {
				t.Fatalf("failed to parse run summary: %v", err)
			}

			if run.TenantID != "tenant-test" {
				t.Errorf("expected tenantID 'tenant-test', got '%s'", run.TenantID)
			}
			if run.Scored != 25 {
				t.Errorf("expected 25 scored, got %d", run.Scored)
			}
			if run.Flagged != 1 {
				t.Errorf("expected 1 flagged, got %d", run.Flagged)
			}
		}
	})

	t.Run("AlertPublished", func(t *testing.T) {
		w := NewWorker(eventBus, processor, riskCfg)

		cfg := Config{
			TenantIDs: []string{"tenant-alert"},
		}
		w.Start(cfg)
		defer w.Stop()

		// Track alerts
		var alertReceived atomic.Bool
		var alertPayload []byte

		eventBus.Subscribe(context.Background(), "tenant-alert", domain.TopicAlertFlagged, func(ctx context.Context, msg *domain.Message) error {
			alertPayload = msg.Payload
			alertReceived.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		batchMsg := BatchMessage{
			TenantID: "tenant-alert",
			Records:  outlierBatch(),
		}

		payload, _ := json.Marshal(batchMsg)
		eventBus.Publish(context.Background(), "tenant-alert", domain.TopicBatchIngested, payload)

		time.Sleep(100 * time.Millisecond)

		if !alertReceived.Load() {
			t.Error("expected alert to be published for flagged transaction")
		}

		if alertPayload != nil {
			var flagged domain.FlaggedTransaction
			if err := json.Unmarshal(alertPayload, &flagged); err != nil {
				t.Fatalf("failed to parse alert: %v", err)
			}
			if flagged.TransactionID != "tx-big" {
				t.Errorf("expected tx-big in alert, got '%s'", flagged.TransactionID)
			}
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, processor, riskCfg)

		cfg := Config{
			TenantIDs: []string{"tenant-a", "tenant-b"},
		}
		w.Start(cfg)
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions for 2 tenants, got %d", stats.SubscriptionCount)
		}
	})
}

func TestBatchMessageParsing(t *testing.T) {
	msg := BatchMessage{
		TenantID: "tenant-001",
		TraceID:  "trace-456",
		Records: []normalize.Record{
			{"transaction_id": "tx-1", "amount": "100", "currency": "SEK"},
		},
		AsOf: "2026-03-10T00:00:00Z",
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var parsed BatchMessage
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if parsed.TenantID != msg.TenantID {
		t.Errorf("expected TenantID '%s', got '%s'", msg.TenantID, parsed.TenantID)
	}
	if len(parsed.Records) != 1 || parsed.Records[0]["transaction_id"] != "tx-1" {
		t.Errorf("records not preserved: %+v", parsed.Records)
	}
	if parsed.AsOf != msg.AsOf {
		t.Errorf("expected AsOf '%s', got '%s'", msg.AsOf, parsed.AsOf)
	}
}
