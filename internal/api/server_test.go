package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"ArcFlow/internal/audit"
	"ArcFlow/internal/auth"
	"ArcFlow/internal/catalog"
	"ArcFlow/internal/merchant"
	"ArcFlow/internal/orchestrator"
	"ArcFlow/internal/selector"
	"ArcFlow/internal/settlement"
	"ArcFlow/internal/storage/mysql"
)

type captureProducer struct {
	mu     sync.Mutex
	events []audit.Event
}

func (p *captureProducer) Publish(_ context.Context, event audit.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *captureProducer) Close() error { return nil }

func (p *captureProducer) published() []audit.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]audit.Event(nil), p.events...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	source := catalog.NewStaticSource(catalog.DefaultInventory())
	registry := merchant.NewRegistry(merchant.DefaultRecords())
	sel := selector.New(source, registry, nil, selector.Config{})
	orch := orchestrator.New(nil, sel, orchestrator.WithLogger(discardLogger()))

	policy := settlement.NewPolicy(settlement.DefaultWhitelist(), 0)
	dispatcher := settlement.NewDispatcher(policy, settlement.NewSandboxBackend(),
		settlement.WithAuditLogger(discardLogger()))

	return NewServer(":0", orch, dispatcher, opts...)
}

func TestHandleOrchestrate(t *testing.T) {
	server := newTestServer(t)

	body := `{"prompt": "snacks and badges for our hackathon", "budget": 100, "strategy": "cheapest"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/procurement/orchestrate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.handleOrchestrate(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp orchestrator.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Degraded {
		t.Fatalf("missing classifier should mark the response degraded")
	}
	if len(resp.Options) == 0 || resp.TotalCost <= 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.TotalCost > 100 {
		t.Fatalf("total %v exceeds budget", resp.TotalCost)
	}
}

func TestHandleOrchestrateValidation(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/procurement/orchestrate", nil)
	rec := httptest.NewRecorder()
	server.handleOrchestrate(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d, want 405", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/procurement/orchestrate", strings.NewReader("{broken"))
	rec = httptest.NewRecorder()
	server.handleOrchestrate(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/procurement/orchestrate", strings.NewReader(`{"prompt": "", "budget": 10}`))
	rec = httptest.NewRecorder()
	server.handleOrchestrate(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty prompt status = %d, want 400", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload["code"] == "" {
		t.Fatalf("error payload missing code: %v", payload)
	}
}

func TestHandleSettleSandbox(t *testing.T) {
	producer := &captureProducer{}
	server := newTestServer(t, WithAuditProducer(producer))

	body := `{"lines": [{"vendor_id": "amazon", "price": 15}, {"vendor_id": "walmart", "price": 20}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/procurement/settle", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.handleSettle(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var receipt settlement.Receipt
	if err := json.Unmarshal(rec.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.Status != settlement.StatusSuccess || receipt.Mode != settlement.ModeSandbox {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	if len(receipt.TransactionIDs) != 2 {
		t.Fatalf("transaction ids = %v", receipt.TransactionIDs)
	}

	events := producer.published()
	if len(events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(events))
	}
	if events[0].Kind != audit.KindSettlement || events[0].Status != settlement.StatusSuccess {
		t.Fatalf("unexpected audit event: %+v", events[0])
	}
	if events[0].Total != 35 {
		t.Fatalf("audit total = %v, want 35", events[0].Total)
	}
}

func TestHandleSettlePolicyViolation(t *testing.T) {
	producer := &captureProducer{}
	server := newTestServer(t, WithAuditProducer(producer))

	body := `{"lines": [{"vendor_id": "dropship_dave", "price": 10}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/procurement/settle", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.handleSettle(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if !strings.Contains(payload["error"], "merchant not whitelisted") {
		t.Fatalf("error = %q", payload["error"])
	}

	events := producer.published()
	if len(events) != 1 || events[0].Status != "failed" || events[0].Error == "" {
		t.Fatalf("expected failed audit event, got %+v", events)
	}
}

func TestSettleRequiresCredential(t *testing.T) {
	server := newTestServer(t, WithAuth(auth.NewService("settle-key", auth.WithAuditLogger(discardLogger()))))

	handler := server.authn.Middleware("settlement")(http.HandlerFunc(server.handleSettle))
	body := `{"lines": [{"vendor_id": "amazon", "price": 15}]}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/procurement/settle", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/procurement/settle", strings.NewReader(body))
	req.Header.Set("X-API-Key", "settle-key")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleHistory(t *testing.T) {
	repo, err := mysql.NewMemoryHistoryRepository(t.TempDir())
	if err != nil {
		t.Fatalf("create repo: %v", err)
	}
	for _, id := range []string{"evt-1", "evt-2", "evt-3"} {
		if err := repo.Save(context.Background(), mysql.HistoryRecord{EventID: id, Status: "success"}); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	server := newTestServer(t, WithHistory(repo))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/procurement/history?limit=2", nil)
	rec := httptest.NewRecorder()
	server.handleHistory(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var records []mysql.HistoryRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode records: %v", err)
	}
	if len(records) != 2 || records[0].EventID != "evt-3" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestHandleHistoryDisabled(t *testing.T) {
	server := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/procurement/history", nil)
	rec := httptest.NewRecorder()
	server.handleHistory(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 when history is disabled", rec.Code)
	}
}

func TestHandleExtractFallsBack(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/procurement/extract", strings.NewReader("fake pdf bytes"))
	req.Header.Set("Content-Type", "application/pdf")
	rec := httptest.NewRecorder()
	server.handleExtract(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["intent"] != "Generic request" {
		t.Fatalf("intent = %q, want generic fallback", payload["intent"])
	}
}

func TestHandleHealth(t *testing.T) {
	server := newTestServer(t)
	rec := httptest.NewRecorder()
	server.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}
