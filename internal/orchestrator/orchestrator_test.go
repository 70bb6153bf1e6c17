package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"ArcFlow/internal/audit"
	"ArcFlow/internal/catalog"
	"ArcFlow/internal/classifier"
	xerrors "ArcFlow/internal/errors"
	"ArcFlow/internal/merchant"
	"ArcFlow/internal/selector"
)

type stubClassifier struct {
	result *classifier.Result
	err    error
	calls  int
}

func (s *stubClassifier) Classify(_ context.Context, _ string) (*classifier.Result, error) {
	s.calls++
	return s.result, s.err
}

type stubVision struct {
	intent string
	err    error
}

func (s *stubVision) ExtractIntent(_ context.Context, _ []byte, _ string) (string, error) {
	return s.intent, s.err
}

type captureProducer struct {
	events []audit.Event
}

func (p *captureProducer) Publish(_ context.Context, event audit.Event) error {
	p.events = append(p.events, event)
	return nil
}

func (p *captureProducer) Close() error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(client classifier.Client, opts ...Option) *Orchestrator {
	source := catalog.NewStaticSource(catalog.DefaultInventory())
	registry := merchant.NewRegistry(merchant.DefaultRecords())
	sel := selector.New(source, registry, nil, selector.Config{})
	opts = append(opts, WithLogger(discardLogger()))
	return New(client, sel, opts...)
}

func TestExecuteHappyPath(t *testing.T) {
	stub := &stubClassifier{result: &classifier.Result{
		Categories: []string{"snacks", "badges"},
		Telemetry:  classifier.Telemetry{Model: "test-model", TokensUsed: 31},
	}}
	orch := newTestOrchestrator(stub)

	resp, err := orch.Execute(context.Background(), Request{Prompt: "snacks and badges for the office", Budget: 100, Strategy: "cheapest"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Degraded {
		t.Fatalf("healthy classification should not be degraded")
	}
	if len(resp.Categories) != 2 {
		t.Fatalf("categories = %v", resp.Categories)
	}
	if len(resp.Options) != 2 {
		t.Fatalf("expected 2 cart lines, got %d", len(resp.Options))
	}
	if resp.TotalCost != 23 {
		t.Fatalf("total = %v, want 23 (chips $18 + name tags $5)", resp.TotalCost)
	}
	if resp.Telemetry.Model != "test-model" || resp.Telemetry.TokensUsed != 31 {
		t.Fatalf("telemetry not propagated: %+v", resp.Telemetry)
	}
}

func TestExecuteFallsBackWhenClassifierFails(t *testing.T) {
	stub := &stubClassifier{err: errors.New("connection reset")}
	orch := newTestOrchestrator(stub)

	resp, err := orch.Execute(context.Background(), Request{Prompt: "office supplies", Budget: 100})
	if err != nil {
		t.Fatalf("classification failure must not fail the call: %v", err)
	}
	if !resp.Degraded {
		t.Fatalf("expected degraded response")
	}
	want := classifier.FallbackCategories()
	if len(resp.Categories) != len(want) {
		t.Fatalf("categories = %v, want fallback %v", resp.Categories, want)
	}
	for i := range want {
		if resp.Categories[i] != want[i] {
			t.Fatalf("categories = %v, want fallback %v", resp.Categories, want)
		}
	}
}

func TestExecuteFallsBackWithoutClassifier(t *testing.T) {
	orch := newTestOrchestrator(nil)

	resp, err := orch.Execute(context.Background(), Request{Prompt: "office supplies", Budget: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Degraded {
		t.Fatalf("missing classifier should degrade, not fail")
	}
}

func TestExecuteFallsBackOnEmptyCategories(t *testing.T) {
	stub := &stubClassifier{result: &classifier.Result{Categories: nil}}
	orch := newTestOrchestrator(stub)

	resp, err := orch.Execute(context.Background(), Request{Prompt: "office supplies", Budget: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Degraded {
		t.Fatalf("empty categories should trigger the fallback")
	}
}

func TestExecuteAugmentsEventKeywords(t *testing.T) {
	stub := &stubClassifier{result: &classifier.Result{Categories: []string{"snacks"}}}
	orch := newTestOrchestrator(stub)

	resp, err := orch.Execute(context.Background(), Request{Prompt: "Supplies for our Hackathon next week", Budget: 500, Strategy: "cheapest"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// snacks + 活动类补充类目（去重后）。
	want := map[string]bool{"snacks": false, "badges": false, "adapters": false, "prizes": false}
	for _, line := range resp.Options {
		for _, item := range catalog.DefaultInventory() {
			if item.ID == line.ID {
				want[item.Category] = true
			}
		}
	}
	for category, found := range want {
		if !found {
			t.Fatalf("category %s missing from augmented selection: %+v", category, resp.Options)
		}
	}
}

func TestExecuteReturnsNormalizedCategories(t *testing.T) {
	// 分类结果与关键字扩充叠加后包含重复且超过类目上限，
	// 响应里的类目必须是选品实际处理的归一化序列。
	stub := &stubClassifier{result: &classifier.Result{
		Categories: []string{"snacks", "cables", "mugs", "posters", "plants"},
	}}
	orch := newTestOrchestrator(stub)

	resp, err := orch.Execute(context.Background(), Request{Prompt: "gear for the team event", Budget: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"snacks", "cables", "mugs", "posters", "plants", "badges"}
	if len(resp.Categories) != len(want) {
		t.Fatalf("categories = %v, want %v", resp.Categories, want)
	}
	seen := make(map[string]bool, len(resp.Categories))
	for i, category := range resp.Categories {
		if category != want[i] {
			t.Fatalf("categories = %v, want %v", resp.Categories, want)
		}
		if seen[category] {
			t.Fatalf("duplicate category %q in response: %v", category, resp.Categories)
		}
		seen[category] = true
	}
}

func TestExecuteValidation(t *testing.T) {
	orch := newTestOrchestrator(&stubClassifier{})

	_, err := orch.Execute(context.Background(), Request{Prompt: "   ", Budget: 100})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("empty prompt: code = %s, want invalid argument", xerrors.CodeOf(err))
	}

	_, err = orch.Execute(context.Background(), Request{Prompt: "snacks", Budget: -1})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("negative budget: code = %s, want invalid argument", xerrors.CodeOf(err))
	}
}

func TestExecuteZeroBudget(t *testing.T) {
	stub := &stubClassifier{result: &classifier.Result{Categories: []string{"snacks"}}}
	orch := newTestOrchestrator(stub)

	resp, err := orch.Execute(context.Background(), Request{Prompt: "snacks", Budget: 0})
	if err != nil {
		t.Fatalf("zero budget is a valid request: %v", err)
	}
	if len(resp.Options) != 0 || resp.TotalCost != 0 {
		t.Fatalf("expected empty cart, got %+v", resp)
	}
}

func TestExecutePublishesAuditEvents(t *testing.T) {
	producer := &captureProducer{}
	stub := &stubClassifier{err: errors.New("down")}
	orch := newTestOrchestrator(stub, WithAuditProducer(producer))

	if _, err := orch.Execute(context.Background(), Request{Prompt: "snacks", Budget: 100}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(producer.events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(producer.events))
	}
	event := producer.events[0]
	if event.Kind != audit.KindOrchestration {
		t.Fatalf("kind = %s", event.Kind)
	}
	if event.Status != "degraded" {
		t.Fatalf("status = %s, want degraded", event.Status)
	}
	if event.ID == "" {
		t.Fatalf("event id must be set")
	}
}

func TestExtractIntent(t *testing.T) {
	orch := newTestOrchestrator(nil, WithVisionClient(&stubVision{intent: "  Buy 50 badges.  "}))
	if got := orch.ExtractIntent(context.Background(), []byte("doc"), "application/pdf"); got != "Buy 50 badges." {
		t.Fatalf("intent = %q", got)
	}

	orch = newTestOrchestrator(nil, WithVisionClient(&stubVision{err: errors.New("quota")}))
	if got := orch.ExtractIntent(context.Background(), []byte("doc"), "application/pdf"); got != classifier.DefaultIntent {
		t.Fatalf("failed extraction should fall back, got %q", got)
	}

	orch = newTestOrchestrator(nil)
	if got := orch.ExtractIntent(context.Background(), []byte("doc"), "application/pdf"); got != classifier.DefaultIntent {
		t.Fatalf("missing vision client should fall back, got %q", got)
	}

	orch = newTestOrchestrator(nil, WithVisionClient(&stubVision{intent: "ignored"}))
	if got := orch.ExtractIntent(context.Background(), nil, ""); got != classifier.DefaultIntent {
		t.Fatalf("empty document should fall back, got %q", got)
	}
}
