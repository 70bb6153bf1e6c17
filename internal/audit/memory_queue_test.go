package audit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryQueueRoundTrip(t *testing.T) {
	queue := NewMemoryQueue(8)
	defer queue.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu       sync.Mutex
		received []Event
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = queue.Consume(ctx, 2, func(_ context.Context, event Event) error {
			mu.Lock()
			received = append(received, event)
			if len(received) == 3 {
				cancel()
			}
			mu.Unlock()
			return nil
		})
	}()

	for i := 0; i < 3; i++ {
		if err := queue.Publish(context.Background(), NewEvent(KindOrchestration, "success")); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("consumer did not drain the queue in time")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 3 {
		t.Fatalf("received %d events, want 3", len(received))
	}
	for _, event := range received {
		if event.ID == "" || event.Kind != KindOrchestration {
			t.Fatalf("unexpected event: %+v", event)
		}
	}
}

func TestMemoryQueuePublishAfterClose(t *testing.T) {
	queue := NewMemoryQueue(1)
	if err := queue.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := queue.Publish(context.Background(), NewEvent(KindSettlement, "failed")); err == nil {
		t.Fatalf("expected error after close")
	}
	// 重复关闭不应 panic。
	if err := queue.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestMemoryQueuePublishHonorsContext(t *testing.T) {
	queue := NewMemoryQueue(1)
	defer queue.Close()

	if err := queue.Publish(context.Background(), NewEvent(KindSettlement, "success")); err != nil {
		t.Fatalf("first publish: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := queue.Publish(ctx, NewEvent(KindSettlement, "success")); err == nil {
		t.Fatalf("expected context error on full queue")
	}
}

func TestEventEncodeDecode(t *testing.T) {
	event := NewEvent(KindSettlement, "success")
	event.Mode = "sandbox"
	event.Vendors = []string{"amazon", "walmart"}
	event.Total = 35.5
	event.TransactionIDs = []string{"0xabc"}

	payload, err := encode(event)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	restored, err := decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if restored.ID != event.ID || restored.Total != 35.5 || restored.Mode != "sandbox" {
		t.Fatalf("round trip mismatch: %+v", restored)
	}
	if _, err := decode([]byte("{broken")); err == nil {
		t.Fatalf("expected error for corrupt payload")
	}
}
