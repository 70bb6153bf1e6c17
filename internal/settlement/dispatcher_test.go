package settlement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	xerrors "ArcFlow/internal/errors"
)

// fakeBackend 记录调度器的调用序列，用于验证序号与批次行为。
type fakeBackend struct {
	mode          Mode
	startSequence uint64
	pingErr       error
	failAtSubmit  int

	pingCalls int
	seqCalls  int
	submits   []Transfer
}

func (b *fakeBackend) Mode() Mode { return b.mode }

func (b *fakeBackend) Ping(_ context.Context) error {
	b.pingCalls++
	return b.pingErr
}

func (b *fakeBackend) NextSequence(_ context.Context) (uint64, error) {
	b.seqCalls++
	return b.startSequence, nil
}

func (b *fakeBackend) Submit(_ context.Context, transfer Transfer) (string, error) {
	if b.failAtSubmit > 0 && len(b.submits)+1 == b.failAtSubmit {
		return "", errors.New("nonce too low")
	}
	b.submits = append(b.submits, transfer)
	return "0xtx" + transfer.VendorID, nil
}

func (b *fakeBackend) Close() {}

func newTestDispatcher(backend Backend) *Dispatcher {
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDispatcher(NewPolicy(DefaultWhitelist(), 0), backend, WithAuditLogger(discard))
}

func TestSettleAggregatesAndIncrementsSequence(t *testing.T) {
	backend := &fakeBackend{mode: ModeLive, startSequence: 7}
	dispatcher := newTestDispatcher(backend)

	receipt, err := dispatcher.Settle(context.Background(), []Line{
		{VendorID: "amazon", Price: 10},
		{VendorID: "walmart", Price: 20},
		{VendorID: "amazon", Price: 5},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.Status != StatusSuccess || receipt.Mode != ModeLive {
		t.Fatalf("unexpected receipt header: %+v", receipt)
	}
	if backend.seqCalls != 1 {
		t.Fatalf("NextSequence called %d times, want exactly 1", backend.seqCalls)
	}
	if len(backend.submits) != 2 {
		t.Fatalf("expected 2 transfers, got %d", len(backend.submits))
	}

	first, second := backend.submits[0], backend.submits[1]
	if first.VendorID != "amazon" || first.Amount != 15 {
		t.Fatalf("first transfer = %+v, want amazon $15", first)
	}
	if second.VendorID != "walmart" || second.Amount != 20 {
		t.Fatalf("second transfer = %+v, want walmart $20", second)
	}
	if first.Sequence != 7 || second.Sequence != 8 {
		t.Fatalf("sequences = %d, %d, want 7, 8", first.Sequence, second.Sequence)
	}
	if first.Recipient != DefaultWhitelist()["amazon"] {
		t.Fatalf("recipient = %s, want whitelist address", first.Recipient)
	}
	if len(receipt.TransactionIDs) != 2 {
		t.Fatalf("transaction ids = %v", receipt.TransactionIDs)
	}
}

func TestSettleSkipsZeroAmountWithoutConsumingSequence(t *testing.T) {
	backend := &fakeBackend{mode: ModeLive, startSequence: 3}
	dispatcher := newTestDispatcher(backend)

	receipt, err := dispatcher.Settle(context.Background(), []Line{
		{VendorID: "amazon", Price: 0},
		{VendorID: "walmart", Price: 12},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(backend.submits) != 1 {
		t.Fatalf("expected 1 transfer, got %d", len(backend.submits))
	}
	if backend.submits[0].VendorID != "walmart" || backend.submits[0].Sequence != 3 {
		t.Fatalf("zero amount entry must not consume a sequence: %+v", backend.submits[0])
	}
	if len(receipt.TransactionIDs) != 1 {
		t.Fatalf("transaction ids = %v", receipt.TransactionIDs)
	}
}

func TestSettlePolicyFailureHasNoSideEffects(t *testing.T) {
	backend := &fakeBackend{mode: ModeLive}
	dispatcher := newTestDispatcher(backend)

	_, err := dispatcher.Settle(context.Background(), []Line{
		{VendorID: "dropship_dave", Price: 10},
	})
	if err == nil {
		t.Fatalf("expected policy violation")
	}
	if xerrors.CodeOf(err) != xerrors.CodePolicyViolation {
		t.Fatalf("code = %s, want policy violation", xerrors.CodeOf(err))
	}
	if backend.pingCalls != 0 || backend.seqCalls != 0 || len(backend.submits) != 0 {
		t.Fatalf("backend touched before policy passed: %+v", backend)
	}
}

func TestSettleAbortsBatchOnSubmitFailure(t *testing.T) {
	backend := &fakeBackend{mode: ModeLive, failAtSubmit: 2}
	dispatcher := newTestDispatcher(backend)

	_, err := dispatcher.Settle(context.Background(), []Line{
		{VendorID: "amazon", Price: 10},
		{VendorID: "walmart", Price: 20},
		{VendorID: "tech_direct", Price: 30},
	})
	if err == nil {
		t.Fatalf("expected settlement failure")
	}
	if xerrors.CodeOf(err) != xerrors.CodeSettlementFailure {
		t.Fatalf("code = %s, want settlement failure", xerrors.CodeOf(err))
	}
	if !strings.Contains(err.Error(), "walmart") {
		t.Fatalf("error should name the failing vendor: %v", err)
	}
	// 第一笔已提交，第三笔不应再尝试。
	if len(backend.submits) != 1 || backend.submits[0].VendorID != "amazon" {
		t.Fatalf("unexpected submits after failure: %+v", backend.submits)
	}
}

func TestSettleLivePingFailure(t *testing.T) {
	backend := &fakeBackend{mode: ModeLive, pingErr: errors.New("connection refused")}
	dispatcher := newTestDispatcher(backend)

	_, err := dispatcher.Settle(context.Background(), []Line{{VendorID: "amazon", Price: 10}})
	if err == nil {
		t.Fatalf("expected error when the network is unreachable")
	}
	if backend.seqCalls != 0 {
		t.Fatalf("sequence must not be fetched when ping fails")
	}
}

func TestSettleSandboxSkipsPing(t *testing.T) {
	backend := &fakeBackend{mode: ModeSandbox, pingErr: errors.New("should not be called")}
	dispatcher := newTestDispatcher(backend)

	receipt, err := dispatcher.Settle(context.Background(), []Line{{VendorID: "amazon", Price: 10}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend.pingCalls != 0 {
		t.Fatalf("sandbox settlement must not ping the network")
	}
	if receipt.Mode != ModeSandbox {
		t.Fatalf("mode = %s, want sandbox", receipt.Mode)
	}

	var sawHint, sawComplete bool
	for _, line := range receipt.Logs {
		if strings.Contains(line, "sandbox mode") {
			sawHint = true
		}
		if strings.Contains(line, "simulated settlement complete") {
			sawComplete = true
		}
	}
	if !sawHint || !sawComplete {
		t.Fatalf("sandbox logs incomplete: %v", receipt.Logs)
	}
}

func TestSettleWithSandboxBackend(t *testing.T) {
	dispatcher := newTestDispatcher(NewSandboxBackend())

	receipt, err := dispatcher.Settle(context.Background(), []Line{
		{VendorID: "amazon", Price: 10},
		{VendorID: "walmart", Price: 20},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(receipt.TransactionIDs) != 2 {
		t.Fatalf("expected 2 synthetic transactions, got %v", receipt.TransactionIDs)
	}
	for _, txID := range receipt.TransactionIDs {
		if !strings.HasPrefix(txID, "0x") || len(txID) != 34 {
			t.Fatalf("unexpected synthetic tx id: %s", txID)
		}
	}
}

func TestSettleUninitializedDispatcher(t *testing.T) {
	dispatcher := &Dispatcher{}
	if _, err := dispatcher.Settle(context.Background(), []Line{{VendorID: "amazon", Price: 1}}); err == nil {
		t.Fatalf("expected initialization error")
	}
}
