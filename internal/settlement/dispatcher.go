package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	xerrors "ArcFlow/internal/errors"
	"ArcFlow/pkg/logger"
)

// StatusSuccess 是结算成功时返回的状态值。
const StatusSuccess = "success"

// Dispatcher 执行策略校验、按供应商聚合，并逐笔提交转账。
// 每次调用都是无状态的独立单元：VALIDATE -> AGGREGATE ->
// (SANDBOX | LIVE) -> COMPLETE。
//
// 前置条件：LIVE 模式下同一发送账户同一时刻只允许一个结算调用
//（单写者假设），并发调用会导致序号冲突，本设计不做跨调用加锁。
type Dispatcher struct {
	policy  *Policy
	backend Backend
	audit   *slog.Logger
}

// Option 定义可选的调度器配置。
type Option func(*Dispatcher)

// WithAuditLogger 覆盖默认的审计日志输出。
func WithAuditLogger(audit *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.audit = audit
	}
}

// NewDispatcher 创建结算调度器。
func NewDispatcher(policy *Policy, backend Backend, opts ...Option) *Dispatcher {
	d := &Dispatcher{policy: policy, backend: backend}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.audit == nil {
		d.audit = logger.Audit()
	}
	return d
}

// Settle 对最终购物车执行一次结算。
//
// 序号在调用开始时获取一次，之后每成功提交一笔本地加一，
// 批次中途绝不重新查询网络，避免外部并发读造成空洞或冲突。
// 单笔提交失败时立即放弃剩余批次：已提交的转账不可回滚，
// 这是记录在案的限制而非缺陷。
func (d *Dispatcher) Settle(ctx context.Context, lines []Line) (*Receipt, error) {
	if d.policy == nil || d.backend == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "结算调度器未初始化")
	}

	// VALIDATE：策略不通过时直接终止，尚无任何副作用。
	if err := d.policy.Check(lines); err != nil {
		return nil, err
	}

	// AGGREGATE：按供应商首次出现的顺序聚合。
	entries := aggregate(lines, d.policy)
	mode := d.backend.Mode()

	logs := []string{
		fmt.Sprintf("ArcFlow safety kernel: policy check PASSED (mode=%s)", mode),
		fmt.Sprintf("  whitelist: %s", strings.Join(d.policy.Vendors(), ", ")),
		fmt.Sprintf("  budget cap: $%.2f", d.policy.BudgetCap()),
	}
	if mode == ModeSandbox {
		logs = append(logs, "  sandbox mode: configure a settlement private key for live transfers")
	}

	// LIVE 模式要求网络在开工前已知可用，否则整个调用失败。
	if mode == ModeLive {
		if err := d.backend.Ping(ctx); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeSettlementFailure, err, "结算网络不可达")
		}
	}

	sequence, err := d.backend.NextSequence(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSettlementFailure, err, "获取账户序号失败")
	}

	transactionIDs := make([]string, 0, len(entries))
	for _, entry := range entries {
		// 零额批次项没有可提交的转账，跳过且不消耗序号。
		if entry.AmountDue <= 0 {
			continue
		}

		txID, err := d.backend.Submit(ctx, Transfer{
			VendorID:  entry.VendorID,
			Recipient: entry.Recipient,
			Amount:    entry.AmountDue,
			Sequence:  sequence,
		})
		if err != nil {
			// 已提交的转账保持已提交状态，调用方凭审计日志中的
			// 部分交易标识对账。
			return nil, xerrors.Wrap(xerrors.CodeSettlementFailure, err,
				fmt.Sprintf("向供应商 %s 的转账提交失败", entry.VendorID),
				xerrors.WithMetadata("vendor_id", entry.VendorID),
				xerrors.WithMetadata("submitted", strconv.Itoa(len(transactionIDs))),
			)
		}

		transactionIDs = append(transactionIDs, txID)
		sequence++

		verb := "submitted"
		if mode == ModeSandbox {
			verb = "simulated"
		}
		logs = append(logs,
			fmt.Sprintf("transfer to %s (%s)", entry.VendorID, verb),
			fmt.Sprintf("  amount: $%.2f", entry.AmountDue),
			fmt.Sprintf("  tx: %s", txID),
		)
		d.audit.Info("settlement_transfer",
			slog.String("vendor_id", entry.VendorID),
			slog.String("tx_id", txID),
			slog.Float64("amount", entry.AmountDue),
			slog.String("mode", string(mode)),
		)
	}

	if mode == ModeSandbox {
		logs = append(logs, "simulated settlement complete")
	} else {
		logs = append(logs, "settlement complete: all transfers submitted")
	}

	d.audit.Info("settlement_complete",
		slog.String("mode", string(mode)),
		slog.Int("transfers", len(transactionIDs)),
	)

	return &Receipt{
		Status:         StatusSuccess,
		Mode:           mode,
		Logs:           logs,
		TransactionIDs: transactionIDs,
	}, nil
}
