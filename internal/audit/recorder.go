package audit

import (
	"context"
	"log/slog"
	"time"

	xerrors "ArcFlow/internal/errors"
	"ArcFlow/internal/observability/alerting"
	"ArcFlow/pkg/logger"
)

// Archive 持久化审计事件，供事后查询与对账。
type Archive interface {
	Save(ctx context.Context, event Event) error
}

// Recorder 从审计队列消费事件，落盘到归档存储，
// 并对失败的结算事件触发告警。
type Recorder struct {
	consumer    Consumer
	archive     Archive
	alerter     alerting.Dispatcher
	workerCount int
	logger      *slog.Logger
}

// RecorderOption 定义可选配置。
type RecorderOption func(*Recorder)

// WithRecorderLogger 指定日志输出。
func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithRecorderWorkers 设置消费协程数量。
func WithRecorderWorkers(workers int) RecorderOption {
	return func(r *Recorder) {
		if workers > 0 {
			r.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) RecorderOption {
	return func(r *Recorder) {
		r.alerter = dispatcher
	}
}

// NewRecorder 构造 Recorder。
func NewRecorder(consumer Consumer, archive Archive, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		consumer:    consumer,
		archive:     archive,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.logger == nil {
		r.logger = logger.Named("audit")
	}
	return r
}

// Start 启动消费循环，阻塞直到上下文取消。
func (r *Recorder) Start(ctx context.Context) error {
	if r.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置审计消费者")
	}
	return r.consumer.Consume(ctx, r.workerCount, r.handle)
}

func (r *Recorder) handle(ctx context.Context, event Event) error {
	if r.archive != nil {
		if err := r.archive.Save(ctx, event); err != nil {
			r.logger.Error("归档审计事件失败",
				slog.Any("error", err),
				slog.String("event_id", event.ID),
			)
			// 返回错误让队列重投，归档失败不能静默丢事件。
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "归档审计事件失败")
		}
	}

	if event.Error != "" {
		r.emitAlert(ctx, event)
	}
	r.logger.Debug("审计事件已归档",
		slog.String("event_id", event.ID),
		slog.String("kind", string(event.Kind)),
		slog.String("status", event.Status),
	)
	return nil
}

func (r *Recorder) emitAlert(ctx context.Context, event Event) {
	if r.alerter == nil {
		return
	}
	code := xerrors.CodeSettlementFailure
	if event.Kind == KindOrchestration {
		code = xerrors.CodeClassifierDegraded
	}
	attrs := xerrors.AttributesOf(code)
	notification := alerting.Event{
		Code:       code,
		Message:    event.Error,
		Severity:   attrs.Severity,
		EventID:    event.ID,
		Mode:       event.Mode,
		Metadata:   map[string]string{"kind": string(event.Kind), "status": event.Status},
		OccurredAt: time.Now(),
	}
	if err := r.alerter.Notify(ctx, notification); err != nil {
		r.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("event_id", event.ID),
		)
	}
}
