package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"ArcFlow/internal/audit"
	"ArcFlow/internal/classifier"
	xerrors "ArcFlow/internal/errors"
	"ArcFlow/internal/scoring"
	"ArcFlow/internal/selector"
	"ArcFlow/pkg/logger"
)

const (
	// defaultTimeout 是一次编排调用的总时长上限。
	defaultTimeout = 60 * time.Second
	// defaultClassifyTimeout 给意图分类留的时间，剩余留给选品。
	defaultClassifyTimeout = 55 * time.Second
)

// Request 是一次采购编排的入参。
type Request struct {
	Prompt       string  `json:"prompt"`
	Budget       float64 `json:"budget"`
	DeadlineDays int     `json:"deadline_days,omitempty"`
	Strategy     string  `json:"strategy,omitempty"`
}

// Response 汇总编排结果：解析出的类目、选品结果与分类器遥测。
type Response struct {
	Categories []string             `json:"categories"`
	Options    []selector.CartLine  `json:"options"`
	TotalCost  float64              `json:"total_cost"`
	Degraded   bool                 `json:"degraded,omitempty"`
	Telemetry  classifier.Telemetry `json:"telemetry"`
}

// Orchestrator 串联意图分类与预算内选品。
// 分类失败不会让整个调用失败，只会降级到固定类目。
type Orchestrator struct {
	classifier      classifier.Client
	vision          classifier.VisionClient
	selector        *selector.Selector
	producer        audit.Producer
	logger          *slog.Logger
	timeout         time.Duration
	classifyTimeout time.Duration
}

// Option 定义可选配置。
type Option func(*Orchestrator)

// WithVisionClient 启用文档意图解析。
func WithVisionClient(vision classifier.VisionClient) Option {
	return func(o *Orchestrator) {
		o.vision = vision
	}
}

// WithAuditProducer 启用编排审计事件投递。
func WithAuditProducer(producer audit.Producer) Option {
	return func(o *Orchestrator) {
		o.producer = producer
	}
}

// WithTimeout 覆盖编排总超时。
func WithTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithClassifyTimeout 覆盖分类阶段超时。
func WithClassifyTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.classifyTimeout = timeout
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = log
	}
}

// New 创建编排器。
func New(client classifier.Client, sel *selector.Selector, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		classifier:      client,
		selector:        sel,
		timeout:         defaultTimeout,
		classifyTimeout: defaultClassifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.logger == nil {
		o.logger = logger.Named("orchestrator")
	}
	return o
}

// Execute 执行一次完整的采购编排。
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*Response, error) {
	if o.selector == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "编排器未初始化")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "采购意图不能为空")
	}
	if req.Budget < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "预算不能为负数")
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	categories, telemetry, degraded := o.classify(ctx, req.Prompt)
	// 对外返回的类目与选品实际处理的序列保持一致：
	// 关键字扩充可能引入重复或超出上限，这里先归一化。
	categories = o.selector.Normalize(augmentCategories(req.Prompt, categories))

	cart, err := o.selector.Select(ctx, categories, req.Budget, scoring.Strategy(req.Strategy))
	if err != nil {
		o.publish(ctx, audit.KindOrchestration, "failed", 0, nil, err)
		return nil, err
	}

	status := "success"
	if degraded {
		status = "degraded"
	}
	o.publish(ctx, audit.KindOrchestration, status, cart.Spend, vendorsOf(cart.Lines), nil)

	return &Response{
		Categories: categories,
		Options:    cart.Lines,
		TotalCost:  cart.Spend,
		Degraded:   degraded,
		Telemetry:  telemetry,
	}, nil
}

// ExtractIntent 把上传的文档转写成一句话采购意图。
// 解析失败时回退到通用意图，不向调用方暴露错误。
func (o *Orchestrator) ExtractIntent(ctx context.Context, data []byte, mimeType string) string {
	if o.vision == nil || len(data) == 0 {
		return classifier.DefaultIntent
	}
	intent, err := o.vision.ExtractIntent(ctx, data, mimeType)
	if err != nil || strings.TrimSpace(intent) == "" {
		o.logger.Warn("文档意图解析失败，使用通用意图", slog.Any("error", err))
		return classifier.DefaultIntent
	}
	return strings.TrimSpace(intent)
}

// classify 调用意图分类并在任何失败时降级到固定类目。
func (o *Orchestrator) classify(ctx context.Context, prompt string) ([]string, classifier.Telemetry, bool) {
	if o.classifier == nil {
		return classifier.FallbackCategories(), classifier.Telemetry{}, true
	}

	classifyCtx, cancel := context.WithTimeout(ctx, o.classifyTimeout)
	defer cancel()

	result, err := o.classifier.Classify(classifyCtx, prompt)
	if err != nil || result == nil || len(result.Categories) == 0 {
		degradedErr := xerrors.Wrap(xerrors.CodeClassifierDegraded, err, "意图分类不可用，降级到固定类目")
		o.logger.Warn("意图分类降级", slog.Any("error", degradedErr))
		return classifier.FallbackCategories(), classifier.Telemetry{}, true
	}
	return result.Categories, result.Telemetry, false
}

// publish 投递编排审计事件，失败只记日志。
func (o *Orchestrator) publish(ctx context.Context, kind audit.Kind, status string, total float64, vendors []string, cause error) {
	if o.producer == nil {
		return
	}
	event := audit.NewEvent(kind, status)
	event.Total = total
	event.Vendors = vendors
	if cause != nil {
		event.Error = cause.Error()
	}
	if err := o.producer.Publish(ctx, event); err != nil {
		o.logger.Warn("投递审计事件失败", slog.Any("error", err), slog.String("event_id", event.ID))
	}
}

// eventKeywords 触发类目扩充的提示词关键字。
var eventKeywords = []string{"hackathon", "event", "kit"}

// eventCategories 是活动类采购的默认补充类目。
var eventCategories = []string{"snacks", "badges", "adapters", "prizes"}

// augmentCategories 在活动类采购意图下补充常见类目。
// 重复类目由后续的去重逻辑处理。
func augmentCategories(prompt string, categories []string) []string {
	lowered := strings.ToLower(prompt)
	for _, keyword := range eventKeywords {
		if strings.Contains(lowered, keyword) {
			return append(categories, eventCategories...)
		}
	}
	return categories
}

func vendorsOf(lines []selector.CartLine) []string {
	seen := make(map[string]struct{}, len(lines))
	vendors := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.VendorID]; ok {
			continue
		}
		seen[line.VendorID] = struct{}{}
		vendors = append(vendors, line.VendorID)
	}
	return vendors
}
