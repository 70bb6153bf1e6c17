package classifier

import "context"

// Telemetry 记录一次意图解析的可观测信息，随响应透传给调用方。
type Telemetry struct {
	Model      string `json:"model"`
	LatencyMS  int64  `json:"latency_ms"`
	TokensUsed int    `json:"tokens_used"`
}

// Result 是意图分类的结构化输出：有序的采购类目列表。
type Result struct {
	Categories []string
	Telemetry  Telemetry
}

// Client 定义意图分类的统一接口。实现必须尊重 ctx 超时，
// 绝不允许无限阻塞；失败由上层降级处理，分类失败不是致命错误。
type Client interface {
	Classify(ctx context.Context, prompt string) (*Result, error)
}

// VisionClient 将上传的文档（图片/PDF）转写为一句话的采购意图。
type VisionClient interface {
	ExtractIntent(ctx context.Context, data []byte, mimeType string) (string, error)
}

// DefaultIntent 是文档解析失败或内容为空时的兜底意图。
const DefaultIntent = "Generic request"

// FallbackCategories 返回分类不可用时的固定兜底类目列表。
func FallbackCategories() []string {
	return []string{"snacks", "badges", "adapters"}
}
