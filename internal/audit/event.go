package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind 区分审计事件来自哪个阶段。
type Kind string

const (
	KindOrchestration Kind = "orchestration"
	KindSettlement    Kind = "settlement"
)

// Event 是一条进入审计链路的采购事件。所有字段都会持久化，
// 供事后对账与告警使用。
type Event struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	Status         string    `json:"status"`
	Mode           string    `json:"mode,omitempty"`
	Vendors        []string  `json:"vendors,omitempty"`
	Total          float64   `json:"total,omitempty"`
	TransactionIDs []string  `json:"transaction_ids,omitempty"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewEvent 创建带标识和时间戳的事件。
func NewEvent(kind Kind, status string) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
}

// encode 把事件序列化为队列载荷。
func encode(event Event) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("序列化审计事件失败: %w", err)
	}
	return payload, nil
}

// decode 从队列载荷还原事件。
func decode(payload []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, fmt.Errorf("解析审计事件失败: %w", err)
	}
	return event, nil
}

// Handler 处理一条审计事件。返回错误表示本次处理失败，
// 队列实现决定是否重投。
type Handler func(ctx context.Context, event Event) error

// Producer 负责向审计队列投递事件。
type Producer interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Consumer 负责从审计队列消费事件。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
