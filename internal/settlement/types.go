package settlement

import "context"

// Mode 标识结算执行路径。沙盒模式是合法的终态，不是错误分支。
type Mode string

const (
	ModeSandbox Mode = "sandbox"
	ModeLive    Mode = "live"
)

// Line 是结算请求中的一条购物车记录。
// 这是对外边界类型：至少要求 vendor_id 与 price。
type Line struct {
	VendorID string  `json:"vendor_id"`
	Price    float64 `json:"price"`
	Name     string  `json:"name,omitempty"`
}

// Transfer 描述一笔待提交的对外转账。
// Sequence 由调度器在本地维护，后端不得自行重新查询。
type Transfer struct {
	VendorID  string
	Recipient string
	Amount    float64
	Sequence  uint64
}

// Receipt 汇总一次结算调用的结果。
type Receipt struct {
	Status         string   `json:"status"`
	Mode           Mode     `json:"mode"`
	Logs           []string `json:"logs"`
	TransactionIDs []string `json:"transaction_ids"`
}

// Backend 统一沙盒与真实链路两种结算实现，调度器的批处理与
// 序号逻辑只写一份，对两种实现同样生效。
type Backend interface {
	// Mode 返回后端的执行路径标识。
	Mode() Mode
	// Ping 校验结算网络可达性。沙盒实现恒为 nil。
	Ping(ctx context.Context) error
	// NextSequence 返回发送账户当前的序号。每次结算调用只会被调用一次。
	NextSequence(ctx context.Context) (uint64, error)
	// Submit 提交一笔转账并返回其标识。
	Submit(ctx context.Context, transfer Transfer) (string, error)
	// Close 释放后端持有的连接。
	Close()
}
