package merchant

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Record 描述一个已登记供应商的信任属性与结算地址。
// 注意：信任分用于选品阶段的过滤，结算白名单是另一个独立集合，
// 两道闸门不可合并（供应商可能已可选购但尚未开通收款）。
type Record struct {
	ID                string `json:"id"`
	DisplayName       string `json:"display_name"`
	TrustScore        int    `json:"trust_score"`
	SettlementAddress string `json:"settlement_address"`
}

// Registry 保存供应商记录，进程级只读。
type Registry struct {
	records map[string]Record
}

// NewRegistry 根据记录列表构建注册表。
func NewRegistry(records []Record) *Registry {
	set := make(map[string]Record, len(records))
	for _, record := range records {
		if strings.TrimSpace(record.ID) == "" {
			continue
		}
		set[record.ID] = record
	}
	return &Registry{records: set}
}

// LoadRegistry 从 JSON 文件加载供应商记录。
func LoadRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("供应商注册文件路径不能为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取供应商注册文件失败: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(content, &records); err != nil {
		return nil, fmt.Errorf("解析供应商注册文件失败: %w", err)
	}
	return NewRegistry(records), nil
}

// Get 返回指定供应商的记录。
func (r *Registry) Get(id string) (Record, bool) {
	if r == nil {
		return Record{}, false
	}
	record, ok := r.records[id]
	return record, ok
}

// Trusted 判断供应商的信任分是否达到选品门槛。
// 未登记的供应商一律视为不可信。
func (r *Registry) Trusted(id string, minScore int) bool {
	record, ok := r.Get(id)
	if !ok {
		return false
	}
	return record.TrustScore >= minScore
}

// Len 返回已登记的供应商数量。
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.records)
}

// DefaultRecords 返回内置的授权供应商列表。
func DefaultRecords() []Record {
	return []Record{
		{ID: "amazon", DisplayName: "Amazon", TrustScore: 99, SettlementAddress: "0x1111111111111111111111111111111111111111"},
		{ID: "walmart", DisplayName: "Walmart", TrustScore: 95, SettlementAddress: "0x2222222222222222222222222222222222222222"},
		{ID: "tech_direct", DisplayName: "TechData", TrustScore: 92, SettlementAddress: "0x3333333333333333333333333333333333333333"},
	}
}
