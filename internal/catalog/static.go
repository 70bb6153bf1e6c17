package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// StaticSource 以固定的商品列表提供目录数据，适合演示与测试。
type StaticSource struct {
	items []Item
}

// NewStaticSource 创建静态目录实例。
func NewStaticSource(items []Item) *StaticSource {
	copied := make([]Item, len(items))
	copy(copied, items)
	return &StaticSource{items: copied}
}

// LoadStaticSource 从 JSON 文件加载商品列表。
func LoadStaticSource(path string) (*StaticSource, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("目录文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析目录文件路径失败: %w", err)
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取目录文件失败: %w", err)
	}

	var items []Item
	if err := json.Unmarshal(content, &items); err != nil {
		return nil, fmt.Errorf("解析目录文件失败: %w", err)
	}
	return NewStaticSource(items), nil
}

// List 返回商品列表的副本，保持加载时的顺序。
func (s *StaticSource) List(_ context.Context) ([]Item, error) {
	items := make([]Item, len(s.items))
	copy(items, s.items)
	return items, nil
}

// DefaultInventory 返回内置的黑客松主办方采购清单。
// 未配置外部目录来源时使用。
func DefaultInventory() []Item {
	return []Item{
		{ID: "a1", Name: "Bulk Energy Drinks (24pk)", Price: 45.00, DeliveryDays: 2, Category: "snacks", VendorID: "amazon"},
		{ID: "a2", Name: "Hackathon Lanyards (100ct)", Price: 25.00, DeliveryDays: 2, Category: "badges", VendorID: "amazon"},
		{ID: "a3", Name: "Participant Badges & Holders", Price: 35.00, DeliveryDays: 3, Category: "badges", VendorID: "amazon"},
		{ID: "w1", Name: "Party Size Chips & Dip", Price: 18.00, DeliveryDays: 1, Category: "snacks", VendorID: "walmart"},
		{ID: "w2", Name: "Peel-and-Stick Name Tags (50ct)", Price: 5.00, DeliveryDays: 0, Category: "badges", VendorID: "walmart"},
		{ID: "w3", Name: "Hackathon Snack Variety Pack", Price: 32.00, DeliveryDays: 1, Category: "snacks", VendorID: "walmart"},
		{ID: "t1", Name: "Universal Travel Adapter (6-pack)", Price: 28.00, DeliveryDays: 3, Category: "adapters", VendorID: "tech_direct"},
		{ID: "t2", Name: "USB-C Hub (Prize)", Price: 45.00, DeliveryDays: 4, Category: "prizes", VendorID: "tech_direct"},
		{ID: "t3", Name: "Smart Home Hub (Grand Prize)", Price: 120.00, DeliveryDays: 4, Category: "prizes", VendorID: "tech_direct"},
		{ID: "a4", Name: "Coffee & Tea Station Kit", Price: 55.00, DeliveryDays: 2, Category: "snacks", VendorID: "amazon"},
		{ID: "t4", Name: "International Power Strip", Price: 22.00, DeliveryDays: 3, Category: "adapters", VendorID: "tech_direct"},
	}
}
