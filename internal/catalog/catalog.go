package catalog

import "context"

// Item 描述库存中的一件可采购商品。加载后不可变。
type Item struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	Category     string  `json:"category"`
	VendorID     string  `json:"vendor_id"`
	DeliveryDays int     `json:"delivery_days"`
}

// Source 定义目录数据的统一读取接口。实现必须返回稳定的迭代顺序，
// 选品的同分打破依赖该顺序。
type Source interface {
	List(ctx context.Context) ([]Item, error)
}
