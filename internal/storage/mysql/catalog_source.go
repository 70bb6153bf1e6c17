package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"ArcFlow/internal/catalog"
)

// CatalogSource 从 MySQL 读取商品目录，实现 catalog.Source。
// 查询按主键排序，保证选品阶段的遍历顺序稳定。
type CatalogSource struct {
	db *sql.DB
}

// NewCatalogSource 创建数据库商品目录。
func NewCatalogSource(ctx context.Context, cfg Config) (*CatalogSource, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &CatalogSource{db: db}, nil
}

// List 返回全部商品。
func (s *CatalogSource) List(ctx context.Context) ([]catalog.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_id, name, price, category, vendor_id, delivery_days
        FROM catalog_items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("查询商品目录失败: %w", err)
	}
	defer rows.Close()

	var items []catalog.Item
	for rows.Next() {
		var item catalog.Item
		if err := rows.Scan(&item.ID, &item.Name, &item.Price, &item.Category, &item.VendorID, &item.DeliveryDays); err != nil {
			return nil, fmt.Errorf("解析商品记录失败: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历商品目录失败: %w", err)
	}
	return items, nil
}

// Close 关闭底层数据库连接。
func (s *CatalogSource) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
