package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// HistoryRecord 表示一次采购事件的落库结构。
type HistoryRecord struct {
	EventID        string   `json:"event_id"`
	Kind           string   `json:"kind"`
	Status         string   `json:"status"`
	Mode           string   `json:"mode"`
	Vendors        []string `json:"vendors"`
	Total          float64  `json:"total"`
	TransactionIDs []string `json:"transaction_ids"`
	Error          string   `json:"error"`
	CreatedAt      int64    `json:"created_at"`
}

// HistoryRepository 抽象采购历史的持久化接口。
type HistoryRepository interface {
	Save(ctx context.Context, record HistoryRecord) error
	ListLatest(ctx context.Context, limit int) ([]HistoryRecord, error)
}

// MemoryHistoryRepository 使用本地 JSON 文件模拟 MySQL 的效果，方便迭代开发。
type MemoryHistoryRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []HistoryRecord
}

// NewMemoryHistoryRepository 创建一个文件持久化的历史仓库。
func NewMemoryHistoryRepository(dataDir string) (*MemoryHistoryRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	path := filepath.Join(dataDir, "history.log")
	repo := &MemoryHistoryRepository{dataFile: path}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录采购事件。
func (m *MemoryHistoryRepository) Save(_ context.Context, record HistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开历史日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化历史记录失败: %w", err)
	}

	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入历史日志失败: %w", err)
	}

	m.records = append([]HistoryRecord{record}, m.records...)
	if len(m.records) > 512 {
		m.records = m.records[:512]
	}
	return nil
}

// ListLatest 返回最近的采购记录，按时间倒序排列。
func (m *MemoryHistoryRepository) ListLatest(_ context.Context, limit int) ([]HistoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}

	results := make([]HistoryRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

func (m *MemoryHistoryRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取历史日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []HistoryRecord
	for scanner.Scan() {
		var record HistoryRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]HistoryRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析历史日志失败: %w", err)
	}

	if len(restored) > 512 {
		restored = restored[:512]
	}
	if len(restored) > 0 {
		m.records = restored
	}
	return nil
}

// SQLHistoryRepository 使用真实的 MySQL 数据库存储采购历史。
type SQLHistoryRepository struct {
	db *sql.DB
}

// NewSQLHistoryRepository 创建连接池并应用迁移。
func NewSQLHistoryRepository(ctx context.Context, cfg Config) (*SQLHistoryRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLHistoryRepository{db: db}, nil
}

// Save 将采购记录写入 MySQL。
func (s *SQLHistoryRepository) Save(ctx context.Context, record HistoryRecord) error {
	const stmt = `INSERT INTO settlement_history
        (event_id, kind, status, mode, vendors, total, transaction_ids, error, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		record.EventID,
		record.Kind,
		record.Status,
		record.Mode,
		encodeList(record.Vendors),
		record.Total,
		encodeList(record.TransactionIDs),
		record.Error,
		record.CreatedAt,
	); err != nil {
		return fmt.Errorf("写入 MySQL 失败: %w", err)
	}
	return nil
}

// ListLatest 查询最近的若干条采购记录。
func (s *SQLHistoryRepository) ListLatest(ctx context.Context, limit int) ([]HistoryRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `SELECT event_id, kind, status, mode, vendors, total, transaction_ids, error, created_at
        FROM settlement_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询采购记录失败: %w", err)
	}
	defer rows.Close()

	var records []HistoryRecord
	for rows.Next() {
		var record HistoryRecord
		var vendors, txIDs string
		if err := rows.Scan(&record.EventID, &record.Kind, &record.Status, &record.Mode, &vendors, &record.Total, &txIDs, &record.Error, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析采购记录失败: %w", err)
		}
		record.Vendors = decodeList(vendors)
		record.TransactionIDs = decodeList(txIDs)
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历采购记录失败: %w", err)
	}

	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLHistoryRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func encodeList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

func decodeList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "[]" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	return values
}
