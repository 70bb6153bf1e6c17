package mysql

import (
	"context"

	"ArcFlow/internal/audit"
)

// HistoryArchive 把审计事件转换成历史记录写入仓库，
// 实现 audit.Archive。
type HistoryArchive struct {
	repo HistoryRepository
}

// NewHistoryArchive 创建归档适配器。
func NewHistoryArchive(repo HistoryRepository) *HistoryArchive {
	return &HistoryArchive{repo: repo}
}

// Save 实现 audit.Archive。
func (a *HistoryArchive) Save(ctx context.Context, event audit.Event) error {
	if a == nil || a.repo == nil {
		return nil
	}
	return a.repo.Save(ctx, HistoryRecord{
		EventID:        event.ID,
		Kind:           string(event.Kind),
		Status:         event.Status,
		Mode:           event.Mode,
		Vendors:        event.Vendors,
		Total:          event.Total,
		TransactionIDs: event.TransactionIDs,
		Error:          event.Error,
		CreatedAt:      event.CreatedAt.Unix(),
	})
}
