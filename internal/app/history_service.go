package app

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"docuchat/internal/logger"
	"docuchat/internal/model"
)

// historyWindow is how many recent messages are cached per owner.
const historyWindow = 100

const exportSheet = "Chat History"

type HistoryService struct {
	messageRepo  MessageRepository
	historyCache HistoryCache
}

func NewHistoryService(messageRepo MessageRepository, historyCache HistoryCache) *HistoryService {
	return &HistoryService{messageRepo: messageRepo, historyCache: historyCache}
}

// List returns the newest messages first.
func (s *HistoryService) List(ctx context.Context, ownerID string, limit int) ([]model.ChatMessage, error) {
	owner := ownerOrAnonymous(ownerID)
	if s.historyCache != nil {
		cached, hit, err := s.historyCache.GetHistory(ctx, owner)
		if err != nil {
			logger.Warn("read history cache failed", "owner_id", owner, "error", err)
		}
		if hit {
			return trimMessages(cached, limit), nil
		}
	}

	messages, err := s.messageRepo.ListByOwner(ctx, owner, historyWindow)
	if err != nil {
		return nil, err
	}
	if s.historyCache != nil {
		if err := s.historyCache.SetHistory(ctx, owner, messages); err != nil {
			logger.Warn("write history cache failed", "owner_id", owner, "error", err)
		}
	}
	return trimMessages(messages, limit), nil
}

// Clear deletes every message of the owner and returns how many were removed.
func (s *HistoryService) Clear(ctx context.Context, ownerID string) (int64, error) {
	owner := ownerOrAnonymous(ownerID)
	n, err := s.messageRepo.DeleteByOwner(ctx, owner)
	if err != nil {
		return 0, err
	}
	if s.historyCache != nil {
		if err := s.historyCache.DeleteHistory(ctx, owner); err != nil {
			logger.Warn("invalidate history cache failed", "owner_id", owner, "error", err)
		}
	}
	logger.Info("chat history cleared", "owner_id", owner, "messages", n)
	return n, nil
}

// Export renders the owner's history as an XLSX workbook.
func (s *HistoryService) Export(ctx context.Context, ownerID string) ([]byte, error) {
	messages, err := s.messageRepo.ListByOwner(ctx, ownerOrAnonymous(ownerID), 500)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			logger.Warn("close export workbook failed", "error", err)
		}
	}()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	headers := []any{
		"Message ID", "Created At", "Document", "Collection", "Question", "Answer",
		"Context Found", "Sources", "Model", "Latency (ms)", "Feedback", "Feedback Comment",
	}
	if err := f.SetSheetRow(exportSheet, "A1", &headers); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	for i, m := range messages {
		feedback := ""
		if m.FeedbackType != nil {
			feedback = *m.FeedbackType
		}
		row := []any{
			m.ID,
			m.CreatedAt.Format("2006-01-02 15:04:05"),
			m.Document,
			m.Collection,
			m.Question,
			m.Answer,
			m.ContextFound,
			m.SourceCount,
			m.ModelUsed,
			m.LatencyMS,
			feedback,
			m.FeedbackComment,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to render workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func trimMessages(messages []model.ChatMessage, limit int) []model.ChatMessage {
	if limit <= 0 || limit >= len(messages) {
		return messages
	}
	return messages[:limit]
}
