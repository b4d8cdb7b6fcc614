package service

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"coinup/backend/internal/domain"
	"coinup/backend/internal/storage"
)

// 正文预览截断长度
const bodyPreviewLimit = 512

// PaymentLogService 封装付款判定审计记录的写入与查询。
//
// 每封消息只会留下一条终态记录，重复写入按 MessageID 幂等跳过。
type PaymentLogService struct {
	repo   storage.PaymentLogRepository
	logger *zap.Logger
}

// NewPaymentLogService 创建审计记录服务。
func NewPaymentLogService(repo storage.PaymentLogRepository, logger *zap.Logger) *PaymentLogService {
	return &PaymentLogService{repo: repo, logger: logger}
}

// RecordInput 一次判定的记录输入。
type RecordInput struct {
	MessageID   string
	Decision    domain.PaymentDecision
	Reason      string
	Phrase      string
	Source      PhraseSource
	TopupID     *string
	Subject     string
	BodyPreview string
	EmailDate   time.Time
}

// Record 追加一条判定记录，重复消息静默跳过。
func (s *PaymentLogService) Record(input RecordInput) error {
	entry := &domain.PaymentLogEntry{
		ID:          uuid.NewString(),
		MessageID:   input.MessageID,
		Decision:    input.Decision,
		Reason:      input.Reason,
		Phrase:      input.Phrase,
		Source:      string(input.Source),
		TopupID:     input.TopupID,
		Subject:     input.Subject,
		BodyPreview: truncatePreview(input.BodyPreview),
		EmailDate:   input.EmailDate,
		CreatedAt:   time.Now().UTC(),
	}

	inserted, err := s.repo.AppendPaymentLog(entry)
	if err != nil {
		return err
	}
	if !inserted {
		s.logger.Debug("duplicate payment log write skipped",
			zap.String("message_id", input.MessageID))
	}
	return nil
}

// FindByMessageID 查询消息的历史判定，不存在时返回 (nil, nil)。
func (s *PaymentLogService) FindByMessageID(messageID string) (*domain.PaymentLogEntry, error) {
	return s.repo.GetPaymentLogByMessageID(messageID)
}

// List 按时间倒序分页列出判定记录，供运营排查使用。
func (s *PaymentLogService) List(decision *domain.PaymentDecision, limit, offset int) ([]domain.PaymentLogEntry, int, error) {
	return s.repo.ListPaymentLogs(decision, limit, offset)
}

// truncatePreview 按字节上限截断正文预览，回退到完整的 UTF-8 边界
func truncatePreview(s string) string {
	if len(s) <= bodyPreviewLimit {
		return s
	}
	cut := bodyPreviewLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
