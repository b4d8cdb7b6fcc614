package service

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"coinup/backend/internal/config"
	"coinup/backend/internal/domain"
	"coinup/backend/internal/monitoring"
)

// ConfirmationNotifier 入账成功后的推送边界，由 WebSocket 枢纽实现。
type ConfirmationNotifier interface {
	NotifyConfirmed(userID, topupID string, amount int64)
}

// ConfirmInput 一封通过业务规则校验的付款邮件。
type ConfirmInput struct {
	Phrase      string // 规范化后的候选口令
	Source      PhraseSource
	AmountStr   string // 提取器给出的金额原文
	MessageID   string
	Subject     string
	BodyPreview string
	EmailDate   time.Time
}

// ConfirmResult 入账判定结果。业务规则失败不是错误，体现在
// Success 与 Reason 上；只有存储故障才通过 error 返回。
type ConfirmResult struct {
	Success        bool
	Reason         string
	TopupID        string
	UserID         string
	CreditedAmount int64
}

// ConfirmService 入账编排：幂等闸、金额推导、口令解析、过期与
// 时钟偏移检查，最后委托存储层做原子入账。
type ConfirmService struct {
	topups     *TopupService
	paymentLog *PaymentLogService
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *monitoring.Metrics
	notifier   ConfirmationNotifier // 可为 nil
}

// NewConfirmService 创建入账编排服务。
func NewConfirmService(topups *TopupService, paymentLog *PaymentLogService, cfg *config.Config, logger *zap.Logger, metrics *monitoring.Metrics) *ConfirmService {
	return &ConfirmService{
		topups:     topups,
		paymentLog: paymentLog,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
	}
}

// SetNotifier 注入可选的入账推送
func (s *ConfirmService) SetNotifier(notifier ConfirmationNotifier) {
	s.notifier = notifier
}

// Confirm 对一封候选付款邮件做终态判定。
//
// 每条失败路径都以一条审计记录收尾并返回非成功结果；业务规则
// 失败不返回 error，只有底层存储故障才返回 error（此时同样已尽力
// 写入 ERROR 判定记录）。
func (s *ConfirmService) Confirm(input ConfirmInput) (*ConfirmResult, error) {
	now := time.Now().UTC()

	// 幂等闸：同一消息已有 ACCEPTED 判定时直接短路，防止重放双入账
	existing, err := s.paymentLog.FindByMessageID(input.MessageID)
	if err != nil {
		return s.systemFault(input, nil, fmt.Errorf("failed to query payment log: %w", err))
	}
	if existing != nil && existing.Decision == domain.DecisionAccepted {
		s.logger.Info("duplicate payment message short-circuited",
			zap.String("message_id", input.MessageID),
			zap.String("topup_id", derefString(existing.TopupID)))
		return &ConfirmResult{Reason: "already processed"}, nil
	}

	// 入账金额只来源于付款邮件报告的金额，向下取整
	amount, err := parseCreditAmount(input.AmountStr)
	if err != nil {
		return s.reject(input, nil, domain.DecisionRejected,
			fmt.Sprintf("amount %q cannot be credited: %v", input.AmountStr, err))
	}

	matches, err := s.topups.FindByExactPhrase(input.Phrase, now)
	if err != nil {
		return s.systemFault(input, nil, fmt.Errorf("failed to resolve phrase: %w", err))
	}

	switch {
	case len(matches) == 0:
		return s.reject(input, nil, domain.DecisionIgnored, "no active topup request matches the phrase")
	case len(matches) > 1:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		// 多重匹配说明唯一性约束被上游破坏，绝不任选其一入账
		return s.reject(input, nil, domain.DecisionRejected,
			fmt.Sprintf("phrase matches multiple pending requests (%s), refusing to credit", strings.Join(ids, ", ")))
	}

	matched := matches[0]

	if matched.Status != domain.TopupStatusPending {
		return s.reject(input, &matched.ID, domain.DecisionRejected,
			fmt.Sprintf("matched request is %s, not pending", matched.Status))
	}

	if matched.IsExpiredAt(now) {
		return s.reject(input, &matched.ID, domain.DecisionRejected, "matched request has expired")
	}

	// 邮件自身时间戳超出宽限窗口视为陈旧重放，即使前两步侥幸通过
	if !input.EmailDate.IsZero() && input.EmailDate.After(matched.ExpiresAt.Add(s.cfg.Topup.GraceWindow)) {
		return s.reject(input, &matched.ID, domain.DecisionRejected,
			fmt.Sprintf("email timestamp %s is beyond the grace window past request expiry %s",
				input.EmailDate.UTC().Format(time.RFC3339), matched.ExpiresAt.UTC().Format(time.RFC3339)))
	}

	confirmed, err := s.topups.repo.TryConfirmTopup(matched.ID, amount, now)
	if err != nil {
		// 竞态守卫中止与其余存储故障同属系统故障，与业务拒绝分开告警
		return s.systemFault(input, &matched.ID, fmt.Errorf("atomic credit failed: %w", err))
	}

	s.topups.InvalidateCache(matched.ID)

	if logErr := s.paymentLog.Record(RecordInput{
		MessageID:   input.MessageID,
		Decision:    domain.DecisionAccepted,
		Reason:      fmt.Sprintf("credited %d coins", amount),
		Phrase:      input.Phrase,
		Source:      input.Source,
		TopupID:     &matched.ID,
		Subject:     input.Subject,
		BodyPreview: input.BodyPreview,
		EmailDate:   input.EmailDate,
	}); logErr != nil {
		s.logger.Error("failed to record accepted decision",
			zap.String("message_id", input.MessageID), zap.Error(logErr))
	}

	if s.metrics != nil {
		s.metrics.RecordDecision(string(domain.DecisionAccepted))
		s.metrics.RecordCredit(amount)
	}

	s.logger.Info("topup confirmed",
		zap.String("topup_id", matched.ID),
		zap.String("user_id", matched.UserID),
		zap.Int64("credited_amount", amount),
		zap.String("phrase_source", string(input.Source)),
		zap.String("message_id", input.MessageID))

	if s.notifier != nil {
		s.notifier.NotifyConfirmed(matched.UserID, matched.ID, amount)
	}

	return &ConfirmResult{
		Success:        true,
		TopupID:        confirmed.ID,
		UserID:         confirmed.UserID,
		CreditedAmount: amount,
	}, nil
}

// reject 记录业务拒绝并返回非成功结果
func (s *ConfirmService) reject(input ConfirmInput, topupID *string, decision domain.PaymentDecision, reason string) (*ConfirmResult, error) {
	if err := s.paymentLog.Record(RecordInput{
		MessageID:   input.MessageID,
		Decision:    decision,
		Reason:      reason,
		Phrase:      input.Phrase,
		Source:      input.Source,
		TopupID:     topupID,
		Subject:     input.Subject,
		BodyPreview: input.BodyPreview,
		EmailDate:   input.EmailDate,
	}); err != nil {
		s.logger.Error("failed to record payment decision",
			zap.String("message_id", input.MessageID), zap.Error(err))
	}

	if s.metrics != nil {
		s.metrics.RecordDecision(string(decision))
	}

	s.logger.Info("payment message not credited",
		zap.String("message_id", input.MessageID),
		zap.String("decision", string(decision)),
		zap.String("reason", reason))

	return &ConfirmResult{Reason: reason}, nil
}

// systemFault 记录 ERROR 判定并把底层故障向上抛
func (s *ConfirmService) systemFault(input ConfirmInput, topupID *string, cause error) (*ConfirmResult, error) {
	if err := s.paymentLog.Record(RecordInput{
		MessageID:   input.MessageID,
		Decision:    domain.DecisionError,
		Reason:      cause.Error(),
		Phrase:      input.Phrase,
		Source:      input.Source,
		TopupID:     topupID,
		Subject:     input.Subject,
		BodyPreview: input.BodyPreview,
		EmailDate:   input.EmailDate,
	}); err != nil {
		s.logger.Error("failed to record error decision",
			zap.String("message_id", input.MessageID), zap.Error(err))
	}

	if s.metrics != nil {
		s.metrics.RecordDecision(string(domain.DecisionError))
		s.metrics.RecordError("confirm", "engine")
	}

	s.logger.Error("payment confirmation system fault",
		zap.String("message_id", input.MessageID), zap.Error(cause))

	return &ConfirmResult{Reason: cause.Error()}, cause
}

// parseCreditAmount 把金额原文解析为整数金币数，向下取整。
// 缺失、非数字或非正值都不可入账。
func parseCreditAmount(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, errors.New("amount is empty")
	}
	parsed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, errors.New("amount is not numeric")
	}
	if math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0, errors.New("amount is not finite")
	}
	// float64 到 int64 的溢出转换行为依平台而定，越界值必须在转换前拒绝
	if parsed >= math.MaxInt64 {
		return 0, errors.New("amount is out of range")
	}
	floored := int64(math.Floor(parsed))
	if floored <= 0 {
		return 0, errors.New("amount is not positive")
	}
	return floored, nil
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
