package service

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"coinup/backend/internal/domain"
	"coinup/backend/internal/extractor"
)

// ValidationResult 付款邮件业务规则校验结果。
//
// Valid 为 false 时 Decision 指明判定类别：REJECTED 表示形似付款
// 但未通过规则，IGNORED 表示找不到可匹配的口令（不是付款形态的
// 邮件）。校验本身不落审计记录，由调用方保证每封消息只写一条。
type ValidationResult struct {
	Valid    bool
	Decision domain.PaymentDecision
	Reason   string
	Amount   string // 通过校验的金额原文
	Phrase   string // 规范化后的候选口令
	Source   PhraseSource
}

// ValidatePayment 按固定顺序应用业务规则，首个失败规则短路返回。
//
// 规则顺序：付款类型必须为 sent、金额必须为正数、请求状态必须为
// 空或 active、邮件不得自述已过期、必须能提取出口令。
func ValidatePayment(facts *extractor.Facts, rawBody, emailSubject string) ValidationResult {
	if facts.PayType != "sent" {
		return ValidationResult{
			Decision: domain.DecisionRejected,
			Reason:   fmt.Sprintf("pay_type %q is not actionable, only \"sent\" payments are credited", facts.PayType),
		}
	}

	amount := strings.TrimSpace(facts.Amount)
	if amount == "" {
		return ValidationResult{
			Decision: domain.DecisionRejected,
			Reason:   "payment amount is missing",
		}
	}
	parsed, err := strconv.ParseFloat(amount, 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) || parsed <= 0 || parsed >= math.MaxInt64 {
		return ValidationResult{
			Decision: domain.DecisionRejected,
			Reason:   fmt.Sprintf("payment amount %q is not a creditable positive number", facts.Amount),
		}
	}

	if facts.RequestStatus != "" && facts.RequestStatus != "active" {
		return ValidationResult{
			Decision: domain.DecisionRejected,
			Reason:   fmt.Sprintf("payment request status %q is not active", facts.RequestStatus),
		}
	}

	if facts.IsExpired != nil && *facts.IsExpired {
		return ValidationResult{
			Decision: domain.DecisionRejected,
			Reason:   "payment notification reports itself as expired",
		}
	}

	candidate := ExtractPassphrase(facts, rawBody, emailSubject)
	if candidate == nil {
		return ValidationResult{
			Decision: domain.DecisionIgnored,
			Reason:   "no passphrase found in any safe zone",
		}
	}

	return ValidationResult{
		Valid:  true,
		Amount: amount,
		Phrase: candidate.Phrase,
		Source: candidate.Source,
	}
}
