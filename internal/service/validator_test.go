package service

import (
	"testing"

	"coinup/backend/internal/domain"
	"coinup/backend/internal/extractor"

	"github.com/stretchr/testify/assert"
)

func boolPtr(b bool) *bool {
	return &b
}

func TestValidatePayment(t *testing.T) {
	validFacts := func() *extractor.Facts {
		return &extractor.Facts{
			Amount:   "40",
			PayType:  "sent",
			NotePart: "vine oak stone reef",
		}
	}

	t.Run("合法付款通过全部规则", func(t *testing.T) {
		result := ValidatePayment(validFacts(), "", "")

		assert.True(t, result.Valid)
		assert.Equal(t, "40", result.Amount)
		assert.Equal(t, "vine oak stone reef", result.Phrase)
		assert.Equal(t, SourceNotePart, result.Source)
	})

	t.Run("付款类型非sent被拒绝", func(t *testing.T) {
		for _, payType := range []string{"received", "request", ""} {
			facts := validFacts()
			facts.PayType = payType

			result := ValidatePayment(facts, "", "")

			assert.False(t, result.Valid)
			assert.Equal(t, domain.DecisionRejected, result.Decision)
			assert.Contains(t, result.Reason, "pay_type")
		}
	})

	t.Run("金额缺失或非法被拒绝", func(t *testing.T) {
		for _, amount := range []string{"", "   ", "abc", "-5", "0", "inf", "-inf", "nan", "1e30"} {
			facts := validFacts()
			facts.Amount = amount

			result := ValidatePayment(facts, "", "")

			assert.False(t, result.Valid)
			assert.Equal(t, domain.DecisionRejected, result.Decision)
		}
	})

	t.Run("请求状态非active被拒绝", func(t *testing.T) {
		facts := validFacts()
		facts.RequestStatus = "cancelled"

		result := ValidatePayment(facts, "", "")

		assert.False(t, result.Valid)
		assert.Equal(t, domain.DecisionRejected, result.Decision)
		assert.Contains(t, result.Reason, "cancelled")
	})

	t.Run("请求状态为空或active均通过", func(t *testing.T) {
		for _, status := range []string{"", "active"} {
			facts := validFacts()
			facts.RequestStatus = status

			result := ValidatePayment(facts, "", "")

			assert.True(t, result.Valid)
		}
	})

	t.Run("邮件自述已过期被拒绝", func(t *testing.T) {
		facts := validFacts()
		facts.IsExpired = boolPtr(true)

		result := ValidatePayment(facts, "", "")

		assert.False(t, result.Valid)
		assert.Equal(t, domain.DecisionRejected, result.Decision)
	})

	t.Run("过期标志为null或false均通过", func(t *testing.T) {
		facts := validFacts()
		facts.IsExpired = nil
		assert.True(t, ValidatePayment(facts, "", "").Valid)

		facts.IsExpired = boolPtr(false)
		assert.True(t, ValidatePayment(facts, "", "").Valid)
	})

	t.Run("无口令可提取判定为IGNORED", func(t *testing.T) {
		facts := validFacts()
		facts.NotePart = ""

		result := ValidatePayment(facts, "no directive", "")

		assert.False(t, result.Valid)
		assert.Equal(t, domain.DecisionIgnored, result.Decision)
	})

	t.Run("规则按顺序短路", func(t *testing.T) {
		// 同时违反类型与金额规则时，报告的是类型问题
		facts := &extractor.Facts{PayType: "received", Amount: "abc"}

		result := ValidatePayment(facts, "", "")

		assert.Contains(t, result.Reason, "pay_type")
	})
}
