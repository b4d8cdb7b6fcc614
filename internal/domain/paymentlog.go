package domain

import (
	"time"
)

// PaymentDecision 付款邮件的终态判定
type PaymentDecision string

const (
	// DecisionAccepted 已确认入账
	DecisionAccepted PaymentDecision = "accepted"
	// DecisionRejected 形似付款但未通过业务规则
	DecisionRejected PaymentDecision = "rejected"
	// DecisionIgnored 非付款邮件或没有可匹配的口令
	DecisionIgnored PaymentDecision = "ignored"
	// DecisionError 处理过程中出现系统故障
	DecisionError PaymentDecision = "error"
)

// PaymentLogEntry 付款判定的审计记录，按消息标识去重，只追加不修改。
//
// MessageID 上的唯一索引配合 insert-or-ignore 写入保证幂等：
// 重复写入静默跳过，不视为错误。
type PaymentLogEntry struct {
	ID          string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MessageID   string          `json:"messageId" gorm:"type:varchar(512);uniqueIndex"`
	Decision    PaymentDecision `json:"decision" gorm:"type:varchar(16);index"`
	Reason      string          `json:"reason" gorm:"type:varchar(1024)"`
	Phrase      string          `json:"phrase" gorm:"type:varchar(255)"`
	Source      string          `json:"source" gorm:"type:varchar(32)"` // 口令来源安全区标记
	TopupID     *string         `json:"topupId,omitempty" gorm:"type:varchar(36);index"`
	Subject     string          `json:"subject" gorm:"type:varchar(512)"`
	BodyPreview string          `json:"bodyPreview" gorm:"type:varchar(1024)"`
	EmailDate   time.Time       `json:"emailDate"`
	CreatedAt   time.Time       `json:"createdAt" gorm:"index"`
}

// ProcessedMessage 已处理消息标记，(邮箱, 序号) 复合主键。
//
// 只要出现过任意判定（accepted/rejected/ignored/error），该消息
// 就会被打上标记，之后任何情况下都不再重新处理。
type ProcessedMessage struct {
	Mailbox   string    `json:"mailbox" gorm:"primaryKey;type:varchar(128)"`
	SeqID     uint32    `json:"seqId" gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time `json:"createdAt"`
}
