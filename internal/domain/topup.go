package domain

import (
	"time"
)

// TopupStatus 充值请求状态
type TopupStatus string

const (
	// TopupStatusPending 等待付款邮件确认
	TopupStatusPending TopupStatus = "pending"
	// TopupStatusConfirmed 已确认入账（终态，只会发生一次）
	TopupStatusConfirmed TopupStatus = "confirmed"
	// TopupStatusExpired 已过期
	TopupStatusExpired TopupStatus = "expired"
)

// TopupRequest 表示一笔待确认的充值请求。
//
// Passphrase 为用户生成的 4 词口令，原文存储；唯一性约束作用于
// 规范化（小写、空白折叠）后的文本，由创建时校验保证，而非数据库
// 唯一索引。CreditedAmount 只在确认时填写，金额来源于付款邮件，
// 与请求本身无关。ArmedSeq 记录创建时邮箱的下一序号，扫描时不会
// 回看更早的邮件。
type TopupRequest struct {
	ID             string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID         string      `json:"userId" gorm:"type:varchar(36);index"`
	Passphrase     string      `json:"passphrase" gorm:"type:varchar(255)"`
	Status         TopupStatus `json:"status" gorm:"type:varchar(16);index;default:pending"`
	CreditedAmount *int64      `json:"creditedAmount,omitempty"`
	ArmedSeq       *uint32     `json:"armedSeq,omitempty"`
	ExpiresAt      time.Time   `json:"expiresAt" gorm:"index"`
	ConfirmedAt    *time.Time  `json:"confirmedAt,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// IsExpiredAt 判断请求在给定时刻是否已过期（状态惰性转换的判定依据）。
func (t *TopupRequest) IsExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// DisplayStatus 返回对外展示的状态：PENDING 请求过了有效期后直接
// 显示为 EXPIRED，不要求后台任务先行落库。
func (t *TopupRequest) DisplayStatus(now time.Time) TopupStatus {
	if t.Status == TopupStatusPending && t.IsExpiredAt(now) {
		return TopupStatusExpired
	}
	return t.Status
}
