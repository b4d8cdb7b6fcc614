package domain

import (
	"time"
)

// UserRole 用户角色
type UserRole string

const (
	// RoleUser 普通用户
	RoleUser UserRole = "user"
	// RoleAdmin 管理员
	RoleAdmin UserRole = "admin"
)

// User 表示钱包用户的业务实体。
//
// Balance 为用户当前金币余额，只允许由确认引擎的原子入账事务修改，
// 其余代码只读。
type User struct {
	ID           string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Email        string     `json:"email" gorm:"type:varchar(255);uniqueIndex"`
	Username     string     `json:"username" gorm:"type:varchar(64);uniqueIndex"`
	PasswordHash string     `json:"-" gorm:"type:varchar(255)"`
	Role         UserRole   `json:"role" gorm:"type:varchar(16);default:user"`
	Balance      int64      `json:"balance" gorm:"not null;default:0"` // 金币余额，非负
	IsActive     bool       `json:"isActive" gorm:"default:true"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// IsAdmin 判断用户是否为管理员
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
