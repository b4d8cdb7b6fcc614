package storage

import (
	"errors"
	"time"

	"coinup/backend/internal/domain"
)

var (
	// ErrUserNotFound 用户未找到错误
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists 用户已存在错误
	ErrUserExists = errors.New("user already exists")
	// ErrTopupNotFound 充值请求未找到错误
	ErrTopupNotFound = errors.New("topup request not found")
	// ErrTopupNotPending 充值请求不处于待确认状态（已确认、已过期或刚被并发确认）
	ErrTopupNotPending = errors.New("topup request is not pending")
	// ErrGameNotFound 游戏未找到错误
	ErrGameNotFound = errors.New("game not found")
	// ErrGameExists 游戏标识已存在错误
	ErrGameExists = errors.New("game slug already exists")
	// ErrGameUsernameNotFound 游戏账号名未找到错误
	ErrGameUsernameNotFound = errors.New("game username not found")
)

// UserRepository 定义用户数据存取操作。
type UserRepository interface {
	CreateUser(user *domain.User) error
	GetUserByID(id string) (*domain.User, error)
	GetUserByEmail(email string) (*domain.User, error)
	GetUserByUsername(username string) (*domain.User, error)
	UpdateUser(user *domain.User) error
	UpdateLastLogin(userID string) error
	ListUsers(page, pageSize int, search string, role *domain.UserRole, isActive *bool) ([]domain.User, int, error)
}

// TopupRepository 定义充值请求数据存取操作。
type TopupRepository interface {
	SaveTopup(topup *domain.TopupRequest) error
	GetTopup(id string) (*domain.TopupRequest, error)
	ListTopupsByUserID(userID string) ([]domain.TopupRequest, error)
	// ListActiveTopups 返回给定时刻仍处于待确认且未过期的请求
	ListActiveTopups(now time.Time) ([]domain.TopupRequest, error)
	// CountActiveTopupsByUserID 统计用户当前有效的待确认请求数
	CountActiveTopupsByUserID(userID string, now time.Time) (int, error)

	// TryConfirmTopup 原子确认入账：仅当请求仍为 pending 且未过期时，
	// 把状态置为 confirmed、写入入账金额，并给用户余额加上同一金额。
	// 状态检查、状态翻转与余额增加在同一事务内完成；请求已非
	// pending（含并发确认竞争失败）时返回 ErrTopupNotPending，
	// 不产生任何写入。
	TryConfirmTopup(id string, amount int64, now time.Time) (*domain.TopupRequest, error)

	// ExpireOverdueTopups 把已过有效期的 pending 请求批量落库为
	// expired，返回转换数量。展示层不依赖本操作，它只是后台清扫。
	ExpireOverdueTopups(now time.Time) (int, error)
}

// PaymentLogRepository 定义付款判定审计记录的存取操作。
type PaymentLogRepository interface {
	// AppendPaymentLog 幂等追加：MessageID 已存在时静默跳过，
	// 返回是否实际写入。
	AppendPaymentLog(entry *domain.PaymentLogEntry) (bool, error)
	// GetPaymentLogByMessageID 查询消息的历史判定，不存在时返回 (nil, nil)
	GetPaymentLogByMessageID(messageID string) (*domain.PaymentLogEntry, error)
	ListPaymentLogs(decision *domain.PaymentDecision, limit, offset int) ([]domain.PaymentLogEntry, int, error)
}

// ProcessedMarkRepository 定义已处理消息标记的存取操作。
type ProcessedMarkRepository interface {
	// MarkProcessed 幂等打标：重复标记同一 (邮箱, 序号) 不报错
	MarkProcessed(mailbox string, seq uint32) error
	IsProcessed(mailbox string, seq uint32) (bool, error)
}

// GameRepository 定义游戏条目数据存取操作。
type GameRepository interface {
	SaveGame(game *domain.Game) error
	GetGame(id string) (*domain.Game, error)
	GetGameBySlug(slug string) (*domain.Game, error)
	ListGames(activeOnly bool) ([]domain.Game, error)
	UpdateGame(game *domain.Game) error
	DeleteGame(id string) error
}

// GameUsernameRepository 定义用户游戏账号名数据存取操作。
type GameUsernameRepository interface {
	SaveGameUsername(gu *domain.GameUsername) error
	GetGameUsername(id string) (*domain.GameUsername, error)
	ListGameUsernamesByUserID(userID string) ([]domain.GameUsername, error)
	DeleteGameUsername(id string) error
}

// JWTRepository 定义 JWT 黑名单操作。
type JWTRepository interface {
	AddToBlacklist(jti string, ttl time.Duration) error
	IsBlacklisted(jti string) (bool, error)
}

// RateLimitRepository 定义限流操作。
type RateLimitRepository interface {
	IncrementRateLimit(key string, window time.Duration) (int64, error)
	GetRateLimit(key string) (int64, error)
}

// Store 定义完整的存储接口。
type Store interface {
	UserRepository
	TopupRepository
	PaymentLogRepository
	ProcessedMarkRepository
	GameRepository
	GameUsernameRepository
	JWTRepository
	RateLimitRepository

	// 工具方法
	Close() error
	Health() error
}
