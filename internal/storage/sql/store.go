package sql

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"coinup/backend/internal/domain"
	"coinup/backend/internal/storage"
)

// Store SQL 存储实现（支持 PostgreSQL 与 MySQL）
type Store struct {
	db *gorm.DB
}

// PoolOptions 连接池参数，零值字段使用默认值。
type PoolOptions struct {
	MaxOpenConns    int           // 默认 25
	MaxIdleConns    int           // 默认 5
	ConnMaxLifetime time.Duration // 默认 5 分钟
}

// withDefaults 为未设置的字段填入默认值
func (o PoolOptions) withDefaults() PoolOptions {
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = 25
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = 5
	}
	if o.ConnMaxLifetime <= 0 {
		o.ConnMaxLifetime = 5 * time.Minute
	}
	return o
}

// NewStore 创建 PostgreSQL 存储实例
func NewStore(dsn string, pool PoolOptions) (*Store, error) {
	return NewStoreWithDialector(postgres.Open(dsn), pool)
}

// NewMySQLStore 创建 MySQL 存储实例
func NewMySQLStore(dsn string, pool PoolOptions) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(dsn), pool)
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, pool PoolOptions) (*Store, error) {
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	pool = pool.withDefaults()
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate 自动迁移数据库表结构
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.User{},
		&domain.TopupRequest{},
		&domain.PaymentLogEntry{},
		&domain.ProcessedMessage{},
		&domain.Game{},
		&domain.GameUsername{},
		&jwtBlacklistEntry{},
		&rateLimitEntry{},
	)
}

// jwtBlacklistEntry JWT 黑名单表
type jwtBlacklistEntry struct {
	JTI       string    `gorm:"primaryKey;type:varchar(64)"`
	ExpiresAt time.Time `gorm:"index"`
}

func (jwtBlacklistEntry) TableName() string { return "jwt_blacklist" }

// rateLimitEntry 限流计数表
type rateLimitEntry struct {
	Key       string `gorm:"primaryKey;type:varchar(128);column:rl_key"`
	Count     int64
	ExpiresAt time.Time `gorm:"index"`
}

func (rateLimitEntry) TableName() string { return "rate_limits" }

// ========== User Repository ==========

// CreateUser 创建用户
func (s *Store) CreateUser(user *domain.User) error {
	var count int64
	if err := s.db.Model(&domain.User{}).
		Where("email = ? OR username = ?", user.Email, user.Username).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return storage.ErrUserExists
	}
	return s.db.Create(user).Error
}

// GetUserByID 根据 ID 获取用户
func (s *Store) GetUserByID(id string) (*domain.User, error) {
	var user domain.User
	err := s.db.Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetUserByEmail 根据邮箱获取用户
func (s *Store) GetUserByEmail(email string) (*domain.User, error) {
	var user domain.User
	err := s.db.Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetUserByUsername 根据用户名获取用户
func (s *Store) GetUserByUsername(username string) (*domain.User, error) {
	var user domain.User
	err := s.db.Where("username = ?", username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UpdateUser 更新用户信息。余额列被显式排除，入账只走 TryConfirmTopup。
func (s *Store) UpdateUser(user *domain.User) error {
	result := s.db.Model(&domain.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]interface{}{
			"email":         user.Email,
			"username":      user.Username,
			"password_hash": user.PasswordHash,
			"role":          user.Role,
			"is_active":     user.IsActive,
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrUserNotFound
	}
	return nil
}

// UpdateLastLogin 更新用户最后登录时间
func (s *Store) UpdateLastLogin(userID string) error {
	result := s.db.Model(&domain.User{}).
		Where("id = ?", userID).
		Update("last_login_at", time.Now().UTC())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrUserNotFound
	}
	return nil
}

// ListUsers 分页列出用户
func (s *Store) ListUsers(page, pageSize int, search string, role *domain.UserRole, isActive *bool) ([]domain.User, int, error) {
	query := s.db.Model(&domain.User{})

	if search != "" {
		pattern := "%" + search + "%"
		query = query.Where("email LIKE ? OR username LIKE ?", pattern, pattern)
	}
	if role != nil {
		query = query.Where("role = ?", *role)
	}
	if isActive != nil {
		query = query.Where("is_active = ?", *isActive)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	var users []domain.User
	err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&users).Error
	if err != nil {
		return nil, 0, err
	}
	return users, int(total), nil
}

// ========== Topup Repository ==========

// SaveTopup 保存充值请求
func (s *Store) SaveTopup(topup *domain.TopupRequest) error {
	return s.db.Save(topup).Error
}

// GetTopup 根据 ID 获取充值请求
func (s *Store) GetTopup(id string) (*domain.TopupRequest, error) {
	var topup domain.TopupRequest
	err := s.db.Where("id = ?", id).First(&topup).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrTopupNotFound
		}
		return nil, err
	}
	return &topup, nil
}

// ListTopupsByUserID 按创建时间倒序返回用户的全部充值请求
func (s *Store) ListTopupsByUserID(userID string) ([]domain.TopupRequest, error) {
	var topups []domain.TopupRequest
	err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&topups).Error
	return topups, err
}

// ListActiveTopups 返回仍处于待确认且未过期的请求
func (s *Store) ListActiveTopups(now time.Time) ([]domain.TopupRequest, error) {
	var topups []domain.TopupRequest
	err := s.db.Where("status = ? AND expires_at > ?", domain.TopupStatusPending, now).
		Find(&topups).Error
	return topups, err
}

// CountActiveTopupsByUserID 统计用户当前有效的待确认请求数
func (s *Store) CountActiveTopupsByUserID(userID string, now time.Time) (int, error) {
	var count int64
	err := s.db.Model(&domain.TopupRequest{}).
		Where("user_id = ? AND status = ? AND expires_at > ?", userID, domain.TopupStatusPending, now).
		Count(&count).Error
	return int(count), err
}

// TryConfirmTopup 原子确认入账。
//
// 状态翻转用条件 UPDATE 实现：WHERE 子句同时限定 pending 与未过期，
// 影响行数为 0 即说明请求已被确认、已过期或正被并发确认，整个事务
// 回滚且不产生任何写入。余额增加在同一事务内以 balance = balance + n
// 的形式执行，不读改写，避免丢失更新。
func (s *Store) TryConfirmTopup(id string, amount int64, now time.Time) (*domain.TopupRequest, error) {
	var confirmed domain.TopupRequest

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var topup domain.TopupRequest
		if err := tx.Where("id = ?", id).First(&topup).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storage.ErrTopupNotFound
			}
			return err
		}

		result := tx.Model(&domain.TopupRequest{}).
			Where("id = ? AND status = ? AND expires_at > ?", id, domain.TopupStatusPending, now).
			Updates(map[string]interface{}{
				"status":          domain.TopupStatusConfirmed,
				"credited_amount": amount,
				"confirmed_at":    now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return storage.ErrTopupNotPending
		}

		result = tx.Model(&domain.User{}).
			Where("id = ?", topup.UserID).
			Updates(map[string]interface{}{
				"balance":    gorm.Expr("balance + ?", amount),
				"updated_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return storage.ErrUserNotFound
		}

		return tx.Where("id = ?", id).First(&confirmed).Error
	})
	if err != nil {
		return nil, err
	}
	return &confirmed, nil
}

// ExpireOverdueTopups 把已过期的 pending 请求批量落库为 expired
func (s *Store) ExpireOverdueTopups(now time.Time) (int, error) {
	result := s.db.Model(&domain.TopupRequest{}).
		Where("status = ? AND expires_at <= ?", domain.TopupStatusPending, now).
		Update("status", domain.TopupStatusExpired)
	return int(result.RowsAffected), result.Error
}

// ========== PaymentLog Repository ==========

// AppendPaymentLog 幂等追加审计记录。
//
// MessageID 上有唯一索引，插入冲突时走 ON CONFLICT DO NOTHING，
// 通过影响行数区分是否实际写入。
func (s *Store) AppendPaymentLog(entry *domain.PaymentLogEntry) (bool, error) {
	result := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}},
		DoNothing: true,
	}).Create(entry)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GetPaymentLogByMessageID 根据消息标识获取审计记录，不存在时返回 (nil, nil)
func (s *Store) GetPaymentLogByMessageID(messageID string) (*domain.PaymentLogEntry, error) {
	var entry domain.PaymentLogEntry
	err := s.db.Where("message_id = ?", messageID).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// ListPaymentLogs 按时间倒序分页列出审计记录
func (s *Store) ListPaymentLogs(decision *domain.PaymentDecision, limit, offset int) ([]domain.PaymentLogEntry, int, error) {
	query := s.db.Model(&domain.PaymentLogEntry{})
	if decision != nil {
		query = query.Where("decision = ?", *decision)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var entries []domain.PaymentLogEntry
	err := query.Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}
	return entries, int(total), nil
}

// ========== ProcessedMark Repository ==========

// MarkProcessed 幂等标记消息已处理，复合主键冲突静默跳过
func (s *Store) MarkProcessed(mailbox string, seq uint32) error {
	mark := &domain.ProcessedMessage{
		Mailbox:   mailbox,
		SeqID:     seq,
		CreatedAt: time.Now().UTC(),
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(mark).Error
}

// IsProcessed 查询消息是否已处理
func (s *Store) IsProcessed(mailbox string, seq uint32) (bool, error) {
	var count int64
	err := s.db.Model(&domain.ProcessedMessage{}).
		Where("mailbox = ? AND seq_id = ?", mailbox, seq).
		Count(&count).Error
	return count > 0, err
}

// ========== Game Repository ==========

// SaveGame 保存游戏条目
func (s *Store) SaveGame(game *domain.Game) error {
	var count int64
	if err := s.db.Model(&domain.Game{}).
		Where("slug = ? AND id <> ?", game.Slug, game.ID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return storage.ErrGameExists
	}
	return s.db.Save(game).Error
}

// GetGame 根据 ID 获取游戏
func (s *Store) GetGame(id string) (*domain.Game, error) {
	var game domain.Game
	err := s.db.Where("id = ?", id).First(&game).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrGameNotFound
		}
		return nil, err
	}
	return &game, nil
}

// GetGameBySlug 根据标识获取游戏
func (s *Store) GetGameBySlug(slug string) (*domain.Game, error) {
	var game domain.Game
	err := s.db.Where("slug = ?", slug).First(&game).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrGameNotFound
		}
		return nil, err
	}
	return &game, nil
}

// ListGames 按名称排序列出游戏
func (s *Store) ListGames(activeOnly bool) ([]domain.Game, error) {
	query := s.db.Model(&domain.Game{})
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	var games []domain.Game
	err := query.Order("name ASC").Find(&games).Error
	return games, err
}

// UpdateGame 更新游戏条目
func (s *Store) UpdateGame(game *domain.Game) error {
	var count int64
	if err := s.db.Model(&domain.Game{}).
		Where("slug = ? AND id <> ?", game.Slug, game.ID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return storage.ErrGameExists
	}

	result := s.db.Model(&domain.Game{}).
		Where("id = ?", game.ID).
		Updates(map[string]interface{}{
			"name":       game.Name,
			"slug":       game.Slug,
			"icon_url":   game.IconURL,
			"coin_hint":  game.CoinHint,
			"is_active":  game.IsActive,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrGameNotFound
	}
	return nil
}

// DeleteGame 删除游戏条目
func (s *Store) DeleteGame(id string) error {
	result := s.db.Where("id = ?", id).Delete(&domain.Game{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrGameNotFound
	}
	return nil
}

// ========== GameUsername Repository ==========

// SaveGameUsername 保存用户游戏账号名
func (s *Store) SaveGameUsername(gu *domain.GameUsername) error {
	return s.db.Save(gu).Error
}

// GetGameUsername 根据 ID 获取用户游戏账号名
func (s *Store) GetGameUsername(id string) (*domain.GameUsername, error) {
	var gu domain.GameUsername
	err := s.db.Where("id = ?", id).First(&gu).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrGameUsernameNotFound
		}
		return nil, err
	}
	return &gu, nil
}

// ListGameUsernamesByUserID 列出用户的全部游戏账号名
func (s *Store) ListGameUsernamesByUserID(userID string) ([]domain.GameUsername, error) {
	var list []domain.GameUsername
	err := s.db.Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&list).Error
	return list, err
}

// DeleteGameUsername 删除用户游戏账号名
func (s *Store) DeleteGameUsername(id string) error {
	result := s.db.Where("id = ?", id).Delete(&domain.GameUsername{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrGameUsernameNotFound
	}
	return nil
}

// ========== JWT / RateLimit Repository ==========

// AddToBlacklist 把 JWT 加入黑名单
func (s *Store) AddToBlacklist(jti string, ttl time.Duration) error {
	entry := &jwtBlacklistEntry{
		JTI:       jti,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "jti"}},
		DoUpdates: clause.AssignmentColumns([]string{"expires_at"}),
	}).Create(entry).Error
}

// IsBlacklisted 查询 JWT 是否在黑名单内
func (s *Store) IsBlacklisted(jti string) (bool, error) {
	var count int64
	err := s.db.Model(&jwtBlacklistEntry{}).
		Where("jti = ? AND expires_at > ?", jti, time.Now().UTC()).
		Count(&count).Error
	return count > 0, err
}

// IncrementRateLimit 递增限流计数并返回当前值
func (s *Store) IncrementRateLimit(key string, window time.Duration) (int64, error) {
	now := time.Now().UTC()
	var current int64

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var entry rateLimitEntry
		err := tx.Where("rl_key = ?", key).First(&entry).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if errors.Is(err, gorm.ErrRecordNotFound) || now.After(entry.ExpiresAt) {
			entry = rateLimitEntry{Key: key, Count: 1, ExpiresAt: now.Add(window)}
			current = 1
			return tx.Save(&entry).Error
		}

		entry.Count++
		current = entry.Count
		return tx.Save(&entry).Error
	})
	return current, err
}

// GetRateLimit 查询限流计数当前值
func (s *Store) GetRateLimit(key string) (int64, error) {
	var entry rateLimitEntry
	err := s.db.Where("rl_key = ? AND expires_at > ?", key, time.Now().UTC()).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return entry.Count, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库健康状态
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
