package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"coinup/backend/internal/domain"
	"coinup/backend/internal/storage"
)

// Store 使用内存保存钱包数据，主要用于开发验证与单元测试。
type Store struct {
	mu         sync.RWMutex
	users      map[string]*domain.User // userID -> user
	byEmail    map[string]string       // email -> userID
	byUsername map[string]string       // username -> userID

	topups        map[string]*domain.TopupRequest // topupID -> topup
	topupsByUser  map[string][]string             // userID -> topupIDs（按创建顺序）
	paymentLogs   map[string]*domain.PaymentLogEntry
	logByMessage  map[string]string // messageID -> logID
	processed     map[string]map[uint32]time.Time
	games         map[string]*domain.Game
	gamesBySlug   map[string]string
	gameUsernames map[string]*domain.GameUsername

	// JWT 黑名单与速率限制
	blacklist  map[string]time.Time
	rateLimits map[string]*rateLimitEntry
}

// rateLimitEntry 速率限制条目
type rateLimitEntry struct {
	Count     int64
	ExpiresAt time.Time
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		users:         make(map[string]*domain.User),
		byEmail:       make(map[string]string),
		byUsername:    make(map[string]string),
		topups:        make(map[string]*domain.TopupRequest),
		topupsByUser:  make(map[string][]string),
		paymentLogs:   make(map[string]*domain.PaymentLogEntry),
		logByMessage:  make(map[string]string),
		processed:     make(map[string]map[uint32]time.Time),
		games:         make(map[string]*domain.Game),
		gamesBySlug:   make(map[string]string),
		gameUsernames: make(map[string]*domain.GameUsername),
		blacklist:     make(map[string]time.Time),
		rateLimits:    make(map[string]*rateLimitEntry),
	}
}

// CreateUser 创建用户。
func (s *Store) CreateUser(user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[user.Email]; ok {
		return storage.ErrUserExists
	}
	if _, ok := s.byUsername[user.Username]; ok {
		return storage.ErrUserExists
	}

	u := *user
	s.users[u.ID] = &u
	s.byEmail[u.Email] = u.ID
	s.byUsername[u.Username] = u.ID
	return nil
}

// GetUserByID 根据 ID 获取用户。
func (s *Store) GetUserByID(id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	u := *user
	return &u, nil
}

// GetUserByEmail 根据邮箱获取用户。
func (s *Store) GetUserByEmail(email string) (*domain.User, error) {
	s.mu.RLock()
	id, ok := s.byEmail[email]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return s.GetUserByID(id)
}

// GetUserByUsername 根据用户名获取用户。
func (s *Store) GetUserByUsername(username string) (*domain.User, error) {
	s.mu.RLock()
	id, ok := s.byUsername[username]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return s.GetUserByID(id)
}

// UpdateUser 更新用户信息。余额不经由本方法修改，入账只走 TryConfirmTopup。
func (s *Store) UpdateUser(user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.ID]
	if !ok {
		return storage.ErrUserNotFound
	}

	u := *user
	u.Balance = existing.Balance
	u.UpdatedAt = time.Now()
	s.users[u.ID] = &u
	return nil
}

// UpdateLastLogin 更新用户最后登录时间。
func (s *Store) UpdateLastLogin(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	now := time.Now()
	user.LastLoginAt = &now
	return nil
}

// ListUsers 分页列出用户，支持按关键字、角色与启用状态过滤。
func (s *Store) ListUsers(page, pageSize int, search string, role *domain.UserRole, isActive *bool) ([]domain.User, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []domain.User
	for _, u := range s.users {
		if search != "" &&
			!strings.Contains(strings.ToLower(u.Email), strings.ToLower(search)) &&
			!strings.Contains(strings.ToLower(u.Username), strings.ToLower(search)) {
			continue
		}
		if role != nil && u.Role != *role {
			continue
		}
		if isActive != nil && u.IsActive != *isActive {
			continue
		}
		matched = append(matched, *u)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	start := (page - 1) * pageSize
	if start >= total {
		return []domain.User{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// SaveTopup 保存充值请求。
func (s *Store) SaveTopup(topup *domain.TopupRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := *topup
	if _, ok := s.topups[t.ID]; !ok {
		s.topupsByUser[t.UserID] = append(s.topupsByUser[t.UserID], t.ID)
	}
	s.topups[t.ID] = &t
	return nil
}

// GetTopup 根据 ID 获取充值请求。
func (s *Store) GetTopup(id string) (*domain.TopupRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topup, ok := s.topups[id]
	if !ok {
		return nil, storage.ErrTopupNotFound
	}
	t := *topup
	return &t, nil
}

// ListTopupsByUserID 按创建时间倒序返回用户的全部充值请求。
func (s *Store) ListTopupsByUserID(userID string) ([]domain.TopupRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.topupsByUser[userID]
	result := make([]domain.TopupRequest, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if t, ok := s.topups[ids[i]]; ok {
			result = append(result, *t)
		}
	}
	return result, nil
}

// ListActiveTopups 返回仍处于待确认且未过期的请求。
func (s *Store) ListActiveTopups(now time.Time) ([]domain.TopupRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.TopupRequest
	for _, t := range s.topups {
		if t.Status == domain.TopupStatusPending && !t.IsExpiredAt(now) {
			result = append(result, *t)
		}
	}
	return result, nil
}

// CountActiveTopupsByUserID 统计用户当前有效的待确认请求数。
func (s *Store) CountActiveTopupsByUserID(userID string, now time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, id := range s.topupsByUser[userID] {
		t, ok := s.topups[id]
		if ok && t.Status == domain.TopupStatusPending && !t.IsExpiredAt(now) {
			count++
		}
	}
	return count, nil
}

// TryConfirmTopup 原子确认入账。
//
// 互斥锁保证状态检查、状态翻转与余额增加的原子性，与 SQL 实现的
// 单事务语义一致。
func (s *Store) TryConfirmTopup(id string, amount int64, now time.Time) (*domain.TopupRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	topup, ok := s.topups[id]
	if !ok {
		return nil, storage.ErrTopupNotFound
	}
	if topup.Status != domain.TopupStatusPending || topup.IsExpiredAt(now) {
		return nil, storage.ErrTopupNotPending
	}

	user, ok := s.users[topup.UserID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}

	credited := amount
	confirmedAt := now
	topup.Status = domain.TopupStatusConfirmed
	topup.CreditedAmount = &credited
	topup.ConfirmedAt = &confirmedAt
	user.Balance += amount
	user.UpdatedAt = now

	t := *topup
	return &t, nil
}

// ExpireOverdueTopups 把已过期的 pending 请求落库为 expired。
func (s *Store) ExpireOverdueTopups(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, t := range s.topups {
		if t.Status == domain.TopupStatusPending && t.IsExpiredAt(now) {
			t.Status = domain.TopupStatusExpired
			count++
		}
	}
	return count, nil
}

// AppendPaymentLog 幂等追加审计记录，MessageID 已存在时静默跳过。
func (s *Store) AppendPaymentLog(entry *domain.PaymentLogEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.logByMessage[entry.MessageID]; ok {
		return false, nil
	}

	e := *entry
	s.paymentLogs[e.ID] = &e
	s.logByMessage[e.MessageID] = e.ID
	return true, nil
}

// GetPaymentLogByMessageID 根据消息标识获取审计记录。
func (s *Store) GetPaymentLogByMessageID(messageID string) (*domain.PaymentLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.logByMessage[messageID]
	if !ok {
		return nil, nil
	}
	e := *s.paymentLogs[id]
	return &e, nil
}

// ListPaymentLogs 按时间倒序分页列出审计记录。
func (s *Store) ListPaymentLogs(decision *domain.PaymentDecision, limit, offset int) ([]domain.PaymentLogEntry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []domain.PaymentLogEntry
	for _, e := range s.paymentLogs {
		if decision != nil && e.Decision != *decision {
			continue
		}
		matched = append(matched, *e)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []domain.PaymentLogEntry{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

// MarkProcessed 幂等标记消息已处理。
func (s *Store) MarkProcessed(mailbox string, seq uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	marks, ok := s.processed[mailbox]
	if !ok {
		marks = make(map[uint32]time.Time)
		s.processed[mailbox] = marks
	}
	if _, ok := marks[seq]; !ok {
		marks[seq] = time.Now()
	}
	return nil
}

// IsProcessed 查询消息是否已处理。
func (s *Store) IsProcessed(mailbox string, seq uint32) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	marks, ok := s.processed[mailbox]
	if !ok {
		return false, nil
	}
	_, ok = marks[seq]
	return ok, nil
}

// SaveGame 保存游戏条目。
func (s *Store) SaveGame(game *domain.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.gamesBySlug[game.Slug]; ok && existingID != game.ID {
		return storage.ErrGameExists
	}

	g := *game
	s.games[g.ID] = &g
	s.gamesBySlug[g.Slug] = g.ID
	return nil
}

// GetGame 根据 ID 获取游戏。
func (s *Store) GetGame(id string) (*domain.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	game, ok := s.games[id]
	if !ok {
		return nil, storage.ErrGameNotFound
	}
	g := *game
	return &g, nil
}

// GetGameBySlug 根据标识获取游戏。
func (s *Store) GetGameBySlug(slug string) (*domain.Game, error) {
	s.mu.RLock()
	id, ok := s.gamesBySlug[slug]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrGameNotFound
	}
	return s.GetGame(id)
}

// ListGames 按名称排序列出游戏。
func (s *Store) ListGames(activeOnly bool) ([]domain.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Game, 0, len(s.games))
	for _, g := range s.games {
		if activeOnly && !g.IsActive {
			continue
		}
		result = append(result, *g)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result, nil
}

// UpdateGame 更新游戏条目。
func (s *Store) UpdateGame(game *domain.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.games[game.ID]
	if !ok {
		return storage.ErrGameNotFound
	}
	if existingID, ok := s.gamesBySlug[game.Slug]; ok && existingID != game.ID {
		return storage.ErrGameExists
	}

	delete(s.gamesBySlug, existing.Slug)
	g := *game
	g.UpdatedAt = time.Now()
	s.games[g.ID] = &g
	s.gamesBySlug[g.Slug] = g.ID
	return nil
}

// DeleteGame 删除游戏条目。
func (s *Store) DeleteGame(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	game, ok := s.games[id]
	if !ok {
		return storage.ErrGameNotFound
	}
	delete(s.gamesBySlug, game.Slug)
	delete(s.games, id)
	return nil
}

// SaveGameUsername 保存用户游戏账号名。
func (s *Store) SaveGameUsername(gu *domain.GameUsername) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := *gu
	s.gameUsernames[g.ID] = &g
	return nil
}

// GetGameUsername 根据 ID 获取用户游戏账号名。
func (s *Store) GetGameUsername(id string) (*domain.GameUsername, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gu, ok := s.gameUsernames[id]
	if !ok {
		return nil, storage.ErrGameUsernameNotFound
	}
	g := *gu
	return &g, nil
}

// ListGameUsernamesByUserID 列出用户的全部游戏账号名。
func (s *Store) ListGameUsernamesByUserID(userID string) ([]domain.GameUsername, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.GameUsername
	for _, gu := range s.gameUsernames {
		if gu.UserID == userID {
			result = append(result, *gu)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// DeleteGameUsername 删除用户游戏账号名。
func (s *Store) DeleteGameUsername(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.gameUsernames[id]; !ok {
		return storage.ErrGameUsernameNotFound
	}
	delete(s.gameUsernames, id)
	return nil
}

// AddToBlacklist 把 JWT 加入黑名单。
func (s *Store) AddToBlacklist(jti string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blacklist[jti] = time.Now().Add(ttl)
	return nil
}

// IsBlacklisted 查询 JWT 是否在黑名单内。
func (s *Store) IsBlacklisted(jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expires, ok := s.blacklist[jti]
	if !ok {
		return false, nil
	}
	if time.Now().After(expires) {
		delete(s.blacklist, jti)
		return false, nil
	}
	return true, nil
}

// IncrementRateLimit 递增限流计数并返回当前值。
func (s *Store) IncrementRateLimit(key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, ok := s.rateLimits[key]
	if !ok || now.After(entry.ExpiresAt) {
		entry = &rateLimitEntry{ExpiresAt: now.Add(window)}
		s.rateLimits[key] = entry
	}
	entry.Count++
	return entry.Count, nil
}

// GetRateLimit 查询限流计数当前值。
func (s *Store) GetRateLimit(key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.rateLimits[key]
	if !ok || time.Now().After(entry.ExpiresAt) {
		return 0, nil
	}
	return entry.Count, nil
}

// Close 关闭存储。
func (s *Store) Close() error {
	return nil
}

// Health 健康检查。
func (s *Store) Health() error {
	return nil
}
