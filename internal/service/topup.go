package service

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"coinup/backend/internal/config"
	"coinup/backend/internal/domain"
	"coinup/backend/internal/storage"
)

var (
	// ErrTooManyActiveTopups 用户未完成的充值请求过多
	ErrTooManyActiveTopups = errors.New("too many active topup requests")
	// ErrPhraseGeneration 多次尝试后仍无法生成唯一口令
	ErrPhraseGeneration = errors.New("failed to generate a unique passphrase")
)

// 生成唯一口令的最大尝试次数
const maxPhraseAttempts = 10

// WatermarkSource 提供邮箱下一序号，由轮询引擎实现。
//
// 创建充值请求时记录当时的下一序号作为武装水位，扫描永远不回看
// 比最早未完成请求更老的邮件。引擎未连接过邮箱时返回 false，
// 此时请求不带武装水位。
type WatermarkSource interface {
	CurrentNextSeq() (uint32, bool)
}

// TopupCache 充值请求缓存边界，可选加速层。
type TopupCache interface {
	CacheTopup(topup *domain.TopupRequest, ttl time.Duration) error
	GetCachedTopup(topupID string) (*domain.TopupRequest, error)
	DeleteCachedTopup(topupID string) error
}

// TopupService 封装充值请求的创建与查询。
type TopupService struct {
	repo   storage.TopupRepository
	cfg    *config.Config
	logger *zap.Logger
	cache  TopupCache // 可为 nil

	mu        sync.Mutex
	random    *rand.Rand
	watermark WatermarkSource // 可为 nil，引擎启动后注入
}

// NewTopupService 创建充值业务服务。
func NewTopupService(repo storage.TopupRepository, cfg *config.Config, logger *zap.Logger) *TopupService {
	return &TopupService{
		repo:   repo,
		cfg:    cfg,
		logger: logger,
		random: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetWatermarkSource 注入邮箱水位来源（引擎启动后调用，避免循环依赖）
func (s *TopupService) SetWatermarkSource(source WatermarkSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermark = source
}

// SetCache 注入可选的充值状态缓存
func (s *TopupService) SetCache(cache TopupCache) {
	s.cache = cache
}

// Create 为用户创建一笔充值请求，生成 4 词口令并记录武装水位。
//
// 口令唯一性按规范化文本与所有活跃请求比对，在创建时保证，
// 不依赖数据库唯一索引。
func (s *TopupService) Create(userID string) (*domain.TopupRequest, error) {
	now := time.Now().UTC()

	count, err := s.repo.CountActiveTopupsByUserID(userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to count active topups: %w", err)
	}
	if count >= s.cfg.Topup.MaxPerUser {
		return nil, ErrTooManyActiveTopups
	}

	active, err := s.repo.ListActiveTopups(now)
	if err != nil {
		return nil, fmt.Errorf("failed to list active topups: %w", err)
	}

	taken := make(map[string]struct{}, len(active))
	for _, t := range active {
		taken[domain.NormalizePhrase(t.Passphrase)] = struct{}{}
	}

	phrase, err := s.generatePhrase(taken)
	if err != nil {
		return nil, err
	}

	topup := &domain.TopupRequest{
		ID:         uuid.NewString(),
		UserID:     userID,
		Passphrase: phrase,
		Status:     domain.TopupStatusPending,
		ExpiresAt:  now.Add(s.cfg.Topup.Expiry),
		CreatedAt:  now,
	}

	s.mu.Lock()
	watermark := s.watermark
	s.mu.Unlock()
	if watermark != nil {
		if seq, ok := watermark.CurrentNextSeq(); ok {
			topup.ArmedSeq = &seq
		}
	}

	if err := s.repo.SaveTopup(topup); err != nil {
		return nil, fmt.Errorf("failed to save topup: %w", err)
	}

	s.logger.Info("topup request created",
		zap.String("topup_id", topup.ID),
		zap.String("user_id", userID),
		zap.Time("expires_at", topup.ExpiresAt),
		zap.Uint32p("armed_seq", topup.ArmedSeq))

	return topup, nil
}

// generatePhrase 从词表抽取 4 个不同的词组成口令，与活跃口令查重
func (s *TopupService) generatePhrase(taken map[string]struct{}) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < maxPhraseAttempts; attempt++ {
		indices := s.random.Perm(len(passphraseWords))[:4]
		words := make([]string, 4)
		for i, idx := range indices {
			words[i] = passphraseWords[idx]
		}
		phrase := strings.Join(words, " ")

		if _, exists := taken[domain.NormalizePhrase(phrase)]; !exists {
			return phrase, nil
		}
	}
	return "", ErrPhraseGeneration
}

// GetStatus 查询充值请求的展示状态。
//
// PENDING 请求过了有效期直接显示为 EXPIRED，不等待后台清扫落库。
// 终态请求的结果可被缓存，PENDING 状态只做短时间缓存。
func (s *TopupService) GetStatus(topupID string) (*domain.TopupRequest, error) {
	if s.cache != nil {
		if cached, err := s.cache.GetCachedTopup(topupID); err == nil && cached != nil {
			return cached, nil
		}
	}

	topup, err := s.repo.GetTopup(topupID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		ttl := 5 * time.Second
		if topup.Status != domain.TopupStatusPending {
			ttl = 5 * time.Minute
		}
		if err := s.cache.CacheTopup(topup, ttl); err != nil {
			s.logger.Warn("failed to cache topup", zap.String("topup_id", topupID), zap.Error(err))
		}
	}

	return topup, nil
}

// ListByUser 按创建时间倒序返回用户的充值历史。
func (s *TopupService) ListByUser(userID string) ([]domain.TopupRequest, error) {
	return s.repo.ListTopupsByUserID(userID)
}

// ListActive 返回给定时刻仍待确认且未过期的请求，供扫描计算水位。
func (s *TopupService) ListActive(now time.Time) ([]domain.TopupRequest, error) {
	return s.repo.ListActiveTopups(now)
}

// FindByExactPhrase 在活跃请求中收集与候选口令规范化相等的全部匹配。
//
// 必须收集全部而非取首个：多于一个匹配说明创建时唯一性约束被
// 破坏，调用方应整体拒绝而不是任选其一入账。
func (s *TopupService) FindByExactPhrase(candidate string, now time.Time) ([]domain.TopupRequest, error) {
	normalized := domain.NormalizePhrase(candidate)
	if normalized == "" {
		return nil, nil
	}

	active, err := s.repo.ListActiveTopups(now)
	if err != nil {
		return nil, fmt.Errorf("failed to list active topups: %w", err)
	}

	var matches []domain.TopupRequest
	for _, t := range active {
		if domain.NormalizePhrase(t.Passphrase) == normalized {
			matches = append(matches, t)
		}
	}
	return matches, nil
}

// ExpireOverdue 把已过有效期的 pending 请求落库为 expired，返回数量。
func (s *TopupService) ExpireOverdue() (int, error) {
	count, err := s.repo.ExpireOverdueTopups(time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.Info("expired overdue topup requests", zap.Int("count", count))
	}
	return count, nil
}

// InvalidateCache 使充值请求的缓存失效（入账后调用）
func (s *TopupService) InvalidateCache(topupID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteCachedTopup(topupID); err != nil {
		s.logger.Warn("failed to invalidate topup cache", zap.String("topup_id", topupID), zap.Error(err))
	}
}
