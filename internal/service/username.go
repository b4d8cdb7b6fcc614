package service

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"coinup/backend/internal/domain"
	"coinup/backend/internal/storage"
)

var (
	// ErrGameUsernameInvalid 游戏账号名非法
	ErrGameUsernameInvalid = errors.New("game username invalid")
	// ErrNotOwner 资源不属于当前用户
	ErrNotOwner = errors.New("resource does not belong to the user")
)

// UsernameService 封装用户游戏账号名的维护操作。
type UsernameService struct {
	repo   storage.GameUsernameRepository
	games  storage.GameRepository
	logger *zap.Logger
}

// NewUsernameService 创建游戏账号名服务。
func NewUsernameService(repo storage.GameUsernameRepository, games storage.GameRepository, logger *zap.Logger) *UsernameService {
	return &UsernameService{repo: repo, games: games, logger: logger}
}

// Add 为用户登记一个游戏内账号名。
func (s *UsernameService) Add(userID, gameID, username string) (*domain.GameUsername, error) {
	trimmed := strings.TrimSpace(username)
	if trimmed == "" || len(trimmed) > 128 {
		return nil, ErrGameUsernameInvalid
	}

	if _, err := s.games.GetGame(gameID); err != nil {
		return nil, err
	}

	gu := &domain.GameUsername{
		ID:        uuid.NewString(),
		UserID:    userID,
		GameID:    gameID,
		Username:  trimmed,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repo.SaveGameUsername(gu); err != nil {
		return nil, err
	}

	s.logger.Info("game username added",
		zap.String("user_id", userID), zap.String("game_id", gameID))
	return gu, nil
}

// List 列出用户登记的全部游戏账号名。
func (s *UsernameService) List(userID string) ([]domain.GameUsername, error) {
	return s.repo.ListGameUsernamesByUserID(userID)
}

// Remove 删除用户的游戏账号名，只能删除自己的。
func (s *UsernameService) Remove(userID, id string) error {
	gu, err := s.repo.GetGameUsername(id)
	if err != nil {
		return err
	}
	if gu.UserID != userID {
		return ErrNotOwner
	}
	return s.repo.DeleteGameUsername(id)
}
