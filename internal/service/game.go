package service

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"coinup/backend/internal/domain"
	"coinup/backend/internal/storage"
)

var (
	// ErrGameNameInvalid 游戏名称非法
	ErrGameNameInvalid = errors.New("game name invalid")
	// ErrGameSlugInvalid 游戏标识非法
	ErrGameSlugInvalid = errors.New("game slug invalid")
)

// slug 只允许小写字母、数字与连字符
var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// GameService 封装游戏条目的维护操作，增删改仅管理员可用。
type GameService struct {
	repo   storage.GameRepository
	logger *zap.Logger
}

// NewGameService 创建游戏业务服务。
func NewGameService(repo storage.GameRepository, logger *zap.Logger) *GameService {
	return &GameService{repo: repo, logger: logger}
}

// GameInput 创建或更新游戏的输入。
type GameInput struct {
	Name     string
	Slug     string
	IconURL  string
	CoinHint int64
	IsActive bool
}

func validateGameInput(input GameInput) error {
	name := strings.TrimSpace(input.Name)
	if name == "" || len(name) > 128 {
		return ErrGameNameInvalid
	}
	if !slugPattern.MatchString(input.Slug) || len(input.Slug) > 128 {
		return ErrGameSlugInvalid
	}
	return nil
}

// Create 创建游戏条目。
func (s *GameService) Create(input GameInput) (*domain.Game, error) {
	if err := validateGameInput(input); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	game := &domain.Game{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(input.Name),
		Slug:      input.Slug,
		IconURL:   input.IconURL,
		CoinHint:  input.CoinHint,
		IsActive:  input.IsActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.SaveGame(game); err != nil {
		return nil, err
	}

	s.logger.Info("game created", zap.String("game_id", game.ID), zap.String("slug", game.Slug))
	return game, nil
}

// Update 更新游戏条目。
func (s *GameService) Update(id string, input GameInput) (*domain.Game, error) {
	if err := validateGameInput(input); err != nil {
		return nil, err
	}

	game, err := s.repo.GetGame(id)
	if err != nil {
		return nil, err
	}

	game.Name = strings.TrimSpace(input.Name)
	game.Slug = input.Slug
	game.IconURL = input.IconURL
	game.CoinHint = input.CoinHint
	game.IsActive = input.IsActive

	if err := s.repo.UpdateGame(game); err != nil {
		return nil, err
	}
	return game, nil
}

// Delete 删除游戏条目。
func (s *GameService) Delete(id string) error {
	if err := s.repo.DeleteGame(id); err != nil {
		return err
	}
	s.logger.Info("game deleted", zap.String("game_id", id))
	return nil
}

// Get 根据 ID 获取游戏。
func (s *GameService) Get(id string) (*domain.Game, error) {
	return s.repo.GetGame(id)
}

// List 列出游戏，activeOnly 为真时只返回上架条目。
func (s *GameService) List(activeOnly bool) ([]domain.Game, error) {
	return s.repo.ListGames(activeOnly)
}
