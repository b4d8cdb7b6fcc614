package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"coinup/backend/internal/service"
	"coinup/backend/internal/storage"
)

// GameHandler 处理游戏条目与游戏账号名相关的 HTTP 请求
type GameHandler struct {
	games     *service.GameService
	usernames *service.UsernameService
	log       *zap.Logger
}

// NewGameHandler 创建游戏处理器
func NewGameHandler(games *service.GameService, usernames *service.UsernameService, logger *zap.Logger) *GameHandler {
	return &GameHandler{
		games:     games,
		usernames: usernames,
		log:       logger,
	}
}

type gameRequest struct {
	Name     string `json:"name" binding:"required"`
	Slug     string `json:"slug" binding:"required"`
	IconURL  string `json:"iconUrl"`
	CoinHint int64  `json:"coinHint"`
	IsActive bool   `json:"isActive"`
}

// ListActive 列出上架中的游戏
// @Summary 游戏列表
// @Description 返回当前可充值的游戏列表
// @Tags 游戏
// @Produce json
// @Success 200 {object} Response "游戏列表"
// @Router /v1/games [get]
func (h *GameHandler) ListActive(c *gin.Context) {
	games, err := h.games.List(true)
	if err != nil {
		h.log.Error("failed to list games", zap.Error(err))
		InternalError(c, MsgGameListFailed)
		return
	}

	Success(c, gin.H{"items": games, "count": len(games)})
}

// ListAll 列出全部游戏（含下架），管理员用
// @Summary 全部游戏列表
// @Tags 管理
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response "游戏列表"
// @Router /v1/admin/games [get]
func (h *GameHandler) ListAll(c *gin.Context) {
	games, err := h.games.List(false)
	if err != nil {
		h.log.Error("failed to list games", zap.Error(err))
		InternalError(c, MsgGameListFailed)
		return
	}

	Success(c, gin.H{"items": games, "count": len(games)})
}

// Create 创建游戏条目
// @Summary 创建游戏
// @Tags 管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body gameRequest true "游戏信息"
// @Success 201 {object} domain.Game
// @Failure 400 {object} Response "参数错误"
// @Failure 409 {object} Response "标识已存在"
// @Router /v1/admin/games [post]
func (h *GameHandler) Create(c *gin.Context) {
	var req gameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	game, err := h.games.Create(service.GameInput{
		Name:     req.Name,
		Slug:     req.Slug,
		IconURL:  req.IconURL,
		CoinHint: req.CoinHint,
		IsActive: req.IsActive,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrGameNameInvalid), errors.Is(err, service.ErrGameSlugInvalid):
			BadRequest(c, GetErrorMessage(err))
		case errors.Is(err, storage.ErrGameExists):
			Conflict(c, GetErrorMessage(err))
		default:
			h.log.Error("failed to create game", zap.Error(err))
			InternalError(c, MsgGameSaveFailed)
		}
		return
	}

	Created(c, game)
}

// Update 更新游戏条目
// @Summary 更新游戏
// @Tags 管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "游戏ID"
// @Param request body gameRequest true "游戏信息"
// @Success 200 {object} domain.Game
// @Failure 404 {object} Response "游戏不存在"
// @Router /v1/admin/games/{id} [put]
func (h *GameHandler) Update(c *gin.Context) {
	var req gameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	game, err := h.games.Update(c.Param("id"), service.GameInput{
		Name:     req.Name,
		Slug:     req.Slug,
		IconURL:  req.IconURL,
		CoinHint: req.CoinHint,
		IsActive: req.IsActive,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrGameNotFound):
			NotFound(c, MsgGameNotFound)
		case errors.Is(err, service.ErrGameNameInvalid), errors.Is(err, service.ErrGameSlugInvalid):
			BadRequest(c, GetErrorMessage(err))
		default:
			h.log.Error("failed to update game", zap.Error(err))
			InternalError(c, MsgGameSaveFailed)
		}
		return
	}

	Success(c, game)
}

// Delete 删除游戏条目
// @Summary 删除游戏
// @Tags 管理
// @Security BearerAuth
// @Param id path string true "游戏ID"
// @Success 204
// @Failure 404 {object} Response "游戏不存在"
// @Router /v1/admin/games/{id} [delete]
func (h *GameHandler) Delete(c *gin.Context) {
	if err := h.games.Delete(c.Param("id")); err != nil {
		if errors.Is(err, storage.ErrGameNotFound) {
			NotFound(c, MsgGameNotFound)
			return
		}
		h.log.Error("failed to delete game", zap.Error(err))
		InternalError(c, MsgGameDeleteFailed)
		return
	}
	NoContent(c)
}

type addUsernameRequest struct {
	GameID   string `json:"gameId" binding:"required"`
	Username string `json:"username" binding:"required"`
}

// AddUsername 登记游戏账号名
// @Summary 登记游戏账号名
// @Description 记录当前用户在某游戏内的账号名，充值发货时使用
// @Tags 游戏
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body addUsernameRequest true "账号名信息"
// @Success 201 {object} domain.GameUsername
// @Failure 400 {object} Response "参数错误"
// @Failure 404 {object} Response "游戏不存在"
// @Router /v1/usernames [post]
func (h *GameHandler) AddUsername(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	var req addUsernameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	gu, err := h.usernames.Add(userID.(string), req.GameID, req.Username)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrGameUsernameInvalid):
			BadRequest(c, GetErrorMessage(err))
		case errors.Is(err, storage.ErrGameNotFound):
			NotFound(c, MsgGameNotFound)
		default:
			h.log.Error("failed to add game username", zap.Error(err))
			InternalError(c, MsgUsernameSaveFailed)
		}
		return
	}

	Created(c, gu)
}

// ListUsernames 列出当前用户登记的游戏账号名
// @Summary 游戏账号名列表
// @Tags 游戏
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response "账号名列表"
// @Router /v1/usernames [get]
func (h *GameHandler) ListUsernames(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	items, err := h.usernames.List(userID.(string))
	if err != nil {
		h.log.Error("failed to list game usernames", zap.Error(err))
		InternalError(c, MsgUsernameListFailed)
		return
	}

	Success(c, gin.H{"items": items, "count": len(items)})
}

// RemoveUsername 删除当前用户的游戏账号名
// @Summary 删除游戏账号名
// @Tags 游戏
// @Security BearerAuth
// @Param id path string true "账号名ID"
// @Success 204
// @Failure 403 {object} Response "不属于当前用户"
// @Failure 404 {object} Response "账号名不存在"
// @Router /v1/usernames/{id} [delete]
func (h *GameHandler) RemoveUsername(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	err := h.usernames.Remove(userID.(string), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotOwner):
			Forbidden(c, GetErrorMessage(err))
		case errors.Is(err, storage.ErrGameUsernameNotFound):
			NotFound(c, GetErrorMessage(err))
		default:
			h.log.Error("failed to remove game username", zap.Error(err))
			InternalError(c, MsgInternalError)
		}
		return
	}
	NoContent(c)
}
