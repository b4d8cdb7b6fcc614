package httptransport

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"coinup/backend/internal/domain"
	"coinup/backend/internal/service"
	"coinup/backend/internal/storage"
)

// TopupHandler 处理充值请求相关的 HTTP 请求
type TopupHandler struct {
	topups *service.TopupService
	log    *zap.Logger
}

// NewTopupHandler 创建充值处理器
func NewTopupHandler(topups *service.TopupService, logger *zap.Logger) *TopupHandler {
	return &TopupHandler{
		topups: topups,
		log:    logger,
	}
}

type topupResponse struct {
	ID             string  `json:"id"`
	Passphrase     string  `json:"passphrase,omitempty"` // 仅本人可见
	Status         string  `json:"status"`
	CreditedAmount *int64  `json:"creditedAmount,omitempty"`
	ExpiresAt      string  `json:"expiresAt"`
	ConfirmedAt    *string `json:"confirmedAt,omitempty"`
	CreatedAt      string  `json:"createdAt"`
}

type topupListResponse struct {
	Items []topupResponse `json:"items"`
	Count int             `json:"count"`
}

// toTopupResponse 转换充值请求为响应体，状态按当前时刻惰性折算。
func toTopupResponse(t *domain.TopupRequest, now time.Time) topupResponse {
	resp := topupResponse{
		ID:             t.ID,
		Passphrase:     t.Passphrase,
		Status:         string(t.DisplayStatus(now)),
		CreditedAmount: t.CreditedAmount,
		ExpiresAt:      t.ExpiresAt.Format(time.RFC3339),
		CreatedAt:      t.CreatedAt.Format(time.RFC3339),
	}
	if t.ConfirmedAt != nil {
		s := t.ConfirmedAt.Format(time.RFC3339)
		resp.ConfirmedAt = &s
	}
	return resp
}

// Create 创建充值请求
// @Summary 创建充值请求
// @Description 为当前用户生成一笔带 4 词口令的充值请求，用户需在付款留言中附上该口令
// @Tags 充值
// @Produce json
// @Security BearerAuth
// @Success 201 {object} topupResponse "充值请求"
// @Failure 401 {object} Response "未认证"
// @Failure 409 {object} Response "待确认请求过多"
// @Failure 500 {object} Response "服务器内部错误"
// @Router /v1/topups [post]
func (h *TopupHandler) Create(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	topup, err := h.topups.Create(userID.(string))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTooManyActiveTopups):
			Conflict(c, GetErrorMessage(err))
		case errors.Is(err, service.ErrPhraseGeneration):
			h.log.Error("passphrase generation exhausted", zap.Error(err))
			InternalError(c, GetErrorMessage(err))
		default:
			h.log.Error("failed to create topup", zap.Error(err))
			InternalError(c, MsgTopupCreateFailed)
		}
		return
	}

	Created(c, toTopupResponse(topup, time.Now().UTC()))
}

// Get 查询充值请求状态
// @Summary 查询充值请求
// @Description 查询单笔充值请求的当前状态，过期的待确认请求直接显示为 expired
// @Tags 充值
// @Produce json
// @Security BearerAuth
// @Param id path string true "充值请求ID"
// @Success 200 {object} topupResponse "充值请求"
// @Failure 401 {object} Response "未认证"
// @Failure 403 {object} Response "无权限"
// @Failure 404 {object} Response "充值请求不存在"
// @Router /v1/topups/{id} [get]
func (h *TopupHandler) Get(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	topup, err := h.topups.GetStatus(c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrTopupNotFound) {
			NotFound(c, MsgTopupNotFound)
			return
		}
		h.log.Error("failed to get topup", zap.Error(err))
		InternalError(c, MsgInternalError)
		return
	}

	// 只能看自己的请求，管理员除外
	if topup.UserID != userID.(string) && !isAdminContext(c) {
		Forbidden(c, MsgPermissionDenied)
		return
	}

	Success(c, toTopupResponse(topup, time.Now().UTC()))
}

// List 列出当前用户的充值历史
// @Summary 充值历史
// @Description 按创建时间倒序返回当前用户的全部充值请求
// @Tags 充值
// @Produce json
// @Security BearerAuth
// @Success 200 {object} topupListResponse "充值记录列表"
// @Failure 401 {object} Response "未认证"
// @Failure 500 {object} Response "服务器内部错误"
// @Router /v1/topups [get]
func (h *TopupHandler) List(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	topups, err := h.topups.ListByUser(userID.(string))
	if err != nil {
		h.log.Error("failed to list topups", zap.Error(err))
		InternalError(c, MsgTopupListFailed)
		return
	}

	now := time.Now().UTC()
	items := make([]topupResponse, 0, len(topups))
	for i := range topups {
		items = append(items, toTopupResponse(&topups[i], now))
	}

	Success(c, topupListResponse{Items: items, Count: len(items)})
}

// isAdminContext 判断上下文中的角色是否为管理员
func isAdminContext(c *gin.Context) bool {
	roleVal, exists := c.Get("role")
	if !exists {
		return false
	}
	switch role := roleVal.(type) {
	case string:
		return role == string(domain.RoleAdmin)
	case domain.UserRole:
		return role == domain.RoleAdmin
	default:
		return false
	}
}
