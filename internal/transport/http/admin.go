package httptransport

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"coinup/backend/internal/domain"
	"coinup/backend/internal/service"
	"coinup/backend/internal/storage"
	"coinup/backend/internal/watch"
)

// EngineController 轮询引擎的运维控制边界
type EngineController interface {
	Running() bool
	Start() error
	Stop()
	WatermarkFloor() uint32
	CurrentNextSeq() (uint32, bool)
}

// AdminHandler 处理管理后台的 HTTP 请求
type AdminHandler struct {
	store      storage.Store
	topups     *service.TopupService
	paymentLog *service.PaymentLogService
	engine     EngineController // 可为 nil（邮箱未配置时）
	log        *zap.Logger
}

// NewAdminHandler 创建管理处理器
func NewAdminHandler(store storage.Store, topups *service.TopupService, paymentLog *service.PaymentLogService, engine EngineController, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		store:      store,
		topups:     topups,
		paymentLog: paymentLog,
		engine:     engine,
		log:        logger,
	}
}

// ListUsers 分页列出用户
// @Summary 用户列表
// @Tags 管理
// @Produce json
// @Security BearerAuth
// @Param page query int false "页码（默认1）"
// @Param pageSize query int false "每页数量（默认20，最大100）"
// @Param search query string false "按邮箱或用户名模糊搜索"
// @Param role query string false "按角色筛选 (user/admin)"
// @Param isActive query boolean false "按启用状态筛选"
// @Success 200 {object} Response "用户列表"
// @Router /v1/admin/users [get]
func (h *AdminHandler) ListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var role *domain.UserRole
	if r := c.Query("role"); r != "" {
		v := domain.UserRole(r)
		role = &v
	}

	var isActive *bool
	if a := c.Query("isActive"); a != "" {
		v := a == "true"
		isActive = &v
	}

	users, total, err := h.store.ListUsers(page, pageSize, c.Query("search"), role, isActive)
	if err != nil {
		h.log.Error("failed to list users", zap.Error(err))
		InternalError(c, MsgUserListFailed)
		return
	}

	items := make([]userResponse, 0, len(users))
	for i := range users {
		items = append(items, toUserResponse(&users[i]))
	}

	Success(c, gin.H{
		"items":    items,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	})
}

// GetUser 查看用户详情
// @Summary 用户详情
// @Tags 管理
// @Produce json
// @Security BearerAuth
// @Param id path string true "用户ID"
// @Success 200 {object} userResponse
// @Failure 404 {object} Response "用户不存在"
// @Router /v1/admin/users/{id} [get]
func (h *AdminHandler) GetUser(c *gin.Context) {
	user, err := h.store.GetUserByID(c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			NotFound(c, MsgUserNotFound)
			return
		}
		h.log.Error("failed to get user", zap.Error(err))
		InternalError(c, MsgUserGetFailed)
		return
	}

	Success(c, toUserResponse(user))
}

type updateUserRequest struct {
	Role     *string `json:"role"`
	IsActive *bool   `json:"isActive"`
}

// UpdateUser 更新用户角色或启用状态
// @Summary 更新用户
// @Description 修改用户角色或启用状态，不能修改自己的账户
// @Tags 管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "用户ID"
// @Param request body updateUserRequest true "更新内容"
// @Success 200 {object} userResponse
// @Failure 400 {object} Response "参数错误"
// @Failure 404 {object} Response "用户不存在"
// @Router /v1/admin/users/{id} [patch]
func (h *AdminHandler) UpdateUser(c *gin.Context) {
	targetID := c.Param("id")

	if adminID, exists := c.Get("userID"); exists && adminID.(string) == targetID {
		BadRequest(c, "不能修改自己的账户")
		return
	}

	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	user, err := h.store.GetUserByID(targetID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			NotFound(c, MsgUserNotFound)
			return
		}
		InternalError(c, MsgUserGetFailed)
		return
	}

	if req.Role != nil {
		role := domain.UserRole(*req.Role)
		if role != domain.RoleUser && role != domain.RoleAdmin {
			BadRequest(c, "角色取值无效")
			return
		}
		user.Role = role
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}
	user.UpdatedAt = time.Now().UTC()

	if err := h.store.UpdateUser(user); err != nil {
		h.log.Error("failed to update user", zap.Error(err))
		InternalError(c, MsgUserUpdateFailed)
		return
	}

	h.log.Info("user updated by admin",
		zap.String("user_id", user.ID),
		zap.String("role", string(user.Role)),
		zap.Bool("is_active", user.IsActive))

	Success(c, toUserResponse(user))
}

// ListUserTopups 列出某个用户的充值记录
// @Summary 用户充值记录
// @Tags 管理
// @Produce json
// @Security BearerAuth
// @Param id path string true "用户ID"
// @Success 200 {object} topupListResponse
// @Router /v1/admin/users/{id}/topups [get]
func (h *AdminHandler) ListUserTopups(c *gin.Context) {
	topups, err := h.topups.ListByUser(c.Param("id"))
	if err != nil {
		h.log.Error("failed to list user topups", zap.Error(err))
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

// ListPaymentLogs 分页列出付款判定审计记录
// @Summary 付款判定记录
// @Description 按时间倒序列出付款邮件的判定记录，可按判定结果筛选
// @Tags 管理
// @Produce json
// @Security BearerAuth
// @Param decision query string false "判定结果 (accepted/rejected/ignored/error)"
// @Param limit query int false "返回条数（默认50，最大200）"
// @Param offset query int false "偏移量"
// @Success 200 {object} Response "判定记录列表"
// @Router /v1/admin/payment-logs [get]
func (h *AdminHandler) ListPaymentLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var decision *domain.PaymentDecision
	if d := c.Query("decision"); d != "" {
		v := domain.PaymentDecision(d)
		decision = &v
	}

	entries, total, err := h.paymentLog.List(decision, limit, offset)
	if err != nil {
		h.log.Error("failed to list payment logs", zap.Error(err))
		InternalError(c, MsgPaymentLogListFailed)
		return
	}

	Success(c, gin.H{
		"items":  entries,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// EngineStatus 查看轮询引擎状态
// @Summary 引擎状态
// @Tags 管理
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response "引擎状态"
// @Router /v1/admin/engine [get]
func (h *AdminHandler) EngineStatus(c *gin.Context) {
	if h.engine == nil {
		Success(c, gin.H{"configured": false})
		return
	}

	status := gin.H{
		"configured":     true,
		"running":        h.engine.Running(),
		"watermarkFloor": h.engine.WatermarkFloor(),
	}
	if seq, ok := h.engine.CurrentNextSeq(); ok {
		status["nextSeq"] = seq
	}

	Success(c, status)
}

// StartEngine 启动轮询引擎
// @Summary 启动引擎
// @Tags 管理
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response "已启动"
// @Failure 409 {object} Response "已在运行"
// @Failure 500 {object} Response "启动失败"
// @Router /v1/admin/engine/start [post]
func (h *AdminHandler) StartEngine(c *gin.Context) {
	if h.engine == nil {
		BadRequest(c, "轮询引擎未配置")
		return
	}

	if err := h.engine.Start(); err != nil {
		if errors.Is(err, watch.ErrAlreadyRunning) {
			Conflict(c, "引擎已在运行")
			return
		}
		h.log.Error("failed to start watch engine", zap.Error(err))
		InternalError(c, MsgEngineStartFailed)
		return
	}

	SuccessWithMsg(c, "引擎已启动", nil)
}

// StopEngine 停止轮询引擎
// @Summary 停止引擎
// @Tags 管理
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response "已停止"
// @Router /v1/admin/engine/stop [post]
func (h *AdminHandler) StopEngine(c *gin.Context) {
	if h.engine == nil {
		BadRequest(c, "轮询引擎未配置")
		return
	}

	h.engine.Stop()
	SuccessWithMsg(c, "引擎已停止", nil)
}
