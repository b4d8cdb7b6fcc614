package httptransport

import (
	"coinup/backend/internal/auth"
	"coinup/backend/internal/service"
	"coinup/backend/internal/storage"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	// 认证错误
	auth.ErrInvalidCredentials: "用户名或密码错误",
	auth.ErrEmailTaken:         "该邮箱已被注册",
	auth.ErrUsernameTaken:      "该用户名已被占用",
	auth.ErrWeakPassword:       "密码长度需在 8 到 72 个字符之间",
	auth.ErrInvalidEmail:       "邮箱格式无效",
	auth.ErrInvalidUsername:    "用户名格式无效",
	auth.ErrUserDisabled:       "账户已被禁用",

	// 充值错误
	service.ErrTooManyActiveTopups: "待确认的充值请求过多，请先完成或等待过期",
	service.ErrPhraseGeneration:    "生成充值口令失败，请稍后重试",
	storage.ErrTopupNotFound:       "充值请求不存在",

	// 游戏错误
	service.ErrGameNameInvalid:     "游戏名称无效",
	service.ErrGameSlugInvalid:     "游戏标识无效",
	service.ErrGameUsernameInvalid: "游戏账号名无效",
	service.ErrNotOwner:            "该资源不属于当前用户",
	storage.ErrGameNotFound:        "游戏不存在",
	storage.ErrGameExists:          "游戏标识已存在",
	storage.ErrGameUsernameNotFound: "游戏账号名不存在",

	// 用户错误
	storage.ErrUserNotFound: "用户不存在",
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	if msg, ok := errorMessages[err]; ok {
		return msg
	}
	return err.Error()
}

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest = "请求参数格式错误"

	// 认证相关
	MsgAuthRequired       = "需要登录认证"
	MsgInvalidCredentials = "用户名或密码错误"
	MsgTokenExpired       = "登录已过期，请重新登录"
	MsgTokenInvalid       = "无效的访问令牌"
	MsgPermissionDenied   = "权限不足"

	// 充值相关
	MsgTopupCreateFailed = "创建充值请求失败"
	MsgTopupNotFound     = "充值请求不存在"
	MsgTopupListFailed   = "获取充值记录失败"

	// 游戏相关
	MsgGameListFailed     = "获取游戏列表失败"
	MsgGameNotFound       = "游戏不存在"
	MsgGameSaveFailed     = "保存游戏失败"
	MsgGameDeleteFailed   = "删除游戏失败"
	MsgUsernameSaveFailed = "登记游戏账号名失败"
	MsgUsernameListFailed = "获取游戏账号名失败"

	// 管理员相关
	MsgUserListFailed       = "获取用户列表失败"
	MsgUserNotFound         = "用户不存在"
	MsgUserGetFailed        = "获取用户信息失败"
	MsgUserUpdateFailed     = "更新用户信息失败"
	MsgPaymentLogListFailed = "获取付款判定记录失败"
	MsgEngineStartFailed    = "启动轮询引擎失败"

	// 服务器错误
	MsgInternalError = "服务器内部错误，请稍后重试"
)
