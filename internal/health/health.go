package health

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"coinup/backend/internal/storage"
)

// EngineStatus 轮询引擎存活状态边界
type EngineStatus interface {
	Running() bool
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	store  storage.Store
	engine EngineStatus // 可为 nil
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(store storage.Store, engine EngineStatus, logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		store:  store,
		engine: engine,
		logger: logger,
	}

	hc.addChecks()

	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks() {
	// 存储连接检查
	hc.health.AddLivenessCheck("storage", func() error {
		return hc.store.Health()
	})

	// 轮询引擎检查：引擎挂了实例仍可提供查询，但应在就绪检查里暴露
	hc.health.AddReadinessCheck("watch-engine", func() error {
		if hc.engine == nil {
			return nil
		}
		if !hc.engine.Running() {
			return errors.New("watch engine is not running")
		}
		return nil
	})
}

// Handler 返回健康检查处理器
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// CheckHealth 执行健康检查
func (hc *HealthChecker) CheckHealth() map[string]string {
	results := make(map[string]string)

	if err := hc.store.Health(); err != nil {
		results["storage"] = fmt.Sprintf("ERROR: %v", err)
	} else {
		results["storage"] = "OK"
	}

	switch {
	case hc.engine == nil:
		results["watch_engine"] = "NOT_CONFIGURED"
	case hc.engine.Running():
		results["watch_engine"] = "OK"
	default:
		results["watch_engine"] = "STOPPED"
	}

	results["timestamp"] = time.Now().Format(time.RFC3339)

	return results
}
