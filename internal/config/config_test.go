package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	// 保存原始环境变量
	originalEnvs := make(map[string]string)
	envKeys := []string{
		"COINUP_JWT_SECRET",
		"COINUP_SERVER_HOST",
		"COINUP_SERVER_PORT",
		"COINUP_MAIL_HOST",
		"COINUP_MAIL_FOLDERS",
		"COINUP_MAIL_POLL_INTERVAL",
		"COINUP_MAIL_BACKOFF_BASE",
		"COINUP_TOPUP_EXPIRY",
		"COINUP_TOPUP_GRACE_WINDOW",
		"COINUP_LOG_LEVEL",
		"COINUP_LOG_DEVELOPMENT",
	}

	for _, key := range envKeys {
		originalEnvs[key] = os.Getenv(key)
	}

	// 测试后恢复环境变量
	defer func() {
		for key, value := range originalEnvs {
			if value == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, value)
			}
		}
	}()

	t.Run("加载默认配置成功", func(t *testing.T) {
		for _, key := range envKeys {
			os.Unsetenv(key)
		}

		// 设置必需的JWT密钥
		os.Setenv("COINUP_JWT_SECRET", "test-secret-key-for-development-32-chars-long-at-least")

		cfg, err := Load()

		assert.NoError(t, err)
		assert.NotNil(t, cfg)

		// 验证默认值
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 993, cfg.Mail.Port)
		assert.True(t, cfg.Mail.UseSSL)
		assert.Equal(t, []string{"INBOX"}, cfg.Mail.Folders)
		assert.Equal(t, 30*time.Second, cfg.Mail.PollInterval)
		assert.Equal(t, 10*time.Second, cfg.Mail.BackoffBase)
		assert.Equal(t, 10*time.Minute, cfg.Mail.BackoffMax)
		assert.Equal(t, 30*time.Minute, cfg.Topup.Expiry)
		assert.Equal(t, 5*time.Minute, cfg.Topup.GraceWindow)
		assert.Equal(t, 3, cfg.Topup.MaxPerUser)
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.False(t, cfg.Log.Development)
		assert.Equal(t, "coinup", cfg.JWT.Issuer)
		assert.Equal(t, 15*time.Minute, cfg.JWT.AccessExpiry)
		assert.Equal(t, 7*24*time.Hour, cfg.JWT.RefreshExpiry)
	})

	t.Run("加载自定义配置成功", func(t *testing.T) {
		os.Setenv("COINUP_JWT_SECRET", "custom-jwt-secret-key-32-chars-long-minimum")
		os.Setenv("COINUP_SERVER_HOST", "127.0.0.1")
		os.Setenv("COINUP_SERVER_PORT", "9090")
		os.Setenv("COINUP_MAIL_HOST", "imap.example.com")
		os.Setenv("COINUP_MAIL_FOLDERS", "INBOX,Payments")
		os.Setenv("COINUP_MAIL_POLL_INTERVAL", "45s")
		os.Setenv("COINUP_TOPUP_EXPIRY", "1h")

		cfg, err := Load()

		assert.NoError(t, err)
		assert.Equal(t, "127.0.0.1", cfg.Server.Host)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "imap.example.com", cfg.Mail.Host)
		assert.Equal(t, []string{"INBOX", "Payments"}, cfg.Mail.Folders)
		assert.Equal(t, 45*time.Second, cfg.Mail.PollInterval)
		assert.Equal(t, time.Hour, cfg.Topup.Expiry)
	})

	t.Run("默认JWT密钥被拒绝", func(t *testing.T) {
		for _, key := range envKeys {
			os.Unsetenv(key)
		}

		cfg, err := Load()

		assert.Error(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("过短的JWT密钥被拒绝", func(t *testing.T) {
		os.Setenv("COINUP_JWT_SECRET", "too-short")

		cfg, err := Load()

		assert.Error(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("非法轮询间隔返回错误", func(t *testing.T) {
		os.Setenv("COINUP_JWT_SECRET", "test-secret-key-for-development-32-chars-long-at-least")
		os.Setenv("COINUP_MAIL_POLL_INTERVAL", "not-a-duration")

		cfg, err := Load()

		assert.Error(t, err)
		assert.Nil(t, cfg)

		os.Unsetenv("COINUP_MAIL_POLL_INTERVAL")
	})
}
