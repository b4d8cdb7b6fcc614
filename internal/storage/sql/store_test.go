package sql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoolOptionsWithDefaults(t *testing.T) {
	t.Run("零值填入默认连接池参数", func(t *testing.T) {
		got := PoolOptions{}.withDefaults()

		assert.Equal(t, 25, got.MaxOpenConns)
		assert.Equal(t, 5, got.MaxIdleConns)
		assert.Equal(t, 5*time.Minute, got.ConnMaxLifetime)
	})

	t.Run("显式配置原样保留", func(t *testing.T) {
		got := PoolOptions{
			MaxOpenConns:    100,
			MaxIdleConns:    10,
			ConnMaxLifetime: time.Hour,
		}.withDefaults()

		assert.Equal(t, 100, got.MaxOpenConns)
		assert.Equal(t, 10, got.MaxIdleConns)
		assert.Equal(t, time.Hour, got.ConnMaxLifetime)
	})

	t.Run("负值按未设置处理", func(t *testing.T) {
		got := PoolOptions{MaxOpenConns: -1, MaxIdleConns: -1, ConnMaxLifetime: -time.Second}.withDefaults()

		assert.Equal(t, 25, got.MaxOpenConns)
		assert.Equal(t, 5, got.MaxIdleConns)
		assert.Equal(t, 5*time.Minute, got.ConnMaxLifetime)
	})
}
