package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return ts
}

func TestNormalizePhrase(t *testing.T) {
	t.Run("大小写与空白差异归一", func(t *testing.T) {
		cases := []struct {
			a, b string
		}{
			{"alpha bravo", "ALPHA  Bravo"},
			{"  vine oak stone reef ", "vine\toak\nstone reef"},
			{"One Two", "one   two"},
		}
		for _, c := range cases {
			assert.Equal(t, NormalizePhrase(c.a), NormalizePhrase(c.b))
		}
	})

	t.Run("空输入返回空字符串", func(t *testing.T) {
		assert.Equal(t, "", NormalizePhrase(""))
		assert.Equal(t, "", NormalizePhrase("   \t\n  "))
	})

	t.Run("规范化结果稳定", func(t *testing.T) {
		out := NormalizePhrase("  Vine  OAK stone\treef ")
		assert.Equal(t, "vine oak stone reef", out)
		assert.Equal(t, out, NormalizePhrase(out))
	})
}

func TestTopupRequestDisplayStatus(t *testing.T) {
	t.Run("过期的待确认请求对外显示为已过期", func(t *testing.T) {
		req := &TopupRequest{Status: TopupStatusPending}
		req.ExpiresAt = mustTime(t, "2026-01-01T00:00:00Z")

		assert.Equal(t, TopupStatusExpired, req.DisplayStatus(mustTime(t, "2026-01-01T00:00:01Z")))
		assert.Equal(t, TopupStatusPending, req.DisplayStatus(mustTime(t, "2025-12-31T23:59:59Z")))
	})

	t.Run("已确认状态不受过期时间影响", func(t *testing.T) {
		req := &TopupRequest{Status: TopupStatusConfirmed}
		req.ExpiresAt = mustTime(t, "2026-01-01T00:00:00Z")

		assert.Equal(t, TopupStatusConfirmed, req.DisplayStatus(mustTime(t, "2026-06-01T00:00:00Z")))
	})
}
