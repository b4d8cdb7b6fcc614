package service

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"coinup/backend/internal/domain"
	"coinup/backend/internal/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTruncatePreview(t *testing.T) {
	t.Run("短文本原样保留", func(t *testing.T) {
		assert.Equal(t, "hello", truncatePreview("hello"))
	})

	t.Run("超长文本截断到上限", func(t *testing.T) {
		long := strings.Repeat("a", bodyPreviewLimit+100)
		got := truncatePreview(long)
		assert.Len(t, got, bodyPreviewLimit)
	})

	t.Run("不在多字节字符中间截断", func(t *testing.T) {
		// 511 个单字节后接中文，上限正好落在多字节序列内部
		long := strings.Repeat("a", bodyPreviewLimit-1) + strings.Repeat("金", 40)
		got := truncatePreview(long)

		assert.True(t, utf8.ValidString(got))
		assert.LessOrEqual(t, len(got), bodyPreviewLimit)
	})
}

func TestPaymentLogRecord(t *testing.T) {
	t.Run("超长中文正文落库后仍是合法UTF8", func(t *testing.T) {
		store := memory.NewStore()
		logs := NewPaymentLogService(store, zap.NewNop())

		require.NoError(t, logs.Record(RecordInput{
			MessageID:   "<long@pay>",
			Decision:    domain.DecisionIgnored,
			Reason:      "no passphrase found in any safe zone",
			BodyPreview: strings.Repeat("付款通知", 400),
			EmailDate:   time.Now().UTC(),
		}))

		entry, err := logs.FindByMessageID("<long@pay>")
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.True(t, utf8.ValidString(entry.BodyPreview))
		assert.LessOrEqual(t, len(entry.BodyPreview), bodyPreviewLimit)
	})
}
