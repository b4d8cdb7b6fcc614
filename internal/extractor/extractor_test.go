package extractor

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFacts(t *testing.T) {
	t.Run("解析完整输出", func(t *testing.T) {
		out := []byte(`{"amount":"25.9","pay_type":"sent","request_status":"active","is_expired":false,"receipt_memo":"memo here","note_part":"vine oak","subject":"Payment received"}`)

		facts, err := DecodeFacts(out)

		require.NoError(t, err)
		assert.Equal(t, "25.9", facts.Amount)
		assert.Equal(t, "sent", facts.PayType)
		assert.Equal(t, "active", facts.RequestStatus)
		require.NotNil(t, facts.IsExpired)
		assert.False(t, *facts.IsExpired)
		assert.Equal(t, "memo here", facts.ReceiptMemo)
		assert.Equal(t, "vine oak", facts.NotePart)
		assert.Equal(t, "Payment received", facts.Subject)
	})

	t.Run("缺失字段取零值", func(t *testing.T) {
		facts, err := DecodeFacts([]byte(`{"amount":"10"}`))

		require.NoError(t, err)
		assert.Equal(t, "10", facts.Amount)
		assert.Equal(t, "", facts.PayType)
		assert.Nil(t, facts.IsExpired)
	})

	t.Run("is_expired为null视为未知", func(t *testing.T) {
		facts, err := DecodeFacts([]byte(`{"is_expired":null}`))

		require.NoError(t, err)
		assert.Nil(t, facts.IsExpired)
	})

	t.Run("忽略结果前的调试输出行", func(t *testing.T) {
		out := []byte("debug line one\nAmount picker debug: {...}\n{\"amount\":\"40\",\"pay_type\":\"sent\"}\n")

		facts, err := DecodeFacts(out)

		require.NoError(t, err)
		assert.Equal(t, "40", facts.Amount)
		assert.Equal(t, "sent", facts.PayType)
	})

	t.Run("字段类型不符视为非法输出", func(t *testing.T) {
		_, err := DecodeFacts([]byte(`{"amount":12.5}`))
		assert.ErrorIs(t, err, ErrMalformedOutput)

		_, err = DecodeFacts([]byte(`{"is_expired":"yes"}`))
		assert.ErrorIs(t, err, ErrMalformedOutput)
	})

	t.Run("空输出或非JSON输出报错", func(t *testing.T) {
		_, err := DecodeFacts([]byte(""))
		assert.ErrorIs(t, err, ErrMalformedOutput)

		_, err = DecodeFacts([]byte("not json at all"))
		assert.ErrorIs(t, err, ErrMalformedOutput)
	})
}

func TestTruncate(t *testing.T) {
	t.Run("不超限时原样保留", func(t *testing.T) {
		assert.Equal(t, "short", truncate("short", 10))
	})

	t.Run("不在多字节字符中间截断", func(t *testing.T) {
		// 上限落在三字节字符内部，截断应回退到字符边界
		s := "err: " + strings.Repeat("错", 10)
		got := truncate(s, 6)

		assert.True(t, utf8.ValidString(got))
		assert.LessOrEqual(t, len(got), 6)
		assert.Equal(t, "err: ", got)
	})
}
