package service

import (
	"testing"

	"coinup/backend/internal/extractor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPassphrase(t *testing.T) {
	t.Run("TOPUP指令行优先级最高", func(t *testing.T) {
		facts := &extractor.Facts{NotePart: "vine oak", ReceiptMemo: "memo", Subject: "subject"}
		body := "Hello,\nTOPUP: Cedar  Marble Sun Reef\nThanks"

		candidate := ExtractPassphrase(facts, body, "header subject")

		require.NotNil(t, candidate)
		assert.Equal(t, "cedar marble sun reef", candidate.Phrase)
		assert.Equal(t, SourceTopupLine, candidate.Source)
	})

	t.Run("TOPUP指令行大小写不敏感", func(t *testing.T) {
		candidate := ExtractPassphrase(&extractor.Facts{}, "topup: vine oak stone reef", "")

		require.NotNil(t, candidate)
		assert.Equal(t, "vine oak stone reef", candidate.Phrase)
		assert.Equal(t, SourceTopupLine, candidate.Source)
	})

	t.Run("行中间的TOPUP不匹配", func(t *testing.T) {
		candidate := ExtractPassphrase(&extractor.Facts{}, "please TOPUP: vine oak", "")

		assert.Nil(t, candidate)
	})

	t.Run("无指令行时取附言", func(t *testing.T) {
		facts := &extractor.Facts{NotePart: "Vine   Oak", ReceiptMemo: "memo here"}

		candidate := ExtractPassphrase(facts, "payment received", "")

		require.NotNil(t, candidate)
		assert.Equal(t, "vine oak", candidate.Phrase)
		assert.Equal(t, SourceNotePart, candidate.Source)
	})

	t.Run("附言为空时取回执备注", func(t *testing.T) {
		facts := &extractor.Facts{NotePart: "   ", ReceiptMemo: "cedar reef"}

		candidate := ExtractPassphrase(facts, "", "")

		require.NotNil(t, candidate)
		assert.Equal(t, "cedar reef", candidate.Phrase)
		assert.Equal(t, SourceReceiptMemo, candidate.Source)
	})

	t.Run("备注为空时取提取器识别的主题", func(t *testing.T) {
		facts := &extractor.Facts{Subject: "Maple Grove Tide Fern"}

		candidate := ExtractPassphrase(facts, "", "ignored header")

		require.NotNil(t, candidate)
		assert.Equal(t, "maple grove tide fern", candidate.Phrase)
		assert.Equal(t, SourceSubject, candidate.Source)
	})

	t.Run("提取器无主题时退回邮件头主题", func(t *testing.T) {
		candidate := ExtractPassphrase(&extractor.Facts{}, "", "Header Subject Phrase")

		require.NotNil(t, candidate)
		assert.Equal(t, "header subject phrase", candidate.Phrase)
		assert.Equal(t, SourceSubject, candidate.Source)
	})

	t.Run("所有安全区为空返回nil", func(t *testing.T) {
		candidate := ExtractPassphrase(&extractor.Facts{}, "no directive here", "")

		assert.Nil(t, candidate)
	})
}
