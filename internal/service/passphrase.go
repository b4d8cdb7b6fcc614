package service

import (
	"regexp"

	"coinup/backend/internal/domain"
	"coinup/backend/internal/extractor"
)

// PhraseSource 口令来源安全区标记
type PhraseSource string

const (
	// SourceTopupLine 邮件正文中的 TOPUP: 整行指令
	SourceTopupLine PhraseSource = "topup_line"
	// SourceNotePart 提取器给出的附言
	SourceNotePart PhraseSource = "note_part"
	// SourceReceiptMemo 提取器给出的回执备注
	SourceReceiptMemo PhraseSource = "receipt_memo"
	// SourceSubject 主题（提取器识别的优先，缺失时退回邮件头）
	SourceSubject PhraseSource = "subject"
)

// PassphraseCandidate 候选口令及其来源。
//
// 来源标记只用于审计，匹配完全按规范化文本相等判定，与来源无关。
type PassphraseCandidate struct {
	Phrase string
	Source PhraseSource
}

// 匹配整行 "TOPUP: <text>"，大小写不敏感，多行模式
var topupLinePattern = regexp.MustCompile(`(?im)^\s*topup:\s*(.+?)\s*$`)

// ExtractPassphrase 按安全区优先级从邮件中选出候选口令。
//
// 优先级从高到低：TOPUP: 指令行、附言、回执备注、主题。每个候选
// 先规范化再判空，第一个非空者胜出；全部为空返回 nil。
func ExtractPassphrase(facts *extractor.Facts, rawBody, emailSubject string) *PassphraseCandidate {
	if m := topupLinePattern.FindStringSubmatch(rawBody); m != nil {
		if phrase := domain.NormalizePhrase(m[1]); phrase != "" {
			return &PassphraseCandidate{Phrase: phrase, Source: SourceTopupLine}
		}
	}

	if phrase := domain.NormalizePhrase(facts.NotePart); phrase != "" {
		return &PassphraseCandidate{Phrase: phrase, Source: SourceNotePart}
	}

	if phrase := domain.NormalizePhrase(facts.ReceiptMemo); phrase != "" {
		return &PassphraseCandidate{Phrase: phrase, Source: SourceReceiptMemo}
	}

	subject := facts.Subject
	if subject == "" {
		subject = emailSubject
	}
	if phrase := domain.NormalizePhrase(subject); phrase != "" {
		return &PassphraseCandidate{Phrase: phrase, Source: SourceSubject}
	}

	return nil
}
