package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	// ErrExtractorTimeout 提取器调用超时
	ErrExtractorTimeout = errors.New("extractor timed out")
	// ErrMalformedOutput 提取器输出无法解析
	ErrMalformedOutput = errors.New("extractor returned malformed output")
)

// Facts 外部提取器返回的结构化邮件字段。
//
// 提取器是独立演进的外部组件，其输出按外部版本化 schema 对待：
// 字段在边界处逐个防御性校验，不信任结构化反序列化的默认行为。
type Facts struct {
	Amount        string // 十进制金额字符串，可为空
	PayType       string // 付款类型，只有 "sent" 可入账
	RequestStatus string // "" | "active" | 其他
	IsExpired     *bool  // 邮件自述是否已过期，未知为 nil
	ReceiptMemo   string // 回执备注
	NotePart      string // 附言
	Subject       string // 提取器识别出的主题
}

// Extractor 邮件字段提取器边界。
type Extractor interface {
	// Extract 在限定时间内从原始邮件文本中提取结构化字段。
	// 超时或输出非法都作为提取器故障返回错误。
	Extract(ctx context.Context, content, subject string) (*Facts, error)
}

// Command 通过子进程调用外部提取器：请求 JSON 写入 stdin，
// 结果 JSON 从 stdout 读取（最后一个非空行），调试信息走 stderr。
type Command struct {
	path    string
	args    []string
	timeout time.Duration
}

// NewCommand 创建子进程提取器客户端
func NewCommand(path string, args []string, timeout time.Duration) *Command {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Command{path: path, args: args, timeout: timeout}
}

type extractRequest struct {
	Content string `json:"content"`
	Subject string `json:"subject"`
}

// Extract 调用提取器子进程并解析输出
func (c *Command) Extract(ctx context.Context, content, subject string) (*Facts, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	input, err := json.Marshal(extractRequest{Content: content, Subject: subject})
	if err != nil {
		return nil, fmt.Errorf("failed to encode extractor request: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.path, c.args...)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrExtractorTimeout
		}
		return nil, fmt.Errorf("extractor failed: %w (stderr: %s)", err, truncate(stderr.String(), 256))
	}

	return DecodeFacts(stdout.Bytes())
}

// DecodeFacts 防御性解析提取器输出。
//
// 输出可能混有调试行，取最后一个非空行作为结果 JSON；每个字段
// 单独取值并做类型检查，缺失字段取零值，类型不符视为输出非法。
func DecodeFacts(output []byte) (*Facts, error) {
	line := lastNonEmptyLine(string(output))
	if line == "" {
		return nil, ErrMalformedOutput
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	facts := &Facts{}

	var err error
	if facts.Amount, err = stringField(raw, "amount"); err != nil {
		return nil, err
	}
	if facts.PayType, err = stringField(raw, "pay_type"); err != nil {
		return nil, err
	}
	if facts.RequestStatus, err = stringField(raw, "request_status"); err != nil {
		return nil, err
	}
	if facts.ReceiptMemo, err = stringField(raw, "receipt_memo"); err != nil {
		return nil, err
	}
	if facts.NotePart, err = stringField(raw, "note_part"); err != nil {
		return nil, err
	}
	if facts.Subject, err = stringField(raw, "subject"); err != nil {
		return nil, err
	}

	if v, ok := raw["is_expired"]; ok && v != nil {
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: field is_expired is not a bool", ErrMalformedOutput)
		}
		facts.IsExpired = &b
	}

	return facts, nil
}

// stringField 读取字符串字段；缺失或 null 取空串，类型不符报错
func stringField(raw map[string]interface{}, key string) (string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: field %s is not a string", ErrMalformedOutput, key)
	}
	return s, nil
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if trimmed := strings.TrimSpace(lines[i]); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// truncate 按字节上限截断，回退到完整的 UTF-8 边界
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
