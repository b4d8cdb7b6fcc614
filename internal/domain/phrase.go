package domain

import (
	"strings"
)

// NormalizePhrase 将口令文本规范化后用于精确比较：转小写、任意连续
// 空白折叠为单个空格、去除首尾空白。所有涉及口令比较的代码都必须
// 经过本函数，保证同一口令的不同排版被判定为相等。
func NormalizePhrase(text string) string {
	if text == "" {
		return ""
	}
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}
