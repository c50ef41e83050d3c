package signing

import (
	"strings"
	"unicode/utf8"
)

// RedactionMarker 分隔脱敏密钥的可见前缀与后缀。
const RedactionMarker = "****"

const maskVisible = 4

// Mask 只显示密钥的前四位和后四位。
// 短到无法隐藏任何内容的值完全打码。
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	n := utf8.RuneCountInString(secret)
	if n <= 2*maskVisible {
		return RedactionMarker
	}
	runes := []rune(secret)
	return string(runes[:maskVisible]) + RedactionMarker + string(runes[n-maskVisible:])
}

// MaskHeaderValue 对鉴权头值的凭证部分脱敏，
// 保留 "Bearer"、"Key" 这类 scheme 词。
func MaskHeaderValue(v string) string {
	scheme, rest, ok := strings.Cut(v, " ")
	if ok && rest != "" && !strings.ContainsAny(scheme, "=,/") {
		return scheme + " " + Mask(rest)
	}
	return Mask(v)
}

// sensitiveHeaders 在任何诊断输出中都会脱敏。
var sensitiveHeaders = map[string]struct{}{
	"authorization": {},
	"x-key":         {},
	"x-api-key":     {},
	"x-secret":      {},
}

// IsSensitiveHeader 报告请求头是否携带凭证。
func IsSensitiveHeader(name string) bool {
	_, ok := sensitiveHeaders[strings.ToLower(name)]
	return ok
}
