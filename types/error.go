package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap/zapcore"
)

// ErrorCode 是网关统一的错误码。
type ErrorCode string

// 错误分类
const (
	// ErrConfiguration：缺少必需的凭证或环境变量。
	ErrConfiguration ErrorCode = "CONFIGURATION"
	// ErrValidation：调用方输入不合法（提示词为空、提供商未知、缺少蒙版）。
	ErrValidation ErrorCode = "VALIDATION"
	// ErrTransport：重试策略用尽后仍是网络失败或超时。
	ErrTransport ErrorCode = "TRANSPORT"
	// ErrProviderRejected：提供商返回非成功的 HTTP 状态或内嵌错误码。
	ErrProviderRejected ErrorCode = "PROVIDER_REJECTED"
	// ErrUnexpectedResponse：2xx 响应缺少任务 ID 或资源 URL 字段。
	ErrUnexpectedResponse ErrorCode = "UNEXPECTED_RESPONSE"
	// ErrInternal：网关内部失败，与调用方和提供商无关。
	ErrInternal ErrorCode = "INTERNAL"
)

// Stage 标识错误发生在任务的哪一段。
type Stage string

const (
	StageSubmit     Stage = "submit"
	StageStatus     Stage = "status"
	StageImageFetch Stage = "image_fetch"
)

// Error 是结构化错误，携带错误码、信息以及
// 复现提供商失败所需的诊断信息。
type Error struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"http_status,omitempty"`
	Retryable  bool           `json:"retryable"`
	Provider   string         `json:"provider,omitempty"`
	Stage      Stage          `json:"stage,omitempty"`
	Endpoint   string         `json:"endpoint,omitempty"`
	Credential string         `json:"credential,omitempty"` // 始终脱敏
	Payload    map[string]any `json:"payload,omitempty"`    // 仅关键请求字段
	RawBody    any            `json:"raw_body,omitempty"`   // 可解析时为 json.RawMessage，否则为字符串
	Cause      error          `json:"-"`
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(e.Code))
	b.WriteString("] ")
	if e.Provider != "" {
		b.WriteString(e.Provider)
		if e.Stage != "" {
			b.WriteString("/")
			b.WriteString(string(e.Stage))
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.HTTPStatus != 0 {
		fmt.Fprintf(&b, " (http %d)", e.HTTPStatus)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap 返回底层原因。
func (e *Error) Unwrap() error {
	return e.Cause
}

// Summary 返回可展示给终端用户的单行描述。
// 不包含原始响应体和请求载荷。
func (e *Error) Summary() string {
	who := e.Provider
	if who == "" {
		who = "gateway"
	}
	switch e.Code {
	case ErrConfiguration:
		return fmt.Sprintf("%s is not configured: %s", who, e.Message)
	case ErrValidation:
		return fmt.Sprintf("invalid request: %s", e.Message)
	case ErrTransport:
		return fmt.Sprintf("could not reach %s: %s", who, e.Message)
	case ErrProviderRejected:
		return fmt.Sprintf("%s rejected the request: %s", who, e.Message)
	case ErrUnexpectedResponse:
		return fmt.Sprintf("%s returned an unexpected response: %s", who, e.Message)
	default:
		return e.Message
	}
}

// MarshalLogObject 为 zap.Object 输出诊断信息。
func (e *Error) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("code", string(e.Code))
	enc.AddString("message", e.Message)
	if e.Provider != "" {
		enc.AddString("provider", e.Provider)
	}
	if e.Stage != "" {
		enc.AddString("stage", string(e.Stage))
	}
	if e.Endpoint != "" {
		enc.AddString("endpoint", e.Endpoint)
	}
	if e.HTTPStatus != 0 {
		enc.AddInt("http_status", e.HTTPStatus)
	}
	if e.Credential != "" {
		enc.AddString("credential", e.Credential)
	}
	enc.AddBool("retryable", e.Retryable)
	if len(e.Payload) > 0 {
		keys := make([]string, 0, len(e.Payload))
		for k := range e.Payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		_ = enc.AddObject("payload", zapcore.ObjectMarshalerFunc(func(pe zapcore.ObjectEncoder) error {
			for _, k := range keys {
				if err := pe.AddReflected(k, e.Payload[k]); err != nil {
					return err
				}
			}
			return nil
		}))
	}
	switch raw := e.RawBody.(type) {
	case nil:
	case json.RawMessage:
		enc.AddByteString("raw_body", raw)
	case string:
		enc.AddString("raw_body", raw)
	default:
		_ = enc.AddReflected("raw_body", raw)
	}
	if e.Cause != nil {
		enc.AddString("cause", e.Cause.Error())
	}
	return nil
}

// NewError 按错误码和信息创建 Error。
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause 设置底层原因。
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus 设置 HTTP 状态码。
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable 标记是否可重试。
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider 设置提供商名。
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WithStage 设置任务阶段。
func (e *Error) WithStage(stage Stage) *Error {
	e.Stage = stage
	return e
}

// WithEndpoint 设置被调用的端点。
func (e *Error) WithEndpoint(endpoint string) *Error {
	e.Endpoint = endpoint
	return e
}

// WithCredential 设置脱敏后的凭证标识，调用方只传脱敏值。
func (e *Error) WithCredential(masked string) *Error {
	e.Credential = masked
	return e
}

// WithPayload 记录关键请求字段。
func (e *Error) WithPayload(payload map[string]any) *Error {
	e.Payload = payload
	return e
}

// WithRawBody 保存提供商响应体，能解析为 JSON 时按 JSON 保存，否则按文本。
func (e *Error) WithRawBody(body []byte) *Error {
	e.RawBody = RawBody(body)
	return e
}

// RawBody 把响应体转换为适合 Error.RawBody 的值。
func RawBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		cp := make([]byte, len(body))
		copy(cp, body)
		return json.RawMessage(cp)
	}
	return string(body)
}

// AsError 从错误链中取出 *Error。
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable 报告错误是否可重试。
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode 从错误中取出错误码。
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode 报告 err 是否带有指定错误码。
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// NewConfigurationError 报告提供商缺少的凭证。
func NewConfigurationError(provider string, missing ...string) *Error {
	return NewError(ErrConfiguration, "missing "+strings.Join(missing, ", ")).WithProvider(provider)
}

// NewValidationError 报告不合法的调用方输入。
func NewValidationError(format string, args ...any) *Error {
	return NewError(ErrValidation, fmt.Sprintf(format, args...))
}
