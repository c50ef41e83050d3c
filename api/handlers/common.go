package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/types"
)

// maxBodyBytes 限定请求体大小，内联参考图是最大的输入。
const maxBodyBytes = 32 << 20

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构。不包含原始响应体与请求负载，完整诊断只写日志。
type ErrorInfo struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Provider   string `json:"provider,omitempty"`
	Stage      string `json:"stage,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	HTTPStatus int    `json:"-"`
}

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	// 头已写出，编码失败无法再改状态码
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 写入 200 成功响应
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteStatus(w, http.StatusOK, data)
}

// WriteStatus 写入指定状态码的成功响应
func WriteStatus(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: w.Header().Get("X-Request-ID"),
	})
}

// WriteError 写入错误响应。非 types.Error 按 INTERNAL 处理。
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	e, ok := types.AsError(err)
	if !ok {
		e = types.NewError(types.ErrInternal, "internal error").WithCause(err)
	}
	status := HTTPStatusFor(e.Code)

	if logger != nil {
		level := zap.WarnLevel
		if status >= http.StatusInternalServerError {
			level = zap.ErrorLevel
		}
		logger.Check(level, "API error").Write(
			zap.Object("error", e),
			zap.Int("status", status),
		)
	}

	WriteJSON(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:       string(e.Code),
			Message:    e.Summary(),
			Provider:   e.Provider,
			Stage:      string(e.Stage),
			Retryable:  e.Retryable,
			HTTPStatus: status,
		},
		Timestamp: time.Now(),
		RequestID: w.Header().Get("X-Request-ID"),
	})
}

// WriteErrorMessage 写入简单错误消息，status 覆盖默认映射
func WriteErrorMessage(w http.ResponseWriter, status int, code types.ErrorCode, message string) {
	WriteJSON(w, status, Response{
		Success:   false,
		Error:     &ErrorInfo{Code: string(code), Message: message, HTTPStatus: status},
		Timestamp: time.Now(),
		RequestID: w.Header().Get("X-Request-ID"),
	})
}

// =============================================================================
// 🔄 错误码到 HTTP 状态码映射
// =============================================================================

// HTTPStatusFor 返回网关对错误码的响应状态。
// types.Error.HTTPStatus 是上游状态码，不参与映射。
func HTTPStatusFor(code types.ErrorCode) int {
	switch code {
	case types.ErrValidation:
		return http.StatusBadRequest
	case types.ErrConfiguration:
		return http.StatusServiceUnavailable
	case types.ErrTransport:
		return http.StatusGatewayTimeout
	case types.ErrProviderRejected, types.ErrUnexpectedResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// 🛡️ 请求验证辅助函数
// =============================================================================

// DecodeJSONBody 解码 JSON 请求体（严格模式，拒绝未知字段）
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return types.NewValidationError("request body is empty")
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return types.NewValidationError("request body exceeds %d bytes", tooLarge.Limit)
		}
		return types.NewError(types.ErrValidation, "invalid JSON body").WithCause(err)
	}
	if _, err := decoder.Token(); err != io.EOF {
		return types.NewValidationError("request body must contain a single JSON object")
	}
	return nil
}

// ValidateContentType 检查 Content-Type 是否为 JSON
func ValidateContentType(r *http.Request) error {
	ct := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Type")))
	if ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return types.NewValidationError("Content-Type must be application/json")
	}
	return nil
}

// =============================================================================
// 📊 响应包装器（用于捕获状态码）
// =============================================================================

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码与响应大小
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
	Bytes      int64
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader 重写 WriteHeader 以捕获状态码
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write 重写 Write 以标记已写入
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.Bytes += int64(n)
	return n, err
}

// Unwrap 供 http.ResponseController 访问底层 writer
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
