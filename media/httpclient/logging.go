package httpclient

import (
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/media/signing"
	"github.com/BaSui01/mediaflow/types"
)

const maxLoggedBody = 2048

func (c *Client) logRequest(req *Request, httpReq *http.Request) {
	if !c.cfg.Debug {
		return
	}
	fields := []zap.Field{
		zap.String("provider", req.Provider),
		zap.String("stage", string(req.Stage)),
		zap.String("method", httpReq.Method),
		zap.String("url", httpReq.URL.String()),
		zap.Any("headers", MaskHeaders(httpReq.Header)),
		zap.String("body", truncate(req.Body)),
	}
	fields = append(fields, contextFields(httpReq)...)
	c.logger.Debug("provider request", fields...)
}

func (c *Client) logResponse(req *Request, resp *http.Response, body []byte) {
	if !c.cfg.Debug {
		return
	}
	fields := []zap.Field{
		zap.String("provider", req.Provider),
		zap.String("stage", string(req.Stage)),
		zap.Int("status", resp.StatusCode),
		zap.Any("headers", MaskHeaders(resp.Header)),
		zap.String("body", truncate(body)),
	}
	fields = append(fields, contextFields(resp.Request)...)
	c.logger.Debug("provider response", fields...)
}

// contextFields 把出站调用与入站请求和任务关联起来。
func contextFields(r *http.Request) []zap.Field {
	if r == nil {
		return nil
	}
	var fields []zap.Field
	if id, ok := types.RequestID(r.Context()); ok {
		fields = append(fields, zap.String("request_id", id))
	}
	if id, ok := types.JobID(r.Context()); ok {
		fields = append(fields, zap.String("job_id", id))
	}
	return fields
}

// MaskHeaders 把 h 展平用于日志，凭证类请求头脱敏。
func MaskHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		v := strings.Join(vs, ", ")
		if signing.IsSensitiveHeader(k) {
			v = signing.MaskHeaderValue(v)
		}
		out[k] = v
	}
	return out
}

func truncate(body []byte) string {
	if len(body) <= maxLoggedBody {
		return string(body)
	}
	cut := maxLoggedBody
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return string(body[:cut]) + "...(truncated)"
}

// ErrorMessage 从提供商错误体中提取可读信息，
// 提取不到时退回原始文本，再退回 HTTP 状态文本。
func ErrorMessage(status int, body []byte) string {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, key := range []string{"message", "error", "detail", "msg", "Message"} {
			if msg := messageOf(parsed[key]); msg != "" {
				return msg
			}
		}
		if meta, ok := parsed["ResponseMetadata"].(map[string]any); ok {
			if e, ok := meta["Error"].(map[string]any); ok {
				if msg := messageOf(e["Message"]); msg != "" {
					return msg
				}
			}
		}
	}
	text := strings.TrimSpace(string(body))
	if text != "" && len(text) <= 256 {
		return text
	}
	if t := http.StatusText(status); t != "" {
		return strings.ToLower(t)
	}
	return "request failed"
}

func messageOf(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case map[string]any:
		for _, key := range []string{"message", "msg", "Message"} {
			if s, ok := x[key].(string); ok && s != "" {
				return s
			}
		}
	case []any:
		// fal 校验错误：[{"loc": [...], "msg": "..."}]
		if len(x) > 0 {
			return messageOf(x[0])
		}
	}
	return ""
}
