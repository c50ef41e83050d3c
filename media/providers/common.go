// Package providers 存放 media/providers/<id> 下各适配器共用的辅助函数。
package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/BaSui01/mediaflow/media"
	"github.com/BaSui01/mediaflow/types"
)

// Diagnostics 附加到适配器返回的每个失败上。
type Diagnostics struct {
	Provider   string
	Stage      types.Stage
	Endpoint   string
	Credential string // 已脱敏
	Payload    map[string]any
}

// Annotate 为分类错误补齐仍为空的诊断字段。
// 分类之外的错误转为 TRANSPORT 错误。
func (d Diagnostics) Annotate(err error) error {
	if err == nil {
		return nil
	}
	e, ok := types.AsError(err)
	if !ok {
		e = types.NewError(types.ErrTransport, "provider call failed").WithCause(err)
	}
	if e.Provider == "" {
		e.Provider = d.Provider
	}
	if e.Stage == "" {
		e.Stage = d.Stage
	}
	if e.Endpoint == "" {
		e.Endpoint = d.Endpoint
	}
	if e.Credential == "" {
		e.Credential = d.Credential
	}
	if e.Payload == nil && d.Payload != nil && e.Code != types.ErrValidation && e.Code != types.ErrConfiguration {
		e.Payload = d.Payload
	}
	return e
}

// Rejected 报告 2xx 响应体中内嵌的非成功码。
func (d Diagnostics) Rejected(message string, body []byte) *types.Error {
	return d.fill(types.NewError(types.ErrProviderRejected, message).WithRawBody(body))
}

// Unexpected 报告缺少适配器所需字段的 2xx 响应体。
func (d Diagnostics) Unexpected(message string, body []byte) *types.Error {
	return d.fill(types.NewError(types.ErrUnexpectedResponse, message).WithRawBody(body))
}

func (d Diagnostics) fill(e *types.Error) *types.Error {
	return e.WithProvider(d.Provider).
		WithStage(d.Stage).
		WithEndpoint(d.Endpoint).
		WithCredential(d.Credential).
		WithPayload(d.Payload)
}

// Decode 解码提供商响应体，非法 JSON 报告为形状异常。
func (d Diagnostics) Decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return d.Unexpected(fmt.Sprintf("response is not valid JSON: %v", err), body).WithCause(err)
	}
	return nil
}

// Verdict 把 CheckStatus 的失败转换为适配器的返回值。
// 不可重试的拒绝和异常响应转为 FAILED 结果；重试耗尽的 429/5xx 和其他错误原样返回，
// 任务本身并未得到结论。
func Verdict(err error) (*media.Outcome, error) {
	e, ok := types.AsError(err)
	if !ok {
		return nil, err
	}
	if e.Retryable || e.HTTPStatus == http.StatusTooManyRequests || e.HTTPStatus >= http.StatusInternalServerError {
		return nil, e
	}
	switch e.Code {
	case types.ErrProviderRejected, types.ErrUnexpectedResponse:
		return media.FailedFromError(e), nil
	default:
		return nil, e
	}
}

// KeyFields 为错误载荷汇总请求：足以复现，
// 不含内联图片数据。
func KeyFields(req *media.GenerationRequest, extra map[string]any) map[string]any {
	fields := map[string]any{
		"prompt":     preview(req.Prompt, 120),
		"mode":       string(req.EffectiveMode()),
		"media_type": string(req.EffectiveMediaType()),
	}
	if req.Model != "" {
		fields["model"] = req.Model
	}
	if req.AspectRatio != "" {
		fields["aspect_ratio"] = req.AspectRatio
	}
	if n := len(req.ReferenceImages); n > 0 {
		fields["reference_images"] = n
	}
	if req.MaskImage != "" {
		fields["mask"] = true
	}
	if req.NumImages > 0 {
		fields["num_images"] = req.NumImages
	}
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}

func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// ErrUnsupported 被提供商不支持的功能对应的校验错误包装。
var ErrUnsupported = errors.New("not supported by provider")

// Unsupported 报告提供商无法处理的请求特性。
func Unsupported(provider, what string) *types.Error {
	return types.NewValidationError("%s is %v", what, ErrUnsupported).WithProvider(provider).WithCause(ErrUnsupported)
}
