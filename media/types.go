package media

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BaSui01/mediaflow/types"
)

// Status 是统一的任务状态。
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// IsTerminal 报告状态是否已不可再变。
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 1
	case StatusInProgress:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	default:
		return 0
	}
}

// CanTransition 报告从 s 变为 next 是否保持单调。
// 非终态可以保持不变，终态永不改变。
func (s Status) CanTransition(next Status) bool {
	if next.rank() == 0 {
		return false
	}
	if s == "" {
		return true
	}
	if s.IsTerminal() {
		return s == next
	}
	return next.rank() >= s.rank()
}

// Mode 选择生成方式，可能改变提供商端点，不只是载荷。
type Mode string

const (
	ModeTextToImage  Mode = "text-to-image"
	ModeImageToImage Mode = "image-to-image"
	ModeInpainting   Mode = "inpainting"
)

// MediaType 是请求的输出类型。
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// CompletedTaskID 是同步提供商返回的任务 ID，
// 其提交响应已带最终结果。
const CompletedTaskID = "sync:completed"

// GenerationRequest 是与提供商无关的请求。发出后不可变，
// 适配器不会修改它。
type GenerationRequest struct {
	Provider        string    `json:"providerId"`
	Model           string    `json:"modelId,omitempty"`
	Prompt          string    `json:"prompt"`
	NegativePrompt  string    `json:"negativePrompt,omitempty"`
	Mode            Mode      `json:"mode,omitempty"`
	MediaType       MediaType `json:"mediaType,omitempty"`
	AspectRatio     string    `json:"aspectRatio,omitempty"`
	ReferenceImages []string  `json:"referenceImages,omitempty"` // URL 或 data: URI
	MaskImage       string    `json:"maskImage,omitempty"`
	Strength        *float64  `json:"strength,omitempty"`
	NumImages       int       `json:"numImages,omitempty"` // 每次调用的候选数，视提供商支持
	Seed            int64     `json:"seed,omitempty"`
	Duration        int       `json:"duration,omitempty"` // 秒，仅视频
}

// EffectiveMode 返回生成方式，默认文生图。
func (r *GenerationRequest) EffectiveMode() Mode {
	if r.Mode == "" {
		return ModeTextToImage
	}
	return r.Mode
}

// EffectiveMediaType 返回媒体类型，默认图片。
func (r *GenerationRequest) EffectiveMediaType() MediaType {
	if r.MediaType == "" {
		return MediaTypeImage
	}
	return r.MediaType
}

// StrengthOr 返回调用方给定的强度，否则返回提供商默认值。
func (r *GenerationRequest) StrengthOr(def float64) float64 {
	if r.Strength == nil {
		return def
	}
	return *r.Strength
}

// Validate 检查与提供商无关的约束，不访问网络。
func (r *GenerationRequest) Validate() error {
	if r == nil {
		return types.NewValidationError("request is nil")
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return types.NewValidationError("prompt is required").WithProvider(r.Provider)
	}
	if strings.TrimSpace(r.Provider) == "" {
		return types.NewValidationError("providerId is required")
	}
	switch r.EffectiveMode() {
	case ModeTextToImage:
	case ModeImageToImage:
		if len(r.ReferenceImages) == 0 {
			return types.NewValidationError("image-to-image requires at least one reference image").WithProvider(r.Provider)
		}
	case ModeInpainting:
		if len(r.ReferenceImages) == 0 {
			return types.NewValidationError("inpainting requires a source image").WithProvider(r.Provider)
		}
		if strings.TrimSpace(r.MaskImage) == "" {
			return types.NewValidationError("inpainting requires a mask image").WithProvider(r.Provider)
		}
	default:
		return types.NewValidationError("unsupported mode %q", r.Mode).WithProvider(r.Provider)
	}
	switch r.EffectiveMediaType() {
	case MediaTypeImage, MediaTypeVideo:
	default:
		return types.NewValidationError("unsupported media type %q", r.MediaType).WithProvider(r.Provider)
	}
	if r.Strength != nil && (*r.Strength < 0 || *r.Strength > 1) {
		return types.NewValidationError("strength must be within [0, 1], got %v", *r.Strength).WithProvider(r.Provider)
	}
	if r.NumImages < 0 {
		return types.NewValidationError("numImages must not be negative").WithProvider(r.Provider)
	}
	return nil
}

// Image 是一个生成的资源，视频输出使用同一结构。
type Image struct {
	URL         string `json:"url"`
	ContentType string `json:"contentType,omitempty"`
}

// PollingContext 是适配器下一次 CheckStatus 所需的数据。
// 它是一个 JSON 对象，核心只携带不解读。
type PollingContext []byte

// NewPollingContext 把 v 编码为轮询上下文。
func NewPollingContext(v any) (PollingContext, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode polling context: %w", err)
	}
	return PollingContext(data), nil
}

// IsEmpty 报告上下文是否为空。
func (pc PollingContext) IsEmpty() bool {
	trimmed := bytes.TrimSpace(pc)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}"))
}

// Decode 把上下文解码到 v。
func (pc PollingContext) Decode(v any) error {
	if pc.IsEmpty() {
		return nil
	}
	return json.Unmarshal(pc, v)
}

// MarshalJSON 把上下文作为原始 JSON 对象嵌入。
func (pc PollingContext) MarshalJSON() ([]byte, error) {
	if len(pc) == 0 {
		return []byte("null"), nil
	}
	return pc, nil
}

// UnmarshalJSON 保存原始 JSON 的副本。
func (pc *PollingContext) UnmarshalJSON(data []byte) error {
	if pc == nil {
		return fmt.Errorf("media: UnmarshalJSON on nil PollingContext")
	}
	*pc = append((*pc)[0:0], data...)
	return nil
}

// Submission 是 Generate 的结果。
type Submission struct {
	TaskID         string         `json:"taskId"`
	Status         Status         `json:"status"`
	PollingContext PollingContext `json:"pollingContext,omitempty"`
	Images         []Image        `json:"images,omitempty"`
}

// NeedsPolling 报告调用方是否需要安排轮询。
func (s *Submission) NeedsPolling() bool {
	return !s.Status.IsTerminal()
}

// Outcome 是 CheckStatus 的结果。
type Outcome struct {
	Status Status  `json:"status"`
	Images []Image `json:"images,omitempty"`
	Error  string  `json:"error,omitempty"`

	// Err 在提供商拒绝任务或响应形状异常时，
	// 携带 Error 背后的结构化诊断信息。
	Err *types.Error `json:"-"`
}

// InProgress 返回非终态结果。
func InProgress() *Outcome {
	return &Outcome{Status: StatusInProgress}
}

// Completed 由 urls 构造 COMPLETED 结果，url 列表为空视为形状错误。
func Completed(provider string, urls []string, contentType string) (*Outcome, error) {
	images := make([]Image, 0, len(urls))
	for _, u := range urls {
		if strings.TrimSpace(u) == "" {
			continue
		}
		images = append(images, Image{URL: u, ContentType: contentType})
	}
	if len(images) == 0 {
		return nil, types.NewError(types.ErrUnexpectedResponse, "completed task carries no asset url").
			WithProvider(provider).WithStage(types.StageStatus)
	}
	return &Outcome{Status: StatusCompleted, Images: images}, nil
}

// Failed 构造 FAILED 结果，信息不会为空。
func Failed(message string, err *types.Error) *Outcome {
	if strings.TrimSpace(message) == "" {
		if err != nil {
			message = err.Summary()
		} else {
			message = "generation failed"
		}
	}
	return &Outcome{Status: StatusFailed, Error: message, Err: err}
}

// FailedFromError 把提供商的判定错误转为 FAILED 结果。
func FailedFromError(err error) *Outcome {
	if e, ok := types.AsError(err); ok {
		return Failed(e.Summary(), e)
	}
	return Failed(err.Error(), nil)
}
