// Package fal 适配 fal.ai 队列接口。
//
// 提交发往 POST https://queue.fal.run/<model>，返回 request id
// 以及状态 URL 和结果 URL。之后轮询状态 URL，
// 报告 COMPLETED 后从结果 URL 读取结果。
// 鉴权使用静态请求头 "Authorization: Key <FAL_KEY>"。
package fal

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/media"
	"github.com/BaSui01/mediaflow/media/httpclient"
	"github.com/BaSui01/mediaflow/media/normalize"
	"github.com/BaSui01/mediaflow/media/providers"
	"github.com/BaSui01/mediaflow/media/signing"
	"github.com/BaSui01/mediaflow/types"
)

// Name 是提供商 ID。
const Name = "fal"

// CredentialKey 是 fal API Key 的凭证名。
const CredentialKey = "FAL_KEY"

// DefaultStrength 是调用方未指定时图生图使用的强度。
const DefaultStrength = 0.85

// Credentials 列出适配器解析的凭证名。
var Credentials = []string{CredentialKey}

// Config 配置 fal 适配器。
type Config struct {
	BaseURL           string        `json:"base_url" yaml:"base_url"`
	Model             string        `json:"model" yaml:"model"`
	InpaintingModel   string        `json:"inpainting_model" yaml:"inpainting_model"`
	VideoModel        string        `json:"video_model" yaml:"video_model"`
	ImageToVideoModel string        `json:"image_to_video_model" yaml:"image_to_video_model"`
	Strength          float64       `json:"strength" yaml:"strength"`
	Timeout           time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultConfig 返回 fal 默认配置。
func DefaultConfig() Config {
	return Config{
		BaseURL:           "https://queue.fal.run",
		Model:             "fal-ai/flux/dev",
		InpaintingModel:   "fal-ai/flux-general/inpainting",
		VideoModel:        "fal-ai/kling-video/v1.6/standard/text-to-video",
		ImageToVideoModel: "fal-ai/kling-video/v1.6/standard/image-to-video",
		Strength:          DefaultStrength,
	}
}

// Provider 是 fal 适配器。
type Provider struct {
	cfg    Config
	creds  media.Credentials
	signer signing.Signer
	client *httpclient.Client
	logger *zap.Logger
}

// New 创建 fal 适配器。零值配置项取默认值。
func New(cfg Config, creds media.Credentials, client *httpclient.Client, logger *zap.Logger) *Provider {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.InpaintingModel == "" {
		cfg.InpaintingModel = def.InpaintingModel
	}
	if cfg.VideoModel == "" {
		cfg.VideoModel = def.VideoModel
	}
	if cfg.ImageToVideoModel == "" {
		cfg.ImageToVideoModel = def.ImageToVideoModel
	}
	if cfg.Strength <= 0 {
		cfg.Strength = def.Strength
	}
	if client == nil {
		client = httpclient.New(httpclient.DefaultConfig())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		creds:  creds,
		signer: signing.NewKeySigner(creds.Get(CredentialKey)),
		client: client,
		logger: logger.With(zap.String("component", "provider"), zap.String("provider", Name)),
	}
}

// Name 实现 media.Provider。
func (p *Provider) Name() string { return Name }

type falRequest struct {
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	ImageSize      string   `json:"image_size,omitempty"`
	AspectRatio    string   `json:"aspect_ratio,omitempty"`
	NumImages      int      `json:"num_images,omitempty"`
	ImageURL       string   `json:"image_url,omitempty"`
	MaskURL        string   `json:"mask_url,omitempty"`
	Strength       *float64 `json:"strength,omitempty"`
	Seed           *int64   `json:"seed,omitempty"`
	Duration       string   `json:"duration,omitempty"`
}

type submitResponse struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

// pollingContext 是 CheckStatus 需要的全部数据，由调用方持久化。
type pollingContext struct {
	StatusURL   string `json:"status_url,omitempty"`
	ResponseURL string `json:"response_url,omitempty"`
	Model       string `json:"model"`
}

// endpointFor 为请求选择模型路径，生成方式会改变路由。
func (p *Provider) endpointFor(req *media.GenerationRequest) string {
	if req.EffectiveMediaType() == media.MediaTypeVideo {
		if req.Model != "" {
			return req.Model
		}
		if len(req.ReferenceImages) > 0 {
			return p.cfg.ImageToVideoModel
		}
		return p.cfg.VideoModel
	}

	base := req.Model
	if base == "" {
		base = p.cfg.Model
	}
	switch req.EffectiveMode() {
	case media.ModeImageToImage:
		if strings.HasSuffix(base, "/image-to-image") {
			return base
		}
		return base + "/image-to-image"
	case media.ModeInpainting:
		if req.Model != "" && strings.Contains(req.Model, "inpaint") {
			return req.Model
		}
		return p.cfg.InpaintingModel
	default:
		return base
	}
}

func (p *Provider) buildPayload(req *media.GenerationRequest) (*falRequest, error) {
	body := &falRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
	}
	if req.Seed != 0 {
		seed := req.Seed
		body.Seed = &seed
	}

	refs, err := normalize.Passthrough(req.ReferenceImages)
	if err != nil {
		return nil, err
	}

	if req.EffectiveMediaType() == media.MediaTypeVideo {
		if ratio := normalize.FalVideoRatios.Lookup(req.AspectRatio); ratio != "" {
			body.AspectRatio = ratio
		}
		if req.Duration > 0 {
			body.Duration = strconv.Itoa(req.Duration)
		}
		if len(refs) > 0 {
			body.ImageURL = refs[0]
		}
		return body, nil
	}

	body.ImageSize = normalize.FalBuckets.Lookup(req.AspectRatio)
	if req.NumImages > 0 {
		body.NumImages = req.NumImages
	}
	switch req.EffectiveMode() {
	case media.ModeImageToImage:
		body.ImageURL = refs[0]
		strength := req.StrengthOr(p.cfg.Strength)
		body.Strength = &strength
	case media.ModeInpainting:
		mask, err := normalize.Passthrough([]string{req.MaskImage})
		if err != nil {
			return nil, err
		}
		body.ImageURL = refs[0]
		body.MaskURL = mask[0]
		strength := req.StrengthOr(p.cfg.Strength)
		body.Strength = &strength
	}
	return body, nil
}

// Generate 实现 media.Provider。任务进入队列，调用方轮询 CheckStatus。
func (p *Provider) Generate(ctx context.Context, req *media.GenerationRequest) (*media.Submission, error) {
	if err := p.creds.Require(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	model := p.endpointFor(req)
	payload, err := p.buildPayload(req)
	if err != nil {
		return nil, providers.Diagnostics{Provider: Name, Stage: types.StageSubmit}.Annotate(err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "encode request").WithProvider(Name).WithCause(err)
	}

	endpoint := p.cfg.BaseURL + "/" + model
	diag := providers.Diagnostics{
		Provider:   Name,
		Stage:      types.StageSubmit,
		Endpoint:   endpoint,
		Credential: p.signer.Identity(),
		Payload:    providers.KeyFields(req, map[string]any{"endpoint_model": model, "image_size": payload.ImageSize}),
	}

	resp, err := p.client.Do(ctx, &httpclient.Request{
		Provider: Name,
		Stage:    types.StageSubmit,
		Method:   http.MethodPost,
		URL:      endpoint,
		Body:     body,
		Signer:   p.signer,
		Timeout:  p.cfg.Timeout,
	})
	if err != nil {
		return nil, diag.Annotate(err)
	}

	var sr submitResponse
	if err := diag.Decode(resp.Body, &sr); err != nil {
		return nil, err
	}
	if sr.RequestID == "" {
		return nil, diag.Unexpected("response has no request_id", resp.Body)
	}

	pc := pollingContext{StatusURL: sr.StatusURL, ResponseURL: sr.ResponseURL, Model: model}
	if pc.StatusURL == "" {
		pc.StatusURL = p.requestURL(appPath(model), sr.RequestID) + "/status"
	}
	if pc.ResponseURL == "" {
		pc.ResponseURL = strings.TrimSuffix(pc.StatusURL, "/status")
	}
	encoded, err := media.NewPollingContext(pc)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "encode polling context").WithProvider(Name).WithCause(err)
	}

	p.logger.Debug("task queued", zap.String("task_id", sr.RequestID), zap.String("model", model))
	return &media.Submission{
		TaskID:         sr.RequestID,
		Status:         media.StatusQueued,
		PollingContext: encoded,
	}, nil
}

func (p *Provider) requestURL(modelPath, requestID string) string {
	return p.cfg.BaseURL + "/" + modelPath + "/requests/" + requestID
}

// appPath 返回模型路径的 "<owner>/<app>" 前缀，
// 嵌套模型路径的队列状态挂在该前缀下。
func appPath(model string) string {
	parts := strings.SplitN(strings.Trim(model, "/"), "/", 3)
	if len(parts) < 2 {
		return model
	}
	return parts[0] + "/" + parts[1]
}
