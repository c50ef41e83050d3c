// Package kling 适配可灵图像与视频生成接口。
//
// 每次调用都携带新签发的 HS256 JWT（issuer 和 kid 均为 access key）。
// 图像提交到 /v1/images/generations，视频提交到
// /v1/videos/text2video 或 /v1/videos/image2video；任务通过
// GET <endpoint>/<task_id> 查询。
package kling

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
const Name = "kling"

// 凭证名。
const (
	CredentialAccessKey = "KLING_ACCESS_KEY"
	CredentialSecretKey = "KLING_SECRET_KEY"
)

// Credentials 列出适配器解析的凭证名。
var Credentials = []string{CredentialAccessKey, CredentialSecretKey}

// DefaultStrength 是调用方未指定时发送的 image_fidelity。
const DefaultStrength = 0.75

// 端点。
const (
	EndpointImages       = "/v1/images/generations"
	EndpointTextToVideo  = "/v1/videos/text2video"
	EndpointImageToVideo = "/v1/videos/image2video"
)

const maxImagesPerCall = 9

// Config 配置 kling 适配器。
type Config struct {
	BaseURL    string        `json:"base_url" yaml:"base_url"`
	ImageModel string        `json:"image_model" yaml:"image_model"`
	VideoModel string        `json:"video_model" yaml:"video_model"`
	VideoMode  string        `json:"video_mode" yaml:"video_mode"` // std 或 pro
	Strength   float64       `json:"strength" yaml:"strength"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultConfig 返回 kling 默认配置。
func DefaultConfig() Config {
	return Config{
		BaseURL:    "https://api.klingai.com",
		ImageModel: "kling-v1",
		VideoModel: "kling-v1",
		VideoMode:  "std",
		Strength:   DefaultStrength,
	}
}

// Option 配置 Provider。
type Option func(*Provider)

// WithClock 设置令牌时钟。
func WithClock(c signing.Clock) Option {
	return func(p *Provider) { p.clock = c }
}

// Provider 是 kling 适配器。
type Provider struct {
	cfg    Config
	creds  media.Credentials
	client *httpclient.Client
	clock  signing.Clock
	signer *signing.TokenSigner
	logger *zap.Logger
}

// New 创建 kling 适配器。零值配置项取默认值。
func New(cfg Config, creds media.Credentials, client *httpclient.Client, logger *zap.Logger, opts ...Option) *Provider {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ImageModel == "" {
		cfg.ImageModel = def.ImageModel
	}
	if cfg.VideoModel == "" {
		cfg.VideoModel = def.VideoModel
	}
	if cfg.VideoMode == "" {
		cfg.VideoMode = def.VideoMode
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
	p := &Provider{
		cfg:    cfg,
		creds:  creds,
		client: client,
		logger: logger.With(zap.String("component", "provider"), zap.String("provider", Name)),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.signer = signing.NewTokenSigner(signing.TokenConfig{
		AccessKey: creds.Get(CredentialAccessKey),
		SecretKey: creds.Get(CredentialSecretKey),
		Clock:     p.clock,
	})
	return p
}

// Name 实现 media.Provider。
func (p *Provider) Name() string { return Name }

type imageRequest struct {
	ModelName      string   `json:"model_name"`
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	Image          string   `json:"image,omitempty"`
	ImageFidelity  *float64 `json:"image_fidelity,omitempty"`
	N              int      `json:"n,omitempty"`
	AspectRatio    string   `json:"aspect_ratio,omitempty"`
}

type videoRequest struct {
	ModelName      string `json:"model_name"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Image          string `json:"image,omitempty"`
	Mode           string `json:"mode,omitempty"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`
	Duration       string `json:"duration,omitempty"`
}

type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

type taskData struct {
	TaskID        string `json:"task_id"`
	TaskStatus    string `json:"task_status"`
	TaskStatusMsg string `json:"task_status_msg"`
	TaskResult    struct {
		Images []struct {
			URL string `json:"url"`
		} `json:"images"`
		Videos []struct {
			URL string `json:"url"`
		} `json:"videos"`
	} `json:"task_result"`
}

// pollingContext 记录任务所在的端点。
type pollingContext struct {
	Endpoint string `json:"endpoint"`
}

// inlineImage 把引用转为接口接受的形式：URL 原样传递，
// data URI 去掉前缀。
func inlineImage(ref string) (string, error) {
	parsed, err := normalize.ParseRef(ref)
	if err != nil {
		return "", err
	}
	if parsed.Kind == normalize.RefURL {
		return parsed.URL, nil
	}
	return parsed.Data, nil
}

func (p *Provider) buildPayload(req *media.GenerationRequest) (string, any, error) {
	ratio := ""
	if req.AspectRatio != "" {
		ratio = normalize.KlingRatios.Lookup(req.AspectRatio)
	}

	if req.EffectiveMediaType() == media.MediaTypeVideo {
		body := &videoRequest{
			ModelName:      p.cfg.VideoModel,
			Prompt:         req.Prompt,
			NegativePrompt: req.NegativePrompt,
			Mode:           p.cfg.VideoMode,
			AspectRatio:    ratio,
		}
		if req.Model != "" {
			body.ModelName = req.Model
		}
		if req.Duration > 0 {
			body.Duration = strconv.Itoa(req.Duration)
		}
		if len(req.ReferenceImages) == 0 {
			return EndpointTextToVideo, body, nil
		}
		img, err := inlineImage(req.ReferenceImages[0])
		if err != nil {
			return "", nil, err
		}
		body.Image = img
		body.AspectRatio = ""
		return EndpointImageToVideo, body, nil
	}

	if req.EffectiveMode() == media.ModeInpainting {
		return "", nil, providers.Unsupported(Name, "inpainting")
	}
	body := &imageRequest{
		ModelName:      p.cfg.ImageModel,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		AspectRatio:    ratio,
	}
	if req.Model != "" {
		body.ModelName = req.Model
	}
	if req.NumImages > 0 {
		body.N = min(req.NumImages, maxImagesPerCall)
	}
	if req.EffectiveMode() == media.ModeImageToImage {
		img, err := inlineImage(req.ReferenceImages[0])
		if err != nil {
			return "", nil, err
		}
		body.Image = img
		fidelity := req.StrengthOr(p.cfg.Strength)
		body.ImageFidelity = &fidelity
	}
	return EndpointImages, body, nil
}

// Generate 实现 media.Provider。
func (p *Provider) Generate(ctx context.Context, req *media.GenerationRequest) (*media.Submission, error) {
	if err := p.creds.Require(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	endpoint, payload, err := p.buildPayload(req)
	if err != nil {
		return nil, providers.Diagnostics{Provider: Name, Stage: types.StageSubmit}.Annotate(err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "encode request").WithProvider(Name).WithCause(err)
	}

	url := p.cfg.BaseURL + endpoint
	diag := providers.Diagnostics{
		Provider:   Name,
		Stage:      types.StageSubmit,
		Endpoint:   url,
		Credential: p.signer.Identity(),
		Payload:    providers.KeyFields(req, map[string]any{"endpoint": endpoint}),
	}
	resp, err := p.client.Do(ctx, &httpclient.Request{
		Provider: Name,
		Stage:    types.StageSubmit,
		Method:   http.MethodPost,
		URL:      url,
		Body:     body,
		Signer:   p.signer,
		Timeout:  p.cfg.Timeout,
	})
	if err != nil {
		return nil, diag.Annotate(err)
	}

	data, err := p.decode(diag, resp.Body)
	if err != nil {
		return nil, err
	}
	if data.TaskID == "" {
		return nil, diag.Unexpected("response has no data.task_id", resp.Body)
	}

	pc, err := media.NewPollingContext(pollingContext{Endpoint: endpoint})
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "encode polling context").WithProvider(Name).WithCause(err)
	}
	p.logger.Debug("task queued", zap.String("task_id", data.TaskID), zap.String("endpoint", endpoint))
	return &media.Submission{
		TaskID:         data.TaskID,
		Status:         media.StatusQueued,
		PollingContext: pc,
	}, nil
}

// decode 解开响应信封，code 为 0 表示成功。
func (p *Provider) decode(diag providers.Diagnostics, body []byte) (*taskData, error) {
	var env envelope
	if err := diag.Decode(body, &env); err != nil {
		return nil, err
	}
	if env.Code != 0 {
		msg := strings.TrimSpace(env.Message)
		if msg == "" {
			msg = "request rejected"
		}
		return nil, diag.Rejected(msg+" (code "+strconv.Itoa(env.Code)+")", body)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, diag.Unexpected("response has no data", body)
	}
	var data taskData
	if err := diag.Decode(env.Data, &data); err != nil {
		return nil, err
	}
	return &data, nil
}
