// Package seedream 适配火山方舟（Ark）图像生成接口。
//
// 接口是同步的：提交响应已带最终图片 URL，所以 Generate 直接返回 COMPLETED，
// CheckStatus 只回放轮询上下文里记录的结果。请求与响应使用 arkruntime/model 的类型，
// 传输仍走 httpclient。
package seedream

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
	"github.com/volcengine/volcengine-go-sdk/volcengine"
	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/media"
	"github.com/BaSui01/mediaflow/media/httpclient"
	"github.com/BaSui01/mediaflow/media/normalize"
	"github.com/BaSui01/mediaflow/media/providers"
	"github.com/BaSui01/mediaflow/media/signing"
	"github.com/BaSui01/mediaflow/types"
)

// Name 是提供商 ID。
const Name = "seedream"

// CredentialKey 是 Ark API Key 的凭证名。
const CredentialKey = "ARK_API_KEY"

// Credentials 列出适配器解析的凭证名。
var Credentials = []string{CredentialKey}

// MaxReferenceImages 是接口接受的参考图数量，多余的丢弃。
const MaxReferenceImages = 3

// MaxImages 是一次组图生成的数量上限。
const MaxImages = 15

// Config 配置 seedream 适配器。
type Config struct {
	BaseURL   string        `json:"base_url" yaml:"base_url"`
	Model     string        `json:"model" yaml:"model"`
	Watermark bool          `json:"watermark" yaml:"watermark"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultConfig 返回 seedream 默认配置。同步生成耗时长，单次请求超时远高于传输层默认值。
func DefaultConfig() Config {
	return Config{
		BaseURL: "https://ark.cn-beijing.volces.com/api/v3",
		Model:   "doubao-seedream-4-0-250828",
		Timeout: 120 * time.Second,
	}
}

// Provider 是 seedream 适配器。
type Provider struct {
	cfg    Config
	creds  media.Credentials
	signer signing.Signer
	client *httpclient.Client
	logger *zap.Logger
}

// New 创建 seedream 适配器。零值配置项取默认值。
func New(cfg Config, creds media.Credentials, client *httpclient.Client, logger *zap.Logger) *Provider {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
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
		signer: signing.NewBearerSigner(creds.Get(CredentialKey)),
		client: client,
		logger: logger.With(zap.String("component", "provider"), zap.String("provider", Name)),
	}
}

// Name 实现 media.Provider。
func (p *Provider) Name() string { return Name }

// pollingContext 回放已完成的提交。
type pollingContext struct {
	Images []string `json:"images"`
}

func (p *Provider) buildPayload(req *media.GenerationRequest) (*model.GenerateImagesRequest, error) {
	refs, err := normalize.Passthrough(normalize.CapReferences(req.ReferenceImages, MaxReferenceImages))
	if err != nil {
		return nil, err
	}
	sequential := model.SequentialImageGeneration(model.SequentialImageGenerationDisabled)
	body := &model.GenerateImagesRequest{
		Model:                     p.cfg.Model,
		Prompt:                    req.Prompt,
		Size:                      volcengine.String(normalize.VolcPixels.Lookup(req.AspectRatio).String()),
		SequentialImageGeneration: &sequential,
		ResponseFormat:            volcengine.String(model.GenerateImagesResponseFormatURL),
		Watermark:                 volcengine.Bool(p.cfg.Watermark),
	}
	if len(refs) > 0 {
		body.Image = refs
	}
	if req.Seed != 0 {
		body.Seed = volcengine.Int64(req.Seed)
	}
	if req.Model != "" {
		body.Model = req.Model
	}
	if req.NumImages > 1 {
		sequential = model.SequentialImageGenerationAuto
		maxImages := min(req.NumImages, MaxImages)
		body.SequentialImageGenerationOptions = &model.SequentialImageGenerationOptions{MaxImages: &maxImages}
	}
	return body, nil
}

// rejection 用 Ark 错误体 model.ErrorResponse 改写 HTTP 拒绝的错误信息。
func rejection(err error) error {
	e, ok := types.AsError(err)
	if !ok || e.Code != types.ErrProviderRejected {
		return err
	}
	raw, ok := e.RawBody.(json.RawMessage)
	if !ok {
		return err
	}
	var er model.ErrorResponse
	if json.Unmarshal(raw, &er) != nil || er.Error == nil || er.Error.Message == "" {
		return err
	}
	er.Error.HTTPStatusCode = e.HTTPStatus
	msg := er.Error.Message
	if er.Error.Code != "" {
		msg = er.Error.Code + ": " + msg
	}
	e.Message = msg
	if e.Cause == nil {
		e.Cause = er.Error
	}
	return e
}

// Generate 实现 media.Provider。返回的提交已是终态。
func (p *Provider) Generate(ctx context.Context, req *media.GenerationRequest) (*media.Submission, error) {
	if err := p.creds.Require(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	switch {
	case req.EffectiveMediaType() == media.MediaTypeVideo:
		return nil, providers.Unsupported(Name, "video generation")
	case req.EffectiveMode() == media.ModeInpainting:
		return nil, providers.Unsupported(Name, "inpainting")
	}

	payload, err := p.buildPayload(req)
	if err != nil {
		return nil, providers.Diagnostics{Provider: Name, Stage: types.StageSubmit}.Annotate(err)
	}
	if err := payload.NormalizeImages(); err != nil {
		return nil, types.NewValidationError("reference images: %v", err).WithProvider(Name).WithCause(err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "encode request").WithProvider(Name).WithCause(err)
	}

	endpoint := p.cfg.BaseURL + "/images/generations"
	refs, _ := payload.Image.([]string)
	diag := providers.Diagnostics{
		Provider:   Name,
		Stage:      types.StageSubmit,
		Endpoint:   endpoint,
		Credential: p.signer.Identity(),
		Payload: providers.KeyFields(req, map[string]any{
			"model":            payload.Model,
			"size":             volcengine.StringValue(payload.Size),
			"reference_images": len(refs),
		}),
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
		return nil, diag.Annotate(rejection(err))
	}

	var ir model.ImagesResponse
	if err := diag.Decode(resp.Body, &ir); err != nil {
		return nil, err
	}
	if ir.Error != nil && ir.Error.Message != "" {
		return nil, diag.Rejected(ir.Error.Message, resp.Body)
	}

	var urls []string
	dropped := 0
	for _, img := range ir.Data {
		// 被拦截的图片只带 error，没有 url。
		if img == nil || strings.TrimSpace(volcengine.StringValue(img.Url)) == "" {
			dropped++
			continue
		}
		urls = append(urls, *img.Url)
	}
	if len(urls) == 0 {
		return nil, diag.Unexpected("response carries no image url", resp.Body)
	}
	if dropped > 0 {
		p.logger.Warn("partial batch", zap.Int("images", len(urls)), zap.Int("failed", dropped))
	}

	pc, err := media.NewPollingContext(pollingContext{Images: urls})
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "encode polling context").WithProvider(Name).WithCause(err)
	}
	images := make([]media.Image, 0, len(urls))
	for _, u := range urls {
		images = append(images, media.Image{URL: u})
	}
	return &media.Submission{
		TaskID:         media.CompletedTaskID,
		Status:         media.StatusCompleted,
		PollingContext: pc,
		Images:         images,
	}, nil
}

// CheckStatus 实现 media.Provider。不发起网络调用，已完成提交的轮询上下文里就有结果。
func (p *Provider) CheckStatus(ctx context.Context, taskID string, pc media.PollingContext) (*media.Outcome, error) {
	if taskID != media.CompletedTaskID {
		return nil, types.NewValidationError("seedream tasks complete synchronously; unknown task id %q", taskID).WithProvider(Name)
	}
	var state pollingContext
	if err := pc.Decode(&state); err != nil {
		return nil, types.NewValidationError("malformed polling context").WithProvider(Name).WithCause(err)
	}
	out, err := media.Completed(Name, state.Images, "")
	if err != nil {
		return nil, types.NewValidationError("polling context carries no images").WithProvider(Name).WithCause(err)
	}
	return out, nil
}
