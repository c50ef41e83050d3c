// Package jimeng 适配火山引擎视觉（CV）异步任务接口。
//
// 两段调用都是发往 visual.volcengineapi.com 的 POST，使用火山引擎
// HMAC-SHA256 规范签名：CVSync2AsyncSubmitTask 提交任务，
// CVSync2AsyncGetResult 查询结果。req_key 决定模型，
// 也就决定了生成方式。
package jimeng

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
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
const Name = "jimeng"

// 凭证名。
const (
	CredentialAccessKey = "VOLC_ACCESS_KEY"
	CredentialSecretKey = "VOLC_SECRET_KEY"
)

// Credentials 列出适配器解析的凭证名。
var Credentials = []string{CredentialAccessKey, CredentialSecretKey}

// DefaultStrength 是调用方未指定时发送的 scale。
const DefaultStrength = 0.65

// SuccessCode 是调用成功时的内嵌错误码。
const SuccessCode = 10000

const (
	apiVersion   = "2022-08-31"
	actionSubmit = "CVSync2AsyncSubmitTask"
	actionResult = "CVSync2AsyncGetResult"
)

// 各生成方式的 req_key。
const (
	ReqKeyTextToImage  = "jimeng_t2i_v40"
	ReqKeyImageToImage = "jimeng_i2i_v30"
	ReqKeyInpainting   = "jimeng_inpainting_v1"
)

// Config 配置 jimeng 适配器。
type Config struct {
	BaseURL  string        `json:"base_url" yaml:"base_url"`
	Region   string        `json:"region" yaml:"region"`
	Service  string        `json:"service" yaml:"service"`
	Strength float64       `json:"strength" yaml:"strength"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
	// ReqKeys 按生成方式覆盖 req_key。
	ReqKeys map[media.Mode]string `json:"req_keys,omitempty" yaml:"req_keys,omitempty"`
}

// DefaultConfig 返回 jimeng 默认配置。
func DefaultConfig() Config {
	return Config{
		BaseURL:  "https://visual.volcengineapi.com",
		Region:   "cn-north-1",
		Service:  "cv",
		Strength: DefaultStrength,
		ReqKeys: map[media.Mode]string{
			media.ModeTextToImage:  ReqKeyTextToImage,
			media.ModeImageToImage: ReqKeyImageToImage,
			media.ModeInpainting:   ReqKeyInpainting,
		},
	}
}

// Option 配置 Provider。
type Option func(*Provider)

// WithResolver 设置内联载荷使用的图片解析器。
func WithResolver(r *normalize.Resolver) Option {
	return func(p *Provider) {
		if r != nil {
			p.resolver = r
		}
	}
}

// WithClock 设置签名时钟。
func WithClock(c signing.Clock) Option {
	return func(p *Provider) { p.clock = c }
}

// Provider 是 jimeng 适配器。
type Provider struct {
	cfg      Config
	creds    media.Credentials
	client   *httpclient.Client
	resolver *normalize.Resolver
	clock    signing.Clock
	logger   *zap.Logger
}

// New 创建 jimeng 适配器。零值配置项取默认值。
func New(cfg Config, creds media.Credentials, client *httpclient.Client, logger *zap.Logger, opts ...Option) *Provider {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Region == "" {
		cfg.Region = def.Region
	}
	if cfg.Service == "" {
		cfg.Service = def.Service
	}
	if cfg.Strength <= 0 {
		cfg.Strength = def.Strength
	}
	keys := make(map[media.Mode]string, len(def.ReqKeys))
	for mode, key := range def.ReqKeys {
		keys[mode] = key
	}
	for mode, key := range cfg.ReqKeys {
		if key != "" {
			keys[mode] = key
		}
	}
	cfg.ReqKeys = keys
	if client == nil {
		client = httpclient.New(httpclient.DefaultConfig())
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Provider{
		cfg:      cfg,
		creds:    creds,
		client:   client,
		resolver: normalize.NewResolver(nil),
		logger:   logger.With(zap.String("component", "provider"), zap.String("provider", Name)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name 实现 media.Provider。
func (p *Provider) Name() string { return Name }

// signer 每次调用都重新构建，请求总以当前时间签名。
func (p *Provider) signer(region, service string) *signing.CanonicalSigner {
	return signing.NewCanonicalSigner(signing.CanonicalConfig{
		AccessKey: p.creds.Get(CredentialAccessKey),
		SecretKey: p.creds.Get(CredentialSecretKey),
		Service:   service,
		Region:    region,
		Clock:     p.clock,
	})
}

type submitRequest struct {
	ReqKey           string   `json:"req_key"`
	Prompt           string   `json:"prompt"`
	Width            int      `json:"width,omitempty"`
	Height           int      `json:"height,omitempty"`
	ImageURLs        []string `json:"image_urls,omitempty"`
	BinaryDataBase64 []string `json:"binary_data_base64,omitempty"`
	Scale            *float64 `json:"scale,omitempty"`
	Seed             int64    `json:"seed,omitempty"`
	ForceSingle      bool     `json:"force_single,omitempty"`
}

type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

type submitData struct {
	TaskID string `json:"task_id"`
}

// pollingContext 携带任务的签名作用域和模型。
type pollingContext struct {
	ReqKey  string `json:"req_key"`
	Region  string `json:"region"`
	Service string `json:"service"`
	Host    string `json:"host"`
}

func (p *Provider) actionURL(host, action string) string {
	base := p.cfg.BaseURL
	if host != "" {
		if u, err := url.Parse(p.cfg.BaseURL); err == nil && u.Host != host {
			u.Host = host
			base = u.String()
		}
	}
	q := url.Values{}
	q.Set("Action", action)
	q.Set("Version", apiVersion)
	return base + "/?" + q.Encode()
}

func (p *Provider) host() string {
	u, err := url.Parse(p.cfg.BaseURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func (p *Provider) buildPayload(ctx context.Context, req *media.GenerationRequest) (*submitRequest, error) {
	mode := req.EffectiveMode()
	size := normalize.VolcPixels.Lookup(req.AspectRatio)
	body := &submitRequest{
		ReqKey: p.cfg.ReqKeys[mode],
		Prompt: req.Prompt,
		Width:  size.Width,
		Height: size.Height,
		Seed:   req.Seed,
	}
	if req.Model != "" {
		body.ReqKey = req.Model
	}
	if req.NumImages == 1 {
		body.ForceSingle = true
	}

	switch mode {
	case media.ModeImageToImage:
		scale := req.StrengthOr(p.cfg.Strength)
		body.Scale = &scale
		if allURLs(req.ReferenceImages) {
			body.ImageURLs = append([]string(nil), req.ReferenceImages...)
			return body, nil
		}
		encoded, err := p.resolver.ToBase64(ctx, req.ReferenceImages)
		if err != nil {
			return nil, err
		}
		for _, e := range encoded {
			body.BinaryDataBase64 = append(body.BinaryDataBase64, e.Data)
		}
	case media.ModeInpainting:
		scale := req.StrengthOr(p.cfg.Strength)
		body.Scale = &scale
		// 接口要求先原图，后蒙版。
		encoded, err := p.resolver.ToBase64(ctx, []string{req.ReferenceImages[0], req.MaskImage})
		if err != nil {
			return nil, err
		}
		body.BinaryDataBase64 = []string{encoded[0].Data, encoded[1].Data}
	}
	return body, nil
}

func allURLs(refs []string) bool {
	for _, r := range refs {
		if !normalize.IsURL(r) {
			return false
		}
	}
	return true
}

// Generate 实现 media.Provider。
func (p *Provider) Generate(ctx context.Context, req *media.GenerationRequest) (*media.Submission, error) {
	if err := p.creds.Require(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.EffectiveMediaType() == media.MediaTypeVideo {
		return nil, providers.Unsupported(Name, "video generation")
	}

	endpoint := p.actionURL("", actionSubmit)
	signer := p.signer(p.cfg.Region, p.cfg.Service)
	diag := providers.Diagnostics{
		Provider:   Name,
		Stage:      types.StageSubmit,
		Endpoint:   endpoint,
		Credential: signer.Identity(),
	}

	payload, err := p.buildPayload(ctx, req)
	if err != nil {
		return nil, diag.Annotate(err)
	}
	diag.Payload = providers.KeyFields(req, map[string]any{
		"req_key": payload.ReqKey,
		"width":   payload.Width,
		"height":  payload.Height,
	})
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "encode request").WithProvider(Name).WithCause(err)
	}

	resp, err := p.client.Do(ctx, &httpclient.Request{
		Provider: Name,
		Stage:    types.StageSubmit,
		Method:   http.MethodPost,
		URL:      endpoint,
		Body:     body,
		Signer:   signer,
		Timeout:  p.cfg.Timeout,
	})
	if err != nil {
		return nil, diag.Annotate(err)
	}

	var env envelope
	if err := diag.Decode(resp.Body, &env); err != nil {
		return nil, err
	}
	if env.Code != SuccessCode {
		return nil, diag.Rejected(rejection(env), resp.Body)
	}
	var data submitData
	if len(env.Data) > 0 {
		if err := diag.Decode(env.Data, &data); err != nil {
			return nil, err
		}
	}
	if data.TaskID == "" {
		return nil, diag.Unexpected("response has no data.task_id", resp.Body)
	}

	pc, err := media.NewPollingContext(pollingContext{
		ReqKey:  payload.ReqKey,
		Region:  p.cfg.Region,
		Service: p.cfg.Service,
		Host:    p.host(),
	})
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "encode polling context").WithProvider(Name).WithCause(err)
	}

	p.logger.Debug("task queued", zap.String("task_id", data.TaskID), zap.String("req_key", payload.ReqKey))
	return &media.Submission{
		TaskID:         data.TaskID,
		Status:         media.StatusQueued,
		PollingContext: pc,
	}, nil
}

func rejection(env envelope) string {
	msg := strings.TrimSpace(env.Message)
	if msg == "" {
		msg = "request rejected"
	}
	return msg + " (code " + strconv.Itoa(env.Code) + ")"
}
