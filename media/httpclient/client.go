// Package httpclient 是所有提供商适配器共用的传输层：单次请求超时有界，
// 仅对瞬时失败做指数退避重试，调试日志对密钥脱敏，
// 每次尝试对应一个客户端 span。
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/internal/tlsutil"
	"github.com/BaSui01/mediaflow/media/retry"
	"github.com/BaSui01/mediaflow/media/signing"
	"github.com/BaSui01/mediaflow/types"
)

const instrumentationName = "github.com/BaSui01/mediaflow/media/httpclient"

// Config 配置 Client。
type Config struct {
	// Timeout 限定单次尝试的耗时，含建连。
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// SubmitRetries 是非幂等提交的重试次数。
	SubmitRetries int `json:"submit_retries" yaml:"submit_retries"`
	// StatusRetries 是幂等状态查询的重试次数。
	StatusRetries int `json:"status_retries" yaml:"status_retries"`
	// BaseDelay 是首次重试前的等待，之后每次翻倍。
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay"`
	// MaxDelay 是单次等待的上限。
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay"`
	// MaxResponseBytes 限定读取响应体的字节数。
	MaxResponseBytes int64 `json:"max_response_bytes" yaml:"max_response_bytes"`
	// Debug 记录每对请求/响应，密钥脱敏。
	Debug bool `json:"debug" yaml:"debug"`
}

// DefaultConfig 返回传输层默认配置。
func DefaultConfig() Config {
	return Config{
		Timeout:          5 * time.Second,
		SubmitRetries:    1,
		StatusRetries:    3,
		BaseDelay:        1 * time.Second,
		MaxDelay:         30 * time.Second,
		MaxResponseBytes: 32 << 20,
	}
}

// Observer 每次尝试接收一条观测，由 internal/metrics 实现。
type Observer interface {
	ObserveAttempt(provider string, stage types.Stage, statusCode int, duration time.Duration, err error)
	ObserveRetry(provider string, stage types.Stage)
}

type nopObserver struct{}

func (nopObserver) ObserveAttempt(string, types.Stage, int, time.Duration, error) {}
func (nopObserver) ObserveRetry(string, types.Stage)                               {}

// Request 描述一次逻辑调用，每次尝试都重新签名。
type Request struct {
	Provider string
	Stage    types.Stage
	Method   string
	URL      string
	Header   http.Header
	Body     []byte
	Signer   signing.Signer

	// Idempotent 允许对超时和传输中途的网络失败重试。
	// GET 和 HEAD 总是幂等。
	Idempotent bool
	// Timeout 覆盖单次尝试超时。
	Timeout time.Duration
	// MaxRetries 非 nil 时覆盖该阶段的重试次数。
	MaxRetries *int
}

func (r *Request) idempotent() bool {
	return r.Idempotent || r.Method == http.MethodGet || r.Method == http.MethodHead
}

// Retries 是 Request.MaxRetries 的辅助函数。
func Retries(n int) *int {
	return &n
}

// Response 是已完整读取的 2xx 响应。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// Option 配置 Client。
type Option func(*Client)

// WithHTTPClient 替换底层 *http.Client。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger 设置日志器。
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver 设置指标观测器。
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithTracerProvider 设置 tracer provider，未设置时使用全局 provider。
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// Client 执行提供商调用，可并发使用，不保存任务状态。
type Client struct {
	cfg      Config
	http     *http.Client
	logger   *zap.Logger
	observer Observer
	tracer   trace.Tracer
}

// New 创建 Client。零值配置项取默认值；重试次数为负时关闭重试。
func New(cfg Config, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = def.MaxResponseBytes
	}
	if cfg.SubmitRetries < 0 {
		cfg.SubmitRetries = 0
	}
	if cfg.StatusRetries < 0 {
		cfg.StatusRetries = 0
	}

	c := &Client{
		cfg:      cfg,
		http:     tlsutil.SecureHTTPClient(0),
		logger:   zap.NewNop(),
		observer: nopObserver{},
		tracer:   otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "httpclient"))
	return c
}

// Config 返回生效的配置。
func (c *Client) Config() Config {
	return c.cfg
}

func (c *Client) retriesFor(req *Request) int {
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			return 0
		}
		return *req.MaxRetries
	}
	if req.Stage == types.StageSubmit {
		return c.cfg.SubmitRetries
	}
	return c.cfg.StatusRetries
}

// Do 执行 req。非 2xx 响应返回带状态码和原始响应体的 PROVIDER_REJECTED 错误，
// 网络失败和超时返回 TRANSPORT 错误。
// 重试用尽时返回最后一次尝试的错误。
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || req.URL == "" {
		return nil, types.NewValidationError("http request has no url")
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	attempts := 0
	retryer := retry.NewBackoffRetryer(&retry.Policy{
		MaxRetries:   c.retriesFor(req),
		InitialDelay: c.cfg.BaseDelay,
		MaxDelay:     c.cfg.MaxDelay,
		Multiplier:   2.0,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			c.observer.ObserveRetry(req.Provider, req.Stage)
			c.logger.Debug("retrying provider call",
				zap.String("provider", req.Provider),
				zap.String("stage", string(req.Stage)),
				zap.Int("retry", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
		},
	}, c.logger)

	resp, err := retry.DoWithResultTyped[*Response](retryer, ctx, func() (*Response, error) {
		attempts++
		return c.attempt(ctx, req)
	})
	if err != nil {
		if e, ok := types.AsError(err); ok {
			return nil, e
		}
		return nil, types.NewError(types.ErrTransport, "request abandoned").
			WithProvider(req.Provider).WithStage(req.Stage).WithEndpoint(req.URL).WithCause(err)
	}
	resp.Attempts = attempts
	return resp, nil
}

func (c *Client) attempt(parent context.Context, req *Request) (*Response, error) {
	timeout := c.cfg.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "provider "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(req.Method),
			semconv.URLFull(req.URL),
			attribute.String("media.provider", req.Provider),
			attribute.String("media.stage", string(req.Stage)),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := c.send(ctx, parent, req)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if e, ok := types.AsError(err); ok && e.HTTPStatus != 0 {
		status = e.HTTPStatus
	}
	c.observer.ObserveAttempt(req.Provider, req.Stage, status, time.Since(start), err)

	if status != 0 {
		span.SetAttributes(semconv.HTTPResponseStatusCode(status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

func (c *Client) send(ctx, parent context.Context, req *Request) (*Response, error) {
	newErr := func(code types.ErrorCode, msg string) *types.Error {
		return types.NewError(code, msg).WithProvider(req.Provider).WithStage(req.Stage).WithEndpoint(req.URL)
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, newErr(types.ErrValidation, "invalid request url").WithCause(err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Signer != nil {
		if err := req.Signer.Sign(httpReq, req.Body); err != nil {
			return nil, newErr(types.ErrConfiguration, "could not sign request").WithCause(err)
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	c.logRequest(req, httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, c.classify(parent, req, err, newErr)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseBytes))
	if err != nil {
		return nil, newErr(types.ErrTransport, "reading response body failed").
			WithHTTPStatus(resp.StatusCode).WithCause(err).
			WithRetryable(req.idempotent() && parent.Err() == nil)
	}
	c.logResponse(req, resp, data)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newErr(types.ErrProviderRejected, ErrorMessage(resp.StatusCode, data)).
			WithHTTPStatus(resp.StatusCode).
			WithRawBody(data).
			WithRetryable(resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: data}, nil
}

// classify 把传输失败转为 TRANSPORT 错误。建连失败总是可重试（请求未到达提供商）；
// 超时和其他网络失败仅在调用幂等时可重试。
// 调用方 context 已取消时不再重试。
func (c *Client) classify(parent context.Context, req *Request, err error, newErr func(types.ErrorCode, string) *types.Error) *types.Error {
	if parent.Err() != nil {
		return newErr(types.ErrTransport, "request cancelled").WithCause(err)
	}

	var opErr *net.OpError
	dial := errors.As(err, &opErr) && opErr.Op == "dial"
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		dial = true
	}

	timeout := errors.Is(err, context.DeadlineExceeded)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		timeout = true
	}

	msg := "network failure"
	switch {
	case dial:
		msg = "could not connect"
	case timeout:
		msg = fmt.Sprintf("timed out after %s", c.timeoutFor(req))
	}
	return newErr(types.ErrTransport, msg).WithCause(err).WithRetryable(dial || req.idempotent())
}

func (c *Client) timeoutFor(req *Request) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	return c.cfg.Timeout
}
