package normalize

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/mediaflow/internal/tlsutil"
	"github.com/BaSui01/mediaflow/types"
)

// DefaultMIME 在下载的图片没有可用 Content-Type 时使用。
const DefaultMIME = "image/jpeg"

// RefKind 表示图片引用的提供方式。
type RefKind int

const (
	RefURL     RefKind = iota + 1 // 远程 http(s) URL
	RefDataURI                    // 内联 data: URI
)

// ImageRef 是解析后的图片引用。
type ImageRef struct {
	Kind RefKind
	URL  string // RefURL 时设置
	MIME string // RefDataURI 时设置
	Data string // RefDataURI 的 base64 载荷
}

// ParseRef 对调用方给出的引用分类。
func ParseRef(ref string) (ImageRef, error) {
	ref = strings.TrimSpace(ref)
	lower := strings.ToLower(ref)
	switch {
	case ref == "":
		return ImageRef{}, types.NewValidationError("image reference is empty")
	case strings.HasPrefix(lower, "data:"):
		meta, payload, ok := strings.Cut(ref[len("data:"):], ",")
		if !ok || payload == "" {
			return ImageRef{}, types.NewValidationError("malformed data URI")
		}
		mt, isBase64 := strings.CutSuffix(meta, ";base64")
		if !isBase64 {
			return ImageRef{}, types.NewValidationError("data URI must be base64 encoded")
		}
		if mt == "" {
			mt = DefaultMIME
		}
		return ImageRef{Kind: RefDataURI, MIME: mt, Data: payload}, nil
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return ImageRef{Kind: RefURL, URL: ref}, nil
	default:
		return ImageRef{}, types.NewValidationError("image reference must be an http(s) URL or a data URI")
	}
}

// IsURL 报告 ref 是否为远程 URL。
func IsURL(ref string) bool {
	r, err := ParseRef(ref)
	return err == nil && r.Kind == RefURL
}

// Encoded 是内联图片。
type Encoded struct {
	MIME string
	Data string // base64，不含 data: 前缀
}

// DataURI 把图片渲染为 data: URI。
func (e Encoded) DataURI() string {
	return "data:" + e.MIME + ";base64," + e.Data
}

// CapReferences 最多保留 n 个引用，多余的丢弃；n <= 0 时全部保留。
func CapReferences(refs []string, n int) []string {
	if n <= 0 || len(refs) <= n {
		return refs
	}
	return refs[:n]
}

// Fetcher 把远程图片取回为 base64。
type Fetcher interface {
	FetchBase64(ctx context.Context, url string) (Encoded, error)
}

// HTTPFetcher 把远程图片流式写入 base64 编码器。
type HTTPFetcher struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
	logger   *zap.Logger
	onFetch  func(err error)
}

// FetcherOption 配置 HTTPFetcher。
type FetcherOption func(*HTTPFetcher)

// WithFetchClient 设置 *http.Client。
func WithFetchClient(c *http.Client) FetcherOption {
	return func(f *HTTPFetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithFetchTimeout 限定单次下载耗时。
func WithFetchTimeout(d time.Duration) FetcherOption {
	return func(f *HTTPFetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithMaxImageBytes 限定下载图片的大小。
func WithMaxImageBytes(n int64) FetcherOption {
	return func(f *HTTPFetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// WithFetchLogger 设置日志器。
func WithFetchLogger(l *zap.Logger) FetcherOption {
	return func(f *HTTPFetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithFetchHook 注册回调，每次下载结束调用一次。
func WithFetchHook(fn func(err error)) FetcherOption {
	return func(f *HTTPFetcher) { f.onFetch = fn }
}

// NewHTTPFetcher 创建 HTTPFetcher，默认超时 30s，上限 20 MiB。
func NewHTTPFetcher(opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client:   tlsutil.SecureHTTPClient(0),
		timeout:  30 * time.Second,
		maxBytes: 20 << 20,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With(zap.String("component", "image_fetcher"))
	return f
}

// FetchBase64 实现 Fetcher。所有失败都是 stage 为 image_fetch 的 TRANSPORT 错误。
func (f *HTTPFetcher) FetchBase64(ctx context.Context, url string) (Encoded, error) {
	enc, err := f.fetch(ctx, url)
	if f.onFetch != nil {
		f.onFetch(err)
	}
	return enc, err
}

func (f *HTTPFetcher) fetch(ctx context.Context, url string) (Encoded, error) {
	fail := func(msg string, cause error) *types.Error {
		return types.NewError(types.ErrTransport, msg).
			WithStage(types.StageImageFetch).WithEndpoint(url).WithCause(cause)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Encoded{}, fail("invalid image url", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return Encoded{}, fail("could not fetch image", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Encoded{}, fail(fmt.Sprintf("image fetch returned http %d", resp.StatusCode), nil).
			WithHTTPStatus(resp.StatusCode)
	}

	var sb strings.Builder
	enc := base64.NewEncoder(base64.StdEncoding, &sb)
	n, err := io.Copy(enc, io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return Encoded{}, fail("reading image failed", err)
	}
	if err := enc.Close(); err != nil {
		return Encoded{}, fail("encoding image failed", err)
	}
	if n == 0 {
		return Encoded{}, fail("image is empty", nil)
	}
	if n > f.maxBytes {
		return Encoded{}, fail(fmt.Sprintf("image exceeds %d bytes", f.maxBytes), nil)
	}

	mt := contentType(resp.Header.Get("Content-Type"))
	f.logger.Debug("fetched reference image",
		zap.String("url", url),
		zap.String("content_type", mt),
		zap.Int64("bytes", n))
	return Encoded{MIME: mt, Data: sb.String()}, nil
}

func contentType(header string) string {
	mt, _, err := mime.ParseMediaType(header)
	if err != nil || mt == "" || mt == "application/octet-stream" || mt == "binary/octet-stream" {
		return DefaultMIME
	}
	return mt
}

// Resolver 把引用转换为提供商接受的形式。
type Resolver struct {
	fetcher     Fetcher
	concurrency int
}

// NewResolver 创建 Resolver，fetcher 为 nil 时使用 NewHTTPFetcher()。
func NewResolver(f Fetcher) *Resolver {
	if f == nil {
		f = NewHTTPFetcher()
	}
	return &Resolver{fetcher: f, concurrency: 4}
}

// WithConcurrency 限定一次 ToBase64 调用的并行下载数。
func (r *Resolver) WithConcurrency(n int) *Resolver {
	if n > 0 {
		r.concurrency = n
	}
	return r
}

// ToBase64One 内联单个引用，是 URL 时先下载。
func (r *Resolver) ToBase64One(ctx context.Context, ref string) (Encoded, error) {
	parsed, err := ParseRef(ref)
	if err != nil {
		return Encoded{}, err
	}
	if parsed.Kind == RefDataURI {
		return Encoded{MIME: parsed.MIME, Data: parsed.Data}, nil
	}
	return r.fetcher.FetchBase64(ctx, parsed.URL)
}

// ToBase64 内联所有引用。URL 并发下载，结果保持输入顺序，
// 首个失败会取消其余下载。
func (r *Resolver) ToBase64(ctx context.Context, refs []string) ([]Encoded, error) {
	out := make([]Encoded, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			enc, err := r.ToBase64One(gctx, ref)
			if err != nil {
				return err
			}
			out[i] = enc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Passthrough 为原样接受 URL 和 data URI 的提供商校验引用。
func Passthrough(refs []string) ([]string, error) {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		if _, err := ParseRef(ref); err != nil {
			return nil, err
		}
		out = append(out, strings.TrimSpace(ref))
	}
	return out, nil
}
