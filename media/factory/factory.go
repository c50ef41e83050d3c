// Package factory 根据配置构建提供商注册表及其共用组件。
// 它导入每个适配器包并把提供商 ID 映射到构造函数，
// 使 media 包本身不依赖具体适配器。
package factory

import (
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/config"
	"github.com/BaSui01/mediaflow/media"
	"github.com/BaSui01/mediaflow/media/httpclient"
	"github.com/BaSui01/mediaflow/media/normalize"
	"github.com/BaSui01/mediaflow/media/providers/fal"
	"github.com/BaSui01/mediaflow/media/providers/jimeng"
	"github.com/BaSui01/mediaflow/media/providers/kling"
	"github.com/BaSui01/mediaflow/media/providers/seedream"
)

// Deps 是所有适配器共享的进程级协作者。
type Deps struct {
	Logger         *zap.Logger
	Observer       httpclient.Observer
	TracerProvider trace.TracerProvider
	// Credentials 覆盖默认查找顺序（先环境变量，再配置文件的
	// media.credentials）。
	Credentials media.CredentialStore
	// FetchHook 观测每次参考图下载。
	FetchHook func(err error)
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// CredentialStore 返回适配器解析凭证所用的 store。
func CredentialStore(cfg config.MediaConfig, d Deps) media.CredentialStore {
	if d.Credentials != nil {
		return d.Credentials
	}
	return media.ChainStore{media.EnvStore{}, media.MapStore(cfg.Credentials)}
}

// NewClient 构建共用的出站客户端。
func NewClient(cfg config.MediaConfig, d Deps) *httpclient.Client {
	opts := []httpclient.Option{httpclient.WithLogger(d.logger())}
	if d.Observer != nil {
		opts = append(opts, httpclient.WithObserver(d.Observer))
	}
	if d.TracerProvider != nil {
		opts = append(opts, httpclient.WithTracerProvider(d.TracerProvider))
	}
	return httpclient.New(httpclient.Config{
		Timeout:          cfg.HTTP.Timeout,
		SubmitRetries:    cfg.HTTP.SubmitRetries,
		StatusRetries:    cfg.HTTP.StatusRetries,
		BaseDelay:        cfg.HTTP.BaseDelay,
		MaxDelay:         cfg.HTTP.MaxDelay,
		MaxResponseBytes: cfg.HTTP.MaxResponseBytes,
		Debug:            cfg.Debug,
	}, opts...)
}

// NewResolver 构建参考图解析器。
func NewResolver(cfg config.MediaConfig, d Deps) *normalize.Resolver {
	fetcher := normalize.NewHTTPFetcher(
		normalize.WithFetchTimeout(cfg.ImageFetch.Timeout),
		normalize.WithMaxImageBytes(cfg.ImageFetch.MaxBytes),
		normalize.WithFetchLogger(d.logger()),
		normalize.WithFetchHook(d.FetchHook),
	)
	return normalize.NewResolver(fetcher).WithConcurrency(cfg.ImageFetch.Concurrency)
}

// NewPoller 构建调用方轮询器。
func NewPoller(cfg config.MediaConfig, logger *zap.Logger) *media.Poller {
	return media.NewPoller(media.PollerConfig{
		Interval:             cfg.Poller.Interval,
		MaxWait:              cfg.Poller.MaxWait,
		MaxConsecutiveErrors: cfg.Poller.MaxConsecutiveErrors,
	}, logger)
}

// Names 列出工厂能构建的所有提供商 ID。
func Names() []string {
	names := []string{fal.Name, jimeng.Name, kling.Name, seedream.Name}
	sort.Strings(names)
	return names
}

// CredentialNames 返回提供商需要的凭证名。
func CredentialNames(name string) ([]string, error) {
	switch name {
	case fal.Name:
		return fal.Credentials, nil
	case jimeng.Name:
		return jimeng.Credentials, nil
	case kling.Name:
		return kling.Credentials, nil
	case seedream.Name:
		return seedream.Credentials, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// NewProvider 按 ID 构建一个适配器。
func NewProvider(name string, pc config.ProviderConfig, creds media.Credentials, client *httpclient.Client, resolver *normalize.Resolver, logger *zap.Logger) (media.Provider, error) {
	switch name {
	case fal.Name:
		return fal.New(fal.Config{
			BaseURL:           pc.BaseURL,
			Model:             pc.Model,
			InpaintingModel:   pc.InpaintingModel,
			VideoModel:        pc.VideoModel,
			ImageToVideoModel: pc.ImageToVideoModel,
			Strength:          pc.Strength,
			Timeout:           pc.Timeout,
		}, creds, client, logger), nil

	case jimeng.Name:
		return jimeng.New(jimeng.Config{
			BaseURL:  pc.BaseURL,
			Region:   pc.Region,
			Service:  pc.Service,
			Strength: pc.Strength,
			Timeout:  pc.Timeout,
		}, creds, client, logger, jimeng.WithResolver(resolver)), nil

	case kling.Name:
		return kling.New(kling.Config{
			BaseURL:    pc.BaseURL,
			ImageModel: pc.Model,
			VideoModel: pc.VideoModel,
			VideoMode:  pc.VideoMode,
			Strength:   pc.Strength,
			Timeout:    pc.Timeout,
		}, creds, client, logger), nil

	case seedream.Name:
		return seedream.New(seedream.Config{
			BaseURL:   pc.BaseURL,
			Model:     pc.Model,
			Watermark: pc.Watermark,
			Timeout:   pc.Timeout,
		}, creds, client, logger), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// NewRegistry 注册所有启用的提供商。缺少凭证的提供商仍会注册，
// 其调用返回列出缺失项的 CONFIGURATION 错误。
func NewRegistry(cfg config.MediaConfig, d Deps) (*media.Registry, error) {
	logger := d.logger().With(zap.String("component", "factory"))
	client := NewClient(cfg, d)
	resolver := NewResolver(cfg, d)
	creds := media.NewCredentialResolver(CredentialStore(cfg, d))

	registry := media.NewRegistry()
	all := cfg.Providers.All()
	for _, name := range Names() {
		pc := all[name]
		if !pc.Enabled {
			logger.Debug("provider disabled", zap.String("provider", name))
			continue
		}
		required, err := CredentialNames(name)
		if err != nil {
			return nil, err
		}
		resolved := creds.Resolve(name, required...)
		if missing := resolved.Missing(); len(missing) > 0 {
			logger.Warn("provider registered without credentials",
				zap.String("provider", name),
				zap.Strings("missing", missing))
		}
		p, err := NewProvider(name, pc, resolved, client, resolver, d.logger())
		if err != nil {
			return nil, err
		}
		registry.Register(p)
	}

	logger.Info("provider registry built", zap.Strings("providers", registry.List()))
	return registry, nil
}
