// =============================================================================
// MediaFlow 主入口
// =============================================================================
// 多提供商异步图像/视频生成网关
//
// 使用方法:
//
//	mediaflow serve                                  # 启动网关
//	mediaflow serve --config config.yaml             # 指定配置文件
//	mediaflow generate --provider fal --prompt "..." # 提交并轮询到终态
//	mediaflow version                                # 显示版本信息
//	mediaflow health                                 # 健康检查
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/mediaflow/config"
	"github.com/BaSui01/mediaflow/internal/telemetry"
	"github.com/BaSui01/mediaflow/media"
	"github.com/BaSui01/mediaflow/media/factory"
	"github.com/BaSui01/mediaflow/types"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	var code int
	switch os.Args[1] {
	case "serve":
		code = runServe(os.Args[2:])
	case "generate":
		code = runGenerate(os.Args[2:], os.Stdout, os.Stderr)
	case "version":
		printVersion(os.Stdout)
	case "health":
		code = runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage(os.Stderr)
		code = 1
	}
	os.Exit(code)
}

// loadConfig 加载并验证配置
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting MediaFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, Version, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewServer(cfg, logger, otelProviders).Run(ctx); err != nil {
		logger.Error("server exited", zap.Error(err))
		return 1
	}

	logger.Info("MediaFlow stopped")
	return 0
}

// =============================================================================
// 🎨 generate 命令
// =============================================================================

// stringList 可重复的字符串参数
type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

func runGenerate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath  = fs.String("config", "", "Path to config file")
		provider    = fs.String("provider", "", "Provider id (fal, jimeng, kling, seedream)")
		model       = fs.String("model", "", "Model override")
		prompt      = fs.String("prompt", "", "Prompt text")
		mode        = fs.String("mode", "", "text-to-image, image-to-image or inpainting")
		mediaType   = fs.String("media-type", "", "image or video")
		aspectRatio = fs.String("aspect-ratio", "", "Aspect ratio, e.g. 16:9")
		mask        = fs.String("mask", "", "Mask image URL or data URI (inpainting)")
		strength    = fs.Float64("strength", 0, "Reference image strength 0..1 (0 uses the provider default)")
		numImages   = fs.Int("num-images", 0, "Number of images")
		negative    = fs.String("negative-prompt", "", "Negative prompt")
		seed        = fs.Int64("seed", 0, "Seed (0 for random)")
		duration    = fs.Int("duration", 0, "Video duration in seconds")
		maxWait     = fs.Duration("max-wait", 0, "Maximum polling time (0 uses the configured value)")
		refs        stringList
	)
	fs.Var(&refs, "ref", "Reference image URL or data URI (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if *maxWait > 0 {
		cfg.Media.Poller.MaxWait = *maxWait
	}

	logger := initLogger(config.LogConfig{Level: cfg.Log.Level, Format: "console", OutputPaths: []string{"stderr"}})
	defer func() { _ = logger.Sync() }()

	req := &media.GenerationRequest{
		Provider:        *provider,
		Model:           *model,
		Prompt:          *prompt,
		NegativePrompt:  *negative,
		Mode:            media.Mode(*mode),
		MediaType:       media.MediaType(*mediaType),
		AspectRatio:     *aspectRatio,
		ReferenceImages: refs,
		MaskImage:       *mask,
		NumImages:       *numImages,
		Seed:            *seed,
		Duration:        *duration,
	}
	if *strength > 0 {
		req.Strength = strength
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out, err := generate(ctx, cfg.Media, req, logger, func(o *media.Outcome) {
		fmt.Fprintf(stderr, "status: %s\n", o.Status)
	})
	if err != nil {
		if e, ok := types.AsError(err); ok {
			fmt.Fprintln(stderr, e.Summary())
		} else {
			fmt.Fprintln(stderr, err)
		}
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
	if out.Status == media.StatusFailed {
		return 1
	}
	return 0
}

// generate 提交请求并在需要时轮询到终态
func generate(ctx context.Context, cfg config.MediaConfig, req *media.GenerationRequest, logger *zap.Logger, onUpdate func(*media.Outcome)) (*media.Outcome, error) {
	registry, err := factory.NewRegistry(cfg, factory.Deps{Logger: logger})
	if err != nil {
		return nil, err
	}

	sub, err := registry.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	logger.Info("task submitted",
		zap.String("provider", req.Provider),
		zap.String("task_id", sub.TaskID),
		zap.String("status", string(sub.Status)))

	provider, err := registry.Get(req.Provider)
	if err != nil {
		return nil, err
	}
	return factory.NewPoller(cfg, logger).Wait(ctx, provider, sub, onUpdate)
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) int {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	path := fs.String("path", "/health", "Health check path (/health or /ready)")
	_ = fs.Parse(args)

	if err := checkHealth(&http.Client{Timeout: 5 * time.Second}, *addr+*path); err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	fmt.Println("OK")
	return 0
}

func checkHealth(client *http.Client, url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return errors.New("status " + resp.Status)
	}
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "MediaFlow %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `MediaFlow - multi-provider media generation gateway

Usage:
  mediaflow <command> [options]

Commands:
  serve      Start the HTTP gateway
  generate   Submit one generation and poll it to completion
  version    Show version information
  health     Check server health
  help       Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Options for 'generate':
  --provider <id>   fal, jimeng, kling or seedream
  --prompt <text>   Prompt text
  --mode <mode>     text-to-image, image-to-image or inpainting
  --ref <image>     Reference image (repeatable)
  --media-type      image or video

Examples:
  mediaflow serve --config /etc/mediaflow/config.yaml
  mediaflow generate --provider kling --prompt "a red fox in snow" --aspect-ratio 16:9
  mediaflow health --addr http://localhost:8080 --path /ready
  mediaflow version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
