// =============================================================================
// 📦 MediaFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("MEDIAFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
//
// 提供商凭证不走 MEDIAFLOW_ 前缀，直接读取 FAL_KEY、VOLC_ACCESS_KEY 等原名变量；
// YAML 中的 media.credentials 仅作为兜底。
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 MediaFlow 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Media 媒体生成网关配置
	Media MediaConfig `yaml:"media" env:"MEDIA"`

	// JobStore 任务记录存储配置
	JobStore JobStoreConfig `yaml:"job_store" env:"JOB_STORE"`

	// Redis 配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// API 密钥列表，为空时不启用鉴权
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// 是否允许通过 query 参数传递 API Key
	AllowQueryAPIKey bool `yaml:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"`
	// 每个 IP 的每秒请求数
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求数
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// MediaConfig 媒体生成配置
type MediaConfig struct {
	// 是否打印脱敏后的提供商请求/响应
	Debug bool `yaml:"debug" env:"DEBUG"`
	// 出站 HTTP 客户端
	HTTP HTTPClientConfig `yaml:"http" env:"HTTP"`
	// 调用方轮询
	Poller PollerConfig `yaml:"poller" env:"POLLER"`
	// 参考图下载
	ImageFetch ImageFetchConfig `yaml:"image_fetch" env:"IMAGE_FETCH"`
	// 各提供商配置
	Providers ProvidersConfig `yaml:"providers" env:"PROVIDERS"`
	// 配置文件中的兜底凭证（环境变量优先），键为 FAL_KEY 等原名
	Credentials map[string]string `yaml:"credentials" env:"-"`
}

// HTTPClientConfig 出站 HTTP 客户端配置
type HTTPClientConfig struct {
	// 单次尝试超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 提交请求的重试次数
	SubmitRetries int `yaml:"submit_retries" env:"SUBMIT_RETRIES"`
	// 状态查询的重试次数
	StatusRetries int `yaml:"status_retries" env:"STATUS_RETRIES"`
	// 退避基准时长
	BaseDelay time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
	// 退避上限
	MaxDelay time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	// 响应体大小上限
	MaxResponseBytes int64 `yaml:"max_response_bytes" env:"MAX_RESPONSE_BYTES"`
}

// PollerConfig 轮询配置
type PollerConfig struct {
	// 轮询间隔
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
	// 最长等待时间
	MaxWait time.Duration `yaml:"max_wait" env:"MAX_WAIT"`
	// 连续失败上限
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors" env:"MAX_CONSECUTIVE_ERRORS"`
}

// ImageFetchConfig 参考图下载配置
type ImageFetchConfig struct {
	// 下载超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 单张图片大小上限
	MaxBytes int64 `yaml:"max_bytes" env:"MAX_BYTES"`
	// 并发下载数
	Concurrency int `yaml:"concurrency" env:"CONCURRENCY"`
}

// ProvidersConfig 各提供商配置
type ProvidersConfig struct {
	Fal      ProviderConfig `yaml:"fal" env:"FAL"`
	Jimeng   ProviderConfig `yaml:"jimeng" env:"JIMENG"`
	Kling    ProviderConfig `yaml:"kling" env:"KLING"`
	Seedream ProviderConfig `yaml:"seedream" env:"SEEDREAM"`
}

// ProviderConfig 单个提供商配置（扁平结构，各提供商只取自己用到的字段）
type ProviderConfig struct {
	// 是否注册该提供商
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 基础 URL，留空使用内置默认值
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 默认模型
	Model string `yaml:"model" env:"MODEL"`
	// 局部重绘模型（fal）
	InpaintingModel string `yaml:"inpainting_model" env:"INPAINTING_MODEL"`
	// 文生视频模型（fal、kling）
	VideoModel string `yaml:"video_model" env:"VIDEO_MODEL"`
	// 图生视频模型（fal）
	ImageToVideoModel string `yaml:"image_to_video_model" env:"IMAGE_TO_VIDEO_MODEL"`
	// 视频档位 std/pro（kling）
	VideoMode string `yaml:"video_mode" env:"VIDEO_MODE"`
	// 区域与服务名（jimeng）
	Region  string `yaml:"region" env:"REGION"`
	Service string `yaml:"service" env:"SERVICE"`
	// 图生图强度，0 表示使用提供商默认值
	Strength float64 `yaml:"strength" env:"STRENGTH"`
	// 是否添加水印（seedream）
	Watermark bool `yaml:"watermark" env:"WATERMARK"`
	// 单次尝试超时，0 表示使用客户端默认值
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// JobStoreConfig 任务记录存储配置
type JobStoreConfig struct {
	// 驱动: memory, redis
	Driver string `yaml:"driver" env:"DRIVER"`
	// Redis 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 记录保留时间
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "MEDIAFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := parts[:0]
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	// 验证服务器配置
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}

	// 验证出站客户端配置
	if c.Media.HTTP.Timeout <= 0 {
		errs = append(errs, "media.http.timeout must be positive")
	}
	if c.Media.HTTP.SubmitRetries < 0 || c.Media.HTTP.StatusRetries < 0 {
		errs = append(errs, "media.http retries must not be negative")
	}
	if c.Media.Poller.Interval <= 0 {
		errs = append(errs, "media.poller.interval must be positive")
	}

	// 验证提供商配置
	for name, p := range c.Media.Providers.All() {
		if p.Strength < 0 || p.Strength > 1 {
			errs = append(errs, fmt.Sprintf("media.providers.%s.strength must be between 0 and 1", name))
		}
	}

	// 验证任务存储
	switch c.JobStore.Driver {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for the redis job store")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown job_store driver %q", c.JobStore.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// All 按提供商 ID 返回全部配置
func (p ProvidersConfig) All() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"fal":      p.Fal,
		"jimeng":   p.Jimeng,
		"kling":    p.Kling,
		"seedream": p.Seedream,
	}
}
