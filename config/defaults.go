// =============================================================================
// 📦 MediaFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Media:     DefaultMediaConfig(),
		JobStore:  DefaultJobStoreConfig(),
		Redis:     DefaultRedisConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
	}
}

// DefaultMediaConfig 返回默认媒体生成配置
func DefaultMediaConfig() MediaConfig {
	return MediaConfig{
		Debug:      false,
		HTTP:       DefaultHTTPClientConfig(),
		Poller:     DefaultPollerConfig(),
		ImageFetch: DefaultImageFetchConfig(),
		Providers: ProvidersConfig{
			Fal:      ProviderConfig{Enabled: true},
			Jimeng:   ProviderConfig{Enabled: true},
			Kling:    ProviderConfig{Enabled: true},
			Seedream: ProviderConfig{Enabled: true, Timeout: 120 * time.Second},
		},
	}
}

// DefaultHTTPClientConfig 返回默认出站客户端配置
// 提交默认重试 1 次，状态查询重试 3 次，退避 1s, 2s, 4s...
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:          5 * time.Second,
		SubmitRetries:    1,
		StatusRetries:    3,
		BaseDelay:        time.Second,
		MaxDelay:         30 * time.Second,
		MaxResponseBytes: 32 << 20,
	}
}

// DefaultPollerConfig 返回默认轮询配置
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:             3 * time.Second,
		MaxWait:              5 * time.Minute,
		MaxConsecutiveErrors: 3,
	}
}

// DefaultImageFetchConfig 返回默认参考图下载配置
func DefaultImageFetchConfig() ImageFetchConfig {
	return ImageFetchConfig{
		Timeout:     30 * time.Second,
		MaxBytes:    20 << 20,
		Concurrency: 4,
	}
}

// DefaultJobStoreConfig 返回默认任务存储配置
func DefaultJobStoreConfig() JobStoreConfig {
	return JobStoreConfig{
		Driver:    "memory",
		KeyPrefix: "mediaflow:job:",
		TTL:       24 * time.Hour,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "mediaflow",
		SampleRate:   0.1,
	}
}
