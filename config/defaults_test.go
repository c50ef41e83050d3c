package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- DefaultConfig 汇总 ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	// 每个子配置都应非零值
	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, HTTPClientConfig{}, cfg.Media.HTTP)
	assert.NotEqual(t, PollerConfig{}, cfg.Media.Poller)
	assert.NotEqual(t, ImageFetchConfig{}, cfg.Media.ImageFetch)
	assert.NotEqual(t, JobStoreConfig{}, cfg.JobStore)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	assert.NoError(t, cfg.Validate())
}

// --- 各个 Default*Config 函数 ---

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.AllowQueryAPIKey)
	assert.Empty(t, cfg.APIKeys)
	assert.Equal(t, 20, cfg.RateLimitRPS)
	assert.Equal(t, 40, cfg.RateLimitBurst)
}

func TestDefaultHTTPClientConfig(t *testing.T) {
	cfg := DefaultHTTPClientConfig()
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 1, cfg.SubmitRetries)
	assert.Equal(t, 3, cfg.StatusRetries)
	assert.Equal(t, time.Second, cfg.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxDelay)
	assert.Equal(t, int64(32<<20), cfg.MaxResponseBytes)
}

func TestDefaultMediaConfig(t *testing.T) {
	cfg := DefaultMediaConfig()
	assert.False(t, cfg.Debug)
	for name, p := range cfg.Providers.All() {
		assert.True(t, p.Enabled, name)
	}
	assert.Equal(t, 120*time.Second, cfg.Providers.Seedream.Timeout)
	assert.Zero(t, cfg.Providers.Fal.Strength, "provider defaults apply when unset")
}

func TestDefaultPollerConfig(t *testing.T) {
	cfg := DefaultPollerConfig()
	assert.Equal(t, 3*time.Second, cfg.Interval)
	assert.Equal(t, 5*time.Minute, cfg.MaxWait)
	assert.Equal(t, 3, cfg.MaxConsecutiveErrors)
}

func TestDefaultImageFetchConfig(t *testing.T) {
	cfg := DefaultImageFetchConfig()
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, int64(20<<20), cfg.MaxBytes)
	assert.Equal(t, 4, cfg.Concurrency)
}

func TestDefaultJobStoreConfig(t *testing.T) {
	cfg := DefaultJobStoreConfig()
	assert.Equal(t, "memory", cfg.Driver)
	assert.Equal(t, "mediaflow:job:", cfg.KeyPrefix)
	assert.Equal(t, 24*time.Hour, cfg.TTL)
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Empty(t, cfg.Password)
	assert.Equal(t, 0, cfg.DB)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, 2, cfg.MinIdleConns)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.True(t, cfg.EnableCaller)
	assert.False(t, cfg.EnableStacktrace)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "mediaflow", cfg.ServiceName)
	assert.InDelta(t, 0.1, cfg.SampleRate, 0.001)
}
