// Package retry 为提供商调用提供有上限的指数退避重试。
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/types"
)

// Policy 定义调用的重试方式。
type Policy struct {
	MaxRetries   int           // 首次尝试之后的重试次数，0 表示不重试
	InitialDelay time.Duration // 首次重试前的等待
	MaxDelay     time.Duration // 单次等待上限
	Multiplier   float64       // 每次重试之间的增长倍数
	Jitter       bool          // 等待时间 ±25% 抖动

	// ShouldRetry 判定错误是否重试，为 nil 时使用 types.IsRetryable。
	ShouldRetry func(err error) bool
	// OnRetry 在每次等待前调用。
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy 两次尝试之间依次等待 1s、2s、4s...
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// SubmitPolicy 用于非幂等的任务提交。
func SubmitPolicy() *Policy {
	p := DefaultPolicy()
	p.MaxRetries = 1
	return p
}

// StatusPolicy 用于幂等的状态查询。
func StatusPolicy() *Policy {
	return DefaultPolicy()
}

// Retryer 按重试策略执行函数。
type Retryer interface {
	// Do 执行 fn，遇到可重试错误时重试。
	Do(ctx context.Context, fn func() error) error

	// DoWithResult 执行 fn 并返回结果，遇到可重试错误时重试。
	DoWithResult(ctx context.Context, fn func() (any, error)) (any, error)
}

type backoffRetryer struct {
	policy Policy
	logger *zap.Logger
}

// NewBackoffRetryer 创建指数退避 Retryer，策略按值复制。
func NewBackoffRetryer(policy *Policy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultPolicy()
	}
	p := *policy
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 1 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	if p.ShouldRetry == nil {
		p.ShouldRetry = types.IsRetryable
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &backoffRetryer{
		policy: p,
		logger: logger.With(zap.String("component", "retry")),
	}
}

// Do 实现 Retryer.Do。
func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	_, err := r.DoWithResult(ctx, func() (any, error) {
		return nil, fn()
	})
	return err
}

// DoWithResult 实现 Retryer.DoWithResult。
func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	var lastErr error
	var result any

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.calculateDelay(attempt)

			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-timer.C:
			}
		}

		result, lastErr = fn()
		if lastErr == nil {
			if attempt > 0 {
				r.logger.Debug("retry succeeded", zap.Int("attempt", attempt))
			}
			return result, nil
		}

		if !r.policy.ShouldRetry(lastErr) {
			return nil, lastErr
		}
		if attempt >= r.policy.MaxRetries {
			break
		}
	}

	r.logger.Warn("retries exhausted",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)

	return nil, fmt.Errorf("giving up after %d attempts: %w", r.policy.MaxRetries+1, lastErr)
}

// calculateDelay 返回 initial*multiplier^(attempt-1)，带上限，可选抖动。
func (r *backoffRetryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))

	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}

	if r.policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	if delay < float64(r.policy.InitialDelay) {
		delay = float64(r.policy.InitialDelay)
	}

	return time.Duration(delay)
}
