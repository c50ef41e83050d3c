package media

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/types"
)

// PollerConfig 配置调用方轮询循环。
type PollerConfig struct {
	// Interval 是两次 CheckStatus 之间的间隔。
	Interval time.Duration `json:"interval" yaml:"interval"`
	// MaxWait 限定总等待时间，为零时等到 ctx 结束。
	MaxWait time.Duration `json:"max_wait" yaml:"max_wait"`
	// MaxConsecutiveErrors 是放弃前可容忍的连续瞬时错误数。
	MaxConsecutiveErrors int `json:"max_consecutive_errors" yaml:"max_consecutive_errors"`
}

// DefaultPollerConfig 返回适合图片任务的默认值。
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:             3 * time.Second,
		MaxWait:              5 * time.Minute,
		MaxConsecutiveErrors: 3,
	}
}

// StatusChecker 是轮询器需要的 Provider 子集。
type StatusChecker interface {
	CheckStatus(ctx context.Context, taskID string, pc PollingContext) (*Outcome, error)
}

// Poller 按固定间隔调用 CheckStatus 直到终态。
// 不保存任务状态，每次 Wait 互相独立。
type Poller struct {
	cfg    PollerConfig
	logger *zap.Logger
}

// NewPoller 创建 Poller。
func NewPoller(cfg PollerConfig, logger *zap.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollerConfig().Interval
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{cfg: cfg, logger: logger.With(zap.String("component", "poller"))}
}

// Wait 对已是终态的提交立即返回，同步提供商不会触发 CheckStatus。
// 否则开始轮询；非瞬时错误立即返回。
// onUpdate 非 nil 时按顺序收到每个结果。
func (p *Poller) Wait(ctx context.Context, checker StatusChecker, sub *Submission, onUpdate func(*Outcome)) (*Outcome, error) {
	if sub == nil {
		return nil, types.NewValidationError("submission is nil")
	}
	if sub.Status.IsTerminal() {
		out := &Outcome{Status: sub.Status, Images: sub.Images}
		if sub.Status == StatusFailed {
			out.Error = "task failed at submission"
		}
		return out, nil
	}

	if p.cfg.MaxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.MaxWait)
		defer cancel()
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	current := sub.Status
	consecutiveErrs := 0
	for polls := 1; ; polls++ {
		select {
		case <-ctx.Done():
			return nil, types.NewError(types.ErrTransport, fmt.Sprintf("gave up waiting for task %s after %d polls", sub.TaskID, polls-1)).
				WithStage(types.StageStatus).WithCause(ctx.Err())
		case <-ticker.C:
		}

		out, err := checker.CheckStatus(ctx, sub.TaskID, sub.PollingContext)
		if err != nil {
			consecutiveErrs++
			p.logger.Warn("status check failed",
				zap.String("task_id", sub.TaskID),
				zap.Int("poll", polls),
				zap.Int("consecutive_errors", consecutiveErrs),
				zap.Error(err))
			if !transient(err) || consecutiveErrs >= p.cfg.MaxConsecutiveErrors {
				return nil, err
			}
			continue
		}
		consecutiveErrs = 0

		if !current.CanTransition(out.Status) {
			// 提供商报告更早的状态时，任务不回退。
			p.logger.Debug("ignoring backward status",
				zap.String("task_id", sub.TaskID),
				zap.String("from", string(current)),
				zap.String("to", string(out.Status)))
			continue
		}
		current = out.Status
		if onUpdate != nil {
			onUpdate(out)
		}
		if out.Status.IsTerminal() {
			p.logger.Debug("task reached terminal status",
				zap.String("task_id", sub.TaskID),
				zap.String("status", string(out.Status)),
				zap.Int("polls", polls),
				zap.Int("images", len(out.Images)))
			return out, nil
		}
	}
}

// transient 报告错误是否值得下一轮再查：传输失败，或标记为可重试的限流/服务端错误。
// 校验、配置等错误下一轮结果不会变化。
func transient(err error) bool {
	return types.IsErrorCode(err, types.ErrTransport) || types.IsRetryable(err)
}
