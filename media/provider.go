package media

import "context"

// Provider 由每个第三方后端的适配器实现。
//
// Generate 在任何网络调用之前校验凭证和输入，然后提交任务。
// 同步后端返回带图片的 COMPLETED 提交；
// 异步后端返回 QUEUED，PollingContext 足以在另一个进程中
// 继续轮询。
//
// CheckStatus 每次调用都重新签名，把原生状态映射为统一状态，
// 只在完成态提取资源 URL。提供商的判定
// （原生失败、拒绝、形状异常）以 FAILED 结果返回；未得到判定时
// （传输失败、重试耗尽的 429/5xx）才返回错误。
type Provider interface {
	// Name 返回用于分发的提供商 ID。
	Name() string

	// Generate 提交生成请求。
	Generate(ctx context.Context, req *GenerationRequest) (*Submission, error)

	// CheckStatus 查询已提交任务的状态。
	CheckStatus(ctx context.Context, taskID string, pc PollingContext) (*Outcome, error)
}
