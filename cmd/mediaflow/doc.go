// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 MediaFlow 网关的可执行入口。

# 子命令

  - serve：启动 HTTP 网关（API 端口 + 独立 Prometheus 指标端口）
  - generate：提交一次生成并用 media.Poller 轮询到终态，结果以 JSON 输出
  - version：构建信息（Version、BuildTime、GitCommit 通过 ldflags 注入）
  - health：探测运行中网关的 /health 或 /ready

# 中间件链

Recovery → RequestID → OTelTracing → MetricsMiddleware → SecurityHeaders →
RequestLogger → RateLimiter（基于 IP）→ APIKeyAuth（X-API-Key / query 参数）。

收到 SIGINT/SIGTERM 后两个服务器在 shutdown_timeout 内优雅关闭，
随后释放任务存储、Redis 连接与遥测导出器。
*/
package main
