// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 MediaFlow HTTP API 的请求处理器实现。

# 核心类型

  - GenerationHandler：提交生成任务、查询任务（按需轮询一次）、列出提供商
  - HealthHandler：服务健康检查（/health, /healthz, /ready, /version）
  - Response：统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo：面向调用方的错误摘要，不含原始响应体
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码与响应大小

# 错误映射

VALIDATION→400，CONFIGURATION→503，TRANSPORT→504，
PROVIDER_REJECTED/UNEXPECTED_RESPONSE→502，未知任务→404。
*/
package handlers
