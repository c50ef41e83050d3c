// Package api 说明 MediaFlow 的 HTTP API。
//
// 处理器位于 api/handlers，本包只携带 cmd/mediaflow 所提供路由的参考文档。
//
// # API 概览
//
// MediaFlow 在多个上游媒体提供商（fal、jimeng、kling、seedream）之上
// 提供统一的异步生成接口：
//   - POST /api/v1/generations 提交生成请求并返回任务
//   - GET /api/v1/generations/{id} 向提供商查询一次并返回任务
//   - GET /api/v1/providers 列出已注册的提供商
//   - GET /health、/healthz、/ready、/version 用于健康检查
//
// Prometheus 指标在独立监听地址的 /metrics 上提供。
//
// # 认证
//
// 配置了 API Key 时，除健康检查外的所有路由都需要 X-API-Key 请求头：
//
//	X-API-Key: your-api-key
//
// # 响应信封
//
// 所有 JSON 响应使用同一信封：
//
//	{
//	  "success": true,
//	  "data": {...},
//	  "timestamp": "2026-01-01T00:00:00Z",
//	  "request_id": "..."
//	}
//
// 失败时 success 为 false，并携带包含 code、message、provider、stage、
// retryable 的 error 对象。上游原始响应体不会返回给调用方。
//
// # Base URL
//
// API 默认 Base URL：
//
//	http://localhost:8080
package api
