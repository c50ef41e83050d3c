// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，为网关的入站请求
// 和出站提供商调用提供 TracerProvider 与 MeterProvider。
// 遥测禁用时返回 noop 实现，不连接任何外部服务。
package telemetry
