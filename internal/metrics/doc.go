// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的网关指标采集能力，覆盖
入站 HTTP、出站提供商调用与生成任务三大维度。

# 概述

Collector 统一注册和记录 Prometheus 指标，通过 promauto.With
注册到调用方给定的 Registerer，测试可使用独立 Registry。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 提供商指标：每次出站尝试的计数与耗时、重试次数，按 provider/stage 分组。
    Collector 实现 httpclient.Observer，可直接注入共享客户端。
  - 任务指标：提交结果、状态转换、参考图下载结果。
*/
package metrics
