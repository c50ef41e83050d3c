// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 MediaFlow 网关的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 media、api、cmd 等上层
模块提供统一的错误契约。

# 核心类型

  - Error / ErrorCode：结构化错误体系：CONFIGURATION、VALIDATION、
    TRANSPORT、PROVIDER_REJECTED、UNEXPECTED_RESPONSE
  - Stage：任务阶段：submit、status、image_fetch
  - WithRequestID / WithJobID：在 context 中传递请求 ID 与任务 ID，供日志关联

# 主要能力

  - 诊断信息打包：HTTP 状态码、调用端点、脱敏凭据、请求关键字段、原始响应体
  - 错误工具链：AsError / IsErrorCode / IsRetryable / GetErrorCode
  - 面向用户的 Summary()，不包含原始响应与请求内容
  - zap 结构化日志：实现 zapcore.ObjectMarshaler
*/
package types
