// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 封装 go-redis 客户端，为任务存储等上层组件提供共享连接、
JSON 读写与乐观锁更新。

# 核心类型

  - Manager：持有 Redis 客户端与连接池配置，提供 Get/Set/SetNX/Ping
    基础操作、GetJSON 反序列化方法，以及基于 WATCH/MULTI 的 Update。
  - Config：地址、密码、连接池大小、默认 TTL 与健康检查间隔。

# 主要能力

  - 乐观锁更新：Update 在并发写入冲突时自动重试，回调可返回 ErrSkipWrite 放弃写入。
  - 健康检查：后台定时 Ping 检测，异常时通过 zap 日志告警，Close 时退出。
  - 错误语义：ErrCacheMiss、ErrClosed 哨兵错误与 IsCacheMiss 判断函数。
*/
package cache
