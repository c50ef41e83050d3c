// Package config 提供 MediaFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → MEDIAFLOW_* 环境变量 的顺序合并，
// 启动后只读。提供商凭证由 media.CredentialResolver 从原名环境变量解析。
package config
