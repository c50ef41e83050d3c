// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 tlsutil 提供出站连接的 TLS 加固配置。

media/httpclient 与 media/normalize 的默认 *http.Client 均由
SecureHTTPClient 构建：TLS 1.2 起步、仅 AEAD 套件、按主机复用空闲连接，
并遵循 HTTPS_PROXY 等代理环境变量。
*/
package tlsutil
