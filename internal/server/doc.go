// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP 服务器生命周期管理。

Manager 封装 net/http.Server，负责监听、后台服务、优雅关闭与
异步错误传播。Run 将生命周期绑定到 context：调用方用
signal.NotifyContext 取消 context 即可触发优雅关闭。
*/
package server
