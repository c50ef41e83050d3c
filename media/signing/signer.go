// Package signing 实现媒体提供商使用的请求鉴权方案：
// 规范化 HMAC 请求签名、有时效的 JWT 令牌和静态密钥请求头。
// 火山引擎签名由 volcengine-go-sdk 的 base.Credentials 完成。
package signing

import (
	"net/http"
	"time"
)

// Signer 为出站请求鉴权。实现每次调用都重新计算
// 与时间相关的内容，不做缓存。
type Signer interface {
	// Sign 为 req 添加鉴权头。body 是将要发送的完整载荷
	// （无请求体时为 nil）。
	Sign(req *http.Request, body []byte) error

	// Identity 返回用于诊断的脱敏密钥标识。
	Identity() string
}

// Clock 返回当前时间，测试中冻结。
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

// FixedClock 返回始终报告 t 的 Clock。
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}
