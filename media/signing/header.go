package signing

import (
	"errors"
	"net/http"
)

// HeaderSigner 设置静态密钥请求头，如 "Authorization: Bearer <key>"
// 或 "Authorization: Key <key>"。
type HeaderSigner struct {
	header string
	scheme string
	key    string
}

// NewBearerSigner 以 "Authorization: Bearer <key>" 鉴权。
func NewBearerSigner(key string) *HeaderSigner {
	return &HeaderSigner{header: "Authorization", scheme: "Bearer", key: key}
}

// NewKeySigner 以 "Authorization: Key <key>" 鉴权。
func NewKeySigner(key string) *HeaderSigner {
	return &HeaderSigner{header: "Authorization", scheme: "Key", key: key}
}

// NewHeaderSigner 以任意请求头鉴权，scheme 为空时只发送密钥本身。
func NewHeaderSigner(header, scheme, key string) *HeaderSigner {
	return &HeaderSigner{header: header, scheme: scheme, key: key}
}

// Identity 实现 Signer。
func (s *HeaderSigner) Identity() string {
	return Mask(s.key)
}

// Sign 实现 Signer。
func (s *HeaderSigner) Sign(req *http.Request, _ []byte) error {
	if s.key == "" {
		return errors.New("signing: api key is required")
	}
	v := s.key
	if s.scheme != "" {
		v = s.scheme + " " + s.key
	}
	req.Header.Set(s.header, v)
	return nil
}
