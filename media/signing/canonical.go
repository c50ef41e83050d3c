package signing

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/volcengine/volcengine-go-sdk/volcengine/base"
)

const (
	canonicalAlgorithm = "HMAC-SHA256"
	canonicalTerminal  = "request"
	xDateLayout        = "20060102T150405Z"
	shortDateLayout    = "20060102"
)

// CanonicalConfig 配置 CanonicalSigner。
type CanonicalConfig struct {
	AccessKey string
	SecretKey string
	Service   string // 如 "cv"
	Region    string // 如 "cn-north-1"
	Clock     Clock
}

// CanonicalSigner 对请求做火山引擎风格的 SigV4 签名。
// 签名覆盖方法、路径、规范化查询串、签名头和请求体摘要，作用域为 日期/区域/服务。
type CanonicalSigner struct {
	cfg CanonicalConfig
}

// NewCanonicalSigner 创建 CanonicalSigner。
func NewCanonicalSigner(cfg CanonicalConfig) *CanonicalSigner {
	return &CanonicalSigner{cfg: cfg}
}

// Identity 实现 Signer。
func (s *CanonicalSigner) Identity() string {
	return Mask(s.cfg.AccessKey)
}

// CanonicalInput 是签名依赖的全部输入。
type CanonicalInput struct {
	Method      string
	Host        string
	Path        string
	Query       string // 原始查询串，顺序不限
	ContentType string
	Body        []byte
	Time        time.Time
}

// CanonicalResult 是签名产出的请求头集合。
type CanonicalResult struct {
	XDate         string
	ContentSHA256 string
	Authorization string
	Signature     string
}

// Headers 返回需要写入请求的头。
func (r CanonicalResult) Headers() map[string]string {
	return map[string]string{
		"X-Date":           r.XDate,
		"X-Content-Sha256": r.ContentSHA256,
		"Authorization":    r.Authorization,
	}
}

// Sign 实现 Signer。签名由火山引擎 SDK 的 base.Credentials 完成，X-Date 取自注入的时钟。
func (s *CanonicalSigner) Sign(req *http.Request, body []byte) error {
	if req == nil || req.URL == nil {
		return errors.New("signing: request has no url")
	}
	if err := s.validate(); err != nil {
		return err
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Host = req.URL.Host
	req.Header.Set("X-Date", s.cfg.Clock.now().UTC().Format(xDateLayout))
	if body != nil {
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.ContentLength = int64(len(body))
	}

	base.Credentials{
		AccessKeyID:     s.cfg.AccessKey,
		SecretAccessKey: s.cfg.SecretKey,
		Service:         s.cfg.Service,
		Region:          s.cfg.Region,
	}.Sign(req)
	return nil
}

func (s *CanonicalSigner) validate() error {
	if s.cfg.AccessKey == "" || s.cfg.SecretKey == "" {
		return errors.New("signing: access key and secret key are required")
	}
	if s.cfg.Service == "" || s.cfg.Region == "" {
		return errors.New("signing: service and region are required")
	}
	return nil
}

// Compute 按固定输入推导签名头，只依赖输入和密钥对。
// 用于冻结时钟的黄金值校验，以及测试桩在服务端复算签名。
func (s *CanonicalSigner) Compute(in CanonicalInput) (CanonicalResult, error) {
	if err := s.validate(); err != nil {
		return CanonicalResult{}, err
	}

	t := in.Time.UTC()
	xDate := t.Format(xDateLayout)
	shortDate := t.Format(shortDateLayout)
	payloadHash := hashHex(in.Body)

	path := in.Path
	if path == "" {
		path = "/"
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	signedHeaders := "content-type;host;x-content-sha256;x-date"
	canonicalHeaders := "content-type:" + strings.TrimSpace(contentType) + "\n" +
		"host:" + strings.TrimSpace(in.Host) + "\n" +
		"x-content-sha256:" + payloadHash + "\n" +
		"x-date:" + xDate + "\n"

	canonicalRequest := strings.Join([]string{
		strings.ToUpper(in.Method),
		path,
		CanonicalQuery(in.Query),
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	scope := strings.Join([]string{shortDate, s.cfg.Region, s.cfg.Service, canonicalTerminal}, "/")
	stringToSign := strings.Join([]string{
		canonicalAlgorithm,
		xDate,
		scope,
		hashHex([]byte(canonicalRequest)),
	}, "\n")

	kDate := hmacSHA256([]byte(s.cfg.SecretKey), shortDate)
	kRegion := hmacSHA256(kDate, s.cfg.Region)
	kService := hmacSHA256(kRegion, s.cfg.Service)
	kSigning := hmacSHA256(kService, canonicalTerminal)
	signature := hex.EncodeToString(hmacSHA256(kSigning, stringToSign))

	return CanonicalResult{
		XDate:         xDate,
		ContentSHA256: payloadHash,
		Signature:     signature,
		Authorization: canonicalAlgorithm +
			" Credential=" + s.cfg.AccessKey + "/" + scope +
			", SignedHeaders=" + signedHeaders +
			", Signature=" + signature,
	}, nil
}

// CanonicalQuery 按键排序查询参数并做百分号编码，空格编码为 %20。
func CanonicalQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return raw
	}
	return strings.ReplaceAll(values.Encode(), "+", "%20")
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}
