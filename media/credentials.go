package media

import (
	"encoding/json"
	"os"
	"sort"
	"strings"

	"github.com/BaSui01/mediaflow/media/signing"
	"github.com/BaSui01/mediaflow/types"
)

// CredentialStore 按环境变量风格的名字只读查找凭证。
// 值要么存在要么缺失，不存在部分有效。
type CredentialStore interface {
	Lookup(name string) (string, bool)
}

// EnvStore 从进程环境变量读取凭证。
type EnvStore struct{}

// Lookup 实现 CredentialStore，空白值视为缺失。
func (EnvStore) Lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// MapStore 是固定的凭证集合，用于配置文件凭证和测试。
type MapStore map[string]string

// Lookup 实现 CredentialStore。
func (m MapStore) Lookup(name string) (string, bool) {
	v, ok := m[name]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// ChainStore 依次查询各个 store，返回第一个命中。
type ChainStore []CredentialStore

// Lookup 实现 CredentialStore。
func (c ChainStore) Lookup(name string) (string, bool) {
	for _, s := range c {
		if s == nil {
			continue
		}
		if v, ok := s.Lookup(name); ok {
			return v, true
		}
	}
	return "", false
}

// CredentialResolver 解析每个适配器需要的凭证集合。
// 在构造适配器时查询一次并注入适配器。
type CredentialResolver struct {
	store CredentialStore
}

// NewCredentialResolver 基于 store 创建解析器，store 为 nil 时什么也解析不到。
func NewCredentialResolver(store CredentialStore) *CredentialResolver {
	if store == nil {
		store = MapStore{}
	}
	return &CredentialResolver{store: store}
}

// Resolve 为 provider 查找每个必需的名字。
func (r *CredentialResolver) Resolve(provider string, required ...string) Credentials {
	c := Credentials{
		provider: provider,
		values:   make(map[string]string, len(required)),
		required: append([]string(nil), required...),
	}
	for _, name := range required {
		if v, ok := r.store.Lookup(name); ok {
			c.values[name] = v
		} else {
			c.missing = append(c.missing, name)
		}
	}
	return c
}

// Credentials 是单个适配器已解析的只读凭证集合。
type Credentials struct {
	provider string
	values   map[string]string
	required []string
	missing  []string
}

// Require 以 CONFIGURATION 错误列出所有缺失的值。
func (c Credentials) Require() error {
	if len(c.missing) == 0 {
		return nil
	}
	return types.NewConfigurationError(c.provider, c.missing...)
}

// Get 返回 name 的值，缺失时返回空串。
func (c Credentials) Get(name string) string {
	return c.values[name]
}

// Missing 返回未解析到的名字。
func (c Credentials) Missing() []string {
	return append([]string(nil), c.missing...)
}

// Masked 返回 name 脱敏后的值，用于诊断。
func (c Credentials) Masked(name string) string {
	v, ok := c.values[name]
	if !ok {
		return ""
	}
	return signing.Mask(v)
}

// String 不会输出密钥。
func (c Credentials) String() string {
	names := append([]string(nil), c.required...)
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := c.values[n]; ok {
			parts = append(parts, n+"="+c.Masked(n))
		} else {
			parts = append(parts, n+"=<missing>")
		}
	}
	return "Credentials{" + c.provider + ": " + strings.Join(parts, ", ") + "}"
}

// MarshalJSON 只输出脱敏值。
func (c Credentials) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(c.required))
	for _, n := range c.required {
		if _, ok := c.values[n]; ok {
			out[n] = c.Masked(n)
		} else {
			out[n] = ""
		}
	}
	return json.Marshal(out)
}
