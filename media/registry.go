package media

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/BaSui01/mediaflow/types"
)

// Registry 是线程安全的注册表，把提供商 ID 映射到适配器。
// 新增提供商只需多注册一个适配器。
type Registry struct {
	providers map[string]Provider
	mu        sync.RWMutex
}

// NewRegistry 创建空的 Registry。
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register 按 Name() 注册提供商，已有条目会被替换。
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[normalizeID(p.Name())] = p
}

// Get 按 ID 取提供商，未知 ID 返回 VALIDATION 错误。
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[normalizeID(id)]
	if !ok {
		return nil, types.NewValidationError("unknown provider %q", id)
	}
	return p, nil
}

// List 返回所有已注册提供商的有序 ID。
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len 返回已注册提供商的数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// Generate 校验 req 并分发给 req.Provider 指定的适配器。
func (r *Registry) Generate(ctx context.Context, req *GenerationRequest) (*Submission, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	p, err := r.Get(req.Provider)
	if err != nil {
		return nil, err
	}
	return p.Generate(ctx, req)
}

// CheckStatus 把状态查询分发给指定适配器。
func (r *Registry) CheckStatus(ctx context.Context, provider, taskID string, pc PollingContext) (*Outcome, error) {
	p, err := r.Get(provider)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(taskID) == "" {
		return nil, types.NewValidationError("taskId is required").WithProvider(provider)
	}
	return p.CheckStatus(ctx, taskID, pc)
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
