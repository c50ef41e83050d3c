package fal

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/media"
	"github.com/BaSui01/mediaflow/media/httpclient"
	"github.com/BaSui01/mediaflow/media/providers"
	"github.com/BaSui01/mediaflow/types"
)

// 队列原生状态。
const (
	StatusInQueue    = "IN_QUEUE"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// MapStatus 把 fal 队列状态映射为统一状态。
func MapStatus(native string) media.Status {
	switch strings.ToUpper(strings.TrimSpace(native)) {
	case StatusCompleted:
		return media.StatusCompleted
	case StatusFailed, "ERROR", "CANCELLED":
		return media.StatusFailed
	default:
		return media.StatusInProgress
	}
}

type statusResponse struct {
	Status string `json:"status"`
	Error  any    `json:"error,omitempty"`
}

type file struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
}

type resultResponse struct {
	Images []file `json:"images"`
	Image  *file  `json:"image"`
	Video  *file  `json:"video"`
}

// CheckStatus 实现 media.Provider。
func (p *Provider) CheckStatus(ctx context.Context, taskID string, pc media.PollingContext) (*media.Outcome, error) {
	if err := p.creds.Require(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(taskID) == "" {
		return nil, types.NewValidationError("task id is required").WithProvider(Name)
	}

	var state pollingContext
	if err := pc.Decode(&state); err != nil {
		return nil, types.NewValidationError("malformed polling context").WithProvider(Name).WithCause(err)
	}
	var resp *httpclient.Response
	if state.StatusURL == "" {
		if state.Model == "" {
			return nil, types.NewValidationError("polling context is required to check a fal task").WithProvider(Name)
		}
		found, first, err := p.lookupLegacy(ctx, taskID, state.Model)
		if err != nil {
			return providers.Verdict(err)
		}
		state.StatusURL, resp = found, first
	}
	if state.ResponseURL == "" {
		state.ResponseURL = strings.TrimSuffix(state.StatusURL, "/status")
	}

	diag := providers.Diagnostics{
		Provider:   Name,
		Stage:      types.StageStatus,
		Endpoint:   state.StatusURL,
		Credential: p.signer.Identity(),
		Payload:    map[string]any{"task_id": taskID, "model": state.Model},
	}
	if resp == nil {
		var err error
		if resp, err = p.get(ctx, state.StatusURL); err != nil {
			return providers.Verdict(diag.Annotate(err))
		}
	}
	var sr statusResponse
	if err := diag.Decode(resp.Body, &sr); err != nil {
		return providers.Verdict(err)
	}
	if sr.Status == "" {
		return providers.Verdict(diag.Unexpected("status response has no status", resp.Body))
	}

	switch MapStatus(sr.Status) {
	case media.StatusFailed:
		return media.Failed(errorText(sr.Error, "fal task "+strings.ToLower(sr.Status)), diag.Rejected("task failed", resp.Body)), nil
	case media.StatusCompleted:
		if msg := errorText(sr.Error, ""); msg != "" {
			return media.Failed(msg, diag.Rejected(msg, resp.Body)), nil
		}
		return p.fetchResult(ctx, taskID, state)
	default:
		return media.InProgress(), nil
	}
}

func (p *Provider) fetchResult(ctx context.Context, taskID string, state pollingContext) (*media.Outcome, error) {
	diag := providers.Diagnostics{
		Provider:   Name,
		Stage:      types.StageStatus,
		Endpoint:   state.ResponseURL,
		Credential: p.signer.Identity(),
		Payload:    map[string]any{"task_id": taskID, "model": state.Model},
	}
	resp, err := p.get(ctx, state.ResponseURL)
	if err != nil {
		return providers.Verdict(diag.Annotate(err))
	}
	var rr resultResponse
	if err := diag.Decode(resp.Body, &rr); err != nil {
		return providers.Verdict(err)
	}

	files := rr.Images
	if rr.Image != nil {
		files = append(files, *rr.Image)
	}
	if rr.Video != nil {
		files = append(files, *rr.Video)
	}
	out := &media.Outcome{Status: media.StatusCompleted}
	for _, f := range files {
		if strings.TrimSpace(f.URL) == "" {
			continue
		}
		out.Images = append(out.Images, media.Image{URL: f.URL, ContentType: f.ContentType})
	}
	if len(out.Images) == 0 {
		return providers.Verdict(diag.Unexpected("completed task carries no asset url", resp.Body))
	}
	return out, nil
}

func (p *Provider) get(ctx context.Context, url string) (*httpclient.Response, error) {
	return p.client.Do(ctx, &httpclient.Request{
		Provider: Name,
		Stage:    types.StageStatus,
		Method:   http.MethodGet,
		URL:      url,
		Signer:   p.signer,
		Timeout:  p.cfg.Timeout,
	})
}

// LegacyStatusCandidates 按查找顺序列出状态 URL，用于轮询上下文
// 早于状态 URL 持久化的任务。
func (p *Provider) LegacyStatusCandidates(taskID, model string) []string {
	full := p.requestURL(strings.Trim(model, "/"), taskID) + "/status"
	app := p.requestURL(appPath(model), taskID) + "/status"
	if full == app {
		return []string{full}
	}
	return []string{full, app}
}

// lookupLegacy 是只带模型的旧轮询上下文的兼容层。
// 每个候选只尝试一次，队列首个应答的候选胜出。
func (p *Provider) lookupLegacy(ctx context.Context, taskID, model string) (string, *httpclient.Response, error) {
	candidates := p.LegacyStatusCandidates(taskID, model)
	p.logger.Warn("legacy polling context without status url, probing candidates",
		zap.String("task_id", taskID),
		zap.String("model", model),
		zap.Strings("candidates", candidates))

	var lastErr error
	for _, url := range candidates {
		resp, err := p.client.Do(ctx, &httpclient.Request{
			Provider:   Name,
			Stage:      types.StageStatus,
			Method:     http.MethodGet,
			URL:        url,
			Signer:     p.signer,
			Timeout:    p.cfg.Timeout,
			MaxRetries: httpclient.Retries(0),
		})
		if err == nil {
			p.logger.Info("legacy status url matched", zap.String("task_id", taskID), zap.String("status_url", url))
			return url, resp, nil
		}
		lastErr = err
		if e, ok := types.AsError(err); !ok || (e.HTTPStatus != http.StatusNotFound && e.HTTPStatus != http.StatusMethodNotAllowed) {
			return "", nil, err
		}
	}
	return "", nil, providers.Diagnostics{
		Provider: Name,
		Stage:    types.StageStatus,
		Payload:  map[string]any{"task_id": taskID, "model": model},
	}.Annotate(lastErr)
}

func errorText(v any, fallback string) string {
	switch x := v.(type) {
	case string:
		if s := strings.TrimSpace(x); s != "" {
			return s
		}
	case map[string]any:
		if s, ok := x["message"].(string); ok && s != "" {
			return s
		}
	}
	return fallback
}
