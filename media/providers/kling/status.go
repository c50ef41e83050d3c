package kling

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/BaSui01/mediaflow/media"
	"github.com/BaSui01/mediaflow/media/httpclient"
	"github.com/BaSui01/mediaflow/media/providers"
	"github.com/BaSui01/mediaflow/types"
)

// 可灵原生任务状态。
const (
	StatusSubmitted  = "submitted"
	StatusProcessing = "processing"
	StatusSucceed    = "succeed"
	StatusFailed     = "failed"
)

// MapStatus 把可灵任务状态映射为统一状态。
func MapStatus(native string) media.Status {
	switch strings.ToLower(strings.TrimSpace(native)) {
	case StatusSucceed:
		return media.StatusCompleted
	case StatusFailed:
		return media.StatusFailed
	default:
		return media.StatusInProgress
	}
}

func knownEndpoint(e string) bool {
	switch e {
	case EndpointImages, EndpointTextToVideo, EndpointImageToVideo:
		return true
	}
	return false
}

// CheckStatus 实现 media.Provider。每次调用都重新签发令牌。
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
	if !knownEndpoint(state.Endpoint) {
		return nil, types.NewValidationError("polling context has no valid endpoint").WithProvider(Name)
	}

	endpoint := p.cfg.BaseURL + state.Endpoint + "/" + url.PathEscape(taskID)
	diag := providers.Diagnostics{
		Provider:   Name,
		Stage:      types.StageStatus,
		Endpoint:   endpoint,
		Credential: p.signer.Identity(),
		Payload:    map[string]any{"task_id": taskID, "endpoint": state.Endpoint},
	}
	resp, err := p.client.Do(ctx, &httpclient.Request{
		Provider: Name,
		Stage:    types.StageStatus,
		Method:   http.MethodGet,
		URL:      endpoint,
		Signer:   p.signer,
		Timeout:  p.cfg.Timeout,
	})
	if err != nil {
		return providers.Verdict(diag.Annotate(err))
	}
	data, err := p.decode(diag, resp.Body)
	if err != nil {
		return providers.Verdict(err)
	}
	if data.TaskStatus == "" {
		return providers.Verdict(diag.Unexpected("response has no data.task_status", resp.Body))
	}

	switch MapStatus(data.TaskStatus) {
	case media.StatusCompleted:
		var urls []string
		contentType := ""
		for _, img := range data.TaskResult.Images {
			urls = append(urls, img.URL)
		}
		for _, v := range data.TaskResult.Videos {
			urls = append(urls, v.URL)
			contentType = "video/mp4"
		}
		out, err := media.Completed(Name, urls, contentType)
		if err != nil {
			return providers.Verdict(diag.Unexpected("succeeded task carries no asset url", resp.Body))
		}
		return out, nil
	case media.StatusFailed:
		msg := strings.TrimSpace(data.TaskStatusMsg)
		if msg == "" {
			msg = "kling task failed"
		}
		return media.Failed(msg, diag.Rejected(msg, resp.Body)), nil
	default:
		return media.InProgress(), nil
	}
}
