package jimeng

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/BaSui01/mediaflow/media"
	"github.com/BaSui01/mediaflow/media/httpclient"
	"github.com/BaSui01/mediaflow/media/providers"
	"github.com/BaSui01/mediaflow/types"
)

// CV 原生任务状态。
const (
	StatusInQueue    = "in_queue"
	StatusGenerating = "generating"
	StatusDone       = "done"
	StatusNotFound   = "not_found"
	StatusExpired    = "expired"
	StatusFailed     = "failed"
)

// MapStatus 把 CV 任务状态映射为统一状态。
func MapStatus(native string) media.Status {
	switch strings.ToLower(strings.TrimSpace(native)) {
	case StatusDone:
		return media.StatusCompleted
	case StatusNotFound, StatusExpired, StatusFailed:
		return media.StatusFailed
	default:
		return media.StatusInProgress
	}
}

type resultRequest struct {
	ReqKey  string `json:"req_key"`
	TaskID  string `json:"task_id"`
	ReqJSON string `json:"req_json"`
}

type resultData struct {
	Status    string   `json:"status"`
	ImageURLs []string `json:"image_urls"`
	VideoURL  string   `json:"video_url"`
}

// returnURL 让接口返回托管 URL，而不是内联 base64。
var returnURL = mustJSON(map[string]bool{"return_url": true})

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// CheckStatus 实现 media.Provider。每次调用都重新签名。
func (p *Provider) CheckStatus(ctx context.Context, taskID string, pc media.PollingContext) (*media.Outcome, error) {
	if err := p.creds.Require(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(taskID) == "" {
		return nil, types.NewValidationError("task id is required").WithProvider(Name)
	}

	if pc.IsEmpty() {
		return nil, types.NewValidationError("polling context is required to check a jimeng task").WithProvider(Name)
	}
	state := pollingContext{Region: p.cfg.Region, Service: p.cfg.Service}
	if err := pc.Decode(&state); err != nil {
		return nil, types.NewValidationError("malformed polling context").WithProvider(Name).WithCause(err)
	}
	if state.ReqKey == "" {
		return nil, types.NewValidationError("polling context has no req_key").WithProvider(Name)
	}

	endpoint := p.actionURL(state.Host, actionResult)
	signer := p.signer(state.Region, state.Service)
	diag := providers.Diagnostics{
		Provider:   Name,
		Stage:      types.StageStatus,
		Endpoint:   endpoint,
		Credential: signer.Identity(),
		Payload:    map[string]any{"task_id": taskID, "req_key": state.ReqKey},
	}

	body, err := json.Marshal(resultRequest{ReqKey: state.ReqKey, TaskID: taskID, ReqJSON: returnURL})
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "encode request").WithProvider(Name).WithCause(err)
	}
	resp, err := p.client.Do(ctx, &httpclient.Request{
		Provider:   Name,
		Stage:      types.StageStatus,
		Method:     http.MethodPost,
		URL:        endpoint,
		Body:       body,
		Signer:     signer,
		Idempotent: true,
		Timeout:    p.cfg.Timeout,
	})
	if err != nil {
		return providers.Verdict(diag.Annotate(err))
	}

	var env envelope
	if err := diag.Decode(resp.Body, &env); err != nil {
		return providers.Verdict(err)
	}
	if env.Code != SuccessCode {
		return providers.Verdict(diag.Rejected(rejection(env), resp.Body))
	}
	var data resultData
	if len(env.Data) == 0 {
		return providers.Verdict(diag.Unexpected("response has no data", resp.Body))
	}
	if err := diag.Decode(env.Data, &data); err != nil {
		return providers.Verdict(err)
	}
	if data.Status == "" {
		return providers.Verdict(diag.Unexpected("response has no data.status", resp.Body))
	}

	switch MapStatus(data.Status) {
	case media.StatusCompleted:
		urls := data.ImageURLs
		contentType := ""
		if data.VideoURL != "" {
			urls = append(urls, data.VideoURL)
			contentType = "video/mp4"
		}
		out, err := media.Completed(Name, urls, contentType)
		if err != nil {
			return providers.Verdict(diag.Unexpected("done task carries no image_urls", resp.Body))
		}
		return out, nil
	case media.StatusFailed:
		return media.Failed("jimeng task "+strings.ToLower(data.Status), diag.Rejected("task "+data.Status, resp.Body)), nil
	default:
		return media.InProgress(), nil
	}
}
