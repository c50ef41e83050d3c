package providers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/media"
	"github.com/BaSui01/mediaflow/media/httpclient"
	"github.com/BaSui01/mediaflow/media/providers"
	"github.com/BaSui01/mediaflow/media/providers/fal"
	"github.com/BaSui01/mediaflow/media/providers/jimeng"
	"github.com/BaSui01/mediaflow/media/providers/kling"
	"github.com/BaSui01/mediaflow/media/providers/seedream"
	"github.com/BaSui01/mediaflow/types"
)

var store = media.MapStore{
	fal.CredentialKey:          "fal-key-0123456789abcdef",
	jimeng.CredentialAccessKey: "AKLTaccess0123456789",
	jimeng.CredentialSecretKey: "secret0123456789abcd",
	kling.CredentialAccessKey:  "kling-ak-0123456789",
	kling.CredentialSecretKey:  "kling-sk-0123456789",
	seedream.CredentialKey:     "ark-0123456789abcdef",
}

func resolve(name string, names []string) media.Credentials {
	return media.NewCredentialResolver(store).Resolve(name, names...)
}

// nativeServer 按当前设置的原生状态应答 fal、jimeng、kling 的状态查询。
type nativeServer struct {
	srv    *httptest.Server
	native atomic.Value
}

func newNativeServer(t *testing.T) *nativeServer {
	n := &nativeServer{}
	n.native.Store("")
	n.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := n.native.Load().(string)
		switch {
		case r.URL.Query().Get("Action") == "CVSync2AsyncGetResult":
			data := map[string]any{"status": status}
			if strings.EqualFold(status, jimeng.StatusDone) {
				data["image_urls"] = []string{"https://cdn/j.png"}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"code": jimeng.SuccessCode, "data": data})
		case strings.HasPrefix(r.URL.Path, kling.EndpointImages):
			data := map[string]any{"task_id": "k1", "task_status": status}
			if strings.EqualFold(status, kling.StatusSucceed) {
				data["task_result"] = map[string]any{"images": []map[string]string{{"url": "https://cdn/k.png"}}}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": data})
		case strings.HasSuffix(r.URL.Path, "/status"):
			_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
		default:
			_, _ = w.Write([]byte(`{"images":[{"url":"https://cdn/f.png"}]}`))
		}
	}))
	t.Cleanup(n.srv.Close)
	return n
}

type statusCase struct {
	provider  media.Provider
	pc        media.PollingContext
	completed string
	failed    []string
}

func TestProperty_StatusMappingForAllProviders(t *testing.T) {
	native := newNativeServer(t)
	client := httpclient.New(httpclient.DefaultConfig())
	logger := zap.NewNop()

	falPC, err := media.NewPollingContext(map[string]string{
		"status_url":   native.srv.URL + "/fal-ai/flux/requests/f1/status",
		"response_url": native.srv.URL + "/fal-ai/flux/requests/f1",
		"model":        "fal-ai/flux/dev",
	})
	require.NoError(t, err)
	jimengPC, err := media.NewPollingContext(map[string]string{"req_key": jimeng.ReqKeyTextToImage, "region": "cn-north-1", "service": "cv"})
	require.NoError(t, err)
	klingPC, err := media.NewPollingContext(map[string]string{"endpoint": kling.EndpointImages})
	require.NoError(t, err)

	cases := []statusCase{
		{
			provider:  fal.New(fal.Config{BaseURL: native.srv.URL}, resolve(fal.Name, fal.Credentials), client, logger),
			pc:        falPC,
			completed: fal.StatusCompleted,
			failed:    []string{fal.StatusFailed, "ERROR", "CANCELLED"},
		},
		{
			provider:  jimeng.New(jimeng.Config{BaseURL: native.srv.URL}, resolve(jimeng.Name, jimeng.Credentials), client, logger),
			pc:        jimengPC,
			completed: jimeng.StatusDone,
			failed:    []string{jimeng.StatusNotFound, jimeng.StatusExpired, jimeng.StatusFailed},
		},
		{
			provider:  kling.New(kling.Config{BaseURL: native.srv.URL}, resolve(kling.Name, kling.Credentials), client, logger),
			pc:        klingPC,
			completed: kling.StatusSucceed,
			failed:    []string{kling.StatusFailed},
		},
	}

	vocabulary := []any{
		fal.StatusInQueue, fal.StatusInProgress, fal.StatusCompleted, fal.StatusFailed,
		jimeng.StatusInQueue, jimeng.StatusGenerating, jimeng.StatusDone, jimeng.StatusNotFound, jimeng.StatusExpired, jimeng.StatusFailed,
		kling.StatusSubmitted, kling.StatusProcessing, kling.StatusSucceed, kling.StatusFailed,
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 60
	properties := gopter.NewProperties(parameters)

	properties.Property("native statuses map to exactly one unified class", prop.ForAll(
		func(idx int, status string) bool {
			c := cases[idx]
			native.native.Store(status)

			out, err := c.provider.CheckStatus(context.Background(), "task-1", c.pc)
			if err != nil {
				t.Logf("%s/%s: unexpected error %v", c.provider.Name(), status, err)
				return false
			}

			want := media.StatusInProgress
			if strings.EqualFold(status, c.completed) {
				want = media.StatusCompleted
			}
			for _, f := range c.failed {
				if strings.EqualFold(status, f) {
					want = media.StatusFailed
				}
			}
			if out.Status != want {
				t.Logf("%s/%s: got %s, want %s", c.provider.Name(), status, out.Status, want)
				return false
			}
			switch out.Status {
			case media.StatusCompleted:
				return len(out.Images) > 0
			case media.StatusFailed:
				return out.Error != "" && len(out.Images) == 0
			default:
				return len(out.Images) == 0 && out.Error == ""
			}
		},
		gen.IntRange(0, len(cases)-1),
		gen.OneGenOf(
			gen.OneConstOf(vocabulary...),
			gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
		),
	))

	properties.TestingRun(t)
}

// countingProvider 记录 CheckStatus 调用。
type countingProvider struct {
	media.Provider
	checks int32
}

func (c *countingProvider) CheckStatus(ctx context.Context, taskID string, pc media.PollingContext) (*media.Outcome, error) {
	atomic.AddInt32(&c.checks, 1)
	return c.Provider.CheckStatus(ctx, taskID, pc)
}

func TestEndToEnd_SynchronousProviderNeedsNoPolling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"url":"https://ark.cdn/cat.jpeg"}]}`))
	}))
	defer srv.Close()

	sd := &countingProvider{Provider: seedream.New(seedream.Config{BaseURL: srv.URL}, resolve(seedream.Name, seedream.Credentials), nil, nil)}
	registry := media.NewRegistry()
	registry.Register(sd)

	req := &media.GenerationRequest{Provider: seedream.Name, Prompt: "a cat", AspectRatio: "1:1", Mode: media.ModeTextToImage}
	sub, err := registry.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, media.StatusCompleted, sub.Status)
	assert.GreaterOrEqual(t, len(sub.Images), 1)

	out, err := media.NewPoller(media.PollerConfig{Interval: time.Millisecond}, zap.NewNop()).Wait(context.Background(), sd, sub, nil)
	require.NoError(t, err)
	assert.Equal(t, media.StatusCompleted, out.Status)
	assert.Zero(t, atomic.LoadInt32(&sd.checks))
}

func TestEndToEnd_AsyncProviderStopsAfterCompletion(t *testing.T) {
	var mu sync.Mutex
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"code":0,"data":{"task_id":"k-42","task_status":"submitted"}}`))
			return
		}
		mu.Lock()
		polls++
		n := polls
		mu.Unlock()
		if n == 1 {
			_, _ = w.Write([]byte(`{"code":0,"data":{"task_id":"k-42","task_status":"processing"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":0,"data":{"task_id":"k-42","task_status":"succeed","task_result":{"images":[{"url":"https://kling.cdn/cat.png"}]}}}`))
	}))
	defer srv.Close()

	kp := &countingProvider{Provider: kling.New(kling.Config{BaseURL: srv.URL}, resolve(kling.Name, kling.Credentials), nil, nil)}
	registry := media.NewRegistry()
	registry.Register(kp)

	sub, err := registry.Generate(context.Background(), &media.GenerationRequest{Provider: kling.Name, Prompt: "a cat", AspectRatio: "1:1"})
	require.NoError(t, err)
	require.Equal(t, media.StatusQueued, sub.Status)

	var seen []media.Status
	out, err := media.NewPoller(media.PollerConfig{Interval: 5 * time.Millisecond, MaxWait: 5 * time.Second}, zap.NewNop()).
		Wait(context.Background(), kp, sub, func(o *media.Outcome) { seen = append(seen, o.Status) })
	require.NoError(t, err)
	assert.Equal(t, media.StatusCompleted, out.Status)
	require.Len(t, out.Images, 1)
	assert.Equal(t, []media.Status{media.StatusInProgress, media.StatusCompleted}, seen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&kp.checks))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&kp.checks), "no polling after a terminal status")
}

func TestVerdict(t *testing.T) {
	out, err := providers.Verdict(types.NewError(types.ErrProviderRejected, "blocked").WithProvider("x"))
	require.NoError(t, err)
	assert.Equal(t, media.StatusFailed, out.Status)
	assert.Equal(t, "x rejected the request: blocked", out.Error)

	out, err = providers.Verdict(types.NewError(types.ErrUnexpectedResponse, "no url"))
	require.NoError(t, err)
	assert.Equal(t, media.StatusFailed, out.Status)

	_, err = providers.Verdict(types.NewError(types.ErrTransport, "timeout"))
	assert.True(t, types.IsErrorCode(err, types.ErrTransport))
}

func TestVerdict_ExhaustedRetriesStayErrors(t *testing.T) {
	tests := []struct {
		name string
		err  *types.Error
	}{
		{name: "rate limited", err: types.NewError(types.ErrProviderRejected, "slow down").WithHTTPStatus(http.StatusTooManyRequests).WithRetryable(true)},
		{name: "unavailable", err: types.NewError(types.ErrProviderRejected, "overloaded").WithHTTPStatus(http.StatusServiceUnavailable).WithRetryable(true)},
		{name: "server error without flag", err: types.NewError(types.ErrProviderRejected, "boom").WithHTTPStatus(http.StatusInternalServerError)},
		{name: "retryable unexpected shape", err: types.NewError(types.ErrUnexpectedResponse, "truncated").WithRetryable(true)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := providers.Verdict(tt.err)
			assert.Nil(t, out)
			require.Error(t, err)
			assert.Equal(t, tt.err.Code, types.GetErrorCode(err))
		})
	}

	out, err := providers.Verdict(types.NewError(types.ErrProviderRejected, "not found").WithHTTPStatus(http.StatusNotFound))
	require.NoError(t, err)
	assert.Equal(t, media.StatusFailed, out.Status)
}

func TestDiagnostics_Annotate(t *testing.T) {
	d := providers.Diagnostics{
		Provider:   "kling",
		Stage:      types.StageSubmit,
		Endpoint:   "https://api/x",
		Credential: "abcd****wxyz",
		Payload:    map[string]any{"prompt": "a cat"},
	}
	err := d.Annotate(types.NewError(types.ErrProviderRejected, "nope").WithEndpoint("https://api/y"))
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "kling", e.Provider)
	assert.Equal(t, "https://api/y", e.Endpoint, "existing fields win")
	assert.Equal(t, "abcd****wxyz", e.Credential)
	assert.Equal(t, "a cat", e.Payload["prompt"])

	err = d.Annotate(types.NewValidationError("bad image"))
	e, _ = types.AsError(err)
	assert.Nil(t, e.Payload, "validation errors carry no payload")

	assert.Nil(t, d.Annotate(nil))
}

func TestKeyFields(t *testing.T) {
	fields := providers.KeyFields(&media.GenerationRequest{
		Prompt:          strings.Repeat("p", 200),
		Mode:            media.ModeImageToImage,
		ReferenceImages: []string{"data:image/png;base64,AAAA"},
	}, map[string]any{"size": "2048x2048"})

	assert.Len(t, fields["prompt"], 123)
	assert.Equal(t, 1, fields["reference_images"])
	assert.Equal(t, "2048x2048", fields["size"])
	for _, v := range fields {
		if s, ok := v.(string); ok {
			assert.NotContains(t, s, "base64")
		}
	}
}
