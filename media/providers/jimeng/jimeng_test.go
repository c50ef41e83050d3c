package jimeng

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/media"
	"github.com/BaSui01/mediaflow/media/httpclient"
	"github.com/BaSui01/mediaflow/media/signing"
	"github.com/BaSui01/mediaflow/types"
)

const (
	testAK = "AKLTtestaccess0123456"
	testSK = "c2VjcmV0LXNlY3JldC1zZWNyZXQ="
)

type call struct {
	Action string
	Body   map[string]any
	XDate  string
}

type cvMock struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	calls    []call
	submit   string
	statuses []string
	busy     int // 非零时结果查询一律返回该 HTTP 状态
}

func newCVMock(t *testing.T) *cvMock {
	m := &cvMock{
		t:        t,
		submit:   `{"code":10000,"message":"Success","request_id":"r1","data":{"task_id":"7392616336519610409"}}`,
		statuses: []string{"in_queue", "generating", "done"},
	}
	m.srv = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.srv.Close)
	return m
}

func (m *cvMock) handle(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)

	// 服务端复算签名。
	verifier := signing.NewCanonicalSigner(signing.CanonicalConfig{
		AccessKey: testAK, SecretKey: testSK, Service: "cv", Region: "cn-north-1",
	})
	ts, err := time.Parse("20060102T150405Z", r.Header.Get("X-Date"))
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	want, _ := verifier.Compute(signing.CanonicalInput{
		Method:      r.Method,
		Host:        r.Host,
		Path:        r.URL.Path,
		Query:       r.URL.RawQuery,
		ContentType: r.Header.Get("Content-Type"),
		Body:        data,
		Time:        ts,
	})
	if want.Authorization != r.Header.Get("Authorization") {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"ResponseMetadata":{"Error":{"Code":"SignatureDoesNotMatch","Message":"signature mismatch"}}}`))
		return
	}

	var body map[string]any
	_ = json.Unmarshal(data, &body)

	m.mu.Lock()
	defer m.mu.Unlock()
	action := r.URL.Query().Get("Action")
	m.calls = append(m.calls, call{Action: action, Body: body, XDate: r.Header.Get("X-Date")})

	switch action {
	case actionSubmit:
		_, _ = w.Write([]byte(m.submit))
	case actionResult:
		if m.busy != 0 {
			w.WriteHeader(m.busy)
			_, _ = w.Write([]byte(`{"code":50429,"message":"Request Has Reached API Limit"}`))
			return
		}
		status := m.statuses[0]
		if len(m.statuses) > 1 {
			m.statuses = m.statuses[1:]
		}
		resp := map[string]any{"code": 10000, "message": "Success", "data": map[string]any{"status": status}}
		if status == StatusDone {
			resp["data"].(map[string]any)["image_urls"] = []string{"https://cdn.volc/1.png", "https://cdn.volc/2.png"}
		}
		_ = json.NewEncoder(w).Encode(resp)
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (m *cvMock) recorded() []call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]call(nil), m.calls...)
}

func creds(store media.MapStore) media.Credentials {
	return media.NewCredentialResolver(store).Resolve(Name, Credentials...)
}

func fullCreds() media.Credentials {
	return creds(media.MapStore{CredentialAccessKey: testAK, CredentialSecretKey: testSK})
}

// tickingClock 每读取一次前进一秒。
func tickingClock() signing.Clock {
	var n int64
	start := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	return func() time.Time {
		return start.Add(time.Duration(atomic.AddInt64(&n, 1)) * time.Second)
	}
}

func newTestProvider(baseURL string, c media.Credentials) *Provider {
	cfg := httpclient.DefaultConfig()
	cfg.BaseDelay = time.Millisecond
	return New(Config{BaseURL: baseURL}, c, httpclient.New(cfg), zap.NewNop(), WithClock(tickingClock()))
}

func TestGenerate_TextToImage(t *testing.T) {
	mock := newCVMock(t)
	p := newTestProvider(mock.srv.URL, fullCreds())

	sub, err := p.Generate(context.Background(), &media.GenerationRequest{
		Provider:    Name,
		Prompt:      "a cat",
		AspectRatio: "16:9",
	})
	require.NoError(t, err)
	assert.Equal(t, "7392616336519610409", sub.TaskID)
	assert.Equal(t, media.StatusQueued, sub.Status)

	calls := mock.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, actionSubmit, calls[0].Action)
	assert.Equal(t, ReqKeyTextToImage, calls[0].Body["req_key"])
	assert.EqualValues(t, 2560, calls[0].Body["width"])
	assert.EqualValues(t, 1440, calls[0].Body["height"])
	assert.NotContains(t, calls[0].Body, "scale")

	var pc pollingContext
	require.NoError(t, sub.PollingContext.Decode(&pc))
	assert.Equal(t, ReqKeyTextToImage, pc.ReqKey)
	assert.Equal(t, "cn-north-1", pc.Region)
	assert.Equal(t, "cv", pc.Service)
	assert.NotEmpty(t, pc.Host)
}

func TestGenerate_ImageToImageURLs(t *testing.T) {
	mock := newCVMock(t)
	p := newTestProvider(mock.srv.URL, fullCreds())

	_, err := p.Generate(context.Background(), &media.GenerationRequest{
		Provider:        Name,
		Prompt:          "make it snowy",
		Mode:            media.ModeImageToImage,
		ReferenceImages: []string{"https://cdn.example.com/a.png"},
	})
	require.NoError(t, err)
	body := mock.recorded()[0].Body
	assert.Equal(t, ReqKeyImageToImage, body["req_key"])
	assert.Equal(t, []any{"https://cdn.example.com/a.png"}, body["image_urls"])
	assert.Equal(t, DefaultStrength, body["scale"])
}

func TestGenerate_InpaintingInlinesImageThenMask(t *testing.T) {
	images := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("source-bytes"))
	}))
	defer images.Close()

	mock := newCVMock(t)
	p := newTestProvider(mock.srv.URL, fullCreds())
	mask := base64.StdEncoding.EncodeToString([]byte("mask-bytes"))

	_, err := p.Generate(context.Background(), &media.GenerationRequest{
		Provider:        Name,
		Prompt:          "remove the car",
		Mode:            media.ModeInpainting,
		ReferenceImages: []string{images.URL + "/src.png"},
		MaskImage:       "data:image/png;base64," + mask,
	})
	require.NoError(t, err)
	body := mock.recorded()[0].Body
	assert.Equal(t, ReqKeyInpainting, body["req_key"])
	assert.Equal(t, []any{base64.StdEncoding.EncodeToString([]byte("source-bytes")), mask}, body["binary_data_base64"])
	assert.NotContains(t, body, "image_urls")
}

func TestGenerate_ImageFetchFailure(t *testing.T) {
	images := httptest.NewServer(http.NotFoundHandler())
	defer images.Close()

	mock := newCVMock(t)
	p := newTestProvider(mock.srv.URL, fullCreds())

	_, err := p.Generate(context.Background(), &media.GenerationRequest{
		Provider:        Name,
		Prompt:          "remove the car",
		Mode:            media.ModeInpainting,
		ReferenceImages: []string{images.URL + "/gone.png"},
		MaskImage:       images.URL + "/mask.png",
	})
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrTransport, e.Code)
	assert.Equal(t, types.StageImageFetch, e.Stage)
	assert.Equal(t, Name, e.Provider)
	assert.Empty(t, mock.recorded())
}

func TestGenerate_MissingSecret(t *testing.T) {
	mock := newCVMock(t)
	p := newTestProvider(mock.srv.URL, creds(media.MapStore{CredentialAccessKey: testAK}))

	_, err := p.Generate(context.Background(), &media.GenerationRequest{Provider: Name, Prompt: "a cat"})
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrConfiguration, e.Code)
	assert.Contains(t, e.Message, CredentialSecretKey)
	assert.NotContains(t, e.Message, CredentialAccessKey)
	assert.Empty(t, mock.recorded())
}

func TestGenerate_EmbeddedRejection(t *testing.T) {
	mock := newCVMock(t)
	mock.submit = `{"code":50411,"message":"Pre Img Risk Not Pass","request_id":"r2","data":null}`
	p := newTestProvider(mock.srv.URL, fullCreds())

	_, err := p.Generate(context.Background(), &media.GenerationRequest{Provider: Name, Prompt: "a cat"})
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrProviderRejected, e.Code)
	assert.Equal(t, types.StageSubmit, e.Stage)
	assert.Contains(t, e.Message, "50411")
	assert.Equal(t, "AKLT****3456", e.Credential)
	assert.Contains(t, e.Endpoint, "Action=CVSync2AsyncSubmitTask")
	assert.Equal(t, ReqKeyTextToImage, e.Payload["req_key"])
	assert.Equal(t, json.RawMessage(mock.submit), e.RawBody)
	assert.NotContains(t, e.Error(), testSK)
}

func TestGenerate_MissingTaskID(t *testing.T) {
	mock := newCVMock(t)
	mock.submit = `{"code":10000,"message":"Success","data":{}}`
	p := newTestProvider(mock.srv.URL, fullCreds())

	_, err := p.Generate(context.Background(), &media.GenerationRequest{Provider: Name, Prompt: "a cat"})
	assert.True(t, types.IsErrorCode(err, types.ErrUnexpectedResponse))
}

func TestGenerate_VideoUnsupported(t *testing.T) {
	p := newTestProvider("http://127.0.0.1:1", fullCreds())
	_, err := p.Generate(context.Background(), &media.GenerationRequest{Provider: Name, Prompt: "waves", MediaType: media.MediaTypeVideo})
	assert.True(t, types.IsErrorCode(err, types.ErrValidation))
}

func TestCheckStatus_SignsFreshAndCompletes(t *testing.T) {
	mock := newCVMock(t)
	p := newTestProvider(mock.srv.URL, fullCreds())

	sub, err := p.Generate(context.Background(), &media.GenerationRequest{Provider: Name, Prompt: "a cat"})
	require.NoError(t, err)

	var last *media.Outcome
	for i := 0; i < 3; i++ {
		last, err = p.CheckStatus(context.Background(), sub.TaskID, sub.PollingContext)
		require.NoError(t, err)
		if i < 2 {
			assert.Equal(t, media.StatusInProgress, last.Status)
			assert.Empty(t, last.Images)
		}
	}
	assert.Equal(t, media.StatusCompleted, last.Status)
	require.Len(t, last.Images, 2)
	assert.Equal(t, "https://cdn.volc/2.png", last.Images[1].URL)

	calls := mock.recorded()
	require.Len(t, calls, 4)
	seen := map[string]bool{}
	for _, c := range calls {
		assert.False(t, seen[c.XDate], "X-Date reused")
		seen[c.XDate] = true
	}
	status := calls[1]
	assert.Equal(t, actionResult, status.Action)
	assert.Equal(t, sub.TaskID, status.Body["task_id"])
	assert.Equal(t, ReqKeyTextToImage, status.Body["req_key"])
	assert.JSONEq(t, `{"return_url":true}`, status.Body["req_json"].(string))
}

func TestCheckStatus_TerminalFailures(t *testing.T) {
	for _, native := range []string{StatusNotFound, StatusExpired, StatusFailed} {
		t.Run(native, func(t *testing.T) {
			mock := newCVMock(t)
			mock.statuses = []string{native}
			p := newTestProvider(mock.srv.URL, fullCreds())

			pc, err := media.NewPollingContext(pollingContext{ReqKey: ReqKeyTextToImage, Region: "cn-north-1", Service: "cv"})
			require.NoError(t, err)
			out, err := p.CheckStatus(context.Background(), "task-1", pc)
			require.NoError(t, err)
			assert.Equal(t, media.StatusFailed, out.Status)
			assert.Contains(t, out.Error, native)
		})
	}
}

func TestCheckStatus_ExhaustedRetriesAreNotFailures(t *testing.T) {
	for _, code := range []int{http.StatusTooManyRequests, http.StatusInternalServerError} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			mock := newCVMock(t)
			mock.busy = code
			p := newTestProvider(mock.srv.URL, fullCreds())

			pc, err := media.NewPollingContext(pollingContext{ReqKey: ReqKeyTextToImage, Region: "cn-north-1", Service: "cv"})
			require.NoError(t, err)
			out, err := p.CheckStatus(context.Background(), "task-1", pc)
			assert.Nil(t, out)
			require.Error(t, err)
			e, ok := types.AsError(err)
			require.True(t, ok)
			assert.Equal(t, code, e.HTTPStatus)
			assert.True(t, e.Retryable)

			calls := mock.recorded()
			assert.Len(t, calls, httpclient.DefaultConfig().StatusRetries+1)
			seen := map[string]bool{}
			for _, c := range calls {
				assert.False(t, seen[c.XDate], "retries are signed fresh")
				seen[c.XDate] = true
			}
		})
	}
}

func TestCheckStatus_NoContext(t *testing.T) {
	p := newTestProvider("http://127.0.0.1:1", fullCreds())
	_, err := p.CheckStatus(context.Background(), "task-1", nil)
	assert.True(t, types.IsErrorCode(err, types.ErrValidation))
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, media.StatusCompleted, MapStatus("done"))
	assert.Equal(t, media.StatusInProgress, MapStatus("in_queue"))
	assert.Equal(t, media.StatusInProgress, MapStatus("generating"))
	assert.Equal(t, media.StatusFailed, MapStatus("not_found"))
	assert.Equal(t, media.StatusFailed, MapStatus("expired"))
}
