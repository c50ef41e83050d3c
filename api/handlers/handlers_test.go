package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/mediaflow/internal/jobstore"
	"github.com/BaSui01/mediaflow/media"
	"github.com/BaSui01/mediaflow/types"
)

// =============================================================================
// 🧪 测试辅助类型
// =============================================================================

type fakeDispatcher struct {
	mu        sync.Mutex
	sub       *media.Submission
	genErr    error
	outcomes  []*media.Outcome
	statusErr error
	checks    int
	lastReq   *media.GenerationRequest
}

func (f *fakeDispatcher) Generate(ctx context.Context, req *media.GenerationRequest) (*media.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastReq = req
	if f.genErr != nil {
		return nil, f.genErr
	}
	return f.sub, nil
}

func (f *fakeDispatcher) CheckStatus(ctx context.Context, provider, taskID string, pc media.PollingContext) (*media.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	out := f.outcomes[0]
	if len(f.outcomes) > 1 {
		f.outcomes = f.outcomes[1:]
	}
	return out, nil
}

func (f *fakeDispatcher) List() []string { return []string{"fal", "kling"} }

type recordedTransition struct{ provider, from, to string }

type fakeRecorder struct {
	mu          sync.Mutex
	submissions []string
	transitions []recordedTransition
}

func (r *fakeRecorder) RecordSubmission(provider, mode string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submissions = append(r.submissions, provider+"/"+mode)
}

func (r *fakeRecorder) RecordStatusTransition(provider, from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, recordedTransition{provider, from, to})
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *ErrorInfo      `json:"error"`
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func newMux(t *testing.T, d Dispatcher, store jobstore.Store, rec Recorder) *http.ServeMux {
	mux := http.NewServeMux()
	NewGenerationHandler(d, store, rec, zaptest.NewLogger(t)).Register(mux)
	return mux
}

func asyncSubmission(t *testing.T) *media.Submission {
	pc, err := media.NewPollingContext(map[string]string{"endpoint": "images"})
	require.NoError(t, err)
	return &media.Submission{TaskID: "task-1", Status: media.StatusQueued, PollingContext: pc}
}

func decodeJob(t *testing.T, raw json.RawMessage) jobstore.Job {
	var job jobstore.Job
	require.NoError(t, json.Unmarshal(raw, &job))
	return job
}

// =============================================================================
// 🧪 GenerationHandler 测试
// =============================================================================

func TestGeneration_AsyncLifecycle(t *testing.T) {
	done, err := media.Completed("kling", []string{"https://cdn/1.png"}, "")
	require.NoError(t, err)
	d := &fakeDispatcher{
		sub:      asyncSubmission(t),
		outcomes: []*media.Outcome{media.InProgress(), done},
	}
	rec := &fakeRecorder{}
	mux := newMux(t, d, jobstore.NewMemoryStore(), rec)

	w, resp := do(t, mux, http.MethodPost, "/api/v1/generations", `{"providerId":" Kling ","prompt":"a cat"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	created := decodeJob(t, resp.Data)
	assert.Equal(t, "kling", created.Provider)
	assert.Equal(t, "kling", d.lastReq.Provider)
	assert.Equal(t, media.StatusQueued, created.Status)
	assert.Equal(t, "task-1", created.TaskID)
	assert.JSONEq(t, `{"endpoint":"images"}`, string(created.PollingContext))

	w, resp = do(t, mux, http.MethodGet, "/api/v1/generations/"+created.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, media.StatusInProgress, decodeJob(t, resp.Data).Status)

	w, resp = do(t, mux, http.MethodGet, "/api/v1/generations/"+created.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	final := decodeJob(t, resp.Data)
	assert.Equal(t, media.StatusCompleted, final.Status)
	require.Len(t, final.Images, 1)
	assert.Equal(t, "https://cdn/1.png", final.Images[0].URL)

	// 终态后不再查询提供商
	_, _ = do(t, mux, http.MethodGet, "/api/v1/generations/"+created.ID, "")
	assert.Equal(t, 2, d.checks)

	assert.Equal(t, []string{"kling/text-to-image"}, rec.submissions)
	assert.Equal(t, []recordedTransition{
		{"kling", "", "QUEUED"},
		{"kling", "QUEUED", "IN_PROGRESS"},
		{"kling", "IN_PROGRESS", "COMPLETED"},
	}, rec.transitions)
}

func TestGeneration_SyncCompletionReturns200(t *testing.T) {
	d := &fakeDispatcher{sub: &media.Submission{
		TaskID: media.CompletedTaskID,
		Status: media.StatusCompleted,
		Images: []media.Image{{URL: "https://ark/1.jpeg"}},
	}}
	mux := newMux(t, d, jobstore.NewMemoryStore(), nil)

	w, resp := do(t, mux, http.MethodPost, "/api/v1/generations", `{"providerId":"seedream","prompt":"a cat"}`)
	require.Equal(t, http.StatusOK, w.Code)
	job := decodeJob(t, resp.Data)

	_, _ = do(t, mux, http.MethodGet, "/api/v1/generations/"+job.ID, "")
	assert.Zero(t, d.checks, "completed jobs are never polled")
}

func TestGeneration_BackwardOutcomeIgnored(t *testing.T) {
	d := &fakeDispatcher{
		sub:      &media.Submission{TaskID: "t", Status: media.StatusInProgress},
		outcomes: []*media.Outcome{{Status: media.StatusQueued}},
	}
	mux := newMux(t, d, jobstore.NewMemoryStore(), nil)

	_, resp := do(t, mux, http.MethodPost, "/api/v1/generations", `{"providerId":"fal","prompt":"x"}`)
	id := decodeJob(t, resp.Data).ID

	_, resp = do(t, mux, http.MethodGet, "/api/v1/generations/"+id, "")
	assert.Equal(t, media.StatusInProgress, decodeJob(t, resp.Data).Status)
}

func TestGeneration_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", types.NewValidationError("prompt is required"), http.StatusBadRequest},
		{"configuration", types.NewConfigurationError("fal", "FAL_KEY"), http.StatusServiceUnavailable},
		{"transport", types.NewError(types.ErrTransport, "timeout").WithProvider("fal"), http.StatusGatewayTimeout},
		{"rejected", types.NewError(types.ErrProviderRejected, "nsfw").WithHTTPStatus(422), http.StatusBadGateway},
		{"unexpected", types.NewError(types.ErrUnexpectedResponse, "no task id"), http.StatusBadGateway},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newMux(t, &fakeDispatcher{genErr: tt.err}, jobstore.NewMemoryStore(), nil)
			w, resp := do(t, mux, http.MethodPost, "/api/v1/generations", `{"providerId":"fal","prompt":"x"}`)
			assert.Equal(t, tt.want, w.Code)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.NotEmpty(t, resp.Error.Code)
		})
	}
}

func TestGeneration_ConfigurationErrorNamesMissingCredential(t *testing.T) {
	mux := newMux(t, &fakeDispatcher{genErr: types.NewConfigurationError("fal", "FAL_KEY")}, jobstore.NewMemoryStore(), nil)
	_, resp := do(t, mux, http.MethodPost, "/api/v1/generations", `{"providerId":"fal","prompt":"x"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "CONFIGURATION", resp.Error.Code)
	assert.Equal(t, "fal", resp.Error.Provider)
	assert.Contains(t, resp.Error.Message, "FAL_KEY")
}

func TestGeneration_StatusErrorLeavesJobUntouched(t *testing.T) {
	store := jobstore.NewMemoryStore()
	d := &fakeDispatcher{sub: asyncSubmission(t), statusErr: types.NewError(types.ErrTransport, "timeout")}
	mux := newMux(t, d, store, nil)

	_, resp := do(t, mux, http.MethodPost, "/api/v1/generations", `{"providerId":"kling","prompt":"x"}`)
	id := decodeJob(t, resp.Data).ID

	w, _ := do(t, mux, http.MethodGet, "/api/v1/generations/"+id, "")
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)

	job, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, media.StatusQueued, job.Status)
	assert.Zero(t, job.Polls)
}

func TestGeneration_BadRequests(t *testing.T) {
	mux := newMux(t, &fakeDispatcher{sub: asyncSubmission(t)}, jobstore.NewMemoryStore(), nil)

	w, _ := do(t, mux, http.MethodPost, "/api/v1/generations", `{"providerId":"fal","prompt":"x","colour":"red"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "unknown fields are rejected")

	w, _ = do(t, mux, http.MethodPost, "/api/v1/generations", `{"providerId":"fal"`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, mux, http.MethodPost, "/api/v1/generations", `{"providerId":"fal","prompt":"x"}{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/generations", bytes.NewReader([]byte(`{}`)))
	r.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	w, resp := do(t, mux, http.MethodGet, "/api/v1/generations/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestGeneration_Providers(t *testing.T) {
	mux := newMux(t, &fakeDispatcher{}, jobstore.NewMemoryStore(), nil)
	w, resp := do(t, mux, http.MethodGet, "/api/v1/providers", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"providers":["fal","kling"]}`, string(resp.Data))
}

// =============================================================================
// 🧪 Common 函数测试
// =============================================================================

func TestWriteJSON_Headers(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusTeapot, map[string]string{"k": "v"})
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestWriteError_HidesRawBody(t *testing.T) {
	w := httptest.NewRecorder()
	err := types.NewError(types.ErrProviderRejected, "content policy").
		WithProvider("fal").
		WithStage(types.StageSubmit).
		WithRawBody([]byte(`{"detail":"secret upstream detail"}`))
	WriteError(w, err, zaptest.NewLogger(t))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotContains(t, w.Body.String(), "secret upstream detail")

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "fal rejected the request: content policy", resp.Error.Message)
	assert.Equal(t, "submit", resp.Error.Stage)
}

func TestWriteSuccess_CarriesRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-42")
	WriteSuccess(w, "ok")

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "req-42", resp.RequestID)
}

func TestResponseWriter(t *testing.T) {
	rw := NewResponseWriter(httptest.NewRecorder())
	_, _ = rw.Write([]byte("hello"))
	rw.WriteHeader(http.StatusInternalServerError)

	assert.Equal(t, http.StatusOK, rw.StatusCode, "first status wins")
	assert.Equal(t, int64(5), rw.Bytes)
}

// =============================================================================
// 🧪 HealthHandler 测试
// =============================================================================

func TestHealthHandler(t *testing.T) {
	h := NewHealthHandler(zaptest.NewLogger(t))

	w := httptest.NewRecorder()
	h.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code, "no checks means ready")
}

func TestHealthHandler_Ready(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		want       string
	}{
		{"pass", nil, http.StatusOK, "healthy"},
		{"fail", errors.New("connection refused"), http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(zaptest.NewLogger(t))
			h.RegisterCheck(NewPingCheck("jobstore", func(ctx context.Context) error { return tt.err }))

			w := httptest.NewRecorder()
			h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
			assert.Equal(t, tt.wantStatus, w.Code)

			var status HealthStatus
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
			assert.Equal(t, tt.want, status.Status)
			require.Contains(t, status.Checks, "jobstore")
		})
	}
}

func TestHealthHandler_Version(t *testing.T) {
	h := NewHealthHandler(nil)
	w := httptest.NewRecorder()
	h.HandleVersion("1.2.3", "2026-01-01", "abc123")(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.JSONEq(t, `{"version":"1.2.3","build_time":"2026-01-01","git_commit":"abc123"}`, string(resp.Data))
}
