package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/internal/jobstore"
	"github.com/BaSui01/mediaflow/media"
	"github.com/BaSui01/mediaflow/types"
)

// =============================================================================
// 🎨 生成任务 Handler
// =============================================================================

// codeNotFound 仅用于网关自身的 404，不属于提供商错误分类
const codeNotFound types.ErrorCode = "NOT_FOUND"

// Dispatcher 分发统一请求到提供商适配器，由 media.Registry 实现
type Dispatcher interface {
	Generate(ctx context.Context, req *media.GenerationRequest) (*media.Submission, error)
	CheckStatus(ctx context.Context, provider, taskID string, pc media.PollingContext) (*media.Outcome, error)
	List() []string
}

// Recorder 记录任务指标，由 metrics.Collector 实现
type Recorder interface {
	RecordSubmission(provider, mode string, err error)
	RecordStatusTransition(provider, from, to string)
}

type nopRecorder struct{}

func (nopRecorder) RecordSubmission(string, string, error)         {}
func (nopRecorder) RecordStatusTransition(string, string, string) {}

// GenerationHandler 提交生成任务并按需轮询一次
type GenerationHandler struct {
	dispatcher Dispatcher
	store      jobstore.Store
	recorder   Recorder
	logger     *zap.Logger
	now        func() time.Time
}

// NewGenerationHandler 创建生成任务处理器，recorder 可为 nil
func NewGenerationHandler(d Dispatcher, store jobstore.Store, recorder Recorder, logger *zap.Logger) *GenerationHandler {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerationHandler{
		dispatcher: d,
		store:      store,
		recorder:   recorder,
		logger:     logger.With(zap.String("component", "generation_handler")),
		now:        time.Now,
	}
}

// Register 在 mux 上注册路由
func (h *GenerationHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/generations", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/generations/{id}", h.HandleGet)
	mux.HandleFunc("GET /api/v1/providers", h.HandleProviders)
}

// HandleCreate 处理 POST /api/v1/generations。
// 同步完成的任务直接以 COMPLETED 入库，其余返回 202。
func (h *GenerationHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if err := ValidateContentType(r); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	var req media.GenerationRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	sub, err := h.dispatcher.Generate(r.Context(), &req)
	h.recorder.RecordSubmission(req.Provider, string(req.EffectiveMode()), err)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	job := jobstore.NewJob(req.Provider, sub, h.now())
	if err := h.store.Create(r.Context(), job); err != nil {
		WriteError(w, types.NewError(types.ErrInternal, "could not persist job").WithCause(err), h.logger)
		return
	}
	h.recorder.RecordStatusTransition(job.Provider, "", string(job.Status))

	h.logger.Info("generation submitted",
		zap.String("job_id", job.ID),
		zap.String("provider", job.Provider),
		zap.String("task_id", job.TaskID),
		zap.String("status", string(job.Status)),
	)

	status := http.StatusAccepted
	if job.Status.IsTerminal() {
		status = http.StatusOK
	}
	WriteStatus(w, status, job)
}

// HandleGet 处理 GET /api/v1/generations/{id}。
// 非终态任务在返回前查询一次提供商状态，结果只前进不后退。
func (h *GenerationHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := h.store.Get(r.Context(), id)
	if errors.Is(err, jobstore.ErrNotFound) {
		WriteErrorMessage(w, http.StatusNotFound, codeNotFound, "generation "+id+" not found")
		return
	}
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternal, "could not load job").WithCause(err), h.logger)
		return
	}
	if job.Status.IsTerminal() {
		WriteSuccess(w, job)
		return
	}

	ctx := types.WithJobID(r.Context(), job.ID)
	out, err := h.dispatcher.CheckStatus(ctx, job.Provider, job.TaskID, job.PollingContext)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	from := job.Status
	job, changed, err := h.store.Apply(ctx, id, out)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternal, "could not update job").WithCause(err), h.logger)
		return
	}
	if changed {
		h.recorder.RecordStatusTransition(job.Provider, string(from), string(job.Status))
		h.logger.Info("generation status changed",
			zap.String("job_id", job.ID),
			zap.String("provider", job.Provider),
			zap.String("from", string(from)),
			zap.String("to", string(job.Status)),
		)
	}
	WriteSuccess(w, job)
}

// HandleProviders 处理 GET /api/v1/providers
func (h *GenerationHandler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, map[string][]string{"providers": h.dispatcher.List()})
}
