// Package jobstore 持久化网关任务记录。任务是网关对一个提供商任务的记录，
// 轮询状态保存在这里，不在适配器中。
package jobstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/mediaflow/media"
)

// ErrNotFound 在任务 ID 未知时返回。
var ErrNotFound = errors.New("job not found")

// ErrExists 在创建的任务 ID 已被占用时返回。
var ErrExists = errors.New("job already exists")

// Job 是一个生成任务的持久化记录。
type Job struct {
	ID             string               `json:"id"`
	Provider       string               `json:"provider"`
	TaskID         string               `json:"taskId"`
	Status         media.Status         `json:"status"`
	Images         []media.Image        `json:"images,omitempty"`
	PollingContext media.PollingContext `json:"pollingContext,omitempty"`
	Error          string               `json:"error,omitempty"`
	Polls          int                  `json:"polls"`
	CreatedAt      time.Time            `json:"createdAt"`
	UpdatedAt      time.Time            `json:"updatedAt"`
}

// NewJob 由提交结果构建任务记录。
func NewJob(provider string, sub *media.Submission, now time.Time) *Job {
	return &Job{
		ID:             uuid.NewString(),
		Provider:       provider,
		TaskID:         sub.TaskID,
		Status:         sub.Status,
		Images:         sub.Images,
		PollingContext: sub.PollingContext,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Store 持久化任务。Create 之后唯一的变更是 Apply，
// 且永不让任务回退。
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// Apply 把状态结果合并进任务，报告状态是否变化；
	// 回退或终态之后的结果被忽略。
	Apply(ctx context.Context, id string, out *media.Outcome) (*Job, bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// advance 就地把 out 应用到 job，返回状态是否变化。
func advance(job *Job, out *media.Outcome, now time.Time) bool {
	job.Polls++
	job.UpdatedAt = now
	if out == nil || !job.Status.CanTransition(out.Status) {
		return false
	}
	changed := job.Status != out.Status
	job.Status = out.Status
	if out.Status == media.StatusCompleted {
		job.Images = out.Images
	}
	if out.Status == media.StatusFailed {
		job.Error = out.Error
	}
	return changed
}

func clone(j *Job) *Job {
	c := *j
	c.Images = append([]media.Image(nil), j.Images...)
	c.PollingContext = append(media.PollingContext(nil), j.PollingContext...)
	return &c
}
