package jobstore

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/mediaflow/media"
)

// MemoryStore 把任务保存在进程内存中，重启后不保留。
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	now  func() time.Time
}

// NewMemoryStore 创建空的 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job), now: time.Now}
}

// Create 实现 Store。
func (s *MemoryStore) Create(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return ErrExists
	}
	s.jobs[job.ID] = clone(job)
	return nil
}

// Get 实现 Store。
func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(job), nil
}

// Apply 实现 Store。
func (s *MemoryStore) Apply(_ context.Context, id string, out *media.Outcome) (*Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	changed := advance(job, out, s.now())
	return clone(job), changed, nil
}

// Ping 实现 Store。
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close 实现 Store。
func (s *MemoryStore) Close() error { return nil }
