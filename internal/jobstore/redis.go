package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/internal/cache"
	"github.com/BaSui01/mediaflow/media"
)

// DefaultKeyPrefix 是任务键的命名空间。
const DefaultKeyPrefix = "mediaflow:job:"

// RedisStore 以 JSON 值保存任务，键为 prefix+id。Apply 使用乐观事务，
// 并发的状态查询不会让任务回退。
type RedisStore struct {
	redis  *cache.Manager
	prefix string
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// NewRedisStore 创建 RedisStore，ttl 为零时使用 manager 的默认值。
func NewRedisStore(m *cache.Manager, prefix string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		redis:  m,
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With(zap.String("component", "jobstore")),
	}
}

func (s *RedisStore) key(id string) string { return s.prefix + id }

// Create 实现 Store。
func (s *RedisStore) Create(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	ok, err := s.redis.SetNX(ctx, s.key(job.ID), string(data), s.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrExists
	}
	return nil
}

// Get 实现 Store。
func (s *RedisStore) Get(ctx context.Context, id string) (*Job, error) {
	var job Job
	if err := s.redis.GetJSON(ctx, s.key(id), &job); err != nil {
		if cache.IsCacheMiss(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// Apply 实现 Store。
func (s *RedisStore) Apply(ctx context.Context, id string, out *media.Outcome) (*Job, bool, error) {
	var (
		result  *Job
		changed bool
	)
	err := s.redis.Update(ctx, s.key(id), s.ttl, func(current string) (string, error) {
		var job Job
		if err := json.Unmarshal([]byte(current), &job); err != nil {
			return "", fmt.Errorf("decode job %s: %w", id, err)
		}
		changed = advance(&job, out, s.now())
		result = &job
		data, err := json.Marshal(&job)
		if err != nil {
			return "", fmt.Errorf("encode job: %w", err)
		}
		return string(data), nil
	})
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, false, ErrNotFound
		}
		return nil, false, err
	}
	if changed {
		s.logger.Debug("job status advanced",
			zap.String("job_id", id),
			zap.String("status", string(result.Status)))
	}
	return result, changed, nil
}

// Ping 实现 Store。
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx)
}

// Close 实现 Store。共享的 manager 由其持有者关闭。
func (s *RedisStore) Close() error { return nil }
