package exporting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/yeti47/crop-exporter/ccc/logging"
)

// RedisConfig holds the Redis connection settings
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// ErrEmptyRedisAddress is returned when the Redis address is not configured
var ErrEmptyRedisAddress = errors.New("redis address is required")

const redisConnectionTimeout = 2 * time.Second

// NewRedisClient creates a Redis client and verifies the connection
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyRedisAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisStreamSink publishes export tasks to a Redis stream consumed by an
// uploader elsewhere. The stream is capped at maxLen entries; the oldest are
// trimmed first.
type RedisStreamSink struct {
	logger logging.Logger
	client *redis.Client
	stream string
	bucket string
	maxLen int64
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
}

// NewRedisStreamSink creates a sink writing to stream. maxLen <= 0 disables trimming.
func NewRedisStreamSink(logger logging.Logger, client *redis.Client, stream, bucket string, maxLen int64) *RedisStreamSink {
	if logger == nil {
		logger = logging.NopLogger
	}
	return &RedisStreamSink{
		logger: logger,
		client: client,
		stream: stream,
		bucket: bucket,
		maxLen: maxLen,
		now:    time.Now,
	}
}

// SequenceKey returns the key of the counter handing out sequence numbers
func (s *RedisStreamSink) SequenceKey() string {
	return s.stream + ":seq"
}

// Submit appends the export task to the stream and returns its sequence number
func (s *RedisStreamSink) Submit(ctx context.Context, localFileURI, remoteKey string) (int64, error) {
	if localFileURI == "" || remoteKey == "" {
		return 0, ErrInvalidSubmission
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrSinkClosed
	}

	sequence, err := s.client.Incr(ctx, s.SequenceKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("incr sequence: %w", err)
	}

	task := &Task{
		ID:        uuid.NewString(),
		Sequence:  sequence,
		InputURL:  localFileURI,
		Bucket:    s.bucket,
		Key:       remoteKey,
		CreatedAt: s.now().UTC(),
	}
	payload, err := task.Payload()
	if err != nil {
		return 0, fmt.Errorf("marshal export task: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"id":        task.ID,
			"sequence":  sequence,
			"input_url": localFileURI,
			"bucket":    s.bucket,
			"key":       remoteKey,
			"task":      string(payload),
		},
	}

	// append and trim atomically
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, args)
		if s.maxLen > 0 {
			pipe.XTrimMaxLen(ctx, s.stream, s.maxLen)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("xadd: %w", err)
	}

	s.logger.Debug("Published export task", "stream", s.stream, "sequence", sequence, "key", remoteKey)
	return sequence, nil
}

// Close stops accepting submissions. The Redis client is owned by the caller.
func (s *RedisStreamSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
