package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "reactagent:memory:"

// RedisSink appends entries to one Redis list per module.
type RedisSink struct {
	client   redis.Cmdable
	prefix   string
	maxItems int64
}

var _ Sink = (*RedisSink)(nil)

// RedisOption configures a RedisSink
type RedisOption func(*RedisSink)

// WithKeyPrefix overrides the list key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisSink) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithMaxItems caps each module list to the newest n entries.
func WithMaxItems(n int64) RedisOption {
	return func(s *RedisSink) {
		s.maxItems = n
	}
}

func NewRedisSink(client redis.Cmdable, opts ...RedisOption) *RedisSink {
	s := &RedisSink{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisSink) key(module string) string {
	return s.prefix + module
}

func (s *RedisSink) AddToModule(ctx context.Context, module, role, text string) error {
	payload, err := json.Marshal(Entry{
		Module:    module,
		Role:      role,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal memory entry: %w", err)
	}

	key := s.key(module)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	if s.maxItems > 0 {
		pipe.LTrim(ctx, key, -s.maxItems, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append %s: %w", key, err)
	}
	return nil
}

// Entries reads back the list for module, oldest first.
func (s *RedisSink) Entries(ctx context.Context, module string) ([]Entry, error) {
	raw, err := s.client.LRange(ctx, s.key(module), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read %s: %w", s.key(module), err)
	}
	out := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("decode memory entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}
