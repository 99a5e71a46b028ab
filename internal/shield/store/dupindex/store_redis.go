package dupindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"idshield/internal/shield/models"
	"idshield/pkg/requestcontext"
)

const fingerprintKeyPrefix = "shield:fp:"

type redisRecord struct {
	RecordID   string    `json:"record_id"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Redis shares the index across instances. It needs Redis 7 or later for
// SET with both NX and GET.
type Redis struct {
	client *redis.Client
	prefix string
}

// RedisOption configures a Redis index.
type RedisOption func(*Redis)

// WithKeyPrefix overrides the key prefix, mainly for test isolation.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// NewRedis constructs a Redis-backed index.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: fingerprintKeyPrefix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// CheckAndRecord writes the candidate record only if the key is absent and
// reads back any previous value in the same command.
func (r *Redis) CheckAndRecord(ctx context.Context, fingerprint string) (models.DuplicateCheck, error) {
	candidate := redisRecord{
		RecordID:   NewRecordID(),
		RecordedAt: requestcontext.Now(ctx).UTC(),
	}
	payload, err := json.Marshal(candidate)
	if err != nil {
		return models.DuplicateCheck{}, fmt.Errorf("marshal fingerprint record: %w", err)
	}

	prev, err := r.client.SetArgs(ctx, r.prefix+fingerprint, payload, redis.SetArgs{
		Mode: "NX",
		Get:  true,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return models.DuplicateCheck{Record: candidate.toModel()}, nil
	}
	if err != nil {
		return models.DuplicateCheck{}, fmt.Errorf("check and record fingerprint: %w", err)
	}

	var existing redisRecord
	if err := json.Unmarshal([]byte(prev), &existing); err != nil {
		return models.DuplicateCheck{}, fmt.Errorf("decode fingerprint record: %w", err)
	}
	return models.DuplicateCheck{Duplicate: true, Record: existing.toModel()}, nil
}

// Health pings the server.
func (r *Redis) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r redisRecord) toModel() models.DuplicateRecord {
	return models.DuplicateRecord{RecordID: r.RecordID, RecordedAt: r.RecordedAt}
}
