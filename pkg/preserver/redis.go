package preserver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	ierrors "github.com/serhiybutz/docindexer/internal/errors"
	"github.com/serhiybutz/docindexer/pkg/fragmentation"
)

const redisKeyPrefix = "docindexer:fragmentation:"

// RedisPreserver keeps the snapshot in a Redis hash. Transient failures are
// retried with backoff.
type RedisPreserver struct {
	rdb     *redis.Client
	key     string
	retry   ierrors.RetryConfig
	ownsRDB bool
}

var _ fragmentation.Preserver = (*RedisPreserver)(nil)

// NewRedisPreserver stores the snapshot of the index identified by key. The
// caller keeps ownership of rdb.
func NewRedisPreserver(rdb *redis.Client, key string) (*RedisPreserver, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	if key == "" {
		return nil, errors.New("index key is required")
	}
	retry := ierrors.DefaultRetryConfig()
	retry.ShouldRetry = ierrors.IsRetryable
	return &RedisPreserver{rdb: rdb, key: redisKeyPrefix + key, retry: retry}, nil
}

// Key returns the Redis key of the hash.
func (p *RedisPreserver) Key() string {
	return p.key
}

// Preserve implements fragmentation.Preserver.
func (p *RedisPreserver) Preserve(ctx context.Context, s fragmentation.Snapshot) error {
	return ierrors.Retry(ctx, p.retry, func() error {
		err := p.rdb.HSet(ctx, p.key,
			"max_document_id", s.MaxDocumentID,
			"document_count", s.DocumentCount,
			"updated_at", time.Now().UTC().Format(time.RFC3339),
		).Err()
		if err != nil {
			return ierrors.NetworkError("failed to store snapshot", err)
		}
		return nil
	})
}

// Restore implements fragmentation.Preserver.
func (p *RedisPreserver) Restore(ctx context.Context) (fragmentation.Snapshot, error) {
	fields, err := ierrors.RetryWithResult(ctx, p.retry, func() (map[string]string, error) {
		m, err := p.rdb.HGetAll(ctx, p.key).Result()
		if err != nil {
			return nil, ierrors.NetworkError("failed to load snapshot", err)
		}
		return m, nil
	})
	if err != nil {
		return fragmentation.Snapshot{}, err
	}
	if len(fields) == 0 {
		return fragmentation.Snapshot{}, fragmentation.ErrNoSnapshot
	}

	maxID, err := strconv.ParseInt(fields["max_document_id"], 10, 64)
	if err != nil {
		return fragmentation.Snapshot{}, fmt.Errorf("invalid max_document_id in %s: %w", p.key, err)
	}
	count, err := strconv.ParseInt(fields["document_count"], 10, 64)
	if err != nil {
		return fragmentation.Snapshot{}, fmt.Errorf("invalid document_count in %s: %w", p.key, err)
	}
	return fragmentation.Snapshot{MaxDocumentID: maxID, DocumentCount: count}, nil
}

// Close implements Store. The client is closed only when the preserver
// created it.
func (p *RedisPreserver) Close() error {
	if p.ownsRDB {
		return p.rdb.Close()
	}
	return nil
}
