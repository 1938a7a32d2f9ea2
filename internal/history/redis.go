package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ricesearch/placecal/internal/evaluation"
	apperrors "github.com/ricesearch/placecal/internal/pkg/errors"
)

// RedisStore keeps reports in Redis: one string key per report plus a sorted
// set indexed by finish time for listing.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration // 0 keeps reports forever
}

// NewRedisStore connects to url and verifies the connection.
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, apperrors.StorageError("parsing redis URL", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, apperrors.StorageError("connecting to redis", err)
	}

	return &RedisStore{
		client: client,
		prefix: "placecal:history:",
	}, nil
}

// SetTTL sets how long saved reports are kept. Expired entries are pruned
// from the index on the next Save.
func (rs *RedisStore) SetTTL(ttl time.Duration) {
	rs.ttl = ttl
}

func (rs *RedisStore) reportKey(runID string) string {
	return rs.prefix + "report:" + runID
}

func (rs *RedisStore) indexKey() string {
	return rs.prefix + "index"
}

// Save implements Store.
func (rs *RedisStore) Save(ctx context.Context, r *evaluation.Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return apperrors.StorageError("encode report", err)
	}

	pipe := rs.client.TxPipeline()
	pipe.Set(ctx, rs.reportKey(r.RunID), body, rs.ttl)
	pipe.ZAdd(ctx, rs.indexKey(), redis.Z{
		Score:  float64(r.FinishedAt.UnixNano()),
		Member: r.RunID,
	})
	if rs.ttl > 0 {
		minScore := time.Now().Add(-rs.ttl).UnixNano()
		pipe.ZRemRangeByScore(ctx, rs.indexKey(), "-inf", fmt.Sprintf("(%d", minScore))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.StorageError("saving report", err)
	}
	return nil
}

// Get implements Store.
func (rs *RedisStore) Get(ctx context.Context, runID string) (*evaluation.Report, error) {
	body, err := rs.client.Get(ctx, rs.reportKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, apperrors.StorageError("loading report", err)
	}
	var r evaluation.Report
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, apperrors.StorageError("decoding report", err)
	}
	return &r, nil
}

// List implements Store. Index entries whose report has expired are dropped.
func (rs *RedisStore) List(ctx context.Context, limit int) ([]Summary, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := rs.client.ZRevRange(ctx, rs.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, apperrors.StorageError("listing reports", err)
	}

	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		r, err := rs.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			rs.client.ZRem(ctx, rs.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, summarize(r))
	}
	return out, nil
}

// Delete implements Store.
func (rs *RedisStore) Delete(ctx context.Context, runID string) error {
	pipe := rs.client.TxPipeline()
	del := pipe.Del(ctx, rs.reportKey(runID))
	pipe.ZRem(ctx, rs.indexKey(), runID)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.StorageError("deleting report", err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return nil
}

// Close implements Store.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
