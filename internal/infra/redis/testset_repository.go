package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"vlat-exam-service/internal/domain"
)

// TestSetLoader fetches exam content from a backing store (e.g., Postgres).
type TestSetLoader interface {
	LoadTestSet(ctx context.Context, setID int) (domain.TestSet, error)
}

// TestSetRepository caches whole test sets as JSON in Redis and falls back to
// a loader on cache miss. Key: vlat:testset:{setID}.
type TestSetRepository struct {
	client *redis.Client
	loader TestSetLoader
	ttl    time.Duration
	sf     singleflight.Group
}

func NewTestSetRepository(client *redis.Client, loader TestSetLoader, ttl time.Duration) *TestSetRepository {
	return &TestSetRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
	}
}

func (r *TestSetRepository) GetTestSet(ctx context.Context, setID int) (domain.TestSet, error) {
	key := r.key(setID)

	data, err := r.client.Get(ctx, key).Bytes()
	if err == nil {
		var set domain.TestSet
		if uerr := json.Unmarshal(data, &set); uerr == nil {
			return set, nil
		}
		// Corrupt cache entry: fall through and reload.
	}

	result, err, _ := r.sf.Do(strconv.Itoa(setID), func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		data, err := r.client.Get(ctx, key).Bytes()
		if err == nil {
			var set domain.TestSet
			if uerr := json.Unmarshal(data, &set); uerr == nil {
				return set, nil
			}
		}

		set, err := r.loader.LoadTestSet(ctx, setID)
		if err != nil {
			return domain.TestSet{}, err
		}

		encoded, err := json.Marshal(set)
		if err != nil {
			return domain.TestSet{}, fmt.Errorf("marshal test set: %w", err)
		}
		_ = r.client.Set(ctx, key, encoded, r.ttlWithJitter()).Err()
		return set, nil
	})
	if err != nil {
		return domain.TestSet{}, err
	}
	return result.(domain.TestSet), nil
}

func (r *TestSetRepository) key(setID int) string {
	return "vlat:testset:" + strconv.Itoa(setID)
}

// ttlWithJitter adds up to 10% jitter to spread expirations. The top-level
// rand functions are safe for concurrent cache fills of different sets.
func (r *TestSetRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(rand.Int63n(jitterMax+1))
}
