package memory

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"vlat-exam-service/internal/domain"
)

// TestSetLoader fetches exam content from a backing store (static JSON,
// Postgres).
type TestSetLoader interface {
	LoadTestSet(ctx context.Context, setID int) (domain.TestSet, error)
}

// TestSetRepository caches test sets with TTL to avoid repeated store hits.
// Content is immutable, so the TTL only bounds staleness after a re-seed.
type TestSetRepository struct {
	loader TestSetLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	cache map[int]cachedTestSet
}

type cachedTestSet struct {
	set       domain.TestSet
	expiresAt time.Time
}

func NewTestSetRepository(loader TestSetLoader, ttl time.Duration) *TestSetRepository {
	return &TestSetRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		cache:  make(map[int]cachedTestSet),
	}
}

func (r *TestSetRepository) GetTestSet(ctx context.Context, setID int) (domain.TestSet, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[setID]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.set, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(strconv.Itoa(setID), func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[setID]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.set, nil
		}
		r.mu.RUnlock()

		set, err := r.loader.LoadTestSet(ctx, setID)
		if err != nil {
			return domain.TestSet{}, err
		}

		r.mu.Lock()
		r.cache[setID] = cachedTestSet{
			set:       set,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return set, nil
	})
	if err != nil {
		return domain.TestSet{}, err
	}
	return result.(domain.TestSet), nil
}

// StaticTestSetLoader is a loader backed by an in-memory catalog (useful for
// tests/demos).
type StaticTestSetLoader struct {
	sets map[int]domain.TestSet
}

func NewStaticTestSetLoader(sets map[int]domain.TestSet) *StaticTestSetLoader {
	return &StaticTestSetLoader{sets: sets}
}

func (l *StaticTestSetLoader) LoadTestSet(_ context.Context, setID int) (domain.TestSet, error) {
	if set, ok := l.sets[setID]; ok {
		return set, nil
	}
	return domain.TestSet{}, domain.ErrTestSetNotFound
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
