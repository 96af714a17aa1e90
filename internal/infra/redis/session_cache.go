package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"vlat-exam-service/internal/domain"
)

// SessionCache is a Redis-backed implementation of app.SessionCache for one
// user. All keys carry the user ID, so two users sharing the Redis instance
// never see each other's sessions or cached progress. Session snapshots are
// plain keys with a TTL, so the 24h restore window is enforced by Redis
// expiry itself; progress views live in one per-user hash with no expiry.
type SessionCache struct {
	client *redis.Client
	userID string
	ttl    time.Duration
}

func NewSessionCache(client *redis.Client, userID string, ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionCache{client: client, userID: userID, ttl: ttl}
}

func (c *SessionCache) SaveSession(setID int, state domain.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return c.client.Set(context.Background(), c.sessionKey(setID), data, c.ttl).Err()
}

func (c *SessionCache) LoadSession(setID int) (domain.SessionState, bool, error) {
	data, err := c.client.Get(context.Background(), c.sessionKey(setID)).Bytes()
	if err == redis.Nil {
		return domain.SessionState{}, false, nil
	}
	if err != nil {
		return domain.SessionState{}, false, fmt.Errorf("load session: %w", err)
	}
	var state domain.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.SessionState{}, false, fmt.Errorf("unmarshal session: %w", err)
	}
	return state, true, nil
}

func (c *SessionCache) ClearSession(setID int) error {
	return c.client.Del(context.Background(), c.sessionKey(setID)).Err()
}

func (c *SessionCache) SaveProgressView(setID int, view domain.ProgressView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("marshal progress view: %w", err)
	}
	return c.client.HSet(context.Background(), c.progressKey(), strconv.Itoa(setID), data).Err()
}

func (c *SessionCache) LoadProgressView(setID int) (domain.ProgressView, bool, error) {
	data, err := c.client.HGet(context.Background(), c.progressKey(), strconv.Itoa(setID)).Bytes()
	if err == redis.Nil {
		return domain.ProgressView{}, false, nil
	}
	if err != nil {
		return domain.ProgressView{}, false, fmt.Errorf("load progress view: %w", err)
	}
	var view domain.ProgressView
	if err := json.Unmarshal(data, &view); err != nil {
		return domain.ProgressView{}, false, fmt.Errorf("unmarshal progress view: %w", err)
	}
	return view, true, nil
}

func (c *SessionCache) LoadAllProgressViews() (map[int]domain.ProgressView, error) {
	fields, err := c.client.HGetAll(context.Background(), c.progressKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("load progress views: %w", err)
	}
	views := make(map[int]domain.ProgressView, len(fields))
	for field, data := range fields {
		setID, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		var view domain.ProgressView
		if err := json.Unmarshal([]byte(data), &view); err != nil {
			continue
		}
		views[setID] = view
	}
	return views, nil
}

func (c *SessionCache) Clear() error {
	ctx := context.Background()
	keys := []string{c.progressKey()}
	for setID := 1; setID <= domain.CatalogSize; setID++ {
		keys = append(keys, c.sessionKey(setID))
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *SessionCache) progressKey() string {
	return "vlat:progress:" + c.userID
}

func (c *SessionCache) sessionKey(setID int) string {
	return "vlat:session:" + c.userID + ":" + strconv.Itoa(setID)
}
