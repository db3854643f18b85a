package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const onlineKey = "presence:online"

// RedisMirror publishes the online user set as a Redis hash keyed by user id,
// so processes without access to the hub can answer "who is online".
type RedisMirror struct {
	client *redis.Client
	key    string
}

func NewRedisMirror(redisURL string) (*RedisMirror, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	m := &RedisMirror{client: client, key: onlineKey}
	// A previous process may have died without clearing its users.
	if err := m.Reset(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return m, nil
}

func (m *RedisMirror) Online(ctx context.Context, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal presence entry: %w", err)
	}
	if err := m.client.HSet(ctx, m.key, entry.UserID, payload).Err(); err != nil {
		return fmt.Errorf("mirror online user: %w", err)
	}
	return nil
}

func (m *RedisMirror) Offline(ctx context.Context, userID string) error {
	if err := m.client.HDel(ctx, m.key, userID).Err(); err != nil {
		return fmt.Errorf("mirror offline user: %w", err)
	}
	return nil
}

// Online users as last mirrored.
func (m *RedisMirror) Entries(ctx context.Context) ([]Entry, error) {
	raw, err := m.client.HGetAll(ctx, m.key).Result()
	if err != nil {
		return nil, fmt.Errorf("read mirrored presence: %w", err)
	}
	entries := make([]Entry, 0, len(raw))
	for userID, payload := range raw {
		var entry Entry
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal presence for %s: %w", userID, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (m *RedisMirror) Reset(ctx context.Context) error {
	if err := m.client.Del(ctx, m.key).Err(); err != nil {
		return fmt.Errorf("reset mirrored presence: %w", err)
	}
	return nil
}

func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

func (m *RedisMirror) Close() error {
	return m.client.Close()
}
