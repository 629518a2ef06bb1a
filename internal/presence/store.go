// Package presence provides a Redis mirror of the relay's in-memory
// presence state. The registry stays authoritative — the mirror only gives
// operators (and future services) a queryable view of who is online, and
// its loss never affects routing. Keys expire on their own so a crashed
// server leaves no ghosts behind.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for all presence hashes.
	KeyPrefix = "presence:"

	// EntryTTL is the time-to-live for presence keys. Live connections
	// refresh it on every status change.
	EntryTTL = 1 * time.Hour
)

// Presence is one user's mirrored state.
type Presence struct {
	UserID   string `redis:"user_id"`
	Name     string `redis:"name"`
	Avatar   string `redis:"avatar"`
	Status   string `redis:"status"`
	LastSeen int64  `redis:"last_seen"` // unix timestamp
}

// Store mirrors presence state into Redis.
type Store struct {
	client *redis.Client
}

// NewStore connects to Redis at redisAddr and verifies the connection.
func NewStore(redisAddr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("presence: redis connection failed: %w", err)
	}

	return &Store{client: client}, nil
}

// Set writes the full presence hash for a user and arms the TTL. Called on
// handshake.
func (s *Store) Set(ctx context.Context, userID, name, avatar, status string, lastSeen time.Time) error {
	key := KeyPrefix + userID

	fields := map[string]interface{}{
		"user_id":   userID,
		"name":      name,
		"avatar":    avatar,
		"status":    status,
		"last_seen": lastSeen.Unix(),
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, EntryTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// SetStatus updates only the status and last-seen fields and refreshes the
// TTL. Called on explicit status records.
func (s *Store) SetStatus(ctx context.Context, userID, status string, lastSeen time.Time) error {
	key := KeyPrefix + userID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "status", status, "last_seen", lastSeen.Unix())
	pipe.Expire(ctx, key, EntryTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a user's mirrored presence. Returns nil if not present.
func (s *Store) Get(ctx context.Context, userID string) (*Presence, error) {
	key := KeyPrefix + userID
	var p Presence
	if err := s.client.HGetAll(ctx, key).Scan(&p); err != nil {
		return nil, err
	}
	if p.UserID == "" {
		return nil, nil // not found
	}
	return &p, nil
}

// Delete removes a user's mirrored presence. Called on disconnect of the
// current registry holder.
func (s *Store) Delete(ctx context.Context, userID string) error {
	return s.client.Del(ctx, KeyPrefix+userID).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages
// (the rate limiter shares it).
func (s *Store) Client() *redis.Client {
	return s.client
}
