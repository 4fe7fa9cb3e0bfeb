package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for all session hashes.
	SessionPrefix = "session:"

	// OnlineKey is the Redis set of connection ids currently online.
	OnlineKey = "sessions:online"

	// SessionTTL is the time-to-live for session keys in Redis.
	SessionTTL = 1 * time.Hour
)

// Store mirrors sessions into Redis. The Registry stays authoritative; the
// mirror is best-effort and only read by external tooling.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this relay instance
}

// NewStore creates a new session store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return NewStoreWithClient(client, serverName), nil
}

// NewStoreWithClient wraps an existing Redis client.
func NewStoreWithClient(client *redis.Client, serverName string) *Store {
	return &Store{client: client, serverName: serverName}
}

// Put writes the session hash and refreshes its TTL.
func (s *Store) Put(ctx context.Context, sess Session) error {
	key := SessionPrefix + sess.ID

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"id":           sess.ID,
		"username":     sess.Username,
		"current_room": sess.CurrentRoom,
		"joined_at":    sess.JoinedAt,
		"server":       s.serverName,
		"last_active":  time.Now().Unix(),
	})
	pipe.Expire(ctx, key, SessionTTL)
	pipe.SAdd(ctx, OnlineKey, sess.ID)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("session: put %s: %w", sess.ID, err)
	}
	return nil
}

// SetRoom updates the mirrored current room and refreshes the TTL.
func (s *Store) SetRoom(ctx context.Context, sessionID, room string) error {
	key := SessionPrefix + sessionID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "current_room", room, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a mirrored session. Returns nil if not found.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	key := SessionPrefix + sessionID
	var sess Session
	err := s.client.HGetAll(ctx, key).Scan(&sess)
	if err != nil {
		return nil, err
	}
	if sess.ID == "" {
		return nil, nil // not found
	}
	return &sess, nil
}

// Online returns the number of mirrored sessions.
func (s *Store) Online(ctx context.Context) (int64, error) {
	return s.client.SCard(ctx, OnlineKey).Result()
}

// Delete removes a mirrored session.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, SessionPrefix+sessionID)
	pipe.SRem(ctx, OnlineKey, sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
