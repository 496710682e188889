// Package session manages the per-connection participant records backed by
// Redis. A record exists exactly as long as its connection is considered
// live; the relay uses record existence as its liveness check.
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

	// SessionTTL is the time-to-live for session keys in Redis.
	SessionTTL = 1 * time.Hour

	// Status constants mirroring the participant's server-side state.
	StatusIdle    = "idle"
	StatusWaiting = "waiting"
	StatusPaired  = "paired"
)

// Session is one participant's connection record.
type Session struct {
	Handle     string `redis:"handle"`
	Status     string `redis:"status"`     // idle | waiting | paired
	PairingID  string `redis:"pairing_id"` // empty unless paired
	Server     string `redis:"server"`     // which server instance holds the socket
	CreatedAt  int64  `redis:"created_at"` // unix timestamp
	LastActive int64  `redis:"last_active"`
}

// Store manages session records in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this server instance
}

// NewStore creates a session store connected to Redis.
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

	return &Store{client: client, serverName: serverName}, nil
}

// Create stores a fresh idle record for a newly connected handle.
func (s *Store) Create(ctx context.Context, handle string) error {
	key := SessionPrefix + handle
	now := time.Now().Unix()

	record := map[string]interface{}{
		"handle":      handle,
		"status":      StatusIdle,
		"pairing_id":  "",
		"server":      s.serverName,
		"created_at":  now,
		"last_active": now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, record)
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a session record. Returns nil if not found.
func (s *Store) Get(ctx context.Context, handle string) (*Session, error) {
	key := SessionPrefix + handle
	var sess Session
	err := s.client.HGetAll(ctx, key).Scan(&sess)
	if err != nil {
		return nil, err
	}
	if sess.Handle == "" {
		return nil, nil // not found
	}
	return &sess, nil
}

// Alive reports whether a record exists for the handle. It implements the
// relay's liveness check, so it works across server instances.
func (s *Store) Alive(ctx context.Context, handle string) (bool, error) {
	n, err := s.client.Exists(ctx, SessionPrefix+handle).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateStatus updates the status field and refreshes the TTL.
func (s *Store) UpdateStatus(ctx context.Context, handle string, status string) error {
	key := SessionPrefix + handle
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "status", status, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// SetPairing records the active pairing and marks the session paired.
func (s *Store) SetPairing(ctx context.Context, handle string, pairingID string) error {
	key := SessionPrefix + handle
	return s.client.HSet(ctx, key, "pairing_id", pairingID, "status", StatusPaired, "last_active", time.Now().Unix()).Err()
}

// ClearPairing removes the pairing reference and resets the status to idle.
func (s *Store) ClearPairing(ctx context.Context, handle string) error {
	key := SessionPrefix + handle
	return s.client.HSet(ctx, key, "pairing_id", "", "status", StatusIdle, "last_active", time.Now().Unix()).Err()
}

// RefreshTTL extends the session's TTL.
func (s *Store) RefreshTTL(ctx context.Context, handle string) error {
	key := SessionPrefix + handle
	return s.client.Expire(ctx, key, SessionTTL).Err()
}

// Delete removes a session record.
func (s *Store) Delete(ctx context.Context, handle string) error {
	key := SessionPrefix + handle
	return s.client.Del(ctx, key).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
