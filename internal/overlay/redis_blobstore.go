package overlay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBlobStore implements BlobStore on a Redis string key per blob.
type RedisBlobStore struct {
	client *redis.Client
	prefix string
}

// NewRedisBlobStore connects to Redis and verifies the connection.
func NewRedisBlobStore(addr, password string, db int) (*RedisBlobStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBlobStore{client: client, prefix: "signoverlay:blob:"}, nil
}

// LoadBlob implements BlobStore.LoadBlob.
func (s *RedisBlobStore) LoadBlob(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, true, nil
}

// SaveBlob implements BlobStore.SaveBlob.
func (s *RedisBlobStore) SaveBlob(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (s *RedisBlobStore) Close() error {
	return s.client.Close()
}

var (
	_ BlobStore = (*MemoryBlobStore)(nil)
	_ BlobStore = (*FileBlobStore)(nil)
	_ BlobStore = (*RedisBlobStore)(nil)
)
