package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// blobKeyPrefix はRedis上のBlobキーの接頭辞。
const blobKeyPrefix = "virtucalls_user:"

// RedisPersister はBlobをRedisにJSONで保存する。複数インスタンス構成で使う。
type RedisPersister struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPersister はRedisPersisterを生成する。ttlが0の場合は期限なしで保存する。
func NewRedisPersister(client *redis.Client, ttl time.Duration) *RedisPersister {
	return &RedisPersister{client: client, ttl: ttl}
}

// BlobKey はクライアントIDに対応するRedisキーを返す。
func BlobKey(clientID string) string {
	return blobKeyPrefix + clientID
}

// Save はBlobを保存する。
func (p *RedisPersister) Save(ctx context.Context, clientID string, blob Blob) error {
	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("failed to marshal session blob: %w", err)
	}
	if err := p.client.Set(ctx, BlobKey(clientID), data, p.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session blob: %w", err)
	}
	return nil
}

// Load はBlobを取得する。存在しない場合はnilを返す。
func (p *RedisPersister) Load(ctx context.Context, clientID string) (*Blob, error) {
	data, err := p.client.Get(ctx, BlobKey(clientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session blob: %w", err)
	}

	var blob Blob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session blob: %w", err)
	}
	return &blob, nil
}

// Delete はBlobを削除する。
func (p *RedisPersister) Delete(ctx context.Context, clientID string) error {
	if err := p.client.Del(ctx, BlobKey(clientID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session blob: %w", err)
	}
	return nil
}

// compile-time interface check
var _ Persister = (*RedisPersister)(nil)
