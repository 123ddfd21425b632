package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/virtucalls/internal/model"
)

func TestBlobKey(t *testing.T) {
	if got := BlobKey("abc"); got != "virtucalls_user:abc" {
		t.Errorf("BlobKey = %q, want %q", got, "virtucalls_user:abc")
	}
}

func TestRedisPersister_SaveLoadDelete(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_URL")
	if addr == "" {
		addr = "redis://localhost:6379/15"
	}
	opts, err := redis.ParseURL(addr)
	if err != nil {
		t.Fatalf("TEST_REDIS_URL の解析に失敗: %v", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("テスト用Redisに接続できません（スキップ）: %v", err)
	}

	p := NewRedisPersister(client, time.Minute)
	clientID := "persister-test"
	defer p.Delete(ctx, clientID)

	blob := Blob{User: &model.User{ID: "u1", Name: "Alice", Email: "alice@example.com"}, Token: "tok"}
	if err := p.Save(ctx, clientID, blob); err != nil {
		t.Fatalf("Save error = %v", err)
	}

	got, err := p.Load(ctx, clientID)
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	if got == nil || got.Token != "tok" || !got.User.Equal(blob.User) {
		t.Errorf("Load = %+v, want %+v", got, blob)
	}

	if ttl := client.TTL(ctx, BlobKey(clientID)).Val(); ttl <= 0 {
		t.Errorf("TTL = %v, want positive", ttl)
	}

	if err := p.Delete(ctx, clientID); err != nil {
		t.Fatalf("Delete error = %v", err)
	}
	got, err = p.Load(ctx, clientID)
	if err != nil {
		t.Fatalf("Load after delete error = %v", err)
	}
	if got != nil {
		t.Errorf("Load after delete = %+v, want nil", got)
	}
}
