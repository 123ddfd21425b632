package redisbus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/virtucalls/internal/model"
)

// testRedis はテスト用のRedisクライアントを返す。接続できない場合はスキップする。
func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_URL")
	if addr == "" {
		addr = "redis://localhost:6379/15"
	}
	opts, err := redis.ParseURL(addr)
	if err != nil {
		t.Fatalf("TEST_REDIS_URL の解析に失敗: %v", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("テスト用Redisに接続できません（スキップ）: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestBus_RelaysEventsToLocalListeners(t *testing.T) {
	client := testRedis(t)
	bus := New(client, "virtucalls:test-auth-events", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bus.Run(ctx) }()

	got := make(chan model.AuthEvent, 1)
	unsub, err := bus.Subscribe(ctx, "c1", func(e model.AuthEvent) { got <- e })
	if err != nil {
		t.Fatalf("Subscribe error = %v", err)
	}
	defer unsub()

	// Runの購読確立を待ってから発行する
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := client.PubSubNumSub(ctx, "virtucalls:test-auth-events").Result()
		if err == nil && n["virtucalls:test-auth-events"] > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("relay did not subscribe in time")
		}
		time.Sleep(10 * time.Millisecond)
	}

	event := model.AuthEvent{Kind: model.AuthEventSignedOut, ClientID: "c1"}
	if err := bus.Publish(ctx, event); err != nil {
		t.Fatalf("Publish error = %v", err)
	}

	select {
	case e := <-got:
		if e.Kind != model.AuthEventSignedOut || e.ClientID != "c1" {
			t.Errorf("event = %+v, want SIGNED_OUT for c1", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event was not relayed")
	}
}

func TestBus_SubscribeFailsWhenRedisUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	bus := New(client, "", nil)

	if _, err := bus.Subscribe(context.Background(), "c1", func(model.AuthEvent) {}); err == nil {
		t.Error("Subscribe error = nil, want error")
	}
}
